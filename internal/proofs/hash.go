package proofs

import (
	"bytes"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "OpenAttest-Core/internal/errors"
)

// Hash 为 32 字节 Keccak-256 摘要。
type Hash = common.Hash

// Sum 计算拼接后数据的 Keccak-256。
func Sum(parts ...[]byte) Hash {
	return crypto.Keccak256Hash(parts...)
}

// Leaf 计算加盐叶子哈希 H(salt ‖ path ‖ value)。path 以 JSON 字符串字面量参与计算，
// 保证路径与取值之间的边界无歧义。
func Leaf(salt []byte, path string, value any) (Hash, error) {
	if len(salt) < MinSaltSize {
		return Hash{}, xerrors.Newf(xerrors.CodeInvalidArgument, "salt for %q shorter than %d bytes", path, MinSaltSize)
	}
	quoted, err := Canonical(path)
	if err != nil {
		return Hash{}, err
	}
	encoded, err := Canonical(value)
	if err != nil {
		return Hash{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode leaf "+path)
	}
	return Sum(salt, quoted, encoded), nil
}

// Target 计算整个文档主体的目标哈希。
func Target(body any) (Hash, error) {
	encoded, err := Canonical(body)
	if err != nil {
		return Hash{}, err
	}
	return Sum(encoded), nil
}

// EncodeHash 输出不带 0x 前缀的小写十六进制。
func EncodeHash(h Hash) string {
	return hex.EncodeToString(h[:])
}

// DecodeHash 解析 64 位十六进制哈希，可带 0x 前缀。
func DecodeHash(s string) (Hash, error) {
	raw, err := hex.DecodeString(trimHexPrefix(s))
	if err != nil {
		return Hash{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "hash is not hex")
	}
	if len(raw) != common.HashLength {
		return Hash{}, xerrors.Newf(xerrors.CodeInvalidArgument, "hash must be %d bytes, got %d", common.HashLength, len(raw))
	}
	return common.BytesToHash(raw), nil
}

// EncodeHashes 批量编码。
func EncodeHashes(hs []Hash) []string {
	out := make([]string, len(hs))
	for i, h := range hs {
		out[i] = EncodeHash(h)
	}
	return out
}

// DecodeHashes 批量解析，遇到第一个非法值即返回错误。
func DecodeHashes(ss []string) ([]Hash, error) {
	out := make([]Hash, len(ss))
	for i, s := range ss {
		h, err := DecodeHash(s)
		if err != nil {
			return nil, err
		}
		out[i] = h
	}
	return out, nil
}

// SortHashes 返回按字节升序排列的副本。
func SortHashes(hs []Hash) []Hash {
	sorted := make([]Hash, len(hs))
	copy(sorted, hs)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i][:], sorted[j][:]) < 0
	})
	return sorted
}

// SameSet 判断两组哈希在忽略顺序时是否完全一致（含重复次数）。
func SameSet(a, b []Hash) bool {
	if len(a) != len(b) {
		return false
	}
	sa, sb := SortHashes(a), SortHashes(b)
	for i := range sa {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}

func trimHexPrefix(s string) string {
	return strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
}
