package proofs

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	xerrors "OpenAttest-Core/internal/errors"
)

const (
	// SaltSize 为默认盐长度（字节）。
	SaltSize = 32
	// MinSaltSize 为可接受的最短盐长度。
	MinSaltSize = 16
)

// SaltSource 按字段路径生成盐。测试可注入固定实现以获得可复现的根哈希。
type SaltSource func(path string) ([]byte, error)

// RandomSalts 使用 crypto/rand 为每个叶子生成独立的盐。
func RandomSalts(string) ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("read random salt: %w", err)
	}
	return salt, nil
}

// EncodeSalt 以十六进制编码盐。
func EncodeSalt(salt []byte) string {
	return hex.EncodeToString(salt)
}

// DecodeSalt 解析十六进制盐并校验长度。
func DecodeSalt(s string) ([]byte, error) {
	salt, err := hex.DecodeString(trimHexPrefix(s))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "salt is not hex")
	}
	if len(salt) < MinSaltSize {
		return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "salt too short: %d bytes", len(salt))
	}
	return salt, nil
}
