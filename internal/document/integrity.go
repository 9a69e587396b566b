package document

import (
	"fmt"

	xerrors "OpenAttest-Core/internal/errors"
	"OpenAttest-Core/internal/proofs"
)

func mismatch(format string, args ...any) error {
	return xerrors.New(CodeIntegrityMismatch, fmt.Sprintf(format, args...))
}

// ComputeLeaves 由正文与盐重算全部叶子哈希；遮蔽字段直接取标记中的哈希。
func ComputeLeaves(doc *Document) ([]proofs.Hash, error) {
	if doc.stage == StageRaw {
		return nil, invalidf("raw documents carry no salts")
	}
	fields := Flatten(doc.body)
	seen := make(map[string]bool, len(fields))
	leaves := make([]proofs.Hash, 0, len(fields))
	for _, f := range fields {
		if f.Obfuscated {
			h, err := proofs.DecodeHash(f.Marker)
			if err != nil {
				return nil, mismatch("obfuscation marker at %s is not a hash", f.Path)
			}
			leaves = append(leaves, h)
			continue
		}
		saltHex, ok := doc.privacy.Salts[f.Path]
		if !ok {
			return nil, mismatch("no salt for field %s", f.Path)
		}
		salt, err := proofs.DecodeSalt(saltHex)
		if err != nil {
			return nil, mismatch("salt for %s: %v", f.Path, err)
		}
		leaf, err := proofs.Leaf(salt, f.Path, f.Value)
		if err != nil {
			return nil, mismatch("leaf %s: %v", f.Path, err)
		}
		seen[f.Path] = true
		leaves = append(leaves, leaf)
	}
	for path := range doc.privacy.Salts {
		if !seen[path] {
			return nil, mismatch("salt recorded for missing field %s", path)
		}
	}
	return leaves, nil
}

// RecomputeRoot 由正文与盐重算 Merkle 根。
func RecomputeRoot(doc *Document) (proofs.Hash, error) {
	leaves, err := ComputeLeaves(doc)
	if err != nil {
		return proofs.Hash{}, err
	}
	return proofs.Root(leaves)
}

// CheckIntegrity 校验正文、signature.proof 与 merkleRoot 三者一致。
// 不一致时返回 CodeIntegrityMismatch 错误。
func CheckIntegrity(doc *Document) error {
	if doc == nil || doc.signature == nil {
		return invalidf("document is not wrapped")
	}
	declared, err := doc.MerkleRoot()
	if err != nil {
		return mismatch("merkle root: %v", err)
	}
	listed, err := proofs.DecodeHashes(doc.signature.Proof)
	if err != nil {
		return mismatch("proof list: %v", err)
	}
	computed, err := ComputeLeaves(doc)
	if err != nil {
		return err
	}
	if !proofs.SameSet(computed, listed) {
		return mismatch("recomputed leaves do not match signature proof")
	}
	root, err := proofs.Root(listed)
	if err != nil {
		return mismatch("proof list: %v", err)
	}
	if root != declared {
		return mismatch("merkle root %s does not match recomputed %s", doc.signature.MerkleRoot, proofs.EncodeHash(root))
	}
	return nil
}

// LeafPath 返回字段叶子到根的兄弟路径，供单字段披露使用。
func LeafPath(doc *Document, path string) (proofs.Hash, []proofs.Hash, error) {
	if doc.signature == nil {
		return proofs.Hash{}, nil, invalidf("document is not wrapped")
	}
	listed, err := proofs.DecodeHashes(doc.signature.Proof)
	if err != nil {
		return proofs.Hash{}, nil, err
	}
	tree, err := proofs.Build(listed)
	if err != nil {
		return proofs.Hash{}, nil, err
	}
	for _, f := range Flatten(doc.body) {
		if f.Path != path {
			continue
		}
		var leaf proofs.Hash
		if f.Obfuscated {
			leaf, err = proofs.DecodeHash(f.Marker)
		} else {
			var salt []byte
			salt, err = proofs.DecodeSalt(doc.privacy.Salts[f.Path])
			if err == nil {
				leaf, err = proofs.Leaf(salt, f.Path, f.Value)
			}
		}
		if err != nil {
			return proofs.Hash{}, nil, err
		}
		siblings, err := tree.Path(leaf)
		if err != nil {
			return proofs.Hash{}, nil, err
		}
		return leaf, siblings, nil
	}
	return proofs.Hash{}, nil, xerrors.New(CodePathNotFound, "field "+path+" not found")
}
