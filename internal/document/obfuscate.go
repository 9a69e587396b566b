package document

import (
	xerrors "OpenAttest-Core/internal/errors"
	"OpenAttest-Core/internal/proofs"
)

// Obfuscate 遮蔽指定字段：字段值被替换为携带其叶子哈希的标记对象，对应的盐被删除，
// merkleRoot 保持不变。路径可以指向子树，此时子树内所有叶子都会被遮蔽。
// 已遮蔽的字段再次遮蔽不做任何事；输入文档不会被修改。
func Obfuscate(doc *Document, paths ...string) (*Document, error) {
	if doc == nil {
		return nil, invalidf("nil document")
	}
	if doc.stage == StageRaw {
		return nil, invalidf("raw documents cannot be obfuscated")
	}
	out := doc.Clone()
	fields := Flatten(out.body)
	redacted := make(map[string]bool)

	for _, path := range paths {
		if _, err := parsePath(path); err != nil {
			return nil, err
		}
		matched := false
		for _, f := range fields {
			if !underPath(f.Path, path) {
				continue
			}
			matched = true
			if f.Obfuscated || redacted[f.Path] {
				continue
			}
			if err := out.redact(f); err != nil {
				return nil, err
			}
			redacted[f.Path] = true
		}
		if !matched {
			return nil, xerrors.New(CodePathNotFound, "field "+path+" not found", xerrors.WithMetadata("path", path))
		}
	}
	return out, nil
}

func (d *Document) redact(f Field) error {
	saltHex, ok := d.privacy.Salts[f.Path]
	if !ok {
		return invalidf("no salt recorded for %s", f.Path)
	}
	salt, err := proofs.DecodeSalt(saltHex)
	if err != nil {
		return invalidf("salt for %s: %v", f.Path, err)
	}
	leaf, err := proofs.Leaf(salt, f.Path, f.Value)
	if err != nil {
		return err
	}
	if err := setAt(d.body, f.Path, newMarker(proofs.EncodeHash(leaf))); err != nil {
		return err
	}
	delete(d.privacy.Salts, f.Path)
	return nil
}
