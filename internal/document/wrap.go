package document

import (
	"errors"
	"fmt"

	xerrors "OpenAttest-Core/internal/errors"
	"OpenAttest-Core/internal/proofs"
)

type wrapOptions struct {
	salts proofs.SaltSource
}

// WrapOption 配置包装行为。
type WrapOption func(*wrapOptions)

// WithSaltSource 替换默认的随机盐来源。相同的盐会得到相同的根哈希。
func WithSaltSource(src proofs.SaltSource) WrapOption {
	return func(o *wrapOptions) {
		if src != nil {
			o.salts = src
		}
	}
}

// Wrap 为原始文档生成加盐叶子与 Merkle 树，返回新的 wrapped 文档。
// 每次调用都会生成新的盐，因此重复包装同一正文得到不同的 merkleRoot。
// 签发者形状不在此处强制，由 Validate 在校验阶段报告。
func Wrap(doc *Document, opts ...WrapOption) (*Document, error) {
	if doc == nil {
		return nil, invalidf("nil document")
	}
	if doc.stage != StageRaw {
		return nil, invalidf("only raw documents can be wrapped, got %s", doc.stage)
	}
	options := wrapOptions{salts: proofs.RandomSalts}
	for _, opt := range opts {
		opt(&options)
	}

	sigType := SignatureBased
	if issuers, err := doc.Issuers(); err == nil && validateIssuers(issuers) == nil {
		sigType = signatureTypeFor(issuers)
	}

	body := doc.Body()
	fields := Flatten(body)
	leaves := make([]proofs.Hash, 0, len(fields))
	salts := make(map[string]string, len(fields))
	for _, f := range fields {
		salt, err := options.salts(f.Path)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "generate salt")
		}
		leaf, err := proofs.Leaf(salt, f.Path, f.Value)
		if err != nil {
			return nil, err
		}
		leaves = append(leaves, leaf)
		salts[f.Path] = proofs.EncodeSalt(salt)
	}
	tree, err := proofs.Build(leaves)
	if err != nil {
		return nil, err
	}
	target, err := proofs.Target(body)
	if err != nil {
		return nil, err
	}

	return &Document{
		version: doc.version,
		stage:   StageWrapped,
		body:    body,
		signature: &Signature{
			Type:       sigType,
			TargetHash: proofs.EncodeHash(target),
			MerkleRoot: proofs.EncodeHash(tree.Root()),
			Proof:      proofs.EncodeHashes(tree.Leaves()),
		},
		privacy: &Privacy{Salts: salts},
	}, nil
}

// ItemError 记录批量操作中单个文档的失败。
type ItemError struct {
	Index int
	Err   error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("document %d: %v", e.Index, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }

// WrapBatch 包装一批同版本文档。版本检查在任何哈希计算之前完成，混用版本时整体拒绝；
// 之后各文档独立处理，失败项在结果中为 nil，错误以 ItemError 汇总返回。
func WrapBatch(docs []*Document, opts ...WrapOption) ([]*Document, error) {
	if err := CheckHomogeneous(docs); err != nil {
		return nil, err
	}
	out := make([]*Document, len(docs))
	var errs []error
	for i, doc := range docs {
		wrapped, err := Wrap(doc, opts...)
		if err != nil {
			errs = append(errs, &ItemError{Index: i, Err: err})
			continue
		}
		out[i] = wrapped
	}
	return out, errors.Join(errs...)
}

// CheckHomogeneous 确认一批文档使用同一模式版本。
func CheckHomogeneous(docs []*Document) error {
	var first Version
	for i, doc := range docs {
		if doc == nil {
			return invalidf("document %d is nil", i)
		}
		if first == "" {
			first = doc.version
			continue
		}
		if doc.version != first {
			return xerrors.Newf(CodeSchemaVersionConflict, "document %d is %s, batch is %s", i, doc.version, first)
		}
	}
	return nil
}

func signatureTypeFor(issuers []IssuerProfile) SignatureType {
	for _, iss := range issuers {
		if iss.Method != MethodDocumentStore {
			return SignatureBased
		}
	}
	return SignatureDocumentStore
}
