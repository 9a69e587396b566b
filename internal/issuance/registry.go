package issuance

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"OpenAttest-Core/internal/document"
	xerrors "OpenAttest-Core/internal/errors"
	"OpenAttest-Core/internal/keys"
	"OpenAttest-Core/internal/proofs"
	"OpenAttest-Core/internal/web3"
	"OpenAttest-Core/pkg/logger"
)

// StoreReceipt 记录一个文档存储上的写入结果。Noop 表示根已处于目标状态，未发送交易。
type StoreReceipt struct {
	Store   common.Address
	Receipt web3.Receipt
	Noop    bool
}

// RegistryIssuer 在文档存储合约上签发与撤销 merkleRoot。
type RegistryIssuer struct {
	registry web3.Registry
	logger   *slog.Logger
	audit    *slog.Logger
}

// RegistryOption 配置 RegistryIssuer。
type RegistryOption func(*RegistryIssuer)

// WithRegistryLogger 设置运行日志。
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *RegistryIssuer) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithAuditLogger 设置审计日志，默认使用 logger.Audit()。
func WithAuditLogger(l *slog.Logger) RegistryOption {
	return func(r *RegistryIssuer) {
		if l != nil {
			r.audit = l
		}
	}
}

// NewRegistryIssuer 构造登记簿签发器。
func NewRegistryIssuer(registry web3.Registry, opts ...RegistryOption) *RegistryIssuer {
	r := &RegistryIssuer{registry: registry, logger: logger.Named("issuance.registry"), audit: logger.Audit()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Issue 在文档声明的每个文档存储上签发根哈希。已签发视为成功，返回 Noop 回执。
func (r *RegistryIssuer) Issue(ctx context.Context, sess *keys.Session, doc *document.Document) ([]StoreReceipt, error) {
	root, stores, err := issueTargets(doc)
	if err != nil {
		return nil, err
	}
	out := make([]StoreReceipt, 0, len(stores))
	for _, store := range stores {
		receipt, err := r.registry.Issue(ctx, sess, store, root)
		res, err := r.settle("issue", store, []proofs.Hash{root}, receipt, err, web3.ErrAlreadyIssued)
		if err != nil {
			return out, err
		}
		out = append(out, res)
	}
	return out, nil
}

// Revoke 撤销根哈希。文档存储签发的文档在其存储上撤销，
// REVOCATION_STORE 的 DID 文档在撤销地址上撤销。未签发返回 NOT_ISSUED，已撤销视为成功。
func (r *RegistryIssuer) Revoke(ctx context.Context, sess *keys.Session, doc *document.Document) ([]StoreReceipt, error) {
	root, stores, err := revokeTargets(doc)
	if err != nil {
		return nil, err
	}
	out := make([]StoreReceipt, 0, len(stores))
	for _, store := range stores {
		receipt, err := r.registry.Revoke(ctx, sess, store, root)
		res, err := r.settle("revoke", store, []proofs.Hash{root}, receipt, err, web3.ErrAlreadyRevoked)
		if err != nil {
			return out, err
		}
		out = append(out, res)
	}
	return out, nil
}

// IssueBatch 按文档存储分组，每个存储发送一笔 bulkIssue 交易。
// 版本检查先于任何链上调用；单个文档或存储失败以 document.ItemError 汇总返回。
func (r *RegistryIssuer) IssueBatch(ctx context.Context, sess *keys.Session, docs []*document.Document) ([]StoreReceipt, error) {
	return r.batch(ctx, sess, docs, "bulkIssue", issueTargets, r.registry.BulkIssue, web3.ErrAlreadyIssued)
}

// RevokeBatch 按撤销地址分组，每个地址发送一笔 bulkRevoke 交易。
func (r *RegistryIssuer) RevokeBatch(ctx context.Context, sess *keys.Session, docs []*document.Document) ([]StoreReceipt, error) {
	return r.batch(ctx, sess, docs, "bulkRevoke", revokeTargets, r.registry.BulkRevoke, web3.ErrAlreadyRevoked)
}

type targetFunc func(*document.Document) (proofs.Hash, []common.Address, error)

type bulkFunc func(context.Context, *keys.Session, common.Address, []proofs.Hash) (web3.Receipt, error)

type group struct {
	store   common.Address
	roots   []proofs.Hash
	seen    map[proofs.Hash]bool
	indexes []int
}

// add 记录文档下标；同一根只进入一次交易，重复的根会让合约整体回滚。
func (g *group) add(root proofs.Hash, index int) {
	if !g.seen[root] {
		g.seen[root] = true
		g.roots = append(g.roots, root)
	}
	g.indexes = append(g.indexes, index)
}

func (r *RegistryIssuer) batch(ctx context.Context, sess *keys.Session, docs []*document.Document, op string, targets targetFunc, bulk bulkFunc, noop error) ([]StoreReceipt, error) {
	if err := document.CheckHomogeneous(docs); err != nil {
		return nil, err
	}
	var (
		errs   []error
		order  []common.Address
		groups = make(map[common.Address]*group)
	)
	for i, doc := range docs {
		root, stores, err := targets(doc)
		if err != nil {
			errs = append(errs, &document.ItemError{Index: i, Err: err})
			continue
		}
		for _, store := range stores {
			g, ok := groups[store]
			if !ok {
				g = &group{store: store, seen: make(map[proofs.Hash]bool)}
				groups[store] = g
				order = append(order, store)
			}
			g.add(root, i)
		}
	}

	out := make([]StoreReceipt, 0, len(order))
	for _, store := range order {
		g := groups[store]
		receipt, err := bulk(ctx, sess, store, g.roots)
		res, err := r.settle(op, store, g.roots, receipt, err, noop)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			for _, idx := range g.indexes {
				errs = append(errs, &document.ItemError{Index: idx, Err: err})
			}
			continue
		}
		out = append(out, res)
	}
	return out, errors.Join(errs...)
}

// settle 把 Already* 结果折算为成功，并写入审计日志。
func (r *RegistryIssuer) settle(op string, store common.Address, roots []proofs.Hash, receipt web3.Receipt, err error, noop error) (StoreReceipt, error) {
	rootsHex := proofs.EncodeHashes(roots)
	if err != nil {
		if errors.Is(err, noop) {
			r.audit.Info(op+" skipped", "store", store.Hex(), "roots", rootsHex, "reason", xerrors.CodeOf(err))
			return StoreReceipt{Store: store, Noop: true}, nil
		}
		r.logger.Warn(op+" failed", "store", store.Hex(), "roots", len(roots), "error", err)
		return StoreReceipt{}, err
	}
	r.audit.Info(op,
		"store", store.Hex(),
		"roots", rootsHex,
		"tx_hash", receipt.TxHash.Hex(),
		"block", receipt.BlockNumber,
	)
	return StoreReceipt{Store: store, Receipt: receipt}, nil
}

func issueTargets(doc *document.Document) (proofs.Hash, []common.Address, error) {
	root, issuers, err := wrappedRoot(doc)
	if err != nil {
		return proofs.Hash{}, nil, err
	}
	if sig := doc.Signature(); sig.Type != document.SignatureDocumentStore {
		return proofs.Hash{}, nil, xerrors.New(document.CodeInvalidDocument, "only document-store documents are issued on the registry")
	}
	var stores []common.Address
	for _, iss := range issuers {
		if iss.Method == document.MethodDocumentStore {
			stores = appendStore(stores, iss.DocumentStore)
		}
	}
	return root, stores, nil
}

func revokeTargets(doc *document.Document) (proofs.Hash, []common.Address, error) {
	root, issuers, err := wrappedRoot(doc)
	if err != nil {
		return proofs.Hash{}, nil, err
	}
	var stores []common.Address
	for _, iss := range issuers {
		switch {
		case iss.Method == document.MethodDocumentStore:
			stores = appendStore(stores, iss.DocumentStore)
		case iss.Revocation.Type == document.RevocationStore:
			stores = appendStore(stores, iss.Revocation.Location)
		}
	}
	if len(stores) == 0 {
		return proofs.Hash{}, nil, xerrors.New(document.CodeInvalidDocument, "document is not revocable on a registry")
	}
	return root, stores, nil
}

func wrappedRoot(doc *document.Document) (proofs.Hash, []document.IssuerProfile, error) {
	if doc == nil || doc.Stage() == document.StageRaw {
		return proofs.Hash{}, nil, xerrors.New(document.CodeInvalidDocument, "document must be wrapped")
	}
	if err := document.Validate(doc); err != nil {
		return proofs.Hash{}, nil, err
	}
	root, err := doc.MerkleRoot()
	if err != nil {
		return proofs.Hash{}, nil, err
	}
	issuers, err := doc.Issuers()
	if err != nil {
		return proofs.Hash{}, nil, err
	}
	return root, issuers, nil
}

func appendStore(stores []common.Address, addr string) []common.Address {
	store := common.HexToAddress(addr)
	for _, s := range stores {
		if s == store {
			return stores
		}
	}
	return append(stores, store)
}
