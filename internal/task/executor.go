package task

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"OpenAttest-Core/internal/document"
	xerrors "OpenAttest-Core/internal/errors"
	"OpenAttest-Core/internal/issuance"
	"OpenAttest-Core/internal/keys"
	"OpenAttest-Core/internal/proofs"
	"OpenAttest-Core/internal/storage"
	"OpenAttest-Core/internal/verify"
	"OpenAttest-Core/pkg/logger"
)

// Executor 执行一个已领取的任务。
type Executor interface {
	Execute(ctx context.Context, task *Task) (*ExecutionResult, error)
}

// DocumentExecutor 把任务分派给校验、签发与撤销流程，成功的输出文档写入归档。
type DocumentExecutor struct {
	verifier *verify.Verifier
	issuer   *issuance.RegistryIssuer
	signer   *issuance.KeySigner
	session  *keys.Session
	archive  storage.Archive
	logger   *slog.Logger
}

// ExecutorOption 配置 DocumentExecutor。
type ExecutorOption func(*DocumentExecutor)

// WithIssuance 启用 issue 与 revoke 任务。session 为签发者密钥会话。
func WithIssuance(issuer *issuance.RegistryIssuer, signer *issuance.KeySigner, session *keys.Session) ExecutorOption {
	return func(e *DocumentExecutor) {
		e.issuer = issuer
		e.signer = signer
		e.session = session
	}
}

// WithArchive 配置文档归档。
func WithArchive(archive storage.Archive) ExecutorOption {
	return func(e *DocumentExecutor) {
		e.archive = archive
	}
}

// WithExecutorLogger 指定日志输出。
func WithExecutorLogger(l *slog.Logger) ExecutorOption {
	return func(e *DocumentExecutor) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewDocumentExecutor 构造执行器。
func NewDocumentExecutor(verifier *verify.Verifier, opts ...ExecutorOption) *DocumentExecutor {
	e := &DocumentExecutor{verifier: verifier, logger: logger.Named("task.executor")}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Execute 实现 Executor。
func (e *DocumentExecutor) Execute(ctx context.Context, task *Task) (*ExecutionResult, error) {
	if task == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "task 不能为空")
	}
	doc, err := document.Decode(task.Document)
	if err != nil {
		return nil, xerrors.Wrap(CodeTaskValidation, err, "解析任务文档失败")
	}
	switch task.Kind {
	case KindVerify:
		return e.verify(ctx, doc)
	case KindIssue:
		return e.issue(ctx, doc)
	case KindRevoke:
		return e.revoke(ctx, doc)
	default:
		return nil, xerrors.Newf(CodeTaskValidation, "未知的任务类型 %q", task.Kind)
	}
}

func (e *DocumentExecutor) verify(ctx context.Context, doc *document.Document) (*ExecutionResult, error) {
	if e.verifier == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "校验器未配置", xerrors.WithRetryable(false))
	}
	res, err := e.verifier.Verify(ctx, doc)
	if err != nil {
		return nil, err
	}
	return verificationResult(doc, res)
}

func (e *DocumentExecutor) issue(ctx context.Context, doc *document.Document) (*ExecutionResult, error) {
	if err := e.requireIssuance(); err != nil {
		return nil, err
	}
	if sig := doc.Signature(); sig != nil && sig.Type == document.SignatureBased {
		if e.signer == nil {
			return nil, xerrors.New(xerrors.CodeInitializationFailure, "签名器未配置", xerrors.WithRetryable(false))
		}
		signed, err := e.signer.Sign(ctx, e.session, doc)
		if err != nil {
			return nil, err
		}
		if err := e.save(ctx, signed); err != nil {
			return nil, err
		}
		detail, err := signed.MarshalJSON()
		if err != nil {
			return nil, err
		}
		return &ExecutionResult{
			MerkleRoot: rootOf(signed),
			Valid:      true,
			Summary:    "signed",
			Detail:     detail,
		}, nil
	}

	receipts, err := e.issuer.Issue(ctx, e.session, doc)
	if err != nil {
		return nil, err
	}
	if err := e.save(ctx, doc); err != nil {
		return nil, err
	}
	return receiptResult(doc, "issued", receipts)
}

func (e *DocumentExecutor) revoke(ctx context.Context, doc *document.Document) (*ExecutionResult, error) {
	if err := e.requireIssuance(); err != nil {
		return nil, err
	}
	receipts, err := e.issuer.Revoke(ctx, e.session, doc)
	if err != nil {
		return nil, err
	}
	return receiptResult(doc, "revoked", receipts)
}

func (e *DocumentExecutor) requireIssuance() error {
	if e.issuer == nil || e.session == nil || !e.session.Active() {
		return xerrors.New(xerrors.CodeInitializationFailure, "签发密钥未配置", xerrors.WithRetryable(false))
	}
	return nil
}

func (e *DocumentExecutor) save(ctx context.Context, doc *document.Document) error {
	if e.archive == nil {
		return nil
	}
	rec, err := storage.NewRecord(doc)
	if err != nil {
		return err
	}
	if err := e.archive.Save(ctx, rec); err != nil {
		return err
	}
	e.logger.Debug("document archived", "id", rec.ID, "merkle_root", rec.MerkleRoot, "stage", rec.Stage)
	return nil
}

func verificationResult(doc *document.Document, res *verify.Result) (*ExecutionResult, error) {
	detail, err := json.Marshal(res)
	if err != nil {
		return nil, err
	}
	parts := make([]string, 0, len(res.Fragments))
	for _, f := range res.Fragments {
		parts = append(parts, fmt.Sprintf("%s=%s", f.Category, f.Status))
	}
	return &ExecutionResult{
		MerkleRoot: rootOf(doc),
		Valid:      res.Valid,
		Summary:    strings.Join(parts, " "),
		Detail:     detail,
	}, nil
}

type receiptView struct {
	Store       string `json:"store"`
	TxHash      string `json:"tx_hash,omitempty"`
	BlockNumber uint64 `json:"block_number,omitempty"`
	GasUsed     uint64 `json:"gas_used,omitempty"`
	Noop        bool   `json:"noop"`
}

func receiptResult(doc *document.Document, summary string, receipts []issuance.StoreReceipt) (*ExecutionResult, error) {
	out := &ExecutionResult{MerkleRoot: rootOf(doc), Valid: true, Summary: summary}
	views := make([]receiptView, 0, len(receipts))
	for _, r := range receipts {
		view := receiptView{Store: r.Store.Hex(), Noop: r.Noop}
		if !r.Noop {
			view.TxHash = r.Receipt.TxHash.Hex()
			view.BlockNumber = r.Receipt.BlockNumber
			view.GasUsed = r.Receipt.GasUsed
			if out.TxHash == "" {
				out.TxHash = view.TxHash
				out.BlockNumber = view.BlockNumber
			}
		}
		views = append(views, view)
	}
	if out.TxHash == "" {
		out.Summary = "already " + summary
	}
	detail, err := json.Marshal(views)
	if err != nil {
		return nil, err
	}
	out.Detail = detail
	return out, nil
}

func rootOf(doc *document.Document) string {
	if doc.Stage() == document.StageRaw {
		return ""
	}
	root, err := doc.MerkleRoot()
	if err != nil {
		return ""
	}
	return proofs.EncodeHash(root)
}
