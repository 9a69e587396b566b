package verify

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"OpenAttest-Core/internal/document"
	xerrors "OpenAttest-Core/internal/errors"
	"OpenAttest-Core/internal/identity"
	"OpenAttest-Core/internal/observability/metrics"
	"OpenAttest-Core/internal/web3"
	"OpenAttest-Core/pkg/logger"
)

const (
	defaultTimeout = 10 * time.Second
	defaultWorkers = 4
)

// ErrorPolicy 决定 ERROR 片段如何向调用方传播。
type ErrorPolicy int

const (
	// ErrorPolicyFail 在存在 ERROR 片段时随结果返回 ErrVerificationIndeterminate。
	ErrorPolicyFail ErrorPolicy = iota
	// ErrorPolicyCollect 只返回结果，由调用方自行判断。
	ErrorPolicyCollect
)

// ParseErrorPolicy 解析配置中的 fail 或 collect。
func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fail":
		return ErrorPolicyFail, nil
	case "collect":
		return ErrorPolicyCollect, nil
	default:
		return 0, xerrors.Newf(xerrors.CodeInvalidArgument, "unknown error policy %q", s)
	}
}

// Hooks 在每个阶段开始与结束时回调。四个阶段并发执行，回调必须可并发调用。
type Hooks struct {
	StageStarted  func(ctx context.Context, category Category)
	StageFinished func(ctx context.Context, fragment Fragment, elapsed time.Duration)
}

// Option 配置 Verifier。
type Option func(*Verifier)

// WithTimeout 设置 STATUS 与 IDENTITY 各自的超时。
func WithTimeout(d time.Duration) Option {
	return func(v *Verifier) {
		if d > 0 {
			v.timeout = d
		}
	}
}

// WithErrorPolicy 设置 ERROR 传播策略。
func WithErrorPolicy(p ErrorPolicy) Option {
	return func(v *Verifier) { v.policy = p }
}

// WithOCSP 设置 OCSP 响应器客户端。
func WithOCSP(c OCSPChecker) Option {
	return func(v *Verifier) { v.ocsp = c }
}

// WithWorkers 设置 VerifyBatch 的并发上限。
func WithWorkers(n int) Option {
	return func(v *Verifier) {
		if n > 0 {
			v.workers = n
		}
	}
}

// WithHooks 设置阶段回调。
func WithHooks(h Hooks) Option {
	return func(v *Verifier) { v.hooks = h }
}

// WithMetrics 设置 Prometheus 指标。
func WithMetrics(m *metrics.Verification) Option {
	return func(v *Verifier) { v.metrics = m }
}

// WithLogger 设置日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(v *Verifier) {
		if l != nil {
			v.logger = l
		}
	}
}

// Verifier 执行文档校验，可被多个 goroutine 共享。
type Verifier struct {
	registry web3.StatusReader
	resolver identity.Resolver
	ocsp     OCSPChecker
	timeout  time.Duration
	policy   ErrorPolicy
	workers  int
	hooks    Hooks
	metrics  *metrics.Verification
	logger   *slog.Logger
}

// New 构造校验器。registry 或 resolver 为 nil 时，依赖它们的检查记为 ERROR。
func New(registry web3.StatusReader, resolver identity.Resolver, opts ...Option) *Verifier {
	v := &Verifier{
		registry: registry,
		resolver: resolver,
		ocsp:     NewHTTPResponder(nil, 2),
		timeout:  defaultTimeout,
		workers:  defaultWorkers,
		logger:   logger.Named("verify"),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

type stage struct {
	network bool
	run     func(*Verifier, context.Context, *document.Document) Fragment
}

var stages = map[Category]stage{
	CategoryStructure: {run: (*Verifier).checkStructure},
	CategoryIntegrity: {run: (*Verifier).checkIntegrity},
	CategoryStatus:    {network: true, run: (*Verifier).checkStatus},
	CategoryIdentity:  {network: true, run: (*Verifier).checkIdentity},
}

// Verify 并发执行四类检查。父 context 取消时返回 ctx.Err() 且没有结果。
// ErrorPolicyFail 下存在 ERROR 片段时，结果与 ErrVerificationIndeterminate 一同返回。
func (v *Verifier) Verify(ctx context.Context, doc *document.Document) (*Result, error) {
	if doc == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "nil document")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	fragments := make([]Fragment, len(Categories))
	g, gctx := errgroup.WithContext(ctx)
	for i, category := range Categories {
		i, category := i, category
		g.Go(func() error {
			f, err := v.runStage(gctx, category, doc)
			if err != nil {
				return err
			}
			fragments[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := newResult(fragments)
	elapsed := time.Since(start)
	v.metrics.ObserveDocument(res.Valid, elapsed)
	v.logger.Debug("document verified", "valid", res.Valid, "elapsed", elapsed, "stage", doc.Stage().String())
	return res, v.policyError(res.Fragments)
}

// VerifyCategory 只执行一类检查，超时与错误策略与 Verify 相同。
func (v *Verifier) VerifyCategory(ctx context.Context, doc *document.Document, category Category) (Fragment, error) {
	if doc == nil {
		return Fragment{}, xerrors.New(xerrors.CodeInvalidArgument, "nil document")
	}
	if _, ok := stages[category]; !ok {
		return Fragment{}, xerrors.Newf(xerrors.CodeInvalidArgument, "unknown verification category %q", category)
	}
	f, err := v.runStage(ctx, category, doc)
	if err != nil {
		return Fragment{}, err
	}
	return f, v.policyError([]Fragment{f})
}

// VerifyBatch 以有限并发校验一批文档。单个文档的策略错误以 document.ItemError 汇总，
// 对应结果仍然返回；父 context 取消时整体返回 ctx.Err()。
func (v *Verifier) VerifyBatch(ctx context.Context, docs []*document.Document) ([]*Result, error) {
	results := make([]*Result, len(docs))
	itemErrs := make([]error, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.workers)
	for i, doc := range docs {
		i, doc := i, doc
		g.Go(func() error {
			res, err := v.Verify(gctx, doc)
			if err != nil && res == nil && gctx.Err() != nil {
				return gctx.Err()
			}
			results[i] = res
			if err != nil {
				itemErrs[i] = &document.ItemError{Index: i, Err: err}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, errors.Join(itemErrs...)
}

func (v *Verifier) runStage(ctx context.Context, category Category, doc *document.Document) (Fragment, error) {
	st := stages[category]
	if v.hooks.StageStarted != nil {
		v.hooks.StageStarted(ctx, category)
	}
	start := time.Now()
	sctx, cancel := ctx, context.CancelFunc(func() {})
	if st.network {
		sctx, cancel = context.WithTimeout(ctx, v.timeout)
	}
	f := st.run(v, sctx, doc)
	timedOut := errors.Is(sctx.Err(), context.DeadlineExceeded)
	cancel()
	if err := ctx.Err(); err != nil {
		return Fragment{}, err
	}
	if timedOut && f.Status == StatusError {
		f.Reason = &Reason{Code: xerrors.CodeTimeout, Message: category.timeoutMessage(v.timeout)}
	}

	elapsed := time.Since(start)
	v.metrics.ObserveStage(string(category), string(f.Status), elapsed)
	if v.hooks.StageFinished != nil {
		v.hooks.StageFinished(ctx, f, elapsed)
	}
	if f.Status == StatusError {
		v.logger.Warn("verification stage errored", "category", category, "reason", f.Reason.Code, "detail", f.Reason.Message)
	}
	return f, nil
}

func (c Category) timeoutMessage(d time.Duration) string {
	return string(c) + " check exceeded " + d.String()
}

func (v *Verifier) policyError(fragments []Fragment) error {
	if v.policy != ErrorPolicyFail {
		return nil
	}
	for _, f := range fragments {
		if f.Status == StatusError {
			return xerrors.New(CodeIndeterminate, "verification has ERROR fragments",
				xerrors.WithMetadata("category", string(f.Category)),
				xerrors.WithMetadata("reason", string(f.Reason.Code)),
			)
		}
	}
	return nil
}
