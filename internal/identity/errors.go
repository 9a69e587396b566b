package identity

import xerrors "OpenAttest-Core/internal/errors"

const (
	CodeResolverError    xerrors.Code = "RESOLVER_ERROR"
	CodeResolverNotFound xerrors.Code = "RESOLVER_NOT_FOUND"
)

func init() {
	xerrors.Register(CodeResolverError, xerrors.Attributes{
		Message: "identity resolver failure", Severity: xerrors.SeverityWarning, Retryable: true, Alert: true,
	})
	xerrors.Register(CodeResolverNotFound, xerrors.Attributes{Message: "identity record not found", Severity: xerrors.SeverityInfo})
}

// ErrNotFound 表示域名或 DID 不存在对应记录。
var ErrNotFound = xerrors.New(CodeResolverNotFound, "")

func resolverError(cause error, op string, target string) error {
	return xerrors.Wrap(CodeResolverError, cause, op, xerrors.WithMetadata("target", target))
}

func notFound(format string, args ...any) error {
	return xerrors.Newf(CodeResolverNotFound, format, args...)
}
