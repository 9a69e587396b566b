package issuance

import xerrors "OpenAttest-Core/internal/errors"

const CodeSigningError xerrors.Code = "SIGNING_ERROR"

func init() {
	xerrors.Register(CodeSigningError, xerrors.Attributes{Message: "unable to sign document", Severity: xerrors.SeverityWarning})
}

// ErrSigning 用于 errors.Is 判断签名失败。
var ErrSigning = xerrors.New(CodeSigningError, "")

func signingError(cause error, format string, args ...any) error {
	e := xerrors.Newf(CodeSigningError, format, args...)
	if cause == nil {
		return e
	}
	return xerrors.Wrap(CodeSigningError, cause, e.Message())
}
