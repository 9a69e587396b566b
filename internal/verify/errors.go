package verify

import xerrors "OpenAttest-Core/internal/errors"

const (
	CodeIndeterminate     xerrors.Code = "VERIFICATION_INDETERMINATE"
	CodeRevoked           xerrors.Code = "DOCUMENT_REVOKED"
	CodeSignatureMismatch xerrors.Code = "SIGNATURE_MISMATCH"
	CodeIdentityMismatch  xerrors.Code = "IDENTITY_MISMATCH"
	CodeOCSPUnavailable   xerrors.Code = "OCSP_UNAVAILABLE"
)

func init() {
	xerrors.Register(CodeIndeterminate, xerrors.Attributes{
		Message: "verification could not reach a verdict", Severity: xerrors.SeverityWarning, Retryable: true,
	})
	xerrors.Register(CodeRevoked, xerrors.Attributes{Message: "document has been revoked", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeSignatureMismatch, xerrors.Attributes{Message: "signature does not match issuer key", Severity: xerrors.SeverityWarning})
	xerrors.Register(CodeIdentityMismatch, xerrors.Attributes{Message: "issuer identity could not be confirmed", Severity: xerrors.SeverityWarning})
	xerrors.Register(CodeOCSPUnavailable, xerrors.Attributes{
		Message: "ocsp responder unavailable", Severity: xerrors.SeverityWarning, Retryable: true, Alert: true,
	})
}

// ErrVerificationIndeterminate 在 ErrorPolicyFail 下、存在 ERROR 片段时随结果一同返回。
var ErrVerificationIndeterminate = xerrors.New(CodeIndeterminate, "")
