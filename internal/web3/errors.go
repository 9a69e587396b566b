package web3

import xerrors "OpenAttest-Core/internal/errors"

const (
	CodeRegistryUnavailable xerrors.Code = "REGISTRY_UNAVAILABLE"
	CodeRegistryMalformed   xerrors.Code = "REGISTRY_MALFORMED"
	CodeRegistryReverted    xerrors.Code = "REGISTRY_REVERTED"
	CodeAlreadyIssued       xerrors.Code = "ALREADY_ISSUED"
	CodeAlreadyRevoked      xerrors.Code = "ALREADY_REVOKED"
	CodeNotIssued           xerrors.Code = "NOT_ISSUED"
)

func init() {
	xerrors.Register(CodeRegistryUnavailable, xerrors.Attributes{
		Message: "issuance registry unavailable", Severity: xerrors.SeverityCritical, Retryable: true, Alert: true,
	})
	xerrors.Register(CodeRegistryMalformed, xerrors.Attributes{
		Message: "issuance registry returned malformed data", Severity: xerrors.SeverityWarning, Alert: true,
	})
	xerrors.Register(CodeRegistryReverted, xerrors.Attributes{
		Message: "registry transaction reverted", Severity: xerrors.SeverityWarning, Alert: true,
	})
	xerrors.Register(CodeAlreadyIssued, xerrors.Attributes{Message: "document root already issued", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeAlreadyRevoked, xerrors.Attributes{Message: "document root already revoked", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeNotIssued, xerrors.Attributes{Message: "document root not issued", Severity: xerrors.SeverityInfo})
}

var (
	ErrAlreadyIssued  = xerrors.New(CodeAlreadyIssued, "")
	ErrAlreadyRevoked = xerrors.New(CodeAlreadyRevoked, "")
	ErrNotIssued      = xerrors.New(CodeNotIssued, "")
)

// Unavailable 包装底层网络错误。
func Unavailable(cause error, op string) error {
	return xerrors.Wrap(CodeRegistryUnavailable, cause, op)
}

// Malformed 包装无法解码的返回值。
func Malformed(cause error, op string) error {
	return xerrors.Wrap(CodeRegistryMalformed, cause, op)
}
