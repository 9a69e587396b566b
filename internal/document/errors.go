package document

import xerrors "OpenAttest-Core/internal/errors"

const (
	CodeSchemaVersionConflict xerrors.Code = "SCHEMA_VERSION_CONFLICT"
	CodePathNotFound          xerrors.Code = "PATH_NOT_FOUND"
	CodeInvalidDocument       xerrors.Code = "INVALID_DOCUMENT"
	CodeIntegrityMismatch     xerrors.Code = "INTEGRITY_MISMATCH"
)

func init() {
	xerrors.Register(CodeSchemaVersionConflict, xerrors.Attributes{
		Message:  "batch mixes document schema versions",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodePathNotFound, xerrors.Attributes{
		Message:  "field path not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeInvalidDocument, xerrors.Attributes{
		Message:  "document is malformed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeIntegrityMismatch, xerrors.Attributes{
		Message:  "document integrity check failed",
		Severity: xerrors.SeverityWarning,
	})
}

var (
	// ErrSchemaVersionConflict 在批量操作混用 v2 与 v3 时返回。
	ErrSchemaVersionConflict = xerrors.New(CodeSchemaVersionConflict, "")
	// ErrPathNotFound 在遮蔽不存在的字段时返回。
	ErrPathNotFound = xerrors.New(CodePathNotFound, "")
	// ErrInvalidDocument 表示文档形状不合法或阶段不符。
	ErrInvalidDocument = xerrors.New(CodeInvalidDocument, "")
	// ErrIntegrityMismatch 表示重算的叶子或根与签名块不一致。
	ErrIntegrityMismatch = xerrors.New(CodeIntegrityMismatch, "")
)

func invalidf(format string, args ...any) error {
	return xerrors.Newf(CodeInvalidDocument, format, args...)
}
