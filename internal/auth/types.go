package auth

import (
	"strings"

	xerrors "OpenAttest-Core/internal/errors"
)

const (
	CodeMissingToken     xerrors.Code = "AUTH_MISSING_TOKEN"
	CodeInvalidToken     xerrors.Code = "AUTH_INVALID_TOKEN"
	CodePermissionDenied xerrors.Code = "AUTH_PERMISSION_DENIED"
	CodeSubjectRevoked   xerrors.Code = "AUTH_SUBJECT_DISABLED"
	CodeDisabled         xerrors.Code = "AUTH_DISABLED"
)

func init() {
	xerrors.Register(CodeMissingToken, xerrors.Attributes{Message: "missing bearer token", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeInvalidToken, xerrors.Attributes{Message: "invalid token", Severity: xerrors.SeverityWarning})
	xerrors.Register(CodePermissionDenied, xerrors.Attributes{Message: "permission denied", Severity: xerrors.SeverityWarning})
	xerrors.Register(CodeSubjectRevoked, xerrors.Attributes{Message: "subject is disabled", Severity: xerrors.SeverityWarning})
	xerrors.Register(CodeDisabled, xerrors.Attributes{Message: "authentication disabled", Severity: xerrors.SeverityInfo})
}

// 认证子系统返回的公共错误，errors.Is 按错误码匹配。
var (
	ErrDisabled         = xerrors.New(CodeDisabled, "")
	ErrMissingToken     = xerrors.New(CodeMissingToken, "")
	ErrInvalidToken     = xerrors.New(CodeInvalidToken, "")
	ErrPermissionDenied = xerrors.New(CodePermissionDenied, "")
	ErrSubjectRevoked   = xerrors.New(CodeSubjectRevoked, "")
)

// 接口使用的权限名称。
const (
	PermJobsRead        = "jobs:read"
	PermJobsWrite       = "jobs:write"
	PermDocumentsVerify = "documents:verify"
	PermArchiveRead     = "archive:read"
)

// Subject 为通过认证的调用方，经上下文传递给处理器。
type Subject struct {
	Name        string
	Permissions []string
	Disabled    bool

	permissionsSet map[string]struct{}
}

// normalise prepares the lookup set for permission checks.
func (s *Subject) normalise() {
	if s == nil {
		return
	}
	if s.permissionsSet == nil {
		s.permissionsSet = make(map[string]struct{}, len(s.Permissions))
		for _, perm := range s.Permissions {
			s.permissionsSet[strings.ToLower(strings.TrimSpace(perm))] = struct{}{}
		}
	}
}

// HasPermission reports whether the subject has the specified permission.
// "*" grants everything.
func (s *Subject) HasPermission(permission string) bool {
	if s == nil {
		return false
	}
	s.normalise()
	if _, ok := s.permissionsSet["*"]; ok {
		return true
	}
	_, ok := s.permissionsSet[strings.ToLower(strings.TrimSpace(permission))]
	return ok
}

// Authorize ensures the subject has all required permissions.
func (s *Subject) Authorize(perms ...string) error {
	if s == nil {
		return ErrInvalidToken
	}
	if s.Disabled {
		return ErrSubjectRevoked
	}
	for _, perm := range perms {
		if perm == "" {
			continue
		}
		if !s.HasPermission(perm) {
			return xerrors.New(CodePermissionDenied, "missing "+perm, xerrors.WithMetadata("permission", perm))
		}
	}
	return nil
}

// Config configures the authentication service.
type Config struct {
	Mode   Mode
	Tokens []Token
}

// Mode enumerates the supported authentication providers.
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeToken    Mode = "token"
)

// Token 为一个静态 API 令牌及其授予的权限。
type Token struct {
	Name        string
	Secret      string
	Permissions []string
	Disabled    bool
}
