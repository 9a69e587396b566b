package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"log/slog"
	"strings"

	xerrors "OpenAttest-Core/internal/errors"
	"OpenAttest-Core/pkg/logger"
)

type grant struct {
	digest  [sha256.Size]byte
	subject *Subject
}

// Service 负责 HTTP 端点的身份验证和授权。
type Service struct {
	mode   Mode
	grants []grant
	audit  *slog.Logger
}

// NewService 构造身份认证服务实例。
func NewService(cfg Config) (*Service, error) {
	mode := Mode(strings.ToLower(strings.TrimSpace(string(cfg.Mode))))
	if mode == "" {
		mode = ModeDisabled
	}
	svc := &Service{mode: mode, audit: logger.Audit()}

	switch mode {
	case ModeDisabled:
		return svc, nil
	case ModeToken:
	default:
		return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "unsupported auth mode: %s", cfg.Mode)
	}
	if len(cfg.Tokens) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "token mode requires at least one token")
	}
	seen := make(map[string]struct{}, len(cfg.Tokens))
	for _, tok := range cfg.Tokens {
		secret := strings.TrimSpace(tok.Secret)
		if secret == "" {
			return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "token %q has empty secret", tok.Name)
		}
		if _, dup := seen[secret]; dup {
			return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "token %q reuses a secret", tok.Name)
		}
		seen[secret] = struct{}{}
		subject := &Subject{
			Name:        tok.Name,
			Permissions: append([]string(nil), tok.Permissions...),
			Disabled:    tok.Disabled,
		}
		subject.normalise()
		svc.grants = append(svc.grants, grant{digest: sha256.Sum256([]byte(secret)), subject: subject})
	}
	return svc, nil
}

// Mode 返回当前身份认证服务的工作模式。
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// AuthenticateRequest 验证传入请求的授权头，并返回相应的主体信息。
func (s *Service) AuthenticateRequest(_ context.Context, authorization string) (*Subject, error) {
	if s == nil || s.mode == ModeDisabled {
		return nil, ErrDisabled
	}
	parts := strings.SplitN(strings.TrimSpace(authorization), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return nil, ErrMissingToken
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return nil, ErrMissingToken
	}
	digest := sha256.Sum256([]byte(token))
	var found *Subject
	for _, g := range s.grants {
		if subtle.ConstantTimeCompare(digest[:], g.digest[:]) == 1 {
			found = g.subject
		}
	}
	if found == nil {
		return nil, ErrInvalidToken
	}
	if found.Disabled {
		return nil, ErrSubjectRevoked
	}
	return found, nil
}
