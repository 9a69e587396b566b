package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"OpenAttest-Core/pkg/logger"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(Config{
		Mode: ModeToken,
		Tokens: []Token{
			{Name: "reader", Secret: "r-secret", Permissions: []string{PermJobsRead}},
			{Name: "ops", Secret: "o-secret", Permissions: []string{"*"}},
			{Name: "retired", Secret: "x-secret", Permissions: []string{"*"}, Disabled: true},
		},
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	svc.audit = logger.Discard()
	return svc
}

func TestAuthenticateRequest(t *testing.T) {
	svc := newTestService(t)

	subject, err := svc.AuthenticateRequest(context.Background(), "Bearer r-secret")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if subject.Name != "reader" || !subject.HasPermission(PermJobsRead) || subject.HasPermission(PermJobsWrite) {
		t.Fatalf("unexpected subject %+v", subject)
	}

	cases := map[string]error{
		"":                ErrMissingToken,
		"Basic abc":       ErrMissingToken,
		"Bearer nope":     ErrInvalidToken,
		"bearer x-secret": ErrSubjectRevoked,
	}
	for header, want := range cases {
		if _, err := svc.AuthenticateRequest(context.Background(), header); !errors.Is(err, want) {
			t.Fatalf("header %q: got %v want %v", header, err, want)
		}
	}
}

func TestNewServiceRejectsBadConfig(t *testing.T) {
	if _, err := NewService(Config{Mode: "ldap"}); err == nil {
		t.Fatalf("未知模式应返回错误")
	}
	if _, err := NewService(Config{Mode: ModeToken}); err == nil {
		t.Fatalf("token 模式缺少令牌应返回错误")
	}
	dup := []Token{{Name: "a", Secret: "s"}, {Name: "b", Secret: "s"}}
	if _, err := NewService(Config{Mode: ModeToken, Tokens: dup}); err == nil {
		t.Fatalf("重复密钥应返回错误")
	}
	svc, err := NewService(Config{})
	if err != nil || svc.Mode() != ModeDisabled {
		t.Fatalf("空配置应为 disabled 模式: %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	svc := newTestService(t)
	var seen *Subject
	handler := svc.Middleware(MiddlewareConfig{
		RequiredPermissions: map[string][]string{
			http.MethodGet:  {PermJobsRead},
			http.MethodPost: {PermJobsWrite},
		},
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = SubjectFromContext(r.Context())
		w.WriteHeader(http.StatusAccepted)
	}))

	tests := []struct {
		method string
		token  string
		want   int
	}{
		{http.MethodGet, "", http.StatusUnauthorized},
		{http.MethodGet, "r-secret", http.StatusAccepted},
		{http.MethodPost, "r-secret", http.StatusForbidden},
		{http.MethodPost, "o-secret", http.StatusAccepted},
		{http.MethodGet, "x-secret", http.StatusForbidden},
	}
	for _, tc := range tests {
		req := httptest.NewRequest(tc.method, "/api/v1/jobs", nil)
		if tc.token != "" {
			req.Header.Set("Authorization", "Bearer "+tc.token)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Fatalf("%s with %q: got %d want %d", tc.method, tc.token, rec.Code, tc.want)
		}
	}
	if seen == nil || seen.Name != "ops" {
		t.Fatalf("处理器应从上下文拿到调用方, got %+v", seen)
	}
}

func TestMiddlewareDisabledPassesThrough(t *testing.T) {
	var svc *Service
	called := false
	handler := svc.Middleware(MiddlewareConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !called {
		t.Fatalf("未启用认证时应直接放行")
	}
}
