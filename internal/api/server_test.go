package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"OpenAttest-Core/internal/auth"
	"OpenAttest-Core/internal/storage"
	"OpenAttest-Core/internal/task"
	"OpenAttest-Core/internal/verify"
	"OpenAttest-Core/pkg/logger"
)

func newTestServer(t *testing.T, opts ...Option) (*Server, *task.MemoryStore) {
	t.Helper()
	store := task.NewMemoryStore()
	queue := task.NewMemoryQueue(16)
	t.Cleanup(func() { _ = queue.Close() })
	svc := task.NewService(store, queue, 3)
	opts = append([]Option{WithLogger(logger.Discard())}, opts...)
	return NewServer(":0", svc, opts...), store
}

func TestHandleJobDetailSuccess(t *testing.T) {
	server, store := newTestServer(t)

	sample := &task.Task{
		ID:         "job-success",
		Kind:       task.KindVerify,
		Document:   json.RawMessage(`{"version":"x"}`),
		Status:     task.StatusSucceeded,
		Attempts:   1,
		MaxRetries: 3,
		CreatedAt:  1700000000,
		UpdatedAt:  1700000001,
		Result: &task.ExecutionResult{
			MerkleRoot: "ab",
			Valid:      true,
			Summary:    "STRUCTURE=VALID",
		},
	}
	if err := store.Create(context.Background(), sample); err != nil {
		t.Fatalf("create sample job: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/job-success", nil)
	rec := httptest.NewRecorder()

	server.handleJobDetail(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusOK)
	}

	var got task.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.ID != sample.ID {
		t.Fatalf("unexpected job id: got %q want %q", got.ID, sample.ID)
	}
	if got.Result == nil || !got.Result.Valid || got.Result.MerkleRoot != "ab" {
		t.Fatalf("unexpected job result: %+v", got.Result)
	}
}

func TestHandleJobDetailErrors(t *testing.T) {
	server, _ := newTestServer(t)

	t.Run("invalid method", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs/job-1", nil)
		rec := httptest.NewRecorder()

		server.handleJobDetail(rec, req)

		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
		}
	})

	t.Run("missing id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/", nil)
		rec := httptest.NewRecorder()

		server.handleJobDetail(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})

	t.Run("not found", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/missing", nil)
		rec := httptest.NewRecorder()

		server.handleJobDetail(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected status %d, got %d", http.StatusNotFound, rec.Code)
		}
		var body errorResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode error body: %v", err)
		}
		if body.Code != task.CodeTaskNotFound {
			t.Fatalf("unexpected error code %s", body.Code)
		}
	})
}

func TestSubmitAndListJobs(t *testing.T) {
	server, _ := newTestServer(t)
	h := server.Handler()

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(body))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := post(`{"id":"job-a","kind":"issue","document":{"version":"v"}}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit: got %d body %s", rec.Code, rec.Body.String())
	}
	if rec = post(`{"kind":"mint","document":{}}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("非法任务类型应返回 400, got %d", rec.Code)
	}
	if rec = post(`not json`); rec.Code != http.StatusBadRequest {
		t.Fatalf("非法请求体应返回 400, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs?kind=issue&status=pending&limit=5", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: got %d", rec.Code)
	}
	var jobs []task.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &jobs); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != "job-a" {
		t.Fatalf("unexpected jobs %+v", jobs)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/jobs?status=bogus", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("非法状态过滤应返回 400, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/jobs/stats", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var stats task.TaskStats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Total != 1 || stats.Pending != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestDocumentLookup(t *testing.T) {
	archive, err := storage.NewFileArchive(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileArchive: %v", err)
	}
	root := strings.Repeat("ab", 32)
	if err := archive.Save(context.Background(), &storage.Record{
		MerkleRoot: root,
		Stage:      "wrapped",
		Document:   json.RawMessage(`{"data":{}}`),
	}); err != nil {
		t.Fatalf("save: %v", err)
	}
	server, _ := newTestServer(t, WithArchive(archive))
	h := server.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/documents/0x"+strings.ToUpper(root), nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("lookup: got %d body %s", rec.Code, rec.Body.String())
	}
	var got storage.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if got.MerkleRoot != root || got.Stage != "wrapped" {
		t.Fatalf("unexpected record %+v", got)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+strings.Repeat("cd", 32), nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("未知根哈希应返回 404, got %d", rec.Code)
	}
}

func TestVerifyEndpoint(t *testing.T) {
	server, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/verify", bytes.NewBufferString(`{}`)))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("未配置校验器应返回 503, got %d", rec.Code)
	}

	server, _ = newTestServer(t, WithVerifier(verify.New(nil, nil, verify.WithOCSP(nil), verify.WithLogger(logger.Discard()))))
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/verify", bytes.NewBufferString(`{"data":{}}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("缺少版本的文档应返回 400, got %d body %s", rec.Code, rec.Body.String())
	}
}

func TestRoutesRequireTokens(t *testing.T) {
	authSvc, err := auth.NewService(auth.Config{
		Mode:   auth.ModeToken,
		Tokens: []auth.Token{{Name: "reader", Secret: "s3cret", Permissions: []string{auth.PermJobsRead}}},
	})
	if err != nil {
		t.Fatalf("auth: %v", err)
	}
	server, _ := newTestServer(t, WithAuth(authSvc))
	h := server.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("缺少令牌应返回 401, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("读令牌应可列出任务, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("读令牌提交任务应返回 403, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("健康检查无需认证, got %d", rec.Code)
	}
}

func TestSubmitRecordsTokenName(t *testing.T) {
	authSvc, err := auth.NewService(auth.Config{
		Mode:   auth.ModeToken,
		Tokens: []auth.Token{{Name: "ci", Secret: "w", Permissions: []string{auth.PermJobsWrite}}},
	})
	if err != nil {
		t.Fatalf("auth: %v", err)
	}
	server, store := newTestServer(t, WithAuth(authSvc))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs",
		strings.NewReader(`{"id":"job-ci","kind":"verify","document":{"version":"v"}}`))
	req.Header.Set("Authorization", "Bearer w")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit: got %d body %s", rec.Code, rec.Body.String())
	}

	got, err := store.Get(context.Background(), "job-ci")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Metadata["submitted_by"] != "ci" {
		t.Fatalf("应记录提交令牌名, got %v", got.Metadata)
	}
}
