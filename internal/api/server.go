package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"OpenAttest-Core/internal/auth"
	"OpenAttest-Core/internal/document"
	xerrors "OpenAttest-Core/internal/errors"
	"OpenAttest-Core/internal/storage"
	"OpenAttest-Core/internal/task"
	"OpenAttest-Core/internal/verify"
	"OpenAttest-Core/pkg/logger"
)

const maxBodyBytes = 4 << 20

// Server 负责暴露 REST 接口。
type Server struct {
	addr     string
	jobs     *task.Service
	verifier *verify.Verifier
	archive  storage.Archive
	auth     *auth.Service
	logger   *slog.Logger
}

// Option 配置 Server 的可选依赖。
type Option func(*Server)

// WithVerifier 启用同步校验接口。
func WithVerifier(v *verify.Verifier) Option {
	return func(s *Server) { s.verifier = v }
}

// WithArchive 启用归档查询接口。
func WithArchive(a storage.Archive) Option {
	return func(s *Server) { s.archive = a }
}

// WithAuth 为全部接口挂载令牌认证。
func WithAuth(a *auth.Service) Option {
	return func(s *Server) { s.auth = a }
}

// WithLogger 指定日志实例。
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, jobs *task.Service, opts ...Option) *Server {
	s := &Server{addr: addr, jobs: jobs}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logger.OrDefault(s.logger, "api")
	return s
}

// Handler 返回挂载了全部路由的处理器。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/v1/jobs", s.protect(s.handleJobs, auth.PermJobsRead, auth.PermJobsWrite))
	mux.Handle("/api/v1/jobs/stats", s.protect(s.handleJobStats, auth.PermJobsRead, ""))
	mux.Handle("/api/v1/jobs/", s.protect(s.handleJobDetail, auth.PermJobsRead, ""))
	mux.Handle("/api/v1/verify", s.protect(s.handleVerify, "", auth.PermDocumentsVerify))
	mux.Handle("/api/v1/documents/", s.protect(s.handleDocument, auth.PermArchiveRead, ""))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func (s *Server) protect(h http.HandlerFunc, readPerm, writePerm string) http.Handler {
	perms := map[string][]string{}
	if readPerm != "" {
		perms[http.MethodGet] = []string{readPerm}
	}
	if writePerm != "" {
		perms[http.MethodPost] = []string{writePerm}
	}
	return s.auth.Middleware(auth.MiddlewareConfig{RequiredPermissions: perms})(h)
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("API 服务已启动", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleSubmitJob(w, r)
	case http.MethodGet:
		s.handleListJobs(w, r)
	default:
		http.Error(w, "仅支持 GET/POST", http.StatusMethodNotAllowed)
	}
}

// handleSubmitJob 接收任务并入队，返回 202 与任务快照。
func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req task.Request
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	if name := auth.SubjectName(r.Context()); name != "" {
		if req.Metadata == nil {
			req.Metadata = make(map[string]any, 1)
		}
		req.Metadata["submitted_by"] = name
	}
	created, err := s.jobs.Submit(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, created)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptionsFromQuery(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	jobs, err := s.jobs.List(r.Context(), opts...)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if jobs == nil {
		jobs = []*task.Task{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleJobStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	opts, err := listOptionsFromQuery(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	stats, err := s.jobs.Stats(r.Context(), opts...)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleJobDetail 返回单个任务的状态。
func (s *Server) handleJobDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/jobs/"), "/")
	if id == "" {
		http.Error(w, "缺少任务 ID", http.StatusBadRequest)
		return
	}
	job, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleVerify 同步校验请求体中的文档。结论不确定时仍返回片段，并标记 indeterminate。
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	if s.verifier == nil {
		http.Error(w, "校验器未初始化", http.StatusServiceUnavailable)
		return
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "请求体读取失败", http.StatusBadRequest)
		return
	}
	doc, err := document.Decode(raw)
	if err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.verifier.Verify(r.Context(), doc)
	indeterminate := xerrors.HasCode(err, verify.CodeIndeterminate)
	if err != nil && !indeterminate {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, verifyResponse{Result: res, Indeterminate: indeterminate})
}

type verifyResponse struct {
	*verify.Result
	Indeterminate bool `json:"indeterminate,omitempty"`
}

// handleDocument 返回某个根哈希最近一次归档的文档。
func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.archive == nil {
		http.Error(w, "归档未启用", http.StatusServiceUnavailable)
		return
	}
	root := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/documents/"), "/")
	if root == "" {
		http.Error(w, "缺少根哈希", http.StatusBadRequest)
		return
	}
	rec, err := s.archive.Latest(r.Context(), strings.TrimPrefix(strings.ToLower(root), "0x"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func listOptionsFromQuery(r *http.Request) ([]task.ListOption, error) {
	q := r.URL.Query()
	var opts []task.ListOption
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "invalid limit %q", raw)
		}
		opts = append(opts, task.WithLimit(limit))
	}
	if raw := q.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "invalid offset %q", raw)
		}
		opts = append(opts, task.WithOffset(offset))
	}
	if raw := q.Get("status"); raw != "" {
		var statuses []task.Status
		for _, part := range strings.Split(raw, ",") {
			status := task.Status(strings.ToLower(strings.TrimSpace(part)))
			if !task.IsValidStatus(status) {
				return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "invalid status %q", part)
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, task.WithStatuses(statuses...))
	}
	if raw := q.Get("kind"); raw != "" {
		var kinds []task.Kind
		for _, part := range strings.Split(raw, ",") {
			kind := task.Kind(strings.ToLower(strings.TrimSpace(part)))
			if !kind.Valid() {
				return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "invalid kind %q", part)
			}
			kinds = append(kinds, kind)
		}
		opts = append(opts, task.WithKinds(kinds...))
	}
	if raw := q.Get("has_result"); raw != "" {
		has, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "invalid has_result %q", raw)
		}
		opts = append(opts, task.WithResultPresence(has))
	}
	if raw := q.Get("since"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "invalid since %q", raw)
		}
		opts = append(opts, task.WithUpdatedSince(ts))
	}
	if strings.EqualFold(q.Get("order"), "asc") {
		opts = append(opts, task.WithSortOrder(task.SortByUpdatedAsc))
	}
	if query := q.Get("q"); query != "" {
		opts = append(opts, task.WithQuery(query))
	}
	return opts, nil
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := httpStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("请求处理失败", slog.Any("error", err))
	}
	code := xerrors.CodeOf(err)
	msg := err.Error()
	if e, ok := xerrors.From(err); ok {
		msg = e.Message()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

type errorResponse struct {
	Code    xerrors.Code `json:"code"`
	Message string       `json:"message"`
}

func httpStatus(err error) int {
	switch xerrors.CodeOf(err) {
	case xerrors.CodeInvalidArgument, task.CodeTaskValidation,
		document.CodeInvalidDocument, document.CodeSchemaVersionConflict, document.CodePathNotFound:
		return http.StatusBadRequest
	case xerrors.CodeNotFound, task.CodeTaskNotFound:
		return http.StatusNotFound
	case xerrors.CodeConflict, task.CodeTaskConflict:
		return http.StatusConflict
	case xerrors.CodeInitializationFailure:
		return http.StatusServiceUnavailable
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
