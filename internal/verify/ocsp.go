package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	xerrors "OpenAttest-Core/internal/errors"
	"OpenAttest-Core/internal/proofs"
)

// OCSPStatus 为响应器对单个根哈希的回答。
type OCSPStatus struct {
	Revoked bool
	Reason  string
}

// OCSPChecker 查询撤销状态。location 为文档中声明的响应器地址。
type OCSPChecker interface {
	Check(ctx context.Context, location string, root proofs.Hash) (OCSPStatus, error)
}

// HTTPResponder 通过 GET {location}/{merkleRoot} 查询响应器，5xx 与网络错误按退避重试。
type HTTPResponder struct {
	client  *http.Client
	retries uint64
}

// NewHTTPResponder 构造响应器客户端。client 为 nil 时使用 10 秒超时的默认客户端。
func NewHTTPResponder(client *http.Client, retries int) *HTTPResponder {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if retries < 0 {
		retries = 0
	}
	return &HTTPResponder{client: client, retries: uint64(retries)}
}

type ocspResponse struct {
	Revoked    bool            `json:"revoked"`
	ReasonCode json.RawMessage `json:"reasonCode"`
}

// Check 实现 OCSPChecker。
func (r *HTTPResponder) Check(ctx context.Context, location string, root proofs.Hash) (OCSPStatus, error) {
	url := strings.TrimRight(location, "/") + "/" + proofs.EncodeHash(root)
	var status OCSPStatus
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(xerrors.Wrap(xerrors.CodeInvalidArgument, err, "build ocsp request"))
		}
		req.Header.Set("Accept", "application/json")
		resp, err := r.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return xerrors.Wrap(CodeOCSPUnavailable, err, "query ocsp responder")
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return xerrors.Wrap(CodeOCSPUnavailable, err, "read ocsp response")
		}
		switch {
		case resp.StatusCode >= 500:
			return xerrors.New(CodeOCSPUnavailable, fmt.Sprintf("ocsp responder returned %d", resp.StatusCode))
		case resp.StatusCode != http.StatusOK:
			return backoff.Permanent(xerrors.New(CodeOCSPUnavailable, fmt.Sprintf("ocsp responder returned %d", resp.StatusCode),
				xerrors.WithRetryable(false)))
		}
		var decoded ocspResponse
		if err := json.Unmarshal(body, &decoded); err != nil {
			return backoff.Permanent(xerrors.Wrap(CodeOCSPUnavailable, err, "decode ocsp response", xerrors.WithRetryable(false)))
		}
		status = OCSPStatus{Revoked: decoded.Revoked, Reason: strings.Trim(string(decoded.ReasonCode), `"`)}
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), r.retries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return OCSPStatus{}, err
	}
	return status, nil
}
