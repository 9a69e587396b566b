package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestRegisterAndAttributes(t *testing.T) {
	const code Code = "TEST_REGISTERED"
	Register(code, Attributes{Message: "registered", Severity: SeverityWarning, Retryable: true})

	err := New(code, "")
	if err.Message() != "registered" {
		t.Fatalf("默认消息未生效: %q", err.Message())
	}
	if !err.Retryable() {
		t.Fatalf("期望可重试")
	}
	if err.Severity() != SeverityWarning {
		t.Fatalf("unexpected severity %s", err.Severity())
	}
	if AttributesOf("NEVER_REGISTERED").Severity != SeverityCritical {
		t.Fatalf("未注册错误码应回退到 UNKNOWN")
	}
}

func TestWrapMatchesByCode(t *testing.T) {
	cause := fmt.Errorf("dial tcp: refused")
	err := Wrap(CodeStorageFailure, cause, "write archive", WithMetadata("root", "0xabc"), WithRetryable(false))

	if !stdErrors.Is(err, New(CodeStorageFailure, "")) {
		t.Fatalf("errors.Is 应按错误码匹配")
	}
	if stdErrors.Is(err, New(CodeTimeout, "")) {
		t.Fatalf("不同错误码不应匹配")
	}
	if !stdErrors.Is(err, cause) {
		t.Fatalf("应能解包到原始错误")
	}
	if RetryableError(err) {
		t.Fatalf("WithRetryable(false) 应覆盖默认值")
	}
	if err.Metadata()["root"] != "0xabc" {
		t.Fatalf("metadata lost: %v", err.Metadata())
	}

	wrapped := fmt.Errorf("outer: %w", err)
	if CodeOf(wrapped) != CodeStorageFailure {
		t.Fatalf("CodeOf 应穿透 fmt 包装, got %s", CodeOf(wrapped))
	}
	if !HasCode(wrapped, CodeStorageFailure) {
		t.Fatalf("HasCode 应找到错误码")
	}
}
