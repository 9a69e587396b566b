package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestVerificationMetricsExposed(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewVerification(reg)
	m.ObserveStage("INTEGRITY", "VALID", 3*time.Millisecond)
	m.ObserveDocument(true, 10*time.Millisecond)

	var nilMetrics *Verification
	nilMetrics.ObserveStage("STATUS", "ERROR", time.Second)

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	text := string(body)
	for _, want := range []string{
		`oattest_verify_stage_total{category="INTEGRITY",status="VALID"} 1`,
		`oattest_verify_documents_total{valid="true"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("指标输出缺少 %s:\n%s", want, text)
		}
	}
}

func TestJobsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewJobs(reg)
	m.ObserveJob("verify", "succeeded", time.Millisecond)
	m.ObserveRetry("issue", "REGISTRY_UNAVAILABLE")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) != 3 {
		t.Fatalf("期望 3 组指标, got %d", len(families))
	}
}
