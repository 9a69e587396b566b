package task

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	xerrors "OpenAttest-Core/internal/errors"
	"OpenAttest-Core/internal/observability/alerting"
)

type fakeExecutor struct {
	processed atomic.Int32
	latency   time.Duration
	err       error
}

func (f *fakeExecutor) Execute(ctx context.Context, task *Task) (*ExecutionResult, error) {
	if f.latency > 0 {
		select {
		case <-time.After(f.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.processed.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &ExecutionResult{MerkleRoot: task.ID, Valid: true, Summary: "ok"}, nil
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (r *recordingDispatcher) Notify(_ context.Context, event alerting.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingDispatcher) stages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Metadata["stage"])
	}
	return out
}

type staticRecovery struct {
	result *ExecutionResult
	calls  atomic.Int32
}

func (s *staticRecovery) Recover(context.Context, *Task, error) (*ExecutionResult, error) {
	s.calls.Add(1)
	if s.result == nil {
		return nil, nil
	}
	out := *s.result
	return &out, nil
}

func runProcessor(t *testing.T, ctx context.Context, p *Processor) {
	t.Helper()
	go func() {
		if err := p.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("processor exited: %v", err)
		}
	}()
}

func submitVerify(t *testing.T, ctx context.Context, service *Service, id string) *Task {
	t.Helper()
	task, err := service.Submit(ctx, Request{ID: id, Kind: KindVerify, Document: json.RawMessage(`{"version":"x"}`)})
	if err != nil {
		t.Fatalf("提交任务失败: %v", err)
	}
	return task
}

func TestProcessorHandlesConcurrentTasks(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(1024)
	executor := &fakeExecutor{latency: 10 * time.Millisecond}

	service := NewService(store, queue, 3)
	runProcessor(t, ctx, NewProcessor(executor, store, queue, queue, WithWorkerCount(8)))

	total := 200
	for i := 0; i < total; i++ {
		submitVerify(t, ctx, service, "")
	}

	deadline := time.After(5 * time.Second)
	for {
		if int(executor.processed.Load()) >= total {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("任务未能及时处理，已完成 %d", executor.processed.Load())
		case <-time.After(50 * time.Millisecond):
		}
	}

	waitCtx, waitCancel := context.WithTimeout(ctx, 2*time.Second)
	defer waitCancel()
	for {
		stats, err := service.Stats(waitCtx)
		if err != nil {
			t.Fatalf("stats: %v", err)
		}
		if stats.Succeeded == total {
			break
		}
		select {
		case <-waitCtx.Done():
			t.Fatalf("expected %d succeeded tasks, got %+v", total, stats)
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestProcessorRetriesUntilExhausted(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(16)
	executor := &fakeExecutor{err: xerrors.New(xerrors.CodeTimeout, "registry call timed out")}
	alerts := &recordingDispatcher{}

	service := NewService(store, queue, 2)
	runProcessor(t, ctx, NewProcessor(executor, store, queue, queue, WithAlertDispatcher(alerts)))

	submitVerify(t, ctx, service, "job-retry")
	task, err := service.WaitUntilCompleted(ctx, "job-retry", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if task.Status != StatusFailed || task.Attempts != 2 || task.ErrorCode != string(xerrors.CodeTimeout) {
		t.Fatalf("unexpected task %+v", task)
	}
	if executor.processed.Load() != 2 {
		t.Fatalf("expected 2 executions, got %d", executor.processed.Load())
	}
	stages := alerts.stages()
	if len(stages) != 2 || stages[0] != "retry" || stages[1] != "terminal" {
		t.Fatalf("unexpected alert stages %v", stages)
	}
}

func TestProcessorNonRetryableFailsOnce(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(16)
	executor := &fakeExecutor{err: xerrors.New(CodeTaskValidation, "bad document")}

	service := NewService(store, queue, 5)
	runProcessor(t, ctx, NewProcessor(executor, store, queue, queue))

	submitVerify(t, ctx, service, "job-invalid")
	task, err := service.WaitUntilCompleted(ctx, "job-invalid", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if task.Attempts != 1 || task.Status != StatusFailed {
		t.Fatalf("不可重试错误只应执行一次: %+v", task)
	}
}

func TestProcessorRecordsDegradedResult(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(16)
	executor := &fakeExecutor{err: xerrors.New(xerrors.CodeTimeout, "")}
	recovery := &staticRecovery{result: &ExecutionResult{MerkleRoot: "ab", Summary: "indeterminate: STATUS=ERROR"}}

	service := NewService(store, queue, 1)
	runProcessor(t, ctx, NewProcessor(executor, store, queue, queue, WithRecoveryHandler(recovery)))

	submitVerify(t, ctx, service, "job-degraded")
	task, err := service.WaitUntilCompleted(ctx, "job-degraded", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if task.Status != StatusSucceeded || task.Result == nil || task.Result.Valid {
		t.Fatalf("降级结果应记为成功但无效: %+v", task)
	}
	if recovery.calls.Load() != 1 {
		t.Fatalf("recovery should run once, got %d", recovery.calls.Load())
	}
}

func TestServiceSubmitValidation(t *testing.T) {
	service := NewService(NewMemoryStore(), NewMemoryQueue(4), 1)
	ctx := context.Background()

	if _, err := service.Submit(ctx, Request{Kind: "mint", Document: json.RawMessage(`{}`)}); !IsTaskError(err, CodeTaskValidation) {
		t.Fatalf("未知类型应被拒绝, got %v", err)
	}
	if _, err := service.Submit(ctx, Request{Kind: KindVerify, Document: json.RawMessage(`{`)}); !IsTaskError(err, CodeTaskValidation) {
		t.Fatalf("非法 JSON 应被拒绝, got %v", err)
	}

	first := submitVerify(t, ctx, service, "same-id")
	second := submitVerify(t, ctx, service, "same-id")
	if first.ID != second.ID || second.CreatedAt != first.CreatedAt {
		t.Fatalf("相同 ID 应返回已有任务")
	}
}
