package task

import (
	"context"
	"sync"

	xerrors "OpenAttest-Core/internal/errors"
)

// MemoryQueue 为每类任务维护一个 channel，用于测试与单机部署。
type MemoryQueue struct {
	routes map[Kind]chan Job
	mu     sync.RWMutex
	closed bool
}

// NewMemoryQueue 创建内存队列，size 为每个子队列的容量。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	routes := make(map[Kind]chan Job, len(routeOrder))
	for _, kind := range routeOrder {
		routes[kind] = make(chan Job, size)
	}
	return &MemoryQueue{routes: routes}
}

// Publish 按任务类型投递到对应子队列。
func (q *MemoryQueue) Publish(ctx context.Context, job Job) error {
	if err := checkJob(job); err != nil {
		return err
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return xerrors.New(xerrors.CodeQueueFailure, "队列已关闭", xerrors.WithRetryable(false))
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.routes[job.Kind] <- job:
		return nil
	}
}

// Pending 返回各子队列中等待消费的任务数。
func (q *MemoryQueue) Pending() map[Kind]int {
	out := make(map[Kind]int, len(q.routes))
	for kind, ch := range q.routes {
		out[kind] = len(ch)
	}
	return out
}

// Consume 启动 workerCount 个协程，同时监听全部子队列。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	revoke, issue, verify := q.routes[KindRevoke], q.routes[KindIssue], q.routes[KindVerify]
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				var (
					job Job
					ok  bool
				)
				select {
				case <-ctx.Done():
					return
				case job, ok = <-revoke:
				case job, ok = <-issue:
				case job, ok = <-verify:
				}
				if !ok {
					return
				}
				_ = handler(ctx, job)
			}
		}()
	}
	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

// Close 关闭全部子队列。
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		for _, ch := range q.routes {
			close(ch)
		}
		q.closed = true
	}
	return nil
}
