package task

import (
	"context"
	"encoding/json"

	xerrors "OpenAttest-Core/internal/errors"
)

// Job 是队列中传递的任务信封。正文与状态只存放在 Store 中，队列只负责路由。
type Job struct {
	ID      string `json:"id"`
	Kind    Kind   `json:"kind"`
	Attempt int    `json:"attempt,omitempty"`
}

// Handler 处理从队列取出的任务。返回错误时由具体队列决定是否重新投递。
type Handler func(ctx context.Context, job Job) error

// Producer 投递任务。Service 只依赖这一半。
type Producer interface {
	Publish(ctx context.Context, job Job) error
	Close() error
}

// Consumer 以 workerCount 个并发消费者处理任务，直到 ctx 结束或队列关闭。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备投递与消费能力。
type Queue interface {
	Producer
	Consumer
}

var (
	_ Queue = (*MemoryQueue)(nil)
	_ Queue = (*RedisQueue)(nil)
	_ Queue = (*RabbitMQQueue)(nil)
)

// routeOrder 为各类任务的路由顺序。Redis 的 BRPOP 按此顺序取键，撤销先于签发，签发先于验证。
var routeOrder = []Kind{KindRevoke, KindIssue, KindVerify}

// routeName 返回某类任务的子队列名，例如 oattest:jobs:issue。
func routeName(base, sep string, kind Kind) string {
	return base + sep + string(kind)
}

func checkJob(job Job) error {
	if job.ID == "" {
		return xerrors.New(CodeTaskValidation, "任务 ID 为空", xerrors.WithRetryable(false))
	}
	if !job.Kind.Valid() {
		return xerrors.Newf(CodeTaskValidation, "无法路由任务类型 %q", job.Kind)
	}
	return nil
}

func encodeJob(job Job) ([]byte, error) {
	if err := checkJob(job); err != nil {
		return nil, err
	}
	return json.Marshal(job)
}

// decodeJob 解析队列消息。kind 为消息所在子队列的类型，信封缺失类型时以它补齐。
func decodeJob(body []byte, kind Kind) (Job, error) {
	var job Job
	if err := json.Unmarshal(body, &job); err != nil {
		return Job{}, xerrors.Wrap(xerrors.CodeQueueFailure, err, "任务消息无法解析", xerrors.WithRetryable(false))
	}
	if job.Kind == "" {
		job.Kind = kind
	}
	if err := checkJob(job); err != nil {
		return Job{}, err
	}
	return job, nil
}
