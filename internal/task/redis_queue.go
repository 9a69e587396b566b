package task

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "OpenAttest-Core/internal/errors"
	"OpenAttest-Core/pkg/logger"
)

// RedisQueueConfig 描述 Redis 队列的连接参数。Queue 为键前缀，每类任务使用 <Queue>:<kind> 一个 list。
type RedisQueueConfig struct {
	Address   string
	Password  string
	DB        int
	Queue     string
	BlockWait time.Duration
}

// RedisQueue 使用 Redis list 实现按类型路由的任务队列：LPUSH 投递，BRPOP 按 routeOrder 取键。
type RedisQueue struct {
	client *redis.Client
	keys   map[Kind]string
	order  []string
	wait   time.Duration
}

// NewRedisQueue 创建 Redis 队列实例。
func NewRedisQueue(cfg RedisQueueConfig) (*RedisQueue, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "连接 Redis 失败")
	}
	return newRedisQueue(client, cfg), nil
}

func newRedisQueue(client *redis.Client, cfg RedisQueueConfig) *RedisQueue {
	base := strings.TrimSuffix(cfg.Queue, ":")
	if base == "" {
		base = "oattest:jobs"
	}
	wait := cfg.BlockWait
	if wait <= 0 {
		wait = 5 * time.Second
	}
	q := &RedisQueue{client: client, keys: make(map[Kind]string, len(routeOrder)), wait: wait}
	for _, kind := range routeOrder {
		key := routeName(base, ":", kind)
		q.keys[kind] = key
		q.order = append(q.order, key)
	}
	return q
}

// Publish 把任务信封写入对应类型的 list。
func (q *RedisQueue) Publish(ctx context.Context, job Job) error {
	body, err := encodeJob(job)
	if err != nil {
		return err
	}
	key := q.keys[job.Kind]
	if err := q.client.LPush(ctx, key, body).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 发布任务失败", xerrors.WithMetadata("queue", key))
	}
	return nil
}

// Consume 通过 BRPOP 获取任务。同一次 BRPOP 中排在前面的键优先出队。
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	errCh := make(chan error, workerCount)
	for i := 0; i < workerCount; i++ {
		go func() {
			for {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				default:
				}
				values, err := q.client.BRPop(ctx, q.wait, q.order...).Result()
				if err != nil {
					if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) {
						errCh <- err
						return
					}
					if errors.Is(err, redis.Nil) {
						continue
					}
					errCh <- xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 取任务失败")
					return
				}
				if len(values) != 2 {
					continue
				}
				job, err := decodeJob([]byte(values[1]), q.kindOf(values[0]))
				if err != nil {
					logger.L().Warn("丢弃无法解析的任务消息", slog.String("queue", values[0]), slog.Any("error", err))
					continue
				}
				if handlerErr := handler(ctx, job); handlerErr != nil {
					// 处理失败时放回队尾，下一次 BRPOP 立即取回。
					_ = q.client.RPush(ctx, q.keys[job.Kind], values[1]).Err()
				}
			}
		}()
	}
	// 等待第一个错误或取消信号。
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (q *RedisQueue) kindOf(key string) Kind {
	for kind, k := range q.keys {
		if k == key {
			return kind
		}
	}
	return ""
}

// Close 关闭 Redis 连接。
func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}
