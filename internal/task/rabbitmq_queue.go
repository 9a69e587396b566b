package task

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	xerrors "OpenAttest-Core/internal/errors"
	"OpenAttest-Core/pkg/logger"
)

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。Queue 为队列名前缀，每类任务声明 <Queue>.<kind> 一个队列。
type RabbitMQConfig struct {
	URL        string
	Queue      string
	Prefetch   int
	Durable    bool
	AutoDelete bool
}

// RabbitMQQueue 经默认交换机按任务类型路由到各自的队列。
type RabbitMQQueue struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	queues map[Kind]string
}

// rabbitQueueNames 返回各类任务的队列名。
func rabbitQueueNames(base string) map[Kind]string {
	base = strings.TrimSuffix(base, ".")
	if base == "" {
		base = "oattest.jobs"
	}
	names := make(map[Kind]string, len(routeOrder))
	for _, kind := range routeOrder {
		names[kind] = routeName(base, ".", kind)
	}
	return names
}

// NewRabbitMQQueue 连接 broker 并声明全部任务队列。
func NewRabbitMQQueue(cfg RabbitMQConfig) (*RabbitMQQueue, error) {
	if cfg.URL == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "RabbitMQ URL 不能为空")
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "连接 RabbitMQ 失败")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "创建 RabbitMQ channel 失败")
	}
	fail := func(err error, msg string) (*RabbitMQQueue, error) {
		ch.Close()
		conn.Close()
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, msg)
	}
	if cfg.Prefetch > 0 {
		if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
			return fail(err, "设置 RabbitMQ QOS 失败")
		}
	}
	queues := rabbitQueueNames(cfg.Queue)
	for _, kind := range routeOrder {
		if _, err := ch.QueueDeclare(queues[kind], cfg.Durable, cfg.AutoDelete, false, false, nil); err != nil {
			return fail(err, "声明 RabbitMQ 队列 "+queues[kind]+" 失败")
		}
	}
	return &RabbitMQQueue{conn: conn, ch: ch, queues: queues}, nil
}

// Publish 把任务信封投递到对应类型的队列，消息 ID 为任务 ID，Type 为任务类型。
func (q *RabbitMQQueue) Publish(ctx context.Context, job Job) error {
	if q == nil || q.ch == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "RabbitMQ 队列未初始化")
	}
	body, err := encodeJob(job)
	if err != nil {
		return err
	}
	queue := q.queues[job.Kind]
	err = q.ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID,
		Type:         string(job.Kind),
		Body:         body,
	})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "RabbitMQ 发布任务失败", xerrors.WithMetadata("queue", queue))
	}
	return nil
}

// Consume 以手动确认模式订阅全部任务队列，并把投递汇入同一组工作协程。
func (q *RabbitMQQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if q == nil || q.ch == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "RabbitMQ 队列未初始化")
	}
	if workerCount <= 0 {
		workerCount = 1
	}
	deliveries := make(chan amqp.Delivery)
	for _, kind := range routeOrder {
		msgs, err := q.ch.Consume(q.queues[kind], "", false, false, false, false, nil)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeQueueFailure, err, "订阅 RabbitMQ 队列失败", xerrors.WithMetadata("queue", q.queues[kind]))
		}
		go func() {
			for msg := range msgs {
				select {
				case deliveries <- msg:
				case <-ctx.Done():
					_ = msg.Nack(false, true)
					return
				}
			}
		}()
	}

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg := <-deliveries:
					job, err := decodeJob(msg.Body, Kind(msg.Type))
					if err != nil {
						logger.L().Warn("丢弃无法解析的任务消息", slog.String("routing_key", msg.RoutingKey), slog.Any("error", err))
						_ = msg.Nack(false, false)
						continue
					}
					if err := handler(ctx, job); err != nil {
						// 存储异常等处理失败时交回 broker 重新投递。
						_ = msg.Nack(false, true)
						continue
					}
					_ = msg.Ack(false)
				}
			}
		}()
	}

	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

// Close 关闭 RabbitMQ 连接。
func (q *RabbitMQQueue) Close() error {
	if q == nil {
		return nil
	}
	if q.ch != nil {
		_ = q.ch.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
