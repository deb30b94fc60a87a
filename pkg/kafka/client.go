// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"

	"equihire-go/internal/config"
	"equihire-go/pkg/errs"
	"equihire-go/pkg/log"
	"equihire-go/pkg/tasks"
)

// TaskProcessor 是能够处理简历索引任务的组件，使消费者与具体流水线解耦。
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.ResumeIndexTask) error
}

// AttemptTracker 记录每个任务的失败次数，用于决定何时放弃重试。
type AttemptTracker interface {
	Incr(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

// Producer 同时负责索引任务主题和匹配事件主题。
type Producer struct {
	tasks  *kafka.Writer
	events *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	brokers := strings.Split(cfg.Brokers, ",")
	p := &Producer{
		tasks: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    cfg.IndexTopic,
			Balancer: &kafka.Hash{},
		},
		events: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    cfg.EventTopic,
			Balancer: &kafka.LeastBytes{},
		},
	}
	log.Infof("Kafka 生产者初始化成功, 任务主题: %s, 事件主题: %s", cfg.IndexTopic, cfg.EventTopic)
	return p
}

// ProduceIndexTask 发送一个简历索引任务，以 resume id 作为 key 保证同一简历的任务有序。
func (p *Producer) ProduceIndexTask(ctx context.Context, task tasks.ResumeIndexTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.tasks.WriteMessages(ctx, kafka.Message{Key: []byte(task.ResumeID), Value: taskBytes})
}

// PublishMatchComputed 发布匹配完成事件。
func (p *Producer) PublishMatchComputed(ctx context.Context, evt tasks.MatchComputedEvent) error {
	evt.Type = tasks.EventMatchComputed
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	if err := p.events.WriteMessages(ctx, kafka.Message{Key: []byte(evt.JobID), Value: data}); err != nil {
		return errs.Unavailable("kafka", err)
	}
	return nil
}

// Close 关闭底层的 writer。
func (p *Producer) Close() error {
	return errors.Join(p.tasks.Close(), p.events.Close())
}

type redisAttempts struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisAttemptTracker 使用 Redis 计数失败次数，计数 24 小时后过期。
func NewRedisAttemptTracker(rdb *redis.Client) AttemptTracker {
	return &redisAttempts{rdb: rdb, ttl: 24 * time.Hour}
}

func (a *redisAttempts) Incr(ctx context.Context, key string) (int64, error) {
	n, err := a.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	_ = a.rdb.Expire(ctx, key, a.ttl).Err()
	return n, nil
}

func (a *redisAttempts) Reset(ctx context.Context, key string) error {
	return a.rdb.Del(ctx, key).Err()
}

// Consumer 从索引任务主题读取消息并交给 TaskProcessor。
type Consumer struct {
	processor  TaskProcessor
	attempts   AttemptTracker
	maxRetries int64
}

// NewConsumer 创建消费者。maxRetries<=0 时使用 3。
func NewConsumer(processor TaskProcessor, attempts AttemptTracker, maxRetries int) *Consumer {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Consumer{processor: processor, attempts: attempts, maxRetries: int64(maxRetries)}
}

// Run 阻塞消费直到 ctx 结束。
func (c *Consumer) Run(ctx context.Context, cfg config.KafkaConfig) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  strings.Split(cfg.Brokers, ","),
		Topic:    cfg.IndexTopic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})

	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.IndexTopic)

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Error("从 Kafka 读取消息失败", err)
			}
			break
		}

		log.Infof("收到 Kafka 消息: offset %d", m.Offset)
		if c.Handle(ctx, m.Value) {
			if err := r.CommitMessages(context.WithoutCancel(ctx), m); err != nil {
				log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
			}
		}
	}

	if err := r.Close(); err != nil {
		log.Errorf("关闭 Kafka 消费者失败: %v", err)
	}
}

// Handle 处理一条消息，返回是否应当提交 offset。
// 格式错误与输入错误直接提交；其他失败在达到重试上限前不提交，让 Kafka 重新投递。
func (c *Consumer) Handle(ctx context.Context, value []byte) bool {
	var task tasks.ResumeIndexTask
	if err := json.Unmarshal(value, &task); err != nil || task.ResumeID == "" {
		log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(value))
		return true
	}

	log.Infof("开始处理简历索引任务: ResumeID=%s, Delete=%v", task.ResumeID, task.Delete)
	attemptsKey := fmt.Sprintf("kafka:attempts:%s", task.ResumeID)
	err := c.processor.Process(ctx, task)
	if err == nil {
		log.Infof("简历索引任务处理成功: ResumeID=%s", task.ResumeID)
		if c.attempts != nil {
			_ = c.attempts.Reset(ctx, attemptsKey)
		}
		return true
	}

	log.Errorf("处理简历索引任务失败: ResumeID=%s, Error: %v", task.ResumeID, err)
	if errs.KindOf(err) == errs.KindInput || errors.Is(err, errs.ErrNotFound) {
		return true
	}
	if c.attempts == nil {
		return false
	}
	attempts, incErr := c.attempts.Incr(ctx, attemptsKey)
	if incErr != nil {
		// Redis 异常时保守处理：不提交 offset，让 Kafka 重试
		return false
	}
	if attempts >= c.maxRetries {
		log.Errorf("简历索引任务多次失败(>=%d)，提交 offset 终止重试: ResumeID=%s", c.maxRetries, task.ResumeID)
		return true
	}
	return false
}
