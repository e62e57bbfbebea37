// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"persona-chat-go/pkg/log"
	"persona-chat-go/pkg/tasks"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
)

const (
	defaultMaxAttempts = 3
	attemptsTTL        = 24 * time.Hour
)

// permanentError 标记不应重试的失败，消费者会直接提交 offset。
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent 包装一个不可重试的错误。
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent 判断错误是否被标记为不可重试。
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// MessageHandler defines the interface for any service that can process a message.
// This decouples the Kafka consumer from the concrete pipeline implementation.
type MessageHandler interface {
	Handle(ctx context.Context, value []byte) error
}

// Producer 向单个主题写入 JSON 消息。
type Producer struct {
	writer *kafka.Writer
	now    func() time.Time
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(brokers, topic string) *Producer {
	p := &Producer{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(splitBrokers(brokers)...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		},
		now: time.Now,
	}
	log.Infof("Kafka 生产者初始化成功, topic: %s", topic)
	return p
}

// Publish 以 key 分区发送一条 JSON 消息，同一 key 的消息保持顺序。
func (p *Producer) Publish(ctx context.Context, key string, v interface{}) error {
	value, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal kafka message: %w", err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: value})
}

// ScheduleAnalysis 发送一个后台分析任务，以用户标识作为分区 key。
func (p *Producer) ScheduleAnalysis(ctx context.Context, userID string) error {
	task := tasks.NewAnalysisTask(userID, p.now())
	if err := p.Publish(ctx, userID, task); err != nil {
		return fmt.Errorf("failed to produce analysis task: %w", err)
	}
	log.Infow("[Kafka] analysis task produced", "taskID", task.TaskID, "userID", userID)
	return nil
}

// Close 关闭底层 writer。
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Consumer 从一个主题读取消息并交给 handler 同步处理。
// 失败次数记录在 Redis 中，达到上限或遇到不可重试的错误时提交 offset。
type Consumer struct {
	reader      *kafka.Reader
	rdb         *redis.Client
	handler     MessageHandler
	topic       string
	maxAttempts int64
	retryDelay  time.Duration

	// Redis 不可用时的本地计数，只在 Run 所在的 goroutine 中访问
	localAttempts map[string]int64
}

// NewConsumer 创建一个消费组成员。
func NewConsumer(brokers, topic, groupID string, rdb *redis.Client, handler MessageHandler) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  splitBrokers(brokers),
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1,
			MaxBytes: 10e6, // 10MB
		}),
		rdb:         rdb,
		handler:     handler,
		topic:       topic,
		maxAttempts: defaultMaxAttempts,
		retryDelay:  2 * time.Second,
	}
}

// Run 阻塞式消费，直到 ctx 被取消或读取失败。
func (c *Consumer) Run(ctx context.Context) {
	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", c.topic)
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Error("从 Kafka 读取消息失败", err)
			}
			break
		}
		// reader 不会重新投递未提交的消息，失败时在本地退避重试
		for !c.process(ctx, m.Partition, m.Offset, m.Value) && sleep(ctx, c.retryDelay) {
		}
		if ctx.Err() != nil {
			break
		}
		if err := c.reader.CommitMessages(context.Background(), m); err != nil {
			log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
		}
	}
	if err := c.reader.Close(); err != nil {
		log.Errorf("关闭 Kafka 消费者失败: %v", err)
	}
}

// process 处理一条消息并返回是否应提交 offset。
func (c *Consumer) process(ctx context.Context, partition int, offset int64, value []byte) bool {
	attemptsKey := fmt.Sprintf("kafka:attempts:%s:%d:%d", c.topic, partition, offset)

	err := c.handler.Handle(ctx, value)
	if err == nil {
		c.clearAttempts(attemptsKey)
		return true
	}
	if IsPermanent(err) {
		log.Warnw("[Kafka] message dropped", "topic", c.topic, "offset", offset, "error", err)
		c.clearAttempts(attemptsKey)
		return true
	}

	log.Errorw("[Kafka] message processing failed", "topic", c.topic, "offset", offset, "error", err)
	attempts, incErr := c.rdb.Incr(context.Background(), attemptsKey).Result()
	if incErr != nil {
		log.Warnw("[Kafka] attempt counter unavailable, counting locally", "topic", c.topic, "offset", offset, "error", incErr)
		if c.localAttempts == nil {
			c.localAttempts = map[string]int64{}
		}
		c.localAttempts[attemptsKey]++
		attempts = c.localAttempts[attemptsKey]
	} else {
		_ = c.rdb.Expire(context.Background(), attemptsKey, attemptsTTL).Err()
	}
	if attempts >= c.maxAttempts {
		log.Errorf("消息多次失败(>=%d)，提交 offset 终止重试: topic=%s offset=%d", c.maxAttempts, c.topic, offset)
		c.clearAttempts(attemptsKey)
		return true
	}
	return false
}

func (c *Consumer) clearAttempts(key string) {
	delete(c.localAttempts, key)
	_ = c.rdb.Del(context.Background(), key).Err()
}

// sleep 等待 d，ctx 被取消时提前返回 false。
func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func splitBrokers(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
