// Package mq 提供 Kafka producer/consumer 通用实现，投递语义为至少一次，消费方需自行去重
package mq

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/wyfcoding/onlinestore/pkg/logger"
)

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	Brokers        []string
	GroupID        string
	SessionTimeout int
	MaxRetries     int
	RetryBackoff   int
}

// Header 消息头
type Header struct {
	Key   string
	Value string
}

// Publisher 消息发布端口，outbox relay 只依赖这个接口
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte, headers ...Header) error
}

// KafkaProducer Kafka 生产者
type KafkaProducer struct {
	writer *kafka.Writer
}

// NewProducer 创建 Kafka 生产者
func NewProducer(cfg KafkaConfig) *KafkaProducer {
	maxAttempts := cfg.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		Compression:            kafka.Gzip,
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            maxAttempts,
		WriteBackoffMin:        time.Duration(cfg.RetryBackoff) * time.Millisecond,
		WriteBackoffMax:        time.Duration(cfg.RetryBackoff*10) * time.Millisecond,
	}

	logger.Info(context.Background(), "Kafka producer created successfully", "brokers", cfg.Brokers)
	return &KafkaProducer{writer: writer}
}

// Publish 发送单条已序列化的消息，key 决定分区，同一订单的事件有序
func (kp *KafkaProducer) Publish(ctx context.Context, topic, key string, payload []byte, headers ...Header) error {
	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: payload,
	}
	for _, h := range headers {
		msg.Headers = append(msg.Headers, kafka.Header{Key: h.Key, Value: []byte(h.Value)})
	}

	if err := kp.writer.WriteMessages(ctx, msg); err != nil {
		logger.Error(ctx, "Failed to send Kafka message",
			"topic", topic,
			"key", key,
			"error", err,
		)
		return err
	}

	logger.Debug(ctx, "Kafka message sent",
		"topic", topic,
		"key", key,
	)
	return nil
}

// Close 关闭生产者
func (kp *KafkaProducer) Close() error {
	return kp.writer.Close()
}

// KafkaConsumer Kafka 消费者，处理成功后才提交偏移量
type KafkaConsumer struct {
	reader *kafka.Reader
}

// NewConsumer 创建 Kafka 消费者
func NewConsumer(cfg KafkaConfig, topic string) *KafkaConsumer {
	sessionTimeout := time.Duration(cfg.SessionTimeout) * time.Second
	if sessionTimeout <= 0 {
		sessionTimeout = 30 * time.Second
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          topic,
		GroupID:        cfg.GroupID,
		SessionTimeout: sessionTimeout,
		StartOffset:    kafka.FirstOffset,
		MaxBytes:       10e6,
	})

	logger.Info(context.Background(), "Kafka consumer created successfully",
		"brokers", cfg.Brokers,
		"topic", topic,
		"group_id", cfg.GroupID,
	)
	return &KafkaConsumer{reader: reader}
}

// Handler 消息处理函数，返回错误时偏移量不提交，消息会被重新投递
type Handler func(ctx context.Context, msg *Message) error

// Consume 循环拉取并处理消息直到 ctx 取消
func (kc *KafkaConsumer) Consume(ctx context.Context, handle Handler) error {
	for {
		m, err := kc.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error(ctx, "Failed to fetch Kafka message", "error", err)
			return err
		}

		msg := fromKafka(m)
		if err := handle(ctx, msg); err != nil {
			logger.Warn(ctx, "Kafka message handling failed, will be redelivered",
				"topic", msg.Topic,
				"offset", msg.Offset,
				"error", err,
			)
			continue
		}
		if err := kc.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			logger.Error(ctx, "Failed to commit Kafka message", "offset", msg.Offset, "error", err)
		}
	}
}

// Close 关闭消费者
func (kc *KafkaConsumer) Close() error {
	return kc.reader.Close()
}

// Message Kafka 消息结构
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       string
	Value     []byte
	Headers   map[string]string
	Time      time.Time
}

func fromKafka(m kafka.Message) *Message {
	headers := make(map[string]string, len(m.Headers))
	for _, h := range m.Headers {
		headers[h.Key] = string(h.Value)
	}
	return &Message{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       string(m.Key),
		Value:     m.Value,
		Headers:   headers,
		Time:      m.Time,
	}
}

// UnmarshalPayload 将消息值解析为 JSON
func (m *Message) UnmarshalPayload(dest any) error {
	return json.Unmarshal(m.Value, dest)
}
