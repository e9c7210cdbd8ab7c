// Package events 订单事件消费者：按 event_id 去重，把下单与状态变更折算为指标样本
package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/wyfcoding/onlinestore/internal/order/domain"
	"github.com/wyfcoding/onlinestore/pkg/db"
	"github.com/wyfcoding/onlinestore/pkg/logger"
	"github.com/wyfcoding/onlinestore/pkg/mq"
)

// ProcessedEvent 已消费事件表，event_id 唯一
type ProcessedEvent struct {
	EventID     string    `gorm:"column:event_id;type:varchar(64);primaryKey"`
	EventType   string    `gorm:"column:event_type;type:varchar(100)"`
	AggregateID string    `gorm:"column:aggregate_id;type:varchar(36);index"`
	ProcessedAt time.Time `gorm:"column:processed_at"`
}

// TableName 指定表名
func (ProcessedEvent) TableName() string { return "order_processed_events" }

// Recorder 指标存储写入端
type Recorder interface {
	Record(name string, labels map[string]string, value float64)
}

// OrderEventsHandler 消费订单事件。投递为至少一次，重复的 event_id 直接确认
type OrderEventsHandler struct {
	db       *gorm.DB
	recorder Recorder
}

func NewOrderEventsHandler(db *gorm.DB, recorder Recorder) *OrderEventsHandler {
	return &OrderEventsHandler{db: db, recorder: recorder}
}

// Handle 实现 mq.Handler
func (h *OrderEventsHandler) Handle(ctx context.Context, msg *mq.Message) error {
	eventID := msg.Headers["event_id"]
	eventType := msg.Headers["event_type"]
	if eventID == "" {
		eventID = fmt.Sprintf("%s-%d-%d", msg.Topic, msg.Partition, msg.Offset)
	}

	err := db.Conn(ctx, h.db).Create(&ProcessedEvent{
		EventID:     eventID,
		EventType:   eventType,
		AggregateID: msg.Key,
		ProcessedAt: time.Now(),
	}).Error
	if err != nil {
		if db.IsDuplicateKey(err) {
			logger.Debug(ctx, "duplicate order event skipped", "event_id", eventID)
			return nil
		}
		return err
	}

	switch eventType {
	case domain.EventTypeOrderCreated:
		var ev domain.OrderCreatedEvent
		if err := msg.UnmarshalPayload(&ev); err != nil {
			return h.poison(ctx, eventID, err)
		}
		var units int64
		for _, it := range ev.Items {
			units += it.Quantity
		}
		h.recorder.Record("orders_created", nil, 1)
		h.recorder.Record("order_units", nil, float64(units))
		h.recorder.Record("order_amount", nil, ev.TotalAmount.InexactFloat64())
	case domain.EventTypeOrderStatusChanged:
		var ev domain.OrderStatusChangedEvent
		if err := msg.UnmarshalPayload(&ev); err != nil {
			return h.poison(ctx, eventID, err)
		}
		h.recorder.Record("order_status_changed", map[string]string{"to": string(ev.To)}, 1)
	default:
		logger.Warn(ctx, "unknown order event type", "event_id", eventID, "event_type", eventType)
	}
	return nil
}

// poison 无法解析的消息记录后确认，避免阻塞分区
func (h *OrderEventsHandler) poison(ctx context.Context, eventID string, err error) error {
	logger.Error(ctx, "undecodable order event dropped", "event_id", eventID, "error", err)
	return nil
}

// Run 持续消费直到 ctx 取消
func (h *OrderEventsHandler) Run(ctx context.Context, consumer *mq.KafkaConsumer) error {
	err := consumer.Consume(ctx, h.Handle)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// AutoMigrate 创建去重表
func AutoMigrate(d *gorm.DB) error {
	return d.AutoMigrate(&ProcessedEvent{})
}
