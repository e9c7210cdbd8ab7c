// Package messaging 订单事件的 Outbox 实现：事件与订单在同一事务落库，由 relay 异步投递到 Kafka
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/wyfcoding/onlinestore/internal/order/domain"
	"github.com/wyfcoding/onlinestore/pkg/db"
)

const (
	statusPending = "pending"
	statusSent    = "sent"
)

// OutboxMessage 消息队列
type OutboxMessage struct {
	ID          string    `gorm:"type:varchar(36);primaryKey"`
	EventID     string    `gorm:"type:varchar(36);uniqueIndex"`
	EventType   string    `gorm:"type:varchar(100);index"`
	AggregateID string    `gorm:"type:varchar(36);index"`
	Payload     string    `gorm:"type:text"`
	Status      string    `gorm:"type:varchar(20);index;default:'pending'"`
	Attempts    int       `gorm:"not null;default:0"`
	LastError   string    `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"index"`
	UpdatedAt   time.Time
}

// TableName 指定表名
func (OutboxMessage) TableName() string {
	return "order_outbox_messages"
}

// OutboxEventPublisher 实现 EventPublisher 接口，使用 Outbox 模式
type OutboxEventPublisher struct {
	db *gorm.DB
}

// NewOutboxEventPublisher 创建新的 OutboxEventPublisher 实例
func NewOutboxEventPublisher(db *gorm.DB) *OutboxEventPublisher {
	return &OutboxEventPublisher{db: db}
}

// PublishOrderCreated 发布订单创建事件
func (p *OutboxEventPublisher) PublishOrderCreated(ctx context.Context, event domain.OrderCreatedEvent) error {
	return p.publishEvent(ctx, domain.EventTypeOrderCreated, event.OrderID, event)
}

// PublishOrderStatusChanged 发布订单状态变更事件
func (p *OutboxEventPublisher) PublishOrderStatusChanged(ctx context.Context, event domain.OrderStatusChangedEvent) error {
	return p.publishEvent(ctx, domain.EventTypeOrderStatusChanged, event.OrderID, event)
}

// publishEvent 通用事件发布方法，ctx 中有事务时随事务提交
func (p *OutboxEventPublisher) publishEvent(ctx context.Context, eventType, aggregateID string, event any) error {
	eventData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", eventType, err)
	}

	now := time.Now()
	message := OutboxMessage{
		ID:          uuid.NewString(),
		EventID:     uuid.NewString(),
		EventType:   eventType,
		AggregateID: aggregateID,
		Payload:     string(eventData),
		Status:      statusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return db.Conn(ctx, p.db).Create(&message).Error
}

// AutoMigrate 创建 outbox 表
func AutoMigrate(d *gorm.DB) error {
	return d.AutoMigrate(&OutboxMessage{})
}
