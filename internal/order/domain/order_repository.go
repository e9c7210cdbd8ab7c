package domain

import (
	"context"
	"time"
)

// IdempotencyRecord 幂等索引记录
type IdempotencyRecord struct {
	Key         string
	OrderID     string
	RequestHash string
	CreatedAt   time.Time
}

// OrderRepository 订单仓储接口。写方法通过 ctx 中的事务句柄参与调用方事务
type OrderRepository interface {
	// Save 插入订单及订单行
	Save(ctx context.Context, order *Order) error
	// Get 根据订单 ID 获取订单，不存在时返回 nil, nil
	Get(ctx context.Context, orderID string) (*Order, error)
	// UpdateStatus 条件更新状态，仅当当前状态为 from 时生效，返回是否更新
	UpdateStatus(ctx context.Context, orderID string, from, to OrderStatus) (bool, error)
	// SaveIdempotency 写入幂等索引，键重复时返回唯一约束错误
	SaveIdempotency(ctx context.Context, rec *IdempotencyRecord) error
	// FindIdempotency 查找幂等索引，不存在时返回 nil, nil
	FindIdempotency(ctx context.Context, key string) (*IdempotencyRecord, error)
}

// EventPublisher 事件发布者接口，实现需在调用方事务内落库（outbox）
type EventPublisher interface {
	// PublishOrderCreated 发布订单创建事件
	PublishOrderCreated(ctx context.Context, event OrderCreatedEvent) error
	// PublishOrderStatusChanged 发布订单状态变更事件
	PublishOrderStatusChanged(ctx context.Context, event OrderStatusChangedEvent) error
}
