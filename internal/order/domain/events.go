package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventTypeOrderCreated       = "OrderCreated"
	EventTypeOrderStatusChanged = "OrderStatusChanged"
)

// OrderCreatedEvent 订单创建事件，投递语义为至少一次，消费方按 OrderID 去重
type OrderCreatedEvent struct {
	OrderID     string          `json:"order_id"`
	Items       []Item          `json:"items"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Timestamp   time.Time       `json:"timestamp"`
}

// OrderStatusChangedEvent 订单状态变更事件
type OrderStatusChangedEvent struct {
	OrderID   string      `json:"order_id"`
	From      OrderStatus `json:"from"`
	To        OrderStatus `json:"to"`
	Reason    string      `json:"reason,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}
