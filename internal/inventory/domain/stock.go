// Package domain 包含库存台账的领域模型
package domain

import (
	"context"
	"time"
)

// Stock 商品库存记录。stock 永不为负，每次成功扣减 version 加一
type Stock struct {
	ProductID string
	Stock     int64
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StockRepository 库存仓储接口，所有变更都是单条原子语句
type StockRepository interface {
	// ConditionalDecrement 仅当 stock >= qty 时扣减，返回受影响行数
	ConditionalDecrement(ctx context.Context, productID string, qty int64) (int64, error)
	// Increment 无条件增加，返回受影响行数，记录不存在时为 0
	Increment(ctx context.Context, productID string, qty int64) (int64, error)
	// Get 读取库存，不存在时返回 nil, nil
	Get(ctx context.Context, productID string) (*Stock, error)
	// Create 新建库存记录
	Create(ctx context.Context, stock *Stock) error
}

// Reconciliation 补偿失败后需要人工对账的记录
type Reconciliation struct {
	ID        uint      `json:"id"`
	ProductID string    `json:"product_id"`
	Quantity  int64     `json:"quantity"`
	Reason    string    `json:"reason"`
	Error     string    `json:"error"`
	Resolved  bool      `json:"resolved"`
	CreatedAt time.Time `json:"created_at"`
}

// ReconciliationRepository 对账记录仓储
type ReconciliationRepository interface {
	Save(ctx context.Context, r *Reconciliation) error
	ListOpen(ctx context.Context, limit int) ([]*Reconciliation, error)
	// MarkResolved 关闭一条未处理的记录，记录不存在或已关闭时返回 false
	MarkResolved(ctx context.Context, id uint) (bool, error)
}
