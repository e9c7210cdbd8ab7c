// Package domain 包含订单服务的领域模型
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wyfcoding/onlinestore/pkg/apperr"
)

// OrderStatus 订单状态
type OrderStatus string

const (
	StatusCreated   OrderStatus = "CREATED"
	StatusPaid      OrderStatus = "PAID"
	StatusCancelled OrderStatus = "CANCELLED"
	StatusFailed    OrderStatus = "FAILED"
)

// transitions 合法的状态迁移表，终态没有出边
var transitions = map[OrderStatus][]OrderStatus{
	StatusCreated:   {StatusPaid, StatusCancelled, StatusFailed},
	StatusPaid:      nil,
	StatusCancelled: nil,
	StatusFailed:    nil,
}

// CanTransition 判断 from -> to 是否合法
func CanTransition(from, to OrderStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal 是否终态
func (s OrderStatus) IsTerminal() bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

// Item 订单行
type Item struct {
	ProductID string          `json:"product_id"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Subtotal 行小计
func (i Item) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(i.Quantity))
}

// Order 订单实体
type Order struct {
	OrderID        string          `json:"order_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	Status         OrderStatus     `json:"status"`
	Items          []Item          `json:"items"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// ValidateItems 校验订单行：非空，数量为正，单价非负
func ValidateItems(items []Item) error {
	if len(items) == 0 {
		return apperr.Validation("empty_items", "order must contain at least one item")
	}
	for i, it := range items {
		if strings.TrimSpace(it.ProductID) == "" {
			return apperr.Validation("invalid_product", fmt.Sprintf("item %d: product_id is required", i))
		}
		if it.Quantity <= 0 {
			return apperr.Validation("invalid_quantity", fmt.Sprintf("item %d: quantity must be positive", i))
		}
		if it.UnitPrice.IsNegative() {
			return apperr.Validation("invalid_price", fmt.Sprintf("item %d: unit_price must not be negative", i))
		}
	}
	return nil
}

// NewOrder 创建订单，总金额等于各行小计之和
func NewOrder(orderID, idempotencyKey string, items []Item, now time.Time) *Order {
	total := decimal.Zero
	copied := make([]Item, len(items))
	for i, it := range items {
		copied[i] = it
		total = total.Add(it.Subtotal())
	}
	return &Order{
		OrderID:        orderID,
		IdempotencyKey: idempotencyKey,
		Status:         StatusCreated,
		Items:          copied,
		TotalAmount:    total,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// RequestHash 订单行的规范化摘要，用于识别同一幂等键下载荷不一致的请求
func RequestHash(items []Item) string {
	h := sha256.New()
	for _, it := range items {
		fmt.Fprintf(h, "%s|%d|%s;", it.ProductID, it.Quantity, it.UnitPrice.String())
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ProductIDs 订单涉及的去重商品 ID，保持首次出现的顺序
func (o *Order) ProductIDs() []string {
	seen := make(map[string]struct{}, len(o.Items))
	ids := make([]string, 0, len(o.Items))
	for _, it := range o.Items {
		if _, ok := seen[it.ProductID]; ok {
			continue
		}
		seen[it.ProductID] = struct{}{}
		ids = append(ids, it.ProductID)
	}
	return ids
}
