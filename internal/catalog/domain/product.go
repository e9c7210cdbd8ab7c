// Package domain 商品目录领域模型
package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wyfcoding/onlinestore/pkg/apperr"
)

// Product 商品
type Product struct {
	ProductID   string          `json:"product_id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Category    string          `json:"category,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Validate 商品字段校验
func (p *Product) Validate() error {
	if strings.TrimSpace(p.ProductID) == "" {
		return apperr.Validation("invalid_product", "product_id is required")
	}
	if len(p.ProductID) > 64 {
		return apperr.Validation("invalid_product", "product_id longer than 64")
	}
	if strings.TrimSpace(p.Name) == "" {
		return apperr.Validation("invalid_name", "name is required")
	}
	if p.Price.IsNegative() {
		return apperr.Validation("invalid_price", "price must not be negative")
	}
	return nil
}

// Availability 商品可用量视图：商品信息 + 当前库存
type Availability struct {
	Product
	Stock     int64 `json:"stock"`
	Available bool  `json:"available"`
}

// NewAvailability 构造可用量视图
func NewAvailability(p *Product, stock int64) *Availability {
	return &Availability{Product: *p, Stock: stock, Available: stock > 0}
}
