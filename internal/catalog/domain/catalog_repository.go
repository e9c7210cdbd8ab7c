package domain

import "context"

// ProductRepository 商品仓储
type ProductRepository interface {
	Save(ctx context.Context, product *Product) error
	// Get 不存在时返回 nil, nil
	Get(ctx context.Context, productID string) (*Product, error)
	List(ctx context.Context, category string, offset, limit int) ([]*Product, int64, error)
}
