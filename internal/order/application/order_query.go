package application

import (
	"context"
	"fmt"

	"github.com/wyfcoding/onlinestore/internal/order/domain"
	"github.com/wyfcoding/onlinestore/pkg/apperr"
)

// OrderQueryService 订单查询
type OrderQueryService struct {
	repo domain.OrderRepository
}

func NewOrderQueryService(repo domain.OrderRepository) *OrderQueryService {
	return &OrderQueryService{repo: repo}
}

// GetOrder 按订单 ID 查询
func (q *OrderQueryService) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	order, err := q.repo.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, apperr.NotFound("order_not_found", fmt.Sprintf("order %s not found", orderID))
	}
	return order, nil
}

// GetByIdempotencyKey 按幂等键查询订单
func (q *OrderQueryService) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	rec, err := q.repo.FindIdempotency(ctx, key)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, apperr.NotFound("order_not_found", "no order for idempotency key")
	}
	return q.GetOrder(ctx, rec.OrderID)
}
