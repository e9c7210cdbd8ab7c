package application

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"

	"github.com/wyfcoding/onlinestore/internal/order/domain"
	"github.com/wyfcoding/onlinestore/pkg/apperr"
	"github.com/wyfcoding/onlinestore/pkg/logger"
)

// OrderCommandService 处理订单状态流转：支付、取消、失败
type OrderCommandService struct {
	repo      domain.OrderRepository
	events    domain.EventPublisher
	tx        TxManager
	inventory Inventory
	cache     CacheInvalidator
	clock     clockwork.Clock
}

// NewOrderCommandService 创建新的 OrderCommandService 实例。cache 可以为 nil
func NewOrderCommandService(repo domain.OrderRepository, events domain.EventPublisher, tx TxManager, inventory Inventory, cache CacheInvalidator, clock clockwork.Clock) *OrderCommandService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &OrderCommandService{
		repo:      repo,
		events:    events,
		tx:        tx,
		inventory: inventory,
		cache:     cache,
		clock:     clock,
	}
}

// Pay 标记为已支付，库存保持扣减状态
func (s *OrderCommandService) Pay(ctx context.Context, orderID string) (*domain.Order, error) {
	return s.transition(ctx, orderID, domain.StatusPaid, "paid")
}

// Cancel 取消订单并释放库存
func (s *OrderCommandService) Cancel(ctx context.Context, orderID, reason string) (*domain.Order, error) {
	return s.transition(ctx, orderID, domain.StatusCancelled, reason)
}

// MarkFailed 标记为失败（如支付失败）并释放库存
func (s *OrderCommandService) MarkFailed(ctx context.Context, orderID, reason string) (*domain.Order, error) {
	return s.transition(ctx, orderID, domain.StatusFailed, reason)
}

// transition 在单个事务内完成状态条件更新、库存释放与状态变更事件落库。
// 订单已处于目标状态时视为幂等成功
func (s *OrderCommandService) transition(ctx context.Context, orderID string, to domain.OrderStatus, reason string) (*domain.Order, error) {
	var (
		result  *domain.Order
		changed bool
	)
	err := s.tx.Transaction(ctx, func(txCtx context.Context) error {
		order, err := s.repo.Get(txCtx, orderID)
		if err != nil {
			return err
		}
		if order == nil {
			return apperr.NotFound("order_not_found", fmt.Sprintf("order %s not found", orderID))
		}
		if order.Status == to {
			result = order
			return nil
		}
		if !domain.CanTransition(order.Status, to) {
			return apperr.Conflict("invalid_transition", fmt.Sprintf("order %s cannot move from %s to %s", orderID, order.Status, to))
		}

		from := order.Status
		ok, err := s.repo.UpdateStatus(txCtx, orderID, from, to)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Conflict("concurrent_transition", fmt.Sprintf("order %s was modified concurrently", orderID))
		}

		if releasesStock(to) {
			for _, item := range order.Items {
				if _, err := s.inventory.Increment(txCtx, item.ProductID, item.Quantity); err != nil {
					return fmt.Errorf("release stock for %s: %w", item.ProductID, err)
				}
			}
		}

		now := s.clock.Now()
		if err := s.events.PublishOrderStatusChanged(txCtx, domain.OrderStatusChangedEvent{
			OrderID:   orderID,
			From:      from,
			To:        to,
			Reason:    reason,
			Timestamp: now,
		}); err != nil {
			return err
		}

		order.Status = to
		order.UpdatedAt = now
		result = order
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		logger.Info(ctx, "order status changed", "order_id", orderID, "status", to, "reason", reason)
		if releasesStock(to) {
			s.invalidate(ctx, result)
		}
	}
	return result, nil
}

func releasesStock(to domain.OrderStatus) bool {
	return to == domain.StatusCancelled || to == domain.StatusFailed
}

func (s *OrderCommandService) invalidate(ctx context.Context, order *domain.Order) {
	if s.cache == nil {
		return
	}
	for _, pid := range order.ProductIDs() {
		if err := s.cache.InvalidateTag(context.WithoutCancel(ctx), ProductTag(pid)); err != nil {
			logger.Warn(ctx, "product cache invalidation failed", "product_id", pid, "error", err)
		}
	}
}
