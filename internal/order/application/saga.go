package application

import (
	"context"

	"github.com/wyfcoding/onlinestore/internal/order/domain"
	"github.com/wyfcoding/onlinestore/pkg/db"
	"github.com/wyfcoding/onlinestore/pkg/logger"
)

// reservation 一次已成功的库存扣减
type reservation struct {
	productID string
	quantity  int64
}

// reservationSaga 逐行扣减库存并记录已生效的扣减，失败时按相反顺序补偿。
// 每次扣减都是独立提交的单条条件更新，不跨网络调用持有事务
type reservationSaga struct {
	inventory Inventory
	policy    db.RetryPolicy
	orderID   string
	applied   []reservation
}

func newReservationSaga(inventory Inventory, policy db.RetryPolicy, orderID string) *reservationSaga {
	return &reservationSaga{inventory: inventory, policy: policy, orderID: orderID}
}

// reserve 扣减一行，瞬时错误按策略重试
func (s *reservationSaga) reserve(ctx context.Context, item domain.Item) error {
	_, err := db.Retry(ctx, s.policy, func(ctx context.Context) (int64, error) {
		return s.inventory.TryDecrement(ctx, item.ProductID, item.Quantity)
	})
	if err != nil {
		return err
	}
	s.applied = append(s.applied, reservation{productID: item.ProductID, quantity: item.Quantity})
	return nil
}

// compensate 回滚全部已生效扣减，返回失败条数。失败项已由台账记录对账单
func (s *reservationSaga) compensate(ctx context.Context) int {
	failed := 0
	for i := len(s.applied) - 1; i >= 0; i-- {
		r := s.applied[i]
		if err := s.inventory.Compensate(ctx, r.productID, r.quantity, "order "+s.orderID+" rollback"); err != nil {
			failed++
		}
	}
	if n := len(s.applied); n > 0 {
		logger.Info(ctx, "stock reservations compensated", "order_id", s.orderID, "count", n, "failed", failed)
	}
	s.applied = nil
	return failed
}
