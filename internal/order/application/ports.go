package application

import (
	"context"
)

// Inventory 订单服务对库存台账的依赖
type Inventory interface {
	// TryDecrement 原子扣减，库存不足或商品不存在时返回对应错误
	TryDecrement(ctx context.Context, productID string, qty int64) (int64, error)
	// Increment 回补库存，ctx 中有事务时随事务提交
	Increment(ctx context.Context, productID string, qty int64) (int64, error)
	// Compensate 回滚一次扣减，失败时由台账负责升级对账
	Compensate(ctx context.Context, productID string, qty int64, reason string) error
}

// TxManager 事务管理，fn 内的仓储调用通过 txCtx 共享同一事务
type TxManager interface {
	Transaction(ctx context.Context, fn func(txCtx context.Context) error) error
}

// CacheInvalidator 提交后失效商品缓存
type CacheInvalidator interface {
	InvalidateTag(ctx context.Context, tag string) error
}

// MetricRecorder 指标存储写入端
type MetricRecorder interface {
	Record(name string, labels map[string]string, value float64)
}

// ProductTag 商品可用量视图的缓存 tag
func ProductTag(productID string) string {
	return "product:" + productID
}
