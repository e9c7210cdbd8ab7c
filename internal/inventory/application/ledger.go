// Package application 库存台账：原子条件扣减、补偿回补与对账升级
package application

import (
	"context"
	"fmt"

	"github.com/wyfcoding/onlinestore/internal/inventory/domain"
	"github.com/wyfcoding/onlinestore/pkg/apperr"
	"github.com/wyfcoding/onlinestore/pkg/logger"
)

// TagInvalidator 库存变化后失效商品缓存
type TagInvalidator interface {
	InvalidateTag(ctx context.Context, tag string) error
}

// CompensationObserver 补偿失败的观察者（指标计数等）
type CompensationObserver interface {
	CompensationFailed(productID string)
}

// ProductTag 商品可用量视图的缓存 tag
func ProductTag(productID string) string {
	return "product:" + productID
}

// Ledger 库存台账，是 Stock 记录的唯一写入者。
// 并发正确性完全依赖仓储的单语句条件更新，不持有应用层锁
type Ledger struct {
	repo     domain.StockRepository
	recon    domain.ReconciliationRepository
	cache    TagInvalidator
	observer CompensationObserver
}

// NewLedger 创建库存台账。cache 与 observer 可以为 nil
func NewLedger(repo domain.StockRepository, recon domain.ReconciliationRepository, cache TagInvalidator, observer CompensationObserver) *Ledger {
	return &Ledger{repo: repo, recon: recon, cache: cache, observer: observer}
}

// StockUnknown 扣减已生效但回读失败时返回的库存值
const StockUnknown int64 = -1

// TryDecrement 原子扣减库存，返回扣减后观察到的库存。
// 受影响行数为 1 即视为成功，之后的回读失败只记录告警并返回 StockUnknown；
// 受影响行数为 0 时重新读取以区分库存不足与商品不存在；不做自动重试
func (l *Ledger) TryDecrement(ctx context.Context, productID string, qty int64) (int64, error) {
	if err := validateQuantity(qty); err != nil {
		return 0, err
	}

	affected, err := l.repo.ConditionalDecrement(ctx, productID, qty)
	if err != nil {
		return 0, err
	}

	if affected == 1 {
		current, err := l.repo.Get(context.WithoutCancel(ctx), productID)
		if err != nil || current == nil {
			logger.Warn(ctx, "stock re-read after decrement failed", "product_id", productID, "quantity", qty, "error", err)
			return StockUnknown, nil
		}
		return current.Stock, nil
	}

	current, err := l.repo.Get(ctx, productID)
	if err != nil {
		return 0, err
	}
	if current == nil {
		return 0, apperr.ProductNotFound(productID)
	}
	return 0, apperr.InsufficientStock(productID, qty, current.Stock)
}

// Increment 无条件回补库存。商品不存在时返回 NotFound
func (l *Ledger) Increment(ctx context.Context, productID string, qty int64) (int64, error) {
	if err := validateQuantity(qty); err != nil {
		return 0, err
	}

	affected, err := l.repo.Increment(ctx, productID, qty)
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		return 0, apperr.ProductNotFound(productID)
	}

	current, err := l.repo.Get(ctx, productID)
	if err != nil || current == nil {
		return 0, err
	}
	return current.Stock, nil
}

// Compensate 回滚一次已成功的扣减。任何失败都记录对账单并以 error 级别日志升级，不会被静默丢弃
func (l *Ledger) Compensate(ctx context.Context, productID string, qty int64, reason string) error {
	_, err := l.Increment(ctx, productID, qty)
	if err == nil {
		return nil
	}

	logger.Error(ctx, "stock compensation failed, manual reconciliation required",
		"product_id", productID,
		"quantity", qty,
		"reason", reason,
		"error", err,
	)
	if l.observer != nil {
		l.observer.CompensationFailed(productID)
	}
	if l.recon != nil {
		rec := &domain.Reconciliation{
			ProductID: productID,
			Quantity:  qty,
			Reason:    reason,
			Error:     err.Error(),
		}
		if saveErr := l.recon.Save(context.WithoutCancel(ctx), rec); saveErr != nil {
			logger.Error(ctx, "failed to persist reconciliation record",
				"product_id", productID,
				"quantity", qty,
				"error", saveErr,
			)
		}
	}
	return err
}

// Restock 补货，成功后失效该商品缓存
func (l *Ledger) Restock(ctx context.Context, productID string, qty int64) (int64, error) {
	stock, err := l.Increment(ctx, productID, qty)
	if err != nil {
		return 0, err
	}
	l.invalidate(ctx, productID)
	logger.Info(ctx, "product restocked", "product_id", productID, "quantity", qty, "stock", stock)
	return stock, nil
}

// Available 当前可用库存
func (l *Ledger) Available(ctx context.Context, productID string) (int64, error) {
	s, err := l.repo.Get(ctx, productID)
	if err != nil {
		return 0, err
	}
	if s == nil {
		return 0, apperr.ProductNotFound(productID)
	}
	return s.Stock, nil
}

// Register 为新商品建立库存记录
func (l *Ledger) Register(ctx context.Context, productID string, initial int64) error {
	if initial < 0 {
		return apperr.Validation("invalid_stock", "initial stock must not be negative")
	}
	return l.repo.Create(ctx, &domain.Stock{ProductID: productID, Stock: initial})
}

// OpenReconciliations 待人工处理的对账记录
func (l *Ledger) OpenReconciliations(ctx context.Context, limit int) ([]*domain.Reconciliation, error) {
	if l.recon == nil {
		return nil, nil
	}
	return l.recon.ListOpen(ctx, limit)
}

// ResolveReconciliation 人工处理完成后关闭对账记录
func (l *Ledger) ResolveReconciliation(ctx context.Context, id uint) error {
	if l.recon == nil {
		return apperr.NotFound("reconciliation_not_found", fmt.Sprintf("reconciliation %d not found", id))
	}
	ok, err := l.recon.MarkResolved(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("reconciliation_not_found", fmt.Sprintf("reconciliation %d not found or already resolved", id))
	}
	logger.Info(ctx, "stock reconciliation resolved", "reconciliation_id", id)
	return nil
}

func (l *Ledger) invalidate(ctx context.Context, productID string) {
	if l.cache == nil {
		return
	}
	if err := l.cache.InvalidateTag(ctx, ProductTag(productID)); err != nil {
		logger.Warn(ctx, "product cache invalidation failed", "product_id", productID, "error", err)
	}
}

func validateQuantity(qty int64) error {
	if qty <= 0 {
		return apperr.Validation("invalid_quantity", "quantity must be positive")
	}
	return nil
}
