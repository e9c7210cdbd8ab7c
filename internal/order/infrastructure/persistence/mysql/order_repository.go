// Package mysql 提供了订单仓储接口的 GORM 实现
package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/wyfcoding/onlinestore/internal/order/domain"
	"github.com/wyfcoding/onlinestore/pkg/db"
	"github.com/wyfcoding/onlinestore/pkg/logger"
)

// orderRepositoryImpl 是 domain.OrderRepository 接口的 GORM 实现
type orderRepositoryImpl struct {
	db *gorm.DB
}

// NewOrderRepository 创建订单仓储实例
func NewOrderRepository(db *gorm.DB) domain.OrderRepository {
	return &orderRepositoryImpl{db: db}
}

// Save 实现 domain.OrderRepository.Save，订单行随订单一起插入
func (r *orderRepositoryImpl) Save(ctx context.Context, order *domain.Order) error {
	model := toOrderModel(order)
	if err := db.Conn(ctx, r.db).Create(model).Error; err != nil {
		logger.Error(ctx, "order_repository.save failed", "order_id", order.OrderID, "error", err)
		return fmt.Errorf("failed to save order: %w", err)
	}
	order.CreatedAt = model.CreatedAt
	order.UpdatedAt = model.UpdatedAt
	return nil
}

// Get 实现 domain.OrderRepository.Get
func (r *orderRepositoryImpl) Get(ctx context.Context, orderID string) (*domain.Order, error) {
	var model OrderModel
	err := db.Conn(ctx, r.db).
		Preload("Items", func(tx *gorm.DB) *gorm.DB { return tx.Order("line_no") }).
		Where("order_id = ?", orderID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.Error(ctx, "order_repository.get failed", "order_id", orderID, "error", err)
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return toOrder(&model), nil
}

// UpdateStatus 实现 domain.OrderRepository.UpdateStatus
func (r *orderRepositoryImpl) UpdateStatus(ctx context.Context, orderID string, from, to domain.OrderStatus) (bool, error) {
	res := db.Conn(ctx, r.db).Model(&OrderModel{}).
		Where("order_id = ? AND status = ?", orderID, string(from)).
		Updates(map[string]any{
			"status":     string(to),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		logger.Error(ctx, "order_repository.update_status failed", "order_id", orderID, "error", res.Error)
		return false, fmt.Errorf("failed to update order status: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// SaveIdempotency 实现 domain.OrderRepository.SaveIdempotency
func (r *orderRepositoryImpl) SaveIdempotency(ctx context.Context, rec *domain.IdempotencyRecord) error {
	model := &IdempotencyModel{
		IdempotencyKey: rec.Key,
		OrderID:        rec.OrderID,
		RequestHash:    rec.RequestHash,
		CreatedAt:      rec.CreatedAt,
	}
	if err := db.Conn(ctx, r.db).Create(model).Error; err != nil {
		return fmt.Errorf("failed to save idempotency key: %w", err)
	}
	return nil
}

// FindIdempotency 实现 domain.OrderRepository.FindIdempotency
func (r *orderRepositoryImpl) FindIdempotency(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	var model IdempotencyModel
	if err := db.Conn(ctx, r.db).Where("idempotency_key = ?", key).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find idempotency key: %w", err)
	}
	return &domain.IdempotencyRecord{
		Key:         model.IdempotencyKey,
		OrderID:     model.OrderID,
		RequestHash: model.RequestHash,
		CreatedAt:   model.CreatedAt,
	}, nil
}

// AutoMigrate 创建订单相关表
func AutoMigrate(d *gorm.DB) error {
	return d.AutoMigrate(&OrderModel{}, &OrderItemModel{}, &IdempotencyModel{})
}
