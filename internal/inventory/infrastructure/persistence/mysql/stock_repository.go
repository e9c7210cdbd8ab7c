// Package mysql 提供库存仓储的 GORM 实现，MySQL / PostgreSQL / SQLite 共用同一套语句
package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/wyfcoding/onlinestore/internal/inventory/domain"
	"github.com/wyfcoding/onlinestore/pkg/db"
	"github.com/wyfcoding/onlinestore/pkg/logger"
)

// StockModel 库存表映射
type StockModel struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
	ProductID string    `gorm:"column:product_id;type:varchar(64);uniqueIndex;not null;comment:商品ID"`
	Stock     int64     `gorm:"column:stock;not null;default:0;check:stock >= 0;comment:可用库存"`
	Version   int64     `gorm:"column:version;not null;default:0;comment:乐观锁版本"`
}

// TableName 指定表名
func (StockModel) TableName() string { return "product_stocks" }

// ReconciliationModel 对账记录表映射
type ReconciliationModel struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	CreatedAt time.Time `gorm:"column:created_at;index"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
	ProductID string    `gorm:"column:product_id;type:varchar(64);index;not null"`
	Quantity  int64     `gorm:"column:quantity;not null"`
	Reason    string    `gorm:"column:reason;type:varchar(255);not null"`
	Error     string    `gorm:"column:error;type:text"`
	Resolved  bool      `gorm:"column:resolved;index;not null;default:false"`
}

// TableName 指定表名
func (ReconciliationModel) TableName() string { return "stock_reconciliations" }

type stockRepository struct {
	db *gorm.DB
}

// NewStockRepository 创建库存仓储
func NewStockRepository(db *gorm.DB) domain.StockRepository {
	return &stockRepository{db: db}
}

func (r *stockRepository) ConditionalDecrement(ctx context.Context, productID string, qty int64) (int64, error) {
	res := db.Conn(ctx, r.db).Model(&StockModel{}).
		Where("product_id = ? AND stock >= ?", productID, qty).
		Updates(map[string]any{
			"stock":      gorm.Expr("stock - ?", qty),
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to decrement stock: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *stockRepository) Increment(ctx context.Context, productID string, qty int64) (int64, error) {
	res := db.Conn(ctx, r.db).Model(&StockModel{}).
		Where("product_id = ?", productID).
		Updates(map[string]any{
			"stock":      gorm.Expr("stock + ?", qty),
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to increment stock: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *stockRepository) Get(ctx context.Context, productID string) (*domain.Stock, error) {
	var m StockModel
	if err := db.Conn(ctx, r.db).Where("product_id = ?", productID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.Error(ctx, "stock_repository.get failed", "product_id", productID, "error", err)
		return nil, fmt.Errorf("failed to get stock: %w", err)
	}
	return &domain.Stock{
		ProductID: m.ProductID,
		Stock:     m.Stock,
		Version:   m.Version,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}, nil
}

func (r *stockRepository) Create(ctx context.Context, s *domain.Stock) error {
	m := &StockModel{ProductID: s.ProductID, Stock: s.Stock}
	if err := db.Conn(ctx, r.db).Create(m).Error; err != nil {
		return fmt.Errorf("failed to create stock: %w", err)
	}
	s.Version = m.Version
	s.CreatedAt = m.CreatedAt
	s.UpdatedAt = m.UpdatedAt
	return nil
}

type reconciliationRepository struct {
	db *gorm.DB
}

// NewReconciliationRepository 创建对账记录仓储
func NewReconciliationRepository(db *gorm.DB) domain.ReconciliationRepository {
	return &reconciliationRepository{db: db}
}

func (r *reconciliationRepository) Save(ctx context.Context, rec *domain.Reconciliation) error {
	m := &ReconciliationModel{
		ProductID: rec.ProductID,
		Quantity:  rec.Quantity,
		Reason:    rec.Reason,
		Error:     rec.Error,
	}
	// 对账记录不参与调用方事务，调用方事务回滚时记录仍需保留
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("failed to save reconciliation: %w", err)
	}
	rec.ID = m.ID
	rec.CreatedAt = m.CreatedAt
	return nil
}

func (r *reconciliationRepository) ListOpen(ctx context.Context, limit int) ([]*domain.Reconciliation, error) {
	var models []ReconciliationModel
	if err := r.db.WithContext(ctx).Where("resolved = ?", false).Order("id").Limit(limit).Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list reconciliations: %w", err)
	}
	out := make([]*domain.Reconciliation, len(models))
	for i, m := range models {
		out[i] = &domain.Reconciliation{
			ID:        m.ID,
			ProductID: m.ProductID,
			Quantity:  m.Quantity,
			Reason:    m.Reason,
			Error:     m.Error,
			Resolved:  m.Resolved,
			CreatedAt: m.CreatedAt,
		}
	}
	return out, nil
}

func (r *reconciliationRepository) MarkResolved(ctx context.Context, id uint) (bool, error) {
	res := r.db.WithContext(ctx).Model(&ReconciliationModel{}).Where("id = ? AND resolved = ?", id, false).Update("resolved", true)
	if res.Error != nil {
		return false, fmt.Errorf("failed to resolve reconciliation: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// AutoMigrate 创建库存相关表
func AutoMigrate(d *gorm.DB) error {
	return d.AutoMigrate(&StockModel{}, &ReconciliationModel{})
}
