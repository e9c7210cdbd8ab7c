// Package mysql 商品仓储的 GORM 实现
package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/wyfcoding/onlinestore/internal/catalog/domain"
	"github.com/wyfcoding/onlinestore/pkg/db"
)

// ProductModel 商品表映射
type ProductModel struct {
	ID          uint            `gorm:"primaryKey;autoIncrement"`
	CreatedAt   time.Time       `gorm:"column:created_at"`
	UpdatedAt   time.Time       `gorm:"column:updated_at"`
	ProductID   string          `gorm:"column:product_id;type:varchar(64);uniqueIndex;not null"`
	Name        string          `gorm:"column:name;type:varchar(255);not null"`
	Description string          `gorm:"column:description;type:text"`
	Price       decimal.Decimal `gorm:"column:price;type:decimal(20,4);not null"`
	Category    string          `gorm:"column:category;type:varchar(100);index"`
}

func (ProductModel) TableName() string { return "products" }

type productRepository struct{ db *gorm.DB }

func NewProductRepository(db *gorm.DB) domain.ProductRepository {
	return &productRepository{db: db}
}

// Save 按 product_id upsert
func (r *productRepository) Save(ctx context.Context, product *domain.Product) error {
	m := &ProductModel{
		ProductID:   product.ProductID,
		Name:        product.Name,
		Description: product.Description,
		Price:       product.Price,
		Category:    product.Category,
	}
	err := db.Conn(ctx, r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "product_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "description", "price", "category", "updated_at"}),
	}).Create(m).Error
	if err != nil {
		return fmt.Errorf("failed to save product: %w", err)
	}
	product.CreatedAt = m.CreatedAt
	product.UpdatedAt = m.UpdatedAt
	return nil
}

func (r *productRepository) Get(ctx context.Context, productID string) (*domain.Product, error) {
	var m ProductModel
	if err := db.Conn(ctx, r.db).Where("product_id = ?", productID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return toProduct(&m), nil
}

func (r *productRepository) List(ctx context.Context, category string, offset, limit int) ([]*domain.Product, int64, error) {
	var (
		models []ProductModel
		total  int64
	)
	scope := func() *gorm.DB {
		q := db.Conn(ctx, r.db).Model(&ProductModel{})
		if category != "" {
			q = q.Where("category = ?", category)
		}
		return q
	}
	if err := scope().Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count products: %w", err)
	}
	if err := scope().Order("product_id").Offset(offset).Limit(limit).Find(&models).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list products: %w", err)
	}
	products := make([]*domain.Product, len(models))
	for i := range models {
		products[i] = toProduct(&models[i])
	}
	return products, total, nil
}

func toProduct(m *ProductModel) *domain.Product {
	return &domain.Product{
		ProductID:   m.ProductID,
		Name:        m.Name,
		Description: m.Description,
		Price:       m.Price,
		Category:    m.Category,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

// AutoMigrate 创建商品表
func AutoMigrate(d *gorm.DB) error {
	return d.AutoMigrate(&ProductModel{})
}
