package application

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/wyfcoding/onlinestore/internal/catalog/domain"
	"github.com/wyfcoding/onlinestore/pkg/apperr"
	"github.com/wyfcoding/onlinestore/pkg/db"
	"github.com/wyfcoding/onlinestore/pkg/logger"
)

// CreateProductCommand 创建商品命令
type CreateProductCommand struct {
	ProductID    string
	Name         string
	Description  string
	Price        decimal.Decimal
	Category     string
	InitialStock int64
}

// UpdateProductCommand 更新商品命令，库存只能通过 Restock 与下单流程变化
type UpdateProductCommand struct {
	ProductID   string
	Name        string
	Description string
	Price       decimal.Decimal
	Category    string
}

// StockRegistry 库存台账在目录侧的依赖
type StockRegistry interface {
	Register(ctx context.Context, productID string, initial int64) error
	Restock(ctx context.Context, productID string, qty int64) (int64, error)
	Available(ctx context.Context, productID string) (int64, error)
}

// TxManager 事务管理
type TxManager interface {
	Transaction(ctx context.Context, fn func(txCtx context.Context) error) error
}

// Invalidator 缓存失效
type Invalidator interface {
	InvalidateTag(ctx context.Context, tag string) error
}

// CatalogCommandService 商品目录命令服务
type CatalogCommandService struct {
	repo  domain.ProductRepository
	stock StockRegistry
	tx    TxManager
	cache Invalidator
}

// NewCatalogCommandService 创建商品目录命令服务实例。cache 可以为 nil
func NewCatalogCommandService(repo domain.ProductRepository, stock StockRegistry, tx TxManager, cache Invalidator) *CatalogCommandService {
	return &CatalogCommandService{repo: repo, stock: stock, tx: tx, cache: cache}
}

// CreateProduct 商品与初始库存记录在同一事务内创建
func (s *CatalogCommandService) CreateProduct(ctx context.Context, cmd CreateProductCommand) (*domain.Product, error) {
	product := &domain.Product{
		ProductID:   strings.TrimSpace(cmd.ProductID),
		Name:        cmd.Name,
		Description: cmd.Description,
		Price:       cmd.Price,
		Category:    cmd.Category,
	}
	if err := product.Validate(); err != nil {
		return nil, err
	}
	if cmd.InitialStock < 0 {
		return nil, apperr.Validation("invalid_stock", "initial stock must not be negative")
	}

	err := s.tx.Transaction(ctx, func(txCtx context.Context) error {
		existing, err := s.repo.Get(txCtx, product.ProductID)
		if err != nil {
			return err
		}
		if existing != nil {
			return apperr.Conflict("product_exists", "product "+product.ProductID+" already exists")
		}
		if err := s.repo.Save(txCtx, product); err != nil {
			return err
		}
		return s.stock.Register(txCtx, product.ProductID, cmd.InitialStock)
	})
	if err != nil {
		if db.IsDuplicateKey(err) {
			return nil, apperr.Conflict("product_exists", "product "+product.ProductID+" already exists")
		}
		return nil, err
	}

	s.invalidate(ctx, ListTag)
	logger.Info(ctx, "product created", "product_id", product.ProductID, "initial_stock", cmd.InitialStock)
	return product, nil
}

// UpdateProduct 更新商品描述信息
func (s *CatalogCommandService) UpdateProduct(ctx context.Context, cmd UpdateProductCommand) (*domain.Product, error) {
	existing, err := s.repo.Get(ctx, cmd.ProductID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, apperr.ProductNotFound(cmd.ProductID)
	}

	existing.Name = cmd.Name
	existing.Description = cmd.Description
	existing.Price = cmd.Price
	existing.Category = cmd.Category
	if err := existing.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, existing); err != nil {
		return nil, err
	}

	s.invalidate(ctx, ProductTag(existing.ProductID))
	return existing, nil
}

// Restock 补货，缓存失效由台账负责
func (s *CatalogCommandService) Restock(ctx context.Context, productID string, qty int64) (int64, error) {
	return s.stock.Restock(ctx, productID, qty)
}

func (s *CatalogCommandService) invalidate(ctx context.Context, tag string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateTag(ctx, tag); err != nil {
		logger.Warn(ctx, "catalog cache invalidation failed", "tag", tag, "error", err)
	}
}
