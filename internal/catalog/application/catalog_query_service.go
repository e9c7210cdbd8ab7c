package application

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wyfcoding/onlinestore/internal/catalog/domain"
	"github.com/wyfcoding/onlinestore/pkg/apperr"
	"github.com/wyfcoding/onlinestore/pkg/cache"
	"github.com/wyfcoding/onlinestore/pkg/logger"
)

// ListTag 所有商品列表缓存共享的 tag
const ListTag = "products"

const maxPageSize = 100

// ProductTag 单个商品可用量视图的缓存 tag，与下单后失效的 tag 一致
func ProductTag(productID string) string {
	return "product:" + productID
}

// ProductPage 分页结果
type ProductPage struct {
	Items []*domain.Availability `json:"items"`
	Total int64                  `json:"total"`
	Page  int                    `json:"page"`
	Size  int                    `json:"size"`
}

// CatalogQueryService 商品目录查询服务，读路径经过二级缓存
type CatalogQueryService struct {
	repo  domain.ProductRepository
	stock StockRegistry
	cache *cache.Cache
	ttl   time.Duration
}

// NewCatalogQueryService 创建商品目录查询服务实例
func NewCatalogQueryService(repo domain.ProductRepository, stock StockRegistry, c *cache.Cache, ttl time.Duration) *CatalogQueryService {
	return &CatalogQueryService{repo: repo, stock: stock, cache: c, ttl: ttl}
}

// GetProduct 商品可用量视图
func (s *CatalogQueryService) GetProduct(ctx context.Context, productID string) (*domain.Availability, error) {
	key := "product:" + productID
	return cache.GetOrLoad(ctx, s.cache, key, s.ttl, []string{ProductTag(productID), ListTag},
		func(ctx context.Context) (*domain.Availability, error) {
			return s.load(ctx, productID)
		})
}

func (s *CatalogQueryService) load(ctx context.Context, productID string) (*domain.Availability, error) {
	p, err := s.repo.Get(ctx, productID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, apperr.ProductNotFound(productID)
	}
	stock, err := s.stock.Available(ctx, productID)
	if err != nil {
		if apperr.KindOf(err) != apperr.KindNotFound {
			return nil, err
		}
		stock = 0
	}
	return domain.NewAvailability(p, stock), nil
}

// ListProducts 分页列出商品。结果带上每个商品的 tag，任一商品库存变化都会使该页失效
func (s *CatalogQueryService) ListProducts(ctx context.Context, category string, page, size int) (*ProductPage, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 || size > maxPageSize {
		size = 20
	}
	key := fmt.Sprintf("products:list:%s:%d:%d", category, page, size)

	if raw, ok := s.cache.Get(ctx, key); ok {
		var cached ProductPage
		if err := json.Unmarshal(raw, &cached); err == nil {
			return &cached, nil
		}
		s.cache.Delete(ctx, key)
	}

	products, total, err := s.repo.List(ctx, category, (page-1)*size, size)
	if err != nil {
		return nil, err
	}
	result := &ProductPage{Items: make([]*domain.Availability, 0, len(products)), Total: total, Page: page, Size: size}
	tags := make([]string, 0, len(products)+1)
	tags = append(tags, ListTag)
	for _, p := range products {
		stock, err := s.stock.Available(ctx, p.ProductID)
		if err != nil && apperr.KindOf(err) != apperr.KindNotFound {
			return nil, err
		}
		result.Items = append(result.Items, domain.NewAvailability(p, stock))
		tags = append(tags, ProductTag(p.ProductID))
	}

	raw, err := json.Marshal(result)
	if err != nil {
		logger.Warn(ctx, "product page unencodable, skip cache", "error", err)
		return result, nil
	}
	s.cache.Set(ctx, key, raw, s.ttl, tags...)
	return result, nil
}
