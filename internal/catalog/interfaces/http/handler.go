package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/wyfcoding/onlinestore/internal/catalog/application"
	"github.com/wyfcoding/onlinestore/pkg/response"
)

// CatalogHandler 商品目录 HTTP 处理器
type CatalogHandler struct {
	cmd   *application.CatalogCommandService
	query *application.CatalogQueryService
}

func NewCatalogHandler(cmd *application.CatalogCommandService, query *application.CatalogQueryService) *CatalogHandler {
	return &CatalogHandler{cmd: cmd, query: query}
}

// RegisterRoutes 注册路由
func (h *CatalogHandler) RegisterRoutes(router *gin.RouterGroup) {
	api := router.Group("/api/v1/products")
	{
		api.POST("", h.CreateProduct)
		api.GET("", h.ListProducts)
		api.GET("/:id", h.GetProduct)
		api.PUT("/:id", h.UpdateProduct)
		api.POST("/:id/restock", h.Restock)
	}
}

// ProductRequest 创建/更新商品请求
type ProductRequest struct {
	ProductID    string          `json:"product_id"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Price        decimal.Decimal `json:"price"`
	Category     string          `json:"category"`
	InitialStock int64           `json:"initial_stock"`
}

// RestockRequest 补货请求
type RestockRequest struct {
	Quantity int64 `json:"quantity"`
}

func (h *CatalogHandler) CreateProduct(c *gin.Context) {
	var req ProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error(), "invalid_request")
		return
	}
	product, err := h.cmd.CreateProduct(c.Request.Context(), application.CreateProductCommand{
		ProductID:    req.ProductID,
		Name:         req.Name,
		Description:  req.Description,
		Price:        req.Price,
		Category:     req.Category,
		InitialStock: req.InitialStock,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithStatus(c, http.StatusCreated, product)
}

func (h *CatalogHandler) UpdateProduct(c *gin.Context) {
	var req ProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error(), "invalid_request")
		return
	}
	product, err := h.cmd.UpdateProduct(c.Request.Context(), application.UpdateProductCommand{
		ProductID:   c.Param("id"),
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Category:    req.Category,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, product)
}

// GetProduct 商品详情（含库存）
func (h *CatalogHandler) GetProduct(c *gin.Context) {
	view, err := h.query.GetProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, view)
}

// ListProducts 商品列表
func (h *CatalogHandler) ListProducts(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "20"))
	result, err := h.query.ListProducts(c.Request.Context(), c.Query("category"), page, size)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, result)
}

// Restock 补货
func (h *CatalogHandler) Restock(c *gin.Context) {
	var req RestockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error(), "invalid_request")
		return
	}
	stock, err := h.cmd.Restock(c.Request.Context(), c.Param("id"), req.Quantity)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"product_id": c.Param("id"), "stock": stock})
}
