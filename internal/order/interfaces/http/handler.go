package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/wyfcoding/onlinestore/internal/order/application"
	"github.com/wyfcoding/onlinestore/internal/order/domain"
	"github.com/wyfcoding/onlinestore/pkg/response"
)

const (
	// IdempotencyKeyHeader 客户端幂等键
	IdempotencyKeyHeader = "Idempotency-Key"
	// ReplayedHeader 命中幂等索引时返回
	ReplayedHeader = "Idempotent-Replayed"
)

// OrderHandler HTTP 处理器
// 负责处理与订单相关的 HTTP 请求
type OrderHandler struct {
	orchestrator *application.Orchestrator
	cmd          *application.OrderCommandService
	query        *application.OrderQueryService
}

// NewOrderHandler 创建 HTTP 处理器实例
func NewOrderHandler(orchestrator *application.Orchestrator, cmd *application.OrderCommandService, query *application.OrderQueryService) *OrderHandler {
	return &OrderHandler{orchestrator: orchestrator, cmd: cmd, query: query}
}

// RegisterRoutes 注册路由
func (h *OrderHandler) RegisterRoutes(router *gin.RouterGroup) {
	api := router.Group("/api/v1/orders")
	{
		api.POST("", h.CreateOrder)              // 创建订单
		api.GET("/:id", h.GetOrder)              // 获取订单详情
		api.POST("/:id/pay", h.PayOrder)         // 支付
		api.POST("/:id/cancel", h.CancelOrder)   // 取消并释放库存
		api.POST("/:id/fail", h.MarkOrderFailed) // 标记失败并释放库存
	}
}

// ItemRequest 订单行
type ItemRequest struct {
	ProductID string          `json:"product_id"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// CreateOrderRequest 创建订单请求
type CreateOrderRequest struct {
	Items []ItemRequest `json:"items"`
	// TimeoutMS 可选的调用方超时（毫秒）
	TimeoutMS int64 `json:"timeout_ms"`
}

// ReasonRequest 取消/失败原因
type ReasonRequest struct {
	Reason string `json:"reason"`
}

// CreateOrder 创建订单。首次创建返回 201，幂等回放返回 200 并带 Idempotent-Replayed 头
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error(), "invalid_request")
		return
	}

	items := make([]domain.Item, len(req.Items))
	for i, it := range req.Items {
		items[i] = domain.Item{ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: it.UnitPrice}
	}

	res, err := h.orchestrator.CreateOrder(c.Request.Context(), application.CreateOrderCommand{
		IdempotencyKey: c.GetHeader(IdempotencyKeyHeader),
		Items:          items,
		Timeout:        time.Duration(req.TimeoutMS) * time.Millisecond,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	if res.Replayed {
		c.Header(ReplayedHeader, "true")
		response.Success(c, res.Order)
		return
	}
	response.SuccessWithStatus(c, http.StatusCreated, res.Order)
}

// GetOrder 获取订单
func (h *OrderHandler) GetOrder(c *gin.Context) {
	order, err := h.query.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, order)
}

// PayOrder 支付订单
func (h *OrderHandler) PayOrder(c *gin.Context) {
	order, err := h.cmd.Pay(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, order)
}

// CancelOrder 取消订单
func (h *OrderHandler) CancelOrder(c *gin.Context) {
	var req ReasonRequest
	_ = c.ShouldBindJSON(&req)
	order, err := h.cmd.Cancel(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, order)
}

// MarkOrderFailed 标记订单失败
func (h *OrderHandler) MarkOrderFailed(c *gin.Context) {
	var req ReasonRequest
	_ = c.ShouldBindJSON(&req)
	order, err := h.cmd.MarkFailed(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, order)
}
