package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/wyfcoding/onlinestore/internal/inventory/application"
	"github.com/wyfcoding/onlinestore/internal/inventory/domain"
	"github.com/wyfcoding/onlinestore/pkg/response"
)

// InventoryHandler 库存运维 HTTP 处理器：补偿失败后的人工对账
type InventoryHandler struct {
	ledger *application.Ledger
}

func NewInventoryHandler(ledger *application.Ledger) *InventoryHandler {
	return &InventoryHandler{ledger: ledger}
}

// RegisterRoutes 注册路由
func (h *InventoryHandler) RegisterRoutes(router *gin.RouterGroup) {
	api := router.Group("/api/v1/inventory")
	{
		api.GET("/reconciliations", h.ListReconciliations)
		api.POST("/reconciliations/:id/resolve", h.ResolveReconciliation)
	}
}

// ListReconciliations 待人工处理的对账记录
func (h *InventoryHandler) ListReconciliations(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		limit = 50
	}
	open, err := h.ledger.OpenReconciliations(c.Request.Context(), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	if open == nil {
		open = []*domain.Reconciliation{}
	}
	response.Success(c, open)
}

// ResolveReconciliation 标记对账记录已处理
func (h *InventoryHandler) ResolveReconciliation(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid reconciliation id", "invalid_request")
		return
	}
	if err := h.ledger.ResolveReconciliation(c.Request.Context(), uint(id)); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"id": id, "resolved": true})
}
