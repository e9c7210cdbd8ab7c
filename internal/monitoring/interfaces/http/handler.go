package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wyfcoding/onlinestore/internal/monitoring/application"
	"github.com/wyfcoding/onlinestore/internal/monitoring/domain"
	"github.com/wyfcoding/onlinestore/pkg/apperr"
	"github.com/wyfcoding/onlinestore/pkg/logger"
	"github.com/wyfcoding/onlinestore/pkg/response"
)

// labelPrefix 查询参数中以 label. 开头的键作为 label 过滤条件
const labelPrefix = "label."

// MonitoringHandler 监控 HTTP 处理器：活动告警、规则、告警历史与指标查询
type MonitoringHandler struct {
	engine  *application.AlertEngine
	store   *application.MetricStore
	archive domain.AlertArchive
	source  domain.RuleSource
}

// NewMonitoringHandler archive 与 source 可以为 nil
func NewMonitoringHandler(engine *application.AlertEngine, store *application.MetricStore, archive domain.AlertArchive, source domain.RuleSource) *MonitoringHandler {
	return &MonitoringHandler{engine: engine, store: store, archive: archive, source: source}
}

// RegisterRoutes 注册路由
func (h *MonitoringHandler) RegisterRoutes(router *gin.RouterGroup) {
	api := router.Group("/api/v1/monitoring")
	{
		api.GET("/alerts", h.ListActive)
		api.GET("/alerts/:rule/history", h.History)
		api.GET("/rules", h.ListRules)
		api.POST("/rules/reload", h.ReloadRules)
		api.GET("/metrics/:name", h.QueryMetric)
	}
}

// RuleView 规则的展示形式
type RuleView struct {
	ID          string            `json:"id"`
	Condition   string            `json:"condition"`
	Labels      map[string]string `json:"labels,omitempty"`
	Aggregation string            `json:"aggregation"`
	Window      string            `json:"window"`
	Comparator  string            `json:"comparator"`
	Threshold   float64           `json:"threshold"`
	For         string            `json:"for"`
	Severity    string            `json:"severity"`
	Enabled     bool              `json:"enabled"`
}

// ListActive 当前未恢复的告警
func (h *MonitoringHandler) ListActive(c *gin.Context) {
	active := h.engine.Active()
	if active == nil {
		active = []domain.AlertEvent{}
	}
	response.Success(c, active)
}

// History 已归档的告警
func (h *MonitoringHandler) History(c *gin.Context) {
	if h.archive == nil {
		response.Success(c, []*domain.AlertEvent{})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	events, err := h.archive.ListByRule(c.Request.Context(), c.Param("rule"), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, events)
}

// ListRules 当前生效的规则
func (h *MonitoringHandler) ListRules(c *gin.Context) {
	rules := h.engine.Rules()
	views := make([]RuleView, len(rules))
	for i, r := range rules {
		views[i] = RuleView{
			ID:          r.ID,
			Condition:   r.Condition(),
			Labels:      r.Labels,
			Aggregation: string(r.Aggregation),
			Window:      r.Window.String(),
			Comparator:  string(r.Comparator),
			Threshold:   r.Threshold,
			For:         r.For.String(),
			Severity:    string(r.Severity),
			Enabled:     r.Enabled,
		}
	}
	response.Success(c, views)
}

// ReloadRules 从规则来源重新加载，失败时保留原规则
func (h *MonitoringHandler) ReloadRules(c *gin.Context) {
	if h.source == nil {
		response.ErrorWithStatus(c, http.StatusNotFound, "no rule source configured", "no_rule_source")
		return
	}
	ctx := c.Request.Context()
	rules, err := h.source.Load(ctx)
	if err == nil {
		err = h.engine.SetRules(ctx, rules)
	}
	if err != nil {
		logger.Warn(ctx, "alert rule reload rejected", "error", err)
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error(), "invalid_rules")
		return
	}
	logger.Info(ctx, "alert rules reloaded", "rules", len(rules))
	response.Success(c, gin.H{"rules": len(rules)})
}

// QueryMetric 滚动窗口聚合，如 GET /api/v1/monitoring/metrics/orders_created?window=5m&label.outcome=created
func (h *MonitoringHandler) QueryMetric(c *gin.Context) {
	window, err := time.ParseDuration(c.DefaultQuery("window", "5m"))
	if err != nil {
		response.Error(c, apperr.Validation("invalid_window", err.Error()))
		return
	}
	labels := make(map[string]string)
	for k, v := range c.Request.URL.Query() {
		if strings.HasPrefix(k, labelPrefix) && len(v) > 0 {
			labels[strings.TrimPrefix(k, labelPrefix)] = v[0]
		}
	}
	agg, err := h.store.Query(c.Request.Context(), c.Param("name"), labels, window)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, agg)
}
