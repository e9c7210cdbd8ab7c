// Package metrics 提供 Prometheus helper：服务级 HTTP/订单/缓存指标，以及把指标存储样本镜像为 histogram 的 Exporter
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wyfcoding/onlinestore/pkg/logger"
)

const namespace = "onlinestore"

// Metrics 服务级指标集合
type Metrics struct {
	// HTTP 请求计数
	HTTPRequestsTotal *prometheus.CounterVec
	// HTTP 请求耗时
	HTTPRequestDuration *prometheus.HistogramVec

	// 订单创建结果计数（created / replayed / insufficient_stock / ...）
	OrdersTotal *prometheus.CounterVec
	// 订单创建耗时
	OrderCreateDuration prometheus.Histogram
	// 库存补偿失败次数
	CompensationFailures prometheus.Counter

	// 缓存统计，由 Cache.Stats 快照定期刷新
	CacheRequests *prometheus.GaugeVec

	// 告警状态迁移计数
	AlertTransitions *prometheus.CounterVec
	// outbox 已发布消息数
	OutboxPublished prometheus.Counter
}

// New 创建指标实例
func New(serviceName string) *Metrics {
	return &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		OrdersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "orders_total",
			Help:      "Order creation outcomes",
		}, []string{"outcome"}),
		OrderCreateDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "order_create_duration_seconds",
			Help:      "Order creation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		CompensationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "stock_compensation_failures_total",
			Help:      "Stock compensations that require manual reconciliation",
		}),

		CacheRequests: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "cache_requests",
			Help:      "Cache statistics snapshot",
		}, []string{"kind"}),

		AlertTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "alert_transitions_total",
			Help:      "Alert state transitions",
		}, []string{"rule", "to"}),
		OutboxPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "outbox_published_total",
			Help:      "Outbox messages published to the bus",
		}),
	}
}

// Register 注册所有指标
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.OrdersTotal,
		m.OrderCreateDuration,
		m.CompensationFailures,
		m.CacheRequests,
		m.AlertTransitions,
		m.OutboxPublished,
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			logger.Error(context.Background(), "Failed to register metric", "error", err)
			return err
		}
	}

	logger.Info(context.Background(), "Metrics registered successfully")
	return nil
}

// Exporter 将指标存储中的样本镜像为 Prometheus histogram，按样本名懒创建
type Exporter struct {
	reg     prometheus.Registerer
	buckets []float64

	mu   sync.Mutex
	vecs map[string]exportedVec
}

type exportedVec struct {
	labelNames []string
	vec        *prometheus.HistogramVec
}

// NewExporter 创建 Exporter，reg 由调用方注入，测试中使用独立的 Registry
func NewExporter(reg prometheus.Registerer, buckets []float64) *Exporter {
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}
	return &Exporter{reg: reg, buckets: buckets, vecs: make(map[string]exportedVec)}
}

// Observe 记录一个样本。同名样本的 label 键集合必须一致，不一致的样本被丢弃
func (e *Exporter) Observe(name string, labels map[string]string, value float64) {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, sanitize(k))
	}
	sort.Strings(keys)

	e.mu.Lock()
	ev, ok := e.vecs[name]
	if !ok {
		vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      sanitize(name),
			Help:      fmt.Sprintf("Samples recorded for %s", name),
			Buckets:   e.buckets,
		}, keys)
		if err := e.reg.Register(vec); err != nil {
			e.mu.Unlock()
			logger.Warn(context.Background(), "metric export registration failed", "name", name, "error", err)
			return
		}
		ev = exportedVec{labelNames: keys, vec: vec}
		e.vecs[name] = ev
	}
	e.mu.Unlock()

	if !sameKeys(ev.labelNames, keys) {
		logger.Debug(context.Background(), "metric export label set mismatch", "name", name, "want", ev.labelNames, "got", keys)
		return
	}
	pl := make(prometheus.Labels, len(labels))
	for k, v := range labels {
		pl[sanitize(k)] = v
	}
	ev.vec.With(pl).Observe(value)
}

func sameKeys(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// sanitize 把任意名字转换为合法的 Prometheus 名字
func sanitize(name string) string {
	var b strings.Builder
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// NewServer 创建 Prometheus HTTP 服务器，由调用方负责启动与关闭
func NewServer(port int, path string, gatherer prometheus.Gatherer) *http.Server {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	addr := fmt.Sprintf(":%d", port)
	logger.Info(context.Background(), "Prometheus HTTP server configured", "addr", addr, "path", path)
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
