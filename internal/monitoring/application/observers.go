package application

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/wyfcoding/onlinestore/pkg/cache"
	"github.com/wyfcoding/onlinestore/pkg/metrics"
)

// Recorder 指标存储写入端
type Recorder interface {
	Record(name string, labels map[string]string, value float64)
}

// CompensationObserver 库存补偿失败时计数，同时写入指标存储供告警规则使用
type CompensationObserver struct {
	rec     Recorder
	metrics *metrics.Metrics
}

func NewCompensationObserver(rec Recorder, m *metrics.Metrics) *CompensationObserver {
	return &CompensationObserver{rec: rec, metrics: m}
}

// CompensationFailed 实现库存台账的补偿观察者
func (o *CompensationObserver) CompensationFailed(productID string) {
	if o.metrics != nil {
		o.metrics.CompensationFailures.Inc()
	}
	if o.rec != nil {
		o.rec.Record("stock_compensation_failures", map[string]string{"product_id": productID}, 1)
	}
}

// OutboxObserver outbox 转发成功后计数，并写入指标存储
type OutboxObserver struct {
	rec     Recorder
	metrics *metrics.Metrics
}

func NewOutboxObserver(rec Recorder, m *metrics.Metrics) *OutboxObserver {
	return &OutboxObserver{rec: rec, metrics: m}
}

// OutboxPublished 实现 outbox relay 的发布观察者，n 为本批发送条数
func (o *OutboxObserver) OutboxPublished(n int) {
	if n <= 0 {
		return
	}
	if o.metrics != nil {
		o.metrics.OutboxPublished.Add(float64(n))
	}
	if o.rec != nil {
		o.rec.Record("outbox_published", nil, float64(n))
	}
}

// CacheStatsSampler 定期把缓存统计快照写入 Prometheus gauge 与指标存储
type CacheStatsSampler struct {
	source  func() cache.StatsSnapshot
	rec     Recorder
	metrics *metrics.Metrics
	clock   clockwork.Clock
	last    cache.StatsSnapshot
}

// NewCacheStatsSampler source 通常是 (*cache.Cache).Stats
func NewCacheStatsSampler(source func() cache.StatsSnapshot, rec Recorder, m *metrics.Metrics, clock clockwork.Clock) *CacheStatsSampler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &CacheStatsSampler{source: source, rec: rec, metrics: m, clock: clock}
}

// Sample 采样一次。命中率按两次采样之间的增量计算，区间内没有请求时不写入
func (s *CacheStatsSampler) Sample() {
	cur := s.source()
	if s.metrics != nil {
		s.metrics.CacheRequests.WithLabelValues("hits").Set(float64(cur.Hits))
		s.metrics.CacheRequests.WithLabelValues("misses").Set(float64(cur.Misses))
		s.metrics.CacheRequests.WithLabelValues("evictions").Set(float64(cur.Evictions))
		s.metrics.CacheRequests.WithLabelValues("total").Set(float64(cur.TotalRequests))
	}

	requests := cur.TotalRequests - s.last.TotalRequests
	hits := cur.Hits - s.last.Hits
	evictions := cur.Evictions - s.last.Evictions
	s.last = cur
	if s.rec == nil {
		return
	}
	if requests > 0 {
		s.rec.Record("cache_requests", nil, float64(requests))
		s.rec.Record("cache_hit_rate", nil, float64(hits)/float64(requests))
	}
	if evictions > 0 {
		s.rec.Record("cache_evictions", nil, float64(evictions))
	}
}

// Run 按固定间隔采样，直到 ctx 取消
func (s *CacheStatsSampler) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			s.Sample()
		}
	}
}
