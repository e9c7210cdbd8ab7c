package application

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/montanaflynn/stats"

	"github.com/wyfcoding/onlinestore/internal/monitoring/domain"
	"github.com/wyfcoding/onlinestore/pkg/apperr"
	"github.com/wyfcoding/onlinestore/pkg/logger"
)

// SampleExporter 样本镜像（Prometheus 等）
type SampleExporter interface {
	Observe(name string, labels map[string]string, value float64)
}

// StoreOptions 指标存储配置
type StoreOptions struct {
	Retention time.Duration
	Clock     clockwork.Clock
	Exporter  SampleExporter
}

// series 同名同 label 的样本序列。samples 只追加，只有 Sweep 会整体替换
type series struct {
	name   string
	labels map[string]string

	mu      sync.Mutex
	samples []domain.Sample
	dead    bool
}

// snapshot 取当前样本切片头。已追加的元素不会再被修改，调用方可以在锁外读取
func (s *series) snapshot() []domain.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.samples[:len(s.samples):len(s.samples)]
}

// MetricStore 内存滚动窗口指标存储。
// Record 只在单条序列上短暂加锁；Sweep 在锁外复制保留的样本，再短暂加锁替换
type MetricStore struct {
	retention time.Duration
	clock     clockwork.Clock
	exporter  SampleExporter

	mu     sync.RWMutex
	series map[string]*series

	sweepMu sync.Mutex
}

// NewMetricStore 创建指标存储
func NewMetricStore(opts StoreOptions) *MetricStore {
	if opts.Retention <= 0 {
		opts.Retention = 24 * time.Hour
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &MetricStore{
		retention: opts.Retention,
		clock:     opts.Clock,
		exporter:  opts.Exporter,
		series:    make(map[string]*series),
	}
}

// Record 追加一个样本，时间戳取存储时钟
func (m *MetricStore) Record(name string, labels map[string]string, value float64) {
	m.RecordAt(name, labels, value, m.clock.Now())
}

// RecordAt 以指定时间戳追加样本
func (m *MetricStore) RecordAt(name string, labels map[string]string, value float64, ts time.Time) {
	if name == "" {
		return
	}
	labels = domain.CopyLabels(labels)
	sample := domain.Sample{Name: name, Labels: labels, Value: value, Timestamp: ts}
	key := domain.SeriesKey(name, labels)

	var stale *series
	for {
		s := m.lookup(key, name, labels, stale)
		s.mu.Lock()
		if s.dead {
			s.mu.Unlock()
			stale = s
			continue
		}
		s.samples = append(s.samples, sample)
		s.mu.Unlock()
		break
	}

	if m.exporter != nil {
		m.exporter.Observe(name, labels, value)
	}
}

// lookup 取出或创建序列。stale 是已被清理标记为 dead 的旧序列，需要替换
func (m *MetricStore) lookup(key, name string, labels map[string]string, stale *series) *series {
	m.mu.RLock()
	s, ok := m.series[key]
	m.mu.RUnlock()
	if ok && s != stale {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok = m.series[key]; ok && s != stale {
		return s
	}
	s = &series{name: name, labels: labels}
	m.series[key] = s
	return s
}

func (m *MetricStore) matching(name string, labels map[string]string) []*series {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*series
	for _, s := range m.series {
		if s.name == name && domain.MatchLabels(labels, s.labels) {
			out = append(out, s)
		}
	}
	return out
}

// Query 聚合 (now-window, now] 内匹配的样本。labels 为子集匹配
func (m *MetricStore) Query(ctx context.Context, name string, labels map[string]string, window time.Duration) (domain.Aggregate, error) {
	if window <= 0 {
		return domain.Aggregate{}, apperr.Validation("invalid_window", "query window must be positive")
	}
	if err := ctx.Err(); err != nil {
		return domain.Aggregate{}, err
	}

	now := m.clock.Now()
	from := now.Add(-window)
	var values []float64
	for _, s := range m.matching(name, labels) {
		for _, sample := range s.snapshot() {
			if sample.Timestamp.After(from) && !sample.Timestamp.After(now) {
				values = append(values, sample.Value)
			}
		}
	}
	return aggregate(values), nil
}

func aggregate(values []float64) domain.Aggregate {
	if len(values) == 0 {
		return domain.Aggregate{}
	}
	data := stats.Float64Data(values)
	sum, _ := data.Sum()
	mean, _ := data.Mean()
	lo, _ := data.Min()
	hi, _ := data.Max()
	return domain.Aggregate{
		Count: len(values),
		Sum:   sum,
		Avg:   mean,
		Min:   lo,
		Max:   hi,
		P50:   percentile(data, 50),
		P95:   percentile(data, 95),
		P99:   percentile(data, 99),
	}
}

// percentile 样本过少时 stats.Percentile 会返回越界错误，退化为最近秩
func percentile(data stats.Float64Data, p float64) float64 {
	if v, err := data.Percentile(p); err == nil {
		return v
	}
	v, _ := data.PercentileNearestRank(p)
	return v
}

// Sweep 丢弃早于保留期的样本，返回丢弃数量。不阻塞并发的 Record
func (m *MetricStore) Sweep(ctx context.Context) int {
	m.sweepMu.Lock()
	defer m.sweepMu.Unlock()

	cutoff := m.clock.Now().Add(-m.retention)
	m.mu.RLock()
	all := make([]*series, 0, len(m.series))
	for _, s := range m.series {
		all = append(all, s)
	}
	m.mu.RUnlock()

	dropped := 0
	var emptied []*series
	for _, s := range all {
		old := s.snapshot()
		kept := make([]domain.Sample, 0, len(old))
		for _, sample := range old {
			if sample.Timestamp.After(cutoff) {
				kept = append(kept, sample)
			}
		}
		if len(kept) == len(old) {
			continue
		}
		dropped += len(old) - len(kept)

		s.mu.Lock()
		// 复制期间新追加的样本接在保留部分之后
		kept = append(kept, s.samples[len(old):]...)
		s.samples = kept
		if len(kept) == 0 {
			s.dead = true
			emptied = append(emptied, s)
		}
		s.mu.Unlock()
	}

	if len(emptied) > 0 {
		m.mu.Lock()
		for _, s := range emptied {
			key := domain.SeriesKey(s.name, s.labels)
			if m.series[key] == s {
				delete(m.series, key)
			}
		}
		m.mu.Unlock()
	}
	if dropped > 0 {
		logger.Debug(ctx, "metric store swept", "dropped", dropped, "series_removed", len(emptied))
	}
	return dropped
}

// SeriesCount 当前序列数
func (m *MetricStore) SeriesCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.series)
}

// Run 按固定间隔执行保留期清理，直到 ctx 取消
func (m *MetricStore) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := m.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			m.Sweep(ctx)
		}
	}
}
