package application

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/wyfcoding/onlinestore/internal/monitoring/domain"
	"github.com/wyfcoding/onlinestore/pkg/logger"
	"github.com/wyfcoding/onlinestore/pkg/metrics"
)

// Querier 告警引擎读取指标的端口
type Querier interface {
	Query(ctx context.Context, name string, labels map[string]string, window time.Duration) (domain.Aggregate, error)
}

// EngineOptions 告警引擎配置
type EngineOptions struct {
	Interval   time.Duration
	Clock      clockwork.Clock
	Metrics    *metrics.Metrics
	NewEventID func() string
}

// AlertEngine 周期性评估告警规则，每条规则一个状态机，只在迁移时发送通知
type AlertEngine struct {
	store    Querier
	notifier domain.Notifier
	archive  domain.AlertArchive
	interval time.Duration
	clock    clockwork.Clock
	metrics  *metrics.Metrics
	newID    func() string

	mu       sync.Mutex
	rules    []*domain.Rule
	trackers map[string]*domain.Tracker

	tickMu  sync.Mutex
	queue   chan struct{}
	skipped atomic.Int64
}

// NewAlertEngine 创建告警引擎。archive 可以为 nil
func NewAlertEngine(store Querier, notifier domain.Notifier, archive domain.AlertArchive, opts EngineOptions) *AlertEngine {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.NewEventID == nil {
		opts.NewEventID = func() string { return uuid.NewString() }
	}
	return &AlertEngine{
		store:    store,
		notifier: notifier,
		archive:  archive,
		interval: opts.Interval,
		clock:    opts.Clock,
		metrics:  opts.Metrics,
		newID:    opts.NewEventID,
		trackers: make(map[string]*domain.Tracker),
		queue:    make(chan struct{}, 1),
	}
}

// SetRules 替换规则集。保留下来的启用规则沿用当前告警状态；
// 被移除或停用的规则若有未恢复事件，先将其恢复并发送通知再丢弃状态
func (e *AlertEngine) SetRules(ctx context.Context, rules []*domain.Rule) error {
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return err
		}
		if seen[r.ID] {
			return fmt.Errorf("duplicate rule id %q", r.ID)
		}
		seen[r.ID] = true
	}

	type retired struct {
		rule        *domain.Rule
		transitions []domain.Transition
	}
	var closed []retired
	now := e.clock.Now()
	retire := func(t *domain.Tracker) {
		if t.Current() == nil {
			return
		}
		rule := t.Rule()
		transitions, err := t.Close(now)
		if err != nil {
			logger.Error(ctx, "alert close on rule retirement failed", "rule_id", rule.ID, "error", err)
		}
		closed = append(closed, retired{rule: rule, transitions: transitions})
	}

	e.mu.Lock()
	trackers := make(map[string]*domain.Tracker, len(rules))
	for _, r := range rules {
		t, ok := e.trackers[r.ID]
		if !ok {
			t = domain.NewTracker(r)
		}
		if !r.Enabled {
			retire(t)
		}
		t.SetRule(r)
		trackers[r.ID] = t
	}
	for id, t := range e.trackers {
		if !seen[id] {
			retire(t)
		}
	}
	e.rules = rules
	e.trackers = trackers
	e.mu.Unlock()

	for _, c := range closed {
		for _, tr := range c.transitions {
			e.apply(ctx, c.rule, tr)
		}
	}
	return nil
}

// Rules 当前规则集
func (e *AlertEngine) Rules() []*domain.Rule {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*domain.Rule(nil), e.rules...)
}

// Active 当前未恢复的告警，按规则 ID 排序
func (e *AlertEngine) Active() []domain.AlertEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []domain.AlertEvent
	for _, t := range e.trackers {
		if ev := t.Current(); ev != nil {
			out = append(out, *ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RuleID < out[j].RuleID })
	return out
}

// Skipped 因上一轮评估未结束而被丢弃的 tick 数
func (e *AlertEngine) Skipped() int64 {
	return e.skipped.Load()
}

// Tick 评估一次所有启用的规则。规则之间互不依赖，单条规则出错只记录日志并跳过
func (e *AlertEngine) Tick(ctx context.Context) {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	for _, rule := range e.Rules() {
		if !rule.Enabled {
			continue
		}
		if err := ctx.Err(); err != nil {
			return
		}
		if err := e.evaluate(ctx, rule); err != nil {
			logger.Error(ctx, "alert rule evaluation skipped", "rule_id", rule.ID, "error", err)
		}
	}
}

func (e *AlertEngine) evaluate(ctx context.Context, rule *domain.Rule) error {
	agg, err := e.store.Query(ctx, rule.Metric, rule.Labels, rule.Window)
	if err != nil {
		return fmt.Errorf("query %s: %w", rule.Metric, err)
	}
	value, ok := agg.Value(rule.Aggregation)
	// 窗口内无数据时 avg/min/max/分位数不成立，视为条件不满足
	breached := ok && rule.Comparator.Compare(value, rule.Threshold)
	now := e.clock.Now()

	e.mu.Lock()
	tracker, exists := e.trackers[rule.ID]
	if !exists || tracker.Rule() != rule {
		e.mu.Unlock()
		return nil
	}
	transitions, err := tracker.Observe(breached, value, now, e.newID)
	e.mu.Unlock()

	for _, tr := range transitions {
		e.apply(ctx, rule, tr)
	}
	return err
}

func (e *AlertEngine) apply(ctx context.Context, rule *domain.Rule, tr domain.Transition) {
	logger.Info(ctx, "alert transition",
		"rule_id", rule.ID, "event_id", tr.Event.EventID, "from", tr.From, "to", tr.To, "value", tr.Event.Value)
	if e.metrics != nil {
		e.metrics.AlertTransitions.WithLabelValues(rule.ID, string(tr.To)).Inc()
	}

	if tr.Notifies() {
		n := domain.AlertNotification{
			RuleID:    rule.ID,
			EventID:   tr.Event.EventID,
			Severity:  rule.Severity,
			Message:   message(rule, tr),
			State:     tr.To,
			Value:     tr.Event.Value,
			Timestamp: tr.Event.LastEvaluation,
		}
		if err := e.notifier.Notify(ctx, n); err != nil {
			logger.Error(ctx, "alert notification failed", "rule_id", rule.ID, "state", tr.To, "error", err)
		}
	}

	if tr.To == domain.StateResolved && e.archive != nil {
		ev := tr.Event
		if err := e.archive.Archive(ctx, &ev); err != nil {
			logger.Warn(ctx, "alert archive failed", "rule_id", rule.ID, "event_id", ev.EventID, "error", err)
		}
	}
}

func message(rule *domain.Rule, tr domain.Transition) string {
	summary := rule.Summary
	if summary == "" {
		summary = rule.Condition()
	}
	if tr.To == domain.StateFiring {
		return fmt.Sprintf("[FIRING] %s (value %g)", summary, tr.Event.Value)
	}
	return fmt.Sprintf("[RESOLVED] %s (value %g)", summary, tr.Event.Value)
}

// enqueue 投递一个 tick。队列只容纳一个待执行的 tick，其余直接丢弃
func (e *AlertEngine) enqueue(ctx context.Context) bool {
	select {
	case e.queue <- struct{}{}:
		return true
	default:
		e.skipped.Add(1)
		logger.Warn(ctx, "alert tick skipped, previous evaluation still running", "skipped_total", e.skipped.Load())
		return false
	}
}

// Run 按固定间隔驱动评估，直到 ctx 取消
func (e *AlertEngine) Run(ctx context.Context) error {
	ticker := e.clock.NewTicker(e.interval)
	defer ticker.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-e.queue:
				e.Tick(ctx)
			}
		}
	}()

	logger.Info(ctx, "alert engine started", "interval", e.interval, "rules", len(e.Rules()))
	for {
		select {
		case <-ctx.Done():
			<-done
			return nil
		case <-ticker.Chan():
			e.enqueue(ctx)
		}
	}
}
