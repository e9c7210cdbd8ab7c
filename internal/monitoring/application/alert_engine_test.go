package application

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyfcoding/onlinestore/internal/monitoring/domain"
	"github.com/wyfcoding/onlinestore/pkg/metrics"
)

const interval = time.Minute

type recordingNotifier struct {
	mu   sync.Mutex
	sent []domain.AlertNotification
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, msg domain.AlertNotification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return n.err
}

func (n *recordingNotifier) states() []domain.AlertState {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]domain.AlertState, len(n.sent))
	for i, s := range n.sent {
		out[i] = s.State
	}
	return out
}

type memArchive struct {
	mu     sync.Mutex
	events []domain.AlertEvent
}

func (a *memArchive) Archive(_ context.Context, ev *domain.AlertEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, *ev)
	return nil
}

func (a *memArchive) ListByRule(_ context.Context, ruleID string, _ int) ([]*domain.AlertEvent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []*domain.AlertEvent
	for i := range a.events {
		if a.events[i].RuleID == ruleID {
			ev := a.events[i]
			out = append(out, &ev)
		}
	}
	return out, nil
}

type engineFixture struct {
	clock    clockwork.FakeClock
	store    *MetricStore
	notifier *recordingNotifier
	archive  *memArchive
	metrics  *metrics.Metrics
	engine   *AlertEngine
	seq      int
}

func newEngineFixture(t *testing.T, rules ...*domain.Rule) *engineFixture {
	t.Helper()
	f := &engineFixture{
		clock:    clockwork.NewFakeClockAt(epoch),
		notifier: &recordingNotifier{},
		archive:  &memArchive{},
		metrics:  metrics.New("test"),
	}
	f.store = NewMetricStore(StoreOptions{Clock: f.clock})
	f.engine = NewAlertEngine(f.store, f.notifier, f.archive, EngineOptions{
		Interval: interval,
		Clock:    f.clock,
		Metrics:  f.metrics,
		NewEventID: func() string {
			f.seq++
			return "ev-" + strconv.Itoa(f.seq)
		},
	})
	require.NoError(t, f.engine.SetRules(context.Background(), rules))
	return f
}

// tick 写入一个样本后评估一次，再把时钟推进一个周期
func (f *engineFixture) tick(metric string, value float64) {
	f.store.Record(metric, nil, value)
	f.engine.Tick(context.Background())
	f.clock.Advance(interval)
}

func latencyRule(forTicks int) *domain.Rule {
	return &domain.Rule{
		ID:          "latency-high",
		Metric:      "latency",
		Aggregation: domain.AggMax,
		Window:      interval,
		Comparator:  domain.CmpGT,
		Threshold:   0.5,
		For:         time.Duration(forTicks) * interval,
		Severity:    domain.SeverityWarning,
		Enabled:     true,
	}
}

func TestEngineBreachShorterThanForNeverNotifies(t *testing.T) {
	const forTicks = 4
	f := newEngineFixture(t, latencyRule(forTicks))

	for i := 0; i < forTicks-1; i++ {
		f.tick("latency", 0.9)
	}
	f.tick("latency", 0.1)
	f.tick("latency", 0.1)

	assert.Empty(t, f.notifier.states())
	assert.Empty(t, f.engine.Active())
	// 未触发过的告警同样归档
	require.Len(t, f.archive.events, 1)
	assert.Nil(t, f.archive.events[0].FiredAt)
}

func TestEngineSustainedBreachNotifiesOnceEachWay(t *testing.T) {
	const forTicks = 3
	for k := 1; k <= 3; k++ {
		t.Run("k="+strconv.Itoa(k), func(t *testing.T) {
			f := newEngineFixture(t, latencyRule(forTicks))
			for i := 0; i < forTicks+k; i++ {
				f.tick("latency", 0.9)
			}
			active := f.engine.Active()
			require.Len(t, active, 1)
			assert.Equal(t, domain.StateFiring, active[0].State)

			f.tick("latency", 0.1)
			f.tick("latency", 0.1)

			assert.Equal(t, []domain.AlertState{domain.StateFiring, domain.StateResolved}, f.notifier.states())
			first, second := f.notifier.sent[0], f.notifier.sent[1]
			assert.Equal(t, first.EventID, second.EventID)
			assert.Equal(t, "latency-high:firing:ev-1", first.IdempotencyKey())
			assert.Contains(t, first.Message, "[FIRING]")
			assert.Equal(t, domain.SeverityWarning, second.Severity)

			require.Len(t, f.archive.events, 1)
			assert.NotNil(t, f.archive.events[0].FiredAt)
			assert.NotNil(t, f.archive.events[0].ResolvedAt)

			assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AlertTransitions.WithLabelValues("latency-high", "firing")))
			assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AlertTransitions.WithLabelValues("latency-high", "resolved")))
		})
	}
}

type failingQuerier struct {
	Querier
	fail string
}

func (q failingQuerier) Query(ctx context.Context, name string, labels map[string]string, window time.Duration) (domain.Aggregate, error) {
	if name == q.fail {
		return domain.Aggregate{}, errors.New("store unavailable")
	}
	return q.Querier.Query(ctx, name, labels, window)
}

func TestEngineRuleErrorsAreIsolated(t *testing.T) {
	f := newEngineFixture(t)
	broken := latencyRule(0)
	broken.ID, broken.Metric = "broken", "broken_metric"
	healthy := latencyRule(0)

	f.engine = NewAlertEngine(failingQuerier{Querier: f.store, fail: "broken_metric"}, f.notifier, nil, EngineOptions{Clock: f.clock})
	require.NoError(t, f.engine.SetRules(context.Background(), []*domain.Rule{broken, healthy}))

	f.store.Record("broken_metric", nil, 1)
	f.tick("latency", 0.9)

	assert.Equal(t, []domain.AlertState{domain.StateFiring}, f.notifier.states())
	require.Len(t, f.engine.Active(), 1)
	assert.Equal(t, "latency-high", f.engine.Active()[0].RuleID)
}

func TestEngineSkipsDisabledRulesAndEmptyWindows(t *testing.T) {
	disabled := latencyRule(0)
	disabled.ID, disabled.Enabled = "disabled", false
	avg := latencyRule(0)
	avg.ID, avg.Metric, avg.Aggregation, avg.Comparator, avg.Threshold = "avg-low", "silent", domain.AggAvg, domain.CmpLT, 1
	f := newEngineFixture(t, disabled, avg)

	f.tick("latency", 0.9)
	assert.Empty(t, f.notifier.states())
}

func TestEngineCountRuleBreachesOnEmptyWindow(t *testing.T) {
	heartbeat := &domain.Rule{
		ID: "no-orders", Metric: "orders_created", Aggregation: domain.AggCount, Window: interval,
		Comparator: domain.CmpEQ, Threshold: 0, Severity: domain.SeverityInfo, Enabled: true,
	}
	f := newEngineFixture(t, heartbeat)
	f.engine.Tick(context.Background())
	assert.Equal(t, []domain.AlertState{domain.StateFiring}, f.notifier.states())
}

func TestEngineNotificationFailureKeepsState(t *testing.T) {
	f := newEngineFixture(t, latencyRule(0))
	f.notifier.err = errors.New("gateway down")
	f.tick("latency", 0.9)
	f.tick("latency", 0.9)

	assert.Len(t, f.notifier.states(), 1)
	require.Len(t, f.engine.Active(), 1)
	assert.Equal(t, domain.StateFiring, f.engine.Active()[0].State)
}

func TestSetRulesKeepsStateOfRetainedRules(t *testing.T) {
	f := newEngineFixture(t, latencyRule(0))
	f.tick("latency", 0.9)
	require.Len(t, f.engine.Active(), 1)

	updated := latencyRule(0)
	updated.Threshold = 0.8
	other := latencyRule(0)
	other.ID = "other"
	require.NoError(t, f.engine.SetRules(context.Background(), []*domain.Rule{updated, other}))
	f.tick("latency", 0.9)

	// 同一事件持续 firing，不会重复通知
	assert.Len(t, f.notifier.states(), 2)
	active := f.engine.Active()
	require.Len(t, active, 2)
	assert.Equal(t, "ev-1", active[0].EventID)

	require.NoError(t, f.engine.SetRules(context.Background(), nil))
	assert.Empty(t, f.engine.Active())

	dup := latencyRule(0)
	assert.Error(t, f.engine.SetRules(context.Background(), []*domain.Rule{dup, dup}))
	bad := latencyRule(0)
	bad.Window = 0
	assert.Error(t, f.engine.SetRules(context.Background(), []*domain.Rule{bad}))
}

func TestEnqueueKeepsAtMostOnePendingTick(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	assert.True(t, f.engine.enqueue(ctx))
	assert.False(t, f.engine.enqueue(ctx))
	assert.False(t, f.engine.enqueue(ctx))
	assert.Equal(t, int64(2), f.engine.Skipped())

	<-f.engine.queue
	assert.True(t, f.engine.enqueue(ctx))
}

type blockingQuerier struct {
	calls   chan struct{}
	release chan struct{}
}

func (q *blockingQuerier) Query(ctx context.Context, _ string, _ map[string]string, _ time.Duration) (domain.Aggregate, error) {
	q.calls <- struct{}{}
	select {
	case <-q.release:
	case <-ctx.Done():
	}
	return domain.Aggregate{}, nil
}

func TestRunEvaluatesOnTicker(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	q := &blockingQuerier{calls: make(chan struct{}, 4), release: make(chan struct{})}
	engine := NewAlertEngine(q, &recordingNotifier{}, nil, EngineOptions{Interval: interval, Clock: clock})
	require.NoError(t, engine.SetRules(context.Background(), []*domain.Rule{latencyRule(0)}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx) }()

	clock.BlockUntil(1)
	clock.Advance(interval)
	select {
	case <-q.calls:
	case <-time.After(2 * time.Second):
		t.Fatal("tick was not evaluated")
	}

	close(q.release)
	cancel()
	require.NoError(t, <-done)
}

func TestDisablingFiringRuleResolvesIt(t *testing.T) {
	f := newEngineFixture(t, latencyRule(0))
	f.tick("latency", 0.9)
	require.Len(t, f.engine.Active(), 1)

	disabled := latencyRule(0)
	disabled.Enabled = false
	require.NoError(t, f.engine.SetRules(context.Background(), []*domain.Rule{disabled}))

	assert.Empty(t, f.engine.Active())
	assert.Equal(t, []domain.AlertState{domain.StateFiring, domain.StateResolved}, f.notifier.states())
	archived, err := f.archive.ListByRule(context.Background(), "latency-high", 10)
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, "ev-1", archived[0].EventID)

	f.tick("latency", 0.9)
	assert.Len(t, f.notifier.states(), 2, "disabled rules are not evaluated")
}

func TestRemovingFiringRuleResolvesIt(t *testing.T) {
	f := newEngineFixture(t, latencyRule(0))
	f.tick("latency", 0.9)

	require.NoError(t, f.engine.SetRules(context.Background(), nil))
	assert.Empty(t, f.engine.Active())
	assert.Equal(t, []domain.AlertState{domain.StateFiring, domain.StateResolved}, f.notifier.states())
}
