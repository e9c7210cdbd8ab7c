package application

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyfcoding/onlinestore/pkg/apperr"
)

var epoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

type fakeExporter struct {
	mu    sync.Mutex
	names []string
}

func (f *fakeExporter) Observe(name string, _ map[string]string, _ float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names = append(f.names, name)
}

func TestQueryUsesOnlySamplesInsideWindow(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	store := NewMetricStore(StoreOptions{Clock: clock})

	store.RecordAt("latency", nil, 100, epoch.Add(-10*time.Minute))
	store.RecordAt("latency", nil, 1, epoch.Add(-4*time.Minute))
	store.RecordAt("latency", nil, 3, epoch.Add(-time.Minute))
	store.Record("latency", nil, 5)

	agg, err := store.Query(context.Background(), "latency", nil, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 3, agg.Count)
	assert.Equal(t, 9.0, agg.Sum)
	assert.Equal(t, 3.0, agg.Avg)
	assert.Equal(t, 1.0, agg.Min)
	assert.Equal(t, 5.0, agg.Max)

	// 窗口左开：恰好在边界上的样本不计入
	agg, err = store.Query(context.Background(), "latency", nil, 4*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, agg.Count)

	clock.Advance(2 * time.Minute)
	agg, err = store.Query(context.Background(), "latency", nil, time.Minute)
	require.NoError(t, err)
	assert.Zero(t, agg.Count)
	assert.Zero(t, agg.Max)
}

func TestQueryMatchesLabelSubset(t *testing.T) {
	store := NewMetricStore(StoreOptions{Clock: clockwork.NewFakeClockAt(epoch)})
	store.Record("orders", map[string]string{"outcome": "created", "region": "eu"}, 1)
	store.Record("orders", map[string]string{"region": "eu", "outcome": "created"}, 1)
	store.Record("orders", map[string]string{"outcome": "insufficient_stock", "region": "us"}, 1)
	store.Record("other", map[string]string{"outcome": "created"}, 1)

	ctx := context.Background()
	tests := []struct {
		labels map[string]string
		want   int
	}{
		{nil, 3},
		{map[string]string{"outcome": "created"}, 2},
		{map[string]string{"region": "us"}, 1},
		{map[string]string{"outcome": "created", "region": "us"}, 0},
		{map[string]string{"zone": "a"}, 0},
	}
	for i, tt := range tests {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			agg, err := store.Query(ctx, "orders", tt.labels, time.Minute)
			require.NoError(t, err)
			assert.Equal(t, tt.want, agg.Count)
		})
	}
	assert.Equal(t, 3, store.SeriesCount())
}

func TestQueryPercentiles(t *testing.T) {
	store := NewMetricStore(StoreOptions{Clock: clockwork.NewFakeClockAt(epoch)})
	for i := 100; i >= 1; i-- {
		store.Record("latency", nil, float64(i))
	}
	agg, err := store.Query(context.Background(), "latency", nil, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 100, agg.Count)
	assert.Equal(t, 50.0, agg.P50)
	assert.InDelta(t, 95.0, agg.P95, 0.5)
	assert.InDelta(t, 99.0, agg.P99, 0.5)

	single := NewMetricStore(StoreOptions{Clock: clockwork.NewFakeClockAt(epoch)})
	single.Record("latency", nil, 7)
	single.Record("latency", nil, 9)
	agg, err = single.Query(context.Background(), "latency", nil, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 7.0, agg.P50)
	assert.InDelta(t, 8.0, agg.P95, 1)
}

func TestQueryRejectsBadInput(t *testing.T) {
	store := NewMetricStore(StoreOptions{})
	_, err := store.Query(context.Background(), "m", nil, 0)
	require.ErrorIs(t, err, apperr.ErrValidation)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = store.Query(ctx, "m", nil, time.Minute)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRecordedLabelsAreCopied(t *testing.T) {
	store := NewMetricStore(StoreOptions{Clock: clockwork.NewFakeClockAt(epoch)})
	labels := map[string]string{"outcome": "created"}
	store.Record("orders", labels, 1)
	labels["outcome"] = "changed"

	agg, err := store.Query(context.Background(), "orders", map[string]string{"outcome": "created"}, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, agg.Count)
}

func TestSweepDropsExpiredSamplesAndEmptySeries(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	store := NewMetricStore(StoreOptions{Retention: time.Hour, Clock: clock})
	ctx := context.Background()

	store.RecordAt("a", nil, 1, epoch.Add(-2*time.Hour))
	store.RecordAt("a", nil, 2, epoch.Add(-30*time.Minute))
	store.RecordAt("b", nil, 1, epoch.Add(-3*time.Hour))

	assert.Equal(t, 2, store.Sweep(ctx))
	assert.Equal(t, 1, store.SeriesCount())
	assert.Zero(t, store.Sweep(ctx))

	agg, err := store.Query(ctx, "a", nil, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, agg.Count)

	// 被清空的序列可以重新写入
	store.Record("b", nil, 4)
	agg, err = store.Query(ctx, "b", nil, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, agg.Count)
}

func TestSweepDoesNotLoseConcurrentRecords(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	store := NewMetricStore(StoreOptions{Retention: time.Hour, Clock: clock})
	ctx := context.Background()

	const writers, perWriter = 8, 500
	var wg sync.WaitGroup
	stop := make(chan struct{})
	sweeps := make(chan struct{})
	go func() {
		defer close(sweeps)
		for {
			select {
			case <-stop:
				return
			default:
				store.RecordAt("m", map[string]string{"w": "0"}, 1, epoch.Add(-2*time.Hour))
				store.Sweep(ctx)
			}
		}
	}()

	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				store.Record("m", map[string]string{"w": strconv.Itoa(w % 2)}, 1)
			}
		}(w)
	}
	wg.Wait()
	close(stop)
	<-sweeps

	agg, err := store.Query(ctx, "m", nil, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, writers*perWriter, agg.Count)
}

func TestRecordMirrorsToExporter(t *testing.T) {
	exp := &fakeExporter{}
	store := NewMetricStore(StoreOptions{Exporter: exp})
	store.Record("orders", nil, 1)
	store.Record("", nil, 1)
	assert.Equal(t, []string{"orders"}, exp.names)
}

func TestStoreRunSweepsOnTicker(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	store := NewMetricStore(StoreOptions{Retention: time.Minute, Clock: clock})
	store.Record("m", nil, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- store.Run(ctx, 10*time.Second) }()

	clock.BlockUntil(1)
	clock.Advance(2 * time.Minute)
	require.Eventually(t, func() bool { return store.SeriesCount() == 0 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
