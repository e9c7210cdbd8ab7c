package domain

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		from, to AlertState
		ok       bool
	}{
		{StateResolved, StatePending, true},
		{StateResolved, StateFiring, false},
		{StatePending, StateFiring, true},
		{StatePending, StateResolved, true},
		{StateFiring, StateResolved, true},
		{StateFiring, StatePending, false},
		{StatePending, StatePending, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestMoveToRejectsIllegalTransition(t *testing.T) {
	ev := &AlertEvent{EventID: "e1", State: StateResolved}
	require.Error(t, ev.moveTo(StateFiring, time.Now()))
	assert.Equal(t, StateResolved, ev.State)
}

type tickRun struct {
	tracker *Tracker
	now     time.Time
	step    time.Duration
	seq     int
}

func newTickRun(forDuration time.Duration) *tickRun {
	rule := &Rule{ID: "r1", Severity: SeverityWarning, For: forDuration}
	return &tickRun{tracker: NewTracker(rule), now: time.Unix(1_700_000_000, 0), step: time.Second}
}

func (r *tickRun) tick(t *testing.T, breached bool) []Transition {
	t.Helper()
	out, err := r.tracker.Observe(breached, 1, r.now, func() string {
		r.seq++
		return "ev" + strconv.Itoa(r.seq)
	})
	require.NoError(t, err)
	r.now = r.now.Add(r.step)
	return out
}

func notifications(ts []Transition) []AlertState {
	var out []AlertState
	for _, tr := range ts {
		if tr.Notifies() {
			out = append(out, tr.To)
		}
	}
	return out
}

func TestTrackerShortBreachNeverFires(t *testing.T) {
	const forTicks = 5
	r := newTickRun(forTicks * time.Second)

	var all []Transition
	for i := 0; i < forTicks-1; i++ {
		all = append(all, r.tick(t, true)...)
		assert.NotEqual(t, StateFiring, r.tracker.State())
	}
	all = append(all, r.tick(t, false)...)

	assert.Empty(t, notifications(all))
	assert.Equal(t, StateResolved, r.tracker.State())
	require.Len(t, all, 2)
	assert.Equal(t, StatePending, all[0].To)
	assert.Equal(t, StateResolved, all[1].To)
}

func TestTrackerSustainedBreachFiresOnceResolvesOnce(t *testing.T) {
	const forTicks = 3
	for k := 1; k <= 4; k++ {
		t.Run("k="+strconv.Itoa(k), func(t *testing.T) {
			r := newTickRun(forTicks * time.Second)
			var all []Transition
			for i := 0; i < forTicks+k; i++ {
				all = append(all, r.tick(t, true)...)
			}
			assert.Equal(t, StateFiring, r.tracker.State())
			all = append(all, r.tick(t, false)...)
			all = append(all, r.tick(t, false)...)

			assert.Equal(t, []AlertState{StateFiring, StateResolved}, notifications(all))
			assert.Nil(t, r.tracker.Current())
		})
	}
}

func TestTrackerPendingResetsWithoutPartialCredit(t *testing.T) {
	r := newTickRun(2 * time.Second)
	r.tick(t, true)
	r.tick(t, true)
	r.tick(t, false)
	require.Equal(t, StateResolved, r.tracker.State())

	// 重新越限后从头计时
	out := r.tick(t, true)
	require.Len(t, out, 1)
	assert.Equal(t, "ev2", out[0].Event.EventID)
	r.tick(t, true)
	assert.Equal(t, StatePending, r.tracker.State())
	r.tick(t, true)
	assert.Equal(t, StateFiring, r.tracker.State())
}

func TestTrackerZeroForFiresThroughPending(t *testing.T) {
	r := newTickRun(0)
	out := r.tick(t, true)
	require.Len(t, out, 2)
	assert.Equal(t, StateResolved, out[0].From)
	assert.Equal(t, StatePending, out[0].To)
	assert.Equal(t, StatePending, out[1].From)
	assert.Equal(t, StateFiring, out[1].To)
	assert.NotNil(t, out[1].Event.FiredAt)
}

func TestTrackerSingleOpenEvent(t *testing.T) {
	r := newTickRun(time.Second)
	for i := 0; i < 10; i++ {
		r.tick(t, true)
	}
	cur := r.tracker.Current()
	require.NotNil(t, cur)
	assert.Equal(t, "ev1", cur.EventID)
	assert.Equal(t, 1, r.seq)
}

func TestRuleValidate(t *testing.T) {
	valid := func() *Rule {
		return &Rule{ID: "r", Metric: "m", Aggregation: AggAvg, Window: time.Minute, Comparator: CmpGT, Severity: SeverityInfo}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Rule)
	}{
		{"no id", func(r *Rule) { r.ID = "" }},
		{"no metric", func(r *Rule) { r.Metric = "" }},
		{"bad aggregation", func(r *Rule) { r.Aggregation = "median" }},
		{"zero window", func(r *Rule) { r.Window = 0 }},
		{"bad comparator", func(r *Rule) { r.Comparator = "=>" }},
		{"negative for", func(r *Rule) { r.For = -time.Second }},
		{"bad severity", func(r *Rule) { r.Severity = "page" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid()
			tt.mutate(r)
			assert.Error(t, r.Validate())
		})
	}
}

func TestAggregateValue(t *testing.T) {
	empty := Aggregate{}
	v, ok := empty.Value(AggCount)
	assert.True(t, ok)
	assert.Zero(t, v)
	_, ok = empty.Value(AggP95)
	assert.False(t, ok)

	g := Aggregate{Count: 2, Sum: 3, Avg: 1.5, Min: 1, Max: 2, P50: 1, P95: 2, P99: 2}
	v, ok = g.Value(AggAvg)
	assert.True(t, ok)
	assert.Equal(t, 1.5, v)
}

func TestMatchLabelsAndSeriesKey(t *testing.T) {
	labels := map[string]string{"outcome": "created", "region": "eu"}
	assert.True(t, MatchLabels(nil, labels))
	assert.True(t, MatchLabels(map[string]string{"outcome": "created"}, labels))
	assert.False(t, MatchLabels(map[string]string{"outcome": "replayed"}, labels))
	assert.False(t, MatchLabels(map[string]string{"zone": "a"}, labels))

	assert.Equal(t, "m{a=1,b=2}", SeriesKey("m", map[string]string{"b": "2", "a": "1"}))
	assert.Equal(t, "m", SeriesKey("m", nil))
}
