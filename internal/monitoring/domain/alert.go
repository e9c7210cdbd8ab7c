package domain

import (
	"fmt"
	"time"
)

// AlertState 告警状态
type AlertState string

const (
	StateResolved AlertState = "resolved"
	StatePending  AlertState = "pending"
	StateFiring   AlertState = "firing"
)

// transitions 合法的状态迁移表，表外的迁移一律拒绝
var transitions = map[AlertState][]AlertState{
	StateResolved: {StatePending},
	StatePending:  {StateFiring, StateResolved},
	StateFiring:   {StateResolved},
}

// CanTransitionTo 检查状态迁移是否合法
func (s AlertState) CanTransitionTo(next AlertState) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// AlertEvent 一次告警的生命周期，从首次越过阈值开始到恢复为止
type AlertEvent struct {
	EventID        string     `json:"event_id"`
	RuleID         string     `json:"rule_id"`
	Severity       Severity   `json:"severity"`
	State          AlertState `json:"state"`
	Value          float64    `json:"value"`
	FirstBreach    time.Time  `json:"first_breach"`
	LastEvaluation time.Time  `json:"last_evaluation"`
	FiredAt        *time.Time `json:"fired_at,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
}

func (e *AlertEvent) moveTo(next AlertState, now time.Time) error {
	if !e.State.CanTransitionTo(next) {
		return fmt.Errorf("alert %s: illegal transition %s -> %s", e.EventID, e.State, next)
	}
	e.State = next
	e.LastEvaluation = now
	switch next {
	case StateFiring:
		e.FiredAt = &now
	case StateResolved:
		e.ResolvedAt = &now
	}
	return nil
}

// Transition 一次状态迁移
type Transition struct {
	From  AlertState
	To    AlertState
	Event AlertEvent
}

// Notifies 只有 Pending->Firing 与 Firing->Resolved 需要通知
func (t Transition) Notifies() bool {
	return (t.From == StatePending && t.To == StateFiring) ||
		(t.From == StateFiring && t.To == StateResolved)
}

// Tracker 单条规则的状态机。同一时刻最多持有一个未恢复的 AlertEvent
type Tracker struct {
	rule    *Rule
	current *AlertEvent
}

func NewTracker(rule *Rule) *Tracker {
	return &Tracker{rule: rule}
}

// Rule 当前跟踪的规则
func (t *Tracker) Rule() *Rule {
	return t.rule
}

// SetRule 规则热更新，保留当前告警状态
func (t *Tracker) SetRule(rule *Rule) {
	t.rule = rule
}

// State 当前状态
func (t *Tracker) State() AlertState {
	if t.current == nil {
		return StateResolved
	}
	return t.current.State
}

// Current 当前未恢复的告警，没有时返回 nil
func (t *Tracker) Current() *AlertEvent {
	if t.current == nil {
		return nil
	}
	ev := *t.current
	return &ev
}

// Observe 输入一次评估结果，返回本次发生的迁移（按发生顺序）。
// Pending 期间任何一次条件不满足都直接回到 Resolved；条件自首次越限起持续满足 For 之后进入 Firing
func (t *Tracker) Observe(breached bool, value float64, now time.Time, newEventID func() string) ([]Transition, error) {
	var out []Transition
	step := func(next AlertState) error {
		from := t.current.State
		if err := t.current.moveTo(next, now); err != nil {
			return err
		}
		out = append(out, Transition{From: from, To: next, Event: *t.current})
		return nil
	}

	if t.current == nil {
		if !breached {
			return nil, nil
		}
		t.current = &AlertEvent{
			EventID:     newEventID(),
			RuleID:      t.rule.ID,
			Severity:    t.rule.Severity,
			State:       StateResolved,
			FirstBreach: now,
		}
	}
	t.current.Value = value
	t.current.LastEvaluation = now

	var err error
	switch t.current.State {
	case StateResolved:
		if err = step(StatePending); err == nil && now.Sub(t.current.FirstBreach) >= t.rule.For {
			err = step(StateFiring)
		}
	case StatePending:
		if !breached {
			err = step(StateResolved)
		} else if now.Sub(t.current.FirstBreach) >= t.rule.For {
			err = step(StateFiring)
		}
	case StateFiring:
		if !breached {
			err = step(StateResolved)
		}
	}
	if err != nil {
		return out, err
	}
	if t.current.State == StateResolved {
		t.current = nil
	}
	return out, nil
}

// Close 规则被移除或停用时结束未恢复的事件，返回产生的迁移
func (t *Tracker) Close(now time.Time) ([]Transition, error) {
	if t.current == nil {
		return nil, nil
	}
	return t.Observe(false, t.current.Value, now, nil)
}
