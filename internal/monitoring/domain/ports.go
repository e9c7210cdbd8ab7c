package domain

import (
	"context"
	"time"
)

// AlertNotification 发往通知网关的告警通知。网关需按 (RuleID, State, EventID) 幂等
type AlertNotification struct {
	RuleID    string     `json:"rule_id"`
	EventID   string     `json:"event_id"`
	Severity  Severity   `json:"severity"`
	Message   string     `json:"message"`
	State     AlertState `json:"state"`
	Value     float64    `json:"value"`
	Timestamp time.Time  `json:"timestamp"`
}

// IdempotencyKey 通知的幂等键
func (n AlertNotification) IdempotencyKey() string {
	return n.RuleID + ":" + string(n.State) + ":" + n.EventID
}

// Notifier 通知网关
type Notifier interface {
	Notify(ctx context.Context, n AlertNotification) error
}

// AlertArchive 已恢复告警的归档
type AlertArchive interface {
	Archive(ctx context.Context, event *AlertEvent) error
	ListByRule(ctx context.Context, ruleID string, limit int) ([]*AlertEvent, error)
}

// RuleSource 告警规则来源
type RuleSource interface {
	Load(ctx context.Context) ([]*Rule, error)
}
