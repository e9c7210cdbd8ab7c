package domain

import (
	"fmt"
	"time"

	"github.com/wyfcoding/onlinestore/pkg/apperr"
)

// Comparator 阈值比较符
type Comparator string

const (
	CmpGT Comparator = ">"
	CmpGE Comparator = ">="
	CmpLT Comparator = "<"
	CmpLE Comparator = "<="
	CmpEQ Comparator = "=="
	CmpNE Comparator = "!="
)

// Compare 计算 value <cmp> threshold
func (c Comparator) Compare(value, threshold float64) bool {
	switch c {
	case CmpGT:
		return value > threshold
	case CmpGE:
		return value >= threshold
	case CmpLT:
		return value < threshold
	case CmpLE:
		return value <= threshold
	case CmpEQ:
		return value == threshold
	case CmpNE:
		return value != threshold
	}
	return false
}

// Valid 是否为支持的比较符
func (c Comparator) Valid() bool {
	switch c {
	case CmpGT, CmpGE, CmpLT, CmpLE, CmpEQ, CmpNE:
		return true
	}
	return false
}

// Severity 告警级别
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rule 告警规则：metric 在 Window 内的 Aggregation 与 Threshold 比较，
// 持续满足 For 之后触发
type Rule struct {
	ID          string
	Metric      string
	Labels      map[string]string
	Aggregation Aggregation
	Window      time.Duration
	Comparator  Comparator
	Threshold   float64
	For         time.Duration
	Severity    Severity
	Enabled     bool
	// Summary 通知正文前缀，为空时使用规则条件的文本形式
	Summary string
}

// Validate 校验规则
func (r *Rule) Validate() error {
	switch {
	case r.ID == "":
		return apperr.Validation("invalid_rule", "rule id is required")
	case r.Metric == "":
		return apperr.Validation("invalid_rule", "rule "+r.ID+": metric is required")
	case !r.Aggregation.Valid():
		return apperr.Validation("invalid_rule", fmt.Sprintf("rule %s: unsupported aggregation %q", r.ID, r.Aggregation))
	case r.Window <= 0:
		return apperr.Validation("invalid_rule", "rule "+r.ID+": window must be positive")
	case !r.Comparator.Valid():
		return apperr.Validation("invalid_rule", fmt.Sprintf("rule %s: unsupported comparator %q", r.ID, r.Comparator))
	case r.For < 0:
		return apperr.Validation("invalid_rule", "rule "+r.ID+": for must not be negative")
	}
	switch r.Severity {
	case SeverityInfo, SeverityWarning, SeverityCritical:
	default:
		return apperr.Validation("invalid_rule", fmt.Sprintf("rule %s: unsupported severity %q", r.ID, r.Severity))
	}
	return nil
}

// Condition 条件的文本形式，如 p95(order_create_latency_seconds{outcome=created})[5m] > 0.5
func (r *Rule) Condition() string {
	return fmt.Sprintf("%s(%s)[%s] %s %g", r.Aggregation, SeriesKey(r.Metric, r.Labels), r.Window, r.Comparator, r.Threshold)
}
