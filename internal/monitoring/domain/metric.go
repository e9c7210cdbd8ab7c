// Package domain 监控上下文：指标样本、聚合、告警规则与告警状态机
package domain

import (
	"sort"
	"strings"
	"time"
)

// Sample 指标样本，记录后不可变
type Sample struct {
	Name      string
	Labels    map[string]string
	Value     float64
	Timestamp time.Time
}

// Aggregate 窗口内样本的聚合结果。Count 为 0 时其余字段均为零值
type Aggregate struct {
	Count int     `json:"count"`
	Sum   float64 `json:"sum"`
	Avg   float64 `json:"avg"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
}

// Aggregation 规则取用的聚合字段
type Aggregation string

const (
	AggCount Aggregation = "count"
	AggSum   Aggregation = "sum"
	AggAvg   Aggregation = "avg"
	AggMin   Aggregation = "min"
	AggMax   Aggregation = "max"
	AggP50   Aggregation = "p50"
	AggP95   Aggregation = "p95"
	AggP99   Aggregation = "p99"
)

// Valid 是否为支持的聚合
func (a Aggregation) Valid() bool {
	switch a {
	case AggCount, AggSum, AggAvg, AggMin, AggMax, AggP50, AggP95, AggP99:
		return true
	}
	return false
}

// Value 取出聚合值。ok 为 false 表示窗口内无数据且该聚合没有意义（count/sum 以外）
func (g Aggregate) Value(a Aggregation) (v float64, ok bool) {
	switch a {
	case AggCount:
		return float64(g.Count), true
	case AggSum:
		return g.Sum, true
	}
	if g.Count == 0 {
		return 0, false
	}
	switch a {
	case AggAvg:
		return g.Avg, true
	case AggMin:
		return g.Min, true
	case AggMax:
		return g.Max, true
	case AggP50:
		return g.P50, true
	case AggP95:
		return g.P95, true
	case AggP99:
		return g.P99, true
	}
	return 0, false
}

// MatchLabels 子集匹配：query 中每个 label 都必须以相同的值出现在 labels 中。空 query 匹配全部
func MatchLabels(query, labels map[string]string) bool {
	for k, v := range query {
		if got, ok := labels[k]; !ok || got != v {
			return false
		}
	}
	return true
}

// SeriesKey 指标名加规范化的 label 集合，label 顺序无关
func SeriesKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	b.WriteByte('}')
	return b.String()
}

// CopyLabels 复制 label，调用方后续修改原 map 不影响已记录的样本
func CopyLabels(labels map[string]string) map[string]string {
	if len(labels) == 0 {
		return nil
	}
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}
