// Package rules 从 YAML 文件加载告警规则
package rules

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wyfcoding/onlinestore/internal/monitoring/domain"
)

// ruleFile 规则文件格式
//
//	rules:
//	  - id: order-latency-p95
//	    metric: order_create_latency_seconds
//	    labels: {outcome: created}
//	    aggregation: p95
//	    window: 5m
//	    comparator: ">"
//	    threshold: 0.5
//	    for: 2m
//	    severity: warning
type ruleFile struct {
	Rules []ruleSpec `yaml:"rules"`
}

type ruleSpec struct {
	ID          string            `yaml:"id"`
	Metric      string            `yaml:"metric"`
	Labels      map[string]string `yaml:"labels"`
	Aggregation string            `yaml:"aggregation"`
	Window      string            `yaml:"window"`
	Comparator  string            `yaml:"comparator"`
	Threshold   float64           `yaml:"threshold"`
	For         string            `yaml:"for"`
	Severity    string            `yaml:"severity"`
	Enabled     *bool             `yaml:"enabled"`
	Summary     string            `yaml:"summary"`
}

// Parse 解析并校验规则。enabled 缺省为 true
func Parse(raw []byte) ([]*domain.Rule, error) {
	var f ruleFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}

	out := make([]*domain.Rule, 0, len(f.Rules))
	for i, s := range f.Rules {
		window, err := parseDuration(s.Window)
		if err != nil {
			return nil, fmt.Errorf("rule #%d (%s) window: %w", i, s.ID, err)
		}
		forDur, err := parseDuration(s.For)
		if err != nil {
			return nil, fmt.Errorf("rule #%d (%s) for: %w", i, s.ID, err)
		}
		rule := &domain.Rule{
			ID:          s.ID,
			Metric:      s.Metric,
			Labels:      s.Labels,
			Aggregation: domain.Aggregation(s.Aggregation),
			Window:      window,
			Comparator:  domain.Comparator(s.Comparator),
			Threshold:   s.Threshold,
			For:         forDur,
			Severity:    domain.Severity(s.Severity),
			Enabled:     s.Enabled == nil || *s.Enabled,
			Summary:     s.Summary,
		}
		if rule.Severity == "" {
			rule.Severity = domain.SeverityWarning
		}
		if err := rule.Validate(); err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// FileSource 从文件读取规则，每次 Load 重新读取
type FileSource struct {
	Path string
}

// Load 实现 domain.RuleSource
func (f FileSource) Load(_ context.Context) ([]*domain.Rule, error) {
	raw, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return Parse(raw)
}

// Defaults 未配置规则文件时使用的内置规则
func Defaults() []*domain.Rule {
	return []*domain.Rule{
		{
			ID:          "order-create-latency-p95",
			Metric:      "order_create_latency_seconds",
			Aggregation: domain.AggP95,
			Window:      5 * time.Minute,
			Comparator:  domain.CmpGT,
			Threshold:   1,
			For:         2 * time.Minute,
			Severity:    domain.SeverityWarning,
			Enabled:     true,
		},
		{
			ID:          "order-transient-errors",
			Metric:      "order_create_latency_seconds",
			Labels:      map[string]string{"outcome": "transient"},
			Aggregation: domain.AggCount,
			Window:      5 * time.Minute,
			Comparator:  domain.CmpGE,
			Threshold:   10,
			For:         time.Minute,
			Severity:    domain.SeverityCritical,
			Enabled:     true,
		},
		{
			ID:          "stock-compensation-failures",
			Metric:      "stock_compensation_failures",
			Aggregation: domain.AggCount,
			Window:      10 * time.Minute,
			Comparator:  domain.CmpGT,
			Threshold:   0,
			Severity:    domain.SeverityCritical,
			Enabled:     true,
		},
	}
}
