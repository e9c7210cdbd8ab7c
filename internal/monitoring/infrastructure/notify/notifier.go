// Package notify 告警通知网关客户端
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/wyfcoding/onlinestore/internal/monitoring/domain"
	"github.com/wyfcoding/onlinestore/pkg/logger"
)

// IdempotencyHeader 通知网关据此对重复投递去重
const IdempotencyHeader = "Idempotency-Key"

// WebhookConfig webhook 通知配置
type WebhookConfig struct {
	URL        string
	Timeout    time.Duration
	RetryCount int
	RetryWait  time.Duration
}

// WebhookNotifier 以 JSON POST 推送告警通知。5xx 与网络错误由 resty 重试
type WebhookNotifier struct {
	client *resty.Client
	url    string
}

func NewWebhookNotifier(cfg WebhookConfig) *WebhookNotifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.RetryCount < 0 {
		cfg.RetryCount = 0
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = 200 * time.Millisecond
	}
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(10 * cfg.RetryWait).
		SetHeader("Content-Type", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})
	return &WebhookNotifier{client: client, url: cfg.URL}
}

// Notify 实现 domain.Notifier
func (w *WebhookNotifier) Notify(ctx context.Context, n domain.AlertNotification) error {
	resp, err := w.client.R().
		SetContext(ctx).
		SetHeader(IdempotencyHeader, n.IdempotencyKey()).
		SetBody(n).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("webhook notify %s: %w", n.RuleID, err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook notify %s: status %d", n.RuleID, resp.StatusCode())
	}
	return nil
}

// LogNotifier 只写日志，未配置 webhook 时使用
type LogNotifier struct{}

// Notify 实现 domain.Notifier
func (LogNotifier) Notify(ctx context.Context, n domain.AlertNotification) error {
	if n.State == domain.StateFiring {
		logger.Warn(ctx, "alert firing", "rule_id", n.RuleID, "event_id", n.EventID, "severity", n.Severity, "message", n.Message)
		return nil
	}
	logger.Info(ctx, "alert resolved", "rule_id", n.RuleID, "event_id", n.EventID, "message", n.Message)
	return nil
}

// Multi 依次投递到每个 notifier，返回所有失败的合并错误
type Multi []domain.Notifier

// Notify 实现 domain.Notifier
func (m Multi) Notify(ctx context.Context, n domain.AlertNotification) error {
	var errs []error
	for _, notifier := range m {
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
