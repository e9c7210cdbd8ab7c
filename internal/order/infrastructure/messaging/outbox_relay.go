package messaging

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"

	"github.com/wyfcoding/onlinestore/pkg/logger"
	"github.com/wyfcoding/onlinestore/pkg/mq"
)

// RelayConfig relay 配置
type RelayConfig struct {
	Topic        string
	BatchSize    int
	PollInterval time.Duration
	// Retention 已发送消息保留时长，超过后清理
	Retention time.Duration
}

// PublishObserver 发布成功的观察者
type PublishObserver interface {
	OutboxPublished(n int)
}

// OutboxRelay 轮询待发送消息并投递到消息总线，成功后标记为已发送。
// 投递与标记之间崩溃会导致重复投递，语义为至少一次
type OutboxRelay struct {
	db        *gorm.DB
	publisher mq.Publisher
	cfg       RelayConfig
	clock     clockwork.Clock
	observer  PublishObserver
}

// NewOutboxRelay 创建 relay。observer 可以为 nil
func NewOutboxRelay(db *gorm.DB, publisher mq.Publisher, cfg RelayConfig, clock clockwork.Clock, observer PublishObserver) *OutboxRelay {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &OutboxRelay{db: db, publisher: publisher, cfg: cfg, clock: clock, observer: observer}
}

// ProcessOutboxMessages 投递一批待发送消息，返回成功条数。
// 单条失败不阻塞后续消息，失败的消息保留 pending 状态等待下一轮
func (r *OutboxRelay) ProcessOutboxMessages(ctx context.Context) (int, error) {
	var messages []OutboxMessage
	if err := r.db.WithContext(ctx).
		Where("status = ?", statusPending).
		Order("created_at").
		Limit(r.cfg.BatchSize).
		Find(&messages).Error; err != nil {
		return 0, err
	}

	sent := 0
	for _, message := range messages {
		err := r.publisher.Publish(ctx, r.cfg.Topic, message.AggregateID, []byte(message.Payload),
			mq.Header{Key: "event_id", Value: message.EventID},
			mq.Header{Key: "event_type", Value: message.EventType},
		)
		if err != nil {
			logger.Warn(ctx, "outbox publish failed",
				"event_id", message.EventID,
				"event_type", message.EventType,
				"error", err,
			)
			if uerr := r.db.WithContext(ctx).Model(&OutboxMessage{}).Where("id = ?", message.ID).Updates(map[string]any{
				"attempts":   gorm.Expr("attempts + 1"),
				"last_error": err.Error(),
				"updated_at": r.clock.Now(),
			}).Error; uerr != nil {
				return sent, uerr
			}
			continue
		}

		if err := r.db.WithContext(ctx).Model(&OutboxMessage{}).Where("id = ?", message.ID).Updates(map[string]any{
			"status":     statusSent,
			"updated_at": r.clock.Now(),
		}).Error; err != nil {
			return sent, err
		}
		sent++
	}

	if sent > 0 && r.observer != nil {
		r.observer.OutboxPublished(sent)
	}
	return sent, nil
}

// CleanupProcessedMessages 清理已处理的消息
func (r *OutboxRelay) CleanupProcessedMessages(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("status = ? AND updated_at < ?", statusSent, before).Delete(&OutboxMessage{})
	return res.RowsAffected, res.Error
}

// Run 按固定间隔投递，直到 ctx 取消
func (r *OutboxRelay) Run(ctx context.Context) error {
	ticker := r.clock.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	lastCleanup := r.clock.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			if _, err := r.ProcessOutboxMessages(ctx); err != nil && ctx.Err() == nil {
				logger.Error(ctx, "outbox relay batch failed", "error", err)
			}
			if now := r.clock.Now(); now.Sub(lastCleanup) >= time.Hour {
				lastCleanup = now
				if n, err := r.CleanupProcessedMessages(ctx, now.Add(-r.cfg.Retention)); err != nil {
					logger.Warn(ctx, "outbox cleanup failed", "error", err)
				} else if n > 0 {
					logger.Info(ctx, "outbox cleaned", "deleted", n)
				}
			}
		}
	}
}
