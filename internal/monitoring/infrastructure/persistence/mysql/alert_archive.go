// Package mysql 提供了告警归档的 GORM 实现
package mysql

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/wyfcoding/onlinestore/internal/monitoring/domain"
	"github.com/wyfcoding/onlinestore/pkg/db"
	"github.com/wyfcoding/onlinestore/pkg/logger"
)

// AlertEventModel 已恢复告警归档表
type AlertEventModel struct {
	ID             uint       `gorm:"primaryKey;autoIncrement"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
	EventID        string     `gorm:"column:event_id;type:varchar(36);uniqueIndex;not null"`
	RuleID         string     `gorm:"column:rule_id;type:varchar(100);index;not null"`
	Severity       string     `gorm:"column:severity;type:varchar(20)"`
	Value          float64    `gorm:"column:value"`
	FirstBreach    time.Time  `gorm:"column:first_breach;not null"`
	LastEvaluation time.Time  `gorm:"column:last_evaluation;not null"`
	FiredAt        *time.Time `gorm:"column:fired_at"`
	ResolvedAt     *time.Time `gorm:"column:resolved_at;index"`
}

// TableName 指定表名
func (AlertEventModel) TableName() string { return "alert_events" }

// AutoMigrate 建表
func AutoMigrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(&AlertEventModel{})
}

type alertArchiveImpl struct {
	db *gorm.DB
}

// NewAlertArchive 创建告警归档仓储
func NewAlertArchive(gdb *gorm.DB) domain.AlertArchive {
	return &alertArchiveImpl{db: gdb}
}

// Archive 写入归档。同一事件重复归档时忽略
func (r *alertArchiveImpl) Archive(ctx context.Context, ev *domain.AlertEvent) error {
	model := &AlertEventModel{
		EventID:        ev.EventID,
		RuleID:         ev.RuleID,
		Severity:       string(ev.Severity),
		Value:          ev.Value,
		FirstBreach:    ev.FirstBreach,
		LastEvaluation: ev.LastEvaluation,
		FiredAt:        ev.FiredAt,
		ResolvedAt:     ev.ResolvedAt,
	}
	err := db.Conn(ctx, r.db).Clauses(clause.OnConflict{DoNothing: true}).Create(model).Error
	if err != nil {
		logger.Error(ctx, "alert_archive.archive failed", "event_id", ev.EventID, "error", err)
		return fmt.Errorf("failed to archive alert: %w", err)
	}
	return nil
}

// ListByRule 按恢复时间倒序列出规则的历史告警
func (r *alertArchiveImpl) ListByRule(ctx context.Context, ruleID string, limit int) ([]*domain.AlertEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var models []AlertEventModel
	err := db.Conn(ctx, r.db).
		Where("rule_id = ?", ruleID).
		Order("resolved_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}

	out := make([]*domain.AlertEvent, len(models))
	for i, m := range models {
		out[i] = &domain.AlertEvent{
			EventID:        m.EventID,
			RuleID:         m.RuleID,
			Severity:       domain.Severity(m.Severity),
			State:          domain.StateResolved,
			Value:          m.Value,
			FirstBreach:    m.FirstBreach,
			LastEvaluation: m.LastEvaluation,
			FiredAt:        m.FiredAt,
			ResolvedAt:     m.ResolvedAt,
		}
	}
	return out, nil
}
