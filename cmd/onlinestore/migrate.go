package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	catalogmysql "github.com/wyfcoding/onlinestore/internal/catalog/infrastructure/persistence/mysql"
	invmysql "github.com/wyfcoding/onlinestore/internal/inventory/infrastructure/persistence/mysql"
	monitoringmysql "github.com/wyfcoding/onlinestore/internal/monitoring/infrastructure/persistence/mysql"
	"github.com/wyfcoding/onlinestore/internal/order/infrastructure/messaging"
	ordermysql "github.com/wyfcoding/onlinestore/internal/order/infrastructure/persistence/mysql"
	"github.com/wyfcoding/onlinestore/internal/order/interfaces/events"
	"github.com/wyfcoding/onlinestore/pkg/logger"
)

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update all tables",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			database, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer database.Close()
			return migrate(cmd.Context(), database.DB)
		},
	}
}

// migrate 按依赖顺序建表
func migrate(ctx context.Context, gdb *gorm.DB) error {
	steps := []struct {
		name string
		fn   func(*gorm.DB) error
	}{
		{"inventory", invmysql.AutoMigrate},
		{"catalog", catalogmysql.AutoMigrate},
		{"order", ordermysql.AutoMigrate},
		{"outbox", messaging.AutoMigrate},
		{"order_events", events.AutoMigrate},
		{"alerts", monitoringmysql.AutoMigrate},
	}
	for _, s := range steps {
		if err := s.fn(gdb); err != nil {
			return fmt.Errorf("migrate %s: %w", s.name, err)
		}
	}
	logger.Info(ctx, "database migrated", "steps", len(steps))
	return nil
}
