package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	catalogapp "github.com/wyfcoding/onlinestore/internal/catalog/application"
	catalogmysql "github.com/wyfcoding/onlinestore/internal/catalog/infrastructure/persistence/mysql"
	cataloghttp "github.com/wyfcoding/onlinestore/internal/catalog/interfaces/http"
	invapp "github.com/wyfcoding/onlinestore/internal/inventory/application"
	invmysql "github.com/wyfcoding/onlinestore/internal/inventory/infrastructure/persistence/mysql"
	invhttp "github.com/wyfcoding/onlinestore/internal/inventory/interfaces/http"
	monitoringapp "github.com/wyfcoding/onlinestore/internal/monitoring/application"
	"github.com/wyfcoding/onlinestore/internal/monitoring/domain"
	"github.com/wyfcoding/onlinestore/internal/monitoring/infrastructure/notify"
	monitoringmysql "github.com/wyfcoding/onlinestore/internal/monitoring/infrastructure/persistence/mysql"
	"github.com/wyfcoding/onlinestore/internal/monitoring/infrastructure/rules"
	monitoringhttp "github.com/wyfcoding/onlinestore/internal/monitoring/interfaces/http"
	orderapp "github.com/wyfcoding/onlinestore/internal/order/application"
	"github.com/wyfcoding/onlinestore/internal/order/infrastructure/messaging"
	ordermysql "github.com/wyfcoding/onlinestore/internal/order/infrastructure/persistence/mysql"
	"github.com/wyfcoding/onlinestore/internal/order/interfaces/events"
	orderhttp "github.com/wyfcoding/onlinestore/internal/order/interfaces/http"
	"github.com/wyfcoding/onlinestore/pkg/cache"
	"github.com/wyfcoding/onlinestore/pkg/config"
	"github.com/wyfcoding/onlinestore/pkg/db"
	"github.com/wyfcoding/onlinestore/pkg/logger"
	"github.com/wyfcoding/onlinestore/pkg/metrics"
	"github.com/wyfcoding/onlinestore/pkg/middleware"
	"github.com/wyfcoding/onlinestore/pkg/mq"
	"github.com/wyfcoding/onlinestore/pkg/ratelimit"
)

const shutdownTimeout = 10 * time.Second

func serveCmd(configPath *string) *cobra.Command {
	var autoMigrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP, gRPC health and background workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, autoMigrate)
		},
	}
	cmd.Flags().BoolVar(&autoMigrate, "migrate", true, "run migrations before serving")
	return cmd
}

// loadConfig 加载配置并初始化全局日志
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		Output:     cfg.Logger.Output,
		FilePath:   cfg.Logger.FilePath,
		MaxSize:    cfg.Logger.MaxSize,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAge:     cfg.Logger.MaxAge,
		Compress:   cfg.Logger.Compress,
		WithCaller: cfg.Logger.WithCaller,
	}); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, nil
}

func openDatabase(cfg *config.Config) (*db.DB, error) {
	return db.Init(db.Config{
		Driver:             cfg.Database.Driver,
		DSN:                cfg.Database.DSN,
		MaxOpenConns:       cfg.Database.MaxOpenConns,
		MaxIdleConns:       cfg.Database.MaxIdleConns,
		ConnMaxLifetime:    cfg.Database.ConnMaxLifetime,
		LogEnabled:         cfg.Database.LogEnabled,
		SlowQueryThreshold: cfg.Database.SlowQueryThreshold,
	})
}

// openRedis Redis 不可用时返回 nil，服务降级为仅本地缓存与本地限流
func openRedis(ctx context.Context, cfg *config.Config) *redis.Client {
	if cfg.Redis.Host == "" {
		return nil
	}
	client, err := cache.NewRedisClient(cache.Config{
		Host:         cfg.Redis.Host,
		Port:         cfg.Redis.Port,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		MaxPoolSize:  cfg.Redis.MaxPoolSize,
		ConnTimeout:  cfg.Redis.ConnTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	if err != nil {
		logger.Warn(ctx, "redis unavailable, running with local cache only", "error", err)
		return nil
	}
	return client
}

func kafkaConfig(cfg *config.Config) mq.KafkaConfig {
	return mq.KafkaConfig{
		Brokers:      cfg.Kafka.Brokers,
		GroupID:      cfg.ServiceName,
		MaxRetries:   cfg.Kafka.MaxRetries,
		RetryBackoff: cfg.Kafka.RetryBackoff,
	}
}

// loadRules 配置了规则文件时从文件加载，并作为热加载来源；否则使用内置规则
func loadRules(ctx context.Context, cfg *config.Config) ([]*domain.Rule, domain.RuleSource, error) {
	if cfg.Alert.RulesFile == "" {
		return rules.Defaults(), nil, nil
	}
	source := rules.FileSource{Path: cfg.Alert.RulesFile}
	loaded, err := source.Load(ctx)
	if err != nil {
		return nil, nil, err
	}
	return loaded, source, nil
}

func serve(parent context.Context, cfg *config.Config, autoMigrate bool) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	clock := clockwork.NewRealClock()

	// 1. 数据库
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()
	if autoMigrate {
		if err := migrate(ctx, database.DB); err != nil {
			return err
		}
	}

	// 2. 指标
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(cfg.ServiceName)
	if err := m.Register(reg); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	store := monitoringapp.NewMetricStore(monitoringapp.StoreOptions{
		Retention: cfg.MetricRetention(),
		Clock:     clock,
		Exporter:  metrics.NewExporter(reg, nil),
	})

	// 3. 二级缓存
	local, err := cache.NewLocalTier(ctx, cache.LocalConfig{
		Ceiling: time.Duration(cfg.Cache.LocalCeilingSeconds) * time.Second,
		MaxMB:   cfg.Cache.LocalMaxMB,
	})
	if err != nil {
		return fmt.Errorf("init local cache: %w", err)
	}
	defer local.Close()
	rdb := openRedis(ctx, cfg)
	var shared cache.SharedTier
	if rdb != nil {
		defer rdb.Close()
		shared = cache.NewRedisTier(rdb, cfg.ServiceName)
	}
	c := cache.New(local, shared, cache.Options{
		DefaultTTL:      cfg.CacheDefaultTTL(),
		BreakerFailures: uint32(cfg.Cache.BreakerFailures),
		BreakerTimeout:  time.Duration(cfg.Cache.BreakerTimeoutSeconds) * time.Second,
		Clock:           clock,
	})

	// 4. 库存台账与商品目录
	ledger := invapp.NewLedger(
		invmysql.NewStockRepository(database.DB),
		invmysql.NewReconciliationRepository(database.DB),
		c,
		monitoringapp.NewCompensationObserver(store, m),
	)
	productRepo := catalogmysql.NewProductRepository(database.DB)
	catalogCmd := catalogapp.NewCatalogCommandService(productRepo, ledger, database, c)
	catalogQuery := catalogapp.NewCatalogQueryService(productRepo, ledger, c, cfg.CacheDefaultTTL())

	// 5. 下单编排
	orderRepo := ordermysql.NewOrderRepository(database.DB)
	outbox := messaging.NewOutboxEventPublisher(database.DB)
	orchestrator := orderapp.NewOrchestrator(orderRepo, outbox, database, ledger, c, orderapp.Options{
		Retry: db.RetryPolicy{
			MaxAttempts: cfg.Order.RetryMax,
			BaseDelay:   time.Duration(cfg.Order.RetryBaseMS) * time.Millisecond,
			MaxDelay:    db.DefaultRetryPolicy.MaxDelay,
		},
		DefaultTimeout: time.Duration(cfg.Order.CreateTimeoutMS) * time.Millisecond,
		Clock:          clock,
		Metrics:        m,
		Recorder:       store,
	})
	orderCmd := orderapp.NewOrderCommandService(orderRepo, outbox, database, ledger, c, clock)
	orderQuery := orderapp.NewOrderQueryService(orderRepo)

	// 6. 告警引擎
	ruleSet, ruleSource, err := loadRules(ctx, cfg)
	if err != nil {
		return fmt.Errorf("load alert rules: %w", err)
	}
	notifier := notify.Multi{notify.LogNotifier{}}
	if cfg.Alert.WebhookURL != "" {
		notifier = append(notifier, notify.NewWebhookNotifier(notify.WebhookConfig{URL: cfg.Alert.WebhookURL, RetryCount: 3}))
	}
	archive := monitoringmysql.NewAlertArchive(database.DB)
	engine := monitoringapp.NewAlertEngine(store, notifier, archive, monitoringapp.EngineOptions{
		Interval: cfg.AlertTickInterval(),
		Clock:    clock,
		Metrics:  m,
	})
	if err := engine.SetRules(ctx, ruleSet); err != nil {
		return fmt.Errorf("apply alert rules: %w", err)
	}

	// 7. HTTP
	gin.SetMode(gin.ReleaseMode)
	var limiter ratelimit.RateLimiter = ratelimit.NewLocalRateLimiter()
	if rdb != nil {
		limiter = ratelimit.NewRedisRateLimiter(rdb)
	}
	r := gin.New()
	r.Use(
		middleware.GinRecoveryMiddleware(),
		middleware.GinLoggingMiddleware(),
		middleware.GinMetricsMiddleware(m),
		middleware.RateLimitMiddleware(limiter, cfg.RateLimit),
	)
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "UP"}) })
	orderhttp.NewOrderHandler(orchestrator, orderCmd, orderQuery).RegisterRoutes(&r.RouterGroup)
	cataloghttp.NewCatalogHandler(catalogCmd, catalogQuery).RegisterRoutes(&r.RouterGroup)
	invhttp.NewInventoryHandler(ledger).RegisterRoutes(&r.RouterGroup)
	monitoringhttp.NewMonitoringHandler(engine, store, archive, ruleSource).RegisterRoutes(&r.RouterGroup)

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}

	// 8. gRPC 健康检查
	grpcSrv := grpc.NewServer(grpc.UnaryInterceptor(middleware.GRPCLoggingInterceptor()))
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	// 9. 启动
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info(ctx, "HTTP server starting", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cfg.GRPC.Port > 0 {
		g.Go(func() error {
			lis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.GRPC.Host, cfg.GRPC.Port))
			if err != nil {
				return err
			}
			logger.Info(ctx, "gRPC server starting", "addr", lis.Addr().String())
			return grpcSrv.Serve(lis)
		})
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		metricsSrv = metrics.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, reg)
		g.Go(func() error {
			logger.Info(ctx, "metrics server starting", "addr", metricsSrv.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		return store.Run(ctx, time.Duration(cfg.MetricStore.SweepIntervalSeconds)*time.Second)
	})
	g.Go(func() error { return engine.Run(ctx) })
	g.Go(func() error {
		return monitoringapp.NewCacheStatsSampler(c.Stats, store, m, clock).Run(ctx, 15*time.Second)
	})

	if len(cfg.Kafka.Brokers) > 0 {
		producer := mq.NewProducer(kafkaConfig(cfg))
		defer producer.Close()
		relay := messaging.NewOutboxRelay(database.DB, producer, messaging.RelayConfig{
			Topic:        cfg.Outbox.Topic,
			BatchSize:    cfg.Outbox.BatchSize,
			PollInterval: time.Duration(cfg.Outbox.PollIntervalMS) * time.Millisecond,
		}, clock, monitoringapp.NewOutboxObserver(store, m))
		g.Go(func() error { return relay.Run(ctx) })

		consumer := mq.NewConsumer(kafkaConfig(cfg), cfg.Outbox.Topic)
		defer consumer.Close()
		eventsHandler := events.NewOrderEventsHandler(database.DB, store)
		g.Go(func() error { return eventsHandler.Run(ctx, consumer) })
	} else {
		logger.Warn(ctx, "kafka brokers not configured, order events stay in outbox")
	}

	// 10. 优雅关闭
	g.Go(func() error {
		<-ctx.Done()
		logger.Info(context.Background(), "shutting down servers...")
		healthSrv.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error(shutdownCtx, "http shutdown failed", "error", err)
		}
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(shutdownCtx)
		}
		grpcSrv.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error(context.Background(), "server exited with error", "error", err)
		return err
	}
	return nil
}
