// Package application 订单编排：幂等创建、库存预占与补偿、状态流转
package application

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/wyfcoding/pkg/idgen"

	"github.com/wyfcoding/onlinestore/internal/order/domain"
	"github.com/wyfcoding/onlinestore/pkg/apperr"
	"github.com/wyfcoding/onlinestore/pkg/db"
	"github.com/wyfcoding/onlinestore/pkg/logger"
	"github.com/wyfcoding/onlinestore/pkg/metrics"
)

const maxIdempotencyKeyLen = 128

// CreateOrderCommand 创建订单命令
type CreateOrderCommand struct {
	IdempotencyKey string
	Items          []domain.Item
	// Timeout 调用方给定的超时，<= 0 时使用默认值
	Timeout time.Duration
}

// CreateOrderResult 创建结果。Replayed 为 true 表示命中幂等索引，返回的是既有订单
type CreateOrderResult struct {
	Order    *domain.Order
	Replayed bool
}

// Options 编排器配置
type Options struct {
	Retry               db.RetryPolicy
	DefaultTimeout      time.Duration
	CompensationTimeout time.Duration
	Clock               clockwork.Clock
	Metrics             *metrics.Metrics
	Recorder            MetricRecorder
	// NewOrderID 订单号生成器，默认使用雪花 ID
	NewOrderID func() string
}

// Orchestrator 订单编排器，是订单状态的唯一写入者
type Orchestrator struct {
	repo      domain.OrderRepository
	events    domain.EventPublisher
	tx        TxManager
	inventory Inventory
	cache     CacheInvalidator

	retry       db.RetryPolicy
	timeout     time.Duration
	compTimeout time.Duration
	clock       clockwork.Clock
	metrics     *metrics.Metrics
	recorder    MetricRecorder
	newOrderID  func() string
}

// NewOrchestrator 创建订单编排器。cache 可以为 nil
func NewOrchestrator(repo domain.OrderRepository, events domain.EventPublisher, tx TxManager, inventory Inventory, cache CacheInvalidator, opts Options) *Orchestrator {
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = db.DefaultRetryPolicy
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 5 * time.Second
	}
	if opts.CompensationTimeout <= 0 {
		opts.CompensationTimeout = 5 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.NewOrderID == nil {
		opts.NewOrderID = func() string { return "ORD" + strconv.FormatUint(idgen.GenID(), 10) }
	}
	return &Orchestrator{
		repo:        repo,
		events:      events,
		tx:          tx,
		inventory:   inventory,
		cache:       cache,
		retry:       opts.Retry,
		timeout:     opts.DefaultTimeout,
		compTimeout: opts.CompensationTimeout,
		clock:       opts.Clock,
		metrics:     opts.Metrics,
		recorder:    opts.Recorder,
		newOrderID:  opts.NewOrderID,
	}
}

// CreateOrder 每个幂等键至多创建一次订单。
// 流程：校验 -> 查幂等索引 -> 逐行预占库存 -> 单事务写订单/订单行/幂等索引/outbox -> 提交后失效缓存。
// 提交前的任何失败都会补偿已预占的库存
func (o *Orchestrator) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (res *CreateOrderResult, err error) {
	start := o.clock.Now()
	defer func() { o.observe(ctx, start, res, err) }()

	key := strings.TrimSpace(cmd.IdempotencyKey)
	if key == "" {
		return nil, apperr.Validation("missing_idempotency_key", "idempotency key is required")
	}
	if len(key) > maxIdempotencyKeyLen {
		return nil, apperr.Validation("invalid_idempotency_key", fmt.Sprintf("idempotency key longer than %d", maxIdempotencyKeyLen))
	}
	if err := domain.ValidateItems(cmd.Items); err != nil {
		return nil, err
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = o.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	hash := domain.RequestHash(cmd.Items)
	replay, err := o.replay(ctx, key, hash)
	if err != nil {
		return nil, o.classify(ctx, err)
	}
	if replay != nil {
		return replay, nil
	}

	order := domain.NewOrder(o.newOrderID(), key, cmd.Items, o.clock.Now())
	saga := newReservationSaga(o.inventory, o.retry, order.OrderID)
	for _, item := range order.Items {
		if err := saga.reserve(ctx, item); err != nil {
			o.compensate(ctx, saga)
			logger.Info(ctx, "order rejected", "idempotency_key", key, "product_id", item.ProductID, "error", err)
			return nil, o.classify(ctx, err)
		}
	}

	_, err = db.Retry(ctx, o.retry, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, o.tx.Transaction(ctx, func(txCtx context.Context) error {
			return o.persist(txCtx, order, hash)
		})
	})
	if err != nil {
		return o.resolveCommitFailure(ctx, order, hash, saga, err)
	}

	o.afterCommit(ctx, order)
	return &CreateOrderResult{Order: order}, nil
}

// replay 命中幂等索引时返回既有订单；同一键下载荷不一致视为冲突
func (o *Orchestrator) replay(ctx context.Context, key, hash string) (*CreateOrderResult, error) {
	rec, err := db.Retry(ctx, o.retry, func(ctx context.Context) (*domain.IdempotencyRecord, error) {
		return o.repo.FindIdempotency(ctx, key)
	})
	if err != nil || rec == nil {
		return nil, err
	}
	return o.replayRecord(ctx, rec, hash)
}

func (o *Orchestrator) replayRecord(ctx context.Context, rec *domain.IdempotencyRecord, hash string) (*CreateOrderResult, error) {
	if rec.RequestHash != hash {
		e := apperr.Conflict("idempotency_key_reused", "idempotency key was already used with a different request")
		e.IdempotencyKey = rec.Key
		return nil, e
	}
	existing, err := db.Retry(ctx, o.retry, func(ctx context.Context) (*domain.Order, error) {
		return o.repo.Get(ctx, rec.OrderID)
	})
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("idempotency key %s points to missing order %s", rec.Key, rec.OrderID)
	}
	logger.Info(ctx, "order replayed", "idempotency_key", rec.Key, "order_id", existing.OrderID)
	return &CreateOrderResult{Order: existing, Replayed: true}, nil
}

func (o *Orchestrator) persist(ctx context.Context, order *domain.Order, hash string) error {
	if err := o.repo.Save(ctx, order); err != nil {
		return err
	}
	if err := o.repo.SaveIdempotency(ctx, &domain.IdempotencyRecord{
		Key:         order.IdempotencyKey,
		OrderID:     order.OrderID,
		RequestHash: hash,
		CreatedAt:   order.CreatedAt,
	}); err != nil {
		return err
	}
	return o.events.PublishOrderCreated(ctx, domain.OrderCreatedEvent{
		OrderID:     order.OrderID,
		Items:       order.Items,
		TotalAmount: order.TotalAmount,
		Timestamp:   order.CreatedAt,
	})
}

// resolveCommitFailure 提交失败后的结果不确定：重新查询幂等索引。
// 索引指向本订单说明提交已生效；指向其他订单说明并发请求抢先，补偿后回放；不存在则补偿并上抛
func (o *Orchestrator) resolveCommitFailure(ctx context.Context, order *domain.Order, hash string, saga *reservationSaga, cause error) (*CreateOrderResult, error) {
	checkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.compTimeout)
	defer cancel()

	rec, err := db.Retry(checkCtx, o.retry, func(ctx context.Context) (*domain.IdempotencyRecord, error) {
		return o.repo.FindIdempotency(ctx, order.IdempotencyKey)
	})
	if err != nil {
		// 无法判断是否已提交时不补偿：补偿一个已提交的订单会导致超卖
		logger.Error(ctx, "order commit outcome unknown, manual reconciliation required",
			"order_id", order.OrderID,
			"idempotency_key", order.IdempotencyKey,
			"commit_error", cause,
			"check_error", err,
		)
		return nil, &apperr.Error{
			Kind:           apperr.KindTransient,
			Code:           "commit_outcome_unknown",
			Message:        "order outcome unknown, retry with the same idempotency key",
			IdempotencyKey: order.IdempotencyKey,
			RetryAfter:     o.retry.BaseDelay,
			Err:            cause,
		}
	}

	switch {
	case rec == nil:
		o.compensate(ctx, saga)
		return nil, o.classify(ctx, cause)
	case rec.OrderID == order.OrderID:
		logger.Warn(ctx, "order commit reported failure but was applied", "order_id", order.OrderID, "error", cause)
		o.afterCommit(checkCtx, order)
		return &CreateOrderResult{Order: order}, nil
	default:
		o.compensate(ctx, saga)
		res, err := o.replayRecord(checkCtx, rec, hash)
		if err != nil {
			return nil, o.classify(ctx, err)
		}
		return res, nil
	}
}

// compensate 在独立于请求超时的 context 中补偿
func (o *Orchestrator) compensate(ctx context.Context, saga *reservationSaga) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.compTimeout)
	defer cancel()
	if failed := saga.compensate(cctx); failed > 0 {
		logger.Error(ctx, "order rollback left unreleased stock", "order_id", saga.orderID, "failed", failed)
	}
}

func (o *Orchestrator) afterCommit(ctx context.Context, order *domain.Order) {
	logger.Info(ctx, "order created", "order_id", order.OrderID, "idempotency_key", order.IdempotencyKey, "total", order.TotalAmount.String())
	if o.cache == nil {
		return
	}
	ictx := context.WithoutCancel(ctx)
	for _, pid := range order.ProductIDs() {
		if err := o.cache.InvalidateTag(ictx, ProductTag(pid)); err != nil {
			logger.Warn(ctx, "product cache invalidation failed", "product_id", pid, "error", err)
		}
	}
}

// classify 把底层错误归入错误分类
func (o *Orchestrator) classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperr.As(err); ok {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || (errors.Is(err, context.Canceled) && ctx.Err() != nil) {
		return &apperr.Error{
			Kind:       apperr.KindTransient,
			Code:       "timeout",
			Message:    "order was not committed before the deadline",
			RetryAfter: o.retry.BaseDelay,
			Err:        err,
		}
	}
	if db.IsTransient(err) {
		return apperr.Transient(err, o.retry.BaseDelay)
	}
	return fmt.Errorf("create order: %w", err)
}

// Outcome 结果标签，用于指标
func Outcome(res *CreateOrderResult, err error) string {
	if err == nil {
		if res != nil && res.Replayed {
			return "replayed"
		}
		return "created"
	}
	return string(apperr.KindOf(err))
}

func (o *Orchestrator) observe(ctx context.Context, start time.Time, res *CreateOrderResult, err error) {
	elapsed := o.clock.Since(start)
	outcome := Outcome(res, err)
	if o.metrics != nil {
		o.metrics.OrdersTotal.WithLabelValues(outcome).Inc()
		o.metrics.OrderCreateDuration.Observe(elapsed.Seconds())
	}
	if o.recorder != nil {
		o.recorder.Record("order_create_latency_seconds", map[string]string{"outcome": outcome}, elapsed.Seconds())
	}
	if apperr.KindOf(err) == apperr.KindInternal && err != nil {
		logger.Error(ctx, "order creation failed", "error", err)
	}
}
