// Package cache 提供两级缓存：进程内 bigcache 本地层 + Redis 共享层，支持 tag 失效、熔断降级与命中统计
package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sony/gobreaker"

	"github.com/wyfcoding/onlinestore/pkg/logger"
)

// PersonalTTLCeiling 按调用者身份区分内容的缓存条目 TTL 上限
const PersonalTTLCeiling = 60 * time.Second

// ErrCacheUnavailable 共享层不可达（连接失败或熔断打开）。缓存从不因此失败，只降级
var ErrCacheUnavailable = errors.New("cache: shared tier unavailable")

// Options 缓存行为配置
type Options struct {
	// DefaultTTL Set 传入 ttl <= 0 时使用
	DefaultTTL time.Duration
	// BreakerFailures 共享层连续失败多少次后熔断
	BreakerFailures uint32
	// BreakerTimeout 熔断打开后多久进入半开
	BreakerTimeout time.Duration
	// Clock 注入的时钟，测试中使用 fake clock
	Clock clockwork.Clock
	// Stats 注入的统计对象
	Stats *Stats
}

// Cache 两级缓存。Get 先查本地层，再查共享层，共享层命中后以较短 TTL 回填本地层
type Cache struct {
	local      *LocalTier
	shared     SharedTier
	breaker    *gobreaker.CircuitBreaker
	clock      clockwork.Clock
	stats      *Stats
	defaultTTL time.Duration

	// fillMu 串行化回填与本地层清空，generation 在每次 tag 失效后递增
	fillMu     sync.RWMutex
	generation uint64
}

// New 创建缓存。shared 可以为 nil，此时只有本地层
func New(local *LocalTier, shared SharedTier, opts Options) *Cache {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Stats == nil {
		opts.Stats = NewStats()
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = 5 * time.Minute
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = 5
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = 10 * time.Second
	}

	c := &Cache{
		local:      local,
		shared:     shared,
		clock:      opts.Clock,
		stats:      opts.Stats,
		defaultTTL: opts.DefaultTTL,
	}
	if shared != nil {
		failures := opts.BreakerFailures
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "cache-shared-tier",
			MaxRequests: 1,
			Timeout:     opts.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn(context.Background(), "cache breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			},
		})
	}
	return c
}

// Stats 返回当前统计快照
func (c *Cache) Stats() StatsSnapshot {
	return c.stats.Snapshot()
}

// Get 读取缓存；第二个返回值为 false 表示 Miss
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	now := c.clock.Now()
	gen := c.currentGeneration()

	if c.local != nil {
		if e, ok := c.local.get(key); ok {
			if !e.expired(now) {
				c.stats.recordLocalHit()
				return e.value, true
			}
			c.local.delete(key)
			c.stats.recordEviction()
		}
	}

	raw, ok, err := c.sharedGet(ctx, key)
	if err != nil {
		logger.Warn(ctx, "cache shared tier get skipped", "key", key, "error", err)
	}
	if !ok {
		c.stats.recordMiss()
		return nil, false
	}

	e, err := decodeEntry(raw)
	if err != nil || e.expired(now) {
		if err == nil {
			c.stats.recordEviction()
		}
		c.sharedDelete(ctx, key)
		c.stats.recordMiss()
		return nil, false
	}

	if c.local != nil {
		localExpiry := e.expiresAt
		if ceiling := now.Add(c.local.Ceiling()); ceiling.Before(localExpiry) {
			localExpiry = ceiling
		}
		c.backfill(gen, key, e.value, localExpiry)
	}
	c.stats.recordSharedHit()
	return e.value, true
}

// Set 写入两层缓存：共享层使用完整 ttl，本地层使用 min(ttl, 本地上限)。
// 共享层不可用时跳过写入并记录告警
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	now := c.clock.Now()
	expiresAt := now.Add(ttl)

	if c.local != nil {
		localTTL := ttl
		if ceiling := c.local.Ceiling(); ceiling < localTTL {
			localTTL = ceiling
		}
		c.local.set(key, value, now.Add(localTTL))
	}

	if c.shared == nil {
		return
	}
	raw := encodeEntry(value, expiresAt)
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.shared.Set(ctx, key, raw, ttl, tags)
	})
	if err != nil {
		logger.Warn(ctx, "cache shared tier set skipped", "key", key, "error", c.unavailable(err))
	}
}

// SetPersonal 写入按调用者区分的条目：identity 进入 key，TTL 不超过 PersonalTTLCeiling
func (c *Cache) SetPersonal(ctx context.Context, identity, key string, value []byte, ttl time.Duration, tags ...string) {
	if ttl <= 0 || ttl > PersonalTTLCeiling {
		ttl = PersonalTTLCeiling
	}
	c.Set(ctx, PersonalKey(identity, key), value, ttl, tags...)
}

// GetPersonal 读取按调用者区分的条目
func (c *Cache) GetPersonal(ctx context.Context, identity, key string) ([]byte, bool) {
	return c.Get(ctx, PersonalKey(identity, key))
}

// PersonalKey 把调用者身份并入 key
func PersonalKey(identity, key string) string {
	return "u:" + identity + ":" + key
}

// Delete 删除两层中的 key
func (c *Cache) Delete(ctx context.Context, key string) {
	if c.local != nil {
		c.local.delete(key)
	}
	c.sharedDelete(ctx, key)
}

// InvalidateTag 删除共享层中带有 tag 的全部条目，再清空整个本地层（本地层没有 tag 索引）。
// 清空本地层时递增代数，读取期间发生失效的 Get 不会回填本地层。
// 共享层不可用时返回 ErrCacheUnavailable，本地层仍会被清空
func (c *Cache) InvalidateTag(ctx context.Context, tag string) error {
	var err error
	var res interface{}
	if c.shared != nil {
		res, err = c.breaker.Execute(func() (interface{}, error) {
			return c.shared.InvalidateTag(ctx, tag)
		})
	}
	c.flushLocal()

	if err != nil {
		err = c.unavailable(err)
		logger.Warn(ctx, "cache tag invalidation incomplete", "tag", tag, "error", err)
		return err
	}
	if c.shared != nil {
		logger.Debug(ctx, "cache tag invalidated", "tag", tag, "keys", res)
	}
	return nil
}

func (c *Cache) currentGeneration() uint64 {
	c.fillMu.RLock()
	defer c.fillMu.RUnlock()
	return c.generation
}

// backfill 仅当读取开始后没有发生过失效时回填本地层
func (c *Cache) backfill(gen uint64, key string, value []byte, expiresAt time.Time) {
	c.fillMu.RLock()
	defer c.fillMu.RUnlock()
	if c.generation != gen {
		return
	}
	c.local.set(key, value, expiresAt)
}

func (c *Cache) flushLocal() {
	c.fillMu.Lock()
	defer c.fillMu.Unlock()
	c.generation++
	if c.local != nil {
		c.local.flush()
	}
}

func (c *Cache) sharedGet(ctx context.Context, key string) ([]byte, bool, error) {
	if c.shared == nil {
		return nil, false, nil
	}
	type result struct {
		raw []byte
		ok  bool
	}
	res, err := c.breaker.Execute(func() (interface{}, error) {
		raw, ok, err := c.shared.Get(ctx, key)
		return result{raw: raw, ok: ok}, err
	})
	if err != nil {
		return nil, false, c.unavailable(err)
	}
	r := res.(result)
	return r.raw, r.ok, nil
}

func (c *Cache) sharedDelete(ctx context.Context, key string) {
	if c.shared == nil {
		return
	}
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.shared.Delete(ctx, key)
	})
	if err != nil {
		logger.Warn(ctx, "cache shared tier delete skipped", "key", key, "error", c.unavailable(err))
	}
}

func (c *Cache) unavailable(err error) error {
	return errors.Join(ErrCacheUnavailable, err)
}
