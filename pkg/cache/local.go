package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"

	"github.com/wyfcoding/onlinestore/pkg/logger"
)

// LocalConfig 本地缓存层配置
type LocalConfig struct {
	// Ceiling 本地层 TTL 上限，同时作为 bigcache 的 LifeWindow
	Ceiling time.Duration
	// MaxMB 本地层容量上限
	MaxMB int
	// Shards 分片数，必须是 2 的幂
	Shards int
}

// LocalTier 基于 bigcache 的进程内缓存层，没有 tag 索引
type LocalTier struct {
	bc      *bigcache.BigCache
	ceiling time.Duration
}

// NewLocalTier 创建本地缓存层
func NewLocalTier(ctx context.Context, cfg LocalConfig) (*LocalTier, error) {
	if cfg.Ceiling <= 0 {
		cfg.Ceiling = 30 * time.Second
	}
	if cfg.Shards <= 0 {
		cfg.Shards = 64
	}
	if cfg.MaxMB <= 0 {
		cfg.MaxMB = 64
	}

	bcCfg := bigcache.DefaultConfig(cfg.Ceiling)
	bcCfg.Shards = cfg.Shards
	bcCfg.MaxEntriesInWindow = 10000
	bcCfg.MaxEntrySize = 512
	bcCfg.CleanWindow = cfg.Ceiling
	bcCfg.HardMaxCacheSize = cfg.MaxMB
	bcCfg.Verbose = false
	bcCfg.OnRemoveWithReason = func(key string, _ []byte, reason bigcache.RemoveReason) {
		if reason == bigcache.NoSpace {
			logger.Debug(context.Background(), "local cache entry dropped for space", "key", key)
		}
	}

	bc, err := bigcache.New(ctx, bcCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create local cache: %w", err)
	}
	return &LocalTier{bc: bc, ceiling: cfg.Ceiling}, nil
}

// Ceiling 返回本地层 TTL 上限
func (l *LocalTier) Ceiling() time.Duration {
	return l.ceiling
}

func (l *LocalTier) get(key string) (entry, bool) {
	raw, err := l.bc.Get(key)
	if err != nil {
		return entry{}, false
	}
	e, err := decodeEntry(raw)
	if err != nil {
		_ = l.bc.Delete(key)
		return entry{}, false
	}
	return e, true
}

func (l *LocalTier) set(key string, value []byte, expiresAt time.Time) {
	if err := l.bc.Set(key, encodeEntry(value, expiresAt)); err != nil {
		logger.Warn(context.Background(), "local cache set failed", "key", key, "error", err)
	}
}

func (l *LocalTier) delete(key string) {
	if err := l.bc.Delete(key); err != nil && !errors.Is(err, bigcache.ErrEntryNotFound) {
		logger.Warn(context.Background(), "local cache delete failed", "key", key, "error", err)
	}
}

// flush 清空整个本地层
func (l *LocalTier) flush() {
	if err := l.bc.Reset(); err != nil {
		logger.Warn(context.Background(), "local cache reset failed", "error", err)
	}
}

// Len 本地层条目数
func (l *LocalTier) Len() int {
	return l.bc.Len()
}

// Close 释放本地层资源
func (l *LocalTier) Close() error {
	return l.bc.Close()
}
