package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wyfcoding/onlinestore/pkg/logger"
)

// Config Redis 配置
type Config struct {
	Host         string
	Port         int
	Password     string
	DB           int
	MaxPoolSize  int
	ConnTimeout  int
	ReadTimeout  int
	WriteTimeout int
}

// NewRedisClient 创建 Redis 客户端并测试连接
func NewRedisClient(cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.MaxPoolSize,
		DialTimeout:  time.Duration(cfg.ConnTimeout) * time.Second,
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info(context.Background(), "Redis connected successfully", "addr", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port))
	return client, nil
}

// SharedTier 共享缓存层。miss 时返回 (nil, false, nil)，只有存储不可达才返回 error
type SharedTier interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string) error
	Delete(ctx context.Context, key string) error
	InvalidateTag(ctx context.Context, tag string) (int64, error)
}

// setWithTags 写入值并把 key 登记到每个 tag 集合，tag 集合的过期时间只会延长
var setWithTags = redis.NewScript(`
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
local ttl = tonumber(ARGV[2])
for i = 2, #KEYS do
	redis.call('SADD', KEYS[i], KEYS[1])
	if redis.call('PTTL', KEYS[i]) < ttl then
		redis.call('PEXPIRE', KEYS[i], ttl)
	end
end
return 1
`)

// invalidateTag 删除 tag 集合中的所有 key 以及集合本身
var invalidateTag = redis.NewScript(`
local members = redis.call('SMEMBERS', KEYS[1])
for _, k in ipairs(members) do
	redis.call('DEL', k)
end
redis.call('DEL', KEYS[1])
return #members
`)

// RedisTier 基于 Redis 的共享缓存层，tag 用 Set 维护反向索引
type RedisTier struct {
	client    redis.UniversalClient
	keyPrefix string
	tagPrefix string
}

// NewRedisTier 创建共享缓存层
func NewRedisTier(client redis.UniversalClient, namespace string) *RedisTier {
	if namespace == "" {
		namespace = "cache"
	}
	return &RedisTier{
		client:    client,
		keyPrefix: namespace + ":k:",
		tagPrefix: namespace + ":t:",
	}
}

// Get 获取缓存值
func (r *RedisTier) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, r.keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// Set 设置缓存值并登记 tag
func (r *RedisTier) Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string) error {
	keys := make([]string, 0, len(tags)+1)
	keys = append(keys, r.keyPrefix+key)
	for _, tag := range tags {
		keys = append(keys, r.tagPrefix+tag)
	}
	ms := ttl.Milliseconds()
	if ms <= 0 {
		ms = 1
	}
	return setWithTags.Run(ctx, r.client, keys, value, ms).Err()
}

// Delete 删除缓存
func (r *RedisTier) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.keyPrefix+key).Err()
}

// InvalidateTag 删除带有 tag 的全部条目，返回删除的 key 数量
func (r *RedisTier) InvalidateTag(ctx context.Context, tag string) (int64, error) {
	return invalidateTag.Run(ctx, r.client, []string{r.tagPrefix + tag}).Int64()
}
