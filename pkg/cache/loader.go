package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/wyfcoding/onlinestore/pkg/logger"
)

// GetOrLoad 读穿缓存：命中则解码返回，未命中则调用 load 回源并写回缓存。
// 缓存内容无法解码时视为未命中，load 的错误原样返回且不写缓存
func GetOrLoad[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, tags []string, load func(ctx context.Context) (T, error)) (T, error) {
	if raw, ok := c.Get(ctx, key); ok {
		var v T
		if err := json.Unmarshal(raw, &v); err == nil {
			return v, nil
		}
		logger.Warn(ctx, "cache payload undecodable, reloading", "key", key)
		c.Delete(ctx, key)
	}

	v, err := load(ctx)
	if err != nil {
		return v, err
	}

	raw, err := json.Marshal(v)
	if err != nil {
		logger.Warn(ctx, "cache payload unencodable, skip set", "key", key, "error", err)
		return v, nil
	}
	c.Set(ctx, key, raw, ttl, tags...)
	return v, nil
}
