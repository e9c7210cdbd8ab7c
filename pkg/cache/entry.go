package cache

import (
	"encoding/binary"
	"errors"
	"time"
)

// entry 在两层缓存中存储的统一格式：8 字节过期时间（UnixNano）+ 原始值。
// 过期判断以注入的时钟为准，不依赖底层存储自身的过期机制。
type entry struct {
	expiresAt time.Time
	value     []byte
}

var errCorruptEntry = errors.New("cache: corrupt entry")

func encodeEntry(value []byte, expiresAt time.Time) []byte {
	buf := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(buf[:8], uint64(expiresAt.UnixNano()))
	copy(buf[8:], value)
	return buf
}

func decodeEntry(raw []byte) (entry, error) {
	if len(raw) < 8 {
		return entry{}, errCorruptEntry
	}
	ns := int64(binary.BigEndian.Uint64(raw[:8]))
	value := make([]byte, len(raw)-8)
	copy(value, raw[8:])
	return entry{expiresAt: time.Unix(0, ns), value: value}, nil
}

// expired 当 now 晚于 expiresAt 时条目失效
func (e entry) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}
