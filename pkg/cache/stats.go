package cache

import "sync/atomic"

// Stats 缓存统计计数器，由调用方创建后注入 Cache，测试可以各自持有独立实例。
// 所有计数只在 Get 路径上变化，Set/Delete/InvalidateTag 属于写操作，不计入请求数。
type Stats struct {
	hits          atomic.Int64
	misses        atomic.Int64
	evictions     atomic.Int64
	totalRequests atomic.Int64
	localHits     atomic.Int64
	sharedHits    atomic.Int64
}

// StatsSnapshot 某一时刻的统计快照
type StatsSnapshot struct {
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Evictions     int64 `json:"evictions"`
	TotalRequests int64 `json:"total_requests"`
	LocalHits     int64 `json:"local_hits"`
	SharedHits    int64 `json:"shared_hits"`
}

// NewStats 创建统计对象
func NewStats() *Stats {
	return &Stats{}
}

// HitRate 命中率，无请求时为 0
func (s StatsSnapshot) HitRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.TotalRequests)
}

// Snapshot 读取当前计数。并发 Get 进行中时各字段可能分属不同时刻
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Hits:          s.hits.Load(),
		Misses:        s.misses.Load(),
		Evictions:     s.evictions.Load(),
		TotalRequests: s.totalRequests.Load(),
		LocalHits:     s.localHits.Load(),
		SharedHits:    s.sharedHits.Load(),
	}
}

func (s *Stats) recordLocalHit() {
	s.totalRequests.Add(1)
	s.hits.Add(1)
	s.localHits.Add(1)
}

func (s *Stats) recordSharedHit() {
	s.totalRequests.Add(1)
	s.hits.Add(1)
	s.sharedHits.Add(1)
}

func (s *Stats) recordMiss() {
	s.totalRequests.Add(1)
	s.misses.Add(1)
}

func (s *Stats) recordEviction() {
	s.evictions.Add(1)
}
