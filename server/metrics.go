package server

import (
	"sync/atomic"
)

// RoomMetrics 记录房间运行期的关键指标（用于监控与调试）
type RoomMetrics struct {
	TickCount        int64 // 统计的 Tick 次数
	InputsAccepted   int64 // 被应用的输入数
	InputsRejected   int64 // 被 ValidateInput 拒绝的输入数
	OldSeqIgnored    int64 // 因旧序列被忽略的输入数
	UnknownEntity    int64 // 目标实体不存在（已断开）的输入数
	QueueOverflow    int64 // 因输入队列满被丢弃的输入数
	DropsSimulated   int64 // 因模拟丢包被丢弃的输入数
	SnapshotsSent    int64 // 广播的快照数
	SnapshotsDropped int64 // 出站延迟缓冲满时淘汰的快照数
	Registrations    int64
	Disconnects      int64
	Entities         int64 // 当前在线实体数
	TotalTickNs      int64 // Tick 累计耗时（纳秒）
}

func (m *RoomMetrics) IncAccepted()         { atomic.AddInt64(&m.InputsAccepted, 1) }
func (m *RoomMetrics) IncRejected()         { atomic.AddInt64(&m.InputsRejected, 1) }
func (m *RoomMetrics) IncOldSeqIgnored()    { atomic.AddInt64(&m.OldSeqIgnored, 1) }
func (m *RoomMetrics) IncUnknownEntity()    { atomic.AddInt64(&m.UnknownEntity, 1) }
func (m *RoomMetrics) IncQueueOverflow()    { atomic.AddInt64(&m.QueueOverflow, 1) }
func (m *RoomMetrics) IncDropsSimulated()   { atomic.AddInt64(&m.DropsSimulated, 1) }
func (m *RoomMetrics) IncSnapshots()        { atomic.AddInt64(&m.SnapshotsSent, 1) }
func (m *RoomMetrics) IncSnapshotsDropped() { atomic.AddInt64(&m.SnapshotsDropped, 1) }
func (m *RoomMetrics) IncRegistrations()    { atomic.AddInt64(&m.Registrations, 1) }
func (m *RoomMetrics) IncDisconnects()      { atomic.AddInt64(&m.Disconnects, 1) }
func (m *RoomMetrics) SetEntities(n int)    { atomic.StoreInt64(&m.Entities, int64(n)) }
func (m *RoomMetrics) AddTick(ns int64) {
	atomic.AddInt64(&m.TickCount, 1)
	atomic.AddInt64(&m.TotalTickNs, ns)
}

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *RoomMetrics) Snapshot() map[string]any {
	tick := atomic.LoadInt64(&m.TickCount)
	total := atomic.LoadInt64(&m.TotalTickNs)
	var avgMs float64
	if tick > 0 {
		avgMs = float64(total) / float64(tick) / 1e6
	}
	return map[string]any{
		"tick_count":        tick,
		"inputs_accepted":   atomic.LoadInt64(&m.InputsAccepted),
		"inputs_rejected":   atomic.LoadInt64(&m.InputsRejected),
		"old_seq_ignored":   atomic.LoadInt64(&m.OldSeqIgnored),
		"unknown_entity":    atomic.LoadInt64(&m.UnknownEntity),
		"queue_overflow":    atomic.LoadInt64(&m.QueueOverflow),
		"drops_simulated":   atomic.LoadInt64(&m.DropsSimulated),
		"snapshots_sent":    atomic.LoadInt64(&m.SnapshotsSent),
		"snapshots_dropped": atomic.LoadInt64(&m.SnapshotsDropped),
		"registrations":     atomic.LoadInt64(&m.Registrations),
		"disconnects":       atomic.LoadInt64(&m.Disconnects),
		"entities":          atomic.LoadInt64(&m.Entities),
		"avg_tick_ms":       avgMs,
	}
}
