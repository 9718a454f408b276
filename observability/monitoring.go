package observability

import (
	"sync/atomic"
	"time"
)

// RelayStats is one snapshot of the relay's counters for logs and the
// debug inspector.
type RelayStats struct {
	ActiveSessions    int64   `json:"active_sessions"`
	SessionsCompleted uint64  `json:"sessions_completed"`
	SessionsFailed    uint64  `json:"sessions_failed"`
	ChunksForwarded   uint64  `json:"chunks_forwarded"`
	BytesRelayed      uint64  `json:"bytes_relayed"`
	DecodeFailures    uint64  `json:"decode_failures"`
	RelaySpeedMBs     float64 `json:"relay_speed_mbs"`
}

// MonitoringManager aggregates real-time relay telemetry.
// Counters are atomic: every chunk of every session touches them.
type MonitoringManager struct {
	activeSessions    int64
	sessionsCompleted uint64
	sessionsFailed    uint64
	chunksForwarded   uint64
	bytesRelayed      uint64
	decodeFailures    uint64

	lastCheck     atomic.Int64 // unix nanos of the previous snapshot
	lastBytesSeen atomic.Uint64
}

func NewMonitoringManager() *MonitoringManager {
	mm := &MonitoringManager{}
	mm.lastCheck.Store(time.Now().UnixNano())
	return mm
}

func (mm *MonitoringManager) SessionStarted() { atomic.AddInt64(&mm.activeSessions, 1) }

func (mm *MonitoringManager) SessionCompleted() {
	atomic.AddInt64(&mm.activeSessions, -1)
	atomic.AddUint64(&mm.sessionsCompleted, 1)
}

func (mm *MonitoringManager) SessionFailed() {
	atomic.AddInt64(&mm.activeSessions, -1)
	atomic.AddUint64(&mm.sessionsFailed, 1)
}

func (mm *MonitoringManager) ChunkForwarded(sizeBytes int) {
	atomic.AddUint64(&mm.chunksForwarded, 1)
	atomic.AddUint64(&mm.bytesRelayed, uint64(sizeBytes))
}

func (mm *MonitoringManager) IncrDecodeFailures() { atomic.AddUint64(&mm.decodeFailures, 1) }

// Snapshot derives the current stats including the relay throughput since
// the previous snapshot.
func (mm *MonitoringManager) Snapshot() RelayStats {
	now := time.Now().UnixNano()
	prev := mm.lastCheck.Swap(now)

	total := atomic.LoadUint64(&mm.bytesRelayed)
	prevBytes := mm.lastBytesSeen.Swap(total)

	elapsed := time.Duration(now - prev).Seconds()
	speed := 0.0
	if elapsed > 0 && total > prevBytes {
		speed = float64(total-prevBytes) / elapsed / (1024 * 1024)
	}

	return RelayStats{
		ActiveSessions:    atomic.LoadInt64(&mm.activeSessions),
		SessionsCompleted: atomic.LoadUint64(&mm.sessionsCompleted),
		SessionsFailed:    atomic.LoadUint64(&mm.sessionsFailed),
		ChunksForwarded:   atomic.LoadUint64(&mm.chunksForwarded),
		BytesRelayed:      total,
		DecodeFailures:    atomic.LoadUint64(&mm.decodeFailures),
		RelaySpeedMBs:     speed,
	}
}
