package relay

import (
	"context"
	"log/slog"
	"math"

	"transfer-relay/contract"
	"transfer-relay/domain"
	"transfer-relay/domain/event"
	"transfer-relay/repositories"
)

// Broadcaster derives and emits progress for every forwarded chunk.
// Percent is always recomputed from (chunkIndex, totalChunks); a
// client-supplied value is only compared against it for logging.
//
// Three emissions per chunk keep UI, persisted state and recipients
// consistent: the room broadcast (excluding the origin), the origin's own
// mirror, and the persisted session progress. Each is best-effort on its
// own; losing one must never block the other two.
type Broadcaster struct {
	fabric   contract.IChannelFabric
	sessions repositories.ISessionRepository
	log      *slog.Logger
}

func NewBroadcaster(fabric contract.IChannelFabric, sessions repositories.ISessionRepository, log *slog.Logger) Broadcaster {
	return Broadcaster{fabric: fabric, sessions: sessions, log: log}
}

// EmitChunk fans the sealed envelope out to the room and mirrors progress
// back to the origin. The returned error reflects the persistence write
// only: fan-out of in-flight chunks continues regardless, persisted and
// delivered state reconcile on the next successful write.
func (b Broadcaster) EmitChunk(ctx context.Context, code domain.TransferCode, payload string, chunkIndex, totalChunks int, origin string) error {
	progress := domain.ProgressPercent(chunkIndex, totalChunks)

	b.fabric.Broadcast(ctx, code, event.ChunkRelayed{
		Code:        code,
		Payload:     payload,
		ChunkIndex:  chunkIndex,
		TotalChunks: totalChunks,
		Progress:    progress,
		OriginConn:  origin,
	}, origin)

	progressed := event.TransferProgressed{
		Code:        code,
		Progress:    progress,
		ChunkIndex:  chunkIndex,
		TotalChunks: totalChunks,
	}
	b.fabric.Broadcast(ctx, code, progressed, origin)
	// The sender's own UI reflects progress identically to recipients
	b.fabric.Unicast(ctx, origin, progressed)

	return b.sessions.UpdateProgress(code, progress)
}

// CheckClientProgress flags a client percent that disagrees with the
// recomputed one. Informational only, the client value is never used.
func (b Broadcaster) CheckClientProgress(code domain.TransferCode, supplied float64, chunkIndex, totalChunks int) {
	if !domain.ValidProgress(supplied) {
		b.log.Warn("client progress out of range", "code", code, "supplied", supplied)
		return
	}
	derived := domain.ProgressPercent(chunkIndex, totalChunks)
	if math.Abs(derived-supplied) > 1.0 {
		b.log.Debug("client progress mismatch", "code", code, "supplied", supplied, "derived", derived)
	}
}
