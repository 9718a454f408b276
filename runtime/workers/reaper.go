package workers

import (
	"context"
	"log/slog"
	"time"

	"transfer-relay/domain"
	"transfer-relay/repositories"
)

// SessionExpirer fails one idle session with full side effects: registry
// update, room notification and metrics.
type SessionExpirer interface {
	Expire(ctx context.Context, code domain.TransferCode, idleFor time.Duration)
}

// ReaperWorker collects sessions abandoned mid-stream. A sender that
// disconnects in client-relayed mode leaves its session active with nothing
// feeding it; once the last progress write is older than the idle timeout
// the session is failed so the transfer can be re-initiated.
type ReaperWorker struct {
	sessions    repositories.ISessionRepository
	expirer     SessionExpirer
	idleTimeout time.Duration
	interval    time.Duration
	log         *slog.Logger
}

func NewReaperWorker(
	sessions repositories.ISessionRepository,
	expirer SessionExpirer,
	idleTimeout time.Duration,
	interval time.Duration,
	log *slog.Logger,
) *ReaperWorker {
	return &ReaperWorker{
		sessions:    sessions,
		expirer:     expirer,
		idleTimeout: idleTimeout,
		interval:    interval,
		log:         log,
	}
}

func (w *ReaperWorker) Run(ctx context.Context) error {
	w.log.Info("Starting session reaper", "idle_timeout", w.idleTimeout, "interval", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *ReaperWorker) sweep(ctx context.Context) {
	active, err := w.sessions.ActiveSessions()
	if err != nil {
		w.log.Error("Listing active sessions failed", "error", err)
		return
	}

	now := time.Now().UTC()
	for _, session := range active {
		idleFor := now.Sub(session.UpdatedAt)
		if idleFor < w.idleTimeout {
			continue
		}
		w.log.Warn("Reaping idle session", "code", session.SessionID, "idle_for", idleFor)
		w.expirer.Expire(ctx, session.SessionID, idleFor)
	}
}
