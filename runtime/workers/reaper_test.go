package workers

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"transfer-relay/domain"
)

type stubSessions struct {
	active []domain.TransferSession
}

func (s stubSessions) CreateSession(domain.TransferCode, string) (domain.TransferSession, error) {
	panic("not used")
}
func (s stubSessions) Get(domain.TransferCode) (domain.TransferSession, error) { panic("not used") }
func (s stubSessions) UpdateProgress(domain.TransferCode, float64) error       { panic("not used") }
func (s stubSessions) CompleteSession(domain.TransferCode) (domain.TransferSession, bool, error) {
	panic("not used")
}
func (s stubSessions) FailSession(domain.TransferCode, string) (domain.TransferSession, bool, error) {
	panic("not used")
}
func (s stubSessions) ActiveSessions() ([]domain.TransferSession, error) { return s.active, nil }

type recordingExpirer struct {
	mu      sync.Mutex
	expired []domain.TransferCode
}

func (e *recordingExpirer) Expire(_ context.Context, code domain.TransferCode, _ time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.expired = append(e.expired, code)
}

func (e *recordingExpirer) snapshot() []domain.TransferCode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.TransferCode(nil), e.expired...)
}

func TestReaperExpiresOnlyIdleSessions(t *testing.T) {
	req := require.New(t)
	now := time.Now().UTC()

	sessions := stubSessions{active: []domain.TransferSession{
		{SessionID: "STALE001", Status: domain.SessionActive, UpdatedAt: now.Add(-10 * time.Minute)},
		{SessionID: "FRESH002", Status: domain.SessionActive, UpdatedAt: now},
	}}
	expirer := &recordingExpirer{}

	reaper := NewReaperWorker(sessions, expirer, 5*time.Minute, 10*time.Millisecond, slog.Default())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := reaper.Run(ctx)
	req.ErrorIs(err, context.DeadlineExceeded)

	expired := expirer.snapshot()
	req.NotEmpty(expired)
	for _, code := range expired {
		req.Equal(domain.TransferCode("STALE001"), code)
	}
}
