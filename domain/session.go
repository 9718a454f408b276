package domain

import "time"

type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

func (s SessionStatus) IsTerminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

// TransferSession represents one concrete relay attempt for a Transfer.
// Its id equals the owning transfer's code: one active session per transfer.
// A retried transfer creates a fresh session, terminal ones are never resurrected.
type TransferSession struct {
	SessionID       TransferCode  `json:"session_id"`
	ChannelIdentity string        `json:"channel_identity"`
	Status          SessionStatus `json:"status"`
	Progress        float64       `json:"progress"`
	FailureReason   string        `json:"failure_reason,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}
