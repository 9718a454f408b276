package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// TransferCode is the short human-shareable token identifying a transfer.
// It is also the room name on the channel fabric and the session id of the
// single active relay session.
type TransferCode string

const TransferCodeLength = 8

// NewTransferCode derives a code the way the upload route always has:
// the first 8 characters of a v4 UUID, uppercased.
func NewTransferCode() TransferCode {
	return TransferCode(strings.ToUpper(uuid.NewString()[:TransferCodeLength]))
}

type TransferStatus string

const (
	TransferPending    TransferStatus = "pending"
	TransferInProgress TransferStatus = "in_progress"
	TransferCompleted  TransferStatus = "completed"
	TransferFailed     TransferStatus = "failed"
)

// rank orders statuses along the only legal direction of travel.
// Terminal statuses share a rank: completed never becomes failed or vice versa.
func (s TransferStatus) rank() int {
	switch s {
	case TransferPending:
		return 0
	case TransferInProgress:
		return 1
	case TransferCompleted, TransferFailed:
		return 2
	default:
		return -1
	}
}

// CanAdvanceTo reports whether moving to next respects the
// pending -> in_progress -> {completed, failed} lifecycle.
// Staying on the same status is allowed (idempotent writes).
func (s TransferStatus) CanAdvanceTo(next TransferStatus) bool {
	if s == next {
		return true
	}
	return next.rank() > s.rank()
}

func (s TransferStatus) IsTerminal() bool {
	return s == TransferCompleted || s == TransferFailed
}

// Transfer represents one file made available for sharing.
type Transfer struct {
	Code        TransferCode   `json:"code"`
	FileName    string         `json:"file_name"`
	FileRef     string         `json:"file_ref"`
	MimeType    string         `json:"mime_type"`
	SizeBytes   int64          `json:"size_bytes"`
	SenderID    string         `json:"sender_id"`
	RecipientID string         `json:"recipient_id,omitempty"`
	Status      TransferStatus `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}
