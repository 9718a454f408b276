package event

import (
	"time"

	"transfer-relay/domain"
)

type DomainEvent interface {
	TransferCode() domain.TransferCode
}

type TransferInitiated struct {
	Code        domain.TransferCode
	RecipientID string
	At          time.Time
}

func (e TransferInitiated) TransferCode() domain.TransferCode { return e.Code }

// ChunkRelayed carries one already-encoded envelope payload on its way to
// the room. OriginConn is excluded from the room broadcast and receives the
// progress mirror instead.
type ChunkRelayed struct {
	Code        domain.TransferCode
	Payload     string
	ChunkIndex  int
	TotalChunks int
	Progress    float64
	OriginConn  string
}

func (e ChunkRelayed) TransferCode() domain.TransferCode { return e.Code }

type TransferProgressed struct {
	Code        domain.TransferCode
	Progress    float64
	ChunkIndex  int
	TotalChunks int
}

func (e TransferProgressed) TransferCode() domain.TransferCode { return e.Code }

type TransferCompleted struct {
	Code domain.TransferCode
	At   time.Time
}

func (e TransferCompleted) TransferCode() domain.TransferCode { return e.Code }

// TransferFailed carries a stable machine-checkable kind. The human detail
// stays on the initiator's unicast, recipients only see the generic event.
type TransferFailed struct {
	Code domain.TransferCode
	Kind string
}

func (e TransferFailed) TransferCode() domain.TransferCode { return e.Code }

// TransferResponse is the unicast answer to an initiation attempt.
// Kind is empty on success and machine-checkable on rejection.
type TransferResponse struct {
	Code    domain.TransferCode
	Success bool
	Message string
	Kind    string
}

func (e TransferResponse) TransferCode() domain.TransferCode { return e.Code }

type TransferAcknowledged struct {
	Code domain.TransferCode
}

func (e TransferAcknowledged) TransferCode() domain.TransferCode { return e.Code }
