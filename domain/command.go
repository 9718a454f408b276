package domain

// Command is an inbound intent from one connection, addressed to a transfer room.
type Command interface {
	TransferCode() TransferCode
	Origin() string
}

type JoinRoomCommand struct {
	Code   TransferCode
	ConnID string
}

func (c JoinRoomCommand) TransferCode() TransferCode { return c.Code }
func (c JoinRoomCommand) Origin() string             { return c.ConnID }

type InitiateTransferCommand struct {
	Code        TransferCode
	RecipientID string
	ConnID      string
}

func (c InitiateTransferCommand) TransferCode() TransferCode { return c.Code }
func (c InitiateTransferCommand) Origin() string             { return c.ConnID }

// RelayChunkCommand carries one sender-pushed chunk in client-relayed mode.
// The payload is plaintext base64 from the sender, not yet encrypted.
type RelayChunkCommand struct {
	Code        TransferCode
	Payload     string
	ChunkIndex  int
	TotalChunks int
	Progress    float64
	ConnID      string
}

func (c RelayChunkCommand) TransferCode() TransferCode { return c.Code }
func (c RelayChunkCommand) Origin() string             { return c.ConnID }

type AckCompleteCommand struct {
	Code   TransferCode
	ConnID string
}

func (c AckCompleteCommand) TransferCode() TransferCode { return c.Code }
func (c AckCompleteCommand) Origin() string             { return c.ConnID }
