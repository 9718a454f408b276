package fabric

import (
	"encoding/json"

	"transfer-relay/domain/event"
)

// Wire event names. Inbound come from clients, outbound go to rooms or as
// unicasts; both ingestion modes produce the same outbound shapes so
// recipient-side code never knows where bytes originated.
const (
	EventJoinRoom         = "join_room"
	EventInitiateTransfer = "initiate_transfer"
	EventRelayChunk       = "relay_chunk"
	EventAckComplete      = "ack_complete"

	EventTransferInitiated    = "transfer_initiated"
	EventTransferResponse     = "transfer_response"
	EventReceiveChunk         = "receive_chunk"
	EventTransferProgress     = "transfer_progress"
	EventTransferComplete     = "transfer_complete"
	EventTransferError        = "transfer_error"
	EventTransferAcknowledged = "transfer_acknowledged"
)

// Frame is the JSON envelope every websocket message travels in.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type JoinRoomPayload struct {
	TransferCode string `json:"transferCode"`
}

type InitiatePayload struct {
	TransferCode string `json:"transferCode"`
	RecipientID  string `json:"recipientId"`
}

type RelayChunkPayload struct {
	TransferCode string  `json:"transferCode"`
	Chunk        string  `json:"chunk"`
	ChunkIndex   int     `json:"chunkIndex"`
	TotalChunks  int     `json:"totalChunks"`
	Progress     float64 `json:"progress"`
}

type AckCompletePayload struct {
	TransferCode string `json:"transferCode"`
}

type receiveChunkPayload struct {
	Chunk        string  `json:"chunk"`
	ChunkIndex   int     `json:"chunkIndex"`
	TotalChunks  int     `json:"totalChunks"`
	TransferCode string  `json:"transferCode"`
	Progress     float64 `json:"progress"`
}

type progressPayload struct {
	Progress    float64 `json:"progress"`
	ChunkIndex  int     `json:"chunkIndex"`
	TotalChunks int     `json:"totalChunks"`
}

type responsePayload struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

type codeMessagePayload struct {
	TransferCode string `json:"transferCode"`
	Message      string `json:"message,omitempty"`
}

type errorPayload struct {
	Error string `json:"error"`
}

// ToFrame translates a domain event into its outbound wire frame.
// Returns false for events with no wire representation.
func ToFrame(e event.DomainEvent) (Frame, bool) {
	switch evt := e.(type) {
	case event.TransferInitiated:
		return marshalFrame(EventTransferInitiated, codeMessagePayload{
			TransferCode: string(evt.Code),
			Message:      "File transfer initiated",
		})
	case event.TransferResponse:
		// On rejection `error` carries the stable kind and `message` the
		// human-readable detail
		p := responsePayload{Success: evt.Success, Message: evt.Message}
		if !evt.Success {
			p.Error = evt.Kind
		}
		return marshalFrame(EventTransferResponse, p)
	case event.ChunkRelayed:
		return marshalFrame(EventReceiveChunk, receiveChunkPayload{
			Chunk:        evt.Payload,
			ChunkIndex:   evt.ChunkIndex,
			TotalChunks:  evt.TotalChunks,
			TransferCode: string(evt.Code),
			Progress:     evt.Progress,
		})
	case event.TransferProgressed:
		return marshalFrame(EventTransferProgress, progressPayload{
			Progress:    evt.Progress,
			ChunkIndex:  evt.ChunkIndex,
			TotalChunks: evt.TotalChunks,
		})
	case event.TransferCompleted:
		return marshalFrame(EventTransferComplete, codeMessagePayload{
			TransferCode: string(evt.Code),
			Message:      "File transfer completed successfully",
		})
	case event.TransferFailed:
		// Recipients only ever see the stable kind, never internal detail
		return marshalFrame(EventTransferError, errorPayload{Error: evt.Kind})
	case event.TransferAcknowledged:
		return marshalFrame(EventTransferAcknowledged, codeMessagePayload{
			TransferCode: string(evt.Code),
			Message:      "Transfer completed and acknowledged",
		})
	default:
		return Frame{}, false
	}
}

func marshalFrame(name string, payload any) (Frame, bool) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, false
	}
	return Frame{Event: name, Data: data}, true
}
