package fabric

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"transfer-relay/domain/event"
)

func TestToFrameChunk(t *testing.T) {
	req := require.New(t)

	frame, ok := ToFrame(event.ChunkRelayed{
		Code:        "AB12CD34",
		Payload:     "c2VhbGVk",
		ChunkIndex:  2,
		TotalChunks: 4,
		Progress:    75,
	})
	req.True(ok)
	req.Equal(EventReceiveChunk, frame.Event)

	var p receiveChunkPayload
	req.NoError(json.Unmarshal(frame.Data, &p))
	req.Equal("c2VhbGVk", p.Chunk)
	req.Equal(2, p.ChunkIndex)
	req.Equal(4, p.TotalChunks)
	req.Equal("AB12CD34", p.TransferCode)
	req.InDelta(75.0, p.Progress, 0.001)
}

func TestToFrameResponseCarriesKindOnRejection(t *testing.T) {
	req := require.New(t)

	frame, ok := ToFrame(event.TransferResponse{
		Code:    "AB12CD34",
		Success: false,
		Message: "Failed to initiate transfer",
		Kind:    "already_active",
	})
	req.True(ok)
	req.Equal(EventTransferResponse, frame.Event)

	var p responsePayload
	req.NoError(json.Unmarshal(frame.Data, &p))
	req.False(p.Success)
	req.Equal("already_active", p.Error)
	req.Equal("Failed to initiate transfer", p.Message)
}

func TestToFrameFailureHidesDetail(t *testing.T) {
	req := require.New(t)

	frame, ok := ToFrame(event.TransferFailed{Code: "AB12CD34", Kind: "transfer_failed"})
	req.True(ok)
	req.Equal(EventTransferError, frame.Event)

	var p errorPayload
	req.NoError(json.Unmarshal(frame.Data, &p))
	req.Equal("transfer_failed", p.Error)
}
