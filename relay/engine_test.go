package relay

import (
	"bytes"
	"context"
	"crypto/rand"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"

	"transfer-relay/codec"
	"transfer-relay/contract"
	"transfer-relay/domain"
	"transfer-relay/domain/event"
	apperrors "transfer-relay/errors"
	"transfer-relay/observability"
	"transfer-relay/repositories"
	"transfer-relay/storage"
)

// recordingFabric captures every emission so tests can assert on exact
// event sequences without a live websocket.
type recordingFabric struct {
	mu         sync.Mutex
	broadcasts []recordedBroadcast
	unicasts   []recordedUnicast
}

type recordedBroadcast struct {
	code    domain.TransferCode
	event   event.DomainEvent
	exclude string
}

type recordedUnicast struct {
	connID string
	event  event.DomainEvent
}

func (f *recordingFabric) Join(string, domain.TransferCode, contract.EventSink) {}

func (f *recordingFabric) Broadcast(_ context.Context, code domain.TransferCode, e event.DomainEvent, excludeConn string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, recordedBroadcast{code: code, event: e, exclude: excludeConn})
}

func (f *recordingFabric) Unicast(_ context.Context, connID string, e event.DomainEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unicasts = append(f.unicasts, recordedUnicast{connID: connID, event: e})
}

func (f *recordingFabric) Disconnect(string) {}

func (f *recordingFabric) chunkEvents() []event.ChunkRelayed {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []event.ChunkRelayed
	for _, b := range f.broadcasts {
		if c, ok := b.event.(event.ChunkRelayed); ok {
			out = append(out, c)
		}
	}
	return out
}

func (f *recordingFabric) countBroadcasts(match func(event.DomainEvent) bool) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.broadcasts {
		if match(b.event) {
			n++
		}
	}
	return n
}

func (f *recordingFabric) lastResponseTo(connID string) (event.TransferResponse, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.unicasts) - 1; i >= 0; i-- {
		if f.unicasts[i].connID != connID {
			continue
		}
		if r, ok := f.unicasts[i].event.(event.TransferResponse); ok {
			return r, true
		}
	}
	return event.TransferResponse{}, false
}

type engineHarness struct {
	engine    *Engine
	fabric    *recordingFabric
	transfers repositories.TransferRepository
	sessions  repositories.SessionRepository
	store     *storage.DiskStore
	codec     *codec.Codec
}

func setupEngine(t *testing.T, chunkSize int) engineHarness {
	t.Helper()
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	log := slog.Default()
	store, err := storage.NewDiskStore(t.TempDir(), log)
	require.NoError(t, err)

	chunkCodec, err := codec.New("engine-test-secret")
	require.NoError(t, err)

	fabric := &recordingFabric{}
	transfers := repositories.NewTransferRepository(db, log)
	sessions := repositories.NewSessionRepository(db, log)

	engine := NewEngine(fabric, transfers, sessions, store, chunkCodec,
		observability.NewMonitoringManager(), chunkSize, 16, log)

	return engineHarness{
		engine:    engine,
		fabric:    fabric,
		transfers: transfers,
		sessions:  sessions,
		store:     store,
		codec:     chunkCodec,
	}
}

func (h engineHarness) registerBlob(t *testing.T, fileName string, content []byte, senderID string) domain.Transfer {
	t.Helper()
	info, err := h.store.Save(fileName, bytes.NewReader(content))
	require.NoError(t, err)
	transfer, err := h.transfers.Create(fileName, info.MimeType, info.Ref, info.SizeBytes, senderID)
	require.NoError(t, err)
	return transfer
}

// registerPhantom creates a transfer whose blob is not on disk, which
// forces the engine into client-relayed mode.
func (h engineHarness) registerPhantom(t *testing.T, senderID string) domain.Transfer {
	t.Helper()
	transfer, err := h.transfers.Create("relayed.bin", "application/octet-stream", "missing-ref", 0, senderID)
	require.NoError(t, err)
	return transfer
}

func waitForStatus(t *testing.T, h engineHarness, code domain.TransferCode, want domain.TransferStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		status, err := h.transfers.GetStatus(code)
		return err == nil && status == want
	}, 5*time.Second, 10*time.Millisecond)
}

func TestServerStreamedTransferCompletes(t *testing.T) {
	req := require.New(t)
	h := setupEngine(t, codec.DefaultChunkSize)
	ctx := context.Background()

	content := make([]byte, 1_000_000)
	_, err := rand.Read(content)
	req.NoError(err)
	transfer := h.registerBlob(t, "dataset.bin", content, "alice")

	h.engine.Dispatch(ctx, domain.InitiateTransferCommand{
		Code:        transfer.Code,
		RecipientID: "bob",
		ConnID:      "conn-alice",
	})

	waitForStatus(t, h, transfer.Code, domain.TransferCompleted)

	session, err := h.sessions.Get(transfer.Code)
	req.NoError(err)
	req.Equal(domain.SessionCompleted, session.Status)
	req.InDelta(100.0, session.Progress, 0.001)

	// 1,000,000 bytes at 256 KiB per chunk: exactly 4 chunks, in order,
	// never echoed to the origin
	chunks := h.fabric.chunkEvents()
	req.Len(chunks, 4)
	var reassembled []byte
	for i, c := range chunks {
		req.Equal(i, c.ChunkIndex)
		req.Equal(4, c.TotalChunks)
		req.Equal("conn-alice", c.OriginConn)

		raw, err := h.codec.Decode(c.Payload)
		req.NoError(err)
		reassembled = append(reassembled, raw...)
	}
	req.Equal(content, reassembled)

	completions := h.fabric.countBroadcasts(func(e event.DomainEvent) bool {
		_, ok := e.(event.TransferCompleted)
		return ok
	})
	req.Equal(1, completions)

	resp, ok := h.fabric.lastResponseTo("conn-alice")
	req.True(ok)
	req.True(resp.Success)
}

func TestInitiateUnknownCodeRejected(t *testing.T) {
	req := require.New(t)
	h := setupEngine(t, codec.DefaultChunkSize)

	h.engine.Dispatch(context.Background(), domain.InitiateTransferCommand{
		Code:        "ZZZZZZZZ",
		RecipientID: "bob",
		ConnID:      "conn-1",
	})

	resp, ok := h.fabric.lastResponseTo("conn-1")
	req.True(ok)
	req.False(resp.Success)
	req.Equal("not_found", resp.Kind)

	// No session materializes for a rejected initiation
	_, err := h.sessions.Get("ZZZZZZZZ")
	req.ErrorIs(err, apperrors.ErrInvalidSession)
}

func TestSecondInitiationRejectedWhileActive(t *testing.T) {
	req := require.New(t)
	h := setupEngine(t, codec.DefaultChunkSize)
	ctx := context.Background()

	transfer := h.registerPhantom(t, "alice")

	h.engine.Dispatch(ctx, domain.InitiateTransferCommand{
		Code: transfer.Code, RecipientID: "bob", ConnID: "conn-1",
	})
	require.Eventually(t, func() bool {
		s, err := h.sessions.Get(transfer.Code)
		return err == nil && s.Status == domain.SessionActive
	}, 5*time.Second, 10*time.Millisecond)

	h.engine.Dispatch(ctx, domain.InitiateTransferCommand{
		Code: transfer.Code, RecipientID: "bob", ConnID: "conn-2",
	})

	resp, ok := h.fabric.lastResponseTo("conn-2")
	req.True(ok)
	req.False(resp.Success)
	req.Equal("already_active", resp.Kind)
}

func TestInitiateToDifferentRecipientRejected(t *testing.T) {
	req := require.New(t)
	h := setupEngine(t, codec.DefaultChunkSize)
	ctx := context.Background()

	transfer := h.registerPhantom(t, "alice")

	h.engine.Dispatch(ctx, domain.InitiateTransferCommand{
		Code: transfer.Code, RecipientID: "bob", ConnID: "conn-1",
	})
	require.Eventually(t, func() bool {
		s, err := h.sessions.Get(transfer.Code)
		return err == nil && s.Status == domain.SessionActive
	}, 5*time.Second, 10*time.Millisecond)

	h.engine.Dispatch(ctx, domain.InitiateTransferCommand{
		Code: transfer.Code, RecipientID: "carol", ConnID: "conn-3",
	})

	resp, ok := h.fabric.lastResponseTo("conn-3")
	req.True(ok)
	req.False(resp.Success)
	req.Equal("recipient_bound", resp.Kind)
}

func TestClientRelayedTransferCompletes(t *testing.T) {
	req := require.New(t)
	h := setupEngine(t, codec.DefaultChunkSize)
	ctx := context.Background()

	transfer := h.registerPhantom(t, "alice")

	h.engine.Dispatch(ctx, domain.InitiateTransferCommand{
		Code: transfer.Code, RecipientID: "bob", ConnID: "conn-alice",
	})
	require.Eventually(t, func() bool {
		return h.engine.getSource(transfer.Code) != nil
	}, 5*time.Second, 10*time.Millisecond)

	parts := [][]byte{[]byte("first part"), []byte("second part"), []byte("final part")}
	for i, part := range parts {
		h.engine.Dispatch(ctx, domain.RelayChunkCommand{
			Code:        transfer.Code,
			Payload:     codec.EncodeChunk(part),
			ChunkIndex:  i,
			TotalChunks: len(parts),
			Progress:    float64(100*(i+1)) / float64(len(parts)),
			ConnID:      "conn-alice",
		})
	}

	waitForStatus(t, h, transfer.Code, domain.TransferCompleted)

	chunks := h.fabric.chunkEvents()
	req.Len(chunks, 3)
	for i, c := range chunks {
		raw, err := h.codec.Decode(c.Payload)
		req.NoError(err)
		req.Equal(parts[i], raw)
	}
}

// scriptedSource replays a fixed chunk sequence and records whether the
// session loop released it.
type scriptedSource struct {
	mu     sync.Mutex
	chunks []contract.Chunk
	pos    int
	closed bool
}

func (s *scriptedSource) Next(context.Context) (contract.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= len(s.chunks) {
		return contract.Chunk{}, io.EOF
	}
	chunk := s.chunks[s.pos]
	s.pos++
	return chunk, nil
}

func (s *scriptedSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *scriptedSource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func TestSessionReleasesSourceOnFinalChunk(t *testing.T) {
	req := require.New(t)
	h := setupEngine(t, codec.DefaultChunkSize)
	ctx := context.Background()

	transfer := h.registerPhantom(t, "alice")
	_, err := h.sessions.CreateSession(transfer.Code, "conn-alice")
	req.NoError(err)

	// A single chunk whose index is already the last one: the loop exits
	// on the final-chunk branch and never sees the source's EOF
	src := &scriptedSource{chunks: []contract.Chunk{
		{Encoded: codec.EncodeChunk([]byte("only part")), Index: 0, Total: 1},
	}}
	h.engine.runSession(ctx, transfer.Code, src, "conn-alice")

	req.True(src.isClosed(), "source must be released when the loop exits on the final chunk")

	session, err := h.sessions.Get(transfer.Code)
	req.NoError(err)
	req.Equal(domain.SessionCompleted, session.Status)
}

func TestExpireReleasesIdleClientSession(t *testing.T) {
	req := require.New(t)
	h := setupEngine(t, codec.DefaultChunkSize)
	ctx := context.Background()

	transfer := h.registerPhantom(t, "alice")

	h.engine.Dispatch(ctx, domain.InitiateTransferCommand{
		Code: transfer.Code, RecipientID: "bob", ConnID: "conn-alice",
	})
	require.Eventually(t, func() bool {
		return h.engine.getSource(transfer.Code) != nil
	}, 5*time.Second, 10*time.Millisecond)

	h.engine.Expire(ctx, transfer.Code, 42*time.Second)

	session, err := h.sessions.Get(transfer.Code)
	req.NoError(err)
	req.Equal(domain.SessionFailed, session.Status)

	// Closing the source unblocks the parked loop, which deregisters itself
	require.Eventually(t, func() bool {
		return h.engine.getSource(transfer.Code) == nil
	}, 5*time.Second, 10*time.Millisecond)

	resp, ok := h.fabric.lastResponseTo("conn-alice")
	req.True(ok)
	req.False(resp.Success)
	req.Equal("session_idle", resp.Kind)
}

func TestIsolatedMalformedChunkDoesNotFailSession(t *testing.T) {
	req := require.New(t)
	h := setupEngine(t, codec.DefaultChunkSize)
	ctx := context.Background()

	transfer := h.registerPhantom(t, "alice")

	h.engine.Dispatch(ctx, domain.InitiateTransferCommand{
		Code: transfer.Code, RecipientID: "bob", ConnID: "conn-alice",
	})
	require.Eventually(t, func() bool {
		return h.engine.getSource(transfer.Code) != nil
	}, 5*time.Second, 10*time.Millisecond)

	parts := [][]byte{[]byte("first part"), []byte("second part"), []byte("final part")}

	send := func(payload string, index int) {
		h.engine.Dispatch(ctx, domain.RelayChunkCommand{
			Code:        transfer.Code,
			Payload:     payload,
			ChunkIndex:  index,
			TotalChunks: len(parts),
			Progress:    float64(100*(index+1)) / float64(len(parts)),
			ConnID:      "conn-alice",
		})
	}

	// One corrupted frame in the middle is dropped; the stream recovers
	// and still completes on the remaining chunks
	send(codec.EncodeChunk(parts[0]), 0)
	send("!!not-base64!!", 1)
	send(codec.EncodeChunk(parts[1]), 1)
	send(codec.EncodeChunk(parts[2]), 2)

	waitForStatus(t, h, transfer.Code, domain.TransferCompleted)

	session, err := h.sessions.Get(transfer.Code)
	req.NoError(err)
	req.Equal(domain.SessionCompleted, session.Status)
	req.InDelta(100.0, session.Progress, 0.001)

	chunks := h.fabric.chunkEvents()
	req.Len(chunks, 3)
	for i, c := range chunks {
		raw, err := h.codec.Decode(c.Payload)
		req.NoError(err)
		req.Equal(parts[i], raw)
	}
}

func TestMalformedChunkRunFailsSession(t *testing.T) {
	req := require.New(t)
	h := setupEngine(t, codec.DefaultChunkSize)
	ctx := context.Background()

	transfer := h.registerPhantom(t, "alice")

	h.engine.Dispatch(ctx, domain.InitiateTransferCommand{
		Code: transfer.Code, RecipientID: "bob", ConnID: "conn-alice",
	})
	require.Eventually(t, func() bool {
		return h.engine.getSource(transfer.Code) != nil
	}, 5*time.Second, 10*time.Millisecond)

	for i := 0; i < maxConsecutiveDecodeFailures; i++ {
		h.engine.Dispatch(ctx, domain.RelayChunkCommand{
			Code:        transfer.Code,
			Payload:     "!!not-base64!!",
			ChunkIndex:  i,
			TotalChunks: 100,
			ConnID:      "conn-alice",
		})
	}

	waitForStatus(t, h, transfer.Code, domain.TransferFailed)

	session, err := h.sessions.Get(transfer.Code)
	req.NoError(err)
	req.Equal(domain.SessionFailed, session.Status)

	resp, ok := h.fabric.lastResponseTo("conn-alice")
	req.True(ok)
	req.False(resp.Success)
	req.Equal("decode_error", resp.Kind)

	errors := h.fabric.countBroadcasts(func(e event.DomainEvent) bool {
		_, ok := e.(event.TransferFailed)
		return ok
	})
	req.Equal(1, errors)
}

func TestCompletionIsIdempotent(t *testing.T) {
	req := require.New(t)
	h := setupEngine(t, codec.DefaultChunkSize)
	ctx := context.Background()

	transfer := h.registerBlob(t, "small.txt", []byte("tiny payload"), "alice")

	h.engine.Dispatch(ctx, domain.InitiateTransferCommand{
		Code: transfer.Code, RecipientID: "bob", ConnID: "conn-1",
	})
	waitForStatus(t, h, transfer.Code, domain.TransferCompleted)

	// A redundant completion signal must not re-broadcast
	h.engine.completeSession(ctx, transfer.Code)

	completions := h.fabric.countBroadcasts(func(e event.DomainEvent) bool {
		_, ok := e.(event.TransferCompleted)
		return ok
	})
	req.Equal(1, completions)
}

func TestAckCompleteBroadcastsToRoom(t *testing.T) {
	req := require.New(t)
	h := setupEngine(t, codec.DefaultChunkSize)

	h.engine.Dispatch(context.Background(), domain.AckCompleteCommand{
		Code: "AB12CD34", ConnID: "conn-bob",
	})

	acks := h.fabric.countBroadcasts(func(e event.DomainEvent) bool {
		_, ok := e.(event.TransferAcknowledged)
		return ok
	})
	req.Equal(1, acks)
}
