package relay

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"transfer-relay/codec"
	"transfer-relay/contract"
	"transfer-relay/domain"
	"transfer-relay/domain/event"
	apperrors "transfer-relay/errors"
	"transfer-relay/observability"
	"transfer-relay/repositories"
	"transfer-relay/storage"
)

// maxConsecutiveDecodeFailures is the point where a client-relayed session
// is considered beyond repair. Isolated malformed chunks are dropped and
// logged; a run of them fails the session outright.
const maxConsecutiveDecodeFailures = 5

// Engine coordinates every relay session: ingestion, chunk sequencing,
// progress computation and completion detection.
//
// One session loop runs per transfer, parameterized by its ChunkSource:
// server-streamed (the engine re-reads a stored upload) or client-relayed
// (the sender pushes chunks over its own connection). Both converge on the
// same outbound events so recipient code is ingestion-mode-agnostic.
// Chunks within one session are strictly sequential; no ordering exists
// across sessions.
type Engine struct {
	fabric      contract.IChannelFabric
	transfers   repositories.ITransferRepository
	sessions    repositories.ISessionRepository
	store       storage.IBlobStore
	codec       *codec.Codec
	broadcaster Broadcaster
	monitoring  *observability.MonitoringManager
	chunkSize   int
	sourceBuf   int
	log         *slog.Logger

	mu      sync.Mutex
	inbound map[domain.TransferCode]*ClientSource
}

func NewEngine(
	fabric contract.IChannelFabric,
	transfers repositories.ITransferRepository,
	sessions repositories.ISessionRepository,
	store storage.IBlobStore,
	chunkCodec *codec.Codec,
	monitoring *observability.MonitoringManager,
	chunkSize int,
	sourceBufferSize int,
	log *slog.Logger,
) *Engine {
	return &Engine{
		fabric:      fabric,
		transfers:   transfers,
		sessions:    sessions,
		store:       store,
		codec:       chunkCodec,
		broadcaster: NewBroadcaster(fabric, sessions, log),
		monitoring:  monitoring,
		chunkSize:   chunkSize,
		sourceBuf:   sourceBufferSize,
		log:         log,
		inbound:     make(map[domain.TransferCode]*ClientSource),
	}
}

// Dispatch reacts to one inbound command. Never blocks the caller for the
// duration of a relay: session loops run in their own goroutines, detached
// from the originating connection's context since a server-streamed relay
// outlives a sender that leaves.
func (e *Engine) Dispatch(ctx context.Context, cmd domain.Command) {
	switch c := cmd.(type) {
	case domain.InitiateTransferCommand:
		e.handleInitiate(ctx, c)
	case domain.RelayChunkCommand:
		e.handleRelayChunk(ctx, c)
	case domain.AckCompleteCommand:
		e.fabric.Broadcast(ctx, c.Code, event.TransferAcknowledged{Code: c.Code}, c.ConnID)
	default:
		e.log.Debug("unhandled command", "code", cmd.TransferCode())
	}
}

// handleInitiate is the Idle -> Initiating transition.
// Registry rejections (unknown code, recipient already bound, duplicate
// initiation) answer the initiator with a machine-checkable kind and leave
// any existing relay untouched.
func (e *Engine) handleInitiate(ctx context.Context, c domain.InitiateTransferCommand) {
	transfer, err := e.transfers.MarkRecipientChosen(c.Code, c.RecipientID)
	if err != nil {
		e.reject(ctx, c.ConnID, c.Code, err)
		return
	}

	if _, err := e.sessions.CreateSession(c.Code, c.ConnID); err != nil {
		e.reject(ctx, c.ConnID, c.Code, err)
		return
	}
	e.monitoring.SessionStarted()

	e.fabric.Broadcast(ctx, c.Code, event.TransferInitiated{
		Code:        c.Code,
		RecipientID: c.RecipientID,
		At:          time.Now().UTC(),
	}, c.ConnID)
	e.fabric.Unicast(ctx, c.ConnID, event.TransferResponse{
		Code:    c.Code,
		Success: true,
		Message: "Transfer initiated",
	})

	// Initiating -> Streaming: which side originates bytes decides the mode.
	// A readable stored blob means server-streamed; otherwise the engine
	// waits for the sender's relayed chunks.
	sessionCtx := context.WithoutCancel(ctx)
	rc, err := e.store.OpenSequentialRead(transfer.FileRef)
	if err == nil {
		go e.runSession(sessionCtx, c.Code, NewStorageSource(rc, e.chunkSize, transfer.SizeBytes), c.ConnID)
		return
	}
	if apperrors.Is(err, apperrors.ErrStorageUnavailable) {
		src := NewClientSource(e.sourceBuf)
		e.registerSource(c.Code, src)
		go e.runSession(sessionCtx, c.Code, src, c.ConnID)
		return
	}
	e.failSession(ctx, c.Code, c.ConnID, err)
}

// handleRelayChunk feeds a sender-pushed chunk into its session loop.
// A chunk arriving without a prior initiate starts a client-relayed session
// implicitly, still subject to the one-active-session contract.
func (e *Engine) handleRelayChunk(ctx context.Context, c domain.RelayChunkCommand) {
	e.broadcaster.CheckClientProgress(c.Code, c.Progress, c.ChunkIndex, c.TotalChunks)

	src := e.getSource(c.Code)
	if src == nil {
		var err error
		src, err = e.startClientSession(ctx, c)
		if err != nil {
			e.reject(ctx, c.ConnID, c.Code, err)
			return
		}
	}

	if err := src.Feed(ctx, contract.Chunk{
		Encoded: c.Payload,
		Index:   c.ChunkIndex,
		Total:   c.TotalChunks,
	}); err != nil {
		e.log.Debug("chunk not accepted", "code", c.Code, "error", err)
	}
}

func (e *Engine) startClientSession(ctx context.Context, c domain.RelayChunkCommand) (*ClientSource, error) {
	if _, err := e.transfers.SetStatus(c.Code, domain.TransferInProgress); err != nil {
		return nil, err
	}
	if _, err := e.sessions.CreateSession(c.Code, c.ConnID); err != nil {
		return nil, err
	}
	e.monitoring.SessionStarted()

	src := NewClientSource(e.sourceBuf)
	e.registerSource(c.Code, src)
	go e.runSession(context.WithoutCancel(ctx), c.Code, src, c.ConnID)
	return src, nil
}

// runSession is the Streaming state: one sequential loop per session.
// Completion triggers on the source's end-of-data or on forwarding the
// final chunk index; both paths land on the same idempotent transition.
func (e *Engine) runSession(ctx context.Context, code domain.TransferCode, src contract.ChunkSource, origin string) {
	defer e.unregisterSource(code)
	// Both exit paths must release the source: completing on the final
	// chunk index never reaches the EOF inside Next
	defer src.Close()

	decodeFailures := 0
	for {
		chunk, err := src.Next(ctx)
		if err == io.EOF {
			e.completeSession(ctx, code)
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				// Shutdown, not a transfer failure: the reaper will collect
				// the session if the process comes back
				return
			}
			e.failSession(ctx, code, origin, err)
			return
		}

		rawLen, err := codec.DecodedLen(chunk.Encoded)
		if err != nil {
			e.monitoring.IncrDecodeFailures()
			decodeFailures++
			e.log.Warn("dropping malformed chunk", "code", code, "chunk_index", chunk.Index, "consecutive", decodeFailures)
			if decodeFailures >= maxConsecutiveDecodeFailures {
				e.failSession(ctx, code, origin, err)
				return
			}
			continue
		}
		decodeFailures = 0

		payload, err := e.codec.Seal(chunk.Encoded)
		if err != nil {
			e.failSession(ctx, code, origin, err)
			return
		}

		e.monitoring.ChunkForwarded(rawLen)

		if err := e.broadcaster.EmitChunk(ctx, code, payload, chunk.Index, chunk.Total, origin); err != nil {
			if apperrors.Is(err, apperrors.ErrInvalidSession) {
				// The reaper (or a concurrent failure) closed the session
				// under us: stop relaying
				e.log.Warn("session closed mid-stream", "code", code)
				return
			}
			// Registry write failures surface to the initiator but do not
			// halt delivery of chunks already in flight
			e.log.Error("progress write failed", "code", code, "error", err)
			e.fabric.Unicast(ctx, origin, event.TransferFailed{Code: code, Kind: apperrors.Kind(err)})
		}

		if chunk.Index >= chunk.Total-1 {
			e.completeSession(ctx, code)
			return
		}
	}
}

// completeSession is the Streaming -> Completed transition.
// Redundant signals from the two ingestion paths collapse on the session
// repository's idempotence: side effects fire only on the first call.
func (e *Engine) completeSession(ctx context.Context, code domain.TransferCode) {
	_, transitioned, err := e.sessions.CompleteSession(code)
	if err != nil {
		e.log.Error("completing session failed", "code", code, "error", err)
		return
	}
	if !transitioned {
		return
	}
	e.monitoring.SessionCompleted()

	if _, err := e.transfers.SetStatus(code, domain.TransferCompleted); err != nil {
		e.log.Error("advancing transfer to completed failed", "code", code, "error", err)
	}
	e.fabric.Broadcast(ctx, code, event.TransferCompleted{Code: code, At: time.Now().UTC()}, "")
	e.log.Info("transfer completed", "code", code)
}

// failSession is the Streaming -> Failed transition. No automatic retry:
// a retry is a fresh Initiating cycle with a new session.
func (e *Engine) failSession(ctx context.Context, code domain.TransferCode, origin string, cause error) {
	kind := apperrors.Kind(cause)
	_, transitioned, err := e.sessions.FailSession(code, cause.Error())
	if err != nil {
		e.log.Error("failing session errored", "code", code, "error", err)
		return
	}
	if !transitioned {
		return
	}
	e.monitoring.SessionFailed()

	if _, err := e.transfers.SetStatus(code, domain.TransferFailed); err != nil {
		e.log.Error("advancing transfer to failed errored", "code", code, "error", err)
	}

	// The initiator learns the specific kind, the room only a generic error
	e.fabric.Unicast(ctx, origin, event.TransferResponse{
		Code:    code,
		Success: false,
		Kind:    kind,
		Message: "File transfer failed",
	})
	e.fabric.Broadcast(ctx, code, event.TransferFailed{Code: code, Kind: "transfer_failed"}, origin)
	e.log.Warn("transfer failed", "code", code, "kind", kind, "error", cause)
}

// Expire fails a session that has gone idle mid-stream. The idle reaper is
// the only caller; the failure notification targets whatever connection
// started the session, which may already be gone.
func (e *Engine) Expire(ctx context.Context, code domain.TransferCode, idleFor time.Duration) {
	session, err := e.sessions.Get(code)
	if err != nil {
		e.log.Warn("expiring unknown session", "code", code, "error", err)
		return
	}
	cause := fmt.Errorf("no activity for %s: %w", idleFor, apperrors.ErrSessionIdle)
	e.failSession(ctx, code, session.ChannelIdentity, cause)

	// A client-relayed loop is parked in Next waiting for the sender;
	// closing the source unblocks it so the goroutine and its registration
	// do not outlive the session
	if src := e.getSource(code); src != nil {
		_ = src.Close()
	}
}

func (e *Engine) reject(ctx context.Context, connID string, code domain.TransferCode, cause error) {
	kind := apperrors.Kind(cause)
	e.log.Warn("request rejected", "code", code, "kind", kind, "error", cause)
	e.fabric.Unicast(ctx, connID, event.TransferResponse{
		Code:    code,
		Success: false,
		Kind:    kind,
		Message: "Failed to initiate transfer",
	})
}

func (e *Engine) registerSource(code domain.TransferCode, src *ClientSource) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inbound[code] = src
}

func (e *Engine) unregisterSource(code domain.TransferCode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inbound, code)
}

func (e *Engine) getSource(code domain.TransferCode) *ClientSource {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inbound[code]
}
