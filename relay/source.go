package relay

import (
	"context"
	"io"
	"sync"

	"transfer-relay/codec"
	"transfer-relay/contract"
	"transfer-relay/domain"
	apperrors "transfer-relay/errors"
)

// StorageSource reads a stored blob sequentially in fixed-size chunks.
// Server-streamed ingestion: once started it needs no further client input.
type StorageSource struct {
	rc      io.ReadCloser
	buf     []byte
	index   int
	total   int
	emitted bool

	closeOnce sync.Once
}

func NewStorageSource(rc io.ReadCloser, chunkSize int, sizeBytes int64) *StorageSource {
	return &StorageSource{
		rc:    rc,
		buf:   make([]byte, chunkSize),
		total: domain.TotalChunks(sizeBytes, chunkSize),
	}
}

// Next returns the following chunk of the blob, io.EOF after the last one.
// A zero-byte blob still yields exactly one empty chunk so the relay emits
// one envelope and one completion like any other transfer.
func (s *StorageSource) Next(_ context.Context) (contract.Chunk, error) {
	if s.index >= s.total {
		_ = s.Close()
		return contract.Chunk{}, io.EOF
	}

	n, err := io.ReadFull(s.rc, s.buf)
	if err == io.EOF && s.emitted {
		_ = s.Close()
		return contract.Chunk{}, io.EOF
	}
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		_ = s.Close()
		return contract.Chunk{}, err
	}

	chunk := contract.Chunk{
		Encoded: codec.EncodeChunk(s.buf[:n]),
		Index:   s.index,
		Total:   s.total,
	}
	s.index++
	s.emitted = true
	return chunk, nil
}

// Close releases the underlying blob reader. The session loop defers it, so
// the descriptor is returned even when the loop exits on the final chunk
// index without a trailing Next call.
func (s *StorageSource) Close() error {
	s.closeOnce.Do(func() { _ = s.rc.Close() })
	return nil
}

// ClientSource is fed by the sender's relayed frames.
// The engine blocks on Next between inbound chunks; the idle reaper covers
// a sender that disconnects and never finishes.
type ClientSource struct {
	chunks chan contract.Chunk
	done   chan struct{}

	closeOnce sync.Once
}

func NewClientSource(bufferSize int) *ClientSource {
	return &ClientSource{
		chunks: make(chan contract.Chunk, bufferSize),
		done:   make(chan struct{}),
	}
}

// Feed hands one inbound chunk to the session loop.
func (s *ClientSource) Feed(ctx context.Context, chunk contract.Chunk) error {
	select {
	case s.chunks <- chunk:
		return nil
	case <-s.done:
		return apperrors.ErrInvalidSession
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ClientSource) Next(ctx context.Context) (contract.Chunk, error) {
	select {
	case chunk := <-s.chunks:
		return chunk, nil
	case <-s.done:
		return contract.Chunk{}, apperrors.ErrSessionIdle
	case <-ctx.Done():
		return contract.Chunk{}, ctx.Err()
	}
}

// Close unblocks a session loop parked in Next and refuses further feeds.
// The reaper relies on it when it expires a sender that went quiet.
func (s *ClientSource) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}
