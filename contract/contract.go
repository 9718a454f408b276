//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"

	"transfer-relay/domain"
	"transfer-relay/domain/event"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

type WorkerName string

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

type EventSink interface {
	Consume(ctx context.Context, e event.DomainEvent) error
}

// IChannelFabric owns connection identities and room membership.
// One room per transfer code, created on first join, collected when empty.
// Delivery is best-effort and ordered per origin connection only.
type IChannelFabric interface {
	Join(connID string, code domain.TransferCode, sink EventSink)
	Broadcast(ctx context.Context, code domain.TransferCode, e event.DomainEvent, excludeConn string)
	Unicast(ctx context.Context, connID string, e event.DomainEvent)
	Disconnect(connID string)
}

// Chunk is one bounded piece of a transfer as produced by an ingestion path.
// Encoded is the transport-safe (base64) plaintext of the chunk; sealing
// happens in the engine so both ingestion modes converge on the same
// outbound envelope shape.
type Chunk struct {
	Encoded string
	Index   int
	Total   int
}

// ChunkSource abstracts where bytes originate: the server re-reading a
// stored upload, or a sender relaying live chunks.
type ChunkSource interface {
	// Next blocks until the next chunk is available and returns io.EOF
	// once the sequence is exhausted.
	Next(ctx context.Context) (Chunk, error)
	// Close releases whatever backs the source and unblocks a pending
	// Next. Idempotent.
	Close() error
}
