package fabric

import (
	"context"
	"log/slog"
	"sync"

	"transfer-relay/contract"
	"transfer-relay/domain"
	"transfer-relay/domain/event"
)

type Set map[string]struct{}

// Hub owns connection identities and room membership.
// One room per transfer code; rooms appear on first join and disappear with
// their last member. Membership is process-local: scaling the relay across
// processes means replacing this hub with a shared pub/sub backbone behind
// the same IChannelFabric interface.
type Hub struct {
	mu          sync.RWMutex
	sessions    map[string]contract.EventSink // map connection -> Sink
	roomMembers map[domain.TransferCode]Set   // map room to connections
	log         *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		sessions:    make(map[string]contract.EventSink),
		roomMembers: make(map[domain.TransferCode]Set),
		log:         log,
	}
}

// Register makes a connection unicast-addressable before it joins any room.
// The server calls it at upgrade time so initiation responses reach clients
// that never sent join_room.
func (h *Hub) Register(connID string, sink contract.EventSink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[connID] = sink
}

// Join subscribes a connection to a transfer room, idempotent per connection.
// If the room does not yet exist it is initialized on the fly.
func (h *Hub) Join(connID string, code domain.TransferCode, sink contract.EventSink) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sessions[connID] = sink

	if _, ok := h.roomMembers[code]; !ok {
		h.roomMembers[code] = make(Set)
	}
	h.roomMembers[code][connID] = struct{}{}
}

// Broadcast delivers an event to every member of the room, optionally
// excluding the originator. Best-effort: a full or gone sink loses the
// event, it is never retried.
func (h *Hub) Broadcast(ctx context.Context, code domain.TransferCode, e event.DomainEvent, excludeConn string) {
	for connID, sink := range h.roomSinks(code, excludeConn) {
		if err := sink.Consume(ctx, e); err != nil {
			h.log.Debug("room delivery lost", "conn_id", connID, "code", code, "error", err)
		}
	}
}

// Unicast delivers to exactly one connection, regardless of room membership.
func (h *Hub) Unicast(ctx context.Context, connID string, e event.DomainEvent) {
	h.mu.RLock()
	sink, ok := h.sessions[connID]
	h.mu.RUnlock()
	if !ok {
		h.log.Debug("unicast to unknown connection", "conn_id", connID)
		return
	}
	if err := sink.Consume(ctx, e); err != nil {
		h.log.Debug("unicast delivery lost", "conn_id", connID, "error", err)
	}
}

// Disconnect removes a connection from the session directory and from every
// room it joined, without erroring if it is already absent. Emptied rooms
// are dropped entirely to avoid leaking map entries over time.
func (h *Hub) Disconnect(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.sessions, connID)

	for code, members := range h.roomMembers {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.roomMembers, code)
		}
	}
}

// RoomSize reports current membership, used by tests and the monitoring snapshot.
func (h *Hub) RoomSize(code domain.TransferCode) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.roomMembers[code])
}

// roomSinks resolves the room's member ids into live sinks under the read
// lock, so delivery itself happens without holding it.
func (h *Hub) roomSinks(code domain.TransferCode, excludeConn string) map[string]contract.EventSink {
	h.mu.RLock()
	defer h.mu.RUnlock()

	members, ok := h.roomMembers[code]
	if !ok {
		return nil
	}
	sinks := make(map[string]contract.EventSink, len(members))
	for connID := range members {
		if connID == excludeConn {
			continue
		}
		if sink, exists := h.sessions[connID]; exists {
			sinks[connID] = sink
		}
	}
	return sinks
}
