package fabric

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"transfer-relay/auth"
	"transfer-relay/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Dispatcher receives inbound commands decoded off the wire.
// The relay engine implements it; the fabric stays protocol-only.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd domain.Command)
}

type Server struct {
	hub        *Hub
	dispatcher Dispatcher
	bufferSize int
	log        *slog.Logger
	upgrader   websocket.Upgrader
}

func NewServer(hub *Hub, dispatcher Dispatcher, connectionBufferSize int, log *slog.Logger) *Server {
	return &Server{
		hub:        hub,
		dispatcher: dispatcher,
		bufferSize: connectionBufferSize,
		log:        log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 * 1024,
			WriteBufferSize: 32 * 1024,
			// Origin filtering belongs to the outer HTTP surface
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the request and runs the connection until it closes.
// Identity: an optional signed token names the user; the connection id
// itself is always fresh, it is the channel identity sessions record.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	connID := uuid.NewString()
	userID := auth.UserFromToken(r.URL.Query().Get("token"))
	sink := NewConnSink(s.bufferSize)
	s.hub.Register(connID, sink)

	s.log.Info("User connected", "conn_id", connID, "user_id", userID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go s.writePump(ctx, ws, sink)
	s.readLoop(ctx, ws, connID, sink)

	s.hub.Disconnect(connID)
	s.log.Info("User disconnected", "conn_id", connID)
}

// readLoop decodes inbound frames into commands. join_room is a pure fabric
// concern handled here; everything else goes to the engine. A malformed
// frame is dropped and logged, it never kills the connection.
func (s *Server) readLoop(ctx context.Context, ws *websocket.Conn, connID string, sink *ConnSink) {
	defer ws.Close()

	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("connection read error", "conn_id", connID, "error", err)
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			s.log.Debug("dropping malformed frame", "conn_id", connID, "error", err)
			continue
		}

		cmd, join, err := s.decodeCommand(frame, connID)
		if err != nil {
			s.log.Debug("dropping invalid payload", "conn_id", connID, "event", frame.Event, "error", err)
			continue
		}
		if join != nil {
			s.hub.Join(connID, join.Code, sink)
			s.log.Info(fmt.Sprintf("User %s joined transfer room: %s", connID, join.Code))
			continue
		}
		s.dispatcher.Dispatch(ctx, cmd)
	}
}

func (s *Server) decodeCommand(frame Frame, connID string) (domain.Command, *domain.JoinRoomCommand, error) {
	switch frame.Event {
	case EventJoinRoom:
		var p JoinRoomPayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return nil, nil, err
		}
		return nil, &domain.JoinRoomCommand{Code: domain.TransferCode(p.TransferCode), ConnID: connID}, nil

	case EventInitiateTransfer:
		var p InitiatePayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return nil, nil, err
		}
		if err := auth.ValidateInitiate(auth.InitiateRequest{
			TransferCode: p.TransferCode,
			RecipientID:  p.RecipientID,
		}); err != nil {
			return nil, nil, err
		}
		return domain.InitiateTransferCommand{
			Code:        domain.TransferCode(p.TransferCode),
			RecipientID: p.RecipientID,
			ConnID:      connID,
		}, nil, nil

	case EventRelayChunk:
		var p RelayChunkPayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return nil, nil, err
		}
		return domain.RelayChunkCommand{
			Code:        domain.TransferCode(p.TransferCode),
			Payload:     p.Chunk,
			ChunkIndex:  p.ChunkIndex,
			TotalChunks: p.TotalChunks,
			Progress:    p.Progress,
			ConnID:      connID,
		}, nil, nil

	case EventAckComplete:
		var p AckCompletePayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return nil, nil, err
		}
		return domain.AckCompleteCommand{
			Code:   domain.TransferCode(p.TransferCode),
			ConnID: connID,
		}, nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown event %q", frame.Event)
	}
}

// writePump drains the connection's sink onto the wire, interleaving pings.
// Outbound order follows sink order, which preserves one sender's emission
// order; no cross-connection ordering is promised.
func (s *Server) writePump(ctx context.Context, ws *websocket.Conn, sink *ConnSink) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-sink.Events:
			frame, ok := ToFrame(evt)
			if !ok {
				continue
			}
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteJSON(frame); err != nil {
				s.log.Debug("write failed, closing pump", "error", err)
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
