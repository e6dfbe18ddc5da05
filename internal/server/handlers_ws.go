package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/clinicware/syncd/internal/broadcast"
	"github.com/clinicware/syncd/internal/domain"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // terminals and dashboards connect from their own origins
	},
}

// handleWebSocket authenticates the connect, registers the session with the
// hub, then serves join/leave control messages until the transport drops.
// A transport error only takes down this session; it is never fatal to the
// server process.
func (s *Server) handleWebSocket(c echo.Context) error {
	token := bearerToken(c)
	if token == "" {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing bearer token"})
	}
	identity, err := s.gate.Validate(c.Request().Context(), token)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid token"})
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade WebSocket: %w", err)
	}

	session := broadcast.Session{ID: uuid.New(), Identity: identity}
	if err := s.hub.Connect(session, conn); err != nil {
		slog.Warn("Failed to register session with hub", "error", err)
		_ = conn.Close()
		return nil
	}

	// Read pump: control messages until the connection closes.
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		s.handleControlMessage(session.ID, data)
	}

	s.hub.Disconnect(session.ID)

	return nil
}

func (s *Server) handleControlMessage(sessionID uuid.UUID, data []byte) {
	var msg domain.ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Debug("Discarding undecodable control message", "session_id", sessionID.String(), "error", err)
		return
	}

	room, err := domain.ParseRoom(msg.Room)
	if err != nil {
		slog.Debug("Discarding control message with bad room", "session_id", sessionID.String(), "error", err)
		return
	}

	switch msg.Action {
	case domain.ControlJoin:
		s.hub.Join(sessionID, room)
	case domain.ControlLeave:
		s.hub.Leave(sessionID, room)
	default:
		slog.Debug("Unknown control action", "session_id", sessionID.String(), "action", msg.Action)
	}
}
