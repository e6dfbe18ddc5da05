package broadcast

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/clinicware/syncd/internal/domain"
	"github.com/clinicware/syncd/internal/metrics"
)

const (
	commandTimeout = 5 * time.Second
	stopTimeout    = 10 * time.Second
)

// Session identifies one authenticated connection and its scope.
type Session struct {
	ID       uuid.UUID
	Identity domain.Identity
}

// member is the hub-internal state for a connected session.
type member struct {
	session Session
	writer  *sessionWriter
	rooms   map[domain.Room]struct{}
}

// hubCmd is the command interface for the Hub actor.
type hubCmd interface{ isHubCmd() }

type baseHubCmd struct{}

func (baseHubCmd) isHubCmd() {}

type connectCmd struct {
	baseHubCmd
	session      Session
	connection   *websocket.Conn
	errorChannel chan error
}

type disconnectCmd struct {
	baseHubCmd
	sessionID uuid.UUID
}

type joinCmd struct {
	baseHubCmd
	sessionID uuid.UUID
	room      domain.Room
}

type leaveCmd struct {
	baseHubCmd
	sessionID uuid.UUID
	room      domain.Room
}

type publishCmd struct {
	baseHubCmd
	room  domain.Room
	event domain.Event
	// localOnly suppresses the forwarder; set for events that arrived via
	// the relay so they are not re-forwarded in a loop.
	localOnly bool
}

type roomCountCmd struct {
	baseHubCmd
	room         domain.Room
	replyChannel chan int
}

type sessionRoomsCmd struct {
	baseHubCmd
	sessionID    uuid.UUID
	replyChannel chan []domain.Room
}

type stopCmd struct {
	baseHubCmd
}

// Forwarder receives every locally published event so it can be relayed to
// other instances. May be nil.
type Forwarder interface {
	Forward(room domain.Room, event domain.Event)
}

// Hub fans events out to the sessions joined to a room. It is an explicitly
// constructed instance owned by whoever hosts the connections; Stop releases
// everything.
type Hub struct {
	cmdCh             chan hubCmd
	clock             clockwork.Clock
	sessions          map[uuid.UUID]*member
	rooms             map[domain.Room]map[uuid.UUID]*member
	forwarder         Forwarder
	maxClientsPerRoom int
	done              chan struct{}
	stopTimeout       time.Duration
}

// NewHub creates a hub. forwarder may be nil when running single-instance.
// maxClientsPerRoom bounds room membership (prevents resource exhaustion).
func NewHub(clock clockwork.Clock, forwarder Forwarder, maxClientsPerRoom int) *Hub {
	h := &Hub{
		cmdCh:             make(chan hubCmd, 256),
		clock:             clock,
		sessions:          make(map[uuid.UUID]*member),
		rooms:             make(map[domain.Room]map[uuid.UUID]*member),
		forwarder:         forwarder,
		maxClientsPerRoom: maxClientsPerRoom,
		done:              make(chan struct{}),
		stopTimeout:       stopTimeout,
	}
	go h.run()
	return h
}

// Connect registers an authenticated session and auto-joins the rooms derived
// from its identity (branch, employee, and role when present).
func (h *Hub) Connect(session Session, conn *websocket.Conn) error {
	errCh := make(chan error, 1)
	h.cmdCh <- connectCmd{session: session, connection: conn, errorChannel: errCh}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case err := <-errCh:
		return err
	case <-timer.Chan():
		return fmt.Errorf("connect command timed out after %v", commandTimeout)
	}
}

// Disconnect removes the session from all rooms and releases its writer.
// Safe to call for unknown sessions.
func (h *Hub) Disconnect(sessionID uuid.UUID) {
	h.cmdCh <- disconnectCmd{sessionID: sessionID}
}

// Join adds the session to room. Idempotent; a no-op for unknown sessions and
// for rooms outside the session's identity scope (logged, never fatal).
func (h *Hub) Join(sessionID uuid.UUID, room domain.Room) {
	h.cmdCh <- joinCmd{sessionID: sessionID, room: room}
}

// Leave removes the session from room. Idempotent.
func (h *Hub) Leave(sessionID uuid.UUID, room domain.Room) {
	h.cmdCh <- leaveCmd{sessionID: sessionID, room: room}
}

// Publish delivers event to every session currently in room, best-effort.
// Sessions whose send queue is full are disconnected rather than blocking
// the rest of the room.
func (h *Hub) Publish(room domain.Room, event domain.Event) {
	h.cmdCh <- publishCmd{room: room, event: event}
}

// PublishLocal fans out to local sessions only, without forwarding to the
// relay. Used for events received from other instances.
func (h *Hub) PublishLocal(room domain.Room, event domain.Event) {
	h.cmdCh <- publishCmd{room: room, event: event, localOnly: true}
}

// RoomCount returns the number of sessions in room, or -1 on timeout.
func (h *Hub) RoomCount(room domain.Room) int {
	replyCh := make(chan int, 1)
	h.cmdCh <- roomCountCmd{room: room, replyChannel: replyCh}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case count := <-replyCh:
		return count
	case <-timer.Chan():
		slog.Warn("RoomCount timed out", "timeout", commandTimeout)
		return -1
	}
}

// SessionRooms returns the rooms the session currently occupies, or nil on
// timeout or unknown session.
func (h *Hub) SessionRooms(sessionID uuid.UUID) []domain.Room {
	replyCh := make(chan []domain.Room, 1)
	h.cmdCh <- sessionRoomsCmd{sessionID: sessionID, replyChannel: replyCh}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case rooms := <-replyCh:
		return rooms
	case <-timer.Chan():
		return nil
	}
}

// Stop shuts the hub down, closing every session connection. Blocks until the
// hub goroutine has exited or the timeout is reached.
func (h *Hub) Stop() {
	h.cmdCh <- stopCmd{}

	timeout := h.clock.NewTimer(h.stopTimeout)
	defer timeout.Stop()

	select {
	case <-h.done:
		slog.Info("Hub stopped gracefully")
	case <-timeout.Chan():
		slog.Warn("Hub stop timeout exceeded, forcing exit", "timeout", h.stopTimeout)
		metrics.HubStopTimeoutsTotal.Inc()
		close(h.done)
	}
}

func (h *Hub) run() {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Hub panic recovered", "panic", r)
			h.closeAllSessions("hub panic")
		}
	}()
	defer close(h.done)

	for cmd := range h.cmdCh {
		switch c := cmd.(type) {
		case connectCmd:
			h.handleConnect(c)
		case disconnectCmd:
			h.handleDisconnect(c.sessionID)
		case joinCmd:
			h.handleJoin(c.sessionID, c.room)
		case leaveCmd:
			h.handleLeave(c.sessionID, c.room)
		case publishCmd:
			h.handlePublish(c)
		case roomCountCmd:
			c.replyChannel <- len(h.rooms[c.room])
		case sessionRoomsCmd:
			h.handleSessionRooms(c)
		case stopCmd:
			h.handleStop()
			return
		default:
			slog.Warn("Hub received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
		}
	}
}

func (h *Hub) handleConnect(c connectCmd) {
	if _, exists := h.sessions[c.session.ID]; exists {
		// Redundant connect for a live session is a no-op.
		c.errorChannel <- nil
		return
	}

	m := &member{
		session: c.session,
		writer:  newSessionWriter(c.connection, h.clock),
		rooms:   make(map[domain.Room]struct{}),
	}
	h.sessions[c.session.ID] = m

	for _, room := range c.session.Identity.Rooms() {
		if members := h.rooms[room]; len(members) >= h.maxClientsPerRoom {
			slog.Warn("Skipping full room on connect", "room", string(room), "max_clients", h.maxClientsPerRoom)
			continue
		}
		h.addToRoom(m, room)
	}

	metrics.HubConnectedSessions.Set(float64(len(h.sessions)))
	slog.Debug("Session connected",
		"session_id", c.session.ID.String(),
		"branch_id", c.session.Identity.BranchID,
		"rooms", len(m.rooms),
	)
	c.errorChannel <- nil
}

func (h *Hub) handleDisconnect(sessionID uuid.UUID) {
	m, exists := h.sessions[sessionID]
	if !exists {
		return
	}

	for room := range m.rooms {
		h.removeFromRoom(m, room)
	}
	m.writer.stop()
	delete(h.sessions, sessionID)

	metrics.HubConnectedSessions.Set(float64(len(h.sessions)))
	slog.Debug("Session disconnected", "session_id", sessionID.String())
}

func (h *Hub) handleJoin(sessionID uuid.UUID, room domain.Room) {
	m, exists := h.sessions[sessionID]
	if !exists {
		slog.Warn("Join for unknown session", "session_id", sessionID.String(), "room", string(room))
		return
	}
	if !m.session.Identity.Allows(room) {
		slog.Warn("Join rejected: room outside session scope",
			"session_id", sessionID.String(),
			"room", string(room),
		)
		metrics.HubJoinRejectedTotal.Inc()
		return
	}
	if _, joined := m.rooms[room]; joined {
		return
	}
	if members := h.rooms[room]; len(members) >= h.maxClientsPerRoom {
		slog.Warn("Join rejected: room full", "room", string(room), "max_clients", h.maxClientsPerRoom)
		return
	}
	h.addToRoom(m, room)
}

func (h *Hub) handleLeave(sessionID uuid.UUID, room domain.Room) {
	m, exists := h.sessions[sessionID]
	if !exists {
		return
	}
	if _, joined := m.rooms[room]; !joined {
		return
	}
	h.removeFromRoom(m, room)
}

func (h *Hub) handlePublish(c publishCmd) {
	metrics.HubEventsPublishedTotal.WithLabelValues(roomKind(c.room)).Inc()

	if h.forwarder != nil && !c.localOnly {
		h.forwarder.Forward(c.room, c.event)
	}

	members, exists := h.rooms[c.room]
	if !exists {
		return
	}

	data, err := json.Marshal(c.event)
	if err != nil {
		slog.Error("Failed to marshal event", "error", err, "event_kind", c.event.Kind.String())
		return
	}

	var slow []uuid.UUID
	for id, m := range members {
		select {
		case m.writer.sendChannel <- data:
			metrics.HubEventsDeliveredTotal.Inc()
		default:
			slow = append(slow, id)
		}
	}

	for _, id := range slow {
		slog.Warn("Disconnecting slow session", "session_id", id.String(), "room", string(c.room))
		metrics.HubSlowSessionsEvicted.Inc()
		h.handleDisconnect(id)
	}
}

func (h *Hub) handleSessionRooms(c sessionRoomsCmd) {
	m, exists := h.sessions[c.sessionID]
	if !exists {
		c.replyChannel <- nil
		return
	}
	rooms := make([]domain.Room, 0, len(m.rooms))
	for room := range m.rooms {
		rooms = append(rooms, room)
	}
	c.replyChannel <- rooms
}

func (h *Hub) handleStop() {
	slog.Info("Hub shutting down", "sessions", len(h.sessions), "rooms", len(h.rooms))
	h.closeAllSessions("Server shutting down")
	slog.Info("Hub shutdown complete")
}

// addToRoom creates the room lazily on first join.
func (h *Hub) addToRoom(m *member, room domain.Room) {
	members, exists := h.rooms[room]
	if !exists {
		members = make(map[uuid.UUID]*member)
		h.rooms[room] = members
		metrics.HubActiveRooms.Set(float64(len(h.rooms)))
	}
	members[m.session.ID] = m
	m.rooms[room] = struct{}{}
}

// removeFromRoom garbage-collects the room when its member set empties.
func (h *Hub) removeFromRoom(m *member, room domain.Room) {
	delete(m.rooms, room)
	members, exists := h.rooms[room]
	if !exists {
		return
	}
	delete(members, m.session.ID)
	if len(members) == 0 {
		delete(h.rooms, room)
		metrics.HubActiveRooms.Set(float64(len(h.rooms)))
	}
}

func (h *Hub) closeAllSessions(reason string) {
	for id, m := range h.sessions {
		m.writer.stopGraceful(reason)
		delete(h.sessions, id)
	}
	for room := range h.rooms {
		delete(h.rooms, room)
	}
	metrics.HubConnectedSessions.Set(0)
	metrics.HubActiveRooms.Set(0)
}

func roomKind(room domain.Room) string {
	kind, _, ok := strings.Cut(string(room), ":")
	if !ok {
		return "unknown"
	}
	return kind
}
