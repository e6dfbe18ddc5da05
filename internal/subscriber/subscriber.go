// Package subscriber maintains one outbound push connection per session,
// rejoining rooms after reconnects and forwarding received events to the
// invalidation mapper.
package subscriber

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/clinicware/syncd/internal/domain"
	"github.com/clinicware/syncd/internal/invalidation"
	"github.com/clinicware/syncd/internal/metrics"
	"github.com/clinicware/syncd/internal/retry"
)

// State is the subscriber lifecycle state.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Subscribed
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Subscribed:
		return "subscribed"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Invalidator applies cache invalidations produced from received events.
type Invalidator interface {
	Invalidate(keys []invalidation.CacheKey)
}

// Config holds the connection parameters for one subscriber.
type Config struct {
	// URL is the push endpoint, e.g. "ws://host/ws".
	URL   string
	Token string
	// Identity mirrors the scope the server derives from Token; it is used
	// to rejoin rooms after a reconnect.
	Identity domain.Identity

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxAttempts    int
	DispatchBuffer int
}

func (c *Config) applyDefaults() {
	if c.InitialBackoff == 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = 5 * time.Second
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 5
	}
	if c.DispatchBuffer == 0 {
		c.DispatchBuffer = 64
	}
}

// Subscriber owns at most one physical connection. Enable starts it, Disable
// tears it down; both are idempotent. Event handling runs on a dispatch
// goroutine so the read loop never blocks on cache work.
type Subscriber struct {
	cfg          Config
	clock        clockwork.Clock
	dialer       *websocket.Dialer
	invalidator  Invalidator
	onSubscribed func()

	mu      sync.Mutex
	state   State
	cancel  context.CancelFunc
	conn    *websocket.Conn
	stopped chan struct{}
}

// New creates a disabled subscriber. onSubscribed is invoked each time the
// subscriber (re)enters Subscribed, so the caller can trigger a pull-sync to
// close any push gap; it may be nil.
func New(cfg Config, clock clockwork.Clock, invalidator Invalidator, onSubscribed func()) *Subscriber {
	cfg.applyDefaults()
	return &Subscriber{
		cfg:          cfg,
		clock:        clock,
		dialer:       websocket.DefaultDialer,
		invalidator:  invalidator,
		onSubscribed: onSubscribed,
		state:        Disconnected,
	}
}

// State returns the current lifecycle state.
func (s *Subscriber) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Subscriber) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Enable starts the connection loop. A no-op while already Connecting,
// Connected, Subscribed, or Reconnecting.
func (s *Subscriber) Enable() {
	s.mu.Lock()
	if s.state != Disconnected {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.state = Connecting
	s.stopped = make(chan struct{})
	stopped := s.stopped
	s.mu.Unlock()

	dispatchCh := make(chan domain.Event, s.cfg.DispatchBuffer)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.run(ctx, dispatchCh)
		close(dispatchCh)
	}()
	go func() {
		defer wg.Done()
		s.dispatch(dispatchCh)
	}()
	go func() {
		wg.Wait()
		s.setState(Disconnected)
		close(stopped)
	}()
}

// Disable transitions to Disconnected and releases the connection. A pending
// reconnect backoff wait is aborted immediately, not after it elapses.
func (s *Subscriber) Disable() {
	s.mu.Lock()
	cancel := s.cancel
	conn := s.conn
	stopped := s.stopped
	s.cancel = nil
	s.conn = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if conn != nil {
		_ = conn.Close()
	}
	if stopped != nil {
		<-stopped
	}
}

// run owns the connect/read/reconnect cycle until ctx is cancelled or the
// retry budget is exhausted.
func (s *Subscriber) run(ctx context.Context, dispatchCh chan<- domain.Event) {
	for {
		conn, err := s.connect(ctx)
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("Subscriber giving up until re-enabled", "error", err)
			}
			return
		}

		if !s.adopt(ctx, conn) {
			_ = conn.Close()
			return
		}

		if err := s.joinRooms(conn); err != nil {
			slog.Warn("Failed to join rooms", "error", err)
			_ = conn.Close()
		} else {
			s.setState(Subscribed)
			if s.onSubscribed != nil {
				go s.onSubscribed()
			}
			s.readLoop(conn, dispatchCh)
		}

		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		// Transport disruption: fall through to another connect round.
		s.setState(Reconnecting)
	}
}

// adopt stores a freshly dialed connection. It refuses when Disable already
// ran: Disable snapshots s.conn before the store, so a connection adopted
// afterwards would never be closed and Disable would block on a read loop
// that outlives it.
func (s *Subscriber) adopt(ctx context.Context, conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil || ctx.Err() != nil {
		return false
	}
	s.conn = conn
	s.state = Connected
	return true
}

// connect dials with capped exponential backoff. An HTTP 401/403 on the
// handshake is permanent; everything else is a transport problem worth
// retrying.
func (s *Subscriber) connect(ctx context.Context) (*websocket.Conn, error) {
	policy := retry.Policy{
		MaxAttempts:    s.cfg.MaxAttempts,
		InitialBackoff: s.cfg.InitialBackoff,
		MaxBackoff:     s.cfg.MaxBackoff,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			metrics.SubscriberReconnectsTotal.Inc()
			slog.Debug("Subscriber retrying connect",
				"attempt", attempt,
				"backoff", backoff,
				"error", err,
			)
		},
	}

	classify := func(err error) retry.Action {
		var permanent *permanentHandshakeError
		if errors.As(err, &permanent) {
			return retry.Stop
		}
		return retry.Retry
	}

	return retry.Do(ctx, s.clock, policy, classify, func() (*websocket.Conn, error) {
		header := http.Header{}
		header.Set("Authorization", "Bearer "+s.cfg.Token)
		conn, resp, err := s.dialer.DialContext(ctx, s.cfg.URL, header)
		if err != nil {
			if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
				return nil, &permanentHandshakeError{status: resp.StatusCode, err: err}
			}
			return nil, err
		}
		return conn, nil
	})
}

// joinRooms re-subscribes to all rooms derived from the session identity.
func (s *Subscriber) joinRooms(conn *websocket.Conn) error {
	for _, room := range s.cfg.Identity.Rooms() {
		msg := domain.ControlMessage{Action: domain.ControlJoin, Room: string(room)}
		if err := conn.WriteJSON(msg); err != nil {
			return err
		}
	}
	return nil
}

// readLoop decodes events until the transport fails. Events are queued, not
// handled inline; a full queue drops the event since pull-sync self-corrects.
func (s *Subscriber) readLoop(conn *websocket.Conn, dispatchCh chan<- domain.Event) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var event domain.Event
		if err := json.Unmarshal(data, &event); err != nil {
			slog.Warn("Discarding undecodable event", "error", err)
			continue
		}
		select {
		case dispatchCh <- event:
		default:
			metrics.SubscriberEventsDroppedTotal.Inc()
		}
	}
}

// dispatch applies invalidations off the read loop.
func (s *Subscriber) dispatch(dispatchCh <-chan domain.Event) {
	for event := range dispatchCh {
		keys := invalidation.Keys(event)
		if len(keys) > 0 && s.invalidator != nil {
			s.invalidator.Invalidate(keys)
		}
	}
}

type permanentHandshakeError struct {
	status int
	err    error
}

func (e *permanentHandshakeError) Error() string { return e.err.Error() }
func (e *permanentHandshakeError) Unwrap() error { return e.err }
