package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicware/syncd/internal/broadcast"
	"github.com/clinicware/syncd/internal/config"
	"github.com/clinicware/syncd/internal/database"
	"github.com/clinicware/syncd/internal/domain"
	"github.com/clinicware/syncd/internal/scope"
	syncsvc "github.com/clinicware/syncd/internal/sync"
)

const goodToken = "good-token"

var testIdentity = domain.Identity{EmployeeID: 42, BranchID: 7, Role: "admin"}

// stubGate accepts exactly one token.
type stubGate struct{}

func (stubGate) Validate(_ context.Context, token string) (domain.Identity, error) {
	if token == goodToken {
		return testIdentity, nil
	}
	return domain.Identity{}, domain.ErrUnauthorized
}

type stubChecker struct {
	err error
}

func (s stubChecker) Ping(context.Context) error { return s.err }

// stubFetcher records queries and returns nothing.
type stubFetcher struct {
	mu      sync.Mutex
	queries []database.Query
}

func (f *stubFetcher) Fetch(_ context.Context, q database.Query) ([]database.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	return nil, nil
}

func (f *stubFetcher) lastQuery() (database.Query, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queries) == 0 {
		return database.Query{}, false
	}
	return f.queries[len(f.queries)-1], true
}

type serverFixture struct {
	url     string
	hub     *broadcast.Hub
	router  *scope.Router
	fetcher *stubFetcher
	pg      *stubChecker
	rd      *stubChecker
}

func newFixture(t *testing.T) *serverFixture {
	t.Helper()

	clock := clockwork.NewRealClock()
	hub := broadcast.NewHub(clock, nil, 100)
	t.Cleanup(hub.Stop)

	fetcher := &stubFetcher{}
	syncService := syncsvc.NewService(fetcher, syncsvc.DefaultAllowlist, clock, 500)
	router := scope.NewRouter(hub, clock)

	cfg := &config.Config{
		Port:          "0",
		SyncRateLimit: 1000,
		SyncRateBurst: 1000,
	}

	pg, rd := &stubChecker{}, &stubChecker{}
	srv := NewServer(cfg, stubGate{}, hub, router, syncService, pg, rd)

	ts := httptest.NewServer(srv.echo)
	t.Cleanup(ts.Close)

	return &serverFixture{url: ts.URL, hub: hub, router: router, fetcher: fetcher, pg: pg, rd: rd}
}

func postJSON(t *testing.T, url, token string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestNewServerAppliesWriteTimeout(t *testing.T) {
	clock := clockwork.NewRealClock()
	hub := broadcast.NewHub(clock, nil, 100)
	t.Cleanup(hub.Stop)

	cfg := &config.Config{
		Port:          "0",
		WriteTimeout:  7 * time.Second,
		SyncRateLimit: 1,
		SyncRateBurst: 1,
	}
	syncService := syncsvc.NewService(&stubFetcher{}, syncsvc.DefaultAllowlist, clock, 500)
	srv := NewServer(cfg, stubGate{}, hub, scope.NewRouter(hub, clock), syncService, &stubChecker{}, &stubChecker{})

	assert.Equal(t, 7*time.Second, srv.echo.Server.WriteTimeout)
}

func TestHealthLiveness(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.url + "/health/live")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestHealthReadiness(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.url + "/health/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	f.pg.err = errors.New("connection refused")
	resp, err = http.Get(f.url + "/health/ready")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "degraded", body["status"])
}

func TestSyncEndpoint_RequiresAuth(t *testing.T) {
	f := newFixture(t)

	resp := postJSON(t, f.url+"/sync", "", syncsvc.Request{Since: syncsvc.ZeroCursor})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = postJSON(t, f.url+"/sync", "forged", syncsvc.Request{Since: syncsvc.ZeroCursor})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSyncEndpoint_ForcesIdentityBranch(t *testing.T) {
	f := newFixture(t)

	// The request claims branch 9; the token says branch 7. The token wins.
	resp := postJSON(t, f.url+"/sync", goodToken, syncsvc.Request{
		Since:    syncsvc.ZeroCursor,
		BranchID: 9,
		Tables:   []string{"registration"},
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	q, ok := f.fetcher.lastQuery()
	require.True(t, ok)
	require.Len(t, q.Filters, 2)
	assert.Equal(t, int64(7), q.Filters[1].Value)
}

func TestSyncEndpoint_MalformedCursor(t *testing.T) {
	f := newFixture(t)

	resp := postJSON(t, f.url+"/sync", goodToken, syncsvc.Request{Since: "whenever"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "validation", body["type"])
}

func TestSyncEndpoint_ReturnsCursor(t *testing.T) {
	f := newFixture(t)

	resp := postJSON(t, f.url+"/sync", goodToken, syncsvc.Request{Since: syncsvc.ZeroCursor})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body syncsvc.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Success)
	assert.NotEmpty(t, body.LastSyncTimestamp)
	assert.NotEmpty(t, body.Changes)
}

func TestEventsEndpoint_BranchMismatchRejected(t *testing.T) {
	f := newFixture(t)

	resp := postJSON(t, f.url+"/events", goodToken, map[string]any{
		"eventKind": "registration:created",
		"branchId":  9,
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestEventsEndpoint_UnknownKindRejected(t *testing.T) {
	f := newFixture(t)

	resp := postJSON(t, f.url+"/events", goodToken, map[string]any{
		"eventKind": "galaxy:created",
		"branchId":  7,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func dialWS(t *testing.T, baseURL, token string) (*ws.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws?token=" + token
	return ws.DefaultDialer.Dial(url, nil)
}

func TestWebSocket_RejectsBadToken(t *testing.T) {
	f := newFixture(t)

	_, resp, err := dialWS(t, f.url, "forged")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocket_EndToEndDelivery(t *testing.T) {
	f := newFixture(t)

	conn, _, err := dialWS(t, f.url, goodToken)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	waitForMembers := func(room domain.Room, n int) bool {
		for range 100 {
			if f.hub.RoomCount(room) == n {
				return true
			}
			time.Sleep(time.Millisecond)
		}
		return false
	}
	require.True(t, waitForMembers(domain.BranchRoom(7), 1))

	// A committed mutation posted by a backend fans out to the session.
	resp := postJSON(t, f.url+"/events", goodToken, map[string]any{
		"eventKind":      "registration:created",
		"branchId":       7,
		"targetEntityId": 123,
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var event domain.Event
	require.NoError(t, json.Unmarshal(data, &event))
	assert.Equal(t, domain.RegistrationCreated, event.Kind)
	assert.Equal(t, int64(123), event.TargetEntityID)
	assert.False(t, event.Timestamp.IsZero())
}

func TestWebSocket_ControlMessages(t *testing.T) {
	f := newFixture(t)

	conn, _, err := dialWS(t, f.url, goodToken)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	waitForMembers := func(room domain.Room, n int) bool {
		for range 100 {
			if f.hub.RoomCount(room) == n {
				return true
			}
			time.Sleep(time.Millisecond)
		}
		return false
	}
	require.True(t, waitForMembers(domain.BranchRoom(7), 1))

	// Leaving the branch room stops branch fan-out for this session.
	require.NoError(t, conn.WriteJSON(domain.ControlMessage{Action: domain.ControlLeave, Room: "branch:7"}))
	require.True(t, waitForMembers(domain.BranchRoom(7), 0))

	// Rejoining is allowed because the room matches the token scope.
	require.NoError(t, conn.WriteJSON(domain.ControlMessage{Action: domain.ControlJoin, Room: "branch:7"}))
	require.True(t, waitForMembers(domain.BranchRoom(7), 1))

	// A room outside the scope stays rejected.
	require.NoError(t, conn.WriteJSON(domain.ControlMessage{Action: domain.ControlJoin, Room: "branch:9"}))
	require.True(t, waitForMembers(domain.BranchRoom(9), 0))
}
