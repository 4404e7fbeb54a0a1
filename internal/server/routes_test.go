package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serverEnvelope decodes any outbound message; only the fields relevant
// to the received type are populated.
type serverEnvelope struct {
	Type        string                     `json:"type"`
	ID          string                     `json:"id"`
	Msg         string                     `json:"msg"`
	Board       [3][3]string               `json:"board"`
	CurrentTurn string                     `json:"currentTurn"`
	Winner      string                     `json:"winner"`
	Players     map[string]json.RawMessage `json:"players"`
	Scores      map[string]int             `json:"scores"`
}

func setupTestServer(t *testing.T) (*Server, string) {
	t.Helper()

	cfg := testRoomConfig()
	s := &Server{
		port:              0,
		connectionManager: NewConnectionManager(),
		roomManager:       NewRoomManager(cfg),
		rateLimiter:       NewRateLimiter(1000, time.Second),
	}
	s.roomManager.SetNotify(s.broadcastRoom)

	server := httptest.NewServer(http.HandlerFunc(s.websocketHandler))
	t.Cleanup(func() {
		server.Close()
		s.roomManager.Shutdown()
	})

	return s, "ws" + strings.TrimPrefix(server.URL, "http")
}

func dialTestServer(t *testing.T, ctx context.Context, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err, "failed to dial websocket")
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "test done") })
	return conn
}

func sendJSON(t *testing.T, ctx context.Context, conn *websocket.Conn, msg ClientMessage) {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

// readUntil reads messages until one of the given type arrives, skipping
// interleaved snapshot broadcasts. An "error" message short-circuits any
// other expectation.
func readUntil(t *testing.T, ctx context.Context, conn *websocket.Conn, msgType string) serverEnvelope {
	t.Helper()
	for {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err, "connection closed while waiting for %q", msgType)

		var env serverEnvelope
		require.NoError(t, json.Unmarshal(data, &env))
		if env.Type == msgType {
			return env
		}
		if env.Type == "error" {
			t.Fatalf("got error %q while waiting for %q", env.Msg, msgType)
		}
	}
}

func TestWebSocketHostAndJoin(t *testing.T) {
	s, url := setupTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	host := dialTestServer(t, ctx, url)
	sendJSON(t, ctx, host, ClientMessage{Type: "host", RoomID: "ABC123", Password: "x", Mode: "tictactoe"})

	hosted := readUntil(t, ctx, host, "hosted")
	assert.NotEmpty(t, hosted.ID)

	// The ack precedes the first snapshot.
	snap := readUntil(t, ctx, host, "gameState")
	assert.Len(t, snap.Players, 1)
	assert.Empty(t, snap.CurrentTurn)

	guest := dialTestServer(t, ctx, url)
	sendJSON(t, ctx, guest, ClientMessage{Type: "join", RoomID: "ABC123", Password: "x"})

	joined := readUntil(t, ctx, guest, "joined")
	assert.NotEmpty(t, joined.ID)
	assert.NotEqual(t, hosted.ID, joined.ID)

	// Both sessions receive the post-join snapshot with two seats and a
	// started round.
	for _, conn := range []*websocket.Conn{host, guest} {
		snap := readUntil(t, ctx, conn, "gameState")
		for len(snap.Players) != 2 {
			snap = readUntil(t, ctx, conn, "gameState")
		}
		assert.NotEmpty(t, snap.CurrentTurn)
	}

	// A third session cannot take a seat.
	third := dialTestServer(t, ctx, url)
	sendJSON(t, ctx, third, ClientMessage{Type: "join", RoomID: "ABC123", Password: "x"})
	errMsg := readUntil(t, ctx, third, "error")
	assert.Contains(t, errMsg.Msg, "ROOM_FULL")

	// Neither can the seated guest by asking again: both seats are taken.
	sendJSON(t, ctx, guest, ClientMessage{Type: "join", RoomID: "ABC123", Password: "x"})
	errMsg = readUntil(t, ctx, guest, "error")
	assert.Contains(t, errMsg.Msg, "ROOM_FULL")

	// The rejection did not cost the guest its seat.
	require.Equal(t, 1, s.roomManager.Count())
	room, ok := s.roomManager.Get("ABC123")
	require.True(t, ok)
	assert.Len(t, room.SeatedPlayers(), 2)
}

func TestWebSocketJoinErrors(t *testing.T) {
	_, url := setupTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	host := dialTestServer(t, ctx, url)
	sendJSON(t, ctx, host, ClientMessage{Type: "host", RoomID: "ABC123", Password: "secret", Mode: "tictactoe"})
	readUntil(t, ctx, host, "hosted")

	guest := dialTestServer(t, ctx, url)

	sendJSON(t, ctx, guest, ClientMessage{Type: "join", RoomID: "NOPE", Password: "secret"})
	errMsg := readUntil(t, ctx, guest, "error")
	assert.Contains(t, errMsg.Msg, "ROOM_NOT_FOUND")

	sendJSON(t, ctx, guest, ClientMessage{Type: "join", RoomID: "ABC123", Password: "wrong"})
	errMsg = readUntil(t, ctx, guest, "error")
	assert.Contains(t, errMsg.Msg, "WRONG_PASSWORD")

	// A failed attempt does not poison the session; the retry succeeds.
	sendJSON(t, ctx, guest, ClientMessage{Type: "join", RoomID: "ABC123", Password: "secret"})
	readUntil(t, ctx, guest, "joined")
}

func TestWebSocketSelfJoinKeepsSingleSeat(t *testing.T) {
	// Why: the hosting session joining its own room must stay a single
	// seat, and closing that one socket must still destroy the room.
	s, url := setupTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	host := dialTestServer(t, ctx, url)
	sendJSON(t, ctx, host, ClientMessage{Type: "host", RoomID: "ABC123", Password: "x", Mode: "tictactoe"})
	hostID := readUntil(t, ctx, host, "hosted").ID

	sendJSON(t, ctx, host, ClientMessage{Type: "join", RoomID: "ABC123", Password: "x"})
	assert.Equal(t, hostID, readUntil(t, ctx, host, "joined").ID)

	room, ok := s.roomManager.Get("ABC123")
	require.True(t, ok)
	assert.Equal(t, []string{hostID}, room.SeatedPlayers())

	snap := readUntil(t, ctx, host, "gameState")
	assert.Len(t, snap.Players, 1)
	assert.Empty(t, snap.CurrentTurn)

	host.Close(websocket.StatusNormalClosure, "bye")
	waitFor(t, time.Second, func() bool { return s.roomManager.Count() == 0 },
		"room survived its only session's disconnect")
}

func TestWebSocketSnapshotOrdering(t *testing.T) {
	// Why: broadcasts racing a transition must never leave a client
	// holding a stale snapshot as its newest message.
	s, url := setupTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	host := dialTestServer(t, ctx, url)
	sendJSON(t, ctx, host, ClientMessage{Type: "host", RoomID: "ABC123", Password: "x", Mode: "tictactoe"})
	readUntil(t, ctx, host, "hosted")

	room, ok := s.roomManager.Get("ABC123")
	require.True(t, ok)

	// Fire a burst of one-seat snapshots concurrently with the join.
	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.broadcastRoom(room)
		}()
	}

	guest := dialTestServer(t, ctx, url)
	sendJSON(t, ctx, guest, ClientMessage{Type: "join", RoomID: "ABC123", Password: "x"})
	readUntil(t, ctx, guest, "joined")
	wg.Wait()

	// Drain until the two-seat snapshot; anything after it must not be
	// an older one-seat snapshot.
	snap := readUntil(t, ctx, host, "gameState")
	for len(snap.Players) != 2 {
		snap = readUntil(t, ctx, host, "gameState")
	}

	tail, tailCancel := context.WithTimeout(ctx, 150*time.Millisecond)
	defer tailCancel()
	for {
		_, data, err := host.Read(tail)
		if err != nil {
			break
		}
		var env serverEnvelope
		require.NoError(t, json.Unmarshal(data, &env))
		assert.Len(t, env.Players, 2, "stale snapshot delivered after a newer one")
	}
}

func TestWebSocketHostDuplicateRoom(t *testing.T) {
	_, url := setupTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first := dialTestServer(t, ctx, url)
	sendJSON(t, ctx, first, ClientMessage{Type: "host", RoomID: "ABC123", Password: "x", Mode: "tictactoe"})
	readUntil(t, ctx, first, "hosted")

	second := dialTestServer(t, ctx, url)
	sendJSON(t, ctx, second, ClientMessage{Type: "host", RoomID: "ABC123", Password: "y", Mode: "tictactoe"})
	errMsg := readUntil(t, ctx, second, "error")
	assert.Contains(t, errMsg.Msg, "ROOM_EXISTS")
}

func TestWebSocketMalformedMessagesDropped(t *testing.T) {
	// Why: garbage and unknown types are dropped with no reply; the
	// connection stays usable.
	_, url := setupTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialTestServer(t, ctx, url)

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("this is not json")))
	sendJSON(t, ctx, conn, ClientMessage{Type: "teleport"})
	sendJSON(t, ctx, conn, ClientMessage{Type: "move", Row: 0, Col: 0}) // not seated: ignored

	// The first reply the connection ever sees is the host ack, proving
	// none of the above produced output.
	sendJSON(t, ctx, conn, ClientMessage{Type: "host", RoomID: "ABC123", Password: "x", Mode: "tictactoe"})
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var env serverEnvelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, "hosted", env.Type)
}

func TestWebSocketMoveFlow(t *testing.T) {
	_, url := setupTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	host := dialTestServer(t, ctx, url)
	sendJSON(t, ctx, host, ClientMessage{Type: "host", RoomID: "ABC123", Password: "x", Mode: "tictactoe"})
	hostID := readUntil(t, ctx, host, "hosted").ID

	guest := dialTestServer(t, ctx, url)
	sendJSON(t, ctx, guest, ClientMessage{Type: "join", RoomID: "ABC123", Password: "x"})
	guestID := readUntil(t, ctx, guest, "joined").ID

	// Wait for the two-seat snapshot to learn who opens.
	snap := readUntil(t, ctx, guest, "gameState")
	for snap.CurrentTurn == "" {
		snap = readUntil(t, ctx, guest, "gameState")
	}

	xConn, xID := host, hostID
	if snap.CurrentTurn == guestID {
		xConn, xID = guest, guestID
	}

	sendJSON(t, ctx, xConn, ClientMessage{Type: "move", Row: 1, Col: 1})

	// Both sessions see the placed mark and the turn handover.
	for _, conn := range []*websocket.Conn{host, guest} {
		snap := readUntil(t, ctx, conn, "gameState")
		for snap.Board[1][1] == "" {
			snap = readUntil(t, ctx, conn, "gameState")
		}
		assert.Equal(t, xID, snap.Board[1][1])
		assert.NotEqual(t, xID, snap.CurrentTurn)
	}
}

func TestWebSocketDisconnectCleanup(t *testing.T) {
	s, url := setupTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	host := dialTestServer(t, ctx, url)
	sendJSON(t, ctx, host, ClientMessage{Type: "host", RoomID: "ABC123", Password: "x", Mode: "tictactoe"})
	readUntil(t, ctx, host, "hosted")

	guest := dialTestServer(t, ctx, url)
	sendJSON(t, ctx, guest, ClientMessage{Type: "join", RoomID: "ABC123", Password: "x"})
	readUntil(t, ctx, guest, "joined")

	// The guest drops; the host's next snapshot shows a single seat.
	guest.Close(websocket.StatusNormalClosure, "bye")
	snap := readUntil(t, ctx, host, "gameState")
	for len(snap.Players) != 1 {
		snap = readUntil(t, ctx, host, "gameState")
	}
	assert.Empty(t, snap.CurrentTurn)

	// The host drops too; the room is destroyed.
	host.Close(websocket.StatusNormalClosure, "bye")
	waitFor(t, time.Second, func() bool { return s.roomManager.Count() == 0 },
		"room survived its last disconnect")
}

func TestWebSocketArenaInput(t *testing.T) {
	_, url := setupTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialTestServer(t, ctx, url)
	sendJSON(t, ctx, conn, ClientMessage{Type: "host", RoomID: "ABC123", Password: "x", Mode: "arena"})
	playerID := readUntil(t, ctx, conn, "hosted").ID

	type arenaPlayer struct {
		X     float64 `json:"x"`
		Y     float64 `json:"y"`
		Color string  `json:"color"`
		Role  string  `json:"role"`
	}
	decodePlayer := func(env serverEnvelope) arenaPlayer {
		var p arenaPlayer
		require.NoError(t, json.Unmarshal(env.Players[playerID], &p))
		return p
	}

	// The tick loop streams snapshots even before any input.
	start := decodePlayer(readUntil(t, ctx, conn, "state"))
	assert.Equal(t, 200.0, start.X)
	assert.Equal(t, RoleHost, start.Role)

	sendJSON(t, ctx, conn, ClientMessage{Type: "input", Keys: map[string]bool{"d": true}})

	moved := decodePlayer(readUntil(t, ctx, conn, "state"))
	for moved.X <= start.X {
		moved = decodePlayer(readUntil(t, ctx, conn, "state"))
	}
	assert.Greater(t, moved.X, start.X)
	assert.Equal(t, start.Y, moved.Y)
}

func TestHealthEndpointWithoutDatabase(t *testing.T) {
	s := &Server{
		connectionManager: NewConnectionManager(),
		roomManager:       NewRoomManager(testRoomConfig()),
		rateLimiter:       NewRateLimiter(1000, time.Second),
	}
	server := httptest.NewServer(s.RegisterRoutes())
	defer server.Close()

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "up", body["status"])
	assert.Equal(t, "disabled", body["database"])
}

func TestStatusEndpoint(t *testing.T) {
	s := &Server{
		connectionManager: NewConnectionManager(),
		roomManager:       NewRoomManager(testRoomConfig()),
		rateLimiter:       NewRateLimiter(1000, time.Second),
	}
	_, err := s.roomManager.HostRoom("ABC123", "x", "tictactoe", "p1")
	require.NoError(t, err)

	server := httptest.NewServer(s.RegisterRoutes())
	defer server.Close()

	resp, err := http.Get(server.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 1.0, body["rooms"])
}
