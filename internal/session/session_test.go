package session_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"matchrelay/internal/config"
	"matchrelay/internal/game"
	"matchrelay/internal/session"
)

// testServer runs a coordinator behind a bare websocket upgrade
// endpoint, bypassing the router so tests exercise the session protocol
// directly.
type testServer struct {
	cfg   *config.ServerConfig
	coord *game.Coordinator
	srv   *httptest.Server
}

func newTestServer(t *testing.T, mutate func(*config.ServerConfig)) *testServer {
	t.Helper()
	cfg := config.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())

	coord := game.New(cfg, zap.NewNop())
	coord.Start()

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		session.New(conn, coord, cfg, zap.NewNop()).Start()
	}))
	t.Cleanup(func() {
		srv.Close()
		coord.Stop()
	})
	return &testServer{cfg: cfg, coord: coord, srv: srv}
}

type client struct {
	t      *testing.T
	conn   *websocket.Conn
	nextID uint64
}

func (ts *testServer) dial(t *testing.T) *client {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &client{t: t, conn: conn}
}

// send writes one text frame and returns the request id it carried.
// The payload is a format string whose first verb is the id.
func (c *client) send(format string, args ...any) uint64 {
	c.t.Helper()
	id := c.nextID
	c.nextID++
	all := append([]any{id}, args...)
	err := c.conn.WriteMessage(websocket.TextMessage, []byte(fmt.Sprintf(format, all...)))
	require.NoError(c.t, err)
	return id
}

func (c *client) sendRaw(raw string) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, []byte(raw)))
}

func (c *client) read() map[string]any {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := c.conn.ReadMessage()
	require.NoError(c.t, err)
	var m map[string]any
	require.NoError(c.t, json.Unmarshal(data, &m))
	return m
}

// readUntil skips frames until one of the wanted type arrives.
func (c *client) readUntil(mtype string) map[string]any {
	c.t.Helper()
	for i := 0; i < 16; i++ {
		m := c.read()
		if m["type"] == mtype {
			return m
		}
	}
	c.t.Fatalf("no %q frame arrived", mtype)
	return nil
}

func (c *client) login(name string) string {
	c.t.Helper()
	reqID := c.send(`{"id":%d,"type":"login","details":{"username":%q,"avatar":1,"color":2}}`, name)
	resp := c.readUntil("login_response")
	require.Equal(c.t, "ok", resp["result"])
	require.Equal(c.t, float64(reqID), resp["requestId"])
	return resp["playerId"].(string)
}

// startGame drives two fresh clients through create, join, start and
// ack, returning them in the playing phase along with their player ids.
func startGame(t *testing.T, ts *testServer) (a, b *client, aID, bID string) {
	t.Helper()
	a, b = ts.dial(t), ts.dial(t)
	aID = a.login("a")
	bID = b.login("b")

	a.send(`{"id":%d,"type":"room_create"}`)
	created := a.readUntil("room_create_response")
	require.Equal(t, "ok", created["result"])
	invite := created["inviteId"].(string)

	b.send(`{"id":%d,"type":"room_join","inviteId":%q}`, invite)
	joined := b.readUntil("room_join_response")
	require.Equal(t, "ok", joined["result"])

	a.send(`{"id":%d,"type":"room_start","connectionType":"server_broadcast"}`)
	for _, c := range []*client{a, b} {
		start := c.readUntil("event_room_start")
		require.Equal(t, "server_broadcast", start["connectionType"])
		c.send(`{"id":%d,"type":"event_room_start_ack","requestId":%v}`, start["id"])
	}
	return a, b, aID, bID
}

func TestPreLoginGating(t *testing.T) {
	ts := newTestServer(t, nil)
	c := ts.dial(t)

	reqID := c.send(`{"id":%d,"type":"room_create"}`)
	frame := c.read()
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, "Login Required", frame["error"])
	assert.Equal(t, float64(reqID), frame["originId"])

	c.sendRaw(`{"id":`)
	frame = c.read()
	assert.Equal(t, "Invalid Json", frame["error"])

	c.sendRaw(`{"type":"login","details":{"username":"x"}}`)
	frame = c.read()
	assert.Equal(t, "Id missing", frame["error"])

	playerID := c.login("alice")
	assert.Len(t, playerID, 12)
}

func TestOutboundIDsCountFromZero(t *testing.T) {
	ts := newTestServer(t, nil)
	c := ts.dial(t)

	c.send(`{"id":%d,"type":"nope"}`)
	c.send(`{"id":%d,"type":"nope"}`)
	c.send(`{"id":%d,"type":"login","details":{"username":"x"}}`)

	for want := 0; want < 3; want++ {
		frame := c.read()
		assert.Equal(t, float64(want), frame["id"])
	}
}

func TestMatchMakingGating(t *testing.T) {
	ts := newTestServer(t, nil)
	c := ts.dial(t)
	c.login("alice")

	t.Run("unknown type", func(t *testing.T) {
		reqID := c.send(`{"id":%d,"type":"teleport"}`)
		frame := c.read()
		assert.Equal(t, "Invalid message type", frame["error"])
		assert.Equal(t, float64(reqID), frame["originId"])
	})

	t.Run("join of a dead invite stays in matchmaking", func(t *testing.T) {
		reqID := c.send(`{"id":%d,"type":"room_join","inviteId":"AAAAAAAAAAE="}`)
		frame := c.readUntil("room_join_response")
		assert.Equal(t, "room_not_found", frame["result"])
		assert.Equal(t, float64(reqID), frame["requestId"])

		// Still in matchmaking: finding a room works.
		c.send(`{"id":%d,"type":"room_find"}`)
		found := c.readUntil("room_find_response")
		assert.Equal(t, "ok", found["result"])
		assert.Equal(t, true, found["justCreated"])
	})
}

func TestLobbyGating(t *testing.T) {
	ts := newTestServer(t, nil)
	c := ts.dial(t)
	c.login("alice")
	c.send(`{"id":%d,"type":"room_create"}`)
	c.readUntil("room_create_response")

	t.Run("room_find is not a lobby message", func(t *testing.T) {
		c.send(`{"id":%d,"type":"room_find"}`)
		frame := c.read()
		assert.Equal(t, "Invalid message type", frame["error"])
	})

	t.Run("unknown connection type", func(t *testing.T) {
		c.send(`{"id":%d,"type":"room_start","connectionType":"carrier_pigeon"}`)
		frame := c.read()
		assert.Equal(t, "Invalid Json", frame["error"])
		assert.Equal(t, "unknown connection type", frame["errorMessage"])
	})

	t.Run("ack with nothing pending", func(t *testing.T) {
		c.send(`{"id":%d,"type":"event_room_start_ack","requestId":0}`)
		frame := c.read()
		assert.Equal(t, "Invalid state", frame["error"])
		assert.Equal(t, "No message to acknowledge", frame["errorMessage"])
	})

	t.Run("leave returns to matchmaking", func(t *testing.T) {
		reqID := c.send(`{"id":%d,"type":"room_leave"}`)
		frame := c.readUntil("room_leave_response")
		assert.Equal(t, "ok", frame["result"])
		assert.Equal(t, float64(reqID), frame["requestId"])

		c.send(`{"id":%d,"type":"room_create"}`)
		created := c.readUntil("room_create_response")
		assert.Equal(t, "ok", created["result"])
	})
}

func TestJoinedLobbyReceivesEvents(t *testing.T) {
	ts := newTestServer(t, nil)
	a, b := ts.dial(t), ts.dial(t)
	a.login("a")
	b.login("b")

	a.send(`{"id":%d,"type":"room_create"}`)
	created := a.readUntil("room_create_response")
	invite := created["inviteId"].(string)

	b.send(`{"id":%d,"type":"room_join","inviteId":%q}`, invite)
	joined := b.readUntil("room_join_response")
	require.Equal(t, "ok", joined["result"])
	assert.Len(t, joined["players"], 2)

	// Both members see the join, the joiner included.
	for _, c := range []*client{a, b} {
		ev := c.readUntil("event_player_joined")
		player := ev["player"].(map[string]any)
		assert.Equal(t, "b", player["username"])
	}

	// A cosmetics edit reaches the other member only.
	b.send(`{"id":%d,"type":"change_avatar","avatar":4,"color":9}`)
	ev := a.readUntil("event_player_avatar_change")
	assert.Equal(t, float64(4), ev["avatar"])
	assert.Equal(t, float64(9), ev["color"])
}

func TestStartAckRelayFlow(t *testing.T) {
	ts := newTestServer(t, nil)
	a, b, aID, bID := startGame(t, ts)

	a.sendRaw(`{"move":"up"}`)
	c := b.read()
	assert.Equal(t, aID, c["sender"])
	assert.Equal(t, "up", c["move"])

	b.sendRaw(`{"move":"down"}`)
	c = a.read()
	assert.Equal(t, bID, c["sender"])
	assert.Equal(t, "down", c["move"])
}

func TestAckWithWrongRequestID(t *testing.T) {
	ts := newTestServer(t, nil)
	a, b := ts.dial(t), ts.dial(t)
	a.login("a")
	b.login("b")

	a.send(`{"id":%d,"type":"room_create"}`)
	created := a.readUntil("room_create_response")
	b.send(`{"id":%d,"type":"room_join","inviteId":%q}`, created["inviteId"].(string))
	b.readUntil("room_join_response")

	a.send(`{"id":%d,"type":"room_start","connectionType":"server_broadcast"}`)
	start := a.readUntil("event_room_start")

	a.send(`{"id":%d,"type":"event_room_start_ack","requestId":%v}`, float64(99999))
	frame := a.read()
	assert.Equal(t, "Invalid request_id", frame["error"])

	// The right id still goes through afterwards.
	a.send(`{"id":%d,"type":"event_room_start_ack","requestId":%v}`, start["id"])
	a.sendRaw(`{"ok":true}`)
}

func TestRelayBuffersUntilAck(t *testing.T) {
	ts := newTestServer(t, nil)
	a, b := ts.dial(t), ts.dial(t)
	aID := a.login("a")
	b.login("b")

	a.send(`{"id":%d,"type":"room_create"}`)
	created := a.readUntil("room_create_response")
	b.send(`{"id":%d,"type":"room_join","inviteId":%q}`, created["inviteId"].(string))
	b.readUntil("room_join_response")
	a.send(`{"id":%d,"type":"room_start","connectionType":"server_broadcast"}`)

	// A enters the game; B holds its ack.
	start := a.readUntil("event_room_start")
	a.send(`{"id":%d,"type":"event_room_start_ack","requestId":%v}`, start["id"])

	a.sendRaw(`{"seq":1}`)
	a.sendRaw(`{"seq":2}`)

	// Give the relays time to reach B's session before the ack.
	time.Sleep(50 * time.Millisecond)

	startB := b.readUntil("event_room_start")
	b.send(`{"id":%d,"type":"event_room_start_ack","requestId":%v}`, startB["id"])

	// Buffered frames flush in order after the ack.
	first := b.read()
	second := b.read()
	assert.Equal(t, aID, first["sender"])
	assert.Equal(t, float64(1), first["seq"])
	assert.Equal(t, float64(2), second["seq"])
}

func TestRelayQueueOverflowKicksSlowAcker(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.ServerConfig) {
		cfg.Server.RelayQueueMaxSize = 4
	})
	a, b := ts.dial(t), ts.dial(t)
	a.login("a")
	bID := b.login("b")

	a.send(`{"id":%d,"type":"room_create"}`)
	created := a.readUntil("room_create_response")
	b.send(`{"id":%d,"type":"room_join","inviteId":%q}`, created["inviteId"].(string))
	b.readUntil("room_join_response")
	a.send(`{"id":%d,"type":"room_start","connectionType":"server_broadcast"}`)

	start := a.readUntil("event_room_start")
	a.send(`{"id":%d,"type":"event_room_start_ack","requestId":%v}`, start["id"])

	// B never acknowledges; its relay buffer overflows and the server
	// drops it.
	for i := 0; i < 8; i++ {
		a.sendRaw(fmt.Sprintf(`{"seq":%d}`, i))
	}

	left := a.readUntil("player_left")
	assert.Equal(t, bID, left["sender"])
	assert.Nil(t, left["newHost"])

	b.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := b.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func TestGameEndReturnsToLobby(t *testing.T) {
	ts := newTestServer(t, nil)
	a, b, _, _ := startGame(t, ts)

	a.sendRaw(`{"type":"game_end","id":7}`)
	resp := a.readUntil("game_end_response")
	assert.Equal(t, "ok", resp["result"])
	assert.Equal(t, float64(7), resp["requestId"])
	assert.Len(t, resp["players"], 2)

	// Back in the lobby: lobby-phase messages are accepted again.
	a.send(`{"id":%d,"type":"change_avatar","avatar":6,"color":1}`)
	ev := b.readUntil("event_player_avatar_change")
	assert.Equal(t, float64(6), ev["avatar"])
}

func TestHeartbeatTimeoutClosesConnection(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.ServerConfig) {
		cfg.Server.HeartbeatInterval = 20 * time.Millisecond
		cfg.Server.ClientTimeout = 60 * time.Millisecond
	})
	c := ts.dial(t)

	// Swallow pings instead of answering them; the server must give up
	// on us after the client timeout.
	c.conn.SetPingHandler(func(string) error { return nil })

	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func TestDisconnectNotifiesRoom(t *testing.T) {
	ts := newTestServer(t, nil)
	a, b := ts.dial(t), ts.dial(t)
	a.login("a")
	bID := b.login("b")

	a.send(`{"id":%d,"type":"room_create"}`)
	created := a.readUntil("room_create_response")
	b.send(`{"id":%d,"type":"room_join","inviteId":%q}`, created["inviteId"].(string))
	b.readUntil("room_join_response")

	require.NoError(t, b.conn.Close())

	ev := a.readUntil("event_player_left")
	assert.Equal(t, bID, ev["player"])
	// B was not host, so nobody is promoted.
	_, promoted := ev["newHost"]
	assert.False(t, promoted)
}
