package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afroash/baeder-monitor/internal/models"
)

type gauge struct {
	mu sync.Mutex
	n  int
}

func (g *gauge) SetClients(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = n
}

func (g *gauge) value() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}

func setupHub(t *testing.T, origins ...string) (*Board, *Hub, *gauge, string) {
	t.Helper()
	board := NewBoard(testCatalog())
	hub := NewHub(board, "test", zerolog.Nop(), origins...)
	g := &gauge{}
	hub.SetGauge(g)
	board.OnUpdate(hub.Broadcast)

	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return board, hub, g, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string, header http.Header) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) models.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg models.Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestHub_GreetsNewClient(t *testing.T) {
	board, hub, g, url := setupHub(t)
	board.Publish([]models.DisplayReading{live(swim, 23.6, time.Now())})

	conn := dial(t, url, nil)

	msg := readMessage(t, conn)
	require.Equal(t, models.MessageTypeHello, msg.Type)
	var hello models.HelloMessage
	require.NoError(t, msg.UnmarshalPayload(&hello))
	assert.NotEmpty(t, hello.ClientID)
	assert.Equal(t, "test", hello.Version)
	require.Len(t, hello.Pools, 2)
	assert.Equal(t, "filple", hello.Pools[0].Key)

	msg = readMessage(t, conn)
	require.Equal(t, models.MessageTypeReadings, msg.Type)
	var readings models.ReadingsMessage
	require.NoError(t, msg.UnmarshalPayload(&readings))
	assert.Equal(t, 3, readings.Count)
	assert.True(t, readings.Readings[0].HasValue)
	assert.Equal(t, 23.6, readings.Readings[0].Value)

	waitFor(t, func() bool { return hub.ClientCount() == 1 })
	assert.Equal(t, 1, g.value())
	assert.Equal(t, hello.ClientID, hub.Clients()[0].ID)
}

func TestHub_BroadcastsPublishedReadings(t *testing.T) {
	board, hub, _, url := setupHub(t)

	a := dial(t, url, nil)
	b := dial(t, url, nil)
	for _, c := range []*websocket.Conn{a, b} {
		readMessage(t, c) // hello
		readMessage(t, c) // initial readings
	}
	waitFor(t, func() bool { return hub.ClientCount() == 2 })

	board.Publish([]models.DisplayReading{live(uv, 4, time.Now())})

	for _, c := range []*websocket.Conn{a, b} {
		msg := readMessage(t, c)
		require.Equal(t, models.MessageTypeReadings, msg.Type)
		var readings models.ReadingsMessage
		require.NoError(t, msg.UnmarshalPayload(&readings))
		assert.True(t, readings.Readings[2].HasValue)
		assert.Equal(t, models.SourceLive, readings.Readings[2].Source)
	}
}

func TestHub_ClientDisconnect(t *testing.T) {
	_, hub, g, url := setupHub(t)

	conn := dial(t, url, nil)
	readMessage(t, conn)
	waitFor(t, func() bool { return hub.ClientCount() == 1 })

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	waitFor(t, func() bool { return hub.ClientCount() == 0 })
	assert.Equal(t, 0, g.value())
}

func TestHub_Close(t *testing.T) {
	_, hub, _, url := setupHub(t)

	conn := dial(t, url, nil)
	readMessage(t, conn)
	readMessage(t, conn)
	waitFor(t, func() bool { return hub.ClientCount() == 1 })

	hub.Close()
	assert.Equal(t, 0, hub.ClientCount())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)

	// closed hubs turn new dashboards away
	late, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		defer late.Close()
		late.SetReadDeadline(time.Now().Add(time.Second))
		_, _, err = late.ReadMessage()
		assert.Error(t, err)
	}
}

func TestHub_CheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		host    string
		want    bool
	}{
		{"no origin header", nil, "", "dash.local", true},
		{"same host", nil, "http://dash.local", "dash.local", true},
		{"listed origin", []string{"https://baeder.example.org"}, "https://baeder.example.org", "dash.local", true},
		{"wildcard", []string{"*"}, "https://anything.example", "dash.local", true},
		{"foreign origin", []string{"https://baeder.example.org"}, "https://evil.example", "dash.local", false},
		{"nothing configured", nil, "https://evil.example", "dash.local", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := NewHub(NewBoard(testCatalog()), "test", zerolog.Nop(), tt.allowed...)
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			req.Host = tt.host
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if got := hub.checkOrigin(req); got != tt.want {
				t.Errorf("checkOrigin() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHub_RejectsForeignOriginOnUpgrade(t *testing.T) {
	_, _, _, url := setupHub(t, "https://baeder.example.org")

	header := http.Header{}
	header.Set("Origin", "https://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
