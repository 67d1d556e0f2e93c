package server

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afroash/baeder-monitor/internal/config"
	"github.com/afroash/baeder-monitor/internal/metrics"
)

func fullRouter(t *testing.T, staticDir string) (http.Handler, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	board := NewBoard(testCatalog())
	api := NewAPIHandler(board, &fakeHistory{}, config.HistorySettings{DefaultDays: 7, MaxDays: 31}, nil, "test", zerolog.Nop())
	hub := NewHub(board, "test", zerolog.Nop())
	hub.SetGauge(m)
	t.Cleanup(hub.Close)

	return NewRouter(RouterConfig{
		API:            api,
		Hub:            hub,
		Metrics:        m,
		MetricsHandler: metrics.Handler(reg),
		AllowedOrigins: []string{"https://baeder.example.org"},
		StaticDir:      staticDir,
		Logger:         zerolog.Nop(),
	}), reg
}

func TestRouter_MetricsEndpoint(t *testing.T) {
	h, _ := fullRouter(t, "")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/readings", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `route="/api/readings"`)
}

func TestRouter_CountsRequestsPerRoute(t *testing.T) {
	h, reg := fullRouter(t, "")

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/readings/filple/swim", nil))
	}

	n, err := testutil.GatherAndCount(reg, "http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "one series for the templated route")
}

func TestRouter_CORS(t *testing.T) {
	h, _ := fullRouter(t, "")

	req := httptest.NewRequest(http.MethodGet, "/api/pools", nil)
	req.Header.Set("Origin", "https://baeder.example.org")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "https://baeder.example.org", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_StaticFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>Bäder</h1>"), 0644))

	h, _ := fullRouter(t, dir)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Bäder")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestRouter_WebSocketThroughMiddleware(t *testing.T) {
	h, _ := fullRouter(t, "")
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	msg := readMessage(t, conn)
	assert.Equal(t, "hello", string(msg.Type))
}
