package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notifylog/internal/record"
	"notifylog/internal/stream"
	logx "notifylog/pkg/logx"
)

func msg(level, text string) record.Message {
	return record.Message{Level: level, Timestamp: "2024-01-01 00:00:00.000000", Message: text}
}

func startServer(t *testing.T, opt Options) (*stream.Manager, *httptest.Server) {
	t.Helper()
	m := stream.NewManager(logx.Nop(), nil)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { _ = m.Stop(context.Background()) })
	srv := httptest.NewServer(NewServer(m, opt).Handler())
	t.Cleanup(srv.Close)
	return m, srv
}

func dial(t *testing.T, srv *httptest.Server, path string, header http.Header) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+path, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitHistory(t *testing.T, m *stream.Manager, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(m.History(0)) == n }, 2*time.Second, 5*time.Millisecond)
}

func TestStreamDeliversHistoryThenLive(t *testing.T) {
	m, srv := startServer(t, Options{})
	ctx := context.Background()
	for _, s := range []string{"one", "two", "three"} {
		require.NoError(t, m.AddLog(ctx, msg("INFO", s)))
	}
	waitHistory(t, m, 3)

	conn := dial(t, srv, "/ws/logs?history=2", nil)
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var h record.History
	require.NoError(t, conn.ReadJSON(&h))
	assert.Equal(t, "history", h.Type)
	require.Len(t, h.Logs, 2)
	assert.Equal(t, "two", h.Logs[0].Message)
	assert.Equal(t, "three", h.Logs[1].Message)

	require.Eventually(t, func() bool { return m.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, m.AddLog(ctx, msg("ERROR", "live")))

	var live record.Message
	require.NoError(t, conn.ReadJSON(&live))
	assert.Equal(t, "live", live.Message)
	assert.Equal(t, "ERROR", live.Level)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.Eventually(t, func() bool { return m.ClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestStreamRejectsBadHistory(t *testing.T) {
	_, srv := startServer(t, Options{})
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/logs?history=lots", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStreamOriginCheck(t *testing.T) {
	_, srv := startServer(t, Options{AllowedOrigins: []string{"https://ok.example"}})

	_ = dial(t, srv, "/ws/logs", http.Header{"Origin": {"https://ok.example"}})

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/logs",
		http.Header{"Origin": {"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHistoryAndStatsAPI(t *testing.T) {
	m, srv := startServer(t, Options{WSPath: "/stream"})
	for _, s := range []string{"a", "b", "c"} {
		require.NoError(t, m.AddLog(context.Background(), msg("DEBUG", s)))
	}
	waitHistory(t, m, 3)

	resp, err := http.Get(srv.URL + "/api/logs/history?limit=1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var h record.History
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&h))
	require.Len(t, h.Logs, 1)
	assert.Equal(t, "c", h.Logs[0].Message)

	resp2, err := http.Get(srv.URL + "/api/logs/stats")
	require.NoError(t, err)
	defer resp2.Body.Close()
	var st stream.Stats
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&st))
	assert.True(t, st.Running)
	assert.Equal(t, 3, st.History)
	assert.Equal(t, stream.DefaultQueueSize, st.QueueCap)

	resp3, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp3.Body.Close()
	assert.Equal(t, http.StatusOK, resp3.StatusCode)

	resp4, err := http.Get(srv.URL + "/api/logs/history?limit=-1")
	require.NoError(t, err)
	resp4.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp4.StatusCode)
}
