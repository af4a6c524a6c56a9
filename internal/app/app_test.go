package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notifylog/internal/config"
	"notifylog/internal/record"
	"notifylog/internal/router"
	"notifylog/internal/storage"
	kit "notifylog/internal/transport"
	"notifylog/internal/transport/telegram/adapter"
	logx "notifylog/pkg/logx"
)

type outbox struct {
	mu    sync.Mutex
	texts []string
}

func (o *outbox) sender(adapter.Config, logx.Logger) (kit.Sender, error) {
	return kit.SenderFunc(func(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
		o.mu.Lock()
		o.texts = append(o.texts, text)
		o.mu.Unlock()
		return kit.MessageRef{}, nil
	}), nil
}

func (o *outbox) all() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.texts...)
}

func writeConfig(t *testing.T, dir string, cfg map[string]any) string {
	t.Helper()
	b, err := json.Marshal(cfg)
	require.NoError(t, err)
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func baseConfig(dir string) map[string]any {
	return map[string]any{
		"logging": map[string]any{
			"log_level":        "DEBUG",
			"use_file_handler": true,
			"file_handler": map[string]any{
				"path":  filepath.Join(dir, "log", "app.log"),
				"level": "DEBUG",
			},
			"use_telegram_handler": true,
			"telegram_handler": map[string]any{
				"bot_token": "1:abc",
				"admin_ids": []int64{42},
				"level":     "ERROR",
			},
			"use_websocket_handler": true,
			"websocket_handler":     map[string]any{"max_history": 50},
		},
		"server": map[string]any{"addr": "127.0.0.1:0"},
	}
}

func newTestApp(t *testing.T, path string, box *outbox, opts ...Option) (*App, *bytes.Buffer) {
	t.Helper()
	var console bytes.Buffer
	opts = append([]Option{
		WithConsole(&console, true),
		WithDiagnostics(io.Discard),
		WithEnvironment(map[string]string{}),
		WithSender(box.sender),
	}, opts...)
	a, err := NewApp(path, opts...)
	require.NoError(t, err)
	return a, &console
}

func TestAppRoutesToEverySink(t *testing.T) {
	dir := t.TempDir()
	box := &outbox{}
	a, console := newTestApp(t, writeConfig(t, dir, baseConfig(dir)), box)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))
	assert.Equal(t, []string{"console", "file", "notify", "stream"}, a.Router().Sinks())
	require.NotNil(t, a.Addr())

	a.Router().Info(ctx, "booted")
	a.Router().Error(ctx, "disk full", router.WithAuthor("janitor"))

	base := "http://" + a.Addr().String()
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/api/logs/history")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var h record.History
		if json.NewDecoder(resp.Body).Decode(&h) != nil {
			return false
		}
		return len(h.Logs) == 2 && h.Logs[1].Level == "ERROR"
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, a.Stop(context.Background(), StopAppStop))

	texts := box.all()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "disk full")
	assert.Contains(t, console.String(), "booted")

	b, err := os.ReadFile(filepath.Join(dir, "log", "app.log"))
	require.NoError(t, err)
	assert.Contains(t, string(b), "INFO | ")
	assert.Contains(t, string(b), "[janitor]")

	_, err = http.Get(base + "/healthz")
	assert.Error(t, err, "server is shut down")
}

func TestReconfigureSwapsSinks(t *testing.T) {
	dir := t.TempDir()
	box := &outbox{}
	a, console := newTestApp(t, writeConfig(t, dir, baseConfig(dir)), box, WithoutServer())
	ctx := context.Background()
	require.NoError(t, a.Start(ctx))
	defer a.Stop(ctx, StopAppStop)
	assert.Nil(t, a.Addr())

	prev := a.Config()
	next := *prev
	next.Logging.LogLevel = "ERROR"
	next.Logging.UseTelegramHandler = false
	require.True(t, a.reconfigure(ctx, prev, &next))
	assert.Equal(t, []string{"console", "file", "stream"}, a.Router().Sinks())

	console.Reset()
	a.Router().Warning(ctx, "quiet on console")
	a.Router().Critical(ctx, "loud")
	assert.NotContains(t, console.String(), "quiet on console")
	assert.Contains(t, console.String(), "loud")
	assert.Empty(t, box.all())

	broken := next
	broken.Logging.LogLevel = "LOUD"
	assert.False(t, a.reconfigure(ctx, &next, &broken))
	assert.Equal(t, []string{"console", "file", "stream"}, a.Router().Sinks())

	assert.True(t, a.reconfigure(ctx, &next, &next), "no changes is not a failure")
}

func TestNewAppRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := baseConfig(dir)
	logging := cfg["logging"].(map[string]any)
	delete(logging, "telegram_handler")
	_, err := NewApp(writeConfig(t, dir, cfg), WithEnvironment(map[string]string{}))
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestOpenArchive(t *testing.T) {
	dir := t.TempDir()
	_, err := OpenArchive(config.Default(), logx.Nop())
	assert.ErrorIs(t, err, ErrNoArchive)

	cfg := config.Default()
	cfg.Logging.ArchiveHandler = &config.ArchiveHandlerConfig{Driver: "file", Path: filepath.Join(dir, "archive.jsonl")}
	st, err := OpenArchive(cfg, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	require.NoError(t, st.Append(ctx, storage.Entry{Time: time.Now(), Level: "INFO", Message: "kept"}))
	got, err := st.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "kept", got[0].Message)

	cfg.Logging.ArchiveHandler.Driver = "none"
	_, err = OpenArchive(cfg, logx.Nop())
	assert.True(t, errors.Is(err, ErrNoArchive))
}
