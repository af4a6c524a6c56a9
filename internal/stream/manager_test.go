package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notifylog/internal/eventbus"
	"notifylog/internal/record"
	logx "notifylog/pkg/logx"
)

type fakeClient struct {
	mu      sync.Mutex
	got     [][]byte
	fail    error
	doPanic bool
}

func (c *fakeClient) Send(_ context.Context, payload []byte) error {
	if c.doPanic {
		panic("socket gone")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.got = append(c.got, append([]byte(nil), payload...))
	return nil
}

func (c *fakeClient) records(t *testing.T) []record.Message {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []record.Message
	for _, p := range c.got {
		var m record.Message
		require.NoError(t, json.Unmarshal(p, &m))
		out = append(out, m)
	}
	return out
}

func (c *fakeClient) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.got)
}

func msg(level record.Level, text string) record.Message {
	return record.Record{Level: level, Time: time.Now(), Message: text}.ToMessage()
}

func texts(msgs []record.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Message)
	}
	return out
}

func startManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	m := NewManager(logx.Nop(), nil, opts...)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Stop(ctx)
	})
	return m
}

func TestConfigureFirstWins(t *testing.T) {
	m := NewManager(logx.Nop(), nil)
	assert.True(t, m.Configure(Config{MaxHistory: 3}, "first.log"))
	assert.False(t, m.Configure(Config{MaxHistory: 10}, "second.log"))

	cfg, path := m.config()
	assert.Equal(t, 3, cfg.MaxHistory)
	assert.Equal(t, "first.log", path)
	assert.Equal(t, 3, m.Stats().HistoryCap)
}

func TestHistoryKeepsMostRecent(t *testing.T) {
	m := startManager(t)
	m.Configure(Config{MaxHistory: 5}, "")

	for i := range 12 {
		require.NoError(t, m.AddLog(context.Background(), msg(record.Info, fmt.Sprint(i))))
	}
	require.Eventually(t, func() bool { return m.Stats().Queued == 0 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		h := m.History(0)
		return len(h) == 5 && h[4].Message == "11"
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"7", "8", "9", "10", "11"}, texts(m.History(0)))
}

func TestFanOutReachesEveryClient(t *testing.T) {
	m := startManager(t)
	a, b := &fakeClient{}, &fakeClient{}
	m.AddClient(a)
	m.AddClient(b)

	require.NoError(t, m.AddLog(context.Background(), msg(record.Success, "deployed")))

	for _, c := range []*fakeClient{a, b} {
		require.Eventually(t, func() bool { return c.count() == 1 }, time.Second, 5*time.Millisecond)
		got := c.records(t)[0]
		assert.Equal(t, "SUCCESS", got.Level)
		assert.Equal(t, "deployed", got.Message)
	}
}

func TestFailingClientIsRemoved(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	m := NewManager(logx.Nop(), bus)
	require.NoError(t, m.Start(context.Background()))
	defer func() { _ = m.Stop(context.Background()) }()

	bad := &fakeClient{fail: errors.New("broken pipe")}
	panicky := &fakeClient{doPanic: true}
	good := &fakeClient{}
	m.AddClient(bad)
	m.AddClient(panicky)
	m.AddClient(good)

	require.NoError(t, m.AddLog(context.Background(), msg(record.Info, "hello")))

	require.Eventually(t, func() bool { return m.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return good.count() == 1 }, time.Second, 5*time.Millisecond)

	removed := 0
	require.Eventually(t, func() bool {
		for {
			select {
			case e := <-events:
				if e.Type == eventbus.StreamClientRemoved {
					removed++
				}
			default:
				return removed == 2
			}
		}
	}, time.Second, 5*time.Millisecond)
}

func TestRemovedClientGetsNothingAfterRemoval(t *testing.T) {
	m := startManager(t)
	c := &fakeClient{}
	m.AddClient(c)

	require.NoError(t, m.AddLog(context.Background(), msg(record.Info, "before")))
	require.Eventually(t, func() bool { return c.count() == 1 }, time.Second, 5*time.Millisecond)

	assert.True(t, m.RemoveClient(c))
	assert.False(t, m.RemoveClient(c))
	require.NoError(t, m.AddLog(context.Background(), msg(record.Info, "after")))
	require.Eventually(t, func() bool {
		h := m.History(0)
		return len(h) == 2 && h[1].Message == "after"
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"before"}, texts(c.records(t)))
}

func TestNonSevereDroppedWhenSaturated(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()
	m := NewManager(logx.Nop(), bus, WithQueueSize(2), WithEnqueueTimeout(20*time.Millisecond))

	ctx := context.Background()
	require.NoError(t, m.AddLog(ctx, msg(record.Info, "1")))
	require.NoError(t, m.AddLog(ctx, msg(record.Warning, "2")))

	start := time.Now()
	err := m.AddLog(ctx, msg(record.Warning, "3"))
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrDropped)
	assert.GreaterOrEqual(t, elapsed, 20*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
	assert.EqualValues(t, 1, m.Stats().Dropped)
	assert.Equal(t, 2, m.Stats().Queued)

	e := <-events
	assert.Equal(t, eventbus.StreamDropped, e.Type)
}

func TestSevereBlocksUntilConsumerStarts(t *testing.T) {
	m := NewManager(logx.Nop(), nil, WithQueueSize(2), WithEnqueueTimeout(10*time.Millisecond))
	ctx := context.Background()
	require.NoError(t, m.AddLog(ctx, msg(record.Info, "1")))
	require.NoError(t, m.AddLog(ctx, msg(record.Info, "2")))

	done := make(chan error, 1)
	go func() { done <- m.AddLog(ctx, msg(record.Critical, "disk full")) }()

	select {
	case err := <-done:
		t.Fatalf("severe record returned before capacity freed: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, m.Start(ctx))
	defer func() { _ = m.Stop(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("severe record never enqueued")
	}
	require.Eventually(t, func() bool {
		h := m.History(0)
		return len(h) == 3 && h[2].Message == "disk full"
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, m.Stats().Dropped)
}

func TestSevereHonorsCallerContext(t *testing.T) {
	m := NewManager(logx.Nop(), nil, WithQueueSize(1), WithEnqueueTimeout(10*time.Millisecond))
	require.NoError(t, m.AddLog(context.Background(), msg(record.Info, "fill")))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := m.AddLog(ctx, msg(record.Error, "stuck"))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, m.Stats().Dropped)
}

func TestSaturationScenarioAtDefaultCapacity(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the full enqueue timeout")
	}
	m := NewManager(logx.Nop(), nil)
	ctx := context.Background()
	for i := range DefaultQueueSize {
		require.NoError(t, m.AddLog(ctx, msg(record.Info, fmt.Sprint(i))))
	}

	start := time.Now()
	require.ErrorIs(t, m.AddLog(ctx, msg(record.Info, "overflow")), ErrDropped)
	assert.GreaterOrEqual(t, time.Since(start), DefaultEnqueueTimeout)

	done := make(chan error, 1)
	go func() { done <- m.AddLog(ctx, msg(record.Critical, "must arrive")) }()

	require.NoError(t, m.Start(ctx))
	defer func() { _ = m.Stop(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("critical record never enqueued")
	}
	require.Eventually(t, func() bool {
		h := m.History(1)
		return len(h) == 1 && h[0].Message == "must arrive"
	}, 5*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 1, m.Stats().Dropped)
}

func TestStopThenStartResumesWithoutRedelivery(t *testing.T) {
	m := NewManager(logx.Nop(), nil)
	ctx := context.Background()
	require.NoError(t, m.Start(ctx))
	assert.True(t, m.Running())

	c := &fakeClient{}
	m.AddClient(c)
	require.NoError(t, m.AddLog(ctx, msg(record.Info, "a")))
	require.Eventually(t, func() bool { return c.count() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, m.Stop(ctx))
	require.NoError(t, m.Stop(ctx), "stop is idempotent")
	assert.False(t, m.Running())

	require.NoError(t, m.AddLog(ctx, msg(record.Info, "b")))
	assert.Equal(t, 1, m.Stats().Queued)

	require.NoError(t, m.Start(ctx))
	require.NoError(t, m.Start(ctx), "start is idempotent")
	defer func() { _ = m.Stop(ctx) }()

	require.Eventually(t, func() bool { return c.count() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, texts(c.records(t)))
}

func TestSendHistory(t *testing.T) {
	m := startManager(t)
	m.Configure(Config{MaxHistory: 3}, "")
	for i := range 5 {
		require.NoError(t, m.AddLog(context.Background(), msg(record.Debug, fmt.Sprint(i))))
	}
	require.Eventually(t, func() bool {
		h := m.History(0)
		return len(h) == 3 && h[2].Message == "4"
	}, time.Second, 5*time.Millisecond)

	c := &fakeClient{}
	require.NoError(t, m.SendHistory(context.Background(), c, 0))
	require.NoError(t, m.SendHistory(context.Background(), c, 2))

	var full, limited record.History
	require.NoError(t, json.Unmarshal(c.got[0], &full))
	require.NoError(t, json.Unmarshal(c.got[1], &limited))
	assert.Equal(t, "history", full.Type)
	assert.Equal(t, []string{"2", "3", "4"}, texts(full.Logs))
	assert.Equal(t, []string{"3", "4"}, texts(limited.Logs))

	bad := &fakeClient{fail: errors.New("closed")}
	m.AddClient(bad)
	require.Error(t, m.SendHistory(context.Background(), bad, 0))
	assert.Zero(t, m.ClientCount())
}

func TestStartSeedsHistoryFromPersistedLog(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.Local)
	path := filepath.Join(t.TempDir(), "log.log")
	lines := []string{
		"INFO | 2024-06-01 11:59:58.000 | - jobs.go:Run:10 - first",
		"Traceback (most recent call last):",
		"",
		"ERROR | 2024-06-01 11:59:59.500 | - jobs.go:Run:11 - second | with pipe",
		"INFO | 2024-06-01 12:00:00.000 | - jobs.go:Run:12 - same instant",
		"INFO | 2024-06-01 12:30:00.000 | - jobs.go:Run:13 - future",
	}
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))

	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()
	m := NewManager(logx.Nop(), bus, WithClock(func() time.Time { return now }))
	m.Configure(Config{MaxHistory: 10}, path)
	require.NoError(t, m.Start(context.Background()))

	h := m.History(0)
	require.Len(t, h, 2)
	assert.Equal(t, "INFO", h[0].Level)
	assert.Equal(t, "2024-06-01 11:59:58.000000", h[0].Timestamp)
	assert.Equal(t, "jobs.go:Run:10 - first", h[0].Message)
	assert.Equal(t, "ERROR", h[1].Level)
	assert.Equal(t, "jobs.go:Run:11 - second | with pipe", h[1].Message)

	e := <-events
	assert.Equal(t, eventbus.StreamHistorySeeded, e.Type)
	assert.Equal(t, 2, e.Data)

	require.NoError(t, m.Stop(context.Background()))
	require.NoError(t, m.Start(context.Background()))
	defer func() { _ = m.Stop(context.Background()) }()
	assert.Len(t, m.History(0), 2, "restart does not replay the file again")
}

func TestStartWithMissingPersistedLog(t *testing.T) {
	m := NewManager(logx.Nop(), nil)
	m.Configure(Config{}, filepath.Join(t.TempDir(), "absent.log"))
	require.NoError(t, m.Start(context.Background()))
	defer func() { _ = m.Stop(context.Background()) }()
	assert.Empty(t, m.History(0))
	assert.Equal(t, DefaultMaxHistory, m.Stats().HistoryCap)
}

func TestConsumerSurvivesPanickingIteration(t *testing.T) {
	m := NewManager(logx.Nop(), nil, WithRetryPause(time.Millisecond))
	m.beforePush = func(msg record.Message) {
		if msg.Message == "boom" {
			panic("bad record")
		}
	}
	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = m.Stop(ctx) }()

	for _, s := range []string{"before", "boom", "after"} {
		if err := m.AddLog(ctx, msg(record.Info, s)); err != nil {
			t.Fatalf("add %q: %v", s, err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		got := texts(m.History(0))
		if len(got) == 2 && got[0] == "before" && got[1] == "after" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("history=%v, want [before after]", got)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !m.Running() {
		t.Fatal("consumer stopped after a panicking iteration")
	}
}
