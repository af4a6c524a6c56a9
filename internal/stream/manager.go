package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"notifylog/internal/eventbus"
	"notifylog/internal/record"
	rtsup "notifylog/internal/runtime/supervisor"
	logx "notifylog/pkg/logx"
)

const (
	DefaultQueueSize      = 5000
	DefaultMaxHistory     = 200
	DefaultEnqueueTimeout = 500 * time.Millisecond
	DefaultRetryPause     = 100 * time.Millisecond
	DefaultWriteTimeout   = 10 * time.Second
)

// ErrDropped is returned by AddLog when a non-severe record could not be queued in time.
var ErrDropped = errors.New("stream: queue full, record dropped")

// Config is the first-wins configuration of a Manager.
type Config struct {
	MaxHistory int
}

type Option func(*Manager)

func WithQueueSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.queueSize = n
		}
	}
}

func WithEnqueueTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.enqueueTimeout = d
		}
	}
}

func WithRetryPause(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.retryPause = d
		}
	}
}

// WithWriteTimeout bounds a single client write.
func WithWriteTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.writeTimeout = d
		}
	}
}

// WithClock replaces time.Now, used for the replay cutoff.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager broadcasts streaming records to connected clients.
//
// Producers call AddLog; one consumer goroutine drains the bounded queue
// into the history ring and fans each record out to a snapshot of the
// registered clients. The manager never owns client lifecycles.
type Manager struct {
	log logx.Logger
	bus eventbus.Bus
	now func() time.Time

	queueSize      int
	enqueueTimeout time.Duration
	retryPause     time.Duration
	writeTimeout   time.Duration

	queue   chan record.Message
	history *ring

	cfgMu         sync.Mutex
	configured    bool
	cfg           Config
	persistedPath string

	cmu     sync.RWMutex
	clients map[Client]struct{}

	runMu  sync.Mutex
	loop   *rtsup.Supervisor
	fanout *rtsup.Supervisor
	seeded bool

	dropped   atomic.Uint64
	delivered atomic.Uint64

	// beforePush runs on the consumer goroutine for each dequeued record.
	beforePush func(record.Message)
}

func NewManager(log logx.Logger, bus eventbus.Bus, opts ...Option) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &Manager{
		log:            log,
		bus:            bus,
		now:            time.Now,
		queueSize:      DefaultQueueSize,
		enqueueTimeout: DefaultEnqueueTimeout,
		retryPause:     DefaultRetryPause,
		writeTimeout:   DefaultWriteTimeout,
		cfg:            Config{MaxHistory: DefaultMaxHistory},
		clients:        map[Client]struct{}{},
	}
	for _, o := range opts {
		o(m)
	}
	m.queue = make(chan record.Message, m.queueSize)
	m.history = newRing(DefaultMaxHistory)
	return m
}

// Configure applies cfg and the persisted log path on the first call only.
// It reports whether this call took effect.
func (m *Manager) Configure(cfg Config, persistedPath string) bool {
	m.cfgMu.Lock()
	defer m.cfgMu.Unlock()
	if m.configured {
		return false
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = DefaultMaxHistory
	}
	m.configured = true
	m.cfg = cfg
	m.persistedPath = persistedPath
	m.history.resize(cfg.MaxHistory)
	return true
}

func (m *Manager) config() (Config, string) {
	m.cfgMu.Lock()
	defer m.cfgMu.Unlock()
	return m.cfg, m.persistedPath
}

// Start seeds history from the persisted log on the first run and starts the
// consumer unless it is already running. The consumer lives until Stop or ctx ends.
func (m *Manager) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.loop != nil && m.loop.Context().Err() == nil {
		return nil
	}

	if !m.seeded {
		m.seeded = true
		if _, path := m.config(); path != "" {
			m.seedFromFile(path)
		}
	}

	log := m.log.With(logx.String("comp", "stream"))
	m.loop = rtsup.New(ctx, rtsup.WithLogger(log))
	m.fanout = rtsup.New(ctx, rtsup.WithLogger(log))
	fan := m.fanout
	m.loop.Go0("stream.consume", func(c context.Context) { m.consume(c, fan) })
	m.log.Debug("stream consumer started")
	return nil
}

// Stop cancels the consumer and waits for it, then cancels and joins every
// in-flight fan-out. Queued records stay queued for the next Start.
func (m *Manager) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	m.runMu.Lock()
	loop, fan := m.loop, m.fanout
	m.loop, m.fanout = nil, nil
	m.runMu.Unlock()
	if loop == nil {
		return nil
	}

	var errs []error
	if err := loop.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
		errs = append(errs, fmt.Errorf("consumer: %w", err))
	}
	if err := fan.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
		errs = append(errs, fmt.Errorf("fan-out: %w", err))
	}
	m.log.Debug("stream consumer stopped", logx.Int("queued", len(m.queue)))
	return errors.Join(errs...)
}

// Running reports whether the consumer goroutine is active.
func (m *Manager) Running() bool {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	return m.loop != nil && m.loop.Context().Err() == nil
}

func (m *Manager) consume(ctx context.Context, fan *rtsup.Supervisor) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-m.queue:
			m.step(ctx, fan, msg)
		}
	}
}

// step handles one dequeued record. A panic is logged and followed by a
// short pause; the loop itself keeps running.
func (m *Manager) step(ctx context.Context, fan *rtsup.Supervisor, msg record.Message) {
	defer func() {
		if p := recover(); p != nil {
			m.log.Error("stream consumer iteration failed", logx.Any("panic", p), logx.Stack(string(debug.Stack())))
			t := time.NewTimer(m.retryPause)
			defer t.Stop()
			select {
			case <-ctx.Done():
			case <-t.C:
			}
		}
	}()

	if m.beforePush != nil {
		m.beforePush(msg)
	}
	m.history.push(msg)
	if m.ClientCount() == 0 {
		return
	}
	fan.Go0("stream.fanout", func(c context.Context) { m.broadcast(c, msg) })
}

// broadcast serializes msg once and writes it to a snapshot of the clients concurrently.
func (m *Manager) broadcast(ctx context.Context, msg record.Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		m.log.Error("stream payload encode failed", logx.Err(err))
		return
	}
	clients := m.snapshot()
	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.send(ctx, c, payload); err != nil {
				if ctx.Err() != nil {
					return
				}
				m.dropClient(c, err)
				return
			}
			m.delivered.Add(1)
		}()
	}
	wg.Wait()
}

func (m *Manager) send(ctx context.Context, c Client, payload []byte) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("client panicked: %v", p)
		}
	}()
	wctx, cancel := context.WithTimeout(ctx, m.writeTimeout)
	defer cancel()
	return c.Send(wctx, payload)
}

// AddLog queues msg for broadcast.
//
// If the queue stays full for the enqueue timeout, ERROR and CRITICAL records
// fall back to a blocking insert that waits for a consumer to free space.
// Other records are dropped and ErrDropped is returned. ctx is an explicit
// escape hatch for callers that must bound the wait; the stream sink passes
// a non-cancelable one.
func (m *Manager) AddLog(ctx context.Context, msg record.Message) error {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case m.queue <- msg:
		return nil
	default:
	}

	t := time.NewTimer(m.enqueueTimeout)
	defer t.Stop()
	select {
	case m.queue <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
	}

	if msg.ParsedLevel().Severe() {
		m.log.Warn("stream queue saturated, blocking on severe record",
			logx.String("level", msg.Level), logx.Int("queue_cap", cap(m.queue)))
		select {
		case m.queue <- msg:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	n := m.dropped.Add(1)
	m.log.Warn("stream queue full, record dropped",
		logx.String("level", msg.Level), logx.Uint64("dropped_total", n), logx.Duration("waited", m.enqueueTimeout))
	eventbus.Publish(m.bus, eventbus.StreamDropped, msg)
	return ErrDropped
}

// SendHistory sends up to limit of the most recent records to c in one
// history payload. limit <= 0 means the configured maximum. A failed send
// deregisters c.
func (m *Manager) SendHistory(ctx context.Context, c Client, limit int) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		cfg, _ := m.config()
		limit = cfg.MaxHistory
	}
	payload, err := record.NewHistory(m.history.last(limit)).Marshal()
	if err != nil {
		return err
	}
	if err := m.send(ctx, c, payload); err != nil {
		m.dropClient(c, err)
		return fmt.Errorf("send history: %w", err)
	}
	return nil
}

// History returns up to limit most recent records, oldest first.
func (m *Manager) History(limit int) []record.Message { return m.history.last(limit) }

func (m *Manager) AddClient(c Client) {
	if c == nil {
		return
	}
	m.cmu.Lock()
	m.clients[c] = struct{}{}
	n := len(m.clients)
	m.cmu.Unlock()
	m.log.Debug("stream client added", logx.Int("clients", n))
	eventbus.Publish(m.bus, eventbus.StreamClientAdded, n)
}

// RemoveClient deregisters c and reports whether it was registered.
func (m *Manager) RemoveClient(c Client) bool {
	if c == nil {
		return false
	}
	m.cmu.Lock()
	_, ok := m.clients[c]
	delete(m.clients, c)
	n := len(m.clients)
	m.cmu.Unlock()
	if ok {
		m.log.Debug("stream client removed", logx.Int("clients", n))
		eventbus.Publish(m.bus, eventbus.StreamClientRemoved, n)
	}
	return ok
}

func (m *Manager) dropClient(c Client, err error) {
	if m.RemoveClient(c) {
		m.log.Info("stream client write failed, removed", logx.Err(err))
	}
}

func (m *Manager) ClientCount() int {
	m.cmu.RLock()
	defer m.cmu.RUnlock()
	return len(m.clients)
}

func (m *Manager) snapshot() []Client {
	m.cmu.RLock()
	defer m.cmu.RUnlock()
	out := make([]Client, 0, len(m.clients))
	for c := range m.clients {
		out = append(out, c)
	}
	return out
}

// Stats is an operational snapshot of the manager.
type Stats struct {
	Running    bool   `json:"running"`
	Queued     int    `json:"queued"`
	QueueCap   int    `json:"queue_cap"`
	History    int    `json:"history"`
	HistoryCap int    `json:"history_cap"`
	Clients    int    `json:"clients"`
	Dropped    uint64 `json:"dropped"`
	Delivered  uint64 `json:"delivered"`
	Fanouts    int64  `json:"fanouts_active"`
}

func (m *Manager) Stats() Stats {
	m.runMu.Lock()
	fan := m.fanout
	running := m.loop != nil && m.loop.Context().Err() == nil
	m.runMu.Unlock()
	return Stats{
		Running:    running,
		Queued:     len(m.queue),
		QueueCap:   cap(m.queue),
		History:    m.history.len(),
		HistoryCap: m.history.capacity(),
		Clients:    m.ClientCount(),
		Dropped:    m.dropped.Load(),
		Delivered:  m.delivered.Load(),
		Fanouts:    fan.Counters().Active,
	}
}
