// Package dispatch installs sinks and routes records to them.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"notifylog/internal/eventbus"
	"notifylog/internal/record"
	logx "notifylog/pkg/logx"
)

// Sink is one installed destination.
//
// Write is called only for records at or above Level that pass Filter.
// Close, when set, is called once the sink is replaced and idle.
type Sink struct {
	Name   string
	Level  record.Level
	Filter func(record.Record) bool
	Write  func(ctx context.Context, r record.Record) error
	Close  func() error
}

func (s Sink) accepts(r record.Record) bool {
	if r.Level < s.Level {
		return false
	}
	return s.Filter == nil || s.Filter(r)
}

// Registrar receives sinks from handlers.
type Registrar interface {
	Install(s Sink)
}

// Handler is the contract every sink type implements: Add installs it.
type Handler interface {
	Add(ctx context.Context, r Registrar) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, r Registrar) error

func (f HandlerFunc) Add(ctx context.Context, r Registrar) error { return f(ctx, r) }

// Set is a staging Registrar used to build a sink list before swapping it in.
type Set struct {
	sinks []Sink
}

func (s *Set) Install(sink Sink) { s.sinks = append(s.sinks, sink) }

func (s *Set) Sinks() []Sink { return append([]Sink(nil), s.sinks...) }

// Close closes every sink in the set, returning the joined errors.
func (s *Set) Close() error { return closeAll(s.sinks) }

type generation struct {
	sinks    []Sink
	icons    map[record.Level]string
	inflight sync.WaitGroup
}

// Dispatcher holds the live sink generation.
//
// Replacing the generation never waits for in-flight writes; the retired
// generation is closed once its last write returns.
type Dispatcher struct {
	mu  sync.RWMutex
	gen *generation

	log logx.Logger
	bus eventbus.Bus
}

func New(log logx.Logger, bus eventbus.Bus) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{gen: &generation{}, log: log, bus: bus}
}

// Install adds a sink to the live generation.
func (d *Dispatcher) Install(s Sink) {
	d.mu.Lock()
	d.gen.sinks = append(append([]Sink(nil), d.gen.sinks...), s)
	d.mu.Unlock()
}

// Replace swaps in a new sink list and icon table.
// The returned Retired closes the previous sinks once they are idle.
func (d *Dispatcher) Replace(sinks []Sink, icons map[record.Level]string) *Retired {
	next := &generation{sinks: append([]Sink(nil), sinks...), icons: icons}
	d.mu.Lock()
	prev := d.gen
	d.gen = next
	d.mu.Unlock()
	return &Retired{gen: prev}
}

// Names lists installed sink names in install order.
func (d *Dispatcher) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.gen.sinks))
	for _, s := range d.gen.sinks {
		out = append(out, s.Name)
	}
	return out
}

// Dispatch stamps the level icon and writes r to every accepting sink.
// Sink errors and panics are logged and swallowed.
func (d *Dispatcher) Dispatch(ctx context.Context, r record.Record) {
	d.mu.RLock()
	g := d.gen
	sinks, icons := g.sinks, g.icons
	g.inflight.Add(1)
	d.mu.RUnlock()
	defer g.inflight.Done()

	if r.Icon == "" && icons != nil {
		r.Icon = icons[r.Level]
	}
	for _, s := range sinks {
		if s.Write == nil || !s.accepts(r) {
			continue
		}
		if err := d.write(ctx, s, r); err != nil {
			d.log.Warn("sink write failed", logx.String("sink", s.Name), logx.String("level", r.Level.String()), logx.Err(err))
			eventbus.Publish(d.bus, eventbus.SinkFailed, s.Name)
		}
	}
}

func (d *Dispatcher) write(ctx context.Context, s Sink, r record.Record) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
			d.log.Error("sink panicked", logx.String("sink", s.Name), logx.Stack(string(debug.Stack())))
		}
	}()
	return s.Write(ctx, r)
}

// Close retires the live generation and closes it once idle.
func (d *Dispatcher) Close() error {
	return d.Replace(nil, nil).Close()
}

// Retired is a generation that no longer receives new records.
type Retired struct {
	gen *generation
}

// Close waits for in-flight writes on the generation, then closes its sinks.
func (r *Retired) Close() error {
	if r == nil || r.gen == nil {
		return nil
	}
	r.gen.inflight.Wait()
	return closeAll(r.gen.sinks)
}

func closeAll(sinks []Sink) error {
	var errs []error
	for _, s := range sinks {
		if s.Close == nil {
			continue
		}
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}
