// Package router is the logging facade: leveled methods that render a record
// from the call site and context scope, and Setup to swap the sink set.
package router

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"notifylog/internal/dispatch"
	"notifylog/internal/eventbus"
	"notifylog/internal/format"
	"notifylog/internal/logctx"
	"notifylog/internal/record"
	"notifylog/internal/sink"
	logx "notifylog/pkg/logx"
)

// Router routes records to the installed sinks. The zero value is not usable; use New.
type Router struct {
	log  logx.Logger
	disp *dispatch.Dispatcher
	now  func() time.Time

	console   io.Writer
	noColor   bool
	retiring  sync.WaitGroup
	setupMu   sync.Mutex
	closeOnce sync.Once
}

type RouterOption func(*Router)

// WithConsole redirects the console sink, stderr by default.
func WithConsole(w io.Writer, noColor bool) RouterOption {
	return func(r *Router) { r.console, r.noColor = w, noColor }
}

func WithClock(now func() time.Time) RouterOption {
	return func(r *Router) {
		if now != nil {
			r.now = now
		}
	}
}

// WithBus publishes sink failures on bus.
func WithBus(bus eventbus.Bus) RouterOption {
	return func(r *Router) { r.disp = dispatch.New(r.log, bus) }
}

// New returns a router with a console sink at DEBUG.
func New(log logx.Logger, opts ...RouterOption) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "router"))
	r := &Router{log: log, disp: dispatch.New(log, nil), now: time.Now}
	for _, o := range opts {
		o(r)
	}
	r.disp.Replace([]dispatch.Sink{sink.Console(r.console, record.Debug, r.noColor)}, format.Icons())
	return r
}

// Option adjusts a single emitted record.
type Option func(*emitOptions)

type emitOptions struct {
	err     error
	author  string
	details string
	silent  bool
}

// WithErr attaches err; the line renders its type and message.
func WithErr(err error) Option { return func(o *emitOptions) { o.err = err } }

// WithAuthor overrides the scope's author. An empty value keeps the scope's.
func WithAuthor(author string) Option { return func(o *emitOptions) { o.author = author } }

// WithDetails overrides the scope's details. An empty value keeps the scope's.
func WithDetails(details string) Option { return func(o *emitOptions) { o.details = details } }

// Silent keeps the record out of chat notifications.
func Silent() Option { return func(o *emitOptions) { o.silent = true } }

func (r *Router) Debug(ctx context.Context, msg string, opts ...Option) {
	r.emit(ctx, record.Debug, msg, opts)
}

func (r *Router) Info(ctx context.Context, msg string, opts ...Option) {
	r.emit(ctx, record.Info, msg, opts)
}

func (r *Router) Success(ctx context.Context, msg string, opts ...Option) {
	r.emit(ctx, record.Success, msg, opts)
}

func (r *Router) Warning(ctx context.Context, msg string, opts ...Option) {
	r.emit(ctx, record.Warning, msg, opts)
}

func (r *Router) Error(ctx context.Context, msg string, opts ...Option) {
	r.emit(ctx, record.Error, msg, opts)
}

func (r *Router) Critical(ctx context.Context, msg string, opts ...Option) {
	r.emit(ctx, record.Critical, msg, opts)
}

// Log emits at an explicit level.
func (r *Router) Log(ctx context.Context, level record.Level, msg string, opts ...Option) {
	r.emit(ctx, level, msg, opts)
}

// emit must be called directly from an exported method: the call site is
// taken at a fixed depth from here.
func (r *Router) emit(ctx context.Context, level record.Level, msg string, opts []Option) {
	if ctx == nil {
		ctx = context.Background()
	}
	var o emitOptions
	for _, fn := range opts {
		if fn != nil {
			fn(&o)
		}
	}
	scope := logctx.From(ctx)
	if o.author == "" {
		o.author = scope.Author
	}
	if o.details == "" {
		o.details = scope.Details
	}

	caller := callSite(3)
	r.disp.Dispatch(ctx, record.Record{
		Level:   level,
		Time:    r.now(),
		Message: format.Line(caller, msg, o.err, o.author, o.details),
		Err:     o.err,
		Author:  o.author,
		Details: o.details,
		Notify:  !o.silent,
		Caller:  caller,
	})
}

// callSite renders "file.go:Func:line" for the frame skip levels above callSite.
func callSite(skip int) string {
	var pcs [1]uintptr
	if runtime.Callers(skip+1, pcs[:]) == 0 {
		return ""
	}
	f, _ := runtime.CallersFrames(pcs[:]).Next()
	if f.File == "" {
		return ""
	}
	fn := f.Function
	if i := strings.LastIndexByte(fn, '/'); i >= 0 {
		fn = fn[i+1:]
	}
	if i := strings.LastIndexByte(fn, '.'); i >= 0 {
		fn = fn[i+1:]
	}
	return filepath.Base(f.File) + ":" + fn + ":" + strconv.Itoa(f.Line)
}

// Contextualize returns a child of ctx whose records carry author and details.
func (r *Router) Contextualize(ctx context.Context, author, details string) context.Context {
	return logctx.With(ctx, logctx.Scope{Author: author, Details: details})
}

// Setup replaces every sink with a console sink at level plus the sinks
// added by handlers. If a handler fails, the sinks built so far are closed
// and the previous set stays installed. Replaced sinks are closed in the
// background once their in-flight writes finish.
func (r *Router) Setup(ctx context.Context, handlers []dispatch.Handler, level record.Level) error {
	if ctx == nil {
		ctx = context.Background()
	}
	r.setupMu.Lock()
	defer r.setupMu.Unlock()

	var set dispatch.Set
	set.Install(sink.Console(r.console, level, r.noColor))
	for i, h := range handlers {
		if h == nil {
			continue
		}
		if err := h.Add(ctx, &set); err != nil {
			if cerr := set.Close(); cerr != nil {
				r.log.Warn("closing partial sink set failed", logx.Err(cerr))
			}
			return fmt.Errorf("setup handler %d: %w", i, err)
		}
	}

	retired := r.disp.Replace(set.Sinks(), format.Icons())
	r.retiring.Add(1)
	go func() {
		defer r.retiring.Done()
		if err := retired.Close(); err != nil {
			r.log.Warn("closing replaced sinks failed", logx.Err(err))
		}
	}()
	r.log.Debug("sinks installed", logx.String("level", level.String()), logx.Any("sinks", r.disp.Names()))
	return nil
}

// Sinks lists the installed sink names in order.
func (r *Router) Sinks() []string { return r.disp.Names() }

// Close closes the installed sinks and waits for replaced ones to close.
func (r *Router) Close() error {
	var err error
	r.closeOnce.Do(func() {
		err = r.disp.Close()
		r.retiring.Wait()
	})
	return err
}
