// Package app wires the logging pipeline into a process: config loading and
// hot reload, the diagnostics logger, the router and its sinks, the stream
// manager and the HTTP server in front of it.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"notifylog/internal/config"
	"notifylog/internal/eventbus"
	"notifylog/internal/router"
	rtsup "notifylog/internal/runtime/supervisor"
	"notifylog/internal/stream"
	kit "notifylog/internal/transport"
	"notifylog/internal/transport/telegram/adapter"
	"notifylog/internal/transport/ws"
	logx "notifylog/pkg/logx"
)

type App struct {
	cfgPath string
	cfgm    *config.ConfigManager
	sup     *rtsup.Supervisor

	logs *logx.Service
	log  logx.Logger
	bus  eventbus.Bus

	stream *stream.Manager
	router *router.Router

	srv      *http.Server
	addr     net.Addr
	noServer bool

	diagOut   io.Writer
	routerOpt []router.RouterOption
	newSender func(adapter.Config, logx.Logger) (kit.Sender, error)
	environ   map[string]string
}

type Option func(*App)

// WithConsole redirects the console sink.
func WithConsole(w io.Writer, noColor bool) Option {
	return func(a *App) { a.routerOpt = append(a.routerOpt, router.WithConsole(w, noColor)) }
}

// WithDiagnostics redirects the diagnostics logger, stderr by default.
func WithDiagnostics(w io.Writer) Option { return func(a *App) { a.diagOut = w } }

// WithSender replaces the Telegram transport of the notification sink.
func WithSender(fn func(adapter.Config, logx.Logger) (kit.Sender, error)) Option {
	return func(a *App) { a.newSender = fn }
}

// WithEnvironment reads overrides from environ instead of the process environment.
func WithEnvironment(environ map[string]string) Option { return func(a *App) { a.environ = environ } }

// WithoutServer skips the HTTP server even when streaming is enabled.
func WithoutServer() Option { return func(a *App) { a.noServer = true } }

// NewApp loads cfgPath (plus a .env next to it) and builds the pipeline.
// Sinks are installed by Start.
func NewApp(cfgPath string, opts ...Option) (*App, error) {
	a := &App{cfgPath: cfgPath}
	for _, o := range opts {
		o(a)
	}
	if a.environ == nil {
		if err := config.LoadDotEnv(filepath.Join(filepath.Dir(cfgPath), ".env")); err != nil {
			return nil, err
		}
	}

	a.cfgm = config.NewConfigManager(cfgPath)
	if a.environ != nil {
		a.cfgm.SetEnvironment(a.environ)
	}
	cfg, err := a.cfgm.Load()
	if err != nil {
		return nil, err
	}

	a.logs, a.log = logx.New(logx.Config{Level: cfg.Logging.StdLogLevel, Out: a.diagOut})
	a.bus = eventbus.New()
	a.stream = stream.NewManager(a.log, a.bus)
	a.router = router.New(a.log, append([]router.RouterOption{router.WithBus(a.bus)}, a.routerOpt...)...)
	return a, nil
}

func (a *App) Router() *router.Router  { return a.router }
func (a *App) Config() *config.Config  { return a.cfgm.Get() }
func (a *App) Stream() *stream.Manager { return a.stream }
func (a *App) Logger() logx.Logger     { return a.log }

// Addr is the bound HTTP address, nil when no server runs.
func (a *App) Addr() net.Addr { return a.addr }

// Done is closed when the app context ends, including on a fatal error.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		return nil
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) deps() router.Deps {
	return router.Deps{Log: a.log, Manager: a.stream, NewSender: a.newSender}
}

// install builds the sinks for cfg and swaps them in.
func (a *App) install(ctx context.Context, cfg *config.Config) error {
	handlers, level, err := router.HandlersFromConfig(cfg.Logging, a.deps())
	if err != nil {
		return err
	}
	return a.router.Setup(ctx, handlers, level)
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	cfg := a.cfgm.Get()

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		_, _, err := router.HandlersFromConfig(cfg.Logging, a.deps())
		return err
	})

	if err := a.install(a.sup.Context(), cfg); err != nil {
		a.sup.Cancel()
		return err
	}

	if cfg.Logging.UseWebsocketHandler && !a.noServer {
		if err := a.serve(cfg.Server); err != nil {
			a.sup.Cancel()
			return err
		}
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := cfg
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				if a.reconfigure(c, lastApplied, newCfg) {
					lastApplied = newCfg
				}
			}
		}
	})

	a.sup.GoRestart("config.watch", a.cfgm.Watch)

	a.log.Info("app started", logx.Any("sinks", a.router.Sinks()))
	return nil
}

// reconfigure applies next over prev and reports whether the sinks were swapped.
func (a *App) reconfigure(ctx context.Context, prev, next *config.Config) bool {
	sections, _ := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return true
	}

	a.logs.Apply(logx.Config{Level: next.Logging.StdLogLevel, Out: a.diagOut})
	if slices.Contains(sections, "server") {
		a.log.Warn("server config changed; restart required for changes to take effect")
	}
	if a.srv == nil && next.Logging.UseWebsocketHandler && !a.noServer {
		a.log.Warn("websocket handler enabled without a running server; restart to serve clients")
	}

	if err := a.install(ctx, next); err != nil {
		a.log.Warn("invalid logging config; keeping previous sinks", logx.Err(err))
		return false
	}
	eventbus.Publish(a.bus, eventbus.ConfigApplied, sections)
	a.log.Info("logging reconfigured",
		logx.String("changed", strings.Join(sections, ",")),
		logx.Any("sinks", a.router.Sinks()))
	return true
}

func (a *App) serve(sc config.ServerConfig) error {
	ln, err := net.Listen("tcp", sc.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", sc.Addr, err)
	}
	a.addr = ln.Addr()
	h := ws.NewServer(a.stream, ws.Options{
		WSPath:         sc.WSPath,
		AllowedOrigins: sc.AllowedOrigins,
		Log:            a.log,
	}).Handler()
	a.srv = &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}

	srv := a.srv
	a.sup.Go("http.serve", func(context.Context) error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	a.log.Info("streaming server listening", logx.String("addr", a.addr.String()), logx.String("path", sc.WSPath))
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.router.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok && time.Until(dl) < max {
				max = time.Until(dl)
			}
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("http", 3*time.Second, func(c context.Context) error {
		if a.srv == nil {
			return nil
		}
		return a.srv.Shutdown(c)
	})
	// Sinks first so the stream sink stops enqueueing before the consumer goes.
	step("router", 5*time.Second, func(context.Context) error { return a.router.Close() })
	step("stream", 2*time.Second, a.stream.Stop)
	step("supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	return errors.Join(errs...)
}
