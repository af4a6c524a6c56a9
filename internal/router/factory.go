package router

import (
	"errors"
	"fmt"
	"time"

	"notifylog/internal/config"
	"notifylog/internal/dispatch"
	"notifylog/internal/record"
	"notifylog/internal/sink"
	"notifylog/internal/storage"
	"notifylog/internal/stream"
	kit "notifylog/internal/transport"
	"notifylog/internal/transport/telegram/adapter"
	logx "notifylog/pkg/logx"
)

// Deps are the process-owned collaborators handlers are built around.
type Deps struct {
	Log     logx.Logger
	Manager *stream.Manager
	// NewSender builds the notification transport; nil uses the Telegram adapter.
	NewSender func(adapter.Config, logx.Logger) (kit.Sender, error)
}

// HandlersFromConfig builds the enabled handlers of cfg and returns them with
// the console level. The streaming handler replays the file handler's log
// when both are enabled.
func HandlersFromConfig(cfg config.LoggingConfig, deps Deps) ([]dispatch.Handler, record.Level, error) {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	consoleLevel, err := record.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, 0, fmt.Errorf("logging.log_level: %w", err)
	}

	var handlers []dispatch.Handler
	persisted := ""

	if cfg.UseFileHandler {
		f := cfg.FileHandler
		if f == nil {
			return nil, 0, errors.New("file_handler config is required when use_file_handler is true")
		}
		h, err := fileHandler(f)
		if err != nil {
			return nil, 0, err
		}
		handlers = append(handlers, h)
		persisted = h.Path
	}

	if cfg.UseTelegramHandler {
		t := cfg.TelegramHandler
		if t == nil {
			return nil, 0, errors.New("telegram_handler config is required when use_telegram_handler is true")
		}
		h, err := notifyHandler(t, deps, log)
		if err != nil {
			return nil, 0, err
		}
		handlers = append(handlers, h)
	}

	if cfg.UseWebsocketHandler {
		w := cfg.WebsocketHandler
		if w == nil {
			return nil, 0, errors.New("websocket_handler config is required when use_websocket_handler is true")
		}
		if deps.Manager == nil {
			return nil, 0, errors.New("websocket handler: no stream manager")
		}
		lvl, err := record.ParseLevel(w.Level)
		if err != nil {
			return nil, 0, fmt.Errorf("logging.websocket_handler.level: %w", err)
		}
		handlers = append(handlers, sink.StreamHandler{
			Manager:       deps.Manager,
			Level:         lvl,
			MaxHistory:    w.MaxHistory,
			PersistedPath: persisted,
		})
	}

	if cfg.UseArchiveHandler {
		a := cfg.ArchiveHandler
		if a == nil {
			return nil, 0, errors.New("archive_handler config is required when use_archive_handler is true")
		}
		h, err := archiveHandler(a, log)
		if err != nil {
			return nil, 0, err
		}
		handlers = append(handlers, h)
	}

	return handlers, consoleLevel, nil
}

func fileHandler(f *config.FileHandlerConfig) (sink.FileHandler, error) {
	lvl, err := record.ParseLevel(f.Level)
	if err != nil {
		return sink.FileHandler{}, fmt.Errorf("logging.file_handler.level: %w", err)
	}
	size, err := config.ParseSizeMB("logging.file_handler.rotation", f.Rotation)
	if err != nil {
		return sink.FileHandler{}, err
	}
	keep, err := config.ParseRetention("logging.file_handler.retention", f.Retention)
	if err != nil {
		return sink.FileHandler{}, err
	}
	return sink.FileHandler{
		Path:       f.Path,
		Level:      lvl,
		MaxSizeMB:  size,
		MaxAgeDays: config.RetentionDays(keep),
		Compress:   f.Compression != "",
	}, nil
}

func notifyHandler(t *config.TelegramHandlerConfig, deps Deps, log logx.Logger) (sink.NotifyHandler, error) {
	lvl, err := record.ParseLevel(t.Level)
	if err != nil {
		return sink.NotifyHandler{}, fmt.Errorf("logging.telegram_handler.level: %w", err)
	}
	timeout, err := config.ParseDurationOrDefault("logging.telegram_handler.timeout", t.Timeout, sink.DefaultNotifyTimeout)
	if err != nil {
		return sink.NotifyHandler{}, err
	}
	newSender := deps.NewSender
	if newSender == nil {
		newSender = func(c adapter.Config, l logx.Logger) (kit.Sender, error) { return adapter.New(c, l) }
	}
	sender, err := newSender(adapter.Config{Token: t.BotToken, Timeout: timeout, URL: t.APIURL}, log)
	if err != nil {
		return sink.NotifyHandler{}, fmt.Errorf("telegram handler: %w", err)
	}
	return sink.NotifyHandler{
		Sender:     sender,
		AdminIDs:   t.AdminIDs,
		Level:      lvl,
		Timeout:    timeout,
		RatePerSec: t.RatePerSec,
		Log:        log,
	}, nil
}

func archiveHandler(a *config.ArchiveHandlerConfig, log logx.Logger) (sink.ArchiveHandler, error) {
	lvl, err := record.ParseLevel(a.Level)
	if err != nil {
		return sink.ArchiveHandler{}, fmt.Errorf("logging.archive_handler.level: %w", err)
	}
	keep, err := config.ParseRetention("logging.archive_handler.retention", a.Retention)
	if err != nil {
		return sink.ArchiveHandler{}, err
	}
	sc, err := ArchiveStorage(a)
	if err != nil {
		return sink.ArchiveHandler{}, err
	}
	return sink.ArchiveHandler{
		Storage:       sc,
		Level:         lvl,
		Retention:     keep,
		PruneSchedule: a.PruneSchedule,
		Log:           log,
	}, nil
}

// ArchiveStorage maps the archive section to a storage config.
func ArchiveStorage(a *config.ArchiveHandlerConfig) (storage.Config, error) {
	busy, err := config.ParseDurationOrDefault("logging.archive_handler.busy_timeout", a.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Driver: a.Driver, Path: a.Path, BusyTimeout: busy}, nil
}
