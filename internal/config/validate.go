package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	"notifylog/internal/record"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// Validate reports every problem in cfg at once. The returned error wraps ErrInvalid.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalid)
	}
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}
	level := func(path, v string) {
		if _, err := record.ParseLevel(v); err != nil {
			add("%s: %v", path, err)
		}
	}

	l := cfg.Logging
	level("logging.log_level", l.LogLevel)
	level("logging.std_log_level", l.StdLogLevel)

	if l.UseFileHandler {
		if f := l.FileHandler; f == nil {
			add("file_handler config is required when use_file_handler is true")
		} else {
			if strings.TrimSpace(f.Path) == "" {
				add("logging.file_handler.path is required")
			}
			level("logging.file_handler.level", f.Level)
			if _, err := ParseSizeMB("logging.file_handler.rotation", f.Rotation); err != nil {
				errs = append(errs, err)
			}
			if _, err := ParseRetention("logging.file_handler.retention", f.Retention); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if l.UseTelegramHandler {
		if t := l.TelegramHandler; t == nil {
			add("telegram_handler config is required when use_telegram_handler is true")
		} else {
			if strings.TrimSpace(t.BotToken) == "" {
				add("logging.telegram_handler.bot_token is required")
			}
			if len(t.AdminIDs) == 0 {
				add("logging.telegram_handler.admin_ids must list at least one chat id")
			}
			level("logging.telegram_handler.level", t.Level)
			if _, err := ParseDurationField("logging.telegram_handler.timeout", t.Timeout); err != nil {
				errs = append(errs, err)
			}
			if t.RatePerSec < 0 {
				add("logging.telegram_handler.rate_per_sec must be >= 0")
			}
		}
	}

	if l.UseWebsocketHandler {
		if w := l.WebsocketHandler; w == nil {
			add("websocket_handler config is required when use_websocket_handler is true")
		} else {
			level("logging.websocket_handler.level", w.Level)
			if w.MaxHistory < 0 {
				add("logging.websocket_handler.max_history must be >= 0")
			}
		}
	}

	if l.UseArchiveHandler {
		if a := l.ArchiveHandler; a == nil {
			add("archive_handler config is required when use_archive_handler is true")
		} else {
			switch strings.ToLower(strings.TrimSpace(a.Driver)) {
			case "file", "jsonl", "sqlite", "sqlite3":
			default:
				add("logging.archive_handler.driver: unknown driver %q", a.Driver)
			}
			if strings.TrimSpace(a.Path) == "" {
				add("logging.archive_handler.path is required")
			}
			level("logging.archive_handler.level", a.Level)
			if _, err := ParseRetention("logging.archive_handler.retention", a.Retention); err != nil {
				errs = append(errs, err)
			}
			if _, err := ParseDurationField("logging.archive_handler.busy_timeout", a.BusyTimeout); err != nil {
				errs = append(errs, err)
			}
			if _, err := cron.ParseStandard(a.PruneSchedule); err != nil {
				add("logging.archive_handler.prune_schedule: %v", err)
			}
		}
	}

	if !strings.HasPrefix(cfg.Server.WSPath, "/") {
		add("server.ws_path must start with /")
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}
