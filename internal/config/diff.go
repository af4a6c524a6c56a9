package config

import (
	"reflect"
	"strings"

	logx "notifylog/pkg/logx"
)

// SummarizeConfigChange returns the changed sections and safe structured
// fields for logging. Secrets such as the bot token are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	o, n := oldCfg.Logging, newCfg.Logging

	changed := make([]string, 0, 6)
	fields := make([]logx.Field, 0, 12)

	if o.LogLevel != n.LogLevel || o.StdLogLevel != n.StdLogLevel {
		changed = append(changed, "logging.levels")
		fields = append(fields,
			logx.String("logging.log_level", n.LogLevel),
			logx.String("logging.std_log_level", n.StdLogLevel),
		)
	}

	if o.UseFileHandler != n.UseFileHandler || !reflect.DeepEqual(o.FileHandler, n.FileHandler) {
		changed = append(changed, "logging.file")
		fields = append(fields, logx.Bool("logging.file_enabled", n.UseFileHandler))
		if n.FileHandler != nil {
			fields = append(fields, logx.String("logging.file_path", n.FileHandler.Path))
		}
	}

	if o.UseTelegramHandler != n.UseTelegramHandler || !reflect.DeepEqual(o.TelegramHandler, n.TelegramHandler) {
		changed = append(changed, "logging.telegram")
		fields = append(fields, logx.Bool("logging.telegram_enabled", n.UseTelegramHandler))
		if t := n.TelegramHandler; t != nil {
			fields = append(fields,
				logx.Int("logging.telegram_admins", len(t.AdminIDs)),
				logx.Bool("logging.telegram_token_set", strings.TrimSpace(t.BotToken) != ""),
			)
		}
	}

	if o.UseWebsocketHandler != n.UseWebsocketHandler || !reflect.DeepEqual(o.WebsocketHandler, n.WebsocketHandler) {
		changed = append(changed, "logging.websocket")
		fields = append(fields, logx.Bool("logging.websocket_enabled", n.UseWebsocketHandler))
	}

	if o.UseArchiveHandler != n.UseArchiveHandler || !reflect.DeepEqual(o.ArchiveHandler, n.ArchiveHandler) {
		changed = append(changed, "logging.archive")
		fields = append(fields, logx.Bool("logging.archive_enabled", n.UseArchiveHandler))
		if a := n.ArchiveHandler; a != nil {
			fields = append(fields, logx.String("logging.archive_driver", a.Driver))
		}
	}

	if !reflect.DeepEqual(oldCfg.Server, newCfg.Server) {
		changed = append(changed, "server")
		fields = append(fields, logx.String("server.addr", newCfg.Server.Addr))
	}

	return changed, fields
}
