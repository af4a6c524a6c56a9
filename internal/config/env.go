package config

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "NOTIFYLOG_"

// envOverrides are applied on top of the decoded file, after defaults.
type envOverrides struct {
	LogLevel         string  `env:"LOG_LEVEL"`
	TelegramToken    string  `env:"TELEGRAM_TOKEN"`
	TelegramAdminIDs []int64 `env:"TELEGRAM_ADMIN_IDS" envSeparator:","`
	ServerAddr       string  `env:"SERVER_ADDR"`
}

// LoadDotEnv loads .env files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// applyEnv overrides cfg from environ, or from the process environment when environ is nil.
func applyEnv(cfg *Config, environ map[string]string) error {
	var o envOverrides
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&o, opts); err != nil {
		return err
	}

	if v := strings.TrimSpace(o.LogLevel); v != "" {
		cfg.Logging.LogLevel = v
	}
	if v := strings.TrimSpace(o.ServerAddr); v != "" {
		cfg.Server.Addr = v
	}
	if strings.TrimSpace(o.TelegramToken) != "" || len(o.TelegramAdminIDs) > 0 {
		if cfg.Logging.TelegramHandler == nil {
			cfg.Logging.TelegramHandler = &TelegramHandlerConfig{}
		}
		if v := strings.TrimSpace(o.TelegramToken); v != "" {
			cfg.Logging.TelegramHandler.BotToken = v
		}
		if len(o.TelegramAdminIDs) > 0 {
			cfg.Logging.TelegramHandler.AdminIDs = o.TelegramAdminIDs
		}
	}
	return nil
}
