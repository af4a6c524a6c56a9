package config

// Config is the process configuration. JSON and YAML files decode into it strictly.
type Config struct {
	Logging LoggingConfig `json:"logging"`
	Server  ServerConfig  `json:"server"`
}

// LoggingConfig selects and configures the sinks.
//
// A use_* flag without its section is a configuration error; a section
// without its flag is ignored.
type LoggingConfig struct {
	// LogLevel is the console sink level.
	LogLevel string `json:"log_level"`
	// StdLogLevel is the level of the local diagnostics logger.
	StdLogLevel string `json:"std_log_level"`

	UseFileHandler bool               `json:"use_file_handler"`
	FileHandler    *FileHandlerConfig `json:"file_handler,omitempty"`

	UseTelegramHandler bool                   `json:"use_telegram_handler"`
	TelegramHandler    *TelegramHandlerConfig `json:"telegram_handler,omitempty"`

	UseWebsocketHandler bool                    `json:"use_websocket_handler"`
	WebsocketHandler    *WebsocketHandlerConfig `json:"websocket_handler,omitempty"`

	UseArchiveHandler bool                  `json:"use_archive_handler"`
	ArchiveHandler    *ArchiveHandlerConfig `json:"archive_handler,omitempty"`
}

// FileHandlerConfig configures the rotating file sink.
//
// Rotation is a size such as "10 MB". Retention is "30 days", "2 weeks"
// or a Go duration. Any non-empty Compression enables gzip of rotated files.
type FileHandlerConfig struct {
	Path        string `json:"path"`
	Level       string `json:"level"`
	Rotation    string `json:"rotation,omitempty"`
	Retention   string `json:"retention,omitempty"`
	Compression string `json:"compression,omitempty"`
}

type TelegramHandlerConfig struct {
	BotToken string  `json:"bot_token"`
	AdminIDs []int64 `json:"admin_ids"`
	// Timeout is a Go duration string bounding each send.
	Timeout    string  `json:"timeout,omitempty"`
	Level      string  `json:"level,omitempty"`
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	// APIURL overrides the Bot API endpoint.
	APIURL string `json:"api_url,omitempty"`
}

type WebsocketHandlerConfig struct {
	Level      string `json:"level,omitempty"`
	MaxHistory int    `json:"max_history,omitempty"`
}

// ArchiveHandlerConfig configures the queryable archive.
//
// Example:
//
//	"archive_handler": { "driver": "sqlite", "path": "app_data/log/archive.db", "retention": "720h" }
type ArchiveHandlerConfig struct {
	Driver        string `json:"driver,omitempty"`
	Path          string `json:"path"`
	Level         string `json:"level,omitempty"`
	Retention     string `json:"retention,omitempty"`
	PruneSchedule string `json:"prune_schedule,omitempty"`
	BusyTimeout   string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// ServerConfig controls the streaming HTTP server.
//
// Security note: prefer binding to localhost and list browser origins
// explicitly in AllowedOrigins.
type ServerConfig struct {
	Addr           string   `json:"addr,omitempty"`
	WSPath         string   `json:"ws_path,omitempty"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
}

const (
	DefaultLogLevel      = "DEBUG"
	DefaultStdLogLevel   = "INFO"
	DefaultFilePath      = "app_data/log/log.log"
	DefaultFileLevel     = "INFO"
	DefaultRotation      = "10 MB"
	DefaultRetention     = "30 days"
	DefaultCompression   = "zip"
	DefaultTelegramLevel = "WARNING"
	DefaultTelegramWait  = "2s"
	DefaultStreamLevel   = "DEBUG"
	DefaultMaxHistory    = 200
	DefaultArchiveDriver = "sqlite"
	DefaultArchiveLevel  = "INFO"
	DefaultPruneSchedule = "@hourly"
	DefaultServerAddr    = "127.0.0.1:8080"
	DefaultWSPath        = "/ws/logs"
)

// Default returns the configuration used for omitted keys: file sink on,
// everything else off.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			LogLevel:       DefaultLogLevel,
			StdLogLevel:    DefaultStdLogLevel,
			UseFileHandler: true,
			FileHandler: &FileHandlerConfig{
				Path:        DefaultFilePath,
				Level:       DefaultFileLevel,
				Rotation:    DefaultRotation,
				Retention:   DefaultRetention,
				Compression: DefaultCompression,
			},
		},
		Server: ServerConfig{Addr: DefaultServerAddr, WSPath: DefaultWSPath},
	}
}

// normalize fills zero fields of present sections with their defaults.
func (c *Config) normalize() {
	l := &c.Logging
	if l.LogLevel == "" {
		l.LogLevel = DefaultLogLevel
	}
	if l.StdLogLevel == "" {
		l.StdLogLevel = DefaultStdLogLevel
	}
	if f := l.FileHandler; f != nil && f.Level == "" {
		f.Level = DefaultFileLevel
	}
	if t := l.TelegramHandler; t != nil {
		if t.Level == "" {
			t.Level = DefaultTelegramLevel
		}
		if t.Timeout == "" {
			t.Timeout = DefaultTelegramWait
		}
	}
	if w := l.WebsocketHandler; w != nil {
		if w.Level == "" {
			w.Level = DefaultStreamLevel
		}
		if w.MaxHistory <= 0 {
			w.MaxHistory = DefaultMaxHistory
		}
	}
	if a := l.ArchiveHandler; a != nil {
		if a.Driver == "" {
			a.Driver = DefaultArchiveDriver
		}
		if a.Level == "" {
			a.Level = DefaultArchiveLevel
		}
		if a.PruneSchedule == "" {
			a.PruneSchedule = DefaultPruneSchedule
		}
	}
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultServerAddr
	}
	if c.Server.WSPath == "" {
		c.Server.WSPath = DefaultWSPath
	}
}
