// Package sink implements the handlers installed by the router: console,
// rotating file, chat notification, live streaming and archive.
package sink

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"

	"notifylog/internal/dispatch"
	"notifylog/internal/format"
	"notifylog/internal/record"
)

var levelColors = map[record.Level]string{
	record.Debug:    "\x1b[34m",
	record.Info:     "\x1b[1m",
	record.Success:  "\x1b[32m",
	record.Warning:  "\x1b[33m",
	record.Error:    "\x1b[31m",
	record.Critical: "\x1b[1;41m",
}

const colorReset = "\x1b[0m"

// ConsoleHandler writes "{time} {LEVEL icon} {message}" lines.
// A nil Out writes to stderr, colored when stderr is a terminal.
type ConsoleHandler struct {
	Level   record.Level
	Out     io.Writer
	NoColor bool
}

func (h ConsoleHandler) Add(_ context.Context, r dispatch.Registrar) error {
	r.Install(Console(h.Out, h.Level, h.NoColor))
	return nil
}

// Console builds the console sink.
func Console(out io.Writer, level record.Level, noColor bool) dispatch.Sink {
	if out == nil {
		out = os.Stderr
		noColor = noColor || !isatty.IsTerminal(os.Stderr.Fd())
	}
	cw := zerolog.ConsoleWriter{
		Out:        zerolog.SyncWriter(out),
		NoColor:    noColor,
		PartsOrder: []string{zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName},
		FormatTimestamp: func(i any) string {
			s, _ := i.(string)
			return s
		},
		FormatLevel: func(i any) string {
			s, _ := i.(string)
			if noColor {
				return s
			}
			name, _, _ := strings.Cut(s, " ")
			l, err := record.ParseLevel(name)
			if err != nil {
				return s
			}
			return levelColors[l] + s + colorReset
		},
		FormatMessage: func(i any) string {
			if i == nil {
				return ""
			}
			return fmt.Sprint(i)
		},
	}
	zl := zerolog.New(cw)

	return dispatch.Sink{
		Name:  "console",
		Level: level,
		Write: func(_ context.Context, rec record.Record) error {
			icon := rec.Icon
			if icon == "" {
				icon = format.Icon(rec.Level)
			}
			zl.Log().
				Str(zerolog.TimestampFieldName, rec.Time.Format(format.ConsoleTimeLayout)).
				Str(zerolog.LevelFieldName, strings.TrimSpace(rec.Level.String()+" "+icon)).
				Msg(rec.Message)
			return nil
		},
	}
}
