package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"notifylog/internal/dispatch"
	"notifylog/internal/format"
	"notifylog/internal/record"
)

// FileHandler appends "LEVEL | time | - message" lines to a rotating file.
type FileHandler struct {
	Path  string
	Level record.Level
	// MaxSizeMB rotates the file once it reaches this size; 0 uses lumberjack's 100 MB.
	MaxSizeMB int
	// MaxAgeDays removes rotated files older than this; 0 keeps them.
	MaxAgeDays int
	Compress   bool
}

func (h FileHandler) Add(_ context.Context, r dispatch.Registrar) error {
	path := strings.TrimSpace(h.Path)
	if path == "" {
		return errors.New("file handler: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("file handler: %w", err)
	}
	lj := &lumberjack.Logger{
		Filename:  path,
		MaxSize:   h.MaxSizeMB,
		MaxAge:    h.MaxAgeDays,
		Compress:  h.Compress,
		LocalTime: true,
	}
	r.Install(dispatch.Sink{
		Name:  "file",
		Level: h.Level,
		Write: func(_ context.Context, rec record.Record) error {
			_, err := io.WriteString(lj, format.FileLine(rec)+"\n")
			return err
		},
		Close: lj.Close,
	})
	return nil
}
