package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Entry is one archived record. Keep it compact and schema-stable.
type Entry struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Author  string    `json:"author,omitempty"`
	Details string    `json:"details,omitempty"`
	Caller  string    `json:"caller,omitempty"`
	Error   string    `json:"error,omitempty"`
}
