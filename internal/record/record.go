package record

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Level is the severity of a record. Levels are ordered.
type Level int

const (
	Debug Level = iota
	Info
	Success
	Warning
	Error
	Critical
)

var levelNames = [...]string{"DEBUG", "INFO", "SUCCESS", "WARNING", "ERROR", "CRITICAL"}

// Levels lists every level in ascending order.
func Levels() []Level { return []Level{Debug, Info, Success, Warning, Error, Critical} }

func (l Level) String() string {
	if l < Debug || l > Critical {
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
	return levelNames[l]
}

// Severe reports whether records of this level must never be dropped.
func (l Level) Severe() bool { return l >= Error }

// ParseLevel parses a level name case-insensitively. WARN is accepted for WARNING.
func ParseLevel(s string) (Level, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	if name == "WARN" {
		return Warning, nil
	}
	for i, n := range levelNames {
		if n == name {
			return Level(i), nil
		}
	}
	return Debug, fmt.Errorf("unknown log level %q", s)
}

func (l Level) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

func (l *Level) UnmarshalText(b []byte) error {
	v, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// Record is one emitted log event after the router rendered it.
type Record struct {
	Level   Level
	Time    time.Time
	Message string
	Err     error
	Author  string
	Details string
	Notify  bool
	Caller  string
	Icon    string
}

// TimestampLayout is the streaming payload timestamp format.
const TimestampLayout = "2006-01-02 15:04:05.000000"

// Message is the streaming payload of a single record.
type Message struct {
	Level     string `json:"level"`
	Timestamp string `json:"timestamp"`
	Message   string `json:"message"`
}

// ToMessage converts a record into its streaming payload.
func (r Record) ToMessage() Message {
	return Message{
		Level:     r.Level.String(),
		Timestamp: r.Time.Format(TimestampLayout),
		Message:   r.Message,
	}
}

// ParsedLevel parses the payload's level; unknown names resolve to INFO.
func (m Message) ParsedLevel() Level {
	l, err := ParseLevel(m.Level)
	if err != nil {
		return Info
	}
	return l
}

// History is the batch replay payload.
type History struct {
	Type string    `json:"type"`
	Logs []Message `json:"logs"`
}

// NewHistory wraps msgs into a replay payload. A nil slice encodes as [].
func NewHistory(msgs []Message) History {
	if msgs == nil {
		msgs = []Message{}
	}
	return History{Type: "history", Logs: msgs}
}

func (h History) Marshal() ([]byte, error) { return json.Marshal(h) }
