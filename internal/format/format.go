// Package format renders records into the text shapes each sink writes.
package format

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"notifylog/internal/record"
)

const (
	// FileTimeLayout is used by the file sink; ParseFileLine reads it back.
	FileTimeLayout = "2006-01-02 15:04:05.000"
	// ConsoleTimeLayout is used by the console sink.
	ConsoleTimeLayout = "2006-01-02 15:04:05.000"
)

var ErrMalformedLine = errors.New("malformed log line")

var icons = map[record.Level]string{
	record.Debug:    "🔵",
	record.Info:     "🟢",
	record.Success:  "🥳",
	record.Warning:  "⚠️",
	record.Error:    "🚨",
	record.Critical: "🔥",
}

// Icon returns the emoji for level, or "" for an unknown level.
func Icon(l record.Level) string { return icons[l] }

// Icons returns a copy of the per-level icon table.
func Icons() map[record.Level]string {
	out := make(map[record.Level]string, len(icons))
	for k, v := range icons {
		out[k] = v
	}
	return out
}

// Line renders the router's single-line message:
//
//	caller [author]: - message | details
//	caller - [author]: ErrType:err | message | details
func Line(caller, msg string, err error, author, details string) string {
	if author != "" {
		author = " [" + author + "]:"
	}
	if details != "" {
		details = "| " + details
	}
	var s string
	if err != nil {
		s = fmt.Sprintf("%s -%s %s:%v | %s %s", caller, author, ErrorName(err), err, msg, details)
	} else {
		s = fmt.Sprintf("%s%s - %s %s", caller, author, msg, details)
	}
	return strings.TrimSpace(s)
}

// ErrorName is the bare type name of err's concrete type, without pointer or package.
func ErrorName(err error) string {
	if err == nil {
		return ""
	}
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if n := t.Name(); n != "" {
		return n
	}
	return t.String()
}

// FileLine renders "LEVEL | time | - message".
func FileLine(r record.Record) string {
	return r.Level.String() + " | " + r.Time.Format(FileTimeLayout) + " | - " + r.Message
}

// NotifyText renders "icon LEVEL|message" for chat notifications.
func NotifyText(r record.Record) string {
	icon := r.Icon
	if icon == "" {
		icon = Icon(r.Level)
	}
	return icon + " " + r.Level.String() + "|" + r.Message
}

// ParseFileLine reverses FileLine. Timestamps are read in loc.
// Lines without three parts, with an unknown level or a bad timestamp are malformed.
func ParseFileLine(line string, loc *time.Location) (record.Record, error) {
	parts := strings.SplitN(line, "|", 3)
	if len(parts) < 3 {
		return record.Record{}, fmt.Errorf("%w: %q", ErrMalformedLine, line)
	}
	lvl, err := record.ParseLevel(parts[0])
	if err != nil {
		return record.Record{}, fmt.Errorf("%w: %v", ErrMalformedLine, err)
	}
	if loc == nil {
		loc = time.Local
	}
	// The layout omits fractional seconds so both .000 and .000000 parse.
	ts, err := time.ParseInLocation("2006-01-02 15:04:05", strings.TrimSpace(parts[1]), loc)
	if err != nil {
		return record.Record{}, fmt.Errorf("%w: %v", ErrMalformedLine, err)
	}
	msg := strings.TrimSpace(parts[2])
	msg = strings.TrimSpace(strings.TrimPrefix(msg, "-"))
	return record.Record{Level: lvl, Time: ts, Message: msg}, nil
}
