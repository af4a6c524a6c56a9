package format

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notifylog/internal/record"
)

type quotaErr struct{ left int }

func (e *quotaErr) Error() string { return fmt.Sprintf("quota left %d", e.left) }

func TestLine(t *testing.T) {
	tests := map[string]struct {
		err     error
		author  string
		details string
		want    string
	}{
		"plain":          {want: "jobs.go:Run:42 - fetched"},
		"author":         {author: "hh", want: "jobs.go:Run:42 [hh]: - fetched"},
		"details":        {details: "page=3", want: "jobs.go:Run:42 - fetched | page=3"},
		"error":          {err: &quotaErr{left: 0}, want: "jobs.go:Run:42 - quotaErr:quota left 0 | fetched"},
		"error+all":      {err: errors.New("bad"), author: "hh", details: "page=3", want: "jobs.go:Run:42 - [hh]: errorString:bad | fetched | page=3"},
		"wrapped errors": {err: fmt.Errorf("open: %w", os.ErrNotExist), want: "jobs.go:Run:42 - wrapError:open: file does not exist | fetched"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, Line("jobs.go:Run:42", "fetched", tc.err, tc.author, tc.details))
		})
	}
}

func TestIcons(t *testing.T) {
	for _, l := range record.Levels() {
		assert.NotEmpty(t, Icon(l), l.String())
	}
	m := Icons()
	m[record.Debug] = "x"
	assert.Equal(t, "🔵", Icon(record.Debug), "Icons returns a copy")
}

func TestNotifyText(t *testing.T) {
	r := record.Record{Level: record.Critical, Message: "db down"}
	assert.Equal(t, "🔥 CRITICAL|db down", NotifyText(r))

	r.Icon = "!"
	assert.Equal(t, "! CRITICAL|db down", NotifyText(r))
}

func TestFileLineRoundTrip(t *testing.T) {
	ts := time.Date(2024, 5, 6, 7, 8, 9, 250_000_000, time.UTC)
	r := record.Record{Level: record.Warning, Time: ts, Message: "a.go:f:1 - x | y"}

	line := FileLine(r)
	assert.Equal(t, "WARNING | 2024-05-06 07:08:09.250 | - a.go:f:1 - x | y", line)

	got, err := ParseFileLine(line, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, record.Warning, got.Level)
	assert.True(t, ts.Equal(got.Time))
	assert.Equal(t, "a.go:f:1 - x | y", got.Message)
}

func TestParseFileLineMicroseconds(t *testing.T) {
	got, err := ParseFileLine("INFO | 2024-05-06 07:08:09.123456 | - hi", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, 123456000, got.Time.Nanosecond())
}

func TestParseFileLineMalformed(t *testing.T) {
	for _, line := range []string{
		"",
		"Traceback (most recent call last):",
		"INFO | yesterday | - hi",
		"LOUD | 2024-05-06 07:08:09.000 | - hi",
		strings.Repeat("|", 1),
	} {
		_, err := ParseFileLine(line, time.UTC)
		assert.ErrorIs(t, err, ErrMalformedLine, line)
	}
}
