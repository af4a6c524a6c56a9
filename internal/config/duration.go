package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

const day = 24 * time.Hour

var retentionUnits = map[string]time.Duration{
	"d": day, "day": day, "days": day,
	"w": 7 * day, "week": 7 * day, "weeks": 7 * day,
	"month": 30 * day, "months": 30 * day,
	"y": 365 * day, "year": 365 * day, "years": 365 * day,
}

// ParseRetention parses "30 days", "2 weeks", "1 month" or any Go duration.
// Empty means keep forever and returns 0.
func ParseRetention(path, raw string) (time.Duration, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return 0, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		if d < 0 {
			return 0, fmt.Errorf("%s: retention must be >= 0", path)
		}
		return d, nil
	}

	num, unit := s, ""
	if i := strings.IndexFunc(s, func(r rune) bool { return r != '.' && (r < '0' || r > '9') }); i >= 0 {
		num, unit = strings.TrimSpace(s[:i]), strings.TrimSpace(s[i:])
	}
	n, err := strconv.ParseFloat(num, 64)
	per, ok := retentionUnits[unit]
	if err != nil || !ok || n < 0 {
		return 0, fmt.Errorf("%s: invalid retention %q (want e.g. \"30 days\", \"2 weeks\" or \"720h\")", path, raw)
	}
	return time.Duration(n * float64(per)), nil
}

// RetentionDays rounds d up to whole days; lumberjack keeps files per day.
func RetentionDays(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(float64(d) / float64(day)))
}

const megabyte = 1024 * 1024

// ParseSizeMB parses a human size ("10 MB", "512KiB", "1gb") and rounds it up
// to whole megabytes. Empty returns 0.
func ParseSizeMB(path, raw string) (int, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	b, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid size %q: %w", path, raw, err)
	}
	if b == 0 {
		return 0, fmt.Errorf("%s: size must be > 0", path)
	}
	return int((b + megabyte - 1) / megabyte), nil
}
