package stream

import (
	"bufio"
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	"notifylog/internal/eventbus"
	"notifylog/internal/format"
	logx "notifylog/pkg/logx"
)

const maxReplayLine = 1 << 20

// seedFromFile replays the file sink's log into history. Only records strictly
// older than now are kept; malformed lines are logged and skipped.
func (m *Manager) seedFromFile(path string) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			m.log.Debug("no persisted log to replay", logx.String("path", path))
			return
		}
		m.log.Warn("persisted log open failed", logx.String("path", path), logx.Err(err))
		return
	}
	defer f.Close()

	cutoff := m.now()
	var seeded, skipped, malformed int
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxReplayLine)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		rec, err := format.ParseFileLine(line, time.Local)
		if err != nil {
			malformed++
			m.log.Debug("persisted log line skipped", logx.Err(err))
			continue
		}
		if !rec.Time.Before(cutoff) {
			skipped++
			continue
		}
		m.history.push(rec.ToMessage())
		seeded++
	}
	if err := sc.Err(); err != nil {
		m.log.Warn("persisted log read failed", logx.String("path", path), logx.Err(err))
	}
	m.log.Info("history seeded from persisted log",
		logx.String("path", path), logx.Int("seeded", seeded), logx.Int("malformed", malformed), logx.Int("not_before_start", skipped))
	eventbus.Publish(m.bus, eventbus.StreamHistorySeeded, seeded)
}
