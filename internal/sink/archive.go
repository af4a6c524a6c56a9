package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"notifylog/internal/dispatch"
	"notifylog/internal/format"
	"notifylog/internal/record"
	"notifylog/internal/storage"
	logx "notifylog/pkg/logx"
)

const (
	DefaultPruneSchedule = "@hourly"
	pruneTimeout         = 30 * time.Second
)

// ArchiveHandler appends records to a queryable store and prunes entries
// older than Retention on a cron schedule. The store is opened by Add and
// closed with the sink.
type ArchiveHandler struct {
	Storage storage.Config
	Level   record.Level
	// Retention of zero keeps everything and disables pruning.
	Retention     time.Duration
	PruneSchedule string
	Log           logx.Logger
	Now           func() time.Time
}

func (h ArchiveHandler) Add(_ context.Context, r dispatch.Registrar) error {
	log := h.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "sink.archive"))
	now := h.Now
	if now == nil {
		now = time.Now
	}

	st, err := storage.Open(h.Storage, log)
	if err != nil {
		return fmt.Errorf("archive handler: %w", err)
	}
	if st == nil {
		return errors.New("archive handler: storage driver is required")
	}

	a := &archive{store: st, log: log, now: now, retention: h.Retention}
	if h.Retention > 0 {
		spec := h.PruneSchedule
		if spec == "" {
			spec = DefaultPruneSchedule
		}
		a.cron = cron.New(cron.WithLogger(cronLogger{log}), cron.WithChain(cron.Recover(cronLogger{log})))
		if _, err := a.cron.AddFunc(spec, a.prune); err != nil {
			_ = st.Close()
			return fmt.Errorf("archive handler: prune schedule %q: %w", spec, err)
		}
		a.prune()
		a.cron.Start()
	}

	r.Install(dispatch.Sink{
		Name:  "archive",
		Level: h.Level,
		Write: a.write,
		Close: a.close,
	})
	return nil
}

type archive struct {
	store     storage.Store
	cron      *cron.Cron
	log       logx.Logger
	now       func() time.Time
	retention time.Duration
}

func (a *archive) write(ctx context.Context, rec record.Record) error {
	e := storage.Entry{
		Time:    rec.Time,
		Level:   rec.Level.String(),
		Message: rec.Message,
		Author:  rec.Author,
		Details: rec.Details,
		Caller:  rec.Caller,
	}
	if rec.Err != nil {
		e.Error = format.ErrorName(rec.Err) + ": " + rec.Err.Error()
	}
	return a.store.Append(context.WithoutCancel(ctx), e)
}

func (a *archive) prune() {
	ctx, cancel := context.WithTimeout(context.Background(), pruneTimeout)
	defer cancel()
	cutoff := a.now().Add(-a.retention)
	n, err := a.store.Prune(ctx, cutoff)
	if err != nil {
		a.log.Warn("archive prune failed", logx.Err(err))
		return
	}
	if n > 0 {
		a.log.Info("archive pruned", logx.Int64("removed", n), logx.Time("before", cutoff))
	}
}

func (a *archive) close() error {
	if a.cron != nil {
		<-a.cron.Stop().Done()
	}
	return a.store.Close()
}

// cronLogger adapts logx to cron's logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Warn("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
