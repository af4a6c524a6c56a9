package sink

import (
	"context"
	"errors"
	"fmt"

	"notifylog/internal/dispatch"
	"notifylog/internal/record"
	"notifylog/internal/stream"
)

// StreamHandler queues records on a broadcast manager owned by the caller.
//
// Add configures the manager (first configuration wins) and starts it. The
// manager outlives ctx and the handler; its owner stops it.
type StreamHandler struct {
	Manager    *stream.Manager
	Level      record.Level
	MaxHistory int
	// PersistedPath is the file sink's log, replayed into history on first start.
	PersistedPath string
}

func (h StreamHandler) Add(ctx context.Context, r dispatch.Registrar) error {
	if h.Manager == nil {
		return errors.New("stream handler: manager is required")
	}
	h.Manager.Configure(stream.Config{MaxHistory: h.MaxHistory}, h.PersistedPath)
	if err := h.Manager.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("stream handler: %w", err)
	}
	m := h.Manager
	r.Install(dispatch.Sink{
		Name:  "stream",
		Level: h.Level,
		Write: func(ctx context.Context, rec record.Record) error {
			// Producers are never cancelled: a severe record waits for queue space
			// even after the caller's ctx has ended.
			err := m.AddLog(context.WithoutCancel(ctx), rec.ToMessage())
			if errors.Is(err, stream.ErrDropped) {
				// already counted and logged by the manager
				return nil
			}
			return err
		},
	})
	return nil
}
