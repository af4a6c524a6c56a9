package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"notifylog/internal/dispatch"
	"notifylog/internal/format"
	"notifylog/internal/record"
	kit "notifylog/internal/transport"
	"notifylog/internal/transport/telegram/adapter"
	logx "notifylog/pkg/logx"
)

const DefaultNotifyTimeout = 2 * time.Second

// NotifyHandler sends records with Notify set to every admin chat.
//
// Sends are best effort: each failed chunk is logged and the loop moves on
// to the next chunk and admin.
type NotifyHandler struct {
	Sender   kit.Sender
	AdminIDs []int64
	Level    record.Level
	// Timeout bounds each send, including the wait on the rate limiter.
	Timeout time.Duration
	// RatePerSec caps sends per second across all admins; 0 is unlimited.
	RatePerSec float64
	Log        logx.Logger
}

func (h NotifyHandler) Add(_ context.Context, r dispatch.Registrar) error {
	if h.Sender == nil {
		return errors.New("notify handler: sender is required")
	}
	if h.Timeout <= 0 {
		h.Timeout = DefaultNotifyTimeout
	}
	log := h.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "sink.notify"))

	var lim *rate.Limiter
	if h.RatePerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(h.RatePerSec), 1)
	}
	admins := append([]int64(nil), h.AdminIDs...)

	r.Install(dispatch.Sink{
		Name:   "notify",
		Level:  h.Level,
		Filter: func(rec record.Record) bool { return rec.Notify },
		Write: func(ctx context.Context, rec record.Record) error {
			// Notifications outlive a canceled producer; only the per-send timeout applies.
			ctx = context.WithoutCancel(ctx)
			chunks := adapter.SplitText(format.NotifyText(rec), adapter.TextLimit, "")
			var failed, total int
			for _, id := range admins {
				for i, chunk := range chunks {
					total++
					if err := h.send(ctx, lim, id, chunk); err != nil {
						failed++
						log.Warn("notification send failed",
							logx.Int64("chat_id", id), logx.Int("chunk", i+1), logx.Int("chunks", len(chunks)), logx.Err(err))
					}
				}
			}
			if failed > 0 {
				return fmt.Errorf("notify: %d of %d sends failed", failed, total)
			}
			return nil
		},
	})
	return nil
}

func (h NotifyHandler) send(ctx context.Context, lim *rate.Limiter, chatID int64, text string) error {
	ctx, cancel := context.WithTimeout(ctx, h.Timeout)
	defer cancel()
	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
	}
	_, err := h.Sender.SendText(ctx, kit.ChatTarget{ChatID: chatID}, text, &kit.SendOptions{DisablePreview: true})
	return err
}
