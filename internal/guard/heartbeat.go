package guard

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/staffhub/presence/internal/domain"
	"github.com/staffhub/presence/internal/observability"
)

// Heartbeat keeps last_seen fresh while a session exists: once on start,
// on a fixed interval thereafter, and immediately when visibility is
// regained. Writes are skipped entirely while hidden so backgrounded
// agents do not inflate presence.
type Heartbeat struct {
	store    ProfileStore
	auth     AuthProvider
	vis      Visibility
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewHeartbeat(store ProfileStore, auth AuthProvider, vis Visibility, interval time.Duration, logger *slog.Logger) *Heartbeat {
	if vis == nil {
		vis = AlwaysVisible()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Heartbeat{
		store:    store,
		auth:     auth,
		vis:      vis,
		interval: interval,
		logger:   logger,
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

func (h *Heartbeat) Start(ctx context.Context) {
	h.Beat(ctx)
	h.wg.Add(1)
	go h.loop(ctx)
}

func (h *Heartbeat) Close() {
	h.closeOnce.Do(func() { close(h.done) })
	h.wg.Wait()
}

// OnVisible is the visibility-regain hook: one immediate write ahead of the
// next scheduled tick.
func (h *Heartbeat) OnVisible(ctx context.Context) {
	h.Beat(ctx)
}

func (h *Heartbeat) Beat(ctx context.Context) {
	if !h.vis.Visible() {
		return
	}
	sess, err := h.auth.CurrentSession(ctx)
	if err != nil || sess == nil {
		// No session means nothing to prove alive; not an error.
		return
	}
	err = h.store.Update(ctx, sess.UserID, map[string]any{domain.FieldLastSeen: h.now().UTC()})
	if err != nil {
		// Logged and dropped; the next tick tries again.
		observability.RecordHeartbeat("agent", "error")
		h.logger.Warn("heartbeat write failed", "error", err)
		return
	}
	observability.RecordHeartbeat("agent", "success")
}

func (h *Heartbeat) loop(ctx context.Context) {
	defer h.wg.Done()
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-h.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Beat(ctx)
		}
	}
}
