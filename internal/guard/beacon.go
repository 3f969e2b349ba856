package guard

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/staffhub/presence/internal/observability"
)

// OfflineBeacon is the unload-time cleanup signal: a single non-blocking
// POST carrying only ambient credentials (cookie jar or bearer header on
// the supplied client). At-most-once and unreliable by contract; a dropped
// request just leaves stale presence to age out or be overwritten at the
// next login.
type OfflineBeacon struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

func NewOfflineBeacon(endpoint string, client *http.Client, logger *slog.Logger) *OfflineBeacon {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OfflineBeacon{endpoint: endpoint, client: client, logger: logger}
}

// Fire dispatches the beacon without waiting for a result. Safe to call
// during teardown; it never blocks the caller.
func (b *OfflineBeacon) Fire() {
	go b.Send(context.Background())
}

func (b *OfflineBeacon) Send(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, nil)
	if err != nil {
		b.logger.Debug("offline beacon build failed", "error", err)
		return
	}
	resp, err := b.client.Do(req)
	if err != nil {
		observability.RecordOfflineBeacon("dropped")
		b.logger.Debug("offline beacon dropped", "error", err)
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	observability.RecordOfflineBeacon("sent")
}
