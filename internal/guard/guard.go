package guard

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/staffhub/presence/internal/domain"
	"github.com/staffhub/presence/internal/observability"

	"github.com/google/uuid"
)

type State int

const (
	StateNoSession State = iota
	StateSessionUnclaimed
	StateClaimedMatch
	StateClaimedMismatch
	StateEvicted
)

func (s State) String() string {
	switch s {
	case StateNoSession:
		return "no_session"
	case StateSessionUnclaimed:
		return "session_unclaimed"
	case StateClaimedMatch:
		return "claimed_match"
	case StateClaimedMismatch:
		return "claimed_mismatch"
	case StateEvicted:
		return "evicted"
	default:
		return "unknown"
	}
}

const EvictionNotice = "You have been signed out because this account was signed in on another device."

type Config struct {
	// PollInterval bounds eviction detection latency. Defaults to 10s.
	PollInterval time.Duration
	// HeartbeatEvery is the sub-counter of poll ticks on which the guard
	// writes last_seen. Defaults to 3 (30s at the default poll interval).
	HeartbeatEvery int
	Hostname       string
	DevHostnames   []string
	Visibility     Visibility
	Logger         *slog.Logger
	Now            func() time.Time
}

// SessionGuard enforces that the most-recently-logged-in device holds the
// only live session for an identity. It owns its timer handle and its
// device identity; construct once per application instance and Close on
// teardown.
type SessionGuard struct {
	store    ProfileStore
	auth     AuthProvider
	devices  *DeviceStore
	notifier Notifier
	cfg      Config
	logger   *slog.Logger
	vis      Visibility
	now      func() time.Time

	mu         sync.Mutex
	state      State
	session    *Session
	deviceID   string
	tick       int
	nextGen    uint64
	appliedGen uint64

	done        chan struct{}
	wg          sync.WaitGroup
	unsubscribe func()
	closeOnce   sync.Once
}

func New(store ProfileStore, auth AuthProvider, devices *DeviceStore, notifier Notifier, cfg Config) *SessionGuard {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.HeartbeatEvery <= 0 {
		cfg.HeartbeatEvery = 3
	}
	if cfg.Visibility == nil {
		cfg.Visibility = AlwaysVisible()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &SessionGuard{
		store:    store,
		auth:     auth,
		devices:  devices,
		notifier: notifier,
		cfg:      cfg,
		logger:   cfg.Logger,
		vis:      cfg.Visibility,
		now:      cfg.Now,
		state:    StateNoSession,
		done:     make(chan struct{}),
	}
}

// Start subscribes to auth state changes, syncs any pre-existing session,
// and begins polling. The supplied context bounds the guard's lifetime.
func (g *SessionGuard) Start(ctx context.Context) {
	g.unsubscribe = g.auth.OnAuthStateChange(func(ev AuthEvent) { g.handleAuthEvent(ctx, ev) })
	if sess, err := g.auth.CurrentSession(ctx); err == nil && sess != nil {
		g.syncExisting(ctx, sess)
	}
	g.wg.Add(1)
	go g.loop(ctx)
}

// Close tears down the auth subscription and the poll timer. It does not
// sign out or clear the device identity; that only happens on logout or
// eviction.
func (g *SessionGuard) Close() {
	g.closeOnce.Do(func() {
		if g.unsubscribe != nil {
			g.unsubscribe()
		}
		close(g.done)
	})
	g.wg.Wait()
}

func (g *SessionGuard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *SessionGuard) DeviceID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.deviceID
}

func (g *SessionGuard) loop(ctx context.Context) {
	defer g.wg.Done()
	ticker := time.NewTicker(g.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-g.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Ticks never await in-flight work; overlapping polls are
			// tolerated and resolved by read generation.
			go g.onTick(ctx)
		}
	}
}

func (g *SessionGuard) onTick(ctx context.Context) {
	g.mu.Lock()
	g.tick++
	heartbeatDue := g.tick%g.cfg.HeartbeatEvery == 0
	g.mu.Unlock()

	g.poll(ctx)
	if heartbeatDue {
		g.heartbeat(ctx)
	}
}

func (g *SessionGuard) handleAuthEvent(ctx context.Context, ev AuthEvent) {
	switch ev.Kind {
	case EventSignedIn:
		g.claimNewDevice(ctx, ev.Session)
	case EventSignedOut:
		g.clearLocal()
	case EventPasswordRecovery:
		// Recovery is handled by the host application's reset flow; the
		// guard holds no claim for it.
		g.logger.Info("auth event observed", "kind", ev.Kind.String())
	}
}

// claimNewDevice mints a fresh device identity and writes it to the store
// as the sole authorized session. The write is an unconditional overwrite,
// not a compare-and-swap: the previous device's id is discarded and found
// stale on its next poll.
func (g *SessionGuard) claimNewDevice(ctx context.Context, sess *Session) {
	if sess == nil {
		return
	}
	deviceID := uuid.NewString()
	if err := g.devices.Set(deviceID); err != nil {
		g.logger.Warn("persist device identity failed", "error", err)
	}

	g.mu.Lock()
	g.session = sess
	g.deviceID = deviceID
	g.state = StateSessionUnclaimed
	g.mu.Unlock()

	if g.onDevHost() {
		g.mu.Lock()
		g.state = StateClaimedMatch
		g.mu.Unlock()
		g.logger.Info("dev hostname, session claim write suppressed", "hostname", g.cfg.Hostname)
		return
	}
	g.writeClaim(ctx, sess.UserID, deviceID)
}

// syncExisting covers an agent restart while a session is still live: reuse
// the persisted device identity if present, otherwise mint one lazily.
func (g *SessionGuard) syncExisting(ctx context.Context, sess *Session) {
	if id := g.devices.Get(); id != "" {
		g.mu.Lock()
		g.session = sess
		g.deviceID = id
		g.state = StateClaimedMatch
		g.mu.Unlock()
		return
	}
	g.claimNewDevice(ctx, sess)
}

func (g *SessionGuard) writeClaim(ctx context.Context, userID, deviceID string) {
	err := g.store.Update(ctx, userID, map[string]any{domain.FieldActiveSessionID: deviceID})
	if err != nil {
		// Swallowed: the next poll notices the unclaimed state and retries.
		g.logger.Warn("session claim write failed", "error", err)
		return
	}
	g.mu.Lock()
	if g.deviceID == deviceID && g.state == StateSessionUnclaimed {
		g.state = StateClaimedMatch
	}
	g.mu.Unlock()
}

func (g *SessionGuard) clearLocal() {
	if err := g.devices.Clear(); err != nil {
		g.logger.Warn("clear device identity failed", "error", err)
	}
	g.mu.Lock()
	g.session = nil
	g.deviceID = ""
	g.state = StateNoSession
	g.tick = 0
	g.mu.Unlock()
}

func (g *SessionGuard) poll(ctx context.Context) {
	g.mu.Lock()
	sess := g.session
	localID := g.deviceID
	if sess == nil || g.state == StateEvicted {
		g.mu.Unlock()
		return
	}
	g.nextGen++
	gen := g.nextGen
	g.mu.Unlock()

	if localID == "" {
		g.syncExisting(ctx, sess)
		return
	}

	p, err := g.store.GetByID(ctx, sess.UserID)
	if err != nil {
		// Transient store failures never transition state; retry next tick.
		g.logger.Warn("session guard poll failed", "error", err)
		return
	}

	g.mu.Lock()
	if gen <= g.appliedGen {
		// An out-of-order completion from an older poll; the newer read
		// already won.
		g.mu.Unlock()
		return
	}
	g.appliedGen = gen
	if g.session == nil || g.state == StateEvicted || g.deviceID != localID {
		g.mu.Unlock()
		return
	}

	remote := p.ActiveSessionID
	switch {
	case remote == nil:
		// Claim cleared server-side (offline beacon or a logout elsewhere);
		// reassert this device's claim.
		g.state = StateSessionUnclaimed
		g.mu.Unlock()
		if !g.onDevHost() {
			g.writeClaim(ctx, sess.UserID, localID)
		}
	case *remote == localID:
		g.state = StateClaimedMatch
		g.mu.Unlock()
	default:
		g.state = StateClaimedMismatch
		g.mu.Unlock()
		g.onMismatch(ctx)
	}
}

func (g *SessionGuard) onMismatch(ctx context.Context) {
	if g.onDevHost() {
		observability.RecordEviction("suppressed_dev")
		g.logger.Info("session mismatch ignored on dev hostname", "hostname", g.cfg.Hostname)
		g.mu.Lock()
		if g.state == StateClaimedMismatch {
			g.state = StateClaimedMatch
		}
		g.mu.Unlock()
		return
	}

	g.mu.Lock()
	if g.state != StateClaimedMismatch {
		g.mu.Unlock()
		return
	}
	g.state = StateEvicted
	g.session = nil
	g.deviceID = ""
	g.mu.Unlock()

	observability.RecordEviction("evicted")
	g.logger.Warn("concurrent login detected, evicting this session")
	if err := g.auth.SignOut(ctx); err != nil {
		g.logger.Warn("sign out during eviction failed", "error", err)
	}
	if err := g.devices.Clear(); err != nil {
		g.logger.Warn("clear device identity failed", "error", err)
	}
	g.notifier.Notice(EvictionNotice)
	g.notifier.NavigateToLogin()
}

func (g *SessionGuard) heartbeat(ctx context.Context) {
	if !g.vis.Visible() {
		return
	}
	g.mu.Lock()
	sess := g.session
	evicted := g.state == StateEvicted
	g.mu.Unlock()
	if sess == nil || evicted {
		return
	}
	err := g.store.Update(ctx, sess.UserID, map[string]any{domain.FieldLastSeen: g.now().UTC()})
	if err != nil {
		observability.RecordHeartbeat("guard", "error")
		g.logger.Warn("guard heartbeat failed", "error", err)
		return
	}
	observability.RecordHeartbeat("guard", "success")
}

func (g *SessionGuard) onDevHost() bool {
	host := strings.ToLower(strings.TrimSpace(g.cfg.Hostname))
	for _, h := range g.cfg.DevHostnames {
		if host == strings.ToLower(h) {
			return true
		}
	}
	return false
}
