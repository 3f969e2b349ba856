package guard

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/staffhub/presence/internal/domain"
)

var errTest = errors.New("store down")

type memStore struct {
	mu             sync.Mutex
	profiles       map[string]*domain.Profile
	getErr         error
	updateErr      error
	lastSeenWrites int
}

func newMemStore(userIDs ...string) *memStore {
	s := &memStore{profiles: make(map[string]*domain.Profile)}
	for _, id := range userIDs {
		s.profiles[id] = &domain.Profile{ID: id}
	}
	return s
}

func (s *memStore) GetByID(_ context.Context, id string) (*domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	p, ok := s.profiles[id]
	if !ok {
		return nil, errors.New("profile not found")
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) Update(_ context.Context, id string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	p, ok := s.profiles[id]
	if !ok {
		return errors.New("profile not found")
	}
	if v, ok := fields[domain.FieldActiveSessionID]; ok {
		if v == nil {
			p.ActiveSessionID = nil
		} else {
			id := v.(string)
			p.ActiveSessionID = &id
		}
	}
	if v, ok := fields[domain.FieldLastSeen]; ok {
		if v == nil {
			p.LastSeen = nil
		} else {
			at := v.(time.Time)
			p.LastSeen = &at
			s.lastSeenWrites++
		}
	}
	return nil
}

func (s *memStore) activeSessionID(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok || p.ActiveSessionID == nil {
		return ""
	}
	return *p.ActiveSessionID
}

func (s *memStore) setActiveSessionID(id, deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[id].ActiveSessionID = &deviceID
}

func (s *memStore) heartbeats() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeenWrites
}

type fakeAuth struct {
	mu        sync.Mutex
	session   *Session
	listeners map[int]func(AuthEvent)
	nextID    int
	signOuts  int
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{listeners: make(map[int]func(AuthEvent))}
}

func (a *fakeAuth) CurrentSession(context.Context) (*Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session, nil
}

func (a *fakeAuth) OnAuthStateChange(fn func(AuthEvent)) func() {
	a.mu.Lock()
	id := a.nextID
	a.nextID++
	a.listeners[id] = fn
	a.mu.Unlock()
	return func() {
		a.mu.Lock()
		delete(a.listeners, id)
		a.mu.Unlock()
	}
}

func (a *fakeAuth) SignOut(context.Context) error {
	a.mu.Lock()
	a.signOuts++
	a.session = nil
	a.mu.Unlock()
	return nil
}

func (a *fakeAuth) signIn(sess *Session) {
	a.mu.Lock()
	a.session = sess
	fns := make([]func(AuthEvent), 0, len(a.listeners))
	for _, fn := range a.listeners {
		fns = append(fns, fn)
	}
	a.mu.Unlock()
	for _, fn := range fns {
		fn(AuthEvent{Kind: EventSignedIn, Session: sess})
	}
}

func (a *fakeAuth) signOutCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.signOuts
}

type fakeNotifier struct {
	mu          sync.Mutex
	notices     []string
	navigations int
}

func (n *fakeNotifier) Notice(message string) {
	n.mu.Lock()
	n.notices = append(n.notices, message)
	n.mu.Unlock()
}

func (n *fakeNotifier) NavigateToLogin() {
	n.mu.Lock()
	n.navigations++
	n.mu.Unlock()
}

func (n *fakeNotifier) counts() (int, int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notices), n.navigations
}

func newGuardForTest(t *testing.T, store *memStore, auth *fakeAuth, notifier *fakeNotifier, cfg Config) *SessionGuard {
	t.Helper()
	devices := NewDeviceStore(filepath.Join(t.TempDir(), "device_id"))
	g := New(store, auth, devices, notifier, cfg)
	return g
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestSignedInMintsAndClaimsDevice(t *testing.T) {
	store := newMemStore("user-1")
	auth := newFakeAuth()
	notifier := &fakeNotifier{}
	g := newGuardForTest(t, store, auth, notifier, Config{PollInterval: time.Hour})
	g.Start(context.Background())
	defer g.Close()

	auth.signIn(&Session{UserID: "user-1", Token: "tok"})

	deviceID := g.DeviceID()
	if deviceID == "" {
		t.Fatal("expected minted device id")
	}
	if got := store.activeSessionID("user-1"); got != deviceID {
		t.Fatalf("expected store claim %q, got %q", deviceID, got)
	}
	if g.State() != StateClaimedMatch {
		t.Fatalf("expected claimed_match, got %v", g.State())
	}
	if g.devices.Get() != deviceID {
		t.Fatal("expected device id persisted locally")
	}
}

func TestSecondLoginOverwritesFirstClaim(t *testing.T) {
	store := newMemStore("user-1")

	authA := newFakeAuth()
	gA := newGuardForTest(t, store, authA, &fakeNotifier{}, Config{PollInterval: time.Hour})
	gA.Start(context.Background())
	defer gA.Close()
	authA.signIn(&Session{UserID: "user-1"})
	firstDevice := gA.DeviceID()

	authB := newFakeAuth()
	gB := newGuardForTest(t, store, authB, &fakeNotifier{}, Config{PollInterval: time.Hour})
	gB.Start(context.Background())
	defer gB.Close()
	authB.signIn(&Session{UserID: "user-1"})
	secondDevice := gB.DeviceID()

	if firstDevice == secondDevice {
		t.Fatal("expected distinct device ids per login")
	}
	if got := store.activeSessionID("user-1"); got != secondDevice {
		t.Fatalf("expected second login to hold the claim, got %q", got)
	}
}

func TestMismatchEvictsWithinOnePollAndSignsOutOnce(t *testing.T) {
	store := newMemStore("user-1")
	auth := newFakeAuth()
	notifier := &fakeNotifier{}
	g := newGuardForTest(t, store, auth, notifier, Config{PollInterval: 5 * time.Millisecond})
	g.Start(context.Background())
	defer g.Close()

	auth.signIn(&Session{UserID: "user-1"})
	store.setActiveSessionID("user-1", "another-device")

	waitFor(t, 2*time.Second, func() bool { return g.State() == StateEvicted }, "guard never evicted")

	// Give additional polls a chance to double-fire.
	time.Sleep(50 * time.Millisecond)
	if got := auth.signOutCount(); got != 1 {
		t.Fatalf("expected exactly one sign-out, got %d", got)
	}
	notices, navigations := notifier.counts()
	if notices != 1 || navigations != 1 {
		t.Fatalf("expected one notice and one navigation, got %d/%d", notices, navigations)
	}
	if g.devices.Get() != "" {
		t.Fatal("expected device identity cleared on eviction")
	}
}

func TestMismatchSuppressedOnDevHostname(t *testing.T) {
	store := newMemStore("user-1")
	auth := newFakeAuth()
	notifier := &fakeNotifier{}
	g := newGuardForTest(t, store, auth, notifier, Config{
		PollInterval: 5 * time.Millisecond,
		Hostname:     "localhost",
		DevHostnames: []string{"localhost"},
	})
	g.Start(context.Background())
	defer g.Close()

	auth.signIn(&Session{UserID: "user-1"})
	// Claim writes are suppressed on dev hosts, so plant the conflicting
	// remote id directly.
	store.setActiveSessionID("user-1", "another-device")

	time.Sleep(100 * time.Millisecond)
	if g.State() == StateEvicted {
		t.Fatal("expected eviction suppressed on dev hostname")
	}
	if auth.signOutCount() != 0 {
		t.Fatal("expected no sign-out on dev hostname")
	}
	if got := store.activeSessionID("user-1"); got != "another-device" {
		t.Fatalf("expected no claim write on dev hostname, got %q", got)
	}
}

func TestPollErrorsAreSwallowed(t *testing.T) {
	store := newMemStore("user-1")
	auth := newFakeAuth()
	g := newGuardForTest(t, store, auth, &fakeNotifier{}, Config{PollInterval: 5 * time.Millisecond})
	g.Start(context.Background())
	defer g.Close()

	auth.signIn(&Session{UserID: "user-1"})

	store.mu.Lock()
	store.getErr = errors.New("store down")
	store.mu.Unlock()

	time.Sleep(50 * time.Millisecond)
	if g.State() != StateClaimedMatch {
		t.Fatalf("expected state unchanged across poll failures, got %v", g.State())
	}
	if auth.signOutCount() != 0 {
		t.Fatal("expected no sign-out on transient failures")
	}
}

func TestGuardHeartbeatSubCounterWritesLastSeen(t *testing.T) {
	store := newMemStore("user-1")
	auth := newFakeAuth()
	g := newGuardForTest(t, store, auth, &fakeNotifier{}, Config{
		PollInterval:   5 * time.Millisecond,
		HeartbeatEvery: 2,
	})
	g.Start(context.Background())
	defer g.Close()

	auth.signIn(&Session{UserID: "user-1"})

	waitFor(t, 2*time.Second, func() bool { return store.heartbeats() > 0 }, "guard heartbeat never fired")
}

func TestSignedOutClearsLocalState(t *testing.T) {
	store := newMemStore("user-1")
	auth := newFakeAuth()
	g := newGuardForTest(t, store, auth, &fakeNotifier{}, Config{PollInterval: time.Hour})
	g.Start(context.Background())
	defer g.Close()

	auth.signIn(&Session{UserID: "user-1"})
	if g.DeviceID() == "" {
		t.Fatal("expected device id after sign-in")
	}

	g.handleAuthEvent(context.Background(), AuthEvent{Kind: EventSignedOut})
	if g.State() != StateNoSession {
		t.Fatalf("expected no_session after sign-out, got %v", g.State())
	}
	if g.DeviceID() != "" || g.devices.Get() != "" {
		t.Fatal("expected device identity cleared on sign-out")
	}
}

func TestSyncExistingReusesPersistedDevice(t *testing.T) {
	store := newMemStore("user-1")
	auth := newFakeAuth()
	devices := NewDeviceStore(filepath.Join(t.TempDir(), "device_id"))
	if err := devices.Set("persisted-device"); err != nil {
		t.Fatalf("seed device id: %v", err)
	}
	auth.session = &Session{UserID: "user-1"}

	g := New(store, auth, devices, &fakeNotifier{}, Config{PollInterval: time.Hour})
	g.Start(context.Background())
	defer g.Close()

	if g.DeviceID() != "persisted-device" {
		t.Fatalf("expected persisted device reused, got %q", g.DeviceID())
	}
	if g.State() != StateClaimedMatch {
		t.Fatalf("expected claimed_match, got %v", g.State())
	}
}
