package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/staffhub/presence/internal/domain"
	"github.com/staffhub/presence/internal/repository"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestIsOnlineThreshold(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := NewPresenceService(nil, nil, 120*time.Second)
	svc.now = func() time.Time { return now }

	cases := []struct {
		name     string
		lastSeen *time.Time
		want     bool
	}{
		{name: "recent", lastSeen: timePtr(now.Add(-60 * time.Second)), want: true},
		{name: "at threshold", lastSeen: timePtr(now.Add(-120 * time.Second)), want: true},
		{name: "stale", lastSeen: timePtr(now.Add(-130 * time.Second)), want: false},
		{name: "never seen", lastSeen: nil, want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := svc.IsOnline(tc.lastSeen); got != tc.want {
				t.Fatalf("IsOnline()=%v want %v", got, tc.want)
			}
		})
	}
}

func TestHeartbeatWritesStoreAndCache(t *testing.T) {
	repo := newProfileRepoForServiceTest(t)
	_, client := newRedisClientForTest(t)
	cache := NewRedisPresenceCache(client, "presence", 2*time.Minute)
	svc := NewPresenceService(repo, cache, 2*time.Minute)
	ctx := context.Background()

	p := seedProfile(t, repo, "gil@example.com")

	if err := svc.Heartbeat(ctx, p.ID); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	got, err := repo.GetByID(ctx, p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.LastSeen == nil {
		t.Fatal("expected last_seen written to store")
	}
	cached, err := cache.LastSeen(ctx, p.ID)
	if err != nil {
		t.Fatalf("cache read: %v", err)
	}
	if cached == nil {
		t.Fatal("expected last_seen written through to cache")
	}
}

func TestGoOfflineIsIdempotent(t *testing.T) {
	repo := newProfileRepoForServiceTest(t)
	_, client := newRedisClientForTest(t)
	cache := NewRedisPresenceCache(client, "presence", 2*time.Minute)
	svc := NewPresenceService(repo, cache, 2*time.Minute)
	ctx := context.Background()

	p := seedProfile(t, repo, "hana@example.com")
	if err := svc.ClaimSession(ctx, p.ID, "device-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := svc.Heartbeat(ctx, p.ID); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	if err := svc.GoOffline(ctx, p.ID); err != nil {
		t.Fatalf("first go offline: %v", err)
	}
	if err := svc.GoOffline(ctx, p.ID); err != nil {
		t.Fatalf("second go offline: %v", err)
	}

	got, err := repo.GetByID(ctx, p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ActiveSessionID != nil || got.LastSeen != nil {
		t.Fatalf("expected presence cleared, got %+v", got)
	}
	if cached, err := cache.LastSeen(ctx, p.ID); err != nil || cached != nil {
		t.Fatalf("expected cache cleared, got %v/%v", cached, err)
	}
}

func TestCurrentSessionReflectsClaim(t *testing.T) {
	repo := newProfileRepoForServiceTest(t)
	svc := NewPresenceService(repo, nil, 2*time.Minute)
	ctx := context.Background()

	p := seedProfile(t, repo, "iris@example.com")

	view, err := svc.CurrentSession(ctx, p.ID)
	if err != nil {
		t.Fatalf("current session: %v", err)
	}
	if view.ActiveSessionID != nil {
		t.Fatalf("expected no claim yet, got %v", view.ActiveSessionID)
	}

	if err := svc.ClaimSession(ctx, p.ID, "device-9"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	view, err = svc.CurrentSession(ctx, p.ID)
	if err != nil {
		t.Fatalf("current session: %v", err)
	}
	if view.ActiveSessionID == nil || *view.ActiveSessionID != "device-9" {
		t.Fatalf("expected device-9, got %v", view.ActiveSessionID)
	}
}

func TestStatusFallsBackToStoreWithoutCache(t *testing.T) {
	repo := newProfileRepoForServiceTest(t)
	svc := NewPresenceService(repo, nil, 2*time.Minute)
	ctx := context.Background()

	p := seedProfile(t, repo, "jon@example.com")
	if err := svc.Heartbeat(ctx, p.ID); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	view, err := svc.Status(ctx, p.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !view.IsOnline {
		t.Fatalf("expected online, got %+v", view)
	}
}

func TestOnlineUsersFiltersByThreshold(t *testing.T) {
	repo := newProfileRepoForServiceTest(t)
	svc := NewPresenceService(repo, nil, 2*time.Minute)
	ctx := context.Background()

	fresh := seedProfile(t, repo, "kim@example.com")
	stale := seedProfile(t, repo, "lee@example.com")
	seedProfile(t, repo, "mia@example.com")

	if err := repo.Heartbeat(ctx, fresh.ID, time.Now()); err != nil {
		t.Fatalf("heartbeat fresh: %v", err)
	}
	if err := repo.Heartbeat(ctx, stale.ID, time.Now().Add(-10*time.Minute)); err != nil {
		t.Fatalf("heartbeat stale: %v", err)
	}

	views, err := svc.OnlineUsers(ctx)
	if err != nil {
		t.Fatalf("online users: %v", err)
	}
	if len(views) != 1 || views[0].UserID != fresh.ID {
		t.Fatalf("expected only the fresh profile online, got %+v", views)
	}
}

func timePtr(t time.Time) *time.Time { return &t }

func seedProfile(t *testing.T, repo repository.ProfileRepository, email string) *domain.Profile {
	t.Helper()
	p := &domain.Profile{Email: email}
	if err := repo.Create(context.Background(), p); err != nil {
		t.Fatalf("seed profile: %v", err)
	}
	return p
}

func newProfileRepoForServiceTest(t *testing.T) repository.ProfileRepository {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.Profile{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repository.NewProfileRepository(db)
}
