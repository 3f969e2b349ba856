package service

import (
	"context"
	"testing"
	"time"
)

func TestRedisPresenceCacheTouchAndLastSeen(t *testing.T) {
	_, client := newRedisClientForTest(t)
	cache := NewRedisPresenceCache(client, "presence", 2*time.Minute)
	ctx := context.Background()

	at := time.Now().UTC().Truncate(time.Millisecond)
	if err := cache.Touch(ctx, "user-1", at); err != nil {
		t.Fatalf("touch: %v", err)
	}

	got, err := cache.LastSeen(ctx, "user-1")
	if err != nil {
		t.Fatalf("last seen: %v", err)
	}
	if got == nil || !got.Equal(at) {
		t.Fatalf("expected %v, got %v", at, got)
	}

	missing, err := cache.LastSeen(ctx, "nobody")
	if err != nil {
		t.Fatalf("last seen missing: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for unknown user, got %v", missing)
	}
}

func TestRedisPresenceCacheOnlineIDsPrunesExpired(t *testing.T) {
	server, client := newRedisClientForTest(t)
	cache := NewRedisPresenceCache(client, "presence", 100*time.Millisecond)
	ctx := context.Background()

	if err := cache.Touch(ctx, "user-1", time.Now()); err != nil {
		t.Fatalf("touch user-1: %v", err)
	}
	if err := cache.Touch(ctx, "user-2", time.Now()); err != nil {
		t.Fatalf("touch user-2: %v", err)
	}

	ids, err := cache.OnlineIDs(ctx)
	if err != nil {
		t.Fatalf("online ids: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 online, got %v", ids)
	}

	server.FastForward(time.Second)

	ids, err = cache.OnlineIDs(ctx)
	if err != nil {
		t.Fatalf("online ids after expiry: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected none online after expiry, got %v", ids)
	}
}

func TestRedisPresenceCacheForget(t *testing.T) {
	_, client := newRedisClientForTest(t)
	cache := NewRedisPresenceCache(client, "presence", time.Minute)
	ctx := context.Background()

	if err := cache.Touch(ctx, "user-1", time.Now()); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if err := cache.Forget(ctx, "user-1"); err != nil {
		t.Fatalf("forget: %v", err)
	}

	got, err := cache.LastSeen(ctx, "user-1")
	if err != nil {
		t.Fatalf("last seen: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil after forget, got %v", got)
	}
	ids, err := cache.OnlineIDs(ctx)
	if err != nil {
		t.Fatalf("online ids: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected empty index after forget, got %v", ids)
	}
}

func TestRedisPresenceCacheNilClientIsNoop(t *testing.T) {
	cache := NewRedisPresenceCache(nil, "", time.Minute)
	ctx := context.Background()

	if err := cache.Touch(ctx, "user-1", time.Now()); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if err := cache.Forget(ctx, "user-1"); err != nil {
		t.Fatalf("forget: %v", err)
	}
	if got, err := cache.LastSeen(ctx, "user-1"); err != nil || got != nil {
		t.Fatalf("expected nil/nil, got %v/%v", got, err)
	}
	if ids, err := cache.OnlineIDs(ctx); err != nil || ids != nil {
		t.Fatalf("expected nil/nil, got %v/%v", ids, err)
	}
}
