package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/staffhub/presence/internal/domain"
	"github.com/staffhub/presence/internal/observability"
	"github.com/staffhub/presence/internal/repository"
)

type StatusView struct {
	UserID      string     `json:"user_id"`
	DisplayName string     `json:"display_name"`
	LastSeen    *time.Time `json:"last_seen,omitempty"`
	IsOnline    bool       `json:"is_online"`
}

type SessionView struct {
	UserID          string  `json:"user_id"`
	ActiveSessionID *string `json:"active_session_id"`
}

type PresenceService struct {
	profileRepo repository.ProfileRepository
	cache       *RedisPresenceCache
	threshold   time.Duration
	now         func() time.Time
}

func NewPresenceService(profileRepo repository.ProfileRepository, cache *RedisPresenceCache, threshold time.Duration) *PresenceService {
	return &PresenceService{
		profileRepo: profileRepo,
		cache:       cache,
		threshold:   threshold,
		now:         time.Now,
	}
}

// IsOnline is a read-side policy over last_seen, never stored state.
func (s *PresenceService) IsOnline(lastSeen *time.Time) bool {
	if lastSeen == nil {
		return false
	}
	return s.now().Sub(*lastSeen) <= s.threshold
}

func (s *PresenceService) Heartbeat(ctx context.Context, userID string) error {
	at := s.now()
	if err := s.profileRepo.Heartbeat(ctx, userID, at); err != nil {
		observability.RecordHeartbeat("server", "error")
		return err
	}
	if s.cache != nil {
		if err := s.cache.Touch(ctx, userID, at); err != nil {
			slog.WarnContext(ctx, "presence cache touch failed", "user_id", userID, "error", err)
		}
	}
	observability.RecordHeartbeat("server", "success")
	return nil
}

// GoOffline clears both presence fields. Idempotent: clearing an already
// cleared profile, or an unknown one, is a no-op success so the unload
// beacon can never observe a failure.
func (s *PresenceService) GoOffline(ctx context.Context, userID string) error {
	if err := s.profileRepo.ClearPresence(ctx, userID); err != nil {
		observability.RecordOfflineBeacon("error")
		return err
	}
	if s.cache != nil {
		if err := s.cache.Forget(ctx, userID); err != nil {
			slog.WarnContext(ctx, "presence cache forget failed", "user_id", userID, "error", err)
		}
	}
	observability.RecordOfflineBeacon("cleared")
	return nil
}

func (s *PresenceService) ClaimSession(ctx context.Context, userID, deviceID string) error {
	if err := s.profileRepo.ClaimSession(ctx, userID, deviceID); err != nil {
		observability.RecordSessionClaim("error")
		return err
	}
	observability.RecordSessionClaim("success")
	return nil
}

func (s *PresenceService) CurrentSession(ctx context.Context, userID string) (*SessionView, error) {
	p, err := s.profileRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &SessionView{UserID: p.ID, ActiveSessionID: p.ActiveSessionID}, nil
}

func (s *PresenceService) Status(ctx context.Context, userID string) (*StatusView, error) {
	if s.cache != nil {
		lastSeen, err := s.cache.LastSeen(ctx, userID)
		if err != nil {
			slog.WarnContext(ctx, "presence cache read failed", "user_id", userID, "error", err)
		} else if lastSeen != nil {
			return &StatusView{UserID: userID, LastSeen: lastSeen, IsOnline: s.IsOnline(lastSeen)}, nil
		}
	}
	p, err := s.profileRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.statusOf(p), nil
}

func (s *PresenceService) OnlineUsers(ctx context.Context) ([]StatusView, error) {
	if s.cache != nil {
		if views, err := s.onlineFromCache(ctx); err == nil && views != nil {
			return views, nil
		} else if err != nil {
			slog.WarnContext(ctx, "presence cache online listing failed", "error", err)
		}
	}
	profiles, err := s.profileRepo.List(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]StatusView, 0, len(profiles))
	for i := range profiles {
		v := s.statusOf(&profiles[i])
		if v.IsOnline {
			views = append(views, *v)
		}
	}
	return views, nil
}

func (s *PresenceService) onlineFromCache(ctx context.Context) ([]StatusView, error) {
	ids, err := s.cache.OnlineIDs(ctx)
	if err != nil {
		return nil, err
	}
	if ids == nil {
		return nil, nil
	}
	views := make([]StatusView, 0, len(ids))
	for _, id := range ids {
		lastSeen, err := s.cache.LastSeen(ctx, id)
		if err != nil {
			return nil, err
		}
		if !s.IsOnline(lastSeen) {
			continue
		}
		view := StatusView{UserID: id, LastSeen: lastSeen, IsOnline: true}
		if p, err := s.profileRepo.GetByID(ctx, id); err == nil {
			view.DisplayName = p.DisplayName
		}
		views = append(views, view)
	}
	return views, nil
}

func (s *PresenceService) statusOf(p *domain.Profile) *StatusView {
	return &StatusView{
		UserID:      p.ID,
		DisplayName: p.DisplayName,
		LastSeen:    p.LastSeen,
		IsOnline:    s.IsOnline(p.LastSeen),
	}
}
