package repository

import (
	"context"
	"errors"
	"time"

	"github.com/staffhub/presence/internal/domain"
	"github.com/staffhub/presence/internal/observability"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrProfileNotFound = errors.New("profile not found")

type ProfileRepository interface {
	Create(ctx context.Context, p *domain.Profile) error
	GetByID(ctx context.Context, id string) (*domain.Profile, error)
	GetByEmail(ctx context.Context, email string) (*domain.Profile, error)
	List(ctx context.Context) ([]domain.Profile, error)
	Update(ctx context.Context, id string, fields map[string]any) error
	ClaimSession(ctx context.Context, id, deviceID string) error
	Heartbeat(ctx context.Context, id string, at time.Time) error
	ClearPresence(ctx context.Context, id string) error
}

type GormProfileRepository struct{ db *gorm.DB }

func NewProfileRepository(db *gorm.DB) ProfileRepository { return &GormProfileRepository{db: db} }

func (r *GormProfileRepository) Create(ctx context.Context, p *domain.Profile) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	err := r.db.WithContext(ctx).Create(p).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "profile", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "profile", "create", "success")
	return nil
}

func (r *GormProfileRepository) GetByID(ctx context.Context, id string) (*domain.Profile, error) {
	var p domain.Profile
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "profile", "get_by_id", "not_found")
			return nil, ErrProfileNotFound
		}
		observability.RecordRepositoryOperation(ctx, "profile", "get_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "profile", "get_by_id", "success")
	return &p, nil
}

func (r *GormProfileRepository) GetByEmail(ctx context.Context, email string) (*domain.Profile, error) {
	var p domain.Profile
	err := r.db.WithContext(ctx).Where("email = ?", email).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "profile", "get_by_email", "not_found")
			return nil, ErrProfileNotFound
		}
		observability.RecordRepositoryOperation(ctx, "profile", "get_by_email", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "profile", "get_by_email", "success")
	return &p, nil
}

func (r *GormProfileRepository) List(ctx context.Context) ([]domain.Profile, error) {
	var profiles []domain.Profile
	err := r.db.WithContext(ctx).Order("display_name ASC").Find(&profiles).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "profile", "list", "error")
		return profiles, err
	}
	observability.RecordRepositoryOperation(ctx, "profile", "list", "success")
	return profiles, nil
}

func (r *GormProfileRepository) Update(ctx context.Context, id string, fields map[string]any) error {
	res := r.db.WithContext(ctx).Model(&domain.Profile{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "profile", "update", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "profile", "update", "not_found")
		return ErrProfileNotFound
	}
	observability.RecordRepositoryOperation(ctx, "profile", "update", "success")
	return nil
}

// ClaimSession overwrites active_session_id unconditionally. Last write wins:
// two concurrent logins race, and a slower first write can land after the
// second and hold authority until the loser's next poll. Known gap, kept.
func (r *GormProfileRepository) ClaimSession(ctx context.Context, id, deviceID string) error {
	err := r.Update(ctx, id, map[string]any{domain.FieldActiveSessionID: deviceID})
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "profile", "claim_session", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "profile", "claim_session", "success")
	return nil
}

func (r *GormProfileRepository) Heartbeat(ctx context.Context, id string, at time.Time) error {
	err := r.Update(ctx, id, map[string]any{domain.FieldLastSeen: at.UTC()})
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "profile", "heartbeat", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "profile", "heartbeat", "success")
	return nil
}

func (r *GormProfileRepository) ClearPresence(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Model(&domain.Profile{}).Where("id = ?", id).
		Updates(map[string]any{domain.FieldActiveSessionID: nil, domain.FieldLastSeen: nil})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "profile", "clear_presence", "error")
		return res.Error
	}
	observability.RecordRepositoryOperation(ctx, "profile", "clear_presence", "success")
	return nil
}
