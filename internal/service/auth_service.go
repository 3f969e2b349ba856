package service

import (
	"context"
	"errors"
	"time"

	"github.com/staffhub/presence/internal/domain"
	"github.com/staffhub/presence/internal/observability"
	"github.com/staffhub/presence/internal/repository"
	"github.com/staffhub/presence/internal/security"

	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

type AuthService struct {
	profileRepo repository.ProfileRepository
	jwtMgr      *security.JWTManager
	sessionTTL  time.Duration
}

func NewAuthService(profileRepo repository.ProfileRepository, jwtMgr *security.JWTManager, sessionTTL time.Duration) *AuthService {
	return &AuthService{profileRepo: profileRepo, jwtMgr: jwtMgr, sessionTTL: sessionTTL}
}

func (s *AuthService) Login(ctx context.Context, email, password string) (*domain.Profile, string, error) {
	p, err := s.profileRepo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrProfileNotFound) {
			observability.RecordAuthLogin("unknown_user")
			return nil, "", ErrInvalidCredentials
		}
		observability.RecordAuthLogin("error")
		return nil, "", err
	}
	if bcrypt.CompareHashAndPassword([]byte(p.PasswordHash), []byte(password)) != nil {
		observability.RecordAuthLogin("bad_password")
		return nil, "", ErrInvalidCredentials
	}
	token, err := s.jwtMgr.SignSessionToken(p.ID, p.Role, s.sessionTTL)
	if err != nil {
		observability.RecordAuthLogin("error")
		return nil, "", err
	}
	observability.RecordAuthLogin("success")
	return p, token, nil
}

func (s *AuthService) Register(ctx context.Context, email, displayName, role, password string) (*domain.Profile, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	p := &domain.Profile{
		Email:        email,
		DisplayName:  displayName,
		Role:         role,
		PasswordHash: string(hash),
	}
	if err := s.profileRepo.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *AuthService) SessionTTL() time.Duration { return s.sessionTTL }
