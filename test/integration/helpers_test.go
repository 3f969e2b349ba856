package integration

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/staffhub/presence/internal/domain"
	"github.com/staffhub/presence/internal/http/handler"
	"github.com/staffhub/presence/internal/http/router"
	"github.com/staffhub/presence/internal/repository"
	"github.com/staffhub/presence/internal/security"
	"github.com/staffhub/presence/internal/service"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testServer struct {
	baseURL string
	repo    repository.ProfileRepository
	authSvc *service.AuthService
	closeFn func()
}

func newPresenceTestServer(t *testing.T) *testServer {
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

	repo := repository.NewProfileRepository(db)
	jwtMgr := security.NewJWTManager("staffhub-presence", "staffhub", "0123456789abcdef0123456789abcdef")
	presenceSvc := service.NewPresenceService(repo, nil, 2*time.Minute)
	authSvc := service.NewAuthService(repo, jwtMgr, time.Hour)

	h := router.NewRouter(router.Dependencies{
		AuthHandler:      handler.NewAuthHandler(authSvc, presenceSvc, false),
		PresenceHandler:  handler.NewPresenceHandler(presenceSvc),
		SessionHandler:   handler.NewSessionHandler(presenceSvc),
		JWTManager:       jwtMgr,
		AuthRateLimitRPM: 1000,
		APIRateLimitRPM:  10000,
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	return &testServer{
		baseURL: srv.URL,
		repo:    repo,
		authSvc: authSvc,
		closeFn: srv.Close,
	}
}

func (s *testServer) register(t *testing.T, email, password string) *domain.Profile {
	t.Helper()
	p, err := s.authSvc.Register(context.Background(), email, "Integration User", "staff", password)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return p
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}
