package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/staffhub/presence/internal/app"
	"github.com/staffhub/presence/internal/client"
	"github.com/staffhub/presence/internal/config"
	"github.com/staffhub/presence/internal/domain"
	"github.com/staffhub/presence/internal/guard"
	"github.com/staffhub/presence/internal/health"
	"github.com/staffhub/presence/internal/http/handler"
	"github.com/staffhub/presence/internal/http/router"
	"github.com/staffhub/presence/internal/observability"
	"github.com/staffhub/presence/internal/repository"
	"github.com/staffhub/presence/internal/security"
	"github.com/staffhub/presence/internal/service"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "presence",
		Short:        "Session exclusivity and presence service for the staff hub",
		SilenceUsage: true,
	}
	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newAgentCommand())
	cmd.AddCommand(newUserAddCommand())
	return cmd
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server owning the profile store",
		RunE: func(cmd *cobra.Command, args []string) error {
			slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
			logger := slog.Default()

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			runtime, err := observability.InitRuntime(ctx, cfg, logger)
			if err != nil {
				return err
			}

			db, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			if err := db.AutoMigrate(&domain.Profile{}); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}

			var redisClient redis.UniversalClient
			if cfg.RedisAddr != "" {
				redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
			}

			profileRepo := repository.NewProfileRepository(db)
			jwtMgr := security.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTSecret)
			cache := service.NewRedisPresenceCache(redisClient, "presence", cfg.OnlineThreshold)
			presenceSvc := service.NewPresenceService(profileRepo, cache, cfg.OnlineThreshold)
			authSvc := service.NewAuthService(profileRepo, jwtMgr, cfg.SessionTTL)

			readiness := health.NewProbeRunner(2*time.Second,
				health.CheckerFunc(func(ctx context.Context) health.CheckResult {
					sqlDB, err := db.DB()
					if err == nil {
						err = sqlDB.PingContext(ctx)
					}
					res := health.CheckResult{Name: "database", Healthy: err == nil}
					if err != nil {
						res.Error = err.Error()
					}
					return res
				}),
			)

			h := router.NewRouter(router.Dependencies{
				AuthHandler:      handler.NewAuthHandler(authSvc, presenceSvc, cfg.CookieSecure),
				PresenceHandler:  handler.NewPresenceHandler(presenceSvc),
				SessionHandler:   handler.NewSessionHandler(presenceSvc),
				JWTManager:       jwtMgr,
				CORSOrigins:      cfg.CORSOrigins,
				AuthRateLimitRPM: cfg.AuthRateLimitRPM,
				APIRateLimitRPM:  cfg.APIRateLimitRPM,
				Readiness:        readiness,
				EnableOTelHTTP:   cfg.OTELMetricsEnabled,
			})

			server := &http.Server{
				Addr:              cfg.HTTPAddr,
				Handler:           h,
				ReadHeaderTimeout: 5 * time.Second,
			}
			return app.New(cfg, logger, server, runtime, readiness).Run(ctx)
		},
	}
}

func newAgentCommand() *cobra.Command {
	var (
		baseURL   string
		email     string
		password  string
		stateFile string
	)
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Run the device-side session guard and heartbeat against a server",
		RunE: func(cmd *cobra.Command, args []string) error {
			slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))
			logger := slog.Default()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if stateFile == "" {
				home, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				stateFile = filepath.Join(home, ".staffhub", "device_id")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			c, err := client.New(baseURL)
			if err != nil {
				return err
			}

			devices := guard.NewDeviceStore(stateFile)
			notifier := terminalNotifier{logger: logger, cancel: stop}
			g := guard.New(c, c, devices, notifier, guard.Config{
				PollInterval: cfg.GuardPollInterval,
				Hostname:     cfg.Hostname,
				DevHostnames: cfg.DevHostnames,
				Logger:       logger,
			})
			hb := guard.NewHeartbeat(c, c, guard.AlwaysVisible(), cfg.HeartbeatInterval, logger)
			beacon := guard.NewOfflineBeacon(c.BeaconURL(), c.HTTPClient(), logger)

			g.Start(ctx)
			defer g.Close()

			if err := c.Login(ctx, email, password); err != nil {
				return err
			}
			hb.Start(ctx)
			defer hb.Close()

			logger.Info("agent running", "server", baseURL)
			<-ctx.Done()

			// Unload-time cleanup: best effort, never blocks exit.
			beacon.Send(context.Background())
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "base-url", "http://localhost:8080", "server base URL")
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.Flags().StringVar(&stateFile, "state-file", "", "device identity state file")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newUserAddCommand() *cobra.Command {
	var (
		email       string
		displayName string
		role        string
		password    string
	)
	cmd := &cobra.Command{
		Use:   "useradd",
		Short: "Provision a profile in the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			db, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			if err := db.AutoMigrate(&domain.Profile{}); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			jwtMgr := security.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTSecret)
			authSvc := service.NewAuthService(repository.NewProfileRepository(db), jwtMgr, cfg.SessionTTL)
			p, err := authSvc.Register(cmd.Context(), email, displayName, role, password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), p.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&displayName, "name", "", "display name")
	cmd.Flags().StringVar(&role, "role", "staff", "role")
	cmd.Flags().StringVar(&password, "password", "", "password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

type terminalNotifier struct {
	logger *slog.Logger
	cancel context.CancelFunc
}

func (n terminalNotifier) Notice(message string) {
	fmt.Fprintln(os.Stderr, message)
}

func (n terminalNotifier) NavigateToLogin() {
	n.logger.Warn("session evicted, shutting agent down")
	n.cancel()
}

func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	gormCfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)}
	if cfg.DatabaseURL != "" {
		return gorm.Open(postgres.Open(cfg.DatabaseURL), gormCfg)
	}
	return gorm.Open(sqlite.Open("presence.db"), gormCfg)
}
