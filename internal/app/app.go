package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/staffhub/presence/internal/config"
	"github.com/staffhub/presence/internal/health"
	"github.com/staffhub/presence/internal/observability"

	"golang.org/x/sync/errgroup"
)

type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Server        *http.Server
	Observability *observability.Runtime
	Readiness     *health.ProbeRunner
}

func New(cfg *config.Config, logger *slog.Logger, server *http.Server, runtime *observability.Runtime, readiness *health.ProbeRunner) *App {
	return &App{Config: cfg, Logger: logger, Server: server, Observability: runtime, Readiness: readiness}
}

// Run serves until ctx is cancelled, then drains in-flight requests and
// shuts the observability runtime down.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info("http server listening", "addr", a.Server.Addr)
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), a.Config.ShutdownHTTPDrainTimeout)
		defer cancel()
		if err := a.Server.Shutdown(drainCtx); err != nil {
			a.Logger.Warn("http drain failed", "error", err)
		}
		obsCtx, cancelObs := context.WithTimeout(context.Background(), a.Config.ShutdownTimeout)
		defer cancelObs()
		if err := a.Observability.Shutdown(obsCtx); err != nil {
			a.Logger.Warn("observability shutdown failed", "error", err)
		}
		return nil
	})

	return g.Wait()
}
