package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/iqsession/internal/server"
	"github.com/alanyoungcy/iqsession/internal/server/handler"
	"github.com/alanyoungcy/iqsession/internal/server/ws"
	"github.com/alanyoungcy/iqsession/internal/service"
)

const (
	maintenanceInterval = time.Minute
	statusPushInterval  = 5 * time.Second
)

// SessionMode runs the broker session with its background workers and no
// HTTP surface.
func (a *App) SessionMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting session mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startWorkers(ctx, g, deps)
	a.startSession(ctx, g, deps)
	return g.Wait()
}

// FullMode runs the session, its workers and, when enabled, the HTTP API with
// the websocket event hub.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	if a.cfg.Server.Enabled {
		// Hub hooks must be registered before the first frame arrives.
		a.startHTTPServer(ctx, g, deps)
	} else {
		a.logger.InfoContext(ctx, "HTTP server disabled")
	}
	a.startWorkers(ctx, g, deps)
	a.startSession(ctx, g, deps)
	return g.Wait()
}

// startSession logs in, runs the channel and returns when it closes. A
// channel that fails ends the group with ErrSessionClosed.
func (a *App) startSession(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	g.Go(func() error {
		if err := deps.Session.Start(ctx, deps.Router); err != nil {
			return fmt.Errorf("app: start session: %w", err)
		}
		defer func() {
			if err := deps.Session.Stop(); err != nil {
				a.logger.Warn("session stop failed", slog.String("error", err.Error()))
			}
		}()

		a.logger.InfoContext(ctx, "session established",
			slog.String("account", string(deps.Session.Profile().ActiveAccount)),
		)
		return deps.Session.Wait(ctx)
	})
}

// startWorkers launches the journal, throttle maintenance and the optional
// tick mirror and archive loops.
func (a *App) startWorkers(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	g.Go(func() error {
		return deps.Journal.Run(ctx)
	})
	g.Go(func() error {
		return deps.Trading.RunMaintenance(ctx, maintenanceInterval)
	})

	if deps.Mirror != nil {
		g.Go(func() error {
			return deps.Mirror.Run(ctx)
		})
	}

	if deps.Archive != nil {
		interval := a.cfg.S3.ArchiveInterval.Duration
		a.logger.InfoContext(ctx, "position archive enabled", slog.Duration("interval", interval))
		g.Go(func() error {
			return deps.Archive.Run(ctx, interval)
		})
	}
}

// startHTTPServer registers the API routes and the websocket hub and serves
// until ctx is done.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(deps.Trading, a.base)
	deps.Router.OnTick(hub.PublishTick)
	deps.Stores.Positions.OnTransition(hub.PublishTransition)

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(deps.HealthChecks(), a.base),
		Status: handler.NewStatusHandler(deps.Trading),
	}

	var history handler.PositionHistory
	if deps.Snapshots != nil {
		history = deps.Snapshots
	}
	handlers.Positions = handler.NewPositionHandler(deps.Trading, history, a.base)

	var mirror handler.TickReader
	if deps.TickCache != nil {
		mirror = deps.TickCache
	}
	handlers.Market = handler.NewMarketHandler(deps.Trading, mirror, a.base)

	if deps.Archive != nil {
		handlers.Archives = handler.NewArchiveHandler(deps.Archive, a.base)
	}

	if deps.SignalBus != nil || deps.AuditStore != nil {
		var stream handler.StreamReader
		if deps.SignalBus != nil {
			stream = deps.SignalBus
		}
		var audit handler.AuditLister
		if deps.AuditStore != nil {
			audit = deps.AuditStore
		}
		handlers.Events = handler.NewEventHandler(stream, service.TransitionStream, audit, a.base)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, handlers, hub, a.base)

	g.Go(func() error {
		return hub.Run(ctx)
	})
	g.Go(func() error {
		ticker := time.NewTicker(statusPushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				hub.PublishStatus(deps.Trading.Status())
			}
		}
	})
	g.Go(func() error {
		return srv.Run(ctx)
	})
}
