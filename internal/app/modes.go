package app

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/prenews/internal/server"
	"github.com/alanyoungcy/prenews/internal/server/handler"
	"github.com/alanyoungcy/prenews/internal/server/middleware"
	"github.com/alanyoungcy/prenews/internal/server/ws"
)

// WorkerMode runs the job scheduler only.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting worker mode")
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return deps.Scheduler.Run(ctx) })
	return ignoreCanceled(g.Wait())
}

// ServerMode serves the read API, job triggers and the event socket.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return ignoreCanceled(g.Wait())
}

// FullMode runs the scheduler and the HTTP server in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return deps.Scheduler.Run(ctx) })
	a.startHTTPServer(ctx, g, deps)
	return ignoreCanceled(g.Wait())
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	checks := map[string]handler.Pinger{"postgres": deps.Postgres}
	if deps.Redis != nil {
		checks["redis"] = deps.Redis
	}
	if deps.S3 != nil {
		checks["s3"] = pingFunc(deps.S3.Health)
	}

	var (
		hub     *ws.Hub
		history handler.JobHistory
		limiter middleware.Limiter
	)
	if deps.Bus != nil {
		origins := a.cfg.Server.CORSOrigins
		hub = ws.NewHub(deps.Bus, func(origin string) bool {
			return middleware.OriginAllowed(origins, origin)
		}, a.logger)
		history = deps.Bus
		limiter = deps.RateLimiter
		g.Go(func() error { return hub.Run(ctx) })
	}

	srv := server.NewServer(server.Config{
		Addr:        a.cfg.Server.Addr,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, server.Handlers{
		Health:  handler.NewHealthHandler(checks, a.logger),
		Feeds:   handler.NewFeedHandler(deps.FeedService, a.logger),
		Markets: handler.NewMarketHandler(deps.MarketService, a.logger),
		Jobs:    handler.NewJobHandler(ctx, deps.Runner.Names(), deps.Scheduler, history, deps.Audit, a.logger),
	}, hub, limiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// pingFunc adapts a health function to handler.Pinger.
type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
