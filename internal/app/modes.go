package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/marketstate/internal/config"
	"github.com/alanyoungcy/marketstate/internal/crypto"
	"github.com/alanyoungcy/marketstate/internal/server"
	"github.com/alanyoungcy/marketstate/internal/server/handler"
	"github.com/alanyoungcy/marketstate/internal/server/ws"
	"github.com/alanyoungcy/marketstate/internal/service"
)

const (
	shutdownTimeout   = 5 * time.Second
	bridgeInitTimeout = 30 * time.Second
)

// WatchMode tracks the configured markets and logs every merged update.
func (a *App) WatchMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting watch mode")

	g, ctx := errgroup.WithContext(ctx)
	registry := a.startTracking(ctx, g, deps)
	defer registry.Close()

	a.initBridge(ctx, deps)

	return g.Wait()
}

// ServeMode does everything WatchMode does and also serves the HTTP and
// WebSocket API. Markets requested over the API are tracked on demand.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)
	registry := a.startTracking(ctx, g, deps)
	defer registry.Close()

	watcher := service.NewTxWatcher(registry, deps.Journal, a.cfg.Fetch.SettleDelay.Duration, a.logger)
	defer watcher.Close()

	a.initBridge(ctx, deps)

	checks := make(map[string]handler.Check, len(deps.Probes))
	for name, probe := range deps.Probes {
		checks[name] = probe
	}
	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(checks, a.logger),
		Markets: handler.NewMarketHandler(registry, a.logger),
		Quotes:  handler.NewQuoteHandler(service.NewQuoteService(registry, deps.Reader, a.logger), a.logger),
		Tx:      handler.NewTxHandler(watcher, a.logger),
	}
	if deps.Journal != nil {
		handlers.History = handler.NewHistoryHandler(deps.Journal, a.logger)
	}

	// WebSocket hub: needs the signal bus for fan-out.
	var hub *ws.Hub
	if deps.Bus != nil {
		hub = ws.NewHub(deps.Bus, deps.Cache, a.logger)
		g.Go(func() error {
			return hub.Run(ctx)
		})
	} else {
		a.logger.WarnContext(ctx, "redis disabled; /ws endpoint not served")
	}

	srv := server.NewServer(serverConfig(a.cfg.Server), handlers, hub, a.logger)
	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	return g.Wait()
}

// startTracking builds the registry, tracks every configured market and
// logs each tracker's merged updates until ctx is done.
func (a *App) startTracking(ctx context.Context, g *errgroup.Group, deps *Dependencies) *service.Registry {
	registry := service.NewRegistry(ctx, service.TrackerDeps{
		Indexer:  deps.Indexer,
		Reader:   deps.Reader,
		Bus:      deps.Bus,
		Cache:    deps.Cache,
		Journal:  deps.Journal,
		Notifier: deps.Notifier,
		Logger:   a.logger,
	}, trackerConfig(a.cfg.Fetch, deps.Collateral.Decimals))

	for _, addr := range a.cfg.Markets.Addresses {
		tr, err := registry.Track(addr)
		if err != nil {
			a.logger.WarnContext(ctx, "skipping market",
				slog.String("market", addr),
				slog.String("error", err.Error()),
			)
			continue
		}
		views, cancel := tr.Subscribe()
		g.Go(func() error {
			defer cancel()
			return a.logViews(ctx, views)
		})
	}
	return registry
}

// logViews logs every view received until ctx is done or the tracker
// closes the channel.
func (a *App) logViews(ctx context.Context, views <-chan service.View) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case v, ok := <-views:
			if !ok {
				return nil
			}
			attrs := []any{
				slog.String("market", v.Address),
				slog.Uint64("version", v.Version),
				slog.Bool("stale", v.Stale),
			}
			if v.Snapshot != nil {
				attrs = append(attrs,
					slog.String("state", string(v.Snapshot.State)),
					slog.String("total_liquidity", v.Snapshot.TotalLiquidity),
					slog.Any("option_liquidity", v.Snapshot.OptionLiquidity),
					slog.String("source", string(v.Snapshot.Source)),
				)
			}
			if v.Err != nil {
				attrs = append(attrs,
					slog.String("error_kind", string(v.ErrorKind)),
					slog.String("error", v.Err.Error()),
				)
				a.logger.WarnContext(ctx, "market fetch failed", attrs...)
				continue
			}
			a.logger.InfoContext(ctx, "market updated", attrs...)
		}
	}
}

// initBridge opens the bridge session when one is configured. Failure is
// logged; the health probe keeps reporting it until a restart.
func (a *App) initBridge(ctx context.Context, deps *Dependencies) {
	if deps.Bridge == nil {
		return
	}
	initCtx, cancel := context.WithTimeout(ctx, bridgeInitTimeout)
	defer cancel()

	s, err := deps.Bridge.Initialize(initCtx, crypto.KeyConfig{
		RawPrivateKey:    a.cfg.Bridge.PrivateKey,
		EncryptedKeyPath: a.cfg.Bridge.EncryptedKeyPath,
		KeyPassword:      a.cfg.Bridge.KeyPassword,
	})
	if err != nil {
		a.logger.WarnContext(ctx, "bridge session unavailable", slog.String("error", err.Error()))
		return
	}
	a.logger.InfoContext(ctx, "bridge session ready",
		slog.String("wallet", s.Authorization.Wallet),
		slog.Time("expires_at", s.Authorization.ExpiresAt),
	)
}

func trackerConfig(cfg config.FetchConfig, decimals uint8) service.TrackerConfig {
	return service.TrackerConfig{
		Decimals:          decimals,
		RetryCount:        cfg.RetryCount,
		RetryDelay:        cfg.RetryDelay.Duration,
		MaxDepth:          cfg.MaxDepth,
		RefreshInterval:   cfg.RefreshInterval.Duration,
		VisibilityIdle:    cfg.VisibilityIdle.Duration,
		LiquidityInterval: cfg.LiquidityInterval.Duration,
	}
}

func serverConfig(cfg config.ServerConfig) server.Config {
	return server.Config{
		Port:        cfg.Port,
		CORSOrigins: cfg.CORSOrigins,
		APIKey:      cfg.APIKey,
		RatePerSec:  cfg.RatePerSec,
		RateBurst:   cfg.RateBurst,
	}
}
