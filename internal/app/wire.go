package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/marketstate/internal/bridge"
	"github.com/alanyoungcy/marketstate/internal/cache/redis"
	"github.com/alanyoungcy/marketstate/internal/config"
	"github.com/alanyoungcy/marketstate/internal/domain"
	"github.com/alanyoungcy/marketstate/internal/notify"
	"github.com/alanyoungcy/marketstate/internal/platform/chain"
	"github.com/alanyoungcy/marketstate/internal/platform/indexer"
	"github.com/alanyoungcy/marketstate/internal/store/postgres"
)

// collateralTimeout bounds the startup read of the collateral token.
const collateralTimeout = 30 * time.Second

// Dependencies bundles every dependency that the application modes need to
// operate. Optional parts (cache, bus, journal, bridge) are nil when their
// config section is disabled. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Sources
	Indexer    *indexer.Client
	Reader     *chain.Reader
	Collateral domain.Collateral

	// Fan-out and persistence
	Cache   domain.SnapshotCache
	Bus     domain.SignalBus
	Journal domain.Journal

	// Side channels
	Notifier *notify.Notifier
	Bridge   *bridge.Manager

	// Probes reports the health of each connected backend by name.
	Probes map[string]func(context.Context) error
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Probes: make(map[string]func(context.Context) error)}

	// --- Chain reader ---
	rpcClient, err := chain.Dial(ctx, cfg.Chain.RPCURL, cfg.Chain.Timeout.Duration)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: chain: %w", err)
	}
	closers = append(closers, rpcClient.Close)
	deps.Reader = chain.NewReader(rpcClient, chain.Config{
		Factory:  cfg.Chain.Factory,
		Decimals: uint8(cfg.Chain.Decimals),
	}, logger)

	// Every amount carries the collateral precision, so it is resolved
	// before anything is fetched.
	collCtx, cancel := context.WithTimeout(ctx, collateralTimeout)
	deps.Collateral, err = deps.Reader.ReadCollateral(collCtx)
	cancel()
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: collateral: %w", err)
	}
	deps.Probes["chain"] = func(ctx context.Context) error {
		_, err := deps.Reader.ReadBalance(ctx, deps.Collateral, deps.Collateral.Token)
		return err
	}

	// --- Indexer ---
	deps.Indexer = indexer.NewClient(indexer.Config{
		URL:        cfg.Indexer.URL,
		APIKey:     cfg.Indexer.APIKey,
		RatePerSec: cfg.Indexer.RatePerSec,
		Timeout:    cfg.Indexer.Timeout.Duration,
		Decimals:   deps.Collateral.Decimals,
	})
	deps.Probes["indexer"] = func(ctx context.Context) error {
		_, err := deps.Indexer.FetchLatestBlock(ctx)
		return err
	}

	// --- Redis (snapshot cache and signal bus) ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Cache = redis.NewSnapshotCache(redisClient, cfg.Redis.SnapshotTTL.Duration)
		deps.Bus = redis.NewSignalBus(redisClient)
		deps.Probes["redis"] = redisClient.Ping
	}

	// --- PostgreSQL (lifecycle journal) ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		// Run migrations if enabled.
		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		deps.Journal = postgres.NewJournalStore(pgClient.Pool())
		deps.Probes["postgres"] = pgClient.Ping
	}

	// --- Notifications ---
	deps.Notifier = notify.NewNotifier(notifySenders(cfg.Notify), cfg.Notify.Events, logger)

	// --- Bridge session ---
	if cfg.Bridge.Enabled {
		m := bridge.NewManager(bridge.WSConnector{URL: cfg.Bridge.URL}, cfg.Bridge.SessionTTL.Duration, logger)
		deps.Bridge = m
		closers = append(closers, func() {
			if err := m.Teardown(); err != nil {
				logger.Warn("bridge teardown failed", slog.String("error", err.Error()))
			}
		})
		deps.Probes["bridge"] = func(context.Context) error {
			_, err := m.Client()
			return err
		}
	}

	return deps, cleanup, nil
}

// notifySenders builds a sender for every configured alert channel.
func notifySenders(cfg config.NotifyConfig) []notify.Sender {
	var senders []notify.Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.TelegramAPIBase,
			cfg.TelegramToken,
			cfg.TelegramChatID,
		))
	}
	if cfg.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.DiscordWebhookURL))
	}
	return senders
}
