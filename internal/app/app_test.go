package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketstate/internal/config"
	"github.com/alanyoungcy/marketstate/internal/domain"
	"github.com/alanyoungcy/marketstate/internal/service"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTrackerConfig(t *testing.T) {
	cfg := config.Defaults()
	tc := trackerConfig(cfg.Fetch, domain.DecimalsUSDC)

	assert.Equal(t, domain.DecimalsUSDC, tc.Decimals)
	assert.Equal(t, 3, tc.RetryCount)
	assert.Equal(t, time.Second, tc.RetryDelay)
	assert.Equal(t, 5, tc.MaxDepth)
	assert.Equal(t, 2*time.Minute, tc.RefreshInterval)
	assert.Equal(t, 15*time.Second, tc.LiquidityInterval)
	assert.Equal(t, 30*time.Second, tc.VisibilityIdle)
}

func TestServerConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Server.APIKey = "k"
	sc := serverConfig(cfg.Server)

	assert.Equal(t, 8000, sc.Port)
	assert.Equal(t, "k", sc.APIKey)
	assert.Equal(t, cfg.Server.CORSOrigins, sc.CORSOrigins)
	assert.InDelta(t, 20.0, sc.RatePerSec, 1e-9)
	assert.Equal(t, 40, sc.RateBurst)
}

func TestNotifySenders(t *testing.T) {
	assert.Empty(t, notifySenders(config.NotifyConfig{TelegramToken: "only-token"}))

	senders := notifySenders(config.NotifyConfig{
		TelegramToken:     "tok",
		TelegramChatID:    "42",
		TelegramAPIBase:   "https://api.telegram.org",
		DiscordWebhookURL: "https://discord.example/hook",
	})
	require.Len(t, senders, 2)
	assert.Equal(t, "telegram", senders[0].Name())
	assert.Equal(t, "discord", senders[1].Name())
}

func TestRun_RejectsUnknownMode(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = "trade"
	err := New(&cfg, discard()).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unsupported mode "trade"`)
}

func TestLogViews_StopsWhenChannelCloses(t *testing.T) {
	a := New(&config.Config{}, discard())
	views := make(chan service.View, 2)
	views <- service.View{Address: "0x5fbdb2315678afecb367f032d93f642f64180aa3", Version: 1,
		Snapshot: &domain.MarketSnapshot{TotalLiquidity: "10"}}
	views <- service.View{Address: "0x5fbdb2315678afecb367f032d93f642f64180aa3",
		Err: &domain.FetchError{Kind: domain.KindSource, Op: "fetch", Err: domain.ErrNotFound}}
	close(views)

	assert.NoError(t, a.logViews(context.Background(), views))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, a.logViews(ctx, make(chan service.View)), context.Canceled)
}
