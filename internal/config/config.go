// Package config defines the top-level configuration for the marketstate
// daemon and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by MARKETSTATE_* environment variables.
type Config struct {
	Indexer  IndexerConfig  `toml:"indexer"`
	Chain    ChainConfig    `toml:"chain"`
	Fetch    FetchConfig    `toml:"fetch"`
	Markets  MarketsConfig  `toml:"markets"`
	Redis    RedisConfig    `toml:"redis"`
	Postgres PostgresConfig `toml:"postgres"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Bridge   BridgeConfig   `toml:"bridge"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// IndexerConfig points at the GraphQL subgraph that indexes market events.
type IndexerConfig struct {
	URL        string   `toml:"url"`
	APIKey     string   `toml:"api_key"`
	RatePerSec float64  `toml:"rate_per_sec"`
	Timeout    duration `toml:"timeout"`
}

// ChainConfig holds the JSON-RPC endpoint and contract addresses.
type ChainConfig struct {
	RPCURL  string `toml:"rpc_url"`
	Factory string `toml:"factory"`
	// Decimals overrides the collateral token's decimals() when non-zero.
	Decimals int      `toml:"decimals"`
	Timeout  duration `toml:"timeout"`
}

// FetchConfig is the retry, loop-guard and refresh policy of every tracker.
type FetchConfig struct {
	RetryCount        int      `toml:"retry_count"`
	RetryDelay        duration `toml:"retry_delay"`
	MaxDepth          int      `toml:"max_depth"`
	RefreshInterval   duration `toml:"refresh_interval"`
	LiquidityInterval duration `toml:"liquidity_interval"`
	VisibilityIdle    duration `toml:"visibility_idle"`
	// SettleDelay is the wait between a confirmed transaction and the
	// refetch it triggers.
	SettleDelay duration `toml:"settle_delay"`
}

// MarketsConfig lists the markets tracked from startup.
type MarketsConfig struct {
	Addresses []string `toml:"addresses"`
}

// RedisConfig holds Redis connection parameters. Without Redis the daemon
// runs with no snapshot cache and no cross-process fan-out.
type RedisConfig struct {
	Enabled     bool     `toml:"enabled"`
	Addr        string   `toml:"addr"`
	Password    string   `toml:"password"`
	DB          int      `toml:"db"`
	PoolSize    int      `toml:"pool_size"`
	MaxRetries  int      `toml:"max_retries"`
	TLSEnabled  bool     `toml:"tls_enabled"`
	KeyPrefix   string   `toml:"key_prefix"`
	SnapshotTTL duration `toml:"snapshot_ttl"`
}

// PostgresConfig holds the lifecycle journal's connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds the HTTP/WebSocket API settings.
type ServerConfig struct {
	Port int `toml:"port"`
	// APIKey, when set, is required on every /api route except health.
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	// RatePerSec limits requests per client IP. Zero disables limiting.
	RatePerSec float64 `toml:"rate_per_sec"`
	RateBurst  int     `toml:"rate_burst"`
}

// NotifyConfig holds alert channel credentials and the event filter.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	TelegramAPIBase   string   `toml:"telegram_api_base"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// BridgeConfig holds the wallet key and endpoint of the bridge session.
type BridgeConfig struct {
	Enabled          bool     `toml:"enabled"`
	URL              string   `toml:"url"`
	PrivateKey       string   `toml:"private_key"`
	EncryptedKeyPath string   `toml:"encrypted_key_path"`
	KeyPassword      string   `toml:"key_password"`
	SessionTTL       duration `toml:"session_ttl"`
}

// Defaults returns a Config populated with sensible defaults.
func Defaults() Config {
	return Config{
		Indexer: IndexerConfig{
			RatePerSec: 10,
			Timeout:    duration{30 * time.Second},
		},
		Chain: ChainConfig{
			Timeout: duration{15 * time.Second},
		},
		Fetch: FetchConfig{
			RetryCount:        3,
			RetryDelay:        duration{time.Second},
			MaxDepth:          5,
			RefreshInterval:   duration{2 * time.Minute},
			LiquidityInterval: duration{15 * time.Second},
			VisibilityIdle:    duration{30 * time.Second},
			SettleDelay:       duration{2 * time.Second},
		},
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			PoolSize:    20,
			MaxRetries:  3,
			KeyPrefix:   "marketstate:",
			SnapshotTTL: duration{24 * time.Hour},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "marketstate",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RatePerSec:  20,
			RateBurst:   40,
		},
		Notify: NotifyConfig{
			TelegramAPIBase: "https://api.telegram.org",
			Events:          []string{"market_resolved", "fetch_exhausted"},
		},
		Bridge: BridgeConfig{
			SessionTTL: duration{24 * time.Hour},
		},
		Mode:     "watch",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"watch": true,
	"serve": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: watch, serve)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Indexer and chain
	if c.Indexer.URL == "" {
		errs = append(errs, "indexer: url must not be empty")
	}
	if c.Chain.RPCURL == "" {
		errs = append(errs, "chain: rpc_url must not be empty")
	}
	if !common.IsHexAddress(c.Chain.Factory) {
		errs = append(errs, fmt.Sprintf("chain: factory %q is not an address", c.Chain.Factory))
	}
	if c.Chain.Decimals < 0 || c.Chain.Decimals > 36 {
		errs = append(errs, fmt.Sprintf("chain: decimals must be 0-36, got %d", c.Chain.Decimals))
	}

	// Fetch
	if c.Fetch.MaxDepth < 1 {
		errs = append(errs, "fetch: max_depth must be >= 1")
	}
	if c.Fetch.RefreshInterval.Duration <= 0 || c.Fetch.LiquidityInterval.Duration <= 0 {
		errs = append(errs, "fetch: refresh_interval and liquidity_interval must be > 0")
	}
	if c.Fetch.RetryDelay.Duration <= 0 {
		errs = append(errs, "fetch: retry_delay must be > 0")
	}

	// Markets
	for _, m := range c.Markets.Addresses {
		if !common.IsHexAddress(m) {
			errs = append(errs, fmt.Sprintf("markets: %q is not an address", m))
		}
	}
	if c.Mode == "watch" && len(c.Markets.Addresses) == 0 {
		errs = append(errs, "markets: watch mode needs at least one address")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Server
	if c.Mode == "serve" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	// Bridge
	if c.Bridge.Enabled {
		if c.Bridge.URL == "" {
			errs = append(errs, "bridge: url must not be empty when enabled")
		}
		if c.Bridge.PrivateKey == "" && c.Bridge.EncryptedKeyPath == "" {
			errs = append(errs, "bridge: either private_key or encrypted_key_path must be set")
		}
		if c.Bridge.EncryptedKeyPath != "" && c.Bridge.KeyPassword == "" {
			errs = append(errs, "bridge: key_password is required when encrypted_key_path is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
