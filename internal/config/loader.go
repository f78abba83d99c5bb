package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path (skipped when path is empty),
// merges it on top of the built-in defaults, applies MARKETSTATE_*
// environment variable overrides, and returns the final Config. The returned
// Config has NOT been validated; the caller should invoke Config.Validate()
// after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known MARKETSTATE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Indexer ──
	setStr(&cfg.Indexer.URL, "MARKETSTATE_INDEXER_URL")
	setStr(&cfg.Indexer.APIKey, "MARKETSTATE_INDEXER_API_KEY")
	setFloat64(&cfg.Indexer.RatePerSec, "MARKETSTATE_INDEXER_RATE_PER_SEC")
	setDuration(&cfg.Indexer.Timeout, "MARKETSTATE_INDEXER_TIMEOUT")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "MARKETSTATE_CHAIN_RPC_URL")
	setStr(&cfg.Chain.Factory, "MARKETSTATE_CHAIN_FACTORY")
	setInt(&cfg.Chain.Decimals, "MARKETSTATE_CHAIN_DECIMALS")
	setDuration(&cfg.Chain.Timeout, "MARKETSTATE_CHAIN_TIMEOUT")

	// ── Fetch ──
	setInt(&cfg.Fetch.RetryCount, "MARKETSTATE_FETCH_RETRY_COUNT")
	setDuration(&cfg.Fetch.RetryDelay, "MARKETSTATE_FETCH_RETRY_DELAY")
	setInt(&cfg.Fetch.MaxDepth, "MARKETSTATE_FETCH_MAX_DEPTH")
	setDuration(&cfg.Fetch.RefreshInterval, "MARKETSTATE_FETCH_REFRESH_INTERVAL")
	setDuration(&cfg.Fetch.LiquidityInterval, "MARKETSTATE_FETCH_LIQUIDITY_INTERVAL")
	setDuration(&cfg.Fetch.VisibilityIdle, "MARKETSTATE_FETCH_VISIBILITY_IDLE")
	setDuration(&cfg.Fetch.SettleDelay, "MARKETSTATE_FETCH_SETTLE_DELAY")

	// ── Markets ──
	setStringSlice(&cfg.Markets.Addresses, "MARKETSTATE_MARKETS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "MARKETSTATE_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "MARKETSTATE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MARKETSTATE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MARKETSTATE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "MARKETSTATE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "MARKETSTATE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "MARKETSTATE_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "MARKETSTATE_REDIS_KEY_PREFIX")
	setDuration(&cfg.Redis.SnapshotTTL, "MARKETSTATE_REDIS_SNAPSHOT_TTL")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "MARKETSTATE_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.DSN, "MARKETSTATE_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "MARKETSTATE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "MARKETSTATE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "MARKETSTATE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "MARKETSTATE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "MARKETSTATE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "MARKETSTATE_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "MARKETSTATE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "MARKETSTATE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "MARKETSTATE_POSTGRES_RUN_MIGRATIONS")

	// ── Server ──
	setInt(&cfg.Server.Port, "MARKETSTATE_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "MARKETSTATE_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "MARKETSTATE_SERVER_CORS_ORIGINS")
	setFloat64(&cfg.Server.RatePerSec, "MARKETSTATE_SERVER_RATE_PER_SEC")
	setInt(&cfg.Server.RateBurst, "MARKETSTATE_SERVER_RATE_BURST")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "MARKETSTATE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "MARKETSTATE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.TelegramAPIBase, "MARKETSTATE_NOTIFY_TELEGRAM_API_BASE")
	setStr(&cfg.Notify.DiscordWebhookURL, "MARKETSTATE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "MARKETSTATE_NOTIFY_EVENTS")

	// ── Bridge ──
	setBool(&cfg.Bridge.Enabled, "MARKETSTATE_BRIDGE_ENABLED")
	setStr(&cfg.Bridge.URL, "MARKETSTATE_BRIDGE_URL")
	setStr(&cfg.Bridge.PrivateKey, "MARKETSTATE_BRIDGE_PRIVATE_KEY")
	setStr(&cfg.Bridge.EncryptedKeyPath, "MARKETSTATE_BRIDGE_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Bridge.KeyPassword, "MARKETSTATE_BRIDGE_KEY_PASSWORD")
	setDuration(&cfg.Bridge.SessionTTL, "MARKETSTATE_BRIDGE_SESSION_TTL")

	// ── Top-level ──
	setStr(&cfg.Mode, "MARKETSTATE_MODE")
	setStr(&cfg.LogLevel, "MARKETSTATE_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
