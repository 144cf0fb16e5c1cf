package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges an optional TOML file at path on top of the built-in defaults,
// loads .env if present, applies LOBBYIST_* environment overrides, and returns
// the final Config. An empty path skips the file. The returned Config has NOT
// been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides overwrites Config fields from LOBBYIST_* variables that are set.
func applyEnvOverrides(cfg *Config) {
	// ── Program ──
	setStr(&cfg.Program.ID, "LOBBYIST_PROGRAM_ID")
	setStr(&cfg.Program.Variant, "LOBBYIST_PROGRAM_VARIANT")
	setStr(&cfg.Program.AmmProgram, "LOBBYIST_AMM_PROGRAM")
	setInt(&cfg.Program.OracleOffset, "LOBBYIST_ORACLE_OFFSET")
	setStr(&cfg.Program.VaultAuthority, "LOBBYIST_VAULT_AUTHORITY")
	setInt(&cfg.Program.PriceDecimals, "LOBBYIST_PRICE_DECIMALS")
	setInt64(&cfg.Program.MaxAttestAge, "LOBBYIST_MAX_ATTESTATION_AGE")

	// ── Solana ──
	setStr(&cfg.Solana.RPCEndpoint, "LOBBYIST_SOLANA_RPC_ENDPOINT")
	setStr(&cfg.Solana.WSEndpoint, "LOBBYIST_SOLANA_WS_ENDPOINT")
	setDuration(&cfg.Solana.Timeout, "LOBBYIST_SOLANA_TIMEOUT")
	setInt(&cfg.Solana.MaxRetries, "LOBBYIST_SOLANA_MAX_RETRIES")
	setFloat64(&cfg.Solana.RateLimit, "LOBBYIST_SOLANA_RATE_LIMIT")
	setInt(&cfg.Solana.RateBurst, "LOBBYIST_SOLANA_RATE_BURST")
	setInt(&cfg.Solana.BreakerFailures, "LOBBYIST_SOLANA_BREAKER_FAILURES")
	setDuration(&cfg.Solana.BreakerCoolDown, "LOBBYIST_SOLANA_BREAKER_COOL_DOWN")

	// ── Storage ──
	setBool(&cfg.Storage.UseMemory, "LOBBYIST_USE_MEMORY")
	setStr(&cfg.Storage.PostgresDSN, "LOBBYIST_POSTGRES_DSN")
	setStr(&cfg.Storage.ClickhouseDSN, "LOBBYIST_CLICKHOUSE_DSN")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "LOBBYIST_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "LOBBYIST_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "LOBBYIST_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "LOBBYIST_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.LockTTL, "LOBBYIST_REDIS_LOCK_TTL")

	// ── Server ──
	setStr(&cfg.Server.Addr, "LOBBYIST_SERVER_ADDR")
	setDuration(&cfg.Server.ShutdownTimeout, "LOBBYIST_SERVER_SHUTDOWN_TIMEOUT")
}

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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
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
