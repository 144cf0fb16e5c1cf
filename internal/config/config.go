// Package config defines the service configuration, its defaults and validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"futarchy-lobbyist/internal/domain"
	"futarchy-lobbyist/internal/solana"
)

// Config is the top-level configuration for the lobbyist binaries.
type Config struct {
	Program ProgramConfig `toml:"program"`
	Solana  SolanaConfig  `toml:"solana"`
	Storage StorageConfig `toml:"storage"`
	Redis   RedisConfig   `toml:"redis"`
	Server  ServerConfig  `toml:"server"`
}

// ProgramConfig describes the deployment the ledger serves.
type ProgramConfig struct {
	ID             string `toml:"id"`
	Variant        string `toml:"variant"` // spot, conditional or pyth
	AmmProgram     string `toml:"amm_program"`
	OracleOffset   int    `toml:"oracle_offset"` // byte offset of the TWAP oracle inside a pool account
	VaultAuthority string `toml:"vault_authority"`
	PriceDecimals  int    `toml:"price_decimals"`
	MaxAttestAge   int64  `toml:"max_attestation_age"` // seconds
}

// SolanaConfig holds RPC connection parameters.
type SolanaConfig struct {
	RPCEndpoint     string   `toml:"rpc_endpoint"`
	WSEndpoint      string   `toml:"ws_endpoint"`
	Timeout         duration `toml:"timeout"`
	MaxRetries      int      `toml:"max_retries"`
	RateLimit       float64  `toml:"rate_limit"` // requests per second, 0 disables
	RateBurst       int      `toml:"rate_burst"`
	BreakerFailures int      `toml:"breaker_failures"`
	BreakerCoolDown duration `toml:"breaker_cool_down"`
}

// StorageConfig selects and connects the account store and event journal.
type StorageConfig struct {
	UseMemory     bool   `toml:"use_memory"`
	PostgresDSN   string `toml:"postgres_dsn"`
	ClickhouseDSN string `toml:"clickhouse_dsn"`
}

// RedisConfig enables distributed record locks when Addr is set.
type RedisConfig struct {
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	TLSEnabled bool     `toml:"tls_enabled"`
	KeyPrefix  string   `toml:"key_prefix"`
	LockTTL    duration `toml:"lock_ttl"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Addr            string   `toml:"addr"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with sensible default values.
func Defaults() Config {
	return Config{
		Program: ProgramConfig{
			Variant:       "spot",
			PriceDecimals: 12,
			MaxAttestAge:  10,
		},
		Solana: SolanaConfig{
			RPCEndpoint:     "https://api.mainnet-beta.solana.com",
			WSEndpoint:      "wss://api.mainnet-beta.solana.com",
			Timeout:         duration{30 * time.Second},
			MaxRetries:      3,
			RateLimit:       10,
			RateBurst:       5,
			BreakerFailures: 5,
			BreakerCoolDown: duration{30 * time.Second},
		},
		Storage: StorageConfig{
			UseMemory: true,
		},
		Redis: RedisConfig{
			KeyPrefix: "lobbyist:lock:",
			LockTTL:   duration{30 * time.Second},
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: duration{30 * time.Second},
		},
	}
}

// Validate checks the configuration for consistency and returns an error
// listing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if _, err := domain.ParseVariant(c.Program.Variant); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Program.ID == "" {
		errs = append(errs, "program.id is required")
	}
	for name, v := range map[string]string{
		"program.id":              c.Program.ID,
		"program.amm_program":     c.Program.AmmProgram,
		"program.vault_authority": c.Program.VaultAuthority,
	} {
		if v == "" {
			continue
		}
		if _, err := solana.ParsePubkey(v); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
		}
	}
	if c.Program.PriceDecimals < 0 || c.Program.PriceDecimals > 18 {
		errs = append(errs, fmt.Sprintf("program.price_decimals %d out of range [0, 18]", c.Program.PriceDecimals))
	}
	if c.Program.OracleOffset < 0 {
		errs = append(errs, "program.oracle_offset must be non-negative")
	}
	if c.Program.MaxAttestAge <= 0 {
		errs = append(errs, "program.max_attestation_age must be positive")
	}

	if c.Solana.RateLimit < 0 {
		errs = append(errs, "solana.rate_limit must be non-negative")
	}
	if c.Solana.BreakerFailures < 0 {
		errs = append(errs, "solana.breaker_failures must be non-negative")
	}

	if !c.Storage.UseMemory && (c.Storage.PostgresDSN == "" || c.Storage.ClickhouseDSN == "") {
		errs = append(errs, "storage.postgres_dsn and storage.clickhouse_dsn are required unless storage.use_memory is set")
	}

	if c.Server.Addr == "" {
		errs = append(errs, "server.addr is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Variant returns the parsed schema variant. Call after Validate.
func (c *Config) Variant() domain.Variant {
	v, _ := domain.ParseVariant(c.Program.Variant)
	return v
}

// ProgramID returns the parsed program id. Call after Validate.
func (c *Config) ProgramID() solana.Pubkey {
	return parseOptional(c.Program.ID)
}

// AmmProgram returns the parsed AMM program id, zero when unset.
func (c *Config) AmmProgram() solana.Pubkey {
	return parseOptional(c.Program.AmmProgram)
}

// VaultAuthority returns the parsed conditional vault authority, zero when unset.
func (c *Config) VaultAuthority() solana.Pubkey {
	return parseOptional(c.Program.VaultAuthority)
}

func parseOptional(s string) solana.Pubkey {
	if s == "" {
		return solana.Pubkey{}
	}
	pk, _ := solana.ParsePubkey(s)
	return pk
}
