package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"futarchy-lobbyist/internal/domain"
)

const testProgram = "3JceRWanoEVZSqsY9UGtxPA4XsSAnSKDTNWp2Sp3QQLu"

func writeTOML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lobbyist.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "spot", cfg.Program.Variant)
	assert.Equal(t, 12, cfg.Program.PriceDecimals)
	assert.Equal(t, int64(10), cfg.Program.MaxAttestAge)
	assert.True(t, cfg.Storage.UseMemory)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 30*time.Second, cfg.Solana.BreakerCoolDown.Duration)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeTOML(t, `
[program]
id = "`+testProgram+`"
variant = "conditional"
oracle_offset = 16

[solana]
rpc_endpoint = "http://localhost:8899"
timeout = "5s"

[storage]
use_memory = false
postgres_dsn = "postgres://from-file"
clickhouse_dsn = "clickhouse://from-file"
`)

	t.Setenv("LOBBYIST_POSTGRES_DSN", "postgres://from-env")
	t.Setenv("LOBBYIST_SOLANA_RATE_LIMIT", "2.5")
	t.Setenv("LOBBYIST_REDIS_LOCK_TTL", "1m")
	t.Setenv("LOBBYIST_SOLANA_MAX_RETRIES", "not-a-number")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, domain.VariantConditional, cfg.Variant())
	assert.Equal(t, testProgram, cfg.ProgramID().String())
	assert.Equal(t, 16, cfg.Program.OracleOffset)
	assert.Equal(t, "http://localhost:8899", cfg.Solana.RPCEndpoint)
	assert.Equal(t, 5*time.Second, cfg.Solana.Timeout.Duration)
	assert.Equal(t, "postgres://from-env", cfg.Storage.PostgresDSN, "env overrides file")
	assert.Equal(t, "clickhouse://from-file", cfg.Storage.ClickhouseDSN)
	assert.Equal(t, 2.5, cfg.Solana.RateLimit)
	assert.Equal(t, time.Minute, cfg.Redis.LockTTL.Duration)
	assert.Equal(t, 3, cfg.Solana.MaxRetries, "unparseable override is ignored")
	assert.True(t, cfg.AmmProgram().IsZero())
}

func TestLoad_BadFile(t *testing.T) {
	_, err := Load(writeTOML(t, "[program\nid = "))
	require.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing program", func(c *Config) { c.Program.ID = "" }, "program.id is required"},
		{"bad program", func(c *Config) { c.Program.ID = "not-base58-0OIl" }, "program.id"},
		{"bad variant", func(c *Config) { c.Program.Variant = "perp" }, "unknown schema variant"},
		{"bad amm", func(c *Config) { c.Program.AmmProgram = "xyz" }, "program.amm_program"},
		{"decimals", func(c *Config) { c.Program.PriceDecimals = 19 }, "price_decimals"},
		{"attestation age", func(c *Config) { c.Program.MaxAttestAge = 0 }, "max_attestation_age"},
		{"rate limit", func(c *Config) { c.Solana.RateLimit = -1 }, "rate_limit"},
		{"databases", func(c *Config) { c.Storage.UseMemory = false }, "postgres_dsn"},
		{"server addr", func(c *Config) { c.Server.Addr = "" }, "server.addr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.Program.ID = testProgram
			require.NoError(t, cfg.Validate())

			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.want), "error %q should mention %q", err, tt.want)
		})
	}
}
