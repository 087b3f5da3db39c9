package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults_AreValid(t *testing.T) {
	cfg := Defaults()
	assert.NoError(t, cfg.Validate())
}

func TestValidate_RejectsFatalConfig(t *testing.T) {
	cases := map[string]func(*Config){
		"tax rate above 1":       func(c *Config) { c.Harvest.TaxRate = 1.5 },
		"negative tax rate":      func(c *Config) { c.Harvest.TaxRate = -0.1 },
		"negative min loss":      func(c *Config) { c.Harvest.MinLossUSD = -5 },
		"liquidity out of range": func(c *Config) { c.Harvest.MinLiquidity = 101 },
		"risk score too high":    func(c *Config) { c.Harvest.MinRiskScore = 11 },
		"negative cutoff":        func(c *Config) { c.Harvest.MarginalCutoffUSD = -1 },
		"unknown mode":           func(c *Config) { c.Mode = "turbo" },
		"bad server port":        func(c *Config) { c.Server.Port = 0 },
		"bad ingest provider": func(c *Config) {
			c.Ingest.Enabled = true
			c.Ingest.PrimaryProvider = "etherscan"
		},
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Defaults()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_MergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	data := `
mode = "harvest"
log_level = "debug"

[harvest]
tax_rate = 0.37
min_loss_usd = 50.0

[server]
port = 9090
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "harvest", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 0.37, cfg.Harvest.TaxRate)
	assert.Equal(t, 50.0, cfg.Harvest.MinLossUSD)
	assert.Equal(t, 9090, cfg.Server.Port)

	// Untouched sections keep defaults.
	assert.Equal(t, 3, cfg.Harvest.MinRiskScore)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("mode = \"serve\"\n"), 0o600))

	t.Setenv("HARVESTD_HARVEST_TAX_RATE", "0.15")
	t.Setenv("HARVESTD_REDIS_ADDR", "redis:6380")
	t.Setenv("HARVESTD_INGEST_CHAINS", "ethereum, polygon")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.15, cfg.Harvest.TaxRate)
	assert.Equal(t, "redis:6380", cfg.Redis.Addr)
	assert.Equal(t, []string{"ethereum", "polygon"}, cfg.Ingest.Chains)
}
