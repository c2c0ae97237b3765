package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Symbols = []string{"BTC-USD"}
	return cfg
}

func TestConfig_DefaultsValidate(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestConfig_ValidateRejections(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			"unknown mode",
			func(c *Config) { c.Mode = "yolo" },
			"unknown mode",
		},
		{
			"unknown log level",
			func(c *Config) { c.LogLevel = "verbose" },
			"unknown log_level",
		},
		{
			"empty symbols",
			func(c *Config) { c.Symbols = nil },
			"symbols must not be empty",
		},
		{
			"validity not shorter than staleness",
			func(c *Config) {
				c.Detection.OpportunityValidity = duration{2 * time.Second}
				c.Detection.QuoteStalenessThreshold = duration{2 * time.Second}
			},
			"must be shorter than quote_staleness_threshold",
		},
		{
			"unwind longer than leg timeout",
			func(c *Config) {
				c.Execution.UnwindTimeout = duration{5 * time.Second}
				c.Execution.LegSubmitTimeout = duration{3 * time.Second}
			},
			"unwind_timeout must not exceed leg_submit_timeout",
		},
		{
			"per-symbol above global capital",
			func(c *Config) {
				c.Risk.PerSymbolCapitalLimit = 100_000
				c.Risk.GlobalCapitalLimit = 50_000
			},
			"must not exceed global_capital_limit",
		},
		{
			"trade mode needs two venues",
			func(c *Config) {
				c.Mode = "trade"
				c.Venues = []VenueConfig{{Name: "alpha", WSURL: "wss://a", BrokerURL: "https://a"}}
			},
			"at least two venues",
		},
		{
			"trade venue missing broker url",
			func(c *Config) {
				c.Mode = "trade"
				c.Venues = []VenueConfig{
					{Name: "alpha", WSURL: "wss://a", BrokerURL: "https://a"},
					{Name: "beta", WSURL: "wss://b"},
				}
			},
			"broker_url must not be empty",
		},
		{
			"monitor requires redis",
			func(c *Config) { c.Mode = "monitor" },
			"redis must be enabled",
		},
		{
			"archive requires s3 and postgres",
			func(c *Config) { c.Archive.Enabled = true },
			"archive: s3 must be enabled",
		},
		{
			"sim probabilities above one",
			func(c *Config) {
				c.Sim.FillPct = 0.8
				c.Sim.PartialPct = 0.2
				c.Sim.RejectPct = 0.1
			},
			"must not exceed 1",
		},
		{
			"slippage fraction out of range",
			func(c *Config) { c.Detection.SlippageFrac = 1.0 },
			"slippage_frac must be in [0, 1)",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestConfig_ValidateCollectsAllProblems(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "yolo"
	cfg.Risk.GlobalCapitalLimit = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "global_capital_limit")
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d duration
	require.NoError(t, d.UnmarshalText([]byte("750ms")))
	assert.Equal(t, 750*time.Millisecond, d.Duration)

	assert.Error(t, d.UnmarshalText([]byte("not-a-duration")))

	text, err := duration{90 * time.Second}.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(text))
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
mode = "paper"
symbols = ["BTC-USD"]

[detection]
min_spread_threshold = 0.2
scan_interval = "100ms"

[risk]
global_capital_limit = 20000.0
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("CROSSARB_MODE", "monitor")
	t.Setenv("CROSSARB_REDIS_ENABLED", "true")
	t.Setenv("CROSSARB_DETECTION_MIN_SPREAD_THRESHOLD", "0.3")
	t.Setenv("CROSSARB_EXECUTION_LEG_SUBMIT_TIMEOUT", "4s")
	t.Setenv("CROSSARB_SYMBOLS", "ETH-USD, SOL-USD")

	cfg, err := Load(path)
	require.NoError(t, err)

	// File overrides defaults; env overrides file.
	assert.Equal(t, "monitor", cfg.Mode)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 0.3, cfg.Detection.MinSpreadThreshold)
	assert.Equal(t, 100*time.Millisecond, cfg.Detection.ScanInterval.Duration)
	assert.Equal(t, 20_000.0, cfg.Risk.GlobalCapitalLimit)
	assert.Equal(t, 4*time.Second, cfg.Execution.LegSubmitTimeout.Duration)
	assert.Equal(t, []string{"ETH-USD", "SOL-USD"}, cfg.Symbols)

	// Untouched values keep their defaults.
	assert.Equal(t, 0.001, cfg.Execution.LimitTolerance)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestApplyEnvOverrides_IgnoresInvalidValues(t *testing.T) {
	cfg := Defaults()
	t.Setenv("CROSSARB_POSTGRES_PORT", "not-a-number")
	t.Setenv("CROSSARB_REDIS_ENABLED", "sometimes")
	applyEnvOverrides(&cfg)
	assert.Equal(t, 5432, cfg.Postgres.Port)
	assert.False(t, cfg.Redis.Enabled)
}
