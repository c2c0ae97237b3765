// Package config defines the engine's configuration surface and validation.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration. Fields are populated from a TOML file and
// then optionally overridden by CROSSARB_* environment variables.
type Config struct {
	Symbols   []string        `toml:"symbols"`
	Venues    []VenueConfig   `toml:"venues"`
	Detection DetectionConfig `toml:"detection"`
	Risk      RiskConfig      `toml:"risk"`
	Execution ExecutionConfig `toml:"execution"`
	Sim       SimConfig       `toml:"sim"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Archive   ArchiveConfig   `toml:"archive"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// VenueConfig describes one venue connection: the market data stream and the
// order API.
type VenueConfig struct {
	Name      string  `toml:"name"`
	WSURL     string  `toml:"ws_url"`
	BrokerURL string  `toml:"broker_url"`
	APIKey    string  `toml:"api_key"`
	FeeBps    float64 `toml:"fee_bps"`
}

// DetectionConfig holds quote handling and opportunity detection parameters.
type DetectionConfig struct {
	MinSpreadThreshold      float64  `toml:"min_spread_threshold"`
	PerTradeQuantityCap     float64  `toml:"per_trade_quantity_cap"`
	OpportunityValidity     duration `toml:"opportunity_validity_window"`
	QuoteStalenessThreshold duration `toml:"quote_staleness_threshold"`
	ScanInterval            duration `toml:"scan_interval"`
	DefaultFeeBps           float64  `toml:"default_fee_bps"`
	SlippageFrac            float64  `toml:"slippage_frac"`
}

// RiskConfig holds the capital and inventory limits the ledger enforces.
type RiskConfig struct {
	PerSymbolCapitalLimit float64 `toml:"per_symbol_capital_limit"`
	GlobalCapitalLimit    float64 `toml:"global_capital_limit"`
	PerSymbolNetQtyLimit  float64 `toml:"per_symbol_net_qty_limit"`
}

// ExecutionConfig holds the two-leg execution protocol parameters.
type ExecutionConfig struct {
	LegSubmitTimeout        duration `toml:"leg_submit_timeout"`
	UnwindTimeout           duration `toml:"unwind_timeout"`
	LimitTolerance          float64  `toml:"limit_tolerance"`
	MaxConcurrentExecutions int      `toml:"max_concurrent_executions"`
	ReconcileDelay          duration `toml:"reconcile_delay"`
	StatusInterval          duration `toml:"status_interval"`
}

// SimConfig drives the synthetic venues used by paper mode.
type SimConfig struct {
	TickInterval duration `toml:"tick_interval"`
	BasePrice    float64  `toml:"base_price"`
	Drift        float64  `toml:"drift"`
	Spread       float64  `toml:"spread"`
	FillDelay    duration `toml:"fill_delay"`
	FillPct      float64  `toml:"fill_pct"`
	PartialPct   float64  `toml:"partial_pct"`
	RejectPct    float64  `toml:"reject_pct"`
	Seed         int64    `toml:"seed"`
}

// PostgresConfig holds PostgreSQL connection parameters.
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls outcome archival to object storage.
type ArchiveConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval duration `toml:"interval"`
	MaxAge   duration `toml:"max_age"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	Cooldown          duration `toml:"cooldown"`
}

// duration wraps time.Duration so TOML can decode strings like "5m" or "30s".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values. These
// match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Symbols: []string{},
		Detection: DetectionConfig{
			MinSpreadThreshold:      0.05,
			PerTradeQuantityCap:     100,
			OpportunityValidity:     duration{500 * time.Millisecond},
			QuoteStalenessThreshold: duration{2 * time.Second},
			ScanInterval:            duration{250 * time.Millisecond},
			DefaultFeeBps:           5,
			SlippageFrac:            0.1,
		},
		Risk: RiskConfig{
			PerSymbolCapitalLimit: 10_000,
			GlobalCapitalLimit:    50_000,
			PerSymbolNetQtyLimit:  0,
		},
		Execution: ExecutionConfig{
			LegSubmitTimeout:        duration{3 * time.Second},
			UnwindTimeout:           duration{3 * time.Second},
			LimitTolerance:          0.001,
			MaxConcurrentExecutions: 4,
			ReconcileDelay:          duration{10 * time.Second},
			StatusInterval:          duration{30 * time.Second},
		},
		Sim: SimConfig{
			TickInterval: duration{100 * time.Millisecond},
			BasePrice:    100,
			Drift:        0.001,
			Spread:       0.0005,
			FillDelay:    duration{50 * time.Millisecond},
			FillPct:      0.85,
			PartialPct:   0.10,
			RejectPct:    0.05,
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "crossarb",
			User:          "crossarb",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "crossarb-data",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:  false,
			Interval: duration{24 * time.Hour},
			MaxAge:   duration{30 * 24 * time.Hour},
		},
		Notify: NotifyConfig{
			Events:   []string{"opportunity_detected", "execution_done", "unwind_done"},
			Cooldown: duration{30 * time.Second},
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"paper":   true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the config for invalid or inconsistent values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, paper, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if mode != "monitor" {
		if len(c.Symbols) == 0 {
			errs = append(errs, "symbols must not be empty")
		}
		if mode == "trade" {
			if len(c.Venues) < 2 {
				errs = append(errs, "venues: at least two venues are required for trade mode")
			}
			for i, v := range c.Venues {
				if v.Name == "" {
					errs = append(errs, fmt.Sprintf("venues[%d]: name must not be empty", i))
				}
				if v.WSURL == "" {
					errs = append(errs, fmt.Sprintf("venues[%d]: ws_url must not be empty", i))
				}
				if v.BrokerURL == "" {
					errs = append(errs, fmt.Sprintf("venues[%d]: broker_url must not be empty", i))
				}
			}
		}
	}

	// Detection
	if c.Detection.MinSpreadThreshold <= 0 {
		errs = append(errs, "detection: min_spread_threshold must be > 0")
	}
	if c.Detection.PerTradeQuantityCap <= 0 {
		errs = append(errs, "detection: per_trade_quantity_cap must be > 0")
	}
	if c.Detection.OpportunityValidity.Duration <= 0 {
		errs = append(errs, "detection: opportunity_validity_window must be > 0")
	}
	if c.Detection.QuoteStalenessThreshold.Duration <= 0 {
		errs = append(errs, "detection: quote_staleness_threshold must be > 0")
	}
	// An opportunity must expire before the quotes it was built from can go
	// stale, otherwise execution could act on prices the book already
	// distrusts.
	if c.Detection.OpportunityValidity.Duration >= c.Detection.QuoteStalenessThreshold.Duration {
		errs = append(errs, "detection: opportunity_validity_window must be shorter than quote_staleness_threshold")
	}
	if c.Detection.SlippageFrac < 0 || c.Detection.SlippageFrac >= 1 {
		errs = append(errs, "detection: slippage_frac must be in [0, 1)")
	}

	// Risk
	if c.Risk.PerSymbolCapitalLimit <= 0 {
		errs = append(errs, "risk: per_symbol_capital_limit must be > 0")
	}
	if c.Risk.GlobalCapitalLimit <= 0 {
		errs = append(errs, "risk: global_capital_limit must be > 0")
	}
	if c.Risk.PerSymbolCapitalLimit > c.Risk.GlobalCapitalLimit {
		errs = append(errs, "risk: per_symbol_capital_limit must not exceed global_capital_limit")
	}
	if c.Risk.PerSymbolNetQtyLimit < 0 {
		errs = append(errs, "risk: per_symbol_net_qty_limit must be >= 0")
	}

	// Execution
	if c.Execution.LegSubmitTimeout.Duration <= 0 {
		errs = append(errs, "execution: leg_submit_timeout must be > 0")
	}
	if c.Execution.UnwindTimeout.Duration <= 0 {
		errs = append(errs, "execution: unwind_timeout must be > 0")
	}
	if c.Execution.UnwindTimeout.Duration > c.Execution.LegSubmitTimeout.Duration {
		errs = append(errs, "execution: unwind_timeout must not exceed leg_submit_timeout")
	}
	if c.Execution.LimitTolerance < 0 || c.Execution.LimitTolerance >= 1 {
		errs = append(errs, "execution: limit_tolerance must be in [0, 1)")
	}
	if c.Execution.MaxConcurrentExecutions < 1 {
		errs = append(errs, "execution: max_concurrent_executions must be >= 1")
	}

	// Sim probabilities
	if sum := c.Sim.FillPct + c.Sim.PartialPct + c.Sim.RejectPct; sum > 1 {
		errs = append(errs, fmt.Sprintf("sim: fill_pct + partial_pct + reject_pct must not exceed 1, got %.3f", sum))
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
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
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
	if mode == "monitor" && !c.Redis.Enabled {
		errs = append(errs, "redis must be enabled for monitor mode")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}
	if c.Archive.Enabled {
		if !c.S3.Enabled {
			errs = append(errs, "archive: s3 must be enabled when archiving is on")
		}
		if !c.Postgres.Enabled {
			errs = append(errs, "archive: postgres must be enabled when archiving is on")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
		if c.Archive.MaxAge.Duration <= 0 {
			errs = append(errs, "archive: max_age must be > 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
