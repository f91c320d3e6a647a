// Package config loads the radar configuration from a YAML file with
// environment overrides into an immutable snapshot. Admin updates swap the
// snapshot atomically; pipeline passes read whichever snapshot was current
// when they started.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/DelaneKay/memeradar/internal/models"
	"github.com/DelaneKay/memeradar/internal/ratelimit"
)

// Thresholds are the eligibility and alert gates.
type Thresholds struct {
	MinLiqAlert   float64 `yaml:"min_liq_alert" json:"minLiqAlert"`
	MinLiqList    float64 `yaml:"min_liq_list" json:"minLiqList"`
	MaxTax        float64 `yaml:"max_tax" json:"maxTax"`
	MaxAgeHours   float64 `yaml:"max_age_hours" json:"maxAgeHours"`
	ScoreAlert    float64 `yaml:"score_alert" json:"scoreAlert"`
	Surge15Min    float64 `yaml:"surge15_min" json:"surge15Min"`
	Imbalance5Min float64 `yaml:"imbalance5_min" json:"imbalance5Min"`
}

// Features are advisory gates. RadarOnly only affects the API gateway's
// allow-list and the reported config; it never changes pipeline behavior.
type Features struct {
	RadarOnly                bool `yaml:"radar_only" json:"radarOnly"`
	EnablePortfolioSim       bool `yaml:"enable_portfolio_sim" json:"enablePortfolioSim"`
	EnableTradeActions       bool `yaml:"enable_trade_actions" json:"enableTradeActions"`
	EnableWalletIntegrations bool `yaml:"enable_wallet_integrations" json:"enableWalletIntegrations"`
}

// Server configures the HTTP/WS surface.
type Server struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`
}

// Config is one immutable configuration snapshot.
type Config struct {
	Chains            []models.ChainID                 `yaml:"chains" json:"chains"`
	RefreshMS         int                              `yaml:"refresh_ms" json:"refreshMs"`
	SentinelRefreshMS int                              `yaml:"sentinel_refresh_ms" json:"sentinelRefreshMs"`
	Thresholds        Thresholds                       `yaml:"thresholds" json:"thresholds"`
	Features          Features                         `yaml:"features" json:"features"`
	AlertsPerHour     int                              `yaml:"alerts_per_hour" json:"alertsPerHour"`
	Exchanges         []string                         `yaml:"exchanges" json:"exchanges"`
	RateBuckets       map[string]ratelimit.BucketConfig `yaml:"rate_buckets" json:"-"`
	RedisAddr         string                           `yaml:"redis_addr" json:"-"`
	RedisDB           int                              `yaml:"redis_db" json:"-"`
	Server            Server                           `yaml:"server" json:"server"`
	LogLevel          string                           `yaml:"log_level" json:"logLevel"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Chains:            append([]models.ChainID(nil), models.AllChains...),
		RefreshMS:         30000,
		SentinelRefreshMS: 120000,
		Thresholds: Thresholds{
			MinLiqAlert:   20000,
			MinLiqList:    12000,
			MaxTax:        10,
			MaxAgeHours:   48,
			ScoreAlert:    70,
			Surge15Min:    2.5,
			Imbalance5Min: 0.4,
		},
		AlertsPerHour: 50,
		Exchanges:     []string{"kucoin", "bybit", "mexc", "gate", "lbank", "bitmart"},
		Server:        Server{Host: "127.0.0.1", Port: 8080},
		LogLevel:      "info",
	}
}

// Load reads the YAML file at path (optional) and applies environment
// overrides on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)

	for _, c := range cfg.Chains {
		if !c.Valid() {
			return nil, fmt.Errorf("invalid chain %q in config", c)
		}
	}
	if cfg.RefreshMS < 1000 {
		return nil, fmt.Errorf("refresh_ms %d too aggressive", cfg.RefreshMS)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CHAINS"); v != "" {
		var chains []models.ChainID
		for _, s := range strings.Split(v, ",") {
			if c, err := models.ParseChain(s); err == nil {
				chains = append(chains, c)
			}
		}
		if len(chains) > 0 {
			cfg.Chains = chains
		}
	}
	envInt("REFRESH_MS", &cfg.RefreshMS)
	envInt("SENTINEL_REFRESH_MS", &cfg.SentinelRefreshMS)
	envInt("ALERTS_PER_HOUR", &cfg.AlertsPerHour)
	envFloat("MIN_LIQ_LIST", &cfg.Thresholds.MinLiqList)
	envFloat("MIN_LIQ_ALERT", &cfg.Thresholds.MinLiqAlert)
	envFloat("MAX_TAX", &cfg.Thresholds.MaxTax)
	envFloat("MAX_AGE_HOURS", &cfg.Thresholds.MaxAgeHours)
	envFloat("SCORE_ALERT", &cfg.Thresholds.ScoreAlert)
	envFloat("SURGE15_MIN", &cfg.Thresholds.Surge15Min)
	envFloat("IMBALANCE5_MIN", &cfg.Thresholds.Imbalance5Min)
	envBool("RADAR_ONLY", &cfg.Features.RadarOnly)
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("HTTP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

func envInt(name string, dst *int) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(name string, dst *float64) {
	if v := os.Getenv(name); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(name string, dst *bool) {
	if v := os.Getenv(name); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// RefreshInterval returns the poll cadence as a duration.
func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshMS) * time.Millisecond
}

// SentinelInterval returns the per-exchange announcement cadence.
func (c *Config) SentinelInterval() time.Duration {
	return time.Duration(c.SentinelRefreshMS) * time.Millisecond
}

// Store holds the current snapshot and swaps it atomically on update.
type Store struct {
	current atomic.Pointer[Config]
}

// NewStore creates a store seeded with cfg.
func NewStore(cfg *Config) *Store {
	s := &Store{}
	s.current.Store(cfg)
	return s
}

// Get returns the current snapshot. Callers must not mutate it.
func (s *Store) Get() *Config { return s.current.Load() }

// Update swaps in a new snapshot built by applying fn to a copy of the
// current one. Subsequent pipeline passes observe the new snapshot.
func (s *Store) Update(fn func(next *Config)) *Config {
	cur := s.current.Load()
	next := *cur
	next.Chains = append([]models.ChainID(nil), cur.Chains...)
	next.Exchanges = append([]string(nil), cur.Exchanges...)
	fn(&next)
	s.current.Store(&next)
	return &next
}
