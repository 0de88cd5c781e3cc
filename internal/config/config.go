// Package config loads server settings from defaults, an optional config
// file, a .env file, AGENTMARKET_* environment variables and command flags,
// in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"cosmossdk.io/math"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"agent-market/internal/address"
	"agent-market/internal/asset"
	"agent-market/internal/ledger"
	"agent-market/internal/ranking"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "AGENTMARKET"

// Config holds all server settings. Amounts are decimal asset units.
type Config struct {
	// Server
	HTTPAddr        string
	ShutdownTimeout time.Duration
	LogLevel        string
	LogPretty       bool

	// Storage
	PostgresDSN   string
	ClickHouseDSN string // optional; events are journaled in memory without it
	UseMemory     bool
	Dev           bool // enables the mint endpoint

	// Ledger policy
	ProviderMinStake    string
	ArbitratorMinStake  string
	BuyerMinStake       string
	MinDeposit          string
	RefundFee           string
	PerformanceWindow   time.Duration
	MaxKeywordsPerAgent int
	RankingTTL          time.Duration
	StalePolicy         string
	Reporters           []string

	// Maintenance
	RankingSchedule string // cron spec; empty means every RankingTTL
	KeywordSchedule string // cron spec; empty disables

	// API
	RateLimit      float64 // mutating requests per second per caller
	RateBurst      int
	EventQueueSize int
}

// RegisterFlags adds every setting as a persistent flag of cmd.
func RegisterFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.String("config", "", "Config file (toml, yaml or json)")
	f.String("env-file", ".env", "Dotenv file; missing file is ignored")

	f.String("http-addr", ":8080", "HTTP listen address")
	f.Duration("shutdown-timeout", 30*time.Second, "Graceful shutdown timeout")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.Bool("log-pretty", false, "Human-readable console logs")

	f.String("postgres-dsn", "", "PostgreSQL connection string")
	f.String("clickhouse-dsn", "", "ClickHouse connection string for the event journal")
	f.Bool("use-memory", false, "Use in-memory storage and token instead of PostgreSQL")
	f.Bool("dev", false, "Enable the development mint endpoint")

	f.String("provider-min-stake", "100", "Provider qualification threshold")
	f.String("arbitrator-min-stake", "500", "Arbitrator qualification threshold")
	f.String("buyer-min-stake", "10", "Buyer qualification threshold")
	f.String("min-deposit", "1", "Minimum escrow deposit")
	f.String("refund-fee", "0.01", "Fee retained on every refund")
	f.Duration("performance-window", 14*24*time.Hour, "Performance snapshot retention window")
	f.Int("max-keywords", 10, "Maximum keywords per provider")
	f.Duration("ranking-ttl", time.Hour, "Ranking cache lifetime")
	f.String("stale-policy", string(ranking.PolicyRebuildOnRead), "Stale ranking policy (rebuild-on-read, serve-stale)")
	f.StringSlice("reporters", nil, "Addresses allowed to push performance snapshots (empty allows all)")

	f.String("ranking-schedule", "", "Cron spec for ranking rebuilds (default every ranking-ttl)")
	f.String("keyword-schedule", "@daily", "Cron spec for keyword index rebuilds (empty disables)")

	f.Float64("rate-limit", 5, "Mutating requests per second per caller")
	f.Int("rate-burst", 10, "Rate limiter burst")
	f.Int("event-queue-size", 1024, "Event dispatcher queue size")
}

// Load resolves the configuration for cmd. Flags must have been registered
// with RegisterFlags.
func Load(cmd *cobra.Command) (*Config, error) {
	v := viper.New()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}

	if path := v.GetString("env-file"); path != "" {
		if err := LoadEnvFile(path); err != nil {
			return nil, err
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{
		HTTPAddr:            v.GetString("http-addr"),
		ShutdownTimeout:     v.GetDuration("shutdown-timeout"),
		LogLevel:            v.GetString("log-level"),
		LogPretty:           v.GetBool("log-pretty"),
		PostgresDSN:         v.GetString("postgres-dsn"),
		ClickHouseDSN:       v.GetString("clickhouse-dsn"),
		UseMemory:           v.GetBool("use-memory"),
		Dev:                 v.GetBool("dev"),
		ProviderMinStake:    v.GetString("provider-min-stake"),
		ArbitratorMinStake:  v.GetString("arbitrator-min-stake"),
		BuyerMinStake:       v.GetString("buyer-min-stake"),
		MinDeposit:          v.GetString("min-deposit"),
		RefundFee:           v.GetString("refund-fee"),
		PerformanceWindow:   v.GetDuration("performance-window"),
		MaxKeywordsPerAgent: v.GetInt("max-keywords"),
		RankingTTL:          v.GetDuration("ranking-ttl"),
		StalePolicy:         v.GetString("stale-policy"),
		Reporters:           splitList(v.GetStringSlice("reporters")),
		RankingSchedule:     v.GetString("ranking-schedule"),
		KeywordSchedule:     v.GetString("keyword-schedule"),
		RateLimit:           v.GetFloat64("rate-limit"),
		RateBurst:           v.GetInt("rate-burst"),
		EventQueueSize:      v.GetInt("event-queue-size"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// splitList flattens comma-separated entries; environment values arrive as
// one string.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate rejects inconsistent settings.
func (c *Config) Validate() error {
	var errs []error
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http-addr is required"))
	}
	if !c.UseMemory && c.PostgresDSN == "" {
		errs = append(errs, errors.New("postgres-dsn is required (use --use-memory for in-memory storage)"))
	}
	if c.RateLimit <= 0 || c.RateBurst <= 0 {
		errs = append(errs, errors.New("rate-limit and rate-burst must be positive"))
	}
	if c.EventQueueSize <= 0 {
		errs = append(errs, errors.New("event-queue-size must be positive"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown-timeout must be positive"))
	}
	if _, err := c.Params(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Params converts the ledger policy settings.
func (c *Config) Params() (ledger.Params, error) {
	p := ledger.DefaultParams()
	var err error
	if p.ProviderMinStake, err = units("provider-min-stake", c.ProviderMinStake); err != nil {
		return p, err
	}
	if p.ArbitratorMinStake, err = units("arbitrator-min-stake", c.ArbitratorMinStake); err != nil {
		return p, err
	}
	if p.BuyerMinStake, err = units("buyer-min-stake", c.BuyerMinStake); err != nil {
		return p, err
	}
	if p.MinDeposit, err = units("min-deposit", c.MinDeposit); err != nil {
		return p, err
	}
	if p.RefundFee, err = units("refund-fee", c.RefundFee); err != nil {
		return p, err
	}
	p.PerformanceWindow = c.PerformanceWindow
	p.MaxKeywordsPerAgent = c.MaxKeywordsPerAgent
	p.RankingTTL = c.RankingTTL
	if p.StalePolicy, err = ranking.ParsePolicy(c.StalePolicy); err != nil {
		return p, err
	}
	p.Reporters = nil
	for _, r := range c.Reporters {
		addr, err := address.Parse(r)
		if err != nil {
			return p, fmt.Errorf("reporter %q: %w", r, err)
		}
		p.Reporters = append(p.Reporters, addr)
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

func units(name, s string) (math.Int, error) {
	v, err := asset.ParseUnits(s)
	if err != nil {
		return math.Int{}, fmt.Errorf("%s: %w", name, err)
	}
	return v, nil
}

// LoadEnvFile sets variables from a dotenv file without overriding ones
// already in the environment. A missing file is not an error.
func LoadEnvFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read env file: %w", err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(strings.TrimPrefix(key, "export "))
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		if _, set := os.LookupEnv(key); !set {
			os.Setenv(key, value)
		}
	}
	return nil
}
