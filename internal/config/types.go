package config

import (
	"strings"
	"time"
)

// Config is the top-level configuration carrier for tiller.
type Config struct {
	App       AppConfig       `toml:"app"`
	Broker    BrokerConfig    `toml:"broker"`
	Store     StoreConfig     `toml:"store"`
	HTTP      HTTPConfig      `toml:"http"`
	Breakers  BreakersConfig  `toml:"breakers"`
	Reconcile ReconcileConfig `toml:"reconcile"`
	Sizing    SizingConfig    `toml:"sizing"`
	Rotation  RotationConfig  `toml:"rotation"`
	Exits     ExitConfig      `toml:"exits"`
	Regime    RegimeConfig    `toml:"regime"`
}

type AppConfig struct {
	Env                 string `toml:"env"`
	LogLevel            string `toml:"log_level"`
	LogFormat           string `toml:"log_format"`
	LogPath             string `toml:"log_path"`
	Denomination        string `toml:"denomination"`
	EvalIntervalSeconds int    `toml:"eval_interval_seconds"`
}

type BrokerConfig struct {
	Name           string `toml:"name"`
	RESTBaseURL    string `toml:"rest_base_url"`
	APIKey         string `toml:"api_key"`
	APISecret      string `toml:"api_secret"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

func (b BrokerConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSeconds) * time.Second
}

type StoreConfig struct {
	Path string `toml:"path"`
}

type HTTPConfig struct {
	Addr string `toml:"addr"`
}

// BreakerConfig holds per-dependency circuit breaker thresholds. High-volume
// calls (price) tolerate more failures than sensitive ones (orders).
type BreakerConfig struct {
	FailureThreshold       int `toml:"failure_threshold"`
	RecoveryTimeoutSeconds int `toml:"recovery_timeout_seconds"`
}

func (b BreakerConfig) RecoveryTimeout() time.Duration {
	return time.Duration(b.RecoveryTimeoutSeconds) * time.Second
}

type BreakersConfig struct {
	Balance BreakerConfig `toml:"balance"`
	Price   BreakerConfig `toml:"price"`
	Order   BreakerConfig `toml:"order"`
}

type ReconcileConfig struct {
	CacheTTLSeconds       int `toml:"cache_ttl_seconds"`
	StalenessBoundSeconds int `toml:"staleness_bound_seconds"`
}

func (r ReconcileConfig) CacheTTL() time.Duration {
	return time.Duration(r.CacheTTLSeconds) * time.Second
}

func (r ReconcileConfig) StalenessBound() time.Duration {
	return time.Duration(r.StalenessBoundSeconds) * time.Second
}

// SizingConfig carries the sizer's knobs. Injected, never a mutable global.
type SizingConfig struct {
	MaxRiskFraction    float64 `toml:"max_risk_fraction"`
	DefaultPayoffRatio float64 `toml:"default_payoff_ratio"`
	TargetAccountSize  float64 `toml:"target_account_size"`
	MinTradeSize       float64 `toml:"min_trade_size"`
}

// RotationConfig carries the rotation tier thresholds.
type RotationConfig struct {
	CriticalUtilization  float64 `toml:"critical_utilization"`
	HighUtilization      float64 `toml:"high_utilization"`
	MediumUtilization    float64 `toml:"medium_utilization"`
	IdealAvailable       float64 `toml:"ideal_available"`
	MinTradeSize         float64 `toml:"min_trade_size"`
	TimePenaltyPerMinute float64 `toml:"time_penalty_per_minute"`
}

type ExitConfig struct {
	RulesPath string `toml:"rules_path"`
}

type RegimeConfig struct {
	Enabled  bool   `toml:"enabled"`
	Interval string `toml:"interval"`
	Fast     int    `toml:"fast"`
	Mid      int    `toml:"mid"`
	Slow     int    `toml:"slow"`
	Lookback int    `toml:"lookback"`
}

// keySet tracks config keys that were explicitly set in the file, so
// defaults never clobber deliberate zero values.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault describes the default rule for a single field.
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
