package config

import (
	"fmt"
	"strings"
)

func validate(c *Config) error {
	if err := c.Sizing.validate(); err != nil {
		return err
	}
	if err := c.Rotation.validate(); err != nil {
		return err
	}
	if err := c.Reconcile.validate(); err != nil {
		return err
	}
	if err := c.Broker.validate(); err != nil {
		return err
	}
	return nil
}

func (s *SizingConfig) validate() error {
	if s.MaxRiskFraction <= 0 || s.MaxRiskFraction > 1 {
		return fmt.Errorf("sizing.max_risk_fraction must be in (0, 1], got %v", s.MaxRiskFraction)
	}
	if s.DefaultPayoffRatio <= 0 {
		return fmt.Errorf("sizing.default_payoff_ratio must be > 0")
	}
	if s.MinTradeSize < 0 {
		return fmt.Errorf("sizing.min_trade_size must be >= 0")
	}
	return nil
}

func (r *RotationConfig) validate() error {
	if r.MediumUtilization >= r.HighUtilization || r.HighUtilization >= r.CriticalUtilization {
		return fmt.Errorf("rotation utilization tiers must ascend: medium < high < critical (got %v, %v, %v)",
			r.MediumUtilization, r.HighUtilization, r.CriticalUtilization)
	}
	if r.CriticalUtilization > 1 {
		return fmt.Errorf("rotation.critical_utilization must be <= 1")
	}
	if r.TimePenaltyPerMinute < 0 {
		return fmt.Errorf("rotation.time_penalty_per_minute must be >= 0")
	}
	return nil
}

func (r *ReconcileConfig) validate() error {
	if r.StalenessBoundSeconds < r.CacheTTLSeconds {
		return fmt.Errorf("reconcile.staleness_bound_seconds (%d) must be >= cache_ttl_seconds (%d)",
			r.StalenessBoundSeconds, r.CacheTTLSeconds)
	}
	return nil
}

func (b *BrokerConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(b.Name)) {
	case "binance", "sim":
		return nil
	default:
		return fmt.Errorf("broker.name %q is not supported (binance, sim)", b.Name)
	}
}
