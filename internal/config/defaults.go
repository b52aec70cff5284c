package config

import "strings"

const (
	defaultAppEnv          = "dev"
	defaultAppLogLevel     = "info"
	defaultAppLogFormat    = "text"
	defaultAppDenomination = "USDT"
	defaultEvalInterval    = 15

	defaultBrokerName    = "binance"
	defaultBrokerREST    = "https://fapi.binance.com"
	defaultBrokerTimeout = 10

	defaultStorePath = "data/tiller.db"
	defaultHTTPAddr  = ":9985"

	defaultBalanceThreshold = 5
	defaultBalanceRecovery  = 30
	defaultPriceThreshold   = 10
	defaultPriceRecovery    = 15
	defaultOrderThreshold   = 3
	defaultOrderRecovery    = 60

	defaultCacheTTL       = 20
	defaultStalenessBound = 45

	defaultMaxRiskFraction    = 0.05
	defaultPayoffRatio        = 2.0
	defaultTargetAccountSize  = 10000
	defaultMinTradeSize       = 10

	defaultCriticalUtilization  = 0.95
	defaultHighUtilization      = 0.90
	defaultMediumUtilization    = 0.80
	defaultIdealAvailable       = 100
	defaultTimePenaltyPerMinute = 0.05

	defaultExitRulesPath = "configs/exit_rules.yaml"

	defaultRegimeInterval = "1h"
	defaultRegimeFast     = 7
	defaultRegimeMid      = 25
	defaultRegimeSlow     = 99
	defaultRegimeLookback = 200
)

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Broker.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.HTTP.applyDefaults(keys)
	c.Breakers.applyDefaults(keys)
	c.Reconcile.applyDefaults(keys)
	c.Sizing.applyDefaults(keys)
	c.Rotation.applyDefaults(keys)
	c.Exits.applyDefaults(keys)
	c.Regime.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_format", &a.LogFormat, defaultAppLogFormat),
		stringFieldDefault("app.denomination", &a.Denomination, defaultAppDenomination),
		intFieldDefault("app.eval_interval_seconds", &a.EvalIntervalSeconds, defaultEvalInterval),
	)
}

func (b *BrokerConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("broker.name", &b.Name, defaultBrokerName),
		stringFieldDefault("broker.rest_base_url", &b.RESTBaseURL, defaultBrokerREST),
		intFieldDefault("broker.timeout_seconds", &b.TimeoutSeconds, defaultBrokerTimeout),
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.path", &s.Path, defaultStorePath),
	)
}

func (h *HTTPConfig) applyDefaults(keys keySet) {
	if h == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("http.addr", &h.Addr, defaultHTTPAddr),
	)
}

func (b *BreakersConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("breakers.balance.failure_threshold", &b.Balance.FailureThreshold, defaultBalanceThreshold),
		intFieldDefault("breakers.balance.recovery_timeout_seconds", &b.Balance.RecoveryTimeoutSeconds, defaultBalanceRecovery),
		intFieldDefault("breakers.price.failure_threshold", &b.Price.FailureThreshold, defaultPriceThreshold),
		intFieldDefault("breakers.price.recovery_timeout_seconds", &b.Price.RecoveryTimeoutSeconds, defaultPriceRecovery),
		intFieldDefault("breakers.order.failure_threshold", &b.Order.FailureThreshold, defaultOrderThreshold),
		intFieldDefault("breakers.order.recovery_timeout_seconds", &b.Order.RecoveryTimeoutSeconds, defaultOrderRecovery),
	)
}

func (r *ReconcileConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("reconcile.cache_ttl_seconds", &r.CacheTTLSeconds, defaultCacheTTL),
		intFieldDefault("reconcile.staleness_bound_seconds", &r.StalenessBoundSeconds, defaultStalenessBound),
	)
}

func (s *SizingConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		floatFieldDefault("sizing.max_risk_fraction", &s.MaxRiskFraction, defaultMaxRiskFraction),
		floatFieldDefault("sizing.default_payoff_ratio", &s.DefaultPayoffRatio, defaultPayoffRatio),
		floatFieldDefault("sizing.target_account_size", &s.TargetAccountSize, defaultTargetAccountSize),
		floatFieldDefault("sizing.min_trade_size", &s.MinTradeSize, defaultMinTradeSize),
	)
}

func (r *RotationConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		floatFieldDefault("rotation.critical_utilization", &r.CriticalUtilization, defaultCriticalUtilization),
		floatFieldDefault("rotation.high_utilization", &r.HighUtilization, defaultHighUtilization),
		floatFieldDefault("rotation.medium_utilization", &r.MediumUtilization, defaultMediumUtilization),
		floatFieldDefault("rotation.ideal_available", &r.IdealAvailable, defaultIdealAvailable),
		floatFieldDefault("rotation.min_trade_size", &r.MinTradeSize, defaultMinTradeSize),
		floatFieldDefault("rotation.time_penalty_per_minute", &r.TimePenaltyPerMinute, defaultTimePenaltyPerMinute),
	)
}

func (e *ExitConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("exits.rules_path", &e.RulesPath, defaultExitRulesPath),
	)
}

func (r *RegimeConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("regime.interval", &r.Interval, defaultRegimeInterval),
		intFieldDefault("regime.fast", &r.Fast, defaultRegimeFast),
		intFieldDefault("regime.mid", &r.Mid, defaultRegimeMid),
		intFieldDefault("regime.slow", &r.Slow, defaultRegimeSlow),
		intFieldDefault("regime.lookback", &r.Lookback, defaultRegimeLookback),
	)
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
