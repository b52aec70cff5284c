package app

import (
	"fmt"
	"strings"

	"tiller/internal/allocation"
	"tiller/internal/config"
	"tiller/internal/gateway/binance"
	"tiller/internal/gateway/broker"
	"tiller/internal/gateway/sim"
	"tiller/internal/logger"
	"tiller/internal/market"
	"tiller/internal/pkg/circuit"
	"tiller/internal/risk"
	"tiller/internal/store"
	"tiller/internal/store/gormstore"
	"tiller/internal/store/memstore"
	"tiller/internal/strategy/exit"
	tillerhttp "tiller/internal/transport/http"
)

// positionBackend is the storage contract the builder needs: positions plus
// the decision log, both served by gormstore and memstore.
type positionBackend interface {
	store.PositionStore
	store.DecisionLog
	Close() error
}

// Build wires the configured components into a runnable App.
func Build(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.SetFormat(cfg.App.LogFormat)

	registry := circuit.NewRegistry()

	backend, candles, err := buildBroker(cfg)
	if err != nil {
		return nil, err
	}
	guarded := broker.NewGuard(backend, registry, broker.GuardThresholds{
		BalanceThreshold: cfg.Breakers.Balance.FailureThreshold,
		BalanceRecovery:  cfg.Breakers.Balance.RecoveryTimeout(),
		PriceThreshold:   cfg.Breakers.Price.FailureThreshold,
		PriceRecovery:    cfg.Breakers.Price.RecoveryTimeout(),
		OrderThreshold:   cfg.Breakers.Order.FailureThreshold,
		OrderRecovery:    cfg.Breakers.Order.RecoveryTimeout(),
	}, cfg.Broker.Timeout())

	backing, err := buildStore(cfg)
	if err != nil {
		return nil, err
	}

	var regime allocation.RegimeProvider
	if cfg.Regime.Enabled && candles != nil {
		regime = market.NewRegimeDetector(candles, cfg.Regime)
	}
	reconciler := allocation.NewReconciler(guarded, backing, cfg.Reconcile)
	sizer := allocation.NewSizer(cfg.Sizing, risk.NewConcentrationProvider(backing), regime)
	rotation := allocation.NewRotationManager(cfg.Rotation)

	var exitPolicy allocation.ExitPolicy
	var exitRegistry *exit.Registry
	if path := strings.TrimSpace(cfg.Exits.RulesPath); path != "" {
		exitRegistry, err = exit.NewRegistry(path)
		if err != nil {
			return nil, fmt.Errorf("loading exit rules: %w", err)
		}
		exitPolicy = exit.NewPolicy(exitRegistry)
	}

	controller := allocation.NewController(cfg.App, cfg.Sizing, allocation.ControllerDeps{
		Reconciler: reconciler,
		Sizer:      sizer,
		Rotation:   rotation,
		Orders:     guarded,
		Prices:     guarded,
		Positions:  backing,
		Decisions:  backing,
		ExitPolicy: exitPolicy,
	})

	var server *tillerhttp.Server
	if strings.TrimSpace(cfg.HTTP.Addr) != "" {
		server, err = tillerhttp.NewServer(tillerhttp.ServerConfig{
			Addr:     cfg.HTTP.Addr,
			Handlers: tillerhttp.NewHandlers(controller, registry, backing),
		})
		if err != nil {
			return nil, err
		}
	}

	logger.Infof("App: built with broker=%s store=%s http=%s exits=%v regime=%v",
		backend.Name(), storeLabel(cfg), cfg.HTTP.Addr, exitPolicy != nil, regime != nil)
	return &App{
		cfg:        cfg,
		controller: controller,
		server:     server,
		backing:    backing,
	}, nil
}

func buildBroker(cfg *config.Config) (broker.Broker, market.CandleSource, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Broker.Name)) {
	case "binance":
		b, err := binance.New(binance.Config{
			RESTBaseURL: cfg.Broker.RESTBaseURL,
			APIKey:      cfg.Broker.APIKey,
			APISecret:   cfg.Broker.APISecret,
			HTTPTimeout: cfg.Broker.Timeout(),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("building binance broker: %w", err)
		}
		return b, b, nil
	case "sim":
		seed := cfg.Sizing.TargetAccountSize
		if seed <= 0 {
			seed = 10000
		}
		return sim.New(map[string]float64{cfg.App.Denomination: seed}), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown broker %q", cfg.Broker.Name)
	}
}

func buildStore(cfg *config.Config) (positionBackend, error) {
	path := strings.TrimSpace(cfg.Store.Path)
	if path == "" || path == "memory" {
		return memstore.New(), nil
	}
	st, err := gormstore.NewGormStore(path)
	if err != nil {
		return nil, fmt.Errorf("opening position store: %w", err)
	}
	return st, nil
}

func storeLabel(cfg *config.Config) string {
	path := strings.TrimSpace(cfg.Store.Path)
	if path == "" || path == "memory" {
		return "memory"
	}
	return path
}
