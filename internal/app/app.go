// Package app assembles the configured components and runs them: the HTTP
// intake surface plus the periodic mark-refresh and exit sweeps.
package app

import (
	"context"
	"fmt"
	"time"

	"tiller/internal/allocation"
	"tiller/internal/config"
	"tiller/internal/logger"
	"tiller/internal/scheduler"
	tillerhttp "tiller/internal/transport/http"

	"golang.org/x/sync/errgroup"
)

type App struct {
	cfg        *config.Config
	controller *allocation.Controller
	server     *tillerhttp.Server
	backing    positionBackend
}

// Controller exposes the allocation controller (for test and replay
// harnesses).
func (a *App) Controller() *allocation.Controller {
	if a == nil {
		return nil
	}
	return a.controller
}

// Run serves until ctx cancels. Shutdown is ordered: intake stops first,
// in-flight closes finish, then the store closes.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if err := a.controller.Recover(ctx); err != nil {
		return err
	}

	group, ctx := errgroup.WithContext(ctx)

	if a.server != nil {
		group.Go(func() error {
			if err := a.server.Start(ctx); err != nil {
				return fmt.Errorf("http server error: %w", err)
			}
			return nil
		})
	}

	interval := time.Duration(a.cfg.App.EvalIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	group.Go(func() error {
		s := scheduler.NewIntervalScheduler(ctx, "maintenance", interval)
		s.RunImmediately = true
		s.Start(func() { a.sweep(ctx) })
		return nil
	})

	err := group.Wait()

	a.controller.Stop()
	if cerr := a.backing.Close(); cerr != nil {
		logger.Warnf("App: store close failed: %v", cerr)
	}
	return err
}

// sweep refreshes marks and closes anything the exit rules flag. Runs on a
// detached context so a shutdown mid-sweep cannot abandon half-closed
// positions.
func (a *App) sweep(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	a.controller.RefreshMarks(ctx)
	closed, err := a.controller.CheckExits(ctx)
	if err != nil {
		logger.Warnf("App: exit sweep failed: %v", err)
		return
	}
	if len(closed) > 0 {
		logger.Infof("App: exit sweep closed %d positions", len(closed))
	}
}
