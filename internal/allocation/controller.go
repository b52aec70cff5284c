package allocation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"tiller/internal/config"
	"tiller/internal/gateway/broker"
	"tiller/internal/logger"
	"tiller/internal/store"
	"tiller/internal/types"

	"github.com/google/uuid"
)

// ExitPolicy is the external collaborator that decides stop/target exits.
type ExitPolicy interface {
	ShouldExit(p types.Position) (reason string, exit bool)
}

// Decision is the controller's answer for one opportunity.
type Decision struct {
	TraceID  string                      `json:"trace_id"`
	Admitted bool                        `json:"admitted"`
	Reason   string                      `json:"reason,omitempty"`
	Sizing   *types.SizingRecommendation `json:"sizing,omitempty"`
	Rotated  *types.RotationDecision     `json:"rotated,omitempty"`
	Position *types.Position             `json:"position,omitempty"`
}

// ExitResult reports one closed position from an exit sweep.
type ExitResult struct {
	Position    types.Position `json:"position"`
	RealizedPnL float64        `json:"realized_pnl"`
	Reason      string         `json:"reason"`
}

// Controller composes reconciler, sizer and rotation manager into the
// per-opportunity decision loop. Evaluations are serialized so a rotation's
// effect on available capital is always visible to the next sizing call.
type Controller struct {
	denomination string
	minTradeSize float64

	reconciler *Reconciler
	sizer      *Sizer
	rotation   *RotationManager
	orders     broker.OrderProvider
	prices     broker.PriceProvider
	positions  store.PositionStore
	decisions  store.DecisionLog
	exitPolicy ExitPolicy

	evalMu     sync.Mutex
	locks      keyedLocks
	pending    atomic.Int64
	authFailed atomic.Bool
	stopped    atomic.Bool
	inflight   sync.WaitGroup
}

type ControllerDeps struct {
	Reconciler *Reconciler
	Sizer      *Sizer
	Rotation   *RotationManager
	Orders     broker.OrderProvider
	Prices     broker.PriceProvider
	Positions  store.PositionStore
	Decisions  store.DecisionLog
	ExitPolicy ExitPolicy
}

func NewController(appCfg config.AppConfig, sizingCfg config.SizingConfig, deps ControllerDeps) *Controller {
	return &Controller{
		denomination: appCfg.Denomination,
		minTradeSize: sizingCfg.MinTradeSize,
		reconciler:   deps.Reconciler,
		sizer:        deps.Sizer,
		rotation:     deps.Rotation,
		orders:       deps.Orders,
		prices:       deps.Prices,
		positions:    deps.Positions,
		decisions:    deps.Decisions,
		exitPolicy:   deps.ExitPolicy,
	}
}

// Recover verifies the open-position set is readable at boot so rotation
// decisions survive restarts.
func (c *Controller) Recover(ctx context.Context) error {
	open, err := c.positions.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("hydrating open positions: %w", err)
	}
	logger.Infof("Controller: recovered %d open positions", len(open))
	return nil
}

// Stop halts new opportunity intake. In-flight rotations and closes run to
// completion; a half-closed position is a dangerous state.
func (c *Controller) Stop() {
	if c.stopped.Swap(true) {
		return
	}
	c.inflight.Wait()
	logger.Infof("Controller: intake stopped, in-flight work drained")
}

// EvaluateOpportunity runs the decision state machine for one opportunity:
// reconcile, size, rotate-then-retry at most once, admit or reject.
func (c *Controller) EvaluateOpportunity(ctx context.Context, opp types.Opportunity) (Decision, error) {
	traceID := uuid.NewString()
	decision := Decision{TraceID: traceID}

	if c.stopped.Load() {
		decision.Reason = ReasonStopped
		return decision, ErrControllerStopped
	}
	c.inflight.Add(1)
	defer c.inflight.Done()
	c.pending.Add(1)
	defer c.pending.Add(-1)

	if c.authFailed.Load() {
		decision.Reason = ReasonAuthFailed
		c.logDecision(ctx, traceID, opp, "rejected", decision)
		return decision, nil
	}

	denom := opp.Denomination
	if denom == "" {
		denom = c.denomination
	}

	c.evalMu.Lock()
	defer c.evalMu.Unlock()

	snap, err := c.reconciler.ComputeAvailable(ctx, denom)
	if err != nil {
		return decision, err
	}
	if snap.Degraded {
		decision.Reason = ReasonBalanceUnavailable
		logger.Warnf("Controller: rejecting %s, %s (%s)", opp.Symbol, ReasonBalanceUnavailable, snap.DegradedReason)
		c.logDecision(ctx, traceID, opp, "rejected", decision)
		return decision, nil
	}

	rec, err := c.sizer.Size(ctx, opp, snap)
	if err != nil {
		return decision, err
	}
	decision.Sizing = &rec

	open, err := c.positions.ListOpen(ctx)
	if err != nil {
		return decision, err
	}
	rot := c.rotation.Evaluate(openInDenom(open, denom), snap.Available, snap.Total, int(c.pending.Load()))

	if rot.ShouldRotate {
		decision.Rotated = &rot
		if err := c.executeRotation(ctx, traceID, rot); err != nil {
			if errors.Is(err, ErrRotationConflict) {
				// Lost the race; re-evaluate once against a fresh snapshot.
				logger.Warnf("Controller: rotation target %s already closed, re-evaluating", rot.Position.ID)
			} else {
				decision.Reason = fmt.Sprintf("%s: %v", ReasonRotationFailed, err)
				c.logDecision(ctx, traceID, opp, "rejected", decision)
				return decision, nil
			}
		}
		c.reconciler.Invalidate(denom)

		snap, err = c.reconciler.ComputeAvailable(ctx, denom)
		if err != nil {
			return decision, err
		}
		if snap.Degraded {
			decision.Reason = ReasonBalanceUnavailable
			c.logDecision(ctx, traceID, opp, "rejected", decision)
			return decision, nil
		}
		rec, err = c.sizer.Size(ctx, opp, snap)
		if err != nil {
			return decision, err
		}
		decision.Sizing = &rec

		open, err = c.positions.ListOpen(ctx)
		if err != nil {
			return decision, err
		}
		again := c.rotation.Evaluate(openInDenom(open, denom), snap.Available, snap.Total, int(c.pending.Load()))
		if again.ShouldRotate {
			// A second rotation in the same cycle is rejected rather than
			// looped, to bound decision latency.
			decision.Reason = ReasonRotationFailed + ": capital still saturated after rotation"
			c.logDecision(ctx, traceID, opp, "rejected", decision)
			return decision, nil
		}
	}

	if rec.Size < c.minTradeSize {
		if snap.Available < c.minTradeSize {
			decision.Reason = ReasonNoCapital
		} else {
			decision.Reason = ReasonBelowMinimum
		}
		c.logDecision(ctx, traceID, opp, "rejected", decision)
		return decision, nil
	}

	pos := types.Position{
		ID:           uuid.NewString(),
		Symbol:       opp.Symbol,
		Side:         opp.Side,
		Quantity:     rec.Quantity,
		EntryPrice:   opp.CurrentPrice,
		CurrentPrice: opp.CurrentPrice,
		Denomination: denom,
		Strategy:     opp.Strategy,
		Status:       types.PositionOpen,
		OpenedAt:     time.Now(),
	}
	if err := c.positions.Create(ctx, pos); err != nil {
		return decision, fmt.Errorf("persisting admitted position: %w", err)
	}

	decision.Admitted = true
	decision.Position = &pos
	logger.Infof("Controller: admitted %s %s size=%.2f %s (fraction=%.4f, trace=%s)",
		opp.Symbol, opp.Side, rec.Size, denom, rec.FinalFraction, traceID)
	c.logDecision(ctx, traceID, opp, "admitted", decision)
	return decision, nil
}

// executeRotation closes (or partially closes) the selected position. It
// runs on a detached context: once started, shutdown must not abort it.
func (c *Controller) executeRotation(ctx context.Context, traceID string, rot types.RotationDecision) error {
	if rot.Position == nil {
		return fmt.Errorf("rotation decision carries no position")
	}
	ctx = context.WithoutCancel(ctx)
	id := rot.Position.ID

	unlock := c.locks.lock(id)
	defer unlock()

	pos, err := c.positions.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrRotationConflict
		}
		return err
	}
	if pos.Status != types.PositionOpen {
		return ErrRotationConflict
	}

	fraction := rot.CloseFraction
	closeQty := pos.Quantity * fraction
	res, err := c.orders.ClosePosition(ctx, broker.CloseRequest{
		PositionID: id,
		Symbol:     pos.Symbol,
		Side:       string(pos.Side),
		Quantity:   closeQty,
		Fraction:   fraction,
	})
	if err != nil {
		c.noteBrokerErr(err)
		return fmt.Errorf("closing %s: %w", pos.Symbol, err)
	}

	realized := realizedPnL(pos, res, closeQty)
	if fraction >= 1 {
		err = c.positions.MarkClosed(ctx, id, store.CloseFields{
			ExitPrice:   res.ExitPrice,
			RealizedPnL: realized,
			ClosedAt:    res.ExecutedAt,
		})
	} else {
		err = c.positions.Reduce(ctx, id, pos.Quantity-res.ClosedQty, realized)
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrRotationConflict
		}
		return err
	}

	logger.Infof("Controller: rotated %s (%s urgency, fraction=%.2f, realized=%.2f): %s",
		pos.Symbol, rot.Urgency, fraction, realized, rot.Reason)
	c.appendDecision(ctx, store.DecisionRecord{
		TraceID:    traceID,
		Symbol:     pos.Symbol,
		Outcome:    "rotated",
		Reason:     rot.Reason,
		Fraction:   fraction,
		Urgency:    string(rot.Urgency),
		PositionID: id,
	})
	return nil
}

// CheckExits evaluates open positions against the exit policy and closes
// the ones that hit stop or target. Exits proceed even when admission is
// blocked by a degraded balance.
func (c *Controller) CheckExits(ctx context.Context) ([]ExitResult, error) {
	if c.exitPolicy == nil {
		return nil, nil
	}
	open, err := c.positions.ListOpen(ctx)
	if err != nil {
		return nil, err
	}
	var results []ExitResult
	for _, pos := range open {
		reason, exit := c.exitPolicy.ShouldExit(pos)
		if !exit {
			continue
		}
		result, err := c.closeForExit(ctx, pos, reason)
		if err != nil {
			if errors.Is(err, ErrRotationConflict) {
				continue
			}
			logger.Errorf("Controller: exit close failed for %s: %v", pos.Symbol, err)
			continue
		}
		results = append(results, result)
	}
	return results, nil
}

func (c *Controller) closeForExit(ctx context.Context, pos types.Position, reason string) (ExitResult, error) {
	ctx = context.WithoutCancel(ctx)
	c.inflight.Add(1)
	defer c.inflight.Done()

	unlock := c.locks.lock(pos.ID)
	defer unlock()

	fresh, err := c.positions.Get(ctx, pos.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ExitResult{}, ErrRotationConflict
		}
		return ExitResult{}, err
	}
	if fresh.Status != types.PositionOpen {
		return ExitResult{}, ErrRotationConflict
	}

	res, err := c.orders.ClosePosition(ctx, broker.CloseRequest{
		PositionID: fresh.ID,
		Symbol:     fresh.Symbol,
		Side:       string(fresh.Side),
		Quantity:   fresh.Quantity,
		Fraction:   1,
	})
	if err != nil {
		c.noteBrokerErr(err)
		return ExitResult{}, err
	}
	realized := realizedPnL(fresh, res, fresh.Quantity)
	if err := c.positions.MarkClosed(ctx, fresh.ID, store.CloseFields{
		ExitPrice:   res.ExitPrice,
		RealizedPnL: realized,
		ClosedAt:    res.ExecutedAt,
	}); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ExitResult{}, ErrRotationConflict
		}
		return ExitResult{}, err
	}
	logger.Infof("Controller: exit closed %s (%s), realized=%.2f", fresh.Symbol, reason, realized)
	fresh.Status = types.PositionClosed
	fresh.RealizedPnL += realized
	return ExitResult{Position: fresh, RealizedPnL: realized, Reason: reason}, nil
}

// RefreshMarks updates current price and unrealized P&L of every open
// position through the circuit-protected price provider.
func (c *Controller) RefreshMarks(ctx context.Context) {
	open, err := c.positions.ListOpen(ctx)
	if err != nil {
		logger.Warnf("Controller: mark refresh list failed: %v", err)
		return
	}
	for _, pos := range open {
		price, err := c.prices.GetPrice(ctx, pos.Symbol)
		if err != nil {
			logger.Debugf("Controller: price refresh for %s failed: %v", pos.Symbol, err)
			continue
		}
		move := price - pos.EntryPrice
		if pos.Side == types.SideShort {
			move = -move
		}
		unrealized := move * pos.Quantity
		unlock := c.locks.lock(pos.ID)
		if err := c.positions.UpdateMark(ctx, pos.ID, price, unrealized); err != nil && !errors.Is(err, store.ErrNotFound) {
			logger.Warnf("Controller: mark update for %s failed: %v", pos.Symbol, err)
		}
		unlock()
	}
}

// GetAccountSnapshot exposes the reconciled account view.
func (c *Controller) GetAccountSnapshot(ctx context.Context) (types.AccountSnapshot, error) {
	return c.reconciler.ComputeAvailable(ctx, c.denomination)
}

// ListOpenPositions exposes the tracked open positions.
func (c *Controller) ListOpenPositions(ctx context.Context) ([]types.Position, error) {
	return c.positions.ListOpen(ctx)
}

// AuthFailed reports whether a fatal broker auth failure has latched.
func (c *Controller) AuthFailed() bool {
	return c.authFailed.Load()
}

func (c *Controller) noteBrokerErr(err error) {
	if errors.Is(err, broker.ErrAuth) {
		if !c.authFailed.Swap(true) {
			logger.Errorf("Controller: broker authentication failed, halting new admissions: %v", err)
		}
	}
}

func (c *Controller) logDecision(ctx context.Context, traceID string, opp types.Opportunity, outcome string, d Decision) {
	rec := store.DecisionRecord{
		TraceID: traceID,
		Symbol:  opp.Symbol,
		Outcome: outcome,
		Reason:  d.Reason,
	}
	if d.Sizing != nil {
		rec.SizeUSD = d.Sizing.Size
		rec.Fraction = d.Sizing.FinalFraction
		rec.Factors = d.Sizing.Factors
	}
	if d.Rotated != nil {
		rec.Urgency = string(d.Rotated.Urgency)
	}
	if d.Position != nil {
		rec.PositionID = d.Position.ID
	}
	c.appendDecision(ctx, rec)
}

func (c *Controller) appendDecision(ctx context.Context, rec store.DecisionRecord) {
	if c.decisions == nil {
		return
	}
	if err := c.decisions.Append(ctx, rec); err != nil {
		logger.Warnf("Controller: decision log append failed: %v", err)
	}
}

func realizedPnL(pos types.Position, res broker.ExecutionResult, closedQty float64) float64 {
	if res.RealizedPnL != 0 {
		return res.RealizedPnL
	}
	if res.ExitPrice <= 0 {
		return 0
	}
	move := res.ExitPrice - pos.EntryPrice
	if pos.Side == types.SideShort {
		move = -move
	}
	qty := res.ClosedQty
	if qty <= 0 {
		qty = closedQty
	}
	return move * qty
}

func openInDenom(open []types.Position, denom string) []types.Position {
	out := make([]types.Position, 0, len(open))
	for _, p := range open {
		if p.Denomination == denom {
			out = append(out, p)
		}
	}
	return out
}

// keyedLocks serializes read-then-write operations per position id so a
// position cannot be double-closed or sized while being rotated.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedLocks) lock(id string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	l, ok := k.locks[id]
	if !ok {
		l = &sync.Mutex{}
		k.locks[id] = l
	}
	k.mu.Unlock()
	l.Lock()
	return l.Unlock
}
