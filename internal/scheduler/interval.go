// Package scheduler runs periodic maintenance tasks (mark refresh, exit
// sweeps) on fixed intervals.
package scheduler

import (
	"context"
	"strconv"
	"strings"
	"time"

	"tiller/internal/logger"
)

// IntervalScheduler runs a task every Interval until the context cancels.
// The task runs inline; a slow task delays the next tick rather than
// overlapping it.
type IntervalScheduler struct {
	Name           string
	Interval       time.Duration
	RunImmediately bool

	ctx context.Context
}

func NewIntervalScheduler(ctx context.Context, name string, interval time.Duration) *IntervalScheduler {
	if ctx == nil {
		ctx = context.Background()
	}
	return &IntervalScheduler{Name: name, Interval: interval, ctx: ctx}
}

func (s *IntervalScheduler) Start(task func()) {
	if s == nil || task == nil {
		return
	}
	if s.Interval <= 0 {
		logger.Warnf("IntervalScheduler[%s]: invalid interval=%s, exit", s.Name, s.Interval)
		return
	}
	logger.Infof("IntervalScheduler[%s]: started interval=%s", s.Name, s.Interval)

	if s.RunImmediately {
		task()
	}
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			logger.Infof("IntervalScheduler[%s]: ctx done, exit", s.Name)
			return
		case <-ticker.C:
			task()
		}
	}
}

// ParseIntervalDuration parses "15m", "1h", "4h", "1d", "1w" into a
// duration. Returns (0, false) on invalid input.
func ParseIntervalDuration(interval string) (time.Duration, bool) {
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return 0, false
	}
	unit := interval[len(interval)-1]
	numStr := strings.TrimSpace(interval[:len(interval)-1])
	if numStr == "" {
		return 0, false
	}
	n, err := strconv.Atoi(numStr)
	if err != nil || n <= 0 {
		return 0, false
	}
	switch unit {
	case 'm':
		return time.Duration(n) * time.Minute, true
	case 'h':
		return time.Duration(n) * time.Hour, true
	case 'd':
		return time.Duration(n) * 24 * time.Hour, true
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, true
	default:
		return 0, false
	}
}
