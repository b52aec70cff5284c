package exit

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"tiller/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRules = `exit_rules:
  default:
    stop_loss_percent: 2.0
    take_profit_percent: 4.0
    max_hold_minutes: 240
  BTCUSDT:
    description: tighter stop for the benchmark pair
    stop_loss_percent: 1.5
    take_profit_percent: 3.0
`

func writeRules(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "exit_rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRegistryLoadsAndResolvesRules(t *testing.T) {
	r, err := NewRegistry(writeRules(t, sampleRules))
	require.NoError(t, err)

	snap := r.Snapshot()
	assert.Equal(t, int64(1), snap.Version)
	assert.Len(t, snap.Rules, 2)

	btc, ok := r.RuleFor("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 1.5, btc.StopLossPercent)

	eth, ok := r.RuleFor("ETHUSDT")
	require.True(t, ok, "unknown symbols fall back to default")
	assert.Equal(t, 2.0, eth.StopLossPercent)
	assert.Equal(t, 240.0, eth.MaxHoldMinutes)
}

func TestRegistryRejectsInvalidDocument(t *testing.T) {
	_, err := NewRegistry(writeRules(t, `exit_rules:
  default:
    stop_loss_percent: -5
`))
	assert.Error(t, err, "negative stop must fail schema validation")

	_, err = NewRegistry(writeRules(t, `exit_rules:
  default:
    unknown_knob: 1
`))
	assert.Error(t, err, "unknown keys must fail schema validation")
}

func TestRegistryKeepsPreviousRulesOnBadReload(t *testing.T) {
	path := writeRules(t, sampleRules)
	r, err := NewRegistry(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("exit_rules: {}\n"), 0o644))
	// The watcher may or may not have fired yet; either way the snapshot
	// must still be the valid one.
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		snap := r.Snapshot()
		require.Len(t, snap.Rules, 2, "invalid reload must not clear rules")
		time.Sleep(50 * time.Millisecond)
	}
}

func TestPolicyUsesRegistryRules(t *testing.T) {
	r, err := NewRegistry(writeRules(t, sampleRules))
	require.NoError(t, err)
	p := NewPolicy(r)

	pos := types.Position{
		ID:           "p1",
		Symbol:       "BTCUSDT",
		Side:         types.SideLong,
		Quantity:     1,
		EntryPrice:   100,
		CurrentPrice: 98.5, // at the 1.5% stop
		Status:       types.PositionOpen,
		OpenedAt:     time.Now(),
	}
	reason, exit := p.ShouldExit(pos)
	require.True(t, exit)
	assert.Contains(t, reason, "stop loss")
}
