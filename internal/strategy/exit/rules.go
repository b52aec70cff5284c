package exit

import (
	"fmt"
	"strings"
	"time"

	"tiller/internal/types"

	"github.com/shopspring/decimal"
)

// DefaultRuleKey matches any symbol without a dedicated rule.
const DefaultRuleKey = "default"

// Rule is one exit rule: stop, target and a hold ceiling, all optional.
// Percentages are of entry price; zero disables the leg.
type Rule struct {
	ID                string  `mapstructure:"id" yaml:"id"`
	Description       string  `mapstructure:"description" yaml:"description"`
	StopLossPercent   float64 `mapstructure:"stop_loss_percent" yaml:"stop_loss_percent"`
	TakeProfitPercent float64 `mapstructure:"take_profit_percent" yaml:"take_profit_percent"`
	MaxHoldMinutes    float64 `mapstructure:"max_hold_minutes" yaml:"max_hold_minutes"`
}

// FileConfig maps the exit_rules document.
type FileConfig struct {
	ExitRules map[string]Rule `mapstructure:"exit_rules" yaml:"exit_rules"`
}

// Evaluate checks the position against the rule's legs. Price legs use
// decimal comparison so a stop at exactly the trigger price fires; float
// drift around the boundary must not leave a loser open.
func (r Rule) Evaluate(p types.Position, now time.Time) (string, bool) {
	if p.EntryPrice <= 0 || p.CurrentPrice <= 0 {
		return "", false
	}
	entry := decimal.NewFromFloat(p.EntryPrice)
	current := decimal.NewFromFloat(p.CurrentPrice)
	hundred := decimal.NewFromInt(100)

	if r.StopLossPercent > 0 {
		offset := entry.Mul(decimal.NewFromFloat(r.StopLossPercent)).Div(hundred)
		if p.Side == types.SideShort {
			stop := entry.Add(offset)
			if current.GreaterThanOrEqual(stop) {
				return fmt.Sprintf("stop loss at %s (entry %s, -%.2f%%)", stop, entry, r.StopLossPercent), true
			}
		} else {
			stop := entry.Sub(offset)
			if current.LessThanOrEqual(stop) {
				return fmt.Sprintf("stop loss at %s (entry %s, -%.2f%%)", stop, entry, r.StopLossPercent), true
			}
		}
	}

	if r.TakeProfitPercent > 0 {
		offset := entry.Mul(decimal.NewFromFloat(r.TakeProfitPercent)).Div(hundred)
		if p.Side == types.SideShort {
			target := entry.Sub(offset)
			if current.LessThanOrEqual(target) {
				return fmt.Sprintf("take profit at %s (entry %s, +%.2f%%)", target, entry, r.TakeProfitPercent), true
			}
		} else {
			target := entry.Add(offset)
			if current.GreaterThanOrEqual(target) {
				return fmt.Sprintf("take profit at %s (entry %s, +%.2f%%)", target, entry, r.TakeProfitPercent), true
			}
		}
	}

	if r.MaxHoldMinutes > 0 && p.HoldMinutes(now) >= r.MaxHoldMinutes {
		return fmt.Sprintf("max hold %.0fm exceeded", r.MaxHoldMinutes), true
	}

	return "", false
}

func normalizeRule(key string, r Rule) Rule {
	r.ID = strings.TrimSpace(r.ID)
	if r.ID == "" {
		r.ID = strings.TrimSpace(key)
	}
	r.Description = strings.TrimSpace(r.Description)
	return r
}
