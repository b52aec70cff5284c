package exit

import (
	"time"

	"tiller/internal/types"
)

// RuleSource resolves the rule applying to a symbol. Satisfied by *Registry.
type RuleSource interface {
	RuleFor(symbol string) (Rule, bool)
}

// Policy adapts the rule registry to the controller's exit hook.
type Policy struct {
	rules RuleSource
	nowFn func() time.Time
}

func NewPolicy(rules RuleSource) *Policy {
	return &Policy{rules: rules, nowFn: time.Now}
}

// ShouldExit reports whether the position has hit its stop, target or hold
// ceiling under the currently loaded rules.
func (p *Policy) ShouldExit(pos types.Position) (string, bool) {
	rule, ok := p.rules.RuleFor(pos.Symbol)
	if !ok {
		return "", false
	}
	return rule.Evaluate(pos, p.nowFn())
}
