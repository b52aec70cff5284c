package exit

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"tiller/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// rulesSchema validates the exit rules document before it replaces the live
// snapshot. A document that fails here is rejected wholesale; the previous
// rules keep serving.
const rulesSchema = `{
  "type": "object",
  "required": ["exit_rules"],
  "properties": {
    "exit_rules": {
      "type": "object",
      "minProperties": 1,
      "additionalProperties": {
        "type": "object",
        "properties": {
          "id": {"type": "string"},
          "description": {"type": "string"},
          "stop_loss_percent": {"type": "number", "minimum": 0, "maximum": 100},
          "take_profit_percent": {"type": "number", "minimum": 0},
          "max_hold_minutes": {"type": "number", "minimum": 0}
        },
        "additionalProperties": false
      }
    }
  }
}`

// Snapshot is an immutable view of the loaded rules.
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Rules    map[string]Rule
}

// Registry loads exit rules from a YAML file and hot-reloads on change. A
// reload that fails validation keeps the previous snapshot.
type Registry struct {
	path     string
	v        *viper.Viper
	compiled *jsonschema.Schema

	mu       sync.RWMutex
	snapshot Snapshot
}

func NewRegistry(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("exit rule registry requires path")
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("exit_rules.json", strings.NewReader(rulesSchema)); err != nil {
		return nil, fmt.Errorf("compile exit rules schema: %w", err)
	}
	compiled, err := compiler.Compile("exit_rules.json")
	if err != nil {
		return nil, fmt.Errorf("compile exit rules schema: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read exit rules failed: %w", err)
	}
	r := &Registry{path: path, v: v, compiled: compiled}
	if err := r.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(_ fsnotify.Event) {
		if err := r.reload(); err != nil {
			logger.Errorf("exit rules reload failed, keeping previous rules: %v", err)
		}
	})
	v.WatchConfig()
	return r, nil
}

// Snapshot returns the current rule set.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneSnapshot(r.snapshot)
}

// RuleFor returns the rule matching a symbol, falling back to "default".
func (r *Registry) RuleFor(symbol string) (Rule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if rule, ok := r.snapshot.Rules[symbol]; ok {
		return rule, true
	}
	rule, ok := r.snapshot.Rules[DefaultRuleKey]
	return rule, ok
}

func (r *Registry) reload() error {
	cfg, err := readRulesFile(r.path, r.compiled)
	if err != nil {
		return err
	}
	rules := make(map[string]Rule, len(cfg.ExitRules))
	for key, rule := range cfg.ExitRules {
		norm := normalizeRule(key, rule)
		lookup := strings.ToUpper(strings.TrimSpace(key))
		if strings.EqualFold(key, DefaultRuleKey) {
			lookup = DefaultRuleKey
		}
		rules[lookup] = norm
	}
	r.mu.Lock()
	r.snapshot = Snapshot{
		Version:  r.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Rules:    rules,
	}
	r.mu.Unlock()
	logger.Infof("Exit rule registry loaded %d rules from %s", len(rules), filepath.Base(r.path))
	return nil
}

func readRulesFile(path string, compiled *jsonschema.Schema) (FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read exit rules failed: %w", err)
	}

	// Schema validation runs on the generic document so unknown keys and
	// out-of-range numbers are caught before decoding into structs.
	var generic any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return FileConfig{}, fmt.Errorf("parse exit rules failed: %w", err)
	}
	if err := compiled.Validate(normalizeYAML(generic)); err != nil {
		return FileConfig{}, fmt.Errorf("exit rules rejected by schema: %w", err)
	}

	var cfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return FileConfig{}, fmt.Errorf("parse exit rules failed: %w", err)
	}
	return cfg, nil
}

// normalizeYAML converts yaml.v3's map[string]any trees into the shapes the
// jsonschema validator expects (ints become float-compatible json numbers).
func normalizeYAML(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = normalizeYAML(child)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[fmt.Sprintf("%v", k)] = normalizeYAML(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = normalizeYAML(child)
		}
		return out
	case int:
		return float64(val)
	case int64:
		return float64(val)
	default:
		return val
	}
}

func cloneSnapshot(src Snapshot) Snapshot {
	dst := Snapshot{
		Version:  src.Version,
		LoadedAt: src.LoadedAt,
		Rules:    make(map[string]Rule, len(src.Rules)),
	}
	for id, rule := range src.Rules {
		dst.Rules[id] = rule
	}
	return dst
}
