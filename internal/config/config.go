// Package config assembles the typed Config every subcommand reads its
// non-secret defaults from: a YAML file at <tau_root>/config.yaml,
// overlaid by TAU_* environment variables and finally by explicit CLI
// flags, in that precedence order. Config itself carries no behavior;
// each section's fields map directly onto the construction inputs of
// the component it configures (internal/gate.Policy, internal/cron.Config).
package config

import (
	"time"

	"github.com/tau-run/tau/internal/gate"
	"github.com/tau-run/tau/pkg/models"
)

// Config is the root of config.yaml's decoded shape.
type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	Session   SessionConfig   `yaml:"session"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Identity  IdentityConfig  `yaml:"identity"`
	Policy    gate.Policy     `yaml:"policy"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Logging   LoggingConfig   `yaml:"logging"`
	Router    RouterConfig    `yaml:"router"`
	Safety    SafetyConfig    `yaml:"safety"`
}

// RouterConfig names the JSON data files the multi-channel router reads
// its channel policy and route binding tables from. Both default to
// well-known filenames under the tau root; a missing file is treated as
// an empty table (default-allow policy, no bindings) rather than an
// error, so a deployment that never configures routing still runs.
type RouterConfig struct {
	ChannelPolicyPath string `yaml:"channel_policy_path"`
	RouteTablePath    string `yaml:"route_table_path"`
}

// SafetyConfig controls the prompt-injection/secret-leak scanner a fresh
// loop is built with. RulesPath names a JSON file decoding to a
// models.SafetyRuleSet; a missing file is treated as an empty rule set
// (scanning stays configured but never matches) rather than an error,
// matching RouterConfig's missing-file convention.
type SafetyConfig struct {
	models.SafetyPolicy `yaml:",inline"`
	RulesPath           string `yaml:"rules_path"`
}

// LLMConfig selects the default provider/model a fresh loop resolves
// against absent an explicit --model flag. Fallbacks, each a
// "provider/model" string, are tried in order against
// internal/models.RunWithModelFallback when the primary provider's
// call fails.
type LLMConfig struct {
	Provider  string   `yaml:"provider"`
	Model     string   `yaml:"model"`
	Fallbacks []string `yaml:"fallbacks"`
}

// SessionConfig controls default session file placement and context
// pruning, mirroring the teacher's session-scoping knobs narrowed to
// the single-session-file shape this runtime persists.
type SessionConfig struct {
	DefaultSessionPath string               `yaml:"default_session_path"`
	ContextPruning     ContextPruningConfig `yaml:"context_pruning"`
}

// ContextPruningConfig controls in-loop tool-result trimming once a
// session's accumulated context crosses a ratio of the model's window.
type ContextPruningConfig struct {
	SoftTrimRatio float64 `yaml:"soft_trim_ratio"`
	HardClearRatio float64 `yaml:"hard_clear_ratio"`
	MaxToolChars  int     `yaml:"max_tool_chars"`
}

// WorkspaceConfig names the files composeSystemPrompt reads from the
// workspace directory.
type WorkspaceConfig struct {
	Path      string `yaml:"path"`
	SoulFile  string `yaml:"soul_file"`
	UserFile  string `yaml:"user_file"`
}

// IdentityConfig carries the persona fields a baseline system prompt
// may interpolate when the workspace provides no SOUL.md.
type IdentityConfig struct {
	Name  string `yaml:"name"`
	Emoji string `yaml:"emoji"`
}

// SchedulerConfig is the YAML-serializable subset of cron.Config (its
// Logger field is constructed at startup, not decoded).
type SchedulerConfig struct {
	DefinitionsDir       string        `yaml:"definitions_dir"`
	PollInterval         time.Duration `yaml:"poll_interval"`
	QueueLimit           int           `yaml:"queue_limit"`
	StaleImmediateMaxAge time.Duration `yaml:"stale_immediate_max_age"`
}

// LoggingConfig controls the root slog handler.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration a deployment gets with no
// config.yaml present: Anthropic/Claude defaults, the gate's permissive
// DefaultPolicy, and the scheduler's built-in poll interval.
func Default() Config {
	return Config{
		LLM:       LLMConfig{Provider: "anthropic"},
		Policy:    gate.DefaultPolicy(),
		Scheduler: SchedulerConfig{QueueLimit: 64},
		Logging:   LoggingConfig{Level: "info"},
	}
}
