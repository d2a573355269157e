package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tau-run/tau/internal/config"
	"github.com/tau-run/tau/internal/safety"
	"github.com/tau-run/tau/pkg/models"
)

// loadSafetyRules reads a models.SafetyRuleSet from path, defaulting to
// <tau-root>/safety-rules.json. A missing file yields an empty rule set
// (scanning stays configured per cfg.Safety but never matches anything)
// rather than an error, so a deployment with no rules file still runs.
func loadSafetyRules(cfg config.Config) (*safety.RuleSet, error) {
	path := cfg.Safety.RulesPath
	if path == "" {
		path = filepath.Join(flags.tauRoot, "safety-rules.json")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return safety.Compile(models.SafetyRuleSet{})
		}
		return nil, fmt.Errorf("safety: read %s: %w", path, err)
	}
	var rs models.SafetyRuleSet
	if err := json.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("safety: parse %s: %w", path, err)
	}
	return safety.Compile(rs)
}
