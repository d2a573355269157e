package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads path (typically <tau_root>/config.yaml), decoding its
// contents over Default() so any section or field config.yaml omits
// keeps its built-in default. A missing file is not an error: most
// deployments configure tau entirely through flags and TAU_* env vars
// instead, per the precedence order flags > env > config.yaml > default
// this package's caller (cmd/tau) enforces by applying config.yaml's
// values only where a flag was never set.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
