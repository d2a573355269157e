package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
llm:
  model: claude-opus-4-20250514
policy:
  max_file_read_bytes: 1048576
scheduler:
  definitions_dir: /var/tau/events
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "claude-opus-4-20250514", cfg.LLM.Model)
	require.Equal(t, "anthropic", cfg.LLM.Provider, "unset fields keep Default()'s value")
	require.Equal(t, int64(1048576), cfg.Policy.MaxFileReadBytes)
	require.Equal(t, "/var/tau/events", cfg.Scheduler.DefinitionsDir)
	require.Equal(t, 64, cfg.Scheduler.QueueLimit, "unset scheduler field keeps Default()'s value")
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: [valid"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}
