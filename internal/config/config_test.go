package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "qaforge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, "workspace:\n  path: "+dir+"\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.Workspace.Path)
	assert.Equal(t, 50, cfg.QALoop.MaxIterations)
	assert.True(t, cfg.QALoop.StopOnFirstFailure())
	assert.Equal(t, 4000, cfg.Context.MaxTokens)
	assert.Equal(t, 500, cfg.Context.MaxFiles)
	assert.Equal(t, 50000, cfg.Review.MaxDiffSize)
	assert.Equal(t, 4, cfg.Agents.MaxAgents)
	assert.Equal(t, "generate", cfg.Agents.Coder.GenerateTool)
	assert.Equal(t, "fix", cfg.Agents.Coder.FixTool)
}

func TestLoad_OverridesSurvive(t *testing.T) {
	path := writeConfig(t, `
qaloop:
  max_iterations: 7
  continue_on_failure: true
agents:
  max_agents: 9
  coder:
    command: codegen-server
    generate_tool: make_code
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.QALoop.MaxIterations)
	assert.False(t, cfg.QALoop.StopOnFirstFailure())
	assert.Equal(t, 9, cfg.Agents.MaxAgents)
	assert.Equal(t, "codegen-server", cfg.Agents.Coder.Command)
	assert.Equal(t, "make_code", cfg.Agents.Coder.GenerateTool)
	assert.Equal(t, "fix", cfg.Agents.Coder.FixTool)
}

func TestLoad_EnvOverridesLayerOverFile(t *testing.T) {
	path := writeConfig(t, "qaloop:\n  max_iterations: 7\n")

	t.Setenv("QAFORGE_MAX_ITERATIONS", "12")
	t.Setenv("QAFORGE_CODER_COMMAND", "env-coder")
	t.Setenv("QAFORGE_MAX_TOKENS", "not-a-number") // ignored, default applies

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.QALoop.MaxIterations)
	assert.Equal(t, "env-coder", cfg.Agents.Coder.Command)
	assert.Equal(t, 4000, cfg.Context.MaxTokens)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"negative iterations", "qaloop:\n  max_iterations: -1\n"},
		{"negative idle timeout", "qaloop:\n  agent_idle_timeout: -5\n"},
		{"negative diff size", "review:\n  max_diff_size: -1\n"},
		{"bad log level", "audit:\n  log_level: shout\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid configuration")
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
