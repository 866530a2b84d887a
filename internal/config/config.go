// Package config loads qaforge's YAML configuration. Values are resolved
// in three layers: file values first, then QAFORGE_* environment
// overrides, then built-in defaults for anything still unset; the merged
// result is validated section by section before it is installed.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var globalConfig *Config

// envPrefix namespaces every environment override this package honors.
const envPrefix = "QAFORGE_"

// Load resolves the configuration. An explicit path must exist and parse;
// with no path, the default search locations are probed in order and a
// repo with no config file at all runs on env overrides and defaults
// alone.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	if configPath != "" {
		if err := readInto(cfg, configPath); err != nil {
			return nil, err
		}
	} else {
		for _, candidate := range searchPaths() {
			if err := readInto(cfg, candidate); err == nil {
				break
			}
		}
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	globalConfig = cfg
	return cfg, nil
}

// searchPaths lists the locations probed when no explicit path is given:
// the working directory first, then the user's config directory.
func searchPaths() []string {
	paths := []string{
		"qaforge.yaml",
		filepath.Join("config", "qaforge.yaml"),
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "qaforge", "qaforge.yaml"))
	}
	return paths
}

func readInto(cfg *Config, path string) error {
	data, err := os.ReadFile(expandHome(path))
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides layers QAFORGE_* variables over file values. Only the
// knobs an operator plausibly flips per invocation are exposed; malformed
// numeric values are ignored rather than fatal.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(envPrefix + "WORKSPACE"); v != "" {
		cfg.Workspace.Path = v
	}
	if n, ok := envInt("MAX_ITERATIONS"); ok {
		cfg.QALoop.MaxIterations = n
	}
	if n, ok := envInt("MAX_TOKENS"); ok {
		cfg.Context.MaxTokens = n
	}
	if n, ok := envInt("MAX_AGENTS"); ok {
		cfg.Agents.MaxAgents = n
	}
	if v := os.Getenv(envPrefix + "CODER_COMMAND"); v != "" {
		cfg.Agents.Coder.Command = v
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// applyDefaults fills anything the file and environment left unset,
// section by section.
func applyDefaults(cfg *Config) {
	if cfg.Workspace.Path == "" {
		if cwd, err := os.Getwd(); err == nil {
			cfg.Workspace.Path = cwd
		} else {
			cfg.Workspace.Path = "."
		}
	} else {
		cfg.Workspace.Path = expandHome(cfg.Workspace.Path)
	}

	if cfg.Agents.MaxAgents == 0 {
		cfg.Agents.MaxAgents = 4
	}
	if cfg.Agents.MaxConcurrent == 0 {
		cfg.Agents.MaxConcurrent = 2
	}
	if cfg.Agents.Coder.GenerateTool == "" {
		cfg.Agents.Coder.GenerateTool = "generate"
	}
	if cfg.Agents.Coder.FixTool == "" {
		cfg.Agents.Coder.FixTool = "fix"
	}

	if cfg.QALoop.MaxIterations == 0 {
		cfg.QALoop.MaxIterations = 50
	}

	if cfg.Context.MaxTokens == 0 {
		cfg.Context.MaxTokens = 4000
	}
	if cfg.Context.MaxFiles == 0 {
		cfg.Context.MaxFiles = 500
	}

	if cfg.Review.MaxDiffSize == 0 {
		cfg.Review.MaxDiffSize = 50000
	}

	if cfg.Audit.LogPath == "" {
		cfg.Audit.LogPath = ".qaforge/audit.log"
	}
	if cfg.Audit.LogLevel == "" {
		cfg.Audit.LogLevel = "info"
	}

	if cfg.Memory.DBPath == "" {
		cfg.Memory.DBPath = ".qaforge/memory.db"
	}
}

// Validate rejects configurations the pipeline cannot run with. It runs
// after defaulting, so a failure always points at an explicit bad value.
func (c *Config) Validate() error {
	if c.QALoop.MaxIterations < 1 {
		return fmt.Errorf("qaloop.max_iterations must be positive, got %d", c.QALoop.MaxIterations)
	}
	if c.QALoop.AgentIdleTimeout < 0 {
		return fmt.Errorf("qaloop.agent_idle_timeout must not be negative, got %d", c.QALoop.AgentIdleTimeout)
	}
	if c.Context.MaxTokens < 1 {
		return fmt.Errorf("context.max_tokens must be positive, got %d", c.Context.MaxTokens)
	}
	if c.Context.MaxFiles < 1 {
		return fmt.Errorf("context.max_files must be positive, got %d", c.Context.MaxFiles)
	}
	if c.Review.MaxDiffSize < 1 {
		return fmt.Errorf("review.max_diff_size must be positive, got %d", c.Review.MaxDiffSize)
	}
	if c.Agents.MaxAgents < 1 {
		return fmt.Errorf("agents.max_agents must be positive, got %d", c.Agents.MaxAgents)
	}
	if c.Agents.MaxConcurrent < 1 {
		return fmt.Errorf("agents.max_concurrent must be positive, got %d", c.Agents.MaxConcurrent)
	}
	switch c.Audit.LogLevel {
	case "debug", "info", "warning", "error":
	default:
		return fmt.Errorf("audit.log_level must be one of debug/info/warning/error, got %q", c.Audit.LogLevel)
	}
	return nil
}

// Get returns the installed configuration, or a validated default one if
// Load was never called.
func Get() *Config {
	if globalConfig != nil {
		return globalConfig
	}
	cfg := &Config{}
	applyEnvOverrides(cfg)
	applyDefaults(cfg)
	return cfg
}

// GetWorkspacePath returns the configured workspace path.
func GetWorkspacePath() string {
	return Get().Workspace.Path
}

// GetAuditLogPath returns the audit log path, resolved against the
// workspace when relative.
func GetAuditLogPath() string {
	cfg := Get()
	if filepath.IsAbs(cfg.Audit.LogPath) {
		return cfg.Audit.LogPath
	}
	return filepath.Join(cfg.Workspace.Path, cfg.Audit.LogPath)
}

// IsAuditEnabled reports whether gate-outcome audit logging is enabled.
func IsAuditEnabled() bool {
	return Get().Audit.Enabled
}

// expandHome rewrites a leading ~ or ~/ to the user's home directory;
// anything else passes through untouched.
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
