package config

// Config represents the qaforge configuration.
type Config struct {
	Workspace WorkspaceConfig      `yaml:"workspace"`
	LLMs      map[string]LLMConfig `yaml:"llms"`
	Agents    AgentsConfig         `yaml:"agents"`
	QALoop    QALoopConfig         `yaml:"qaloop"`
	Context   ContextConfig        `yaml:"context"`
	Analysis  AnalysisConfig       `yaml:"analysis"`
	Review    ReviewConfig         `yaml:"review"`
	Builder   BuilderConfig        `yaml:"builder"`
	Memory    MemoryConfig         `yaml:"memory"`
	Audit     AuditConfig          `yaml:"audit"`
}

// WorkspaceConfig defines the safe workspace directory.
type WorkspaceConfig struct {
	Path string `yaml:"path"`
}

// LLMConfig defines settings for a specific LLM instance.
type LLMConfig struct {
	Provider    string         `yaml:"provider"`
	Model       string         `yaml:"model"`
	Temperature float64        `yaml:"temperature"`
	BaseURL     string         `yaml:"base_url,omitempty"`
	APIKey      string         `yaml:"api_key,omitempty"`
	Fallback    string         `yaml:"fallback,omitempty"`
	Options     map[string]any `yaml:"options,omitempty"`
	KeepAlive   bool           `yaml:"keep_alive"`
	IdleTimeout int            `yaml:"idle_timeout"` // seconds before unloading (0 = immediate)
}

// AgentsConfig bounds the agent pool and names the external
// code-generation tool the coder agents drive.
type AgentsConfig struct {
	MaxAgents     int             `yaml:"max_agents"`     // default 4
	MaxConcurrent int             `yaml:"max_concurrent"` // coordinator worker cap, default 2
	Coder         CoderToolConfig `yaml:"coder"`
}

// CoderToolConfig describes the MCP server process exposing the generate
// and fix tools.
type CoderToolConfig struct {
	Command      string            `yaml:"command"`
	Args         []string          `yaml:"args"`
	Env          map[string]string `yaml:"env,omitempty"`
	GenerateTool string            `yaml:"generate_tool"` // default "generate"
	FixTool      string            `yaml:"fix_tool"`      // default "fix"
}

// QALoopConfig carries the QA loop's retry-budget configuration.
// Stopping on the first failed gate is the default; continue_on_failure
// inverts it so the zero value needs no special-casing.
type QALoopConfig struct {
	WorkingDir        string `yaml:"working_dir"`
	MaxIterations     int    `yaml:"max_iterations"`      // default 50
	ContinueOnFailure bool   `yaml:"continue_on_failure"` // default false
	AgentIdleTimeout  int    `yaml:"agent_idle_timeout"`  // seconds, AgentPool reap policy
}

// StopOnFirstFailure reports whether later gates should be skipped once an
// earlier gate fails.
func (q QALoopConfig) StopOnFirstFailure() bool {
	return !q.ContinueOnFailure
}

// ContextConfig governs the context manager and builder budgets.
type ContextConfig struct {
	MaxTokens       int      `yaml:"max_tokens"` // default 4000
	MaxFiles        int      `yaml:"max_files"`  // RepoMap file cap, default 500
	IncludePatterns []string `yaml:"include_patterns"`
	ExcludePatterns []string `yaml:"exclude_patterns"`
}

// AnalysisConfig toggles parse post-processing.
type AnalysisConfig struct {
	ExtractDocs     bool `yaml:"extract_docs"`
	CountReferences bool `yaml:"count_references"`
}

// ReviewConfig governs the review gate.
type ReviewConfig struct {
	MaxDiffSize         int      `yaml:"max_diff_size"` // default 50000
	AdditionalCriteria  []string `yaml:"additional_criteria"`
}

// BuilderConfig governs context-builder thresholds.
type BuilderConfig struct {
	MinCodeRelevance   float64 `yaml:"min_code_relevance"`
	MinMemoryRelevance float64 `yaml:"min_memory_relevance"`
	MaxFileSizeChars   int     `yaml:"max_file_size_chars"`
}

// MemoryConfig governs the sqlite-backed memory search backends.
type MemoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"db_path"`
}

// AuditConfig defines audit logging settings for gate outcomes.
type AuditConfig struct {
	Enabled  bool   `yaml:"enabled"`
	LogPath  string `yaml:"log_path"`
	LogLevel string `yaml:"log_level"` // debug, info, warning, error
}
