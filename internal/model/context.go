package model

import "time"

// ScoredFile is a file-content component of a TaskContext with a relevance
// reason and score.
type ScoredFile struct {
	Path     string
	Content  string
	Reason   string // task_file | test | type_definition | dependency | requested | related
	Score    float64
}

// CodeHit is one result from the code-memory backend.
type CodeHit struct {
	Content  string
	Score    float64
}

// MemoryHit is one result from the general memory backend.
type MemoryHit struct {
	ID      string
	Content string
	Score   float64
	Source  string
}

// TokenBudget is the two-level fixed/dynamic breakdown of a context's
// token allocation.
type TokenBudget struct {
	FixedSystemPrompt int
	FixedRepoMap      int
	FixedCodebaseDocs int
	FixedTaskDesc     int

	DynamicFiles      int
	DynamicCodeSearch int
	DynamicMemories   int
	DynamicUserQuery  int
}

// Total returns the sum of both layers (must be ≤ the configured total).
func (b TokenBudget) Total() int {
	return b.FixedSystemPrompt + b.FixedRepoMap + b.FixedCodebaseDocs + b.FixedTaskDesc +
		b.DynamicFiles + b.DynamicCodeSearch + b.DynamicMemories + b.DynamicUserQuery
}

// TaskContext is the bounded bundle of textual inputs supplied to one
// worker for one task.
//
// ConversationHistory is empty at creation and is never appended to.
// Staleness is prevented by rebuilding, not mutation.
type TaskContext struct {
	ID          string
	Task        Task
	AgentID     string

	SystemPrompt         string
	TaskDescription      string
	RepoMapText          string
	CodebaseArchSummary  string

	Files       []ScoredFile
	CodeHits    []CodeHit
	MemoryHits  []MemoryHit

	ConversationHistory []struct {
		Role    string
		Content string
	}

	TokenCount  int
	TokenBudget int
	GeneratedAt time.Time
	WasTruncated bool
}
