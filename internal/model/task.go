// Package model holds the shared data types: Task, Agent, ErrorEntry, the
// per-gate result variants, QALoopResult, Symbol,
// ImportStatement/ExportStatement, DependencyEdge, RepoMap, and
// TaskContext.
package model

import "time"

// Task is created by the caller, immutable once dispatched, and referenced
// by exactly one active QALoop run.
type Task struct {
	ID                 string
	Name               string
	Description        string
	TargetFiles        []string
	AcceptanceCriteria []string
	WorkingDir         string // optional override; falls back to ProjectPath, then the loop's default
	ProjectPath        string
}

// AgentKind enumerates the kinds of worker the pool manages.
type AgentKind string

const (
	AgentKindCoder    AgentKind = "coder"
	AgentKindReviewer AgentKind = "reviewer"
)

// AgentState is one of the four lifecycle states of an agent.
type AgentState string

const (
	AgentStateIdle     AgentState = "idle"
	AgentStateBusy     AgentState = "busy"
	AgentStateDraining AgentState = "draining"
	AgentStateDead     AgentState = "dead"
)

// Agent is spawned by an AgentPool, assigned to at most one task at a time,
// released back to idle on completion, and destroyed on shutdown or
// irrecoverable error.
type Agent struct {
	ID    string
	Kind  AgentKind
	State AgentState
	Pool  string // identity of the owning pool, not a back-pointer
}

// RunResult is the structured outcome of one agent task run.
type RunResult struct {
	Success  bool
	Error    string
	Artifact string
}

// RunTaskContext carries the extra execution context a coder agent
// receives alongside a Task.
type RunTaskContext struct {
	WorkingDir       string
	RelevantFiles    []string
	PreviousAttempts []string
}

// Timestamp is an alias of time.Time; it provides no clock of its own.
type Timestamp = time.Time
