package contextmgr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"qaforge/internal/model"
)

// ContextStatus records how an agent's most recent context build went.
type ContextStatus string

const (
	ContextStatusReady ContextStatus = "ready"
	ContextStatusError ContextStatus = "error"
)

// AgentContextIntegration is the thin wrapper mapping agentId →
// contextId, building on prepare and evicting on task completion or
// failure.
type AgentContextIntegration struct {
	Manager      *Manager
	SystemPrompt string
	MaxTokens    int
	ThrowOnError bool

	mu       sync.Mutex
	contexts map[string]string        // agentID → contextID
	statuses map[string]ContextStatus // agentID → last build status
}

// NewAgentContextIntegration wires an integration around manager.
func NewAgentContextIntegration(manager *Manager, systemPrompt string, maxTokens int, throwOnError bool) *AgentContextIntegration {
	return &AgentContextIntegration{
		Manager:      manager,
		SystemPrompt: systemPrompt,
		MaxTokens:    maxTokens,
		ThrowOnError: throwOnError,
		contexts:     make(map[string]string),
		statuses:     make(map[string]ContextStatus),
	}
}

// PrepareAgentContext builds a fresh context for (agentID, task). When
// ThrowOnError is false, any build failure returns a fallback context
// (minimal system prompt and task description only) and the status is
// recorded as error for observability.
func (i *AgentContextIntegration) PrepareAgentContext(ctx context.Context, agentID string, task model.Task) (*model.TaskContext, error) {
	tc, err := i.Manager.BuildFreshContext(ctx, task, BuildOptions{
		AgentID:      agentID,
		SystemPrompt: i.SystemPrompt,
		MaxTokens:    i.MaxTokens,
	})
	if err != nil {
		if i.ThrowOnError {
			i.setStatus(agentID, "", ContextStatusError)
			return nil, fmt.Errorf("failed to prepare context for agent %s: %w", agentID, err)
		}
		tc = i.fallbackContext(agentID, task)
		i.setStatus(agentID, tc.ID, ContextStatusError)
		return tc, nil
	}

	i.setStatus(agentID, tc.ID, ContextStatusReady)
	return tc, nil
}

// OnTaskComplete evicts the agent's context after a successful run.
func (i *AgentContextIntegration) OnTaskComplete(agentID string) {
	i.Manager.ClearAgentContext(agentID)
	i.clear(agentID)
}

// OnTaskFailed evicts the agent's context after a failed run.
func (i *AgentContextIntegration) OnTaskFailed(agentID string) {
	i.Manager.ClearAgentContext(agentID)
	i.clear(agentID)
}

// ContextIDFor returns the context id currently mapped to an agent.
func (i *AgentContextIntegration) ContextIDFor(agentID string) (string, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	id, ok := i.contexts[agentID]
	return id, ok
}

// StatusFor returns the last recorded build status for an agent.
func (i *AgentContextIntegration) StatusFor(agentID string) (ContextStatus, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	s, ok := i.statuses[agentID]
	return s, ok
}

func (i *AgentContextIntegration) setStatus(agentID, contextID string, status ContextStatus) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if contextID != "" {
		i.contexts[agentID] = contextID
	} else {
		delete(i.contexts, agentID)
	}
	i.statuses[agentID] = status
}

func (i *AgentContextIntegration) clear(agentID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.contexts, agentID)
	delete(i.statuses, agentID)
}

func (i *AgentContextIntegration) fallbackContext(agentID string, task model.Task) *model.TaskContext {
	tc := &model.TaskContext{
		ID:              "fallback-" + task.ID,
		Task:            task,
		AgentID:         agentID,
		SystemPrompt:    i.SystemPrompt,
		TaskDescription: task.Description,
		TokenBudget:     i.MaxTokens,
		GeneratedAt:     time.Now(),
	}
	tc.TokenCount = totalTokens(tc)
	return tc
}
