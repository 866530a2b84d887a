// Package contextmgr owns the per-agent, per-task context lifecycle:
// strict token budgeting and no cross-task carry-over. A context is never
// mutated to keep it current; it is evicted and rebuilt.
package contextmgr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"qaforge/internal/contextbuild"
	"qaforge/internal/model"
	"qaforge/internal/tokenbudget"
)

// Budget fractions of the configured total. System prompt and task
// description are measured, not allocated; the rest of the fixed layer and
// the whole dynamic layer are carved from what remains.
// The dynamic remainder after files, code search, and memories is the user
// query reserve.
const (
	repoMapShare  = 0.25
	docsShare     = 0.10
	filesShare    = 0.55
	codeShare     = 0.20
	memoriesShare = 0.10
)

// BuildOptions parameterize one BuildFreshContext call.
type BuildOptions struct {
	AgentID      string
	SystemPrompt string
	ProjectPath  string
	MaxTokens    int
	ExtraFiles   []string // files to read beyond the task's target files
}

// Stats is the manager's observability snapshot.
type Stats struct {
	Created        int
	Cleared        int
	PeakTokenUsage int
	ActiveContexts int
}

// Validation is validateContext's pure-recompute result.
type Validation struct {
	Valid      bool
	TokenCount int
	MaxTokens  int
	Breakdown  model.TokenBudget
}

// Manager enforces the freshness invariant and the budget invariant for
// every agent–task pair. Eviction and insertion of a new context for the
// same key are atomic: there is no window where both coexist.
type Manager struct {
	builder *contextbuild.Builder

	mu      sync.Mutex
	byTask  map[string]*model.TaskContext
	byAgent map[string]string // agentID → taskID

	created int
	cleared int
	peak    int
}

// NewManager creates a Manager delegating dynamic components to builder.
func NewManager(builder *contextbuild.Builder) *Manager {
	return &Manager{
		builder: builder,
		byTask:  make(map[string]*model.TaskContext),
		byAgent: make(map[string]string),
	}
}

// BuildFreshContext builds a brand-new TaskContext for task. Any prior
// context for the same task or agent is evicted first; callers holding
// stale references must not reuse them. On cancellation the partial
// context is discarded and never enters the active map.
func (m *Manager) BuildFreshContext(ctx context.Context, task model.Task, opts BuildOptions) (*model.TaskContext, error) {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 4000
	}

	m.evict(task.ID, opts.AgentID)

	budget := m.allocate(task, opts)

	// Dynamic components build in parallel, each against its sub-budget.
	var (
		wg      sync.WaitGroup
		repoMap contextbuild.Component
		docs    contextbuild.Component
		files   contextbuild.FileContext
		code    contextbuild.CodeContext
		mems    contextbuild.MemoryContext
	)

	projectPath := opts.ProjectPath
	if projectPath == "" {
		projectPath = task.ProjectPath
	}

	wg.Add(5)
	go func() {
		defer wg.Done()
		repoMap = m.builder.BuildRepoMapContext(ctx, projectPath, budget.FixedRepoMap)
	}()
	go func() {
		defer wg.Done()
		docs = m.builder.BuildCodebaseDocsContext(ctx, projectPath, task, budget.FixedCodebaseDocs)
	}()
	go func() {
		defer wg.Done()
		files = m.builder.BuildFileContext(ctx, fileRequests(task, opts.ExtraFiles), budget.DynamicFiles)
	}()
	go func() {
		defer wg.Done()
		code = m.builder.BuildCodeContext(ctx, task.Description, budget.DynamicCodeSearch)
	}()
	go func() {
		defer wg.Done()
		mems = m.builder.BuildMemoryContext(ctx, task, budget.DynamicMemories)
	}()
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context build cancelled: %w", err)
	}

	tc := &model.TaskContext{
		ID:                  uuid.New().String(),
		Task:                task,
		AgentID:             opts.AgentID,
		SystemPrompt:        opts.SystemPrompt,
		TaskDescription:     task.Description,
		RepoMapText:         repoMap.Text,
		CodebaseArchSummary: docs.Text,
		Files:               files.Files,
		CodeHits:            code.Hits,
		MemoryHits:          mems.Hits,
		TokenBudget:         opts.MaxTokens,
		GeneratedAt:         time.Now(),
		WasTruncated:        files.Truncated,
	}
	tc.TokenCount = totalTokens(tc)

	if tc.TokenCount > tc.TokenBudget {
		truncateToBudget(tc)
		tc.WasTruncated = true
	}

	m.mu.Lock()
	m.byTask[task.ID] = tc
	if opts.AgentID != "" {
		m.byAgent[opts.AgentID] = task.ID
	}
	m.created++
	if tc.TokenCount > m.peak {
		m.peak = tc.TokenCount
	}
	m.mu.Unlock()

	return tc, nil
}

// allocate carves the two-level budget from opts.MaxTokens. System prompt
// and task description cost what they cost; the remaining shares split
// what is left.
func (m *Manager) allocate(task model.Task, opts BuildOptions) model.TokenBudget {
	b := model.TokenBudget{
		FixedSystemPrompt: tokenbudget.Estimate(opts.SystemPrompt),
		FixedTaskDesc:     tokenbudget.Estimate(task.Description),
	}

	remaining := tokenbudget.NewBudgeter(opts.MaxTokens).Remaining(b)

	b.FixedRepoMap = int(float64(remaining) * repoMapShare)
	b.FixedCodebaseDocs = int(float64(remaining) * docsShare)

	dynamic := remaining - b.FixedRepoMap - b.FixedCodebaseDocs
	b.DynamicFiles = int(float64(dynamic) * filesShare)
	b.DynamicCodeSearch = int(float64(dynamic) * codeShare)
	b.DynamicMemories = int(float64(dynamic) * memoriesShare)
	b.DynamicUserQuery = dynamic - b.DynamicFiles - b.DynamicCodeSearch - b.DynamicMemories

	return b
}

func fileRequests(task model.Task, extra []string) []contextbuild.FileRequest {
	reqs := make([]contextbuild.FileRequest, 0, len(task.TargetFiles)+len(extra))
	for _, f := range task.TargetFiles {
		reqs = append(reqs, contextbuild.FileRequest{Path: f, TargetFiles: task.TargetFiles})
	}
	for _, f := range extra {
		reqs = append(reqs, contextbuild.FileRequest{Path: f, TargetFiles: task.TargetFiles, Requested: true})
	}
	return reqs
}

func totalTokens(tc *model.TaskContext) int {
	total := tokenbudget.Estimate(tc.SystemPrompt) +
		tokenbudget.Estimate(tc.TaskDescription) +
		tokenbudget.Estimate(tc.RepoMapText) +
		tokenbudget.Estimate(tc.CodebaseArchSummary)
	for _, f := range tc.Files {
		total += tokenbudget.Estimate(f.Content)
	}
	for _, h := range tc.CodeHits {
		total += tokenbudget.Estimate(h.Content)
	}
	for _, h := range tc.MemoryHits {
		total += tokenbudget.Estimate(h.Content)
	}
	return total
}

// truncateToBudget progressively drops dynamic components in ascending
// relevance (memories first, then code hits, then files) until the context
// fits its budget.
func truncateToBudget(tc *model.TaskContext) {
	for len(tc.MemoryHits) > 0 && tc.TokenCount > tc.TokenBudget {
		tc.MemoryHits = tc.MemoryHits[:len(tc.MemoryHits)-1]
		tc.TokenCount = totalTokens(tc)
	}
	for len(tc.CodeHits) > 0 && tc.TokenCount > tc.TokenBudget {
		tc.CodeHits = tc.CodeHits[:len(tc.CodeHits)-1]
		tc.TokenCount = totalTokens(tc)
	}
	for len(tc.Files) > 0 && tc.TokenCount > tc.TokenBudget {
		tc.Files = tc.Files[:len(tc.Files)-1]
		tc.TokenCount = totalTokens(tc)
	}
}

// ValidateContext recomputes a context's token accounting and checks the
// freshness invariant. Pure: no state is touched.
func (m *Manager) ValidateContext(tc *model.TaskContext) Validation {
	count := totalTokens(tc)
	return Validation{
		Valid:      count <= tc.TokenBudget && len(tc.ConversationHistory) == 0,
		TokenCount: count,
		MaxTokens:  tc.TokenBudget,
		Breakdown: model.TokenBudget{
			FixedSystemPrompt: tokenbudget.Estimate(tc.SystemPrompt),
			FixedRepoMap:      tokenbudget.Estimate(tc.RepoMapText),
			FixedCodebaseDocs: tokenbudget.Estimate(tc.CodebaseArchSummary),
			FixedTaskDesc:     tokenbudget.Estimate(tc.TaskDescription),
			DynamicFiles:      sumFileTokens(tc.Files),
			DynamicCodeSearch: sumCodeTokens(tc.CodeHits),
			DynamicMemories:   sumMemoryTokens(tc.MemoryHits),
		},
	}
}

func sumFileTokens(files []model.ScoredFile) int {
	n := 0
	for _, f := range files {
		n += tokenbudget.Estimate(f.Content)
	}
	return n
}

func sumCodeTokens(hits []model.CodeHit) int {
	n := 0
	for _, h := range hits {
		n += tokenbudget.Estimate(h.Content)
	}
	return n
}

func sumMemoryTokens(hits []model.MemoryHit) int {
	n := 0
	for _, h := range hits {
		n += tokenbudget.Estimate(h.Content)
	}
	return n
}

// GetTaskContext returns the active context for a task, if any.
func (m *Manager) GetTaskContext(taskID string) (*model.TaskContext, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tc, ok := m.byTask[taskID]
	return tc, ok
}

// ClearTaskContext evicts the active context for a task.
func (m *Manager) ClearTaskContext(taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictTaskLocked(taskID)
}

// ClearAgentContext evicts whatever context the agent currently holds.
func (m *Manager) ClearAgentContext(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if taskID, ok := m.byAgent[agentID]; ok {
		m.evictTaskLocked(taskID)
	}
	delete(m.byAgent, agentID)
}

func (m *Manager) evict(taskID, agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictTaskLocked(taskID)
	if agentID != "" {
		if prior, ok := m.byAgent[agentID]; ok && prior != taskID {
			m.evictTaskLocked(prior)
		}
		delete(m.byAgent, agentID)
	}
}

func (m *Manager) evictTaskLocked(taskID string) {
	if _, ok := m.byTask[taskID]; ok {
		delete(m.byTask, taskID)
		m.cleared++
	}
	for agent, task := range m.byAgent {
		if task == taskID {
			delete(m.byAgent, agent)
		}
	}
}

// GetStats returns lifetime counters and the current active-context count.
func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Created:        m.created,
		Cleared:        m.cleared,
		PeakTokenUsage: m.peak,
		ActiveContexts: len(m.byTask),
	}
}
