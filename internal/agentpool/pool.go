// Package agentpool manages the bounded set of worker agents and the
// top-level Coordinator: spawn/claim/release lifecycle, task routing, and
// the wiring that ties the pool to the QA loop.
package agentpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"qaforge/internal/logging"
	"qaforge/internal/model"
	"qaforge/internal/qaerrors"
)

// DefaultMaxAgents bounds the pool when the caller configures no quota.
const DefaultMaxAgents = 4

// Driver executes one task on one agent. The MCP-backed CoderDriver is the
// production implementation; tests substitute stubs.
type Driver interface {
	Run(ctx context.Context, agent model.Agent, task model.Task, rc model.RunTaskContext) (model.RunResult, error)
}

// Config parameterizes a Pool.
type Config struct {
	MaxAgents   int
	IdleTimeout time.Duration // 0 disables idle reaping
}

// Stats is the pool's observability snapshot. Idle reaping is visible
// only here.
type Stats struct {
	Spawned  int
	Released int
	Reaped   int
	Dead     int
	Active   int // agents currently registered
	Busy     int
}

// Pool manages a bounded set of worker agents. All agent-table access is
// serialized; GetAvailableByType's claim is one atomic step, so two
// concurrent callers can never claim the same agent.
type Pool struct {
	driver Driver
	cfg    Config

	mu        sync.Mutex
	agents    map[string]*model.Agent
	idleSince map[string]time.Time
	stats     Stats

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Pool and, when an idle timeout is configured, starts its
// reap routine.
func New(driver Driver, cfg Config) *Pool {
	if cfg.MaxAgents <= 0 {
		cfg.MaxAgents = DefaultMaxAgents
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		driver:    driver,
		cfg:       cfg,
		agents:    make(map[string]*model.Agent),
		idleSince: make(map[string]time.Time),
		ctx:       ctx,
		cancel:    cancel,
	}
	if cfg.IdleTimeout > 0 {
		go p.reapRoutine()
	}
	return p
}

// Close shuts the pool down: the reap routine stops and every agent is
// destroyed.
func (p *Pool) Close() {
	p.cancel()
	p.mu.Lock()
	defer p.mu.Unlock()
	for id := range p.agents {
		delete(p.agents, id)
		delete(p.idleSince, id)
	}
}

// GetAvailableByType returns an idle agent of the requested kind, claimed
// (transitioned to busy) in the same critical section, or nil without
// blocking.
func (p *Pool) GetAvailableByType(kind model.AgentKind) *model.Agent {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, a := range p.agents {
		if a.Kind == kind && a.State == model.AgentStateIdle {
			a.State = model.AgentStateBusy
			delete(p.idleSince, a.ID)
			copied := *a
			return &copied
		}
	}
	return nil
}

// Spawn creates and registers a new agent of the given kind, claimed for
// the caller. It returns a ResourceError when the quota is exhausted.
func (p *Pool) Spawn(kind model.AgentKind) (*model.Agent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.agents) >= p.cfg.MaxAgents {
		return nil, qaerrors.New(qaerrors.KindResource,
			fmt.Sprintf("agent quota exhausted (%d)", p.cfg.MaxAgents), nil)
	}

	a := &model.Agent{
		ID:    uuid.New().String(),
		Kind:  kind,
		State: model.AgentStateBusy,
		Pool:  "default",
	}
	p.agents[a.ID] = a
	p.stats.Spawned++

	copied := *a
	return &copied, nil
}

// Acquire returns a claimed agent of the given kind, reusing an idle one
// or spawning when none is available.
func (p *Pool) Acquire(kind model.AgentKind) (*model.Agent, error) {
	if a := p.GetAvailableByType(kind); a != nil {
		return a, nil
	}
	return p.Spawn(kind)
}

// RunTask assigns the task to the agent, awaits completion, and returns a
// structured outcome. An agent whose driver crashes transitions to dead
// and is removed; the pool re-spawns on the next request. RunTask does not
// release; that is the caller's one-time obligation.
func (p *Pool) RunTask(ctx context.Context, agentID string, task model.Task, rc model.RunTaskContext) (model.RunResult, error) {
	p.mu.Lock()
	a, ok := p.agents[agentID]
	if !ok {
		p.mu.Unlock()
		return model.RunResult{}, qaerrors.New(qaerrors.KindResource,
			fmt.Sprintf("unknown agent: %s", agentID), nil)
	}
	if a.State == model.AgentStateDead || a.State == model.AgentStateDraining {
		p.mu.Unlock()
		return model.RunResult{}, qaerrors.New(qaerrors.KindResource,
			fmt.Sprintf("agent %s is %s", agentID, a.State), nil)
	}
	a.State = model.AgentStateBusy
	delete(p.idleSince, agentID)
	agent := *a
	p.mu.Unlock()

	result, err := p.driver.Run(ctx, agent, task, rc)
	if err != nil {
		p.destroy(agentID)
		return model.RunResult{Success: false, Error: err.Error()},
			qaerrors.New(qaerrors.KindResource, "agent crashed during task", err)
	}
	return result, nil
}

// Release returns the agent to idle. Idempotent: a second release, or a
// release of an agent the pool no longer knows, is silently absorbed.
func (p *Pool) Release(agentID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	a, ok := p.agents[agentID]
	if !ok || a.State != model.AgentStateBusy {
		return
	}
	a.State = model.AgentStateIdle
	p.idleSince[agentID] = time.Now()
	p.stats.Released++
}

// RunCoderTask is the one-shot convenience the QA loop's Coder capability
// needs: acquire a coder, run the task, release exactly once regardless of
// outcome.
func (p *Pool) RunCoderTask(ctx context.Context, task model.Task, rc model.RunTaskContext) (model.RunResult, error) {
	agent, err := p.Acquire(model.AgentKindCoder)
	if err != nil {
		return model.RunResult{}, err
	}
	defer p.Release(agent.ID)
	return p.RunTask(ctx, agent.ID, task, rc)
}

func (p *Pool) destroy(agentID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if a, ok := p.agents[agentID]; ok {
		a.State = model.AgentStateDead
		delete(p.agents, agentID)
		delete(p.idleSince, agentID)
		p.stats.Dead++
	}
}

// reapRoutine periodically destroys agents idle past the configured
// timeout.
func (p *Pool) reapRoutine() {
	interval := p.cfg.IdleTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.reapIdle()
		}
	}
}

func (p *Pool) reapIdle() {
	log := logging.GetLogger()
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	for id, since := range p.idleSince {
		a, ok := p.agents[id]
		if !ok || a.State != model.AgentStateIdle {
			delete(p.idleSince, id)
			continue
		}
		if now.Sub(since) >= p.cfg.IdleTimeout {
			delete(p.agents, id)
			delete(p.idleSince, id)
			p.stats.Reaped++
			log.Debug().Str("agent", id).Msg("reaped idle agent")
		}
	}
}

// Stats returns the pool's lifetime counters plus current occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.stats
	s.Active = len(p.agents)
	for _, a := range p.agents {
		if a.State == model.AgentStateBusy {
			s.Busy++
		}
	}
	return s
}
