package agentpool

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"qaforge/internal/model"
	"qaforge/internal/qaloop"
)

type stubDriver struct {
	mu    sync.Mutex
	runs  int
	fail  bool
	crash bool
}

func (d *stubDriver) Run(ctx context.Context, agent model.Agent, task model.Task, rc model.RunTaskContext) (model.RunResult, error) {
	d.mu.Lock()
	d.runs++
	d.mu.Unlock()
	if d.crash {
		return model.RunResult{}, errors.New("subprocess died")
	}
	if d.fail {
		return model.RunResult{Success: false, Error: "did not converge"}, nil
	}
	return model.RunResult{Success: true, Artifact: "done"}, nil
}

func TestPool_SpawnAndRelease(t *testing.T) {
	p := New(&stubDriver{}, Config{MaxAgents: 2})
	defer p.Close()

	a, err := p.Spawn(model.AgentKindCoder)
	require.NoError(t, err)
	assert.Equal(t, model.AgentStateBusy, a.State)

	// No idle agent yet: the spawned one is claimed.
	assert.Nil(t, p.GetAvailableByType(model.AgentKindCoder))

	p.Release(a.ID)
	got := p.GetAvailableByType(model.AgentKindCoder)
	require.NotNil(t, got)
	assert.Equal(t, a.ID, got.ID)

	// The claim transitioned it to busy atomically; a second get is empty.
	assert.Nil(t, p.GetAvailableByType(model.AgentKindCoder))
}

func TestPool_ReleaseIsIdempotent(t *testing.T) {
	p := New(&stubDriver{}, Config{MaxAgents: 2})
	defer p.Close()

	a, err := p.Spawn(model.AgentKindCoder)
	require.NoError(t, err)

	p.Release(a.ID)
	p.Release(a.ID)
	p.Release("no-such-agent")

	assert.Equal(t, 1, p.Stats().Released)
}

func TestPool_QuotaExhaustion(t *testing.T) {
	p := New(&stubDriver{}, Config{MaxAgents: 1})
	defer p.Close()

	_, err := p.Spawn(model.AgentKindCoder)
	require.NoError(t, err)

	_, err = p.Spawn(model.AgentKindCoder)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exhausted")
}

func TestPool_CrashedAgentIsRemoved(t *testing.T) {
	d := &stubDriver{crash: true}
	p := New(d, Config{MaxAgents: 2})
	defer p.Close()

	a, err := p.Spawn(model.AgentKindCoder)
	require.NoError(t, err)

	_, err = p.RunTask(context.Background(), a.ID, model.Task{ID: "t1"}, model.RunTaskContext{})
	require.Error(t, err)

	// The crashed agent is gone; the pool can spawn a replacement.
	assert.Equal(t, 0, p.Stats().Active)
	d.crash = false
	b, err := p.Spawn(model.AgentKindCoder)
	require.NoError(t, err)
	res, err := p.RunTask(context.Background(), b.ID, model.Task{ID: "t2"}, model.RunTaskContext{})
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestPool_RunCoderTaskReleasesOnFailure(t *testing.T) {
	d := &stubDriver{fail: true}
	p := New(d, Config{MaxAgents: 1})
	defer p.Close()

	res, err := p.RunCoderTask(context.Background(), model.Task{ID: "t1"}, model.RunTaskContext{})
	require.NoError(t, err)
	assert.False(t, res.Success)

	// The agent went back to idle exactly once and is reusable.
	require.NotNil(t, p.GetAvailableByType(model.AgentKindCoder))
}

func TestPool_RunCoderTaskReusesIdleAgent(t *testing.T) {
	d := &stubDriver{}
	p := New(d, Config{MaxAgents: 1})
	defer p.Close()

	for i := 0; i < 3; i++ {
		res, err := p.RunCoderTask(context.Background(), model.Task{ID: "t"}, model.RunTaskContext{})
		require.NoError(t, err)
		assert.True(t, res.Success)
	}

	s := p.Stats()
	assert.Equal(t, 1, s.Spawned)
	assert.Equal(t, 3, s.Released)
	assert.Equal(t, 3, d.runs)
}

// passingGates satisfy every loop gate so coordinator tests exercise only
// dispatch mechanics.
type passingBuild struct{}

func (passingBuild) Run(ctx context.Context, workingDir string, iteration int) model.BuildResult {
	return model.BuildResult{Success: true}
}

type passingLint struct{}

func (passingLint) Run(ctx context.Context, workingDir string, iteration int) model.LintResult {
	return model.LintResult{Success: true}
}

type passingTest struct{}

func (passingTest) Run(ctx context.Context, workingDir string, iteration int) model.TestResult {
	return model.TestResult{Success: true}
}

type passingReview struct{}

func (passingReview) Run(ctx context.Context, workingDir, taskDescription string, iteration int) model.ReviewResult {
	return model.ReviewResult{Approved: true}
}

func passingLoopFactory(coder qaloop.Coder) *qaloop.Loop {
	return qaloop.New(passingBuild{}, passingLint{}, passingTest{}, passingReview{}, coder,
		qaloop.Config{MaxIterations: 3, StopOnFirstFailure: true})
}

func TestCoordinator_DispatchRunsLoopAndReleasesWorker(t *testing.T) {
	d := &stubDriver{}
	p := New(d, Config{MaxAgents: 2})
	defer p.Close()

	c := NewCoordinator(p, passingLoopFactory, nil, 2)

	res, err := c.Dispatch(context.Background(), model.Task{Name: "n", Description: "d"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Iterations)

	// The generate call went through the bound agent, which was released.
	assert.Equal(t, 1, d.runs)
	require.NotNil(t, p.GetAvailableByType(model.AgentKindCoder))
}

func TestCoordinator_TracksStatusAndResult(t *testing.T) {
	p := New(&stubDriver{}, Config{MaxAgents: 2})
	defer p.Close()
	c := NewCoordinator(p, passingLoopFactory, nil, 2)

	task := model.Task{ID: "t1", Name: "n", Description: "d"}
	_, err := c.Dispatch(context.Background(), task)
	require.NoError(t, err)

	status, ok := c.TaskStatusFor("t1")
	require.True(t, ok)
	assert.Equal(t, TaskCompleted, status)

	result, ok := c.Result("t1")
	require.True(t, ok)
	assert.True(t, result.Success)
	assert.Empty(t, c.ActiveTasks())
}

func TestCoordinator_PoolExhaustionFailsDispatch(t *testing.T) {
	p := New(&stubDriver{}, Config{MaxAgents: 1})
	defer p.Close()
	// Occupy the only slot.
	_, err := p.Spawn(model.AgentKindCoder)
	require.NoError(t, err)

	c := NewCoordinator(p, passingLoopFactory, nil, 2)
	_, err = c.Dispatch(context.Background(), model.Task{ID: "t1"})
	require.Error(t, err)

	status, ok := c.TaskStatusFor("t1")
	require.True(t, ok)
	assert.Equal(t, TaskFailed, status)
}
