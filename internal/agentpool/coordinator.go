package agentpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"qaforge/internal/contextmgr"
	"qaforge/internal/logging"
	"qaforge/internal/model"
	"qaforge/internal/qaloop"
)

// TaskStatus tracks a dispatched task through its lifetime.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// TrackedTask is the coordinator's record of one dispatched task.
type TrackedTask struct {
	Task      model.Task
	Status    TaskStatus
	CreatedAt time.Time
	AgentID   string
}

// LoopFactory builds a QA loop bound to the given coder capability. The
// coordinator binds each dispatched task's loop to the single agent it
// allocated for that task.
type LoopFactory func(coder qaloop.Coder) *qaloop.Loop

// Coordinator is the top-level work dispatcher: it allocates one worker
// per task from the pool, prepares that worker's fresh context, runs the
// QA loop, and releases the worker exactly once. Concurrency is bounded by
// a semaphore.
type Coordinator struct {
	pool     *Pool
	newLoop  LoopFactory
	contexts *contextmgr.AgentContextIntegration // optional

	mu        sync.RWMutex
	tasks     map[string]*TrackedTask
	results   map[string]*model.QALoopResult
	semaphore chan struct{}
}

// NewCoordinator creates a Coordinator dispatching at most maxConcurrent
// tasks at once (default 2).
func NewCoordinator(pool *Pool, newLoop LoopFactory, contexts *contextmgr.AgentContextIntegration, maxConcurrent int) *Coordinator {
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	return &Coordinator{
		pool:      pool,
		newLoop:   newLoop,
		contexts:  contexts,
		tasks:     make(map[string]*TrackedTask),
		results:   make(map[string]*model.QALoopResult),
		semaphore: make(chan struct{}, maxConcurrent),
	}
}

// boundCoder pins every coder invocation of one QA loop run to the single
// agent the coordinator allocated for the task. Release stays with the
// coordinator so it happens exactly once per task.
type boundCoder struct {
	pool    *Pool
	agentID string
}

func (b boundCoder) RunCoderTask(ctx context.Context, task model.Task, rc model.RunTaskContext) (model.RunResult, error) {
	return b.pool.RunTask(ctx, b.agentID, task, rc)
}

// Dispatch runs task through a QA loop synchronously and returns its
// terminal result.
func (c *Coordinator) Dispatch(ctx context.Context, task model.Task) (model.QALoopResult, error) {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}

	tracked := &TrackedTask{Task: task, Status: TaskPending, CreatedAt: time.Now()}
	c.mu.Lock()
	c.tasks[task.ID] = tracked
	c.mu.Unlock()

	select {
	case c.semaphore <- struct{}{}:
	case <-ctx.Done():
		c.setStatus(task.ID, TaskFailed)
		return model.QALoopResult{}, fmt.Errorf("dispatch cancelled: %w", ctx.Err())
	}
	defer func() { <-c.semaphore }()

	return c.execute(ctx, task)
}

// DispatchAsync dispatches without blocking and returns the task ID; the
// result is retrievable via Result once the run completes. The execution
// uses a background context so caller cancellation doesn't tear down an
// in-flight run.
func (c *Coordinator) DispatchAsync(task model.Task) string {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}

	tracked := &TrackedTask{Task: task, Status: TaskPending, CreatedAt: time.Now()}
	c.mu.Lock()
	c.tasks[task.ID] = tracked
	c.mu.Unlock()

	go func() {
		c.semaphore <- struct{}{}
		defer func() { <-c.semaphore }()
		_, _ = c.execute(context.Background(), task)
	}()

	return task.ID
}

func (c *Coordinator) execute(ctx context.Context, task model.Task) (model.QALoopResult, error) {
	log := logging.GetLogger()

	agent, err := c.pool.Acquire(model.AgentKindCoder)
	if err != nil {
		c.setStatus(task.ID, TaskFailed)
		return model.QALoopResult{}, fmt.Errorf("failed to allocate worker: %w", err)
	}
	defer c.pool.Release(agent.ID)

	c.mu.Lock()
	if t, ok := c.tasks[task.ID]; ok {
		t.Status = TaskInProgress
		t.AgentID = agent.ID
	}
	c.mu.Unlock()

	if c.contexts != nil {
		if _, err := c.contexts.PrepareAgentContext(ctx, agent.ID, task); err != nil {
			log.Warn().Str("task", task.ID).Err(err).Msg("context preparation failed")
		}
	}

	loop := c.newLoop(boundCoder{pool: c.pool, agentID: agent.ID})
	result, err := loop.Run(ctx, task)

	if c.contexts != nil {
		if err == nil && result.Success {
			c.contexts.OnTaskComplete(agent.ID)
		} else {
			c.contexts.OnTaskFailed(agent.ID)
		}
	}

	if err != nil {
		c.setStatus(task.ID, TaskFailed)
		return model.QALoopResult{}, err
	}

	c.mu.Lock()
	c.results[task.ID] = &result
	if t, ok := c.tasks[task.ID]; ok {
		if result.Success {
			t.Status = TaskCompleted
		} else {
			t.Status = TaskFailed
		}
	}
	c.mu.Unlock()

	return result, nil
}

func (c *Coordinator) setStatus(taskID string, status TaskStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.tasks[taskID]; ok {
		t.Status = status
	}
}

// Result returns the terminal QA result for a task, if it has one yet.
func (c *Coordinator) Result(taskID string) (*model.QALoopResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.results[taskID]
	return r, ok
}

// TaskStatusFor returns the tracked status of a dispatched task.
func (c *Coordinator) TaskStatusFor(taskID string) (TaskStatus, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tasks[taskID]
	if !ok {
		return "", false
	}
	return t.Status, true
}

// ActiveTasks returns tasks that are pending or in progress.
func (c *Coordinator) ActiveTasks() []TrackedTask {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]TrackedTask, 0)
	for _, t := range c.tasks {
		if t.Status == TaskPending || t.Status == TaskInProgress {
			out = append(out, *t)
		}
	}
	return out
}
