// Package qaloop drives one task through the build → lint → test → review
// gate order with bounded retries, a repair channel to an external coder
// agent, and escalation when the iteration budget runs out. A repair's
// success is never trusted directly; the next iteration's gates re-run
// and measure actual progress.
package qaloop

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ternarybob/arbor"

	"qaforge/internal/logging"
	"qaforge/internal/model"
)

// DefaultMaxIterations is the default retry budget.
const DefaultMaxIterations = 50

const escalationReason = "Max QA iterations exceeded"

// BuildGate, LintGate, TestGate, and ReviewGate are the narrow capability
// handles the loop takes at construction. internal/gates' runners satisfy
// them directly.
type BuildGate interface {
	Run(ctx context.Context, workingDir string, iteration int) model.BuildResult
}

type LintGate interface {
	Run(ctx context.Context, workingDir string, iteration int) model.LintResult
}

type TestGate interface {
	Run(ctx context.Context, workingDir string, iteration int) model.TestResult
}

type ReviewGate interface {
	Run(ctx context.Context, workingDir, taskDescription string, iteration int) model.ReviewResult
}

// Coder is the capability the loop needs from an agent pool: run one coder
// invocation to completion and report a structured outcome. Nil Coder
// means the loop does not attempt generation or repair.
type Coder interface {
	RunCoderTask(ctx context.Context, task model.Task, rc model.RunTaskContext) (model.RunResult, error)
}

// Config parameterizes one Loop.
type Config struct {
	MaxIterations      int
	StopOnFirstFailure bool
	WorkingDir         string // default when the task carries none
	AuditEnabled       bool

	// OnGate, when set, is called after every gate attempt. Presentation
	// only; it must not block.
	OnGate func(gate model.GateKind, iteration int, passed bool)
}

// Loop drives the four gates for one task at a time. Multiple Loops may
// run concurrently on different tasks sharing one Coder.
type Loop struct {
	Build  BuildGate
	Lint   LintGate
	Test   TestGate
	Review ReviewGate
	Coder  Coder

	cfg Config
}

// New creates a Loop with defaults applied.
func New(build BuildGate, lint LintGate, test TestGate, review ReviewGate, coder Coder, cfg Config) *Loop {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	return &Loop{
		Build:  build,
		Lint:   lint,
		Test:   test,
		Review: review,
		Coder:  coder,
		cfg:    cfg,
	}
}

// Run executes the QA state machine for task until every gate passes or
// the iteration budget is exhausted. The only error Run returns is
// cancellation; everything below the loop is captured as structured data.
// On cancellation no result is returned.
func (l *Loop) Run(ctx context.Context, task model.Task) (model.QALoopResult, error) {
	log := logging.GetLogger()
	workingDir := l.workingDir(task)

	// One-shot generate call before iteration begins.
	if l.Coder != nil {
		result, err := l.Coder.RunCoderTask(ctx, task, model.RunTaskContext{WorkingDir: workingDir})
		if err != nil {
			log.Warn().Str("task", task.ID).Err(err).Msg("initial generate call failed")
		} else if !result.Success {
			log.Warn().Str("task", task.ID).Str("error", result.Error).Msg("initial generate call reported failure")
		}
	}

	res := model.QALoopResult{}
	var previousAttempts []string

	for iteration := 1; iteration <= l.cfg.MaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return model.QALoopResult{}, fmt.Errorf("qa loop cancelled: %w", err)
		}

		allPassed := true
		var errorDetails []string

		run := func(gate model.GateKind, exec func() (passed bool, details []string)) bool {
			if !allPassed && l.cfg.StopOnFirstFailure {
				return false
			}
			if err := ctx.Err(); err != nil {
				return false
			}
			passed, details := exec()
			l.audit(log, task.ID, gate, iteration, passed)
			if l.cfg.OnGate != nil {
				l.cfg.OnGate(gate, iteration, passed)
			}
			if !passed {
				allPassed = false
				errorDetails = append(errorDetails, details...)
			}
			return !passed && l.cfg.StopOnFirstFailure
		}

		stop := run(model.GateBuild, func() (bool, []string) {
			r := l.runBuild(ctx, workingDir, iteration)
			res.LastBuild = r
			return r.Success, entryLines(model.GateBuild, r.Errors)
		})
		if !stop {
			stop = run(model.GateLint, func() (bool, []string) {
				r := l.runLint(ctx, workingDir, iteration)
				res.LastLint = r
				return r.Success, entryLines(model.GateLint, r.Errors)
			})
		}
		if !stop {
			stop = run(model.GateTest, func() (bool, []string) {
				r := l.runTest(ctx, workingDir, iteration)
				res.LastTest = r
				return r.Success, entryLines(model.GateTest, r.Errors)
			})
		}
		if !stop {
			run(model.GateReview, func() (bool, []string) {
				r := l.runReview(ctx, workingDir, task.Description, iteration)
				res.LastReview = r
				return r.Approved, reviewLines(r)
			})
		}

		if err := ctx.Err(); err != nil {
			return model.QALoopResult{}, fmt.Errorf("qa loop cancelled: %w", err)
		}

		if allPassed {
			res.Success = true
			res.Iterations = iteration
			log.Info().Str("task", task.ID).Str("iterations", strconv.Itoa(iteration)).Msg("qa loop converged")
			return res, nil
		}

		previousAttempts = append(previousAttempts, strings.Join(errorDetails, "\n"))

		if l.Coder != nil && l.cfg.StopOnFirstFailure {
			l.repair(ctx, log, task, workingDir, errorDetails, previousAttempts)
		}
	}

	res.Success = false
	res.Escalated = true
	res.Iterations = l.cfg.MaxIterations
	res.Reason = escalationReason
	log.Warn().Str("task", task.ID).Str("iterations", strconv.Itoa(res.Iterations)).Msg("qa loop escalated")
	return res, nil
}

func (l *Loop) workingDir(task model.Task) string {
	if task.WorkingDir != "" {
		return task.WorkingDir
	}
	if task.ProjectPath != "" {
		return task.ProjectPath
	}
	return l.cfg.WorkingDir
}

// repair reconstructs the task description around the accumulated errors
// and invokes the coder in fix mode. The coder's outcome is logged but
// never short-circuits the loop: the next iteration's gates are the ground
// truth for whether the repair helped.
func (l *Loop) repair(ctx context.Context, log arbor.ILogger, task model.Task, workingDir string, errorDetails, previousAttempts []string) {
	errorText := strings.Join(errorDetails, "\n")
	analysis := ClassifyErrors(errorText)

	fixTask := model.Task{
		ID:          task.ID,
		Name:        task.Name,
		Description: fmt.Sprintf("Fix the following errors:\n%s\n\nOriginal task: %s\n\n%s", errorText, task.Description, analysis.Annotation()),
		TargetFiles: task.TargetFiles,
		ProjectPath: task.ProjectPath,
		WorkingDir:  task.WorkingDir,
	}
	rc := model.RunTaskContext{
		WorkingDir:       workingDir,
		RelevantFiles:    task.TargetFiles,
		PreviousAttempts: previousAttempts,
	}

	result, err := l.Coder.RunCoderTask(ctx, fixTask, rc)
	switch {
	case err != nil:
		log.Warn().Str("task", task.ID).Err(err).Msg("repair invocation failed")
	case !result.Success:
		log.Warn().Str("task", task.ID).Str("error", result.Error).Msg("repair reported failure")
	default:
		log.Debug().Str("task", task.ID).Str("complexity", string(analysis.Severity)).Msg("repair completed")
	}
}

// The four runX wrappers guarantee that nothing below the loop can crash
// it: a panicking runner is converted into a failed gate result whose
// single entry reads "<gate> execution error: <e>".

func (l *Loop) runBuild(ctx context.Context, workingDir string, iteration int) (res model.BuildResult) {
	defer func() {
		if r := recover(); r != nil {
			res = model.BuildResult{Errors: []model.ErrorEntry{executionError(model.GateBuild, iteration, r)}}
		}
	}()
	return l.Build.Run(ctx, workingDir, iteration)
}

func (l *Loop) runLint(ctx context.Context, workingDir string, iteration int) (res model.LintResult) {
	defer func() {
		if r := recover(); r != nil {
			res = model.LintResult{Errors: []model.ErrorEntry{executionError(model.GateLint, iteration, r)}}
		}
	}()
	return l.Lint.Run(ctx, workingDir, iteration)
}

func (l *Loop) runTest(ctx context.Context, workingDir string, iteration int) (res model.TestResult) {
	defer func() {
		if r := recover(); r != nil {
			res = model.TestResult{Errors: []model.ErrorEntry{executionError(model.GateTest, iteration, r)}}
		}
	}()
	return l.Test.Run(ctx, workingDir, iteration)
}

func (l *Loop) runReview(ctx context.Context, workingDir, taskDescription string, iteration int) (res model.ReviewResult) {
	defer func() {
		if r := recover(); r != nil {
			res = model.ReviewResult{Blockers: []string{fmt.Sprintf("review execution error: %v", r)}}
		}
	}()
	return l.Review.Run(ctx, workingDir, taskDescription, iteration)
}

func executionError(gate model.GateKind, iteration int, cause interface{}) model.ErrorEntry {
	return model.ErrorEntry{
		Origin:    gate,
		Severity:  model.SeverityError,
		Message:   fmt.Sprintf("%s execution error: %v", gate, cause),
		Iteration: iteration,
	}
}

func entryLines(gate model.GateKind, entries []model.ErrorEntry) []string {
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.File != "" {
			lines = append(lines, fmt.Sprintf("[%s] %s:%d:%d: %s", gate, e.File, e.Line, e.Column, e.Message))
		} else {
			lines = append(lines, fmt.Sprintf("[%s] %s", gate, e.Message))
		}
	}
	return lines
}

func reviewLines(r model.ReviewResult) []string {
	lines := make([]string, 0, len(r.Blockers))
	for _, b := range r.Blockers {
		lines = append(lines, fmt.Sprintf("[review] blocker: %s", b))
	}
	return lines
}

func (l *Loop) audit(log arbor.ILogger, taskID string, gate model.GateKind, iteration int, passed bool) {
	if !l.cfg.AuditEnabled {
		return
	}
	log.Info().
		Str("task", taskID).
		Str("gate", string(gate)).
		Str("iteration", strconv.Itoa(iteration)).
		Str("passed", strconv.FormatBool(passed)).
		Msg("gate result")
}
