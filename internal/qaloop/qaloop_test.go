package qaloop

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"qaforge/internal/model"
)

type stubGates struct {
	buildFails  int // iterations that fail before build starts passing
	lintFails   int
	testFails   int
	reviewFails int

	buildCalls  int
	lintCalls   int
	testCalls   int
	reviewCalls int
	order       []string
}

func (s *stubGates) Run(ctx context.Context, workingDir string, iteration int) model.BuildResult {
	s.buildCalls++
	s.order = append(s.order, "build")
	if s.buildCalls <= s.buildFails {
		return model.BuildResult{Errors: []model.ErrorEntry{{
			Origin: model.GateBuild, Severity: model.SeverityError,
			File: "main.go", Line: 3, Column: 1,
			Message: "undefined: frob", Iteration: iteration,
		}}}
	}
	return model.BuildResult{Success: true}
}

type lintStub struct{ g *stubGates }

func (s lintStub) Run(ctx context.Context, workingDir string, iteration int) model.LintResult {
	s.g.lintCalls++
	s.g.order = append(s.g.order, "lint")
	if s.g.lintCalls <= s.g.lintFails {
		return model.LintResult{Errors: []model.ErrorEntry{{Origin: model.GateLint, Message: "unchecked error"}}}
	}
	return model.LintResult{Success: true}
}

type testStub struct{ g *stubGates }

func (s testStub) Run(ctx context.Context, workingDir string, iteration int) model.TestResult {
	s.g.testCalls++
	s.g.order = append(s.g.order, "test")
	if s.g.testCalls <= s.g.testFails {
		return model.TestResult{Counts: model.TestCounts{Failed: 1}, Errors: []model.ErrorEntry{{Origin: model.GateTest, Message: "TestX failed"}}}
	}
	return model.TestResult{Success: true, Counts: model.TestCounts{Passed: 1}}
}

type reviewStub struct{ g *stubGates }

func (s reviewStub) Run(ctx context.Context, workingDir, taskDescription string, iteration int) model.ReviewResult {
	s.g.reviewCalls++
	s.g.order = append(s.g.order, "review")
	if s.g.reviewCalls <= s.g.reviewFails {
		return model.ReviewResult{Blockers: []string{"needs tests"}}
	}
	return model.ReviewResult{Approved: true}
}

func newStubLoop(g *stubGates, coder Coder, cfg Config) *Loop {
	return New(g, lintStub{g}, testStub{g}, reviewStub{g}, coder, cfg)
}

type recordingCoder struct {
	calls []model.Task
	fail  bool
}

func (c *recordingCoder) RunCoderTask(ctx context.Context, task model.Task, rc model.RunTaskContext) (model.RunResult, error) {
	c.calls = append(c.calls, task)
	if c.fail {
		return model.RunResult{Success: false, Error: "coder unavailable"}, nil
	}
	return model.RunResult{Success: true}, nil
}

func TestRun_AllGatesPassFirstIteration(t *testing.T) {
	g := &stubGates{}
	loop := newStubLoop(g, nil, Config{MaxIterations: 5, StopOnFirstFailure: true})

	res, err := loop.Run(context.Background(), model.Task{ID: "t1", Description: "d"})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.False(t, res.Escalated)
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, []string{"build", "lint", "test", "review"}, g.order)
}

// A build gate that always fails with one error and maxIterations=3
// escalates with the last build result attached.
func TestRun_Escalation(t *testing.T) {
	g := &stubGates{buildFails: 100}
	loop := newStubLoop(g, nil, Config{MaxIterations: 3, StopOnFirstFailure: true})

	res, err := loop.Run(context.Background(), model.Task{ID: "t1", Description: "d"})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.True(t, res.Escalated)
	assert.Equal(t, 3, res.Iterations)
	assert.Equal(t, "Max QA iterations exceeded", res.Reason)
	assert.False(t, res.LastBuild.Success)
	assert.Len(t, res.LastBuild.Errors, 1)
	// stopOnFirstFailure keeps later gates from ever running.
	assert.Zero(t, g.lintCalls)
	assert.Zero(t, g.reviewCalls)
}

func TestRun_RecoversAfterRepairIteration(t *testing.T) {
	g := &stubGates{buildFails: 2}
	coder := &recordingCoder{}
	loop := newStubLoop(g, coder, Config{MaxIterations: 10, StopOnFirstFailure: true})

	res, err := loop.Run(context.Background(), model.Task{ID: "t1", Name: "n", Description: "add frob"})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 3, res.Iterations)
	// One generate call plus one fix call per failed iteration.
	require.Len(t, coder.calls, 3)
	assert.Equal(t, "add frob", coder.calls[0].Description)
	assert.Contains(t, coder.calls[1].Description, "Fix the following errors:")
	assert.Contains(t, coder.calls[1].Description, "Original task: add frob")
	assert.Contains(t, coder.calls[1].Description, "undefined: frob")
}

func TestRun_CoderFailureDoesNotShortCircuit(t *testing.T) {
	g := &stubGates{buildFails: 1}
	coder := &recordingCoder{fail: true}
	loop := newStubLoop(g, coder, Config{MaxIterations: 5, StopOnFirstFailure: true})

	res, err := loop.Run(context.Background(), model.Task{ID: "t1", Description: "d"})
	require.NoError(t, err)

	// The repair "failed" but the next iteration's gates measured real
	// progress anyway.
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Iterations)
}

func TestRun_ContinuesPastFailuresWhenNotStopping(t *testing.T) {
	g := &stubGates{buildFails: 1}
	loop := newStubLoop(g, nil, Config{MaxIterations: 5, StopOnFirstFailure: false})

	res, err := loop.Run(context.Background(), model.Task{ID: "t1", Description: "d"})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Iterations)
	// All four gates ran in iteration 1 despite the build failure.
	assert.Equal(t, []string{"build", "lint", "test", "review", "build", "lint", "test", "review"}, g.order)
}

func TestRun_CancellationReturnsNoResult(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	g := &stubGates{}
	loop := newStubLoop(g, nil, Config{MaxIterations: 5, StopOnFirstFailure: true})

	_, err := loop.Run(ctx, model.Task{ID: "t1"})
	require.Error(t, err)
	assert.Zero(t, g.buildCalls)
}

type panickingBuild struct{}

func (panickingBuild) Run(ctx context.Context, workingDir string, iteration int) model.BuildResult {
	panic("boom")
}

func TestRun_PanickingGateBecomesFailure(t *testing.T) {
	g := &stubGates{}
	loop := New(panickingBuild{}, lintStub{g}, testStub{g}, reviewStub{g}, nil, Config{MaxIterations: 2, StopOnFirstFailure: true})

	res, err := loop.Run(context.Background(), model.Task{ID: "t1"})
	require.NoError(t, err)

	assert.True(t, res.Escalated)
	require.NotEmpty(t, res.LastBuild.Errors)
	assert.Contains(t, res.LastBuild.Errors[0].Message, "build execution error: boom")
}

func TestClassifyErrors_SimpleUndefined(t *testing.T) {
	a := ClassifyErrors("[build] main.go:3:1: undefined: frob")
	assert.Equal(t, FixSeveritySimple, a.Severity)
	assert.Equal(t, "missing_import_or_typo", a.ErrorType)
	assert.True(t, a.Fixable)
	assert.Equal(t, 1, a.FilesCount)
}

func TestClassifyErrors_MultiFileIsComplex(t *testing.T) {
	text := "a.go:1:1: undefined: x\nb.go:2:2: undefined: y"
	a := ClassifyErrors(text)
	assert.Equal(t, FixSeverityComplex, a.Severity)
	assert.Equal(t, "multi_file_error", a.ErrorType)
	assert.Equal(t, 2, a.FilesCount)
}

func TestClassifyErrors_ManyErrorsIsComplex(t *testing.T) {
	text := ""
	for i := 0; i < 6; i++ {
		text += "a.go:1:1: error: something\n"
	}
	a := ClassifyErrors(text)
	assert.Equal(t, FixSeverityComplex, a.Severity)
	assert.Equal(t, "multiple_errors", a.ErrorType)
}

func TestAnnotation_CarriesAnalysisFields(t *testing.T) {
	a := ClassifyErrors("main.go:3:1: undefined: frob")
	text := a.Annotation()
	assert.Contains(t, text, "missing_import_or_typo")
	assert.Contains(t, text, "simple")
	assert.Contains(t, text, "Affected files: 1")
}
