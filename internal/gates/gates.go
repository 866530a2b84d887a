// Package gates implements the four quality gates: build, lint, test, and
// review. The first three share a uniform subprocess shape: spawn a
// command with a configurable timeout, accumulate stdout/stderr
// independently, parse on close, and synthesize a single spawn-error entry
// when the process never starts. The toolchain is Go's own: go build/go
// vet for the build gate, a JSON-capable linter with a go vet fallback for
// lint, and go test -json with a regex-based fallback for test. The review
// gate drives an LLM over the working tree's diff instead of a
// subprocess.
package gates

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"qaforge/internal/model"
	"qaforge/internal/qaerrors"
)

// DefaultTimeout bounds a gate subprocess when the caller supplies none.
const DefaultTimeout = 2 * time.Minute

// spawnResult is the outcome of running a single subprocess to completion.
type spawnResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
	SpawnErr error
}

// run executes name with args in workingDir, bounded by timeout, and
// accumulates stdout/stderr independently. A failure to even start the
// process (not a nonzero exit) is reported via SpawnErr; a nonzero exit
// from a process that did start is not an error, it's carried in ExitCode
// for the caller to interpret.
func run(ctx context.Context, workingDir, name string, args []string, timeout time.Duration) spawnResult {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = workingDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	res := spawnResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: elapsed,
	}

	if err == nil {
		return res
	}

	// A timed-out process is killed by the context and surfaces as an
	// ordinary *exec.ExitError; report it as a synthesized cancellation
	// instead of a normal nonzero exit.
	if ctx.Err() == context.DeadlineExceeded {
		res.SpawnErr = fmt.Errorf("ETIMEDOUT: gate command timed out after %s", timeout)
		res.ExitCode = -1
		return res
	}

	if exitErr, ok := err.(*exec.ExitError); ok {
		res.ExitCode = exitErr.ExitCode()
		return res
	}

	// The process never produced an exit code: not found or permission
	// denied.
	res.SpawnErr = err
	res.ExitCode = -1
	return res
}

// spawnErrorEntry synthesizes the single ErrorEntry reported when a gate
// subprocess fails to run at all.
func spawnErrorEntry(origin model.GateKind, iteration int, err error) model.ErrorEntry {
	return model.ErrorEntry{
		Origin:    origin,
		Severity:  model.SeverityError,
		Code:      qaerrors.CodeSpawnError,
		Message:   "failed to run gate command: " + err.Error(),
		Iteration: iteration,
	}
}
