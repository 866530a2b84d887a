package gates

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"qaforge/internal/model"
)

// buildLinePattern matches Go's "<file>:<line>:<col>: <message>" diagnostic
// format, the Go-native realization of a
// "<file>(<line>,<col>): error <code>: <message>" pattern.
var buildLinePattern = regexp.MustCompile(`^([^:]+):(\d+):(\d+):\s*(.+)$`)

// BuildRunner is the Build gate: a typechecker run in "no-emit" mode. It
// runs Command with Args, `go build ./...` by default; setting Args to
// {"vet", "./..."} gives a check that writes no binaries.
type BuildRunner struct {
	Command string   // defaults to "go"
	Args    []string // defaults to {"build", "./..."}
	Timeout time.Duration
}

// NewBuildRunner returns a BuildRunner invoking `go build ./...`.
func NewBuildRunner() *BuildRunner {
	return &BuildRunner{Command: "go", Args: []string{"build", "./..."}}
}

// Run executes the build gate once, tagging every emitted ErrorEntry with
// iteration.
func (r *BuildRunner) Run(ctx context.Context, workingDir string, iteration int) model.BuildResult {
	command, args := r.Command, r.Args
	if command == "" {
		command = "go"
	}
	if len(args) == 0 {
		args = []string{"build", "./..."}
	}

	res := run(ctx, workingDir, command, args, r.Timeout)
	duration := res.Duration.Seconds()

	if res.SpawnErr != nil {
		return model.BuildResult{
			Success:  false,
			Errors:   []model.ErrorEntry{spawnErrorEntry(model.GateBuild, iteration, res.SpawnErr)},
			Duration: duration,
		}
	}

	errors, warnings := parseBuildOutput(res.Stdout+res.Stderr, iteration)

	return model.BuildResult{
		Success:  res.ExitCode == 0,
		Errors:   errors,
		Warnings: warnings,
		Duration: duration,
	}
}

// parseBuildOutput scans output line-wise for Go's diagnostic pattern,
// classifying each line by error type.
func parseBuildOutput(output string, iteration int) (errors, warnings []model.ErrorEntry) {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		m := buildLinePattern.FindStringSubmatch(line)
		if m == nil {
			errors = append(errors, model.ErrorEntry{
				Origin:    model.GateBuild,
				Severity:  model.SeverityError,
				Message:   line,
				Iteration: iteration,
			})
			continue
		}

		lineNo, _ := strconv.Atoi(m[2])
		col, _ := strconv.Atoi(m[3])
		message := m[4]

		entry := model.ErrorEntry{
			Origin:    model.GateBuild,
			Severity:  model.SeverityError,
			Message:   message,
			File:      m[1],
			Line:      lineNo,
			Column:    col,
			Code:      classifyBuildError(message),
			Iteration: iteration,
		}

		if strings.Contains(strings.ToLower(message), "warning") {
			entry.Severity = model.SeverityWarning
			warnings = append(warnings, entry)
			continue
		}
		errors = append(errors, entry)
	}
	return errors, warnings
}

// classifyBuildError buckets a diagnostic message into a coarse taxonomy
// used as the build gate's `code` field; the Go toolchain emits no
// structured error codes of its own.
func classifyBuildError(message string) string {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "syntax error") || strings.Contains(lower, "expected"):
		return "syntax"
	case strings.Contains(lower, "undefined") || strings.Contains(lower, "undeclared"):
		return "undefined"
	case strings.Contains(lower, "cannot use") || strings.Contains(lower, "mismatched types") ||
		strings.Contains(lower, "cannot convert"):
		return "type"
	case strings.Contains(lower, "imported and not used"):
		return "unused_import"
	case strings.Contains(lower, "declared and not used") || strings.Contains(lower, "declared but not used"):
		return "unused_variable"
	case strings.Contains(lower, "missing return"):
		return "missing_return"
	case strings.Contains(lower, "not enough arguments") || strings.Contains(lower, "too many arguments") ||
		strings.Contains(lower, "not enough return values") || strings.Contains(lower, "too many return values"):
		return "argument_count"
	default:
		return "other"
	}
}
