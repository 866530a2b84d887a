package gates

import (
	"context"
	"encoding/json"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"qaforge/internal/model"
)

// lintLinePattern matches go vet's "./file.go:line:col: message" fallback
// output, the same shape lint_code.go's runGoVet already parses.
var lintLinePattern = regexp.MustCompile(`^(\.\/)?([^:]+):(\d+):(\d+):\s*(.+)$`)

// golangciReport is the minimal shape of `golangci-lint run --out-format
// json` this gate consumes: an object whose Issues array holds the issues,
// each carrying a linter name, message, severity, and position.
type golangciReport struct {
	Issues []golangciIssue `json:"Issues"`
}

type golangciIssue struct {
	FromLinter  string           `json:"FromLinter"`
	Text        string           `json:"Text"`
	Severity    string           `json:"Severity"`
	Replacement *json.RawMessage `json:"Replacement"`
	Pos         golangciPos      `json:"Pos"`
}

type golangciPos struct {
	Filename string `json:"Filename"`
	Line     int    `json:"Line"`
	Column   int    `json:"Column"`
}

// LintRunner is the Lint gate: invokes golangci-lint in JSON reporter mode
// when available, falling back to go vet's text output exactly as
// lint_code.go's runGoVet does when a JSON-capable linter isn't installed.
type LintRunner struct {
	Timeout time.Duration
}

// NewLintRunner returns a LintRunner with default timeouts.
func NewLintRunner() *LintRunner {
	return &LintRunner{}
}

// Run executes the lint gate once.
func (r *LintRunner) Run(ctx context.Context, workingDir string, iteration int) model.LintResult {
	if _, err := exec.LookPath("golangci-lint"); err == nil {
		return r.runGolangciLint(ctx, workingDir, iteration)
	}
	return r.runGoVetFallback(ctx, workingDir, iteration)
}

func (r *LintRunner) runGolangciLint(ctx context.Context, workingDir string, iteration int) model.LintResult {
	res := run(ctx, workingDir, "golangci-lint", []string{"run", "--out-format", "json"}, r.Timeout)
	if res.SpawnErr != nil {
		return model.LintResult{
			Success: false,
			Errors:  []model.ErrorEntry{spawnErrorEntry(model.GateLint, iteration, res.SpawnErr)},
		}
	}
	return parseGolangciOutput(res.Stdout, iteration)
}

// parseGolangciOutput decodes a golangci-lint JSON report into a
// model.LintResult, classifying each issue's severity and tallying
// auto-fixable issues from the presence of a suggested replacement.
func parseGolangciOutput(stdout string, iteration int) model.LintResult {
	var report golangciReport
	if err := json.Unmarshal([]byte(strings.TrimSpace(stdout)), &report); err != nil {
		return model.LintResult{
			Success: false,
			Errors: []model.ErrorEntry{{
				Origin:    model.GateLint,
				Severity:  model.SeverityError,
				Code:      "PARSE_ERROR",
				Message:   "failed to parse golangci-lint output: " + err.Error(),
				Iteration: iteration,
			}},
		}
	}

	var errors, warnings []model.ErrorEntry
	fixable := 0
	for _, issue := range report.Issues {
		entry := model.ErrorEntry{
			Origin:    model.GateLint,
			Message:   issue.Text,
			File:      issue.Pos.Filename,
			Line:      issue.Pos.Line,
			Column:    issue.Pos.Column,
			Code:      issue.FromLinter,
			Iteration: iteration,
		}
		if issue.Replacement != nil {
			fixable++
		}
		if strings.EqualFold(issue.Severity, "warning") {
			entry.Severity = model.SeverityWarning
			warnings = append(warnings, entry)
			continue
		}
		entry.Severity = model.SeverityError
		errors = append(errors, entry)
	}

	return model.LintResult{
		Success:      len(errors) == 0,
		Errors:       errors,
		Warnings:     warnings,
		FixableCount: fixable,
	}
}

// runGoVetFallback mirrors lint_code.go's runGoVet: every issue is tagged
// severity warning, so go vet findings alone never fail the gate.
func (r *LintRunner) runGoVetFallback(ctx context.Context, workingDir string, iteration int) model.LintResult {
	res := run(ctx, workingDir, "go", []string{"vet", "./..."}, r.Timeout)
	if res.SpawnErr != nil {
		return model.LintResult{
			Success: false,
			Errors:  []model.ErrorEntry{spawnErrorEntry(model.GateLint, iteration, res.SpawnErr)},
		}
	}

	var warnings []model.ErrorEntry
	for _, line := range strings.Split(res.Stdout+res.Stderr, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		m := lintLinePattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		lineNo, _ := strconv.Atoi(m[3])
		col, _ := strconv.Atoi(m[4])
		warnings = append(warnings, model.ErrorEntry{
			Origin:    model.GateLint,
			Severity:  model.SeverityWarning,
			Message:   m[5],
			File:      m[2],
			Line:      lineNo,
			Column:    col,
			Code:      "govet",
			Iteration: iteration,
		})
	}

	return model.LintResult{
		Success:  true,
		Warnings: warnings,
	}
}
