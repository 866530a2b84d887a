package gates

import (
	"context"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"qaforge/internal/model"
)

// testEvent mirrors one line of `go test -json`'s event stream: Go's
// native JSON test event stream.
type testEvent struct {
	Action  string  `json:"Action"`
	Package string  `json:"Package"`
	Test    string  `json:"Test"`
	Output  string  `json:"Output"`
	Elapsed float64 `json:"Elapsed"`
}

var (
	passSummaryPattern = regexp.MustCompile(`^ok\s+(\S+)\s+(\d+\.\d+)s`)
	failSummaryPattern = regexp.MustCompile(`^FAIL\s+(\S+)\s+(\d+\.\d+)s`)
	testFailPattern    = regexp.MustCompile(`^--- FAIL: (\S+)`)
	testSkipPattern    = regexp.MustCompile(`^--- SKIP: (\S+)`)
	testPassPattern    = regexp.MustCompile(`^--- PASS: (\S+)`)
	countFallback      = regexp.MustCompile(`(\d+)\s+passed`)
)

// TestRunner is the Test gate: `go test -json ./...`, preferring the JSON
// reporter and falling back to run_tests.go's regex-based summary
// extraction when the output doesn't parse as a clean JSON stream.
type TestRunner struct {
	Pattern string // optional -run pattern
	Timeout time.Duration
}

// NewTestRunner returns a TestRunner invoking `go test -json ./...`.
func NewTestRunner() *TestRunner {
	return &TestRunner{}
}

// Run executes the test gate once.
func (r *TestRunner) Run(ctx context.Context, workingDir string, iteration int) model.TestResult {
	args := []string{"test", "-json"}
	if r.Pattern != "" {
		args = append(args, "-run", r.Pattern)
	}
	args = append(args, "./...")

	res := run(ctx, workingDir, "go", args, r.Timeout)
	if res.SpawnErr != nil {
		return model.TestResult{
			Success:  false,
			Errors:   []model.ErrorEntry{spawnErrorEntry(model.GateTest, iteration, res.SpawnErr)},
			Duration: res.Duration.Seconds(),
		}
	}

	counts, errors, ok := parseTestJSON(res.Stdout, iteration)
	if !ok {
		counts, errors = parseTestFallback(res.Stdout+res.Stderr, iteration)
	}

	return model.TestResult{
		Success:  res.ExitCode == 0 && counts.Failed == 0,
		Counts:   counts,
		Errors:   errors,
		Duration: res.Duration.Seconds(),
	}
}

// parseTestJSON decodes a `go test -json` event stream. ok is false if not
// a single well-formed event line was found, signaling the caller to fall
// back to regex-based extraction.
func parseTestJSON(output string, iteration int) (model.TestCounts, []model.ErrorEntry, bool) {
	var counts model.TestCounts
	var errors []model.ErrorEntry
	failureOutput := make(map[string]*strings.Builder)
	sawEvent := false

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var ev testEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		sawEvent = true

		if ev.Test == "" {
			continue // package-level event; subtests carry the outcome
		}

		key := ev.Package + "/" + ev.Test
		switch ev.Action {
		case "output":
			if failureOutput[key] == nil {
				failureOutput[key] = &strings.Builder{}
			}
			failureOutput[key].WriteString(ev.Output)
		case "pass":
			counts.Passed++
		case "fail":
			counts.Failed++
			msg := ev.Test + " failed"
			if b := failureOutput[key]; b != nil {
				msg = strings.TrimSpace(b.String())
			}
			errors = append(errors, model.ErrorEntry{
				Origin:    model.GateTest,
				Severity:  model.SeverityError,
				Message:   msg,
				File:      fileFromTestOutput(msg),
				Iteration: iteration,
			})
		case "skip":
			counts.Skipped++
		}
	}

	return counts, errors, sawEvent
}

var fileLinePattern = regexp.MustCompile(`(\S+\.go):(\d+):`)

func fileFromTestOutput(output string) string {
	if m := fileLinePattern.FindStringSubmatch(output); m != nil {
		return m[1]
	}
	return ""
}

// parseTestFallback mirrors run_tests.go's regex-driven summary extraction
// for when JSON decoding produced nothing usable.
func parseTestFallback(output string, iteration int) (model.TestCounts, []model.ErrorEntry) {
	var counts model.TestCounts
	var errors []model.ErrorEntry
	var currentFailure *strings.Builder
	var currentTest string

	flush := func() {
		if currentFailure != nil {
			errors = append(errors, model.ErrorEntry{
				Origin:    model.GateTest,
				Severity:  model.SeverityError,
				Message:   strings.TrimSpace(currentFailure.String()),
				File:      fileFromTestOutput(currentFailure.String()),
				Iteration: iteration,
			})
			currentFailure = nil
		}
	}

	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)

		switch {
		case passSummaryPattern.MatchString(trimmed), failSummaryPattern.MatchString(trimmed):
			flush()
		case testPassPattern.MatchString(trimmed):
			flush()
			counts.Passed++
		case testFailPattern.MatchString(trimmed):
			flush()
			counts.Failed++
			m := testFailPattern.FindStringSubmatch(trimmed)
			currentTest = m[1]
			currentFailure = &strings.Builder{}
			currentFailure.WriteString(currentTest + ": ")
		case testSkipPattern.MatchString(trimmed):
			flush()
			counts.Skipped++
		case currentFailure != nil && strings.HasPrefix(line, "    "):
			currentFailure.WriteString(line + "\n")
		}
	}
	flush()

	if m := countFallback.FindStringSubmatch(output); m != nil && counts.Passed == 0 {
		counts.Passed, _ = strconv.Atoi(m[1])
	}

	return counts, errors
}
