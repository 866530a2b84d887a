package qaloop

import (
	"fmt"
	"strings"
)

// FixSeverity indicates whether accumulated gate errors look fixable in a
// single repair pass or need a more careful, multi-step fix.
type FixSeverity string

const (
	FixSeveritySimple  FixSeverity = "simple"
	FixSeverityComplex FixSeverity = "complex"
)

// ErrorAnalysis is the triage result attached to a repair prompt.
type ErrorAnalysis struct {
	Severity   FixSeverity
	ErrorType  string
	Fixable    bool
	Suggestion string
	FilesCount int
	ErrorCount int
}

// ClassifyErrors triages accumulated gate error text before a repair
// invocation. It does not change the loop's control flow; it only enriches
// the repair prompt with an estimated fix complexity.
func ClassifyErrors(errorText string) *ErrorAnalysis {
	analysis := &ErrorAnalysis{
		FilesCount: countAffectedFiles(errorText),
		ErrorCount: countErrors(errorText),
	}

	if analysis.FilesCount > 1 {
		analysis.Severity = FixSeverityComplex
		analysis.ErrorType = "multi_file_error"
		analysis.Fixable = true
		analysis.Suggestion = "Address errors across multiple files one file at a time"
		return analysis
	}

	if analysis.ErrorCount > 5 {
		analysis.Severity = FixSeverityComplex
		analysis.ErrorType = "multiple_errors"
		analysis.Fixable = true
		analysis.Suggestion = "Systematically address all errors"
		return analysis
	}

	errorLower := strings.ToLower(errorText)

	if strings.Contains(errorLower, "undefined:") ||
		strings.Contains(errorLower, "undeclared name:") ||
		strings.Contains(errorLower, "not declared") {
		analysis.Severity = FixSeveritySimple
		analysis.ErrorType = "missing_import_or_typo"
		analysis.Fixable = true
		analysis.Suggestion = "Add missing import or fix variable/function name"
		return analysis
	}

	if strings.Contains(errorLower, "package") &&
		(strings.Contains(errorLower, "not in goroot") ||
			strings.Contains(errorLower, "not found")) {
		analysis.Severity = FixSeveritySimple
		analysis.ErrorType = "missing_package"
		analysis.Fixable = true
		analysis.Suggestion = "Add missing package import"
		return analysis
	}

	if strings.Contains(errorLower, "expected") ||
		strings.Contains(errorLower, "syntax error") {
		analysis.Severity = FixSeveritySimple
		analysis.ErrorType = "syntax_error"
		analysis.Fixable = true
		analysis.Suggestion = "Fix syntax error (missing bracket, comma, etc.)"
		return analysis
	}

	if strings.Contains(errorLower, "cannot use") ||
		strings.Contains(errorLower, "type mismatch") ||
		strings.Contains(errorLower, "cannot convert") {
		analysis.Severity = FixSeveritySimple
		analysis.ErrorType = "type_error"
		analysis.Fixable = true
		analysis.Suggestion = "Fix type mismatch or add type conversion"
		return analysis
	}

	if strings.Contains(errorLower, "too many arguments") ||
		strings.Contains(errorLower, "not enough arguments") ||
		strings.Contains(errorLower, "too many return values") ||
		strings.Contains(errorLower, "not enough return values") {
		analysis.Severity = FixSeveritySimple
		analysis.ErrorType = "argument_mismatch"
		analysis.Fixable = true
		analysis.Suggestion = "Fix function call or return statement"
		return analysis
	}

	if analysis.FilesCount <= 1 && analysis.ErrorCount <= 2 {
		analysis.Severity = FixSeveritySimple
		analysis.ErrorType = "single_error"
		analysis.Fixable = true
		analysis.Suggestion = "Analyze and fix the error"
		return analysis
	}

	analysis.Severity = FixSeverityComplex
	analysis.ErrorType = "complex_error"
	analysis.Fixable = false
	analysis.Suggestion = "Errors require careful analysis"
	return analysis
}

// countAffectedFiles counts unique source files mentioned in the error text.
func countAffectedFiles(errorText string) int {
	files := make(map[string]bool)
	for _, line := range strings.Split(errorText, "\n") {
		if idx := strings.Index(line, ".go:"); idx != -1 {
			filePath := line[:idx+3]
			parts := strings.Split(filePath, "/")
			if len(parts) > 0 {
				files[parts[len(parts)-1]] = true
			}
		}
	}
	return len(files)
}

// countErrors counts approximate number of distinct errors in the text.
func countErrors(errorText string) int {
	count := 0
	for _, line := range strings.Split(errorText, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if (strings.Contains(line, ".go:") && strings.Count(line, ":") >= 3) ||
			strings.Contains(strings.ToLower(line), "error:") {
			count++
		}
	}
	if count == 0 {
		count = 1
	}
	return count
}

// Annotation renders the analysis as repair-prompt text.
func (a *ErrorAnalysis) Annotation() string {
	var b strings.Builder
	b.WriteString("Error analysis:\n")
	fmt.Fprintf(&b, "- Type: %s\n", a.ErrorType)
	fmt.Fprintf(&b, "- Estimated fix complexity: %s\n", a.Severity)
	fmt.Fprintf(&b, "- Affected files: %d\n", a.FilesCount)
	fmt.Fprintf(&b, "- Number of errors: %d\n", a.ErrorCount)
	fmt.Fprintf(&b, "- Suggestion: %s\n", a.Suggestion)
	return b.String()
}
