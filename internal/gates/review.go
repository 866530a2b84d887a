package gates

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"qaforge/internal/model"
)

// LLMClient is the narrow capability the review gate needs from an LLM
// collaborator. internal/llmclient's Client exposes a Chat method of this
// exact shape, so it satisfies LLMClient without either package depending
// on the other.
type LLMClient interface {
	Chat(ctx context.Context, messages []model.Message) (string, error)
}

// VCS is the narrow capability the review gate needs from a
// version-control collaborator.
type VCS interface {
	Diff(ctx context.Context, staged bool) (string, error)
}

// reviewCriteria are the numbered review criteria enumerated in the system
// prompt, mirroring review_agent.go's automated-quality-gate workflow
// description.
var reviewCriteria = []string{
	"Correctness: does the change do what the task describes without introducing regressions?",
	"Clarity: are names, structure, and control flow easy to follow?",
	"Safety: does the change avoid introducing security or data-loss risks?",
	"Scope: is the change limited to what the task required?",
	"Tests: are the tests, if any, meaningful rather than mechanical?",
}

// ReviewRunner is the review gate: it fetches staged and unstaged diffs,
// concatenates and possibly truncates them, and sends a two-message
// conversation to an LLM client.
type ReviewRunner struct {
	LLM                LLMClient
	VCS                VCS
	MaxDiffSize        int // default 50000
	AdditionalCriteria []string
}

// NewReviewRunner returns a ReviewRunner with the default diff-size cap.
func NewReviewRunner(llm LLMClient, vcs VCS) *ReviewRunner {
	return &ReviewRunner{LLM: llm, VCS: vcs, MaxDiffSize: 50000}
}

// permissiveReview is the permissive decode target, kept distinct from
// model.ReviewResult: decoded first, then filtered/normalized, silently
// dropping non-string array elements so upstream junk never surfaces as a
// type error downstream.
type permissiveReview struct {
	Approved    bool          `json:"approved"`
	Comments    []interface{} `json:"comments"`
	Suggestions []interface{} `json:"suggestions"`
	Blockers    []interface{} `json:"blockers"`
}

// Run executes the review gate once against taskDescription.
func (r *ReviewRunner) Run(ctx context.Context, workingDir, taskDescription string, iteration int) model.ReviewResult {
	staged, err := r.VCS.Diff(ctx, true)
	if err != nil {
		staged = ""
	}
	unstaged, err := r.VCS.Diff(ctx, false)
	if err != nil {
		unstaged = ""
	}

	combined := strings.TrimSpace(staged + "\n" + unstaged)

	if combined == "" {
		return model.ReviewResult{
			Approved: true,
			Comments: []string{"No changes to review"},
		}
	}

	maxSize := r.MaxDiffSize
	if maxSize <= 0 {
		maxSize = 50000
	}
	diff := truncateDiff(combined, maxSize)

	messages := []model.Message{
		{Role: "system", Content: r.buildSystemPrompt()},
		{Role: "user", Content: r.buildUserPrompt(diff, taskDescription)},
	}

	response, err := r.LLM.Chat(ctx, messages)
	if err != nil {
		return model.ReviewResult{
			Approved: false,
			Blockers: []string{fmt.Sprintf("review LLM call failed: %v", err)},
		}
	}

	return parseReviewResponse(response)
}

// truncateDiff truncates at the nearest preceding newline and appends the
// sentinel, never exceeding maxSize by more than the sentinel's own
// length.
func truncateDiff(diff string, maxSize int) string {
	if len(diff) <= maxSize {
		return diff
	}
	cut := strings.LastIndexByte(diff[:maxSize], '\n')
	if cut <= 0 {
		cut = maxSize
	}
	return diff[:cut] + "\n[DIFF TRUNCATED]"
}

func (r *ReviewRunner) buildSystemPrompt() string {
	var b strings.Builder
	b.WriteString("You are an automated code reviewer. Evaluate the following diff against these criteria:\n")
	for i, c := range reviewCriteria {
		fmt.Fprintf(&b, "%d. %s\n", i+1, c)
	}
	for i, c := range r.AdditionalCriteria {
		fmt.Fprintf(&b, "%d. %s\n", len(reviewCriteria)+i+1, c)
	}
	b.WriteString("\nRespond with a single JSON object: " +
		`{"approved": bool, "comments": [string], "suggestions": [string], "blockers": [string]}` +
		". Approval requires an empty blockers list.")
	return b.String()
}

func (r *ReviewRunner) buildUserPrompt(diff, taskDescription string) string {
	return fmt.Sprintf("Task: %s\n\nDiff:\n```diff\n%s\n```", taskDescription, diff)
}

// parseReviewResponse strips optional fenced-code wrappers, extracts the
// outermost {…} span, and coerces the permissive schema into a
// model.ReviewResult.
func parseReviewResponse(response string) model.ReviewResult {
	jsonText := extractJSONObject(stripFences(response))
	if jsonText == "" {
		return failedParseResult(response)
	}

	var parsed permissiveReview
	if err := json.Unmarshal([]byte(jsonText), &parsed); err != nil {
		return failedParseResult(response)
	}

	return model.ReviewResult{
		Approved:    parsed.Approved,
		Comments:    stringsOnly(parsed.Comments),
		Suggestions: stringsOnly(parsed.Suggestions),
		Blockers:    stringsOnly(parsed.Blockers),
	}
}

func failedParseResult(raw string) model.ReviewResult {
	truncated := raw
	const maxRaw = 500
	if len(truncated) > maxRaw {
		truncated = truncated[:maxRaw] + "..."
	}
	return model.ReviewResult{
		Approved: false,
		Blockers: []string{"failed to parse review response: " + truncated},
	}
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return s
}

func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}

func stringsOnly(values []interface{}) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
