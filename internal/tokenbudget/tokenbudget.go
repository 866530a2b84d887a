// Package tokenbudget holds the shared token-estimation and budgeting
// primitives used by internal/repomap, internal/contextbuild, and
// internal/contextmgr. The 4-characters-per-token rule is a convention
// shared across the whole context pipeline, not a per-caller
// approximation; budget fractions only compose when everyone estimates
// the same way.
package tokenbudget

import "qaforge/internal/model"

// CharsPerToken is the shared estimator constant.
const CharsPerToken = 4

// Estimate approximates the token count of s.
func Estimate(s string) int {
	if len(s) == 0 {
		return 0
	}
	n := len(s) / CharsPerToken
	if len(s)%CharsPerToken != 0 {
		n++
	}
	return n
}

// Budgeter splits a configured total token budget into fixed and dynamic
// layers, holding the fixed allocation fixed and returning whatever
// remains for dynamic content.
type Budgeter struct {
	Total int
}

// NewBudgeter creates a Budgeter for the given total token budget.
func NewBudgeter(total int) Budgeter {
	return Budgeter{Total: total}
}

// Remaining returns the dynamic allocation left after accounting for the
// fixed components already spent.
func (b Budgeter) Remaining(fixed model.TokenBudget) int {
	spent := fixed.FixedSystemPrompt + fixed.FixedRepoMap + fixed.FixedCodebaseDocs + fixed.FixedTaskDesc
	remaining := b.Total - spent
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Fits reports whether adding n tokens of dynamic content would keep the
// running total within the budget.
func (b Budgeter) Fits(used, n int) bool {
	return used+n <= b.Total
}
