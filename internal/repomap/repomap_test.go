package repomap

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"qaforge/internal/model"
	"qaforge/internal/tokenbudget"
)

func sampleMap(n int) model.RepoMap {
	var symbols []model.Symbol
	for i := 0; i < n; i++ {
		symbols = append(symbols, model.Symbol{
			ID:         "a.go#Sym#1",
			Name:       "Symbol",
			Kind:       model.SymbolFunction,
			File:       "a.go",
			Line:       i + 1,
			Exported:   true,
			References: n - i,
		})
	}
	return model.RepoMap{
		ProjectRoot: "proj",
		Symbols:     symbols,
		Stats: model.RepoStats{
			TotalFiles:   1,
			TotalSymbols: n,
		},
	}
}

func TestFormat_RespectsBudget(t *testing.T) {
	m := sampleMap(500)
	for _, style := range []Style{StyleCompact, StyleDetailed, StyleTree} {
		out := Format(m, Options{Style: style, MaxTokens: 200})
		assert.LessOrEqual(t, tokenbudget.Estimate(out), 200, "style %s", style)
	}
}

func TestFormat_TruncationMarker(t *testing.T) {
	m := sampleMap(500)
	out := Format(m, Options{Style: StyleCompact, MaxTokens: 50})
	assert.Contains(t, out, truncatedMarker)
}

func TestFormat_SelectionPolicy_ReferencesDescending(t *testing.T) {
	m := model.RepoMap{
		Symbols: []model.Symbol{
			{Name: "Low", File: "a.go", Line: 1, Exported: true, References: 1},
			{Name: "High", File: "a.go", Line: 2, Exported: true, References: 10},
		},
	}
	out := Format(m, Options{Style: StyleCompact, MaxTokens: 4000})
	highIdx := strings.Index(out, "High")
	lowIdx := strings.Index(out, "Low")
	require.NotEqual(t, -1, highIdx)
	require.NotEqual(t, -1, lowIdx)
	assert.Less(t, highIdx, lowIdx)
}

func TestFormat_GroupByFile(t *testing.T) {
	m := model.RepoMap{
		Symbols: []model.Symbol{
			{Name: "A", File: "a.go", Line: 1, Exported: true, References: 5},
			{Name: "B", File: "b.go", Line: 1, Exported: true, References: 1},
		},
	}
	out := Format(m, Options{Style: StyleDetailed, MaxTokens: 4000, GroupByFile: true})
	assert.Contains(t, out, "a.go")
	assert.Contains(t, out, "b.go")
	assert.Less(t, strings.Index(out, "a.go"), strings.Index(out, "b.go"))
}
