package refcount

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"qaforge/internal/model"
)

// Two files both importing {User}; the exported class User at user.go:5
// ends at 2 references while a non-exported same-name symbol stays at 0.
func TestCount_ImportDrivenPerBoundSymbol(t *testing.T) {
	symbols := []model.Symbol{
		{ID: "user.go#User#5", Name: "User", Kind: model.SymbolClass, File: "user.go", Line: 5, Exported: true},
		{ID: "other.go#User#9", Name: "User", File: "other.go", Line: 9, Exported: false},
	}
	imports := []model.ImportStatement{
		{SourceModule: "./user", Kind: model.ImportNamed, Bound: []model.BoundSymbol{{Local: "User", Original: "User"}}},
		{SourceModule: "./user", Kind: model.ImportNamed, Bound: []model.BoundSymbol{{Local: "User", Original: "User"}}},
	}

	out := Count(symbols, imports)

	byID := map[string]model.Symbol{}
	for _, s := range out {
		byID[s.ID] = s
	}

	assert.Equal(t, 2, byID["user.go#User#5"].References)
	assert.Equal(t, 0, byID["other.go#User#9"].References)
}

func TestCount_LocalNameUsedWhenOriginalAbsent(t *testing.T) {
	symbols := []model.Symbol{{Name: "Thing", File: "a.go", Exported: true}}
	imports := []model.ImportStatement{
		{Bound: []model.BoundSymbol{{Local: "Thing"}}},
	}

	out := Count(symbols, imports)
	require.Len(t, out, 1)
	assert.Equal(t, 1, out[0].References)
}

// Same-name exported symbols in different files both receive the
// increment; disambiguation is deliberately not attempted here.
func TestCount_SameNameCollisionsBothCounted(t *testing.T) {
	symbols := []model.Symbol{
		{ID: "a.go#Widget#1", Name: "Widget", File: "a.go", Exported: true},
		{ID: "b.go#Widget#1", Name: "Widget", File: "b.go", Exported: true},
	}
	imports := []model.ImportStatement{
		{Bound: []model.BoundSymbol{{Local: "Widget", Original: "Widget"}}},
	}

	out := Count(symbols, imports)
	assert.Equal(t, 1, out[0].References)
	assert.Equal(t, 1, out[1].References)
}

func TestUsages_CapIsSmallerOfLimitAndMax(t *testing.T) {
	imports := []model.ImportStatement{
		{SourceModule: "a", Bound: []model.BoundSymbol{{Local: "X", Original: "X"}}},
		{SourceModule: "b", Bound: []model.BoundSymbol{{Local: "X", Original: "X"}}},
		{SourceModule: "c", Bound: []model.BoundSymbol{{Local: "X", Original: "X"}}},
		{SourceModule: "d", Bound: []model.BoundSymbol{{Local: "Y", Original: "Y"}}},
	}

	assert.Len(t, Usages(imports, "X", 5, 2), 2)
	assert.Len(t, Usages(imports, "X", 2, 5), 2)
	assert.Len(t, Usages(imports, "X", 0, 0), 3)
	assert.Len(t, Usages(imports, "Y", 10, 10), 1)
}

func TestImportance_UniformNoEdges(t *testing.T) {
	files := []string{"a.go", "b.go"}
	scores := Importance(files, nil)

	assert.InDelta(t, scores["a.go"], scores["b.go"], 1e-9)
}

func TestImportance_HubGetsHigherScore(t *testing.T) {
	files := []string{"a.go", "b.go", "hub.go"}
	edges := []model.DependencyEdge{
		{From: "a.go", To: "hub.go"},
		{From: "b.go", To: "hub.go"},
	}

	scores := Importance(files, edges)
	assert.Greater(t, scores["hub.go"], scores["a.go"])
	assert.Greater(t, scores["hub.go"], scores["b.go"])
}

func TestRank_CombinesRefsAndImportance(t *testing.T) {
	symbols := []model.Symbol{
		{Name: "High", File: "hub.go", References: 10},
		{Name: "Low", File: "leaf.go", References: 0},
	}
	importance := map[string]float64{"hub.go": 0.8, "leaf.go": 0.1}

	ranked := Rank(symbols, importance)
	require.Len(t, ranked, 2)
	assert.Equal(t, "High", ranked[0].Symbol.Name)
	assert.Greater(t, ranked[0].Score, ranked[1].Score)
}
