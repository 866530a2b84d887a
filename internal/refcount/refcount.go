// Package refcount computes inbound reference counts over exported
// symbols, a damped PageRank-style importance score per file, and a
// combined ranking score.
package refcount

import (
	"sort"

	"qaforge/internal/model"
)

const (
	dampingFactor = 0.85
	iterations    = 20
)

// Count increments Symbol.References from the repository's import
// statements: for each ImportStatement, for each (local, original) pair it
// carries, every exported symbol whose name equals the original (or the
// local, when no original is recorded) is incremented. Private symbols
// always stay at 0. Same-name symbol collisions across files are not
// disambiguated: every exported symbol sharing a name accrues the full
// count for that name. Disambiguation belongs to a later editing stage,
// not here.
func Count(symbols []model.Symbol, imports []model.ImportStatement) []model.Symbol {
	inbound := make(map[string]int)
	for _, imp := range imports {
		for _, b := range imp.Bound {
			name := b.Original
			if name == "" {
				name = b.Local
			}
			if name != "" {
				inbound[name]++
			}
		}
	}

	out := make([]model.Symbol, len(symbols))
	for i, sym := range symbols {
		out[i] = sym
		if !sym.Exported {
			out[i].References = 0
			continue
		}
		out[i].References = inbound[sym.Name]
	}

	return out
}

// Usages returns the import statements whose bound symbols reference name.
// When both limit and maxUsages are positive the result is capped at the
// smaller of the two; a single positive bound applies alone.
func Usages(imports []model.ImportStatement, name string, limit, maxUsages int) []model.ImportStatement {
	allowed := limit
	if allowed <= 0 || (maxUsages > 0 && maxUsages < allowed) {
		allowed = maxUsages
	}

	var out []model.ImportStatement
	for _, imp := range imports {
		for _, b := range imp.Bound {
			bound := b.Original
			if bound == "" {
				bound = b.Local
			}
			if bound == name {
				out = append(out, imp)
				break
			}
		}
		if allowed > 0 && len(out) == allowed {
			break
		}
	}
	return out
}

// Importance computes a damped PageRank-style fixed-point score for each
// file over the dependency graph's edges: a file's importance is
// distributed across its outbound edges each round, starting uniform and
// converging over a fixed 20 iterations at damping factor 0.85. The final
// scores are divided by the largest one, so they fall in [0, 1].
//
//	importance(f) = (1-d)/N + d * Σ_{g -> f} importance(g) / outdegree(g)
func Importance(files []string, edges []model.DependencyEdge) map[string]float64 {
	n := len(files)
	if n == 0 {
		return map[string]float64{}
	}

	outdegree := make(map[string]int, n)
	inbound := make(map[string][]string, n)
	for _, e := range edges {
		outdegree[e.From]++
		inbound[e.To] = append(inbound[e.To], e.From)
	}

	score := make(map[string]float64, n)
	for _, f := range files {
		score[f] = 1.0 / float64(n)
	}

	base := (1 - dampingFactor) / float64(n)

	for iter := 0; iter < iterations; iter++ {
		next := make(map[string]float64, n)
		for _, f := range files {
			sum := 0.0
			for _, from := range inbound[f] {
				if d := outdegree[from]; d > 0 {
					sum += score[from] / float64(d)
				}
			}
			next[f] = base + dampingFactor*sum
		}
		score = next
	}

	maxScore := 0.0
	for _, s := range score {
		if s > maxScore {
			maxScore = s
		}
	}
	if maxScore > 0 {
		for f := range score {
			score[f] /= maxScore
		}
	}

	return score
}

// RankedSymbol pairs a Symbol with its combined ranking score.
type RankedSymbol struct {
	Symbol model.Symbol
	Score  float64
}

// Rank combines per-symbol reference counts (normalized against the
// maximum observed) with its owning file's importance score, weighted
// 0.6/0.4, and returns symbols sorted descending by the combined score.
func Rank(symbols []model.Symbol, fileImportance map[string]float64) []RankedSymbol {
	maxRefs := 0
	for _, s := range symbols {
		if s.References > maxRefs {
			maxRefs = s.References
		}
	}

	ranked := make([]RankedSymbol, len(symbols))
	for i, s := range symbols {
		refScore := 0.0
		if maxRefs > 0 {
			refScore = float64(s.References) / float64(maxRefs)
		}
		imp := fileImportance[s.File]
		ranked[i] = RankedSymbol{
			Symbol: s,
			Score:  0.6*refScore + 0.4*imp,
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	return ranked
}
