// Package repomap renders a RepoMap into a size-bounded textual
// projection, in compact, detailed, and tree styles, sharing the module's
// 4-chars-per-token estimator so budget fractions compose across the
// context pipeline.
package repomap

import (
	"fmt"
	"sort"
	"strings"

	"qaforge/internal/model"
	"qaforge/internal/tokenbudget"
)

// Style selects one of the three textual projections.
type Style string

const (
	StyleCompact  Style = "compact"
	StyleDetailed Style = "detailed"
	StyleTree     Style = "tree"
)

// Options configures a single Format call.
type Options struct {
	Style       Style
	MaxTokens   int
	GroupByFile bool
}

const truncatedMarker = "... (truncated)"

// glyph differentiates symbol kinds visually with a short prefix of one or
// two characters.
func glyph(k model.SymbolKind) string {
	switch k {
	case model.SymbolClass:
		return "◆"
	case model.SymbolInterface:
		return "◇"
	case model.SymbolFunction:
		return "ƒ"
	case model.SymbolMethod:
		return "·ƒ"
	case model.SymbolProperty:
		return "·"
	case model.SymbolConstant:
		return "="
	case model.SymbolVariable:
		return "~"
	case model.SymbolEnum:
		return "⊞"
	case model.SymbolEnumMember:
		return "·⊞"
	case model.SymbolType:
		return "τ"
	case model.SymbolNamespace, model.SymbolModule:
		return "▣"
	default:
		return "?"
	}
}

// Format projects m into a textual summary honoring opts.MaxTokens. The
// result always satisfies estimateTokens(result) ≤ opts.MaxTokens,
// achieved by greedy admission with an explicit truncation marker at the
// cutoff point rather than post-hoc slicing, which could itself overflow
// the budget.
func Format(m model.RepoMap, opts Options) string {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 4000
	}

	switch opts.Style {
	case StyleTree:
		return formatTree(m, opts)
	case StyleDetailed:
		return formatDetailed(m, opts)
	default:
		return formatCompact(m, opts)
	}
}

// rankedSymbols orders symbols by (references desc, exported first,
// top-level first, name asc).
func rankedSymbols(m model.RepoMap) []model.Symbol {
	out := make([]model.Symbol, len(m.Symbols))
	copy(out, m.Symbols)

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.References != b.References {
			return a.References > b.References
		}
		if a.Exported != b.Exported {
			return a.Exported
		}
		aTop, bTop := a.ParentID == "", b.ParentID == ""
		if aTop != bTop {
			return aTop
		}
		return a.Name < b.Name
	})
	return out
}

func header(m model.RepoMap) string {
	return fmt.Sprintf("Repo: %s (%d files, %d symbols, %d edges)\n",
		m.ProjectRoot, m.Stats.TotalFiles, m.Stats.TotalSymbols, m.Stats.TotalEdges)
}

// budgetWriter accumulates lines without exceeding maxTokens. add admits a
// line only if the truncation marker still fits after it; the first time a
// line does not fit, add appends the marker once and returns false.
type budgetWriter struct {
	b           strings.Builder
	maxTokens   int
	truncated   bool
}

func (w *budgetWriter) add(line string) bool {
	if w.truncated {
		return false
	}
	marker := truncatedMarker + "\n"
	if tokenbudget.Estimate(w.b.String()+line+marker) > w.maxTokens {
		if tokenbudget.Estimate(w.b.String()+marker) <= w.maxTokens {
			w.b.WriteString(marker)
		}
		w.truncated = true
		return false
	}
	w.b.WriteString(line)
	return true
}

func formatCompact(m model.RepoMap, opts Options) string {
	w := &budgetWriter{maxTokens: opts.MaxTokens}
	w.add(header(m))

	for _, s := range rankedSymbols(m) {
		if !w.add(fmt.Sprintf("%s %s %s:%d\n", glyph(s.Kind), s.Name, s.File, s.Line)) {
			break
		}
	}
	return w.b.String()
}

func formatDetailed(m model.RepoMap, opts Options) string {
	w := &budgetWriter{maxTokens: opts.MaxTokens}
	w.add(header(m))

	if opts.GroupByFile {
		for _, file := range filesByInboundRefs(m) {
			if !w.add(fmt.Sprintf("\n%s\n", file)) {
				return w.b.String()
			}
			for _, s := range symbolsInFile(m, file) {
				if !w.add(detailLine(s)) {
					return w.b.String()
				}
			}
		}
		return w.b.String()
	}

	for _, s := range rankedSymbols(m) {
		if !w.add(detailLine(s)) {
			break
		}
	}
	return w.b.String()
}

func detailLine(s model.Symbol) string {
	indent := ""
	if s.ParentID != "" {
		indent = "  "
	}
	sig := s.Signature
	if sig == "" {
		sig = s.Name
	}
	doc := ""
	if s.Doc != "" {
		doc = " // " + firstLine(s.Doc)
	}
	return fmt.Sprintf("%s%s %s %s:%d refs=%d%s\n", indent, glyph(s.Kind), sig, s.File, s.Line, s.References, doc)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func formatTree(m model.RepoMap, opts Options) string {
	w := &budgetWriter{maxTokens: opts.MaxTokens}
	w.add(header(m))

	for _, file := range filesByInboundRefs(m) {
		if !w.add(fmt.Sprintf("%s\n", file)) {
			return w.b.String()
		}
		syms := symbolsInFile(m, file)
		for i, s := range syms {
			branch := "├── "
			if i == len(syms)-1 {
				branch = "└── "
			}
			if !w.add(fmt.Sprintf("%s%s %s %s\n", branch, glyph(s.Kind), s.Name, locationSuffix(s))) {
				return w.b.String()
			}
		}
	}
	return w.b.String()
}

func locationSuffix(s model.Symbol) string {
	if s.References > 0 {
		return fmt.Sprintf("(refs=%d)", s.References)
	}
	return ""
}

// filesByInboundRefs sorts files descending by total inbound references
// of their contained symbols.
func filesByInboundRefs(m model.RepoMap) []string {
	totals := make(map[string]int)
	var files []string
	seen := make(map[string]bool)
	for _, s := range m.Symbols {
		totals[s.File] += s.References
		if !seen[s.File] {
			seen[s.File] = true
			files = append(files, s.File)
		}
	}
	sort.SliceStable(files, func(i, j int) bool {
		if totals[files[i]] != totals[files[j]] {
			return totals[files[i]] > totals[files[j]]
		}
		return files[i] < files[j]
	})
	return files
}

func symbolsInFile(m model.RepoMap, file string) []model.Symbol {
	var out []model.Symbol
	for _, s := range rankedSymbols(m) {
		if s.File == file {
			out = append(out, s)
		}
	}
	return out
}
