// Package graph resolves import statements into a file-dependency graph:
// a repository-wide edge set with forward/reverse adjacency indexes, cycle
// detection, connection ranking, and dependency-depth queries.
package graph

import (
	"path/filepath"
	"sort"
	"strings"

	"qaforge/internal/model"
)

// Graph holds the resolved dependency edges for a repository plus the
// forward/reverse adjacency indexes the queries are answered from.
type Graph struct {
	modulePath string // the project's own module path, read from go.mod
	knownFiles map[string]bool
	edges      []model.DependencyEdge
	forward    map[string][]string // file -> files it depends on
	reverse    map[string][]string // file -> files that depend on it
}

// New creates an empty Graph for a project whose module path is modulePath
// (read from go.mod) and whose known files are knownFiles.
func New(modulePath string, knownFiles []string) *Graph {
	known := make(map[string]bool, len(knownFiles))
	for _, f := range knownFiles {
		known[normalize(f)] = true
	}
	return &Graph{
		modulePath: modulePath,
		knownFiles: known,
		forward:    make(map[string][]string),
		reverse:    make(map[string][]string),
	}
}

func normalize(p string) string { return filepath.ToSlash(p) }

// resolution step codes.
const (
	resolveAlias = iota
	resolveRelative
	resolveExternal
	resolveProbe
)

// AliasPrefixes maps a registered alias prefix to its substitution, applied
// at resolution step 1.
type AliasPrefixes map[string]string

// Resolve maps an import source s imported from file f to a known file.
// The decision order is alias substitution → relative resolution →
// external classification → probe. Go has no relative-import space (the
// relative step never fires for Go sources) and no path-probe extensions
// to try, so the probe collapses to "does this module-path map to a known
// file".
func (g *Graph) Resolve(f, s string, aliases AliasPrefixes) (target string, ok bool) {
	if sub, hit := aliasMatch(s, aliases); hit {
		s = sub
	}

	if strings.HasPrefix(s, ".") {
		resolved := filepath.ToSlash(filepath.Join(filepath.Dir(f), s))
		if g.knownFiles[resolved] {
			return resolved, true
		}
		for _, ext := range []string{".go"} {
			if g.knownFiles[resolved+ext] {
				return resolved + ext, true
			}
		}
		return "", false
	}

	if g.modulePath == "" || !strings.HasPrefix(s, g.modulePath) {
		return "", false // external module: no edge
	}

	rel := strings.TrimPrefix(s, g.modulePath)
	rel = strings.TrimPrefix(rel, "/")
	for candidate := range g.knownFiles {
		if strings.HasPrefix(candidate, rel) {
			return candidate, true
		}
	}
	return "", false
}

func aliasMatch(s string, aliases AliasPrefixes) (string, bool) {
	for prefix, sub := range aliases {
		if strings.HasPrefix(s, prefix) {
			return sub + strings.TrimPrefix(s, prefix), true
		}
	}
	return "", false
}

// AddEdge resolves and records one import statement as a DependencyEdge.
// Unresolved imports produce no edge.
func (g *Graph) AddEdge(from string, imp model.ImportStatement, aliases AliasPrefixes) {
	from = normalize(from)
	target, ok := g.Resolve(from, imp.SourceModule, aliases)
	if !ok {
		return
	}
	target = normalize(target)

	var symbols []string
	for _, b := range imp.Bound {
		symbols = append(symbols, b.Original)
	}

	edge := model.DependencyEdge{
		From:    from,
		To:      target,
		Kind:    importKindToEdgeKind(imp),
		Symbols: symbols,
		Line:    imp.Line,
	}
	g.edges = append(g.edges, edge)
	g.forward[from] = append(g.forward[from], target)
	g.reverse[target] = append(g.reverse[target], from)
}

func importKindToEdgeKind(imp model.ImportStatement) model.EdgeKind {
	switch imp.Kind {
	case model.ImportSideEffect:
		return model.EdgeSideEffect
	case model.ImportDynamic:
		return model.EdgeDynamic
	case model.ImportRequire:
		return model.EdgeRequire
	default:
		if imp.TypeOnly {
			return model.EdgeTypeImport
		}
		return model.EdgeImport
	}
}

// Edges returns every recorded DependencyEdge.
func (g *Graph) Edges() []model.DependencyEdge { return g.edges }

// Dependents returns the files that depend on file.
func (g *Graph) Dependents(file string) []string { return g.reverse[normalize(file)] }

// Dependencies returns the files that file depends on.
func (g *Graph) Dependencies(file string) []string { return g.forward[normalize(file)] }

// EdgesTouching returns every edge with file as either endpoint.
func (g *Graph) EdgesTouching(file string) []model.DependencyEdge {
	file = normalize(file)
	var touching []model.DependencyEdge
	for _, e := range g.edges {
		if e.From == file || e.To == file {
			touching = append(touching, e)
		}
	}
	return touching
}

// FindCycles performs a recursive depth-first traversal from each unvisited node,
// maintaining a recursion-stack set; when an edge closes a back-edge, the
// slice of the current path from the repeated node to its second occurrence
// (inclusive) is emitted as a cycle.
func (g *Graph) FindCycles() [][]string {
	visited := make(map[string]bool)
	var cycles [][]string

	var files []string
	for f := range g.forward {
		files = append(files, f)
	}
	sort.Strings(files)

	for _, f := range files {
		if !visited[f] {
			g.dfsCycles(f, visited, make(map[string]bool), nil, &cycles)
		}
	}
	return cycles
}

func (g *Graph) dfsCycles(node string, visited, onStack map[string]bool, path []string, cycles *[][]string) {
	visited[node] = true
	onStack[node] = true
	path = append(path, node)

	for _, next := range g.forward[node] {
		if !visited[next] {
			g.dfsCycles(next, visited, onStack, path, cycles)
		} else if onStack[next] {
			start := -1
			for i, p := range path {
				if p == next {
					start = i
					break
				}
			}
			if start != -1 {
				cycle := append([]string{}, path[start:]...)
				cycle = append(cycle, next)
				*cycles = append(*cycles, cycle)
			}
		}
	}

	onStack[node] = false
}

// SortByConnections sorts files descending by indegree + outdegree, with a
// stable tie-break on file path.
func (g *Graph) SortByConnections() []string {
	seen := make(map[string]bool)
	for f := range g.forward {
		seen[f] = true
	}
	for f := range g.reverse {
		seen[f] = true
	}

	files := make([]string, 0, len(seen))
	for f := range seen {
		files = append(files, f)
	}

	degree := func(f string) int { return len(g.forward[f]) + len(g.reverse[f]) }

	sort.Slice(files, func(i, j int) bool {
		di, dj := degree(files[i]), degree(files[j])
		if di != dj {
			return di > dj
		}
		return files[i] < files[j]
	})

	return files
}

// Depth is the length of the longest acyclic dependency path starting from
// file, via a memoized DFS that terminates at already-visited nodes to keep
// cycles bounded.
func (g *Graph) Depth(file string) int {
	memo := make(map[string]int)
	return g.depthDFS(normalize(file), memo, make(map[string]bool))
}

func (g *Graph) depthDFS(file string, memo map[string]int, onPath map[string]bool) int {
	if onPath[file] {
		return 0 // cycle guard
	}
	if d, ok := memo[file]; ok {
		return d
	}

	onPath[file] = true
	best := 0
	for _, dep := range g.forward[file] {
		d := 1 + g.depthDFS(dep, memo, onPath)
		if d > best {
			best = d
		}
	}
	onPath[file] = false

	memo[file] = best
	return best
}
