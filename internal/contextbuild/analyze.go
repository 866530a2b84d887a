package contextbuild

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"qaforge/internal/graph"
	"qaforge/internal/model"
	"qaforge/internal/parser"
	"qaforge/internal/refcount"
)

// skipDirs are never descended into during the project walk.
var skipDirs = map[string]bool{
	".git":         true,
	"vendor":       true,
	"node_modules": true,
	"testdata":     true,
}

// AnalyzeOptions bound a single analysis run.
type AnalyzeOptions struct {
	MaxFiles        int
	IncludePatterns []string
	ExcludePatterns []string
	CountReferences bool
}

// Analyze runs the repository analysis pipeline end-to-end: scan → parse
// → graph → reference count → aggregate.
func Analyze(projectPath string, opts AnalyzeOptions) (model.RepoMap, *graph.Graph, error) {
	start := time.Now()

	if opts.MaxFiles <= 0 {
		opts.MaxFiles = 500
	}

	if _, err := os.Stat(projectPath); err != nil {
		return model.RepoMap{}, nil, fmt.Errorf("project path unreadable: %w", err)
	}

	files, err := scanProject(projectPath, opts)
	if err != nil {
		return model.RepoMap{}, nil, fmt.Errorf("failed to scan project: %w", err)
	}

	sources := make(map[string]string, len(files))
	order := make([]string, 0, len(files))
	for _, f := range files {
		content, err := os.ReadFile(filepath.Join(projectPath, f))
		if err != nil {
			continue
		}
		sources[f] = string(content)
		order = append(order, f)
	}

	results := parser.ParseFiles(sources, order)

	modulePath := readModulePath(projectPath)
	g := graph.New(modulePath, order)

	var symbols []model.Symbol
	var edges []model.DependencyEdge
	var allImports []model.ImportStatement
	fileMetas := make([]model.FileMeta, 0, len(results))

	for _, res := range results {
		symbols = append(symbols, res.Symbols...)
		allImports = append(allImports, res.Imports...)
		for _, imp := range res.Imports {
			g.AddEdge(res.File, imp, nil)
		}
		fileMetas = append(fileMetas, model.FileMeta{
			Path:        res.File,
			Language:    "go",
			SymbolCount: len(res.Symbols),
			ImportCount: len(res.Imports),
		})
	}
	edges = g.Edges()

	if opts.CountReferences {
		symbols = refcount.Count(symbols, allImports)
	}

	m := model.RepoMap{
		ProjectRoot: projectPath,
		GeneratedAt: time.Now(),
		Files:       fileMetas,
		Symbols:     symbols,
		Edges:       edges,
		Stats:       buildStats(fileMetas, symbols, edges, g, time.Since(start)),
	}

	return m, g, nil
}

func buildStats(files []model.FileMeta, symbols []model.Symbol, edges []model.DependencyEdge, g *graph.Graph, elapsed time.Duration) model.RepoStats {
	byKind := make(map[model.SymbolKind]int)
	for _, s := range symbols {
		byKind[s.Kind]++
	}

	ranked := make([]model.Symbol, len(symbols))
	copy(ranked, symbols)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].References != ranked[j].References {
			return ranked[i].References > ranked[j].References
		}
		return ranked[i].ID < ranked[j].ID
	})

	const topN = 10
	var mostReferenced []string
	for _, s := range ranked {
		if len(mostReferenced) == topN {
			break
		}
		if s.References == 0 {
			break
		}
		mostReferenced = append(mostReferenced, s.ID)
	}

	connected := g.SortByConnections()
	if len(connected) > topN {
		connected = connected[:topN]
	}

	return model.RepoStats{
		TotalFiles:           len(files),
		TotalSymbols:         len(symbols),
		TotalEdges:           len(edges),
		SymbolsByKind:        byKind,
		MostReferencedSymbol: mostReferenced,
		MostConnectedFiles:   connected,
		GenerationTime:       elapsed.Seconds(),
	}
}

// scanProject collects project-relative source file paths, bounded by
// MaxFiles and filtered through the include/exclude globs.
func scanProject(projectPath string, opts AnalyzeOptions) ([]string, error) {
	var files []string

	err := filepath.Walk(projectPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			name := info.Name()
			if skipDirs[name] || (strings.HasPrefix(name, "_") && path != projectPath) {
				return filepath.SkipDir
			}
			return nil
		}
		if len(files) >= opts.MaxFiles {
			return filepath.SkipAll
		}

		rel, err := filepath.Rel(projectPath, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if _, ok := parser.DetectLanguage(rel); !ok {
			return nil
		}
		if !matchesPatterns(rel, opts.IncludePatterns, opts.ExcludePatterns) {
			return nil
		}

		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

func matchesPatterns(rel string, include, exclude []string) bool {
	for _, pat := range exclude {
		if globMatch(pat, rel) {
			return false
		}
	}
	if len(include) == 0 {
		return true
	}
	for _, pat := range include {
		if globMatch(pat, rel) {
			return true
		}
	}
	return false
}

// globMatch matches pat against the full relative path and against its
// basename, so "*_test.go" works without a "**/" prefix.
func globMatch(pat, rel string) bool {
	if ok, _ := filepath.Match(pat, rel); ok {
		return true
	}
	ok, _ := filepath.Match(pat, filepath.Base(rel))
	return ok
}

// readModulePath extracts the module path from go.mod; empty when absent,
// which classifies every import as external.
func readModulePath(projectPath string) string {
	data, err := os.ReadFile(filepath.Join(projectPath, "go.mod"))
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "module ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "module "))
		}
	}
	return ""
}
