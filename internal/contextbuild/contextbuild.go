// Package contextbuild assembles the non-fixed parts of a TaskContext:
// repo map, codebase docs, file contents, code-search hits, and memory
// hits, each bounded by a caller-supplied sub-budget. The five assemblers
// are independently fallible: a failure in any component yields an empty
// or stub component, never an aggregated failure.
package contextbuild

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"qaforge/internal/memory"
	"qaforge/internal/model"
	"qaforge/internal/repomap"
	"qaforge/internal/tokenbudget"
)

// repoMapTTL bounds how long a cached repo map stays fresh.
const repoMapTTL = 5 * time.Minute

const truncatedMarker = "... (truncated)"

// CodeSearcher is the code-memory collaborator.
type CodeSearcher interface {
	SearchCode(query string, opts memory.SearchOptions) ([]memory.CodeMatch, error)
}

// MemorySearcher is the general-memory collaborator.
type MemorySearcher interface {
	Search(query string, opts memory.SearchOptions) ([]memory.Match, error)
}

// Options configure a Builder: search thresholds, the large-file cap, and
// the analysis pipeline's filters.
type Options struct {
	MinCodeRelevance   float64
	MinMemoryRelevance float64
	MaxFileSizeChars   int
	Analyze            AnalyzeOptions
}

// Component is one budgeted piece of context text.
type Component struct {
	Text   string
	Tokens int
}

// FileContext is buildFileContext's result.
type FileContext struct {
	Files     []model.ScoredFile
	Tokens    int
	Truncated bool
}

// CodeContext is buildCodeContext's result.
type CodeContext struct {
	Hits   []model.CodeHit
	Tokens int
}

// MemoryContext is buildMemoryContext's result.
type MemoryContext struct {
	Hits   []model.MemoryHit
	Tokens int
}

type cachedMap struct {
	m         model.RepoMap
	builtAt   time.Time
	computing chan struct{} // closed when the computation finishes
	err       error
}

// Builder assembles the non-fixed parts of a TaskContext. All operations
// are independently cancelable and independently fallible: a failure in any
// component yields an empty or stub component, never an aggregated failure.
type Builder struct {
	Code   CodeSearcher
	Memory MemorySearcher
	opts   Options

	mu       sync.Mutex
	mapCache map[string]*cachedMap
	docCache map[string]*codebaseDocs
}

// NewBuilder creates a Builder. Code and Memory may be nil; the
// corresponding components then come back empty.
func NewBuilder(code CodeSearcher, mem MemorySearcher, opts Options) *Builder {
	if opts.MaxFileSizeChars <= 0 {
		opts.MaxFileSizeChars = 100_000
	}
	return &Builder{
		Code:     code,
		Memory:   mem,
		opts:     opts,
		mapCache: make(map[string]*cachedMap),
		docCache: make(map[string]*codebaseDocs),
	}
}

// BuildRepoMapContext returns a formatted repo map for projectPath bounded
// by maxTokens. Maps are cached per project path for a short TTL, and
// concurrent misses for the same key collapse to a single computation. Any
// pipeline failure yields the fallback minimal summary, never an error.
func (b *Builder) BuildRepoMapContext(ctx context.Context, projectPath string, maxTokens int) Component {
	if maxTokens <= 0 {
		return Component{}
	}
	m, err := b.cachedRepoMap(ctx, projectPath)
	if err != nil {
		text := fmt.Sprintf("Project: %s\n(full repo map unavailable: %v)\n", projectPath, err)
		return Component{Text: text, Tokens: tokenbudget.Estimate(text)}
	}

	text := repomap.Format(m, repomap.Options{Style: repomap.StyleCompact, MaxTokens: maxTokens})
	return Component{Text: text, Tokens: tokenbudget.Estimate(text)}
}

func (b *Builder) cachedRepoMap(ctx context.Context, projectPath string) (model.RepoMap, error) {
	b.mu.Lock()
	entry, ok := b.mapCache[projectPath]
	if ok && entry.computing == nil && time.Since(entry.builtAt) < repoMapTTL {
		b.mu.Unlock()
		return entry.m, nil
	}
	if ok && entry.computing != nil {
		// Another goroutine is already computing this key; wait for it.
		done := entry.computing
		b.mu.Unlock()
		select {
		case <-done:
			return entry.m, entry.err
		case <-ctx.Done():
			return model.RepoMap{}, ctx.Err()
		}
	}

	entry = &cachedMap{computing: make(chan struct{})}
	b.mapCache[projectPath] = entry
	b.mu.Unlock()

	m, _, err := Analyze(projectPath, b.opts.Analyze)

	b.mu.Lock()
	entry.m = m
	entry.err = err
	entry.builtAt = time.Now()
	close(entry.computing)
	entry.computing = nil
	if err != nil {
		delete(b.mapCache, projectPath)
	}
	b.mu.Unlock()

	return m, err
}

// codebaseDocs is the computed architectural summary BuildCodebaseDocsContext
// filters from.
type codebaseDocs struct {
	patterns []docPattern
	apis     []docAPI
}

type docPattern struct {
	name  string
	files []string
}

type docAPI struct {
	name      string
	signature string
	file      string
}

// BuildCodebaseDocsContext extracts architectural patterns and public API
// surface relevant to the task. A pattern or API is included when its file
// shares a directory with one of the task's target files; results are
// capped at 5 patterns and 10 APIs.
func (b *Builder) BuildCodebaseDocsContext(ctx context.Context, projectPath string, task model.Task, maxTokens int) Component {
	docs, err := b.cachedDocs(ctx, projectPath)
	if err != nil {
		return Component{}
	}

	taskDirs := make(map[string]bool)
	for _, f := range task.TargetFiles {
		taskDirs[filepath.ToSlash(filepath.Dir(f))] = true
	}
	inTaskDir := func(file string) bool {
		if len(taskDirs) == 0 {
			return true
		}
		return taskDirs[filepath.ToSlash(filepath.Dir(file))]
	}

	var patterns []docPattern
	for _, p := range docs.patterns {
		if len(patterns) == 5 {
			break
		}
		for _, f := range p.files {
			if inTaskDir(f) {
				patterns = append(patterns, p)
				break
			}
		}
	}

	var apis []docAPI
	for _, a := range docs.apis {
		if len(apis) == 10 {
			break
		}
		if inTaskDir(a.file) {
			apis = append(apis, a)
		}
	}

	if len(patterns) == 0 && len(apis) == 0 {
		return Component{}
	}

	var sb strings.Builder
	if len(patterns) > 0 {
		sb.WriteString("Architecture:\n")
		for _, p := range patterns {
			fmt.Fprintf(&sb, "- %s (%d files)\n", p.name, len(p.files))
		}
	}
	if len(apis) > 0 {
		sb.WriteString("Public API:\n")
		for _, a := range apis {
			fmt.Fprintf(&sb, "- %s (%s)\n", a.signature, a.file)
		}
	}

	text := fitToBudget(sb.String(), maxTokens)
	return Component{Text: text, Tokens: tokenbudget.Estimate(text)}
}

func (b *Builder) cachedDocs(ctx context.Context, projectPath string) (*codebaseDocs, error) {
	b.mu.Lock()
	if docs, ok := b.docCache[projectPath]; ok {
		b.mu.Unlock()
		return docs, nil
	}
	b.mu.Unlock()

	m, err := b.cachedRepoMap(ctx, projectPath)
	if err != nil {
		return nil, err
	}

	docs := computeDocs(m)

	b.mu.Lock()
	b.docCache[projectPath] = docs
	b.mu.Unlock()
	return docs, nil
}

// computeDocs derives patterns (one per package directory, ordered by file
// count) and the exported API surface (ordered by reference count) from a
// repo map.
func computeDocs(m model.RepoMap) *codebaseDocs {
	byDir := make(map[string][]string)
	for _, f := range m.Files {
		dir := filepath.ToSlash(filepath.Dir(f.Path))
		byDir[dir] = append(byDir[dir], f.Path)
	}

	var patterns []docPattern
	for dir, files := range byDir {
		patterns = append(patterns, docPattern{name: dir, files: files})
	}
	sort.SliceStable(patterns, func(i, j int) bool {
		if len(patterns[i].files) != len(patterns[j].files) {
			return len(patterns[i].files) > len(patterns[j].files)
		}
		return patterns[i].name < patterns[j].name
	})

	syms := make([]model.Symbol, 0, len(m.Symbols))
	for _, s := range m.Symbols {
		if s.Exported && s.ParentID == "" {
			syms = append(syms, s)
		}
	}
	sort.SliceStable(syms, func(i, j int) bool {
		if syms[i].References != syms[j].References {
			return syms[i].References > syms[j].References
		}
		return syms[i].Name < syms[j].Name
	})

	var apis []docAPI
	for _, s := range syms {
		sig := s.Signature
		if sig == "" {
			sig = s.Name
		}
		apis = append(apis, docAPI{name: s.Name, signature: sig, file: s.File})
	}

	return &codebaseDocs{patterns: patterns, apis: apis}
}

// relevance reasons and their fixed score table.
const (
	ReasonTaskFile       = "task_file"
	ReasonTest           = "test"
	ReasonTypeDefinition = "type_definition"
	ReasonDependency     = "dependency"
	ReasonRequested      = "requested"
	ReasonRelated        = "related"
)

var relevanceScores = map[string]float64{
	ReasonTaskFile:       1.0,
	ReasonTest:           0.8,
	ReasonTypeDefinition: 0.7,
	ReasonDependency:     0.6,
	ReasonRequested:      0.5,
	ReasonRelated:        0.3,
}

// FileRequest names one file to read, with the task's target files for
// relevance classification.
type FileRequest struct {
	Path        string
	TargetFiles []string
	Requested   bool // caller asked for this file explicitly
}

// BuildFileContext reads each requested path in parallel, rejects files
// over the size cap, scores each by the relevance table, sorts descending,
// and greedily admits files until the next would exceed maxTokens.
func (b *Builder) BuildFileContext(ctx context.Context, reqs []FileRequest, maxTokens int) FileContext {
	type readResult struct {
		file model.ScoredFile
		ok   bool
	}

	results := make([]readResult, len(reqs))
	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req FileRequest) {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			content, err := os.ReadFile(req.Path)
			if err != nil || len(content) > b.opts.MaxFileSizeChars {
				return
			}
			reason := classifyFile(req)
			results[i] = readResult{
				file: model.ScoredFile{
					Path:    req.Path,
					Content: string(content),
					Reason:  reason,
					Score:   relevanceScores[reason],
				},
				ok: true,
			}
		}(i, req)
	}
	wg.Wait()

	files := make([]model.ScoredFile, 0, len(results))
	for _, r := range results {
		if r.ok {
			files = append(files, r.file)
		}
	}
	sort.SliceStable(files, func(i, j int) bool {
		if files[i].Score != files[j].Score {
			return files[i].Score > files[j].Score
		}
		return files[i].Path < files[j].Path
	})

	out := FileContext{}
	used := 0
	for _, f := range files {
		cost := tokenbudget.Estimate(f.Content)
		if used+cost > maxTokens {
			out.Truncated = true
			break
		}
		out.Files = append(out.Files, f)
		used += cost
	}
	out.Tokens = used
	return out
}

// classifyFile assigns a relevance reason from filename and path
// heuristics, in priority order.
func classifyFile(req FileRequest) string {
	norm := filepath.ToSlash(req.Path)
	for _, t := range req.TargetFiles {
		if filepath.ToSlash(t) == norm {
			return ReasonTaskFile
		}
	}

	base := filepath.Base(norm)
	switch {
	case strings.HasSuffix(base, "_test.go"), strings.Contains(base, ".test."), strings.Contains(base, ".spec."):
		return ReasonTest
	case base == "types.go", strings.HasSuffix(base, ".d.ts"), strings.Contains(norm, "/types/"), strings.Contains(norm, "/model/"):
		return ReasonTypeDefinition
	}

	for _, t := range req.TargetFiles {
		if filepath.ToSlash(filepath.Dir(t)) == filepath.Dir(norm) {
			return ReasonDependency
		}
	}
	if req.Requested {
		return ReasonRequested
	}
	return ReasonRelated
}

// BuildCodeContext asks the code-memory backend for up to 20 semantic
// matches over the configured relevance floor, then keeps the prefix that
// fits maxTokens.
func (b *Builder) BuildCodeContext(ctx context.Context, query string, maxTokens int) CodeContext {
	if b.Code == nil || ctx.Err() != nil {
		return CodeContext{}
	}

	matches, err := b.Code.SearchCode(query, memory.SearchOptions{
		Limit:     20,
		Threshold: b.opts.MinCodeRelevance,
	})
	if err != nil {
		return CodeContext{}
	}

	out := CodeContext{}
	used := 0
	for _, m := range matches {
		cost := tokenbudget.Estimate(m.Chunk.Content)
		if used+cost > maxTokens {
			break
		}
		out.Hits = append(out.Hits, model.CodeHit{Content: m.Chunk.Content, Score: m.Score})
		used += cost
	}
	out.Tokens = used
	return out
}

// BuildMemoryContext queries the general memory backend with
// "<name> <description>" and applies the same prefix-fit policy.
func (b *Builder) BuildMemoryContext(ctx context.Context, task model.Task, maxTokens int) MemoryContext {
	if b.Memory == nil || ctx.Err() != nil {
		return MemoryContext{}
	}

	query := strings.TrimSpace(task.Name + " " + task.Description)
	matches, err := b.Memory.Search(query, memory.SearchOptions{
		Limit:     20,
		Threshold: b.opts.MinMemoryRelevance,
	})
	if err != nil {
		return MemoryContext{}
	}

	out := MemoryContext{}
	used := 0
	for _, m := range matches {
		cost := tokenbudget.Estimate(m.Content)
		if used+cost > maxTokens {
			break
		}
		out.Hits = append(out.Hits, model.MemoryHit{
			ID:      m.ID,
			Content: m.Content,
			Score:   m.Score,
			Source:  m.Source,
		})
		used += cost
	}
	out.Tokens = used
	return out
}

// fitToBudget trims text to maxTokens at the nearest preceding newline,
// appending the truncation marker when anything was dropped.
func fitToBudget(text string, maxTokens int) string {
	if tokenbudget.Estimate(text) <= maxTokens {
		return text
	}
	marker := "\n" + truncatedMarker + "\n"
	budgetChars := maxTokens*tokenbudget.CharsPerToken - len(marker)
	if budgetChars <= 0 {
		return ""
	}
	cut := strings.LastIndexByte(text[:budgetChars], '\n')
	if cut <= 0 {
		cut = budgetChars
	}
	return text[:cut] + marker
}
