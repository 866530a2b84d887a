package contextbuild

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"qaforge/internal/model"
	"qaforge/internal/tokenbudget"
)

func writeProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module example.com/demo\n\ngo 1.22\n"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "user"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "user", "user.go"), []byte(`package user

// User is an account holder.
type User struct {
	Name string
}

func NewUser(name string) *User { return &User{Name: name} }
`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "order.go"), []byte(`package demo

import "example.com/demo/user"

type Order struct {
	Owner *user.User
}

func NewOrder(u *user.User) *Order { return &Order{Owner: u} }
`), 0644))

	return dir
}

func TestAnalyze_BuildsRepoMap(t *testing.T) {
	dir := writeProject(t)

	m, g, err := Analyze(dir, AnalyzeOptions{CountReferences: true})
	require.NoError(t, err)
	require.NotNil(t, g)

	assert.Equal(t, 2, m.Stats.TotalFiles)
	assert.NotZero(t, m.Stats.TotalSymbols)
	assert.Equal(t, 1, m.Stats.TotalEdges)

	var user model.Symbol
	for _, s := range m.Symbols {
		if s.Name == "User" && s.Kind == model.SymbolClass {
			user = s
		}
	}
	require.NotEmpty(t, user.ID)
	assert.True(t, user.Exported)
	// order.go's qualified uses of user.User bind User on its import.
	assert.Greater(t, user.References, 0)
}

func TestBuildRepoMapContext_CachesAndFallsBack(t *testing.T) {
	dir := writeProject(t)
	b := NewBuilder(nil, nil, Options{})

	first := b.BuildRepoMapContext(context.Background(), dir, 500)
	assert.Contains(t, first.Text, "Repo:")
	assert.LessOrEqual(t, first.Tokens, 500)

	// Second call hits the TTL cache.
	second := b.BuildRepoMapContext(context.Background(), dir, 500)
	assert.Equal(t, first.Text, second.Text)

	// A bad project path yields the fallback summary, not an error.
	missing := b.BuildRepoMapContext(context.Background(), filepath.Join(dir, "no-such-dir"), 500)
	assert.Contains(t, missing.Text, "repo map unavailable")
}

func TestBuildFileContext_ScoresAndAdmitsGreedily(t *testing.T) {
	dir := writeProject(t)
	b := NewBuilder(nil, nil, Options{})

	target := filepath.Join(dir, "user", "user.go")
	reqs := []FileRequest{
		{Path: target, TargetFiles: []string{target}},
		{Path: filepath.Join(dir, "order.go"), TargetFiles: []string{target}},
	}

	out := b.BuildFileContext(context.Background(), reqs, 10_000)
	require.Len(t, out.Files, 2)
	assert.Equal(t, ReasonTaskFile, out.Files[0].Reason)
	assert.Equal(t, 1.0, out.Files[0].Score)
	assert.Equal(t, ReasonRelated, out.Files[1].Reason)
}

func TestBuildFileContext_BudgetCutoffSetsTruncated(t *testing.T) {
	dir := writeProject(t)
	b := NewBuilder(nil, nil, Options{})

	reqs := []FileRequest{
		{Path: filepath.Join(dir, "user", "user.go")},
		{Path: filepath.Join(dir, "order.go")},
	}

	out := b.BuildFileContext(context.Background(), reqs, 15)
	assert.True(t, out.Truncated)
	assert.LessOrEqual(t, out.Tokens, 15)
}

func TestBuildFileContext_RejectsOversizedFiles(t *testing.T) {
	dir := t.TempDir()
	big := filepath.Join(dir, "big.go")
	require.NoError(t, os.WriteFile(big, make([]byte, 200), 0644))

	b := NewBuilder(nil, nil, Options{MaxFileSizeChars: 100})
	out := b.BuildFileContext(context.Background(), []FileRequest{{Path: big}}, 10_000)
	assert.Empty(t, out.Files)
}

func TestClassifyFile_Heuristics(t *testing.T) {
	tests := []struct {
		name   string
		req    FileRequest
		reason string
	}{
		{"task file", FileRequest{Path: "a/b.go", TargetFiles: []string{"a/b.go"}}, ReasonTaskFile},
		{"test file", FileRequest{Path: "a/b_test.go"}, ReasonTest},
		{"types file", FileRequest{Path: "a/types.go"}, ReasonTypeDefinition},
		{"same dir", FileRequest{Path: "a/c.go", TargetFiles: []string{"a/b.go"}}, ReasonDependency},
		{"requested", FileRequest{Path: "x/y.go", Requested: true}, ReasonRequested},
		{"fallback", FileRequest{Path: "x/y.go"}, ReasonRelated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.reason, classifyFile(tt.req))
		})
	}
}

func TestBuildCodebaseDocsContext_FiltersByTaskDirs(t *testing.T) {
	dir := writeProject(t)
	b := NewBuilder(nil, nil, Options{})

	task := model.Task{TargetFiles: []string{"user/user.go"}}
	out := b.BuildCodebaseDocsContext(context.Background(), dir, task, 500)
	assert.Contains(t, out.Text, "Public API:")
	assert.Contains(t, out.Text, "User")
}

func TestBuildCodeAndMemoryContexts_NilBackendsYieldEmpty(t *testing.T) {
	b := NewBuilder(nil, nil, Options{})

	code := b.BuildCodeContext(context.Background(), "anything", 100)
	assert.Empty(t, code.Hits)
	assert.Zero(t, code.Tokens)

	mem := b.BuildMemoryContext(context.Background(), model.Task{Name: "t"}, 100)
	assert.Empty(t, mem.Hits)
	assert.Zero(t, mem.Tokens)
}

func TestFitToBudget_AppendsMarker(t *testing.T) {
	text := "line one\nline two\nline three\nline four\n"
	out := fitToBudget(text, 6)
	assert.Contains(t, out, truncatedMarker)
	assert.LessOrEqual(t, tokenbudget.Estimate(out), 6)
}
