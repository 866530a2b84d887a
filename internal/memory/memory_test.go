package memory

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "memory.db")
	store, err := NewStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSearchCode_ReturnsStoredChunk(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.StoreCode("pkg/user.go", "func NewUser(name string) *User { return &User{Name: name} }", "go"))
	require.NoError(t, store.StoreCode("pkg/order.go", "func NewOrder() *Order { return &Order{} }", "go"))

	matches, err := store.SearchCode("NewUser", SearchOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "pkg/user.go", matches[0].Chunk.FilePath)
	assert.Contains(t, matches[0].Chunk.Content, "NewUser")
	assert.Greater(t, matches[0].Score, 0.0)
}

func TestSearch_ThresholdFiltersLowRankedResults(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.StoreMemory("prefer table-driven tests in this repo", "review"))
	require.NoError(t, store.StoreMemory("tests must not hit the network", "review"))
	require.NoError(t, store.StoreMemory("tests run with -race in CI", "ci"))

	all, err := store.Search("tests", SearchOptions{Limit: 10})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(all), 2)

	// Only the top-ranked result scores 1.0; a threshold just under it
	// drops everything else.
	top, err := store.Search("tests", SearchOptions{Limit: 10, Threshold: 0.9})
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, 1.0, top[0].Score)
}

func TestSearch_NoMatches(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.StoreMemory("something unrelated", "misc"))

	matches, err := store.Search("zxqvw", SearchOptions{Limit: 5})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestSearchCode_LimitApplies(t *testing.T) {
	store := newTestStore(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.StoreCode("a.go", "func Shared() {}", "go"))
	}

	matches, err := store.SearchCode("Shared", SearchOptions{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}
