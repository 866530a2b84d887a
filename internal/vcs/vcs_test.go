package vcs

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func initTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, args := range [][]string{
		{"init"},
		{"config", "user.email", "test@example.com"},
		{"config", "user.name", "Test"},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		require.NoError(t, cmd.Run())
	}

	file := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(file, []byte("one\n"), 0644))

	add := exec.Command("git", "add", "a.txt")
	add.Dir = dir
	require.NoError(t, add.Run())

	commit := exec.Command("git", "commit", "-m", "init")
	commit.Dir = dir
	require.NoError(t, commit.Run())

	return dir
}

func TestFindGitRoot(t *testing.T) {
	dir := initTestRepo(t)
	root, err := FindGitRoot(dir)

	require.NoError(t, err)
	require.NotEmpty(t, root)
}

func TestGit_Diff_EmptyWhenClean(t *testing.T) {
	dir := initTestRepo(t)
	g, err := NewGit(dir)
	require.NoError(t, err)

	unstaged, err := g.Diff(context.Background(), false)
	require.NoError(t, err)
	require.Empty(t, unstaged)

	staged, err := g.Diff(context.Background(), true)
	require.NoError(t, err)
	require.Empty(t, staged)
}

func TestGit_Diff_UnstagedChange(t *testing.T) {
	dir := initTestRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("one\ntwo\n"), 0644))

	g, err := NewGit(dir)
	require.NoError(t, err)

	diff, err := g.Diff(context.Background(), false)
	require.NoError(t, err)
	require.Contains(t, diff, "a.txt")
	require.Contains(t, diff, "+two")
}

func TestNewGit_NotARepo(t *testing.T) {
	_, err := NewGit(t.TempDir())
	require.Error(t, err)
}
