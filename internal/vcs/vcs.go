// Package vcs wraps the version-control collaborator: staged and unstaged
// unified diffs of a working tree, where an empty string means no changes.
// Diff returns the raw, possibly-empty text; the review gate, not this
// package, synthesizes the "no changes to review" comment.
package vcs

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Git is a git-backed realization of the VCS collaborator, rooted at a
// working directory resolved to its repository root on construction.
type Git struct {
	root string
}

// NewGit resolves startPath's git repository root and returns a Git bound
// to it.
func NewGit(startPath string) (*Git, error) {
	root, err := FindGitRoot(startPath)
	if err != nil {
		return nil, err
	}
	return &Git{root: root}, nil
}

// Diff returns the unified diff of staged or unstaged changes.
func (g *Git) Diff(ctx context.Context, staged bool) (string, error) {
	args := []string{"diff"}
	if staged {
		args = append(args, "--cached")
	}

	output, err := runGitCommandInDir(ctx, g.root, args...)
	if err != nil {
		return "", err
	}
	return output, nil
}

// FindGitRoot finds the git repository root starting from startPath,
// matching capabilities/git/common.go's FindGitRoot exactly.
func FindGitRoot(startPath string) (string, error) {
	cmd := exec.Command("git", "rev-parse", "--show-toplevel")
	cmd.Dir = startPath
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("not a git repository (or any parent): %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// runGitCommandInDir executes a git command in dir, returning combined
// stdout/stderr, matching capabilities/git/common.go's
// RunGitCommandInDir.
func runGitCommandInDir(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("git command failed: %w", err)
	}
	return string(output), nil
}
