// Package gitrepo provides the narrow version-control surface the release
// pipeline needs.
package gitrepo

import (
	"context"
	"strings"

	"relcut/internal/execx"
)

// Repository is the version-control collaborator. The pipeline only ever
// needs these six operations; tests supply a fake.
type Repository interface {
	// Uncommitted returns the porcelain status of tracked changes, empty
	// when the working tree is clean.
	Uncommitted(ctx context.Context) (string, error)

	// Commit stages the given paths and records a commit.
	Commit(ctx context.Context, message string, paths ...string) error

	// ArchiveHead returns a tar snapshot of the current commit. Never the
	// working tree, so builds only see committed state.
	ArchiveHead(ctx context.Context) ([]byte, error)

	// CreateSignedTag creates an annotated signed tag at HEAD.
	CreateSignedTag(ctx context.Context, name, message string) error

	// PushTag pushes one tag to the default remote.
	PushTag(ctx context.Context, name string) error

	// Push pushes the current branch to the default remote.
	Push(ctx context.Context) error
}

// CLI implements Repository with the git command line.
type CLI struct {
	Dir    string
	Runner execx.Runner
}

// NewCLI creates a git collaborator rooted at dir.
func NewCLI(dir string) *CLI {
	return &CLI{Dir: dir, Runner: execx.Local{}}
}

func (g *CLI) git(ctx context.Context, args ...string) ([]byte, error) {
	return g.Runner.Run(ctx, execx.Command{Name: "git", Args: args, Dir: g.Dir})
}

// Uncommitted implements Repository. Untracked files are ignored; only
// tracked modifications make the tree dirty.
func (g *CLI) Uncommitted(ctx context.Context) (string, error) {
	out, err := g.git(ctx, "status", "--porcelain", "--untracked-files=no")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// Commit implements Repository.
func (g *CLI) Commit(ctx context.Context, message string, paths ...string) error {
	if _, err := g.git(ctx, append([]string{"add", "--"}, paths...)...); err != nil {
		return err
	}
	_, err := g.git(ctx, "commit", "-m", message)
	return err
}

// ArchiveHead implements Repository.
func (g *CLI) ArchiveHead(ctx context.Context) ([]byte, error) {
	return g.git(ctx, "archive", "--format=tar", "HEAD")
}

// CreateSignedTag implements Repository.
func (g *CLI) CreateSignedTag(ctx context.Context, name, message string) error {
	_, err := g.git(ctx, "tag", "-s", name, "-m", message)
	return err
}

// PushTag implements Repository.
func (g *CLI) PushTag(ctx context.Context, name string) error {
	_, err := g.git(ctx, "push", "origin", "refs/tags/"+name)
	return err
}

// Push implements Repository.
func (g *CLI) Push(ctx context.Context) error {
	_, err := g.git(ctx, "push", "origin", "HEAD")
	return err
}

var _ Repository = (*CLI)(nil)
