// Package gate implements the read-only precondition checks that must pass
// before the pipeline performs any side effect.
package gate

import (
	"context"
	"log/slog"

	"relcut/internal/apperrors"
	"relcut/internal/config"
	"relcut/internal/execx"
	"relcut/internal/gitrepo"
	"relcut/internal/release"
)

// Preconditions evaluates the release readiness checks in a fixed order,
// stopping at the first failure. All checks are read-only.
type Preconditions struct {
	cfg      *config.Config
	repo     gitrepo.Repository
	lookPath func(string) bool
}

// New creates the precondition gate.
func New(cfg *config.Config, repo gitrepo.Repository) *Preconditions {
	return &Preconditions{cfg: cfg, repo: repo, lookPath: execx.LookPath}
}

// Check runs all checks for the target version. On success it returns the
// changelog excerpt for the release.
//
// Order matters: the changelog check comes first so a forgotten entry is
// reported before anything touches the repository, and every mutating
// stage is gated behind all four checks.
func (p *Preconditions) Check(ctx context.Context, target string) (string, error) {
	logger := slog.With("component", "preconditions", "version", target)

	excerpt, err := release.ChangelogExcerpt(p.cfg.Path(p.cfg.Changelog), target)
	if err != nil {
		return "", err
	}
	logger.Debug("Changelog entry found", "changelog", p.cfg.Changelog)

	dirty, err := p.repo.Uncommitted(ctx)
	if err != nil {
		return "", apperrors.Internal("gate.status", err)
	}
	if dirty != "" {
		return "", apperrors.DirtyWorkingTree(dirty)
	}
	logger.Debug("Working tree clean")

	for _, name := range p.cfg.IdentityVars {
		if p.cfg.Identity[name] == "" {
			return "", apperrors.MissingIdentity(name)
		}
	}
	logger.Debug("Packaging identity present", "vars", p.cfg.IdentityVars)

	for _, tool := range p.cfg.Tools {
		if !p.lookPath(tool) {
			return "", apperrors.MissingTool(tool)
		}
	}
	logger.Debug("Required tools resolvable", "tools", p.cfg.Tools)

	return excerpt, nil
}
