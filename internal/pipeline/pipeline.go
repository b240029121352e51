// Package pipeline sequences the release stages from version validation
// through publication and the post-release version bump.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"relcut/internal/apperrors"
	"relcut/internal/config"
	"relcut/internal/environment"
	"relcut/internal/execx"
	"relcut/internal/gitrepo"
	"relcut/internal/matrix"
	"relcut/internal/observability"
	"relcut/internal/pkgbuild"
	"relcut/internal/release"
	"relcut/internal/sign"
	"relcut/internal/staging"
)

// ErrDeclined marks an operator decline at the confirmation gate. A
// declined release is a normal outcome, not a failure.
var ErrDeclined = errors.New("release declined")

// Preconditions is the read-only gate evaluated before any side effect.
type Preconditions interface {
	Check(ctx context.Context, target string) (string, error)
}

// Confirmer is the interactive review surface.
type Confirmer interface {
	Confirm(coll *staging.Collection, excerpt string) (bool, error)
	NextVersion(published string) (string, error)
}

// Publisher pushes a signed collection to the outbound channels.
type Publisher interface {
	Publish(ctx context.Context, coll *staging.Collection, tag string) error
}

// Pipeline wires the release stages together. Construct it once per run;
// it carries per-run state between stages.
type Pipeline struct {
	Config        *config.Config
	Repo          gitrepo.Repository
	Preconditions Preconditions
	Builder       environment.Builder
	Runner        execx.Runner
	Console       Confirmer
	Publisher     Publisher
	Metrics       *observability.Metrics

	excerpt string
	source  []byte
	coll    *staging.Collection
}

// Result reports how far a run got. Declined is set when the operator
// stopped the release at the confirmation gate; the staged artifacts stay
// on disk either way.
type Result struct {
	Version   string
	Completed int // Stages finished
	Declined  bool
	Artifacts []staging.Artifact
}

type stage struct {
	name string
	run  func(ctx context.Context) error
}

// Run executes the release for the target version. The pipeline fails
// fast: the first stage error stops the run, and nothing is rolled back.
func (p *Pipeline) Run(ctx context.Context, target string) (Result, error) {
	stages := []stage{
		{"validate", func(ctx context.Context) error { return p.validate(ctx, target) }},
		{"preconditions", func(ctx context.Context) error { return p.preconditions(ctx, target) }},
		{"commit version", func(ctx context.Context) error { return p.commitVersion(ctx, target) }},
		{"build matrix", func(ctx context.Context) error { return p.buildMatrix(ctx, target) }},
		{"package", p.buildNativePackage},
		{"sign", p.signArtifacts},
		{"tag", func(ctx context.Context) error { return p.createTag(ctx, target) }},
		{"confirm", p.confirm},
		{"publish", func(ctx context.Context) error { return p.publish(ctx, target) }},
		{"bump version", func(ctx context.Context) error { return p.bumpVersion(ctx, target) }},
	}

	result := Result{Version: target}
	for _, s := range stages {
		logger := slog.With("stage", s.name, "version", target)
		logger.Info("Stage starting")
		start := time.Now()

		err := s.run(ctx)
		p.Metrics.RecordStage(ctx, s.name, err == nil, time.Since(start).Seconds())

		if errors.Is(err, ErrDeclined) {
			logger.Info("Release declined, staged artifacts retained")
			result.Declined = true
			result.Artifacts = p.artifacts()
			return result, nil
		}
		if err != nil {
			logger.Error("Stage failed", "error", err, "kind", apperrors.Kind(err))
			result.Artifacts = p.artifacts()
			return result, err
		}

		result.Completed++
		logger.Info("Stage complete", "duration", time.Since(start).Round(time.Millisecond))
	}

	result.Artifacts = p.artifacts()
	return result, nil
}

func (p *Pipeline) artifacts() []staging.Artifact {
	if p.coll == nil {
		return nil
	}
	return p.coll.Artifacts()
}

func (p *Pipeline) validate(ctx context.Context, target string) error {
	current, err := release.CurrentVersion(p.Config.Path(p.Config.VersionFile))
	if err != nil {
		return err
	}
	return release.ValidateTarget(current, target)
}

func (p *Pipeline) preconditions(ctx context.Context, target string) error {
	excerpt, err := p.Preconditions.Check(ctx, target)
	if err != nil {
		return err
	}
	p.excerpt = excerpt
	return nil
}

// commitVersion is the first mutating stage. Everything before it left the
// repository untouched.
func (p *Pipeline) commitVersion(ctx context.Context, target string) error {
	if err := release.WriteVersion(p.Config.Path(p.Config.VersionFile), target); err != nil {
		return err
	}
	if err := p.Repo.Commit(ctx, "Release "+target, p.Config.VersionFile); err != nil {
		return apperrors.Internal("pipeline.commitVersion", err)
	}

	// Builds consume a snapshot of the release commit, never the working
	// tree.
	source, err := p.Repo.ArchiveHead(ctx)
	if err != nil {
		return apperrors.Internal("pipeline.archive", err)
	}
	p.source = source
	return nil
}

func (p *Pipeline) buildMatrix(ctx context.Context, target string) error {
	coll, err := staging.NewCollection(p.Config.Path(p.Config.StagingRoot), target)
	if err != nil {
		return err
	}
	p.coll = coll

	specs := make([]environment.RuntimeSpec, 0, len(p.Config.Environments))
	for _, rc := range p.Config.Environments {
		specs = append(specs, environment.RuntimeSpec{
			Name:        rc.Name,
			Image:       rc.Image,
			Install:     rc.Install,
			Test:        rc.Test,
			Build:       rc.Build,
			ArtifactDir: rc.ArtifactDir,
		})
	}

	runner := &matrix.Runner{
		Builder:      p.Builder,
		Specs:        specs,
		Staging:      coll,
		Parallel:     p.Config.Parallel,
		PhaseTimeout: p.Config.PhaseTimeout,
		Metrics:      p.Metrics,
	}
	return runner.Run(ctx, p.source)
}

func (p *Pipeline) buildNativePackage(ctx context.Context) error {
	sdist, err := p.coll.SourceDistributionFor()
	if err != nil {
		return err
	}

	builder := &pkgbuild.Builder{
		Runner:       p.Runner,
		PackagingDir: p.Config.Path(p.Config.PackagingDir),
		Identity:     p.Config.Identity,
	}
	pkg, err := builder.Build(ctx, sdist, p.coll.Dir())
	if err != nil {
		return err
	}
	return p.coll.Add(pkg)
}

func (p *Pipeline) signArtifacts(ctx context.Context) error {
	signer := &sign.Signer{Runner: p.Runner, KeyID: p.Config.SigningKeyID}
	return signer.SignAll(ctx, p.coll)
}

func (p *Pipeline) createTag(ctx context.Context, target string) error {
	if err := p.Repo.CreateSignedTag(ctx, target, "Release "+target); err != nil {
		return apperrors.Signing("tag "+target, err)
	}
	return nil
}

func (p *Pipeline) confirm(ctx context.Context) error {
	ok, err := p.Console.Confirm(p.coll, p.excerpt)
	if err != nil {
		return apperrors.Internal("pipeline.confirm", err)
	}
	if !ok {
		return ErrDeclined
	}
	return nil
}

func (p *Pipeline) publish(ctx context.Context, target string) error {
	return p.Publisher.Publish(ctx, p.coll, target)
}

// bumpVersion moves the tree to the next development cycle. It only runs
// after a confirmed, published release.
func (p *Pipeline) bumpVersion(ctx context.Context, target string) error {
	next, err := p.Console.NextVersion(target)
	if err != nil {
		return apperrors.Internal("pipeline.nextVersion", err)
	}
	if err := release.WriteVersion(p.Config.Path(p.Config.VersionFile), next); err != nil {
		return err
	}
	message := fmt.Sprintf("Prepare version %s", next)
	if err := p.Repo.Commit(ctx, message, p.Config.VersionFile); err != nil {
		return apperrors.Internal("pipeline.bumpVersion", err)
	}
	if err := p.Repo.Push(ctx); err != nil {
		return apperrors.Internal("pipeline.bumpVersion", err)
	}
	slog.Info("Development version prepared", "version", next)
	return nil
}
