// Package matrix drives the build across the configured runtime
// environments and collects their artifacts into staging.
package matrix

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"relcut/internal/apperrors"
	"relcut/internal/environment"
	"relcut/internal/observability"
	"relcut/internal/staging"
)

// Runner builds and tests the source snapshot in every configured
// environment, in order. The staging collection afterwards holds the union
// of all environments' artifacts.
type Runner struct {
	Builder      environment.Builder
	Specs        []environment.RuntimeSpec
	Staging      *staging.Collection
	Parallel     bool          // Build environments concurrently (first failure wins)
	PhaseTimeout time.Duration // Per test/build phase (0 = none)
	Metrics      *observability.Metrics
}

// Run executes the matrix against a tar snapshot of the current commit.
// Sequential by default: a failure in an earlier environment means later
// environments are never attempted. In parallel mode the first failure
// cancels the rest and its error is reported.
func (r *Runner) Run(ctx context.Context, source []byte) error {
	if r.Parallel {
		g, gctx := errgroup.WithContext(ctx)
		for _, spec := range r.Specs {
			g.Go(func() error {
				return r.buildOne(gctx, spec, source)
			})
		}
		return g.Wait()
	}

	for _, spec := range r.Specs {
		if err := r.buildOne(ctx, spec, source); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) buildOne(ctx context.Context, spec environment.RuntimeSpec, source []byte) error {
	logger := slog.With("environment", spec.Name)
	start := time.Now()

	env, err := r.Builder.Provision(ctx, spec, bytes.NewReader(source))
	if env != nil {
		// Workspaces are reclaimed regardless of success, even when the
		// run was cancelled by another environment's failure.
		defer func() {
			_ = env.Destroy(context.WithoutCancel(ctx))
		}()
	}
	if err != nil {
		r.record(ctx, spec.Name, false, start)
		return err
	}

	if err := r.runPhase(ctx, env.RunTests); err != nil {
		r.record(ctx, spec.Name, false, start)
		return apperrors.TestFailure(spec.Name, err)
	}

	if err := r.runPhase(ctx, env.BuildArtifacts); err != nil {
		r.record(ctx, spec.Name, false, start)
		return apperrors.EnvironmentSetup(spec.Name, "build", err)
	}

	artifacts, err := env.Collect(ctx, r.Staging.Dir())
	if err != nil {
		r.record(ctx, spec.Name, false, start)
		return apperrors.EnvironmentSetup(spec.Name, "collect", err)
	}
	if len(artifacts) == 0 {
		r.record(ctx, spec.Name, false, start)
		return apperrors.EnvironmentSetup(spec.Name, "collect", errors.New("no artifacts produced"))
	}

	for _, a := range artifacts {
		if err := r.Staging.Add(a); err != nil {
			r.record(ctx, spec.Name, false, start)
			return err
		}
		if r.Metrics != nil {
			r.Metrics.RecordArtifact(ctx, string(a.Kind))
		}
	}

	r.record(ctx, spec.Name, true, start)
	logger.Info("Environment build complete", "artifacts", len(artifacts), "duration", time.Since(start).Round(time.Second))
	return nil
}

// runPhase applies the configured phase timeout around one environment
// operation.
func (r *Runner) runPhase(ctx context.Context, phase func(context.Context) error) error {
	if r.PhaseTimeout <= 0 {
		return phase(ctx)
	}
	phaseCtx, cancel := context.WithTimeout(ctx, r.PhaseTimeout)
	defer cancel()
	return phase(phaseCtx)
}

func (r *Runner) record(ctx context.Context, name string, success bool, start time.Time) {
	if r.Metrics != nil {
		r.Metrics.RecordEnvironment(ctx, name, success, time.Since(start).Seconds())
	}
}
