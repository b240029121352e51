// Package environment defines the isolated build environment contract the
// build matrix drives.
package environment

import (
	"context"
	"io"

	"relcut/internal/staging"
)

// RuntimeSpec describes one target runtime of the build matrix.
type RuntimeSpec struct {
	Name        string   // Matrix entry identifier (e.g., "primary", "legacy")
	Image       string   // Runtime descriptor (container image)
	Install     string   // Dependency install command ("" = none)
	Test        string   // Test suite command
	Build       []string // Artifact build commands, run in order
	ArtifactDir string   // Directory the build commands leave artifacts in
}

// Builder materializes isolated environments from a source snapshot.
type Builder interface {
	// Provision creates a fresh environment for the runtime with the
	// project checked out from source (a tar stream of the current
	// commit) and dependencies installed. Partial environments are
	// destroyed by the caller via Environment.Destroy; they are never
	// reused.
	Provision(ctx context.Context, spec RuntimeSpec, source io.Reader) (Environment, error)
}

// Environment is one provisioned, disposable workspace.
type Environment interface {
	// Name returns the matrix entry identifier.
	Name() string

	// RunTests executes the runtime's test suite inside the environment.
	RunTests(ctx context.Context) error

	// BuildArtifacts runs the artifact build commands inside the
	// environment.
	BuildArtifacts(ctx context.Context) error

	// Collect copies the produced artifacts out into destDir and returns
	// their staging records tagged with this environment.
	Collect(ctx context.Context, destDir string) ([]staging.Artifact, error)

	// Destroy reclaims the workspace. Idempotent; called regardless of
	// success or failure.
	Destroy(ctx context.Context) error
}
