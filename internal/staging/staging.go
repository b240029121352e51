// Package staging holds the artifact model and the append-only staging
// collection for one release.
package staging

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"relcut/internal/apperrors"
)

// Kind classifies a distributable artifact.
type Kind string

const (
	SourceDistribution Kind = "sdist"
	BinaryDistribution Kind = "bdist"
	WheelDistribution  Kind = "wheel"
	NativePackage      Kind = "native"
)

// KindFromFilename classifies an artifact by its file name.
func KindFromFilename(name string) Kind {
	switch {
	case strings.HasSuffix(name, ".whl"):
		return WheelDistribution
	case strings.HasSuffix(name, ".deb"):
		return NativePackage
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tar.bz2"):
		return SourceDistribution
	default:
		return BinaryDistribution
	}
}

// Artifact is one file produced for distribution.
type Artifact struct {
	Path          string // Absolute path inside the staging directory
	Name          string // Base file name, unique within the collection
	Kind          Kind
	Environment   string // Producing environment ("" for the native package)
	Signed        bool
	SignaturePath string // Detached signature alongside the artifact
}

// Collection is the append-only set of artifacts staged for one release.
// Safe for concurrent append from parallel matrix builds.
type Collection struct {
	version string
	dir     string

	mu        sync.Mutex
	artifacts []Artifact
}

// NewCollection creates the staging collection and its on-disk directory,
// named deterministically from the target version.
func NewCollection(root, version string) (*Collection, error) {
	dir := filepath.Join(root, "release-"+version)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperrors.Internal("staging.createDir", err)
	}
	return &Collection{version: version, dir: dir}, nil
}

// Dir returns the staging directory path.
func (c *Collection) Dir() string { return c.dir }

// Version returns the release version the collection belongs to.
func (c *Collection) Version() string { return c.version }

// Add appends an artifact. Artifacts from different environments must not
// collide; a duplicate file name is rejected.
func (c *Collection) Add(a Artifact) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, existing := range c.artifacts {
		if existing.Name == a.Name {
			return apperrors.Internal("staging.add",
				fmt.Errorf("artifact %q already staged by environment %s", a.Name, existing.Environment))
		}
	}
	c.artifacts = append(c.artifacts, a)
	return nil
}

// Artifacts returns a snapshot of the collection in staging order.
func (c *Collection) Artifacts() []Artifact {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Artifact, len(c.artifacts))
	copy(out, c.artifacts)
	return out
}

// ByKind returns the staged artifacts of one kind.
func (c *Collection) ByKind(kind Kind) []Artifact {
	var out []Artifact
	for _, a := range c.Artifacts() {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

// SourceDistributionFor returns the single source distribution the native
// packager consumes. Exactly one must be staged.
func (c *Collection) SourceDistributionFor() (Artifact, error) {
	// Prefer the primary environment's sdist when several environments
	// produced one; names are sorted for determinism.
	sdists := c.ByKind(SourceDistribution)
	if len(sdists) == 0 {
		return Artifact{}, apperrors.Internal("staging.sourceDistribution",
			fmt.Errorf("no source distribution staged for %s", c.version))
	}
	sort.Slice(sdists, func(i, j int) bool { return sdists[i].Name < sdists[j].Name })
	return sdists[0], nil
}

// MarkSigned records the detached signature for a staged artifact.
func (c *Collection) MarkSigned(name, signaturePath string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.artifacts {
		if c.artifacts[i].Name == name {
			c.artifacts[i].Signed = true
			c.artifacts[i].SignaturePath = signaturePath
			return nil
		}
	}
	return apperrors.Internal("staging.markSigned", fmt.Errorf("artifact %q not staged", name))
}

// AllSigned reports whether every staged artifact carries a signature.
// Publication must not start until this holds.
func (c *Collection) AllSigned() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.artifacts) == 0 {
		return false
	}
	for _, a := range c.artifacts {
		if !a.Signed {
			return false
		}
	}
	return true
}
