// Package config provides configuration loading from the release descriptor
// file and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// RuntimeConfig describes one isolated build environment of the matrix.
type RuntimeConfig struct {
	Name        string   `yaml:"name"`
	Image       string   `yaml:"image"`
	Install     string   `yaml:"install"`
	Test        string   `yaml:"test"`
	Build       []string `yaml:"build"`
	ArtifactDir string   `yaml:"artifact_dir"` // Where the build commands leave artifacts (default "dist")
}

// UploadConfig describes the public distribution channel.
type UploadConfig struct {
	Repository string `yaml:"repository"` // Optional twine --repository name
}

// MirrorConfig describes an optional S3-compatible mirror of the staging
// directory. A zero Endpoint disables mirroring.
type MirrorConfig struct {
	Endpoint     string `yaml:"endpoint"`
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	UseSSL       bool   `yaml:"use_ssl"`
	AccessKeyEnv string `yaml:"access_key_env"`
	SecretKeyEnv string `yaml:"secret_key_env"`
}

// AnnounceConfig describes an optional release-published webhook. A zero URL
// disables the announcement.
type AnnounceConfig struct {
	URL        string `yaml:"url"`
	SigningKey string `yaml:"signing_key_env"` // Env var holding the HMAC key
}

// File is the on-disk release descriptor (release.yaml).
type File struct {
	Project      string          `yaml:"project"`
	VersionFile  string          `yaml:"version_file"`
	Changelog    string          `yaml:"changelog"`
	PackagingDir string          `yaml:"packaging_dir"`
	StagingRoot  string          `yaml:"staging_root"`
	IdentityVars []string        `yaml:"identity_vars"`
	Tools        []string        `yaml:"tools"`
	Environments []RuntimeConfig `yaml:"environments"`
	Upload       UploadConfig    `yaml:"upload"`
	Mirror       MirrorConfig    `yaml:"mirror"`
	Announce     AnnounceConfig  `yaml:"announce"`
}

// Config is the immutable configuration handed to the pipeline constructor.
// Stages never read ambient process state; everything they need is here.
type Config struct {
	File

	RepoDir      string            // Repository root the release is cut from
	Identity     map[string]string // Captured identity vars (name -> value, "" when unset)
	SigningKeyID string            // Optional gpg key ID (empty uses the default key)
	PhaseTimeout time.Duration     // Per install/test/build phase (0 = none)
	MetricsPort  string            // Serve /metrics during the run when set
	Parallel     bool              // Build matrix environments concurrently
}

// Load reads and validates the release descriptor, then fills the
// environment-sourced fields.
func Load(path, repoDir string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read release descriptor: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse release descriptor: %w", err)
	}

	applyDefaults(&f)
	if err := validate(&f); err != nil {
		return nil, err
	}

	// Identity is captured once here; stages receive values, never read
	// the process environment themselves.
	identity := make(map[string]string, len(f.IdentityVars))
	for _, name := range f.IdentityVars {
		identity[name] = os.Getenv(name)
	}

	return &Config{
		File:         f,
		RepoDir:      repoDir,
		Identity:     identity,
		SigningKeyID: GetEnv("SIGNING_KEY_ID", ""),
		PhaseTimeout: GetDurationEnv("BUILD_TIMEOUT", 0),
		MetricsPort:  GetEnv("METRICS_PORT", ""),
	}, nil
}

// Path resolves a descriptor-relative path against the repository root.
// Absolute paths pass through unchanged.
func (c *Config) Path(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(c.RepoDir, rel)
}

func applyDefaults(f *File) {
	if f.VersionFile == "" {
		f.VersionFile = "setup.py"
	}
	if f.Changelog == "" {
		f.Changelog = "CHANGELOG.md"
	}
	if f.PackagingDir == "" {
		f.PackagingDir = "debian"
	}
	if f.StagingRoot == "" {
		f.StagingRoot = "dist"
	}
	if len(f.IdentityVars) == 0 {
		f.IdentityVars = []string{"DEBFULLNAME", "DEBEMAIL"}
	}
	if len(f.Tools) == 0 {
		f.Tools = []string{"pandoc", "twine"}
	}
	for i := range f.Environments {
		if f.Environments[i].ArtifactDir == "" {
			f.Environments[i].ArtifactDir = "dist"
		}
	}
}

func validate(f *File) error {
	if f.Project == "" {
		return fmt.Errorf("release descriptor: project is required")
	}
	if len(f.Environments) == 0 {
		return fmt.Errorf("release descriptor: at least one environment is required")
	}
	seen := make(map[string]bool, len(f.Environments))
	for i, env := range f.Environments {
		if env.Name == "" {
			return fmt.Errorf("release descriptor: environments[%d]: name is required", i)
		}
		if seen[env.Name] {
			return fmt.Errorf("release descriptor: duplicate environment %q", env.Name)
		}
		seen[env.Name] = true
		if env.Image == "" {
			return fmt.Errorf("release descriptor: environment %q: image is required", env.Name)
		}
		if env.Test == "" {
			return fmt.Errorf("release descriptor: environment %q: test command is required", env.Name)
		}
		if len(env.Build) == 0 {
			return fmt.Errorf("release descriptor: environment %q: at least one build command is required", env.Name)
		}
	}
	if f.Mirror.Endpoint != "" && f.Mirror.Bucket == "" {
		return fmt.Errorf("release descriptor: mirror: bucket is required when endpoint is set")
	}
	return nil
}
