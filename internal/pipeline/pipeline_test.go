package pipeline

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"relcut/internal/apperrors"
	"relcut/internal/config"
	"relcut/internal/console"
	"relcut/internal/environment"
	"relcut/internal/execx"
	"relcut/internal/staging"
)

type fakeRepo struct {
	commits []string
	tags    []string
	pushes  int
}

func (f *fakeRepo) Uncommitted(context.Context) (string, error) { return "", nil }

func (f *fakeRepo) Commit(_ context.Context, message string, _ ...string) error {
	f.commits = append(f.commits, message)
	return nil
}

func (f *fakeRepo) ArchiveHead(context.Context) ([]byte, error) {
	return []byte("source snapshot"), nil
}

func (f *fakeRepo) CreateSignedTag(_ context.Context, name, _ string) error {
	f.tags = append(f.tags, name)
	return nil
}

func (f *fakeRepo) PushTag(context.Context, string) error { return nil }

func (f *fakeRepo) Push(context.Context) error {
	f.pushes++
	return nil
}

type fakePreconditions struct {
	excerpt string
	err     error
	calls   int
}

func (f *fakePreconditions) Check(context.Context, string) (string, error) {
	f.calls++
	return f.excerpt, f.err
}

// fakeEnv produces its configured artifacts as real files so the native
// packaging stage can consume the source distribution.
type fakeEnv struct {
	name      string
	testErr   error
	artifacts []string
}

func (f *fakeEnv) Name() string { return f.name }

func (f *fakeEnv) RunTests(context.Context) error { return f.testErr }

func (f *fakeEnv) BuildArtifacts(context.Context) error { return nil }

func (f *fakeEnv) Destroy(context.Context) error { return nil }

func (f *fakeEnv) Collect(_ context.Context, destDir string) ([]staging.Artifact, error) {
	var out []staging.Artifact
	for _, name := range f.artifacts {
		path := filepath.Join(destDir, name)
		if strings.HasSuffix(name, ".tar.gz") {
			if err := writeSdist(path); err != nil {
				return nil, err
			}
		} else if err := os.WriteFile(path, []byte("wheel"), 0o644); err != nil {
			return nil, err
		}
		out = append(out, staging.Artifact{
			Path:        path,
			Name:        name,
			Kind:        staging.KindFromFilename(name),
			Environment: f.name,
		})
	}
	return out, nil
}

func writeSdist(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	gz := gzip.NewWriter(file)
	tw := tar.NewWriter(gz)
	content := []byte("__version__ = \"2.4\"\n")
	entries := []string{"demo-2.4/", "demo-2.4/setup.py"}
	for _, name := range entries {
		hdr := &tar.Header{Name: name, Mode: 0o755, Typeflag: tar.TypeDir}
		if !strings.HasSuffix(name, "/") {
			hdr = &tar.Header{Name: name, Mode: 0o644, Size: int64(len(content)), Typeflag: tar.TypeReg}
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if hdr.Typeflag == tar.TypeReg {
			if _, err := tw.Write(content); err != nil {
				return err
			}
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

type fakeBuilder struct {
	envs map[string]*fakeEnv
}

func (f *fakeBuilder) Provision(_ context.Context, spec environment.RuntimeSpec, source io.Reader) (environment.Environment, error) {
	if _, err := io.ReadAll(source); err != nil {
		return nil, err
	}
	env, ok := f.envs[spec.Name]
	if !ok {
		return nil, errors.New("unknown environment " + spec.Name)
	}
	return env, nil
}

// fakeRunner stands in for the packaging and signing tools.
type fakeRunner struct {
	commands []execx.Command
}

func (f *fakeRunner) Run(_ context.Context, cmd execx.Command) ([]byte, error) {
	f.commands = append(f.commands, cmd)
	if cmd.Name == "dpkg-buildpackage" {
		deb := filepath.Join(filepath.Dir(cmd.Dir), "demo_2.4-1_all.deb")
		return nil, os.WriteFile(deb, []byte("deb"), 0o644)
	}
	return nil, nil
}

type fakePublisher struct {
	tag       string
	allSigned bool
	calls     int
	err       error
}

func (f *fakePublisher) Publish(_ context.Context, coll *staging.Collection, tag string) error {
	f.calls++
	f.tag = tag
	f.allSigned = coll.AllSigned()
	return f.err
}

func setupRepoDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"setup.py":       "version = \"2.3\"\n",
		"CHANGELOG.md":   "# Release 2.4\n- isolated build environments\n",
		"debian/control": "Source: demo\n",
		"debian/rules":   "#!/usr/bin/make -f\n",
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func testPipeline(t *testing.T, input string) (*Pipeline, *fakeRepo, *fakePublisher, *fakeRunner) {
	t.Helper()
	dir := setupRepoDir(t)
	cfg := &config.Config{
		File: config.File{
			Project:      "demo",
			VersionFile:  "setup.py",
			Changelog:    "CHANGELOG.md",
			PackagingDir: "debian",
			StagingRoot:  "dist",
			Environments: []config.RuntimeConfig{
				{Name: "python3.10", Image: "python:3.10-slim", Test: "pytest", Build: []string{"python -m build"}},
				{Name: "python3.12", Image: "python:3.12-slim", Test: "pytest", Build: []string{"python -m build"}},
			},
		},
		RepoDir:  dir,
		Identity: map[string]string{"DEBFULLNAME": "Release Maintainer", "DEBEMAIL": "maintainer@example.org"},
	}

	repo := &fakeRepo{}
	publisher := &fakePublisher{}
	runner := &fakeRunner{}
	builder := &fakeBuilder{envs: map[string]*fakeEnv{
		"python3.10": {name: "python3.10", artifacts: []string{"demo-2.4.tar.gz", "demo-2.4-cp310-none-any.whl"}},
		"python3.12": {name: "python3.12", artifacts: []string{"demo-2.4-cp312-none-any.whl"}},
	}}

	return &Pipeline{
		Config:        cfg,
		Repo:          repo,
		Preconditions: &fakePreconditions{excerpt: "# Release 2.4\n- isolated build environments"},
		Builder:       builder,
		Runner:        runner,
		Console:       console.NewGate(strings.NewReader(input), io.Discard),
		Publisher:     publisher,
	}, repo, publisher, runner
}

func TestRunFullRelease(t *testing.T) {
	t.Parallel()

	p, repo, publisher, runner := testPipeline(t, "y\n2.5-dev\n")
	result, err := p.Run(context.Background(), "2.4")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Declined {
		t.Error("release must not be declined")
	}
	if result.Completed != 10 {
		t.Errorf("Completed = %d, want 10", result.Completed)
	}

	// Two wheels, one sdist, one native package, all signed.
	if len(result.Artifacts) != 4 {
		t.Fatalf("artifacts = %d, want 4", len(result.Artifacts))
	}
	for _, a := range result.Artifacts {
		if !a.Signed {
			t.Errorf("artifact %s not signed", a.Name)
		}
	}

	if len(repo.commits) != 2 || repo.commits[0] != "Release 2.4" || repo.commits[1] != "Prepare version 2.5-dev" {
		t.Errorf("commits = %v", repo.commits)
	}
	if len(repo.tags) != 1 || repo.tags[0] != "2.4" {
		t.Errorf("tags = %v", repo.tags)
	}
	if publisher.calls != 1 || publisher.tag != "2.4" {
		t.Errorf("publisher calls = %d, tag = %q", publisher.calls, publisher.tag)
	}
	if !publisher.allSigned {
		t.Error("publisher must receive a fully signed collection")
	}
	if repo.pushes != 1 {
		t.Errorf("branch pushes = %d, want 1 for the version bump", repo.pushes)
	}

	version, err := os.ReadFile(filepath.Join(p.Config.RepoDir, "setup.py"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(version), "2.5-dev") {
		t.Errorf("version file not bumped: %q", version)
	}

	var signInvocations int
	for _, cmd := range runner.commands {
		if cmd.Name == "gpg" {
			signInvocations++
		}
	}
	if signInvocations != 4 {
		t.Errorf("gpg invocations = %d, want 4", signInvocations)
	}
}

func TestRunDeclineRetainsArtifacts(t *testing.T) {
	t.Parallel()

	p, repo, publisher, _ := testPipeline(t, "n\n")
	result, err := p.Run(context.Background(), "2.4")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !result.Declined {
		t.Fatal("expected a declined result")
	}
	// Everything through the signed tag ran; confirm stopped the run.
	if result.Completed != 7 {
		t.Errorf("Completed = %d, want 7", result.Completed)
	}
	if publisher.calls != 0 {
		t.Error("publisher must not run after a decline")
	}
	if repo.pushes != 0 {
		t.Error("nothing may be pushed after a decline")
	}

	// Staged artifacts stay on disk for a later manual publish.
	for _, a := range result.Artifacts {
		if _, err := os.Stat(a.Path); err != nil {
			t.Errorf("artifact %s missing after decline: %v", a.Name, err)
		}
	}

	// The release commit stands; only the bump is unreachable.
	version, err := os.ReadFile(filepath.Join(p.Config.RepoDir, "setup.py"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(version), "\"2.4\"") {
		t.Errorf("version file = %q, want the release version", version)
	}
}

func TestRunInvalidTargetStopsBeforeSideEffects(t *testing.T) {
	t.Parallel()

	p, repo, _, _ := testPipeline(t, "")
	_, err := p.Run(context.Background(), "2.4-dev1")
	if !errors.Is(err, apperrors.ErrInvalidVersion) {
		t.Fatalf("expected ErrInvalidVersion, got %v", err)
	}
	if len(repo.commits) != 0 {
		t.Error("no commit may exist for an invalid target")
	}
}

func TestRunNoOpTarget(t *testing.T) {
	t.Parallel()

	p, _, _, _ := testPipeline(t, "")
	_, err := p.Run(context.Background(), "2.3")
	if !errors.Is(err, apperrors.ErrNoOpVersion) {
		t.Fatalf("expected ErrNoOpVersion, got %v", err)
	}
}

func TestRunPreconditionFailureStopsBeforeCommit(t *testing.T) {
	t.Parallel()

	p, repo, _, _ := testPipeline(t, "")
	p.Preconditions = &fakePreconditions{err: apperrors.MissingTool("pandoc")}

	result, err := p.Run(context.Background(), "2.4")
	if !errors.Is(err, apperrors.ErrMissingTool) {
		t.Fatalf("expected ErrMissingTool, got %v", err)
	}
	if result.Completed != 1 {
		t.Errorf("Completed = %d, want 1", result.Completed)
	}
	if len(repo.commits) != 0 {
		t.Error("precondition failure must stop before the release commit")
	}
}

func TestRunTestFailureStopsPipeline(t *testing.T) {
	t.Parallel()

	p, repo, publisher, _ := testPipeline(t, "y\n")
	p.Builder.(*fakeBuilder).envs["python3.10"].testErr = errors.New("2 tests failed")

	_, err := p.Run(context.Background(), "2.4")
	if !errors.Is(err, apperrors.ErrTestFailure) {
		t.Fatalf("expected ErrTestFailure, got %v", err)
	}
	if len(repo.tags) != 0 {
		t.Error("no tag may be created after a test failure")
	}
	if publisher.calls != 0 {
		t.Error("publisher must not run after a test failure")
	}
}

func TestRunPublishFailure(t *testing.T) {
	t.Parallel()

	p, _, publisher, _ := testPipeline(t, "y\n")
	publisher.err = apperrors.Publish("upload", errors.New("403 forbidden"))

	result, err := p.Run(context.Background(), "2.4")
	if !errors.Is(err, apperrors.ErrPublish) {
		t.Fatalf("expected ErrPublish, got %v", err)
	}
	// The bump never runs after a failed publish.
	if result.Completed != 8 {
		t.Errorf("Completed = %d, want 8", result.Completed)
	}
}
