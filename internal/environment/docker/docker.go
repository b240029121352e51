// Package docker implements the environment.Builder interface using the
// Docker API. Each matrix environment is a workspace volume shared by one
// short-lived container per phase.
package docker

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/google/uuid"

	"relcut/internal/apperrors"
	"relcut/internal/environment"
	"relcut/internal/staging"
	"relcut/pkg/backoff"
)

// workspacePath is where the source snapshot lives inside every container.
const workspacePath = "/workspace"

// pullAttempts bounds transient registry failures during image pull.
const pullAttempts = 3

// Builder provisions build environments on the host Docker daemon.
type Builder struct {
	client *client.Client
	runID  string
}

// NewBuilder creates a Docker environment builder and verifies the daemon
// is reachable.
func NewBuilder(ctx context.Context) (*Builder, error) {
	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	if _, err := dockerClient.Ping(ctx); err != nil {
		return nil, fmt.Errorf("docker daemon not reachable: %w", err)
	}

	return &Builder{
		client: dockerClient,
		runID:  uuid.NewString()[:8],
	}, nil
}

// Close releases the Docker client.
func (b *Builder) Close() error {
	return b.client.Close()
}

// Provision implements environment.Builder. It pulls the runtime image,
// creates the workspace volume, copies the source snapshot in, and runs the
// install command. A failed provision leaves an environment whose Destroy
// reclaims whatever was created.
func (b *Builder) Provision(ctx context.Context, spec environment.RuntimeSpec, source io.Reader) (environment.Environment, error) {
	logger := slog.With("environment", spec.Name, "image", spec.Image)
	logger.Info("Provisioning build environment")

	env := &dockerEnv{
		builder: b,
		spec:    spec,
		logger:  logger,
		volume:  fmt.Sprintf("relcut-%s-%s", b.runID, spec.Name),
	}

	if err := b.pullImageIfNeeded(ctx, spec.Image); err != nil {
		return env, apperrors.EnvironmentSetup(spec.Name, "docker.pullImage", err)
	}

	if _, err := b.client.VolumeCreate(ctx, volume.CreateOptions{Name: env.volume}); err != nil {
		return env, apperrors.EnvironmentSetup(spec.Name, "docker.createVolume", err)
	}

	install := spec.Install
	if install == "" {
		install = "true"
	}
	if err := env.runPhase(ctx, "install", install, source); err != nil {
		return env, apperrors.EnvironmentSetup(spec.Name, "install", err)
	}

	logger.Info("Environment ready")
	return env, nil
}

func (b *Builder) pullImageIfNeeded(ctx context.Context, imageName string) error {
	_, err := b.client.ImageInspect(ctx, imageName)
	if err == nil {
		return nil
	}

	return backoff.Retry(ctx, pullAttempts, nil, func() error {
		reader, err := b.client.ImagePull(ctx, imageName, image.PullOptions{})
		if err != nil {
			return err
		}
		defer reader.Close()

		_, err = io.Copy(io.Discard, reader)
		return err
	})
}

// dockerEnv is one provisioned environment: a workspace volume plus the
// containers that ran its phases. Containers are kept until Destroy so the
// last build container can serve the artifact copy-out.
type dockerEnv struct {
	builder    *Builder
	spec       environment.RuntimeSpec
	logger     *slog.Logger
	volume     string
	containers []string
}

// Name implements environment.Environment.
func (e *dockerEnv) Name() string { return e.spec.Name }

// RunTests implements environment.Environment.
func (e *dockerEnv) RunTests(ctx context.Context) error {
	e.logger.Info("Running test suite")
	return e.runPhase(ctx, "test", e.spec.Test, nil)
}

// BuildArtifacts implements environment.Environment.
func (e *dockerEnv) BuildArtifacts(ctx context.Context) error {
	e.logger.Info("Building distributable artifacts")
	return e.runPhase(ctx, "build", strings.Join(e.spec.Build, " && "), nil)
}

// runPhase runs one command in a fresh container on the shared workspace
// volume. When source is non-nil it is copied into the workspace before the
// container starts (the install phase).
func (e *dockerEnv) runPhase(ctx context.Context, phase, command string, source io.Reader) error {
	containerConfig := &container.Config{
		Image:      e.spec.Image,
		Cmd:        []string{"/bin/sh", "-c", command},
		WorkingDir: workspacePath,
		Labels: map[string]string{
			"managed-by":          "relcut",
			"release.run":         e.builder.runID,
			"release.environment": e.spec.Name,
			"release.phase":       phase,
		},
	}
	hostConfig := &container.HostConfig{
		Mounts: []mount.Mount{
			{
				Type:   mount.TypeVolume,
				Source: e.volume,
				Target: workspacePath,
			},
		},
	}

	name := fmt.Sprintf("%s-%s", e.volume, phase)
	resp, err := e.builder.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, name)
	if err != nil {
		return fmt.Errorf("failed to create %s container: %w", phase, err)
	}
	e.containers = append(e.containers, resp.ID)

	if source != nil {
		err := e.builder.client.CopyToContainer(ctx, resp.ID, workspacePath, source, container.CopyToContainerOptions{})
		if err != nil {
			return fmt.Errorf("failed to copy source snapshot: %w", err)
		}
	}

	if err := e.builder.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start %s container: %w", phase, err)
	}

	exitCode, err := e.waitForExit(ctx, resp.ID)
	if err != nil {
		return fmt.Errorf("%s phase: %w", phase, err)
	}
	if exitCode != 0 {
		return fmt.Errorf("%s phase exited with status %d: %s", phase, exitCode, e.logTail(ctx, resp.ID))
	}
	e.logger.Debug("Phase complete", "phase", phase)
	return nil
}

func (e *dockerEnv) waitForExit(ctx context.Context, containerID string) (int, error) {
	statusCh, errCh := e.builder.client.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)

	select {
	case <-ctx.Done():
		return -1, ctx.Err()
	case err := <-errCh:
		return -1, err
	case status := <-statusCh:
		if status.Error != nil {
			return int(status.StatusCode), fmt.Errorf("%s", status.Error.Message)
		}
		return int(status.StatusCode), nil
	}
}

// logTail returns the last lines of a container's output for error
// reporting. The Docker log stream multiplexes stdout/stderr behind an
// 8-byte header per frame.
func (e *dockerEnv) logTail(ctx context.Context, containerID string) string {
	logs, err := e.builder.client.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       "20",
	})
	if err != nil {
		return ""
	}
	defer logs.Close()

	var sb strings.Builder
	header := make([]byte, 8)
	for {
		if _, err := io.ReadFull(logs, header); err != nil {
			break
		}
		size := int(header[4])<<24 | int(header[5])<<16 | int(header[6])<<8 | int(header[7])
		if size == 0 {
			continue
		}
		payload := make([]byte, size)
		if _, err := io.ReadFull(logs, payload); err != nil {
			break
		}
		sb.Write(payload)
	}
	return strings.TrimSpace(sb.String())
}

// Collect implements environment.Environment. It copies the artifact
// directory out of the last phase container into destDir.
func (e *dockerEnv) Collect(ctx context.Context, destDir string) ([]staging.Artifact, error) {
	if len(e.containers) == 0 {
		return nil, fmt.Errorf("environment %s has no containers to collect from", e.spec.Name)
	}
	last := e.containers[len(e.containers)-1]
	src := path.Join(workspacePath, e.spec.ArtifactDir)

	reader, _, err := e.builder.client.CopyFromContainer(ctx, last, src)
	if err != nil {
		return nil, fmt.Errorf("failed to copy artifacts from %s: %w", e.spec.Name, err)
	}
	defer reader.Close()

	artifacts, err := extractArtifacts(destDir, e.spec.Name, reader)
	if err != nil {
		return nil, err
	}

	e.logger.Info("Collected artifacts", "count", len(artifacts))
	return artifacts, nil
}

// extractArtifacts writes the regular files of a copy-out tar stream into
// destDir and returns their staging records.
func extractArtifacts(destDir, envName string, r io.Reader) ([]staging.Artifact, error) {
	var artifacts []staging.Artifact
	tarReader := tar.NewReader(r)
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read artifact archive: %w", err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}

		name := path.Base(header.Name)
		target := filepath.Join(destDir, name)
		// O_EXCL: parallel environments share the staging directory, and a
		// filename collision must fail rather than overwrite the first
		// environment's artifact.
		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
		if err != nil {
			if os.IsExist(err) {
				return nil, fmt.Errorf("artifact %s already staged by another environment", name)
			}
			return nil, fmt.Errorf("failed to create %s: %w", target, err)
		}
		if _, err := io.Copy(out, tarReader); err != nil {
			out.Close()
			return nil, fmt.Errorf("failed to extract %s: %w", name, err)
		}
		out.Close()

		artifacts = append(artifacts, staging.Artifact{
			Path:        target,
			Name:        name,
			Kind:        staging.KindFromFilename(name),
			Environment: envName,
		})
	}
	return artifacts, nil
}

// Destroy implements environment.Environment. Containers and the workspace
// volume are reclaimed regardless of how far the environment got.
func (e *dockerEnv) Destroy(ctx context.Context) error {
	stopTimeout := 10

	for _, id := range e.containers {
		_ = e.builder.client.ContainerStop(ctx, id, container.StopOptions{Timeout: &stopTimeout})
		_ = e.builder.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
	}
	e.containers = nil
	if e.volume != "" {
		_ = e.builder.client.VolumeRemove(ctx, e.volume, true)
	}
	e.logger.Debug("Environment destroyed")
	return nil
}

var _ environment.Builder = (*Builder)(nil)
var _ environment.Environment = (*dockerEnv)(nil)
