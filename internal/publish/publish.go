// Package publish pushes the release to its outbound channels: the git
// remote, the package index, the optional staging mirror, and the optional
// release-published webhook.
package publish

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"relcut/internal/apperrors"
	"relcut/internal/config"
	"relcut/internal/execx"
	"relcut/internal/gitrepo"
	"relcut/internal/staging"
	"relcut/pkg/backoff"
	"relcut/pkg/cloudevent"
)

const (
	mirrorAttempts  = 3
	announceTimeout = 10 * time.Second
)

// ObjectStore mirrors staged files to remote object storage.
type ObjectStore interface {
	Upload(ctx context.Context, key, localPath string) error
}

// Coordinator publishes a fully signed staging collection. Everything up
// to the announcement is mandatory; the announcement is best effort.
type Coordinator struct {
	Project    string
	Repo       gitrepo.Repository
	Runner     execx.Runner
	Repository string // Optional twine --repository target
	Mirror     ObjectStore
	Announce   *Announcer
}

// Publish pushes the signed tag and branch, uploads the distributions, and
// mirrors the staging directory. Any failure before the announcement
// aborts with the staged artifacts left on disk for inspection.
func (c *Coordinator) Publish(ctx context.Context, coll *staging.Collection, tag string) error {
	if !coll.AllSigned() {
		return apperrors.Publish("verify", fmt.Errorf("unsigned artifacts in staging for %s", coll.Version()))
	}

	if err := c.Repo.PushTag(ctx, tag); err != nil {
		return apperrors.Publish("push tag", err)
	}
	if err := c.Repo.Push(ctx); err != nil {
		return apperrors.Publish("push branch", err)
	}
	slog.Info("Pushed release to remote", "tag", tag)

	if err := c.uploadDistributions(ctx, coll); err != nil {
		return err
	}
	if c.Mirror != nil {
		if err := c.mirror(ctx, coll); err != nil {
			return apperrors.Publish("mirror", err)
		}
	}

	if c.Announce != nil {
		// Failure here never fails the release; the artifacts are already
		// public.
		if err := c.Announce.Published(ctx, c.Project, coll); err != nil {
			slog.Warn("Release announcement failed", "error", err)
		}
	}
	return nil
}

// uploadDistributions hands the Python distributions and their signatures
// to twine in one invocation. Native packages are distributed through the
// mirror only.
func (c *Coordinator) uploadDistributions(ctx context.Context, coll *staging.Collection) error {
	args := []string{"upload"}
	if c.Repository != "" {
		args = append(args, "--repository", c.Repository)
	}

	var count int
	for _, a := range coll.Artifacts() {
		if a.Kind == staging.NativePackage {
			continue
		}
		args = append(args, a.Path, a.SignaturePath)
		count++
	}
	if count == 0 {
		return apperrors.Publish("upload", fmt.Errorf("no distributions staged for %s", coll.Version()))
	}

	if _, err := c.Runner.Run(ctx, execx.Command{Name: "twine", Args: args}); err != nil {
		return apperrors.Publish("upload", err)
	}
	slog.Info("Uploaded distributions", "count", count)
	return nil
}

func (c *Coordinator) mirror(ctx context.Context, coll *staging.Collection) error {
	prefix := "release-" + coll.Version()
	for _, a := range coll.Artifacts() {
		for _, file := range []string{a.Path, a.SignaturePath} {
			key := path.Join(prefix, filepath.Base(file))
			err := backoff.Retry(ctx, mirrorAttempts, nil, func() error {
				return c.Mirror.Upload(ctx, key, file)
			})
			if err != nil {
				return fmt.Errorf("mirroring %s: %w", filepath.Base(file), err)
			}
		}
	}
	slog.Info("Mirrored staging directory", "prefix", prefix)
	return nil
}

// MinioMirror implements ObjectStore against any S3-compatible endpoint.
type MinioMirror struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinioMirror builds the mirror client from the descriptor, reading the
// credentials from the environment variables it names.
func NewMinioMirror(cfg config.MirrorConfig) (*MinioMirror, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.GetEnv(cfg.AccessKeyEnv, ""), config.GetEnv(cfg.SecretKeyEnv, ""), ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create mirror client: %w", err)
	}
	return &MinioMirror{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Upload implements ObjectStore.
func (m *MinioMirror) Upload(ctx context.Context, key, localPath string) error {
	_, err := m.client.FPutObject(ctx, m.bucket, path.Join(m.prefix, key), localPath,
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	return err
}

var _ ObjectStore = (*MinioMirror)(nil)

// Announcer posts a release.published event to a webhook.
type Announcer struct {
	Sender     *cloudevent.Sender
	URL        string
	SigningKey string
}

// NewAnnouncer builds the announcer from the descriptor. The signing key
// is read from the environment variable the descriptor names.
func NewAnnouncer(cfg config.AnnounceConfig) *Announcer {
	return &Announcer{
		Sender:     cloudevent.NewSender(announceTimeout),
		URL:        cfg.URL,
		SigningKey: config.GetEnv(cfg.SigningKey, ""),
	}
}

// Published sends the release notification.
func (a *Announcer) Published(ctx context.Context, project string, coll *staging.Collection) error {
	artifacts := make([]map[string]any, 0, len(coll.Artifacts()))
	for _, art := range coll.Artifacts() {
		artifacts = append(artifacts, map[string]any{
			"name": art.Name,
			"kind": string(art.Kind),
		})
	}
	event := cloudevent.New("release.published", "relcut", project, uuid.NewString(), map[string]any{
		"project":   project,
		"version":   coll.Version(),
		"artifacts": artifacts,
	})
	return a.Sender.Send(ctx, a.URL, event, a.SigningKey)
}
