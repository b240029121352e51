// Package sign produces detached ASCII signatures for staged artifacts.
package sign

import (
	"context"
	"log/slog"

	"relcut/internal/apperrors"
	"relcut/internal/execx"
	"relcut/internal/staging"
)

// Signer signs every artifact in the staging collection. Re-signing an
// artifact overwrites its previous signature file, so the operation is
// idempotent per artifact.
type Signer struct {
	Runner execx.Runner
	KeyID  string // Optional signing key ("" uses the default identity)
}

// SignAll produces one detached signature per staged artifact and records
// it in the collection. The first failure aborts; nothing is tagged or
// published with unsigned artifacts in staging.
func (s *Signer) SignAll(ctx context.Context, coll *staging.Collection) error {
	for _, artifact := range coll.Artifacts() {
		sigPath := artifact.Path + ".asc"

		args := []string{"--batch", "--yes", "--armor", "--detach-sign", "--output", sigPath}
		if s.KeyID != "" {
			args = append(args, "--local-user", s.KeyID)
		}
		args = append(args, artifact.Path)

		if _, err := s.Runner.Run(ctx, execx.Command{Name: "gpg", Args: args}); err != nil {
			return apperrors.Signing(artifact.Name, err)
		}
		if err := coll.MarkSigned(artifact.Name, sigPath); err != nil {
			return err
		}
		slog.Debug("Artifact signed", "artifact", artifact.Name)
	}

	slog.Info("All artifacts signed", "count", len(coll.Artifacts()))
	return nil
}
