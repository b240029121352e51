// Package pkgbuild builds the native system package from the release's
// source distribution in an isolated workspace.
package pkgbuild

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"relcut/internal/apperrors"
	"relcut/internal/execx"
	"relcut/internal/staging"
)

// Builder produces one native package per release. It never touches the
// repository working tree: the source distribution is unpacked into a fresh
// temporary workspace and the packaging metadata is overlaid there.
type Builder struct {
	Runner       execx.Runner
	PackagingDir string            // Directory holding the native packaging metadata
	Identity     map[string]string // Packager identity env for the packaging toolchain
}

// Build unpacks the source distribution, overlays the packaging metadata,
// and invokes dpkg-buildpackage. The resulting package is copied into
// destDir and returned as a staged artifact.
func (b *Builder) Build(ctx context.Context, sdist staging.Artifact, destDir string) (staging.Artifact, error) {
	logger := slog.With("component", "pkgbuild", "sdist", sdist.Name)
	logger.Info("Building native package")

	workDir, err := os.MkdirTemp("", "relcut-pkg-")
	if err != nil {
		return staging.Artifact{}, apperrors.Packaging("workspace", err)
	}
	defer os.RemoveAll(workDir)

	sourceRoot, err := unpack(sdist.Path, workDir)
	if err != nil {
		return staging.Artifact{}, apperrors.Packaging("unpack", err)
	}

	overlay := filepath.Join(sourceRoot, filepath.Base(b.PackagingDir))
	if err := copyTree(b.PackagingDir, overlay); err != nil {
		return staging.Artifact{}, apperrors.Packaging("overlay", err)
	}

	_, err = b.Runner.Run(ctx, execx.Command{
		Name: "dpkg-buildpackage",
		Args: []string{"-us", "-uc"},
		Dir:  sourceRoot,
		Env:  b.Identity,
	})
	if err != nil {
		return staging.Artifact{}, apperrors.Packaging("dpkg-buildpackage", err)
	}

	// dpkg-buildpackage leaves the package next to the source root.
	matches, err := filepath.Glob(filepath.Join(workDir, "*.deb"))
	if err != nil || len(matches) == 0 {
		return staging.Artifact{}, apperrors.Packaging("collect",
			fmt.Errorf("no native package produced in %s", workDir))
	}

	name := filepath.Base(matches[0])
	target := filepath.Join(destDir, name)
	if err := copyFile(matches[0], target); err != nil {
		return staging.Artifact{}, apperrors.Packaging("stage", err)
	}

	logger.Info("Native package built", "package", name)
	return staging.Artifact{
		Path: target,
		Name: name,
		Kind: staging.NativePackage,
	}, nil
}

// unpack extracts a source distribution tar.gz into destDir and returns the
// single top-level directory it contains.
func unpack(archivePath, destDir string) (string, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("failed to open archive: %w", err)
	}
	defer file.Close()

	gzReader, err := gzip.NewReader(file)
	if err != nil {
		return "", fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gzReader.Close()

	var root string
	tarReader := tar.NewReader(gzReader)
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to read tar header: %w", err)
		}

		cleanName := filepath.Clean(header.Name)
		if strings.HasPrefix(cleanName, "..") {
			return "", fmt.Errorf("invalid path in archive: %s", header.Name)
		}
		if root == "" {
			root = strings.SplitN(cleanName, string(filepath.Separator), 2)[0]
		}

		targetPath := filepath.Join(destDir, cleanName)
		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(targetPath, os.FileMode(header.Mode)); err != nil {
				return "", fmt.Errorf("failed to create directory: %w", err)
			}

		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
				return "", fmt.Errorf("failed to create parent directory: %w", err)
			}
			outFile, err := os.OpenFile(targetPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode))
			if err != nil {
				return "", fmt.Errorf("failed to create file: %w", err)
			}
			if _, err := io.Copy(outFile, tarReader); err != nil {
				outFile.Close()
				return "", fmt.Errorf("failed to extract file: %w", err)
			}
			outFile.Close()

		default:
			slog.Debug("Skipping archive entry", "name", header.Name, "type", header.Typeflag)
		}
	}

	if root == "" {
		return "", fmt.Errorf("archive %s is empty", archivePath)
	}
	return filepath.Join(destDir, root), nil
}

// copyTree recursively copies a directory.
func copyTree(src, dest string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
