// Package release holds the release value object, the version-string
// policy, and project version metadata handling.
package release

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"relcut/internal/apperrors"
)

// DevMarker is the substring that identifies a development version.
// Stable releases must never carry it.
const DevMarker = "dev"

// Release describes one release being cut. Immutable after creation; the
// only later version change is the bump to the next development version.
type Release struct {
	Current          string
	Target           string
	ChangelogExcerpt string
}

// versionPattern matches the version assignment line in project metadata,
// e.g. `__version__ = "2.3"` or `version = '2.3'`.
var versionPattern = regexp.MustCompile(`((?:__version__|version)\s*=\s*["'])([^"']+)(["'])`)

// ValidateTarget enforces the version-string policy: the target must not be
// a development version and must differ from the current version.
func ValidateTarget(current, target string) error {
	if target == "" {
		return apperrors.InvalidVersion(target, "is empty")
	}
	if strings.Contains(target, DevMarker) {
		return apperrors.InvalidVersion(target, "contains a development marker")
	}
	if target == current {
		return apperrors.NoOpVersion(target)
	}
	return nil
}

// CurrentVersion reads the version string from the project metadata file.
func CurrentVersion(versionFile string) (string, error) {
	data, err := os.ReadFile(versionFile)
	if err != nil {
		return "", apperrors.Internal("release.readVersionFile", err)
	}
	m := versionPattern.FindSubmatch(data)
	if m == nil {
		return "", apperrors.Internal("release.parseVersion",
			fmt.Errorf("no version assignment found in %s", versionFile))
	}
	return string(m[2]), nil
}

// WriteVersion rewrites the version assignment in the project metadata file
// to the given version, preserving everything else.
func WriteVersion(versionFile, version string) error {
	data, err := os.ReadFile(versionFile)
	if err != nil {
		return apperrors.Internal("release.readVersionFile", err)
	}
	if !versionPattern.Match(data) {
		return apperrors.Internal("release.writeVersion",
			fmt.Errorf("no version assignment found in %s", versionFile))
	}
	replaced := false
	updated := versionPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		if replaced {
			return match
		}
		replaced = true
		// Splice the version in literally; a replacement template would
		// expand $ in operator-supplied strings as capture references.
		sub := versionPattern.FindSubmatch(match)
		out := make([]byte, 0, len(sub[1])+len(version)+len(sub[3]))
		out = append(out, sub[1]...)
		out = append(out, version...)
		return append(out, sub[3]...)
	})

	info, err := os.Stat(versionFile)
	if err != nil {
		return apperrors.Internal("release.statVersionFile", err)
	}
	if err := os.WriteFile(versionFile, updated, info.Mode()); err != nil {
		return apperrors.Internal("release.writeVersionFile", err)
	}
	return nil
}

// ChangelogExcerpt returns the changelog section mentioning the target
// version: the first line containing it plus the following lines up to the
// next entry heading or blank line. Returns an error when no line mentions
// the target.
func ChangelogExcerpt(changelogPath, target string) (string, error) {
	data, err := os.ReadFile(changelogPath)
	if err != nil {
		return "", apperrors.Internal("release.readChangelog", err)
	}

	lines := strings.Split(string(data), "\n")
	start := -1
	for i, line := range lines {
		if strings.Contains(line, target) {
			start = i
			break
		}
	}
	if start == -1 {
		return "", apperrors.MissingChangelogEntry(changelogPath, target)
	}

	excerpt := []string{lines[start]}
	for _, line := range lines[start+1:] {
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			break
		}
		excerpt = append(excerpt, line)
	}
	return strings.Join(excerpt, "\n"), nil
}
