// Package apperrors provides structured release-pipeline errors with
// failure-kind classification.
package apperrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for classification via errors.Is(). One per failure kind
// the pipeline can report.
var (
	ErrInvalidVersion        = errors.New("invalid version")
	ErrNoOpVersion           = errors.New("no-op version")
	ErrMissingChangelogEntry = errors.New("missing changelog entry")
	ErrDirtyWorkingTree      = errors.New("dirty working tree")
	ErrMissingIdentity       = errors.New("missing packaging identity")
	ErrMissingTool           = errors.New("missing tool")
	ErrEnvironmentSetup      = errors.New("environment setup failed")
	ErrTestFailure           = errors.New("test failure")
	ErrPackaging             = errors.New("packaging failed")
	ErrSigning               = errors.New("signing failed")
	ErrPublish               = errors.New("publish failed")
	ErrInternal              = errors.New("internal error")
)

// Error provides a structured error with context.
type Error struct {
	Sentinel error  // Wrapped sentinel for errors.Is() classification
	Message  string // Human-readable message
	Stage    string // Pipeline stage that failed (e.g., "build-matrix")
	Op       string // Operation that failed (e.g., "docker.createContainer")
	Cause    error  // Underlying error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the sentinel error for errors.Is() classification.
func (e *Error) Unwrap() error {
	return e.Sentinel
}

// Kind returns the sentinel's short description, the failure kind name the
// operator sees first.
func Kind(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Sentinel != nil {
		return appErr.Sentinel.Error()
	}
	return "error"
}

// InvalidVersion reports a target version that violates the version grammar.
func InvalidVersion(version, reason string) error {
	return &Error{
		Sentinel: ErrInvalidVersion,
		Message:  fmt.Sprintf("version %q %s", version, reason),
	}
}

// NoOpVersion reports a target version equal to the current one.
func NoOpVersion(version string) error {
	return &Error{
		Sentinel: ErrNoOpVersion,
		Message:  fmt.Sprintf("version %q is already the current version", version),
	}
}

// MissingChangelogEntry reports a changelog without an entry for the target.
func MissingChangelogEntry(changelog, version string) error {
	return &Error{
		Sentinel: ErrMissingChangelogEntry,
		Message:  fmt.Sprintf("%s has no entry mentioning %q", changelog, version),
	}
}

// DirtyWorkingTree reports uncommitted tracked changes in the repository.
func DirtyWorkingTree(detail string) error {
	return &Error{
		Sentinel: ErrDirtyWorkingTree,
		Message:  "repository has uncommitted changes: " + detail,
	}
}

// MissingIdentity reports an unset packaging identity variable.
func MissingIdentity(variable string) error {
	return &Error{
		Sentinel: ErrMissingIdentity,
		Message:  fmt.Sprintf("environment variable %s must be set for packaging", variable),
	}
}

// MissingTool reports a required external tool not found on PATH.
func MissingTool(tool string) error {
	return &Error{
		Sentinel: ErrMissingTool,
		Message:  fmt.Sprintf("required tool %q not found on PATH", tool),
	}
}

// EnvironmentSetup reports a failure to provision or build inside an
// isolated environment.
func EnvironmentSetup(environment, op string, cause error) error {
	return &Error{
		Sentinel: ErrEnvironmentSetup,
		Message:  fmt.Sprintf("environment %s: %s: %v", environment, op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// TestFailure reports a failing test suite inside an environment.
func TestFailure(environment string, cause error) error {
	return &Error{
		Sentinel: ErrTestFailure,
		Message:  fmt.Sprintf("tests failed in environment %s: %v", environment, cause),
		Cause:    cause,
	}
}

// Packaging reports a native package build failure.
func Packaging(op string, cause error) error {
	return &Error{
		Sentinel: ErrPackaging,
		Message:  fmt.Sprintf("native package build failed: %s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// Signing reports a detached-signature failure for an artifact.
func Signing(artifact string, cause error) error {
	return &Error{
		Sentinel: ErrSigning,
		Message:  fmt.Sprintf("signing %s failed: %v", artifact, cause),
		Cause:    cause,
	}
}

// Publish reports a tag push or artifact upload failure.
func Publish(op string, cause error) error {
	return &Error{
		Sentinel: ErrPublish,
		Message:  fmt.Sprintf("publish failed: %s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// Internal creates an internal error wrapping an underlying cause.
func Internal(op string, cause error) error {
	return &Error{
		Sentinel: ErrInternal,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}
