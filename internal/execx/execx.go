// Package execx wraps external tool invocation behind a narrow interface so
// the pipeline stages can be exercised with fakes.
package execx

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Command describes one external tool invocation.
type Command struct {
	Name string
	Args []string
	Dir  string            // Working directory ("" = inherit)
	Env  map[string]string // Extra environment, appended to the process env
}

// Runner executes external commands.
type Runner interface {
	// Run executes the command and returns its stdout. A non-zero exit
	// status is returned as an error carrying the stderr tail.
	Run(ctx context.Context, cmd Command) ([]byte, error)
}

// Local runs commands on the host.
type Local struct{}

// Run implements Runner.
func (Local) Run(ctx context.Context, cmd Command) ([]byte, error) {
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	c.Env = os.Environ()
	for k, v := range cmd.Env {
		c.Env = append(c.Env, k+"="+v)
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	start := time.Now()
	err := c.Run()
	logger := slog.With("command", cmd.Name, "duration", time.Since(start).Round(time.Millisecond))
	if err != nil {
		logger.Error("Command failed", "args", cmd.Args, "stderr", tail(stderr.Bytes()))
		return stdout.Bytes(), fmt.Errorf("%s %s: %w: %s",
			cmd.Name, strings.Join(cmd.Args, " "), err, tail(stderr.Bytes()))
	}
	logger.Debug("Command succeeded", "args", cmd.Args)
	return stdout.Bytes(), nil
}

// tail returns the last few lines of command output for error messages.
func tail(out []byte) string {
	const maxLines = 5
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	return strings.Join(lines, "\n")
}

// LookPath reports whether a tool is resolvable on the execution path.
func LookPath(tool string) bool {
	_, err := exec.LookPath(tool)
	return err == nil
}
