// Package workspace abstracts command execution against a workspace that may
// be the local machine or an isolated sandbox. Every file-level operation the
// skills engine performs is expressed as a shell command sent through an
// Executor, so the same code path serves both cases.
package workspace

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// DefaultTimeout is used by callers that do not configure a per-command timeout
const DefaultTimeout = 30 * time.Second

// ErrCommandTimeout is returned (wrapped) when a single command exceeds its timeout.
// The caller's context is still alive in that case.
var ErrCommandTimeout = errors.New("command timed out")

// CommandResult holds the outcome of a command that ran to completion.
// A non-zero ExitCode is a result, not an error.
type CommandResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Success reports whether the command exited with status 0
func (r *CommandResult) Success() bool {
	return r != nil && r.ExitCode == 0
}

// Executor runs a shell command in the workspace.
//
// cwd may be empty, in which case the implementation's default directory is
// used. A zero timeout means no per-command timeout. Implementations return
// an error wrapping ErrCommandTimeout when the timeout elapses, ctx.Err() when
// the caller cancels, and any other error when the workspace itself cannot be
// reached.
type Executor interface {
	Execute(ctx context.Context, command string, cwd string, timeout time.Duration) (*CommandResult, error)
}

// ExecutorFunc adapts a plain function to the Executor interface
type ExecutorFunc func(ctx context.Context, command string, cwd string, timeout time.Duration) (*CommandResult, error)

// Execute calls f
func (f ExecutorFunc) Execute(ctx context.Context, command string, cwd string, timeout time.Duration) (*CommandResult, error) {
	return f(ctx, command, cwd, timeout)
}

// IsTimeout reports whether err is a per-command timeout
func IsTimeout(err error) bool {
	return errors.Is(err, ErrCommandTimeout)
}

// ShellQuote quotes s for safe use as a single POSIX shell word
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

const listFilesPrefix = "for p in "

// ListFilesCommand returns a command printing, one per line, every regular
// file below each directory in paths and every path that is itself a regular
// file. Missing paths print nothing. Symlinked directories are followed.
// The command exits 0 once the loop completes: find reports symlink loops and
// unreadable subdirectories with a non-zero status after printing what it
// could reach.
func ListFilesCommand(paths ...string) string {
	if len(paths) == 0 {
		return "true"
	}
	quoted := make([]string, len(paths))
	for i, p := range paths {
		quoted[i] = ShellQuote(p)
	}
	return fmt.Sprintf(`%s%s; do if [ -d "$p" ]; then find -L "$p" -type f -print 2>/dev/null || true; elif [ -f "$p" ]; then printf '%%s\n' "$p"; fi; done; exit 0`,
		listFilesPrefix, strings.Join(quoted, " "))
}

const readFilePrefix = "cat -- "

// ReadFileCommand returns a command that writes the content of path to stdout
func ReadFileCommand(path string) string {
	return readFilePrefix + ShellQuote(path)
}

// ParseLines splits command output into non-empty lines
func ParseLines(stdout string) []string {
	var lines []string
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}
