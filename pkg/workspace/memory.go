package workspace

import (
	"context"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Failure describes how MemoryExecutor should fail a read of a given path
type Failure struct {
	// ExitCode is returned as the command's exit status when non-zero
	ExitCode int
	// Timeout makes the read fail with ErrCommandTimeout
	Timeout bool
	// Block makes the read wait until the caller's context is done
	Block bool
	// Err is returned as a transport error
	Err error
}

// MemoryExecutor is an in-memory workspace that understands the commands
// built by ListFilesCommand and ReadFileCommand. It exists so that code
// written against Executor can be exercised without a shell or a sandbox.
type MemoryExecutor struct {
	mu       sync.Mutex
	files    map[string]string
	failures map[string]Failure
	listErr  *Failure
	commands []string
}

// NewMemoryExecutor creates an in-memory workspace holding files (absolute path to content)
func NewMemoryExecutor(files map[string]string) *MemoryExecutor {
	m := &MemoryExecutor{
		files:    make(map[string]string, len(files)),
		failures: make(map[string]Failure),
	}
	for p, content := range files {
		m.files[path.Clean(p)] = content
	}
	return m
}

// WriteFile adds or replaces a file
func (m *MemoryExecutor) WriteFile(p string, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path.Clean(p)] = content
}

// FailRead makes every read of p fail as described by f
func (m *MemoryExecutor) FailRead(p string, f Failure) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[path.Clean(p)] = f
}

// FailList makes every listing command fail as described by f
func (m *MemoryExecutor) FailList(f Failure) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listErr = &f
}

// Commands returns the commands executed so far, in execution order
func (m *MemoryExecutor) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.commands...)
}

// Execute interprets command against the in-memory files
func (m *MemoryExecutor) Execute(ctx context.Context, command string, _ string, _ time.Duration) (*CommandResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.commands = append(m.commands, command)
	m.mu.Unlock()

	switch {
	case command == "true":
		return &CommandResult{}, nil
	case strings.HasPrefix(command, listFilesPrefix):
		return m.list(ctx, command)
	case strings.HasPrefix(command, readFilePrefix):
		words, err := splitQuoted(strings.TrimPrefix(command, readFilePrefix))
		if err != nil || len(words) != 1 {
			return &CommandResult{ExitCode: 2, Stderr: "cat: invalid arguments"}, nil
		}
		return m.read(ctx, path.Clean(words[0]))
	default:
		return &CommandResult{ExitCode: 127, Stderr: "command not found"}, nil
	}
}

func (m *MemoryExecutor) list(ctx context.Context, command string) (*CommandResult, error) {
	m.mu.Lock()
	listErr := m.listErr
	m.mu.Unlock()
	if listErr != nil {
		return m.fail(ctx, *listErr)
	}

	end := strings.Index(command, "; do ")
	if end < 0 {
		return &CommandResult{ExitCode: 2, Stderr: "syntax error"}, nil
	}
	targets, err := splitQuoted(command[len(listFilesPrefix):end])
	if err != nil {
		return &CommandResult{ExitCode: 2, Stderr: err.Error()}, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var out strings.Builder
	for _, target := range targets {
		target = path.Clean(target)
		if _, ok := m.files[target]; ok {
			out.WriteString(target + "\n")
			continue
		}
		// map iteration order stands in for the arbitrary order of find
		for p := range m.files {
			if strings.HasPrefix(p, target+"/") {
				out.WriteString(p + "\n")
			}
		}
	}
	return &CommandResult{Stdout: out.String()}, nil
}

func (m *MemoryExecutor) read(ctx context.Context, p string) (*CommandResult, error) {
	m.mu.Lock()
	failure, failing := m.failures[p]
	content, exists := m.files[p]
	m.mu.Unlock()

	if failing {
		return m.fail(ctx, failure)
	}
	if !exists {
		return &CommandResult{ExitCode: 1, Stderr: "cat: " + p + ": No such file or directory"}, nil
	}
	return &CommandResult{Stdout: content}, nil
}

func (m *MemoryExecutor) fail(ctx context.Context, f Failure) (*CommandResult, error) {
	switch {
	case f.Block:
		<-ctx.Done()
		return nil, ctx.Err()
	case f.Timeout:
		return nil, errors.WithStack(ErrCommandTimeout)
	case f.Err != nil:
		return nil, f.Err
	default:
		return &CommandResult{ExitCode: f.ExitCode, Stderr: "permission denied"}, nil
	}
}

// Paths returns every file path held by the executor, sorted
func (m *MemoryExecutor) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	paths := make([]string, 0, len(m.files))
	for p := range m.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// splitQuoted splits a sequence of ShellQuote'd words separated by spaces
func splitQuoted(s string) ([]string, error) {
	var words []string
	var cur strings.Builder
	inWord, quoted := false, false

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quoted:
			if c == '\'' {
				quoted = false
			} else {
				cur.WriteByte(c)
			}
		case c == '\'':
			quoted, inWord = true, true
		case c == '\\' && i+1 < len(s):
			i++
			cur.WriteByte(s[i])
			inWord = true
		case c == ' ':
			if inWord {
				words = append(words, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteByte(c)
			inWord = true
		}
	}
	if quoted {
		return nil, errors.New("unterminated quote")
	}
	if inWord {
		words = append(words, cur.String())
	}
	return words, nil
}
