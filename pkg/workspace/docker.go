package workspace

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ErrSandboxUnavailable is returned when the sandbox container cannot be reached
var ErrSandboxUnavailable = errors.New("sandbox unavailable")

var dockerUnavailableMarkers = []string{
	"No such container",
	"is not running",
	"Cannot connect to the Docker daemon",
}

// DockerExecutor runs commands inside a running container via `docker exec`.
// The container's filesystem is only reachable through this channel.
type DockerExecutor struct {
	container string
	shell     string
	binary    string
}

// NewDockerExecutor creates an executor targeting the named container.
// An empty shell defaults to "sh", which minimal images always ship.
func NewDockerExecutor(container string, shell string) (*DockerExecutor, error) {
	if strings.TrimSpace(container) == "" {
		return nil, errors.New("container name is required")
	}
	if shell == "" {
		shell = "sh"
	}

	return &DockerExecutor{
		container: container,
		shell:     shell,
		binary:    "docker",
	}, nil
}

// Container returns the target container name
func (e *DockerExecutor) Container() string {
	return e.container
}

func (e *DockerExecutor) args(command string, cwd string) []string {
	args := []string{"exec"}
	if cwd != "" {
		args = append(args, "-w", cwd)
	}
	return append(args, e.container, e.shell, "-c", command)
}

// Execute runs command inside the container
func (e *DockerExecutor) Execute(ctx context.Context, command string, cwd string, timeout time.Duration) (*CommandResult, error) {
	result, err := runCommand(ctx, timeout, func(runCtx context.Context) *exec.Cmd {
		return exec.CommandContext(runCtx, e.binary, e.args(command, cwd)...)
	})
	if err != nil {
		return nil, err
	}

	if err := checkContainerReachable(e.container, result); err != nil {
		return nil, err
	}

	return result, nil
}

// checkContainerReachable tells apart docker's own failures from the command's exit status
func checkContainerReachable(container string, result *CommandResult) error {
	if result.ExitCode == 0 {
		return nil
	}
	for _, marker := range dockerUnavailableMarkers {
		if strings.Contains(result.Stderr, marker) {
			return errors.Wrapf(ErrSandboxUnavailable, "container %s: %s", container, strings.TrimSpace(result.Stderr))
		}
	}
	return nil
}
