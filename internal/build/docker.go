package build

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"devloop/pkg/logging"
)

// execCommandContext allows mocking of exec.CommandContext for testing.
var execCommandContext = exec.CommandContext

// DockerBuilder shells out to `docker build`. It is the default external
// build collaborator.
type DockerBuilder struct {
	// Binary overrides the docker binary name, e.g. "podman".
	Binary string
}

func (d *DockerBuilder) binary() string {
	if d.Binary != "" {
		return d.Binary
	}
	return "docker"
}

// Build implements ImageBuilder.
func (d *DockerBuilder) Build(ctx context.Context, contextDir, dockerfile, tag string) error {
	args := []string{"build", "-f", dockerfile, "-t", tag, contextDir}
	logging.Debug("DockerBuilder", "Running %s %s", d.binary(), strings.Join(args, " "))

	cmd := execCommandContext(ctx, d.binary(), args...)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s build failed: %w\n%s", d.binary(), err, tailLines(output.String(), 20))
	}
	return nil
}

// tailLines returns the last n lines of s, enough to show the failing build
// step without dumping the whole log into the error.
func tailLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) <= n {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
