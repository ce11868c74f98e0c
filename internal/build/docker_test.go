package build

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubExec replaces execCommandContext for one test and records the
// invocation.
func stubExec(t *testing.T, script string) (*string, *[]string) {
	t.Helper()
	var gotName string
	var gotArgs []string

	orig := execCommandContext
	t.Cleanup(func() { execCommandContext = orig })
	execCommandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		gotName = name
		gotArgs = args
		return exec.CommandContext(ctx, "sh", "-c", script)
	}
	return &gotName, &gotArgs
}

func TestDockerBuilderInvocation(t *testing.T) {
	gotName, gotArgs := stubExec(t, "exit 0")

	b := &DockerBuilder{}
	err := b.Build(context.Background(), "/src/server", "/src/server/Dockerfile", "devloop/server:abc123")
	require.NoError(t, err)

	assert.Equal(t, "docker", *gotName)
	assert.Equal(t, []string{"build", "-f", "/src/server/Dockerfile", "-t", "devloop/server:abc123", "/src/server"}, *gotArgs)
}

func TestDockerBuilderCustomBinary(t *testing.T) {
	gotName, _ := stubExec(t, "exit 0")

	b := &DockerBuilder{Binary: "podman"}
	require.NoError(t, b.Build(context.Background(), "/src", "/src/Dockerfile", "t:1"))
	assert.Equal(t, "podman", *gotName)
}

func TestDockerBuilderFailureIncludesOutputTail(t *testing.T) {
	stubExec(t, "echo 'step 4/7 compile failed' >&2; exit 1")

	b := &DockerBuilder{}
	err := b.Build(context.Background(), "/src", "/src/Dockerfile", "t:1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compile failed")
}

func TestTailLines(t *testing.T) {
	assert.Equal(t, "c\nd", tailLines("a\nb\nc\nd\n", 2))
	assert.Equal(t, "a\nb", tailLines("a\nb", 5))
}
