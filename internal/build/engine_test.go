package build

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devloop/internal/manifest"
)

// fakeBuilder counts invocations and can be made to block or fail.
type fakeBuilder struct {
	invocations atomic.Int64
	failWith    error
	gate        chan struct{} // when non-nil, Build blocks until closed

	// cancelExitDelay delays the return after cancellation, modeling an
	// external build process that takes a while to die.
	cancelExitDelay time.Duration
}

func (f *fakeBuilder) Build(ctx context.Context, contextDir, dockerfile, tag string) error {
	f.invocations.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			if f.cancelExitDelay > 0 {
				time.Sleep(f.cancelExitDelay)
			}
			return ctx.Err()
		}
	}
	return f.failWith
}

// newTarget lays out a one-target manifest tree and returns the parsed
// manifest plus the target.
func newTarget(t *testing.T, entrypoint []string) (*manifest.Manifest, *manifest.Resource) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "app"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "app", "Dockerfile"), []byte("FROM scratch"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "app", "main.go"), []byte("package main"), 0o644))

	doc := "resources:\n  - name: app\n    kind: buildTarget\n    context: app\n"
	if len(entrypoint) > 0 {
		doc += "    entrypoint: ["
		for i, e := range entrypoint {
			if i > 0 {
				doc += ", "
			}
			doc += fmt.Sprintf("%q", e)
		}
		doc += "]\n"
	}

	m, err := manifest.Parse([]byte(doc), root)
	require.NoError(t, err)
	res, ok := m.Get("app")
	require.True(t, ok)
	return m, res
}

func TestBuildCachesByFingerprint(t *testing.T) {
	m, res := newTarget(t, nil)
	builder := &fakeBuilder{}
	engine := NewEngine(NewCache(), builder, m)

	first, err := engine.Build(context.Background(), res)
	require.NoError(t, err)
	second, err := engine.Build(context.Background(), res)
	require.NoError(t, err)

	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	assert.Same(t, first, second)
	assert.Equal(t, int64(1), builder.invocations.Load(),
		"unchanged inputs must not re-invoke the external builder")
}

func TestBuildRebuildsOnChange(t *testing.T) {
	m, res := newTarget(t, nil)
	builder := &fakeBuilder{}
	engine := NewEngine(NewCache(), builder, m)

	first, err := engine.Build(context.Background(), res)
	require.NoError(t, err)

	mainGo := filepath.Join(m.ResolvePath(res.Context), "main.go")
	require.NoError(t, os.WriteFile(mainGo, []byte("package main // changed"), 0o644))

	second, err := engine.Build(context.Background(), res)
	require.NoError(t, err)

	assert.NotEqual(t, first.Fingerprint, second.Fingerprint)
	assert.Equal(t, int64(2), builder.invocations.Load())
}

func TestBuildRecordsEntrypointOverride(t *testing.T) {
	override := []string{"dlv", "exec", "--headless", "/app"}
	m, res := newTarget(t, override)
	engine := NewEngine(NewCache(), &fakeBuilder{}, m)

	artifact, err := engine.Build(context.Background(), res)
	require.NoError(t, err)
	assert.Equal(t, override, artifact.Entrypoint,
		"artifact must record the debug entrypoint, not the image default")
}

func TestBuildDeduplicatesConcurrentRequests(t *testing.T) {
	m, res := newTarget(t, nil)
	builder := &fakeBuilder{gate: make(chan struct{})}
	engine := NewEngine(NewCache(), builder, m)

	const callers = 8
	results := make([]*Artifact, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = engine.Build(context.Background(), res)
		}(i)
	}

	// Let all callers pile up behind the single in-flight build.
	require.Eventually(t, func() bool {
		return builder.invocations.Load() >= 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(builder.gate)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, results[0], results[i])
	}
	assert.Equal(t, int64(1), builder.invocations.Load(),
		"concurrent builds of one fingerprint must share a single invocation")
}

func TestBuildErrorPropagates(t *testing.T) {
	m, res := newTarget(t, nil)
	boom := errors.New("docker exploded")
	builder := &fakeBuilder{failWith: boom}
	cache := NewCache()
	engine := NewEngine(cache, builder, m)

	_, err := engine.Build(context.Background(), res)
	require.Error(t, err)

	var buildErr *BuildError
	require.True(t, errors.As(err, &buildErr))
	assert.Equal(t, "app", buildErr.Target)
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, cache.Len(), "failed builds must not be cached")
}

func TestRebuildAfterCanceledBuildStartsFresh(t *testing.T) {
	m, res := newTarget(t, nil)
	builder := &fakeBuilder{
		gate:            make(chan struct{}),
		cancelExitDelay: 200 * time.Millisecond,
	}
	engine := NewEngine(NewCache(), builder, m)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := engine.Build(ctx, res)
		done <- err
	}()
	require.Eventually(t, func() bool {
		return builder.invocations.Load() == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	// The canceled external build is still dying. An immediate rebuild with
	// unchanged inputs must run a fresh build rather than inherit the dead
	// flight's cancellation.
	close(builder.gate)
	artifact, err := engine.Build(context.Background(), res)
	require.NoError(t, err)
	require.NotNil(t, artifact)
	assert.Equal(t, int64(2), builder.invocations.Load())
}

func TestBuildRespectsCancellation(t *testing.T) {
	m, res := newTarget(t, nil)
	builder := &fakeBuilder{gate: make(chan struct{})}
	engine := NewEngine(NewCache(), builder, m)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := engine.Build(ctx, res)
		done <- err
	}()

	require.Eventually(t, func() bool {
		return builder.invocations.Load() == 1
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Build did not return after cancellation")
	}
	close(builder.gate)
}
