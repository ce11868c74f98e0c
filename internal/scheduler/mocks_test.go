package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"devloop/internal/build"
	"devloop/internal/kube"
	"devloop/internal/manifest"
)

// stackManifest mirrors a distributed-database dev stack: two cluster
// objects, three build targets, one aggregate.
const stackManifest = `
resources:
  - name: pulsar
    kind: clusterObject
    manifest: k8s/pulsar.yaml
  - name: k8s_setup
    kind: clusterObject
    manifest: k8s/setup.yaml
  - name: coordinator
    kind: buildTarget
    context: coordinator
    dependsOn: [pulsar, k8s_setup]
    entrypoint: ["dlv", "exec", "--headless", "/coordinator"]
  - name: server
    kind: buildTarget
    context: server
    dependsOn: [k8s_setup]
    ports: ["8000:8000"]
  - name: worker
    kind: buildTarget
    context: worker
    dependsOn: [coordinator]
  - name: all
    kind: aggregate
    dependsOn: [server, worker]
`

func loadStackManifest(t *testing.T) *manifest.Manifest {
	t.Helper()
	root := t.TempDir()
	for _, d := range []string{"coordinator", "server", "worker"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, d), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(root, d, "Dockerfile"), []byte("FROM scratch\n"), 0o644))
	}
	require.NoError(t, os.MkdirAll(filepath.Join(root, "k8s"), 0o755))
	for _, f := range []string{"k8s/pulsar.yaml", "k8s/setup.yaml"} {
		require.NoError(t, os.WriteFile(filepath.Join(root, f), []byte("kind: ConfigMap\n"), 0o644))
	}
	path := filepath.Join(root, "devloop.yaml")
	require.NoError(t, os.WriteFile(path, []byte(stackManifest), 0o644))

	m, err := manifest.Load(path)
	require.NoError(t, err)
	return m
}

// fakeBuilder hands out artifacts with per-target monotonic fingerprints, so
// a rebuild is observable as a fingerprint change.
type fakeBuilder struct {
	mu     sync.Mutex
	counts map[string]int
	fails  map[string]error
	order  []string
}

func newFakeBuilder() *fakeBuilder {
	return &fakeBuilder{counts: make(map[string]int), fails: make(map[string]error)}
}

func (b *fakeBuilder) Build(ctx context.Context, res *manifest.Resource) (*build.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fails[res.Name]; err != nil {
		return nil, &build.BuildError{Target: res.Name, Err: err}
	}
	b.counts[res.Name]++
	b.order = append(b.order, res.Name)
	fp := fmt.Sprintf("%s-fp-%d", res.Name, b.counts[res.Name])
	return &build.Artifact{
		Fingerprint: fp,
		ImageRef:    "devloop/" + res.Name + ":" + fp,
		Entrypoint:  res.Entrypoint,
	}, nil
}

func (b *fakeBuilder) buildCount(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts[name]
}

func (b *fakeBuilder) setFailure(name string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.fails, name)
	} else {
		b.fails[name] = err
	}
}

// fakeCluster accepts every apply and records the specs in arrival order.
type fakeCluster struct {
	mu        sync.Mutex
	applies   []kube.ApplySpec
	applyErrs map[string]error
}

func newFakeCluster() *fakeCluster {
	return &fakeCluster{applyErrs: make(map[string]error)}
}

func (c *fakeCluster) Apply(ctx context.Context, spec kube.ApplySpec) (kube.Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.applyErrs[spec.Name]; err != nil {
		return kube.Handle{}, err
	}
	c.applies = append(c.applies, spec)
	h := kube.Handle{Name: spec.Name, Namespace: spec.Namespace}
	if spec.Workload != nil {
		h.PodSelector = kube.ResourceLabel + "=" + spec.Name
	}
	return h, nil
}

func (c *fakeCluster) Status(ctx context.Context, h kube.Handle) (kube.Health, error) {
	return kube.HealthHealthy, nil
}

func (c *fakeCluster) applyOrder() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, len(c.applies))
	for i, spec := range c.applies {
		names[i] = spec.Name
	}
	return names
}

func (c *fakeCluster) lastApply(name string) (kube.ApplySpec, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.applies) - 1; i >= 0; i-- {
		if c.applies[i].Name == name {
			return c.applies[i], true
		}
	}
	return kube.ApplySpec{}, false
}

// fakeReadiness resolves immediately, failing the names it is told to fail.
type fakeReadiness struct {
	mu    sync.Mutex
	fails map[string]error
}

func newFakeReadiness() *fakeReadiness {
	return &fakeReadiness{fails: make(map[string]error)}
}

func (r *fakeReadiness) WaitReady(ctx context.Context, name string, h kube.Handle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fails[name]
}

func (r *fakeReadiness) setFailure(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.fails, name)
	} else {
		r.fails[name] = err
	}
}

// fakeForwards records the establish/drop sequence per resource.
type fakeForwards struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeForwards) Establish(ctx context.Context, name, namespace, podSelector string, ports []manifest.PortSpec) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "establish:"+name)
}

func (f *fakeForwards) Drop(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "drop:"+name)
}

func (f *fakeForwards) DropAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "dropall")
}

func (f *fakeForwards) sequence() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}
