package scheduler

import (
	"context"
	"sync"

	"devloop/internal/build"
	"devloop/internal/kube"
	"devloop/internal/manifest"
	"devloop/internal/reporting"
	"devloop/pkg/logging"
)

// gate is the one-shot result of a single convergence attempt. ready closes
// exactly once, after err is set; nil err means the resource reached Ready.
// replaced closes when a reset installs a successor gate, releasing waiters
// that must re-fetch.
type gate struct {
	ready    chan struct{}
	err      error
	replaced chan struct{}
}

func newGate() *gate {
	return &gate{
		ready:    make(chan struct{}),
		replaced: make(chan struct{}),
	}
}

func (g *gate) resolve(err error) {
	g.err = err
	close(g.ready)
}

// controller owns one resource's lifecycle. All state transitions for the
// resource are made by its loop goroutine; resets only cancel, replace the
// gate, and wake the loop.
type controller struct {
	res  *manifest.Resource
	deps []string
	s    *Scheduler

	mu            sync.Mutex
	gen           int
	gate          *gate
	cancelAttempt context.CancelFunc

	// runCh wakes the loop for another attempt. Buffered so resets coalesce.
	runCh chan struct{}
}

func newController(s *Scheduler, res *manifest.Resource) *controller {
	return &controller{
		res:   res,
		deps:  s.graph.Dependencies(res.Name),
		s:     s,
		gate:  newGate(),
		runCh: make(chan struct{}, 1),
	}
}

func (c *controller) loop(ctx context.Context) {
	defer c.s.wg.Done()

	for {
		c.mu.Lock()
		gen := c.gen
		g := c.gate
		attemptCtx, cancel := context.WithCancel(ctx)
		c.cancelAttempt = cancel
		c.mu.Unlock()

		c.attempt(attemptCtx, gen, g)

		// The attempt context stays alive after a successful attempt: port
		// forwards established at Ready run on it until a reset or shutdown
		// cancels it.
		select {
		case <-ctx.Done():
			cancel()
			return
		case <-c.runCh:
			cancel()
		}
	}
}

// attempt drives the resource from Pending to Ready once. It resolves g on
// Ready or Error, and leaves g unresolved when superseded by a reset or
// shutdown (waiters are released through g.replaced).
func (c *controller) attempt(ctx context.Context, gen int, g *gate) {
	name := c.res.Name

	for _, depName := range c.deps {
		if err := c.waitDep(ctx, c.s.ctrls[depName]); err != nil {
			return
		}
	}
	if ctx.Err() != nil {
		return
	}

	if c.res.Kind == manifest.KindAggregate {
		c.publish(gen, reporting.StateReady, kube.HealthHealthy, nil, "")
		g.resolve(nil)
		return
	}

	// Building is the build step's state; resources without one (cluster
	// objects) go straight to Deploying.
	var artifact *build.Artifact
	if c.res.IsBuildTarget() {
		c.publish(gen, reporting.StateBuilding, kube.HealthUnknown, nil, "")
		a, err := c.s.builder.Build(ctx, c.res)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.fail(gen, g, err)
			return
		}
		artifact = a
	}

	fingerprint := ""
	if artifact != nil {
		fingerprint = artifact.Fingerprint
	}
	c.publish(gen, reporting.StateDeploying, kube.HealthUnknown, nil, fingerprint)

	handle, err := c.s.cluster.Apply(ctx, c.applySpec(artifact))
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.fail(gen, g, &DeployRejected{Resource: name, Err: err})
		return
	}

	if err := c.s.readiness.WaitReady(ctx, name, handle); err != nil {
		if ctx.Err() != nil {
			return
		}
		c.fail(gen, g, err)
		return
	}

	current := c.publish(gen, reporting.StateReady, kube.HealthHealthy, nil, fingerprint)
	if current {
		logging.Info("Scheduler", "Resource %s is ready", name)
	}
	g.resolve(nil)

	// A superseded attempt must not establish forwards: the reset that
	// superseded it already dropped them for the next attempt.
	if current && len(c.res.PortSpecs) > 0 {
		c.s.forwards.Establish(ctx, name, c.res.Namespace, handle.PodSelector, c.res.PortSpecs)
	}
}

// waitDep blocks until dep's current attempt resolves Ready. A dep that
// resolves to Error keeps us waiting until it is reset; the caller stays
// Pending the whole time.
func (c *controller) waitDep(ctx context.Context, dep *controller) error {
	for {
		g := dep.currentGate()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-g.ready:
			if g.err == nil {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-g.replaced:
			}
		case <-g.replaced:
		}
	}
}

func (c *controller) currentGate() *gate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gate
}

func (c *controller) applySpec(artifact *build.Artifact) kube.ApplySpec {
	spec := kube.ApplySpec{Name: c.res.Name, Namespace: c.res.Namespace}
	if artifact != nil {
		spec.Workload = &kube.WorkloadSpec{
			Image:      artifact.ImageRef,
			Entrypoint: artifact.Entrypoint,
		}
	} else {
		spec.ManifestPath = c.s.m.ResolvePath(c.res.ManifestPath)
	}
	return spec
}

// publish records a snapshot unless a reset has superseded this attempt. The
// generation check and the store write share the lock so a stale attempt can
// never overwrite the Pending state a concurrent reset just published.
func (c *controller) publish(gen int, state reporting.ResourceState, health kube.Health, err error, fingerprint string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return false
	}
	c.s.store.Update(reporting.Snapshot{
		Name:        c.res.Name,
		Kind:        c.res.Kind,
		State:       state,
		Health:      health,
		Err:         err,
		Fingerprint: fingerprint,
		Generation:  gen,
	})
	return true
}

func (c *controller) fail(gen int, g *gate, err error) {
	if c.publish(gen, reporting.StateError, kube.HealthUnhealthy, err, "") {
		logging.Error("Scheduler", err, "Resource %s failed", c.res.Name)
	}
	g.resolve(err)
}

// reset supersedes the in-flight attempt and schedules a fresh one. The old
// gate's waiters are released through replaced and re-fetch the new gate.
func (c *controller) reset() {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	old := c.gate
	c.gate = newGate()
	close(old.replaced)
	if c.cancelAttempt != nil {
		c.cancelAttempt()
	}
	c.s.store.Update(reporting.Snapshot{
		Name:       c.res.Name,
		Kind:       c.res.Kind,
		State:      reporting.StatePending,
		Health:     kube.HealthUnknown,
		Generation: gen,
	})
	c.mu.Unlock()

	c.s.forwards.Drop(c.res.Name)

	select {
	case c.runCh <- struct{}{}:
	default:
	}
}
