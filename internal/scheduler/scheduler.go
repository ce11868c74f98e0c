package scheduler

import (
	"context"
	"fmt"
	"sync"

	"devloop/internal/build"
	"devloop/internal/dependency"
	"devloop/internal/kube"
	"devloop/internal/manifest"
	"devloop/internal/reporting"
	"devloop/pkg/logging"
)

// Builder produces artifacts for build targets. *build.Engine implements it.
type Builder interface {
	Build(ctx context.Context, res *manifest.Resource) (*build.Artifact, error)
}

// ReadinessWaiter blocks until an applied resource is healthy or the wait is
// over. *readiness.Tracker implements it.
type ReadinessWaiter interface {
	WaitReady(ctx context.Context, name string, h kube.Handle) error
}

// ForwardManager owns per-resource tunnels. *portforward.Manager implements
// it.
type ForwardManager interface {
	Establish(ctx context.Context, name, namespace, podSelector string, ports []manifest.PortSpec)
	Drop(name string)
	DropAll()
}

// Options carries the scheduler's collaborators. All fields are required.
type Options struct {
	Manifest  *manifest.Manifest
	Builder   Builder
	Cluster   kube.Cluster
	Readiness ReadinessWaiter
	Forwards  ForwardManager
	Store     *reporting.Store
}

// Scheduler converges every declared resource and reacts to resets. It is
// the sole writer of lifecycle state.
type Scheduler struct {
	m         *manifest.Manifest
	graph     *dependency.Graph
	builder   Builder
	cluster   kube.Cluster
	readiness ReadinessWaiter
	forwards  ForwardManager
	store     *reporting.Store

	ctrls map[string]*controller

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates a scheduler for the manifest's resources. Nothing runs until
// Start.
func New(opts Options) *Scheduler {
	s := &Scheduler{
		m:         opts.Manifest,
		graph:     opts.Manifest.Graph(),
		builder:   opts.Builder,
		cluster:   opts.Cluster,
		readiness: opts.Readiness,
		forwards:  opts.Forwards,
		store:     opts.Store,
		ctrls:     make(map[string]*controller, len(opts.Manifest.Resources)),
	}
	for _, res := range opts.Manifest.Resources {
		s.ctrls[res.Name] = newController(s, res)
	}
	return s
}

// Start publishes every resource as Pending and launches one controller per
// resource. Idempotent.
func (s *Scheduler) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		s.cancel = cancel

		for _, res := range s.m.Resources {
			s.store.Update(reporting.Snapshot{
				Name:   res.Name,
				Kind:   res.Kind,
				State:  reporting.StatePending,
				Health: kube.HealthUnknown,
			})
		}

		logging.Info("Scheduler", "Starting %d resource controller(s)", len(s.ctrls))
		for _, c := range s.ctrls {
			s.wg.Add(1)
			go c.loop(runCtx)
		}
	})
}

// Stop cancels all controllers, waits for them to exit, then tears down
// forwards dependents-first so nothing routes into a half-dismantled stack.
// Idempotent.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()

		batches := s.graph.TopologicalBatches()
		for i := len(batches) - 1; i >= 0; i-- {
			for _, name := range batches[i] {
				s.forwards.Drop(name)
			}
		}
		logging.Info("Scheduler", "Stopped: %s", s.store.Summary())
	})
}

// Reset returns the named resource and its entire dependent closure to
// Pending and re-runs them. Resources outside the closure are untouched.
func (s *Scheduler) Reset(name string) error {
	c, ok := s.ctrls[name]
	if !ok {
		return fmt.Errorf("unknown resource %q", name)
	}

	closure := append([]string{name}, s.graph.DependentsOf(name)...)
	logging.Info("Scheduler", "Resetting %s (%d resource(s) affected)", name, len(closure))

	c.reset()
	for _, dep := range closure[1:] {
		s.ctrls[dep].reset()
	}
	return nil
}

// Store exposes the state store for read-only consumers.
func (s *Scheduler) Store() *reporting.Store {
	return s.store
}
