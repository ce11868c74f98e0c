package portforward

import (
	"context"
	"fmt"
	"sync"

	"devloop/internal/manifest"
	"devloop/pkg/logging"
)

// Dialer opens one forward and blocks until stopCh closes or the forward
// fails. ready is closed once the local listener is accepting connections.
// *kube.Client implements this.
type Dialer interface {
	Forward(ctx context.Context, namespace, podSelector string, local, remote int, stopCh <-chan struct{}, ready chan<- struct{}) error
}

// forward is one active tunnel.
type forward struct {
	spec manifest.PortSpec
	stop chan struct{}
	done chan struct{}
}

// Manager tracks the active forwards per resource.
type Manager struct {
	dialer Dialer

	mu     sync.Mutex
	active map[string][]*forward
}

// NewManager creates a manager around a dialer.
func NewManager(dialer Dialer) *Manager {
	return &Manager{
		dialer: dialer,
		active: make(map[string][]*forward),
	}
}

// Establish opens every declared forward for a resource. Any forwards still
// registered for that resource are torn down first and fully drained, so two
// listeners for the same declaration never coexist. Individual failures are
// logged and skipped; the resource's state is unaffected.
func (m *Manager) Establish(ctx context.Context, name, namespace, podSelector string, ports []manifest.PortSpec) {
	if len(ports) == 0 {
		return
	}

	m.Drop(name)

	subsystem := "PortForward-" + name
	forwards := make([]*forward, 0, len(ports))
	for _, spec := range ports {
		f := &forward{
			spec: spec,
			stop: make(chan struct{}),
			done: make(chan struct{}),
		}
		forwards = append(forwards, f)

		go func(f *forward) {
			defer close(f.done)
			ready := make(chan struct{})
			err := m.dialer.Forward(ctx, namespace, podSelector, f.spec.Local, f.spec.Remote, f.stop, ready)
			if err != nil && ctx.Err() == nil {
				logging.Error(subsystem, err, "Forward %s failed", f.spec)
			}
		}(f)

		logging.Info(subsystem, "Establishing forward %s", spec)
	}

	m.mu.Lock()
	m.active[name] = forwards
	m.mu.Unlock()
}

// Drop tears down every forward for a resource and waits until their local
// listeners are closed. No-op when none are active.
func (m *Manager) Drop(name string) {
	m.mu.Lock()
	forwards := m.active[name]
	delete(m.active, name)
	m.mu.Unlock()

	if len(forwards) == 0 {
		return
	}

	for _, f := range forwards {
		close(f.stop)
	}
	for _, f := range forwards {
		<-f.done
	}
	logging.Debug("PortForward-"+name, "Dropped %d forward(s)", len(forwards))
}

// DropAll tears down everything, used on shutdown.
func (m *Manager) DropAll() {
	m.mu.Lock()
	names := make([]string, 0, len(m.active))
	for name := range m.active {
		names = append(names, name)
	}
	m.mu.Unlock()

	for _, name := range names {
		m.Drop(name)
	}
}

// Active returns the port specs currently registered for a resource.
func (m *Manager) Active(name string) []manifest.PortSpec {
	m.mu.Lock()
	defer m.mu.Unlock()
	specs := make([]manifest.PortSpec, 0, len(m.active[name]))
	for _, f := range m.active[name] {
		specs = append(specs, f.spec)
	}
	return specs
}

// String summarizes active forwards, for the status endpoint.
func (m *Manager) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, fs := range m.active {
		total += len(fs)
	}
	return fmt.Sprintf("%d active forward(s) across %d resource(s)", total, len(m.active))
}
