package reporting

import (
	"fmt"
	"sync"
	"time"

	"devloop/internal/kube"
	"devloop/internal/manifest"
)

// ResourceState is a resource's position in its lifecycle state machine:
// Pending -> Building -> Deploying -> Ready, with Error reachable from any
// non-terminal state. Error is terminal until an explicit reset returns the
// resource to Pending.
type ResourceState string

const (
	StatePending   ResourceState = "Pending"
	StateBuilding  ResourceState = "Building"
	StateDeploying ResourceState = "Deploying"
	StateReady     ResourceState = "Ready"
	StateError     ResourceState = "Error"
)

// Snapshot is a resource's complete observable state at a point in time.
type Snapshot struct {
	Name        string
	Kind        manifest.ResourceKind
	State       ResourceState
	Health      kube.Health
	Err         error
	Fingerprint string
	Generation  int
	LastUpdated time.Time
}

// Event is delivered to subscribers on every state change.
type Event struct {
	Name     string
	OldState ResourceState
	NewState ResourceState
	Snapshot Snapshot
}

// Subscription receives state change events for one resource, or for all
// resources when created with an empty name.
type Subscription struct {
	id      int64
	name    string
	Channel chan Event

	mu     sync.Mutex
	closed bool
}

// Close closes the subscription channel. Safe to call more than once.
func (s *Subscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		close(s.Channel)
		s.closed = true
	}
}

func (s *Subscription) deliver(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.Channel <- ev:
		return true
	default:
		return false
	}
}

const subscriptionBufferSize = 64

// Store is the default state store. The zero value is not usable; create
// with NewStore.
type Store struct {
	mu     sync.RWMutex
	states map[string]Snapshot
	subs   map[int64]*Subscription
	nextID int64
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		states: make(map[string]Snapshot),
		subs:   make(map[int64]*Subscription),
	}
}

// Get returns the snapshot for a resource.
func (s *Store) Get(name string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.states[name]
	return snap, ok
}

// All returns every resource's current snapshot.
func (s *Store) All() map[string]Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Snapshot, len(s.states))
	for k, v := range s.states {
		out[k] = v
	}
	return out
}

// ByState returns all resources currently in the given state.
func (s *Store) ByState(state ResourceState) map[string]Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Snapshot)
	for k, v := range s.states {
		if v.State == state {
			out[k] = v
		}
	}
	return out
}

// Update records a new snapshot and notifies subscribers if the lifecycle
// state changed. Returns whether the state changed.
func (s *Store) Update(snap Snapshot) bool {
	snap.LastUpdated = time.Now()

	s.mu.Lock()
	old, existed := s.states[snap.Name]
	s.states[snap.Name] = snap
	changed := !existed || old.State != snap.State

	var targets []*Subscription
	if changed {
		for _, sub := range s.subs {
			if sub.name == "" || sub.name == snap.Name {
				targets = append(targets, sub)
			}
		}
	}
	s.mu.Unlock()

	if changed {
		ev := Event{Name: snap.Name, OldState: old.State, NewState: snap.State, Snapshot: snap}
		for _, sub := range targets {
			sub.deliver(ev)
		}
	}
	return changed
}

// Subscribe creates a subscription for one resource, or all resources when
// name is empty.
func (s *Store) Subscribe(name string) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	sub := &Subscription{
		id:      s.nextID,
		name:    name,
		Channel: make(chan Event, subscriptionBufferSize),
	}
	s.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes and closes a subscription.
func (s *Store) Unsubscribe(sub *Subscription) {
	s.mu.Lock()
	delete(s.subs, sub.id)
	s.mu.Unlock()
	sub.Close()
}

// Summary renders a one-line count by state, for shutdown logs.
func (s *Store) Summary() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[ResourceState]int)
	for _, snap := range s.states {
		counts[snap.State]++
	}
	return fmt.Sprintf("%d ready, %d error, %d pending",
		counts[StateReady], counts[StateError],
		counts[StatePending]+counts[StateBuilding]+counts[StateDeploying])
}
