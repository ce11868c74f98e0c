package reporting

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devloop/internal/kube"
	"devloop/internal/manifest"
)

func TestStoreUpdateAndGet(t *testing.T) {
	store := NewStore()

	changed := store.Update(Snapshot{
		Name:  "coordinator",
		Kind:  manifest.KindBuildTarget,
		State: StatePending,
	})
	assert.True(t, changed)

	snap, ok := store.Get("coordinator")
	require.True(t, ok)
	assert.Equal(t, StatePending, snap.State)
	assert.False(t, snap.LastUpdated.IsZero())

	// Same state again is not a change.
	assert.False(t, store.Update(Snapshot{Name: "coordinator", State: StatePending}))
	assert.True(t, store.Update(Snapshot{Name: "coordinator", State: StateBuilding}))
}

func TestStoreKeepsLastError(t *testing.T) {
	store := NewStore()
	boom := errors.New("readiness timed out")
	store.Update(Snapshot{Name: "pulsar", State: StateError, Err: boom})

	snap, ok := store.Get("pulsar")
	require.True(t, ok)
	assert.Equal(t, StateError, snap.State)
	assert.Equal(t, boom, snap.Err)
}

func TestStoreByState(t *testing.T) {
	store := NewStore()
	store.Update(Snapshot{Name: "a", State: StateReady, Health: kube.HealthHealthy})
	store.Update(Snapshot{Name: "b", State: StateReady})
	store.Update(Snapshot{Name: "c", State: StatePending})

	ready := store.ByState(StateReady)
	assert.Len(t, ready, 2)
	assert.Contains(t, ready, "a")
	assert.Contains(t, ready, "b")
}

func TestSubscribeReceivesChanges(t *testing.T) {
	store := NewStore()
	sub := store.Subscribe("coordinator")
	defer store.Unsubscribe(sub)

	store.Update(Snapshot{Name: "coordinator", State: StatePending})
	store.Update(Snapshot{Name: "other", State: StatePending})
	store.Update(Snapshot{Name: "coordinator", State: StateBuilding})

	ev := <-sub.Channel
	assert.Equal(t, "coordinator", ev.Name)
	assert.Equal(t, StatePending, ev.NewState)

	ev = <-sub.Channel
	assert.Equal(t, StateBuilding, ev.NewState)
	assert.Equal(t, StatePending, ev.OldState)

	select {
	case ev := <-sub.Channel:
		t.Fatalf("unexpected event for %s", ev.Name)
	default:
	}
}

func TestSubscribeAllResources(t *testing.T) {
	store := NewStore()
	sub := store.Subscribe("")
	defer store.Unsubscribe(sub)

	store.Update(Snapshot{Name: "a", State: StatePending})
	store.Update(Snapshot{Name: "b", State: StatePending})

	names := []string{(<-sub.Channel).Name, (<-sub.Channel).Name}
	assert.ElementsMatch(t, []string{"a", "b"}, names)
}

func TestSubscriptionDropsWhenFull(t *testing.T) {
	store := NewStore()
	sub := store.Subscribe("")
	defer store.Unsubscribe(sub)

	// Overflow the buffer; Update must not block.
	states := []ResourceState{StatePending, StateBuilding, StateDeploying, StateReady}
	for i := 0; i < subscriptionBufferSize+16; i++ {
		store.Update(Snapshot{Name: "a", State: states[i%len(states)]})
	}

	assert.Len(t, sub.Channel, subscriptionBufferSize)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	store := NewStore()
	sub := store.Subscribe("")
	store.Unsubscribe(sub)

	_, open := <-sub.Channel
	assert.False(t, open)

	// Updates after unsubscribe are fine.
	store.Update(Snapshot{Name: "a", State: StatePending})
}
