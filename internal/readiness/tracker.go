package readiness

import (
	"context"
	"fmt"
	"time"

	"devloop/internal/kube"
	"devloop/pkg/logging"
)

// TimeoutError reports that a resource did not become healthy within the
// bounded wait. It surfaces as the resource's Error state; the process
// keeps running.
type TimeoutError struct {
	Resource string
	Timeout  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("resource %q did not become ready within %s", e.Resource, e.Timeout)
}

// StatusReader is the slice of the cluster collaborator the tracker needs.
type StatusReader interface {
	Status(ctx context.Context, h kube.Handle) (kube.Health, error)
}

const (
	DefaultInterval = 2 * time.Second
	DefaultTimeout  = 2 * time.Minute
)

// Tracker polls the cluster for resource health.
type Tracker struct {
	cluster  StatusReader
	interval time.Duration
	timeout  time.Duration
}

// NewTracker creates a tracker. Zero interval/timeout select the defaults;
// an unbounded wait is not an option.
func NewTracker(cluster StatusReader, interval, timeout time.Duration) *Tracker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Tracker{cluster: cluster, interval: interval, timeout: timeout}
}

// WaitReady blocks until the handle reports Healthy, the context is
// canceled, or the timeout expires. Status errors and Unknown/Unhealthy
// readings keep the poll going (a workload may legitimately pass through
// them while starting); only the deadline turns them into a failure.
func (t *Tracker) WaitReady(ctx context.Context, name string, h kube.Handle) error {
	deadline := time.NewTimer(t.timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	// First probe immediately; most cluster objects are healthy on arrival.
	if done, err := t.probe(ctx, name, h); done {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return &TimeoutError{Resource: name, Timeout: t.timeout}
		case <-ticker.C:
			if done, err := t.probe(ctx, name, h); done {
				return err
			}
		}
	}
}

// probe returns done=true once a final verdict is reached.
func (t *Tracker) probe(ctx context.Context, name string, h kube.Handle) (bool, error) {
	health, err := t.cluster.Status(ctx, h)
	if err != nil {
		if ctx.Err() != nil {
			return true, ctx.Err()
		}
		logging.Debug("Readiness", "Status probe for %s failed: %v", name, err)
		return false, nil
	}
	switch health {
	case kube.HealthHealthy:
		return true, nil
	default:
		logging.Debug("Readiness", "Resource %s is %s, waiting", name, health)
		return false, nil
	}
}
