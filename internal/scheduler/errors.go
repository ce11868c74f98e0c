package scheduler

import "fmt"

// DeployRejected wraps a cluster apply failure for one resource. It carries
// the resource into Error; dependents stay Pending until the resource is
// reset.
type DeployRejected struct {
	Resource string
	Err      error
}

func (e *DeployRejected) Error() string {
	return fmt.Sprintf("deploy of %q rejected: %v", e.Resource, e.Err)
}

func (e *DeployRejected) Unwrap() error {
	return e.Err
}
