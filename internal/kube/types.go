package kube

import "context"

// Health is the externally reported health of a deployed resource. It is a
// distinct signal from "the apply was accepted".
type Health string

const (
	HealthHealthy   Health = "Healthy"
	HealthUnhealthy Health = "Unhealthy"
	HealthUnknown   Health = "Unknown"
)

// ResourceLabel is the label key stamped on every workload devloop generates,
// so pods can be found again for status checks and port forwarding.
const ResourceLabel = "devloop.dev/resource"

// WorkloadSpec describes a workload generated for a build target. The
// entrypoint override, when set, replaces the image's default start command;
// this is how a debug proxy is spliced in ahead of the real process.
type WorkloadSpec struct {
	Image      string
	Entrypoint []string
}

// ApplySpec is the deploy request handed to the cluster. Exactly one of
// ManifestPath (cluster objects, applied as-is) or Workload (build targets,
// rendered into a Deployment) is set.
type ApplySpec struct {
	Name         string
	Namespace    string
	ManifestPath string
	Workload     *WorkloadSpec
}

// Handle identifies an applied resource for later status queries. A handle
// with an empty PodSelector has no pods to observe and is considered healthy
// once the apply was accepted.
type Handle struct {
	Name        string
	Namespace   string
	PodSelector string
}

// Cluster is the interface the orchestration core consumes. Implementations:
// Client (real cluster) and test fakes.
type Cluster interface {
	// Apply submits the spec and returns a handle for status queries.
	Apply(ctx context.Context, spec ApplySpec) (Handle, error)

	// Status reports the current health of a previously applied resource.
	Status(ctx context.Context, h Handle) (Health, error)
}
