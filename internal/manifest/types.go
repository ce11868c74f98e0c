package manifest

import (
	"fmt"

	"devloop/internal/dependency"
)

// ResourceKind discriminates how a resource is brought up.
type ResourceKind string

const (
	// KindBuildTarget is a resource whose image is built from a context
	// directory before it is deployed.
	KindBuildTarget ResourceKind = "buildTarget"
	// KindClusterObject is applied directly from a manifest file, no build.
	KindClusterObject ResourceKind = "clusterObject"
	// KindAggregate is a pure grouping node: it has no build or deploy step
	// and becomes ready once all of its dependencies are ready.
	KindAggregate ResourceKind = "aggregate"
)

// PortSpec is a single local-to-remote forward declaration.
type PortSpec struct {
	Local  int
	Remote int
}

func (p PortSpec) String() string {
	return fmt.Sprintf("%d:%d", p.Local, p.Remote)
}

// Resource is one declared resource. Raw YAML fields keep their declared
// form; parsed forms (PortSpecs) are filled in during validation.
type Resource struct {
	Name         string       `yaml:"name"`
	Kind         ResourceKind `yaml:"kind"`
	Context      string       `yaml:"context,omitempty"`
	Dockerfile   string       `yaml:"dockerfile,omitempty"`
	Entrypoint   []string     `yaml:"entrypoint,omitempty"`
	ManifestPath string       `yaml:"manifest,omitempty"`
	Namespace    string       `yaml:"namespace,omitempty"`
	DependsOn    []string     `yaml:"dependsOn,omitempty"`
	Labels       []string     `yaml:"labels,omitempty"`
	Ports        []string     `yaml:"ports,omitempty"`

	// PortSpecs is the validated form of Ports.
	PortSpecs []PortSpec `yaml:"-"`
}

// IsBuildTarget reports whether the resource goes through the build engine.
func (r *Resource) IsBuildTarget() bool {
	return r.Kind == KindBuildTarget
}

// Manifest is the validated in-memory model of a manifest file plus the
// dependency graph derived from it.
type Manifest struct {
	Resources []*Resource
	Dir       string // directory the manifest was loaded from; context paths resolve against it

	byName map[string]*Resource
	graph  *dependency.Graph
}

// Get returns the resource with the given name.
func (m *Manifest) Get(name string) (*Resource, bool) {
	r, ok := m.byName[name]
	return r, ok
}

// Graph returns the dependency graph. It is read-only after load.
func (m *Manifest) Graph() *dependency.Graph {
	return m.graph
}

// ConfigError is a fatal, load-time configuration error. It aborts startup
// and is never retried at runtime.
type ConfigError struct {
	Msg string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config error: %s: %v", e.Msg, e.Err)
	}
	return fmt.Sprintf("config error: %s", e.Msg)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func configErrorf(format string, args ...interface{}) *ConfigError {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}
