package manifest

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"devloop/internal/dependency"
)

// DefaultFileName is the manifest file looked up when -f is not given.
const DefaultFileName = "devloop.yaml"

// manifestFile mirrors the top-level YAML document.
type manifestFile struct {
	Resources []*Resource `yaml:"resources"`
}

// Load reads and validates the manifest at path. Context and manifest paths
// are resolved relative to the manifest's directory. All failures are
// *ConfigError.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Msg: fmt.Sprintf("cannot read manifest %s", path), Err: err}
	}
	return Parse(data, filepath.Dir(path))
}

// Parse validates a raw manifest document. dir is the directory context and
// manifest paths resolve against; it must exist when build targets or cluster
// objects are declared.
func Parse(data []byte, dir string) (*Manifest, error) {
	var file manifestFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, &ConfigError{Msg: "cannot parse manifest", Err: err}
	}

	if len(file.Resources) == 0 {
		return nil, configErrorf("manifest declares no resources")
	}

	m := &Manifest{
		Resources: file.Resources,
		Dir:       dir,
		byName:    make(map[string]*Resource, len(file.Resources)),
		graph:     dependency.New(),
	}

	// Pass 1: names, kinds, per-resource fields.
	for _, r := range m.Resources {
		if err := validateResource(m, r); err != nil {
			return nil, err
		}
	}

	// Pass 2: local port collisions across all declared forwards.
	if err := validatePortCollisions(m.Resources); err != nil {
		return nil, err
	}

	// Pass 3: dependency edges. Every reference must name a declared
	// resource; cycles are rejected by the graph itself.
	for _, r := range m.Resources {
		for _, dep := range r.DependsOn {
			if _, ok := m.byName[dep]; !ok {
				return nil, configErrorf("resource %q depends on undeclared resource %q", r.Name, dep)
			}
			if err := m.graph.AddEdge(r.Name, dep); err != nil {
				return nil, &ConfigError{Msg: fmt.Sprintf("resource %q", r.Name), Err: err}
			}
		}
	}

	return m, nil
}

func validateResource(m *Manifest, r *Resource) error {
	if r.Name == "" {
		return configErrorf("resource with empty name")
	}
	if _, dup := m.byName[r.Name]; dup {
		return configErrorf("duplicate resource name %q", r.Name)
	}

	switch r.Kind {
	case KindBuildTarget:
		if r.Context == "" {
			return configErrorf("build target %q has no context", r.Name)
		}
		ctxDir := m.ResolvePath(r.Context)
		info, err := os.Stat(ctxDir)
		if err != nil {
			return &ConfigError{Msg: fmt.Sprintf("build target %q: context %s", r.Name, ctxDir), Err: err}
		}
		if !info.IsDir() {
			return configErrorf("build target %q: context %s is not a directory", r.Name, ctxDir)
		}
		if r.Dockerfile == "" {
			r.Dockerfile = filepath.Join(r.Context, "Dockerfile")
		}
		if _, err := os.Stat(m.ResolvePath(r.Dockerfile)); err != nil {
			return &ConfigError{Msg: fmt.Sprintf("build target %q: dockerfile", r.Name), Err: err}
		}
	case KindClusterObject:
		if r.ManifestPath == "" {
			return configErrorf("cluster object %q has no manifest path", r.Name)
		}
		if _, err := os.Stat(m.ResolvePath(r.ManifestPath)); err != nil {
			return &ConfigError{Msg: fmt.Sprintf("cluster object %q: manifest", r.Name), Err: err}
		}
	case KindAggregate:
		if len(r.Ports) > 0 {
			return configErrorf("aggregate %q cannot declare ports", r.Name)
		}
	default:
		return configErrorf("resource %q has unknown kind %q", r.Name, r.Kind)
	}

	if r.Namespace == "" {
		r.Namespace = "default"
	}

	specs, err := parsePorts(r.Ports)
	if err != nil {
		return configErrorf("resource %q: %v", r.Name, err)
	}
	r.PortSpecs = specs

	m.byName[r.Name] = r
	if err := m.graph.AddNode(r.Name); err != nil {
		return &ConfigError{Msg: "registering resource", Err: err}
	}
	return nil
}

// ResolvePath resolves a manifest-relative path against the manifest dir.
func (m *Manifest) ResolvePath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}

func parsePorts(raw []string) ([]PortSpec, error) {
	specs := make([]PortSpec, 0, len(raw))
	for _, s := range raw {
		parts := strings.Split(s, ":")
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed port %q, want local:remote", s)
		}
		local, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil, fmt.Errorf("malformed local port in %q: %v", s, err)
		}
		remote, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("malformed remote port in %q: %v", s, err)
		}
		if local <= 0 || local > 65535 || remote <= 0 || remote > 65535 {
			return nil, fmt.Errorf("port %q out of range", s)
		}
		specs = append(specs, PortSpec{Local: local, Remote: remote})
	}
	return specs, nil
}

func validatePortCollisions(resources []*Resource) error {
	owners := make(map[int]string)
	for _, r := range resources {
		for _, p := range r.PortSpecs {
			if owner, taken := owners[p.Local]; taken {
				return configErrorf("local port %d declared by both %q and %q", p.Local, owner, r.Name)
			}
			owners[p.Local] = r.Name
		}
	}
	return nil
}
