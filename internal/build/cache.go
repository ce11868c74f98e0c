package build

import (
	"sync"
	"time"
)

// Artifact is the immutable output of one build: a content fingerprint plus
// the image reference the deploy collaborator consumes. Entrypoint records
// the override the artifact was built for (empty means the image default).
type Artifact struct {
	Fingerprint string
	ImageRef    string
	Entrypoint  []string
	BuiltAt     time.Time
}

// Cache maps fingerprints to artifacts. It is an explicit owned component
// injected into the Engine (not ambient state) so tests get an isolated
// cache per run. Entries live until process exit; a session's cache is never
// evicted.
type Cache struct {
	mu        sync.RWMutex
	artifacts map[string]*Artifact
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{artifacts: make(map[string]*Artifact)}
}

// Get returns the artifact for a fingerprint, if present.
func (c *Cache) Get(fingerprint string) (*Artifact, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.artifacts[fingerprint]
	return a, ok
}

// Put stores an artifact under its fingerprint.
func (c *Cache) Put(a *Artifact) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.artifacts[a.Fingerprint] = a
}

// Len returns the number of cached artifacts.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.artifacts)
}
