package build

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"devloop/internal/manifest"
	"devloop/pkg/logging"
)

// BuildError is a per-target build failure. It propagates to the owning
// resource's state and blocks its dependents; it is never silently retried.
type BuildError struct {
	Target string
	Err    error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build of %q failed: %v", e.Target, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// ImageBuilder is the external build collaborator: it consumes a context and
// instructions and produces an image under the given tag, or fails.
type ImageBuilder interface {
	Build(ctx context.Context, contextDir, dockerfile, tag string) error
}

// PathResolver resolves manifest-relative paths. *manifest.Manifest
// implements it.
type PathResolver interface {
	ResolvePath(p string) string
}

// Engine produces artifacts for build targets, consulting the cache first.
type Engine struct {
	cache    *Cache
	builder  ImageBuilder
	resolver PathResolver
	group    singleflight.Group
}

// NewEngine creates an engine around an injected cache and builder.
func NewEngine(cache *Cache, builder ImageBuilder, resolver PathResolver) *Engine {
	return &Engine{cache: cache, builder: builder, resolver: resolver}
}

// Build returns the artifact for the target's current inputs. Unchanged
// inputs are a cache hit and never invoke the external builder; concurrent
// calls for the same fingerprint are collapsed into one external invocation,
// with late callers waiting on the shared result.
func (e *Engine) Build(ctx context.Context, res *manifest.Resource) (*Artifact, error) {
	contextDir := e.resolver.ResolvePath(res.Context)
	dockerfile := e.resolver.ResolvePath(res.Dockerfile)

	fp, err := Fingerprint(contextDir, dockerfile, res.Entrypoint)
	if err != nil {
		return nil, &BuildError{Target: res.Name, Err: err}
	}

	if a, ok := e.cache.Get(fp); ok {
		logging.Debug("BuildEngine", "Cache hit for %s (%s)", res.Name, shortFingerprint(fp))
		return a, nil
	}

	for attempt := 0; ; attempt++ {
		ch := e.group.DoChan(fp, func() (interface{}, error) {
			// A racing caller may have finished while we queued.
			if a, ok := e.cache.Get(fp); ok {
				return a, nil
			}

			tag := fmt.Sprintf("devloop/%s:%s", res.Name, shortFingerprint(fp))
			logging.Info("BuildEngine", "Building %s -> %s", res.Name, tag)

			if err := e.builder.Build(ctx, contextDir, dockerfile, tag); err != nil {
				return nil, &BuildError{Target: res.Name, Err: err}
			}

			a := &Artifact{
				Fingerprint: fp,
				ImageRef:    tag,
				Entrypoint:  res.Entrypoint,
				BuiltAt:     time.Now(),
			}
			e.cache.Put(a)
			return a, nil
		})

		select {
		case <-ctx.Done():
			// This caller stops waiting; later callers for the fingerprint
			// handle whatever the flight resolves to.
			return nil, ctx.Err()
		case r := <-ch:
			if r.Err == nil {
				return r.Val.(*Artifact), nil
			}
			// The flight runs on the context of whoever started it. A
			// caller canceled mid-build (a reset) leaves its cancellation
			// as the shared result while the external build is still dying;
			// a live caller must not inherit that as a build failure, so it
			// drops the dead flight and builds again on its own context.
			if attempt == 0 && ctx.Err() == nil && isCancellation(r.Err) {
				e.group.Forget(fp)
				continue
			}
			return nil, r.Err
		}
	}
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
