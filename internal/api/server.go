package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"devloop/internal/reporting"
	"devloop/pkg/logging"
)

// DefaultAddr binds loopback only; the control API carries no auth.
const DefaultAddr = "127.0.0.1:10350"

// ResourceStatus is the wire form of one resource's snapshot.
type ResourceStatus struct {
	Name        string    `json:"name"`
	Kind        string    `json:"kind"`
	State       string    `json:"state"`
	Health      string    `json:"health"`
	Error       string    `json:"error,omitempty"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	Generation  int       `json:"generation"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// StatusResponse is the GET /api/status payload.
type StatusResponse struct {
	Version   string           `json:"version"`
	Resources []ResourceStatus `json:"resources"`
}

// Resetter triggers a resource reset. *scheduler.Scheduler implements it.
type Resetter interface {
	Reset(name string) error
}

// NewHandler builds the control API routes over a state store and resetter.
func NewHandler(store *reporting.Store, resetter Resetter, version string) http.Handler {
	s := &server{store: store, resetter: resetter, version: version}

	r := chi.NewRouter()
	r.Get("/api/health", s.health)
	r.Get("/api/status", s.status)
	r.Get("/api/status/{name}", s.statusOne)
	r.Post("/api/reset/{name}", s.reset)
	return r
}

type server struct {
	store    *reporting.Store
	resetter Resetter
	version  string
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) status(w http.ResponseWriter, r *http.Request) {
	snaps := s.store.All()
	resources := make([]ResourceStatus, 0, len(snaps))
	for _, snap := range snaps {
		resources = append(resources, toWire(snap))
	}
	sort.Slice(resources, func(i, j int) bool {
		return resources[i].Name < resources[j].Name
	})
	writeJSON(w, http.StatusOK, StatusResponse{Version: s.version, Resources: resources})
}

func (s *server) statusOne(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	snap, ok := s.store.Get(name)
	if !ok {
		http.Error(w, fmt.Sprintf("unknown resource %q", name), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toWire(snap))
}

func (s *server) reset(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.resetter.Reset(name); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	logging.Info("API", "Reset of %s requested", name)
	writeJSON(w, http.StatusAccepted, map[string]string{"reset": name})
}

func toWire(snap reporting.Snapshot) ResourceStatus {
	rs := ResourceStatus{
		Name:        snap.Name,
		Kind:        string(snap.Kind),
		State:       string(snap.State),
		Health:      string(snap.Health),
		Fingerprint: snap.Fingerprint,
		Generation:  snap.Generation,
		LastUpdated: snap.LastUpdated,
	}
	if snap.Err != nil {
		rs.Error = snap.Err.Error()
	}
	return rs
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("API", err, "Response encode failed")
	}
}

// Serve runs the control API until the context is canceled, then shuts down
// gracefully. A nil error means a clean shutdown.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("API", "Control API listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
