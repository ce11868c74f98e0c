package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devloop/internal/kube"
	"devloop/internal/manifest"
	"devloop/internal/reporting"
)

type fakeResetter struct {
	resets []string
	err    error
}

func (r *fakeResetter) Reset(name string) error {
	if r.err != nil {
		return r.err
	}
	r.resets = append(r.resets, name)
	return nil
}

func seededStore() *reporting.Store {
	store := reporting.NewStore()
	store.Update(reporting.Snapshot{
		Name:   "server",
		Kind:   manifest.KindBuildTarget,
		State:  reporting.StateReady,
		Health: kube.HealthHealthy,
	})
	store.Update(reporting.Snapshot{
		Name:   "pulsar",
		Kind:   manifest.KindClusterObject,
		State:  reporting.StateError,
		Health: kube.HealthUnhealthy,
		Err:    errors.New("readiness wait timed out"),
	})
	return store
}

func newTestServer(t *testing.T, resetter Resetter) (*httptest.Server, *Client) {
	t.Helper()
	srv := httptest.NewServer(NewHandler(seededStore(), resetter, "1.2.3"))
	t.Cleanup(srv.Close)
	client := NewClient(strings.TrimPrefix(srv.URL, "http://"))
	return srv, client
}

func TestStatusListsAllResourcesSorted(t *testing.T) {
	_, client := newTestServer(t, &fakeResetter{})

	resp, err := client.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", resp.Version)
	require.Len(t, resp.Resources, 2)

	assert.Equal(t, "pulsar", resp.Resources[0].Name)
	assert.Equal(t, "Error", resp.Resources[0].State)
	assert.Contains(t, resp.Resources[0].Error, "timed out")

	assert.Equal(t, "server", resp.Resources[1].Name)
	assert.Equal(t, "Ready", resp.Resources[1].State)
	assert.Empty(t, resp.Resources[1].Error)
}

func TestStatusOne(t *testing.T) {
	srv, _ := newTestServer(t, &fakeResetter{})

	resp, err := http.Get(srv.URL + "/api/status/server")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/status/ghost")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestResetDelegatesToResetter(t *testing.T) {
	resetter := &fakeResetter{}
	_, client := newTestServer(t, resetter)

	require.NoError(t, client.Reset(context.Background(), "pulsar"))
	assert.Equal(t, []string{"pulsar"}, resetter.resets)
}

func TestResetUnknownResource(t *testing.T) {
	resetter := &fakeResetter{err: errors.New(`unknown resource "ghost"`)}
	_, client := newTestServer(t, resetter)

	err := client.Reset(context.Background(), "ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown resource")
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, &fakeResetter{})
	resp, err := http.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestClientAgainstStoppedServer(t *testing.T) {
	srv, client := newTestServer(t, &fakeResetter{})
	srv.Close()

	_, err := client.Status(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "running")
}
