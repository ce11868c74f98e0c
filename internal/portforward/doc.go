// Package portforward owns the local-to-remote tunnels declared in the
// manifest. Forwards are established once a resource is Ready and torn down
// before a redeploy replaces them, so a stale listener never routes to a dead
// pod. Forwards are best-effort observability: their failures are reported
// but never gate a resource's lifecycle state.
package portforward
