// Package reporting holds the queryable view of the orchestrated graph: one
// snapshot per resource with its lifecycle state, health, fingerprint and
// last error. The scheduler is the only writer; the status API, the CLI and
// tests are readers. Subscriptions deliver state change events with bounded
// buffers, dropping on overflow rather than blocking the scheduler.
package reporting
