// Package dependency implements the directed acyclic graph over resource
// names that the scheduler, watcher and loader share. The graph is built once
// at load time and is read-only afterwards, so concurrent readers need no
// synchronization.
//
// Acyclicity is enforced eagerly: AddEdge runs a reachability check and
// rejects any edge that would close a cycle, so a cyclic manifest is a
// load-time configuration error rather than a runtime deadlock.
package dependency
