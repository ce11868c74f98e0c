// Package scheduler drives every declared resource to Ready (or Error) and
// keeps doing so as change events arrive.
//
// Each resource gets one controlling goroutine for the scheduler's lifetime;
// that goroutine owns all of the resource's state transitions. Cross-node
// synchronization happens through one-shot readiness gates: a gate per
// attempt, resolved exactly once with Ready or Error. Dependents wait on
// their dependencies' gates, so a failed dependency pins its whole dependent
// closure at Pending while unrelated branches keep converging. Resets cancel
// the in-flight attempt, install a fresh gate, and re-run the controller.
package scheduler
