// Package watcher turns raw filesystem events under build-target context
// directories into debounced per-target change notifications. It decides
// only WHICH target changed; what to do about it is the scheduler's call.
package watcher
