// Package manifest loads and validates the declarative description of the
// application: which resources exist, how build targets are built, what they
// depend on, and which ports should be forwarded once they are ready.
//
// Loading has no side effects beyond reading the manifest and checking that
// referenced paths exist. All validation failures, including dependency
// cycles, are reported as *ConfigError and abort startup.
package manifest
