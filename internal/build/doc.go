// Package build turns build targets into content-addressed image artifacts.
//
// Every build is keyed by a fingerprint over the target's inputs (context
// tree, dockerfile, entrypoint override). Fingerprints that are already in
// the cache never reach the external builder, which is the incremental
// rebuild guarantee; concurrent requests for one fingerprint share a single
// in-flight build.
package build
