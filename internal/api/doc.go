// Package api is the local control surface of a running dev loop: a
// localhost HTTP listener exposing resource status and reset, and the client
// the CLI subcommands use to reach it.
package api
