// Package readiness waits for deployed resources to report healthy. Deploy
// acceptance and readiness are distinct signals: the cluster can accept an
// apply long before the workload is actually serving. Waits are always
// bounded; a stuck dependency surfaces a TimeoutError instead of freezing
// the graph silently.
package readiness
