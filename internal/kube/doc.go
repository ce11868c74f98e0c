// Package kube is the cluster-state collaborator: it applies resource specs
// to one Kubernetes cluster, reports workload health, and dials pod
// port-forwards. The rest of the system only sees the Cluster interface, so
// tests substitute fakes and never touch a real cluster.
//
// Authentication is taken from the ambient kubeconfig; credential setup is
// outside this tool's responsibility.
package kube
