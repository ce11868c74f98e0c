package kube

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/portforward"
	"k8s.io/client-go/transport/spdy"

	"devloop/pkg/logging"
)

// forwarderLogWriter relays client-go port-forward output into our logs.
type forwarderLogWriter struct {
	subsystem string
	asError   bool
}

func (w *forwarderLogWriter) Write(p []byte) (n int, err error) {
	for _, line := range strings.Split(strings.TrimSuffix(string(p), "\n"), "\n") {
		if line == "" {
			continue
		}
		if w.asError {
			logging.Warn(w.subsystem, "%s", line)
		} else {
			logging.Debug(w.subsystem, "%s", line)
		}
	}
	return len(p), nil
}

// Forward dials a port-forward from 127.0.0.1:local to port remote of a
// ready pod matching podSelector. It blocks until stopCh is closed, the
// context is canceled, or the forward fails; ready is closed once the local
// listener is up. This is the kube-side half of the port/tunnel manager.
func (c *Client) Forward(ctx context.Context, namespace, podSelector string, local, remote int, stopCh <-chan struct{}, ready chan<- struct{}) error {
	subsystem := fmt.Sprintf("PortForward-%s:%d", podSelector, local)

	podName, err := readyPodForSelector(ctx, c.clientset, namespace, podSelector)
	if err != nil {
		return fmt.Errorf("failed to determine target pod for %q in %q: %w", podSelector, namespace, err)
	}

	reqURL := c.clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Namespace(namespace).
		Name(podName).
		SubResource("portforward").
		URL()

	transport, upgrader, err := spdy.RoundTripperFor(c.restConfig)
	if err != nil {
		return fmt.Errorf("failed to create SPDY round tripper: %w", err)
	}
	dialer := spdy.NewDialer(upgrader, &http.Client{Transport: transport}, http.MethodPost, reqURL)

	// forwarder.ForwardPorts exits when its stop channel closes; bridge both
	// the caller's stop channel and context cancellation into it.
	innerStop := make(chan struct{})
	go func() {
		select {
		case <-stopCh:
		case <-ctx.Done():
		}
		close(innerStop)
	}()

	readyChan := make(chan struct{})
	ports := []string{fmt.Sprintf("%d:%d", local, remote)}
	addresses := []string{"127.0.0.1"}

	forwarder, err := portforward.NewOnAddresses(dialer, addresses, ports, innerStop, readyChan,
		&forwarderLogWriter{subsystem: subsystem},
		&forwarderLogWriter{subsystem: subsystem, asError: true})
	if err != nil {
		return fmt.Errorf("failed to create port forwarder: %w", err)
	}

	go func() {
		select {
		case <-readyChan:
			logging.Info(subsystem, "Forwarding 127.0.0.1:%d -> %s:%d (pod %s)", local, namespace, remote, podName)
			if ready != nil {
				close(ready)
			}
		case <-innerStop:
		}
	}()

	if err := forwarder.ForwardPorts(); err != nil {
		return fmt.Errorf("port forward to pod %s failed: %w", podName, err)
	}
	return nil
}

// readyPodForSelector picks a running, ready pod matching the label selector.
func readyPodForSelector(ctx context.Context, clientset kubernetes.Interface, namespace, selector string) (string, error) {
	listCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	podList, err := clientset.CoreV1().Pods(namespace).List(listCtx, metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		return "", fmt.Errorf("failed to list pods with selector %q: %w", selector, err)
	}
	if len(podList.Items) == 0 {
		return "", fmt.Errorf("no pods found with selector %q in %q", selector, namespace)
	}

	for i := range podList.Items {
		pod := &podList.Items[i]
		if pod.Status.Phase != corev1.PodRunning {
			continue
		}
		ready := false
		for _, cond := range pod.Status.Conditions {
			if cond.Type == corev1.PodReady && cond.Status == corev1.ConditionTrue {
				ready = true
				break
			}
		}
		if !ready {
			continue
		}
		allContainersReady := len(pod.Status.ContainerStatuses) > 0 || len(pod.Spec.Containers) == 0
		for _, cs := range pod.Status.ContainerStatuses {
			if !cs.Ready {
				allContainersReady = false
				break
			}
		}
		if allContainersReady {
			return pod.Name, nil
		}
	}
	return "", fmt.Errorf("no ready pods found with selector %q in %q", selector, namespace)
}
