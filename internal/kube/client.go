package kube

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/types"
	yamlutil "k8s.io/apimachinery/pkg/util/yaml"
	"k8s.io/client-go/discovery"
	"k8s.io/client-go/discovery/cached/memory"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	_ "k8s.io/client-go/plugin/pkg/client/auth" // auth providers (gcp, oidc, ...)
	"k8s.io/client-go/rest"
	"k8s.io/client-go/restmapper"
	"k8s.io/client-go/tools/clientcmd"

	"devloop/pkg/logging"
)

const fieldManager = "devloop"

// Client is the real Cluster implementation backed by client-go.
type Client struct {
	restConfig *rest.Config
	clientset  kubernetes.Interface
	dynamic    dynamic.Interface
	mapper     *restmapper.DeferredDiscoveryRESTMapper
}

// NewClient builds a Client for the given kubeconfig context. An empty
// context uses the kubeconfig's current context.
func NewClient(kubeContext string) (*Client, error) {
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	configOverrides := &clientcmd.ConfigOverrides{CurrentContext: kubeContext}
	kubeConfig := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, configOverrides)

	restConfig, err := kubeConfig.ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to get REST config for context %q: %w", kubeContext, err)
	}
	restConfig.Timeout = 30 * time.Second

	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kubernetes clientset: %w", err)
	}

	dynClient, err := dynamic.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create dynamic client: %w", err)
	}

	disc, err := discovery.NewDiscoveryClientForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery client: %w", err)
	}
	mapper := restmapper.NewDeferredDiscoveryRESTMapper(memory.NewMemCacheClient(disc))

	return &Client{
		restConfig: restConfig,
		clientset:  clientset,
		dynamic:    dynClient,
		mapper:     mapper,
	}, nil
}

// Apply implements Cluster.
func (c *Client) Apply(ctx context.Context, spec ApplySpec) (Handle, error) {
	switch {
	case spec.Workload != nil:
		return c.applyWorkload(ctx, spec)
	case spec.ManifestPath != "":
		return c.applyManifest(ctx, spec)
	default:
		return Handle{}, fmt.Errorf("apply spec for %q has neither workload nor manifest", spec.Name)
	}
}

// applyWorkload renders a build target into a single-replica Deployment with
// the devloop resource label and creates or updates it.
func (c *Client) applyWorkload(ctx context.Context, spec ApplySpec) (Handle, error) {
	labels := map[string]string{ResourceLabel: spec.Name}
	replicas := int32(1)

	deploy := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      spec.Name,
			Namespace: spec.Namespace,
			Labels:    labels,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{MatchLabels: labels},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{
						{
							Name:    spec.Name,
							Image:   spec.Workload.Image,
							Command: spec.Workload.Entrypoint,
						},
					},
				},
			},
		},
	}

	deployments := c.clientset.AppsV1().Deployments(spec.Namespace)
	existing, err := deployments.Get(ctx, spec.Name, metav1.GetOptions{})
	switch {
	case apierrors.IsNotFound(err):
		if _, err := deployments.Create(ctx, deploy, metav1.CreateOptions{FieldManager: fieldManager}); err != nil {
			return Handle{}, fmt.Errorf("failed to create deployment %s/%s: %w", spec.Namespace, spec.Name, err)
		}
		logging.Info("Kube", "Created deployment %s/%s (image %s)", spec.Namespace, spec.Name, spec.Workload.Image)
	case err != nil:
		return Handle{}, fmt.Errorf("failed to get deployment %s/%s: %w", spec.Namespace, spec.Name, err)
	default:
		existing.Labels = labels
		existing.Spec = deploy.Spec
		if _, err := deployments.Update(ctx, existing, metav1.UpdateOptions{FieldManager: fieldManager}); err != nil {
			return Handle{}, fmt.Errorf("failed to update deployment %s/%s: %w", spec.Namespace, spec.Name, err)
		}
		logging.Info("Kube", "Updated deployment %s/%s (image %s)", spec.Namespace, spec.Name, spec.Workload.Image)
	}

	return Handle{
		Name:        spec.Name,
		Namespace:   spec.Namespace,
		PodSelector: fmt.Sprintf("%s=%s", ResourceLabel, spec.Name),
	}, nil
}

// applyManifest server-side-applies every document in a manifest file. The
// documents are applied in file order; the handle carries no pod selector, so
// a cluster object counts as healthy once the API server accepted it.
func (c *Client) applyManifest(ctx context.Context, spec ApplySpec) (Handle, error) {
	data, err := os.ReadFile(spec.ManifestPath)
	if err != nil {
		return Handle{}, fmt.Errorf("failed to read manifest %s: %w", spec.ManifestPath, err)
	}

	objs, err := DecodeManifest(data)
	if err != nil {
		return Handle{}, fmt.Errorf("failed to decode manifest %s: %w", spec.ManifestPath, err)
	}
	if len(objs) == 0 {
		return Handle{}, fmt.Errorf("manifest %s contains no objects", spec.ManifestPath)
	}

	for _, obj := range objs {
		if err := c.applyUnstructured(ctx, spec.Namespace, obj); err != nil {
			return Handle{}, err
		}
	}

	logging.Info("Kube", "Applied %d object(s) from %s", len(objs), spec.ManifestPath)
	return Handle{Name: spec.Name, Namespace: spec.Namespace}, nil
}

func (c *Client) applyUnstructured(ctx context.Context, defaultNamespace string, obj *unstructured.Unstructured) error {
	gvk := obj.GroupVersionKind()
	mapping, err := c.mapper.RESTMapping(gvk.GroupKind(), gvk.Version)
	if err != nil {
		return fmt.Errorf("no REST mapping for %s: %w", gvk, err)
	}

	var dr dynamic.ResourceInterface
	if mapping.Scope.Name() == "namespace" {
		ns := obj.GetNamespace()
		if ns == "" {
			ns = defaultNamespace
			obj.SetNamespace(ns)
		}
		dr = c.dynamic.Resource(mapping.Resource).Namespace(ns)
	} else {
		dr = c.dynamic.Resource(mapping.Resource)
	}

	data, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("failed to marshal %s %q: %w", gvk.Kind, obj.GetName(), err)
	}

	force := true
	_, err = dr.Patch(ctx, obj.GetName(), types.ApplyPatchType, data, metav1.PatchOptions{
		FieldManager: fieldManager,
		Force:        &force,
	})
	if err != nil {
		return fmt.Errorf("failed to apply %s %q: %w", gvk.Kind, obj.GetName(), err)
	}
	return nil
}

// DecodeManifest splits a (possibly multi-document) YAML manifest into
// unstructured objects, skipping empty documents.
func DecodeManifest(data []byte) ([]*unstructured.Unstructured, error) {
	decoder := yamlutil.NewYAMLOrJSONDecoder(bytes.NewReader(data), 4096)
	var objs []*unstructured.Unstructured
	for {
		obj := &unstructured.Unstructured{}
		err := decoder.Decode(obj)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		if len(obj.Object) == 0 {
			continue
		}
		objs = append(objs, obj)
	}
	return objs, nil
}

// Status implements Cluster. A handle without a pod selector is healthy by
// definition (nothing to observe); otherwise health is derived from the
// backing pods.
func (c *Client) Status(ctx context.Context, h Handle) (Health, error) {
	if h.PodSelector == "" {
		return HealthHealthy, nil
	}

	podList, err := c.clientset.CoreV1().Pods(h.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: h.PodSelector,
	})
	if err != nil {
		return HealthUnknown, fmt.Errorf("failed to list pods for %s: %w", h.Name, err)
	}

	return ClassifyPods(podList.Items), nil
}

// ClassifyPods reduces a pod list to a single health value: Unhealthy beats
// Healthy beats Unknown, so a crash-looping replica is never masked by a
// healthy sibling.
func ClassifyPods(pods []corev1.Pod) Health {
	if len(pods) == 0 {
		return HealthUnknown
	}

	anyHealthy := false
	for i := range pods {
		pod := &pods[i]

		if pod.Status.Phase == corev1.PodFailed {
			return HealthUnhealthy
		}
		for _, cs := range pod.Status.ContainerStatuses {
			if cs.State.Waiting != nil {
				switch cs.State.Waiting.Reason {
				case "CrashLoopBackOff", "ErrImagePull", "ImagePullBackOff", "CreateContainerError":
					return HealthUnhealthy
				}
			}
		}

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
		if ready {
			anyHealthy = true
		}
	}

	if anyHealthy {
		return HealthHealthy
	}
	return HealthUnknown
}
