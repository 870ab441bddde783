// Package k8sclient is a thin wrapper around a client-go typed clientset,
// exposing exactly the PV/PVC/Job/Pod verbs the creator and watcher need,
// in the teacher's basicClient shape (a struct holding the clientset, a
// default namespace, and a *logrus.Logger).
package k8sclient

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/isisneutron/jobcontroller/pkg/workload"
)

// Client wraps a kubernetes.Interface with the default namespace this
// binary operates in and a logger for verb-level diagnostics.
type Client struct {
	clientset kubernetes.Interface
	namespace string
	log       *logrus.Logger
}

// New builds a Client from in-cluster config if available, falling back
// to KUBECONFIG or the default kubeconfig location, mirroring the
// original's load_kubernetes_config fallback chain.
func New(namespace string, log *logrus.Logger) (*Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("k8sclient: failed to load kubernetes config: %w", err)
	}
	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("k8sclient: failed to build clientset: %w", err)
	}
	return &Client{clientset: clientset, namespace: namespace, log: log}, nil
}

// NewWithClientset builds a Client around an already-constructed
// kubernetes.Interface, bypassing config discovery. Used by tests (in
// this package and callers such as pkg/creator) that inject a fake
// clientset.
func NewWithClientset(clientset kubernetes.Interface, namespace string, log *logrus.Logger) *Client {
	return &Client{clientset: clientset, namespace: namespace, log: log}
}

func loadConfig() (*rest.Config, error) {
	if cfg, err := rest.InClusterConfig(); err == nil {
		return cfg, nil
	}
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, &clientcmd.ConfigOverrides{}).ClientConfig()
}

func (c *Client) ns(namespace string) string {
	if namespace == "" {
		return c.namespace
	}
	return namespace
}

// SubmitBundle creates every PersistentVolume, then every
// PersistentVolumeClaim, then the Job, in that order, matching the
// original's PV-before-PVC-before-Job sequencing.
func (c *Client) SubmitBundle(ctx context.Context, namespace string, bundle *workload.Bundle) error {
	for i := range bundle.PersistentVolumes {
		if err := c.CreatePersistentVolume(ctx, &bundle.PersistentVolumes[i]); err != nil {
			return err
		}
	}
	for i := range bundle.PersistentVolumeClaims {
		if err := c.CreatePersistentVolumeClaim(ctx, namespace, &bundle.PersistentVolumeClaims[i]); err != nil {
			return err
		}
	}
	if err := c.CreateJob(ctx, namespace, bundle.Job); err != nil {
		return err
	}
	return nil
}

func (c *Client) CreatePersistentVolume(ctx context.Context, pv *corev1.PersistentVolume) error {
	c.log.Infof("creating persistent volume %s", pv.Name)
	_, err := c.clientset.CoreV1().PersistentVolumes().Create(ctx, pv, metav1.CreateOptions{})
	if err != nil {
		return fmt.Errorf("failed to create persistent volume %s: %w", pv.Name, err)
	}
	return nil
}

func (c *Client) CreatePersistentVolumeClaim(ctx context.Context, namespace string, pvc *corev1.PersistentVolumeClaim) error {
	namespace = c.ns(namespace)
	c.log.Infof("creating persistent volume claim %s/%s", namespace, pvc.Name)
	_, err := c.clientset.CoreV1().PersistentVolumeClaims(namespace).Create(ctx, pvc, metav1.CreateOptions{})
	if err != nil {
		return fmt.Errorf("failed to create persistent volume claim %s: %w", pvc.Name, err)
	}
	return nil
}

func (c *Client) CreateJob(ctx context.Context, namespace string, job *batchv1.Job) error {
	namespace = c.ns(namespace)
	c.log.Infof("creating job %s/%s", namespace, job.Name)
	_, err := c.clientset.BatchV1().Jobs(namespace).Create(ctx, job, metav1.CreateOptions{})
	if err != nil {
		return fmt.Errorf("failed to create job %s: %w", job.Name, err)
	}
	return nil
}

func (c *Client) GetJob(ctx context.Context, namespace, name string) (*batchv1.Job, error) {
	namespace = c.ns(namespace)
	job, err := c.clientset.BatchV1().Jobs(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", name, err)
	}
	return job, nil
}

func (c *Client) GetPod(ctx context.Context, namespace, name string) (*corev1.Pod, error) {
	namespace = c.ns(namespace)
	pod, err := c.clientset.CoreV1().Pods(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get pod %s: %w", name, err)
	}
	return pod, nil
}

// FindPodByPartialName lists every pod in namespace and returns the
// first whose name contains partialName, or an error if none match.
func (c *Client) FindPodByPartialName(ctx context.Context, namespace, partialName string) (*corev1.Pod, error) {
	namespace = c.ns(namespace)
	pods, err := c.clientset.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list pods in %s: %w", namespace, err)
	}
	for i := range pods.Items {
		if strings.Contains(pods.Items[i].Name, partialName) {
			return &pods.Items[i], nil
		}
	}
	return nil, fmt.Errorf("the pod could not be found using partial pod name: %s", partialName)
}

// GetContainerLogs returns the log output for a single container,
// optionally limited to the last tailLines lines and/or the last
// sinceSeconds seconds. A zero value for either disables that limit.
func (c *Client) GetContainerLogs(ctx context.Context, namespace, podName, containerName string, tailLines, sinceSeconds int64) (string, error) {
	namespace = c.ns(namespace)
	opts := &corev1.PodLogOptions{Container: containerName}
	if tailLines > 0 {
		opts.TailLines = &tailLines
	}
	if sinceSeconds > 0 {
		opts.SinceSeconds = &sinceSeconds
	}
	raw, err := c.clientset.CoreV1().Pods(namespace).GetLogs(podName, opts).DoRaw(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read logs for %s/%s: %w", podName, containerName, err)
	}
	return string(raw), nil
}

func (c *Client) DeletePersistentVolumeClaim(ctx context.Context, namespace, name string) error {
	namespace = c.ns(namespace)
	if err := c.clientset.CoreV1().PersistentVolumeClaims(namespace).Delete(ctx, name, metav1.DeleteOptions{}); err != nil {
		return fmt.Errorf("failed to delete persistent volume claim %s: %w", name, err)
	}
	return nil
}

func (c *Client) DeletePersistentVolume(ctx context.Context, name string) error {
	if err := c.clientset.CoreV1().PersistentVolumes().Delete(ctx, name, metav1.DeleteOptions{}); err != nil {
		return fmt.Errorf("failed to delete persistent volume %s: %w", name, err)
	}
	return nil
}

// IsHealthy reports whether the clientset can reach the API server.
func (c *Client) IsHealthy() bool {
	_, err := c.clientset.Discovery().ServerVersion()
	return err == nil
}
