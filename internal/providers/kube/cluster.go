// ABOUTME: Kubernetes image discovery for restricting reports to deployed artifacts.
// ABOUTME: Lists workload pod specs and keeps images served by the configured registry.

package kube

import (
	"context"
	"fmt"
	"strings"

	"github.com/distribution/reference"
	"github.com/jfeddern/VulnLens/internal/types"
	"github.com/sirupsen/logrus"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// ClusterProvider discovers images running in a Kubernetes cluster
type ClusterProvider struct {
	clientset    kubernetes.Interface
	registryHost string
	logger       *logrus.Logger
}

// NewClusterProvider connects to the cluster. registryHost selects which
// images are reported; when empty, ECR images are selected.
func NewClusterProvider(registryHost string, logger *logrus.Logger) (*ClusterProvider, error) {
	// Try in-cluster config first (for pod deployment)
	config, err := rest.InClusterConfig()
	if err != nil {
		// Fallback to kubeconfig (for local development)
		logger.Info("In-cluster config not available, trying kubeconfig")
		config, err = clientcmd.BuildConfigFromFlags("", clientcmd.RecommendedHomeFile)
		if err != nil {
			return nil, fmt.Errorf("failed to build kubernetes config: %w", err)
		}
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes clientset: %w", err)
	}

	logger.WithField("registry_host", registryHost).Info("Successfully connected to Kubernetes cluster")
	return NewClusterProviderWithClientset(clientset, registryHost, logger), nil
}

func NewClusterProviderWithClientset(clientset kubernetes.Interface, registryHost string, logger *logrus.Logger) *ClusterProvider {
	return &ClusterProvider{
		clientset:    clientset,
		registryHost: strings.ToLower(registryHost),
		logger:       logger,
	}
}

// Name returns the provider name
func (c *ClusterProvider) Name() string {
	return "kubernetes"
}

// IsRegistryImage checks if the image is served by the watched registry
func (c *ClusterProvider) IsRegistryImage(imageURI string) bool {
	named, err := reference.ParseNormalizedNamed(imageURI)
	if err != nil {
		return false
	}
	domain := strings.ToLower(reference.Domain(named))
	if c.registryHost == "" {
		return strings.Contains(domain, ".dkr.ecr.") && strings.HasSuffix(domain, ".amazonaws.com")
	}
	return domain == c.registryHost
}

// DiscoverImages lists images from Deployments, StatefulSets and DaemonSets
func (c *ClusterProvider) DiscoverImages(ctx context.Context) ([]types.ImageInfo, error) {
	logger := c.logger.WithField("operation", "discover_images")

	var images []types.ImageInfo

	deployments, err := c.clientset.AppsV1().Deployments("").List(ctx, metav1.ListOptions{})
	if err != nil {
		logger.WithError(err).Error("Failed to discover images from deployments")
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	for _, deployment := range deployments.Items {
		images = append(images, c.extractImagesFromPodSpec(deployment.Spec.Template.Spec, deployment.Namespace, deployment.Name, "Deployment")...)
	}

	statefulSets, err := c.clientset.AppsV1().StatefulSets("").List(ctx, metav1.ListOptions{})
	if err != nil {
		logger.WithError(err).Error("Failed to discover images from statefulsets")
		return nil, fmt.Errorf("failed to list statefulsets: %w", err)
	}
	for _, statefulSet := range statefulSets.Items {
		images = append(images, c.extractImagesFromPodSpec(statefulSet.Spec.Template.Spec, statefulSet.Namespace, statefulSet.Name, "StatefulSet")...)
	}

	daemonSets, err := c.clientset.AppsV1().DaemonSets("").List(ctx, metav1.ListOptions{})
	if err != nil {
		logger.WithError(err).Error("Failed to discover images from daemonsets")
		return nil, fmt.Errorf("failed to list daemonsets: %w", err)
	}
	for _, daemonSet := range daemonSets.Items {
		images = append(images, c.extractImagesFromPodSpec(daemonSet.Spec.Template.Spec, daemonSet.Namespace, daemonSet.Name, "DaemonSet")...)
	}

	logger.WithFields(logrus.Fields{
		"deployments":  len(deployments.Items),
		"statefulsets": len(statefulSets.Items),
		"daemonsets":   len(daemonSets.Items),
		"image_count":  len(images),
	}).Info("Image discovery completed")
	return images, nil
}

func (c *ClusterProvider) extractImagesFromPodSpec(podSpec corev1.PodSpec, namespace, workload, workloadType string) []types.ImageInfo {
	var uris []string
	for _, container := range podSpec.Containers {
		uris = append(uris, container.Image)
	}
	for _, container := range podSpec.InitContainers {
		uris = append(uris, container.Image)
	}
	for _, container := range podSpec.EphemeralContainers {
		uris = append(uris, container.Image)
	}

	var images []types.ImageInfo
	for _, uri := range uris {
		if !c.IsRegistryImage(uri) {
			continue
		}
		images = append(images, types.ImageInfo{
			URI:          uri,
			Namespace:    namespace,
			Workload:     workload,
			WorkloadType: workloadType,
		})
	}
	return images
}
