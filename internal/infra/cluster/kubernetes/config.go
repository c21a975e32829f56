package kubernetes

import (
	"fmt"
	"time"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// K8sConfig configures the lease used for leader election.
type K8sConfig struct {
	Namespace    string `mapstructure:"namespace"`
	LeaderLockID string `mapstructure:"leader_lock_id"`
	// Identity distinguishes this replica; usually the pod name.
	Identity string `mapstructure:"identity"`
	// KubeConfig is used outside a cluster; empty means ~/.kube/config.
	KubeConfig string `mapstructure:"kubeconfig"`

	LeaseDuration time.Duration `mapstructure:"lease_duration"`
	RenewDeadline time.Duration `mapstructure:"renew_deadline"`
	RetryPeriod   time.Duration `mapstructure:"retry_period"`
}

func (c *K8sConfig) withDefaults() K8sConfig {
	out := *c
	if out.LeaseDuration <= 0 {
		out.LeaseDuration = 15 * time.Second
	}
	if out.RenewDeadline <= 0 {
		out.RenewDeadline = 10 * time.Second
	}
	if out.RetryPeriod <= 0 {
		out.RetryPeriod = 2 * time.Second
	}
	return out
}

func getKubernetesClient(kubeconfig string) (kubernetes.Interface, error) {
	// First try in-cluster config (when running in k8s).
	config, err := rest.InClusterConfig()
	if err == nil {
		return kubernetes.NewForConfig(config)
	}

	// Fall back to kubeconfig file.
	if kubeconfig == "" {
		kubeconfig = clientcmd.RecommendedHomeFile
	}
	config, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("failed to get kubeconfig: %w", err)
	}

	return kubernetes.NewForConfig(config)
}
