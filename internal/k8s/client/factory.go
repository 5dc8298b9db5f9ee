// Package client builds the Kubernetes clients used by the operator.
package client

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"

	"github.com/vsanmetrics/vsan-exporter/internal/version"
)

// ClientMode represents the mode for creating Kubernetes clients
type ClientMode string

const (
	// InClusterMode uses the pod's ServiceAccount
	InClusterMode ClientMode = "incluster"
	// KubeconfigMode uses a kubeconfig file
	KubeconfigMode ClientMode = "kubeconfig"
)

// ServiceAccountNamespaceFile holds the namespace of an in-cluster pod.
var ServiceAccountNamespaceFile = "/var/run/secrets/kubernetes.io/serviceaccount/namespace"

// Factory holds the typed and dynamic clients. Services and Endpoints go
// through the typed client; ServiceMonitors have no typed client here and go
// through the dynamic one.
type Factory struct {
	logger        *zap.Logger
	config        *rest.Config
	client        kubernetes.Interface
	dynamicClient dynamic.Interface
}

// NewFactory creates a new client factory
func NewFactory(logger *zap.Logger, mode ClientMode, kubeconfigPath string) (*Factory, error) {
	var config *rest.Config
	var err error

	switch mode {
	case InClusterMode:
		logger.Info("Creating in-cluster Kubernetes client")
		config, err = rest.InClusterConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to create in-cluster config: %w", err)
		}
	case KubeconfigMode:
		logger.Info("Creating kubeconfig-based Kubernetes client", zap.String("kubeconfig", kubeconfigPath))
		config, err = buildKubeconfigFromPath(kubeconfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create kubeconfig-based config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported client mode: %s", mode)
	}
	config.UserAgent = version.UserAgent("operator")

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kubernetes clientset: %w", err)
	}

	dynamicClient, err := dynamic.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create dynamic client: %w", err)
	}

	logger.Info("Kubernetes clients created", zap.String("host", config.Host))

	return &Factory{
		logger:        logger,
		config:        config,
		client:        clientset,
		dynamicClient: dynamicClient,
	}, nil
}

// Client returns the Kubernetes clientset
func (f *Factory) Client() kubernetes.Interface {
	return f.client
}

// Config returns the REST config
func (f *Factory) Config() *rest.Config {
	return f.config
}

// DynamicClient returns the dynamic client
func (f *Factory) DynamicClient() dynamic.Interface {
	return f.dynamicClient
}

func buildKubeconfigFromPath(kubeconfigPath string) (*rest.Config, error) {
	if kubeconfigPath == "" {
		if kubeconfig := os.Getenv("KUBECONFIG"); kubeconfig != "" {
			kubeconfigPath = kubeconfig
		} else if home := homedir.HomeDir(); home != "" {
			kubeconfigPath = filepath.Join(home, ".kube", "config")
		} else {
			return nil, fmt.Errorf("no kubeconfig path provided and unable to determine default location")
		}
	}

	if _, err := os.Stat(kubeconfigPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("kubeconfig file does not exist: %s", kubeconfigPath)
	}

	config, err := clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to build config from kubeconfig %s: %w", kubeconfigPath, err)
	}

	return config, nil
}

// Namespace returns configured when set, otherwise the namespace of the
// ServiceAccount the pod runs under.
func Namespace(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	data, err := os.ReadFile(ServiceAccountNamespaceFile)
	if err != nil {
		return "", fmt.Errorf("no namespace configured and cannot read %s: %w", ServiceAccountNamespaceFile, err)
	}
	ns := strings.TrimSpace(string(data))
	if ns == "" {
		return "", fmt.Errorf("service account namespace file %s is empty", ServiceAccountNamespaceFile)
	}
	return ns, nil
}

// ValidateConnection tests the connection to the Kubernetes API server
func (f *Factory) ValidateConnection() error {
	version, err := f.client.Discovery().ServerVersion()
	if err != nil {
		return fmt.Errorf("failed to connect to Kubernetes API: %w", err)
	}

	f.logger.Info("Kubernetes connection validated",
		zap.String("gitVersion", version.GitVersion),
		zap.String("platform", version.Platform),
	)
	return nil
}
