package k8s

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// Client reads integration secrets from Kubernetes
type Client struct {
	clientset kubernetes.Interface
}

// NewClient wraps an existing clientset
func NewClient(clientset kubernetes.Interface) *Client {
	return &Client{clientset: clientset}
}

// NewClientFromKubeconfig builds a client from a kubeconfig file, or from the
// in-cluster service account when kubeconfig is empty
func NewClientFromKubeconfig(kubeconfig string) (*Client, error) {
	var restConfig *rest.Config
	var err error
	if kubeconfig == "" {
		restConfig, err = rest.InClusterConfig()
	} else {
		restConfig, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to build kubernetes config")
	}

	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create kubernetes clientset")
	}
	log.WithField("host", restConfig.Host).Info("Kubernetes client initialized")
	return NewClient(clientset), nil
}

// GetSecretData returns the decoded data of a secret.
// A missing secret yields an error satisfying apierrors.IsNotFound.
func (c *Client) GetSecretData(ctx context.Context, namespace, name string) (map[string][]byte, error) {
	secret, err := c.clientset.CoreV1().Secrets(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get secret %s/%s", namespace, name)
	}
	data := make(map[string][]byte, len(secret.Data)+len(secret.StringData))
	for key, value := range secret.Data {
		data[key] = value
	}
	// StringData is only populated on objects that never went through the API server, as in tests
	for key, value := range secret.StringData {
		if _, ok := data[key]; !ok {
			data[key] = []byte(value)
		}
	}
	return data, nil
}
