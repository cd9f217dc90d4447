package artifact

import (
	"context"
	"strings"

	apierrors "k8s.io/apimachinery/pkg/api/errors"

	"github.com/loiht2/payload-forge/forgeerrors"
)

const integrationName = "artifact-search"

// Credentials authenticate the token request
type Credentials struct {
	Username string
	Password string
}

// CredentialsProvider supplies credentials at search time, so rotated secrets are picked up
type CredentialsProvider interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// StaticCredentials are fixed credentials, typically read from the environment
type StaticCredentials Credentials

func (c StaticCredentials) Credentials(_ context.Context) (Credentials, error) {
	if strings.TrimSpace(c.Username) == "" || strings.TrimSpace(c.Password) == "" {
		return Credentials{}, &forgeerrors.ConfigurationError{
			Integration: integrationName,
			Message:     "set ARTYLAB_USERNAME and ARTYLAB_PASSWORD (or configure a credentials secret)",
		}
	}
	return Credentials(c), nil
}

// SecretReader reads the data of a Kubernetes secret
type SecretReader interface {
	GetSecretData(ctx context.Context, namespace, name string) (map[string][]byte, error)
}

// SecretCredentials reads credentials from a Kubernetes secret on every call
type SecretCredentials struct {
	Reader      SecretReader
	Namespace   string
	Name        string
	UsernameKey string
	PasswordKey string
}

func (c SecretCredentials) Credentials(ctx context.Context) (Credentials, error) {
	data, err := c.Reader.GetSecretData(ctx, c.Namespace, c.Name)
	if apierrors.IsNotFound(err) {
		return Credentials{}, &forgeerrors.ConfigurationError{
			Integration: integrationName,
			Message:     "credentials secret " + c.Namespace + "/" + c.Name + " does not exist",
		}
	}
	if err != nil {
		return Credentials{}, err
	}
	creds := StaticCredentials{
		Username: string(data[c.UsernameKey]),
		Password: string(data[c.PasswordKey]),
	}
	if creds.Username == "" || creds.Password == "" {
		return Credentials{}, &forgeerrors.ConfigurationError{
			Integration: integrationName,
			Message:     "credentials secret " + c.Namespace + "/" + c.Name + " is missing " + c.UsernameKey + " or " + c.PasswordKey,
		}
	}
	return Credentials(creds), nil
}
