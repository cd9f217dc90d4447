package artifact

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/loiht2/payload-forge/forgeerrors"
)

type fakeSecretReader struct {
	data map[string][]byte
	err  error
}

func (f fakeSecretReader) GetSecretData(context.Context, string, string) (map[string][]byte, error) {
	return f.data, f.err
}

func secretCredentials(reader SecretReader) SecretCredentials {
	return SecretCredentials{
		Reader:      reader,
		Namespace:   "forge",
		Name:        "artifact-credentials",
		UsernameKey: "username",
		PasswordKey: "password",
	}
}

func TestStaticCredentials(t *testing.T) {
	creds, err := StaticCredentials{Username: "u", Password: "p"}.Credentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Credentials{Username: "u", Password: "p"}, creds)

	for name, static := range map[string]StaticCredentials{
		"no username": {Password: "p"},
		"no password": {Username: "u"},
		"blank":       {Username: " ", Password: " "},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := static.Credentials(context.Background())
			var configErr *forgeerrors.ConfigurationError
			assert.ErrorAs(t, err, &configErr)
		})
	}
}

func TestSecretCredentials(t *testing.T) {
	creds, err := secretCredentials(fakeSecretReader{data: map[string][]byte{
		"username": []byte("u"),
		"password": []byte("p"),
	}}).Credentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Credentials{Username: "u", Password: "p"}, creds)
}

func TestSecretCredentials_Missing(t *testing.T) {
	tests := map[string]fakeSecretReader{
		"secret not found": {err: apierrors.NewNotFound(schema.GroupResource{Resource: "secrets"}, "artifact-credentials")},
		"key missing":      {data: map[string][]byte{"username": []byte("u")}},
	}
	for name, reader := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := secretCredentials(reader).Credentials(context.Background())
			var configErr *forgeerrors.ConfigurationError
			assert.ErrorAs(t, err, &configErr)
		})
	}
}

func TestSecretCredentials_ReadFailure(t *testing.T) {
	cause := errors.New("apiserver unavailable")
	_, err := secretCredentials(fakeSecretReader{err: cause}).Credentials(context.Background())
	assert.ErrorIs(t, err, cause)
	var configErr *forgeerrors.ConfigurationError
	assert.False(t, errors.As(err, &configErr))
}
