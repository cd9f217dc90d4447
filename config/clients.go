package config

import (
	"context"

	"github.com/avast/retry-go"
	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/loiht2/payload-forge/artifact"
	"github.com/loiht2/payload-forge/repository"
	"github.com/loiht2/payload-forge/storage"
)

// SecretReader reads the data of a Kubernetes secret
type SecretReader interface {
	GetSecretData(ctx context.Context, namespace, name string) (map[string][]byte, error)
}

// OpenStore connects to the configured template store, retrying while the backend is
// unreachable. The returned function releases the store's connections.
func OpenStore(ctx context.Context, config StoreConfig) (repository.Store, func() error, error) {
	var store repository.Store
	closer := func() error { return nil }

	err := retry.Do(
		func() error {
			var err error
			store, closer, err = openStore(ctx, config)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(config.ConnectAttempts),
		retry.Delay(config.ConnectDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.WithError(err).WithFields(log.Fields{"store": config.Type, "attempt": n + 1}).Warn("Template store not ready; retrying")
		}),
	)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to open %s template store", config.Type)
	}
	log.WithField("store", store.Name()).Info("Template store ready")
	return store, closer, nil
}

func openStore(ctx context.Context, config StoreConfig) (repository.Store, func() error, error) {
	switch config.Type {
	case "memory":
		return repository.NewMemoryStore(), func() error { return nil }, nil
	case "sqlite":
		store, err := repository.NewSQLiteStore(ctx, config.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case "postgres":
		store, err := repository.OpenPostgres(config.PostgresDSN, repository.PostgresOptions{
			MaxIdleConns:    config.PostgresMaxIdleConns,
			MaxOpenConns:    config.PostgresMaxOpenConns,
			ConnMaxLifetime: config.PostgresConnMaxLifetime,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case "redis":
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:      config.RedisAddrs,
			Password:   config.RedisPassword,
			DB:         config.RedisDB,
			MasterName: config.RedisMasterName,
		})
		store := repository.NewRedisStore(client)
		if err := store.Ping(ctx); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return store, client.Close, nil
	default:
		return nil, nil, retry.Unrecoverable(errors.Errorf("unknown store type %q", config.Type))
	}
}

// ArtifactSearcher builds the artifact search client, or returns nil when search is disabled.
// Credentials come from the configured secret when one is named, otherwise from the environment.
func ArtifactSearcher(config ArtifactConfig, secrets SecretReader) (artifact.Searcher, error) {
	if !config.Enabled {
		return nil, nil
	}

	var credentials artifact.CredentialsProvider = artifact.StaticCredentials{
		Username: config.Username,
		Password: config.Password,
	}
	if config.CredentialsSecret.Name != "" {
		if secrets == nil {
			return nil, errors.New("artifact credentials secret configured without a Kubernetes client")
		}
		credentials = artifact.SecretCredentials{
			Reader:      secrets,
			Namespace:   config.CredentialsSecret.Namespace,
			Name:        config.CredentialsSecret.Name,
			UsernameKey: config.UsernameKey,
			PasswordKey: config.PasswordKey,
		}
	} else if config.Username == "" || config.Password == "" {
		log.Warn("ARTYLAB_USERNAME or ARTYLAB_PASSWORD not set; artifact searches will fail until they are")
	}
	return artifact.NewClient(config.ClientConfig(), credentials, nil), nil
}

// ExportSink builds the MinIO export sink, or returns nil when publishing is disabled
func ExportSink(ctx context.Context, config ExportConfig, secrets SecretReader) (*storage.MinIOClient, error) {
	if !config.Enabled {
		return nil, nil
	}
	minioConfig := storage.MinIOConfig{
		Endpoint:  config.Endpoint,
		AccessKey: config.AccessKey,
		SecretKey: config.SecretKey,
		UseSSL:    config.UseSSL,
		Bucket:    config.Bucket,
		Prefix:    config.Prefix,
	}
	if config.Secret.Name == "" {
		return storage.NewMinIOClient(minioConfig)
	}
	if secrets == nil {
		return nil, errors.New("export secret configured without a Kubernetes client")
	}
	return storage.NewMinIOClientFromSecret(ctx, secrets, config.Secret.Namespace, config.Secret.Name, minioConfig)
}
