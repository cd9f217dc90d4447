package storage

import (
	"bytes"
	"context"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/loiht2/payload-forge/forgeerrors"
	"github.com/loiht2/payload-forge/metrics"
	"github.com/loiht2/payload-forge/models"
)

const (
	backendName     = "minio"
	jsonContentType = "application/json"
	objectTimestamp = "20060102T150405Z"
)

// objectAPI is the subset of *minio.Client used for exports
type objectAPI interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
}

// SecretReader reads the data of a Kubernetes secret
type SecretReader interface {
	GetSecretData(ctx context.Context, namespace, name string) (map[string][]byte, error)
}

// MinIOConfig holds MinIO connection and placement settings
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	// Prefix is prepended to every object name, e.g. "exports/"
	Prefix string
}

// MinIOClient publishes exported payload files to a bucket
type MinIOClient struct {
	client objectAPI
	bucket string
	prefix string
	clock  clock.PassiveClock
}

// NewMinIOClient creates a MinIO client with explicit configuration
func NewMinIOClient(config MinIOConfig) (*MinIOClient, error) {
	if config.Endpoint == "" || config.AccessKey == "" || config.SecretKey == "" {
		return nil, &forgeerrors.ConfigurationError{Integration: backendName, Message: "endpoint, access key and secret key are required"}
	}
	if config.Bucket == "" {
		return nil, &forgeerrors.ConfigurationError{Integration: backendName, Message: "bucket is required"}
	}
	minioClient, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.UseSSL,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize MinIO client")
	}
	log.WithFields(log.Fields{"endpoint": config.Endpoint, "bucket": config.Bucket}).Info("MinIO export sink initialized")
	return newMinIOClient(minioClient, config, clock.RealClock{}), nil
}

// NewMinIOClientFromSecret fills the endpoint and keys of config from a Kubernetes secret
// holding "endpoint", "accesskey" and "secretkey"
func NewMinIOClientFromSecret(ctx context.Context, reader SecretReader, namespace, name string, config MinIOConfig) (*MinIOClient, error) {
	data, err := reader.GetSecretData(ctx, namespace, name)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read MinIO secret %s/%s", namespace, name)
	}
	config.Endpoint = string(data["endpoint"])
	config.AccessKey = string(data["accesskey"])
	config.SecretKey = string(data["secretkey"])
	if config.Endpoint == "" || config.AccessKey == "" || config.SecretKey == "" {
		return nil, &forgeerrors.ConfigurationError{
			Integration: backendName,
			Message:     "secret " + namespace + "/" + name + " is missing required fields (endpoint, accesskey, secretkey)",
		}
	}
	return NewMinIOClient(config)
}

func newMinIOClient(api objectAPI, config MinIOConfig, c clock.PassiveClock) *MinIOClient {
	prefix := strings.Trim(config.Prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &MinIOClient{client: api, bucket: config.Bucket, prefix: prefix, clock: c}
}

// Bucket returns the bucket exports are written to
func (m *MinIOClient) Bucket() string {
	return m.bucket
}

// EnsureBucket creates the export bucket if it doesn't exist
func (m *MinIOClient) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return &forgeerrors.StorageError{Op: "bucket-exists", Backend: backendName, Err: err}
	}
	if exists {
		return nil
	}
	log.WithField("bucket", m.bucket).Info("Creating MinIO bucket")
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
		return &forgeerrors.StorageError{Op: "make-bucket", Backend: backendName, Err: err}
	}
	return nil
}

// PutPayload uploads an exported payload file. Object names are prefixed with the upload
// time so repeated exports of the same job never overwrite each other.
func (m *MinIOClient) PutPayload(ctx context.Context, fileName string, body []byte) (models.ExportInfo, error) {
	if err := m.EnsureBucket(ctx); err != nil {
		return models.ExportInfo{}, err
	}

	object := m.ObjectName(fileName)
	uploadInfo, err := m.client.PutObject(ctx, m.bucket, object, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: jsonContentType,
	})
	if err != nil {
		log.WithFields(log.Fields{"bucket": m.bucket, "object": object}).WithError(err).Error("Failed to upload payload")
		return models.ExportInfo{}, &forgeerrors.StorageError{Op: "put-object", Backend: backendName, Err: err}
	}

	metrics.RecordExport(backendName)
	log.WithFields(log.Fields{"bucket": m.bucket, "object": object, "size": uploadInfo.Size}).Info("Payload published")
	lastModified := uploadInfo.LastModified
	if lastModified.IsZero() {
		lastModified = m.clock.Now().UTC()
	}
	return models.ExportInfo{
		Bucket:       m.bucket,
		Object:       object,
		Size:         uploadInfo.Size,
		ETag:         uploadInfo.ETag,
		LastModified: lastModified,
	}, nil
}

// ObjectName returns the object name PutPayload would use for fileName now
func (m *MinIOClient) ObjectName(fileName string) string {
	return m.prefix + m.clock.Now().UTC().Format(objectTimestamp) + "-" + path.Base(fileName)
}

// ListExports lists published payload files, newest first
func (m *MinIOClient) ListExports(ctx context.Context) ([]models.ExportInfo, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	exports := []models.ExportInfo{}
	for object := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: m.prefix, Recursive: true}) {
		if object.Err != nil {
			return nil, &forgeerrors.StorageError{Op: "list-objects", Backend: backendName, Err: object.Err}
		}
		exports = append(exports, models.ExportInfo{
			Bucket:       m.bucket,
			Object:       object.Key,
			Size:         object.Size,
			ETag:         object.ETag,
			LastModified: object.LastModified,
		})
	}
	sort.SliceStable(exports, func(i, j int) bool {
		if exports[i].LastModified.Equal(exports[j].LastModified) {
			return exports[i].Object > exports[j].Object
		}
		return exports[i].LastModified.After(exports[j].LastModified)
	})
	return exports, nil
}
