package storage

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clock "k8s.io/utils/clock/testing"

	"github.com/loiht2/payload-forge/forgeerrors"
)

var now = time.Date(2024, 5, 1, 9, 30, 15, 0, time.UTC)

type fakeObjectAPI struct {
	buckets   map[string]bool
	objects   map[string][]byte
	putErr    error
	listErr   error
	listed    []minio.ObjectInfo
	putOpts   minio.PutObjectOptions
	listOpts  minio.ListObjectsOptions
	madeCount int
}

func newFakeObjectAPI() *fakeObjectAPI {
	return &fakeObjectAPI{buckets: map[string]bool{}, objects: map[string][]byte{}}
}

func (f *fakeObjectAPI) BucketExists(_ context.Context, bucket string) (bool, error) {
	return f.buckets[bucket], nil
}

func (f *fakeObjectAPI) MakeBucket(_ context.Context, bucket string, _ minio.MakeBucketOptions) error {
	f.madeCount++
	f.buckets[bucket] = true
	return nil
}

func (f *fakeObjectAPI) PutObject(_ context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.putErr != nil {
		return minio.UploadInfo{}, f.putErr
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.objects[bucket+"/"+object] = body
	f.putOpts = opts
	return minio.UploadInfo{Bucket: bucket, Key: object, Size: size, ETag: "etag-1"}, nil
}

func (f *fakeObjectAPI) ListObjects(_ context.Context, _ string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	f.listOpts = opts
	ch := make(chan minio.ObjectInfo, len(f.listed)+1)
	for _, object := range f.listed {
		ch <- object
	}
	if f.listErr != nil {
		ch <- minio.ObjectInfo{Err: f.listErr}
	}
	close(ch)
	return ch
}

func newTestClient(api *fakeObjectAPI, prefix string) *MinIOClient {
	return newMinIOClient(api, MinIOConfig{Bucket: "payloads", Prefix: prefix}, clock.NewFakeClock(now))
}

func TestPutPayload(t *testing.T) {
	api := newFakeObjectAPI()
	client := newTestClient(api, "/exports/")

	info, err := client.PutPayload(context.Background(), "nightly_etl.json", []byte(`{"job_name":"nightly etl"}`))
	require.NoError(t, err)

	assert.Equal(t, 1, api.madeCount)
	assert.Equal(t, "payloads", info.Bucket)
	assert.Equal(t, "exports/20240501T093015Z-nightly_etl.json", info.Object)
	assert.Equal(t, int64(26), info.Size)
	assert.Equal(t, "etag-1", info.ETag)
	assert.True(t, info.LastModified.Equal(now))
	assert.Equal(t, "application/json", api.putOpts.ContentType)
	assert.Equal(t, `{"job_name":"nightly etl"}`, string(api.objects["payloads/"+info.Object]))

	_, err = client.PutPayload(context.Background(), "again.json", []byte("{}"))
	require.NoError(t, err)
	assert.Equal(t, 1, api.madeCount)
}

func TestPutPayload_Failure(t *testing.T) {
	api := newFakeObjectAPI()
	api.putErr = errors.New("connection reset")
	client := newTestClient(api, "")

	_, err := client.PutPayload(context.Background(), "payload.json", []byte("{}"))
	var storageErr *forgeerrors.StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, "put-object", storageErr.Op)
	assert.Equal(t, "minio", storageErr.Backend)
}

func TestObjectName(t *testing.T) {
	client := newTestClient(newFakeObjectAPI(), "")
	assert.Equal(t, "20240501T093015Z-payload.json", client.ObjectName("payload.json"))
	assert.Equal(t, "20240501T093015Z-b.json", client.ObjectName("a/b.json"))
}

func TestListExports(t *testing.T) {
	api := newFakeObjectAPI()
	api.listed = []minio.ObjectInfo{
		{Key: "exports/old.json", Size: 10, LastModified: now.Add(-time.Hour)},
		{Key: "exports/new.json", Size: 20, ETag: "e", LastModified: now},
	}
	client := newTestClient(api, "exports")

	exports, err := client.ListExports(context.Background())
	require.NoError(t, err)
	require.Len(t, exports, 2)
	assert.Equal(t, "exports/new.json", exports[0].Object)
	assert.Equal(t, "exports/old.json", exports[1].Object)
	assert.Equal(t, "payloads", exports[0].Bucket)
	assert.Equal(t, "exports/", api.listOpts.Prefix)
	assert.True(t, api.listOpts.Recursive)
}

func TestListExports_Empty(t *testing.T) {
	exports, err := newTestClient(newFakeObjectAPI(), "").ListExports(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, exports)
	assert.Empty(t, exports)
}

func TestListExports_Error(t *testing.T) {
	api := newFakeObjectAPI()
	api.listErr = errors.New("access denied")

	_, err := newTestClient(api, "").ListExports(context.Background())
	var storageErr *forgeerrors.StorageError
	assert.ErrorAs(t, err, &storageErr)
}

type secretReader map[string][]byte

func (s secretReader) GetSecretData(context.Context, string, string) (map[string][]byte, error) {
	return s, nil
}

func TestNewMinIOClientFromSecret(t *testing.T) {
	client, err := NewMinIOClientFromSecret(context.Background(), secretReader{
		"endpoint":  []byte("minio.minio.svc.cluster.local:9000"),
		"accesskey": []byte("access"),
		"secretkey": []byte("secret"),
	}, "payload-forge", "minio-secret", MinIOConfig{Bucket: "payloads"})
	require.NoError(t, err)
	assert.Equal(t, "payloads", client.Bucket())

	_, err = NewMinIOClientFromSecret(context.Background(), secretReader{
		"endpoint": []byte("minio:9000"),
	}, "payload-forge", "minio-secret", MinIOConfig{Bucket: "payloads"})
	var configErr *forgeerrors.ConfigurationError
	require.ErrorAs(t, err, &configErr)
	assert.Contains(t, configErr.Message, "payload-forge/minio-secret")
}

func TestNewMinIOClient_RequiresBucket(t *testing.T) {
	_, err := NewMinIOClient(MinIOConfig{Endpoint: "minio:9000", AccessKey: "a", SecretKey: "s"})
	var configErr *forgeerrors.ConfigurationError
	assert.ErrorAs(t, err, &configErr)
}
