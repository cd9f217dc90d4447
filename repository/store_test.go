package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	"github.com/go-redis/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/loiht2/payload-forge/models"
	"github.com/loiht2/payload-forge/schema"
)

func legacyValues() models.PayloadFormValues {
	v := schema.DefaultValues()
	v.JobName = "legacy-job"
	v.StopJobAfterMinutes = 30
	return v
}

func TestSQLiteStore_LegacyRecordMergesDefaults(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "templates.db"))
	require.NoError(t, err)
	defer store.Close()

	_, err = store.db.ExecContext(ctx,
		"INSERT INTO templates (id, name, description, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
		"old", "Old", "", `{"job_name":"legacy-job","stop_job_after_minutes":30}`,
		formatTime(baseTime), formatTime(baseTime))
	require.NoError(t, err)

	template, err := NewRepository(store).Get(ctx, "old")
	require.NoError(t, err)
	require.NotNil(t, template)
	assert.Equal(t, legacyValues(), template.Data)
	assert.True(t, template.CreatedAt.Equal(baseTime))
}

func TestSQLiteStore_ListToleratesMistypedAndUnreadableRecords(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "templates.db"))
	require.NoError(t, err)
	defer store.Close()
	repo := NewRepository(store)

	good, err := repo.Save(ctx, schema.DefaultValues(), "Good", "", "")
	require.NoError(t, err)
	for id, data := range map[string]string{
		"legacy":  `{"job_name":"x","stop_job_after_minutes":"45","gpu_enabled_config":"maybe"}`,
		"garbage": `"not an object"`,
	} {
		_, err = store.db.ExecContext(ctx,
			"INSERT INTO templates (id, name, description, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
			id, id, "", data, formatTime(baseTime), formatTime(baseTime))
		require.NoError(t, err)
	}

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, good.ID, all[0].ID)
	assert.Equal(t, "legacy", all[1].ID)
	assert.Equal(t, "x", all[1].Data.JobName)
	assert.Equal(t, 45, all[1].Data.StopJobAfterMinutes)
	assert.False(t, all[1].Data.GPUEnabledConfig)

	_, err = repo.Get(ctx, "garbage")
	assert.Error(t, err)
}

func TestSQLiteStore_UpdateMissingDoesNotCreate(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "templates.db"))
	require.NoError(t, err)
	defer store.Close()

	updated, err := store.Update(ctx, models.StoredTemplate{ID: "missing", Name: "x", UpdatedAt: baseTime})
	require.NoError(t, err)
	assert.Nil(t, updated)

	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestRedisStore_LegacyRecordMergesDefaults(t *testing.T) {
	db, err := miniredis.Run()
	require.NoError(t, err)
	defer db.Close()
	client := redis.NewClient(&redis.Options{Addr: db.Addr()})
	defer client.Close()

	raw := `{"id":"old","name":"Old","data":{"job_name":"legacy-job","stop_job_after_minutes":30},` +
		`"createdAt":"2024-03-01T12:00:00Z","updatedAt":"2024-03-01T12:00:00Z"}`
	require.NoError(t, client.HSet(templateHashKey, "old", raw).Err())

	template, err := NewRepository(NewRedisStore(client)).Get(context.Background(), "old")
	require.NoError(t, err)
	require.NotNil(t, template)
	assert.Equal(t, legacyValues(), template.Data)
	assert.True(t, template.UpdatedAt.Equal(baseTime))
}

func TestRedisStore_ListToleratesMistypedAndUnreadableRecords(t *testing.T) {
	db, err := miniredis.Run()
	require.NoError(t, err)
	defer db.Close()
	client := redis.NewClient(&redis.Options{Addr: db.Addr()})
	defer client.Close()

	records := map[string]string{
		"legacy": `{"id":"legacy","name":"Legacy","data":{"stop_job_after_minutes":"45"},` +
			`"createdAt":"2024-03-01T12:00:00Z","updatedAt":"2024-03-01T12:00:00Z"}`,
		"garbage": `{"id":"garbage","name":"Garbage","data":[1,2],` +
			`"createdAt":"2024-03-01T12:00:00Z","updatedAt":"2024-03-01T12:00:00Z"}`,
	}
	for id, raw := range records {
		require.NoError(t, client.HSet(templateHashKey, id, raw).Err())
	}

	all, err := NewRepository(NewRedisStore(client)).List(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "legacy", all[0].ID)
	assert.Equal(t, 45, all[0].Data.StopJobAfterMinutes)
}

func TestRedisStore_UpdateMissingDoesNotCreate(t *testing.T) {
	db, err := miniredis.Run()
	require.NoError(t, err)
	defer db.Close()
	client := redis.NewClient(&redis.Options{Addr: db.Addr()})
	defer client.Close()
	store := NewRedisStore(client)

	updated, err := store.Update(context.Background(), models.StoredTemplate{ID: "missing", Name: "x", UpdatedAt: baseTime})
	require.NoError(t, err)
	assert.Nil(t, updated)

	exists, err := client.HExists(templateHashKey, "missing").Result()
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRedisStore_PingFailsWhenServerDown(t *testing.T) {
	db, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: db.Addr(), MaxRetries: 0, DialTimeout: 100 * time.Millisecond})
	defer client.Close()
	db.Close()

	assert.Error(t, NewRedisStore(client).Ping(context.Background()))
}

func TestPostgresRecordConversion(t *testing.T) {
	template := models.StoredTemplate{
		ID:          "abc",
		Name:        "T",
		Description: "D",
		Data:        schema.DefaultValues(),
		CreatedAt:   baseTime,
		UpdatedAt:   baseTime.Add(time.Hour),
	}

	record, err := toRecord(template)
	require.NoError(t, err)
	assert.Equal(t, "payload_templates", record.TableName())

	back, err := fromRecord(record)
	require.NoError(t, err)
	assert.Equal(t, template.ID, back.ID)
	assert.Equal(t, template.Data, back.Data)
	assert.True(t, back.UpdatedAt.Equal(template.UpdatedAt))

	legacy := &TemplateRecord{ID: "old", Data: datatypes.JSON(`{"job_name":"legacy-job","stop_job_after_minutes":30}`)}
	decoded, err := fromRecord(legacy)
	require.NoError(t, err)
	assert.Equal(t, legacyValues(), decoded.Data)

	mistyped := &TemplateRecord{ID: "mistyped", Data: datatypes.JSON(`{"job_name":"legacy-job","stop_job_after_minutes":"30"}`)}
	decoded, err = fromRecord(mistyped)
	require.NoError(t, err)
	assert.Equal(t, legacyValues(), decoded.Data)

	_, err = fromRecord(&TemplateRecord{ID: "garbage", Data: datatypes.JSON(`[]`)})
	assert.True(t, skipUnreadable("postgres", err))
}
