package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clock "k8s.io/utils/clock/testing"

	"github.com/loiht2/payload-forge/forgeerrors"
	"github.com/loiht2/payload-forge/models"
	"github.com/loiht2/payload-forge/schema"
)

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type storeFactory func(t *testing.T) Store

func storeFactories() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
		"sqlite": func(t *testing.T) Store {
			store, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "db", "templates.db"))
			require.NoError(t, err)
			t.Cleanup(func() { store.Close() })
			return store
		},
		"redis": func(t *testing.T) Store {
			db, err := miniredis.Run()
			require.NoError(t, err)
			t.Cleanup(db.Close)
			client := redis.NewClient(&redis.Options{Addr: db.Addr()})
			t.Cleanup(func() { client.Close() })
			return NewRedisStore(client)
		},
	}
}

// withRepository runs action once for every store that can run in-process
func withRepository(t *testing.T, action func(t *testing.T, r *Repository, fakeClock *clock.FakeClock)) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			fakeClock := clock.NewFakeClock(baseTime)
			r := NewRepository(factory(t), WithClock(fakeClock))
			action(t, r, fakeClock)
		})
	}
}

func TestRepository_SaveThenGet(t *testing.T) {
	withRepository(t, func(t *testing.T, r *Repository, _ *clock.FakeClock) {
		ctx := context.Background()
		values := schema.DefaultValues()
		values.JobName = "round-trip"

		saved, err := r.Save(ctx, values, "T", "D", "")
		require.NoError(t, err)
		require.NotEmpty(t, saved.ID)
		assert.True(t, saved.CreatedAt.Equal(saved.UpdatedAt))
		assert.True(t, saved.CreatedAt.Equal(baseTime))

		loaded, err := r.Get(ctx, saved.ID)
		require.NoError(t, err)
		require.NotNil(t, loaded)
		assert.Equal(t, "T", loaded.Name)
		assert.Equal(t, "D", loaded.Description)
		assert.Equal(t, values, loaded.Data)
		assert.True(t, loaded.CreatedAt.Equal(baseTime))
		assert.True(t, loaded.UpdatedAt.Equal(baseTime))
	})
}

func TestRepository_UpdatePreservesIdentity(t *testing.T) {
	withRepository(t, func(t *testing.T, r *Repository, fakeClock *clock.FakeClock) {
		ctx := context.Background()
		original, err := r.Save(ctx, schema.DefaultValues(), "T", "D", "")
		require.NoError(t, err)

		fakeClock.Step(time.Minute)
		v2 := schema.DefaultValues()
		v2.JobName = "second"
		v2.SparkConf = []models.KeyValue{{Key: "spark.x", Value: "1"}}

		updated, err := r.Save(ctx, v2, "T2", "D2", original.ID)
		require.NoError(t, err)
		assert.Equal(t, original.ID, updated.ID)
		assert.True(t, updated.CreatedAt.Equal(baseTime))
		assert.True(t, updated.UpdatedAt.Equal(baseTime.Add(time.Minute)))

		loaded, err := r.Get(ctx, original.ID)
		require.NoError(t, err)
		require.NotNil(t, loaded)
		assert.Equal(t, "T2", loaded.Name)
		assert.Equal(t, "D2", loaded.Description)
		assert.Equal(t, v2, loaded.Data)
		assert.True(t, loaded.CreatedAt.Equal(baseTime))
		assert.True(t, loaded.UpdatedAt.After(loaded.CreatedAt))
	})
}

func TestRepository_SaveUnknownID(t *testing.T) {
	withRepository(t, func(t *testing.T, r *Repository, _ *clock.FakeClock) {
		ctx := context.Background()
		existing, err := r.Save(ctx, schema.DefaultValues(), "keep", "", "")
		require.NoError(t, err)

		_, err = r.Save(ctx, schema.DefaultValues(), "ghost", "", "does-not-exist")
		var notFound *forgeerrors.NotFoundError
		require.ErrorAs(t, err, &notFound)

		missing, err := r.Get(ctx, "does-not-exist")
		require.NoError(t, err)
		assert.Nil(t, missing)

		all, err := r.List(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, existing.ID, all[0].ID)
		assert.Equal(t, "keep", all[0].Name)
	})
}

func TestRepository_SaveRequiresName(t *testing.T) {
	withRepository(t, func(t *testing.T, r *Repository, _ *clock.FakeClock) {
		_, err := r.Save(context.Background(), schema.DefaultValues(), "   ", "", "")
		var invalid *forgeerrors.InvalidArgumentError
		assert.ErrorAs(t, err, &invalid)
	})
}

func TestRepository_SaveTrimsMetadata(t *testing.T) {
	withRepository(t, func(t *testing.T, r *Repository, _ *clock.FakeClock) {
		saved, err := r.Save(context.Background(), schema.DefaultValues(), "  Nightly  ", " desc ", "")
		require.NoError(t, err)
		assert.Equal(t, "Nightly", saved.Name)
		assert.Equal(t, "desc", saved.Description)
	})
}

func TestRepository_DeleteAbsent(t *testing.T) {
	withRepository(t, func(t *testing.T, r *Repository, _ *clock.FakeClock) {
		ctx := context.Background()
		existing, err := r.Save(ctx, schema.DefaultValues(), "keep", "", "")
		require.NoError(t, err)

		deleted, err := r.Delete(ctx, "nonexistent")
		require.NoError(t, err)
		assert.False(t, deleted)

		all, err := r.List(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, existing.ID, all[0].ID)
	})
}

func TestRepository_Delete(t *testing.T) {
	withRepository(t, func(t *testing.T, r *Repository, _ *clock.FakeClock) {
		ctx := context.Background()
		saved, err := r.Save(ctx, schema.DefaultValues(), "gone", "", "")
		require.NoError(t, err)

		deleted, err := r.Delete(ctx, saved.ID)
		require.NoError(t, err)
		assert.True(t, deleted)

		loaded, err := r.Get(ctx, saved.ID)
		require.NoError(t, err)
		assert.Nil(t, loaded)

		deleted, err = r.Delete(ctx, saved.ID)
		require.NoError(t, err)
		assert.False(t, deleted)
	})
}

func TestRepository_ListOrderedByUpdatedAtDesc(t *testing.T) {
	withRepository(t, func(t *testing.T, r *Repository, fakeClock *clock.FakeClock) {
		ctx := context.Background()

		empty, err := r.List(ctx)
		require.NoError(t, err)
		assert.NotNil(t, empty)
		assert.Empty(t, empty)

		first, err := r.Save(ctx, schema.DefaultValues(), "first", "", "")
		require.NoError(t, err)
		fakeClock.Step(time.Second)
		second, err := r.Save(ctx, schema.DefaultValues(), "second", "", "")
		require.NoError(t, err)
		fakeClock.Step(time.Second)
		third, err := r.Save(ctx, schema.DefaultValues(), "third", "", "")
		require.NoError(t, err)

		// touching the oldest moves it to the front
		fakeClock.Step(time.Second)
		_, err = r.Save(ctx, schema.DefaultValues(), "first again", "", first.ID)
		require.NoError(t, err)

		all, err := r.List(ctx)
		require.NoError(t, err)
		ids := make([]string, 0, len(all))
		for _, template := range all {
			ids = append(ids, template.ID)
		}
		assert.Equal(t, []string{first.ID, third.ID, second.ID}, ids)
	})
}

func TestRepository_SeedDefaultIfEmpty(t *testing.T) {
	withRepository(t, func(t *testing.T, r *Repository, _ *clock.FakeClock) {
		ctx := context.Background()

		seeded, err := r.SeedDefaultIfEmpty(ctx)
		require.NoError(t, err)
		require.NotNil(t, seeded)
		assert.Equal(t, "Default Spark Job", seeded.Name)
		assert.Equal(t, "A pre-configured Spark job template.", seeded.Description)
		assert.Equal(t, schema.DefaultValues(), seeded.Data)

		again, err := r.SeedDefaultIfEmpty(ctx)
		require.NoError(t, err)
		assert.Nil(t, again)

		all, err := r.List(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})
}

func TestRepository_SeedSkipsNonEmptyStore(t *testing.T) {
	withRepository(t, func(t *testing.T, r *Repository, _ *clock.FakeClock) {
		ctx := context.Background()
		_, err := r.Save(ctx, schema.DefaultValues(), "mine", "", "")
		require.NoError(t, err)

		seeded, err := r.SeedDefaultIfEmpty(ctx)
		require.NoError(t, err)
		assert.Nil(t, seeded)

		all, err := r.List(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, "mine", all[0].Name)
	})
}

func TestRepository_ReturnedValuesAreCopies(t *testing.T) {
	withRepository(t, func(t *testing.T, r *Repository, _ *clock.FakeClock) {
		ctx := context.Background()
		values := schema.DefaultValues()
		saved, err := r.Save(ctx, values, "T", "", "")
		require.NoError(t, err)

		values.SparkConf[0].Value = "mutated after save"
		loaded, err := r.Get(ctx, saved.ID)
		require.NoError(t, err)
		loaded.Data.SparkConf[0].Value = "mutated after get"

		reloaded, err := r.Get(ctx, saved.ID)
		require.NoError(t, err)
		assert.Equal(t, "my-spark-app", reloaded.Data.SparkConf[0].Value)
	})
}

func TestRepository_Ping(t *testing.T) {
	withRepository(t, func(t *testing.T, r *Repository, _ *clock.FakeClock) {
		assert.NoError(t, r.Ping(context.Background()))
	})
}

func TestRepository_GetEmptyID(t *testing.T) {
	withRepository(t, func(t *testing.T, r *Repository, _ *clock.FakeClock) {
		template, err := r.Get(context.Background(), "")
		assert.NoError(t, err)
		assert.Nil(t, template)
	})
}

func TestRepository_UsesIDGenerator(t *testing.T) {
	r := NewRepository(NewMemoryStore(), WithIDGenerator(func() string { return "fixed-id" }))
	saved, err := r.Save(context.Background(), schema.DefaultValues(), "T", "", "")
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", saved.ID)
}

type failingStore struct {
	*MemoryStore
	err error
}

func (s *failingStore) List(context.Context) ([]models.StoredTemplate, error) {
	return nil, s.err
}

func (s *failingStore) Insert(context.Context, models.StoredTemplate) error {
	return s.err
}

func (s *failingStore) Delete(context.Context, string) (bool, error) {
	return false, s.err
}

func TestRepository_WrapsStoreFailures(t *testing.T) {
	cause := errors.New("disk on fire")
	r := NewRepository(&failingStore{MemoryStore: NewMemoryStore(), err: cause})
	ctx := context.Background()

	tests := map[string]func() error{
		"list": func() error {
			_, err := r.List(ctx)
			return err
		},
		"insert": func() error {
			_, err := r.Save(ctx, schema.DefaultValues(), "T", "", "")
			return err
		},
		"delete": func() error {
			_, err := r.Delete(ctx, "abc")
			return err
		},
		"seed": func() error {
			_, err := r.SeedDefaultIfEmpty(ctx)
			return err
		},
	}
	for name, call := range tests {
		t.Run(name, func(t *testing.T) {
			err := call()
			var storageErr *forgeerrors.StorageError
			require.ErrorAs(t, err, &storageErr)
			assert.Equal(t, "memory", storageErr.Backend)
			assert.ErrorIs(t, err, cause)
		})
	}
}
