package controller

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clock "k8s.io/utils/clock/testing"

	"github.com/loiht2/payload-forge/repository"
	"github.com/loiht2/payload-forge/schema"
)

func newSessions(t *testing.T) (*Sessions, *repository.Repository, *clock.FakeClock) {
	fakeClock := clock.NewFakeClock(startTime)
	repo := repository.NewRepository(repository.NewMemoryStore(), repository.WithClock(fakeClock))
	sessions := NewSessions(repo, Options{AutoSaveDelay: autoSaveDelay, Clock: fakeClock})
	t.Cleanup(sessions.CloseAll)
	return sessions, repo, fakeClock
}

func TestSessions_OpenGetClose(t *testing.T) {
	sessions, repo, _ := newSessions(t)
	stored, err := repo.Save(context.Background(), schema.DefaultValues(), "Nightly", "", "")
	require.NoError(t, err)

	c, err := sessions.Open(context.Background(), stored.ID, ModeUse)
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID())
	assert.Equal(t, ModeUse, c.Mode())
	assert.Equal(t, 1, sessions.Len())

	got, ok := sessions.Get(c.ID())
	require.True(t, ok)
	assert.Same(t, c, got)

	assert.True(t, sessions.Close(c.ID()))
	assert.False(t, sessions.Close(c.ID()))
	_, ok = sessions.Get(c.ID())
	assert.False(t, ok)
	assert.Equal(t, 0, sessions.Len())
}

func TestSessions_OpenInvalidMode(t *testing.T) {
	sessions, _, _ := newSessions(t)

	_, err := sessions.Open(context.Background(), "", "publish")
	assert.Error(t, err)
	assert.Equal(t, 0, sessions.Len())
}

func TestSessions_CloseIdle(t *testing.T) {
	sessions, repo, fakeClock := newSessions(t)
	stored, err := repo.Save(context.Background(), schema.DefaultValues(), "Nightly", "", "")
	require.NoError(t, err)

	idle, err := sessions.Open(context.Background(), stored.ID, ModeEdit)
	require.NoError(t, err)
	idle.SetMetadata("Renamed before idling", "")

	fakeClock.Step(20 * time.Minute)
	active, err := sessions.Open(context.Background(), "", ModeCreate)
	require.NoError(t, err)

	fakeClock.Step(15 * time.Minute)
	assert.Equal(t, 1, sessions.CloseIdle(30*time.Minute))

	_, ok := sessions.Get(idle.ID())
	assert.False(t, ok)
	_, ok = sessions.Get(active.ID())
	assert.True(t, ok)

	// the pending rename was flushed when the idle session closed
	saved, err := repo.Get(context.Background(), stored.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed before idling", saved.Name)
}
