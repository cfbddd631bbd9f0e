package postgres

import (
	"context"
	"testing"
	"time"

	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/domain/feed"
	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/infra/storage"
)

func setupCheckpointTest(t *testing.T) (context.Context, *checkpointStore, func()) {
	t.Helper()

	db, cleanup := storage.SetupTestContainer(t)
	store := NewCheckpointStore(db, storage.NoOpTracer())
	ctx := context.Background()

	return ctx, store, cleanup
}

func TestPGCheckpointStore_SaveAndLoad(t *testing.T) {
	t.Parallel()

	ctx, store, cleanup := setupCheckpointTest(t)
	defer cleanup()

	err := store.Save(ctx, feed.BackfillCheckpoint{Channel: "running", Cursor: "eyJwYWdlIjoyfQ"})
	require.NoError(t, err)

	loaded, err := store.Load(ctx, "running")
	require.NoError(t, err)
	require.NotNil(t, loaded)

	assert.Equal(t, "running", loaded.Channel)
	assert.Equal(t, "eyJwYWdlIjoyfQ", loaded.Cursor)
	assert.False(t, loaded.UpdatedAt.IsZero())
}

func TestPGCheckpointStore_LoadMissing(t *testing.T) {
	t.Parallel()

	ctx, store, cleanup := setupCheckpointTest(t)
	defer cleanup()

	loaded, err := store.Load(ctx, "no-such-channel")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestPGCheckpointStore_SaveReplacesCursor(t *testing.T) {
	t.Parallel()

	ctx, store, cleanup := setupCheckpointTest(t)
	defer cleanup()

	require.NoError(t, store.Save(ctx, feed.BackfillCheckpoint{Channel: "running", Cursor: "page-1"}))

	first, err := store.Load(ctx, "running")
	require.NoError(t, err)
	require.NotNil(t, first)

	time.Sleep(10 * time.Millisecond)

	require.NoError(t, store.Save(ctx, feed.BackfillCheckpoint{Channel: "running", Cursor: "page-2"}))

	loaded, err := store.Load(ctx, "running")
	require.NoError(t, err)
	require.NotNil(t, loaded)

	assert.Equal(t, "page-2", loaded.Cursor)
	assert.True(t, loaded.UpdatedAt.After(first.UpdatedAt))
}

func TestPGCheckpointStore_Delete(t *testing.T) {
	t.Parallel()

	ctx, store, cleanup := setupCheckpointTest(t)
	defer cleanup()

	require.NoError(t, store.Save(ctx, feed.BackfillCheckpoint{Channel: "running", Cursor: "page-1"}))
	require.NoError(t, store.Delete(ctx, "running"))

	loaded, err := store.Load(ctx, "running")
	require.NoError(t, err)
	assert.Nil(t, loaded)

	assert.NoError(t, store.Delete(ctx, "running"), "deleting a missing checkpoint should be a no-op")
}
