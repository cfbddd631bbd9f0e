package tracking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/domain/feed"
)

const testHash = feed.CastHash("0x1b69d92e91b17c9e07bbd84e2c6f943cdd8c9b2a")

func TestNewRecord(t *testing.T) {
	t.Parallel()

	rec, err := NewRecord(testHash, 16098)
	require.NoError(t, err)

	assert.Equal(t, testHash, rec.CastHash())
	assert.Equal(t, int64(16098), rec.FID())
	assert.Equal(t, RecordStatusProcessing, rec.Status())
	assert.Nil(t, rec.Workout())
	assert.False(t, rec.CreatedAt().IsZero())

	_, err = NewRecord("not-a-hash", 16098)
	assert.Error(t, err)
}

func TestNewPendingRecord(t *testing.T) {
	t.Parallel()

	rec, err := NewPendingRecord(testHash, 16098)
	require.NoError(t, err)
	assert.Equal(t, RecordStatusPending, rec.Status())
}

func TestRecord_Complete(t *testing.T) {
	t.Parallel()

	workout, err := NewWorkout(5.2, 31*time.Minute)
	require.NoError(t, err)

	t.Run("from processing", func(t *testing.T) {
		t.Parallel()

		rec, err := NewRecord(testHash, 16098)
		require.NoError(t, err)

		require.NoError(t, rec.Complete(workout, "clear strava screenshot"))
		assert.Equal(t, RecordStatusCompleted, rec.Status())
		require.NotNil(t, rec.Workout())
		assert.Equal(t, 5.2, rec.Workout().DistanceKM())
		assert.Equal(t, "clear strava screenshot", rec.Rationale())
	})

	t.Run("double completion rejected", func(t *testing.T) {
		t.Parallel()

		rec, err := NewRecord(testHash, 16098)
		require.NoError(t, err)

		require.NoError(t, rec.Complete(workout, ""))
		err = rec.Complete(workout, "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid record status transition")
	})

	t.Run("from failed rejected", func(t *testing.T) {
		t.Parallel()

		rec, err := NewRecord(testHash, 16098)
		require.NoError(t, err)

		require.NoError(t, rec.Fail("extraction timeout"))
		assert.Error(t, rec.Complete(workout, ""))
	})
}

func TestRecord_Fail(t *testing.T) {
	t.Parallel()

	t.Run("records reason", func(t *testing.T) {
		t.Parallel()

		rec, err := NewRecord(testHash, 16098)
		require.NoError(t, err)

		require.NoError(t, rec.Fail("extraction timeout"))
		assert.Equal(t, RecordStatusFailed, rec.Status())
		assert.Equal(t, "extraction timeout", rec.FailureReason())
	})

	t.Run("idempotent and keeps first reason", func(t *testing.T) {
		t.Parallel()

		rec, err := NewRecord(testHash, 16098)
		require.NoError(t, err)

		require.NoError(t, rec.Fail("first"))
		require.NoError(t, rec.Fail("second"))
		assert.Equal(t, "first", rec.FailureReason())
	})

	t.Run("completed record cannot fail", func(t *testing.T) {
		t.Parallel()

		workout, err := NewWorkout(10, time.Hour)
		require.NoError(t, err)

		rec, err := NewRecord(testHash, 16098)
		require.NoError(t, err)
		require.NoError(t, rec.Complete(workout, ""))

		assert.Error(t, rec.Fail("late failure"))
	})
}

func TestRecord_MarkProcessing(t *testing.T) {
	t.Parallel()

	t.Run("claims pending record", func(t *testing.T) {
		t.Parallel()

		rec, err := NewPendingRecord(testHash, 16098)
		require.NoError(t, err)

		require.NoError(t, rec.MarkProcessing())
		assert.Equal(t, RecordStatusProcessing, rec.Status())
	})

	t.Run("refreshes staleness clock when already processing", func(t *testing.T) {
		t.Parallel()

		rec := ReconstructRecord(testHash, 16098, RecordStatusProcessing, nil, "", "",
			time.Now().Add(-2*time.Hour), time.Now().Add(-2*time.Hour))

		before := rec.UpdatedAt()
		require.NoError(t, rec.MarkProcessing())
		assert.True(t, rec.UpdatedAt().After(before))
	})

	t.Run("reclaims failed record and clears reason", func(t *testing.T) {
		t.Parallel()

		rec, err := NewRecord(testHash, 16098)
		require.NoError(t, err)
		require.NoError(t, rec.Fail("extraction timeout"))

		require.NoError(t, rec.MarkProcessing())
		assert.Equal(t, RecordStatusProcessing, rec.Status())
		assert.Empty(t, rec.FailureReason())
	})

	t.Run("completed record cannot be reclaimed", func(t *testing.T) {
		t.Parallel()

		workout, err := NewWorkout(10, time.Hour)
		require.NoError(t, err)

		rec, err := NewRecord(testHash, 16098)
		require.NoError(t, err)
		require.NoError(t, rec.Complete(workout, ""))

		assert.Error(t, rec.MarkProcessing())
	})
}

func TestReconstructRecord(t *testing.T) {
	t.Parallel()

	created := time.Now().Add(-time.Hour)
	updated := time.Now().Add(-30 * time.Minute)
	workout := ReconstructWorkout(7.5, 45*time.Minute)

	rec := ReconstructRecord(testHash, 16098, RecordStatusCompleted, &workout,
		"matched treadmill display", "", created, updated)

	assert.Equal(t, testHash, rec.CastHash())
	assert.Equal(t, RecordStatusCompleted, rec.Status())
	require.NotNil(t, rec.Workout())
	assert.Equal(t, 7.5, rec.Workout().DistanceKM())
	assert.Equal(t, created, rec.CreatedAt())
	assert.Equal(t, updated, rec.UpdatedAt())
}
