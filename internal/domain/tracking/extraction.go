package tracking

import (
	"context"

	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/domain/feed"
)

// ExtractionResult is the verdict of the workout extractor for one cast.
type ExtractionResult struct {
	// IsWorkout reports whether the cast actually shows a workout. When
	// false the remaining fields are advisory only.
	IsWorkout bool

	// Workout holds the extracted metrics when IsWorkout is true.
	Workout Workout

	// Confidence is the extractor's self-reported certainty in [0, 1].
	Confidence float64

	// Rationale is the extractor's free-text reasoning, persisted on the
	// record for operators reviewing disputed results.
	Rationale string
}

// WorkoutExtractor turns a cast's screenshot and caption into structured
// workout metrics. Implementations are expected to be slow and flaky
// relative to everything else in the pipeline; callers bound each call with
// a timeout and treat errors as infrastructure failures.
type WorkoutExtractor interface {
	ExtractWorkout(ctx context.Context, cast feed.Cast) (ExtractionResult, error)
}
