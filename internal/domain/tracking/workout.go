// Package tracking contains the run-tracking core of the system: processing
// records that guarantee each cast is acted on at most once, the workouts
// extracted from them, and the per-runner totals derived from completed
// records.
package tracking

import (
	"encoding/json"
	"fmt"
	"time"
)

// Workout holds the structured metrics extracted from a single workout
// screenshot. It is immutable once constructed.
type Workout struct {
	distanceKM float64
	duration   time.Duration
}

// NewWorkout creates a Workout after validating the extracted metrics.
func NewWorkout(distanceKM float64, duration time.Duration) (Workout, error) {
	if distanceKM <= 0 {
		return Workout{}, fmt.Errorf("workout distance must be positive, got %f", distanceKM)
	}
	if duration <= 0 {
		return Workout{}, fmt.Errorf("workout duration must be positive, got %s", duration)
	}
	return Workout{distanceKM: distanceKM, duration: duration}, nil
}

// ReconstructWorkout creates a Workout from persisted data without enforcing
// creation-time invariants. This should only be used by repositories when
// reconstructing from storage.
func ReconstructWorkout(distanceKM float64, duration time.Duration) Workout {
	return Workout{distanceKM: distanceKM, duration: duration}
}

// DistanceKM returns the distance covered in kilometers.
func (w Workout) DistanceKM() float64 { return w.distanceKM }

// Duration returns the elapsed time of the workout.
func (w Workout) Duration() time.Duration { return w.duration }

// PacePerKM returns the average pace, or zero for an empty workout.
func (w Workout) PacePerKM() time.Duration {
	if w.distanceKM == 0 {
		return 0
	}
	return time.Duration(float64(w.duration) / w.distanceKM)
}

// IsZero reports whether the workout carries no metrics.
func (w Workout) IsZero() bool { return w.distanceKM == 0 && w.duration == 0 }

type workoutDTO struct {
	DistanceKM      float64 `json:"distance_km"`
	DurationSeconds int64   `json:"duration_seconds"`
}

// MarshalJSON serializes the Workout into a JSON byte array.
func (w Workout) MarshalJSON() ([]byte, error) {
	return json.Marshal(workoutDTO{
		DistanceKM:      w.distanceKM,
		DurationSeconds: int64(w.duration / time.Second),
	})
}

// UnmarshalJSON deserializes JSON data into a Workout.
func (w *Workout) UnmarshalJSON(data []byte) error {
	var dto workoutDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return err
	}
	w.distanceKM = dto.DistanceKM
	w.duration = time.Duration(dto.DurationSeconds) * time.Second
	return nil
}
