package tracking

import (
	"fmt"
	"time"
)

// Runner is a registered mini-app user. Only casts from registered runners
// enter the pipeline; the records table enforces this with a foreign key.
type Runner struct {
	fid          int64
	username     string
	registeredAt time.Time
}

// NewRunner creates a Runner registration.
func NewRunner(fid int64, username string) (*Runner, error) {
	if fid <= 0 {
		return nil, fmt.Errorf("runner fid must be positive, got %d", fid)
	}
	return &Runner{fid: fid, username: username, registeredAt: time.Now()}, nil
}

// ReconstructRunner creates a Runner from persisted data.
// This should only be used by repositories when reconstructing from storage.
func ReconstructRunner(fid int64, username string, registeredAt time.Time) *Runner {
	return &Runner{fid: fid, username: username, registeredAt: registeredAt}
}

// FID returns the runner's Farcaster id.
func (r *Runner) FID() int64 { return r.fid }

// Username returns the display name captured at registration.
func (r *Runner) Username() string { return r.username }

// RegisteredAt returns when the runner joined.
func (r *Runner) RegisteredAt() time.Time { return r.registeredAt }
