package ingest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/domain/feed"
	"github.com/jpfraneto/runner-miniapp-backend-sub000/pkg/common/logger"
)

// Suppressor tracks cast hashes currently being processed by this process so
// that concurrent submissions of the same hash are short-circuited before any
// store access. It is a liveness optimization only; correctness against other
// processes rests on the store's uniqueness constraint.
type Suppressor struct {
	mu   sync.Mutex
	held map[feed.CastHash]struct{}

	// ceiling bounds the in-flight set. Leaks are possible only through
	// bugs in release discipline, so hitting the ceiling indicates a leak
	// and the whole set is cleared rather than grown.
	ceiling     int
	forceClears atomic.Int64

	metrics IngestMetrics
	logger  *logger.Logger
}

// NewSuppressor creates a Suppressor that force-clears itself when the
// in-flight set reaches ceiling entries. Ceilings below 1 are clamped to 1.
func NewSuppressor(ceiling int, metrics IngestMetrics, logger *logger.Logger) *Suppressor {
	if ceiling < 1 {
		ceiling = 1
	}
	return &Suppressor{
		held:    make(map[feed.CastHash]struct{}),
		ceiling: ceiling,
		metrics: metrics,
		logger:  logger,
	}
}

// TryEnter attempts to claim hash for processing. It returns false when the
// hash is already in flight. When the set has reached its ceiling the entire
// set is cleared first; the worst case is redundant processing, which the
// durable store absorbs.
func (s *Suppressor) TryEnter(ctx context.Context, hash feed.CastHash) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.held[hash]; ok {
		return false
	}

	if len(s.held) >= s.ceiling {
		cleared := len(s.held)
		s.held = make(map[feed.CastHash]struct{})
		s.forceClears.Add(1)
		s.metrics.IncInFlightForceClear(ctx)
		s.metrics.AddInFlight(ctx, -int64(cleared))
		s.logger.Warn(ctx, "In-flight set reached ceiling, force-clearing; check for leaked entries",
			"ceiling", s.ceiling, "cleared", cleared)
	}

	s.held[hash] = struct{}{}
	s.metrics.AddInFlight(ctx, 1)
	return true
}

// Leave releases hash. Releasing a hash that is not held is a no-op; this
// happens legitimately after a force-clear removed it.
func (s *Suppressor) Leave(ctx context.Context, hash feed.CastHash) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.held[hash]; !ok {
		return
	}
	delete(s.held, hash)
	s.metrics.AddInFlight(ctx, -1)
}

// Held returns the number of hashes currently in flight.
func (s *Suppressor) Held() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.held)
}

// ForceClears returns how many times the set hit its ceiling and was cleared.
func (s *Suppressor) ForceClears() int64 { return s.forceClears.Load() }
