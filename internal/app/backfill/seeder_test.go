package backfill

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/app/ingest"
	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/domain/events"
	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/domain/feed"
	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/domain/tracking"
	checkpointmem "github.com/jpfraneto/runner-miniapp-backend-sub000/internal/infra/storage/checkpoints/memory"
	recordmem "github.com/jpfraneto/runner-miniapp-backend-sub000/internal/infra/storage/records/memory"
	runnermem "github.com/jpfraneto/runner-miniapp-backend-sub000/internal/infra/storage/runners/memory"
	totalsmem "github.com/jpfraneto/runner-miniapp-backend-sub000/internal/infra/storage/totals/memory"
	"github.com/jpfraneto/runner-miniapp-backend-sub000/pkg/common/logger"
)

func seqHash(i int) feed.CastHash {
	return feed.CastHash(fmt.Sprintf("0x%040x", i))
}

func channelCast(hash feed.CastHash, fid int64) feed.Cast {
	return feed.Cast{
		Hash:      hash,
		FID:       fid,
		Text:      "morning run done",
		Embeds:    []feed.Embed{{URL: "https://imagedelivery.net/run.png"}},
		Timestamp: time.Date(2025, 3, 14, 7, 30, 0, 0, time.UTC),
	}
}

// noopMetrics satisfies ingest.IngestMetrics for wiring a real pipeline.
type noopMetrics struct{}

func (noopMetrics) IncMessagePublished(context.Context, string) {}
func (noopMetrics) IncMessageConsumed(context.Context, string)  {}
func (noopMetrics) IncPublishError(context.Context, string)     {}
func (noopMetrics) IncConsumeError(context.Context, string)     {}
func (noopMetrics) IncSubmission(context.Context)               {}
func (noopMetrics) IncDuplicateCacheHit(context.Context)        {}
func (noopMetrics) IncDuplicateStoreHit(context.Context)        {}
func (noopMetrics) IncConcurrentDuplicate(context.Context)      {}
func (noopMetrics) IncInsertRaceLost(context.Context)           {}
func (noopMetrics) IncRejected(context.Context)                 {}
func (noopMetrics) IncCompleted(context.Context)                {}
func (noopMetrics) IncFailed(context.Context)                   {}
func (noopMetrics) IncNonWorkout(context.Context)               {}
func (noopMetrics) IncTotalsDriftError(context.Context)         {}
func (noopMetrics) IncReaped(context.Context, int)              {}
func (noopMetrics) IncInFlightForceClear(context.Context)       {}
func (noopMetrics) AddInFlight(context.Context, int64)          {}

func (noopMetrics) TrackExtraction(ctx context.Context, f func() error) error { return f() }

// mockSource serves a scripted chain of pages keyed by cursor.
type mockSource struct {
	mu      sync.Mutex
	pages   map[string]feed.CastPage
	cursors []string

	fetchFunc func(ctx context.Context, channel, cursor string, limit int) (feed.CastPage, error)
}

func (m *mockSource) FetchPage(ctx context.Context, channel, cursor string, limit int) (feed.CastPage, error) {
	m.mu.Lock()
	m.cursors = append(m.cursors, cursor)
	m.mu.Unlock()

	if m.fetchFunc != nil {
		return m.fetchFunc(ctx, channel, cursor, limit)
	}
	page, ok := m.pages[cursor]
	if !ok {
		return feed.CastPage{}, fmt.Errorf("no page for cursor %q", cursor)
	}
	return page, nil
}

func (m *mockSource) seenCursors() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.cursors...)
}

// mockSubmitter records submissions and resolves them as accepted unless
// overridden.
type mockSubmitter struct {
	mu        sync.Mutex
	submitted []feed.Cast

	submitFunc func(ctx context.Context, cast feed.Cast, opts ...ingest.SubmitOption) (ingest.SubmitResult, error)
}

func (m *mockSubmitter) SubmitCast(ctx context.Context, cast feed.Cast, opts ...ingest.SubmitOption) (ingest.SubmitResult, error) {
	m.mu.Lock()
	m.submitted = append(m.submitted, cast)
	m.mu.Unlock()

	if m.submitFunc != nil {
		return m.submitFunc(ctx, cast, opts...)
	}
	return ingest.SubmitResult{Outcome: ingest.OutcomeAccepted}, nil
}

func (m *mockSubmitter) submittedHashes() map[feed.CastHash]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	hashes := make(map[feed.CastHash]bool, len(m.submitted))
	for _, cast := range m.submitted {
		hashes[cast.Hash] = true
	}
	return hashes
}

type seederDeps struct {
	source      *mockSource
	checkpoints *checkpointmem.CheckpointStore
	runners     *runnermem.RunnerStore
	totals      *totalsmem.TotalsStore
	submitter   *mockSubmitter
}

func newTestSeeder(t *testing.T, cfg Config, source *mockSource) (*Seeder, seederDeps) {
	t.Helper()

	deps := seederDeps{
		source:      source,
		checkpoints: checkpointmem.NewCheckpointStore(),
		runners:     runnermem.NewRunnerStore(),
		totals:      totalsmem.NewTotalsStore(),
		submitter:   &mockSubmitter{},
	}
	seeder := NewSeeder(cfg, deps.source, deps.checkpoints, deps.runners, deps.totals, deps.submitter,
		logger.Noop(), noop.NewTracerProvider().Tracer("test"))
	return seeder, deps
}

func TestSeeder_CrawlsAllPages(t *testing.T) {
	t.Parallel()

	source := &mockSource{pages: map[string]feed.CastPage{
		"": {
			Casts:      []feed.Cast{channelCast(seqHash(1), 16098), channelCast(seqHash(2), 777)},
			Authors:    []feed.Author{{FID: 16098, Username: "jpfraneto"}, {FID: 777, Username: "anotherrunner"}},
			NextCursor: "cursor-2",
		},
		"cursor-2": {
			Casts:   []feed.Cast{channelCast(seqHash(3), 16098)},
			Authors: []feed.Author{{FID: 16098, Username: "jpfraneto"}},
		},
	}}

	seeder, deps := newTestSeeder(t, Config{Channel: "running"}, source)

	summary, err := seeder.Run(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, summary.SessionID)
	assert.Equal(t, 2, summary.Pages)
	assert.Equal(t, 3, summary.Casts)
	assert.Equal(t, int64(3), summary.Accepted)
	assert.Equal(t, []string{"", "cursor-2"}, source.seenCursors())

	submitted := deps.submitter.submittedHashes()
	for i := 1; i <= 3; i++ {
		assert.True(t, submitted[seqHash(i)], "cast %d should have been submitted", i)
	}

	runner, err := deps.runners.GetByFID(context.Background(), 16098)
	require.NoError(t, err)
	assert.Equal(t, "jpfraneto", runner.Username())
	_, err = deps.runners.GetByFID(context.Background(), 777)
	require.NoError(t, err)

	checkpoint, err := deps.checkpoints.Load(context.Background(), "running")
	require.NoError(t, err)
	assert.Nil(t, checkpoint, "checkpoint should be cleared once the feed is exhausted")
}

func TestSeeder_ResumesFromCheckpoint(t *testing.T) {
	t.Parallel()

	source := &mockSource{pages: map[string]feed.CastPage{
		"cursor-2": {Casts: []feed.Cast{channelCast(seqHash(3), 16098)}},
	}}

	seeder, deps := newTestSeeder(t, Config{Channel: "running", Resume: true}, source)
	require.NoError(t, deps.checkpoints.Save(context.Background(),
		feed.BackfillCheckpoint{Channel: "running", Cursor: "cursor-2"}))

	summary, err := seeder.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"cursor-2"}, source.seenCursors(), "crawl should start at the saved cursor")
	assert.Equal(t, 1, summary.Pages)
}

func TestSeeder_PageBudgetKeepsCheckpoint(t *testing.T) {
	t.Parallel()

	source := &mockSource{pages: map[string]feed.CastPage{
		"":         {Casts: []feed.Cast{channelCast(seqHash(1), 16098)}, NextCursor: "cursor-2"},
		"cursor-2": {Casts: []feed.Cast{channelCast(seqHash(2), 16098)}, NextCursor: "cursor-3"},
		"cursor-3": {Casts: []feed.Cast{channelCast(seqHash(3), 16098)}},
	}}

	seeder, deps := newTestSeeder(t, Config{Channel: "running", MaxPages: 2}, source)

	summary, err := seeder.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Pages)
	assert.Equal(t, 2, summary.Casts)

	checkpoint, err := deps.checkpoints.Load(context.Background(), "running")
	require.NoError(t, err)
	require.NotNil(t, checkpoint, "a budget-stopped run must leave its checkpoint for the next run")
	assert.Equal(t, "cursor-3", checkpoint.Cursor)
}

func TestSeeder_FetchErrorKeepsCheckpoint(t *testing.T) {
	t.Parallel()

	source := &mockSource{}
	source.fetchFunc = func(ctx context.Context, channel, cursor string, limit int) (feed.CastPage, error) {
		if cursor == "" {
			return feed.CastPage{
				Casts:      []feed.Cast{channelCast(seqHash(1), 16098)},
				NextCursor: "cursor-2",
			}, nil
		}
		return feed.CastPage{}, errors.New("neynar is down")
	}

	seeder, deps := newTestSeeder(t, Config{Channel: "running"}, source)

	summary, err := seeder.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetching page 2")

	assert.Equal(t, 1, summary.Pages)
	assert.Equal(t, int64(1), summary.Accepted)

	checkpoint, cpErr := deps.checkpoints.Load(context.Background(), "running")
	require.NoError(t, cpErr)
	require.NotNil(t, checkpoint)
	assert.Equal(t, "cursor-2", checkpoint.Cursor, "resume should pick up at the failed page")
}

func TestSeeder_TalliesOutcomes(t *testing.T) {
	t.Parallel()

	casts := make([]feed.Cast, 0, 6)
	for i := 1; i <= 6; i++ {
		casts = append(casts, channelCast(seqHash(i), 16098))
	}
	source := &mockSource{pages: map[string]feed.CastPage{"": {Casts: casts}}}

	seeder, deps := newTestSeeder(t, Config{Channel: "running", Workers: 2}, source)
	deps.submitter.submitFunc = func(ctx context.Context, cast feed.Cast, opts ...ingest.SubmitOption) (ingest.SubmitResult, error) {
		switch cast.Hash {
		case seqHash(1):
			return ingest.SubmitResult{Outcome: ingest.OutcomeAccepted}, nil
		case seqHash(2):
			return ingest.SubmitResult{Outcome: ingest.OutcomeDuplicate}, nil
		case seqHash(3):
			return ingest.SubmitResult{Outcome: ingest.OutcomeNotWorkout, Reason: "photo of pasta"}, nil
		case seqHash(4):
			return ingest.SubmitResult{Outcome: ingest.OutcomeRejected, Reason: "reply"}, nil
		case seqHash(5):
			return ingest.SubmitResult{Outcome: ingest.OutcomeFailed, Reason: "extraction timed out"}, nil
		default:
			return ingest.SubmitResult{}, tracking.NewQuotaExceededError(16098, 2)
		}
	}

	summary, err := seeder.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 6, summary.Casts)
	assert.Equal(t, int64(1), summary.Accepted)
	assert.Equal(t, int64(1), summary.Duplicates)
	assert.Equal(t, int64(1), summary.NotWorkout)
	assert.Equal(t, int64(1), summary.Rejected)
	assert.Equal(t, int64(1), summary.Failed)
	assert.Equal(t, int64(1), summary.Refused)
}

// failingRunnerStore rejects every upsert.
type failingRunnerStore struct{ err error }

func (f *failingRunnerStore) Upsert(ctx context.Context, runner *tracking.Runner) error { return f.err }
func (f *failingRunnerStore) GetByFID(ctx context.Context, fid int64) (*tracking.Runner, error) {
	return nil, tracking.ErrRunnerNotFound
}

func TestSeeder_RegistrationFailureDoesNotAbort(t *testing.T) {
	t.Parallel()

	source := &mockSource{pages: map[string]feed.CastPage{
		"": {
			Casts:   []feed.Cast{channelCast(seqHash(1), 16098)},
			Authors: []feed.Author{{FID: 16098, Username: "jpfraneto"}, {FID: -1, Username: "ghost"}},
		},
	}}

	submitter := &mockSubmitter{}
	seeder := NewSeeder(Config{Channel: "running"}, source, checkpointmem.NewCheckpointStore(),
		&failingRunnerStore{err: errors.New("runners table is locked")}, totalsmem.NewTotalsStore(),
		submitter, logger.Noop(), noop.NewTracerProvider().Tracer("test"))

	summary, err := seeder.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Casts, "casts should still be submitted when registration fails")
	assert.Equal(t, int64(1), summary.Accepted)
}

func TestSeeder_Reconcile(t *testing.T) {
	t.Parallel()

	source := &mockSource{pages: map[string]feed.CastPage{"": {}}}
	seeder, deps := newTestSeeder(t, Config{Channel: "running"}, source)

	workout := tracking.ReconstructWorkout(5, 25*time.Minute)
	require.NoError(t, deps.totals.ApplyWorkout(context.Background(), 16098, workout))
	require.NoError(t, deps.totals.ApplyWorkout(context.Background(), 777, workout))

	rebuilt, err := seeder.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), rebuilt)
}

// TestSeeder_RetryReprocessesFailedRecords runs the seeder against a real
// pipeline to show a re-run picks up records an earlier pass left FAILED.
func TestSeeder_RetryReprocessesFailedRecords(t *testing.T) {
	t.Parallel()

	records := recordmem.NewRecordStore()
	totals := totalsmem.NewTotalsStore()

	failedHash := seqHash(42)
	now := time.Now().UTC()
	seeded := tracking.ReconstructRecord(failedHash, 16098, tracking.RecordStatusFailed,
		nil, "", "extraction timed out", now.Add(-time.Hour), now.Add(-time.Hour))
	inserted, err := records.CreateIfAbsent(context.Background(), seeded)
	require.NoError(t, err)
	require.True(t, inserted)

	processed := ingest.NewBoundedHashSet(128)
	guard := ingest.NewGuard(records, processed, 0, noopMetrics{}, logger.Noop(), noop.NewTracerProvider().Tracer("test"))
	suppressor := ingest.NewSuppressor(64, noopMetrics{}, logger.Noop())

	extractions := 0
	extractor := &stubExtractor{result: tracking.ExtractionResult{
		IsWorkout:  true,
		Workout:    tracking.ReconstructWorkout(5, 25*time.Minute),
		Confidence: 0.95,
		Rationale:  "route map screenshot",
	}, calls: &extractions}

	orch := ingest.NewOrchestrator(guard, suppressor, records, totals, extractor, noopPublisher{},
		processed, ingest.NewBoundedHashSet(128), time.Second, noopMetrics{}, logger.Noop(),
		noop.NewTracerProvider().Tracer("test"))

	source := &mockSource{pages: map[string]feed.CastPage{
		"": {
			Casts:   []feed.Cast{channelCast(failedHash, 16098)},
			Authors: []feed.Author{{FID: 16098, Username: "jpfraneto"}},
		},
	}}

	seeder := NewSeeder(Config{Channel: "running"}, source, checkpointmem.NewCheckpointStore(),
		runnermem.NewRunnerStore(), totals, orch, logger.Noop(), noop.NewTracerProvider().Tracer("test"))

	summary, err := seeder.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1), summary.Accepted, "the FAILED record should be reprocessed, not reported duplicate")
	assert.Equal(t, 1, extractions)

	record, err := records.GetByHash(context.Background(), failedHash)
	require.NoError(t, err)
	assert.Equal(t, tracking.RecordStatusCompleted, record.Status())
	assert.Empty(t, record.FailureReason())
}

type stubExtractor struct {
	result tracking.ExtractionResult
	calls  *int
}

func (s *stubExtractor) ExtractWorkout(ctx context.Context, cast feed.Cast) (tracking.ExtractionResult, error) {
	*s.calls++
	return s.result, nil
}

type noopPublisher struct{}

func (noopPublisher) PublishDomainEvent(ctx context.Context, event events.DomainEvent, opts ...events.PublishOption) error {
	return nil
}
