// Package backfill seeds the ingestion pipeline from a channel's cast
// history. It pages through the feed, registers the authors it sees,
// funnels every cast through the same submission path the webhook uses,
// and reconciles derived totals afterwards.
package backfill

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/app/ingest"
	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/domain/feed"
	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/domain/tracking"
	"github.com/jpfraneto/runner-miniapp-backend-sub000/pkg/common/logger"
)

// CastSubmitter is the slice of the ingest pipeline the seeder drives.
type CastSubmitter interface {
	SubmitCast(ctx context.Context, cast feed.Cast, opts ...ingest.SubmitOption) (ingest.SubmitResult, error)
}

const (
	defaultPageSize = 100
	defaultWorkers  = 4
)

// Config controls one backfill run.
type Config struct {
	// Channel is the channel whose history is crawled.
	Channel string

	// PageSize is the number of casts fetched per feed page.
	PageSize int

	// Workers bounds concurrent submissions within a page.
	Workers int

	// MaxPages stops the run after this many pages; 0 means run until the
	// feed is exhausted.
	MaxPages int

	// Resume continues from the channel's saved checkpoint instead of the
	// newest cast.
	Resume bool
}

// Summary tallies how one backfill run resolved.
type Summary struct {
	SessionID  string
	Pages      int
	Casts      int
	Accepted   int64
	Duplicates int64
	NotWorkout int64
	Rejected   int64
	Failed     int64

	// Refused counts business refusals: quota exceeded or authors whose
	// registration never landed.
	Refused int64
}

// Seeder crawls a channel's cast history into the ingestion pipeline.
// Submissions go through the orchestrator with the retry-failed option set,
// so a re-run deliberately reprocesses records an earlier pass left FAILED.
type Seeder struct {
	cfg Config

	source      feed.CastSource
	checkpoints feed.CheckpointRepository
	runners     tracking.RunnerRepository
	totals      tracking.TotalsRepository
	submitter   CastSubmitter

	logger *logger.Logger
	tracer trace.Tracer
}

// NewSeeder creates a Seeder, applying defaults for unset page size and
// worker count.
func NewSeeder(
	cfg Config,
	source feed.CastSource,
	checkpoints feed.CheckpointRepository,
	runners tracking.RunnerRepository,
	totals tracking.TotalsRepository,
	submitter CastSubmitter,
	logger *logger.Logger,
	tracer trace.Tracer,
) *Seeder {
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	return &Seeder{
		cfg:         cfg,
		source:      source,
		checkpoints: checkpoints,
		runners:     runners,
		totals:      totals,
		submitter:   submitter,
		logger:      logger,
		tracer:      tracer,
	}
}

// Run crawls the channel until the feed is exhausted, the page budget is
// spent, or the context is canceled. The checkpoint is advanced after each
// fully submitted page and cleared once the feed is exhausted, so an
// interrupted run resumes without refetching finished pages.
func (s *Seeder) Run(ctx context.Context) (Summary, error) {
	summary := Summary{SessionID: uuid.New().String()}
	if s.cfg.Channel == "" {
		return summary, fmt.Errorf("backfill channel is required")
	}

	log := s.logger.With("operation", "backfill_run", "channel", s.cfg.Channel, "session_id", summary.SessionID)
	ctx, span := s.tracer.Start(ctx, "backfill.run",
		trace.WithAttributes(
			attribute.String("channel", s.cfg.Channel),
			attribute.String("session_id", summary.SessionID),
			attribute.Bool("resume", s.cfg.Resume),
		))
	defer span.End()

	var cursor string
	if s.cfg.Resume {
		checkpoint, err := s.checkpoints.Load(ctx, s.cfg.Channel)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "loading checkpoint failed")
			return summary, fmt.Errorf("loading checkpoint: %w", err)
		}
		if checkpoint != nil {
			cursor = checkpoint.Cursor
			log.Info(ctx, "Resuming backfill from checkpoint", "checkpoint_age", checkpoint.UpdatedAt)
			span.AddEvent("resumed_from_checkpoint")
		}
	}

	log.Info(ctx, "Backfill starting", "page_size", s.cfg.PageSize, "workers", s.cfg.Workers)

	for {
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, "canceled")
			return summary, err
		}

		page, err := s.source.FetchPage(ctx, s.cfg.Channel, cursor, s.cfg.PageSize)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "fetching page failed")
			return summary, fmt.Errorf("fetching page %d: %w", summary.Pages+1, err)
		}
		summary.Pages++

		s.registerAuthors(ctx, log, page.Authors)
		s.submitPage(ctx, log, &summary, page.Casts)

		if page.NextCursor == "" {
			if err := s.checkpoints.Delete(ctx, s.cfg.Channel); err != nil {
				log.Error(ctx, "Clearing finished checkpoint failed", "error", err)
			}
			span.AddEvent("feed_exhausted")
			break
		}

		if err := s.checkpoints.Save(ctx, feed.BackfillCheckpoint{Channel: s.cfg.Channel, Cursor: page.NextCursor}); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "saving checkpoint failed")
			return summary, fmt.Errorf("saving checkpoint after page %d: %w", summary.Pages, err)
		}
		cursor = page.NextCursor

		if s.cfg.MaxPages > 0 && summary.Pages >= s.cfg.MaxPages {
			log.Info(ctx, "Page budget reached, stopping", "pages", summary.Pages)
			span.AddEvent("page_budget_reached")
			break
		}
	}

	log.Info(ctx, "Backfill finished",
		"pages", summary.Pages,
		"casts", summary.Casts,
		"accepted", summary.Accepted,
		"duplicates", summary.Duplicates,
		"not_workout", summary.NotWorkout,
		"rejected", summary.Rejected,
		"failed", summary.Failed,
		"refused", summary.Refused,
	)
	span.SetAttributes(
		attribute.Int("pages", summary.Pages),
		attribute.Int("casts", summary.Casts),
		attribute.Int64("accepted", summary.Accepted),
	)
	span.SetStatus(codes.Ok, "backfill finished")
	return summary, nil
}

// Reconcile rebuilds every runner's totals from completed records, repairing
// the drift best-effort increments accumulate. Run it after a backfill or on
// an operator's schedule.
func (s *Seeder) Reconcile(ctx context.Context) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "backfill.reconcile")
	defer span.End()

	rebuilt, err := s.totals.RebuildAll(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "totals rebuild failed")
		return 0, fmt.Errorf("rebuilding totals: %w", err)
	}

	s.logger.Info(ctx, "Totals reconciled", "runners_rebuilt", rebuilt)
	span.SetAttributes(attribute.Int64("runners_rebuilt", rebuilt))
	return rebuilt, nil
}

// registerAuthors upserts every author on the page. A failed registration is
// logged and skipped; the affected casts surface as refusals when submitted.
func (s *Seeder) registerAuthors(ctx context.Context, log *logger.Logger, authors []feed.Author) {
	for _, author := range authors {
		runner, err := tracking.NewRunner(author.FID, author.Username)
		if err != nil {
			log.Warn(ctx, "Skipping author with invalid fid", "fid", author.FID, "error", err)
			continue
		}
		if err := s.runners.Upsert(ctx, runner); err != nil {
			log.Error(ctx, "Registering author failed", "fid", author.FID, "error", err)
		}
	}
}

func (s *Seeder) submitPage(ctx context.Context, log *logger.Logger, summary *Summary, casts []feed.Cast) {
	var accepted, duplicates, notWorkout, rejected, failed, refused atomic.Int64

	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)
	for _, cast := range casts {
		cast := cast
		g.Go(func() error {
			result, err := s.submitter.SubmitCast(ctx, cast, ingest.WithRetryFailed())
			if err != nil {
				if tracking.IsBusinessError(err) {
					refused.Add(1)
					log.Info(ctx, "Submission refused", "cast_hash", cast.Hash.String(), "reason", err.Error())
				} else {
					failed.Add(1)
					log.Error(ctx, "Submission errored", "cast_hash", cast.Hash.String(), "error", err)
				}
				return nil
			}
			switch result.Outcome {
			case ingest.OutcomeAccepted:
				accepted.Add(1)
			case ingest.OutcomeDuplicate:
				duplicates.Add(1)
			case ingest.OutcomeNotWorkout:
				notWorkout.Add(1)
			case ingest.OutcomeRejected:
				rejected.Add(1)
			case ingest.OutcomeFailed:
				failed.Add(1)
				log.Error(ctx, "Submission failed", "cast_hash", cast.Hash.String(), "reason", result.Reason)
			}
			return nil
		})
	}
	_ = g.Wait()

	summary.Casts += len(casts)
	summary.Accepted += accepted.Load()
	summary.Duplicates += duplicates.Load()
	summary.NotWorkout += notWorkout.Load()
	summary.Rejected += rejected.Load()
	summary.Failed += failed.Load()
	summary.Refused += refused.Load()
}
