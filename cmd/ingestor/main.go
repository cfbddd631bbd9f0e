package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	openaiapi "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/app/ingest"
	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/config"
	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/domain/events"
	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/domain/feed"
	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/domain/tracking"
	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/infra/eventbus/kafka"
	extraction "github.com/jpfraneto/runner-miniapp-backend-sub000/internal/infra/extraction/openai"
	recordStore "github.com/jpfraneto/runner-miniapp-backend-sub000/internal/infra/storage/records/postgres"
	totalsStore "github.com/jpfraneto/runner-miniapp-backend-sub000/internal/infra/storage/totals/postgres"
	"github.com/jpfraneto/runner-miniapp-backend-sub000/pkg/common"
	"github.com/jpfraneto/runner-miniapp-backend-sub000/pkg/common/logger"
	"github.com/jpfraneto/runner-miniapp-backend-sub000/pkg/common/otel"
)

const serviceType = "ingestor"

func main() {
	_, _ = maxprocs.Set()

	var configPath string
	flag.StringVar(&configPath, "config", "", "path to the YAML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	hostname, err := os.Hostname()
	if err != nil {
		log.Fatalf("failed to get hostname: %v", err)
	}

	var log *logger.Logger

	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}

			// Add any error-specific attributes.
			for k, v := range r.Attributes {
				errorAttrs[k] = v
			}

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}

			// Output the error event with valid JSON details.
			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n",
				r.Message, errorAttrsJSON)
		},
	}

	traceIDFn := func(ctx context.Context) string {
		return otel.GetTraceID(ctx)
	}

	svcName := fmt.Sprintf("INGESTOR-%s", hostname)
	metadata := map[string]string{
		"service":     svcName,
		"hostname":    hostname,
		"environment": cfg.Service.Environment,
		"app":         serviceType,
	}

	log = logger.NewWithMetadata(os.Stdout, logLevel(cfg.Log.Level), svcName, traceIDFn, logEvents, metadata)

	// Setup signal handling.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var tracer trace.Tracer
	var mp metric.MeterProvider
	telemetryTeardown := func(context.Context) {}
	if cfg.Telemetry.Enabled {
		tp, teardown, err := otel.InitTelemetry(log, otel.Config{
			ServiceName:      cfg.Service.Name,
			ExporterEndpoint: cfg.Telemetry.ExporterEndpoint,
			ExcludedRoutes: map[string]struct{}{
				"/v1/health":        {},
				"/v1/introspection": {},
			},
			Probability: cfg.Telemetry.SamplingRatio,
			ResourceAttributes: map[string]string{
				"library.language": "go",
				"host.name":        hostname,
			},
			InsecureExporter: true,
		})
		if err != nil {
			log.Error(ctx, "failed to initialize telemetry", "error", err)
			os.Exit(1)
		}
		tracer = tp.Tracer(cfg.Service.Name)
		telemetryTeardown = teardown
		mp = otel.GetMeterProvider()
	} else {
		tracer = tracenoop.NewTracerProvider().Tracer(cfg.Service.Name)
		mp, err = otel.NewMeterProvider(cfg.Service.Name)
		if err != nil {
			log.Error(ctx, "failed to create meter provider", "error", err)
			os.Exit(1)
		}
	}
	defer telemetryTeardown(ctx)

	poolCfg, err := pgxpool.ParseConfig(cfg.Postgres.DSN())
	if err != nil {
		log.Error(ctx, "failed to parse db config", "error", err)
		os.Exit(1)
	}
	poolCfg.MinConns = cfg.Postgres.MinConns
	poolCfg.MaxConns = cfg.Postgres.MaxConns
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		log.Error(ctx, "failed to open db", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := runMigrations(pool); err != nil {
		log.Error(ctx, "failed to run migrations", "error", err)
		os.Exit(1)
	}

	log.Info(ctx, "Migrations applied successfully. Starting application...")

	metricCollector, err := ingest.NewIngestMetrics(mp)
	if err != nil {
		log.Error(ctx, "failed to create metrics collector", "error", err)
		os.Exit(1)
	}

	eventBus, err := kafka.ConnectWithRetry(&kafka.Config{
		Brokers:           cfg.Kafka.Brokers,
		CastCreatedTopic:  cfg.Kafka.CastCreatedTopic,
		RecordEventsTopic: cfg.Kafka.RecordEventsTopic,
		GroupID:           cfg.Kafka.GroupID,
		ClientID:          svcName,
	}, log, metricCollector, tracer)
	if err != nil {
		log.Error(ctx, "failed to connect event bus", "error", err)
		os.Exit(1)
	}

	eventPublisher := kafka.NewDomainEventPublisher(eventBus, events.NewDomainEventTranslator())

	if cfg.OpenAI.APIKey == "" {
		log.Error(ctx, "openai api key must be configured")
		os.Exit(1)
	}
	aiCfg := openaiapi.DefaultConfig(cfg.OpenAI.APIKey)
	if cfg.OpenAI.BaseURL != "" {
		aiCfg.BaseURL = cfg.OpenAI.BaseURL
	}
	extractor := extraction.NewExtractor(
		openaiapi.NewClientWithConfig(aiCfg),
		cfg.OpenAI.Model,
		cfg.OpenAI.MinConfidence,
		common.NewRateLimiter(cfg.OpenAI.RequestsPerSec, cfg.OpenAI.Burst),
		log,
		tracer,
	)

	records := recordStore.NewRecordStore(pool, tracer)
	totals := totalsStore.NewTotalsStore(pool, tracer)
	processed := ingest.NewBoundedHashSet(cfg.Ingest.ProcessedCacheSize)
	replied := ingest.NewBoundedHashSet(cfg.Ingest.RepliedCacheSize)
	guard := ingest.NewGuard(records, processed, cfg.Ingest.WeeklyLimit, metricCollector, log, tracer)
	suppressor := ingest.NewSuppressor(cfg.Ingest.InFlightCeiling, metricCollector, log)

	orch := ingest.NewOrchestrator(
		guard,
		suppressor,
		records,
		totals,
		extractor,
		eventPublisher,
		processed,
		replied,
		cfg.Ingest.ExtractionTimeout,
		metricCollector,
		log,
		tracer,
	)

	reaper := ingest.NewReaper(
		records,
		eventPublisher,
		cfg.Ingest.ReaperInterval,
		cfg.Ingest.StalenessThreshold,
		metricCollector,
		log,
		tracer,
	)
	reaper.Start(ctx)

	ready := &atomic.Bool{}
	healthServer := common.NewHealthServer(cfg.Health.Addr, ready, func() any { return orch.Stats() })

	if err := eventBus.Subscribe(ctx, []events.EventType{feed.EventTypeCastCreated},
		handleCastCreated(orch, log)); err != nil {
		log.Error(ctx, "failed to subscribe to cast events", "error", err)
		os.Exit(1)
	}

	ready.Store(true)
	log.Info(ctx, "Ingestor running",
		"channel_topic", cfg.Kafka.CastCreatedTopic,
		"weekly_limit", cfg.Ingest.WeeklyLimit,
		"extraction_timeout", cfg.Ingest.ExtractionTimeout.String(),
	)

	sig := <-sigCh
	log.Info(ctx, "Received shutdown signal", "signal", sig)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Close components in order: stop taking events, stop the reaper, then
	// drop the health endpoints.
	if err := eventBus.Close(); err != nil {
		log.Error(shutdownCtx, "Failed to close event bus", "error", err)
	}
	reaper.Stop()
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "Error shutting down health server", "error", err)
	}
}

// handleCastCreated adapts the orchestrator to the event bus consumer.
// Business refusals ack clean since redelivery cannot change them.
// Infrastructure failures ack with the error so consume metrics register the
// drop; the record store's idempotency covers the hash coming around again.
func handleCastCreated(orch *ingest.Orchestrator, log *logger.Logger) events.HandlerFunc {
	return func(ctx context.Context, evt events.EventEnvelope, ack events.AckFunc) error {
		castEvt, ok := evt.Payload.(feed.CastCreatedEvent)
		if !ok {
			err := fmt.Errorf("unexpected payload type %T for event %s", evt.Payload, evt.Type)
			ack(err)
			return err
		}
		cast := castEvt.Cast

		result, err := orch.SubmitCast(ctx, cast)
		if err != nil {
			if tracking.IsBusinessError(err) {
				log.Info(ctx, "Submission refused",
					"cast_hash", cast.Hash.String(), "fid", cast.FID, "reason", err.Error())
				ack(nil)
				return nil
			}
			log.Error(ctx, "Submission errored",
				"cast_hash", cast.Hash.String(), "fid", cast.FID, "error", err)
			ack(err)
			return nil
		}

		log.Debug(ctx, "Cast processed",
			"cast_hash", cast.Hash.String(), "outcome", result.Outcome, "reason", result.Reason)
		ack(nil)
		return nil
	}
}

// runMigrations uses golang-migrate to apply all up migrations from
// "db/migrations" before the pipeline starts accepting events.
func runMigrations(pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)

	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		return fmt.Errorf("could not create pgx driver: %w", err)
	}

	const migrationsPath = "file://db/migrations"
	m, err := migrate.NewWithDatabaseInstance(migrationsPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migration up failed: %w", err)
	}

	return nil
}

// logLevel maps the configured level name onto the logger's levels. Unknown
// names fall back to info rather than failing startup.
func logLevel(name string) logger.Level {
	switch name {
	case "debug":
		return logger.LevelDebug
	case "warn":
		return logger.LevelWarn
	case "error":
		return logger.LevelError
	default:
		return logger.LevelInfo
	}
}
