package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	openaiapi "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/app/backfill"
	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/app/ingest"
	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/config"
	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/config/fileloader"
	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/domain/events"
	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/domain/feed"
	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/domain/tracking"
	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/infra/eventbus/kafka"
	membus "github.com/jpfraneto/runner-miniapp-backend-sub000/internal/infra/eventbus/memory"
	extraction "github.com/jpfraneto/runner-miniapp-backend-sub000/internal/infra/extraction/openai"
	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/infra/neynar"
	checkpointmem "github.com/jpfraneto/runner-miniapp-backend-sub000/internal/infra/storage/checkpoints/memory"
	checkpointStore "github.com/jpfraneto/runner-miniapp-backend-sub000/internal/infra/storage/checkpoints/postgres"
	recordmem "github.com/jpfraneto/runner-miniapp-backend-sub000/internal/infra/storage/records/memory"
	recordStore "github.com/jpfraneto/runner-miniapp-backend-sub000/internal/infra/storage/records/postgres"
	runnermem "github.com/jpfraneto/runner-miniapp-backend-sub000/internal/infra/storage/runners/memory"
	runnerStore "github.com/jpfraneto/runner-miniapp-backend-sub000/internal/infra/storage/runners/postgres"
	totalsmem "github.com/jpfraneto/runner-miniapp-backend-sub000/internal/infra/storage/totals/memory"
	totalsStore "github.com/jpfraneto/runner-miniapp-backend-sub000/internal/infra/storage/totals/postgres"
	"github.com/jpfraneto/runner-miniapp-backend-sub000/pkg/common"
	"github.com/jpfraneto/runner-miniapp-backend-sub000/pkg/common/logger"
	"github.com/jpfraneto/runner-miniapp-backend-sub000/pkg/common/otel"
)

const serviceType = "backfill"

func main() {
	_, _ = maxprocs.Set()

	var (
		configPath   string
		channelName  string
		channelsFile string
		pageSize     int
		workers      int
		maxPages     int
		resume       bool
		dryRun       bool
		reconcile    bool
	)
	flag.StringVar(&configPath, "config", "", "path to the YAML config file (optional)")
	flag.StringVar(&channelName, "channel", "", "Farcaster channel to crawl")
	flag.StringVar(&channelsFile, "channels", "", "YAML file listing channels to crawl")
	flag.IntVar(&pageSize, "page-size", 0, "casts per feed page (0 uses the default)")
	flag.IntVar(&workers, "workers", 0, "concurrent submissions per page (0 uses the default)")
	flag.IntVar(&maxPages, "max-pages", 0, "stop after this many pages (0 crawls until exhausted)")
	flag.BoolVar(&resume, "resume", false, "resume from the saved checkpoint")
	flag.BoolVar(&dryRun, "dry-run", false, "use in-memory stores and bus; nothing is persisted")
	flag.BoolVar(&reconcile, "reconcile", false, "rebuild runner totals from completed records and exit")
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

	svcName := fmt.Sprintf("BACKFILL-%s", hostname)
	metadata := map[string]string{
		"service":     svcName,
		"hostname":    hostname,
		"environment": cfg.Service.Environment,
		"app":         serviceType,
	}

	log = logger.NewWithMetadata(os.Stdout, logLevel(cfg.Log.Level), svcName, traceIDFn, logEvents, metadata)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		sig := <-sigCh
		log.Info(ctx, "Received shutdown signal, stopping", "signal", sig)
		cancel()
	}()

	var tracer trace.Tracer
	var mp metric.MeterProvider
	telemetryTeardown := func(context.Context) {}
	if cfg.Telemetry.Enabled {
		tp, teardown, err := otel.InitTelemetry(log, otel.Config{
			ServiceName:      cfg.Service.Name,
			ExporterEndpoint: cfg.Telemetry.ExporterEndpoint,
			Probability:      cfg.Telemetry.SamplingRatio,
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

	metricCollector, err := ingest.NewIngestMetrics(mp)
	if err != nil {
		log.Error(ctx, "failed to create metrics collector", "error", err)
		os.Exit(1)
	}

	// Dry runs crawl the real feed and run real extraction, but every write
	// lands in process-local stores and the in-process bus.
	var (
		records     tracking.RecordRepository
		totals      tracking.TotalsRepository
		runners     tracking.RunnerRepository
		checkpoints feed.CheckpointRepository
		eventBus    events.EventBus
	)
	if dryRun {
		if reconcile {
			log.Error(ctx, "reconcile requires the real database, not -dry-run")
			os.Exit(2)
		}
		records = recordmem.NewRecordStore()
		totals = totalsmem.NewTotalsStore()
		runners = runnermem.NewRunnerStore()
		checkpoints = checkpointmem.NewCheckpointStore()
		eventBus = membus.NewEventBus()
		log.Info(ctx, "Dry run: using in-memory stores and event bus")
	} else {
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

		records = recordStore.NewRecordStore(pool, tracer)
		totals = totalsStore.NewTotalsStore(pool, tracer)
		runners = runnerStore.NewRunnerStore(pool, tracer)
		checkpoints = checkpointStore.NewCheckpointStore(pool, tracer)

		// Reconcile is a repair pass over existing records; it needs the
		// database and nothing else, so it runs before the broker connect.
		if reconcile {
			seeder := backfill.NewSeeder(backfill.Config{}, nil, checkpoints, runners, totals, nil, log, tracer)
			rebuilt, err := seeder.Reconcile(ctx)
			if err != nil {
				log.Error(ctx, "failed to reconcile totals", "error", err)
				os.Exit(1)
			}
			log.Info(ctx, "Totals reconciled from completed records", "runners_rebuilt", rebuilt)
			return
		}

		bus, err := kafka.ConnectWithRetry(&kafka.Config{
			Brokers:           cfg.Kafka.Brokers,
			CastCreatedTopic:  cfg.Kafka.CastCreatedTopic,
			RecordEventsTopic: cfg.Kafka.RecordEventsTopic,
			GroupID:           fmt.Sprintf("%s-%s", serviceType, hostname),
			ClientID:          svcName,
		}, log, metricCollector, tracer)
		if err != nil {
			log.Error(ctx, "failed to connect event bus", "error", err)
			os.Exit(1)
		}
		eventBus = bus
	}
	defer func() {
		if err := eventBus.Close(); err != nil {
			log.Error(ctx, "Failed to close event bus", "error", err)
		}
	}()

	eventPublisher := kafka.NewDomainEventPublisher(eventBus, events.NewDomainEventTranslator())

	channels, err := resolveChannels(ctx, channelName, channelsFile)
	if err != nil {
		log.Error(ctx, "failed to resolve channels", "error", err)
		os.Exit(2)
	}

	if cfg.Neynar.APIKey == "" {
		log.Error(ctx, "neynar api key must be configured")
		os.Exit(1)
	}
	if cfg.OpenAI.APIKey == "" {
		log.Error(ctx, "openai api key must be configured")
		os.Exit(1)
	}

	source := neynar.NewClient(
		&http.Client{Timeout: 30 * time.Second},
		cfg.Neynar.BaseURL,
		cfg.Neynar.APIKey,
		cfg.Neynar.RequestsPerSec,
		cfg.Neynar.Burst,
		tracer,
	)

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

	exitCode := 0
	for _, spec := range channels {
		if ctx.Err() != nil {
			break
		}

		runCfg := backfill.Config{
			Channel:  spec.Name,
			PageSize: pageSize,
			Workers:  workers,
			MaxPages: maxPages,
			Resume:   resume,
		}
		if spec.PageSize > 0 {
			runCfg.PageSize = spec.PageSize
		}
		if spec.MaxPages > 0 {
			runCfg.MaxPages = spec.MaxPages
		}

		seeder := backfill.NewSeeder(runCfg, source, checkpoints, runners, totals, orch, log, tracer)
		summary, err := seeder.Run(ctx)

		log.Info(ctx, "Channel backfill finished",
			"channel", spec.Name,
			"session_id", summary.SessionID,
			"pages", summary.Pages,
			"casts", summary.Casts,
			"accepted", summary.Accepted,
			"duplicates", summary.Duplicates,
			"not_workout", summary.NotWorkout,
			"rejected", summary.Rejected,
			"failed", summary.Failed,
			"refused", summary.Refused,
		)
		if err != nil {
			log.Error(ctx, "Channel backfill aborted", "channel", spec.Name, "error", err)
			exitCode = 1
		}
	}

	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

// resolveChannels turns the -channel and -channels flags into the list of
// channels to crawl. Exactly one of the two must be provided.
func resolveChannels(ctx context.Context, channelName, channelsFile string) ([]config.ChannelSpec, error) {
	switch {
	case channelName != "" && channelsFile != "":
		return nil, fmt.Errorf("-channel and -channels are mutually exclusive")
	case channelsFile != "":
		channels, err := fileloader.NewFileLoader(channelsFile).Load(ctx)
		if err != nil {
			return nil, err
		}
		if len(channels) == 0 {
			return nil, fmt.Errorf("channel file %s lists no channels", channelsFile)
		}
		return channels, nil
	case channelName != "":
		return []config.ChannelSpec{{Name: channelName}}, nil
	default:
		return nil, fmt.Errorf("either -channel or -channels is required")
	}
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
