package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/uptrace/opentelemetry-go-extra/otelsql"
	"github.com/uptrace/opentelemetry-go-extra/otelsqlx"

	"github.com/touchlinehq/touchline/external/opshook"
	"github.com/touchlinehq/touchline/external/rankhub"
	"github.com/touchlinehq/touchline/internal/config"
	"github.com/touchlinehq/touchline/internal/domain/event"
	"github.com/touchlinehq/touchline/internal/domain/joblog"
	"github.com/touchlinehq/touchline/internal/domain/match"
	"github.com/touchlinehq/touchline/internal/domain/staging"
	"github.com/touchlinehq/touchline/internal/domain/standings"
	"github.com/touchlinehq/touchline/internal/domain/team"
	cacherepo "github.com/touchlinehq/touchline/internal/infrastructure/repository/cache"
	"github.com/touchlinehq/touchline/internal/infrastructure/repository/memory"
	"github.com/touchlinehq/touchline/internal/infrastructure/repository/postgres"
	basecache "github.com/touchlinehq/touchline/internal/platform/cache"
	"github.com/touchlinehq/touchline/internal/platform/checkpoint"
	"github.com/touchlinehq/touchline/internal/platform/fetch"
	idgen "github.com/touchlinehq/touchline/internal/platform/id"
	"github.com/touchlinehq/touchline/internal/platform/logging"
	"github.com/touchlinehq/touchline/internal/platform/resilience"
	"github.com/touchlinehq/touchline/internal/sources"
	"github.com/touchlinehq/touchline/internal/usecase"
)

// Options carries optional collaborators that have no config representation.
// Deployments that sidecar a headless renderer inject it here; without one,
// headless adapters fail fast at scrape time.
type Options struct {
	Renderer fetch.Renderer
}

// App owns every wired pipeline service for one process. The storage driver
// decides what backs the repositories: postgres for real runs, memory for
// demos and tests that should not touch a database.
type App struct {
	Config   config.Config
	Logger   *logging.Logger
	DB       *sqlx.DB
	Registry *sources.Registry

	Scrape       *usecase.ScrapeService
	Promotion    *usecase.PromotionService
	Standings    *usecase.StandingsPromotionService
	Links        *usecase.LinkInferenceService
	Views        *usecase.ViewRefreshService
	Repair       *usecase.NameRepairService
	Reconcile    *usecase.ReconciliationService
	Rankings     *usecase.RankingIngestionService
	Rebuild      *usecase.RebuildService
	Scheduler    *usecase.SchedulerService
	TeamResolver *usecase.TeamResolverService
}

func New(ctx context.Context, cfg config.Config, logger *logging.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = logging.Default()
	}

	registry, err := sources.DefaultRegistry(ctx)
	if err != nil {
		return nil, fmt.Errorf("build adapter registry: %w", err)
	}

	checkpoints, err := checkpoint.NewStore(cfg.CheckpointDir)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint store: %w", err)
	}

	client := fetch.NewClient(fetch.ClientConfig{
		RequestTimeout: cfg.FetchTimeout,
		Renderer:       opts.Renderer,
		Logger:         logger,
	})

	var (
		db               *sqlx.DB
		teams            team.Repository
		matches          match.Repository
		events           event.Repository
		stagingGames     staging.GameRepository
		stagingEvents    staging.EventRepository
		stagingStandings staging.StandingRepository
		standingRows     standings.Repository
		runs             joblog.Repository
		viewStore        usecase.ViewStore
	)

	switch cfg.StorageDriver {
	case config.StorageDriverMemory:
		teams = memory.NewTeamRepository(memory.SeedTeams())
		matches = memory.NewMatchRepository()
		events = memory.NewEventRepository(memory.SeedEvents())
		stagingGames = memory.NewStagingGameRepository()
		stagingEvents = memory.NewStagingEventRepository()
		stagingStandings = memory.NewStagingStandingRepository()
		standingRows = memory.NewLeagueStandingRepository()
		runs = memory.NewJobRunRepository()
		viewStore = memory.NewViewRefresher()
	default:
		db, err = connectDB(cfg)
		if err != nil {
			return nil, err
		}
		teams = postgres.NewTeamRepository(db)
		matches = postgres.NewMatchRepository(db)
		events = postgres.NewEventRepository(db)
		stagingGames = postgres.NewStagingGameRepository(db)
		stagingEvents = postgres.NewStagingEventRepository(db)
		stagingStandings = postgres.NewStagingStandingRepository(db)
		standingRows = postgres.NewLeagueStandingRepository(db)
		runs = postgres.NewJobRunRepository(db)
		viewStore = postgres.NewViewRefresher(db)
	}

	if cfg.CacheEnabled {
		store := basecache.NewStore(cfg.CacheTTL)
		teams = cacherepo.NewTeamRepository(teams, store)
		events = cacherepo.NewEventRepository(events, store)
	}

	teamResolver := usecase.NewTeamResolverService(teams, cfg.ResolverSimilarityThreshold, logger)
	eventResolver := usecase.NewEventResolverService(events, logger)
	views := usecase.NewViewRefreshService(viewStore, logger)

	scrape := usecase.NewScrapeService(
		registry,
		client,
		checkpoints,
		stagingGames,
		stagingEvents,
		memory.NewStagingGameRepository(),
		memory.NewStagingEventRepository(),
		usecase.ScrapeConfig{
			EventWorkers:      cfg.ScrapeEventWorkers,
			SubRequestWorkers: cfg.ScrapeSubRequestWorkers,
			EventTimeout:      cfg.ScrapeEventTimeout,
		},
		logger,
	)

	promotion := usecase.NewPromotionService(
		stagingGames,
		matches,
		teams,
		teamResolver,
		eventResolver,
		views,
		registry,
		usecase.PromotionConfig{BatchSize: cfg.PromoteBatchSize, MaxIters: cfg.PromoteMaxIters},
		logger,
	)

	standingsPromotion := usecase.NewStandingsPromotionService(
		stagingStandings,
		standingRows,
		teamResolver,
		eventResolver,
		logger,
	)

	links := usecase.NewLinkInferenceService(matches, views, usecase.LinkInferenceConfig{}, logger)
	repair := usecase.NewNameRepairService(teams, usecase.NameRepairConfig{}, logger)
	reconcile := usecase.NewReconciliationService(
		teams,
		usecase.ReconciliationConfig{Threshold: cfg.ReconcileSimilarityThreshold},
		logger,
	)

	var rankings *usecase.RankingIngestionService
	if cfg.RankHubEnabled {
		provider := rankhub.NewClient(rankhub.ClientConfig{
			BaseURL:    cfg.RankHubBaseURL,
			Token:      cfg.RankHubToken,
			Timeout:    cfg.RankHubTimeout,
			MaxRetries: cfg.RankHubMaxRetries,
			Logger:     logger,
			CircuitBreaker: resilience.CircuitBreakerConfig{
				Enabled:          cfg.RankHubCircuitEnabled,
				FailureThreshold: cfg.RankHubCircuitFailureCount,
				OpenTimeout:      cfg.RankHubCircuitOpenTimeout,
				HalfOpenMaxReq:   cfg.RankHubCircuitHalfOpenMaxReq,
			},
		})
		rankings = usecase.NewRankingIngestionService(provider, teamResolver, teams, usecase.RankingIngestionConfig{}, logger)
	}

	// Rebuild needs real shadow tables; there is no memory twin for DDL.
	var rebuild *usecase.RebuildService
	if db != nil {
		shadowTeams := postgres.NewRebuildTeamRepository(db)
		shadowMatches := postgres.NewRebuildMatchRepository(db)
		shadowResolver := usecase.NewTeamResolverService(shadowTeams, cfg.ResolverSimilarityThreshold, logger)
		rebuild = usecase.NewRebuildService(
			postgres.NewRebuildRepository(db),
			stagingGames,
			events,
			shadowTeams,
			shadowMatches,
			shadowResolver,
			teams,
			matches,
			views,
			registry,
			usecase.RebuildConfig{BatchSize: cfg.PromoteBatchSize},
			logger,
		)
	}

	notifier := usecase.NewNoopOpsNotifier()
	if cfg.OpsHookEnabled {
		notifier = opshook.NewNotifier(opshook.NotifierConfig{
			WebhookURL: cfg.OpsHookURL,
			Token:      cfg.OpsHookToken,
			Timeout:    cfg.OpsHookTimeout,
			CircuitBreaker: resilience.CircuitBreakerConfig{
				Enabled:          cfg.OpsHookCircuitEnabled,
				FailureThreshold: cfg.OpsHookCircuitFailureCount,
				OpenTimeout:      cfg.OpsHookCircuitOpenTimeout,
				HalfOpenMaxReq:   cfg.OpsHookCircuitHalfOpenMaxReq,
			},
		}, logger)
	}

	scheduler := usecase.NewSchedulerService(
		scrape,
		promotion,
		standingsPromotion,
		links,
		views,
		repair,
		reconcile,
		matches,
		runs,
		notifier,
		idgen.NewRandomGenerator(),
		usecase.SchedulerConfig{
			JobTimeout:      cfg.MaintenanceRunDeadline,
			DailySyncSpec:   cfg.CronDailySync,
			PromoteSpec:     cfg.CronNightlyPromote,
			InferLinksSpec:  cfg.CronNightlyInferLinks,
			ViewRefreshSpec: cfg.CronNightlyViewRefresh,
			ReconcileSpec:   cfg.CronWeeklyReconcile,
		},
		logger,
	)

	return &App{
		Config:       cfg,
		Logger:       logger,
		DB:           db,
		Registry:     registry,
		Scrape:       scrape,
		Promotion:    promotion,
		Standings:    standingsPromotion,
		Links:        links,
		Views:        views,
		Repair:       repair,
		Reconcile:    reconcile,
		Rankings:     rankings,
		Rebuild:      rebuild,
		Scheduler:    scheduler,
		TeamResolver: teamResolver,
	}, nil
}

// Close releases the database pool. Safe on a memory-backed App.
func (a *App) Close() error {
	if a.DB == nil {
		return nil
	}

	return a.DB.Close()
}

func connectDB(cfg config.Config) (*sqlx.DB, error) {
	dbURL := normalizeDBURL(cfg.DatabaseURL, cfg.DBDisablePreparedBinary)

	db, err := otelsqlx.Connect("postgres", dbURL,
		otelsql.WithDBName(dbNameFromURL(dbURL)),
		otelsql.WithQueryFormatter(formatDBQueryForTrace),
	)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)

	return db, nil
}
