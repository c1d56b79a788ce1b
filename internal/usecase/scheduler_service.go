package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/touchlinehq/touchline/internal/domain/joblog"
	"github.com/touchlinehq/touchline/internal/domain/match"
	"github.com/touchlinehq/touchline/internal/platform/id"
	"github.com/touchlinehq/touchline/internal/platform/logging"
	"github.com/touchlinehq/touchline/internal/sources"
)

// Job names double as pipeline_runs keys, so renaming one orphans its history.
const (
	JobDailyActiveEventsSync = "daily_active_events_sync"
	JobNightlyPromote        = "nightly_promote"
	JobNightlyInferLinks     = "nightly_infer_links"
	JobNightlyViewRefresh    = "nightly_view_refresh"
	JobWeeklyReconciliation  = "weekly_reconciliation"
)

const (
	defaultActiveWindow   = 7 * 24 * time.Hour
	defaultJobTimeout     = 2 * time.Hour
	defaultAdapterWorkers = 2

	opsEventPipelineRun = "pipeline.run"
)

// OpsNotifier posts job run summaries to the operator webhook. Implemented
// by external/opshook.Notifier; the noop stands in when no webhook URL is
// configured.
type OpsNotifier interface {
	Notify(ctx context.Context, event string, deliveryID string, payload any) error
}

type noopOpsNotifier struct{}

func (noopOpsNotifier) Notify(_ context.Context, _ string, _ string, _ any) error {
	return nil
}

func NewNoopOpsNotifier() OpsNotifier {
	return noopOpsNotifier{}
}

// RunSummary is the ops webhook payload for one finished job run.
type RunSummary struct {
	Job        string         `json:"job"`
	RunID      string         `json:"run_id"`
	Status     string         `json:"status"`
	DurationMs int64          `json:"duration_ms"`
	Stats      map[string]any `json:"stats,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// SchedulerConfig tunes the recurring jobs. The cron expressions default to
// a staggered nightly chain: promote at 02:00 lands new matches, link
// inference follows at 03:30, views refresh at 04:15, and the 06:00 rescrape
// picks up score changes on recently active events. Reconciliation runs
// Monday mornings. All times are interpreted by the cron runner's location.
type SchedulerConfig struct {
	ActiveWindow   time.Duration
	JobTimeout     time.Duration
	AdapterWorkers int

	DailySyncSpec   string
	PromoteSpec     string
	InferLinksSpec  string
	ViewRefreshSpec string
	ReconcileSpec   string
}

func (c SchedulerConfig) normalized() SchedulerConfig {
	if c.ActiveWindow <= 0 {
		c.ActiveWindow = defaultActiveWindow
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaultJobTimeout
	}
	if c.AdapterWorkers <= 0 {
		c.AdapterWorkers = defaultAdapterWorkers
	}
	if strings.TrimSpace(c.DailySyncSpec) == "" {
		c.DailySyncSpec = "0 6 * * *"
	}
	if strings.TrimSpace(c.PromoteSpec) == "" {
		c.PromoteSpec = "0 2 * * *"
	}
	if strings.TrimSpace(c.InferLinksSpec) == "" {
		c.InferLinksSpec = "30 3 * * *"
	}
	if strings.TrimSpace(c.ViewRefreshSpec) == "" {
		c.ViewRefreshSpec = "15 4 * * *"
	}
	if strings.TrimSpace(c.ReconcileSpec) == "" {
		c.ReconcileSpec = "0 5 * * 1"
	}

	return c
}

// ScheduledJob names one recurring job and its cron expression.
type ScheduledJob struct {
	Name string
	Spec string
}

type scheduledJobSpec struct {
	name   string
	spec   string
	bucket time.Duration
	run    func(ctx context.Context) (map[string]any, error)
}

// SchedulerService owns the recurring pipeline jobs. Every run, scheduled
// or manual, gets a fresh run id, a durable pipeline_runs record, and an
// ops webhook summary; a failed job marks its record failed and the error
// travels to the caller untouched.
//
// The service does not tick on its own. The schedule command registers
// Jobs() with a cron runner and calls RunJob per fire, so manual run-once
// invocations leave records identical to scheduled ones.
type SchedulerService struct {
	scrape    *ScrapeService
	promotion *PromotionService
	standings *StandingsPromotionService
	links     *LinkInferenceService
	views     *ViewRefreshService
	repair    *NameRepairService
	reconcile *ReconciliationService
	matches   match.Repository
	runs      joblog.Repository
	notifier  OpsNotifier
	ids       id.Generator
	cfg       SchedulerConfig
	logger    *logging.Logger
	now       func() time.Time
}

func NewSchedulerService(
	scrape *ScrapeService,
	promotion *PromotionService,
	standings *StandingsPromotionService,
	links *LinkInferenceService,
	views *ViewRefreshService,
	repair *NameRepairService,
	reconcile *ReconciliationService,
	matches match.Repository,
	runs joblog.Repository,
	notifier OpsNotifier,
	ids id.Generator,
	cfg SchedulerConfig,
	logger *logging.Logger,
) *SchedulerService {
	if notifier == nil {
		notifier = NewNoopOpsNotifier()
	}
	if ids == nil {
		ids = id.NewRandomGenerator()
	}
	if logger == nil {
		logger = logging.Default()
	}

	return &SchedulerService{
		scrape:    scrape,
		promotion: promotion,
		standings: standings,
		links:     links,
		views:     views,
		repair:    repair,
		reconcile: reconcile,
		matches:   matches,
		runs:      runs,
		notifier:  notifier,
		ids:       ids,
		cfg:       cfg.normalized(),
		logger:    logger,
		now:       time.Now,
	}
}

// Jobs lists the recurring jobs with their cron expressions.
func (s *SchedulerService) Jobs() []ScheduledJob {
	specs := s.jobs()
	jobs := make([]ScheduledJob, 0, len(specs))
	for _, spec := range specs {
		jobs = append(jobs, ScheduledJob{Name: spec.name, Spec: spec.spec})
	}

	return jobs
}

// RunJob runs one named job to completion and returns its run record.
func (s *SchedulerService) RunJob(ctx context.Context, name string) (joblog.Run, error) {
	name = strings.TrimSpace(name)
	for _, job := range s.jobs() {
		if job.name == name {
			return s.runJob(ctx, job)
		}
	}

	return joblog.Run{}, fmt.Errorf("%w: unknown job %q", ErrInvalidInput, name)
}

func (s *SchedulerService) jobs() []scheduledJobSpec {
	const day = 24 * time.Hour

	return []scheduledJobSpec{
		{name: JobDailyActiveEventsSync, spec: s.cfg.DailySyncSpec, bucket: day, run: s.dailyActiveEventsSync},
		{name: JobNightlyPromote, spec: s.cfg.PromoteSpec, bucket: day, run: s.nightlyPromote},
		{name: JobNightlyInferLinks, spec: s.cfg.InferLinksSpec, bucket: day, run: s.nightlyInferLinks},
		{name: JobNightlyViewRefresh, spec: s.cfg.ViewRefreshSpec, bucket: day, run: s.nightlyViewRefresh},
		{name: JobWeeklyReconciliation, spec: s.cfg.ReconcileSpec, bucket: 7 * day, run: s.weeklyReconciliation},
	}
}

func (s *SchedulerService) runJob(ctx context.Context, job scheduledJobSpec) (joblog.Run, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.Scheduler.RunJob")
	defer span.End()

	runID, err := s.ids.NewID()
	if err != nil {
		return joblog.Run{}, fmt.Errorf("issue run id: %w", err)
	}

	startedAt := s.now().UTC()
	slot := runSlot(job.name, startedAt, job.bucket)

	record := joblog.Run{
		RunID:     runID,
		JobName:   job.name,
		Status:    joblog.StatusRunning,
		Stats:     map[string]any{"slot": slot},
		StartedAt: startedAt,
	}
	record.TraceID, record.SpanID = traceMetaFromContext(ctx)
	s.recordRun(ctx, record)

	s.logger.InfoContext(ctx, "pipeline job started", "job", job.name, "run_id", runID, "slot", slot)

	jobCtx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	stats, runErr := job.run(jobCtx)
	cancel()

	finishedAt := s.now().UTC()
	if stats == nil {
		stats = map[string]any{}
	}
	stats["slot"] = slot

	record.Stats = stats
	record.FinishedAt = &finishedAt
	record.Status = joblog.StatusCompleted
	if runErr != nil {
		record.Status = joblog.StatusFailed
		record.ErrorMessage = runErr.Error()
	}
	s.recordRun(ctx, record)

	summary := RunSummary{
		Job:        job.name,
		RunID:      runID,
		Status:     string(record.Status),
		DurationMs: finishedAt.Sub(startedAt).Milliseconds(),
		Stats:      stats,
		Error:      record.ErrorMessage,
	}
	// A webhook outage never fails a job that already did its work.
	if err := s.notifier.Notify(ctx, opsEventPipelineRun, runID, summary); err != nil {
		s.logger.WarnContext(ctx, "ops webhook notify failed", "job", job.name, "run_id", runID, "error", err)
	}

	s.logger.InfoContext(ctx, "pipeline job finished",
		"job", job.name,
		"run_id", runID,
		"status", string(record.Status),
		"duration_ms", summary.DurationMs,
	)

	return record, runErr
}

func (s *SchedulerService) recordRun(ctx context.Context, run joblog.Run) {
	if s.runs == nil {
		return
	}
	if err := s.runs.UpsertRun(ctx, run); err != nil {
		s.logger.WarnContext(ctx, "record pipeline run failed", "job", run.JobName, "run_id", run.RunID, "error", err)
	}
}

// dailyActiveEventsSync rescrapes every source event touched by a production
// match within the active window, one engine run per adapter, fanned out on
// a bounded pool. An adapter failure is contained until all adapters have
// run, then fails the job with the partial results kept in the stats.
func (s *SchedulerService) dailyActiveEventsSync(ctx context.Context) (map[string]any, error) {
	now := s.now().UTC()
	from, to := now.Add(-s.cfg.ActiveWindow), now.Add(s.cfg.ActiveWindow)

	active, err := s.matches.ListActiveSourceEvents(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("list active source events: %w", err)
	}

	stats := map[string]any{
		"window_from": from.Format(time.RFC3339),
		"window_to":   to.Format(time.RFC3339),
		"events":      len(active),
	}
	if len(active) == 0 {
		return stats, nil
	}

	byAdapter := make(map[string][]sources.EventRef)
	for _, ref := range active {
		byAdapter[ref.SourcePlatform] = append(byAdapter[ref.SourcePlatform], sources.EventRef{ID: ref.SourceEventID})
	}
	stats["adapters"] = len(byAdapter)

	workerPool, err := ants.NewPool(s.cfg.AdapterWorkers)
	if err != nil {
		return stats, fmt.Errorf("create adapter worker pool: %w", err)
	}
	defer workerPool.Release()

	var mu sync.Mutex
	var workers sync.WaitGroup
	runs := make(map[string]RunStats, len(byAdapter))
	failures := make(map[string]string)

	for adapterID, refs := range byAdapter {
		adapterID, refs := adapterID, refs
		workers.Add(1)
		if err := workerPool.Submit(func() {
			defer workers.Done()

			// Force rescrapes events the checkpoint already marks
			// completed; picking up score changes is the point here.
			runStats, runErr := s.scrape.RunEvents(ctx, adapterID, refs, RunOptions{Force: true})
			runStats.Outcomes = nil // keep the run record small

			mu.Lock()
			defer mu.Unlock()
			runs[adapterID] = runStats
			if runErr != nil {
				failures[adapterID] = runErr.Error()
			}
		}); err != nil {
			workers.Done()
			return stats, fmt.Errorf("submit adapter refresh: %w", err)
		}
	}
	workers.Wait()

	stats["runs"] = runs
	if len(failures) > 0 {
		stats["failures"] = failures
		return stats, fmt.Errorf("refresh active events: %d of %d adapter runs failed", len(failures), len(byAdapter))
	}

	return stats, nil
}

func (s *SchedulerService) nightlyPromote(ctx context.Context) (map[string]any, error) {
	stats := map[string]any{}

	promoted, err := s.promotion.Run(ctx)
	stats["promote"] = promoted
	if err != nil {
		return stats, fmt.Errorf("promote staged games: %w", err)
	}

	tables, err := s.standings.Run(ctx)
	stats["standings"] = tables
	if err != nil {
		return stats, fmt.Errorf("promote staged standings: %w", err)
	}

	return stats, nil
}

func (s *SchedulerService) nightlyInferLinks(ctx context.Context) (map[string]any, error) {
	result, err := s.links.Run(ctx, false)
	stats := map[string]any{"links": result}
	if err != nil {
		return stats, fmt.Errorf("infer event links: %w", err)
	}

	return stats, nil
}

func (s *SchedulerService) nightlyViewRefresh(ctx context.Context) (map[string]any, error) {
	result, err := s.views.RefreshAll(ctx)
	stats := map[string]any{"views": result}
	if err != nil {
		return stats, fmt.Errorf("refresh serving views: %w", err)
	}

	return stats, nil
}

// weeklyReconciliation repairs duplicated name prefixes first, so the
// ranked-orphan pass matches against clean names.
func (s *SchedulerService) weeklyReconciliation(ctx context.Context) (map[string]any, error) {
	stats := map[string]any{}

	repaired, err := s.repair.Run(ctx, false)
	stats["name_repair"] = repaired
	if err != nil {
		return stats, fmt.Errorf("repair team names: %w", err)
	}

	merged, err := s.reconcile.Run(ctx, false)
	stats["reconciliation"] = merged
	if err != nil {
		return stats, fmt.Errorf("reconcile ranked teams: %w", err)
	}

	return stats, nil
}

// runSlot buckets a run into its schedule window, so retries and manual
// reruns within one window group together in the run log.
func runSlot(jobName string, at time.Time, bucket time.Duration) string {
	if bucket <= 0 {
		bucket = 24 * time.Hour
	}

	return jobName + "-" + at.UTC().Truncate(bucket).Format("20060102T150405Z")
}
