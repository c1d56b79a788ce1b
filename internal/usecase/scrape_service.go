package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/panjf2000/ants/v2"
	"github.com/sourcegraph/conc/pool"

	"github.com/touchlinehq/touchline/internal/domain/staging"
	"github.com/touchlinehq/touchline/internal/platform/checkpoint"
	"github.com/touchlinehq/touchline/internal/platform/fetch"
	"github.com/touchlinehq/touchline/internal/platform/logging"
	"github.com/touchlinehq/touchline/internal/sources"
)

const (
	defaultEventWorkers      = 5
	defaultSubRequestWorkers = 3
	defaultEventTimeout      = 10 * time.Minute

	stagingInsertChunkSize = 500

	eventStatusCompleted = "completed"
	eventStatusFailed    = "error"
	eventStatusSkipped   = "skipped"
)

// ScrapeConfig bounds one engine run: how many events run at once, how many
// sub-requests one event may fan out to, and how long one event may take.
type ScrapeConfig struct {
	EventWorkers      int
	SubRequestWorkers int
	EventTimeout      time.Duration
}

func (c ScrapeConfig) normalized() ScrapeConfig {
	if c.EventWorkers <= 0 {
		c.EventWorkers = defaultEventWorkers
	}
	if c.SubRequestWorkers <= 0 {
		c.SubRequestWorkers = defaultSubRequestWorkers
	}
	if c.EventTimeout <= 0 {
		c.EventTimeout = defaultEventTimeout
	}

	return c
}

// RunOptions narrows one scrape run. Force rescrapes events the checkpoint
// already marks completed; the daily refresh job uses it to pick up score
// changes on events scraped in earlier runs.
type RunOptions struct {
	EventFilter []string
	DryRun      bool
	Force       bool
}

// EventOutcome is the per-event row of a run summary.
type EventOutcome struct {
	EventID    string `json:"event_id"`
	EventName  string `json:"event_name,omitempty"`
	Status     string `json:"status"`
	Matches    int    `json:"matches"`
	Inserted   int64  `json:"inserted"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// RunStats summarizes one engine run over one adapter.
type RunStats struct {
	AdapterID     string         `json:"adapter_id"`
	DryRun        bool           `json:"dry_run,omitempty"`
	Events        int            `json:"events"`
	Skipped       int            `json:"skipped"`
	Completed     int            `json:"completed"`
	Failed        int            `json:"failed"`
	Matches       int            `json:"matches"`
	Inserted      int64          `json:"inserted"`
	RateLimitHits int            `json:"rate_limit_hits"`
	ServerErrors  int            `json:"server_errors"`
	Outcomes      []EventOutcome `json:"outcomes,omitempty"`
}

// ScrapeService drives source adapters over their events and lands the
// output in staging. Every request of a run paces through one shared rate
// controller; progress survives crashes in a per-adapter checkpoint file, so
// a rerun picks up where the last run stopped.
//
// An event failure is contained: the checkpoint records it and the run moves
// on. A staging write failure aborts the whole run, because every later
// event would lose data the same way.
type ScrapeService struct {
	registry    *sources.Registry
	client      *fetch.Client
	checkpoints *checkpoint.Store
	games       staging.GameRepository
	events      staging.EventRepository
	dryRunGames staging.GameRepository
	dryRunEvent staging.EventRepository
	cfg         ScrapeConfig
	logger      *logging.Logger
	now         func() time.Time
}

// NewScrapeService wires the engine. The dry-run repositories receive all
// staging writes when RunOptions.DryRun is set; pass memory-backed ones.
func NewScrapeService(
	registry *sources.Registry,
	client *fetch.Client,
	checkpoints *checkpoint.Store,
	games staging.GameRepository,
	events staging.EventRepository,
	dryRunGames staging.GameRepository,
	dryRunEvents staging.EventRepository,
	cfg ScrapeConfig,
	logger *logging.Logger,
) *ScrapeService {
	if logger == nil {
		logger = logging.Default()
	}

	return &ScrapeService{
		registry:    registry,
		client:      client,
		checkpoints: checkpoints,
		games:       games,
		events:      events,
		dryRunGames: dryRunGames,
		dryRunEvent: dryRunEvents,
		cfg:         cfg.normalized(),
		logger:      logger,
		now:         time.Now,
	}
}

// Run resolves the adapter's event list (static plus discovery), truncates
// it to the adapter's per-run cap, and scrapes the remainder.
func (s *ScrapeService) Run(ctx context.Context, adapterID string, opts RunOptions) (RunStats, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.Scrape.Run")
	defer span.End()

	adapter, ok := s.registry.Get(adapterID)
	if !ok {
		return RunStats{}, fmt.Errorf("%w: unknown adapter %q", ErrInvalidInput, adapterID)
	}

	ctl := fetch.NewRateController(adapter.RateLimits)
	rt := s.runtime(adapter, ctl)

	refs, err := s.resolveEvents(ctx, rt, adapter, opts.EventFilter)
	if err != nil {
		return RunStats{AdapterID: adapter.ID, DryRun: opts.DryRun}, err
	}

	return s.runRefs(ctx, adapter, ctl, rt, refs, opts)
}

// RunEvents scrapes an explicit set of events, bypassing discovery and the
// per-run event cap. The scheduler uses this to refresh events already seen
// in production data.
func (s *ScrapeService) RunEvents(ctx context.Context, adapterID string, refs []sources.EventRef, opts RunOptions) (RunStats, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.Scrape.RunEvents")
	defer span.End()

	adapter, ok := s.registry.Get(adapterID)
	if !ok {
		return RunStats{}, fmt.Errorf("%w: unknown adapter %q", ErrInvalidInput, adapterID)
	}
	if len(refs) == 0 {
		return RunStats{AdapterID: adapter.ID, DryRun: opts.DryRun}, nil
	}

	ctl := fetch.NewRateController(adapter.RateLimits)

	return s.runRefs(ctx, adapter, ctl, s.runtime(adapter, ctl), refs, opts)
}

func (s *ScrapeService) runRefs(
	ctx context.Context,
	adapter sources.Adapter,
	ctl *fetch.RateController,
	rt sources.Runtime,
	refs []sources.EventRef,
	opts RunOptions,
) (RunStats, error) {
	stats := RunStats{AdapterID: adapter.ID, DryRun: opts.DryRun, Events: len(refs)}

	games, eventSink := s.games, s.events
	if opts.DryRun {
		if s.dryRunGames == nil || s.dryRunEvent == nil {
			return stats, fmt.Errorf("%w: dry run requested without dry-run staging repositories", ErrInvalidInput)
		}
		games, eventSink = s.dryRunGames, s.dryRunEvent
	}

	// Dry runs bypass the checkpoint entirely: nothing is skipped and
	// nothing is recorded.
	file := checkpoint.File{}
	if !opts.DryRun {
		loaded, err := s.checkpoints.Load(adapter.ID)
		if err != nil {
			return stats, err
		}
		file = loaded
	}

	pending := make([]sources.EventRef, 0, len(refs))
	for _, ref := range refs {
		if !opts.DryRun && !opts.Force && file.Done(ref.ID) {
			stats.Skipped++
			stats.Outcomes = append(stats.Outcomes, EventOutcome{
				EventID:   ref.ID,
				EventName: ref.Name,
				Status:    eventStatusSkipped,
			})
			continue
		}
		pending = append(pending, ref)
	}

	workerPool, err := ants.NewPool(s.cfg.EventWorkers)
	if err != nil {
		return stats, fmt.Errorf("create event worker pool: %w", err)
	}
	defer workerPool.Release()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type eventResult struct {
		outcome EventOutcome
		fatal   error
	}
	results := make(chan eventResult, len(pending))

	// guards the checkpoint file across event workers
	var checkpointMu sync.Mutex

	var workers sync.WaitGroup
	for _, ref := range pending {
		ref := ref
		workers.Add(1)
		if err := workerPool.Submit(func() {
			defer workers.Done()

			if runCtx.Err() != nil {
				return
			}

			outcome, fatal := s.scrapeOneEvent(runCtx, rt, adapter, ref, games, eventSink)

			if !opts.DryRun {
				checkpointMu.Lock()
				switch outcome.Status {
				case eventStatusCompleted:
					file.MarkCompleted(ref.ID, outcome.Matches, s.now())
				case eventStatusFailed:
					file.MarkFailed(ref.ID, outcome.Error, s.now())
				}
				if err := s.checkpoints.Save(adapter.ID, file); err != nil {
					s.logger.WarnContext(runCtx, "persist checkpoint failed",
						"adapter", adapter.ID,
						"event", ref.ID,
						"error", err,
					)
				}
				checkpointMu.Unlock()
			}

			if fatal != nil {
				cancel()
			}
			results <- eventResult{outcome: outcome, fatal: fatal}

			waitBetween(runCtx, adapter.RateLimits.BetweenEvents)
		}); err != nil {
			workers.Done()
			return stats, fmt.Errorf("submit event to worker pool: %w", err)
		}
	}

	workers.Wait()
	close(results)

	var fatal error
	for res := range results {
		stats.Outcomes = append(stats.Outcomes, res.outcome)
		switch res.outcome.Status {
		case eventStatusCompleted:
			stats.Completed++
			stats.Matches += res.outcome.Matches
			stats.Inserted += res.outcome.Inserted
		case eventStatusFailed:
			stats.Failed++
		}
		if fatal == nil && res.fatal != nil {
			fatal = res.fatal
		}
	}

	sort.SliceStable(stats.Outcomes, func(i, j int) bool {
		return stats.Outcomes[i].EventID < stats.Outcomes[j].EventID
	})

	snapshot := ctl.Snapshot()
	stats.RateLimitHits = snapshot.RateLimitHits
	stats.ServerErrors = snapshot.ServerErrors

	if fatal != nil {
		return stats, fatal
	}
	if err := ctx.Err(); err != nil {
		return stats, err
	}

	s.logger.InfoContext(ctx, "scrape run finished",
		"adapter", adapter.ID,
		"events", stats.Events,
		"skipped", stats.Skipped,
		"completed", stats.Completed,
		"failed", stats.Failed,
		"matches", stats.Matches,
		"inserted", stats.Inserted,
		"rate_limit_hits", stats.RateLimitHits,
		"dry_run", stats.DryRun,
	)

	return stats, nil
}

// scrapeOneEvent runs the adapter callback under the per-event timeout and
// lands the output. The second return is non-nil only for failures that must
// abort the whole run; adapter and fetch errors stay contained in the
// outcome.
func (s *ScrapeService) scrapeOneEvent(
	ctx context.Context,
	rt sources.Runtime,
	adapter sources.Adapter,
	ref sources.EventRef,
	games staging.GameRepository,
	eventSink staging.EventRepository,
) (EventOutcome, error) {
	start := time.Now()
	outcome := EventOutcome{EventID: ref.ID, EventName: ref.Name}

	eventCtx, cancel := context.WithTimeout(ctx, s.cfg.EventTimeout)
	defer cancel()

	matches, err := adapter.ScrapeEvent(eventCtx, rt, ref)
	if err != nil {
		outcome.Status = eventStatusFailed
		outcome.Error = err.Error()
		outcome.DurationMs = time.Since(start).Milliseconds()
		s.logger.WarnContext(ctx, "event scrape failed",
			"adapter", adapter.ID,
			"event", ref.ID,
			"error", err,
		)

		return outcome, nil
	}

	staged := s.stageable(adapter, matches)
	outcome.Matches = len(staged)

	rows := make([]staging.Game, 0, len(staged))
	for _, m := range staged {
		rows = append(rows, s.stagingRow(adapter, ref, m))
	}

	inserted, err := s.insertChunked(eventCtx, games, rows)
	outcome.Inserted = inserted
	if err != nil {
		outcome.Status = eventStatusFailed
		outcome.Error = err.Error()
		outcome.DurationMs = time.Since(start).Milliseconds()

		return outcome, fmt.Errorf("insert staged matches adapter=%s event=%s: %w", adapter.ID, ref.ID, err)
	}

	if _, err := eventSink.InsertMany(eventCtx, []staging.Event{s.stagingEvent(adapter, ref)}); err != nil {
		outcome.Status = eventStatusFailed
		outcome.Error = err.Error()
		outcome.DurationMs = time.Since(start).Milliseconds()

		return outcome, fmt.Errorf("register staged event adapter=%s event=%s: %w", adapter.ID, ref.ID, err)
	}

	outcome.Status = eventStatusCompleted
	outcome.DurationMs = time.Since(start).Milliseconds()
	s.logger.DebugContext(ctx, "event scraped",
		"adapter", adapter.ID,
		"event", ref.ID,
		"matches", outcome.Matches,
		"inserted", outcome.Inserted,
	)

	return outcome, nil
}

// resolveEvents builds the run's event list: the static list, anything
// discovery adds, minus duplicates, narrowed by the filter, truncated to the
// adapter's per-run cap.
func (s *ScrapeService) resolveEvents(
	ctx context.Context,
	rt sources.Runtime,
	adapter sources.Adapter,
	filter []string,
) ([]sources.EventRef, error) {
	refs := append([]sources.EventRef(nil), adapter.Discovery.Static...)
	if adapter.Discovery.Discover != nil {
		discovered, err := adapter.Discovery.Discover(ctx, rt)
		if err != nil {
			return nil, fmt.Errorf("discover events for %s: %w", adapter.ID, err)
		}
		refs = append(refs, discovered...)
	}

	want := make(map[string]struct{}, len(filter))
	for _, id := range filter {
		id = strings.ToLower(strings.TrimSpace(id))
		if id != "" {
			want[id] = struct{}{}
		}
	}

	seen := make(map[string]struct{}, len(refs))
	kept := make([]sources.EventRef, 0, len(refs))
	for _, ref := range refs {
		id := strings.ToLower(strings.TrimSpace(ref.ID))
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if len(want) > 0 {
			if _, ok := want[id]; !ok {
				continue
			}
		}
		kept = append(kept, ref)
	}

	if maxEvents := adapter.Policy.MaxEventsPerRun; maxEvents > 0 && len(kept) > maxEvents {
		s.logger.InfoContext(ctx, "event list truncated to per-run cap",
			"adapter", adapter.ID,
			"resolved", len(kept),
			"cap", maxEvents,
		)
		kept = kept[:maxEvents]
	}

	return kept, nil
}

// stageable applies the adapter's data policy and dedupes on match key;
// the first occurrence of a key wins.
func (s *ScrapeService) stageable(adapter sources.Adapter, matches []sources.StagedMatch) []sources.StagedMatch {
	now := s.now()
	seen := make(map[string]struct{}, len(matches))
	kept := make([]sources.StagedMatch, 0, len(matches))
	for _, m := range matches {
		if m.MatchKey == "" || !adapter.Policy.Allows(m, now) {
			continue
		}
		if _, dup := seen[m.MatchKey]; dup {
			continue
		}
		seen[m.MatchKey] = struct{}{}
		kept = append(kept, m)
	}

	return kept
}

func (s *ScrapeService) insertChunked(ctx context.Context, games staging.GameRepository, rows []staging.Game) (int64, error) {
	var inserted int64
	for start := 0; start < len(rows); start += stagingInsertChunkSize {
		end := start + stagingInsertChunkSize
		if end > len(rows) {
			end = len(rows)
		}
		n, err := games.InsertMany(ctx, rows[start:end])
		inserted += n
		if err != nil {
			return inserted, err
		}
	}

	return inserted, nil
}

func (s *ScrapeService) stagingRow(adapter sources.Adapter, ref sources.EventRef, m sources.StagedMatch) staging.Game {
	raw := "{}"
	if len(m.Raw) > 0 {
		if encoded, err := sonic.Marshal(m.Raw); err == nil {
			raw = string(encoded)
		}
	}

	eventID := m.EventID
	if eventID == "" {
		eventID = ref.ID
	}
	eventName := m.EventName
	if eventName == "" {
		eventName = ref.Name
	}

	return staging.Game{
		MatchDate:      m.Date,
		MatchTime:      m.Time,
		HomeTeamName:   m.HomeName,
		AwayTeamName:   m.AwayName,
		HomeScore:      m.HomeScore,
		AwayScore:      m.AwayScore,
		EventName:      eventName,
		EventID:        eventID,
		VenueName:      m.Venue,
		FieldName:      m.Field,
		Division:       m.Division,
		SourcePlatform: adapter.ID,
		SourceMatchKey: m.MatchKey,
		RawData:        raw,
		ScrapedAt:      s.now(),
	}
}

func (s *ScrapeService) stagingEvent(adapter sources.Adapter, ref sources.EventRef) staging.Event {
	eventType := "tournament"
	if ref.LeagueHint {
		eventType = "league"
	}

	// empty states normalize to NULL at ingest
	var state *string
	if trimmed := strings.TrimSpace(ref.State); trimmed != "" {
		state = &trimmed
	}

	raw := "{}"
	if encoded, err := sonic.Marshal(map[string]any{
		"id":     ref.ID,
		"name":   ref.Name,
		"state":  ref.State,
		"season": ref.Season,
	}); err == nil {
		raw = string(encoded)
	}

	return staging.Event{
		EventName:      ref.Name,
		EventType:      eventType,
		SourcePlatform: adapter.ID,
		SourceEventID:  ref.ID,
		State:          state,
		RawData:        raw,
		ScrapedAt:      s.now(),
	}
}

func (s *ScrapeService) runtime(adapter sources.Adapter, ctl *fetch.RateController) sources.Runtime {
	return &engineRuntime{
		client:  s.client,
		ctl:     ctl,
		adapter: adapter,
		workers: s.cfg.SubRequestWorkers,
		logger:  s.logger,
	}
}

func waitBetween(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// engineRuntime is the Runtime handed to adapter callbacks. All requests of
// a run pace through the run's shared rate controller.
type engineRuntime struct {
	client  *fetch.Client
	ctl     *fetch.RateController
	adapter sources.Adapter
	workers int
	logger  *logging.Logger
}

func (rt *engineRuntime) Fetch(ctx context.Context, url string) ([]byte, error) {
	return rt.client.Get(ctx, rt.ctl, fetch.Request{
		URL:        url,
		UserAgents: rt.adapter.UserAgents,
	})
}

func (rt *engineRuntime) Render(ctx context.Context, pageURL string) ([]byte, error) {
	return rt.client.Render(ctx, rt.ctl, pageURL)
}

// Parallel fans sub-requests out on a bounded pool. The first failure
// cancels the siblings and is returned alone.
func (rt *engineRuntime) Parallel(ctx context.Context, tasks []func(ctx context.Context) error) error {
	switch len(tasks) {
	case 0:
		return nil
	case 1:
		return tasks[0](ctx)
	}

	p := pool.New().
		WithContext(ctx).
		WithMaxGoroutines(rt.workers).
		WithCancelOnError().
		WithFirstError()
	for _, task := range tasks {
		task := task
		p.Go(task)
	}

	return p.Wait()
}

func (rt *engineRuntime) Logger() *logging.Logger {
	return rt.logger
}
