package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/touchlinehq/touchline/internal/domain/event"
	"github.com/touchlinehq/touchline/internal/domain/match"
	"github.com/touchlinehq/touchline/internal/domain/staging"
	"github.com/touchlinehq/touchline/internal/domain/team"
	"github.com/touchlinehq/touchline/internal/domain/teamname"
	"github.com/touchlinehq/touchline/internal/platform/logging"
	"github.com/touchlinehq/touchline/internal/sources"
)

// Validation floors a shadow must clear before it may replace production,
// as whole percentages of the production counts.
const (
	teamCoverageFloorPct  = 90
	matchCoverageFloorPct = 95
	keyCoverageFloorPct   = 99
)

// RebuildStore owns the shadow-table lifecycle: creation, the atomic swap
// into production, and the rollback that restores the backups.
type RebuildStore interface {
	PrepareShadow(ctx context.Context) error
	SwapPlan() []string
	ExecuteSwap(ctx context.Context) error
	RollbackPlan() []string
	ExecuteRollback(ctx context.Context) error
}

// RebuildConfig bounds one rebuild run.
type RebuildConfig struct {
	BatchSize int
}

func (c RebuildConfig) normalized() RebuildConfig {
	if c.BatchSize < minPromoteBatchSize {
		c.BatchSize = minPromoteBatchSize
	}
	if c.BatchSize > maxPromoteBatchSize {
		c.BatchSize = maxPromoteBatchSize
	}

	return c
}

// RebuildOptions selects the rebuild phases to run. A zero value runs both.
type RebuildOptions struct {
	CreateTables bool
	Process      bool
}

func (o RebuildOptions) normalized() RebuildOptions {
	if !o.CreateTables && !o.Process {
		o.CreateTables = true
		o.Process = true
	}

	return o
}

// RebuildResult reports one shadow rebuild.
type RebuildResult struct {
	Prepared      bool  `json:"prepared"`
	Scanned       int64 `json:"scanned"`
	Inserted      int64 `json:"inserted"`
	Updated       int64 `json:"updated"`
	Rejected      int64 `json:"rejected"`
	Denylisted    int64 `json:"denylisted"`
	TeamsCreated  int64 `json:"teams_created"`
	EventsMissing int64 `json:"events_missing"`
}

// RebuildCheck is one validation gate outcome. Strict checks advise by
// default and bind only under strict validation.
type RebuildCheck struct {
	Name   string `json:"name"`
	Pass   bool   `json:"pass"`
	Strict bool   `json:"strict,omitempty"`
	Detail string `json:"detail"`
}

// RebuildValidation is the full gate report. Pass covers the structural
// checks a swap requires; StrictPass additionally requires the data-quality
// rate checks.
type RebuildValidation struct {
	Pass       bool           `json:"pass"`
	StrictPass bool           `json:"strict_pass"`
	Checks     []RebuildCheck `json:"checks"`
}

// SwapResult reports one executed swap.
type SwapResult struct {
	Validation RebuildValidation `json:"validation"`
	Swapped    bool              `json:"swapped"`
	Views      ViewRefreshResult `json:"views"`
}

// RebuildService reconstructs production from the immutable staging history
// into shadow tables, validates the result against production, and swaps
// the shadow in. Rebuild writes stay inside the shadow tables: team identity
// resolves through a shadow-backed resolver, events resolve read-only
// against production, and denylisted keys are skipped so invalidated
// matches stay dead. Staging rows are never marked processed by a rebuild.
type RebuildService struct {
	store         RebuildStore
	games         staging.GameRepository
	events        event.Repository
	shadowTeams   team.Repository
	shadowMatches match.Repository
	teamResolver  *TeamResolverService
	liveTeams     team.Repository
	liveMatches   match.Repository
	views         *ViewRefreshService
	registry      *sources.Registry
	cfg           RebuildConfig
	logger        *logging.Logger
	now           func() time.Time
}

func NewRebuildService(
	store RebuildStore,
	games staging.GameRepository,
	events event.Repository,
	shadowTeams team.Repository,
	shadowMatches match.Repository,
	teamResolver *TeamResolverService,
	liveTeams team.Repository,
	liveMatches match.Repository,
	views *ViewRefreshService,
	registry *sources.Registry,
	cfg RebuildConfig,
	logger *logging.Logger,
) *RebuildService {
	if logger == nil {
		logger = logging.Default()
	}

	return &RebuildService{
		store:         store,
		games:         games,
		events:        events,
		shadowTeams:   shadowTeams,
		shadowMatches: shadowMatches,
		teamResolver:  teamResolver,
		liveTeams:     liveTeams,
		liveMatches:   liveMatches,
		views:         views,
		registry:      registry,
		cfg:           cfg.normalized(),
		logger:        logger,
		now:           time.Now,
	}
}

// Rebuild recreates the shadow tables and replays the full staging history
// into them, processed and unprocessed rows alike. Re-scraped keys collapse
// through the same upsert the promotion uses, so the shadow ends up with one
// row per surviving source key.
func (s *RebuildService) Rebuild(ctx context.Context, opts RebuildOptions) (RebuildResult, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.RebuildService.Rebuild")
	defer span.End()

	opts = opts.normalized()
	result := RebuildResult{}

	if opts.CreateTables {
		if err := s.store.PrepareShadow(ctx); err != nil {
			return result, fmt.Errorf("prepare shadow tables: %w", err)
		}
		result.Prepared = true
	}
	if !opts.Process {
		return result, nil
	}

	denylisted, err := s.liveMatches.ListDenylistedKeys(ctx)
	if err != nil {
		return result, fmt.Errorf("list denylisted keys: %w", err)
	}

	missingEvents := make(map[event.SourceKey]struct{})
	err = s.games.StreamAll(ctx, s.cfg.BatchSize, func(batch []staging.Game) error {
		return s.rebuildBatch(ctx, batch, denylisted, missingEvents, &result)
	})
	if err != nil {
		return result, fmt.Errorf("stream staging games: %w", err)
	}
	result.EventsMissing = int64(len(missingEvents))

	s.logger.InfoContext(ctx, "rebuild run finished",
		"prepared", result.Prepared,
		"scanned", result.Scanned,
		"inserted", result.Inserted,
		"updated", result.Updated,
		"rejected", result.Rejected,
		"denylisted", result.Denylisted,
		"teams_created", result.TeamsCreated,
		"events_missing", result.EventsMissing,
	)

	return result, nil
}

func (s *RebuildService) rebuildBatch(
	ctx context.Context,
	batch []staging.Game,
	denylisted map[string]struct{},
	missingEvents map[event.SourceKey]struct{},
	result *RebuildResult,
) error {
	now := s.now()
	seasonYear := teamname.SeasonYear(now)
	result.Scanned += int64(len(batch))

	rows := make([]promoteRow, 0, len(batch))
	teamReqs := make([]TeamResolveRequest, 0, len(batch)*2)
	eventReqs := make([]EventResolveRequest, 0, len(batch))
	for _, game := range batch {
		if _, dead := denylisted[game.SourceMatchKey]; dead {
			result.Denylisted++
			continue
		}
		row := newPromoteRow(game, seasonYear)
		teamReqs = append(teamReqs, row.homeReq, row.awayReq)
		if game.EventID != "" {
			eventReqs = append(eventReqs, row.eventReq)
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil
	}

	teamResolutions, err := s.teamResolver.ResolveBulk(ctx, teamReqs)
	if err != nil {
		return fmt.Errorf("resolve teams: %w", err)
	}
	eventResolutions, err := s.lookupEvents(ctx, eventReqs, missingEvents)
	if err != nil {
		return err
	}

	teamsByID, err := loadResolvedTeams(ctx, s.shadowTeams, teamResolutions)
	if err != nil {
		return err
	}

	created := make(map[int64]struct{})
	for _, res := range teamResolutions {
		if res.Created {
			created[res.TeamID] = struct{}{}
		}
	}
	result.TeamsCreated += int64(len(created))

	windows := dateWindows{registry: s.registry, now: now}
	candidates := make([]match.Match, 0, len(rows))
	for _, row := range rows {
		m, reason := buildMatch(row, teamResolutions, teamsByID, eventResolutions, windows)
		if reason != "" {
			result.Rejected++
			continue
		}
		candidates = append(candidates, m)
	}

	for start := 0; start < len(candidates); start += upsertChunkSize {
		end := start + upsertChunkSize
		if end > len(candidates) {
			end = len(candidates)
		}
		stats, err := s.shadowMatches.UpsertMany(ctx, candidates[start:end])
		if err != nil {
			return fmt.Errorf("upsert shadow matches: %w", err)
		}
		result.Inserted += stats.Inserted
		result.Updated += stats.Updated
	}

	s.logger.DebugContext(ctx, "rebuilt staging batch",
		"scanned", len(batch),
		"written", len(candidates),
		"rejected", len(rows)-len(candidates),
	)

	return nil
}

// lookupEvents resolves source events read-only against production. Every
// promoted event already exists there, so creation is never needed; keys
// with no production row are recorded and their matches stay unlinked for
// the inferrer to pick up.
func (s *RebuildService) lookupEvents(
	ctx context.Context,
	requests []EventResolveRequest,
	missing map[event.SourceKey]struct{},
) (map[event.SourceKey]EventResolution, error) {
	seen := make(map[event.SourceKey]struct{}, len(requests))
	keys := make([]event.SourceKey, 0, len(requests))
	for _, req := range requests {
		key := req.Key()
		if key.SourceEventID == "" || key.SourcePlatform == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}

	out := make(map[event.SourceKey]EventResolution, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	existing, err := s.events.ListBySourceKeys(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("list events by source keys: %w", err)
	}
	for _, e := range existing {
		out[event.KeyOf(e)] = EventResolution{EventID: e.ID, Kind: e.Kind}
	}

	for _, key := range keys {
		if _, ok := out[key]; !ok {
			missing[key] = struct{}{}
		}
	}

	return out, nil
}

// Validate compares the shadow tables against production and reports every
// gate. The swap requires the structural gates; the rate gates flag data
// quality drift and bind only under strict validation.
func (s *RebuildService) Validate(ctx context.Context) (RebuildValidation, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.RebuildService.Validate")
	defer span.End()

	shadowTeams, err := s.shadowTeams.Stats(ctx)
	if err != nil {
		return RebuildValidation{}, fmt.Errorf("shadow team stats: %w", err)
	}
	liveTeams, err := s.liveTeams.Stats(ctx)
	if err != nil {
		return RebuildValidation{}, fmt.Errorf("production team stats: %w", err)
	}
	shadowMatches, err := s.shadowMatches.Stats(ctx)
	if err != nil {
		return RebuildValidation{}, fmt.Errorf("shadow match stats: %w", err)
	}
	liveMatches, err := s.liveMatches.Stats(ctx)
	if err != nil {
		return RebuildValidation{}, fmt.Errorf("production match stats: %w", err)
	}

	checks := []RebuildCheck{
		coverageCheck("team_coverage", "teams", shadowTeams.Total, liveTeams.Total, teamCoverageFloorPct),
		coverageCheck("match_coverage", "matches", shadowMatches.Total, liveMatches.Total, matchCoverageFloorPct),
		coverageCheck("source_key_coverage", "source keys", shadowMatches.DistinctKeys, liveMatches.DistinctKeys, keyCoverageFloorPct),
		{
			Name:   "duplicate_source_keys",
			Pass:   shadowMatches.DuplicateKeyGroups == 0,
			Detail: fmt.Sprintf("%d duplicate source_match_key groups in shadow", shadowMatches.DuplicateKeyGroups),
		},
		nullRateCheck("null_birth_year_rate", "birth_year",
			shadowTeams.NullBirthYear, shadowTeams.Total, liveTeams.NullBirthYear, liveTeams.Total),
		nullRateCheck("null_gender_rate", "gender",
			shadowTeams.NullGender, shadowTeams.Total, liveTeams.NullGender, liveTeams.Total),
	}

	validation := RebuildValidation{Pass: true, StrictPass: true, Checks: checks}
	for _, check := range checks {
		if check.Pass {
			continue
		}
		validation.StrictPass = false
		if !check.Strict {
			validation.Pass = false
		}
	}

	s.logger.InfoContext(ctx, "rebuild validated",
		"pass", validation.Pass,
		"strict_pass", validation.StrictPass,
	)

	return validation, nil
}

// Swap validates the shadow and, only on a pass, atomically renames it into
// production and refreshes the serving views. A failed validation leaves
// production untouched.
func (s *RebuildService) Swap(ctx context.Context) (SwapResult, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.RebuildService.Swap")
	defer span.End()

	validation, err := s.Validate(ctx)
	if err != nil {
		return SwapResult{}, err
	}
	result := SwapResult{Validation: validation}
	if !validation.Pass {
		failed := make([]string, 0, len(validation.Checks))
		for _, check := range validation.Checks {
			if !check.Pass && !check.Strict {
				failed = append(failed, check.Name)
			}
		}

		return result, fmt.Errorf("%w: rebuild fails %s", ErrValidationReject, strings.Join(failed, ", "))
	}

	if err := s.store.ExecuteSwap(ctx); err != nil {
		return result, fmt.Errorf("execute swap: %w", err)
	}
	result.Swapped = true
	result.Views = s.refreshAfterSwap(ctx, "swap")

	s.logger.InfoContext(ctx, "shadow swapped into production",
		"views_refreshed", result.Views.Refreshed,
	)

	return result, nil
}

// Rollback restores production from the backup tables a swap left behind.
func (s *RebuildService) Rollback(ctx context.Context) error {
	ctx, span := startUsecaseSpan(ctx, "usecase.RebuildService.Rollback")
	defer span.End()

	if err := s.store.ExecuteRollback(ctx); err != nil {
		return fmt.Errorf("execute rollback: %w", err)
	}
	views := s.refreshAfterSwap(ctx, "rollback")

	s.logger.InfoContext(ctx, "production restored from backup",
		"views_refreshed", views.Refreshed,
	)

	return nil
}

// SwapPlan returns the statements a swap would run, for dry runs.
func (s *RebuildService) SwapPlan() []string {
	return s.store.SwapPlan()
}

// RollbackPlan returns the statements a rollback would run, for dry runs.
func (s *RebuildService) RollbackPlan() []string {
	return s.store.RollbackPlan()
}

// refreshAfterSwap refreshes the serving views once the tables have moved.
// The rename is already committed, so a refresh failure degrades read
// freshness but must not report the swap itself as failed.
func (s *RebuildService) refreshAfterSwap(ctx context.Context, op string) ViewRefreshResult {
	if s.views == nil {
		return ViewRefreshResult{}
	}

	refreshed, err := s.views.RefreshAll(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "view refresh after table move failed", "op", op, "error", err)
	}

	return refreshed
}

func coverageCheck(name, noun string, shadow, live, floorPct int64) RebuildCheck {
	return RebuildCheck{
		Name: name,
		Pass: live == 0 || shadow*100 >= live*floorPct,
		Detail: fmt.Sprintf("shadow holds %d of %d production %s (%.1f%%, floor %d%%)",
			shadow, live, noun, coveragePct(shadow, live), floorPct),
	}
}

// nullRateCheck passes when the shadow's NULL rate does not exceed
// production's. Rates compare cross-multiplied so the check stays exact.
func nullRateCheck(name, field string, shadowNull, shadowTotal, liveNull, liveTotal int64) RebuildCheck {
	return RebuildCheck{
		Name:   name,
		Pass:   shadowNull*liveTotal <= liveNull*shadowTotal,
		Strict: true,
		Detail: fmt.Sprintf("null %s rate %.2f%% vs production %.2f%%",
			field, ratePct(shadowNull, shadowTotal), ratePct(liveNull, liveTotal)),
	}
}

func coveragePct(shadow, live int64) float64 {
	if live == 0 {
		return 100
	}

	return float64(shadow) / float64(live) * 100
}

func ratePct(part, total int64) float64 {
	if total == 0 {
		return 0
	}

	return float64(part) / float64(total) * 100
}
