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

const (
	minPromoteBatchSize = 500
	maxPromoteBatchSize = 2000
	defaultPromoteIters = 50

	// upsertChunkSize bounds one multi-row INSERT statement.
	upsertChunkSize = 500

	defaultMaxFutureDays = 365
)

// defaultMinMatchDate floors match dates for platforms without a registered
// adapter policy.
var defaultMinMatchDate = time.Date(2015, time.January, 1, 0, 0, 0, 0, time.UTC)

// PromotionConfig bounds one promotion run.
type PromotionConfig struct {
	BatchSize int
	MaxIters  int
}

func (c PromotionConfig) normalized() PromotionConfig {
	if c.BatchSize < minPromoteBatchSize {
		c.BatchSize = minPromoteBatchSize
	}
	if c.BatchSize > maxPromoteBatchSize {
		c.BatchSize = maxPromoteBatchSize
	}
	if c.MaxIters <= 0 {
		c.MaxIters = defaultPromoteIters
	}

	return c
}

// PromoteResult reports one promotion run.
type PromoteResult struct {
	Iterations    int               `json:"iterations"`
	Scanned       int64             `json:"scanned"`
	Inserted      int64             `json:"inserted"`
	Updated       int64             `json:"updated"`
	Rejected      int64             `json:"rejected"`
	Denylisted    int64             `json:"denylisted"`
	TeamsCreated  int64             `json:"teams_created"`
	EventsCreated int64             `json:"events_created"`
	Views         ViewRefreshResult `json:"views"`
	Drained       bool              `json:"drained"`
}

// PromotionService moves staged games into production. Each batch resolves
// team and event identity in bulk, quarantines rows that violate match
// invariants, and upserts the rest keyed on source_match_key, so re-scrapes
// update scores instead of duplicating rows. A bad row never aborts a run;
// only structural failures do, leaving the batch unprocessed for the next
// run to retry.
type PromotionService struct {
	games         staging.GameRepository
	matches       match.Repository
	teams         team.Repository
	teamResolver  *TeamResolverService
	eventResolver *EventResolverService
	views         *ViewRefreshService
	registry      *sources.Registry
	cfg           PromotionConfig
	logger        *logging.Logger
	now           func() time.Time
}

func NewPromotionService(
	games staging.GameRepository,
	matches match.Repository,
	teams team.Repository,
	teamResolver *TeamResolverService,
	eventResolver *EventResolverService,
	views *ViewRefreshService,
	registry *sources.Registry,
	cfg PromotionConfig,
	logger *logging.Logger,
) *PromotionService {
	if logger == nil {
		logger = logging.Default()
	}

	return &PromotionService{
		games:         games,
		matches:       matches,
		teams:         teams,
		teamResolver:  teamResolver,
		eventResolver: eventResolver,
		views:         views,
		registry:      registry,
		cfg:           cfg.normalized(),
		logger:        logger,
		now:           time.Now,
	}
}

// Run drains unprocessed staging games until none remain or the iteration
// cap is hit. Batches run serially; a context cancellation between batches
// stops the run cleanly and the remaining rows wait for the next one.
func (s *PromotionService) Run(ctx context.Context) (PromoteResult, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.PromotionService.Run")
	defer span.End()

	result := PromoteResult{}

	// Denylisted keys stay dead: a re-scrape of an invalidated match lands
	// in staging again, and without this check the partial unique index
	// would happily accept it as a fresh live row.
	denylisted, err := s.matches.ListDenylistedKeys(ctx)
	if err != nil {
		return result, fmt.Errorf("list denylisted keys: %w", err)
	}

	for result.Iterations < s.cfg.MaxIters {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		batch, err := s.games.ListUnprocessed(ctx, s.cfg.BatchSize)
		if err != nil {
			return result, fmt.Errorf("list unprocessed staging games: %w", err)
		}
		if len(batch) == 0 {
			result.Drained = true
			break
		}

		result.Iterations++
		result.Scanned += int64(len(batch))
		if err := s.promoteBatch(ctx, batch, denylisted, &result); err != nil {
			return result, err
		}
	}

	s.logger.InfoContext(ctx, "promotion run finished",
		"iterations", result.Iterations,
		"scanned", result.Scanned,
		"inserted", result.Inserted,
		"updated", result.Updated,
		"rejected", result.Rejected,
		"denylisted", result.Denylisted,
		"teams_created", result.TeamsCreated,
		"events_created", result.EventsCreated,
		"drained", result.Drained,
	)

	return result, nil
}

// promoteRow carries one staging game with the resolution requests built
// for it, so the resolve passes and the build pass key identically.
type promoteRow struct {
	game     staging.Game
	homeReq  TeamResolveRequest
	awayReq  TeamResolveRequest
	eventReq EventResolveRequest
}

func (s *PromotionService) promoteBatch(
	ctx context.Context,
	batch []staging.Game,
	denylisted map[string]struct{},
	result *PromoteResult,
) error {
	now := s.now()
	seasonYear := teamname.SeasonYear(now)

	rows := make([]promoteRow, 0, len(batch))
	teamReqs := make([]TeamResolveRequest, 0, len(batch)*2)
	eventReqs := make([]EventResolveRequest, 0, len(batch))
	quarantined := make([]staging.ProcessOutcome, 0)
	for _, game := range batch {
		if _, dead := denylisted[game.SourceMatchKey]; dead {
			quarantined = append(quarantined, staging.ProcessOutcome{
				ID:           game.ID,
				ErrorMessage: "source match key is denylisted",
			})
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

	teamResolutions, err := s.teamResolver.ResolveBulk(ctx, teamReqs)
	if err != nil {
		return fmt.Errorf("resolve teams: %w", err)
	}
	eventResolutions, err := s.eventResolver.ResolveBulk(ctx, eventReqs)
	if err != nil {
		return fmt.Errorf("resolve events: %w", err)
	}

	teamsByID, err := loadResolvedTeams(ctx, s.teams, teamResolutions)
	if err != nil {
		return err
	}

	createdTeams := make(map[int64]struct{})
	for _, res := range teamResolutions {
		if res.Created {
			createdTeams[res.TeamID] = struct{}{}
		}
	}
	result.TeamsCreated += int64(len(createdTeams))
	for _, res := range eventResolutions {
		if res.Created {
			result.EventsCreated++
		}
	}

	windows := dateWindows{registry: s.registry, now: now}
	outcomes := append(make([]staging.ProcessOutcome, 0, len(rows)+len(quarantined)), quarantined...)
	candidates := make([]match.Match, 0, len(rows))
	for _, row := range rows {
		m, reason := buildMatch(row, teamResolutions, teamsByID, eventResolutions, windows)
		if reason != "" {
			outcomes = append(outcomes, staging.ProcessOutcome{ID: row.game.ID, ErrorMessage: reason})
			result.Rejected++
			continue
		}
		candidates = append(candidates, m)
		outcomes = append(outcomes, staging.ProcessOutcome{ID: row.game.ID})
	}

	for start := 0; start < len(candidates); start += upsertChunkSize {
		end := start + upsertChunkSize
		if end > len(candidates) {
			end = len(candidates)
		}
		stats, err := s.matches.UpsertMany(ctx, candidates[start:end])
		if err != nil {
			return fmt.Errorf("upsert matches: %w", err)
		}
		result.Inserted += stats.Inserted
		result.Updated += stats.Updated
	}

	if err := s.games.MarkProcessed(ctx, outcomes); err != nil {
		return fmt.Errorf("mark staging games processed: %w", err)
	}

	if s.views != nil && len(candidates) > 0 {
		refreshed, err := s.views.RefreshAll(ctx)
		if err != nil {
			return err
		}
		result.Views.Refreshed += refreshed.Refreshed
		result.Views.FellBack = append(result.Views.FellBack, refreshed.FellBack...)
	}

	s.logger.DebugContext(ctx, "promoted staging batch",
		"scanned", len(rows),
		"written", len(candidates),
		"rejected", len(rows)-len(candidates),
	)

	return nil
}

func newPromoteRow(game staging.Game, seasonYear int) promoteRow {
	row := promoteRow{
		game:    game,
		homeReq: teamRequest(game.HomeTeamName, game.Division, seasonYear),
		awayReq: teamRequest(game.AwayTeamName, game.Division, seasonYear),
	}
	if game.EventID != "" {
		row.eventReq = EventResolveRequest{
			SourceEventID:  game.EventID,
			SourcePlatform: game.SourcePlatform,
			EventName:      game.EventName,
			EarliestMatch:  game.MatchDate,
			LatestMatch:    game.MatchDate,
		}
	}

	return row
}

// loadResolvedTeams fetches the canonical records behind every resolution,
// for the birth-year and gender compatibility checks.
func loadResolvedTeams(ctx context.Context, teams team.Repository, resolutions map[string]TeamResolution) (map[int64]team.Team, error) {
	seen := make(map[int64]struct{}, len(resolutions))
	ids := make([]int64, 0, len(resolutions))
	for _, res := range resolutions {
		if _, ok := seen[res.TeamID]; ok {
			continue
		}
		seen[res.TeamID] = struct{}{}
		ids = append(ids, res.TeamID)
	}

	records, err := teams.ListByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load resolved teams: %w", err)
	}

	byID := make(map[int64]team.Team, len(records))
	for _, t := range records {
		byID[t.ID] = t
	}

	return byID, nil
}

// buildMatch validates one staging row against the resolved identities and
// either returns the production candidate or the quarantine reason.
func buildMatch(
	row promoteRow,
	teamResolutions map[string]TeamResolution,
	teamsByID map[int64]team.Team,
	eventResolutions map[event.SourceKey]EventResolution,
	windows dateWindows,
) (match.Match, string) {
	homeRes, homeOK := teamResolutions[row.homeReq.Key()]
	awayRes, awayOK := teamResolutions[row.awayReq.Key()]
	if !homeOK {
		return match.Match{}, fmt.Sprintf("home team %q unresolved", row.game.HomeTeamName)
	}
	if !awayOK {
		return match.Match{}, fmt.Sprintf("away team %q unresolved", row.game.AwayTeamName)
	}
	if homeRes.TeamID == awayRes.TeamID {
		return match.Match{}, fmt.Sprintf("home and away resolve to the same team id=%d", homeRes.TeamID)
	}

	if row.game.MatchDate == nil {
		return match.Match{}, "missing match date"
	}
	matchDate := *row.game.MatchDate
	minDate, maxDate := windows.bounds(row.game.SourcePlatform)
	if matchDate.Before(minDate) || matchDate.After(maxDate) {
		return match.Match{}, fmt.Sprintf("match date %s outside window [%s, %s]",
			matchDate.Format("2006-01-02"), minDate.Format("2006-01-02"), maxDate.Format("2006-01-02"))
	}

	home, homeKnown := teamsByID[homeRes.TeamID]
	away, awayKnown := teamsByID[awayRes.TeamID]
	if homeKnown && awayKnown {
		if home.BirthYear != nil && away.BirthYear != nil {
			diff := *home.BirthYear - *away.BirthYear
			if diff < 0 {
				diff = -diff
			}
			if diff > 1 {
				return match.Match{}, fmt.Sprintf("team birth years %d and %d differ by more than 1",
					*home.BirthYear, *away.BirthYear)
			}
		}
		if home.Gender != team.GenderUnknown && away.Gender != team.GenderUnknown && home.Gender != away.Gender {
			return match.Match{}, fmt.Sprintf("team genders %s and %s conflict", home.Gender, away.Gender)
		}
	}

	var leagueID, tournamentID *int64
	if row.game.EventID != "" {
		if res, ok := eventResolutions[row.eventReq.Key()]; ok {
			id := res.EventID
			switch res.Kind {
			case event.KindLeague:
				leagueID = &id
			case event.KindTournament:
				tournamentID = &id
			}
		}
	}

	m := match.Match{
		MatchDate:      matchDate,
		HomeTeamID:     homeRes.TeamID,
		AwayTeamID:     awayRes.TeamID,
		HomeScore:      row.game.HomeScore,
		AwayScore:      row.game.AwayScore,
		LeagueID:       leagueID,
		TournamentID:   tournamentID,
		Venue:          composeVenue(row.game.VenueName, row.game.FieldName),
		SourcePlatform: row.game.SourcePlatform,
		SourceMatchKey: row.game.SourceMatchKey,
	}
	if t := strings.TrimSpace(row.game.MatchTime); t != "" {
		m.MatchTime = &t
	}
	if err := m.Validate(); err != nil {
		return match.Match{}, err.Error()
	}

	return m, ""
}

// dateWindows resolves the allowed match date range per platform, falling
// back to pipeline-wide bounds when the adapter is not registered.
type dateWindows struct {
	registry *sources.Registry
	now      time.Time
}

func (w dateWindows) bounds(platform string) (time.Time, time.Time) {
	minDate := defaultMinMatchDate
	futureDays := defaultMaxFutureDays
	if w.registry != nil {
		if adapter, ok := w.registry.Get(platform); ok {
			if !adapter.Policy.MinDate.IsZero() {
				minDate = adapter.Policy.MinDate
			}
			if adapter.Policy.MaxFutureDays > 0 {
				futureDays = adapter.Policy.MaxFutureDays
			}
		}
	}

	return minDate, w.now.AddDate(0, 0, futureDays)
}

// teamRequest builds the resolver request for one side of a staging row.
// Division metadata wins over anything parsed out of the name later, so it
// is attached only when the name itself carries no year evidence.
func teamRequest(name, division string, seasonYear int) TeamResolveRequest {
	req := TeamResolveRequest{RawName: name}
	if division == "" {
		return req
	}

	if _, ok := teamname.ExtractBirthYear(name, seasonYear); !ok {
		if year, ok := teamname.ExtractBirthYear(division, seasonYear); ok {
			req.BirthYear = &year
		}
	}
	if marker, ok := teamname.ExtractGender(division); ok {
		req.Gender = team.ParseGender(marker)
	}

	return req
}

func composeVenue(venue, field string) string {
	venue = strings.TrimSpace(venue)
	field = strings.TrimSpace(field)
	switch {
	case venue == "":
		return field
	case field == "":
		return venue
	default:
		return venue + " " + field
	}
}
