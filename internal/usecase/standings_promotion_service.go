package usecase

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/touchlinehq/touchline/internal/domain/event"
	"github.com/touchlinehq/touchline/internal/domain/staging"
	"github.com/touchlinehq/touchline/internal/domain/standings"
	"github.com/touchlinehq/touchline/internal/domain/team"
	"github.com/touchlinehq/touchline/internal/domain/teamname"
	"github.com/touchlinehq/touchline/internal/platform/logging"
)

const (
	standingsBatchSize = 5000
	standingsMaxIters  = 10
)

// StandingsPromoteResult reports one standings promotion run.
type StandingsPromoteResult struct {
	Scanned   int64 `json:"scanned"`
	Divisions int   `json:"divisions"`
	Rows      int64 `json:"rows"`
	Rejected  int64 `json:"rejected"`
	Drained   bool  `json:"drained"`
}

// StandingsPromotionService replaces league table divisions from staged
// standings rows. Divisions are swapped wholesale, so the newest scrape
// always wins and teams that left a division disappear with it.
type StandingsPromotionService struct {
	rows          staging.StandingRepository
	tables        standings.Repository
	teamResolver  *TeamResolverService
	eventResolver *EventResolverService
	logger        *logging.Logger
	now           func() time.Time
}

func NewStandingsPromotionService(
	rows staging.StandingRepository,
	tables standings.Repository,
	teamResolver *TeamResolverService,
	eventResolver *EventResolverService,
	logger *logging.Logger,
) *StandingsPromotionService {
	if logger == nil {
		logger = logging.Default()
	}

	return &StandingsPromotionService{
		rows:          rows,
		tables:        tables,
		teamResolver:  teamResolver,
		eventResolver: eventResolver,
		logger:        logger,
		now:           time.Now,
	}
}

// Run drains unprocessed staging standings. Batches are generous because a
// division must be grouped whole before its table is replaced.
func (s *StandingsPromotionService) Run(ctx context.Context) (StandingsPromoteResult, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.StandingsPromotionService.Run")
	defer span.End()

	result := StandingsPromoteResult{}
	for iter := 0; iter < standingsMaxIters; iter++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		batch, err := s.rows.ListUnprocessed(ctx, standingsBatchSize)
		if err != nil {
			return result, fmt.Errorf("list unprocessed staging standings: %w", err)
		}
		if len(batch) == 0 {
			result.Drained = true
			break
		}

		result.Scanned += int64(len(batch))
		if err := s.promoteBatch(ctx, batch, &result); err != nil {
			return result, err
		}
	}

	s.logger.InfoContext(ctx, "standings promotion finished",
		"scanned", result.Scanned,
		"divisions", result.Divisions,
		"rows", result.Rows,
		"rejected", result.Rejected,
		"drained", result.Drained,
	)

	return result, nil
}

type divisionKey struct {
	leagueID int64
	division string
}

func (s *StandingsPromotionService) promoteBatch(ctx context.Context, batch []staging.Standing, result *StandingsPromoteResult) error {
	seasonYear := teamname.SeasonYear(s.now())

	teamReqs := make([]TeamResolveRequest, 0, len(batch))
	eventReqs := make([]EventResolveRequest, 0, len(batch))
	for _, row := range batch {
		teamReqs = append(teamReqs, standingTeamRequest(row, seasonYear))
		if row.EventID != "" {
			// Standings only exist for leagues, so a standings sighting is
			// itself league evidence.
			eventReqs = append(eventReqs, EventResolveRequest{
				SourceEventID:  row.EventID,
				SourcePlatform: row.SourcePlatform,
				EventName:      row.EventName,
				LeagueHint:     true,
			})
		}
	}

	teamResolutions, err := s.teamResolver.ResolveBulk(ctx, teamReqs)
	if err != nil {
		return fmt.Errorf("resolve standings teams: %w", err)
	}
	eventResolutions, err := s.eventResolver.ResolveBulk(ctx, eventReqs)
	if err != nil {
		return fmt.Errorf("resolve standings events: %w", err)
	}

	// Batches are scraped_at ordered, so the last sighting of a team in a
	// division wins over earlier duplicates.
	groups := make(map[divisionKey]map[int64]standings.Row)
	outcomes := make([]staging.ProcessOutcome, 0, len(batch))
	for _, row := range batch {
		tableRow, reason := buildStandingsRow(row, seasonYear, teamResolutions, eventResolutions)
		if reason != "" {
			outcomes = append(outcomes, staging.ProcessOutcome{ID: row.ID, ErrorMessage: reason})
			result.Rejected++
			continue
		}

		key := divisionKey{leagueID: tableRow.LeagueID, division: tableRow.Division}
		if groups[key] == nil {
			groups[key] = make(map[int64]standings.Row)
		}
		groups[key][tableRow.TeamID] = tableRow
		outcomes = append(outcomes, staging.ProcessOutcome{ID: row.ID})
	}

	keys := make([]divisionKey, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].leagueID != keys[j].leagueID {
			return keys[i].leagueID < keys[j].leagueID
		}

		return keys[i].division < keys[j].division
	})

	for _, key := range keys {
		rows := make([]standings.Row, 0, len(groups[key]))
		for _, row := range groups[key] {
			rows = append(rows, row)
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i].Position < rows[j].Position })

		if err := s.tables.ReplaceDivision(ctx, key.leagueID, key.division, rows); err != nil {
			return fmt.Errorf("replace standings league=%d division=%q: %w", key.leagueID, key.division, err)
		}
		result.Divisions++
		result.Rows += int64(len(rows))
	}

	if err := s.rows.MarkProcessed(ctx, outcomes); err != nil {
		return fmt.Errorf("mark staging standings processed: %w", err)
	}

	return nil
}

func buildStandingsRow(
	row staging.Standing,
	seasonYear int,
	teamResolutions map[string]TeamResolution,
	eventResolutions map[event.SourceKey]EventResolution,
) (standings.Row, string) {
	if row.EventID == "" {
		return standings.Row{}, "standings row has no source event"
	}
	eventRes, ok := eventResolutions[EventResolveRequest{
		SourceEventID:  row.EventID,
		SourcePlatform: row.SourcePlatform,
	}.Key()]
	if !ok {
		return standings.Row{}, fmt.Sprintf("event %q unresolved", row.EventID)
	}
	if eventRes.Kind != event.KindLeague {
		return standings.Row{}, fmt.Sprintf("event %q is a tournament; standings need a league", row.EventName)
	}

	teamRes, ok := teamResolutions[standingTeamRequest(row, seasonYear).Key()]
	if !ok {
		return standings.Row{}, fmt.Sprintf("team %q unresolved", row.TeamName)
	}

	tableRow := standings.Row{
		LeagueID:     eventRes.EventID,
		TeamID:       teamRes.TeamID,
		Division:     row.Division,
		Position:     row.Position,
		Played:       row.Wins + row.Losses + row.Ties,
		Wins:         row.Wins,
		Losses:       row.Losses,
		Draws:        row.Ties,
		GoalsFor:     row.GoalsFor,
		GoalsAgainst: row.GoalsAgainst,
		Points:       row.Points,
	}
	if err := tableRow.Validate(); err != nil {
		return standings.Row{}, err.Error()
	}

	return tableRow, ""
}

func standingTeamRequest(row staging.Standing, seasonYear int) TeamResolveRequest {
	req := TeamResolveRequest{RawName: row.TeamName}

	if _, ok := teamname.ExtractBirthYear(row.TeamName, seasonYear); !ok {
		for _, hint := range []string{row.AgeGroup, row.Division} {
			if year, ok := teamname.ExtractBirthYear(hint, seasonYear); ok {
				req.BirthYear = &year
				break
			}
		}
	}

	if g := team.ParseGender(row.Gender); g != team.GenderUnknown {
		req.Gender = g
	} else if marker, ok := teamname.ExtractGender(row.Division); ok {
		req.Gender = team.ParseGender(marker)
	}

	return req
}
