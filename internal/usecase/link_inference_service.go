package usecase

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/touchlinehq/touchline/internal/domain/event"
	"github.com/touchlinehq/touchline/internal/domain/match"
	"github.com/touchlinehq/touchline/internal/platform/logging"
)

const (
	defaultLinkScanLimit = 5000
	linkWindowSlackDays  = 30
	assignChunkSize      = 500

	linkStrategyShared = "shared_event"
	linkStrategySingle = "single_team"
)

// LinkInferenceConfig bounds one inference pass.
type LinkInferenceConfig struct {
	ScanLimit int
}

func (c LinkInferenceConfig) normalized() LinkInferenceConfig {
	if c.ScanLimit <= 0 {
		c.ScanLimit = defaultLinkScanLimit
	}

	return c
}

// PlannedLink is one inferred assignment, reported on dry runs.
type PlannedLink struct {
	MatchID  int64  `json:"match_id"`
	Kind     string `json:"kind"`
	EventID  int64  `json:"event_id"`
	Strategy string `json:"strategy"`
}

// LinkInferenceResult summarizes one inference pass.
type LinkInferenceResult struct {
	Scanned     int               `json:"scanned"`
	Linked      int               `json:"linked"`
	SharedEvent int               `json:"shared_event"`
	SingleTeam  int               `json:"single_team"`
	DryRun      bool              `json:"dry_run,omitempty"`
	Planned     []PlannedLink     `json:"planned,omitempty"`
	Views       ViewRefreshResult `json:"views"`
}

// LinkInferenceService retroactively assigns orphan matches (both teams
// resolved, no event) to leagues or tournaments, using the teams' event
// history as evidence: where did these teams play their linked matches, and
// does that event's date span cover the orphan?
type LinkInferenceService struct {
	matches match.Repository
	views   *ViewRefreshService
	cfg     LinkInferenceConfig
	logger  *logging.Logger
}

func NewLinkInferenceService(
	matches match.Repository,
	views *ViewRefreshService,
	cfg LinkInferenceConfig,
	logger *logging.Logger,
) *LinkInferenceService {
	if logger == nil {
		logger = logging.Default()
	}

	return &LinkInferenceService{
		matches: matches,
		views:   views,
		cfg:     cfg.normalized(),
		logger:  logger,
	}
}

// Run performs one inference pass. Dry runs report the planned assignments
// without writing or refreshing anything.
func (s *LinkInferenceService) Run(ctx context.Context, dryRun bool) (LinkInferenceResult, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.LinkInference.Run")
	defer span.End()

	result := LinkInferenceResult{DryRun: dryRun}

	unlinked, err := s.matches.ListUnlinked(ctx, s.cfg.ScanLimit)
	if err != nil {
		return result, fmt.Errorf("list unlinked matches: %w", err)
	}
	result.Scanned = len(unlinked)
	if len(unlinked) == 0 {
		return result, nil
	}

	histories, err := s.teamHistories(ctx, unlinked)
	if err != nil {
		return result, err
	}

	assignments := make([]match.EventAssignment, 0, len(unlinked))
	for _, m := range unlinked {
		key, strategy, ok := inferLink(histories, m)
		if !ok {
			continue
		}
		assignments = append(assignments, eventAssignment(m.ID, key))
		switch strategy {
		case linkStrategyShared:
			result.SharedEvent++
		case linkStrategySingle:
			result.SingleTeam++
		}
		if dryRun {
			result.Planned = append(result.Planned, PlannedLink{
				MatchID:  m.ID,
				Kind:     string(key.kind),
				EventID:  key.id,
				Strategy: strategy,
			})
		}
	}
	result.Linked = len(assignments)

	if !dryRun && len(assignments) > 0 {
		for start := 0; start < len(assignments); start += assignChunkSize {
			end := start + assignChunkSize
			if end > len(assignments) {
				end = len(assignments)
			}
			if _, err := s.matches.AssignEvents(ctx, assignments[start:end]); err != nil {
				return result, fmt.Errorf("assign inferred events: %w", err)
			}
		}

		if s.views != nil {
			views, err := s.views.RefreshAll(ctx)
			if err != nil {
				return result, err
			}
			result.Views = views
		}
	}

	s.logger.InfoContext(ctx, "link inference finished",
		"scanned", result.Scanned,
		"linked", result.Linked,
		"shared_event", result.SharedEvent,
		"single_team", result.SingleTeam,
		"dry_run", dryRun,
	)

	return result, nil
}

// linkKey identifies one event association of a team.
type linkKey struct {
	kind event.Kind
	id   int64
}

// eventWindow is one entry of a team's event history: the date span of the
// team's linked matches in that event and how many there are.
type eventWindow struct {
	key      linkKey
	earliest time.Time
	latest   time.Time
	count    int
}

// contains checks the padded window: events keep claiming matches up to 30
// days either side of their observed span.
func (w eventWindow) contains(date time.Time) bool {
	return !date.Before(w.earliest.AddDate(0, 0, -linkWindowSlackDays)) &&
		!date.After(w.latest.AddDate(0, 0, linkWindowSlackDays))
}

// linkKeyOf extracts the event association of a linked match.
func linkKeyOf(m match.Match) (linkKey, bool) {
	switch {
	case m.LeagueID != nil:
		return linkKey{kind: event.KindLeague, id: *m.LeagueID}, true
	case m.TournamentID != nil:
		return linkKey{kind: event.KindTournament, id: *m.TournamentID}, true
	}

	return linkKey{}, false
}

// teamHistories loads linked matches for every team seen in the orphan set
// in one round trip and folds them into per-team event windows.
func (s *LinkInferenceService) teamHistories(ctx context.Context, unlinked []match.Match) (map[int64]map[linkKey]*eventWindow, error) {
	teamSet := make(map[int64]struct{}, len(unlinked)*2)
	for _, m := range unlinked {
		teamSet[m.HomeTeamID] = struct{}{}
		teamSet[m.AwayTeamID] = struct{}{}
	}
	teamIDs := make([]int64, 0, len(teamSet))
	for id := range teamSet {
		teamIDs = append(teamIDs, id)
	}
	sort.Slice(teamIDs, func(i, j int) bool { return teamIDs[i] < teamIDs[j] })

	linked, err := s.matches.ListLinkedByTeamIDs(ctx, teamIDs)
	if err != nil {
		return nil, fmt.Errorf("list linked matches for %d teams: %w", len(teamIDs), err)
	}

	histories := make(map[int64]map[linkKey]*eventWindow, len(teamIDs))
	for _, m := range linked {
		key, ok := linkKeyOf(m)
		if !ok {
			continue
		}
		for _, teamID := range []int64{m.HomeTeamID, m.AwayTeamID} {
			if _, relevant := teamSet[teamID]; !relevant {
				continue
			}
			history := histories[teamID]
			if history == nil {
				history = make(map[linkKey]*eventWindow)
				histories[teamID] = history
			}
			window := history[key]
			if window == nil {
				window = &eventWindow{key: key, earliest: m.MatchDate, latest: m.MatchDate}
				history[key] = window
			}
			if m.MatchDate.Before(window.earliest) {
				window.earliest = m.MatchDate
			}
			if m.MatchDate.After(window.latest) {
				window.latest = m.MatchDate
			}
			window.count++
		}
	}

	return histories, nil
}

// inferLink picks an event for one orphan match. Events both teams appear
// in win; when there are none, a team whose entire history is one matching
// event decides, unless both teams point at different single events.
func inferLink(histories map[int64]map[linkKey]*eventWindow, m match.Match) (linkKey, string, bool) {
	home := histories[m.HomeTeamID]
	away := histories[m.AwayTeamID]

	if best := pickShared(home, away, m.MatchDate); best != nil {
		return best.key, linkStrategyShared, true
	}

	homeOnly := soleMatchingEvent(home, m.MatchDate)
	awayOnly := soleMatchingEvent(away, m.MatchDate)
	switch {
	case homeOnly != nil && awayOnly != nil:
		// conflicting single-event evidence
		return linkKey{}, "", false
	case homeOnly != nil:
		return homeOnly.key, linkStrategySingle, true
	case awayOnly != nil:
		return awayOnly.key, linkStrategySingle, true
	}

	return linkKey{}, "", false
}

// pickShared returns the best event both teams appear in whose padded
// window covers the match date. Most combined associations win; ties break
// leagues first, then the lower id, so reruns stay deterministic.
func pickShared(home, away map[linkKey]*eventWindow, date time.Time) *eventWindow {
	var best *eventWindow
	for key, hw := range home {
		aw, shared := away[key]
		if !shared {
			continue
		}

		merged := eventWindow{
			key:      key,
			earliest: hw.earliest,
			latest:   hw.latest,
			count:    hw.count + aw.count,
		}
		if aw.earliest.Before(merged.earliest) {
			merged.earliest = aw.earliest
		}
		if aw.latest.After(merged.latest) {
			merged.latest = aw.latest
		}
		if !merged.contains(date) {
			continue
		}

		if best == nil || merged.count > best.count ||
			(merged.count == best.count && lessLinkKey(merged.key, best.key)) {
			candidate := merged
			best = &candidate
		}
	}

	return best
}

// soleMatchingEvent returns the team's only event when its whole history is
// that one event and the padded window covers the date.
func soleMatchingEvent(history map[linkKey]*eventWindow, date time.Time) *eventWindow {
	if len(history) != 1 {
		return nil
	}
	for _, window := range history {
		if window.contains(date) {
			return window
		}
	}

	return nil
}

func lessLinkKey(a, b linkKey) bool {
	if a.kind != b.kind {
		return a.kind == event.KindLeague
	}

	return a.id < b.id
}

func eventAssignment(matchID int64, key linkKey) match.EventAssignment {
	out := match.EventAssignment{MatchID: matchID}
	id := key.id
	if key.kind == event.KindLeague {
		out.LeagueID = &id
	} else {
		out.TournamentID = &id
	}

	return out
}
