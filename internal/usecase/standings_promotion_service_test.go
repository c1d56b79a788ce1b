package usecase

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/touchlinehq/touchline/internal/domain/event"
	"github.com/touchlinehq/touchline/internal/domain/staging"
	"github.com/touchlinehq/touchline/internal/domain/standings"
)

func TestStandingsPromotionService_Run_ReplacesDivision(t *testing.T) {
	t.Parallel()

	rows := newStubStagingStandingRepository()
	tables := newStubStandingsTable()
	teams := newStubTeamRepository()
	events := newStubEventRepository()

	names := []string{"FC Blue 2013", "FC Red 2013", "FC Green 2013"}
	for i, name := range names {
		rows.seed(staging.Standing{
			TeamName:       name,
			Division:       "U12 Boys Blue",
			Position:       i + 1,
			Wins:           5 - i,
			Losses:         i,
			Ties:           1,
			GoalsFor:       12,
			GoalsAgainst:   6,
			Points:         16 - 3*i,
			EventName:      "Heartland Premier",
			EventID:        "hp1",
			SourcePlatform: "gotsport",
		})
	}

	service := NewStandingsPromotionService(rows, tables, NewTeamResolverService(teams, 0.75, nil), NewEventResolverService(events, nil), nil)
	result, err := service.Run(context.Background())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	if !result.Drained || result.Divisions != 1 || result.Rows != 3 || result.Rejected != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if teams.teamCount() != 3 {
		t.Fatalf("expected three created teams, have %d", teams.teamCount())
	}

	stored, ok := events.bySourceKey(event.SourceKey{SourceEventID: "hp1", SourcePlatform: "gotsport"})
	if !ok || stored.Kind != event.KindLeague {
		t.Fatalf("standings sighting must create a league, got %+v", stored)
	}

	table := tables.division(stored.ID, "U12 Boys Blue")
	if len(table) != 3 {
		t.Fatalf("expected three table rows, have %d", len(table))
	}
	first := table[0]
	if first.Position != 1 || first.Wins != 5 || first.Draws != 1 || first.Played != 6 {
		t.Fatalf("unexpected top row: %+v", first)
	}

	if n := rows.unprocessedCount(); n != 0 {
		t.Fatalf("expected all rows processed, %d left", n)
	}
}

func TestStandingsPromotionService_Run_LastSightingWins(t *testing.T) {
	t.Parallel()

	rows := newStubStagingStandingRepository()
	tables := newStubStandingsTable()
	teams := newStubTeamRepository()
	events := newStubEventRepository()

	base := staging.Standing{
		TeamName:       "FC Blue 2013",
		Division:       "U12 Boys Blue",
		Position:       2,
		Wins:           4,
		Points:         12,
		EventName:      "Heartland Premier",
		EventID:        "hp1",
		SourcePlatform: "gotsport",
	}
	rows.seed(base)

	fresher := base
	fresher.Position = 1
	fresher.Wins = 5
	fresher.Points = 15
	rows.seed(fresher)

	service := NewStandingsPromotionService(rows, tables, NewTeamResolverService(teams, 0.75, nil), NewEventResolverService(events, nil), nil)
	result, err := service.Run(context.Background())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if result.Rows != 1 {
		t.Fatalf("duplicate sightings must collapse to one row, got %+v", result)
	}

	stored, _ := events.bySourceKey(event.SourceKey{SourceEventID: "hp1", SourcePlatform: "gotsport"})
	table := tables.division(stored.ID, "U12 Boys Blue")
	if len(table) != 1 || table[0].Position != 1 || table[0].Points != 15 {
		t.Fatalf("expected the later sighting to win: %+v", table)
	}
}

func TestStandingsPromotionService_Run_RejectsBadRows(t *testing.T) {
	t.Parallel()

	rows := newStubStagingStandingRepository()
	tables := newStubStandingsTable()
	teams := newStubTeamRepository()
	events := newStubEventRepository()

	// An already-known tournament with the same source key cannot hold a
	// league table.
	events.seed(event.Event{
		Kind:           event.KindTournament,
		Name:           "Spring Showcase",
		SourceEventID:  "t77",
		SourcePlatform: "gotsport",
		Season:         "2025-26",
	})

	tournamentRow := rows.seed(staging.Standing{
		TeamName:       "FC Blue 2013",
		Division:       "U12",
		Position:       1,
		EventName:      "Spring Showcase",
		EventID:        "t77",
		SourcePlatform: "gotsport",
	})
	orphan := rows.seed(staging.Standing{
		TeamName:       "FC Red 2013",
		Division:       "U12",
		Position:       1,
		SourcePlatform: "gotsport",
	})
	badPosition := rows.seed(staging.Standing{
		TeamName:       "FC Green 2013",
		Division:       "U12",
		Position:       0,
		EventName:      "Heartland Premier League",
		EventID:        "hp1",
		SourcePlatform: "gotsport",
	})

	service := NewStandingsPromotionService(rows, tables, NewTeamResolverService(teams, 0.75, nil), NewEventResolverService(events, nil), nil)
	result, err := service.Run(context.Background())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	if result.Rejected != 3 || result.Rows != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}

	wantReasons := map[int64]string{
		tournamentRow.ID: "tournament",
		orphan.ID:        "no source event",
		badPosition.ID:   "position",
	}
	for id, want := range wantReasons {
		row, ok := rows.byID(id)
		if !ok || !row.Processed {
			t.Fatalf("row %d not processed", id)
		}
		if row.ErrorMessage == nil || !strings.Contains(*row.ErrorMessage, want) {
			t.Fatalf("row %d: expected reason containing %q, got %v", id, want, row.ErrorMessage)
		}
	}
}

// stubStagingStandingRepository is an in-memory staging.StandingRepository.
type stubStagingStandingRepository struct {
	mu     sync.Mutex
	nextID int64
	rows   []staging.Standing
}

func newStubStagingStandingRepository() *stubStagingStandingRepository {
	return &stubStagingStandingRepository{}
}

func (r *stubStagingStandingRepository) seed(s staging.Standing) staging.Standing {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	s.ID = r.nextID
	if s.ScrapedAt.IsZero() {
		s.ScrapedAt = time.Unix(1700000000+r.nextID, 0)
	}
	r.rows = append(r.rows, s)

	return s
}

func (r *stubStagingStandingRepository) byID(id int64) (staging.Standing, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, row := range r.rows {
		if row.ID == id {
			return row, true
		}
	}

	return staging.Standing{}, false
}

func (r *stubStagingStandingRepository) unprocessedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, row := range r.rows {
		if !row.Processed {
			n++
		}
	}

	return n
}

func (r *stubStagingStandingRepository) InsertMany(_ context.Context, standings []staging.Standing) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var written int64
	for _, s := range standings {
		if err := s.Validate(); err != nil {
			return written, err
		}
		r.nextID++
		s.ID = r.nextID
		if s.ScrapedAt.IsZero() {
			s.ScrapedAt = time.Unix(1700000000+r.nextID, 0)
		}
		r.rows = append(r.rows, s)
		written++
	}

	return written, nil
}

func (r *stubStagingStandingRepository) ListUnprocessed(_ context.Context, limit int) ([]staging.Standing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit <= 0 {
		limit = 500
	}

	var out []staging.Standing
	for _, row := range r.rows {
		if row.Processed {
			continue
		}
		out = append(out, row)
		if len(out) == limit {
			break
		}
	}

	return out, nil
}

func (r *stubStagingStandingRepository) MarkProcessed(_ context.Context, outcomes []staging.ProcessOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for _, outcome := range outcomes {
		for i := range r.rows {
			if r.rows[i].ID != outcome.ID || r.rows[i].Processed {
				continue
			}
			r.rows[i].Processed = true
			r.rows[i].ProcessedAt = &now
			if outcome.ErrorMessage != "" {
				msg := outcome.ErrorMessage
				r.rows[i].ErrorMessage = &msg
			}
		}
	}

	return nil
}

func (r *stubStagingStandingRepository) CountUnprocessed(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, row := range r.rows {
		if !row.Processed {
			n++
		}
	}

	return n, nil
}

// stubStandingsTable is an in-memory standings.Repository.
type stubStandingsTable struct {
	mu     sync.Mutex
	tables map[divisionKey][]standings.Row
}

func newStubStandingsTable() *stubStandingsTable {
	return &stubStandingsTable{tables: make(map[divisionKey][]standings.Row)}
}

func (r *stubStandingsTable) division(leagueID int64, division string) []standings.Row {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows := r.tables[divisionKey{leagueID: leagueID, division: division}]
	out := make([]standings.Row, len(rows))
	copy(out, rows)

	return out
}

func (r *stubStandingsTable) ListByLeague(_ context.Context, leagueID int64) ([]standings.Row, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []standings.Row
	for key, rows := range r.tables {
		if key.leagueID == leagueID {
			out = append(out, rows...)
		}
	}

	return out, nil
}

func (r *stubStandingsTable) ReplaceDivision(_ context.Context, leagueID int64, division string, rows []standings.Row) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := make([]standings.Row, len(rows))
	copy(stored, rows)
	r.tables[divisionKey{leagueID: leagueID, division: division}] = stored

	return nil
}
