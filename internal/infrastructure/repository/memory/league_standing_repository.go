package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/touchlinehq/touchline/internal/domain/standings"
)

type leagueStandingRecord struct {
	id  int64
	row standings.Row
}

// LeagueStandingRepository keeps published league tables in memory.
type LeagueStandingRepository struct {
	mu     sync.RWMutex
	nextID int64
	rows   map[int64]leagueStandingRecord
}

func NewLeagueStandingRepository() *LeagueStandingRepository {
	return &LeagueStandingRepository{rows: make(map[int64]leagueStandingRecord)}
}

func (r *LeagueStandingRepository) ListByLeague(_ context.Context, leagueID int64) ([]standings.Row, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var records []leagueStandingRecord
	for _, rec := range r.rows {
		if rec.row.LeagueID == leagueID {
			records = append(records, rec)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.row.Division != b.row.Division {
			return a.row.Division < b.row.Division
		}
		if a.row.Position != b.row.Position {
			return a.row.Position < b.row.Position
		}
		if a.row.Points != b.row.Points {
			return a.row.Points > b.row.Points
		}

		return a.id < b.id
	})

	out := make([]standings.Row, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.row)
	}

	return out, nil
}

func (r *LeagueStandingRepository) ReplaceDivision(_ context.Context, leagueID int64, division string, rows []standings.Row) error {
	for _, row := range rows {
		if err := row.Validate(); err != nil {
			return fmt.Errorf("validate standings row team_id=%d: %w", row.TeamID, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for id, rec := range r.rows {
		if rec.row.LeagueID == leagueID && rec.row.Division == division {
			delete(r.rows, id)
		}
	}

	// Duplicate team ids within one batch collapse onto the first row's
	// slot, matching the upsert in the SQL twin.
	slots := make(map[int64]int64, len(rows))
	for _, row := range rows {
		row.LeagueID = leagueID
		row.Division = division

		id, ok := slots[row.TeamID]
		if !ok {
			r.nextID++
			id = r.nextID
			slots[row.TeamID] = id
		}
		r.rows[id] = leagueStandingRecord{id: id, row: row}
	}

	return nil
}
