package standings

import "context"

// Repository describes league standings persistence needs from use cases.
type Repository interface {
	ListByLeague(ctx context.Context, leagueID int64) ([]Row, error)
	// ReplaceDivision swaps the full table for one league division in a
	// single transaction.
	ReplaceDivision(ctx context.Context, leagueID int64, division string, rows []Row) error
}
