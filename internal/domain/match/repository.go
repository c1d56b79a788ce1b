package match

import (
	"context"
	"time"
)

// UpsertStats counts what a bulk upsert actually did.
type UpsertStats struct {
	Inserted int64
	Updated  int64
}

// EventAssignment links one match to exactly one event.
type EventAssignment struct {
	MatchID      int64
	LeagueID     *int64
	TournamentID *int64
}

// SourceEventRef points back at a scrapeable source event.
type SourceEventRef struct {
	SourcePlatform string
	SourceEventID  string
}

// Stats summarizes a match table for rebuild validation. DistinctKeys
// counts distinct live source keys; DuplicateKeyGroups counts keys held
// by more than one live row.
type Stats struct {
	Total              int64
	DistinctKeys       int64
	DuplicateKeyGroups int64
}

// Repository describes match persistence needs from use cases.
type Repository interface {
	// UpsertMany bulk-writes matches keyed on source_match_key. Existing
	// live rows pick up new scores and dates; event ids take the incoming
	// value and fall back to the stored one; soft-deleted rows are left
	// alone.
	UpsertMany(ctx context.Context, matches []Match) (UpsertStats, error)

	// ListUnlinked returns matches with both teams resolved but no event.
	ListUnlinked(ctx context.Context, limit int) ([]Match, error)
	// ListLinkedByTeamIDs returns event-linked matches involving any of
	// the given teams.
	ListLinkedByTeamIDs(ctx context.Context, teamIDs []int64) ([]Match, error)
	// AssignEvents applies inferred event links in bulk.
	AssignEvents(ctx context.Context, assignments []EventAssignment) (int64, error)

	// ListActiveSourceEvents returns the source events touched by matches
	// dated inside [from, to].
	ListActiveSourceEvents(ctx context.Context, from, to time.Time) ([]SourceEventRef, error)

	// Denylist records keys as invalidated and soft-deletes their live
	// rows. Rebuilds consult the list so invalidated keys stay dead.
	Denylist(ctx context.Context, keys []string, reason string) error
	ListDenylistedKeys(ctx context.Context) (map[string]struct{}, error)

	Stats(ctx context.Context) (Stats, error)
}
