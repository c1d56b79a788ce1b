package staging

import "context"

// GameRepository describes staging game persistence needs from use cases.
type GameRepository interface {
	// InsertMany appends rows, ignoring source_match_key duplicates, and
	// returns how many rows were actually written.
	InsertMany(ctx context.Context, games []Game) (int64, error)
	// ListUnprocessed returns unprocessed rows oldest-scraped first.
	ListUnprocessed(ctx context.Context, limit int) ([]Game, error)
	// MarkProcessed flips rows to processed. A non-empty ErrorMessage
	// records a validation quarantine; processed rows never flip back.
	MarkProcessed(ctx context.Context, outcomes []ProcessOutcome) error
	CountUnprocessed(ctx context.Context) (int64, error)
	// StreamAll walks every staging row, processed or not, in insertion
	// order, feeding batches to fn. Rebuilds replay history through this.
	StreamAll(ctx context.Context, batchSize int, fn func(games []Game) error) error
	// DistinctSourceKeys returns every non-empty source_match_key.
	DistinctSourceKeys(ctx context.Context) (map[string]struct{}, error)
}

// StandingRepository describes staging standings persistence needs.
type StandingRepository interface {
	InsertMany(ctx context.Context, standings []Standing) (int64, error)
	ListUnprocessed(ctx context.Context, limit int) ([]Standing, error)
	MarkProcessed(ctx context.Context, outcomes []ProcessOutcome) error
	CountUnprocessed(ctx context.Context) (int64, error)
}

// EventRepository describes staging event persistence needs.
type EventRepository interface {
	InsertMany(ctx context.Context, events []Event) (int64, error)
}
