package event

import "context"

// Repository describes league and tournament persistence needs from use
// cases. Both variants share the (source_event_id, source_platform) key.
type Repository interface {
	// ListBySourceKeys returns the events, of either kind, whose source
	// keys are in keys.
	ListBySourceKeys(ctx context.Context, keys []SourceKey) ([]Event, error)
	// Insert persists a new event of e.Kind, tolerating uniqueness races
	// by returning the already stored row.
	Insert(ctx context.Context, e Event) (Event, error)
	GetByID(ctx context.Context, kind Kind, id int64) (Event, bool, error)
}
