package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/touchlinehq/touchline/internal/domain/event"
	qb "github.com/touchlinehq/touchline/internal/platform/querybuilder"
)

type EventRepository struct {
	db               *sqlx.DB
	leaguesTable     string
	tournamentsTable string
	gate             writeGate
}

// NewEventRepository targets the production league and tournament tables.
// Rebuilds reuse it read-only: events are stable reference data, so shadow
// matches keep their production event ids across a swap.
func NewEventRepository(db *sqlx.DB) *EventRepository {
	return &EventRepository{
		db:               db,
		leaguesTable:     "leagues",
		tournamentsTable: "tournaments",
		gate:             gatePipeline,
	}
}

func (r *EventRepository) tableFor(kind event.Kind) (string, error) {
	switch kind {
	case event.KindLeague:
		return r.leaguesTable, nil
	case event.KindTournament:
		return r.tournamentsTable, nil
	default:
		return "", fmt.Errorf("event kind %q is invalid", kind)
	}
}

func (r *EventRepository) ListBySourceKeys(ctx context.Context, keys []event.SourceKey) ([]event.Event, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(keys))
	platforms := make([]string, 0, len(keys))
	for _, key := range keys {
		ids = append(ids, key.SourceEventID)
		platforms = append(platforms, key.SourcePlatform)
	}

	var out []event.Event
	for _, kind := range []event.Kind{event.KindLeague, event.KindTournament} {
		table, err := r.tableFor(kind)
		if err != nil {
			return nil, err
		}

		// unnest zips the two arrays row-wise, giving tuple IN semantics
		// with two bind parameters.
		query := fmt.Sprintf(`SELECT t.* FROM %s t
JOIN (SELECT unnest($1::text[]) AS source_event_id, unnest($2::text[]) AS source_platform) k
  USING (source_event_id, source_platform)`, table)

		var rows []eventTableModel
		if err := r.db.SelectContext(ctx, &rows, query, pq.Array(ids), pq.Array(platforms)); err != nil {
			return nil, fmt.Errorf("select %ss by source keys: %w", kind, err)
		}
		for _, row := range rows {
			out = append(out, row.toDomain(kind))
		}
	}

	return out, nil
}

func (r *EventRepository) Insert(ctx context.Context, e event.Event) (event.Event, error) {
	if err := e.Validate(); err != nil {
		return event.Event{}, fmt.Errorf("validate %s %q: %w", e.Kind, e.Name, err)
	}

	table, err := r.tableFor(e.Kind)
	if err != nil {
		return event.Event{}, err
	}

	err = withGatedTx(ctx, r.db, r.gate, func(tx *sqlx.Tx) error {
		query, args, err := qb.InsertModel(table, eventInsertModelFrom(e), "ON CONFLICT (source_event_id, source_platform) DO NOTHING")
		if err != nil {
			return fmt.Errorf("build insert %s query: %w", e.Kind, err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert %s %q: %w", e.Kind, e.Name, err)
		}

		return nil
	})
	if err != nil {
		return event.Event{}, err
	}

	// Reselect so a racing writer's row comes back with its id.
	query, args, err := qb.Select("*").From(table).
		Where(
			qb.Eq("source_event_id", e.SourceEventID),
			qb.Eq("source_platform", e.SourcePlatform),
		).
		ToSQL()
	if err != nil {
		return event.Event{}, fmt.Errorf("build reselect %s query: %w", e.Kind, err)
	}

	var row eventTableModel
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		return event.Event{}, fmt.Errorf("reselect %s source_event_id=%s: %w", e.Kind, e.SourceEventID, err)
	}

	return row.toDomain(e.Kind), nil
}

func (r *EventRepository) GetByID(ctx context.Context, kind event.Kind, id int64) (event.Event, bool, error) {
	table, err := r.tableFor(kind)
	if err != nil {
		return event.Event{}, false, err
	}

	query, args, err := qb.Select("*").From(table).
		Where(qb.Eq("id", id)).
		ToSQL()
	if err != nil {
		return event.Event{}, false, fmt.Errorf("build get %s by id query: %w", kind, err)
	}

	var row eventTableModel
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if isNotFound(err) {
			return event.Event{}, false, nil
		}

		return event.Event{}, false, fmt.Errorf("get %s id=%d: %w", kind, id, err)
	}

	return row.toDomain(kind), true, nil
}
