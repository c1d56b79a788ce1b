package postgres

import (
	"database/sql"
	"time"

	"github.com/touchlinehq/touchline/internal/domain/event"
)

// eventTableModel maps both leagues and tournaments; the two tables
// share one shape and differ only in which match column references them.
type eventTableModel struct {
	ID             int64          `db:"id"`
	Name           string         `db:"name"`
	SourceEventID  string         `db:"source_event_id"`
	SourcePlatform string         `db:"source_platform"`
	State          sql.NullString `db:"state"`
	Season         sql.NullString `db:"season"`
	StartDate      sql.NullTime   `db:"start_date"`
	EndDate        sql.NullTime   `db:"end_date"`
	CreatedAt      time.Time      `db:"created_at"`
}

func (m eventTableModel) toDomain(kind event.Kind) event.Event {
	out := event.Event{
		ID:             m.ID,
		Kind:           kind,
		Name:           m.Name,
		SourceEventID:  m.SourceEventID,
		SourcePlatform: m.SourcePlatform,
		CreatedAt:      m.CreatedAt,
	}

	out.State = nullStringToPtr(m.State)
	out.StartDate = nullTimeToPtr(m.StartDate)
	out.EndDate = nullTimeToPtr(m.EndDate)
	if m.Season.Valid {
		out.Season = m.Season.String
	}

	return out
}

type eventInsertModel struct {
	Name           string     `db:"name"`
	SourceEventID  string     `db:"source_event_id"`
	SourcePlatform string     `db:"source_platform"`
	State          *string    `db:"state"`
	Season         *string    `db:"season"`
	StartDate      *time.Time `db:"start_date"`
	EndDate        *time.Time `db:"end_date"`
}

func eventInsertModelFrom(e event.Event) eventInsertModel {
	return eventInsertModel{
		Name:           e.Name,
		SourceEventID:  e.SourceEventID,
		SourcePlatform: e.SourcePlatform,
		State:          e.State,
		Season:         nullableString(e.Season),
		StartDate:      e.StartDate,
		EndDate:        e.EndDate,
	}
}
