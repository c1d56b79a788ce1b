package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/touchlinehq/touchline/internal/domain/event"
)

// EventRepository keeps leagues and tournaments in memory. The two kinds
// get separate id sequences, matching the split tables in postgres.
type EventRepository struct {
	mu     sync.RWMutex
	nextID map[event.Kind]int64
	events map[event.Kind]map[int64]event.Event
	now    func() time.Time
}

func NewEventRepository(seed []event.Event) *EventRepository {
	r := &EventRepository{
		nextID: map[event.Kind]int64{event.KindLeague: 0, event.KindTournament: 0},
		events: map[event.Kind]map[int64]event.Event{
			event.KindLeague:     make(map[int64]event.Event),
			event.KindTournament: make(map[int64]event.Event),
		},
		now: time.Now,
	}
	for _, e := range seed {
		r.insertLocked(e)
	}

	return r
}

func (r *EventRepository) insertLocked(e event.Event) event.Event {
	r.nextID[e.Kind]++
	e.ID = r.nextID[e.Kind]
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now().UTC()
	}
	r.events[e.Kind][e.ID] = e

	return e
}

func (r *EventRepository) findByKeyLocked(kind event.Kind, key event.SourceKey) (event.Event, bool) {
	for _, e := range r.events[kind] {
		if event.KeyOf(e) == key {
			return e, true
		}
	}

	return event.Event{}, false
}

func (r *EventRepository) ListBySourceKeys(_ context.Context, keys []event.SourceKey) ([]event.Event, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	wanted := make(map[event.SourceKey]struct{}, len(keys))
	for _, key := range keys {
		wanted[key] = struct{}{}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []event.Event
	for _, kind := range []event.Kind{event.KindLeague, event.KindTournament} {
		var batch []event.Event
		for _, e := range r.events[kind] {
			if _, ok := wanted[event.KeyOf(e)]; ok {
				batch = append(batch, e)
			}
		}
		sort.Slice(batch, func(i, j int) bool { return batch[i].ID < batch[j].ID })
		out = append(out, batch...)
	}

	return out, nil
}

func (r *EventRepository) Insert(_ context.Context, e event.Event) (event.Event, error) {
	if err := e.Validate(); err != nil {
		return event.Event{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.findByKeyLocked(e.Kind, event.KeyOf(e)); ok {
		return existing, nil
	}

	return r.insertLocked(e), nil
}

func (r *EventRepository) GetByID(_ context.Context, kind event.Kind, id int64) (event.Event, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.events[kind][id]

	return e, ok, nil
}
