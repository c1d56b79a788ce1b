package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/touchlinehq/touchline/internal/domain/event"
)

func TestEventResolverService_ResolveBulk_ReturnsExisting(t *testing.T) {
	t.Parallel()

	repo := newStubEventRepository()
	stored := repo.seed(event.Event{
		Kind:           event.KindLeague,
		Name:           "Heartland Premier League",
		SourceEventID:  "44821",
		SourcePlatform: "gotsport",
	})

	service := NewEventResolverService(repo, nil)

	req := EventResolveRequest{SourceEventID: "44821", SourcePlatform: "GotSport", EventName: "Heartland Premier League"}
	results, err := service.ResolveBulk(context.Background(), []EventResolveRequest{req})
	if err != nil {
		t.Fatalf("ResolveBulk error: %v", err)
	}

	got := results[req.Key()]
	if got.EventID != stored.ID || got.Kind != event.KindLeague || got.Created {
		t.Fatalf("unexpected resolution: %+v", got)
	}
	if repo.count() != 1 {
		t.Fatalf("existing event must not be duplicated, have %d", repo.count())
	}
}

func TestEventResolverService_ResolveBulk_ClassifiesByNameAndHint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		req      EventResolveRequest
		wantKind event.Kind
	}{
		{
			name:     "league token in name",
			req:      EventResolveRequest{SourceEventID: "1", SourcePlatform: "gotsport", EventName: "Frontier Conference League"},
			wantKind: event.KindLeague,
		},
		{
			name:     "adapter hint wins",
			req:      EventResolveRequest{SourceEventID: "2", SourcePlatform: "gotsport", EventName: "Spring Classic", LeagueHint: true},
			wantKind: event.KindLeague,
		},
		{
			name:     "default tournament",
			req:      EventResolveRequest{SourceEventID: "3", SourcePlatform: "playmetrics", EventName: "Memorial Day Shootout"},
			wantKind: event.KindTournament,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			repo := newStubEventRepository()
			service := NewEventResolverService(repo, nil)

			results, err := service.ResolveBulk(context.Background(), []EventResolveRequest{tc.req})
			if err != nil {
				t.Fatalf("ResolveBulk error: %v", err)
			}

			got := results[tc.req.Key()]
			if got.Kind != tc.wantKind || !got.Created {
				t.Fatalf("unexpected resolution: %+v", got)
			}
		})
	}
}

func TestEventResolverService_ResolveBulk_TournamentWindowFromEvidence(t *testing.T) {
	t.Parallel()

	repo := newStubEventRepository()
	service := NewEventResolverService(repo, nil)

	earliest := time.Date(2025, time.May, 23, 0, 0, 0, 0, time.UTC)
	latest := time.Date(2025, time.May, 26, 0, 0, 0, 0, time.UTC)
	reqs := []EventResolveRequest{
		{SourceEventID: "77", SourcePlatform: "gotsport", EventName: "Memorial Day Shootout", EarliestMatch: &earliest},
		{SourceEventID: "77", SourcePlatform: "gotsport", EventName: "Memorial Day Shootout", LatestMatch: &latest},
	}

	results, err := service.ResolveBulk(context.Background(), reqs)
	if err != nil {
		t.Fatalf("ResolveBulk error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected one deduped resolution, got %d", len(results))
	}

	stored, ok := repo.byID(results[reqs[0].Key()].EventID)
	if !ok {
		t.Fatalf("created tournament not stored")
	}
	if stored.StartDate == nil || !stored.StartDate.Equal(earliest) {
		t.Fatalf("unexpected start date: %v", stored.StartDate)
	}
	if stored.EndDate == nil || !stored.EndDate.Equal(latest) {
		t.Fatalf("unexpected end date: %v", stored.EndDate)
	}
}

func TestEventResolverService_ResolveBulk_TournamentWindowDefaultsToSeason(t *testing.T) {
	t.Parallel()

	repo := newStubEventRepository()
	service := NewEventResolverService(repo, nil)
	service.now = func() time.Time { return time.Date(2025, time.October, 10, 0, 0, 0, 0, time.UTC) }

	req := EventResolveRequest{SourceEventID: "9", SourcePlatform: "gotsport", EventName: "Fall Cup"}
	results, err := service.ResolveBulk(context.Background(), []EventResolveRequest{req})
	if err != nil {
		t.Fatalf("ResolveBulk error: %v", err)
	}

	stored, _ := repo.byID(results[req.Key()].EventID)
	wantStart := time.Date(2025, time.August, 1, 0, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2026, time.July, 31, 0, 0, 0, 0, time.UTC)
	if stored.StartDate == nil || !stored.StartDate.Equal(wantStart) {
		t.Fatalf("unexpected start date: %v", stored.StartDate)
	}
	if stored.EndDate == nil || !stored.EndDate.Equal(wantEnd) {
		t.Fatalf("unexpected end date: %v", stored.EndDate)
	}
	if stored.Season != "2025-26" {
		t.Fatalf("unexpected season label: %q", stored.Season)
	}
}

func TestEventResolverService_ResolveBulk_SkipsBlankKeys(t *testing.T) {
	t.Parallel()

	repo := newStubEventRepository()
	service := NewEventResolverService(repo, nil)

	results, err := service.ResolveBulk(context.Background(), []EventResolveRequest{
		{SourceEventID: "", SourcePlatform: "gotsport", EventName: "No ID"},
	})
	if err != nil {
		t.Fatalf("ResolveBulk error: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no resolutions, got %d", len(results))
	}
}

// stubEventRepository is an in-memory event.Repository shared by the event
// resolver, promotion, and linkage tests.
type stubEventRepository struct {
	mu     sync.Mutex
	nextID int64
	events map[int64]event.Event
}

func newStubEventRepository() *stubEventRepository {
	return &stubEventRepository{events: make(map[int64]event.Event)}
}

func (r *stubEventRepository) seed(e event.Event) event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	e.ID = r.nextID
	r.events[e.ID] = e

	return e
}

func (r *stubEventRepository) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.events)
}

func (r *stubEventRepository) byID(id int64) (event.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.events[id]

	return e, ok
}

func (r *stubEventRepository) bySourceKey(key event.SourceKey) (event.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.events {
		if event.KeyOf(e) == key {
			return e, true
		}
	}

	return event.Event{}, false
}

func (r *stubEventRepository) ListBySourceKeys(_ context.Context, keys []event.SourceKey) ([]event.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	wanted := make(map[event.SourceKey]struct{}, len(keys))
	for _, key := range keys {
		wanted[key] = struct{}{}
	}

	var out []event.Event
	for _, e := range r.events {
		if _, ok := wanted[event.KeyOf(e)]; ok {
			out = append(out, e)
		}
	}

	return out, nil
}

func (r *stubEventRepository) Insert(_ context.Context, e event.Event) (event.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.events {
		if existing.Kind == e.Kind && event.KeyOf(existing) == event.KeyOf(e) {
			return existing, nil
		}
	}

	r.nextID++
	e.ID = r.nextID
	e.CreatedAt = time.Unix(r.nextID, 0)
	r.events[e.ID] = e

	return e, nil
}

func (r *stubEventRepository) GetByID(_ context.Context, kind event.Kind, id int64) (event.Event, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.events[id]
	if !ok || e.Kind != kind {
		return event.Event{}, false, nil
	}

	return e, true, nil
}
