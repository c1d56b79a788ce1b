package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/touchlinehq/touchline/internal/domain/event"
	"github.com/touchlinehq/touchline/internal/domain/teamname"
	"github.com/touchlinehq/touchline/internal/platform/logging"
)

// EventResolveRequest asks for the league or tournament behind one source
// event. Match date evidence, when present, bounds created tournaments.
type EventResolveRequest struct {
	SourceEventID  string
	SourcePlatform string
	EventName      string
	LeagueHint     bool
	State          *string
	EarliestMatch  *time.Time
	LatestMatch    *time.Time
}

// Key returns the per-variant uniqueness tuple for the request.
func (r EventResolveRequest) Key() event.SourceKey {
	return event.SourceKey{
		SourceEventID:  strings.TrimSpace(r.SourceEventID),
		SourcePlatform: strings.ToLower(strings.TrimSpace(r.SourcePlatform)),
	}
}

// EventResolution is the outcome for one source key.
type EventResolution struct {
	EventID int64      `json:"event_id"`
	Kind    event.Kind `json:"kind"`
	Created bool       `json:"created"`
}

// EventResolverService maps source events to league or tournament rows,
// creating them on miss.
type EventResolverService struct {
	events event.Repository
	logger *logging.Logger
	now    func() time.Time
}

func NewEventResolverService(events event.Repository, logger *logging.Logger) *EventResolverService {
	if logger == nil {
		logger = logging.Default()
	}

	return &EventResolverService{
		events: events,
		logger: logger,
		now:    time.Now,
	}
}

// Resolve handles a single source event.
func (s *EventResolverService) Resolve(ctx context.Context, req EventResolveRequest) (EventResolution, error) {
	results, err := s.ResolveBulk(ctx, []EventResolveRequest{req})
	if err != nil {
		return EventResolution{}, err
	}

	resolution, ok := results[req.Key()]
	if !ok {
		return EventResolution{}, fmt.Errorf("%w: event source id and platform are required", ErrInvalidInput)
	}

	return resolution, nil
}

// ResolveBulk resolves a batch of source events in one lookup round trip,
// creating missing ones. Requests with a blank source id or platform are
// absent from the result.
func (s *EventResolverService) ResolveBulk(ctx context.Context, requests []EventResolveRequest) (map[event.SourceKey]EventResolution, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.EventResolverService.ResolveBulk")
	defer span.End()

	probes := make(map[event.SourceKey]EventResolveRequest, len(requests))
	order := make([]event.SourceKey, 0, len(requests))
	for _, req := range requests {
		key := req.Key()
		if key.SourceEventID == "" || key.SourcePlatform == "" {
			continue
		}
		existing, seen := probes[key]
		if !seen {
			probes[key] = req
			order = append(order, key)
			continue
		}
		probes[key] = mergeEventEvidence(existing, req)
	}

	out := make(map[event.SourceKey]EventResolution, len(probes))
	if len(probes) == 0 {
		return out, nil
	}

	existing, err := s.events.ListBySourceKeys(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("list events by source keys: %w", err)
	}
	for _, e := range existing {
		out[event.KeyOf(e)] = EventResolution{EventID: e.ID, Kind: e.Kind}
	}

	created := 0
	for _, key := range order {
		if _, ok := out[key]; ok {
			continue
		}

		candidate := s.newEvent(key, probes[key])
		stored, err := s.events.Insert(ctx, candidate)
		if err != nil {
			return nil, fmt.Errorf("create %s %q platform=%s: %w", candidate.Kind, candidate.Name, key.SourcePlatform, err)
		}
		out[key] = EventResolution{EventID: stored.ID, Kind: stored.Kind, Created: true}
		created++
	}
	if created > 0 {
		s.logger.InfoContext(ctx, "created events", "count", created)
	}

	return out, nil
}

func (s *EventResolverService) newEvent(key event.SourceKey, req EventResolveRequest) event.Event {
	name := strings.TrimSpace(req.EventName)
	if name == "" {
		name = key.SourcePlatform + " event " + key.SourceEventID
	}

	seasonYear := teamname.SeasonYear(s.now())
	candidate := event.Event{
		Kind:           event.ClassifyKind(name, req.LeagueHint),
		Name:           name,
		SourceEventID:  key.SourceEventID,
		SourcePlatform: key.SourcePlatform,
		State:          req.State,
		Season:         seasonLabel(seasonYear),
	}

	// Leagues run season-long; tournaments get the tightest window the
	// staging rows support, else the season window.
	if candidate.Kind == event.KindTournament {
		start, end := seasonWindow(seasonYear)
		if req.EarliestMatch != nil {
			start = *req.EarliestMatch
		}
		if req.LatestMatch != nil {
			end = *req.LatestMatch
		}
		candidate.StartDate = &start
		candidate.EndDate = &end
	}

	return candidate
}

func mergeEventEvidence(into, from EventResolveRequest) EventResolveRequest {
	if into.EventName == "" {
		into.EventName = from.EventName
	}
	if into.State == nil {
		into.State = from.State
	}
	into.LeagueHint = into.LeagueHint || from.LeagueHint
	if from.EarliestMatch != nil && (into.EarliestMatch == nil || from.EarliestMatch.Before(*into.EarliestMatch)) {
		into.EarliestMatch = from.EarliestMatch
	}
	if from.LatestMatch != nil && (into.LatestMatch == nil || from.LatestMatch.After(*into.LatestMatch)) {
		into.LatestMatch = from.LatestMatch
	}

	return into
}

func seasonLabel(seasonYear int) string {
	return fmt.Sprintf("%d-%02d", seasonYear-1, seasonYear%100)
}

// seasonWindow spans the youth season: August 1 through July 31.
func seasonWindow(seasonYear int) (time.Time, time.Time) {
	start := time.Date(seasonYear-1, time.August, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(seasonYear, time.July, 31, 0, 0, 0, 0, time.UTC)

	return start, end
}
