package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/touchlinehq/touchline/internal/domain/match"
)

// MatchRepository keeps production matches in memory, including the
// denylist that outlives soft-deleted rows.
type MatchRepository struct {
	mu       sync.RWMutex
	nextID   int64
	matches  map[int64]match.Match
	denylist map[string]string
	now      func() time.Time
}

func NewMatchRepository() *MatchRepository {
	return &MatchRepository{
		matches:  make(map[int64]match.Match),
		denylist: make(map[string]string),
		now:      time.Now,
	}
}

func (r *MatchRepository) liveByKeyLocked(key string) (match.Match, bool) {
	for _, m := range r.matches {
		if m.DeletedAt == nil && m.SourceMatchKey == key {
			return m, true
		}
	}

	return match.Match{}, false
}

func (r *MatchRepository) UpsertMany(_ context.Context, matches []match.Match) (match.UpsertStats, error) {
	var stats match.UpsertStats

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range matches {
		if err := m.Validate(); err != nil {
			return match.UpsertStats{}, err
		}

		existing, ok := r.liveByKeyLocked(m.SourceMatchKey)
		if !ok {
			r.nextID++
			m.ID = r.nextID
			now := r.now().UTC()
			m.CreatedAt = now
			m.UpdatedAt = now
			r.matches[m.ID] = m
			stats.Inserted++
			continue
		}

		// Scores and date always take the incoming value; the rest only
		// fills gaps, mirroring the SQL COALESCE columns.
		existing.MatchDate = m.MatchDate
		existing.HomeScore = m.HomeScore
		existing.AwayScore = m.AwayScore
		if m.MatchTime != nil {
			existing.MatchTime = m.MatchTime
		}
		if m.Venue != "" {
			existing.Venue = m.Venue
		}
		if m.LeagueID != nil {
			existing.LeagueID = m.LeagueID
		}
		if m.TournamentID != nil {
			existing.TournamentID = m.TournamentID
		}
		existing.UpdatedAt = r.now().UTC()
		r.matches[existing.ID] = existing
		stats.Updated++
	}

	return stats, nil
}

func (r *MatchRepository) ListUnlinked(_ context.Context, limit int) ([]match.Match, error) {
	if limit <= 0 {
		limit = 1000
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []match.Match
	for _, m := range r.matches {
		if m.DeletedAt == nil && !m.Linked() {
			out = append(out, m)
		}
	}
	sortMatchesByDate(out)
	if len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}

func (r *MatchRepository) ListLinkedByTeamIDs(_ context.Context, teamIDs []int64) ([]match.Match, error) {
	if len(teamIDs) == 0 {
		return nil, nil
	}

	wanted := make(map[int64]struct{}, len(teamIDs))
	for _, id := range teamIDs {
		wanted[id] = struct{}{}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []match.Match
	for _, m := range r.matches {
		if m.DeletedAt != nil || !m.Linked() {
			continue
		}
		_, home := wanted[m.HomeTeamID]
		_, away := wanted[m.AwayTeamID]
		if home || away {
			out = append(out, m)
		}
	}
	sortMatchesByDate(out)

	return out, nil
}

func (r *MatchRepository) AssignEvents(_ context.Context, assignments []match.EventAssignment) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var linked int64
	for _, a := range assignments {
		if (a.LeagueID == nil) == (a.TournamentID == nil) {
			return linked, fmt.Errorf("assignment for match id=%d must set exactly one event", a.MatchID)
		}

		m, ok := r.matches[a.MatchID]
		if !ok || m.DeletedAt != nil || m.Linked() {
			continue
		}
		m.LeagueID = a.LeagueID
		m.TournamentID = a.TournamentID
		m.UpdatedAt = r.now().UTC()
		r.matches[m.ID] = m
		linked++
	}

	return linked, nil
}

func (r *MatchRepository) ListActiveSourceEvents(_ context.Context, from, to time.Time) ([]match.SourceEventRef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[match.SourceEventRef]struct{})
	var out []match.SourceEventRef
	for _, m := range r.matches {
		if m.DeletedAt != nil || m.MatchDate.Before(from) || m.MatchDate.After(to) {
			continue
		}
		eventID := eventIDFromMatchKey(m.SourceMatchKey, m.SourcePlatform)
		if eventID == "" {
			continue
		}
		ref := match.SourceEventRef{SourcePlatform: m.SourcePlatform, SourceEventID: eventID}
		if _, dup := seen[ref]; dup {
			continue
		}
		seen[ref] = struct{}{}
		out = append(out, ref)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SourcePlatform != out[j].SourcePlatform {
			return out[i].SourcePlatform < out[j].SourcePlatform
		}

		return out[i].SourceEventID < out[j].SourceEventID
	})

	return out, nil
}

func (r *MatchRepository) Denylist(_ context.Context, keys []string, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	for _, key := range keys {
		if _, exists := r.denylist[key]; !exists {
			r.denylist[key] = reason
		}
		if m, ok := r.liveByKeyLocked(key); ok {
			deletedAt := now
			m.DeletedAt = &deletedAt
			m.UpdatedAt = now
			r.matches[m.ID] = m
		}
	}

	return nil
}

func (r *MatchRepository) ListDenylistedKeys(_ context.Context) (map[string]struct{}, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]struct{}, len(r.denylist))
	for key := range r.denylist {
		out[key] = struct{}{}
	}

	return out, nil
}

func (r *MatchRepository) Stats(_ context.Context) (match.Stats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats match.Stats
	keyCounts := make(map[string]int64)
	for _, m := range r.matches {
		if m.DeletedAt != nil {
			continue
		}
		stats.Total++
		keyCounts[m.SourceMatchKey]++
	}
	stats.DistinctKeys = int64(len(keyCounts))
	for _, n := range keyCounts {
		if n > 1 {
			stats.DuplicateKeyGroups++
		}
	}

	return stats, nil
}

// eventIDFromMatchKey extracts the event segment from a
// "<platform>-<event id>-<match id>" key.
func eventIDFromMatchKey(key, platform string) string {
	rest := strings.TrimPrefix(key, platform+"-")
	if rest == key {
		return ""
	}
	cut := strings.LastIndex(rest, "-")
	if cut < 0 {
		return rest
	}

	return rest[:cut]
}

func sortMatchesByDate(matches []match.Match) {
	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].MatchDate.Equal(matches[j].MatchDate) {
			return matches[i].MatchDate.Before(matches[j].MatchDate)
		}

		return matches[i].ID < matches[j].ID
	})
}
