// Package memory holds in-process implementations of the pipeline's
// repository ports. They back local runs without a database: one process
// scrapes, promotes, and reconciles against the same state, which dies
// with the process. Rebuilds stay postgres-only, so there is no memory
// rebuild store.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	edlib "github.com/hbollon/go-edlib"

	"github.com/touchlinehq/touchline/internal/domain/team"
	"github.com/touchlinehq/touchline/internal/domain/teamname"
)

// TeamRepository keeps canonical teams and aliases in memory. Similarity
// lookups score with Jaro-Winkler where postgres uses trigram similarity;
// the resolvers only see a ranked candidate list either way.
type TeamRepository struct {
	mu      sync.RWMutex
	nextID  int64
	teams   map[int64]team.Team
	aliases map[string]team.Alias
	now     func() time.Time
}

func NewTeamRepository(seed []team.Team) *TeamRepository {
	r := &TeamRepository{
		teams:   make(map[int64]team.Team),
		aliases: make(map[string]team.Alias),
		now:     time.Now,
	}
	for _, t := range seed {
		r.insertLocked(t)
	}

	return r
}

func (r *TeamRepository) insertLocked(t team.Team) team.Team {
	r.nextID++
	t.ID = r.nextID
	if t.CreatedAt.IsZero() {
		t.CreatedAt = r.now().UTC()
	}
	t.UpdatedAt = t.CreatedAt
	r.teams[t.ID] = t

	return t
}

func (r *TeamRepository) GetByID(_ context.Context, id int64) (team.Team, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.teams[id]

	return t, ok, nil
}

func (r *TeamRepository) ListByIDs(_ context.Context, ids []int64) ([]team.Team, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]team.Team, 0, len(ids))
	for _, id := range ids {
		if t, ok := r.teams[id]; ok {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out, nil
}

func (r *TeamRepository) ListAliases(_ context.Context, names []string) ([]team.Alias, error) {
	if len(names) == 0 {
		return nil, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]team.Alias, 0, len(names))
	for _, name := range names {
		if alias, ok := r.aliases[name]; ok {
			out = append(out, alias)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AliasName < out[j].AliasName })

	return out, nil
}

func (r *TeamRepository) ListByCanonicalNames(_ context.Context, names []string) ([]team.Team, error) {
	if len(names) == 0 {
		return nil, nil
	}

	wanted := make(map[string]struct{}, len(names))
	for _, name := range names {
		wanted[name] = struct{}{}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []team.Team
	for _, t := range r.teams {
		if _, ok := wanted[t.CanonicalName]; ok {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out, nil
}

func (r *TeamRepository) ListBySuffixStripped(_ context.Context, stripped string) ([]team.Team, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []team.Team
	for _, t := range r.teams {
		if teamname.StripTrailingQualifier(t.CanonicalName) == stripped {
			out = append(out, t)
		}
	}
	sortByStrength(out)

	return out, nil
}

func (r *TeamRepository) ListByPrefix(_ context.Context, normalized string, length int) ([]team.Team, error) {
	if normalized == "" || length <= 0 {
		return nil, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	probe := leftRunes(normalized, length)
	var out []team.Team
	for _, t := range r.teams {
		if leftRunes(t.CanonicalName, 1) != leftRunes(normalized, 1) {
			continue
		}
		if leftRunes(teamname.StripTrailingQualifier(t.CanonicalName), length) == probe {
			out = append(out, t)
		}
	}
	sortByStrength(out)
	if len(out) > 50 {
		out = out[:50]
	}

	return out, nil
}

func (r *TeamRepository) ListSimilar(_ context.Context, name string, filter team.SimilarityFilter) ([]team.Scored, error) {
	if name == "" {
		return nil, nil
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 10
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []team.Scored
	for _, t := range r.teams {
		// Constraints admit candidates with the value missing, matching
		// the SQL twin: an unparsed gender must not hide the right team.
		if filter.BirthYear != nil && t.BirthYear != nil && *t.BirthYear != *filter.BirthYear {
			continue
		}
		if (filter.Gender == team.GenderMale || filter.Gender == team.GenderFemale) &&
			t.Gender != team.GenderUnknown && t.Gender != "" && t.Gender != filter.Gender {
			continue
		}
		if filter.State != nil && t.State != nil && *t.State != *filter.State {
			continue
		}
		if filter.MatchedOnly && t.MatchesPlayed == 0 {
			continue
		}

		sim, err := edlib.StringsSimilarity(name, t.CanonicalName, edlib.JaroWinkler)
		if err != nil {
			continue
		}
		if float64(sim) < filter.Threshold {
			continue
		}
		out = append(out, team.Scored{Team: t, Similarity: float64(sim)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		if out[i].Team.MatchesPlayed != out[j].Team.MatchesPlayed {
			return out[i].Team.MatchesPlayed > out[j].Team.MatchesPlayed
		}

		return out[i].Team.ID < out[j].Team.ID
	})
	if len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}

func (r *TeamRepository) InsertMany(ctx context.Context, teams []team.Team) ([]team.Team, error) {
	if len(teams) == 0 {
		return nil, nil
	}

	names := make([]string, 0, len(teams))
	for _, t := range teams {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		names = append(names, t.CanonicalName)
	}

	r.mu.Lock()
	for _, t := range teams {
		if r.identityTakenLocked(t) {
			continue
		}
		r.insertLocked(t)
	}
	r.mu.Unlock()

	return r.ListByCanonicalNames(ctx, names)
}

// identityTakenLocked mirrors the teams table uniqueness tuple with nulls
// treated as equal, so replays cannot stack duplicate rows.
func (r *TeamRepository) identityTakenLocked(t team.Team) bool {
	for _, existing := range r.teams {
		if existing.CanonicalName == t.CanonicalName &&
			intPtrEqual(existing.BirthYear, t.BirthYear) &&
			existing.Gender == t.Gender &&
			strPtrEqual(existing.State, t.State) {
			return true
		}
	}

	return false
}

func (r *TeamRepository) UpsertAliases(_ context.Context, aliases []team.Alias) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, alias := range aliases {
		if err := alias.Validate(); err != nil {
			return err
		}
		if _, exists := r.aliases[alias.AliasName]; exists {
			continue
		}
		if alias.CreatedAt.IsZero() {
			alias.CreatedAt = r.now().UTC()
		}
		r.aliases[alias.AliasName] = alias
	}

	return nil
}

func (r *TeamRepository) Rename(_ context.Context, id int64, canonicalName, displayName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.teams[id]
	if !ok {
		return nil
	}
	t.CanonicalName = canonicalName
	t.DisplayName = displayName
	t.UpdatedAt = r.now().UTC()
	r.teams[id] = t

	return nil
}

func (r *TeamRepository) ListDoublePrefixNamed(_ context.Context, limit int) ([]team.Team, error) {
	if limit <= 0 {
		limit = 200
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []team.Team
	for _, t := range r.teams {
		display := strings.TrimSpace(t.DisplayName)
		if display != "" && teamname.FixDoublePrefix(display) != display {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}

func (r *TeamRepository) ListRankedWithoutMatches(_ context.Context) ([]team.Team, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []team.Team
	for _, t := range r.teams {
		if t.NationalRank != nil && t.MatchesPlayed == 0 {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if *out[i].NationalRank != *out[j].NationalRank {
			return *out[i].NationalRank < *out[j].NationalRank
		}

		return out[i].ID < out[j].ID
	})

	return out, nil
}

func (r *TeamRepository) TransferRank(_ context.Context, fromID, toID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	src, srcOK := r.teams[fromID]
	dst, dstOK := r.teams[toID]
	if srcOK && dstOK {
		if dst.NationalRank == nil {
			dst.NationalRank = src.NationalRank
		}
		if src.DataQualityScore > dst.DataQualityScore {
			dst.DataQualityScore = src.DataQualityScore
		}
		dst.UpdatedAt = r.now().UTC()
		r.teams[toID] = dst
	}
	if srcOK {
		src.NationalRank = nil
		src.UpdatedAt = r.now().UTC()
		r.teams[fromID] = src
	}

	return nil
}

func (r *TeamRepository) ApplyRankings(_ context.Context, updates []team.RankUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, update := range updates {
		t, ok := r.teams[update.TeamID]
		if !ok {
			continue
		}
		rank := update.NationalRank
		t.NationalRank = &rank
		if update.QualityScore > t.DataQualityScore {
			t.DataQualityScore = update.QualityScore
		}
		t.UpdatedAt = r.now().UTC()
		r.teams[update.TeamID] = t
	}

	return nil
}

func (r *TeamRepository) Stats(_ context.Context) (team.Stats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats team.Stats
	for _, t := range r.teams {
		stats.Total++
		if t.BirthYear == nil {
			stats.NullBirthYear++
		}
		if t.Gender == "" || t.Gender == team.GenderUnknown {
			stats.NullGender++
		}
	}

	return stats, nil
}

// sortByStrength orders prefix and suffix candidates the way the SQL twin
// does: most matches played first, oldest row breaking ties.
func sortByStrength(teams []team.Team) {
	sort.Slice(teams, func(i, j int) bool {
		if teams[i].MatchesPlayed != teams[j].MatchesPlayed {
			return teams[i].MatchesPlayed > teams[j].MatchesPlayed
		}

		return teams[i].ID < teams[j].ID
	})
}

func leftRunes(s string, n int) string {
	runes := []rune(s)
	if n >= len(runes) {
		return s
	}

	return string(runes[:n])
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	return *a == *b
}

func strPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	return *a == *b
}
