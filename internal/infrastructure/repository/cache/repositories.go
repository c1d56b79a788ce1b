package cache

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/touchlinehq/touchline/internal/domain/event"
	"github.com/touchlinehq/touchline/internal/domain/team"
	basecache "github.com/touchlinehq/touchline/internal/platform/cache"
)

// TeamRepository caches the resolver's read paths. Promotion asks the
// same alias, canonical, and prefix questions for every staged row, so a
// short TTL in front of postgres removes most of the round trips.
type TeamRepository struct {
	next  team.Repository
	cache *basecache.Store
}

func NewTeamRepository(next team.Repository, cache *basecache.Store) *TeamRepository {
	return &TeamRepository{next: next, cache: cache}
}

func (r *TeamRepository) GetByID(ctx context.Context, id int64) (team.Team, bool, error) {
	key := "team:id:" + strconv.FormatInt(id, 10)
	v, err := r.cache.GetOrLoad(ctx, key, func(ctx context.Context) (any, error) {
		item, exists, err := r.next.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return cachedTeamByID{value: item, exists: exists}, nil
	})
	if err != nil {
		return team.Team{}, false, err
	}

	cached, _ := v.(cachedTeamByID)
	return cached.value, cached.exists, nil
}

func (r *TeamRepository) ListByIDs(ctx context.Context, ids []int64) ([]team.Team, error) {
	key := "team:ids:" + joinInt64s(ids)
	v, err := r.cache.GetOrLoad(ctx, key, func(ctx context.Context) (any, error) {
		items, err := r.next.ListByIDs(ctx, ids)
		if err != nil {
			return nil, err
		}
		return append([]team.Team(nil), items...), nil
	})
	if err != nil {
		return nil, err
	}

	items, _ := v.([]team.Team)
	return append([]team.Team(nil), items...), nil
}

func (r *TeamRepository) ListAliases(ctx context.Context, names []string) ([]team.Alias, error) {
	key := teamAliasPrefix + joinStrings(names)
	v, err := r.cache.GetOrLoad(ctx, key, func(ctx context.Context) (any, error) {
		items, err := r.next.ListAliases(ctx, names)
		if err != nil {
			return nil, err
		}
		return append([]team.Alias(nil), items...), nil
	})
	if err != nil {
		return nil, err
	}

	items, _ := v.([]team.Alias)
	return append([]team.Alias(nil), items...), nil
}

func (r *TeamRepository) ListByCanonicalNames(ctx context.Context, names []string) ([]team.Team, error) {
	key := "team:canonical:" + joinStrings(names)
	v, err := r.cache.GetOrLoad(ctx, key, func(ctx context.Context) (any, error) {
		items, err := r.next.ListByCanonicalNames(ctx, names)
		if err != nil {
			return nil, err
		}
		return append([]team.Team(nil), items...), nil
	})
	if err != nil {
		return nil, err
	}

	items, _ := v.([]team.Team)
	return append([]team.Team(nil), items...), nil
}

func (r *TeamRepository) ListBySuffixStripped(ctx context.Context, stripped string) ([]team.Team, error) {
	key := "team:suffix:" + stripped
	v, err := r.cache.GetOrLoad(ctx, key, func(ctx context.Context) (any, error) {
		items, err := r.next.ListBySuffixStripped(ctx, stripped)
		if err != nil {
			return nil, err
		}
		return append([]team.Team(nil), items...), nil
	})
	if err != nil {
		return nil, err
	}

	items, _ := v.([]team.Team)
	return append([]team.Team(nil), items...), nil
}

func (r *TeamRepository) ListByPrefix(ctx context.Context, normalized string, length int) ([]team.Team, error) {
	key := "team:prefix:" + strconv.Itoa(length) + ":" + normalized
	v, err := r.cache.GetOrLoad(ctx, key, func(ctx context.Context) (any, error) {
		items, err := r.next.ListByPrefix(ctx, normalized, length)
		if err != nil {
			return nil, err
		}
		return append([]team.Team(nil), items...), nil
	})
	if err != nil {
		return nil, err
	}

	items, _ := v.([]team.Team)
	return append([]team.Team(nil), items...), nil
}

// ListSimilar stays uncached: fuzzy probes are keyed by raw source names
// that rarely repeat inside one TTL window, so entries would pile up
// without ever being hit again.
func (r *TeamRepository) ListSimilar(ctx context.Context, name string, filter team.SimilarityFilter) ([]team.Scored, error) {
	return r.next.ListSimilar(ctx, name, filter)
}

func (r *TeamRepository) InsertMany(ctx context.Context, teams []team.Team) ([]team.Team, error) {
	items, err := r.next.InsertMany(ctx, teams)
	if err != nil {
		return nil, err
	}
	r.cache.DeletePrefix(ctx, "team:")
	return items, nil
}

func (r *TeamRepository) UpsertAliases(ctx context.Context, aliases []team.Alias) error {
	if err := r.next.UpsertAliases(ctx, aliases); err != nil {
		return err
	}
	r.cache.DeletePrefix(ctx, teamAliasPrefix)
	return nil
}

func (r *TeamRepository) Rename(ctx context.Context, id int64, canonicalName, displayName string) error {
	if err := r.next.Rename(ctx, id, canonicalName, displayName); err != nil {
		return err
	}
	r.cache.DeletePrefix(ctx, "team:")
	return nil
}

// The repair and reconciliation scans read rows they are about to change;
// serving them cached copies would leave the jobs chewing on stale state.
func (r *TeamRepository) ListDoublePrefixNamed(ctx context.Context, limit int) ([]team.Team, error) {
	return r.next.ListDoublePrefixNamed(ctx, limit)
}

func (r *TeamRepository) ListRankedWithoutMatches(ctx context.Context) ([]team.Team, error) {
	return r.next.ListRankedWithoutMatches(ctx)
}

func (r *TeamRepository) TransferRank(ctx context.Context, fromID, toID int64) error {
	if err := r.next.TransferRank(ctx, fromID, toID); err != nil {
		return err
	}
	r.cache.DeletePrefix(ctx, "team:")
	return nil
}

func (r *TeamRepository) ApplyRankings(ctx context.Context, updates []team.RankUpdate) error {
	if err := r.next.ApplyRankings(ctx, updates); err != nil {
		return err
	}
	r.cache.DeletePrefix(ctx, "team:")
	return nil
}

func (r *TeamRepository) Stats(ctx context.Context) (team.Stats, error) {
	return r.next.Stats(ctx)
}

type cachedTeamByID struct {
	value  team.Team
	exists bool
}

const teamAliasPrefix = "team:aliases:"

type EventRepository struct {
	next  event.Repository
	cache *basecache.Store
}

func NewEventRepository(next event.Repository, cache *basecache.Store) *EventRepository {
	return &EventRepository{next: next, cache: cache}
}

func (r *EventRepository) ListBySourceKeys(ctx context.Context, keys []event.SourceKey) ([]event.Event, error) {
	key := "event:keys:" + joinSourceKeys(keys)
	v, err := r.cache.GetOrLoad(ctx, key, func(ctx context.Context) (any, error) {
		items, err := r.next.ListBySourceKeys(ctx, keys)
		if err != nil {
			return nil, err
		}
		return append([]event.Event(nil), items...), nil
	})
	if err != nil {
		return nil, err
	}

	items, _ := v.([]event.Event)
	return append([]event.Event(nil), items...), nil
}

func (r *EventRepository) Insert(ctx context.Context, e event.Event) (event.Event, error) {
	stored, err := r.next.Insert(ctx, e)
	if err != nil {
		return event.Event{}, err
	}
	r.cache.DeletePrefix(ctx, "event:")
	return stored, nil
}

func (r *EventRepository) GetByID(ctx context.Context, kind event.Kind, id int64) (event.Event, bool, error) {
	key := "event:id:" + string(kind) + ":" + strconv.FormatInt(id, 10)
	v, err := r.cache.GetOrLoad(ctx, key, func(ctx context.Context) (any, error) {
		item, exists, err := r.next.GetByID(ctx, kind, id)
		if err != nil {
			return nil, err
		}
		return cachedEventByID{value: item, exists: exists}, nil
	})
	if err != nil {
		return event.Event{}, false, err
	}

	cached, _ := v.(cachedEventByID)
	return cached.value, cached.exists, nil
}

type cachedEventByID struct {
	value  event.Event
	exists bool
}

func joinStrings(values []string) string {
	sorted := append([]string(nil), values...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

func joinInt64s(values []int64) string {
	sorted := append([]int64(nil), values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	parts := make([]string, 0, len(sorted))
	for _, v := range sorted {
		parts = append(parts, strconv.FormatInt(v, 10))
	}
	return strings.Join(parts, ",")
}

func joinSourceKeys(keys []event.SourceKey) string {
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key.SourcePlatform+"|"+key.SourceEventID)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}
