package team

import "context"

// SimilarityFilter constrains fuzzy candidate lookups. Zero-value fields
// leave the corresponding dimension unconstrained.
type SimilarityFilter struct {
	BirthYear   *int
	Gender      Gender
	State       *string
	MatchedOnly bool
	Threshold   float64
	Limit       int
}

// Scored is a fuzzy candidate with its similarity to the probe name.
type Scored struct {
	Team       Team
	Similarity float64
}

// RankUpdate carries a national-rank assignment for one canonical team.
type RankUpdate struct {
	TeamID       int64
	NationalRank int
	QualityScore int
}

// Stats summarizes a team table for rebuild validation.
type Stats struct {
	Total         int64
	NullBirthYear int64
	NullGender    int64
}

// Repository describes canonical team persistence needs from use cases.
type Repository interface {
	GetByID(ctx context.Context, id int64) (Team, bool, error)
	ListByIDs(ctx context.Context, ids []int64) ([]Team, error)

	// ListAliases returns the alias rows whose alias_name is in names.
	ListAliases(ctx context.Context, names []string) ([]Alias, error)
	// ListByCanonicalNames returns teams whose canonical_name is in names.
	ListByCanonicalNames(ctx context.Context, names []string) ([]Team, error)
	// ListBySuffixStripped returns teams whose canonical name, with any
	// trailing parenthetical removed, equals stripped.
	ListBySuffixStripped(ctx context.Context, stripped string) ([]Team, error)
	// ListByPrefix returns teams sharing the first length characters of
	// their suffix-stripped canonical name with normalized. Candidates are
	// pre-filtered on the first letter.
	ListByPrefix(ctx context.Context, normalized string, length int) ([]Team, error)
	// ListSimilar returns trigram-similar teams at or above the filter
	// threshold, most similar first.
	ListSimilar(ctx context.Context, name string, filter SimilarityFilter) ([]Scored, error)

	// InsertMany persists new canonical teams, tolerating uniqueness races,
	// and returns the stored rows with ids for every requested key.
	InsertMany(ctx context.Context, teams []Team) ([]Team, error)
	// UpsertAliases stores alias rows, ignoring duplicates on alias_name.
	UpsertAliases(ctx context.Context, aliases []Alias) error

	// Rename rewrites a team's canonical and display names.
	Rename(ctx context.Context, id int64, canonicalName, displayName string) error
	// ListDoublePrefixNamed returns teams whose display name still carries
	// a duplicated immediate prefix.
	ListDoublePrefixNamed(ctx context.Context, limit int) ([]Team, error)

	// ListRankedWithoutMatches returns nationally ranked teams that have
	// never been linked to a match.
	ListRankedWithoutMatches(ctx context.Context) ([]Team, error)
	// TransferRank moves the national rank from one team to another. The
	// target keeps its own rank when it already has one.
	TransferRank(ctx context.Context, fromID, toID int64) error
	// ApplyRankings assigns national ranks and quality scores in bulk.
	ApplyRankings(ctx context.Context, updates []RankUpdate) error

	Stats(ctx context.Context) (Stats, error)
}
