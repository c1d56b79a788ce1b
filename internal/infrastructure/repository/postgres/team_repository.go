package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/touchlinehq/touchline/internal/domain/team"
	qb "github.com/touchlinehq/touchline/internal/platform/querybuilder"
)

// suffixStrippedExpr removes a trailing parenthetical from canonical_name
// inside SQL, mirroring teamname.StripTrailingQualifier.
const suffixStrippedExpr = `regexp_replace(canonical_name, '\s*\([^)]*\)$', '')`

// doublePrefixPattern matches display names that still start with a
// duplicated word prefix of up to six words.
const doublePrefixPattern = `^(\S+( \S+){0,5}) \1( |$)`

type TeamRepository struct {
	db             *sqlx.DB
	teamsTable     string
	aliasesTable   string
	gate           writeGate
	aliasesEnabled bool
}

func NewTeamRepository(db *sqlx.DB) *TeamRepository {
	return &TeamRepository{
		db:             db,
		teamsTable:     "teams_v2",
		aliasesTable:   "team_aliases",
		gate:           gatePipeline,
		aliasesEnabled: true,
	}
}

// NewRebuildTeamRepository targets the shadow team table. Aliases are
// disabled there: production alias rows point at production team ids,
// which mean nothing inside a rebuild.
func NewRebuildTeamRepository(db *sqlx.DB) *TeamRepository {
	return &TeamRepository{
		db:         db,
		teamsTable: "teams_v2_rebuild",
		gate:       gateRebuild,
	}
}

func (r *TeamRepository) GetByID(ctx context.Context, id int64) (team.Team, bool, error) {
	query, args, err := qb.Select("*").From(r.teamsTable).
		Where(qb.Eq("id", id)).
		ToSQL()
	if err != nil {
		return team.Team{}, false, fmt.Errorf("build get team by id query: %w", err)
	}

	var row teamTableModel
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if isNotFound(err) {
			return team.Team{}, false, nil
		}

		return team.Team{}, false, fmt.Errorf("get team id=%d: %w", id, err)
	}

	return row.toDomain(), true, nil
}

func (r *TeamRepository) ListByIDs(ctx context.Context, ids []int64) ([]team.Team, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query, args, err := qb.Select("*").From(r.teamsTable).
		Where(qb.In("id", int64sToAny(ids))).
		OrderBy("id").
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build select teams by ids query: %w", err)
	}

	var rows []teamTableModel
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select teams by ids: %w", err)
	}

	return teamsToDomain(rows), nil
}

func (r *TeamRepository) ListAliases(ctx context.Context, names []string) ([]team.Alias, error) {
	if !r.aliasesEnabled || len(names) == 0 {
		return nil, nil
	}

	query, args, err := qb.Select("*").From(r.aliasesTable).
		Where(qb.In("alias_name", stringsToAny(names))).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build select aliases query: %w", err)
	}

	var rows []aliasTableModel
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select aliases: %w", err)
	}

	out := make([]team.Alias, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}

	return out, nil
}

func (r *TeamRepository) ListByCanonicalNames(ctx context.Context, names []string) ([]team.Team, error) {
	if len(names) == 0 {
		return nil, nil
	}

	query, args, err := qb.Select("*").From(r.teamsTable).
		Where(qb.In("canonical_name", stringsToAny(names))).
		OrderBy("id").
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build select teams by canonical names query: %w", err)
	}

	var rows []teamTableModel
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select teams by canonical names: %w", err)
	}

	return teamsToDomain(rows), nil
}

func (r *TeamRepository) ListBySuffixStripped(ctx context.Context, stripped string) ([]team.Team, error) {
	query, args, err := qb.Select("*").From(r.teamsTable).
		Where(qb.Expr(suffixStrippedExpr+" = ?", stripped)).
		OrderBy("matches_played DESC", "created_at ASC").
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build select teams by stripped name query: %w", err)
	}

	var rows []teamTableModel
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select teams by stripped name: %w", err)
	}

	return teamsToDomain(rows), nil
}

func (r *TeamRepository) ListByPrefix(ctx context.Context, normalized string, length int) ([]team.Team, error) {
	if normalized == "" || length <= 0 {
		return nil, nil
	}

	query, args, err := qb.Select("*").From(r.teamsTable).
		Where(
			qb.Expr("left(canonical_name, 1) = left(?, 1)", normalized),
			qb.Expr("left("+suffixStrippedExpr+", ?) = left(?, ?)", length, normalized, length),
		).
		OrderBy("matches_played DESC", "created_at ASC").
		Limit(50).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build select teams by prefix query: %w", err)
	}

	var rows []teamTableModel
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select teams by prefix: %w", err)
	}

	return teamsToDomain(rows), nil
}

func (r *TeamRepository) ListSimilar(ctx context.Context, name string, filter team.SimilarityFilter) ([]team.Scored, error) {
	if name == "" {
		return nil, nil
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 10
	}

	query := fmt.Sprintf("SELECT *, similarity(canonical_name, $1) AS sim FROM %s WHERE similarity(canonical_name, $1) >= $2", r.teamsTable)
	args := []any{name, filter.Threshold}

	// Metadata constraints admit candidates with the value missing: an
	// unparsed gender must not hide the right team, the similarity floor
	// still guards the merge.
	if filter.BirthYear != nil {
		args = append(args, *filter.BirthYear)
		query += fmt.Sprintf(" AND (birth_year IS NULL OR birth_year = $%d)", len(args))
	}
	if filter.Gender == team.GenderMale || filter.Gender == team.GenderFemale {
		args = append(args, string(filter.Gender))
		query += fmt.Sprintf(" AND (gender IS NULL OR gender = $%d)", len(args))
	}
	if filter.State != nil {
		args = append(args, *filter.State)
		query += fmt.Sprintf(" AND (state IS NULL OR state = $%d)", len(args))
	}
	if filter.MatchedOnly {
		query += " AND matches_played > 0"
	}

	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY sim DESC, matches_played DESC, created_at ASC LIMIT $%d", len(args))

	var rows []scoredTeamModel
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select similar teams: %w", err)
	}

	out := make([]team.Scored, 0, len(rows))
	for _, row := range rows {
		out = append(out, team.Scored{Team: row.teamTableModel.toDomain(), Similarity: row.Similarity})
	}

	return out, nil
}

func (r *TeamRepository) InsertMany(ctx context.Context, teams []team.Team) ([]team.Team, error) {
	if len(teams) == 0 {
		return nil, nil
	}

	models := make([]teamInsertModel, 0, len(teams))
	names := make([]string, 0, len(teams))
	for _, t := range teams {
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("validate team %q: %w", t.CanonicalName, err)
		}
		models = append(models, teamInsertModelFrom(t))
		names = append(names, t.CanonicalName)
	}

	err := withGatedTx(ctx, r.db, r.gate, func(tx *sqlx.Tx) error {
		query, args, err := qb.InsertModels(r.teamsTable, models, "ON CONFLICT DO NOTHING")
		if err != nil {
			return fmt.Errorf("build insert teams query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert teams: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	// Reselect to pick up ids, including rows another writer won the race
	// for.
	return r.ListByCanonicalNames(ctx, names)
}

func (r *TeamRepository) UpsertAliases(ctx context.Context, aliases []team.Alias) error {
	if !r.aliasesEnabled || len(aliases) == 0 {
		return nil
	}

	return withGatedTx(ctx, r.db, r.gate, func(tx *sqlx.Tx) error {
		for _, alias := range aliases {
			if err := alias.Validate(); err != nil {
				return fmt.Errorf("validate alias %q: %w", alias.AliasName, err)
			}

			model := aliasInsertModel{
				AliasName: alias.AliasName,
				TeamID:    alias.TeamID,
				Source:    string(alias.Source),
			}
			query, args, err := qb.InsertModel(r.aliasesTable, model, "ON CONFLICT (alias_name) DO NOTHING")
			if err != nil {
				return fmt.Errorf("build insert alias query: %w", err)
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("insert alias %q: %w", alias.AliasName, err)
			}
		}

		return nil
	})
}

func (r *TeamRepository) Rename(ctx context.Context, id int64, canonicalName, displayName string) error {
	return withGatedTx(ctx, r.db, r.gate, func(tx *sqlx.Tx) error {
		query, args, err := qb.Update(r.teamsTable).
			Set("canonical_name", canonicalName).
			Set("display_name", displayName).
			SetExpr("updated_at", "NOW()").
			Where(qb.Eq("id", id)).
			ToSQL()
		if err != nil {
			return fmt.Errorf("build rename team query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("rename team id=%d: %w", id, err)
		}

		return nil
	})
}

func (r *TeamRepository) ListDoublePrefixNamed(ctx context.Context, limit int) ([]team.Team, error) {
	if limit <= 0 {
		limit = 200
	}

	query, args, err := qb.Select("*").From(r.teamsTable).
		Where(qb.Expr("display_name ~ ?", doublePrefixPattern)).
		OrderBy("id").
		Limit(limit).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build select double prefix teams query: %w", err)
	}

	var rows []teamTableModel
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select double prefix teams: %w", err)
	}

	return teamsToDomain(rows), nil
}

func (r *TeamRepository) ListRankedWithoutMatches(ctx context.Context) ([]team.Team, error) {
	query, args, err := qb.Select("*").From(r.teamsTable).
		Where(
			qb.NotNull("national_rank"),
			qb.Eq("matches_played", 0),
		).
		OrderBy("national_rank ASC").
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build select ranked unmatched teams query: %w", err)
	}

	var rows []teamTableModel
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select ranked unmatched teams: %w", err)
	}

	return teamsToDomain(rows), nil
}

func (r *TeamRepository) TransferRank(ctx context.Context, fromID, toID int64) error {
	return withGatedTx(ctx, r.db, r.gate, func(tx *sqlx.Tx) error {
		adopt := fmt.Sprintf(`UPDATE %s AS dst
SET national_rank = COALESCE(dst.national_rank, src.national_rank),
    data_quality_score = GREATEST(dst.data_quality_score, src.data_quality_score),
    updated_at = NOW()
FROM %s AS src
WHERE dst.id = $1 AND src.id = $2`, r.teamsTable, r.teamsTable)
		if _, err := tx.ExecContext(ctx, adopt, toID, fromID); err != nil {
			return fmt.Errorf("transfer rank to team id=%d: %w", toID, err)
		}

		release := fmt.Sprintf("UPDATE %s SET national_rank = NULL, updated_at = NOW() WHERE id = $1", r.teamsTable)
		if _, err := tx.ExecContext(ctx, release, fromID); err != nil {
			return fmt.Errorf("clear rank on team id=%d: %w", fromID, err)
		}

		return nil
	})
}

func (r *TeamRepository) ApplyRankings(ctx context.Context, updates []team.RankUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	return withGatedTx(ctx, r.db, r.gate, func(tx *sqlx.Tx) error {
		for _, update := range updates {
			query, args, err := qb.Update(r.teamsTable).
				Set("national_rank", update.NationalRank).
				SetExpr("data_quality_score", "GREATEST(data_quality_score, ?)", update.QualityScore).
				SetExpr("updated_at", "NOW()").
				Where(qb.Eq("id", update.TeamID)).
				ToSQL()
			if err != nil {
				return fmt.Errorf("build apply ranking query: %w", err)
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("apply ranking team id=%d: %w", update.TeamID, err)
			}
		}

		return nil
	})
}

func (r *TeamRepository) Stats(ctx context.Context) (team.Stats, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) AS total,
COUNT(*) FILTER (WHERE birth_year IS NULL) AS null_birth_year,
COUNT(*) FILTER (WHERE gender IS NULL) AS null_gender
FROM %s`, r.teamsTable)

	var row struct {
		Total         int64 `db:"total"`
		NullBirthYear int64 `db:"null_birth_year"`
		NullGender    int64 `db:"null_gender"`
	}
	if err := r.db.GetContext(ctx, &row, query); err != nil {
		return team.Stats{}, fmt.Errorf("count team stats: %w", err)
	}

	return team.Stats{
		Total:         row.Total,
		NullBirthYear: row.NullBirthYear,
		NullGender:    row.NullGender,
	}, nil
}

func teamsToDomain(rows []teamTableModel) []team.Team {
	out := make([]team.Team, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}

	return out
}
