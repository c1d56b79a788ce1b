package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// RebuildRepository owns the shadow-table DDL for full rebuilds and the
// swap that promotes a validated shadow into production. Shadow tables are
// created with LIKE INCLUDING ALL, which copies columns, defaults, checks,
// and indexes but not triggers or foreign keys, so guards and the
// aggregate trigger are attached explicitly.
type RebuildRepository struct {
	db *sqlx.DB
}

func NewRebuildRepository(db *sqlx.DB) *RebuildRepository {
	return &RebuildRepository{db: db}
}

var prepareShadowStatements = []string{
	"DROP TABLE IF EXISTS matches_v2_rebuild",
	"DROP TABLE IF EXISTS teams_v2_rebuild",
	"CREATE TABLE teams_v2_rebuild (LIKE teams_v2 INCLUDING ALL)",
	"CREATE TABLE matches_v2_rebuild (LIKE matches_v2 INCLUDING ALL)",
	"CREATE TRIGGER teams_v2_rebuild_write_guard BEFORE INSERT OR UPDATE OR DELETE ON teams_v2_rebuild FOR EACH STATEMENT EXECUTE FUNCTION enforce_rebuild_write()",
	"CREATE TRIGGER matches_v2_rebuild_write_guard BEFORE INSERT OR UPDATE OR DELETE ON matches_v2_rebuild FOR EACH STATEMENT EXECUTE FUNCTION enforce_rebuild_write()",
	"CREATE TRIGGER matches_v2_rebuild_apply_stats AFTER INSERT OR UPDATE OR DELETE ON matches_v2_rebuild FOR EACH ROW EXECUTE FUNCTION apply_match_stats()",
}

// PrepareShadow drops any leftover shadow tables and recreates them empty.
// The copied serial defaults keep drawing ids from the production
// sequences, so shadow ids never collide with production ids.
func (r *RebuildRepository) PrepareShadow(ctx context.Context) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx prepare shadow tables: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, stmt := range prepareShadowStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("prepare shadow tables (%s): %w", stmt, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit prepare shadow tables tx: %w", err)
	}

	return nil
}

// SwapPlan is the ordered statement list ExecuteSwap runs inside one
// transaction. Exposed so a dry run can print exactly what would execute.
func (r *RebuildRepository) SwapPlan() []string {
	return []string{
		// Step 1: detach everything referencing the tables being swapped.
		"ALTER TABLE matches_v2 DROP CONSTRAINT IF EXISTS matches_v2_home_team_id_fkey",
		"ALTER TABLE matches_v2 DROP CONSTRAINT IF EXISTS matches_v2_away_team_id_fkey",
		"ALTER TABLE matches_v2 DROP CONSTRAINT IF EXISTS matches_v2_league_id_fkey",
		"ALTER TABLE matches_v2 DROP CONSTRAINT IF EXISTS matches_v2_tournament_id_fkey",
		"ALTER TABLE team_aliases DROP CONSTRAINT IF EXISTS team_aliases_team_id_fkey",
		"ALTER TABLE league_standings DROP CONSTRAINT IF EXISTS league_standings_team_id_fkey",

		// Step 2: production moves aside, shadow moves in.
		"ALTER TABLE teams_v2 RENAME TO teams_v2_backup",
		"ALTER TABLE matches_v2 RENAME TO matches_v2_backup",
		"ALTER TABLE teams_v2_rebuild RENAME TO teams_v2",
		"ALTER TABLE matches_v2_rebuild RENAME TO matches_v2",

		// Aliases reference backup ids now; they must not resolve against
		// the rebuilt teams. Snapshot them aside so a rollback can restore
		// them intact, and start the rebuilt world with an empty table.
		"DROP TABLE IF EXISTS team_aliases_backup",
		"ALTER TABLE team_aliases RENAME TO team_aliases_backup",
		"CREATE TABLE team_aliases (LIKE team_aliases_backup INCLUDING ALL)",

		// Step 3: the canonical unique index name follows the live table.
		"ALTER INDEX IF EXISTS matches_v2_source_match_key_key RENAME TO matches_v2_backup_source_match_key_key",
		"DROP INDEX IF EXISTS matches_v2_rebuild_source_match_key_key",
		"CREATE UNIQUE INDEX matches_v2_source_match_key_key ON matches_v2 (source_match_key) WHERE deleted_at IS NULL",

		// Step 4: re-add foreign keys against the rebuilt tables.
		"ALTER TABLE matches_v2 ADD CONSTRAINT matches_v2_home_team_id_fkey FOREIGN KEY (home_team_id) REFERENCES teams_v2(id)",
		"ALTER TABLE matches_v2 ADD CONSTRAINT matches_v2_away_team_id_fkey FOREIGN KEY (away_team_id) REFERENCES teams_v2(id)",
		"ALTER TABLE matches_v2 ADD CONSTRAINT matches_v2_league_id_fkey FOREIGN KEY (league_id) REFERENCES leagues(id)",
		"ALTER TABLE matches_v2 ADD CONSTRAINT matches_v2_tournament_id_fkey FOREIGN KEY (tournament_id) REFERENCES tournaments(id)",
		"ALTER TABLE team_aliases ADD CONSTRAINT team_aliases_team_id_fkey FOREIGN KEY (team_id) REFERENCES teams_v2(id) ON DELETE CASCADE",
		"ALTER TABLE league_standings ADD CONSTRAINT league_standings_team_id_fkey FOREIGN KEY (team_id) REFERENCES teams_v2(id) ON DELETE CASCADE",

		// Step 5: the promoted tables trade their rebuild guard for the
		// production stack. Backup tables keep their original triggers, but
		// LIKE copies neither triggers nor constraints onto the fresh alias
		// table, so its guard and audit hooks are re-attached here.
		"CREATE TRIGGER team_aliases_write_guard BEFORE INSERT OR UPDATE OR DELETE ON team_aliases FOR EACH STATEMENT EXECUTE FUNCTION enforce_pipeline_write()",
		"CREATE TRIGGER team_aliases_audit AFTER INSERT OR UPDATE OR DELETE ON team_aliases FOR EACH ROW EXECUTE FUNCTION audit_row()",
		"DROP TRIGGER IF EXISTS teams_v2_rebuild_write_guard ON teams_v2",
		"DROP TRIGGER IF EXISTS matches_v2_rebuild_write_guard ON matches_v2",
		"DROP TRIGGER IF EXISTS matches_v2_rebuild_apply_stats ON matches_v2",
		"CREATE TRIGGER teams_v2_write_guard BEFORE INSERT OR UPDATE OR DELETE ON teams_v2 FOR EACH STATEMENT EXECUTE FUNCTION enforce_pipeline_write()",
		"CREATE TRIGGER matches_v2_write_guard BEFORE INSERT OR UPDATE OR DELETE ON matches_v2 FOR EACH STATEMENT EXECUTE FUNCTION enforce_pipeline_write()",
		"CREATE TRIGGER matches_v2_apply_stats AFTER INSERT OR UPDATE OR DELETE ON matches_v2 FOR EACH ROW EXECUTE FUNCTION apply_match_stats()",
		"CREATE TRIGGER teams_v2_audit AFTER INSERT OR UPDATE OR DELETE ON teams_v2 FOR EACH ROW EXECUTE FUNCTION audit_row()",
		"CREATE TRIGGER matches_v2_audit AFTER INSERT OR UPDATE OR DELETE ON matches_v2 FOR EACH ROW EXECUTE FUNCTION audit_row()",
	}
}

// ExecuteSwap runs the swap plan in a single transaction and verifies the
// promoted tables are non-empty before committing. Any failure rolls the
// whole swap back, leaving production untouched.
func (r *RebuildRepository) ExecuteSwap(ctx context.Context) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx execute swap: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, stmt := range r.SwapPlan() {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute swap (%s): %w", stmt, err)
		}
	}

	for _, table := range []string{"teams_v2", "matches_v2"} {
		var count int64
		if err := tx.GetContext(ctx, &count, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)); err != nil {
			return fmt.Errorf("verify swapped table %s: %w", table, err)
		}
		if count == 0 {
			return fmt.Errorf("swapped table %s is empty, aborting swap", table)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit execute swap tx: %w", err)
	}

	return nil
}

// RollbackPlan is the ordered statement list ExecuteRollback runs to
// restore production from the backup tables after a completed swap.
func (r *RebuildRepository) RollbackPlan() []string {
	return []string{
		"ALTER TABLE matches_v2 DROP CONSTRAINT IF EXISTS matches_v2_home_team_id_fkey",
		"ALTER TABLE matches_v2 DROP CONSTRAINT IF EXISTS matches_v2_away_team_id_fkey",
		"ALTER TABLE matches_v2 DROP CONSTRAINT IF EXISTS matches_v2_league_id_fkey",
		"ALTER TABLE matches_v2 DROP CONSTRAINT IF EXISTS matches_v2_tournament_id_fkey",
		"ALTER TABLE team_aliases DROP CONSTRAINT IF EXISTS team_aliases_team_id_fkey",
		"ALTER TABLE league_standings DROP CONSTRAINT IF EXISTS league_standings_team_id_fkey",

		"ALTER TABLE teams_v2 RENAME TO teams_v2_rebuild",
		"ALTER TABLE matches_v2 RENAME TO matches_v2_rebuild",
		"ALTER TABLE teams_v2_backup RENAME TO teams_v2",
		"ALTER TABLE matches_v2_backup RENAME TO matches_v2",

		// The swap snapshotted the pre-swap aliases aside; the post-swap
		// table only holds aliases minted against the rebuilt ids, so it is
		// dropped and the snapshot moves back in with its triggers intact.
		"DROP TABLE team_aliases",
		"ALTER TABLE team_aliases_backup RENAME TO team_aliases",

		"DROP INDEX IF EXISTS matches_v2_source_match_key_key",
		"ALTER INDEX IF EXISTS matches_v2_backup_source_match_key_key RENAME TO matches_v2_source_match_key_key",

		"ALTER TABLE matches_v2 ADD CONSTRAINT matches_v2_home_team_id_fkey FOREIGN KEY (home_team_id) REFERENCES teams_v2(id)",
		"ALTER TABLE matches_v2 ADD CONSTRAINT matches_v2_away_team_id_fkey FOREIGN KEY (away_team_id) REFERENCES teams_v2(id)",
		"ALTER TABLE matches_v2 ADD CONSTRAINT matches_v2_league_id_fkey FOREIGN KEY (league_id) REFERENCES leagues(id)",
		"ALTER TABLE matches_v2 ADD CONSTRAINT matches_v2_tournament_id_fkey FOREIGN KEY (tournament_id) REFERENCES tournaments(id)",
		"ALTER TABLE team_aliases ADD CONSTRAINT team_aliases_team_id_fkey FOREIGN KEY (team_id) REFERENCES teams_v2(id) ON DELETE CASCADE",
		"ALTER TABLE league_standings ADD CONSTRAINT league_standings_team_id_fkey FOREIGN KEY (team_id) REFERENCES teams_v2(id) ON DELETE CASCADE",

		// The re-shadowed tables picked up production triggers during the
		// swap; hand them back to the rebuild guard.
		"DROP TRIGGER IF EXISTS teams_v2_write_guard ON teams_v2_rebuild",
		"DROP TRIGGER IF EXISTS matches_v2_write_guard ON matches_v2_rebuild",
		"DROP TRIGGER IF EXISTS matches_v2_apply_stats ON matches_v2_rebuild",
		"DROP TRIGGER IF EXISTS teams_v2_audit ON teams_v2_rebuild",
		"DROP TRIGGER IF EXISTS matches_v2_audit ON matches_v2_rebuild",
		"CREATE TRIGGER teams_v2_rebuild_write_guard BEFORE INSERT OR UPDATE OR DELETE ON teams_v2_rebuild FOR EACH STATEMENT EXECUTE FUNCTION enforce_rebuild_write()",
		"CREATE TRIGGER matches_v2_rebuild_write_guard BEFORE INSERT OR UPDATE OR DELETE ON matches_v2_rebuild FOR EACH STATEMENT EXECUTE FUNCTION enforce_rebuild_write()",
	}
}

func (r *RebuildRepository) ExecuteRollback(ctx context.Context) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx execute rollback: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, stmt := range r.RollbackPlan() {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute rollback (%s): %w", stmt, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit execute rollback tx: %w", err)
	}

	return nil
}
