package postgres

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	dropConstraintRe = regexp.MustCompile(`ALTER TABLE (\w+) DROP CONSTRAINT IF EXISTS (\w+)`)
	addConstraintRe  = regexp.MustCompile(`ALTER TABLE (\w+) ADD CONSTRAINT (\w+)`)
)

// Both plans run inside one transaction, so a foreign key dropped early in
// the plan must be re-added before the plan ends or the swap leaves
// production without referential integrity.
func TestSwapAndRollbackPlans_ReAddEveryDroppedConstraint(t *testing.T) {
	repo := NewRebuildRepository(nil)

	for name, plan := range map[string][]string{
		"swap":     repo.SwapPlan(),
		"rollback": repo.RollbackPlan(),
	} {
		dropped := make(map[string]string)
		added := make(map[string]string)
		for _, stmt := range plan {
			if m := dropConstraintRe.FindStringSubmatch(stmt); m != nil {
				dropped[m[2]] = m[1]
			}
			if m := addConstraintRe.FindStringSubmatch(stmt); m != nil {
				added[m[2]] = m[1]
			}
		}

		require.NotEmpty(t, dropped, "%s plan drops no constraints", name)
		for constraint, table := range dropped {
			assert.Contains(t, added, constraint,
				"%s plan drops %s on %s without re-adding it", name, constraint, table)
		}
	}
}

func TestSwapPlan_SnapshotsAliasesInsteadOfDiscarding(t *testing.T) {
	repo := NewRebuildRepository(nil)
	plan := strings.Join(repo.SwapPlan(), "\n")

	assert.NotContains(t, plan, "TRUNCATE")
	assert.Contains(t, plan, "ALTER TABLE team_aliases RENAME TO team_aliases_backup")
	assert.Contains(t, plan, "CREATE TABLE team_aliases (LIKE team_aliases_backup INCLUDING ALL)")

	// LIKE copies neither triggers nor the guard, so the fresh table gets
	// its production stack re-attached inside the same plan.
	assert.Contains(t, plan, "CREATE TRIGGER team_aliases_write_guard BEFORE INSERT OR UPDATE OR DELETE ON team_aliases FOR EACH STATEMENT EXECUTE FUNCTION enforce_pipeline_write()")
	assert.Contains(t, plan, "CREATE TRIGGER team_aliases_audit AFTER INSERT OR UPDATE OR DELETE ON team_aliases FOR EACH ROW EXECUTE FUNCTION audit_row()")
}

func TestRollbackPlan_RestoresAliasSnapshotAndIndexName(t *testing.T) {
	repo := NewRebuildRepository(nil)
	plan := repo.RollbackPlan()
	joined := strings.Join(plan, "\n")

	assert.NotContains(t, joined, "TRUNCATE")
	assert.Contains(t, joined, "ALTER INDEX IF EXISTS matches_v2_backup_source_match_key_key RENAME TO matches_v2_source_match_key_key")

	// The pre-swap aliases come back whole; the drop must precede the
	// rename or the restored table name collides.
	dropAt, renameAt := -1, -1
	for i, stmt := range plan {
		switch stmt {
		case "DROP TABLE team_aliases":
			dropAt = i
		case "ALTER TABLE team_aliases_backup RENAME TO team_aliases":
			renameAt = i
		}
	}
	require.NotEqual(t, -1, dropAt, "rollback never drops the post-swap alias table")
	require.NotEqual(t, -1, renameAt, "rollback never restores the alias snapshot")
	assert.Less(t, dropAt, renameAt)
}

// Every table the pipeline maintains carries both the write guard and the
// audit trigger, not just the two swap targets.
func TestMigrations_GuardAndAuditEveryPipelineTable(t *testing.T) {
	gate := readMigration(t, "000004_write_gate.up.sql")
	audit := readMigration(t, "000005_aggregates_audit.up.sql")

	for _, table := range []string{
		"teams_v2", "matches_v2", "leagues", "tournaments", "team_aliases", "league_standings",
	} {
		assert.Contains(t, gate, "CREATE TRIGGER "+table+"_write_guard", "no write guard on %s", table)
		assert.Contains(t, gate, "ON "+table+"\n    FOR EACH STATEMENT EXECUTE FUNCTION enforce_pipeline_write()", "guard on %s not wired to the pipeline gate", table)
		assert.Contains(t, audit, "CREATE TRIGGER "+table+"_audit", "no audit trigger on %s", table)
	}
}

func readMigration(t *testing.T, name string) string {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join("..", "..", "..", "..", "db", "migrations", name))
	require.NoError(t, err)
	return string(raw)
}
