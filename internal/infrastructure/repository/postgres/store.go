package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// ErrWriteDenied wraps rejections from the production write gate. It means
// the calling session never authorized itself, which is a configuration
// fault: jobs abort on it instead of retrying.
var ErrWriteDenied = errors.New("production write denied")

// writeGate selects which session token a transaction authorizes with.
// Production repositories use the pipeline gate; their rebuild twins write
// shadow tables under the rebuild gate, so production triggers still block.
type writeGate string

const (
	gatePipeline writeGate = "pipeline"
	gateRebuild  writeGate = "rebuild"
)

func (g writeGate) authorizeSQL() string {
	if g == gateRebuild {
		return "SELECT authorize_rebuild_write()"
	}

	return "SELECT authorize_pipeline_write()"
}

// withGatedTx runs fn inside a transaction whose session holds the gate
// token. The token is transaction-local, so it evaporates on commit or
// rollback and can never leak into unrelated work on the pooled session.
func withGatedTx(ctx context.Context, db *sqlx.DB, gate writeGate, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin gated tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, gate.authorizeSQL()); err != nil {
		return fmt.Errorf("authorize %s write: %w", gate, err)
	}

	if err := fn(tx); err != nil {
		if isWriteDenied(err) {
			return fmt.Errorf("%w: %v", ErrWriteDenied, err)
		}

		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit gated tx: %w", err)
	}

	return nil
}
