package joblog

import "context"

type Repository interface {
	UpsertRun(ctx context.Context, run Run) error
	ListRecent(ctx context.Context, jobName string, limit int) ([]Run, error)
}
