package usecase

import "errors"

var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrNotFound              = errors.New("resource not found")
	ErrDependencyUnavailable = errors.New("dependency unavailable")

	// ErrValidationReject marks data that failed a promotion or rebuild
	// validation check. Row-level rejects are recorded on the staging row
	// and the batch keeps going; run-level rejects abort the run.
	ErrValidationReject = errors.New("validation reject")
)
