package usecase

import (
	"context"
	"fmt"

	"github.com/touchlinehq/touchline/internal/platform/logging"
)

// ViewStore is the handle to the serving-layer materialized views.
type ViewStore interface {
	Views() []string
	Refresh(ctx context.Context, view string) (fellBack bool, err error)
}

// ViewRefreshResult reports one refresh pass over the app views.
type ViewRefreshResult struct {
	Refreshed int      `json:"refreshed"`
	FellBack  []string `json:"fell_back,omitempty"`
}

// ViewRefreshService refreshes the serving-layer materialized views after
// production writes. A view that cannot refresh concurrently (unpopulated,
// or missing its unique index) falls back to a plain refresh instead of
// failing the run; the fallback is recorded so operators notice.
type ViewRefreshService struct {
	views  ViewStore
	logger *logging.Logger
}

func NewViewRefreshService(views ViewStore, logger *logging.Logger) *ViewRefreshService {
	if logger == nil {
		logger = logging.Default()
	}

	return &ViewRefreshService{views: views, logger: logger}
}

// RefreshAll refreshes every app view in order and stops at the first hard
// failure.
func (s *ViewRefreshService) RefreshAll(ctx context.Context) (ViewRefreshResult, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.ViewRefresh.RefreshAll")
	defer span.End()

	result := ViewRefreshResult{}
	for _, view := range s.views.Views() {
		fellBack, err := s.views.Refresh(ctx, view)
		if err != nil {
			return result, fmt.Errorf("refresh view %s: %w", view, err)
		}
		result.Refreshed++
		if fellBack {
			result.FellBack = append(result.FellBack, view)
			s.logger.WarnContext(ctx, "view refreshed without CONCURRENTLY", "view", view)
		}
	}

	return result, nil
}
