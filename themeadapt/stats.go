package themeadapt

import (
	"context"
	"errors"
	"fmt"

	"github.com/Yozuusan/Adtest-sub000/observability"
	"github.com/Yozuusan/Adtest-sub000/urlsafe"
)

// ErrObservabilityDisabled is returned by the read side of view events and
// metrics when no observability database is configured.
var ErrObservabilityDisabled = errors.New("themeadapt: observability disabled")

type metricsQuerier interface {
	Query(ctx context.Context, f observability.MetricFilter) ([]*observability.Metric, error)
}

// Views returns how many view events a variant received.
func (s *Service) Views(ctx context.Context, variantID string) (int, error) {
	if s.views == nil {
		return 0, ErrObservabilityDisabled
	}
	if err := urlsafe.ValidateIdentifier(variantID); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return s.views.CountViews(ctx, variantID)
}

// Metrics returns recorded datapoints, newest first. The limit defaults to
// 100 and is capped at 1000.
func (s *Service) Metrics(ctx context.Context, f observability.MetricFilter) ([]*observability.Metric, error) {
	if s.querier == nil {
		return nil, ErrObservabilityDisabled
	}
	if f.Limit <= 0 {
		f.Limit = 100
	}
	f.Limit = min(f.Limit, 1000)
	return s.querier.Query(ctx, f)
}
