package matching

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/sdoh/internal/domain/resource"
	"github.com/ehr/sdoh/internal/platform/metrics"
)

// Catalog supplies the resource snapshot matching runs over.
type Catalog interface {
	Snapshot(ctx context.Context) ([]*resource.CommunityResource, error)
}

type Service struct {
	catalog Catalog
	metrics *metrics.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

func NewService(catalog Catalog, logger zerolog.Logger) *Service {
	return &Service{
		catalog: catalog,
		logger:  logger.With().Str("component", "matching").Logger(),
		now:     time.Now,
	}
}

// SetMetrics enables Prometheus instrumentation.
func (s *Service) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// Search runs a single matching pass over the current catalog.
func (s *Service) Search(ctx context.Context, c SearchCriteria) (*SearchResponse, error) {
	start := time.Now()
	snapshot, err := s.catalog.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("load catalog snapshot: %w", err)
	}
	resp := FindMatches(snapshot, c, s.now())

	if s.metrics != nil {
		s.metrics.MatchRequests.WithLabelValues("search").Inc()
		s.metrics.MatchResults.Observe(float64(resp.Total))
		metrics.ObserveSince(s.metrics.MatchDuration.WithLabelValues("search"), start)
	}
	s.logger.Debug().
		Int("candidates", len(snapshot)).
		Int("matched", resp.Total).
		Dur("elapsed", time.Since(start)).
		Msg("resource search")
	return &resp, nil
}

// MatchNeeds matches each requested need against one shared snapshot.
func (s *Service) MatchNeeds(ctx context.Context, req NeedsRequest) (*MultiNeedResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	snapshot, err := s.catalog.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("load catalog snapshot: %w", err)
	}
	result, err := MatchNeeds(ctx, snapshot, req, s.now())
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.MatchRequests.WithLabelValues("needs").Inc()
		for _, n := range result.Needs {
			s.metrics.MatchResults.Observe(float64(n.Total))
		}
		metrics.ObserveSince(s.metrics.MatchDuration.WithLabelValues("needs"), start)
	}
	s.logger.Debug().
		Int("needs", len(req.Needs)).
		Int("candidates", len(snapshot)).
		Dur("elapsed", time.Since(start)).
		Msg("multi-need match")
	return result, nil
}
