package matcher

import (
	"context"
	"log/slog"

	"github.com/example/blood-connect/internal/geo"
	"github.com/example/blood-connect/internal/models"
	"github.com/example/blood-connect/internal/observability"
)

// Service finds eligible donors for a request: same blood group, currently
// available, within RadiusMeters of the request's coordinates.
//
// Matching is a best-effort enrichment of request creation, never a gate on
// it: an unlocated request yields an empty result without touching the index,
// and index errors collapse to an empty result rather than failing the
// already-persisted request.
type Service struct {
	Index        geo.DonorIndex
	RadiusMeters float64
	Logger       *slog.Logger
}

func (s *Service) Match(ctx context.Context, req *models.Request) models.MatchResult {
	result := models.MatchResult{RequestID: req.ID}

	target, ok := req.Target()
	if !ok {
		return result
	}

	f := geo.Filter{BloodGroup: req.BloodGroup, OnlyAvailable: true}
	donors, err := s.Index.Nearby(ctx, target.Lat, target.Lon, s.RadiusMeters, f)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Warn("donor index query failed, treating as zero matches",
				"request_id", req.ID, "error", err)
		}
		observability.MatchQueryErrors.Inc()
		return result
	}

	result.Donors = donors
	observability.MatchesTotal.Inc()
	observability.MatchCandidates.Observe(float64(len(donors)))
	return result
}
