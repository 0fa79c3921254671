package rfi

import (
	"context"
	"math"
)

// Statistics produces the full-collection snapshot: counts by status,
// priority and question category, mean response hours, SLA compliance and
// open/overdue counts. Raw tallies come from a single SQL pass; the ratio and
// rounding arithmetic happens here.
func (s *Service) Statistics(ctx context.Context) (Statistics, error) {
	row, err := s.repo.Tally(ctx, s.now())
	if err != nil {
		return Statistics{}, err
	}
	return assembleStatistics(row), nil
}

func assembleStatistics(row TallyRow) Statistics {
	stats := Statistics{
		Total:      row.Total,
		ByStatus:   row.ByStatus,
		ByPriority: row.ByPriority,
		ByCategory: row.ByCategory,
		Open:       row.Open,
		Overdue:    row.Overdue,
	}

	// Compliance is defined over responded RFIs only and reads 100 before any
	// response exists.
	if row.Responded == 0 {
		stats.SLACompliance = 100
	} else {
		stats.SLACompliance = int(math.Round(100 * float64(row.WithinSLA) / float64(row.Responded)))
		stats.MeanResponseHours = int(math.Round(row.SumResponseHours / float64(row.Responded)))
	}
	return stats
}
