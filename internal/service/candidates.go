package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/tejasbhor/Civiclens/internal/config"
	"github.com/tejasbhor/Civiclens/internal/domain"
	"github.com/tejasbhor/Civiclens/internal/geo"
	"github.com/tejasbhor/Civiclens/internal/logger"
	"github.com/tejasbhor/Civiclens/internal/repository"
)

// CandidateSource finds eligible reports near a point.
type CandidateSource interface {
	FindNearby(ctx context.Context, q repository.NearbyQuery) ([]domain.Report, error)
}

// NearbyIndex is a spatial index that returns report IDs for a nearby query.
type NearbyIndex interface {
	FindNearby(ctx context.Context, q repository.NearbyQuery) ([]uint, error)
}

// IndexedReportStore is the report store behind an IndexedCandidateSource.
type IndexedReportStore interface {
	GetByIDs(ctx context.Context, ids []uint) ([]domain.Report, error)
	// FindNearbyUnembedded returns matching reports that have never been embedded,
	// and so were never written to the index.
	FindNearbyUnembedded(ctx context.Context, q repository.NearbyQuery) ([]domain.Report, error)
}

// IndexedCandidateSource looks candidates up in a spatial index, then reloads them
// from the report store and re-applies every constraint, so a lagging index can
// never return an ineligible report. Reports submitted since they were last
// embedded are read from the store directly and merged in.
type IndexedCandidateSource struct {
	index   NearbyIndex
	reports IndexedReportStore
}

// NewIndexedCandidateSource creates a CandidateSource backed by a spatial index.
func NewIndexedCandidateSource(index NearbyIndex, reports IndexedReportStore) *IndexedCandidateSource {
	return &IndexedCandidateSource{index: index, reports: reports}
}

// FindNearby implements CandidateSource.
func (s *IndexedCandidateSource) FindNearby(ctx context.Context, q repository.NearbyQuery) ([]domain.Report, error) {
	wide := q
	if q.Limit > 0 {
		wide.Limit = q.Limit * 2
	}
	ids, err := s.index.FindNearby(ctx, wide)
	if err != nil {
		return nil, fmt.Errorf("failed to query report index: %w", err)
	}
	rows, err := s.reports.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load indexed reports: %w", err)
	}

	out := make([]domain.Report, 0, len(rows))
	seen := make(map[uint]bool, len(rows))
	for _, r := range rows {
		switch {
		case !r.Status.IsEligible():
			continue
		case r.CreatedAt.Before(q.Since):
			continue
		case q.ExcludeID != nil && r.ID == *q.ExcludeID:
			continue
		case q.Category != "" && r.Category != q.Category:
			continue
		case geo.Haversine(q.Center, geo.Point{Lat: r.Latitude, Lon: r.Longitude}) > q.RadiusMeters:
			continue
		}
		seen[r.ID] = true
		out = append(out, r)
	}

	fresh, err := s.reports.FindNearbyUnembedded(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to load unindexed reports: %w", err)
	}
	for _, r := range fresh {
		if !seen[r.ID] {
			seen[r.ID] = true
			out = append(out, r)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// CandidateRequest describes the report being checked.
type CandidateRequest struct {
	Latitude  float64
	Longitude float64
	Category  string
	ExcludeID *uint
}

// CandidateRetriever applies the category radius, lookback window and result cap
// to a CandidateSource.
type CandidateRetriever struct {
	source    CandidateSource
	detection config.DetectionConfig
	logger    *logger.Logger
	now       func() time.Time
}

// NewCandidateRetriever creates a new CandidateRetriever.
func NewCandidateRetriever(source CandidateSource, detection config.DetectionConfig, log *logger.Logger) *CandidateRetriever {
	return &CandidateRetriever{
		source:    source,
		detection: detection,
		logger:    log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (r *CandidateRetriever) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return r.logger
}

// RadiusMeters returns the search radius used for a category.
func (r *CandidateRetriever) RadiusMeters(category string) int {
	return r.detection.RadiusMeters(category)
}

// Retrieve returns up to the configured number of eligible reports within the
// category radius created inside the lookback window. On failure it logs, returns
// an empty slice and the error, so callers can treat it as "no candidates".
func (r *CandidateRetriever) Retrieve(ctx context.Context, req CandidateRequest) ([]domain.Report, error) {
	category := r.detection.ResolveCategory(req.Category)
	q := repository.NearbyQuery{
		Center:       geo.Point{Lat: req.Latitude, Lon: req.Longitude},
		RadiusMeters: float64(r.detection.RadiusMeters(category)),
		Since:        r.now().AddDate(0, 0, -r.detection.LookbackDays),
		ExcludeID:    req.ExcludeID,
		Limit:        r.detection.CandidateLimit,
	}

	reports, err := r.source.FindNearby(ctx, q)
	if err != nil {
		r.log(ctx).WithError(err).WithFields(logger.Fields{
			logger.FieldCategory: category,
			"latitude":           req.Latitude,
			"longitude":          req.Longitude,
		}).Error("Candidate retrieval failed")
		return []domain.Report{}, err
	}
	if reports == nil {
		reports = []domain.Report{}
	}
	return reports, nil
}
