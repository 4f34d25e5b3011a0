package repository

import (
	"context"
	"sort"
	"time"

	"github.com/tejasbhor/Civiclens/internal/domain"
	"github.com/tejasbhor/Civiclens/internal/geo"
	"gorm.io/gorm"
)

// NearbyQuery selects eligible reports around a point.
type NearbyQuery struct {
	Center       geo.Point
	RadiusMeters float64
	Since        time.Time
	Category     string // empty matches every category
	ExcludeID    *uint
	Limit        int
}

// ReportRepository reads citizen reports.
type ReportRepository struct {
	db *gorm.DB
}

// NewReportRepository creates a new ReportRepository.
// Parameters:
//   - db: GORM database handle used for queries.
//
// Returns:
//   - *ReportRepository: repository instance bound to db.
func NewReportRepository(db *gorm.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

// Create inserts a new report.
func (r *ReportRepository) Create(ctx context.Context, report *domain.Report) error {
	return r.db.WithContext(ctx).Create(report).Error
}

// GetByID retrieves a report by ID.
// Returns gorm.ErrRecordNotFound when the report does not exist.
func (r *ReportRepository) GetByID(ctx context.Context, id uint) (*domain.Report, error) {
	var report domain.Report
	if err := r.db.WithContext(ctx).First(&report, id).Error; err != nil {
		return nil, err
	}
	return &report, nil
}

// GetByIDs retrieves reports by ID, ordered by ID. Missing IDs are skipped.
func (r *ReportRepository) GetByIDs(ctx context.Context, ids []uint) ([]domain.Report, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var reports []domain.Report
	if err := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Order("id ASC").
		Find(&reports).Error; err != nil {
		return nil, err
	}
	return reports, nil
}

// FindNearby returns eligible reports within q.RadiusMeters of q.Center created at or after q.Since.
// A bounding box narrows the scan in SQL; the exact great-circle radius is applied afterwards.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - q: spatial, temporal and status constraints.
//
// Returns:
//   - []domain.Report: matches, newest first, at most q.Limit when q.Limit > 0.
//   - error: non-nil if the query fails.
func (r *ReportRepository) FindNearby(ctx context.Context, q NearbyQuery) ([]domain.Report, error) {
	return r.findNearby(ctx, q, false)
}

// FindNearbyUnembedded is FindNearby restricted to reports with no cached embedding.
// Embeddings and index points are written together, so these are the reports a
// spatial index cannot have seen yet.
func (r *ReportRepository) FindNearbyUnembedded(ctx context.Context, q NearbyQuery) ([]domain.Report, error) {
	return r.findNearby(ctx, q, true)
}

func (r *ReportRepository) findNearby(ctx context.Context, q NearbyQuery, unembedded bool) ([]domain.Report, error) {
	box := geo.BoundingBox(q.Center, q.RadiusMeters)

	query := r.db.WithContext(ctx).
		Where("latitude BETWEEN ? AND ?", box.MinLat, box.MaxLat).
		Where(longitudeScope(r.db, box)).
		Where("created_at >= ?", q.Since).
		Where("status NOT IN ?", domain.IneligibleStatuses)
	if q.Category != "" {
		query = query.Where("category = ?", q.Category)
	}
	if q.ExcludeID != nil {
		query = query.Where("id <> ?", *q.ExcludeID)
	}
	if unembedded {
		query = query.Where("NOT EXISTS (SELECT 1 FROM report_embeddings e WHERE e.report_id = reports.id)")
	}

	var rows []domain.Report
	if err := query.Order("created_at DESC").Order("id DESC").Find(&rows).Error; err != nil {
		return nil, err
	}

	reports := make([]domain.Report, 0, len(rows))
	for _, row := range rows {
		if geo.Haversine(q.Center, geo.Point{Lat: row.Latitude, Lon: row.Longitude}) > q.RadiusMeters {
			continue
		}
		reports = append(reports, row)
		if q.Limit > 0 && len(reports) >= q.Limit {
			break
		}
	}
	return reports, nil
}

// longitudeScope matches the box's longitude span, as two ranges when it crosses the antimeridian.
func longitudeScope(db *gorm.DB, box geo.Box) *gorm.DB {
	ranges := box.LonRanges()
	scope := db.Where("longitude BETWEEN ? AND ?", ranges[0].Min, ranges[0].Max)
	for _, rg := range ranges[1:] {
		scope = scope.Or("longitude BETWEEN ? AND ?", rg.Min, rg.Max)
	}
	return scope
}

// ListEligible returns every eligible report created at or after since, optionally within one category.
// Results are ordered by creation time, then ID, so repeated runs see a stable order.
func (r *ReportRepository) ListEligible(ctx context.Context, since time.Time, category string) ([]domain.Report, error) {
	query := r.db.WithContext(ctx).
		Where("created_at >= ?", since).
		Where("status NOT IN ?", domain.IneligibleStatuses)
	if category != "" {
		query = query.Where("category = ?", category)
	}

	var reports []domain.Report
	if err := query.Order("created_at ASC").Order("id ASC").Find(&reports).Error; err != nil {
		return nil, err
	}
	return reports, nil
}

// SortByCreation orders reports by creation time, then ID.
func SortByCreation(reports []domain.Report) {
	sort.SliceStable(reports, func(i, j int) bool {
		if !reports[i].CreatedAt.Equal(reports[j].CreatedAt) {
			return reports[i].CreatedAt.Before(reports[j].CreatedAt)
		}
		return reports[i].ID < reports[j].ID
	})
}
