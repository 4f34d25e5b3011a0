package repository

import (
	"context"
	"time"

	"github.com/tejasbhor/Civiclens/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ClusterFilter narrows ListClusters.
type ClusterFilter struct {
	Status   domain.ClusterStatus
	Category string
	Limit    int
	Offset   int
}

// MemberDiff summarizes a membership reconciliation.
type MemberDiff struct {
	Added   int
	Updated int
	Removed int
}

// ClusterRepository handles duplicate cluster and membership persistence.
type ClusterRepository struct {
	db *gorm.DB
}

// NewClusterRepository creates a new ClusterRepository.
// Parameters:
//   - db: GORM database handle used for queries.
//
// Returns:
//   - *ClusterRepository: repository instance bound to db.
func NewClusterRepository(db *gorm.DB) *ClusterRepository {
	return &ClusterRepository{db: db}
}

// Transaction runs fn against a repository bound to a single database transaction.
// The transaction commits when fn returns nil and rolls back otherwise.
func (r *ClusterRepository) Transaction(ctx context.Context, fn func(tx *ClusterRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&ClusterRepository{db: tx})
	})
}

// GetByID retrieves a cluster by ID.
// Returns gorm.ErrRecordNotFound when the cluster does not exist.
func (r *ClusterRepository) GetByID(ctx context.Context, id uint) (*domain.DuplicateCluster, error) {
	var cluster domain.DuplicateCluster
	if err := r.db.WithContext(ctx).First(&cluster, id).Error; err != nil {
		return nil, err
	}
	return &cluster, nil
}

// GetWithMembers retrieves a cluster and its members, primary first.
func (r *ClusterRepository) GetWithMembers(ctx context.Context, id uint) (*domain.DuplicateCluster, error) {
	var cluster domain.DuplicateCluster
	if err := r.db.WithContext(ctx).
		Preload("Members", func(db *gorm.DB) *gorm.DB {
			return db.Order("is_primary DESC").Order("report_id ASC")
		}).
		First(&cluster, id).Error; err != nil {
		return nil, err
	}
	return &cluster, nil
}

// Exists reports whether a cluster with the given ID exists.
func (r *ClusterRepository) Exists(ctx context.Context, id uint) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.DuplicateCluster{}).
		Where("id = ?", id).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// FindByHash returns the cluster with the given hash, or nil when none exists.
func (r *ClusterRepository) FindByHash(ctx context.Context, hash string) (*domain.DuplicateCluster, error) {
	var cluster domain.DuplicateCluster
	res := r.db.WithContext(ctx).Where("cluster_hash = ?", hash).Limit(1).Find(&cluster)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &cluster, nil
}

// FindByPrimaryReport returns the most recently updated cluster whose primary report is reportID,
// or nil when none exists.
func (r *ClusterRepository) FindByPrimaryReport(ctx context.Context, reportID uint) (*domain.DuplicateCluster, error) {
	var cluster domain.DuplicateCluster
	res := r.db.WithContext(ctx).
		Where("primary_report_id = ?", reportID).
		Order("updated_at DESC").
		Limit(1).
		Find(&cluster)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &cluster, nil
}

// UpsertByHash inserts a cluster or, when a row with the same hash already exists,
// refreshes its metrics in place. Review fields and status are never overwritten.
// The returned cluster is the stored row.
func (r *ClusterRepository) UpsertByHash(ctx context.Context, cluster *domain.DuplicateCluster) (*domain.DuplicateCluster, error) {
	if cluster.Status == "" {
		cluster.Status = domain.ClusterStatusActive
	}
	err := r.db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "cluster_hash"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"primary_report_id",
				"category",
				"severity",
				"centroid_latitude",
				"centroid_longitude",
				"cluster_size",
				"avg_similarity_score",
				"confidence_score",
				"updated_at",
			}),
		}).
		Create(cluster).Error
	if err != nil {
		return nil, err
	}

	var stored domain.DuplicateCluster
	if err := r.db.WithContext(ctx).Where("cluster_hash = ?", cluster.ClusterHash).First(&stored).Error; err != nil {
		return nil, err
	}
	return &stored, nil
}

// Refresh overwrites the hash and metrics of an existing cluster row.
// It is used when a known cluster's centroid has drifted to a new hash.
func (r *ClusterRepository) Refresh(ctx context.Context, id uint, cluster *domain.DuplicateCluster) (*domain.DuplicateCluster, error) {
	err := r.db.WithContext(ctx).Model(&domain.DuplicateCluster{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"cluster_hash":         cluster.ClusterHash,
			"primary_report_id":    cluster.PrimaryReportID,
			"category":             cluster.Category,
			"severity":             cluster.Severity,
			"centroid_latitude":    cluster.CentroidLatitude,
			"centroid_longitude":   cluster.CentroidLongitude,
			"cluster_size":         cluster.ClusterSize,
			"avg_similarity_score": cluster.AvgSimilarityScore,
			"confidence_score":     cluster.ConfidenceScore,
			"updated_at":           time.Now().UTC(),
		}).Error
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

// ListMembers returns the members of a cluster ordered by report ID.
func (r *ClusterRepository) ListMembers(ctx context.Context, clusterID uint) ([]domain.ClusterMember, error) {
	var members []domain.ClusterMember
	if err := r.db.WithContext(ctx).
		Where("cluster_id = ?", clusterID).
		Order("report_id ASC").
		Find(&members).Error; err != nil {
		return nil, err
	}
	return members, nil
}

// ReconcileMembers makes the AI-attributed membership of a cluster equal to members.
// AI members missing from members are removed, new ones are inserted and existing ones
// get refreshed scores and primary flag. Human-attributed members are never removed.
// Exactly one member, primaryReportID, carries the primary flag afterwards.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - clusterID: cluster whose membership is reconciled.
//   - primaryReportID: report that must be the only primary member.
//   - members: desired AI membership.
//
// Returns:
//   - MemberDiff: counts of added, updated and removed rows.
//   - error: non-nil if any statement fails.
func (r *ClusterRepository) ReconcileMembers(ctx context.Context, clusterID, primaryReportID uint, members []domain.ClusterMember) (MemberDiff, error) {
	var diff MemberDiff

	existing, err := r.ListMembers(ctx, clusterID)
	if err != nil {
		return diff, err
	}
	byReport := make(map[uint]domain.ClusterMember, len(existing))
	for _, m := range existing {
		byReport[m.ReportID] = m
	}

	desired := make(map[uint]bool, len(members))
	for _, m := range members {
		desired[m.ReportID] = true
	}

	var stale []uint
	for _, m := range existing {
		if m.AddedBy != domain.AddedByHuman && !desired[m.ReportID] {
			stale = append(stale, m.ReportID)
		}
	}
	if len(stale) > 0 {
		if err := r.db.WithContext(ctx).
			Where("cluster_id = ? AND report_id IN ?", clusterID, stale).
			Delete(&domain.ClusterMember{}).Error; err != nil {
			return diff, err
		}
		diff.Removed = len(stale)
	}

	if len(members) > 0 {
		rows := make([]domain.ClusterMember, len(members))
		for i, m := range members {
			m.ID = 0
			m.ClusterID = clusterID
			m.IsPrimary = m.ReportID == primaryReportID
			if m.AddedBy == "" {
				m.AddedBy = domain.AddedByAI
			}
			rows[i] = m
			if _, ok := byReport[m.ReportID]; ok {
				diff.Updated++
			} else {
				diff.Added++
			}
		}
		if err := r.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "cluster_id"}, {Name: "report_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"similarity_score", "distance_to_centroid_meters", "is_primary", "updated_at"}),
			}).
			Create(&rows).Error; err != nil {
			return diff, err
		}
	}

	if err := r.db.WithContext(ctx).Model(&domain.ClusterMember{}).
		Where("cluster_id = ? AND report_id <> ? AND is_primary = ?", clusterID, primaryReportID, true).
		Update("is_primary", false).Error; err != nil {
		return diff, err
	}

	return diff, nil
}

// List returns clusters matching the filter, most recently updated first.
func (r *ClusterRepository) List(ctx context.Context, filter ClusterFilter) ([]domain.DuplicateCluster, error) {
	query := r.db.WithContext(ctx).Model(&domain.DuplicateCluster{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Category != "" {
		query = query.Where("category = ?", filter.Category)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var clusters []domain.DuplicateCluster
	if err := query.Order("updated_at DESC").Order("id DESC").Find(&clusters).Error; err != nil {
		return nil, err
	}
	return clusters, nil
}
