package repository

import (
	"context"

	"github.com/tejasbhor/Civiclens/internal/domain"
	"gorm.io/gorm"
)

// FeedbackRepository appends reviewer feedback rows.
type FeedbackRepository struct {
	db *gorm.DB
}

// NewFeedbackRepository creates a new FeedbackRepository.
func NewFeedbackRepository(db *gorm.DB) *FeedbackRepository {
	return &FeedbackRepository{db: db}
}

// Create inserts a feedback row. Rows are never updated or deleted.
func (r *FeedbackRepository) Create(ctx context.Context, feedback *domain.ClusterFeedback) error {
	return r.db.WithContext(ctx).Create(feedback).Error
}

// ListByCluster returns the feedback recorded for a cluster, oldest first.
func (r *FeedbackRepository) ListByCluster(ctx context.Context, clusterID uint) ([]domain.ClusterFeedback, error) {
	var rows []domain.ClusterFeedback
	if err := r.db.WithContext(ctx).
		Where("cluster_id = ?", clusterID).
		Order("created_at ASC").Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
