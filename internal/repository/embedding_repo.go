package repository

import (
	"context"

	"github.com/tejasbhor/Civiclens/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EmbeddingRepository persists cached report embeddings.
type EmbeddingRepository struct {
	db *gorm.DB
}

// NewEmbeddingRepository creates a new EmbeddingRepository.
func NewEmbeddingRepository(db *gorm.DB) *EmbeddingRepository {
	return &EmbeddingRepository{db: db}
}

// GetByReportIDs loads stored embeddings for the given reports, keyed by report ID.
// Reports without a stored row are absent from the map.
func (r *EmbeddingRepository) GetByReportIDs(ctx context.Context, reportIDs []uint) (map[uint]domain.ReportEmbedding, error) {
	out := make(map[uint]domain.ReportEmbedding, len(reportIDs))
	if len(reportIDs) == 0 {
		return out, nil
	}

	var rows []domain.ReportEmbedding
	if err := r.db.WithContext(ctx).
		Where("report_id IN ?", reportIDs).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.ReportID] = row
	}
	return out, nil
}

// Upsert writes embeddings, replacing the vector and model identity of existing rows.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - embeddings: rows keyed by report ID.
//
// Returns:
//   - error: non-nil if the write fails.
func (r *EmbeddingRepository) Upsert(ctx context.Context, embeddings []domain.ReportEmbedding) error {
	if len(embeddings) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "report_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"embedding", "dimension", "model_name", "model_version", "updated_at"}),
		}).
		Create(&embeddings).Error
}

// CountByModel counts stored embeddings produced by one model version.
func (r *EmbeddingRepository) CountByModel(ctx context.Context, modelName, modelVersion string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.ReportEmbedding{}).
		Where("model_name = ? AND model_version = ?", modelName, modelVersion).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
