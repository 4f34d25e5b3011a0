package service

import (
	"context"
	"fmt"

	"github.com/tejasbhor/Civiclens/internal/domain"
	"github.com/tejasbhor/Civiclens/internal/logger"
	"github.com/tejasbhor/Civiclens/internal/repository"
)

// UserDirectory answers whether a reviewer exists. Users are owned by another service.
type UserDirectory interface {
	Exists(ctx context.Context, userID uint) (bool, error)
}

// AnyUser accepts every positive user ID.
type AnyUser struct{}

// Exists implements UserDirectory.
func (AnyUser) Exists(_ context.Context, userID uint) (bool, error) {
	return userID > 0, nil
}

// FeedbackRequest is one reviewer judgement on a cluster.
type FeedbackRequest struct {
	ClusterID    uint                `json:"-"`
	UserID       uint                `json:"user_id" binding:"required"`
	Approved     bool                `json:"approved"`
	FeedbackType domain.FeedbackType `json:"feedback_type" binding:"required"`
	Notes        string              `json:"notes"`
}

// FeedbackLedger records reviewer feedback for later threshold tuning.
type FeedbackLedger struct {
	clusters *repository.ClusterRepository
	feedback *repository.FeedbackRepository
	users    UserDirectory
	logger   *logger.Logger
}

// NewFeedbackLedger creates a new FeedbackLedger. A nil users directory accepts any positive ID.
func NewFeedbackLedger(clusters *repository.ClusterRepository, feedback *repository.FeedbackRepository, users UserDirectory, log *logger.Logger) *FeedbackLedger {
	if users == nil {
		users = AnyUser{}
	}
	return &FeedbackLedger{
		clusters: clusters,
		feedback: feedback,
		users:    users,
		logger:   log,
	}
}

func (l *FeedbackLedger) log(ctx context.Context) *logger.Logger {
	if lg := logger.FromContext(ctx); lg != nil {
		return lg
	}
	return l.logger
}

// Record appends one feedback row after checking that the cluster and user exist.
// Returns ErrInvalidFeedbackType, ErrClusterNotFound or ErrUserNotFound on bad input.
func (l *FeedbackLedger) Record(ctx context.Context, req FeedbackRequest) (*domain.ClusterFeedback, error) {
	if !req.FeedbackType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFeedbackType, req.FeedbackType)
	}

	exists, err := l.clusters.Exists(ctx, req.ClusterID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up cluster: %w", err)
	}
	if !exists {
		return nil, ErrClusterNotFound
	}

	ok, err := l.users.Exists(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if !ok {
		return nil, ErrUserNotFound
	}

	row := &domain.ClusterFeedback{
		ClusterID:    req.ClusterID,
		UserID:       req.UserID,
		Approved:     req.Approved,
		FeedbackType: req.FeedbackType,
		Notes:        req.Notes,
	}
	if err := l.feedback.Create(ctx, row); err != nil {
		return nil, fmt.Errorf("failed to record feedback: %w", err)
	}

	l.log(ctx).WithFields(logger.Fields{
		logger.FieldClusterID: req.ClusterID,
		"user_id":             req.UserID,
		"feedback_type":       req.FeedbackType,
		"approved":            req.Approved,
	}).Info("Cluster feedback recorded")

	return row, nil
}

// History returns the feedback recorded for a cluster.
func (l *FeedbackLedger) History(ctx context.Context, clusterID uint) ([]domain.ClusterFeedback, error) {
	return l.feedback.ListByCluster(ctx, clusterID)
}
