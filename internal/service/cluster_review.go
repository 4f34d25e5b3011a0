package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/tejasbhor/Civiclens/internal/domain"
	"github.com/tejasbhor/Civiclens/internal/repository"
	"gorm.io/gorm"
)

const (
	defaultClusterPageSize = 20
	maxClusterPageSize     = 100
)

// ClusterDetail is a cluster with its members and reviewer feedback.
type ClusterDetail struct {
	Cluster  domain.DuplicateCluster  `json:"cluster"`
	Feedback []domain.ClusterFeedback `json:"feedback"`
}

// ClusterReview serves the read path used by human reviewers.
type ClusterReview struct {
	clusters *repository.ClusterRepository
	ledger   *FeedbackLedger
}

// NewClusterReview creates a new ClusterReview.
func NewClusterReview(clusters *repository.ClusterRepository, ledger *FeedbackLedger) *ClusterReview {
	return &ClusterReview{clusters: clusters, ledger: ledger}
}

// List returns clusters most recently updated first. Limit defaults to 20 and is capped at 100.
func (s *ClusterReview) List(ctx context.Context, filter repository.ClusterFilter) ([]domain.DuplicateCluster, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultClusterPageSize
	}
	if filter.Limit > maxClusterPageSize {
		filter.Limit = maxClusterPageSize
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	clusters, err := s.clusters.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list clusters: %w", err)
	}
	if clusters == nil {
		clusters = []domain.DuplicateCluster{}
	}
	return clusters, nil
}

// Get returns one cluster with members and feedback, or ErrClusterNotFound.
func (s *ClusterReview) Get(ctx context.Context, id uint) (*ClusterDetail, error) {
	cluster, err := s.clusters.GetWithMembers(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrClusterNotFound
		}
		return nil, fmt.Errorf("failed to get cluster: %w", err)
	}

	feedback, err := s.ledger.History(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get cluster feedback: %w", err)
	}
	if feedback == nil {
		feedback = []domain.ClusterFeedback{}
	}
	if cluster.Members == nil {
		cluster.Members = []domain.ClusterMember{}
	}
	return &ClusterDetail{Cluster: *cluster, Feedback: feedback}, nil
}
