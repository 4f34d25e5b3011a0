package domain

import "time"

// FeedbackType classifies a reviewer's judgement of a cluster.
type FeedbackType string

const (
	FeedbackCorrect       FeedbackType = "correct"
	FeedbackFalsePositive FeedbackType = "false_positive"
	FeedbackFalseNegative FeedbackType = "false_negative"
)

// FeedbackTypes lists every accepted feedback type.
var FeedbackTypes = []FeedbackType{
	FeedbackCorrect,
	FeedbackFalsePositive,
	FeedbackFalseNegative,
}

// Valid reports whether t is one of the accepted feedback types.
func (t FeedbackType) Valid() bool {
	for _, ft := range FeedbackTypes {
		if t == ft {
			return true
		}
	}
	return false
}

// ClusterFeedback is an append-only reviewer judgement used to tune thresholds offline.
type ClusterFeedback struct {
	ID           uint         `gorm:"primaryKey" json:"id"`
	ClusterID    uint         `gorm:"not null;index:idx_cluster_feedback_cluster" json:"cluster_id"`
	UserID       uint         `gorm:"not null;index" json:"user_id"`
	Approved     bool         `gorm:"not null" json:"approved"`
	FeedbackType FeedbackType `gorm:"type:text;not null;index:idx_cluster_feedback_type" json:"feedback_type"`
	Notes        string       `gorm:"type:text" json:"notes,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

// TableName returns the database table name for ClusterFeedback.
func (ClusterFeedback) TableName() string {
	return "cluster_feedback"
}
