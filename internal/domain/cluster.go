package domain

import "time"

// ClusterStatus represents the review state of a duplicate cluster.
type ClusterStatus string

const (
	ClusterStatusActive        ClusterStatus = "active"
	ClusterStatusMerged        ClusterStatus = "merged"
	ClusterStatusFalsePositive ClusterStatus = "false_positive"
	ClusterStatusArchived      ClusterStatus = "archived"
)

// IsReviewed reports whether a human has moved the cluster out of the active state.
func (s ClusterStatus) IsReviewed() bool {
	return s != "" && s != ClusterStatusActive
}

// Member attribution values.
const (
	AddedByAI    = "AI"
	AddedByHuman = "HUMAN"
)

// DuplicateCluster groups reports believed to describe the same incident.
// ClusterHash is derived from the rounded centroid and the primary report's category,
// so re-running clustering on the same data updates the same row.
type DuplicateCluster struct {
	ID                 uint            `gorm:"primaryKey" json:"id"`
	ClusterHash        string          `gorm:"type:text;not null;uniqueIndex:idx_duplicate_clusters_hash" json:"cluster_hash"`
	PrimaryReportID    uint            `gorm:"not null;index" json:"primary_report_id"`
	Category           string          `gorm:"type:text;index:idx_duplicate_clusters_category" json:"category"`
	Severity           string          `gorm:"type:text" json:"severity,omitempty"`
	CentroidLatitude   float64         `json:"centroid_latitude"`
	CentroidLongitude  float64         `json:"centroid_longitude"`
	ClusterSize        int             `gorm:"not null" json:"cluster_size"`
	AvgSimilarityScore float64         `json:"avg_similarity_score"`
	ConfidenceScore    float64         `json:"confidence_score"`
	Status             ClusterStatus   `gorm:"type:text;index:idx_duplicate_clusters_status;default:active" json:"status"`
	ReviewedByUserID   *uint           `json:"reviewed_by_user_id,omitempty"`
	ReviewedAt         *time.Time      `json:"reviewed_at,omitempty"`
	ReviewNotes        string          `gorm:"type:text" json:"review_notes,omitempty"`
	Members            []ClusterMember `gorm:"foreignKey:ClusterID" json:"members,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// TableName returns the database table name for DuplicateCluster.
func (DuplicateCluster) TableName() string {
	return "duplicate_clusters"
}

// ClusterMember links a report to a cluster. A report appears at most once per cluster.
type ClusterMember struct {
	ID                       uint      `gorm:"primaryKey" json:"id"`
	ClusterID                uint      `gorm:"not null;uniqueIndex:idx_cluster_members_pair" json:"cluster_id"`
	ReportID                 uint      `gorm:"not null;uniqueIndex:idx_cluster_members_pair;index:idx_cluster_members_report" json:"report_id"`
	SimilarityScore          float64   `json:"similarity_score"`
	DistanceToCentroidMeters *int      `json:"distance_to_centroid_meters,omitempty"`
	AddedBy                  string    `gorm:"type:text;not null;default:AI" json:"added_by"`
	IsPrimary                bool      `gorm:"not null;default:false" json:"is_primary"`
	CreatedAt                time.Time `json:"created_at"`
	UpdatedAt                time.Time `json:"updated_at"`
}

// TableName returns the database table name for ClusterMember.
func (ClusterMember) TableName() string {
	return "cluster_members"
}
