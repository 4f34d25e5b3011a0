package domain

import (
	"strconv"
	"time"
)

// ReportStatus is the lifecycle status of a citizen report.
type ReportStatus string

const (
	ReportStatusReceived   ReportStatus = "received"
	ReportStatusPending    ReportStatus = "pending_classification"
	ReportStatusAssigned   ReportStatus = "assigned"
	ReportStatusInProgress ReportStatus = "in_progress"
	ReportStatusResolved   ReportStatus = "resolved"
	ReportStatusDuplicate  ReportStatus = "duplicate"
	ReportStatusRejected   ReportStatus = "rejected"
	ReportStatusClosed     ReportStatus = "closed"
)

// IneligibleStatuses are excluded from every duplicate comparison.
var IneligibleStatuses = []ReportStatus{
	ReportStatusDuplicate,
	ReportStatusRejected,
	ReportStatusClosed,
}

// IsEligible reports whether a report with this status may be compared against others.
func (s ReportStatus) IsEligible() bool {
	for _, st := range IneligibleStatuses {
		if s == st {
			return false
		}
	}
	return true
}

// Report is a citizen-submitted incident report. The table is owned by the
// report intake service; this module only reads it.
type Report struct {
	ID           uint         `gorm:"primaryKey" json:"id"`
	ReportNumber *string      `gorm:"type:text;uniqueIndex" json:"report_number,omitempty"`
	Title        string       `gorm:"type:text;not null" json:"title"`
	Description  string       `gorm:"type:text;not null" json:"description"`
	Category     string       `gorm:"type:text;index:idx_reports_category" json:"category"`
	Severity     string       `gorm:"type:text" json:"severity"`
	Latitude     float64      `gorm:"not null;index:idx_reports_location" json:"latitude"`
	Longitude    float64      `gorm:"not null;index:idx_reports_location" json:"longitude"`
	Status       ReportStatus `gorm:"type:text;index:idx_reports_status;default:received" json:"status"`
	CreatedAt    time.Time    `gorm:"index:idx_reports_created" json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// TableName returns the database table name for Report.
func (Report) TableName() string {
	return "reports"
}

// Number returns the public report number, or the numeric id when none was assigned.
func (r *Report) Number() string {
	if r.ReportNumber != nil && *r.ReportNumber != "" {
		return *r.ReportNumber
	}
	return strconv.FormatUint(uint64(r.ID), 10)
}
