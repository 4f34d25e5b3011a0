package service

import (
	"context"
	"fmt"
	"time"

	"github.com/tejasbhor/Civiclens/internal/config"
	"github.com/tejasbhor/Civiclens/internal/logger"
)

// FailureReason explains why a verdict is degraded.
type FailureReason string

const (
	FailureRetrieval     FailureReason = "retrieval_failed"
	FailureEncoding      FailureReason = "encoding_failed"
	FailureQueryEncoding FailureReason = "query_encoding_failed"
	FailureInternal      FailureReason = "internal_error"
)

// ReportSummary identifies the report a new submission duplicates.
type ReportSummary struct {
	ID           uint      `json:"id"`
	ReportNumber string    `json:"report_number"`
	Title        string    `json:"title"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// Verdict is the outcome of a duplicate check. A degraded verdict is always
// "not duplicate": detection failures never block a submission.
type Verdict struct {
	IsDuplicate    bool           `json:"is_duplicate"`
	DuplicateOf    *uint          `json:"duplicate_of"`
	Similarity     float64        `json:"similarity"`
	RadiusMeters   int            `json:"radius_meters"`
	Threshold      float64        `json:"threshold"`
	ComparedCount  int            `json:"compared_count"`
	Explanation    string         `json:"explanation"`
	OriginalReport *ReportSummary `json:"original_report,omitempty"`
	Degraded       bool           `json:"degraded"`
	FailureReason  FailureReason  `json:"failure_reason,omitempty"`
}

// Validate checks that the verdict is internally consistent.
func (v *Verdict) Validate() error {
	if v.Similarity < -1 || v.Similarity > 1 {
		return fmt.Errorf("similarity must be between -1 and 1 (got %.3f)", v.Similarity)
	}
	if v.IsDuplicate && v.DuplicateOf == nil {
		return fmt.Errorf("duplicate_of must be set when is_duplicate is true")
	}
	if !v.IsDuplicate && v.DuplicateOf != nil {
		return fmt.Errorf("duplicate_of should not be set when is_duplicate is false")
	}
	if v.Degraded && v.IsDuplicate {
		return fmt.Errorf("a degraded verdict cannot be a duplicate")
	}
	if v.Degraded != (v.FailureReason != "") {
		return fmt.Errorf("failure_reason must be set exactly when degraded")
	}
	if v.ComparedCount < 0 {
		return fmt.Errorf("compared_count cannot be negative (got %d)", v.ComparedCount)
	}
	return nil
}

// DuplicateCheckRequest describes a report being submitted.
type DuplicateCheckRequest struct {
	Title           string   `json:"title" binding:"required"`
	Description     string   `json:"description"`
	Latitude        *float64 `json:"latitude" binding:"required"`
	Longitude       *float64 `json:"longitude" binding:"required"`
	Category        string   `json:"category"`
	ExcludeReportID *uint    `json:"exclude_report_id"`
}

// DuplicateChecker compares one report against its spatial and temporal neighbours.
type DuplicateChecker struct {
	retriever *CandidateRetriever
	cache     *EmbeddingCache
	detection config.DetectionConfig
	logger    *logger.Logger
}

// NewDuplicateChecker creates a new DuplicateChecker.
// Parameters:
//   - retriever: nearby candidate lookup.
//   - cache: embedding cache sharing the process encoder.
//   - detection: threshold and radius policy.
//   - log: fallback logger when the context carries none.
//
// Returns:
//   - *DuplicateChecker: checker ready for concurrent use.
func NewDuplicateChecker(retriever *CandidateRetriever, cache *EmbeddingCache, detection config.DetectionConfig, log *logger.Logger) *DuplicateChecker {
	return &DuplicateChecker{
		retriever: retriever,
		cache:     cache,
		detection: detection,
		logger:    log,
	}
}

func (c *DuplicateChecker) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return c.logger
}

// Check decides whether the described report duplicates an existing one.
// It never fails: internal errors produce a degraded "not duplicate" verdict.
func (c *DuplicateChecker) Check(ctx context.Context, req DuplicateCheckRequest) (verdict Verdict) {
	category := c.detection.ResolveCategory(req.Category)
	threshold := c.detection.Threshold(category)
	radius := c.detection.RadiusMeters(category)

	ctx = logger.WithFields(ctx, logger.Fields{
		logger.FieldComponent: "duplicate_checker",
		logger.FieldCategory:  category,
	})

	defer func() {
		if r := recover(); r != nil {
			c.log(ctx).Errorf("Duplicate detection panicked: %v", r)
			verdict = degradedVerdict(FailureInternal, fmt.Errorf("%v", r), radius, threshold)
		}
	}()

	var lat, lon float64
	if req.Latitude != nil {
		lat = *req.Latitude
	}
	if req.Longitude != nil {
		lon = *req.Longitude
	}

	candidates, err := c.retriever.Retrieve(ctx, CandidateRequest{
		Latitude:  lat,
		Longitude: lon,
		Category:  category,
		ExcludeID: req.ExcludeReportID,
	})
	if err != nil {
		v := noCandidatesVerdict(radius, threshold)
		v.Degraded = true
		v.FailureReason = FailureRetrieval
		return v
	}
	if len(candidates) == 0 {
		return noCandidatesVerdict(radius, threshold)
	}

	query, err := c.cache.EncodeText(ctx, ReportText(req.Title, req.Description))
	if err != nil {
		c.log(ctx).WithError(err).Error("Failed to encode submitted report")
		return degradedVerdict(FailureQueryEncoding, err, radius, threshold)
	}

	set, err := c.cache.EmbeddingsFor(ctx, candidates)
	if err != nil {
		c.log(ctx).WithError(err).Error("Failed to resolve candidate embeddings")
		return degradedVerdict(FailureEncoding, err, radius, threshold)
	}

	best := -1
	bestSim := 0.0
	compared := 0
	for i := range candidates {
		if set.Failed(i) {
			continue
		}
		compared++
		sim := CosineSimilarity(query, set.Vectors[i])
		if best < 0 || sim > bestSim {
			best, bestSim = i, sim
		}
	}
	if best < 0 {
		return degradedVerdict(FailureEncoding,
			fmt.Errorf("no candidate of %d could be encoded", len(candidates)), radius, threshold)
	}

	verdict = Verdict{
		Similarity:    round3(bestSim),
		RadiusMeters:  radius,
		Threshold:     threshold,
		ComparedCount: compared,
	}

	if bestSim < threshold {
		verdict.Explanation = fmt.Sprintf("No similar reports found (best: %s, threshold: %s)",
			percent(bestSim), percent(threshold))
		return verdict
	}

	match := candidates[best]
	verdict.IsDuplicate = true
	verdict.DuplicateOf = &match.ID
	verdict.Explanation = fmt.Sprintf("Similar report found (Report #%s). Similarity: %s, threshold: %s",
		match.Number(), percent(bestSim), percent(threshold))
	verdict.OriginalReport = &ReportSummary{
		ID:           match.ID,
		ReportNumber: match.Number(),
		Title:        match.Title,
		Status:       string(match.Status),
		CreatedAt:    match.CreatedAt,
	}

	c.log(ctx).WithFields(logger.Fields{
		logger.FieldReportID: match.ID,
		"similarity":         verdict.Similarity,
		"threshold":          threshold,
	}).Info("Duplicate detected")

	return verdict
}

func noCandidatesVerdict(radius int, threshold float64) Verdict {
	return Verdict{
		RadiusMeters: radius,
		Threshold:    threshold,
		Explanation:  "No nearby reports in spatial/temporal window",
	}
}

func degradedVerdict(reason FailureReason, err error, radius int, threshold float64) Verdict {
	return Verdict{
		RadiusMeters:  radius,
		Threshold:     threshold,
		Explanation:   "Duplicate detection failed: " + err.Error(),
		Degraded:      true,
		FailureReason: reason,
	}
}

func percent(v float64) string {
	return fmt.Sprintf("%.0f%%", v*100)
}
