package service

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tejasbhor/Civiclens/internal/config"
	"github.com/tejasbhor/Civiclens/internal/domain"
	"github.com/tejasbhor/Civiclens/internal/geo"
	"github.com/tejasbhor/Civiclens/internal/logger"
	"github.com/tejasbhor/Civiclens/internal/repository"
)

// Run outcomes.
const (
	RunStatusCompleted    = "completed"
	RunStatusInsufficient = "insufficient_reports"
	RunStatusFailed       = "failed"
)

// ClusterRequest selects the reports for one clustering run.
type ClusterRequest struct {
	Category       string `json:"category"`
	TimeWindowDays int    `json:"time_window_days"`
	ForceRecluster bool   `json:"force_recluster"`
}

// ClusterSummary describes a cluster created or updated by a run.
type ClusterSummary struct {
	ID                 uint                 `json:"id"`
	ClusterHash        string               `json:"cluster_hash"`
	PrimaryReportID    uint                 `json:"primary_report_id"`
	Category           string               `json:"category"`
	CentroidLatitude   float64              `json:"centroid_latitude"`
	CentroidLongitude  float64              `json:"centroid_longitude"`
	ClusterSize        int                  `json:"cluster_size"`
	AvgSimilarityScore float64              `json:"avg_similarity_score"`
	ConfidenceScore    float64              `json:"confidence_score"`
	Status             domain.ClusterStatus `json:"status"`
	Created            bool                 `json:"created"`
	MemberReportIDs    []uint               `json:"member_report_ids"`
	Quality            ClusterQuality       `json:"quality"`
}

// RunResult is the summary of one clustering run.
type RunResult struct {
	RunID            string             `json:"run_id"`
	Status           string             `json:"status"`
	Category         string             `json:"category,omitempty"`
	TimeWindowDays   int                `json:"time_window_days"`
	ForceRecluster   bool               `json:"force_recluster"`
	Threshold        float64            `json:"threshold"`
	Epsilon          float64            `json:"epsilon"`
	StartedAt        time.Time          `json:"started_at"`
	FinishedAt       time.Time          `json:"finished_at"`
	DurationMs       int64              `json:"duration_ms"`
	CandidateCount   int                `json:"candidate_count"`
	EmbeddedCount    int                `json:"embedded_count"`
	NoiseCount       int                `json:"noise_count"`
	EncodingFailures []EmbeddingFailure `json:"encoding_failures,omitempty"`
	ClustersCreated  int                `json:"clusters_created"`
	ClustersUpdated  int                `json:"clusters_updated"`
	ClustersSkipped  int                `json:"clusters_skipped"`
	MembersAdded     int                `json:"members_added"`
	MembersRemoved   int                `json:"members_removed"`
	Clusters         []ClusterSummary   `json:"clusters"`
	ArchiveURL       string             `json:"archive_url,omitempty"`
	Error            string             `json:"error,omitempty"`
}

// ReportSource lists reports eligible for clustering.
type ReportSource interface {
	ListEligible(ctx context.Context, since time.Time, category string) ([]domain.Report, error)
}

// ReportIndexer receives the reports and vectors seen by each run, keeping an
// external spatial index in step with the database.
type ReportIndexer interface {
	Upsert(ctx context.Context, reports []repository.ReportPoint) error
}

// ClusterEngineConfig wires a ClusterEngine.
type ClusterEngineConfig struct {
	Reports    ReportSource
	Clusters   *repository.ClusterRepository
	Cache      *EmbeddingCache
	Detection  config.DetectionConfig
	Clustering config.ClusteringConfig
	Lock       RunLock       // nil uses an in-process lock
	Archiver   *RunArchiver  // optional
	Indexer    ReportIndexer // optional
	Logger     *logger.Logger
}

// ClusterEngine groups recent reports into duplicate clusters.
type ClusterEngine struct {
	reports    ReportSource
	clusters   *repository.ClusterRepository
	cache      *EmbeddingCache
	detection  config.DetectionConfig
	clustering config.ClusteringConfig
	scorer     QualityScorer
	lock       RunLock
	archiver   *RunArchiver
	indexer    ReportIndexer
	logger     *logger.Logger
	now        func() time.Time
}

// NewClusterEngine creates a new ClusterEngine.
func NewClusterEngine(cfg ClusterEngineConfig) *ClusterEngine {
	lock := cfg.Lock
	if lock == nil {
		lock = NewLocalRunLock()
	}
	return &ClusterEngine{
		reports:    cfg.Reports,
		clusters:   cfg.Clusters,
		cache:      cfg.Cache,
		detection:  cfg.Detection,
		clustering: cfg.Clustering,
		scorer:     NewQualityScorer(cfg.Clustering),
		lock:       lock,
		archiver:   cfg.Archiver,
		indexer:    cfg.Indexer,
		logger:     cfg.Logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (e *ClusterEngine) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return e.logger
}

// ClusterDuplicates runs one clustering pass and returns the clusters it created or
// updated. Any failure is logged and yields an empty list; no partial state is kept.
func (e *ClusterEngine) ClusterDuplicates(ctx context.Context, req ClusterRequest) []ClusterSummary {
	result, err := e.Run(ctx, req)
	if err != nil || result == nil {
		return []ClusterSummary{}
	}
	return result.Clusters
}

// Run executes one clustering pass. All cluster and membership writes of the run
// commit together; on error nothing from this run is persisted and the returned
// result has status failed. ErrRunInProgress is returned, with a nil result, when
// another run holds the lock.
func (e *ClusterEngine) Run(ctx context.Context, req ClusterRequest) (*RunResult, error) {
	release, err := e.lock.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := release(context.Background()); err != nil {
			e.log(ctx).WithError(err).Warn("Failed to release clustering run lock")
		}
	}()

	result := e.newResult(req)
	ctx = logger.SetRunID(ctx, result.RunID)
	ctx = logger.SetComponent(ctx, "cluster_engine")

	e.log(ctx).WithFields(logger.Fields{
		logger.FieldCategory: result.Category,
		"time_window_days":   result.TimeWindowDays,
		"force_recluster":    result.ForceRecluster,
	}).Info("Starting clustering run")

	runErr := e.run(ctx, req, result)
	e.finish(ctx, result, runErr)
	if runErr != nil {
		return result, runErr
	}
	return result, nil
}

func (e *ClusterEngine) newResult(req ClusterRequest) *RunResult {
	window := req.TimeWindowDays
	if window <= 0 {
		window = e.clustering.TimeWindowDays
	}
	if window <= 0 {
		window = 30
	}

	category := strings.ToLower(strings.TrimSpace(req.Category))
	// Unfiltered runs fall back to the default category threshold.
	threshold := e.detection.Threshold(category)

	return &RunResult{
		RunID:          uuid.NewString(),
		Status:         RunStatusCompleted,
		Category:       category,
		TimeWindowDays: window,
		ForceRecluster: req.ForceRecluster,
		Threshold:      threshold,
		Epsilon:        EpsilonForThreshold(threshold),
		StartedAt:      e.now(),
		Clusters:       []ClusterSummary{},
	}
}

func (e *ClusterEngine) run(ctx context.Context, req ClusterRequest, result *RunResult) error {
	since := result.StartedAt.AddDate(0, 0, -result.TimeWindowDays)
	reports, err := e.reports.ListEligible(ctx, since, result.Category)
	if err != nil {
		return err
	}
	repository.SortByCreation(reports)
	result.CandidateCount = len(reports)
	if len(reports) < 2 {
		result.Status = RunStatusInsufficient
		return nil
	}

	set, err := e.cache.EmbeddingsFor(ctx, reports)
	if err != nil {
		return err
	}
	result.EncodingFailures = set.Failures

	population := make([]domain.Report, 0, len(reports))
	vectors := make([][]float32, 0, len(reports))
	for i, r := range reports {
		if set.Failed(i) {
			continue
		}
		population = append(population, r)
		vectors = append(vectors, set.Vectors[i])
	}
	result.EmbeddedCount = len(population)
	if len(population) < 2 {
		result.Status = RunStatusInsufficient
		return nil
	}

	e.syncIndex(ctx, population, vectors)

	labels := NewDBSCAN(result.Threshold, e.clustering.MinSamples, e.clustering.MinClusterSize).Fit(vectors)
	groups := GroupLabels(labels)
	for _, l := range labels {
		if l == Noise {
			result.NoiseCount++
		}
	}

	drafts := e.drafts(ctx, population, vectors, groups)

	var summaries []ClusterSummary
	counts := runCounts{}
	err = e.clusters.Transaction(ctx, func(tx *repository.ClusterRepository) error {
		summaries = summaries[:0]
		counts = runCounts{}
		for _, d := range drafts {
			summary, err := e.persist(ctx, tx, d, req.ForceRecluster, &counts)
			if err != nil {
				return err
			}
			if summary != nil {
				summaries = append(summaries, *summary)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	result.Clusters = append(result.Clusters, summaries...)
	result.ClustersCreated = counts.created
	result.ClustersUpdated = counts.updated
	result.ClustersSkipped = counts.skipped
	result.MembersAdded = counts.membersAdded
	result.MembersRemoved = counts.membersRemoved
	return nil
}

type runCounts struct {
	created, updated, skipped    int
	membersAdded, membersRemoved int
}

type clusterDraft struct {
	members  []domain.Report
	vectors  [][]float32
	primary  domain.Report
	centroid geo.Point
	hash     string
	quality  ClusterQuality
	avgSim   float64
}

// drafts builds one draft per group. Groups whose centroid and primary category
// produce the same hash would land on the same stored row, so they are folded
// into a single draft and redrafted until every hash is unique.
func (e *ClusterEngine) drafts(ctx context.Context, population []domain.Report, vectors [][]float32, groups [][]int) []clusterDraft {
	for {
		drafts := make([]clusterDraft, 0, len(groups))
		merged := make([][]int, 0, len(groups))
		byHash := make(map[string]int, len(groups))
		collided := false
		for _, idx := range groups {
			d := e.draft(population, vectors, idx)
			if k, ok := byHash[d.hash]; ok {
				e.log(ctx).WithFields(logger.Fields{
					"cluster_hash":        d.hash,
					"primary_report_id":   drafts[k].primary.ID,
					"colliding_report_id": d.primary.ID,
				}).Warn("Merging groups that share a cluster hash")
				merged[k] = append(merged[k], idx...)
				collided = true
				continue
			}
			byHash[d.hash] = len(drafts)
			drafts = append(drafts, d)
			merged = append(merged, append([]int(nil), idx...))
		}
		if !collided {
			return drafts
		}
		for _, idx := range merged {
			sort.Ints(idx)
		}
		groups = merged
	}
}

// draft computes everything about a cluster that does not need the database.
func (e *ClusterEngine) draft(population []domain.Report, vectors [][]float32, idx []int) clusterDraft {
	d := clusterDraft{
		members: make([]domain.Report, len(idx)),
		vectors: make([][]float32, len(idx)),
	}
	points := make([]geo.Point, len(idx))
	for k, i := range idx {
		d.members[k] = population[i]
		d.vectors[k] = vectors[i]
		points[k] = geo.Point{Lat: population[i].Latitude, Lon: population[i].Longitude}
	}

	d.primary = SelectPrimary(d.members)
	d.centroid = geo.Centroid(points)
	d.quality = e.scorer.Score(d.members, d.vectors)
	d.avgSim = round3(d.quality.Semantic)
	d.hash = ClusterHash(d.centroid.Lat, d.centroid.Lon, d.primary.Category)
	return d
}

// persist upserts one cluster and reconciles its members. It returns nil when the
// cluster was skipped because a reviewer already took it out of the active state.
func (e *ClusterEngine) persist(ctx context.Context, tx *repository.ClusterRepository, d clusterDraft, force bool, counts *runCounts) (*ClusterSummary, error) {
	existing, err := tx.FindByHash(ctx, d.hash)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		// The centroid may have drifted since the last run; follow the primary report.
		existing, err = tx.FindByPrimaryReport(ctx, d.primary.ID)
		if err != nil {
			return nil, err
		}
	}

	if existing != nil && existing.Status.IsReviewed() && !force {
		counts.skipped++
		e.log(ctx).WithFields(logger.Fields{
			logger.FieldClusterID: existing.ID,
			logger.FieldStatus:    existing.Status,
		}).Info("Skipping reviewed cluster")
		return nil, nil
	}

	row := &domain.DuplicateCluster{
		ClusterHash:        d.hash,
		PrimaryReportID:    d.primary.ID,
		Category:           d.primary.Category,
		Severity:           d.primary.Severity,
		CentroidLatitude:   d.centroid.Lat,
		CentroidLongitude:  d.centroid.Lon,
		ClusterSize:        len(d.members),
		AvgSimilarityScore: d.avgSim,
		ConfidenceScore:    d.quality.Confidence,
		Status:             domain.ClusterStatusActive,
	}

	var stored *domain.DuplicateCluster
	switch {
	case existing == nil:
		stored, err = tx.UpsertByHash(ctx, row)
		counts.created++
	case existing.ClusterHash == d.hash:
		stored, err = tx.UpsertByHash(ctx, row)
		counts.updated++
	default:
		stored, err = tx.Refresh(ctx, existing.ID, row)
		counts.updated++
	}
	if err != nil {
		return nil, err
	}

	centroidVec := MeanVector(d.vectors)
	members := make([]domain.ClusterMember, len(d.members))
	ids := make([]uint, len(d.members))
	for k, r := range d.members {
		dist := int(math.Round(geo.Haversine(geo.Point{Lat: r.Latitude, Lon: r.Longitude}, d.centroid)))
		members[k] = domain.ClusterMember{
			ReportID:                 r.ID,
			SimilarityScore:          round3(CosineSimilarity(d.vectors[k], centroidVec)),
			DistanceToCentroidMeters: &dist,
			AddedBy:                  domain.AddedByAI,
		}
		ids[k] = r.ID
	}

	diff, err := tx.ReconcileMembers(ctx, stored.ID, d.primary.ID, members)
	if err != nil {
		return nil, err
	}
	counts.membersAdded += diff.Added
	counts.membersRemoved += diff.Removed

	return &ClusterSummary{
		ID:                 stored.ID,
		ClusterHash:        stored.ClusterHash,
		PrimaryReportID:    stored.PrimaryReportID,
		Category:           stored.Category,
		CentroidLatitude:   stored.CentroidLatitude,
		CentroidLongitude:  stored.CentroidLongitude,
		ClusterSize:        stored.ClusterSize,
		AvgSimilarityScore: stored.AvgSimilarityScore,
		ConfidenceScore:    stored.ConfidenceScore,
		Status:             stored.Status,
		Created:            existing == nil,
		MemberReportIDs:    ids,
		Quality:            d.quality,
	}, nil
}

func (e *ClusterEngine) syncIndex(ctx context.Context, reports []domain.Report, vectors [][]float32) {
	if e.indexer == nil {
		return
	}
	points := make([]repository.ReportPoint, len(reports))
	for i, r := range reports {
		points[i] = reportPoint(r, vectors[i])
	}
	if err := e.indexer.Upsert(ctx, points); err != nil {
		e.log(ctx).WithError(err).Warnf("Failed to sync %d reports to the spatial index", len(points))
	}
}

func reportPoint(r domain.Report, vector []float32) repository.ReportPoint {
	return repository.ReportPoint{
		ReportID:  r.ID,
		Status:    string(r.Status),
		Category:  r.Category,
		Latitude:  r.Latitude,
		Longitude: r.Longitude,
		CreatedAt: r.CreatedAt,
		Vector:    vector,
	}
}

func (e *ClusterEngine) finish(ctx context.Context, result *RunResult, runErr error) {
	result.FinishedAt = e.now()
	result.DurationMs = result.FinishedAt.Sub(result.StartedAt).Milliseconds()

	if runErr != nil {
		result.Status = RunStatusFailed
		result.Error = runErr.Error()
		result.Clusters = []ClusterSummary{}
		result.ClustersCreated, result.ClustersUpdated, result.ClustersSkipped = 0, 0, 0
		result.MembersAdded, result.MembersRemoved = 0, 0
		e.log(ctx).WithError(runErr).Error("Clustering run failed")
	} else {
		logger.With(logger.Fields{
			logger.FieldStatus:  result.Status,
			"clusters_created":  result.ClustersCreated,
			"clusters_updated":  result.ClustersUpdated,
			"clusters_skipped":  result.ClustersSkipped,
			"noise":             result.NoiseCount,
			"encoding_failures": len(result.EncodingFailures),
		}).WithDuration(result.DurationMs).WithCount(result.CandidateCount).Info(ctx, "Clustering run finished")
	}

	if e.archiver == nil {
		return
	}
	url, err := e.archiver.Archive(ctx, result)
	if err != nil {
		e.log(ctx).WithError(err).Warn("Failed to archive clustering run")
		return
	}
	result.ArchiveURL = url
}

// SelectPrimary returns the earliest-created report, breaking ties by lowest ID.
func SelectPrimary(reports []domain.Report) domain.Report {
	primary := reports[0]
	for _, r := range reports[1:] {
		if r.CreatedAt.Before(primary.CreatedAt) ||
			(r.CreatedAt.Equal(primary.CreatedAt) && r.ID < primary.ID) {
			primary = r
		}
	}
	return primary
}

// ClusterHash identifies a cluster by its centroid rounded to 4 decimal places
// (about 11 m) and its category. The key text formats coordinates in their shortest
// decimal form with at least one fractional digit, e.g. "23.26_77.4126_roads".
func ClusterHash(lat, lon float64, category string) string {
	key := hashCoordinate(lat) + "_" + hashCoordinate(lon) + "_" + category
	sum := md5.Sum([]byte(key))
	return hex.EncodeToString(sum[:])
}

// hashCoordinate renders v rounded to four decimals from its exact binary value,
// without trailing zeros but always with a fractional part ("77.0").
func hashCoordinate(v float64) string {
	s := strings.TrimRight(strconv.FormatFloat(v, 'f', 4, 64), "0")
	if strings.HasSuffix(s, ".") {
		s += "0"
	}
	return s
}

// IsRunInProgress reports whether err means another clustering run holds the lock.
func IsRunInProgress(err error) bool {
	return errors.Is(err, ErrRunInProgress)
}
