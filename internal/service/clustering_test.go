package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/tejasbhor/Civiclens/internal/config"
	"github.com/tejasbhor/Civiclens/internal/domain"
	"github.com/tejasbhor/Civiclens/internal/repository"
	"github.com/tejasbhor/Civiclens/internal/storage"
	"gorm.io/gorm"
)

type engineOption func(*ClusterEngineConfig)

func newTestEngine(t *testing.T, db *gorm.DB, enc Encoder, opts ...engineOption) *ClusterEngine {
	t.Helper()
	cfg := ClusterEngineConfig{
		Reports:    repository.NewReportRepository(db),
		Clusters:   repository.NewClusterRepository(db),
		Cache:      NewEmbeddingCache(repository.NewEmbeddingRepository(db), enc, testLogger()),
		Detection:  config.DefaultDetectionConfig(),
		Clustering: config.ClusteringConfig{TimeWindowDays: 30, MinClusterSize: 2, MinSamples: 1},
		Logger:     testLogger(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return NewClusterEngine(cfg)
}

// seedPotholes creates n pothole reports at Main St, ten minutes apart, oldest first.
func seedPotholes(t *testing.T, db *gorm.DB, start time.Time, n int) []domain.Report {
	t.Helper()
	titles := []string{"Pothole on Main St", "Big pothole near Main Street", "Main St pothole getting worse", "Pothole again on Main St"}
	out := make([]domain.Report, n)
	for i := 0; i < n; i++ {
		out[i] = seedReport(t, db, domain.Report{
			Title:       titles[i%len(titles)],
			Description: "cars swerving around it",
			Latitude:    mainStLat,
			Longitude:   mainStLon,
			Severity:    "high",
			CreatedAt:   start.Add(time.Duration(i) * 10 * time.Minute),
		})
	}
	return out
}

func countRows(t *testing.T, db *gorm.DB, model interface{}) int64 {
	t.Helper()
	var n int64
	if err := db.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	return n
}

func TestClusterHash(t *testing.T) {
	tests := []struct {
		name     string
		lat, lon float64
		category string
		want     string
	}{
		{"four decimals", 23.2599, 77.4126, "roads", "256bfc8a0b18cf3fe8e6d642fa784885"},
		{"integral coordinate", 23.26, 77, "water", "c9f8f65f7099a82a5bdcfebf50079341"},
		{"rounds below eleven metres", 23.25991, 77.41262, "roads", "256bfc8a0b18cf3fe8e6d642fa784885"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClusterHash(tt.lat, tt.lon, tt.category); got != tt.want {
				t.Errorf("ClusterHash() = %s, want %s", got, tt.want)
			}
		})
	}

	if ClusterHash(23.2599, 77.4126, "roads") == ClusterHash(23.2599, 77.4126, "water") {
		t.Error("category must be part of the hash")
	}
	if ClusterHash(23.2599, 77.4126, "roads") == ClusterHash(23.2601, 77.4126, "roads") {
		t.Error("centroids 20 m apart must hash differently")
	}
}

func TestHashCoordinate(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{23.2599, "23.2599"},
		{23.26, "23.26"},
		{77, "77.0"},
		{-12.34567, "-12.3457"},
		{-0.00001, "-0.0"},
		{23.26005, "23.26"},
		{77.41265, "77.4126"},
		{19.07605, "19.076"},
		{12.5, "12.5"},
	}
	for _, tt := range tests {
		if got := hashCoordinate(tt.in); got != tt.want {
			t.Errorf("hashCoordinate(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSelectPrimary(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	reports := []domain.Report{
		{ID: 5, CreatedAt: base.Add(time.Hour)},
		{ID: 9, CreatedAt: base},
		{ID: 3, CreatedAt: base},
		{ID: 1, CreatedAt: base.Add(2 * time.Hour)},
	}
	if got := SelectPrimary(reports); got.ID != 3 {
		t.Errorf("SelectPrimary() = %d, want 3 (earliest, lowest ID on ties)", got.ID)
	}
}

func TestClusterEngineDiscoversCluster(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	start := time.Now().UTC().Add(-2 * time.Hour)

	potholes := seedPotholes(t, db, start, 3)
	seedReport(t, db, domain.Report{Title: "Garbage pile", Latitude: mainStLat + 0.01, Longitude: mainStLon, CreatedAt: start})
	seedReport(t, db, domain.Report{Title: "Pothole on Main St", Latitude: mainStLat, Longitude: mainStLon, Status: domain.ReportStatusDuplicate, CreatedAt: start})

	engine := newTestEngine(t, db, newFakeEncoder())
	result, err := engine.Run(ctx, ClusterRequest{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.Status != RunStatusCompleted {
		t.Errorf("Status = %s, want %s", result.Status, RunStatusCompleted)
	}
	if result.CandidateCount != 4 || result.NoiseCount != 1 {
		t.Errorf("CandidateCount=%d NoiseCount=%d, want 4 and 1", result.CandidateCount, result.NoiseCount)
	}
	if result.Threshold != 0.80 {
		t.Errorf("unfiltered run threshold = %v, want the default 0.80", result.Threshold)
	}
	if len(result.Clusters) != 1 {
		t.Fatalf("Run() returned %d clusters, want 1", len(result.Clusters))
	}

	c := result.Clusters[0]
	if c.ClusterSize != 3 || !c.Created {
		t.Errorf("cluster size=%d created=%v, want 3 and true", c.ClusterSize, c.Created)
	}
	if c.ConfidenceScore <= 0.8 {
		t.Errorf("ConfidenceScore = %v, want > 0.8", c.ConfidenceScore)
	}
	if c.PrimaryReportID != potholes[0].ID {
		t.Errorf("PrimaryReportID = %d, want earliest report %d", c.PrimaryReportID, potholes[0].ID)
	}
	if c.AvgSimilarityScore != 1 {
		t.Errorf("AvgSimilarityScore = %v, want 1", c.AvgSimilarityScore)
	}
	if want := ClusterHash(mainStLat, mainStLon, "roads"); c.ClusterHash != want {
		t.Errorf("ClusterHash = %s, want %s", c.ClusterHash, want)
	}
	if result.ClustersCreated != 1 || result.MembersAdded != 3 {
		t.Errorf("ClustersCreated=%d MembersAdded=%d, want 1 and 3", result.ClustersCreated, result.MembersAdded)
	}

	members, err := repository.NewClusterRepository(db).ListMembers(ctx, c.ID)
	if err != nil {
		t.Fatalf("ListMembers() error = %v", err)
	}
	if len(members) != 3 {
		t.Fatalf("stored %d members, want 3", len(members))
	}
	primaries := 0
	for _, m := range members {
		if m.IsPrimary {
			primaries++
			if m.ReportID != potholes[0].ID {
				t.Errorf("primary member is report %d, want %d", m.ReportID, potholes[0].ID)
			}
		}
		if m.AddedBy != domain.AddedByAI {
			t.Errorf("AddedBy = %q, want %q", m.AddedBy, domain.AddedByAI)
		}
		if m.SimilarityScore != 1 {
			t.Errorf("SimilarityScore = %v, want 1", m.SimilarityScore)
		}
		if m.DistanceToCentroidMeters == nil || *m.DistanceToCentroidMeters != 0 {
			t.Errorf("DistanceToCentroidMeters = %v, want 0", m.DistanceToCentroidMeters)
		}
	}
	if primaries != 1 {
		t.Errorf("found %d primary members, want exactly 1", primaries)
	}
}

func TestClusterEngineIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedPotholes(t, db, time.Now().UTC().Add(-time.Hour), 3)
	engine := newTestEngine(t, db, newFakeEncoder())

	first, err := engine.Run(ctx, ClusterRequest{})
	if err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	second, err := engine.Run(ctx, ClusterRequest{})
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}

	if len(first.Clusters) != 1 || len(second.Clusters) != 1 {
		t.Fatalf("runs returned %d and %d clusters, want 1 and 1", len(first.Clusters), len(second.Clusters))
	}
	a, b := first.Clusters[0], second.Clusters[0]
	if a.ID != b.ID || a.ClusterHash != b.ClusterHash || a.ClusterSize != b.ClusterSize {
		t.Errorf("rerun changed the cluster: %+v vs %+v", a, b)
	}
	if b.Created || second.ClustersUpdated != 1 || second.MembersAdded != 0 {
		t.Errorf("rerun created=%v updated=%d added=%d, want false, 1, 0", b.Created, second.ClustersUpdated, second.MembersAdded)
	}
	if n := countRows(t, db, &domain.DuplicateCluster{}); n != 1 {
		t.Errorf("stored %d clusters, want 1", n)
	}
	if n := countRows(t, db, &domain.ClusterMember{}); n != 3 {
		t.Errorf("stored %d members, want 3", n)
	}
}

func TestClusterEngineMergesGroupsSharingHash(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	start := time.Now().UTC().Add(-time.Hour)
	titles := []string{"Pothole on Main St", "Garbage pile on Main St", "Main St pothole again", "Garbage not collected"}
	reports := make([]domain.Report, len(titles))
	for i, title := range titles {
		reports[i] = seedReport(t, db, domain.Report{
			Title:     title,
			Category:  "roads",
			Latitude:  mainStLat,
			Longitude: mainStLon,
			CreatedAt: start.Add(time.Duration(i) * 10 * time.Minute),
		})
	}
	engine := newTestEngine(t, db, newFakeEncoder())

	first, err := engine.Run(ctx, ClusterRequest{Category: "roads"})
	if err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	if len(first.Clusters) != 1 {
		t.Fatalf("Run() returned %d clusters, want 1: %+v", len(first.Clusters), first.Clusters)
	}
	c := first.Clusters[0]
	if c.ClusterSize != 4 || len(c.MemberReportIDs) != 4 || c.PrimaryReportID != reports[0].ID {
		t.Errorf("cluster = %+v, want size 4 with primary %d", c, reports[0].ID)
	}
	if first.ClustersCreated != 1 || first.ClustersUpdated != 0 || first.MembersAdded != 4 {
		t.Errorf("created=%d updated=%d added=%d, want 1, 0, 4", first.ClustersCreated, first.ClustersUpdated, first.MembersAdded)
	}
	if n := countRows(t, db, &domain.DuplicateCluster{}); n != 1 {
		t.Errorf("stored %d clusters, want 1", n)
	}
	if n := countRows(t, db, &domain.ClusterMember{}); n != 4 {
		t.Errorf("stored %d members, want 4", n)
	}

	second, err := engine.Run(ctx, ClusterRequest{Category: "roads"})
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if len(second.Clusters) != 1 || second.Clusters[0].ID != c.ID || second.Clusters[0].PrimaryReportID != c.PrimaryReportID {
		t.Fatalf("rerun clusters = %+v, want the same cluster %d", second.Clusters, c.ID)
	}
	if second.MembersAdded != 0 || second.MembersRemoved != 0 {
		t.Errorf("rerun added=%d removed=%d, want stable membership", second.MembersAdded, second.MembersRemoved)
	}
}

func TestClusterEngineGrowsExistingCluster(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	start := time.Now().UTC().Add(-3 * time.Hour)
	seedPotholes(t, db, start, 3)
	engine := newTestEngine(t, db, newFakeEncoder())

	first, err := engine.Run(ctx, ClusterRequest{Category: "roads"})
	if err != nil {
		t.Fatalf("first Run() error = %v", err)
	}

	seedReport(t, db, domain.Report{
		Title:     "Pothole still not fixed",
		Latitude:  mainStLat,
		Longitude: mainStLon,
		CreatedAt: start.Add(2 * time.Hour),
	})

	second, err := engine.Run(ctx, ClusterRequest{Category: "roads"})
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if len(second.Clusters) != 1 {
		t.Fatalf("second run returned %d clusters, want 1", len(second.Clusters))
	}
	got := second.Clusters[0]
	if got.ID != first.Clusters[0].ID {
		t.Errorf("cluster ID changed from %d to %d", first.Clusters[0].ID, got.ID)
	}
	if first.Clusters[0].ClusterSize != 3 || got.ClusterSize != 4 {
		t.Errorf("size went %d -> %d, want 3 -> 4", first.Clusters[0].ClusterSize, got.ClusterSize)
	}
	if second.MembersAdded != 1 {
		t.Errorf("MembersAdded = %d, want 1", second.MembersAdded)
	}
	if n := countRows(t, db, &domain.DuplicateCluster{}); n != 1 {
		t.Errorf("stored %d clusters, want 1", n)
	}
}

func TestClusterEngineRemovesDepartedMembers(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	potholes := seedPotholes(t, db, time.Now().UTC().Add(-time.Hour), 3)
	engine := newTestEngine(t, db, newFakeEncoder())

	if _, err := engine.Run(ctx, ClusterRequest{}); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}

	// The earliest report is closed, so the cluster shrinks and gets a new primary
	if err := db.Model(&domain.Report{}).Where("id = ?", potholes[0].ID).
		Update("status", domain.ReportStatusClosed).Error; err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	result, err := engine.Run(ctx, ClusterRequest{})
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if len(result.Clusters) != 1 {
		t.Fatalf("Run() returned %d clusters, want 1", len(result.Clusters))
	}
	c := result.Clusters[0]
	if c.ClusterSize != 2 || c.PrimaryReportID != potholes[1].ID {
		t.Errorf("cluster size=%d primary=%d, want 2 and %d", c.ClusterSize, c.PrimaryReportID, potholes[1].ID)
	}
	if result.MembersRemoved != 1 {
		t.Errorf("MembersRemoved = %d, want 1", result.MembersRemoved)
	}

	members, err := repository.NewClusterRepository(db).ListMembers(ctx, c.ID)
	if err != nil {
		t.Fatalf("ListMembers() error = %v", err)
	}
	if len(members) != 2 {
		t.Errorf("stored %d members, want 2", len(members))
	}
	for _, m := range members {
		if m.ReportID == potholes[0].ID {
			t.Error("closed report is still a member")
		}
		if m.IsPrimary != (m.ReportID == potholes[1].ID) {
			t.Errorf("member %d primary=%v", m.ReportID, m.IsPrimary)
		}
	}
}

func TestClusterEngineRespectsReview(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedPotholes(t, db, time.Now().UTC().Add(-time.Hour), 3)
	engine := newTestEngine(t, db, newFakeEncoder())

	first, err := engine.Run(ctx, ClusterRequest{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	id := first.Clusters[0].ID
	if err := db.Model(&domain.DuplicateCluster{}).Where("id = ?", id).
		Update("status", domain.ClusterStatusFalsePositive).Error; err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	skipped, err := engine.Run(ctx, ClusterRequest{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(skipped.Clusters) != 0 || skipped.ClustersSkipped != 1 {
		t.Errorf("reviewed cluster: returned %d, skipped %d; want 0 and 1", len(skipped.Clusters), skipped.ClustersSkipped)
	}

	forced, err := engine.Run(ctx, ClusterRequest{ForceRecluster: true})
	if err != nil {
		t.Fatalf("forced Run() error = %v", err)
	}
	if len(forced.Clusters) != 1 || forced.Clusters[0].ID != id {
		t.Fatalf("forced run returned %+v, want cluster %d", forced.Clusters, id)
	}
	if forced.Clusters[0].Status != domain.ClusterStatusFalsePositive {
		t.Errorf("forced run changed status to %s, want it kept", forced.Clusters[0].Status)
	}
}

func TestClusterEngineInsufficientReports(t *testing.T) {
	db := newTestDB(t)
	seedPotholes(t, db, time.Now().UTC().Add(-time.Hour), 1)
	engine := newTestEngine(t, db, newFakeEncoder())

	result, err := engine.Run(context.Background(), ClusterRequest{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Status != RunStatusInsufficient || len(result.Clusters) != 0 {
		t.Errorf("result = %s with %d clusters, want %s with none", result.Status, len(result.Clusters), RunStatusInsufficient)
	}
	if got := engine.ClusterDuplicates(context.Background(), ClusterRequest{}); got == nil || len(got) != 0 {
		t.Errorf("ClusterDuplicates() = %v, want empty non-nil slice", got)
	}
}

func TestClusterEngineNoGroups(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC()
	seedReport(t, db, domain.Report{Title: "Pothole", Latitude: mainStLat, Longitude: mainStLon, CreatedAt: now})
	seedReport(t, db, domain.Report{Title: "Garbage pile", Latitude: mainStLat, Longitude: mainStLon, CreatedAt: now})

	got := newTestEngine(t, db, newFakeEncoder()).ClusterDuplicates(context.Background(), ClusterRequest{})
	if got == nil || len(got) != 0 {
		t.Errorf("ClusterDuplicates() = %v, want empty non-nil slice", got)
	}
}

func TestClusterEngineCategoryFilter(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	now := time.Now().UTC()
	seedPotholes(t, db, now.Add(-time.Hour), 2)
	for i := 0; i < 2; i++ {
		seedReport(t, db, domain.Report{Title: "Garbage pile", Category: "sanitation", Latitude: mainStLat, Longitude: mainStLon, CreatedAt: now})
	}

	result, err := newTestEngine(t, db, newFakeEncoder()).Run(ctx, ClusterRequest{Category: "Sanitation"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.CandidateCount != 2 || result.Threshold != 0.72 {
		t.Errorf("CandidateCount=%d Threshold=%v, want 2 and 0.72", result.CandidateCount, result.Threshold)
	}
	if len(result.Clusters) != 1 || result.Clusters[0].Category != "sanitation" {
		t.Errorf("Clusters = %+v, want one sanitation cluster", result.Clusters)
	}
}

func TestClusterEngineTimeWindow(t *testing.T) {
	db := newTestDB(t)
	seedPotholes(t, db, time.Now().UTC().AddDate(0, 0, -10), 3)

	engine := newTestEngine(t, db, newFakeEncoder())
	result, err := engine.Run(context.Background(), ClusterRequest{TimeWindowDays: 7})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.CandidateCount != 0 || result.TimeWindowDays != 7 {
		t.Errorf("CandidateCount=%d TimeWindowDays=%d, want 0 and 7", result.CandidateCount, result.TimeWindowDays)
	}
}

func TestClusterEngineSkipsUnencodableReports(t *testing.T) {
	db := newTestDB(t)
	start := time.Now().UTC().Add(-time.Hour)
	seedPotholes(t, db, start, 3)
	broken := seedReport(t, db, domain.Report{Title: "BROKEN pothole", Latitude: mainStLat, Longitude: mainStLon, CreatedAt: start})

	enc := newFakeEncoder()
	enc.poison = []string{"BROKEN"}
	result, err := newTestEngine(t, db, enc).Run(context.Background(), ClusterRequest{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.EncodingFailures) != 1 || result.EncodingFailures[0].ReportID != broken.ID {
		t.Errorf("EncodingFailures = %+v, want report %d", result.EncodingFailures, broken.ID)
	}
	if result.EmbeddedCount != 3 || len(result.Clusters) != 1 || result.Clusters[0].ClusterSize != 3 {
		t.Errorf("EmbeddedCount=%d clusters=%+v, want 3 and one cluster of 3", result.EmbeddedCount, result.Clusters)
	}
}

func TestClusterEngineEncoderDown(t *testing.T) {
	db := newTestDB(t)
	seedPotholes(t, db, time.Now().UTC().Add(-time.Hour), 3)

	enc := newFakeEncoder()
	enc.failAll = true
	result, err := newTestEngine(t, db, enc).Run(context.Background(), ClusterRequest{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.Clusters) != 0 || len(result.EncodingFailures) != 3 {
		t.Errorf("clusters=%d failures=%d, want 0 and 3", len(result.Clusters), len(result.EncodingFailures))
	}
	if n := countRows(t, db, &domain.DuplicateCluster{}); n != 0 {
		t.Errorf("stored %d clusters, want 0", n)
	}
}

type heldLock struct{}

func (heldLock) Acquire(context.Context) (func(context.Context) error, error) {
	return nil, ErrRunInProgress
}

func TestClusterEngineRunInProgress(t *testing.T) {
	db := newTestDB(t)
	seedPotholes(t, db, time.Now().UTC().Add(-time.Hour), 3)
	engine := newTestEngine(t, db, newFakeEncoder(), func(c *ClusterEngineConfig) {
		c.Lock = heldLock{}
	})

	result, err := engine.Run(context.Background(), ClusterRequest{})
	if !IsRunInProgress(err) || result != nil {
		t.Errorf("Run() = %v, %v; want nil, ErrRunInProgress", result, err)
	}
	if got := engine.ClusterDuplicates(context.Background(), ClusterRequest{}); len(got) != 0 {
		t.Errorf("ClusterDuplicates() = %v, want empty", got)
	}
}

func TestLocalRunLock(t *testing.T) {
	ctx := context.Background()
	lock := NewLocalRunLock()

	release, err := lock.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if _, err := lock.Acquire(ctx); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("second Acquire() error = %v, want ErrRunInProgress", err)
	}
	if err := release(ctx); err != nil {
		t.Fatalf("release() error = %v", err)
	}
	// Releasing twice must not free a lock taken by someone else
	again, err := lock.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() after release error = %v", err)
	}
	release(ctx)
	if _, err := lock.Acquire(ctx); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("stale release freed the lock: %v", err)
	}
	again(ctx)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := lock.Acquire(cancelled); !errors.Is(err, context.Canceled) {
		t.Errorf("Acquire() with cancelled context error = %v, want context.Canceled", err)
	}
}

type memoryStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	failPut bool
}

func newMemoryStorage() *memoryStorage {
	return &memoryStorage{objects: make(map[string][]byte)}
}

func (m *memoryStorage) PutObject(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	if m.failPut {
		return errors.New("bucket unavailable")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.objects[key] = data
	m.mu.Unlock()
	return nil
}

func (m *memoryStorage) GetObject(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryStorage) ObjectURL(key string) string {
	return "mem://" + key
}

func TestClusterEngineArchivesRuns(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedPotholes(t, db, time.Now().UTC().Add(-time.Hour), 3)

	store := newMemoryStorage()
	archiver := NewRunArchiver(store, "cluster-runs")
	engine := newTestEngine(t, db, newFakeEncoder(), func(c *ClusterEngineConfig) {
		c.Archiver = archiver
	})

	result, err := engine.Run(ctx, ClusterRequest{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	wantURL := "mem://cluster-runs/" + result.RunID + ".json"
	if result.ArchiveURL != wantURL {
		t.Errorf("ArchiveURL = %q, want %q", result.ArchiveURL, wantURL)
	}

	loaded, err := archiver.Load(ctx, result.RunID)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.RunID != result.RunID || len(loaded.Clusters) != 1 {
		t.Errorf("Load() = %+v, want run %s with one cluster", loaded, result.RunID)
	}

	for _, id := range []string{"not-a-uuid", "../secrets", "0b7e6a3c-5d1f-4a8e-9c2b-7f4e1d6a8b3c"} {
		if _, err := archiver.Load(ctx, id); !errors.Is(err, ErrRunNotFound) {
			t.Errorf("Load(%q) error = %v, want ErrRunNotFound", id, err)
		}
	}
}

func TestClusterEngineArchiveFailureIsNotFatal(t *testing.T) {
	db := newTestDB(t)
	seedPotholes(t, db, time.Now().UTC().Add(-time.Hour), 3)

	store := newMemoryStorage()
	store.failPut = true
	engine := newTestEngine(t, db, newFakeEncoder(), func(c *ClusterEngineConfig) {
		c.Archiver = NewRunArchiver(store, "cluster-runs")
	})

	result, err := engine.Run(context.Background(), ClusterRequest{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.ArchiveURL != "" || len(result.Clusters) != 1 {
		t.Errorf("ArchiveURL=%q clusters=%d, want empty and 1", result.ArchiveURL, len(result.Clusters))
	}
}

type recordingIndexer struct {
	points []repository.ReportPoint
	err    error
}

func (r *recordingIndexer) Upsert(_ context.Context, points []repository.ReportPoint) error {
	r.points = append(r.points, points...)
	return r.err
}

func TestClusterEngineSyncsIndex(t *testing.T) {
	db := newTestDB(t)
	potholes := seedPotholes(t, db, time.Now().UTC().Add(-time.Hour), 2)

	indexer := &recordingIndexer{err: errors.New("index offline")}
	engine := newTestEngine(t, db, newFakeEncoder(), func(c *ClusterEngineConfig) {
		c.Indexer = indexer
	})

	result, err := engine.Run(context.Background(), ClusterRequest{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.Clusters) != 1 {
		t.Errorf("index failure should not affect clustering, got %d clusters", len(result.Clusters))
	}
	if len(indexer.points) != 2 || indexer.points[0].ReportID != potholes[0].ID {
		t.Fatalf("indexed %+v, want both reports", indexer.points)
	}
	p := indexer.points[0]
	if p.Status != string(domain.ReportStatusReceived) || p.Category != "roads" || len(p.Vector) != 4 {
		t.Errorf("indexed point = %+v", p)
	}
}
