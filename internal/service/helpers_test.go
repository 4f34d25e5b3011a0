package service

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tejasbhor/Civiclens/internal/config"
	"github.com/tejasbhor/Civiclens/internal/domain"
	"github.com/tejasbhor/Civiclens/internal/logger"
	"github.com/tejasbhor/Civiclens/internal/repository"
	"gorm.io/gorm"
)

var errFakeEncoder = errors.New("fake encoder failure")

// topics maps a keyword in the report text to its embedding. The first matching
// keyword wins; text with no keyword gets the last basis vector.
var topics = []struct {
	keyword string
	vector  []float32
}{
	{"pothole", []float32{1, 0, 0, 0}},
	{"streetlight", []float32{0, 1, 0, 0}},
	{"garbage", []float32{0, 0, 1, 0}},
	{"crater", []float32{0.9, 0.436, 0, 0}},
}

func topicVector(text string) []float32 {
	lower := strings.ToLower(text)
	for _, tp := range topics {
		if strings.Contains(lower, tp.keyword) {
			return append([]float32(nil), tp.vector...)
		}
	}
	return []float32{0, 0, 0, 1}
}

// fakeEncoder is a deterministic Encoder. Any batch containing a text with a
// poison substring fails as a whole, like a real backend rejecting a request.
type fakeEncoder struct {
	mu      sync.Mutex
	model   string
	version string
	batch   int
	poison  []string
	failAll bool
	calls   int
	encoded int
	closed  bool
}

func newFakeEncoder() *fakeEncoder {
	return &fakeEncoder{model: "fake-minilm", version: "1", batch: 8}
}

func (f *fakeEncoder) Encode(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failAll {
		return nil, errFakeEncoder
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		for _, p := range f.poison {
			if strings.Contains(text, p) {
				return nil, errFakeEncoder
			}
		}
		out[i] = topicVector(text)
	}
	f.encoded += len(texts)
	return out, nil
}

func (f *fakeEncoder) ModelName() string    { return f.model }
func (f *fakeEncoder) ModelVersion() string { return f.version }
func (f *fakeEncoder) Dimensions() int      { return 4 }
func (f *fakeEncoder) BatchSize() int       { return f.batch }

func (f *fakeEncoder) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeEncoder) encodedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.encoded
}

func testLogger() *logger.Logger {
	return logger.New(&logger.Config{Level: "error", Format: "text"})
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repository.InitDB(&config.DatabaseConfig{
		Driver:      "sqlite",
		Path:        filepath.Join(t.TempDir(), "civiclens.db"),
		AutoMigrate: true,
	})
	if err != nil {
		t.Fatalf("InitDB() error = %v", err)
	}
	if err := db.AutoMigrate(&domain.Report{}); err != nil {
		t.Fatalf("migrate reports: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func seedReport(t *testing.T, db *gorm.DB, r domain.Report) domain.Report {
	t.Helper()
	if r.Status == "" {
		r.Status = domain.ReportStatusReceived
	}
	if r.Category == "" {
		r.Category = "roads"
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if err := repository.NewReportRepository(db).Create(context.Background(), &r); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return r
}

func floatPtr(v float64) *float64 { return &v }
