package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tejasbhor/Civiclens/internal/domain"
	"github.com/tejasbhor/Civiclens/internal/repository"
	"gorm.io/gorm"
)

type knownUsers map[uint]bool

func (k knownUsers) Exists(_ context.Context, id uint) (bool, error) {
	return k[id], nil
}

// seedCluster runs the engine over three Main St potholes and returns the resulting cluster.
func seedCluster(t *testing.T, db *gorm.DB) ClusterSummary {
	t.Helper()
	seedPotholes(t, db, time.Now().UTC().Add(-time.Hour), 3)
	result, err := newTestEngine(t, db, newFakeEncoder()).Run(context.Background(), ClusterRequest{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.Clusters) != 1 {
		t.Fatalf("Run() returned %d clusters, want 1", len(result.Clusters))
	}
	return result.Clusters[0]
}

func newTestLedger(db *gorm.DB, users UserDirectory) *FeedbackLedger {
	return NewFeedbackLedger(repository.NewClusterRepository(db), repository.NewFeedbackRepository(db), users, testLogger())
}

func TestFeedbackLedgerRecord(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	cluster := seedCluster(t, db)
	ledger := newTestLedger(db, knownUsers{7: true})

	tests := []struct {
		name    string
		req     FeedbackRequest
		wantErr error
	}{
		{
			name: "correct",
			req:  FeedbackRequest{ClusterID: cluster.ID, UserID: 7, Approved: true, FeedbackType: domain.FeedbackCorrect, Notes: "same pothole"},
		},
		{
			name: "false positive",
			req:  FeedbackRequest{ClusterID: cluster.ID, UserID: 7, FeedbackType: domain.FeedbackFalsePositive},
		},
		{
			name:    "unknown type",
			req:     FeedbackRequest{ClusterID: cluster.ID, UserID: 7, FeedbackType: "looks_fine"},
			wantErr: ErrInvalidFeedbackType,
		},
		{
			name:    "missing cluster",
			req:     FeedbackRequest{ClusterID: cluster.ID + 100, UserID: 7, FeedbackType: domain.FeedbackCorrect},
			wantErr: ErrClusterNotFound,
		},
		{
			name:    "unknown user",
			req:     FeedbackRequest{ClusterID: cluster.ID, UserID: 8, FeedbackType: domain.FeedbackFalseNegative},
			wantErr: ErrUserNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ledger.Record(ctx, tt.req)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Record() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Record() error = %v", err)
			}
			if got.ID == 0 || got.ClusterID != cluster.ID || got.FeedbackType != tt.req.FeedbackType {
				t.Errorf("Record() = %+v", got)
			}
		})
	}

	history, err := ledger.History(ctx, cluster.ID)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("History() returned %d rows, want 2", len(history))
	}
	if history[0].FeedbackType != domain.FeedbackCorrect || !history[0].Approved || history[0].Notes != "same pothole" {
		t.Errorf("History()[0] = %+v, want the approved correct row first", history[0])
	}
}

func TestFeedbackDoesNotChangeCluster(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	cluster := seedCluster(t, db)

	if _, err := newTestLedger(db, nil).Record(ctx, FeedbackRequest{
		ClusterID:    cluster.ID,
		UserID:       1,
		FeedbackType: domain.FeedbackFalsePositive,
	}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	stored, err := repository.NewClusterRepository(db).GetByID(ctx, cluster.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if stored.Status != domain.ClusterStatusActive {
		t.Errorf("Status = %s, want feedback to leave it %s", stored.Status, domain.ClusterStatusActive)
	}
}

func TestAnyUser(t *testing.T) {
	for id, want := range map[uint]bool{0: false, 1: true, 42: true} {
		if got, _ := (AnyUser{}).Exists(context.Background(), id); got != want {
			t.Errorf("AnyUser.Exists(%d) = %v, want %v", id, got, want)
		}
	}
}

func TestClusterReviewList(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	cluster := seedCluster(t, db)
	review := NewClusterReview(repository.NewClusterRepository(db), newTestLedger(db, nil))

	tests := []struct {
		name   string
		filter repository.ClusterFilter
		want   int
	}{
		{"default page", repository.ClusterFilter{}, 1},
		{"oversized limit", repository.ClusterFilter{Limit: 1000}, 1},
		{"status match", repository.ClusterFilter{Status: domain.ClusterStatusActive}, 1},
		{"status mismatch", repository.ClusterFilter{Status: domain.ClusterStatusMerged}, 0},
		{"category mismatch", repository.ClusterFilter{Category: "water"}, 0},
		{"past the end", repository.ClusterFilter{Offset: 5}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := review.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if got == nil {
				t.Fatal("List() returned nil slice")
			}
			if len(got) != tt.want {
				t.Errorf("List() returned %d clusters, want %d", len(got), tt.want)
			}
			if tt.want == 1 && got[0].ID != cluster.ID {
				t.Errorf("List()[0].ID = %d, want %d", got[0].ID, cluster.ID)
			}
		})
	}
}

func TestClusterReviewGet(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	cluster := seedCluster(t, db)
	review := NewClusterReview(repository.NewClusterRepository(db), newTestLedger(db, nil))

	detail, err := review.Get(ctx, cluster.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(detail.Cluster.Members) != 3 {
		t.Errorf("Get() returned %d members, want 3", len(detail.Cluster.Members))
	}
	if detail.Feedback == nil || len(detail.Feedback) != 0 {
		t.Errorf("Feedback = %v, want empty non-nil slice", detail.Feedback)
	}

	if _, err := review.Get(ctx, cluster.ID+100); !errors.Is(err, ErrClusterNotFound) {
		t.Errorf("Get() on missing cluster error = %v, want ErrClusterNotFound", err)
	}
}
