package campaign

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/deepugangadhar46/protego/pkg/logging"
)

var postColumns = []string{
	"id", "post_id", "platform", "author_id", "author_handle", "content",
	"content_hash", "url", "posted_at", "vip_mentioned", "cluster_id", "is_duplicate",
}

func TestRunScanPersistsExactDuplicateCampaign(t *testing.T) {
	store, mock := newMockStore(t)
	detector := NewDetector(store, logging.NewLogger(), DetectorConfig{
		WindowHours:         24,
		SimilarityThreshold: 0.85,
		MinClusterSize:      3,
	})

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	fingerprint, _ := Fingerprint("the same smear text")
	rows := sqlmock.NewRows(postColumns)
	for i, author := range []string{"a", "b", "c"} {
		rows.AddRow(int64(i+1), "p"+author, "twitter", author, "@"+author,
			"the same smear text", fingerprint, "", base.Add(time.Duration(i)*time.Minute), "", nil, false)
	}

	mock.ExpectQuery(`FROM protego\.campaign_posts\s+WHERE posted_at >= \$1\s+ORDER BY`).
		WillReturnRows(rows)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO protego\.detected_campaigns`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))
	for i := 0; i < 3; i++ {
		mock.ExpectExec(`INSERT INTO protego\.campaign_post_relations`).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	mock.ExpectExec(`UPDATE protego\.campaign_posts\s+SET cluster_id`).
		WillReturnResult(sqlmock.NewResult(0, 3))

	mock.ExpectQuery(`WHERE posted_at >= \$1 AND embedding IS NOT NULL`).
		WillReturnRows(sqlmock.NewRows(append(postColumns, "embedding")))

	mock.ExpectExec(`DELETE FROM protego\.campaign_posts`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	result := detector.RunScan(context.Background())

	if result.PostsScanned != 3 {
		t.Errorf("PostsScanned = %d, want 3", result.PostsScanned)
	}
	if len(result.ExactDuplicates) != 1 {
		t.Fatalf("exact duplicate groups = %d, want 1", len(result.ExactDuplicates))
	}
	if result.TotalCampaigns != 1 {
		t.Errorf("TotalCampaigns = %d, want 1", result.TotalCampaigns)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRunScanSurvivesQueryFailure(t *testing.T) {
	store, mock := newMockStore(t)
	detector := NewDetector(store, logging.NewLogger(), DetectorConfig{})

	mock.ExpectQuery(`FROM protego\.campaign_posts`).
		WillReturnError(context.DeadlineExceeded)

	result := detector.RunScan(context.Background())
	if result.TotalCampaigns != 0 || result.PostsScanned != 0 {
		t.Errorf("failed scan should return an empty result, got %+v", result)
	}
}

type stubLock struct {
	acquired  bool
	err       error
	released  bool
	tryCalled bool
}

func (l *stubLock) TryAcquire(ctx context.Context) (bool, error) {
	l.tryCalled = true
	return l.acquired, l.err
}

func (l *stubLock) Release(ctx context.Context) error {
	l.released = true
	return nil
}

func TestRunScanSkipsWhenLockHeldElsewhere(t *testing.T) {
	store, mock := newMockStore(t)
	detector := NewDetector(store, logging.NewLogger(), DetectorConfig{})
	lock := &stubLock{acquired: false}
	detector.SetScanLock(lock)

	result := detector.RunScan(context.Background())

	if !lock.tryCalled {
		t.Error("expected lock acquisition attempt")
	}
	if lock.released {
		t.Error("lock should not be released when never acquired")
	}
	if result.PostsScanned != 0 {
		t.Errorf("skipped scan should not touch the store, got %d posts", result.PostsScanned)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRunScanProceedsWhenLockErrors(t *testing.T) {
	store, mock := newMockStore(t)
	detector := NewDetector(store, logging.NewLogger(), DetectorConfig{})
	detector.SetScanLock(&stubLock{err: context.DeadlineExceeded})

	mock.ExpectQuery(`FROM protego\.campaign_posts\s+WHERE posted_at`).
		WillReturnRows(sqlmock.NewRows(postColumns))
	mock.ExpectQuery(`embedding IS NOT NULL`).
		WillReturnRows(sqlmock.NewRows(append(postColumns, "embedding")))
	mock.ExpectExec(`DELETE FROM protego\.campaign_posts`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	result := detector.RunScan(context.Background())
	if result.TotalCampaigns != 0 {
		t.Errorf("empty window should detect nothing, got %d", result.TotalCampaigns)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
