package campaign

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/deepugangadhar46/protego/pkg/logging"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db, logging.NewLogger()), mock
}

func TestInsertPostComputesFingerprint(t *testing.T) {
	store, mock := newMockStore(t)

	wantFingerprint, _ := Fingerprint("Some Claim About The VIP")
	mock.ExpectQuery(`INSERT INTO protego\.campaign_posts`).
		WithArgs("p1", "twitter", "a1", "@a1", "Some Claim About The VIP", wantFingerprint,
			nil, "https://x.com/p1", sqlmock.AnyArg(), "").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

	id, err := store.InsertPost(context.Background(), Post{
		PostID:       "p1",
		Platform:     "twitter",
		AuthorID:     "a1",
		AuthorHandle: "@a1",
		Content:      "Some Claim About The VIP",
		URL:          "https://x.com/p1",
	})
	if err != nil {
		t.Fatalf("InsertPost: %v", err)
	}
	if id != 7 {
		t.Errorf("InsertPost id = %d, want 7", id)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestInsertPostDuplicateReturnsExistingID(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`INSERT INTO protego\.campaign_posts`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT id FROM protego\.campaign_posts WHERE post_id`).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))

	id, err := store.InsertPost(context.Background(), Post{
		PostID:   "p1",
		Platform: "twitter",
		Content:  "already stored",
		PostedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("InsertPost: %v", err)
	}
	if id != 3 {
		t.Errorf("InsertPost id = %d, want existing 3", id)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestInsertPostRejectsEmptyContent(t *testing.T) {
	store, _ := newMockStore(t)
	if _, err := store.InsertPost(context.Background(), Post{PostID: "p1", Content: "   "}); err != ErrEmptyContent {
		t.Errorf("InsertPost error = %v, want ErrEmptyContent", err)
	}
}

func TestUpdateCampaignStatusUnknownCampaign(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE protego\.detected_campaigns SET status`).
		WithArgs("resolved", int64(999)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := store.UpdateCampaignStatus(context.Background(), 999, StatusResolved)
	if err != nil {
		t.Fatalf("UpdateCampaignStatus: %v", err)
	}
	if ok {
		t.Error("expected false for unknown campaign id")
	}
}
