package evidence

import (
	"context"
	"errors"
	"strings"
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

type stubCapturer struct {
	path string
	err  error
	urls []string
}

func (c *stubCapturer) Capture(ctx context.Context, url, alertID string) (string, error) {
	c.urls = append(c.urls, url)
	if c.err != nil {
		return "", c.err
	}
	return c.path, nil
}

func TestSaveRecordsEvidenceWithDetails(t *testing.T) {
	store, mock := newMockStore(t)
	capturer := &stubCapturer{path: "screenshots/alert.png"}
	store.SetCapturer(capturer, time.Second)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO protego\.evidence_records`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))
	mock.ExpectExec(`INSERT INTO protego\.detection_details`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	alertID, err := store.Save(context.Background(), Detection{
		Platform:      "twitter",
		PostURL:       "https://x.com/fake/1",
		DetectionType: "fake_profile",
		Reason:        "impersonation of protected account",
		RawText:       "official statement from the VIP",
		ThreatScore:   0.85,
		Confidence:    0.9,
		Details: []Detail{{
			Kind:       DetailProfileAnalysis,
			Payload:    map[string]interface{}{"account_age_days": 2},
			Model:      "profile-heuristics-v2",
			Confidence: 0.9,
		}},
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !strings.HasPrefix(alertID, "alert_") {
		t.Errorf("alert id %q missing alert_ prefix", alertID)
	}
	if len(capturer.urls) != 1 || capturer.urls[0] != "https://x.com/fake/1" {
		t.Errorf("capturer urls = %v", capturer.urls)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSaveSurvivesScreenshotFailure(t *testing.T) {
	store, mock := newMockStore(t)
	store.SetCapturer(&stubCapturer{err: errors.New("browser crashed")}, time.Second)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO protego\.evidence_records`).
		WithArgs(sqlmock.AnyArg(), "twitter", "https://x.com/p/2", "", "misinformation",
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(12))
	mock.ExpectCommit()

	alertID, err := store.Save(context.Background(), Detection{
		Platform:      "twitter",
		PostURL:       "https://x.com/p/2",
		DetectionType: "misinformation",
		Reason:        "fabricated quote",
	})
	if err != nil {
		t.Fatalf("Save should tolerate screenshot failure: %v", err)
	}
	if alertID == "" {
		t.Error("expected alert id despite capture failure")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestVerifyUnknownAlertReturnsFalse(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE protego\.evidence_records`).
		WithArgs("confirmed_fake", "analyst1", "clear impersonation", "alert_missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := store.Verify(context.Background(), "alert_missing", true, "analyst1", "clear impersonation")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Error("expected false for unknown alert id")
	}
}

func TestVerifyDoesNotOverwriteDecision(t *testing.T) {
	store, mock := newMockStore(t)

	// The UPDATE only matches pending records, so a second verdict on a
	// decided record touches nothing.
	mock.ExpectExec(`UPDATE protego\.evidence_records[\s\S]*WHERE alert_id = \$4 AND verification_status = 'pending'`).
		WithArgs("dismissed", "analyst2", "looks legitimate", "alert_decided").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := store.Verify(context.Background(), "alert_decided", false, "analyst2", "looks legitimate")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Error("expected false when the record is already decided")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestGetFiltersByStatus(t *testing.T) {
	store, mock := newMockStore(t)

	columns := []string{
		"id", "alert_id", "source_platform", "post_url", "screenshot_path",
		"detection_type", "reason_flagged", "raw_text", "raw_metadata",
		"author_handle", "author_id", "vip_mentioned",
		"threat_score", "confidence_score", "verification_status",
		"verified_by", "verified_at", "verification_notes", "created_at",
	}
	mock.ExpectQuery(`FROM protego\.evidence_records\s+WHERE 1=1 AND verification_status = \$1`).
		WithArgs("pending", 100).
		WillReturnRows(sqlmock.NewRows(columns).AddRow(
			int64(1), "alert_1", "twitter", "https://x.com/1", "",
			"fake_profile", "impersonation", "text", []byte(`{"followers":12}`),
			"@fake", "u1", "jane_doe",
			0.8, 0.7, "pending",
			"", nil, "", time.Now()))
	mock.ExpectQuery(`FROM protego\.detection_details`).
		WillReturnRows(sqlmock.NewRows([]string{"evidence_id", "detail_kind", "payload", "model_used", "confidence"}).
			AddRow(int64(1), "profile_analysis", []byte(`{"score":0.8}`), "profile-heuristics-v2", 0.8))

	records, err := store.Get(context.Background(), Filter{VerificationStatus: "pending"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	rec := records[0]
	if rec.Metadata["followers"] != float64(12) {
		t.Errorf("metadata not decoded: %v", rec.Metadata)
	}
	if len(rec.Details) != 1 || rec.Details[0].Kind != DetailProfileAnalysis {
		t.Errorf("details = %+v", rec.Details)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestLinkUnknownAlertReturnsFalse(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT p\.id, r\.id`).
		WithArgs("alert_a", "alert_nope").
		WillReturnRows(sqlmock.NewRows([]string{"id", "id"}))

	ok, err := store.Link(context.Background(), "alert_a", "alert_nope", "same_image", 0.92)
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	if ok {
		t.Error("expected false when a linked alert does not exist")
	}
}

func TestLinkExistingPairIsIdempotent(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT p\.id, r\.id`).
		WithArgs("alert_a", "alert_b").
		WillReturnRows(sqlmock.NewRows([]string{"id", "id"}).AddRow(int64(1), int64(2)))
	mock.ExpectExec(`INSERT INTO protego\.related_content`).
		WithArgs(int64(1), int64(2), "same_image", 0.92).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := store.Link(context.Background(), "alert_a", "alert_b", "same_image", 0.92)
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	if !ok {
		t.Error("re-linking an existing pair should succeed, not read as unknown")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
