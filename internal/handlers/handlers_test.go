package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"

	"github.com/deepugangadhar46/protego/internal/campaign"
	"github.com/deepugangadhar46/protego/internal/evidence"
	"github.com/deepugangadhar46/protego/internal/verification"
	"github.com/deepugangadhar46/protego/pkg/logging"
)

func newTestRouter(t *testing.T) (*gin.Engine, sqlmock.Sqlmock) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := logging.NewLogger()
	posts := campaign.NewStore(db, logger)
	detector := campaign.NewDetector(posts, logger, campaign.DetectorConfig{})
	h := New(posts, detector, evidence.NewStore(db, logger), verification.NewFlow(db, logger), logger)

	router := gin.New()
	h.RegisterRoutes(router)
	return router, mock
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestIngestPost(t *testing.T) {
	router, mock := newTestRouter(t)

	mock.ExpectQuery(`INSERT INTO protego\.campaign_posts`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(5))

	rec := doJSON(t, router, http.MethodPost, "/api/v1/posts", map[string]interface{}{
		"post_id":  "p1",
		"platform": "twitter",
		"content":  "some claim about the vip",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["id"] != float64(5) {
		t.Errorf("id = %v, want 5", resp["id"])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestIngestPostValidation(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/posts", map[string]interface{}{
		"post_id": "p1",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing fields: status = %d, want 400", rec.Code)
	}
}

func TestEnqueueVerificationRequiresAlertID(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/verification/queue", map[string]interface{}{
		"threat_score": 0.9,
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestEnqueueVerification(t *testing.T) {
	router, mock := newTestRouter(t)

	mock.ExpectExec(`INSERT INTO protego\.verification_queue`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO protego\.verification_history`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	rec := doJSON(t, router, http.MethodPost, "/api/v1/verification/queue", map[string]interface{}{
		"alert_id":     "alert_1",
		"threat_score": 0.95,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["priority"] != "critical" {
		t.Errorf("priority = %v, want critical", resp["priority"])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSubmitVerificationConflictOnDecidedAlert(t *testing.T) {
	router, mock := newTestRouter(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status, .+ FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows(
			[]string{"status", "detection_type", "threat_score", "confidence_score", "vip_mentioned"}).
			AddRow("dismissed", "fake_profile", 0.9, 0.9, false))
	mock.ExpectRollback()

	rec := doJSON(t, router, http.MethodPost, "/api/v1/verification/alert_1/submit", map[string]interface{}{
		"reviewer":  "analyst1",
		"confirmed": false,
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409; body = %s", rec.Code, rec.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestUpdateCampaignStatusNotFound(t *testing.T) {
	router, mock := newTestRouter(t)

	mock.ExpectExec(`UPDATE protego\.detected_campaigns`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	rec := doJSON(t, router, http.MethodPost, "/api/v1/campaigns/99/status", map[string]interface{}{
		"status": "resolved",
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestUpdateCampaignStatusRejectsUnknownState(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/campaigns/1/status", map[string]interface{}{
		"status": "archived",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
