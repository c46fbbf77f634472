package evidence

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/lib/pq"

	"github.com/deepugangadhar46/protego/pkg/logging"
)

// DetailKind labels the analyzer that produced a detection detail.
type DetailKind string

const (
	DetailTextAnalysis        DetailKind = "text_analysis"
	DetailImageAnalysis       DetailKind = "image_analysis"
	DetailProfileAnalysis     DetailKind = "profile_analysis"
	DetailCampaignCorrelation DetailKind = "campaign_correlation"
)

// Detail is one analyzer's contribution to a detection.
type Detail struct {
	Kind       DetailKind             `json:"kind"`
	Payload    map[string]interface{} `json:"payload"`
	Model      string                 `json:"model,omitempty"`
	Confidence float64                `json:"confidence"`
}

// Detection is the input to evidence capture: what was flagged and why.
type Detection struct {
	Platform      string                 `json:"platform"`
	PostURL       string                 `json:"post_url"`
	DetectionType string                 `json:"detection_type"`
	Reason        string                 `json:"reason"`
	RawText       string                 `json:"raw_text"`
	Metadata      map[string]interface{} `json:"metadata"`
	AuthorHandle  string                 `json:"author_handle"`
	AuthorID      string                 `json:"author_id"`
	VIPMention    string                 `json:"vip_mention"`
	ThreatScore   float64                `json:"threat_score"`
	Confidence    float64                `json:"confidence"`
	Details       []Detail               `json:"details,omitempty"`
}

// Record is a persisted evidence record.
type Record struct {
	ID                 int64                  `json:"id"`
	AlertID            string                 `json:"alert_id"`
	Platform           string                 `json:"platform"`
	PostURL            string                 `json:"post_url"`
	ScreenshotPath     string                 `json:"screenshot_path,omitempty"`
	DetectionType      string                 `json:"detection_type"`
	Reason             string                 `json:"reason"`
	RawText            string                 `json:"raw_text"`
	Metadata           map[string]interface{} `json:"metadata"`
	AuthorHandle       string                 `json:"author_handle"`
	AuthorID           string                 `json:"author_id"`
	VIPMention         string                 `json:"vip_mention"`
	ThreatScore        float64                `json:"threat_score"`
	Confidence         float64                `json:"confidence"`
	VerificationStatus string                 `json:"verification_status"`
	VerifiedBy         string                 `json:"verified_by,omitempty"`
	VerifiedAt         *time.Time             `json:"verified_at,omitempty"`
	VerificationNotes  string                 `json:"verification_notes,omitempty"`
	CreatedAt          time.Time              `json:"created_at"`
	Details            []Detail               `json:"details,omitempty"`
}

// Filter narrows evidence queries. Zero-value fields are ignored.
type Filter struct {
	AlertID            string
	VerificationStatus string
	DetectionType      string
	Platform           string
	Limit              int
}

// Summary aggregates the evidence store for dashboards.
type Summary struct {
	Total           int            `json:"total"`
	ByStatus        map[string]int `json:"by_status"`
	ByDetectionType map[string]int `json:"by_detection_type"`
	ByPlatform      map[string]int `json:"by_platform"`
}

// Capturer takes a screenshot of a post URL and returns the stored file path.
type Capturer interface {
	Capture(ctx context.Context, url, alertID string) (string, error)
}

// Store persists evidence records with their detection details.
type Store struct {
	db             *sql.DB
	logger         logging.Logger
	capturer       Capturer
	captureTimeout time.Duration
}

func NewStore(db *sql.DB, logger logging.Logger) *Store {
	return &Store{db: db, logger: logger, captureTimeout: 20 * time.Second}
}

// SetCapturer installs a screenshot capturer. Without one, evidence is
// stored without screenshots.
func (s *Store) SetCapturer(capturer Capturer, timeout time.Duration) {
	s.capturer = capturer
	if timeout > 0 {
		s.captureTimeout = timeout
	}
}

// newAlertID derives an alert id from the detection content and capture
// time, so retries of the same detection in the same second collapse.
func newAlertID(det Detection, now time.Time) string {
	sum := sha256.Sum256([]byte(det.Platform + "|" + det.PostURL + "|" + det.RawText + "|" +
		strconv.FormatInt(now.Unix(), 10)))
	return "alert_" + now.UTC().Format("20060102150405") + "_" + hex.EncodeToString(sum[:])[:8]
}

// Save captures evidence for a detection: best-effort screenshot, then the
// record and its details in one transaction. Returns the alert id.
func (s *Store) Save(ctx context.Context, det Detection) (string, error) {
	now := time.Now()
	alertID := newAlertID(det, now)

	screenshotPath := ""
	if s.capturer != nil && det.PostURL != "" {
		captureCtx, cancel := context.WithTimeout(ctx, s.captureTimeout)
		path, err := s.capturer.Capture(captureCtx, det.PostURL, alertID)
		cancel()
		if err != nil {
			// Screenshots are best effort; the record still stands on the
			// raw text and metadata.
			s.logger.WithError(err).WithField("alert_id", alertID).Warn("Screenshot capture failed")
		} else {
			screenshotPath = path
		}
	}

	metadata, err := json.Marshal(det.Metadata)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	if det.Metadata == nil {
		metadata = []byte("{}")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin save evidence: %w", err)
	}
	defer tx.Rollback()

	var evidenceID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO protego.evidence_records
			(alert_id, source_platform, post_url, screenshot_path, detection_type,
			 reason_flagged, raw_text, raw_metadata, author_handle, author_id,
			 vip_mentioned, threat_score, confidence_score)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`,
		alertID, det.Platform, det.PostURL, screenshotPath, det.DetectionType,
		det.Reason, det.RawText, metadata, det.AuthorHandle, det.AuthorID,
		det.VIPMention, det.ThreatScore, det.Confidence,
	).Scan(&evidenceID)
	if err != nil {
		return "", fmt.Errorf("insert evidence record: %w", err)
	}

	for _, detail := range det.Details {
		payload, err := json.Marshal(detail.Payload)
		if err != nil {
			return "", fmt.Errorf("marshal detail payload: %w", err)
		}
		if detail.Payload == nil {
			payload = []byte("{}")
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO protego.detection_details (evidence_id, detail_kind, payload, model_used, confidence)
			VALUES ($1, $2, $3, $4, $5)`,
			evidenceID, string(detail.Kind), payload, detail.Model, detail.Confidence); err != nil {
			return "", fmt.Errorf("insert detection detail: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit save evidence: %w", err)
	}

	s.logger.WithFields(logging.Fields{
		"alert_id":       alertID,
		"detection_type": det.DetectionType,
		"platform":       det.Platform,
	}).Info("Evidence recorded")
	return alertID, nil
}

// Get returns evidence records matching the filter, newest first, with
// detection details attached.
func (s *Store) Get(ctx context.Context, filter Filter) ([]Record, error) {
	query := `
		SELECT id, alert_id, source_platform, post_url, COALESCE(screenshot_path, ''),
		       detection_type, reason_flagged, COALESCE(raw_text, ''), raw_metadata,
		       COALESCE(author_handle, ''), COALESCE(author_id, ''), COALESCE(vip_mentioned, ''),
		       threat_score, confidence_score, verification_status,
		       COALESCE(verified_by, ''), verified_at, COALESCE(verification_notes, ''), created_at
		FROM protego.evidence_records
		WHERE 1=1`
	var args []interface{}
	if filter.AlertID != "" {
		args = append(args, filter.AlertID)
		query += fmt.Sprintf(" AND alert_id = $%d", len(args))
	}
	if filter.VerificationStatus != "" {
		args = append(args, filter.VerificationStatus)
		query += fmt.Sprintf(" AND verification_status = $%d", len(args))
	}
	if filter.DetectionType != "" {
		args = append(args, filter.DetectionType)
		query += fmt.Sprintf(" AND detection_type = $%d", len(args))
	}
	if filter.Platform != "" {
		args = append(args, filter.Platform)
		query += fmt.Sprintf(" AND source_platform = $%d", len(args))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query evidence: %w", err)
	}
	defer rows.Close()

	var records []Record
	var ids []int64
	for rows.Next() {
		var rec Record
		var metadata []byte
		var verifiedAt sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.AlertID, &rec.Platform, &rec.PostURL, &rec.ScreenshotPath,
			&rec.DetectionType, &rec.Reason, &rec.RawText, &metadata,
			&rec.AuthorHandle, &rec.AuthorID, &rec.VIPMention,
			&rec.ThreatScore, &rec.Confidence, &rec.VerificationStatus,
			&rec.VerifiedBy, &verifiedAt, &rec.VerificationNotes, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan evidence: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &rec.Metadata); err != nil {
				s.logger.WithError(err).WithField("alert_id", rec.AlertID).Warn("Corrupt evidence metadata")
			}
		}
		if verifiedAt.Valid {
			rec.VerifiedAt = &verifiedAt.Time
		}
		records = append(records, rec)
		ids = append(ids, rec.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return records, nil
	}

	if err := s.attachDetails(ctx, records, ids); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Store) attachDetails(ctx context.Context, records []Record, ids []int64) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT evidence_id, detail_kind, payload, COALESCE(model_used, ''), confidence
		FROM protego.detection_details
		WHERE evidence_id = ANY($1)
		ORDER BY id ASC`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("query detection details: %w", err)
	}
	defer rows.Close()

	byEvidence := make(map[int64][]Detail)
	for rows.Next() {
		var evidenceID int64
		var detail Detail
		var kind string
		var payload []byte
		if err := rows.Scan(&evidenceID, &kind, &payload, &detail.Model, &detail.Confidence); err != nil {
			return fmt.Errorf("scan detection detail: %w", err)
		}
		detail.Kind = DetailKind(kind)
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &detail.Payload); err != nil {
				s.logger.WithError(err).Warn("Corrupt detection detail payload")
			}
		}
		byEvidence[evidenceID] = append(byEvidence[evidenceID], detail)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for i := range records {
		records[i].Details = byEvidence[records[i].ID]
	}
	return nil
}

// Verify records a human verdict on an evidence record. A verdict only ever
// lands on a pending record; once decided the status is history and is never
// overwritten. Returns false when the alert id is unknown or already decided.
func (s *Store) Verify(ctx context.Context, alertID string, confirmed bool, verifier, notes string) (bool, error) {
	status := "dismissed"
	if confirmed {
		status = "confirmed_fake"
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE protego.evidence_records
		SET verification_status = $1, verified_by = $2, verified_at = NOW(),
		    verification_notes = $3, updated_at = NOW()
		WHERE alert_id = $4 AND verification_status = 'pending'`,
		status, verifier, notes, alertID)
	if err != nil {
		return false, fmt.Errorf("verify evidence: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		s.logger.WithField("alert_id", alertID).Warn("Verification targeted unknown or already decided alert")
		return false, nil
	}
	return true, nil
}

// Link records a relationship between two evidence records, for example two
// alerts carrying the same manipulated image. Linking an already-linked pair
// is an idempotent success; only an unknown alert id returns false.
func (s *Store) Link(ctx context.Context, primaryAlertID, relatedAlertID, relationshipType string, similarity float64) (bool, error) {
	var primaryID, relatedID int64
	err := s.db.QueryRowContext(ctx, `
		SELECT p.id, r.id
		FROM protego.evidence_records p, protego.evidence_records r
		WHERE p.alert_id = $1 AND r.alert_id = $2`,
		primaryAlertID, relatedAlertID).Scan(&primaryID, &relatedID)
	if err == sql.ErrNoRows {
		s.logger.WithFields(logging.Fields{
			"primary_alert_id": primaryAlertID,
			"related_alert_id": relatedAlertID,
		}).Warn("Link targeted unknown alert")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("resolve link alerts: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO protego.related_content
			(primary_evidence_id, related_evidence_id, relationship_type, similarity_score)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (primary_evidence_id, related_evidence_id, relationship_type) DO NOTHING`,
		primaryID, relatedID, relationshipType, similarity)
	if err != nil {
		return false, fmt.Errorf("link evidence: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		s.logger.WithFields(logging.Fields{
			"primary_alert_id": primaryAlertID,
			"related_alert_id": relatedAlertID,
		}).Debug("Evidence already linked")
	}
	return true, nil
}

// SummaryReport aggregates record counts by status, detection type, and platform.
func (s *Store) SummaryReport(ctx context.Context) (Summary, error) {
	summary := Summary{
		ByStatus:        make(map[string]int),
		ByDetectionType: make(map[string]int),
		ByPlatform:      make(map[string]int),
	}

	groupings := []struct {
		column string
		target map[string]int
	}{
		{"verification_status", summary.ByStatus},
		{"detection_type", summary.ByDetectionType},
		{"source_platform", summary.ByPlatform},
	}
	for _, grouping := range groupings {
		rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
			`SELECT %s, COUNT(*) FROM protego.evidence_records GROUP BY %s`,
			grouping.column, grouping.column))
		if err != nil {
			return summary, fmt.Errorf("summarize %s: %w", grouping.column, err)
		}
		for rows.Next() {
			var key string
			var count int
			if err := rows.Scan(&key, &count); err != nil {
				rows.Close()
				return summary, fmt.Errorf("scan summary row: %w", err)
			}
			grouping.target[key] = count
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return summary, err
		}
		rows.Close()
	}

	for _, count := range summary.ByStatus {
		summary.Total += count
	}
	return summary, nil
}
