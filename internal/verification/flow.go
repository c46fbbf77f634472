package verification

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/deepugangadhar46/protego/pkg/logging"
)

// Callback is notified after a verification reaches a verdict. Callbacks run
// outside the database transaction; a panicking or failing callback is
// logged and never unwinds the verification itself.
type Callback func(alertID string, result Status, confidence float64)

// Metrics holds the verification workflow metrics. All fields are optional.
type Metrics struct {
	Enqueued *prometheus.CounterVec
	Verified *prometheus.CounterVec
	Depth    *prometheus.GaugeVec
}

// Flow manages the human verification queue: priority intake, assignment,
// verdict submission with model feedback, and escalation.
type Flow struct {
	db      *sql.DB
	logger  logging.Logger
	metrics *Metrics

	mu        sync.RWMutex
	callbacks map[string]Callback
}

func NewFlow(db *sql.DB, logger logging.Logger) *Flow {
	return &Flow{
		db:        db,
		logger:    logger,
		callbacks: make(map[string]Callback),
	}
}

// SetMetrics installs verification metrics.
func (f *Flow) SetMetrics(m *Metrics) { f.metrics = m }

// RegisterCallback subscribes to verification verdicts. Registering the same
// name twice replaces the previous callback.
func (f *Flow) RegisterCallback(name string, cb Callback) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callbacks[name] = cb
}

// EnqueueRequest describes an alert entering the verification queue.
type EnqueueRequest struct {
	AlertID       string  `json:"alert_id"`
	DetectionType string  `json:"detection_type"`
	ThreatScore   float64 `json:"threat_score"`
	Confidence    float64 `json:"confidence"`
	VIPMentioned  bool    `json:"vip_mentioned"`
	Reason        string  `json:"reason"`
}

// Item is one verification queue entry.
type Item struct {
	ID             int64      `json:"id"`
	AlertID        string     `json:"alert_id"`
	Priority       Priority   `json:"priority"`
	Status         Status     `json:"status"`
	DetectionType  string     `json:"detection_type"`
	ThreatScore    float64    `json:"threat_score"`
	Confidence     float64    `json:"confidence"`
	VIPMentioned   bool       `json:"vip_mentioned"`
	Reason         string     `json:"reason,omitempty"`
	AssignedTo     string     `json:"assigned_to,omitempty"`
	AssignedAt     *time.Time `json:"assigned_at,omitempty"`
	ReviewedBy     string     `json:"reviewed_by,omitempty"`
	ReviewedAt     *time.Time `json:"reviewed_at,omitempty"`
	Result         string     `json:"result,omitempty"`
	ResultNotes    string     `json:"result_notes,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Enqueue adds an alert to the verification queue. Priority is computed once
// here and never recomputed; a later re-enqueue of the same alert id is a
// no-op so reviews in flight keep their place.
func (f *Flow) Enqueue(ctx context.Context, req EnqueueRequest) (Priority, error) {
	priority := PriorityFor(req.DetectionType, req.ThreatScore, req.Confidence, req.VIPMentioned)

	result, err := f.db.ExecContext(ctx, `
		INSERT INTO protego.verification_queue
			(alert_id, priority, priority_rank, status, detection_type,
			 threat_score, confidence_score, vip_mentioned, auto_flagged_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (alert_id) DO NOTHING`,
		req.AlertID, string(priority), priority.Rank(), string(StatusPending),
		req.DetectionType, req.ThreatScore, req.Confidence, req.VIPMentioned, req.Reason)
	if err != nil {
		return "", fmt.Errorf("enqueue verification: %w", err)
	}

	if inserted, _ := result.RowsAffected(); inserted > 0 {
		f.recordHistory(ctx, req.AlertID, "queued", "", "", StatusPending, req.Reason)
		if f.metrics != nil && f.metrics.Enqueued != nil {
			f.metrics.Enqueued.WithLabelValues(string(priority)).Inc()
		}
		f.logger.WithFields(logging.Fields{
			"alert_id": req.AlertID,
			"priority": string(priority),
		}).Info("Alert queued for verification")
	}
	return priority, nil
}

// QueueFilter narrows queue listings. Zero-value fields are ignored. With
// AssignedTo set the listing switches to that reviewer's claimed items.
type QueueFilter struct {
	Priority   Priority
	AssignedTo string
	Limit      int
}

// Queue returns open items awaiting review, highest priority first and
// oldest first within a priority.
func (f *Flow) Queue(ctx context.Context, filter QueueFilter) ([]Item, error) {
	query := `
		SELECT id, alert_id, priority, status, COALESCE(detection_type, ''),
		       threat_score, confidence_score, vip_mentioned, COALESCE(auto_flagged_reason, ''),
		       COALESCE(assigned_to, ''), assigned_at, COALESCE(reviewed_by, ''), reviewed_at,
		       COALESCE(verification_result, ''), COALESCE(verification_notes, ''), created_at
		FROM protego.verification_queue`
	var args []interface{}
	if filter.AssignedTo != "" {
		args = append(args, filter.AssignedTo)
		query += fmt.Sprintf(" WHERE status = 'assigned' AND assigned_to = $%d", len(args))
	} else {
		query += " WHERE status IN ('pending', 'needs_review')"
	}
	if filter.Priority != "" {
		args = append(args, string(filter.Priority))
		query += fmt.Sprintf(" AND priority = $%d", len(args))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY priority_rank ASC, created_at ASC LIMIT $%d", len(args))

	rows, err := f.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query verification queue: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanItem(rows *sql.Rows) (Item, error) {
	var item Item
	var priority, status string
	var assignedAt, reviewedAt sql.NullTime
	if err := rows.Scan(&item.ID, &item.AlertID, &priority, &status, &item.DetectionType,
		&item.ThreatScore, &item.Confidence, &item.VIPMentioned, &item.Reason,
		&item.AssignedTo, &assignedAt, &item.ReviewedBy, &reviewedAt,
		&item.Result, &item.ResultNotes, &item.CreatedAt); err != nil {
		return item, fmt.Errorf("scan queue item: %w", err)
	}
	item.Priority = Priority(priority)
	item.Status = Status(status)
	if assignedAt.Valid {
		item.AssignedAt = &assignedAt.Time
	}
	if reviewedAt.Valid {
		item.ReviewedAt = &reviewedAt.Time
	}
	return item, nil
}

// Assign claims an open item for a reviewer. Returns false when the alert is
// unknown or not in an assignable state.
func (f *Flow) Assign(ctx context.Context, alertID, reviewer string) (bool, error) {
	tx, err := f.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin assign: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM protego.verification_queue WHERE alert_id = $1 FOR UPDATE`,
		alertID).Scan(&current)
	if err == sql.ErrNoRows {
		f.logger.WithField("alert_id", alertID).Warn("Assignment targeted unknown alert")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lock queue item: %w", err)
	}
	if !Status(current).Open() {
		f.logger.WithFields(logging.Fields{
			"alert_id": alertID,
			"status":   current,
		}).Warn("Assignment rejected, item not open")
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE protego.verification_queue
		SET status = $1, assigned_to = $2, assigned_at = NOW(), updated_at = NOW()
		WHERE alert_id = $3`,
		string(StatusAssigned), reviewer, alertID); err != nil {
		return false, fmt.Errorf("assign queue item: %w", err)
	}
	if err := f.recordHistoryTx(ctx, tx, alertID, "assigned", reviewer, Status(current), StatusAssigned, ""); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit assign: %w", err)
	}
	return true, nil
}

// SubmitRequest is a reviewer's verdict on an alert.
type SubmitRequest struct {
	AlertID    string  `json:"alert_id"`
	Reviewer   string  `json:"reviewer"`
	Confirmed  bool    `json:"confirmed"`
	Confidence float64 `json:"confidence"`
	Notes      string  `json:"notes"`
}

// Submit records a human verdict: the queue item moves to its terminal
// state, exactly one model feedback row is written, and the reviewer's
// aggregates update, all in one transaction. Verdicts are accepted only from
// pending or assigned; anything else (unknown, needs_review, terminal)
// returns false without mutating state.
func (f *Flow) Submit(ctx context.Context, req SubmitRequest) (bool, error) {
	tx, err := f.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin submit: %w", err)
	}
	defer tx.Rollback()

	var current, detectionType string
	var threatScore, modelConfidence float64
	var vipMentioned bool
	err = tx.QueryRowContext(ctx, `
		SELECT status, COALESCE(detection_type, ''), threat_score, confidence_score, vip_mentioned
		FROM protego.verification_queue WHERE alert_id = $1 FOR UPDATE`,
		req.AlertID).Scan(&current, &detectionType, &threatScore, &modelConfidence, &vipMentioned)
	if err == sql.ErrNoRows {
		f.logger.WithField("alert_id", req.AlertID).Warn("Verdict targeted unknown alert")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lock queue item: %w", err)
	}
	if s := Status(current); s != StatusPending && s != StatusAssigned {
		f.logger.WithFields(logging.Fields{
			"alert_id": req.AlertID,
			"status":   current,
		}).Warn("Verdict rejected, item not awaiting review")
		return false, nil
	}

	verdict := StatusDismissed
	if req.Confirmed {
		verdict = StatusConfirmedFake
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE protego.verification_queue
		SET status = $1, reviewed_by = $2, reviewed_at = NOW(),
		    verification_result = $1, verification_confidence = $3,
		    verification_notes = $4, updated_at = NOW()
		WHERE alert_id = $5`,
		string(verdict), req.Reviewer, req.Confidence, req.Notes, req.AlertID); err != nil {
		return false, fmt.Errorf("record verdict: %w", err)
	}

	if err := f.recordHistoryTx(ctx, tx, req.AlertID, "verdict", req.Reviewer, Status(current), verdict, req.Notes); err != nil {
		return false, err
	}
	if err := insertFeedback(ctx, tx, req, detectionType, threatScore, modelConfidence, vipMentioned); err != nil {
		return false, err
	}
	if err := updateReviewerPerformance(ctx, tx, req.Reviewer, req.Confirmed, req.Confidence); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit submit: %w", err)
	}

	if f.metrics != nil && f.metrics.Verified != nil {
		f.metrics.Verified.WithLabelValues(string(verdict)).Inc()
	}
	f.fireCallbacks(req.AlertID, verdict, req.Confidence)
	return true, nil
}

// insertFeedback writes the single training feedback row for a verdict. The
// feedback is a correction when the human disagrees with the model's lean
// (threat score at or above 0.5 reads as "model says fake").
func insertFeedback(ctx context.Context, tx *sql.Tx, req SubmitRequest, detectionType string, threatScore, modelConfidence float64, vipMentioned bool) error {
	humanVerdict := "legitimate"
	if req.Confirmed {
		humanVerdict = "fake"
	}
	modelSaysFake := threatScore >= 0.5
	feedbackType := "confirmation"
	if req.Confirmed != modelSaysFake {
		feedbackType = "correction"
	}

	features, err := json.Marshal(map[string]interface{}{
		"threat_score":     threatScore,
		"model_confidence": modelConfidence,
		"vip_mentioned":    vipMentioned,
	})
	if err != nil {
		return fmt.Errorf("marshal feedback features: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO protego.model_feedback
			(alert_id, model_prediction, model_confidence, human_verdict,
			 human_confidence, feedback_type, features_used)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		req.AlertID, detectionType, modelConfidence, humanVerdict,
		req.Confidence, feedbackType, features); err != nil {
		return fmt.Errorf("insert model feedback: %w", err)
	}
	return nil
}

func updateReviewerPerformance(ctx context.Context, tx *sql.Tx, reviewer string, confirmed bool, confidence float64) error {
	confirmedInc, dismissedInc := 0, 1
	if confirmed {
		confirmedInc, dismissedInc = 1, 0
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO protego.reviewer_performance
			(reviewer_id, total_reviews, confirmed_count, dismissed_count, avg_confidence, last_active)
		VALUES ($1, 1, $2, $3, $4, NOW())
		ON CONFLICT (reviewer_id) DO UPDATE SET
			total_reviews = protego.reviewer_performance.total_reviews + 1,
			confirmed_count = protego.reviewer_performance.confirmed_count + $2,
			dismissed_count = protego.reviewer_performance.dismissed_count + $3,
			avg_confidence = (protego.reviewer_performance.avg_confidence * protego.reviewer_performance.total_reviews + $4)
				/ (protego.reviewer_performance.total_reviews + 1),
			last_active = NOW(),
			updated_at = NOW()`,
		reviewer, confirmedInc, dismissedInc, confidence); err != nil {
		return fmt.Errorf("update reviewer performance: %w", err)
	}
	return nil
}

// Escalate moves an undecided alert to the escalated state for out-of-band
// handling. Returns false when the alert is unknown or already terminal.
func (f *Flow) Escalate(ctx context.Context, alertID, actor, reason string) (bool, error) {
	return f.transition(ctx, alertID, actor, reason, "escalated", StatusEscalated, false, func(current Status) bool {
		return !current.Terminal()
	})
}

// RequeueForReview sends an assigned item back to the queue for another
// reviewer, keeping its original priority and queue position. The assignment
// clears in the same transaction as the status change so a needs_review row
// never carries a stale assignee.
func (f *Flow) RequeueForReview(ctx context.Context, alertID, actor, notes string) (bool, error) {
	return f.transition(ctx, alertID, actor, notes, "requeued", StatusNeedsReview, true, func(current Status) bool {
		return current == StatusAssigned
	})
}

func (f *Flow) transition(ctx context.Context, alertID, actor, notes, action string, target Status, clearAssignment bool, allowed func(Status) bool) (bool, error) {
	tx, err := f.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin %s: %w", action, err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM protego.verification_queue WHERE alert_id = $1 FOR UPDATE`,
		alertID).Scan(&current)
	if err == sql.ErrNoRows {
		f.logger.WithFields(logging.Fields{
			"alert_id": alertID,
			"action":   action,
		}).Warn("Transition targeted unknown alert")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lock queue item: %w", err)
	}
	if !allowed(Status(current)) {
		f.logger.WithFields(logging.Fields{
			"alert_id": alertID,
			"status":   current,
			"action":   action,
		}).Warn("Transition rejected")
		return false, nil
	}

	set := `status = $1, verification_notes = $2, updated_at = NOW()`
	if clearAssignment {
		set += `, assigned_to = NULL, assigned_at = NULL`
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE protego.verification_queue
		SET `+set+`
		WHERE alert_id = $3`,
		string(target), notes, alertID); err != nil {
		return false, fmt.Errorf("%s queue item: %w", action, err)
	}
	if err := f.recordHistoryTx(ctx, tx, alertID, action, actor, Status(current), target, notes); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit %s: %w", action, err)
	}
	return true, nil
}

func (f *Flow) recordHistory(ctx context.Context, alertID, action, actor string, from, to Status, notes string) {
	if _, err := f.db.ExecContext(ctx, `
		INSERT INTO protego.verification_history
			(alert_id, action, performed_by, previous_status, new_status, notes)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		alertID, action, actor, string(from), string(to), notes); err != nil {
		f.logger.WithError(err).WithField("alert_id", alertID).Warn("Failed to record verification history")
	}
}

func (f *Flow) recordHistoryTx(ctx context.Context, tx *sql.Tx, alertID, action, actor string, from, to Status, notes string) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO protego.verification_history
			(alert_id, action, performed_by, previous_status, new_status, notes)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		alertID, action, actor, string(from), string(to), notes); err != nil {
		return fmt.Errorf("record history: %w", err)
	}
	return nil
}

func (f *Flow) fireCallbacks(alertID string, result Status, confidence float64) {
	f.mu.RLock()
	callbacks := make(map[string]Callback, len(f.callbacks))
	for name, cb := range f.callbacks {
		callbacks[name] = cb
	}
	f.mu.RUnlock()

	for name, cb := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					f.logger.WithFields(logging.Fields{
						"callback": name,
						"alert_id": alertID,
						"panic":    fmt.Sprint(r),
					}).Error("Verification callback panicked")
				}
			}()
			cb(alertID, result, confidence)
		}()
	}
}

// Stats summarizes the verification workload.
type Stats struct {
	ByStatus          map[string]int `json:"by_status"`
	PendingByPriority map[string]int `json:"pending_by_priority"`
	Results           map[string]int `json:"results"`
	AvgReviewMinutes  float64        `json:"avg_review_minutes"`
}

// QueueStats aggregates queue state for dashboards and updates the queue
// depth gauge when metrics are installed.
func (f *Flow) QueueStats(ctx context.Context) (Stats, error) {
	stats := Stats{
		ByStatus:          make(map[string]int),
		PendingByPriority: make(map[string]int),
		Results:           make(map[string]int),
	}

	if err := f.countGroups(ctx,
		`SELECT status, COUNT(*) FROM protego.verification_queue GROUP BY status`,
		stats.ByStatus); err != nil {
		return stats, err
	}
	if err := f.countGroups(ctx, `
		SELECT priority, COUNT(*) FROM protego.verification_queue
		WHERE status IN ('pending', 'needs_review') GROUP BY priority`,
		stats.PendingByPriority); err != nil {
		return stats, err
	}
	if err := f.countGroups(ctx, `
		SELECT verification_result, COUNT(*) FROM protego.verification_queue
		WHERE verification_result IS NOT NULL GROUP BY verification_result`,
		stats.Results); err != nil {
		return stats, err
	}

	err := f.db.QueryRowContext(ctx, `
		SELECT COALESCE(AVG(EXTRACT(EPOCH FROM (reviewed_at - created_at)) / 60), 0)
		FROM protego.verification_queue WHERE reviewed_at IS NOT NULL`).
		Scan(&stats.AvgReviewMinutes)
	if err != nil {
		return stats, fmt.Errorf("average review time: %w", err)
	}

	if f.metrics != nil && f.metrics.Depth != nil {
		for _, priority := range []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow} {
			f.metrics.Depth.WithLabelValues(string(priority)).
				Set(float64(stats.PendingByPriority[string(priority)]))
		}
	}
	return stats, nil
}

func (f *Flow) countGroups(ctx context.Context, query string, target map[string]int) error {
	rows, err := f.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("queue stats query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return fmt.Errorf("scan stats row: %w", err)
		}
		target[key] = count
	}
	return rows.Err()
}

// Feedback is one training feedback row for model improvement.
type Feedback struct {
	ID              int64                  `json:"id"`
	AlertID         string                 `json:"alert_id"`
	ModelPrediction string                 `json:"model_prediction"`
	ModelConfidence float64                `json:"model_confidence"`
	HumanVerdict    string                 `json:"human_verdict"`
	HumanConfidence float64                `json:"human_confidence"`
	FeedbackType    string                 `json:"feedback_type"`
	Features        map[string]interface{} `json:"features"`
	CreatedAt       time.Time              `json:"created_at"`
}

// FeedbackData returns recent model feedback rows, newest first, for model
// retraining exports.
func (f *Flow) FeedbackData(ctx context.Context, limit int) ([]Feedback, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := f.db.QueryContext(ctx, `
		SELECT id, alert_id, COALESCE(model_prediction, ''), model_confidence,
		       human_verdict, human_confidence, feedback_type, features_used, created_at
		FROM protego.model_feedback
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query model feedback: %w", err)
	}
	defer rows.Close()

	var feedback []Feedback
	for rows.Next() {
		var fb Feedback
		var features []byte
		if err := rows.Scan(&fb.ID, &fb.AlertID, &fb.ModelPrediction, &fb.ModelConfidence,
			&fb.HumanVerdict, &fb.HumanConfidence, &fb.FeedbackType, &features, &fb.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		if len(features) > 0 {
			if err := json.Unmarshal(features, &fb.Features); err != nil {
				f.logger.WithError(err).Warn("Corrupt feedback features")
			}
		}
		feedback = append(feedback, fb)
	}
	return feedback, rows.Err()
}
