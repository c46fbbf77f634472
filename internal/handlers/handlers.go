package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/deepugangadhar46/protego/internal/campaign"
	"github.com/deepugangadhar46/protego/internal/evidence"
	"github.com/deepugangadhar46/protego/internal/verification"
	"github.com/deepugangadhar46/protego/pkg/logging"
)

// Handlers wires the detection, evidence, and verification services into the
// HTTP API.
type Handlers struct {
	posts    *campaign.Store
	detector *campaign.Detector
	evidence *evidence.Store
	flow     *verification.Flow
	logger   logging.Logger
}

func New(posts *campaign.Store, detector *campaign.Detector, evidenceStore *evidence.Store, flow *verification.Flow, logger logging.Logger) *Handlers {
	return &Handlers{
		posts:    posts,
		detector: detector,
		evidence: evidenceStore,
		flow:     flow,
		logger:   logger,
	}
}

// RegisterRoutes mounts the API under /api/v1.
func (h *Handlers) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")

	api.POST("/posts", h.IngestPost)
	api.POST("/scan", h.TriggerScan)
	api.GET("/campaigns", h.ListCampaigns)
	api.POST("/campaigns/:id/status", h.UpdateCampaignStatus)

	api.POST("/evidence", h.CaptureEvidence)
	api.GET("/evidence", h.ListEvidence)
	api.GET("/evidence/summary", h.EvidenceSummary)
	api.POST("/evidence/link", h.LinkEvidence)

	api.POST("/verification/queue", h.EnqueueVerification)
	api.GET("/verification/queue", h.ListVerificationQueue)
	api.POST("/verification/:alert_id/assign", h.AssignVerification)
	api.POST("/verification/:alert_id/submit", h.SubmitVerification)
	api.POST("/verification/:alert_id/escalate", h.EscalateVerification)
	api.POST("/verification/:alert_id/requeue", h.RequeueVerification)
	api.GET("/verification/stats", h.VerificationStats)
	api.GET("/verification/feedback", h.VerificationFeedback)
}

type ingestRequest struct {
	PostID       string    `json:"post_id" binding:"required"`
	Platform     string    `json:"platform" binding:"required"`
	AuthorID     string    `json:"author_id"`
	AuthorHandle string    `json:"author_handle"`
	Content      string    `json:"content" binding:"required"`
	URL          string    `json:"url"`
	PostedAt     time.Time `json:"posted_at"`
	VIPMention   string    `json:"vip_mention"`
	Embedding    []float32 `json:"embedding"`
}

// IngestPost stores a monitored post in the detection window.
func (h *Handlers) IngestPost(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := h.posts.InsertPost(c.Request.Context(), campaign.Post{
		PostID:       req.PostID,
		Platform:     req.Platform,
		AuthorID:     req.AuthorID,
		AuthorHandle: req.AuthorHandle,
		Content:      req.Content,
		URL:          req.URL,
		PostedAt:     req.PostedAt,
		VIPMention:   req.VIPMention,
		Embedding:    req.Embedding,
	})
	if err == campaign.ErrEmptyContent {
		c.JSON(http.StatusBadRequest, gin.H{"error": "post content is empty"})
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to ingest post")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store post"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id, "post_id": req.PostID})
}

// TriggerScan runs a detection cycle on demand, outside the scheduler.
func (h *Handlers) TriggerScan(c *gin.Context) {
	result := h.detector.RunScan(c.Request.Context())
	c.JSON(http.StatusOK, result)
}

// ListCampaigns returns active campaigns, highest risk first.
func (h *Handlers) ListCampaigns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	campaigns, err := h.posts.ActiveCampaigns(c.Request.Context(), limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list campaigns")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list campaigns"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"campaigns": campaigns, "count": len(campaigns)})
}

type campaignStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=active resolved dismissed"`
}

// UpdateCampaignStatus resolves or dismisses a campaign.
func (h *Handlers) UpdateCampaignStatus(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid campaign id"})
		return
	}
	var req campaignStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ok, err := h.posts.UpdateCampaignStatus(c.Request.Context(), id, campaign.Status(req.Status))
	if err != nil {
		h.logger.WithError(err).Error("Failed to update campaign status")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update campaign"})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "campaign not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": req.Status})
}

// CaptureEvidence records a detection with best-effort screenshot capture.
func (h *Handlers) CaptureEvidence(c *gin.Context) {
	var det evidence.Detection
	if err := c.ShouldBindJSON(&det); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if det.Platform == "" || det.DetectionType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "platform and detection_type are required"})
		return
	}

	alertID, err := h.evidence.Save(c.Request.Context(), det)
	if err != nil {
		h.logger.WithError(err).Error("Failed to save evidence")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save evidence"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"alert_id": alertID})
}

// ListEvidence returns evidence records matching query filters.
func (h *Handlers) ListEvidence(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	records, err := h.evidence.Get(c.Request.Context(), evidence.Filter{
		AlertID:            c.Query("alert_id"),
		VerificationStatus: c.Query("status"),
		DetectionType:      c.Query("detection_type"),
		Platform:           c.Query("platform"),
		Limit:              limit,
	})
	if err != nil {
		h.logger.WithError(err).Error("Failed to list evidence")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list evidence"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records, "count": len(records)})
}

// EvidenceSummary aggregates the evidence store.
func (h *Handlers) EvidenceSummary(c *gin.Context) {
	summary, err := h.evidence.SummaryReport(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to summarize evidence")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to summarize evidence"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

type linkRequest struct {
	PrimaryAlertID   string  `json:"primary_alert_id" binding:"required"`
	RelatedAlertID   string  `json:"related_alert_id" binding:"required"`
	RelationshipType string  `json:"relationship_type" binding:"required"`
	Similarity       float64 `json:"similarity"`
}

// LinkEvidence records a relationship between two evidence records.
func (h *Handlers) LinkEvidence(c *gin.Context) {
	var req linkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ok, err := h.evidence.Link(c.Request.Context(), req.PrimaryAlertID, req.RelatedAlertID,
		req.RelationshipType, req.Similarity)
	if err != nil {
		h.logger.WithError(err).Error("Failed to link evidence")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to link evidence"})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "one or both alerts not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"linked": true})
}

// EnqueueVerification adds an alert to the verification queue.
func (h *Handlers) EnqueueVerification(c *gin.Context) {
	var req verification.EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.AlertID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "alert_id is required"})
		return
	}

	priority, err := h.flow.Enqueue(c.Request.Context(), req)
	if err != nil {
		h.logger.WithError(err).Error("Failed to enqueue verification")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"alert_id": req.AlertID, "priority": priority})
}

// ListVerificationQueue returns open queue items in review order.
func (h *Handlers) ListVerificationQueue(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	items, err := h.flow.Queue(c.Request.Context(), verification.QueueFilter{
		Priority:   verification.Priority(c.Query("priority")),
		AssignedTo: c.Query("assigned_to"),
		Limit:      limit,
	})
	if err != nil {
		h.logger.WithError(err).Error("Failed to list verification queue")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list queue"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

type assignRequest struct {
	Reviewer string `json:"reviewer" binding:"required"`
}

// AssignVerification claims a queue item for a reviewer.
func (h *Handlers) AssignVerification(c *gin.Context) {
	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ok, err := h.flow.Assign(c.Request.Context(), c.Param("alert_id"), req.Reviewer)
	if err != nil {
		h.logger.WithError(err).Error("Failed to assign verification")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to assign"})
		return
	}
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "alert unknown or not assignable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alert_id": c.Param("alert_id"), "assigned_to": req.Reviewer})
}

type submitRequest struct {
	Reviewer   string  `json:"reviewer" binding:"required"`
	Confirmed  *bool   `json:"confirmed" binding:"required"`
	Confidence float64 `json:"confidence"`
	Notes      string  `json:"notes"`
}

// SubmitVerification records a reviewer's verdict and syncs the evidence
// record's verification status.
func (h *Handlers) SubmitVerification(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	alertID := c.Param("alert_id")

	ok, err := h.flow.Submit(c.Request.Context(), verification.SubmitRequest{
		AlertID:    alertID,
		Reviewer:   req.Reviewer,
		Confirmed:  *req.Confirmed,
		Confidence: req.Confidence,
		Notes:      req.Notes,
	})
	if err != nil {
		h.logger.WithError(err).Error("Failed to submit verification")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to submit"})
		return
	}
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "alert unknown or not awaiting review"})
		return
	}

	if _, err := h.evidence.Verify(c.Request.Context(), alertID, *req.Confirmed, req.Reviewer, req.Notes); err != nil {
		h.logger.WithError(err).WithField("alert_id", alertID).Warn("Failed to sync evidence verification status")
	}
	c.JSON(http.StatusOK, gin.H{"alert_id": alertID, "confirmed": *req.Confirmed})
}

type escalateRequest struct {
	Actor  string `json:"actor" binding:"required"`
	Reason string `json:"reason"`
}

// EscalateVerification moves an undecided alert to out-of-band handling.
func (h *Handlers) EscalateVerification(c *gin.Context) {
	var req escalateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ok, err := h.flow.Escalate(c.Request.Context(), c.Param("alert_id"), req.Actor, req.Reason)
	if err != nil {
		h.logger.WithError(err).Error("Failed to escalate verification")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to escalate"})
		return
	}
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "alert unknown or already decided"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alert_id": c.Param("alert_id"), "status": "escalated"})
}

type requeueRequest struct {
	Actor string `json:"actor" binding:"required"`
	Notes string `json:"notes"`
}

// RequeueVerification sends an assigned item back for another reviewer.
func (h *Handlers) RequeueVerification(c *gin.Context) {
	var req requeueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ok, err := h.flow.RequeueForReview(c.Request.Context(), c.Param("alert_id"), req.Actor, req.Notes)
	if err != nil {
		h.logger.WithError(err).Error("Failed to requeue verification")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to requeue"})
		return
	}
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "alert unknown or not assigned"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alert_id": c.Param("alert_id"), "status": "needs_review"})
}

// VerificationStats summarizes the verification workload.
func (h *Handlers) VerificationStats(c *gin.Context) {
	stats, err := h.flow.QueueStats(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to compute verification stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// VerificationFeedback exports recent model feedback rows.
func (h *Handlers) VerificationFeedback(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "500"))
	feedback, err := h.flow.FeedbackData(c.Request.Context(), limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to export feedback")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to export feedback"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"feedback": feedback, "count": len(feedback)})
}
