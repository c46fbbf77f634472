package campaign

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/deepugangadhar46/protego/pkg/logging"
)

// ScanLock serializes detection cycles across service instances. A nil lock
// means single-instance deployment; the in-process mutex still applies.
type ScanLock interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Metrics holds the detection pipeline metrics. All fields are optional.
type Metrics struct {
	Scans     *prometheus.CounterVec
	Campaigns *prometheus.CounterVec
	Duration  *prometheus.HistogramVec
}

type DetectorConfig struct {
	WindowHours         int
	RetentionHours      int
	SimilarityThreshold float64
	MinClusterSize      int
}

// Detector runs the periodic campaign detection cycle: exact duplicate
// grouping over content fingerprints, then similarity clustering over
// embeddings, then window pruning.
type Detector struct {
	store   *Store
	logger  logging.Logger
	lock    ScanLock
	metrics *Metrics
	cfg     DetectorConfig

	mu sync.Mutex
}

func NewDetector(store *Store, logger logging.Logger, cfg DetectorConfig) *Detector {
	if cfg.WindowHours <= 0 {
		cfg.WindowHours = 24
	}
	if cfg.RetentionHours < cfg.WindowHours {
		cfg.RetentionHours = cfg.WindowHours * 3
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = 0.85
	}
	if cfg.MinClusterSize < 2 {
		cfg.MinClusterSize = 3
	}
	return &Detector{store: store, logger: logger, cfg: cfg}
}

// SetScanLock installs a distributed lock for multi-instance deployments.
func (d *Detector) SetScanLock(lock ScanLock) { d.lock = lock }

// SetMetrics installs detection metrics.
func (d *Detector) SetMetrics(m *Metrics) { d.metrics = m }

// RunScan executes one detection cycle. It never returns an error: failures
// in one phase are logged and the remaining phases still run, so the
// scheduler always gets a result and keeps ticking.
func (d *Detector) RunScan(ctx context.Context) ScanResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	result := ScanResult{Timestamp: time.Now().UTC()}

	if d.lock != nil {
		acquired, err := d.lock.TryAcquire(ctx)
		if err != nil {
			d.logger.WithError(err).Warn("Scan lock unavailable, proceeding with local serialization only")
		} else if !acquired {
			d.logger.Debug("Scan already running on another instance, skipping cycle")
			d.observeScan("skipped")
			return result
		} else {
			defer func() {
				if err := d.lock.Release(ctx); err != nil {
					d.logger.WithError(err).Warn("Failed to release scan lock")
				}
			}()
		}
	}

	started := time.Now()
	cutoff := result.Timestamp.Add(-time.Duration(d.cfg.WindowHours) * time.Hour)

	posts, err := d.store.PostsSince(ctx, cutoff)
	if err != nil {
		d.logger.WithError(err).Error("Scan failed to load post window")
		d.observeScan("failed")
		return result
	}
	result.PostsScanned = len(posts)

	phaseStart := time.Now()
	result.ExactDuplicates = d.persistGroups(ctx, ExactDuplicates(posts, d.cfg.MinClusterSize))
	d.observePhase("exact_duplicates", phaseStart)

	phaseStart = time.Now()
	embedded, err := d.store.PostsWithEmbeddingsSince(ctx, cutoff)
	if err != nil {
		d.logger.WithError(err).Error("Scan failed to load embedded posts, skipping similarity phase")
	} else {
		result.SimilarCampaigns = d.persistGroups(ctx,
			Cluster(embedded, d.cfg.SimilarityThreshold, d.cfg.MinClusterSize))
	}
	d.observePhase("similarity_clusters", phaseStart)

	retentionCutoff := result.Timestamp.Add(-time.Duration(d.cfg.RetentionHours) * time.Hour)
	if removed, err := d.store.PruneBefore(ctx, retentionCutoff); err != nil {
		d.logger.WithError(err).Warn("Post window prune failed")
	} else if removed > 0 {
		d.logger.WithField("removed", removed).Debug("Pruned aged posts")
	}

	result.TotalCampaigns = len(result.ExactDuplicates) + len(result.SimilarCampaigns)
	for _, group := range append(result.ExactDuplicates, result.SimilarCampaigns...) {
		if group.RiskScore >= 0.7 {
			result.HighRiskCampaigns++
		}
	}

	d.logger.WithFields(logging.Fields{
		"posts_scanned":  result.PostsScanned,
		"exact_groups":   len(result.ExactDuplicates),
		"similar_groups": len(result.SimilarCampaigns),
		"high_risk":      result.HighRiskCampaigns,
		"duration_ms":    time.Since(started).Milliseconds(),
	}).Info("Campaign scan completed")
	d.observeScan("completed")
	return result
}

// persistGroups saves each detected group and tags its member posts with the
// campaign's cluster id. A group that fails to save is dropped from the
// result but does not abort the cycle.
func (d *Detector) persistGroups(ctx context.Context, groups []Group) []Group {
	var saved []Group
	for _, group := range groups {
		campaignID, hash, err := d.store.SaveCampaign(ctx, group)
		if err != nil {
			d.logger.WithError(err).WithField("campaign_type", string(group.Type)).
				Error("Failed to persist detected campaign")
			continue
		}

		ids := make([]int64, 0, len(group.Posts))
		for _, post := range group.Posts {
			ids = append(ids, post.ID)
		}
		if err := d.store.AssignCluster(ctx, ids, int(campaignID)); err != nil {
			d.logger.WithError(err).WithField("campaign_hash", hash).
				Warn("Failed to tag campaign posts")
		}

		if d.metrics != nil && d.metrics.Campaigns != nil {
			d.metrics.Campaigns.WithLabelValues(string(group.Type)).Inc()
		}
		saved = append(saved, group)
	}
	return saved
}

func (d *Detector) observeScan(status string) {
	if d.metrics != nil && d.metrics.Scans != nil {
		d.metrics.Scans.WithLabelValues(status).Inc()
	}
}

func (d *Detector) observePhase(phase string, started time.Time) {
	if d.metrics != nil && d.metrics.Duration != nil {
		d.metrics.Duration.WithLabelValues(phase).Observe(time.Since(started).Seconds())
	}
}
