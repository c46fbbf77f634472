package campaign

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/deepugangadhar46/protego/pkg/logging"
)

// Store persists monitored posts and detected campaigns in Postgres.
type Store struct {
	db     *sql.DB
	logger logging.Logger
}

func NewStore(db *sql.DB, logger logging.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// InsertPost stores a post inside the detection window. The content
// fingerprint is computed here when the caller has not set one. Re-ingesting
// a post_id already stored returns the existing row id.
func (s *Store) InsertPost(ctx context.Context, post Post) (int64, error) {
	if post.Fingerprint == "" {
		fingerprint, err := Fingerprint(post.Content)
		if err != nil {
			return 0, err
		}
		post.Fingerprint = fingerprint
	}
	if post.PostedAt.IsZero() {
		post.PostedAt = time.Now().UTC()
	}

	var embedding interface{}
	if len(post.Embedding) > 0 {
		embedding = pgvector.NewVector(post.Embedding)
	}

	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO protego.campaign_posts
			(post_id, platform, author_id, author_handle, content, content_hash, embedding, url, posted_at, vip_mentioned)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (post_id) DO NOTHING
		RETURNING id`,
		post.PostID, post.Platform, post.AuthorID, post.AuthorHandle,
		post.Content, post.Fingerprint, embedding, post.URL, post.PostedAt, post.VIPMention,
	).Scan(&id)
	if err == sql.ErrNoRows {
		err = s.db.QueryRowContext(ctx,
			`SELECT id FROM protego.campaign_posts WHERE post_id = $1`, post.PostID).Scan(&id)
	}
	if err != nil {
		return 0, fmt.Errorf("insert post: %w", err)
	}
	return id, nil
}

// PostsSince returns all posts newer than the cutoff, oldest first.
// Embeddings are not loaded; use PostsWithEmbeddingsSince for clustering.
func (s *Store) PostsSince(ctx context.Context, cutoff time.Time) ([]Post, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, post_id, platform, author_id, author_handle, content, content_hash,
		       url, posted_at, vip_mentioned, cluster_id, is_duplicate
		FROM protego.campaign_posts
		WHERE posted_at >= $1
		ORDER BY posted_at ASC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query posts: %w", err)
	}
	defer rows.Close()
	return scanPosts(rows, false)
}

// PostsWithEmbeddingsSince returns posts newer than the cutoff that already
// have an embedding attached.
func (s *Store) PostsWithEmbeddingsSince(ctx context.Context, cutoff time.Time) ([]Post, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, post_id, platform, author_id, author_handle, content, content_hash,
		       url, posted_at, vip_mentioned, cluster_id, is_duplicate, embedding
		FROM protego.campaign_posts
		WHERE posted_at >= $1 AND embedding IS NOT NULL
		ORDER BY posted_at ASC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query posts with embeddings: %w", err)
	}
	defer rows.Close()
	return scanPosts(rows, true)
}

// PostsMissingEmbeddings returns up to limit posts awaiting embedding
// backfill, oldest first.
func (s *Store) PostsMissingEmbeddings(ctx context.Context, limit int) ([]Post, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, post_id, platform, author_id, author_handle, content, content_hash,
		       url, posted_at, vip_mentioned, cluster_id, is_duplicate
		FROM protego.campaign_posts
		WHERE embedding IS NULL
		ORDER BY posted_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query posts missing embeddings: %w", err)
	}
	defer rows.Close()
	return scanPosts(rows, false)
}

func scanPosts(rows *sql.Rows, withEmbedding bool) ([]Post, error) {
	var posts []Post
	for rows.Next() {
		var post Post
		var clusterID sql.NullInt64
		var vec pgvector.Vector

		dest := []interface{}{
			&post.ID, &post.PostID, &post.Platform, &post.AuthorID, &post.AuthorHandle,
			&post.Content, &post.Fingerprint, &post.URL, &post.PostedAt,
			&post.VIPMention, &clusterID, &post.IsDuplicate,
		}
		if withEmbedding {
			dest = append(dest, &vec)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		if clusterID.Valid {
			cid := int(clusterID.Int64)
			post.ClusterID = &cid
		}
		if withEmbedding {
			post.Embedding = vec.Slice()
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

// AttachEmbedding stores an embedding vector for a post.
func (s *Store) AttachEmbedding(ctx context.Context, id int64, embedding []float32) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE protego.campaign_posts SET embedding = $1 WHERE id = $2`,
		pgvector.NewVector(embedding), id)
	if err != nil {
		return fmt.Errorf("attach embedding: %w", err)
	}
	return nil
}

// AssignCluster tags a set of posts with a cluster id and marks them as
// duplicates so later cycles can skip re-reporting them.
func (s *Store) AssignCluster(ctx context.Context, ids []int64, clusterID int) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE protego.campaign_posts
		SET cluster_id = $1, is_duplicate = TRUE
		WHERE id = ANY($2)`,
		clusterID, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("assign cluster: %w", err)
	}
	return nil
}

// PruneBefore deletes posts older than the cutoff and reports how many were
// removed. Detected campaigns are kept; only the raw post window is pruned.
func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM protego.campaign_posts WHERE posted_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune posts: %w", err)
	}
	removed, _ := result.RowsAffected()
	return removed, nil
}

// campaignHash derives the stable identity of a campaign from its content
// sample and first-seen time, so re-detecting the same campaign on the next
// cycle updates the existing row instead of duplicating it.
func campaignHash(contentSample string, firstSeen time.Time) string {
	sum := sha256.Sum256([]byte(contentSample + firstSeen.UTC().Format(time.RFC3339)))
	return hex.EncodeToString(sum[:])[:16]
}

// SaveCampaign upserts a detected campaign keyed on its campaign hash and
// records the post membership. Returns the campaign row id and hash.
func (s *Store) SaveCampaign(ctx context.Context, group Group) (int64, string, error) {
	hash := campaignHash(group.ContentSample, group.FirstSeen)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, "", fmt.Errorf("begin save campaign: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO protego.detected_campaigns
			(campaign_hash, campaign_type, content_sample, post_count, unique_authors,
			 platforms, time_span_minutes, similarity_score, vip_mentioned, risk_score,
			 first_seen, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (campaign_hash) DO UPDATE SET
			post_count = EXCLUDED.post_count,
			unique_authors = EXCLUDED.unique_authors,
			platforms = EXCLUDED.platforms,
			time_span_minutes = EXCLUDED.time_span_minutes,
			similarity_score = EXCLUDED.similarity_score,
			risk_score = EXCLUDED.risk_score,
			last_seen = EXCLUDED.last_seen
		RETURNING id`,
		hash, string(group.Type), group.ContentSample, group.PostCount, group.UniqueAuthors,
		pq.Array(group.Platforms), group.TimeSpanMinutes, group.Similarity,
		group.VIPMention, group.RiskScore, group.FirstSeen, group.LastSeen,
	).Scan(&id)
	if err != nil {
		return 0, "", fmt.Errorf("upsert campaign: %w", err)
	}

	for _, post := range group.Posts {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO protego.campaign_post_relations (campaign_id, post_id)
			VALUES ($1, $2)
			ON CONFLICT (campaign_id, post_id) DO NOTHING`,
			id, post.ID); err != nil {
			return 0, "", fmt.Errorf("link campaign post: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, "", fmt.Errorf("commit save campaign: %w", err)
	}
	return id, hash, nil
}

// ActiveCampaigns returns campaigns still marked active, highest risk first.
func (s *Store) ActiveCampaigns(ctx context.Context, limit int) ([]Campaign, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, campaign_hash, campaign_type, content_sample, post_count, unique_authors,
		       platforms, time_span_minutes, similarity_score, vip_mentioned, risk_score,
		       status, first_seen, last_seen, detected_at
		FROM protego.detected_campaigns
		WHERE status = 'active'
		ORDER BY risk_score DESC, last_seen DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query active campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []Campaign
	for rows.Next() {
		var c Campaign
		var typ, status string
		if err := rows.Scan(&c.ID, &c.Hash, &typ, &c.ContentSample, &c.PostCount,
			&c.UniqueAuthors, pq.Array(&c.Platforms), &c.TimeSpanMinutes, &c.Similarity,
			&c.VIPMention, &c.RiskScore, &status, &c.FirstSeen, &c.LastSeen, &c.DetectedAt); err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		c.Type = Type(typ)
		c.Status = Status(status)
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

// UpdateCampaignStatus moves a campaign to a new lifecycle state. Returns
// false when the campaign does not exist.
func (s *Store) UpdateCampaignStatus(ctx context.Context, id int64, status Status) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE protego.detected_campaigns SET status = $1 WHERE id = $2`,
		string(status), id)
	if err != nil {
		return false, fmt.Errorf("update campaign status: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		s.logger.WithField("campaign_id", id).Warn("Campaign status update targeted unknown campaign")
		return false, nil
	}
	return true, nil
}
