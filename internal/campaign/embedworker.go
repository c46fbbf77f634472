package campaign

import (
	"context"
	"sync"
	"time"

	"github.com/deepugangadhar46/protego/pkg/llm"
	"github.com/deepugangadhar46/protego/pkg/logging"
)

// EmbedWorker backfills embeddings for posts ingested without one, in small
// batches on an interval. The detection cycle does not wait for it; posts
// without embeddings simply sit out the similarity phase until filled.
type EmbedWorker struct {
	store    *Store
	client   llm.EmbeddingClient
	logger   logging.Logger
	interval time.Duration
	batch    int

	stop     chan struct{}
	wg       sync.WaitGroup
	warnOnce sync.Once
}

func NewEmbedWorker(store *Store, client llm.EmbeddingClient, logger logging.Logger, interval time.Duration, batch int) *EmbedWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	if batch <= 0 {
		batch = 64
	}
	return &EmbedWorker{
		store:    store,
		client:   client,
		logger:   logger,
		interval: interval,
		batch:    batch,
		stop:     make(chan struct{}),
	}
}

// Start launches the backfill loop. With no embedding client configured the
// worker stays idle and logs the degradation once.
func (w *EmbedWorker) Start() {
	if w.client == nil {
		w.logger.Warn("No embedding client configured; similarity clustering is disabled")
		return
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-w.stop:
				return
			case <-ticker.C:
				w.runOnce(context.Background())
			}
		}
	}()
}

// Stop terminates the backfill loop and waits for the in-flight batch.
func (w *EmbedWorker) Stop() {
	close(w.stop)
	w.wg.Wait()
}

func (w *EmbedWorker) runOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, w.interval)
	defer cancel()

	posts, err := w.store.PostsMissingEmbeddings(ctx, w.batch)
	if err != nil {
		w.logger.WithError(err).Warn("Embedding backfill query failed")
		return
	}
	if len(posts) == 0 {
		return
	}

	texts := make([]string, 0, len(posts))
	for _, post := range posts {
		texts = append(texts, NormalizeContent(post.Content))
	}

	vectors, err := w.client.Embed(ctx, texts)
	if err != nil {
		// The embedding service being down degrades clustering, it does
		// not stop ingestion or exact duplicate detection. Warn once per
		// process, then drop to debug so logs stay readable during long
		// outages.
		w.warnOnce.Do(func() {
			w.logger.WithError(err).Warn("Embedding service unavailable; similarity clustering degraded")
		})
		w.logger.WithError(err).Debug("Embedding batch failed")
		return
	}
	if len(vectors) != len(posts) {
		w.logger.WithFields(logging.Fields{
			"expected": len(posts),
			"received": len(vectors),
		}).Warn("Embedding batch size mismatch, dropping batch")
		return
	}

	var filled int
	for i, post := range posts {
		if err := w.store.AttachEmbedding(ctx, post.ID, vectors[i]); err != nil {
			w.logger.WithError(err).WithField("post_id", post.PostID).Warn("Failed to store embedding")
			continue
		}
		filled++
	}
	w.logger.WithField("filled", filled).Debug("Embedding backfill batch complete")
}
