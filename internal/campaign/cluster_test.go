package campaign

import (
	"math"
	"testing"
	"time"
)

func TestCosineSimilarity(t *testing.T) {
	if sim := CosineSimilarity([]float32{1, 0}, []float32{1, 0}); math.Abs(sim-1.0) > 1e-9 {
		t.Errorf("identical vectors: sim = %v, want 1.0", sim)
	}
	if sim := CosineSimilarity([]float32{1, 0}, []float32{0, 1}); math.Abs(sim) > 1e-9 {
		t.Errorf("orthogonal vectors: sim = %v, want 0", sim)
	}
	if sim := CosineSimilarity([]float32{1, 0}, []float32{1, 0, 0}); sim != 0 {
		t.Errorf("mismatched dimensions: sim = %v, want 0", sim)
	}
	if sim := CosineSimilarity(nil, nil); sim != 0 {
		t.Errorf("empty vectors: sim = %v, want 0", sim)
	}
}

func clusterPost(id int64, author string, vec []float32, at time.Time) Post {
	return Post{
		ID:        id,
		PostID:    "post-" + author,
		Platform:  "twitter",
		AuthorID:  author,
		Content:   "content " + author,
		Embedding: vec,
		PostedAt:  at,
	}
}

func TestClusterSeparatesGroupsAndDropsNoise(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	posts := []Post{
		// Tight cluster around (1,0,0).
		clusterPost(1, "a1", []float32{1, 0, 0}, base),
		clusterPost(2, "a2", []float32{0.99, 0.05, 0}, base.Add(time.Minute)),
		clusterPost(3, "a3", []float32{0.98, 0.08, 0}, base.Add(2*time.Minute)),
		// Second cluster around (0,1,0).
		clusterPost(4, "b1", []float32{0, 1, 0}, base.Add(time.Hour)),
		clusterPost(5, "b2", []float32{0.05, 0.99, 0}, base.Add(time.Hour+time.Minute)),
		clusterPost(6, "b3", []float32{0.08, 0.98, 0}, base.Add(time.Hour+2*time.Minute)),
		// Noise, dissimilar to everything.
		clusterPost(7, "n1", []float32{0, 0, 1}, base.Add(2*time.Hour)),
	}

	groups := Cluster(posts, 0.85, 3)
	if len(groups) != 2 {
		t.Fatalf("expected 2 clusters, got %d", len(groups))
	}
	for _, group := range groups {
		if group.PostCount != 3 {
			t.Errorf("cluster size = %d, want 3", group.PostCount)
		}
		if group.Similarity < 0.85 {
			t.Errorf("cluster mean similarity = %v, want >= threshold", group.Similarity)
		}
		for _, post := range group.Posts {
			if post.AuthorID == "n1" {
				t.Error("noise point assigned to a cluster")
			}
		}
	}
}

func TestClusterIgnoresPostsWithoutEmbeddings(t *testing.T) {
	base := time.Now().UTC()
	posts := []Post{
		clusterPost(1, "a1", nil, base),
		clusterPost(2, "a2", nil, base),
		clusterPost(3, "a3", nil, base),
	}
	if groups := Cluster(posts, 0.85, 3); groups != nil {
		t.Errorf("expected no clusters without embeddings, got %d", len(groups))
	}
}

func TestClusterBelowMinimumSize(t *testing.T) {
	base := time.Now().UTC()
	posts := []Post{
		clusterPost(1, "a1", []float32{1, 0, 0}, base),
		clusterPost(2, "a2", []float32{0.99, 0.05, 0}, base),
	}
	if groups := Cluster(posts, 0.85, 3); groups != nil {
		t.Errorf("pair below minimum size should not form a campaign, got %d groups", len(groups))
	}
}
