package campaign

import (
	"math"
	"sort"
)

// CosineSimilarity computes the cosine similarity of two vectors. Mismatched
// or zero-length vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Cluster groups posts by embedding similarity using density-based
// clustering. Two posts are neighbors when their cosine similarity meets
// similarityThreshold; clusters need at least minClusterSize members.
// Posts without embeddings and noise points are discarded.
func Cluster(posts []Post, similarityThreshold float64, minClusterSize int) []Group {
	if minClusterSize < 2 {
		minClusterSize = 2
	}

	var candidates []Post
	for _, post := range posts {
		if len(post.Embedding) > 0 {
			candidates = append(candidates, post)
		}
	}
	if len(candidates) < minClusterSize {
		return nil
	}

	n := len(candidates)
	neighbors := make([][]int, n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if CosineSimilarity(candidates[i].Embedding, candidates[j].Embedding) >= similarityThreshold {
				neighbors[i] = append(neighbors[i], j)
				neighbors[j] = append(neighbors[j], i)
			}
		}
	}

	const (
		unvisited = 0
		noise     = -1
	)
	labels := make([]int, n)
	clusterID := 0

	for i := 0; i < n; i++ {
		if labels[i] != unvisited {
			continue
		}
		// A core point has itself plus minClusterSize-1 neighbors.
		if len(neighbors[i])+1 < minClusterSize {
			labels[i] = noise
			continue
		}

		clusterID++
		labels[i] = clusterID
		queue := append([]int(nil), neighbors[i]...)
		for len(queue) > 0 {
			j := queue[0]
			queue = queue[1:]
			if labels[j] == noise {
				labels[j] = clusterID
			}
			if labels[j] != unvisited {
				continue
			}
			labels[j] = clusterID
			if len(neighbors[j])+1 >= minClusterSize {
				queue = append(queue, neighbors[j]...)
			}
		}
	}

	byCluster := make(map[int][]int)
	for i, label := range labels {
		if label > 0 {
			byCluster[label] = append(byCluster[label], i)
		}
	}

	var groups []Group
	for _, indices := range byCluster {
		if len(indices) < minClusterSize {
			continue
		}
		members := make([]Post, 0, len(indices))
		for _, idx := range indices {
			members = append(members, candidates[idx])
		}
		similarity := meanPairwiseSimilarity(members)
		typ := Classify(len(members), countAuthors(members), spanMinutes(members), similarity)
		groups = append(groups, buildGroup(members, typ, similarity))
	}

	sort.Slice(groups, func(i, j int) bool {
		if groups[i].PostCount != groups[j].PostCount {
			return groups[i].PostCount > groups[j].PostCount
		}
		return groups[i].FirstSeen.Before(groups[j].FirstSeen)
	})
	return groups
}

func meanPairwiseSimilarity(posts []Post) float64 {
	var total float64
	var pairs int
	for i := 0; i < len(posts); i++ {
		for j := i + 1; j < len(posts); j++ {
			total += CosineSimilarity(posts[i].Embedding, posts[j].Embedding)
			pairs++
		}
	}
	if pairs == 0 {
		return 0
	}
	return total / float64(pairs)
}

func countAuthors(posts []Post) int {
	authors := make(map[string]struct{})
	for _, post := range posts {
		authors[post.AuthorID] = struct{}{}
	}
	return len(authors)
}

func spanMinutes(posts []Post) float64 {
	if len(posts) == 0 {
		return 0
	}
	first, last := posts[0].PostedAt, posts[0].PostedAt
	for _, post := range posts[1:] {
		if post.PostedAt.Before(first) {
			first = post.PostedAt
		}
		if post.PostedAt.After(last) {
			last = post.PostedAt
		}
	}
	return last.Sub(first).Minutes()
}
