package campaign

import (
	"sort"
	"unicode/utf8"
)

// buildGroup derives per-group statistics from member posts. Posts are
// sorted by time so FirstSeen/LastSeen and the content sample are stable.
func buildGroup(posts []Post, typ Type, similarity float64) Group {
	sorted := make([]Post, len(posts))
	copy(sorted, posts)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].PostedAt.Equal(sorted[j].PostedAt) {
			return sorted[i].PostID < sorted[j].PostID
		}
		return sorted[i].PostedAt.Before(sorted[j].PostedAt)
	})

	authors := make(map[string]struct{})
	platformSet := make(map[string]struct{})
	vip := ""
	for _, post := range sorted {
		authors[post.AuthorID] = struct{}{}
		platformSet[post.Platform] = struct{}{}
		if vip == "" && post.VIPMention != "" {
			vip = post.VIPMention
		}
	}

	platforms := make([]string, 0, len(platformSet))
	for platform := range platformSet {
		platforms = append(platforms, platform)
	}
	sort.Strings(platforms)

	firstSeen := sorted[0].PostedAt
	lastSeen := sorted[len(sorted)-1].PostedAt
	span := lastSeen.Sub(firstSeen).Minutes()

	group := Group{
		Type:            typ,
		ContentSample:   sample(sorted[0].Content),
		Posts:           sorted,
		PostCount:       len(sorted),
		UniqueAuthors:   len(authors),
		Platforms:       platforms,
		FirstSeen:       firstSeen,
		LastSeen:        lastSeen,
		TimeSpanMinutes: span,
		Similarity:      similarity,
		VIPMention:      vip,
	}
	group.RiskScore = RiskScore(group.PostCount, group.UniqueAuthors, span, similarity, len(platforms))
	return group
}

// sample truncates on a rune boundary; a byte-indexed cut could split a
// multibyte character and produce invalid UTF-8 that Postgres rejects.
func sample(content string) string {
	const max = 200
	if len(content) <= max {
		return content
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut]
}

// ExactDuplicates groups posts sharing a content fingerprint. Groups smaller
// than minGroupSize are not campaigns and are dropped. Results are ordered
// largest group first for stable output.
func ExactDuplicates(posts []Post, minGroupSize int) []Group {
	byFingerprint := make(map[string][]Post)
	for _, post := range posts {
		if post.Fingerprint == "" {
			continue
		}
		byFingerprint[post.Fingerprint] = append(byFingerprint[post.Fingerprint], post)
	}

	var groups []Group
	for _, members := range byFingerprint {
		if len(members) < minGroupSize {
			continue
		}
		groups = append(groups, buildGroup(members, TypeExactDuplicate, 1.0))
	}

	sort.Slice(groups, func(i, j int) bool {
		if groups[i].PostCount != groups[j].PostCount {
			return groups[i].PostCount > groups[j].PostCount
		}
		return groups[i].FirstSeen.Before(groups[j].FirstSeen)
	})
	return groups
}
