package campaign

// RiskScore computes an additive risk score in [0, 1] from the shape of a
// campaign. Each signal contributes independently and the sum is capped.
func RiskScore(postCount, uniqueAuthors int, spanMinutes, similarity float64, platformCount int) float64 {
	score := 0.0

	switch {
	case postCount > 20:
		score += 0.3
	case postCount > 10:
		score += 0.2
	}

	if postCount > 0 {
		diversity := float64(uniqueAuthors) / float64(postCount)
		switch {
		case diversity < 0.3:
			score += 0.4
		case diversity < 0.5:
			score += 0.2
		}
	}

	switch {
	case spanMinutes < 15:
		score += 0.3
	case spanMinutes < 60:
		score += 0.2
	}

	switch {
	case similarity > 0.95:
		score += 0.3
	case similarity > 0.85:
		score += 0.2
	}

	if platformCount > 2 {
		score += 0.2
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}

// Classify labels a similarity cluster by its dominant spread pattern.
// Checks are ordered by specificity; the first match wins.
func Classify(postCount, uniqueAuthors int, spanMinutes, similarity float64) Type {
	switch {
	case similarity > 0.95:
		return TypeNearDuplicate
	case spanMinutes < 30 && uniqueAuthors > 5:
		return TypeCoordinatedBurst
	case postCount > 0 && float64(uniqueAuthors) < 0.3*float64(postCount):
		return TypeBotNetwork
	default:
		return TypeSimilarContent
	}
}
