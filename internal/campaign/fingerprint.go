package campaign

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrEmptyContent is returned when a post has no text left after normalization.
var ErrEmptyContent = errors.New("post content is empty after normalization")

// NormalizeContent lowercases text and collapses runs of whitespace to a
// single space so trivial reformatting does not defeat duplicate detection.
func NormalizeContent(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

// Fingerprint returns the content fingerprint of a post: the hex SHA-256 of
// the normalized text. Two posts with the same fingerprint are exact
// duplicates for detection purposes.
func Fingerprint(text string) (string, error) {
	normalized := NormalizeContent(text)
	if normalized == "" {
		return "", ErrEmptyContent
	}
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:]), nil
}
