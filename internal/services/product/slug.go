package product

import (
	"regexp"
	"strings"
)

var (
	// nonAlphanumeric matches anything that is not a letter, digit, or hyphen.
	nonAlphanumeric = regexp.MustCompile(`[^a-z0-9-]+`)
	// multipleHyphens collapses runs of hyphens into one.
	multipleHyphens = regexp.MustCompile(`-{2,}`)
)

// slugify converts a human-readable title into a URL-safe slug.
// Example: "Vitamin C Brightening Serum" -> "vitamin-c-brightening-serum"
func slugify(title string) string {
	s := strings.ToLower(strings.TrimSpace(title))
	s = strings.ReplaceAll(s, " ", "-")
	s = nonAlphanumeric.ReplaceAllString(s, "")
	s = multipleHyphens.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	return s
}
