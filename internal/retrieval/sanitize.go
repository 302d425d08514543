package retrieval

import "strings"

// Sanitize keeps printable ASCII letters, digits, spaces, newlines and the
// punctuation .,;:?! and drops everything else.
func Sanitize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '\n':
			b.WriteRune(r)
		case strings.ContainsRune(".,;:?!", r):
			b.WriteRune(r)
		}
	}
	return b.String()
}
