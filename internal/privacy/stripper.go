// Package privacy redacts reporter-identifying details from incident text
// before it is stored or embedded. Grouping should match on incident
// facts, not on who reported them.
package privacy

import (
	"regexp"
	"strings"
)

var (
	// icRegex matches Malaysian IC numbers, with or without dashes.
	icRegex = regexp.MustCompile(`\b\d{6}-?\d{2}-?\d{4}\b`)

	// phoneRegex matches local mobile and landline numbers, allowing an
	// optional +60 prefix and common separators.
	phoneRegex = regexp.MustCompile(`(?:\+?60|0)1\d[-\s]?\d{3}[-\s]?\d{4}\b|(?:\+?60|0)[3-9]\d?[-\s]?\d{3}[-\s]?\d{4}\b`)

	// emailRegex matches email addresses.
	emailRegex = regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`)

	// privateTagRegex matches <private>...</private> blocks the intake
	// form wraps around reporter contact sections.
	privateTagRegex = regexp.MustCompile(`(?s)<private>.*?</private>`)
)

// Redaction placeholders. Kept short and stable so identical reports
// still produce identical vectors after redaction.
const (
	placeholderIC    = "[NO-KP]"
	placeholderPhone = "[NO-TEL]"
	placeholderEmail = "[EMEL]"
)

// StripPrivateTags removes all <private>...</private> content.
func StripPrivateTags(text string) string {
	return privateTagRegex.ReplaceAllString(text, "")
}

// RedactIdentifiers replaces IC numbers, phone numbers, and email
// addresses with placeholders.
func RedactIdentifiers(text string) string {
	text = icRegex.ReplaceAllString(text, placeholderIC)
	text = emailRegex.ReplaceAllString(text, placeholderEmail)
	text = phoneRegex.ReplaceAllString(text, placeholderPhone)
	return text
}

// IsEntirelyPrivate checks if the text is entirely within <private> tags.
func IsEntirelyPrivate(text string) bool {
	return strings.TrimSpace(StripPrivateTags(text)) == ""
}

// Clean performs full privacy cleaning on text. This is the function to
// use before storing any reporter-submitted content.
func Clean(text string) string {
	text = StripPrivateTags(text)
	text = RedactIdentifiers(text)
	return strings.TrimSpace(text)
}
