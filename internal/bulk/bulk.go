// Package bulk expands placeholder tokens in bulk-operation text so each
// item can receive distinct content from one template.
package bulk

import (
	"fmt"
	"strings"
	"time"
)

const (
	TokenAuto    = "{auto}"
	TokenContext = "{context}"
	TokenUnique  = "{unique}"
)

// Subject is the per-item metadata a template can draw from.
type Subject struct {
	Title    string
	Category string
	Priority string
	Day      time.Time
}

// HasTokens reports whether template contains any recognized token.
func HasTokens(template string) bool {
	return strings.Contains(template, TokenAuto) ||
		strings.Contains(template, TokenContext) ||
		strings.Contains(template, TokenUnique)
}

// Expand substitutes tokens for item index (0-based) of total in one pass.
// A template without tokens is returned unchanged.
func Expand(template string, s Subject, index, total int) string {
	if !HasTokens(template) {
		return template
	}
	r := strings.NewReplacer(
		TokenAuto, autoLabel(s),
		TokenContext, contextLabel(s),
		TokenUnique, fmt.Sprintf("item %d of %d", index+1, total),
	)
	return r.Replace(template)
}

func autoLabel(s Subject) string {
	title := strings.TrimSpace(s.Title)
	switch {
	case title != "" && s.Category != "":
		return fmt.Sprintf("%s (%s)", title, s.Category)
	case title != "":
		return title
	case s.Category != "":
		return s.Category + " item"
	}
	return "item"
}

func contextLabel(s Subject) string {
	var parts []string
	if s.Category != "" {
		parts = append(parts, s.Category)
	}
	if s.Priority != "" {
		parts = append(parts, s.Priority+" priority")
	}
	if !s.Day.IsZero() {
		parts = append(parts, s.Day.Format("Monday"))
	}
	if len(parts) == 0 {
		return autoLabel(s)
	}
	return strings.Join(parts, ", ")
}
