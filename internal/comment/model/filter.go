package model

import "strings"

// CategoryAll disables category filtering.
const CategoryAll Category = "all"

type Filter struct {
	Search   string
	Category Category
}

// Match is applied to top-level comments only; replies follow their parent.
func (f Filter) Match(c Comment) bool {
	if f.Category != "" && f.Category != CategoryAll && c.Category != f.Category {
		return false
	}
	term := strings.ToLower(strings.TrimSpace(f.Search))
	if term == "" {
		return true
	}
	return strings.Contains(strings.ToLower(c.Content), term) ||
		strings.Contains(strings.ToLower(c.Title), term) ||
		strings.Contains(strings.ToLower(c.Author), term)
}
