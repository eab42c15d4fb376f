package model

import (
	"fmt"
	"strings"
	"time"
)

// Draft holds the client-supplied part of a comment. Backends assign ID and Timestamp.
type Draft struct {
	ParentID    string
	Title       string
	Content     string
	Author      string
	AuthorID    string
	Category    Category
	Tags        []string
	Pinned      bool
	ContextID   string
	ContextType ContextType
}

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Validate reports the first field that makes d unacceptable.
func Validate(d Draft) error {
	_, err := Normalize(d)
	return err
}

// Normalize trims text fields, defaults the category and dedupes tags.
func Normalize(d Draft) (Draft, error) {
	d.Content = strings.TrimSpace(d.Content)
	if d.Content == "" {
		return Draft{}, &ValidationError{Field: "content", Message: "must not be empty"}
	}
	d.AuthorID = strings.TrimSpace(d.AuthorID)
	if d.AuthorID == "" {
		return Draft{}, &ValidationError{Field: "authorId", Message: "is required"}
	}
	if d.Category == "" {
		d.Category = CategoryGeneral
	}
	if !d.Category.Valid() {
		return Draft{}, &ValidationError{Field: "category", Message: fmt.Sprintf("unknown category %q", d.Category)}
	}
	if d.ContextID != "" && !d.ContextType.Valid() {
		return Draft{}, &ValidationError{Field: "contextType", Message: fmt.Sprintf("unknown context type %q", d.ContextType)}
	}

	d.Title = strings.TrimSpace(d.Title)
	d.ParentID = strings.TrimSpace(d.ParentID)
	if d.ParentID != "" {
		// titles and pins only mean something on posts
		d.Title = ""
		d.Pinned = false
	}
	d.Tags = normalizeTags(d.Tags)
	return d, nil
}

// Comment materialises the draft into a stored record.
func (d Draft) Comment(id string, ts time.Time) Comment {
	return Comment{
		ID:          id,
		ParentID:    d.ParentID,
		Title:       d.Title,
		Content:     d.Content,
		Author:      d.Author,
		AuthorID:    d.AuthorID,
		Category:    d.Category,
		Tags:        append([]string{}, d.Tags...),
		Pinned:      d.Pinned,
		ContextID:   d.ContextID,
		ContextType: d.ContextType,
		Timestamp:   ts,
	}
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		key := strings.ToLower(t)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, t)
	}
	return out
}
