package model

import "time"

type Category string

const (
	CategoryGeneral   Category = "general"
	CategoryDocuments Category = "documents"
	CategoryPlanning  Category = "planning"
	CategoryIdeas     Category = "ideas"
	CategoryQuestions Category = "questions"
)

var Categories = []Category{
	CategoryGeneral,
	CategoryDocuments,
	CategoryPlanning,
	CategoryIdeas,
	CategoryQuestions,
}

func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Comment is a forum post, a reply, or an annotation on a document or task.
// An empty ParentID marks a top-level comment.
type Comment struct {
	ID          string      `json:"id"`
	ParentID    string      `json:"parentId,omitempty"`
	Title       string      `json:"title,omitempty"`
	Content     string      `json:"content"`
	Author      string      `json:"author"`
	AuthorID    string      `json:"authorId"`
	Category    Category    `json:"category"`
	Tags        []string    `json:"tags"`
	Pinned      bool        `json:"pinned,omitempty"`
	ContextID   string      `json:"contextId,omitempty"`
	ContextType ContextType `json:"contextType,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

func (c Comment) IsReply() bool {
	return c.ParentID != ""
}

func (c Comment) Clone() Comment {
	if c.Tags != nil {
		c.Tags = append([]string(nil), c.Tags...)
	}
	return c
}

func CloneComments(in []Comment) []Comment {
	if in == nil {
		return nil
	}
	out := make([]Comment, len(in))
	for i, c := range in {
		out[i] = c.Clone()
	}
	return out
}

// CommentNode is a top-level comment with its replies. Threads are one level deep.
type CommentNode struct {
	Comment
	Replies []Comment `json:"replies"`
}
