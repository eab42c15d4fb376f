package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/MyNameIsWhaaat/teamboard/internal/comment/model"
	"github.com/MyNameIsWhaaat/teamboard/internal/metrics"
)

// CommentService is what the presentation layer drives for one discussion.
type CommentService interface {
	AddPost(ctx context.Context, actor model.Identity, in PostInput) (model.Comment, error)
	Reply(ctx context.Context, actor model.Identity, parentID string, in ReplyInput) (model.Comment, error)
	Delete(ctx context.Context, actor model.Identity, id string) (deleted int, err error)
	Posts(ctx context.Context, category model.Category) ([]model.Comment, error)

	SetFilter(f model.Filter)
	State() State
	StateFor(actor model.Identity) State
	View(f model.Filter) State
	ViewFor(actor model.Identity, f model.Filter) State
	Watch(fn func(State)) (cancel func())
}

type PostInput struct {
	Title    string
	Content  string
	Category model.Category
	Tags     []string
	// Pinned is honoured for elevated users only.
	Pinned bool
}

type ReplyInput struct {
	Content string
	Tags    []string
}

// State is the view handed to the presentation layer.
type State struct {
	IsLoading bool                `json:"loading"`
	Items     []model.CommentNode `json:"items"`
	Total     int                 `json:"total"`
	// Err is the last failed read of the collection, or, from StateFor, the actor's last failed submission.
	Err error `json:"-"`
	// Draft keeps the text of the actor's failed submission so it can be resent. Only set by StateFor.
	Draft string `json:"draft,omitempty"`
}

type Options struct {
	// Scope labels logs and metrics, e.g. "forum" or "document".
	Scope   string
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}
