package storage

import (
	"context"

	"github.com/MyNameIsWhaaat/teamboard/internal/comment/model"
)

// Snapshot is the full collection as seen after a write landed.
type Snapshot []model.Comment

// Unsubscribe detaches a subscription. Calling it more than once is a no-op.
type Unsubscribe func()

// Backend is implemented by the shared remote stores and by local cache threads.
type Backend interface {
	ListAll(ctx context.Context) ([]model.Comment, error)
	Add(ctx context.Context, d model.Draft) (model.Comment, error)
	// Delete removes the given ids in one write. Unknown ids are ignored.
	Delete(ctx context.Context, ids ...string) error
}

// Subscriber is implemented by backends that push changes made by any client.
type Subscriber interface {
	Subscribe(fn func(Snapshot)) (Unsubscribe, error)
}

// CategoryLister returns the posts of one category, newest first.
type CategoryLister interface {
	ListByCategory(ctx context.Context, category model.Category) ([]model.Comment, error)
}

// RemoteStore is the shared forum collection.
type RemoteStore interface {
	Backend
	Subscriber
	CategoryLister
}
