package localcache

import (
	"context"
	"errors"

	"github.com/MyNameIsWhaaat/teamboard/internal/comment/model"
	"github.com/MyNameIsWhaaat/teamboard/internal/comment/storage"
)

var ErrParentNotFound = errors.New("parent comment not found")

// Thread is the comment collection of one document or task. Documents and
// tasks with the same id share a stored key; a thread only ever sees and
// changes the records of its own context type.
type Thread struct {
	cache *Cache
	ref   model.ContextRef
}

func (t *Thread) Ref() model.ContextRef {
	return t.ref
}

func (t *Thread) ListAll(ctx context.Context) ([]model.Comment, error) {
	return t.own(t.cache.Load(ctx, t.ref.ID)), nil
}

// Add routes to AddTopLevel or AddReply depending on d.ParentID.
func (t *Thread) Add(ctx context.Context, d model.Draft) (model.Comment, error) {
	if d.ParentID != "" {
		return t.AddReply(ctx, d.ParentID, d)
	}
	return t.AddTopLevel(ctx, d)
}

// AddTopLevel stores a new comment ahead of the existing ones.
func (t *Thread) AddTopLevel(ctx context.Context, d model.Draft) (model.Comment, error) {
	d.ParentID = ""
	d, err := t.normalize(d)
	if err != nil {
		return model.Comment{}, err
	}

	t.cache.mu.Lock()
	defer t.cache.mu.Unlock()

	comments, err := t.cache.load(ctx, t.ref.ID)
	if err != nil {
		return model.Comment{}, &storage.WriteError{Op: "add comment", Err: err}
	}
	c := d.Comment(t.cache.newID(), t.cache.timestamp())

	updated := make([]model.Comment, 0, len(comments)+1)
	updated = append(updated, c)
	updated = append(updated, comments...)

	if err := t.cache.Save(ctx, t.ref.ID, updated); err != nil {
		return model.Comment{}, &storage.WriteError{Op: "add comment", Err: err}
	}
	return c, nil
}

// AddReply appends a reply under a top-level comment of this thread.
func (t *Thread) AddReply(ctx context.Context, parentID string, d model.Draft) (model.Comment, error) {
	d.ParentID = parentID
	d, err := t.normalize(d)
	if err != nil {
		return model.Comment{}, err
	}
	if d.ParentID == "" {
		return model.Comment{}, &model.ValidationError{Field: "parentId", Message: "is required"}
	}

	t.cache.mu.Lock()
	defer t.cache.mu.Unlock()

	comments, err := t.cache.load(ctx, t.ref.ID)
	if err != nil {
		return model.Comment{}, &storage.WriteError{Op: "add reply", Err: err}
	}
	parent, ok := find(t.own(comments), d.ParentID)
	if !ok {
		return model.Comment{}, ErrParentNotFound
	}
	if parent.IsReply() {
		return model.Comment{}, &model.ValidationError{Field: "parentId", Message: "replies cannot be nested"}
	}

	c := d.Comment(t.cache.newID(), t.cache.timestamp())
	if err := t.cache.Save(ctx, t.ref.ID, append(comments, c)); err != nil {
		return model.Comment{}, &storage.WriteError{Op: "add reply", Err: err}
	}
	return c, nil
}

// Delete drops the given ids. Unknown ids are ignored.
func (t *Thread) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	t.cache.mu.Lock()
	defer t.cache.mu.Unlock()

	comments, err := t.cache.load(ctx, t.ref.ID)
	if err != nil {
		return &storage.WriteError{Op: "delete comments", Err: err}
	}
	kept := comments[:0]
	for _, c := range comments {
		if _, ok := drop[c.ID]; ok && c.ContextType == t.ref.Type {
			continue
		}
		kept = append(kept, c)
	}
	if len(kept) == len(comments) {
		return nil
	}

	if err := t.cache.Save(ctx, t.ref.ID, kept); err != nil {
		return &storage.WriteError{Op: "delete comments", Err: err}
	}
	return nil
}

func (t *Thread) normalize(d model.Draft) (model.Draft, error) {
	d.ContextID = t.ref.ID
	d.ContextType = t.ref.Type
	return model.Normalize(d)
}

// own filters out records stored under the same id by the other context type.
func (t *Thread) own(comments []model.Comment) []model.Comment {
	out := make([]model.Comment, 0, len(comments))
	for _, c := range comments {
		if c.ContextType == t.ref.Type {
			out = append(out, c)
		}
	}
	return out
}

func find(comments []model.Comment, id string) (model.Comment, bool) {
	for _, c := range comments {
		if c.ID == id {
			return c, true
		}
	}
	return model.Comment{}, false
}
