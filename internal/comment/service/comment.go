package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/MyNameIsWhaaat/teamboard/internal/comment/model"
	"github.com/MyNameIsWhaaat/teamboard/internal/comment/storage"
	"github.com/MyNameIsWhaaat/teamboard/internal/comment/thread"
	"github.com/MyNameIsWhaaat/teamboard/internal/metrics"
)

// Controller owns the view of one discussion: the forum or a single document or task.
// Backends that implement storage.Subscriber push snapshots which replace the view
// wholesale; other backends are re-read after every mutation.
type Controller struct {
	backend storage.Backend
	sub     storage.Subscriber
	lister  storage.CategoryLister

	scope   string
	log     *zap.Logger
	metrics *metrics.Metrics

	// serialises deliveries so watchers see states in order
	notifyMu sync.Mutex

	mu        sync.Mutex
	started   bool
	stopped   bool
	loading   bool
	live      bool
	comments  []model.Comment
	filter    model.Filter
	loadErr   error
	outcomes  map[string]outcome
	unsub     storage.Unsubscribe
	watchers  map[int]func(State)
	nextWatch int

	stopOnce sync.Once
}

// outcome is the result of an actor's last failed submission. Each actor only sees their own.
type outcome struct {
	err   error
	draft string
}

var _ CommentService = (*Controller)(nil)

func New(backend storage.Backend, opts Options) *Controller {
	if opts.Scope == "" {
		opts.Scope = "comments"
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	c := &Controller{
		backend:  backend,
		scope:    opts.Scope,
		log:      opts.Logger.With(zap.String("scope", opts.Scope)),
		metrics:  opts.Metrics,
		loading:  true,
		comments: []model.Comment{},
		outcomes: make(map[string]outcome),
		watchers: make(map[int]func(State)),
	}
	if sub, ok := backend.(storage.Subscriber); ok {
		c.sub = sub
	}
	if lister, ok := backend.(storage.CategoryLister); ok {
		c.lister = lister
	}
	return c
}

// Start subscribes (when supported) and performs the initial load. Calling it again is a no-op.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrStopped
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.mu.Unlock()

	if c.sub != nil {
		unsub, err := c.sub.Subscribe(c.onSnapshot)
		if err != nil {
			c.mu.Lock()
			c.started = false
			c.loadErr = err
			c.mu.Unlock()
			c.notify()
			return err
		}

		c.mu.Lock()
		if c.stopped {
			c.mu.Unlock()
			unsub()
			return ErrStopped
		}
		c.unsub = unsub
		c.mu.Unlock()
	}

	err := c.load(ctx)
	c.notify()
	return err
}

// Stop detaches from the backend and drops all watchers. It is idempotent.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.stopped = true
		unsub := c.unsub
		c.unsub = nil
		c.watchers = make(map[int]func(State))
		c.mu.Unlock()

		if unsub != nil {
			unsub()
		}
	})
}

func (c *Controller) AddPost(ctx context.Context, actor model.Identity, in PostInput) (model.Comment, error) {
	const op = "add_post"

	d := model.Draft{
		Title:    in.Title,
		Content:  in.Content,
		Category: in.Category,
		Tags:     in.Tags,
		Pinned:   in.Pinned && actor.Role.Elevated(),
		Author:   actor.Username,
		AuthorID: actor.ID,
	}
	if err := c.checkRunning(); err != nil {
		return model.Comment{}, err
	}
	if err := model.Validate(d); err != nil {
		return model.Comment{}, c.reject(op, actor.ID, err, in.Content)
	}
	return c.add(ctx, op, d)
}

// Reply adds a reply under a top-level comment. Replies to replies are rejected.
func (c *Controller) Reply(ctx context.Context, actor model.Identity, parentID string, in ReplyInput) (model.Comment, error) {
	const op = "reply"

	d := model.Draft{
		ParentID: strings.TrimSpace(parentID),
		Content:  in.Content,
		Tags:     in.Tags,
		Author:   actor.Username,
		AuthorID: actor.ID,
	}
	if err := c.checkRunning(); err != nil {
		return model.Comment{}, err
	}
	if err := model.Validate(d); err != nil {
		return model.Comment{}, c.reject(op, actor.ID, err, in.Content)
	}
	if d.ParentID == "" {
		return model.Comment{}, c.reject(op, actor.ID, &model.ValidationError{Field: "parentId", Message: "is required"}, in.Content)
	}

	all, err := c.backend.ListAll(ctx)
	if err != nil {
		return model.Comment{}, c.reject(op, actor.ID, err, in.Content)
	}
	parent, ok := find(all, d.ParentID)
	if !ok {
		return model.Comment{}, c.reject(op, actor.ID, fmt.Errorf("parent %s: %w", d.ParentID, ErrNotFound), in.Content)
	}
	if parent.IsReply() {
		return model.Comment{}, c.reject(op, actor.ID, &model.ValidationError{Field: "parentId", Message: "replies cannot be nested"}, in.Content)
	}
	return c.add(ctx, op, d)
}

// Delete removes a comment and, for a post, all of its replies in one backend call.
// Only the author or an elevated user may delete.
func (c *Controller) Delete(ctx context.Context, actor model.Identity, id string) (int, error) {
	const op = "delete"

	if err := c.checkRunning(); err != nil {
		return 0, err
	}

	c.mu.Lock()
	target, known := find(c.comments, id)
	c.mu.Unlock()

	var all []model.Comment
	if !known {
		var err error
		if all, err = c.backend.ListAll(ctx); err != nil {
			return 0, c.reject(op, actor.ID, err, "")
		}
		if target, known = find(all, id); !known {
			return 0, c.reject(op, actor.ID, fmt.Errorf("comment %s: %w", id, ErrNotFound), "")
		}
	}

	if !actor.CanDelete(target) {
		return 0, c.reject(op, actor.ID, &PermissionError{ActorID: actor.ID, Action: "delete", CommentID: id}, "")
	}

	if all == nil {
		var err error
		if all, err = c.backend.ListAll(ctx); err != nil {
			return 0, c.reject(op, actor.ID, err, "")
		}
	}

	ids := cascade(all, target)
	if err := c.backend.Delete(ctx, ids...); err != nil {
		return 0, c.reject(op, actor.ID, err, "")
	}

	if c.sub != nil {
		c.mu.Lock()
		c.comments = without(c.comments, ids)
		c.mu.Unlock()
	} else if err := c.load(ctx); err != nil {
		c.log.Warn("Reload after delete failed", zap.Error(err))
	}

	c.finish(op, actor.ID, nil, "")
	c.log.Info("Comment deleted", zap.String("id", id), zap.Int("removed", len(ids)), zap.String("actor", actor.ID))
	c.notify()
	return len(ids), nil
}

// Posts lists the top-level comments of one category, newest first.
func (c *Controller) Posts(ctx context.Context, category model.Category) ([]model.Comment, error) {
	if !category.Valid() {
		return nil, &model.ValidationError{Field: "category", Message: fmt.Sprintf("unknown category %q", category)}
	}
	if c.lister != nil {
		return c.lister.ListByCategory(ctx, category)
	}

	all, err := c.backend.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.Comment, 0, len(all))
	for _, cm := range all {
		if !cm.IsReply() && cm.Category == category {
			out = append(out, cm)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}

func (c *Controller) SetFilter(f model.Filter) {
	c.mu.Lock()
	c.filter = f
	c.mu.Unlock()
	c.notify()
}

// State is the current view under the filter set with SetFilter.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked(c.filter)
}

// StateFor is State plus the error and kept draft of actor's last failed submission.
// A later success by the same actor clears them; other actors never affect them.
func (c *Controller) StateFor(actor model.Identity) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.actorStateLocked(actor, c.filter)
}

// View is the current view under f. The controller's own filter is left alone.
func (c *Controller) View(f model.Filter) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked(f)
}

// ViewFor is View with actor's outcome applied as in StateFor.
func (c *Controller) ViewFor(actor model.Identity, f model.Filter) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.actorStateLocked(actor, f)
}

func (c *Controller) actorStateLocked(actor model.Identity, f model.Filter) State {
	st := c.stateLocked(f)
	if o, ok := c.outcomes[actor.ID]; ok {
		st.Err = o.err
		st.Draft = o.draft
	}
	return st
}

// Watch calls fn with the current state and again after every change.
// fn runs on the goroutine that caused the change and must not block.
// The delivered State is shared between watchers and must not be modified.
func (c *Controller) Watch(fn func(State)) (cancel func()) {
	c.mu.Lock()
	id := c.nextWatch
	c.nextWatch++
	c.watchers[id] = fn
	st := c.stateLocked(c.filter)
	c.mu.Unlock()

	c.notifyMu.Lock()
	fn(st)
	c.notifyMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.watchers, id)
			c.mu.Unlock()
		})
	}
}

func (c *Controller) onSnapshot(s storage.Snapshot) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.comments = []model.Comment(s)
	c.live = true
	c.loading = false
	c.mu.Unlock()

	c.metrics.RecordSnapshot(c.scope)
	c.notify()
}

// load reads the backend. Once a snapshot has arrived, snapshots are authoritative and reads are ignored.
func (c *Controller) load(ctx context.Context) error {
	all, err := c.backend.ListAll(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.loadErr = err
		return err
	}
	if !c.live {
		c.comments = all
	}
	c.loadErr = nil
	c.loading = false
	return nil
}

func (c *Controller) add(ctx context.Context, op string, d model.Draft) (model.Comment, error) {
	created, err := c.backend.Add(ctx, d)
	if err != nil {
		return model.Comment{}, c.reject(op, d.AuthorID, err, d.Content)
	}

	if c.sub != nil {
		// shown until the next snapshot replaces the view
		c.mu.Lock()
		if _, ok := find(c.comments, created.ID); !ok {
			c.comments = append(c.comments, created)
		}
		c.mu.Unlock()
	} else if err := c.load(ctx); err != nil {
		c.log.Warn("Reload after add failed", zap.Error(err))
	}

	c.finish(op, d.AuthorID, nil, "")
	c.log.Info("Comment added", zap.String("id", created.ID), zap.String("parent_id", created.ParentID), zap.String("actor", created.AuthorID))
	c.notify()
	return created, nil
}

// reject records a failed operation for actorID, keeps draft for resubmission and returns err.
func (c *Controller) reject(op, actorID string, err error, draft string) error {
	c.finish(op, actorID, err, draft)
	c.log.Warn("Comment operation failed", zap.String("op", op), zap.Error(err))
	c.notify()
	return err
}

func (c *Controller) finish(op, actorID string, err error, draft string) {
	c.mu.Lock()
	if err == nil {
		delete(c.outcomes, actorID)
	} else {
		o := c.outcomes[actorID]
		o.err = err
		if draft != "" {
			o.draft = draft
		}
		c.outcomes[actorID] = o
	}
	c.mu.Unlock()

	c.metrics.RecordCommentOp(c.scope, op, result(err))
}

func (c *Controller) checkRunning() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return ErrStopped
	}
	return nil
}

func (c *Controller) notify() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	if len(c.watchers) == 0 {
		c.mu.Unlock()
		return
	}
	st := c.stateLocked(c.filter)
	fns := make([]func(State), 0, len(c.watchers))
	for _, fn := range c.watchers {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(st)
	}
}

func (c *Controller) stateLocked(f model.Filter) State {
	items := thread.Assemble(c.comments, f)
	return State{
		IsLoading: c.loading,
		Items:     items,
		Total:     thread.Count(items),
		Err:       c.loadErr,
	}
}

func result(err error) string {
	var (
		verr *model.ValidationError
		perr *PermissionError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &verr):
		return "invalid"
	case errors.As(err, &perr):
		return "denied"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

func find(comments []model.Comment, id string) (model.Comment, bool) {
	for _, c := range comments {
		if c.ID == id {
			return c, true
		}
	}
	return model.Comment{}, false
}

// cascade returns target's id followed by the ids of its replies.
func cascade(all []model.Comment, target model.Comment) []string {
	ids := []string{target.ID}
	if target.IsReply() {
		return ids
	}
	for _, c := range all {
		if c.ParentID == target.ID {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

func without(comments []model.Comment, ids []string) []model.Comment {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	out := make([]model.Comment, 0, len(comments))
	for _, c := range comments {
		if _, ok := drop[c.ID]; !ok {
			out = append(out, c)
		}
	}
	return out
}
