package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/MyNameIsWhaaat/teamboard/internal/comment/localcache"
	"github.com/MyNameIsWhaaat/teamboard/internal/comment/model"
	"github.com/MyNameIsWhaaat/teamboard/internal/comment/storage"
)

type contextKey struct {
	client string
	ref    model.ContextRef
}

// Registry hands out started controllers: one for the forum, backed by the
// remote store, and one per client and document or task, backed by that
// client's partition of the local cache.
type Registry struct {
	remote storage.Backend
	cache  *localcache.Cache
	opts   Options

	mu       sync.Mutex
	closed   bool
	forum    *Controller
	contexts map[contextKey]*Controller
}

func NewRegistry(remote storage.Backend, cache *localcache.Cache, opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Registry{
		remote:   remote,
		cache:    cache,
		opts:     opts,
		contexts: make(map[contextKey]*Controller),
	}
}

func (r *Registry) Forum(ctx context.Context) (*Controller, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrStopped
	}
	if c := r.forum; c != nil {
		r.mu.Unlock()
		return c, nil
	}
	r.mu.Unlock()

	opts := r.opts
	opts.Scope = "forum"
	c := New(r.remote, opts)
	if err := c.Start(ctx); err != nil {
		c.Stop()
		return nil, fmt.Errorf("start forum: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.closed:
		c.Stop()
		return nil, ErrStopped
	case r.forum != nil:
		c.Stop()
		return r.forum, nil
	}
	r.forum = c
	return c, nil
}

// Context returns clientID's controller for one document or task thread.
func (r *Registry) Context(ctx context.Context, clientID string, ref model.ContextRef) (*Controller, error) {
	ref.ID = strings.TrimSpace(ref.ID)
	if strings.TrimSpace(clientID) == "" {
		return nil, &model.ValidationError{Field: "clientId", Message: "is required"}
	}
	if !ref.Type.Valid() {
		return nil, &model.ValidationError{Field: "contextType", Message: fmt.Sprintf("unknown context type %q", ref.Type)}
	}
	if ref.ID == "" {
		return nil, &model.ValidationError{Field: "contextId", Message: "is required"}
	}
	key := contextKey{client: clientID, ref: ref}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrStopped
	}
	if c, ok := r.contexts[key]; ok {
		r.mu.Unlock()
		return c, nil
	}
	r.mu.Unlock()

	opts := r.opts
	opts.Scope = string(ref.Type)
	opts.Logger = r.opts.Logger.With(zap.String("client", clientID), zap.String("context", ref.String()))
	c := New(r.cache.Client(clientID).Thread(ref), opts)
	if err := c.Start(ctx); err != nil {
		c.Stop()
		return nil, fmt.Errorf("start %s: %w", ref, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		c.Stop()
		return nil, ErrStopped
	}
	if existing, ok := r.contexts[key]; ok {
		c.Stop()
		return existing, nil
	}
	r.contexts[key] = c
	return c, nil
}

// Close stops every controller handed out so far.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	if r.forum != nil {
		r.forum.Stop()
	}
	for _, c := range r.contexts {
		c.Stop()
	}
}
