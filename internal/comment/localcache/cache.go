// Package localcache keeps document and task threads on the local client.
// Each client sees only its own partition and threads are never shared, so
// there is no change notification: callers reload after each mutation.
package localcache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MyNameIsWhaaat/teamboard/internal/comment/model"
	"github.com/MyNameIsWhaaat/teamboard/internal/comment/storage"
)

const DefaultPrefix = "teamboard_embedded_comments"

type Cache struct {
	kv     KV
	prefix string
	log    *zap.Logger

	// serialises load-modify-save cycles
	mu   sync.Mutex
	last time.Time
	now  func() time.Time

	clientsMu sync.Mutex
	clients   map[string]*Cache
}

func New(kv KV, prefix string, log *zap.Logger) *Cache {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{
		kv:     kv,
		prefix: prefix,
		log:    log.With(zap.String("component", "localcache")),
		now:    time.Now,
	}
}

// Client returns the cache of one client. Calls with the same id share a Cache.
func (c *Cache) Client(clientID string) *Cache {
	c.clientsMu.Lock()
	defer c.clientsMu.Unlock()

	if cc, ok := c.clients[clientID]; ok {
		return cc
	}
	if c.clients == nil {
		c.clients = make(map[string]*Cache)
	}
	cc := &Cache{
		kv:     partition(c.kv, clientID),
		prefix: c.prefix,
		log:    c.log.With(zap.String("client", clientID)),
		now:    c.now,
	}
	c.clients[clientID] = cc
	return cc
}

func (c *Cache) Key(contextID string) string {
	return c.prefix + "_" + contextID
}

// Load returns the persisted thread. Absent or unreadable values yield an empty thread.
func (c *Cache) Load(ctx context.Context, contextID string) []model.Comment {
	comments, err := c.load(ctx, contextID)
	if err != nil {
		c.log.Warn("Local thread unavailable", zap.Error(err))
		return []model.Comment{}
	}
	return comments
}

// load fails only when the store cannot be read. A corrupt value is
// logged and reads as empty so the next save replaces it.
func (c *Cache) load(ctx context.Context, contextID string) ([]model.Comment, error) {
	key := c.Key(contextID)

	raw, ok, err := c.kv.Get(ctx, key)
	if err != nil {
		return nil, &storage.StorageError{Key: key, Err: err}
	}
	if !ok {
		return []model.Comment{}, nil
	}

	var comments []model.Comment
	if err := json.Unmarshal(raw, &comments); err != nil {
		c.log.Warn("Local thread corrupt, treating as empty", zap.Error(&storage.StorageError{Key: key, Err: err}))
		return []model.Comment{}, nil
	}
	if comments == nil {
		comments = []model.Comment{}
	}
	return comments, nil
}

// Save overwrites the whole thread.
func (c *Cache) Save(ctx context.Context, contextID string, comments []model.Comment) error {
	key := c.Key(contextID)
	if comments == nil {
		comments = []model.Comment{}
	}

	raw, err := json.Marshal(comments)
	if err != nil {
		return &storage.StorageError{Key: key, Err: err}
	}
	if err := c.kv.Set(ctx, key, raw); err != nil {
		return &storage.StorageError{Key: key, Err: err}
	}
	return nil
}

// Thread binds the cache to one document or task.
func (c *Cache) Thread(ref model.ContextRef) *Thread {
	return &Thread{cache: c, ref: ref}
}

func (c *Cache) newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// timestamp must be called with mu held.
func (c *Cache) timestamp() time.Time {
	ts := c.now().UTC()
	if !ts.After(c.last) {
		ts = c.last.Add(time.Microsecond)
	}
	c.last = ts
	return ts
}
