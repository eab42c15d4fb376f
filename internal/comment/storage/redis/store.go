// Package redis keeps the shared forum collection in a Redis hash and announces
// writes on a pub/sub channel so every process can refresh its subscribers.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MyNameIsWhaaat/teamboard/internal/comment/model"
	"github.com/MyNameIsWhaaat/teamboard/internal/comment/storage"
)

const DefaultPrefix = "teamboard"

type Store struct {
	client *goredis.Client
	prefix string
	log    *zap.Logger

	notifier *storage.Notifier

	mu     sync.Mutex
	pubsub *goredis.PubSub
	cancel context.CancelFunc
	done   chan struct{}

	// last timestamp handed out by this process
	clockMu sync.Mutex
	last    time.Time
}

// Open connects to redisURL and starts listening for change events.
func Open(ctx context.Context, redisURL, prefix string, log *zap.Logger) (*Store, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	s, err := NewWithClient(ctx, client, prefix, log)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

// NewWithClient builds a store on an existing client. Close closes the client.
func NewWithClient(ctx context.Context, client *goredis.Client, prefix string, log *zap.Logger) (*Store, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if log == nil {
		log = zap.NewNop()
	}

	s := &Store{
		client: client,
		prefix: prefix,
		log:    log.With(zap.String("store", "redis")),
		done:   make(chan struct{}),
	}
	s.notifier = storage.NewNotifier(s.ListAll, s.log)

	pubsub := client.Subscribe(ctx, s.channel())
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", s.channel(), err)
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	s.pubsub = pubsub
	s.cancel = cancel
	go s.listen(listenCtx, pubsub.Channel())

	return s, nil
}

func (s *Store) key() string {
	return s.prefix + ":comments"
}

func (s *Store) channel() string {
	return s.prefix + ":comments:events"
}

func (s *Store) listen(ctx context.Context, ch <-chan *goredis.Message) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			s.notifier.Refresh(ctx)
		}
	}
}

func (s *Store) ListAll(ctx context.Context) ([]model.Comment, error) {
	raw, err := s.client.HGetAll(ctx, s.key()).Result()
	if err != nil {
		return nil, &storage.ReadError{Op: "list comments", Err: err}
	}

	out := make([]model.Comment, 0, len(raw))
	for id, value := range raw {
		var c model.Comment
		if err := json.Unmarshal([]byte(value), &c); err != nil {
			s.log.Warn("Skipping unreadable comment", zap.String("id", id), zap.Error(err))
			continue
		}
		out = append(out, c)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) ListByCategory(ctx context.Context, category model.Category) ([]model.Comment, error) {
	all, err := s.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]model.Comment, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		if !all[i].IsReply() && all[i].Category == category {
			out = append(out, all[i])
		}
	}
	return out, nil
}

func (s *Store) Add(ctx context.Context, d model.Draft) (model.Comment, error) {
	d, err := model.Normalize(d)
	if err != nil {
		return model.Comment{}, err
	}

	now, err := s.client.Time(ctx).Result()
	if err != nil {
		return model.Comment{}, &storage.WriteError{Op: "add comment", Err: err}
	}

	c := d.Comment(s.newID(), s.timestamp(now))
	payload, err := json.Marshal(c)
	if err != nil {
		return model.Comment{}, &storage.WriteError{Op: "add comment", Err: err}
	}

	if err := s.client.HSet(ctx, s.key(), c.ID, payload).Err(); err != nil {
		return model.Comment{}, &storage.WriteError{Op: "add comment", Err: err}
	}
	s.publish(ctx, "add")
	return c, nil
}

// timestamp keeps server times strictly increasing within the process.
// TIME has microsecond resolution, so writes in the same microsecond are
// pushed one microsecond apart.
func (s *Store) timestamp(now time.Time) time.Time {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()

	ts := now.UTC().Truncate(time.Microsecond)
	if !ts.After(s.last) {
		ts = s.last.Add(time.Microsecond)
	}
	s.last = ts
	return ts
}

func (s *Store) newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func (s *Store) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	// HDEL with several fields is applied atomically.
	removed, err := s.client.HDel(ctx, s.key(), ids...).Result()
	if err != nil {
		return &storage.WriteError{Op: "delete comments", Err: err}
	}
	if removed > 0 {
		s.publish(ctx, "delete")
	}
	return nil
}

func (s *Store) publish(ctx context.Context, event string) {
	if err := s.client.Publish(ctx, s.channel(), event).Err(); err != nil {
		s.log.Warn("Publish change event failed", zap.String("event", event), zap.Error(err))
	}
}

// Subscribe delivers the current collection right away and then after every write by any process.
func (s *Store) Subscribe(fn func(storage.Snapshot)) (storage.Unsubscribe, error) {
	unsub := s.notifier.Subscribe(fn)
	go s.notifier.Refresh(context.Background())
	return unsub, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}
	s.cancel()
	s.cancel = nil

	_ = s.pubsub.Close()
	<-s.done
	return s.client.Close()
}
