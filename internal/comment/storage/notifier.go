package storage

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/MyNameIsWhaaat/teamboard/internal/comment/model"
)

// Notifier fans full snapshots out to subscribers. Refresh calls are serialised,
// so every subscriber sees snapshots in the order they were read.
type Notifier struct {
	load func(ctx context.Context) ([]model.Comment, error)
	log  *zap.Logger

	refreshMu sync.Mutex

	mu     sync.Mutex
	nextID int
	subs   map[int]func(Snapshot)
}

func NewNotifier(load func(ctx context.Context) ([]model.Comment, error), log *zap.Logger) *Notifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Notifier{
		load: load,
		log:  log,
		subs: make(map[int]func(Snapshot)),
	}
}

// Subscribe registers fn. Callbacks run on the notifier's goroutine and must not block.
func (n *Notifier) Subscribe(fn func(Snapshot)) Unsubscribe {
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.subs[id] = fn
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, id)
			n.mu.Unlock()
		})
	}
}

func (n *Notifier) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}

// Refresh reads the current collection and delivers it to every subscriber.
func (n *Notifier) Refresh(ctx context.Context) {
	n.refreshMu.Lock()
	defer n.refreshMu.Unlock()

	if n.Len() == 0 {
		return
	}

	comments, err := n.load(ctx)
	if err != nil {
		n.log.Warn("Snapshot refresh failed", zap.Error(err))
		return
	}

	n.mu.Lock()
	subs := make([]func(Snapshot), 0, len(n.subs))
	for _, fn := range n.subs {
		subs = append(subs, fn)
	}
	n.mu.Unlock()

	for _, fn := range subs {
		fn(Snapshot(model.CloneComments(comments)))
	}
}
