package inmemory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MyNameIsWhaaat/teamboard/internal/comment/model"
	"github.com/MyNameIsWhaaat/teamboard/internal/comment/storage"
)

// Repo is a process-local remote store. Every client of the process shares it.
type Repo struct {
	mu sync.RWMutex

	byID  map[string]model.Comment
	order []string
	last  time.Time

	notifier *storage.Notifier
	now      func() time.Time
}

func New(log *zap.Logger) *Repo {
	r := &Repo{
		byID: make(map[string]model.Comment),
		now:  time.Now,
	}
	r.notifier = storage.NewNotifier(r.ListAll, log)
	return r
}

func (r *Repo) ListAll(ctx context.Context) ([]model.Comment, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Comment, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id].Clone())
	}
	return out, nil
}

func (r *Repo) ListByCategory(ctx context.Context, category model.Category) ([]model.Comment, error) {
	all, err := r.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]model.Comment, 0, len(all))
	for _, c := range all {
		if !c.IsReply() && c.Category == category {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}

func (r *Repo) Add(ctx context.Context, d model.Draft) (model.Comment, error) {
	d, err := model.Normalize(d)
	if err != nil {
		return model.Comment{}, err
	}

	r.mu.Lock()
	ts := r.now().UTC()
	if !ts.After(r.last) {
		ts = r.last.Add(time.Microsecond)
	}
	r.last = ts

	c := d.Comment(uuid.NewString(), ts)
	r.byID[c.ID] = c
	r.order = append(r.order, c.ID)
	r.mu.Unlock()

	go r.notifier.Refresh(context.WithoutCancel(ctx))
	return c.Clone(), nil
}

func (r *Repo) Delete(ctx context.Context, ids ...string) error {
	r.mu.Lock()
	removed := 0
	for _, id := range ids {
		if _, ok := r.byID[id]; !ok {
			continue
		}
		delete(r.byID, id)
		removed++
	}
	if removed > 0 {
		r.order = removeIDs(r.order, r.byID)
	}
	r.mu.Unlock()

	if removed > 0 {
		go r.notifier.Refresh(context.WithoutCancel(ctx))
	}
	return nil
}

// Subscribe delivers the current collection right away and then after every write.
func (r *Repo) Subscribe(fn func(storage.Snapshot)) (storage.Unsubscribe, error) {
	unsub := r.notifier.Subscribe(fn)
	go r.notifier.Refresh(context.Background())
	return unsub, nil
}

func removeIDs(order []string, keep map[string]model.Comment) []string {
	out := make([]string, 0, len(keep))
	for _, id := range order {
		if _, ok := keep[id]; ok {
			out = append(out, id)
		}
	}
	return out
}
