package postgres

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MyNameIsWhaaat/teamboard/internal/comment/model"
	"github.com/MyNameIsWhaaat/teamboard/internal/comment/storage"
)

var _ storage.RemoteStore = (*Repo)(nil)

func openTestRepo(t *testing.T) *Repo {
	t.Helper()
	dsn := os.Getenv("TEAMBOARD_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEAMBOARD_TEST_DATABASE_URL not set")
	}

	r, err := Open(context.Background(), dsn, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := r.db.Exec(`TRUNCATE comments`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestReplyScenario(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()

	p1, err := r.Add(ctx, model.Draft{Content: "Hello", AuthorID: "u1", Tags: []string{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, p1.Tags)
	assert.Equal(t, model.CategoryGeneral, p1.Category)

	reply, err := r.Add(ctx, model.Draft{Content: "Reply", AuthorID: "u2", ParentID: p1.ID})
	require.NoError(t, err)

	all, err := r.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, p1.ID, all[0].ID)
	assert.Equal(t, reply.ID, all[1].ID)
	assert.Equal(t, p1.ID, all[1].ParentID)
}

func TestAddRejectsEmptyContent(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()

	_, err := r.Add(ctx, model.Draft{Content: " ", AuthorID: "u1"})
	var verr *model.ValidationError
	require.True(t, errors.As(err, &verr))

	all, err := r.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestDeleteAtomicAndIdempotent(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()

	p, _ := r.Add(ctx, model.Draft{Content: "p", AuthorID: "u1"})
	re, _ := r.Add(ctx, model.Draft{Content: "r", AuthorID: "u1", ParentID: p.ID})

	require.NoError(t, r.Delete(ctx, p.ID, re.ID))
	require.NoError(t, r.Delete(ctx, p.ID, re.ID))

	all, err := r.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestListByCategory(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()

	older, _ := r.Add(ctx, model.Draft{Content: "a", AuthorID: "u1", Category: model.CategoryPlanning})
	newer, _ := r.Add(ctx, model.Draft{Content: "b", AuthorID: "u1", Category: model.CategoryPlanning})
	_, _ = r.Add(ctx, model.Draft{Content: "c", AuthorID: "u1", Category: model.CategoryIdeas})

	posts, err := r.ListByCategory(ctx, model.CategoryPlanning)
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, newer.ID, posts[0].ID)
	assert.Equal(t, older.ID, posts[1].ID)
}

func TestNotificationsReachSubscribers(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()

	var mu sync.Mutex
	var last storage.Snapshot
	unsub, err := r.Subscribe(func(s storage.Snapshot) {
		mu.Lock()
		last = s
		mu.Unlock()
	})
	require.NoError(t, err)
	defer unsub()

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Add(ctx, model.Draft{Content: "concurrent", AuthorID: "u1"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(last) == 2 && last[0].ID != last[1].ID
	}, 5*time.Second, 20*time.Millisecond)
}
