package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/MyNameIsWhaaat/teamboard/internal/comment/model"
	"github.com/MyNameIsWhaaat/teamboard/internal/comment/storage"
	inm "github.com/MyNameIsWhaaat/teamboard/internal/comment/storage/inmemory"
)

var (
	alice = model.Identity{ID: "u-alice", Username: "alice", Role: model.RoleEditor}
	bob   = model.Identity{ID: "u-bob", Username: "bob", Role: model.RoleViewer}
	admin = model.Identity{ID: "u-root", Username: "root", Role: model.RoleAdmin}
)

type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) ListAll(ctx context.Context) ([]model.Comment, error) {
	args := m.Called(ctx)
	return args.Get(0).([]model.Comment), args.Error(1)
}

func (m *mockBackend) Add(ctx context.Context, d model.Draft) (model.Comment, error) {
	args := m.Called(ctx, d)
	return args.Get(0).(model.Comment), args.Error(1)
}

func (m *mockBackend) Delete(ctx context.Context, ids ...string) error {
	args := m.Called(ctx, ids)
	return args.Error(0)
}

// pushBackend lets a test deliver snapshots by hand.
type pushBackend struct {
	mu       sync.Mutex
	comments []model.Comment
	fn       func(storage.Snapshot)
	seq      int
}

func (p *pushBackend) ListAll(context.Context) ([]model.Comment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return model.CloneComments(p.comments), nil
}

func (p *pushBackend) Add(_ context.Context, d model.Draft) (model.Comment, error) {
	d, err := model.Normalize(d)
	if err != nil {
		return model.Comment{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	c := d.Comment(fmt.Sprintf("c%d", p.seq), time.Unix(int64(1700000000+p.seq), 0).UTC())
	p.comments = append(p.comments, c)
	return c, nil
}

func (p *pushBackend) Delete(_ context.Context, ids ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.comments = without(p.comments, ids)
	return nil
}

func (p *pushBackend) Subscribe(fn func(storage.Snapshot)) (storage.Unsubscribe, error) {
	p.mu.Lock()
	p.fn = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		p.fn = nil
		p.mu.Unlock()
	}, nil
}

func (p *pushBackend) push(s storage.Snapshot) {
	p.mu.Lock()
	fn := p.fn
	p.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func startController(t *testing.T, b storage.Backend) *Controller {
	t.Helper()
	c := New(b, Options{Scope: "test"})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(c.Stop)
	return c
}

func TestAddPostValidation(t *testing.T) {
	repo := inm.New(nil)
	c := startController(t, repo)

	_, err := c.AddPost(context.Background(), alice, PostInput{Content: "   "})
	var verr *model.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Field != "content" {
		t.Fatalf("expected content field, got %s", verr.Field)
	}

	all, _ := repo.ListAll(context.Background())
	if len(all) != 0 {
		t.Fatalf("expected nothing stored, got %d", len(all))
	}
	if !errors.As(c.StateFor(alice).Err, &verr) {
		t.Fatalf("expected state error to be ValidationError, got %v", c.StateFor(alice).Err)
	}
	if err := c.StateFor(bob).Err; err != nil {
		t.Fatalf("expected bob's state to stay clean, got %v", err)
	}
}

func TestAddPostRequiresIdentity(t *testing.T) {
	c := startController(t, inm.New(nil))

	_, err := c.AddPost(context.Background(), model.Identity{}, PostInput{Content: "hi"})
	var verr *model.ValidationError
	if !errors.As(err, &verr) || verr.Field != "authorId" {
		t.Fatalf("expected authorId ValidationError, got %v", err)
	}
}

func TestReplyScenario(t *testing.T) {
	ctx := context.Background()
	repo := inm.New(nil)
	c := startController(t, repo)

	p1, err := c.AddPost(ctx, alice, PostInput{Content: "Hello", Category: model.CategoryGeneral})
	if err != nil {
		t.Fatalf("add post: %v", err)
	}
	if _, err := c.Reply(ctx, bob, p1.ID, ReplyInput{Content: "Reply"}); err != nil {
		t.Fatalf("reply: %v", err)
	}

	all, _ := repo.ListAll(ctx)
	if len(all) != 2 {
		t.Fatalf("expected 2 records, got %d", len(all))
	}

	require.Eventually(t, func() bool {
		st := c.State()
		return len(st.Items) == 1 && st.Items[0].ID == p1.ID && len(st.Items[0].Replies) == 1 && st.Total == 2
	}, time.Second, 5*time.Millisecond)
}

func TestReplyRules(t *testing.T) {
	ctx := context.Background()
	c := startController(t, inm.New(nil))

	post, _ := c.AddPost(ctx, alice, PostInput{Content: "post"})
	reply, _ := c.Reply(ctx, bob, post.ID, ReplyInput{Content: "reply"})

	_, err := c.Reply(ctx, bob, reply.ID, ReplyInput{Content: "nested"})
	var verr *model.ValidationError
	if !errors.As(err, &verr) || verr.Field != "parentId" {
		t.Fatalf("expected parentId ValidationError, got %v", err)
	}

	_, err = c.Reply(ctx, bob, "missing", ReplyInput{Content: "x"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	_, err = c.Reply(ctx, bob, post.ID, ReplyInput{Content: ""})
	if !errors.As(err, &verr) || verr.Field != "content" {
		t.Fatalf("expected content ValidationError, got %v", err)
	}
}

func TestDeleteRefusedForOtherUsers(t *testing.T) {
	ctx := context.Background()
	post := model.Comment{ID: "p1", Content: "mine", AuthorID: alice.ID, Timestamp: time.Now().UTC()}

	b := &mockBackend{}
	b.On("ListAll", mock.Anything).Return([]model.Comment{post}, nil)
	c := startController(t, b)

	_, err := c.Delete(ctx, bob, "p1")
	var perr *PermissionError
	require.True(t, errors.As(err, &perr), "expected PermissionError, got %v", err)
	assert.Equal(t, bob.ID, perr.ActorID)
	b.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
	assert.Equal(t, 1, c.State().Total)
}

func TestDeleteCascadesReplies(t *testing.T) {
	ctx := context.Background()
	repo := inm.New(nil)
	c := startController(t, repo)

	post, _ := c.AddPost(ctx, alice, PostInput{Content: "post"})
	_, _ = c.Reply(ctx, bob, post.ID, ReplyInput{Content: "r1"})
	_, _ = c.Reply(ctx, alice, post.ID, ReplyInput{Content: "r2"})
	other, _ := c.AddPost(ctx, bob, PostInput{Content: "other"})

	deleted, err := c.Delete(ctx, admin, post.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)

	all, _ := repo.ListAll(ctx)
	require.Len(t, all, 1)
	assert.Equal(t, other.ID, all[0].ID)

	require.Eventually(t, func() bool {
		st := c.State()
		return len(st.Items) == 1 && st.Items[0].ID == other.ID
	}, time.Second, 5*time.Millisecond)
}

func TestDeleteOwnReplyOnly(t *testing.T) {
	ctx := context.Background()
	repo := inm.New(nil)
	c := startController(t, repo)

	post, _ := c.AddPost(ctx, alice, PostInput{Content: "post"})
	reply, _ := c.Reply(ctx, bob, post.ID, ReplyInput{Content: "r1"})

	deleted, err := c.Delete(ctx, bob, reply.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	all, _ := repo.ListAll(ctx)
	require.Len(t, all, 1)
	assert.Equal(t, post.ID, all[0].ID)
}

func TestDeleteUnknown(t *testing.T) {
	c := startController(t, inm.New(nil))
	_, err := c.Delete(context.Background(), admin, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWriteFailureKeepsDraft(t *testing.T) {
	ctx := context.Background()
	writeErr := &storage.WriteError{Op: "add comment", Err: errors.New("unavailable")}
	saved := model.Comment{ID: "c1", Content: "hello", AuthorID: alice.ID, Category: model.CategoryGeneral, Timestamp: time.Now().UTC()}

	b := &mockBackend{}
	b.On("ListAll", mock.Anything).Return([]model.Comment{}, nil)
	b.On("Add", mock.Anything, mock.Anything).Return(model.Comment{}, writeErr).Once()
	b.On("Add", mock.Anything, mock.Anything).Return(saved, nil).Twice()
	c := startController(t, b)

	_, err := c.AddPost(ctx, alice, PostInput{Content: "hello"})
	require.ErrorIs(t, err, writeErr)
	st := c.StateFor(alice)
	assert.Equal(t, "hello", st.Draft)
	var werr *storage.WriteError
	assert.True(t, errors.As(st.Err, &werr))
	b.AssertNumberOfCalls(t, "Add", 1)

	// other users neither see nor clear alice's failure
	assert.NoError(t, c.State().Err)
	assert.NoError(t, c.StateFor(bob).Err)
	assert.Empty(t, c.StateFor(bob).Draft)
	_, err = c.AddPost(ctx, bob, PostInput{Content: "unrelated"})
	require.NoError(t, err)
	assert.Equal(t, "hello", c.StateFor(alice).Draft)

	_, err = c.AddPost(ctx, alice, PostInput{Content: st.Draft})
	require.NoError(t, err)
	st = c.StateFor(alice)
	assert.Empty(t, st.Draft)
	assert.NoError(t, st.Err)
}

func TestStartFailureKeepsLoading(t *testing.T) {
	b := &mockBackend{}
	b.On("ListAll", mock.Anything).Return([]model.Comment(nil), &storage.ReadError{Op: "list", Err: errors.New("down")})

	c := New(b, Options{})
	err := c.Start(context.Background())
	var rerr *storage.ReadError
	require.True(t, errors.As(err, &rerr))

	st := c.State()
	assert.True(t, st.IsLoading)
	assert.Empty(t, st.Items)
	assert.Error(t, st.Err)
}

func TestSnapshotReplacesOptimisticState(t *testing.T) {
	ctx := context.Background()
	b := &pushBackend{}
	c := startController(t, b)
	assert.False(t, c.State().IsLoading)

	created, err := c.AddPost(ctx, alice, PostInput{Content: "optimistic"})
	require.NoError(t, err)
	st := c.State()
	require.Len(t, st.Items, 1)
	assert.Equal(t, created.ID, st.Items[0].ID)

	// another client deleted it and added something else
	b.push(storage.Snapshot{{ID: "remote", Content: "from elsewhere", AuthorID: bob.ID, Timestamp: time.Now().UTC()}})

	st = c.State()
	require.Len(t, st.Items, 1)
	assert.Equal(t, "remote", st.Items[0].ID)
}

func TestPinnedOnlyForElevatedUsers(t *testing.T) {
	ctx := context.Background()
	c := startController(t, &pushBackend{})

	p, err := c.AddPost(ctx, alice, PostInput{Content: "x", Pinned: true})
	require.NoError(t, err)
	assert.False(t, p.Pinned)

	p, err = c.AddPost(ctx, admin, PostInput{Content: "y", Pinned: true})
	require.NoError(t, err)
	assert.True(t, p.Pinned)
	assert.Equal(t, p.ID, c.State().Items[0].ID)
}

func TestFilterAndView(t *testing.T) {
	ctx := context.Background()
	c := startController(t, &pushBackend{})

	_, _ = c.AddPost(ctx, alice, PostInput{Content: "Hello world", Category: model.CategoryIdeas})
	_, _ = c.AddPost(ctx, alice, PostInput{Content: "Goodbye", Category: model.CategoryPlanning})

	c.SetFilter(model.Filter{Search: "hello"})
	st := c.State()
	require.Len(t, st.Items, 1)
	assert.Equal(t, "Hello world", st.Items[0].Content)

	assert.Len(t, c.View(model.Filter{Category: model.CategoryPlanning}).Items, 1)
	assert.Len(t, c.View(model.Filter{}).Items, 2)
	assert.Len(t, c.State().Items, 1)
}

func TestWatchAndStop(t *testing.T) {
	ctx := context.Background()
	b := &pushBackend{}
	c := New(b, Options{})
	require.NoError(t, c.Start(ctx))

	var mu sync.Mutex
	var seen []int
	cancel := c.Watch(func(st State) {
		mu.Lock()
		seen = append(seen, st.Total)
		mu.Unlock()
	})

	_, _ = c.AddPost(ctx, alice, PostInput{Content: "one"})
	cancel()
	cancel()
	_, _ = c.AddPost(ctx, alice, PostInput{Content: "two"})

	mu.Lock()
	assert.Equal(t, []int{0, 1}, seen)
	mu.Unlock()

	c.Stop()
	c.Stop()
	b.mu.Lock()
	assert.Nil(t, b.fn)
	b.mu.Unlock()

	_, err := c.AddPost(ctx, alice, PostInput{Content: "three"})
	assert.ErrorIs(t, err, ErrStopped)
}

func TestPosts(t *testing.T) {
	ctx := context.Background()
	c := startController(t, &pushBackend{})

	older, _ := c.AddPost(ctx, alice, PostInput{Content: "a", Category: model.CategoryQuestions})
	newer, _ := c.AddPost(ctx, alice, PostInput{Content: "b", Category: model.CategoryQuestions})
	_, _ = c.AddPost(ctx, alice, PostInput{Content: "c", Category: model.CategoryIdeas})

	posts, err := c.Posts(ctx, model.CategoryQuestions)
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, newer.ID, posts[0].ID)
	assert.Equal(t, older.ID, posts[1].ID)

	_, err = c.Posts(ctx, "bogus")
	var verr *model.ValidationError
	assert.True(t, errors.As(err, &verr))
}
