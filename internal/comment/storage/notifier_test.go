package storage

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MyNameIsWhaaat/teamboard/internal/comment/model"
)

func TestNotifierDeliversIndependentCopies(t *testing.T) {
	src := []model.Comment{{ID: "p1", Content: "Hello", Tags: []string{"a"}}}
	n := NewNotifier(func(context.Context) ([]model.Comment, error) { return src, nil }, nil)

	var mu sync.Mutex
	var got []Snapshot
	for i := 0; i < 2; i++ {
		n.Subscribe(func(s Snapshot) {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, s)
		})
	}

	n.Refresh(context.Background())

	require.Len(t, got, 2)
	got[0][0].Tags[0] = "changed"
	assert.Equal(t, "a", got[1][0].Tags[0])
	assert.Equal(t, "a", src[0].Tags[0])
}

func TestNotifierUnsubscribeIsIdempotent(t *testing.T) {
	calls := 0
	n := NewNotifier(func(context.Context) ([]model.Comment, error) { return nil, nil }, nil)

	unsub := n.Subscribe(func(Snapshot) { calls++ })
	other := n.Subscribe(func(Snapshot) {})
	require.Equal(t, 2, n.Len())

	unsub()
	unsub()
	assert.Equal(t, 1, n.Len())

	n.Refresh(context.Background())
	assert.Zero(t, calls)

	other()
	assert.Zero(t, n.Len())
}

func TestNotifierSkipsFailedLoads(t *testing.T) {
	n := NewNotifier(func(context.Context) ([]model.Comment, error) {
		return nil, &ReadError{Op: "list", Err: errors.New("down")}
	}, nil)

	delivered := false
	n.Subscribe(func(Snapshot) { delivered = true })
	n.Refresh(context.Background())

	assert.False(t, delivered)
}

func TestErrorsUnwrap(t *testing.T) {
	cause := errors.New("boom")

	assert.ErrorIs(t, &ReadError{Op: "list", Err: cause}, cause)
	assert.ErrorIs(t, &WriteError{Op: "add", Err: cause}, cause)
	assert.ErrorIs(t, &StorageError{Key: "k", Err: cause}, cause)
	assert.Equal(t, "write add: boom", (&WriteError{Op: "add", Err: cause}).Error())
}
