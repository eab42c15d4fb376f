package job

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/MyNameIsWhaaat/teamboard/internal/comment/model"
	inm "github.com/MyNameIsWhaaat/teamboard/internal/comment/storage/inmemory"
	"github.com/MyNameIsWhaaat/teamboard/internal/metrics"
)

type failingStore struct{}

func (failingStore) ListAll(context.Context) ([]model.Comment, error) {
	return nil, errors.New("store down")
}

func (failingStore) Add(context.Context, model.Draft) (model.Comment, error) {
	return model.Comment{}, errors.New("store down")
}

func (failingStore) Delete(context.Context, ...string) error {
	return errors.New("store down")
}

func TestSweepRemovesOrphans(t *testing.T) {
	ctx := context.Background()
	repo := inm.New(nil)
	m := metrics.NewWithRegistry(prometheus.NewRegistry(), nil)

	post, _ := repo.Add(ctx, model.Draft{Content: "post", AuthorID: "u1"})
	kept, _ := repo.Add(ctx, model.Draft{Content: "kept", AuthorID: "u1", ParentID: post.ID})
	gone, _ := repo.Add(ctx, model.Draft{Content: "parent", AuthorID: "u1"})
	_, _ = repo.Add(ctx, model.Draft{Content: "orphan", AuthorID: "u1", ParentID: gone.ID})
	require.NoError(t, repo.Delete(ctx, gone.ID))

	sweeper := NewOrphanSweeper(repo, zap.NewNop(), m)
	n, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OrphansSweptTotal))

	all, _ := repo.ListAll(ctx)
	require.Len(t, all, 2)
	assert.Equal(t, post.ID, all[0].ID)
	assert.Equal(t, kept.ID, all[1].ID)

	n, err = sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSweepReportsReadFailure(t *testing.T) {
	sweeper := NewOrphanSweeper(failingStore{}, nil, nil)
	_, err := sweeper.Sweep(context.Background())
	assert.Error(t, err)
	assert.NotPanics(t, sweeper.Run)
}

func TestNewScheduler(t *testing.T) {
	sweeper := NewOrphanSweeper(inm.New(nil), nil, nil)

	c, err := NewScheduler("", sweeper, nil)
	require.NoError(t, err)
	assert.Len(t, c.Entries(), 1)

	_, err = NewScheduler("not a schedule", sweeper, nil)
	assert.Error(t, err)
}
