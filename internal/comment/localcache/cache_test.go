package localcache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MyNameIsWhaaat/teamboard/internal/comment/model"
	"github.com/MyNameIsWhaaat/teamboard/internal/comment/storage"
)

var _ storage.Backend = (*Thread)(nil)

type failingKV struct{ err error }

func (f failingKV) Get(context.Context, string) ([]byte, bool, error) { return nil, false, f.err }
func (f failingKV) Set(context.Context, string, []byte) error        { return f.err }

func setupSQLite(t *testing.T) *SQLiteKV {
	t.Helper()
	kv, err := OpenSQLite(":memory:")
	require.NoError(t, err, "Failed to open sqlite kv")
	t.Cleanup(func() { _ = kv.Close() })
	return kv
}

func genComment() gopter.Gen {
	return gopter.CombineGens(
		gen.Identifier(),
		gen.AlphaString(),
		gen.AlphaString(),
		gen.AlphaString(),
		gen.OneConstOf(model.CategoryGeneral, model.CategoryDocuments, model.CategoryPlanning, model.CategoryIdeas, model.CategoryQuestions),
		gen.SliceOf(gen.AlphaString()),
		gen.Bool(),
		gen.Int64Range(0, 4_000_000_000),
		gen.Int64Range(0, 999_999_999),
	).Map(func(vals []interface{}) model.Comment {
		c := model.Comment{
			ID:          vals[0].(string),
			Content:     vals[1].(string),
			Author:      vals[2].(string),
			AuthorID:    vals[3].(string),
			Category:    vals[4].(model.Category),
			Tags:        vals[5].([]string),
			ContextID:   "doc-1",
			ContextType: model.ContextDocument,
			Timestamp:   time.Unix(vals[7].(int64), vals[8].(int64)).UTC(),
		}
		if vals[6].(bool) {
			c.ParentID = "parent-" + c.ID
		}
		return c
	})
}

func sameComments(a, b []model.Comment) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		x, y := a[i], b[i]
		if len(x.Tags) == 0 && len(y.Tags) == 0 {
			x.Tags, y.Tags = nil, nil
		}
		if !assert.ObjectsAreEqual(x, y) {
			return false
		}
	}
	return true
}

func TestProperty_SaveLoadRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	ctx := context.Background()
	backends := map[string]KV{
		"memory": NewMemoryKV(),
		"sqlite": setupSQLite(t),
	}

	for name, kv := range backends {
		cache := New(kv, "", nil)
		properties.Property(fmt.Sprintf("%s: load after save returns the saved thread", name), prop.ForAll(
			func(comments []model.Comment) bool {
				if err := cache.Save(ctx, "doc-1", comments); err != nil {
					return false
				}
				return sameComments(comments, cache.Load(ctx, "doc-1"))
			},
			gen.SliceOf(genComment()),
		))
	}

	properties.TestingRun(t)
}

func TestLoadMissingAndCorruptValues(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	cache := New(kv, "", nil)

	got := cache.Load(ctx, "nothing-here")
	assert.NotNil(t, got)
	assert.Empty(t, got)

	require.NoError(t, kv.Set(ctx, cache.Key("doc-1"), []byte("{corrupt")))
	assert.Empty(t, cache.Load(ctx, "doc-1"))

	require.NoError(t, kv.Set(ctx, cache.Key("doc-2"), []byte("null")))
	assert.NotNil(t, cache.Load(ctx, "doc-2"))
}

func TestLoadToleratesUnavailableKV(t *testing.T) {
	cache := New(failingKV{err: errors.New("disk gone")}, "", nil)
	assert.Empty(t, cache.Load(context.Background(), "doc-1"))

	err := cache.Save(context.Background(), "doc-1", nil)
	var serr *storage.StorageError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "teamboard_embedded_comments_doc-1", serr.Key)
}

func TestKeyUsesPrefix(t *testing.T) {
	assert.Equal(t, "teamboard_embedded_comments_task-9", New(NewMemoryKV(), "", nil).Key("task-9"))
	assert.Equal(t, "custom_task-9", New(NewMemoryKV(), "custom", nil).Key("task-9"))
}

func TestSQLiteKVOverwrites(t *testing.T) {
	ctx := context.Background()
	kv := setupSQLite(t)

	_, ok, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Set(ctx, "k", []byte("one")))
	require.NoError(t, kv.Set(ctx, "k", []byte("two")))

	v, ok, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "two", string(v))
}

// plainKV hides any Partition method of the wrapped store.
type plainKV struct{ KV }

func TestClientsArePartitioned(t *testing.T) {
	ctx := context.Background()
	backends := map[string]KV{
		"memory":   NewMemoryKV(),
		"sqlite":   setupSQLite(t),
		"prefixed": plainKV{NewMemoryKV()},
	}

	for name, kv := range backends {
		t.Run(name, func(t *testing.T) {
			cache := New(kv, "", nil)
			alice := cache.Client("alice")
			require.Same(t, alice, cache.Client("alice"))

			mine := []model.Comment{{ID: "c1", Content: "private note", ContextID: "doc-1", ContextType: model.ContextDocument}}
			require.NoError(t, alice.Save(ctx, "doc-1", mine))

			assert.Len(t, alice.Load(ctx, "doc-1"), 1)
			assert.Empty(t, cache.Client("bob").Load(ctx, "doc-1"))
			assert.Empty(t, cache.Load(ctx, "doc-1"))
		})
	}
}
