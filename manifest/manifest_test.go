package manifest_test

import (
	"context"
	"testing"

	"github.com/hupe1980/ept/blobstore"
	"github.com/hupe1980/ept/manifest"
	"github.com/stretchr/testify/require"
)

func TestNewPendingAndMarkDone(t *testing.T) {
	m := manifest.New([]string{"a.las", "b.las", "c.las"})
	require.Len(t, m.Pending(), 3)

	require.NoError(t, m.MarkDone("b.las", manifest.PointStats{Inserts: 10, OutOfBounds: 1}))

	pending := m.Pending()
	require.Len(t, pending, 2)
	require.Equal(t, "a.las", pending[0].Path)
	require.Equal(t, "c.las", pending[1].Path)

	require.Error(t, m.MarkDone("missing.las", manifest.PointStats{}))
}

func TestTotals(t *testing.T) {
	m := manifest.New([]string{"a.las", "b.las"})
	require.NoError(t, m.MarkDone("a.las", manifest.PointStats{Inserts: 5, OutOfBounds: 1, Overflows: 2}))
	require.NoError(t, m.MarkDone("b.las", manifest.PointStats{Inserts: 7}))

	totals := m.Totals()
	require.EqualValues(t, 12, totals.Inserts)
	require.EqualValues(t, 1, totals.OutOfBounds)
	require.EqualValues(t, 2, totals.Overflows)
}

func TestDoneBitmap(t *testing.T) {
	m := manifest.New([]string{"a.las", "b.las", "c.las", "d.las"})
	require.NoError(t, m.MarkDone("a.las", manifest.PointStats{}))
	require.NoError(t, m.MarkDone("c.las", manifest.PointStats{}))

	bm := m.DoneBitmap()
	require.True(t, bm.Contains(0))
	require.False(t, bm.Contains(1))
	require.True(t, bm.Contains(2))
	require.False(t, bm.Contains(3))
	require.EqualValues(t, 2, bm.GetCardinality())
}

func TestMergeSumsStatsAcrossSubsets(t *testing.T) {
	m1 := manifest.New([]string{"a.las", "b.las"})
	require.NoError(t, m1.MarkDone("a.las", manifest.PointStats{Inserts: 3}))
	require.NoError(t, m1.MarkDone("b.las", manifest.PointStats{Inserts: 1}))

	m2 := manifest.New([]string{"a.las", "b.las"})
	require.NoError(t, m2.MarkDone("a.las", manifest.PointStats{Inserts: 2}))
	require.NoError(t, m2.MarkDone("b.las", manifest.PointStats{Inserts: 4}))

	merged := manifest.Merge(m1, m2)
	require.Len(t, merged.Entries, 2)

	totals := merged.Totals()
	require.EqualValues(t, 10, totals.Inserts)
}

func TestPointStatsString(t *testing.T) {
	s := manifest.PointStats{Inserts: 1234567, OutOfBounds: 12, Overflows: 0}
	require.Equal(t, "1,234,567 inserted, 12 out of bounds, 0 overflow", s.String())
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	s := manifest.NewStore(store, "entwine-manifest")

	loaded, err := s.Load(ctx)
	require.NoError(t, err)
	require.Empty(t, loaded.Entries)

	m := manifest.New([]string{"a.las", "b.las"})
	require.NoError(t, m.MarkDone("a.las", manifest.PointStats{Inserts: 9}))
	require.NoError(t, s.Save(ctx, m))

	reloaded, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, reloaded.Entries, 2)
	require.True(t, reloaded.Entries[0].Done)
	require.EqualValues(t, 9, reloaded.Entries[0].Stats.Inserts)
	require.False(t, reloaded.Entries[1].Done)
}
