package builder_test

import (
	"context"
	"encoding/binary"
	"io"
	"math"
	"testing"

	"github.com/hupe1980/ept/blobstore"
	"github.com/hupe1980/ept/builder"
	"github.com/hupe1980/ept/format"
	"github.com/hupe1980/ept/geo"
	"github.com/hupe1980/ept/id"
	"github.com/hupe1980/ept/internal/resource"
	"github.com/hupe1980/ept/metadata"
	"github.com/hupe1980/ept/schema"
	"github.com/hupe1980/ept/structure"
	"github.com/stretchr/testify/require"
)

// encodePoint writes p as a native X,Y,Z float64 record, matching the plain
// (non-deltified) schema used by these tests.
func encodePoint(p geo.Point) []byte {
	buf := make([]byte, 24)
	binary.LittleEndian.PutUint64(buf[0:8], math.Float64bits(p.X))
	binary.LittleEndian.PutUint64(buf[8:16], math.Float64bits(p.Y))
	binary.LittleEndian.PutUint64(buf[16:24], math.Float64bits(p.Z))
	return buf
}

type sliceReader struct {
	records []builder.Record
	i       int
}

func (r *sliceReader) Next(context.Context) (builder.Record, error) {
	if r.i >= len(r.records) {
		return builder.Record{}, io.EOF
	}
	rec := r.records[r.i]
	r.i++
	return rec, nil
}

func (r *sliceReader) Close() error { return nil }

type fakeOpener struct {
	files map[string][]builder.Record
}

func (o *fakeOpener) Open(_ context.Context, path string, _ schema.Schema) (builder.Reader, error) {
	return &sliceReader{records: o.files[path]}, nil
}

func newTestConfig(t *testing.T, opener *fakeOpener, endpoint blobstore.BlobStore) builder.Config {
	t.Helper()

	s, err := structure.New(structure.Config{
		Factor:             8,
		BaseDepthBegin:     0,
		BaseDepthEnd:       2,
		ColdDepthBegin:     2,
		ColdDepthEnd:       4,
		BasePointsPerChunk: 64,
		MappedIndexBegin:   id.Zero(), // every cold chunk addresses a SparseChunk
	})
	require.NoError(t, err)

	sch, err := schema.XYZ(schema.TypeFloat64)
	require.NoError(t, err)

	coldFormat, err := format.New(format.Config{Schema: sch})
	require.NoError(t, err)

	baseFormat, err := format.New(format.Config{Schema: sch.Celled()})
	require.NoError(t, err)

	bounds := geo.NewBounds(geo.Point{X: 0, Y: 0, Z: 0}, geo.Point{X: 8, Y: 8, Z: 8})

	return builder.Config{
		Structure:       s,
		Schema:          sch,
		Bounds:          bounds,
		ColdFormat:      coldFormat,
		BaseFormat:      baseFormat,
		Endpoint:        endpoint,
		Opener:          opener,
		WorkerCount:     1,
		ClipWorkerCount: 1,
		ChunkWatermark:  1,
		TableCapacity:   2,
		Resources:       resource.NewController(resource.Config{}),
		Metadata: &metadata.Metadata{
			BoundsNative:     bounds,
			BoundsConforming: bounds,
			Bounds:           bounds,
			Schema:           sch,
		},
	}
}

func TestBuilderInsertsAndFinalizes(t *testing.T) {
	ctx := context.Background()

	points := []geo.Point{
		{X: 1, Y: 1, Z: 1},
		{X: 2, Y: 2, Z: 2},
		{X: 3, Y: 3, Z: 3},
		{X: 100, Y: 100, Z: 100}, // out of bounds
	}

	var records []builder.Record
	for _, p := range points {
		records = append(records, builder.Record{Point: p, Data: encodePoint(p)})
	}

	opener := &fakeOpener{files: map[string][]builder.Record{"a.las": records}}
	endpoint := blobstore.NewMemoryStore()

	cfg := newTestConfig(t, opener, endpoint)
	b, err := builder.New(cfg)
	require.NoError(t, err)

	require.NoError(t, b.Continue(ctx, []string{"a.las"}))

	stats, err := b.Go(ctx, 0)
	require.NoError(t, err)

	require.EqualValues(t, 1, stats.OutOfBounds)
	require.EqualValues(t, 3, stats.Inserts)
	require.Zero(t, stats.Overflows)

	require.NoError(t, b.Finalize(ctx))

	// Every chunk must have been flushed and dropped by Finalize.
	require.EqualValues(t, 0, b.ChunkCount())

	names, err := endpoint.List(ctx, "")
	require.NoError(t, err)
	require.NotEmpty(t, names)
}

func TestBuilderContinueSkipsDoneEntries(t *testing.T) {
	ctx := context.Background()

	rec := builder.Record{Point: geo.Point{X: 1, Y: 1, Z: 1}, Data: encodePoint(geo.Point{X: 1, Y: 1, Z: 1})}
	opener := &fakeOpener{files: map[string][]builder.Record{
		"a.las": {rec},
		"b.las": {rec},
	}}
	endpoint := blobstore.NewMemoryStore()

	cfg := newTestConfig(t, opener, endpoint)
	b, err := builder.New(cfg)
	require.NoError(t, err)
	require.NoError(t, b.Continue(ctx, []string{"a.las", "b.las"}))

	stats, err := b.Go(ctx, 1)
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.Inserts)

	pending := b.Manifest().Pending()
	require.Len(t, pending, 1)
	require.Equal(t, "b.las", pending[0].Path)
}
