// Package metadata implements the build-wide JSON bundle persisted at the
// output endpoint: the geometry, schema, tree shape, and pack format a
// reader needs to interpret every other blob the build wrote.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/ept/blobstore"
	"github.com/hupe1980/ept/codec"
	"github.com/hupe1980/ept/format"
	"github.com/hupe1980/ept/geo"
	"github.com/hupe1980/ept/manifest"
	"github.com/hupe1980/ept/schema"
	"github.com/hupe1980/ept/structure"
)

// Reprojection declares an optional coordinate system transform applied
// while streaming source records, recorded for downstream readers.
type Reprojection struct {
	In  string `json:"in"`
	Out string `json:"out"`
}

// Subset locates this metadata within a sharded build: Id in [0, Of).
type Subset struct {
	ID uint64 `json:"id"`
	Of uint64 `json:"of"`
}

// ManifestSummary mirrors the build's accumulated PointStats, embedded in
// metadata per the spec's manifest.pointStats.* scenario fields.
type ManifestSummary struct {
	PointStats manifest.PointStats `json:"pointStats"`
}

// Metadata is the JSON-serialized bundle a build writes once, on
// finalization, alongside the base chunk and cold chunks it produced.
type Metadata struct {
	// BoundsNative is the bounds as declared by the caller, before any
	// cube-alignment.
	BoundsNative geo.Bounds `json:"boundsNative"`
	// BoundsConforming is BoundsNative grown to the nearest containing cube
	// (Bounds.Cubeify) but not yet quantized.
	BoundsConforming geo.Bounds `json:"boundsConforming"`
	// Bounds is the final, delta-deltified root bounds the Climber actually
	// descends from.
	Bounds geo.Bounds `json:"bounds"`

	Schema    schema.Schema     `json:"schema"`
	Structure structure.Config  `json:"structure"`
	Format    format.Config     `json:"format"`

	// HierarchyStructure describes the (coarser) tree a visualization
	// hierarchy is built over, independent of the cold/base storage split.
	HierarchyStructure *structure.Config `json:"hierarchyStructure,omitempty"`

	Reprojection   *Reprojection `json:"reprojection,omitempty"`
	Subset         *Subset       `json:"subset,omitempty"`
	Scale          *geo.Point    `json:"scale,omitempty"`
	Offset         *geo.Point    `json:"offset,omitempty"`
	Transformation []float64     `json:"transformation,omitempty"`

	Manifest *ManifestSummary `json:"manifest,omitempty"`
	Errors   []string         `json:"errors,omitempty"`
}

// Store persists a Metadata as a single JSON blob at path, mirroring
// manifest.Store's codec-backed, mutex-guarded pattern.
type Store struct {
	store blobstore.BlobStore
	codec codec.Codec
	path  string
	mu    sync.Mutex
}

// NewStore returns a Store that persists to path (e.g. "entwine" or
// "entwine-<subsetId>") on store.
func NewStore(store blobstore.BlobStore, path string) *Store {
	return &Store{store: store, codec: codec.Default, path: path}
}

// Load reads the metadata blob. found is false when none exists yet, which
// is not an error: it means this is a fresh build.
func (s *Store) Load(ctx context.Context) (m *Metadata, found bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.store.Open(ctx, s.path)
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("metadata: open: %w", err)
	}
	defer b.Close()

	data := make([]byte, b.Size())
	if _, err := b.ReadAt(ctx, data, 0); err != nil {
		return nil, false, fmt.Errorf("metadata: read: %w", err)
	}

	var out Metadata
	if err := s.codec.Unmarshal(data, &out); err != nil {
		return nil, false, fmt.Errorf("metadata: decode: %w", err)
	}
	return &out, true, nil
}

// Save writes m as the metadata blob.
func (s *Store) Save(ctx context.Context, m *Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.codec.Marshal(m)
	if err != nil {
		return fmt.Errorf("metadata: encode: %w", err)
	}
	if err := s.store.Put(ctx, s.path, data); err != nil {
		return fmt.Errorf("metadata: put: %w", err)
	}
	return nil
}
