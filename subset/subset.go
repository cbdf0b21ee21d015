// Package subset implements horizontal sharding of a build over a spatial
// partition, and the serial merge that recombines a complete set of subset
// outputs into a single whole build.
package subset

import (
	"context"
	"fmt"

	"github.com/hupe1980/ept/builder"
	"github.com/hupe1980/ept/climber"
	"github.com/hupe1980/ept/geo"
	"github.com/hupe1980/ept/id"
	"github.com/hupe1980/ept/metadata"
	"github.com/hupe1980/ept/schema"
	"github.com/hupe1980/ept/structure"
)

// validOf lists the only subset counts the spec recognizes: binary powers
// chosen so a subset's climb-index range always divides evenly out of
// Structure.PointsAtDepth at the depth sharding begins.
var validOf = map[uint64]bool{4: true, 16: true, 64: true}

// Validate checks (id, of) against the spec's input-error taxonomy: of must
// be one of the recognized subset counts, and id must address one of its
// of partitions.
func Validate(of, subsetID uint64) error {
	if !validOf[of] {
		return fmt.Errorf("subset: of must be one of 4, 16, 64, got %d", of)
	}
	if subsetID >= of {
		return fmt.Errorf("subset: id %d out of range for of %d", subsetID, of)
	}
	return nil
}

// Range computes the contiguous, half-open climb-index range one subset of
// of owns at depth: the depth's full breadth (Structure.PointsAtDepth) sliced
// into of equal, consecutively-addressed spans in ascending id order.
//
// This is "the spatial partition corresponding to id" expressed in
// index-space: a climb index's digits are assigned octant-by-octant from the
// root down (see climber.Climber.MagnifyTo), so a contiguous index range at
// one shared depth names a contiguous set of octant subtrees — a genuine,
// well-defined spatial region — without needing any separate XY-grid
// geometry layered on top.
func Range(s structure.Structure, depth uint, of, subsetID uint64) (begin, end id.Id, err error) {
	if err := Validate(of, subsetID); err != nil {
		return id.Id{}, id.Id{}, err
	}

	width := s.PointsAtDepth(depth)
	widthVal, ok := width.Uint64()
	if !ok || widthVal%of != 0 {
		return id.Id{}, id.Id{}, fmt.Errorf("subset: depth %d breadth is not evenly divisible by of %d", depth, of)
	}

	span := widthVal / of
	levelBegin := s.CalcLevelIndex(depth)
	begin = id.Add(levelBegin, id.FromUint64(subsetID*span))
	end = id.Add(levelBegin, id.FromUint64((subsetID+1)*span))
	return begin, end, nil
}

// partitionReader drops records whose climb index at depth falls outside
// [begin, end) — the spatial partition this subset build owns. Dropped
// records are not counted anywhere; another subset's partitionReader is
// responsible for them, and the whole-build's point-for-point total is
// recovered once every subset's manifest is merged.
type partitionReader struct {
	inner builder.Reader
	s     structure.Structure
	root  geo.Bounds
	depth uint
	begin id.Id
	end   id.Id
}

func (r *partitionReader) Next(ctx context.Context) (builder.Record, error) {
	for {
		rec, err := r.inner.Next(ctx)
		if err != nil {
			return builder.Record{}, err
		}

		cm := climber.New(r.s, r.root)
		cm.MagnifyTo(rec.Point, r.depth)
		idx := cm.Index()
		if !idx.Less(r.begin) && idx.Less(r.end) {
			return rec, nil
		}
	}
}

func (r *partitionReader) Close() error { return r.inner.Close() }

// partitionOpener wraps an Opener so every Reader it returns is filtered
// through partitionReader.
type partitionOpener struct {
	inner builder.Opener
	s     structure.Structure
	root  geo.Bounds
	depth uint
	begin id.Id
	end   id.Id
}

func (o *partitionOpener) Open(ctx context.Context, path string, sch schema.Schema) (builder.Reader, error) {
	r, err := o.inner.Open(ctx, path, sch)
	if err != nil {
		return nil, err
	}
	return &partitionReader{inner: r, s: o.s, root: o.root, depth: o.depth, begin: o.begin, end: o.end}, nil
}

// Assign derives a subset build's Config from a whole-build Config: it wraps
// Opener with a spatial filter restricted to (id, of)'s partition at
// Structure.BumpDepth, postfixes the metadata/manifest/base-chunk blob names
// with "-<id>" (cold chunks are never postfixed, per spec §4.8 — Builder
// already addresses those unconditionally by bare chunk id), and records the
// subset assignment in a cloned Metadata so the original Config's Metadata
// is left untouched.
//
// BaseID stays zero: every subset numbers its base band with the same
// absolute climb indices as a whole build would, so a subset's BaseChunk
// blob is simply a sparsely-populated version of the whole build's — only
// the tubes its partition actually touched are non-empty. Merge recombines
// them by draining and re-inserting, not by any positional offset.
func Assign(cfg builder.Config, of, subsetID uint64) (builder.Config, error) {
	if err := Validate(of, subsetID); err != nil {
		return builder.Config{}, err
	}
	if cfg.Metadata == nil {
		return builder.Config{}, fmt.Errorf("subset: cfg.Metadata is required")
	}

	depth := cfg.Structure.BumpDepth()
	begin, end, err := Range(cfg.Structure, depth, of, subsetID)
	if err != nil {
		return builder.Config{}, err
	}

	out := cfg
	out.Opener = &partitionOpener{inner: cfg.Opener, s: cfg.Structure, root: cfg.Bounds, depth: depth, begin: begin, end: end}
	out.PathPostfix = fmt.Sprintf("-%d", subsetID)
	out.BaseID = id.Zero()

	md := *cfg.Metadata
	md.Subset = &metadata.Subset{ID: subsetID, Of: of}
	out.Metadata = &md

	return out, nil
}
