// Package structure describes the immutable geometry of the tree: its
// fan-out factor, depth bands, and the arithmetic that maps a depth to the
// range of chunk ids that live there.
package structure

import (
	"fmt"

	"github.com/hupe1980/ept/id"
)

// Config is the user-supplied, unvalidated description of a Structure.
type Config struct {
	// Factor is the tree fan-out: 2 in practice (binary octree-style
	// subdivision via eightFold), but left configurable — 4 means quadtree,
	// 8 means a literal flat octree.
	Factor uint64

	// NullDepthEnd: depths below this are not stored at all.
	NullDepthEnd uint

	// BaseDepthBegin, BaseDepthEnd: the half-open depth range belonging to
	// the single BaseChunk.
	BaseDepthBegin uint
	BaseDepthEnd   uint

	// ColdDepthBegin, ColdDepthEnd: the half-open depth range of cold
	// (ContiguousChunk/SparseChunk) storage. ColdDepthEnd is the overflow
	// ceiling: points climbing past it are dropped and counted.
	ColdDepthBegin uint
	ColdDepthEnd   uint

	// BasePointsPerChunk is the fixed cell count of a cold ContiguousChunk.
	BasePointsPerChunk uint64

	// MappedIndexBegin is the first id at which chunks become sparse.
	MappedIndexBegin id.Id

	// BumpDepth: at and below this depth, the base is sharded across
	// subsets.
	BumpDepth uint
}

// Structure is the validated, immutable tree geometry derived from a Config.
type Structure struct {
	factor uint64

	nullDepthEnd   uint
	baseDepthBegin uint
	baseDepthEnd   uint
	coldDepthBegin uint
	coldDepthEnd   uint

	basePointsPerChunk uint64
	mappedIndexBegin   id.Id
	bumpDepth          uint
}

// New validates cfg and returns an immutable Structure.
func New(cfg Config) (Structure, error) {
	if cfg.Factor < 2 {
		return Structure{}, fmt.Errorf("structure: factor must be >= 2, got %d", cfg.Factor)
	}
	if cfg.BaseDepthBegin > cfg.BaseDepthEnd {
		return Structure{}, fmt.Errorf("structure: baseDepthBegin (%d) > baseDepthEnd (%d)", cfg.BaseDepthBegin, cfg.BaseDepthEnd)
	}
	if cfg.NullDepthEnd > cfg.BaseDepthBegin {
		return Structure{}, fmt.Errorf("structure: nullDepthEnd (%d) > baseDepthBegin (%d)", cfg.NullDepthEnd, cfg.BaseDepthBegin)
	}
	if cfg.ColdDepthBegin < cfg.BaseDepthEnd {
		return Structure{}, fmt.Errorf("structure: coldDepthBegin (%d) must be >= baseDepthEnd (%d)", cfg.ColdDepthBegin, cfg.BaseDepthEnd)
	}
	if cfg.ColdDepthEnd < cfg.ColdDepthBegin {
		return Structure{}, fmt.Errorf("structure: coldDepthEnd (%d) < coldDepthBegin (%d)", cfg.ColdDepthEnd, cfg.ColdDepthBegin)
	}
	if cfg.BasePointsPerChunk == 0 {
		return Structure{}, fmt.Errorf("structure: basePointsPerChunk must be > 0")
	}

	return Structure{
		factor:             cfg.Factor,
		nullDepthEnd:       cfg.NullDepthEnd,
		baseDepthBegin:     cfg.BaseDepthBegin,
		baseDepthEnd:       cfg.BaseDepthEnd,
		coldDepthBegin:     cfg.ColdDepthBegin,
		coldDepthEnd:       cfg.ColdDepthEnd,
		basePointsPerChunk: cfg.BasePointsPerChunk,
		mappedIndexBegin:   cfg.MappedIndexBegin,
		bumpDepth:          cfg.BumpDepth,
	}, nil
}

func (s Structure) Factor() uint64             { return s.factor }
func (s Structure) NullDepthEnd() uint         { return s.nullDepthEnd }
func (s Structure) BaseDepthBegin() uint       { return s.baseDepthBegin }
func (s Structure) BaseDepthEnd() uint         { return s.baseDepthEnd }
func (s Structure) ColdDepthBegin() uint       { return s.coldDepthBegin }
func (s Structure) ColdDepthEnd() uint         { return s.coldDepthEnd }
func (s Structure) BasePointsPerChunk() uint64 { return s.basePointsPerChunk }
func (s Structure) MappedIndexBegin() id.Id    { return s.mappedIndexBegin }
func (s Structure) BumpDepth() uint            { return s.bumpDepth }

// IsNull reports whether depth is entirely unstored.
func (s Structure) IsNull(depth uint) bool {
	return depth < s.nullDepthEnd
}

// IsBase reports whether depth belongs to the single BaseChunk.
func (s Structure) IsBase(depth uint) bool {
	return depth >= s.baseDepthBegin && depth < s.baseDepthEnd
}

// IsCold reports whether depth belongs to cold (Contiguous/Sparse) storage.
func (s Structure) IsCold(depth uint) bool {
	return depth >= s.coldDepthBegin && depth < s.coldDepthEnd
}

// IsOverflow reports whether depth has climbed past the point where any
// chunk can hold it; callers drop the point and count it as an overflow.
func (s Structure) IsOverflow(depth uint) bool {
	return depth >= s.coldDepthEnd
}

// IsSparse reports whether a chunk id addresses a SparseChunk rather than a
// ContiguousChunk.
func (s Structure) IsSparse(chunkID id.Id) bool {
	return !chunkID.Less(s.mappedIndexBegin)
}

// PointsAtDepth returns factor^depth, the number of distinct spatial cells
// that exist at depth.
func (s Structure) PointsAtDepth(depth uint) id.Id {
	return id.Pow(s.factor, depth)
}

// CalcLevelIndex returns the id of the first node at depth, i.e. the count
// of all nodes at shallower depths: sum_{i=0}^{depth-1} factor^i.
func (s Structure) CalcLevelIndex(depth uint) id.Id {
	total := id.Zero()
	for d := uint(0); d < depth; d++ {
		total = id.Add(total, s.PointsAtDepth(d))
	}
	return total
}

// DepthForBaseIndex returns the base-band depth that owns the absolute
// climber index, i.e. the unique d in [baseDepthBegin, baseDepthEnd) with
// CalcLevelIndex(d) <= index < CalcLevelIndex(d+1). Reports ok=false if
// index does not fall in the base band at all.
func (s Structure) DepthForBaseIndex(index id.Id) (depth uint, ok bool) {
	for d := s.baseDepthBegin; d < s.baseDepthEnd; d++ {
		begin := s.CalcLevelIndex(d)
		end := s.CalcLevelIndex(d + 1)
		if !index.Less(begin) && index.Less(end) {
			return d, true
		}
	}
	return 0, false
}

// MaxPointsForDepth returns the cell capacity of a chunk rooted at depth:
// BasePointsPerChunk for cold chunks (every cold ContiguousChunk/SparseChunk
// is sized uniformly), and the full breadth of the base band for the
// BaseChunk itself.
func (s Structure) MaxPointsForDepth(depth uint) uint64 {
	if s.IsBase(depth) {
		if v, ok := s.PointsAtDepth(depth - s.baseDepthBegin).Uint64(); ok {
			return v
		}
	}
	return s.basePointsPerChunk
}
