// Package chunk implements the three persistence-unit variants the tree is
// built from: BaseChunk, ContiguousChunk, and SparseChunk.
package chunk

import (
	"github.com/hupe1980/ept/cell"
	"github.com/hupe1980/ept/geo"
	"github.com/hupe1980/ept/id"
)

// Type discriminates the packed form a chunk was serialized with. It is the
// single byte format.Tail carries so an unpacker knows how to rehydrate a
// blob without consulting anything else.
type Type uint8

const (
	TypeContiguous Type = 0
	TypeSparse     Type = 1
	TypeInvalid    Type = 255
)

func (t Type) String() string {
	switch t {
	case TypeContiguous:
		return "contiguous"
	case TypeSparse:
		return "sparse"
	default:
		return "invalid"
	}
}

// Packer is the subset of format.Format a chunk needs to serialize itself.
// Injected at construction time so this package never imports format,
// keeping format free to import chunk.Type for its own tail encoding.
type Packer interface {
	Pack(cells []*cell.Cell, numPoints uint64, chunkType Type) ([]byte, error)
}

// CelledPacker is the Packer used by BaseChunk: the schema has already been
// widened with a TubeId prefix (schema.Schema.Celled), and records arrive
// pre-assembled (TubeId bytes followed by a native point record) rather than
// as cell.Cell values, since a single tube's cells may carry several merged
// data records that each need their own TubeId-prefixed copy.
type CelledPacker interface {
	PackCelled(records [][]byte, numPoints uint64, chunkType Type) ([]byte, error)
}

// Info is the read-only summary a chunk exposes for tiled-visualization
// emission (an external collaborator; the core only produces this struct)
// and for manifest/metadata bookkeeping.
type Info struct {
	ID        id.Id
	Depth     uint
	Bounds    geo.Bounds
	NumPoints uint64
	Type      Type
}

// Chunk is the capability set shared by BaseChunk, ContiguousChunk, and
// SparseChunk: insert a cell, acquire its cells back out, summarize itself,
// and (if visualization is configured) emit a tile. Modeled as a tagged
// variant behind one interface, not a class hierarchy — BaseChunk in
// particular is a composite of per-depth ContiguousChunks and shares no
// cold-specific behavior with the other two.
type Chunk interface {
	// ID returns the chunk's absolute tree id — its first covered offset
	// for ContiguousChunk/SparseChunk, or 0 for the BaseChunk.
	ID() id.Id

	// Depth returns the chunk's root depth.
	Depth() uint

	// Bounds returns the chunk's spatial extent.
	Bounds() geo.Bounds

	// MaxPoints returns the chunk's cell capacity.
	MaxPoints() uint64

	// Insert places incoming at the given absolute climber index and tick.
	// Every variant computes its own in-chunk cell offset as index - its
	// id (BaseChunk derives the owning per-depth sub-chunk's id first). If a
	// different cell already occupies that (offset, tick) and loses the
	// tie-break, it is returned as swappedOut for the caller to re-climb one
	// depth deeper — see internal/tube.Tube.InsertOrSwap for the exact rule.
	Insert(index id.Id, tick uint64, reference geo.Point, incoming *cell.Cell) (accepted bool, swappedOut *cell.Cell)

	// NumPoints returns the number of point records currently held (live or
	// packed).
	NumPoints() uint64

	// Info summarizes the chunk for tiling/manifest purposes.
	Info() Info

	// Collect is idempotent: the first call drains every tube into a pooled
	// data stack, returns cell headers to the pool, and packs the result
	// into the chunk's byte payload; subsequent calls are no-ops. Returns
	// the packed bytes.
	Collect() ([]byte, error)

	// Packed reports whether Collect has already run.
	Packed() bool
}
