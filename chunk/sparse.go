package chunk

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/ept/cell"
	"github.com/hupe1980/ept/geo"
	"github.com/hupe1980/ept/id"
	"github.com/hupe1980/ept/internal/pointpool"
	"github.com/hupe1980/ept/internal/tube"
)

// SparseChunk stores its tubes in a map keyed by in-chunk cell offset,
// appropriate at and above structure.MappedIndexBegin where occupancy is
// sparse relative to the full id space and a dense array would waste
// memory.
type SparseChunk struct {
	id        id.Id
	depth     uint
	bounds    geo.Bounds
	maxPoints uint64

	pool   *pointpool.Pool
	packer Packer

	// mu guards only the map itself (lookup/insert of a *tube.Tube); once a
	// stable reference is obtained the caller releases mu and mutates the
	// Tube under its own lock.
	mu       sync.Mutex
	tubes    map[uint64]*tube.Tube
	numCells atomic.Int64

	packedMu sync.Mutex
	packed   []byte
}

// NewSparseChunk returns an empty SparseChunk rooted at id/depth.
func NewSparseChunk(chunkID id.Id, depth uint, bounds geo.Bounds, maxPoints uint64, pool *pointpool.Pool, packer Packer) *SparseChunk {
	return &SparseChunk{
		id:        chunkID,
		depth:     depth,
		bounds:    bounds,
		maxPoints: maxPoints,
		pool:      pool,
		packer:    packer,
		tubes:     make(map[uint64]*tube.Tube),
	}
}

func (c *SparseChunk) ID() id.Id          { return c.id }
func (c *SparseChunk) Depth() uint        { return c.depth }
func (c *SparseChunk) Bounds() geo.Bounds { return c.bounds }
func (c *SparseChunk) MaxPoints() uint64  { return c.maxPoints }
func (c *SparseChunk) NumPoints() uint64  { return uint64(c.numCells.Load()) }

func (c *SparseChunk) Info() Info {
	return Info{ID: c.id, Depth: c.depth, Bounds: c.bounds, NumPoints: c.NumPoints(), Type: TypeSparse}
}

func (c *SparseChunk) tubeAt(offset uint64) *tube.Tube {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.tubes[offset]
	if !ok {
		t = tube.New()
		c.tubes[offset] = t
	}
	return t
}

func (c *SparseChunk) Insert(index id.Id, tick uint64, reference geo.Point, incoming *cell.Cell) (bool, *cell.Cell) {
	offset, ok := id.Sub(index, c.id).Uint64()
	if !ok {
		panic(fmt.Sprintf("chunk: SparseChunk %s insert index %s out of range", c.id, index))
	}
	t := c.tubeAt(offset)
	accepted, swapped := t.InsertOrSwap(tick, incoming, reference)
	if accepted && swapped == nil {
		c.numCells.Add(1)
	}
	return accepted, swapped
}

func (c *SparseChunk) Packed() bool {
	c.packedMu.Lock()
	defer c.packedMu.Unlock()
	return c.packed != nil
}

func (c *SparseChunk) Collect() ([]byte, error) {
	c.packedMu.Lock()
	defer c.packedMu.Unlock()

	if c.packed != nil {
		return c.packed, nil
	}

	c.mu.Lock()
	tubes := c.tubes
	c.tubes = make(map[uint64]*tube.Tube)
	c.mu.Unlock()

	cells := make([]*cell.Cell, 0, c.NumPoints())
	var numPoints uint64
	for _, t := range tubes {
		for _, cl := range t.Drain() {
			cells = append(cells, cl)
			numPoints += uint64(cl.NumRecords())
		}
	}

	packed, err := c.packer.Pack(cells, numPoints, TypeSparse)
	if err != nil {
		return nil, fmt.Errorf("chunk: collect %s: %w", c.id, err)
	}

	for _, cl := range cells {
		c.pool.ReleaseCell(cl)
	}

	c.packed = packed
	return c.packed, nil
}
