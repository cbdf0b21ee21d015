package chunk

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/ept/cell"
	"github.com/hupe1980/ept/geo"
	"github.com/hupe1980/ept/id"
	"github.com/hupe1980/ept/internal/container"
	"github.com/hupe1980/ept/internal/pointpool"
	"github.com/hupe1980/ept/internal/tube"
)

// numStripes is the number of independent locks guarding lazy Tube creation
// across a ContiguousChunk's dense array — a compromise between one lock per
// cell (too much memory) and one lock for the whole chunk (too much
// contention), matching the "striped lock over the tube array" the
// insertion protocol calls for.
const numStripes = 256

// ContiguousChunk stores its tubes in a dense, lock-free segmented array of
// length MaxPoints — appropriate below structure.MappedIndexBegin, where
// essentially every offset is expected to hold data.
type ContiguousChunk struct {
	id        id.Id
	depth     uint
	bounds    geo.Bounds
	maxPoints uint64

	pool   *pointpool.Pool
	packer Packer

	tubes    *container.SegmentedArray[*tube.Tube]
	stripes  [numStripes]sync.Mutex
	numCells atomic.Int64

	packedMu sync.Mutex
	packed   []byte
}

// NewContiguousChunk returns an empty ContiguousChunk rooted at id/depth,
// able to hold up to maxPoints cells.
func NewContiguousChunk(chunkID id.Id, depth uint, bounds geo.Bounds, maxPoints uint64, pool *pointpool.Pool, packer Packer) *ContiguousChunk {
	return &ContiguousChunk{
		id:        chunkID,
		depth:     depth,
		bounds:    bounds,
		maxPoints: maxPoints,
		pool:      pool,
		packer:    packer,
		tubes:     container.NewSegmentedArray[*tube.Tube](),
	}
}

func (c *ContiguousChunk) ID() id.Id           { return c.id }
func (c *ContiguousChunk) Depth() uint         { return c.depth }
func (c *ContiguousChunk) Bounds() geo.Bounds  { return c.bounds }
func (c *ContiguousChunk) MaxPoints() uint64   { return c.maxPoints }
func (c *ContiguousChunk) NumPoints() uint64   { return uint64(c.numCells.Load()) }

func (c *ContiguousChunk) Info() Info {
	return Info{ID: c.id, Depth: c.depth, Bounds: c.bounds, NumPoints: c.NumPoints(), Type: TypeContiguous}
}

// tubeAt returns (lazily creating) the Tube at offset.
func (c *ContiguousChunk) tubeAt(offset uint64) *tube.Tube {
	off32 := uint32(offset) //nolint:gosec // caller guarantees offset < maxPoints, which fits uint32 in any realistic configuration.

	if t, ok := c.tubes.Get(off32); ok && t != nil {
		return t
	}

	stripe := &c.stripes[offset%numStripes]
	stripe.Lock()
	defer stripe.Unlock()

	if t, ok := c.tubes.Get(off32); ok && t != nil {
		return t
	}
	t := tube.New()
	c.tubes.Set(off32, t)
	return t
}

func (c *ContiguousChunk) Insert(index id.Id, tick uint64, reference geo.Point, incoming *cell.Cell) (bool, *cell.Cell) {
	offset, ok := id.Sub(index, c.id).Uint64()
	if !ok || offset >= c.maxPoints {
		panic(fmt.Sprintf("chunk: ContiguousChunk %s insert index %s out of range", c.id, index))
	}
	t := c.tubeAt(offset)
	accepted, swapped := t.InsertOrSwap(tick, incoming, reference)
	if accepted && swapped == nil {
		c.numCells.Add(1)
	}
	return accepted, swapped
}

func (c *ContiguousChunk) Packed() bool {
	c.packedMu.Lock()
	defer c.packedMu.Unlock()
	return c.packed != nil
}

// Collect is idempotent: drains every live tube into a pooled cell stack,
// hands it to the packer, and caches the result. A second call returns the
// cached bytes without touching the tubes again.
func (c *ContiguousChunk) Collect() ([]byte, error) {
	c.packedMu.Lock()
	defer c.packedMu.Unlock()

	if c.packed != nil {
		return c.packed, nil
	}

	cells := make([]*cell.Cell, 0, c.NumPoints())
	var numPoints uint64
	for off := uint32(0); off < uint32(c.maxPoints); off++ {
		t, ok := c.tubes.Get(off)
		if !ok || t == nil {
			continue
		}
		for _, cl := range t.Drain() {
			cells = append(cells, cl)
			numPoints += uint64(cl.NumRecords())
		}
	}

	packed, err := c.packer.Pack(cells, numPoints, TypeContiguous)
	if err != nil {
		return nil, fmt.Errorf("chunk: collect %s: %w", c.id, err)
	}

	for _, cl := range cells {
		c.pool.ReleaseCell(cl)
	}

	c.packed = packed
	return c.packed, nil
}
