// Package tube implements the vertical column of cells that sits at every
// (x, y) position inside a chunk, keyed by a z-derived tick.
package tube

import (
	"sync"

	"github.com/hupe1980/ept/cell"
	"github.com/hupe1980/ept/geo"
)

// Tube is an ordered mapping tick -> Cell. At most one Cell lives at a given
// tick at any time.
//
// A Tube has its own lock so a chunk only needs to hold its coarser-grained
// lock long enough to obtain a stable *Tube reference (see
// chunk.ContiguousChunk.tubeAt);
// the actual mutation happens under Tube.mu, one tube at a time.
type Tube struct {
	mu    sync.Mutex
	cells map[uint64]*cell.Cell
}

// New returns an empty Tube.
func New() *Tube {
	return &Tube{cells: make(map[uint64]*cell.Cell)}
}

// InsertOrSwap attempts to place incoming at tick.
//
//   - If no cell exists at tick, incoming is inserted and (true, nil) is
//     returned.
//   - If incoming's point exactly matches the existing cell's point, the two
//     are merged into the existing cell (incoming's data records are
//     appended) and (true, nil) is returned — incoming itself is consumed,
//     not swapped out, so the caller must release it.
//   - Otherwise, whichever of the two points is closer to reference keeps
//     the tick and the farther one is returned as swappedOut for the caller
//     to re-climb one depth deeper; on equal distances the existing cell
//     keeps the tick. swapped may be incoming itself (nothing changed at
//     this tick) or the cell that used to occupy it.
func (t *Tube) InsertOrSwap(tick uint64, incoming *cell.Cell, reference geo.Point) (accepted bool, swappedOut *cell.Cell) {
	t.mu.Lock()
	defer t.mu.Unlock()

	existing, ok := t.cells[tick]
	if !ok {
		t.cells[tick] = incoming
		return true, nil
	}

	if existing.Point.Equal(incoming.Point) {
		existing.Merge(incoming)
		return true, nil
	}

	if incoming.Point.SquaredDistance(reference) < existing.Point.SquaredDistance(reference) {
		t.cells[tick] = incoming
		return true, existing
	}

	return false, incoming
}

// Len returns the number of occupied ticks.
func (t *Tube) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.cells)
}

// Each calls fn once per (tick, cell) pair. fn must not call back into the
// Tube.
func (t *Tube) Each(fn func(tick uint64, c *cell.Cell)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for tick, c := range t.cells {
		fn(tick, c)
	}
}

// Drain removes and returns every cell this Tube holds, leaving it empty.
func (t *Tube) Drain() []*cell.Cell {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*cell.Cell, 0, len(t.cells))
	for _, c := range t.cells {
		out = append(out, c)
	}
	t.cells = make(map[uint64]*cell.Cell)
	return out
}

// Empty reports whether the Tube currently holds no cells.
func (t *Tube) Empty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.cells) == 0
}
