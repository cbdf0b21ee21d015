// Package climber implements the traversal cursor that maps a point to the
// chunk id, in-chunk offset, tick, and depth it belongs at.
package climber

import (
	"math"
	"math/bits"

	"github.com/hupe1980/ept/geo"
	"github.com/hupe1980/ept/id"
	"github.com/hupe1980/ept/structure"
)

// MaxTickDepth caps the vertical (z) resolution a Tube ever subdivides to.
// Depths beyond this share the same tick granularity: further descent only
// refines the chunk id (x/y), not the tick.
const MaxTickDepth = 24

// Climber is a cursor with state (bounds, id, depth). It descends
// deterministically: for a given Structure and target point, two Climbers
// reach bit-identical state regardless of call history, because Reset
// always starts from the same root bounds and MagnifyTo is a pure function
// of (point, targetDepth).
type Climber struct {
	structure structure.Structure
	root      geo.Bounds

	bounds geo.Bounds
	id     id.Id
	depth  uint

	bitsPerStep uint
}

// New returns a Climber over root (the cubeified whole-tree bounds) using
// s's fan-out to decide how many of eightFold's three axis bits are folded
// into the id at each step; any remaining axis (z, when factor < 8) is
// tracked by the caller via Tick instead of by the id.
func New(s structure.Structure, root geo.Bounds) *Climber {
	c := &Climber{
		structure:   s,
		root:        root,
		bitsPerStep: uint(bits.Len64(s.Factor()) - 1),
	}
	c.Reset()
	return c
}

// Reset restores the Climber to its initial full-tree state: depth 0, id 0,
// bounds = root.
func (c *Climber) Reset() {
	c.bounds = c.root
	c.id = id.Zero()
	c.depth = 0
}

// Bounds returns the bounds of the node the Climber currently sits at.
func (c *Climber) Bounds() geo.Bounds { return c.bounds }

// Depth returns the depth the Climber currently sits at.
func (c *Climber) Depth() uint { return c.depth }

// Index returns the absolute id of the current node.
func (c *Climber) Index() id.Id { return c.id }

// MagnifyTo descends from the Climber's current state to targetDepth,
// choosing the child octant at each step via bounds.Octant(point).
//
// At each step the id is updated as id = id*factor + childIndex + 1, where
// childIndex is the low bitsPerStep bits of the full 3-bit octant (x, then
// y, then z). When factor < 8, the high bit(s) of the octant — z, for the
// common factor=4 case — are not folded into the id at all; the caller
// recovers that information per-point via Tick, matching the real-world
// design this id scheme is named after: quadtree chunk ids with full
// z-resolution carried by a vertical Tube instead of by deeper ids.
func (c *Climber) MagnifyTo(p geo.Point, targetDepth uint) {
	factor := c.structure.Factor()
	mask := uint64(1)<<c.bitsPerStep - 1

	for c.depth < targetDepth {
		octant := c.bounds.Octant(p)
		childIndex := uint64(octant) & mask

		c.id = id.Add(id.Mul(c.id, id.FromUint64(factor)), id.FromUint64(childIndex)).AddUint64(1)
		c.bounds = c.bounds.EightFold(octant)
		c.depth++
	}
}

// Tick computes the vertical tick for p at the Climber's current depth: the
// index of p.Z within [zMin, zMax) split into 2^min(depth, MaxTickDepth)
// even bands, where [zMin, zMax) is the root bounds' z-extent (the tube's
// column spans the whole tree height; only its internal resolution grows
// with depth).
func (c *Climber) Tick(p geo.Point) uint64 {
	zMin, zMax := c.root.Min.Z, c.root.Max.Z
	if zMax <= zMin {
		return 0
	}

	tickDepth := c.depth
	if tickDepth > MaxTickDepth {
		tickDepth = MaxTickDepth
	}

	bands := uint64(1) << tickDepth
	frac := (p.Z - zMin) / (zMax - zMin)
	tick := uint64(math.Floor(frac * float64(bands)))

	if tick >= bands {
		tick = bands - 1
	}
	return tick
}
