package geo

import "math"

// Bounds is an axis-aligned box over double-precision coordinates.
//
// Min and Max are inclusive. A Bounds value with Min == Max is a degenerate
// (single-point) box; Structure never produces one except as an input error.
type Bounds struct {
	Min Point
	Max Point
}

// NewBounds builds a Bounds from two corners, normalizing component-wise so
// Min <= Max regardless of input order.
func NewBounds(a, b Point) Bounds {
	return Bounds{
		Min: Point{math.Min(a.X, b.X), math.Min(a.Y, b.Y), math.Min(a.Z, b.Z)},
		Max: Point{math.Max(a.X, b.X), math.Max(a.Y, b.Y), math.Max(a.Z, b.Z)},
	}
}

// Empty reports whether the box has zero or negative extent on any axis.
func (b Bounds) Empty() bool {
	return b.Max.X <= b.Min.X || b.Max.Y <= b.Min.Y || b.Max.Z <= b.Min.Z
}

// Mid returns the center point of the box.
func (b Bounds) Mid() Point {
	return Point{
		X: (b.Min.X + b.Max.X) / 2,
		Y: (b.Min.Y + b.Max.Y) / 2,
		Z: (b.Min.Z + b.Max.Z) / 2,
	}
}

// Width, Depth, Height return the box's extent along X, Y, and Z.
func (b Bounds) Width() float64  { return b.Max.X - b.Min.X }
func (b Bounds) Depth() float64  { return b.Max.Y - b.Min.Y }
func (b Bounds) Height() float64 { return b.Max.Z - b.Min.Z }

// Contains reports whether p lies within the box, inclusive of its faces.
func (b Bounds) Contains(p Point) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// GrowBy pads the box by eps on every face.
func (b Bounds) GrowBy(eps float64) Bounds {
	return Bounds{
		Min: Point{b.Min.X - eps, b.Min.Y - eps, b.Min.Z - eps},
		Max: Point{b.Max.X + eps, b.Max.Y + eps, b.Max.Z + eps},
	}
}

// Cubeify expands the box to the smallest cube whose side is a power of two
// (in the Delta-quantized integer domain, when delta is non-nil) that still
// contains the original box, centered on the original midpoint.
//
// Every chunk in the tree subdivides by halving a cube, so the root bounds
// fed to the Structure must already be a cube; Cubeify is how an arbitrary
// input bounds gets there.
func (b Bounds) Cubeify(delta *Delta) Bounds {
	mid := b.Mid()

	side := math.Max(b.Width(), math.Max(b.Depth(), b.Height()))
	if delta != nil {
		// Round the side up in units of the smallest configured scale so the
		// cube boundary lands on an exact integer in quantized space.
		unit := math.Min(delta.Scale.X, math.Min(delta.Scale.Y, delta.Scale.Z))
		if unit > 0 {
			side = math.Ceil(side/unit) * unit
		}
	}

	// Round the half-side up to the next power of two so depth d always maps
	// to a side of side/2^d with no accumulated floating error.
	half := nextPow2(side / 2)

	return Bounds{
		Min: Point{mid.X - half, mid.Y - half, mid.Z - half},
		Max: Point{mid.X + half, mid.Y + half, mid.Z + half},
	}
}

func nextPow2(v float64) float64 {
	if v <= 0 {
		return 0
	}
	p := 1.0
	for p < v {
		p *= 2
	}
	return p
}

// Deltify rescales the box into the integer-quantized domain described by
// delta, via Delta.Quantize on both corners. If delta is nil, Deltify
// returns b unchanged.
func (b Bounds) Deltify(delta *Delta) Bounds {
	if delta == nil {
		return b
	}
	minI := delta.Quantize(b.Min)
	maxI := delta.Quantize(b.Max)
	return Bounds{
		Min: Point{float64(minI.X), float64(minI.Y), float64(minI.Z)},
		Max: Point{float64(maxI.X), float64(maxI.Y), float64(maxI.Z)},
	}
}

// EightFold returns the i-th octant (0..7) of the box.
//
// The bit layout of i matches the climb's z-order bit-interleaving:
// bit 0 selects the X half (0 = low, 1 = high), bit 1 selects Y, bit 2
// selects Z. Climber.magnifyTo calls this once per descended level.
func (b Bounds) EightFold(i int) Bounds {
	mid := b.Mid()

	out := b
	if i&1 != 0 {
		out.Min.X, out.Max.X = mid.X, b.Max.X
	} else {
		out.Min.X, out.Max.X = b.Min.X, mid.X
	}
	if i&2 != 0 {
		out.Min.Y, out.Max.Y = mid.Y, b.Max.Y
	} else {
		out.Min.Y, out.Max.Y = b.Min.Y, mid.Y
	}
	if i&4 != 0 {
		out.Min.Z, out.Max.Z = mid.Z, b.Max.Z
	} else {
		out.Min.Z, out.Max.Z = b.Min.Z, mid.Z
	}
	return out
}

// Octant returns the index (0..7) of the child octant of b that contains p,
// following the same bit layout as EightFold. The caller must ensure
// b.Contains(p).
func (b Bounds) Octant(p Point) int {
	mid := b.Mid()
	i := 0
	if p.X >= mid.X {
		i |= 1
	}
	if p.Y >= mid.Y {
		i |= 2
	}
	if p.Z >= mid.Z {
		i |= 4
	}
	return i
}
