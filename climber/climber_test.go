package climber_test

import (
	"testing"

	"github.com/hupe1980/ept/climber"
	"github.com/hupe1980/ept/geo"
	"github.com/hupe1980/ept/id"
	"github.com/hupe1980/ept/structure"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func octreeStructure(t *testing.T) structure.Structure {
	s, err := structure.New(structure.Config{
		Factor:             8,
		BaseDepthEnd:       3,
		ColdDepthBegin:     3,
		ColdDepthEnd:       10,
		BasePointsPerChunk: 1 << 16,
		MappedIndexBegin:   id.FromUint64(1 << 30),
	})
	require.NoError(t, err)
	return s
}

func TestDeterministicClimb(t *testing.T) {
	s := octreeStructure(t)
	root := geo.NewBounds(geo.Point{X: 0, Y: 0, Z: 0}, geo.Point{X: 1, Y: 1, Z: 1})
	p := geo.Point{X: 0.9, Y: 0.1, Z: 0.6}

	a := climber.New(s, root)
	b := climber.New(s, root)

	a.MagnifyTo(p, 4)
	b.MagnifyTo(p, 4)

	assert.True(t, a.Index().Equal(b.Index()))
	assert.Equal(t, a.Depth(), b.Depth())
	assert.Equal(t, a.Bounds(), b.Bounds())
}

func TestIndexMatchesLevelIndexPlusZOrder(t *testing.T) {
	s := octreeStructure(t)
	root := geo.NewBounds(geo.Point{X: 0, Y: 0, Z: 0}, geo.Point{X: 8, Y: 8, Z: 8})

	// A corner point whose octant is deterministic (0) at every depth.
	p := geo.Point{X: 0.1, Y: 0.1, Z: 0.1}

	c := climber.New(s, root)
	c.MagnifyTo(p, 3)

	// Always choosing octant 0 means childIndex is 0 at every step, so the
	// accumulated id is exactly calcLevelIndex(depth): 1 + factor + factor^2.
	want := s.CalcLevelIndex(3)
	assert.True(t, c.Index().Equal(want))
}

func TestMagnifyToIsIncremental(t *testing.T) {
	s := octreeStructure(t)
	root := geo.NewBounds(geo.Point{X: 0, Y: 0, Z: 0}, geo.Point{X: 1, Y: 1, Z: 1})
	p := geo.Point{X: 0.9, Y: 0.9, Z: 0.9}

	whole := climber.New(s, root)
	whole.MagnifyTo(p, 3)

	stepped := climber.New(s, root)
	stepped.MagnifyTo(p, 1)
	stepped.MagnifyTo(p, 3)

	assert.True(t, whole.Index().Equal(stepped.Index()))
}

func TestResetRestoresRootState(t *testing.T) {
	s := octreeStructure(t)
	root := geo.NewBounds(geo.Point{X: 0, Y: 0, Z: 0}, geo.Point{X: 1, Y: 1, Z: 1})

	c := climber.New(s, root)
	c.MagnifyTo(geo.Point{X: 0.5, Y: 0.5, Z: 0.5}, 5)
	c.Reset()

	assert.True(t, c.Index().IsZero())
	assert.Equal(t, uint(0), c.Depth())
	assert.Equal(t, root, c.Bounds())
}

func TestTickSplitsZRangeByDepth(t *testing.T) {
	s := octreeStructure(t)
	root := geo.NewBounds(geo.Point{X: 0, Y: 0, Z: 0}, geo.Point{X: 1, Y: 1, Z: 8})

	c := climber.New(s, root)
	c.MagnifyTo(geo.Point{X: 0.5, Y: 0.5, Z: 6}, 2)

	// depth 2 -> 4 bands over [0,8): 6 falls in band 3.
	assert.Equal(t, uint64(3), c.Tick(geo.Point{X: 0.5, Y: 0.5, Z: 6}))
}

func TestQuadtreeFactorMasksZOutOfId(t *testing.T) {
	quad, err := structure.New(structure.Config{
		Factor:             4,
		BaseDepthEnd:       3,
		ColdDepthBegin:     3,
		ColdDepthEnd:       10,
		BasePointsPerChunk: 1 << 16,
		MappedIndexBegin:   id.FromUint64(1 << 30),
	})
	require.NoError(t, err)

	root := geo.NewBounds(geo.Point{X: 0, Y: 0, Z: 0}, geo.Point{X: 1, Y: 1, Z: 1})

	// Two points that differ only in z should land on the same quadtree id,
	// even though their tick differs.
	low := climber.New(quad, root)
	high := climber.New(quad, root)

	low.MagnifyTo(geo.Point{X: 0.9, Y: 0.1, Z: 0.1}, 3)
	high.MagnifyTo(geo.Point{X: 0.9, Y: 0.1, Z: 0.9}, 3)

	assert.True(t, low.Index().Equal(high.Index()))
}
