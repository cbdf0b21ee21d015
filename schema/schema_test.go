package schema_test

import (
	"testing"

	"github.com/hupe1980/ept/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPointSizeIsSumOfDimensions(t *testing.T) {
	s, err := schema.XYZ(schema.TypeFloat64,
		schema.Dimension{Name: "Intensity", Type: schema.TypeUint16},
		schema.Dimension{Name: "Classification", Type: schema.TypeUint8},
	)
	require.NoError(t, err)

	assert.Equal(t, 8+8+8+2+1, s.PointSize())
	assert.Equal(t, 5, s.Len())
}

func TestFindReturnsOffset(t *testing.T) {
	s, err := schema.XYZ(schema.TypeFloat64, schema.Dimension{Name: "Intensity", Type: schema.TypeUint16})
	require.NoError(t, err)

	dim, off, ok := s.Find("Intensity")
	require.True(t, ok)
	assert.Equal(t, schema.TypeUint16, dim.Type)
	assert.Equal(t, 24, off)

	_, _, ok = s.Find("Nope")
	assert.False(t, ok)
}

func TestDuplicateNameRejected(t *testing.T) {
	_, err := schema.New([]schema.Dimension{
		{Name: "X", Type: schema.TypeFloat64},
		{Name: "X", Type: schema.TypeFloat64},
	})
	assert.Error(t, err)
}

func TestEqualRequiresSameOrder(t *testing.T) {
	a := schema.MustNew([]schema.Dimension{
		{Name: "X", Type: schema.TypeFloat64},
		{Name: "Y", Type: schema.TypeFloat64},
	})
	b := schema.MustNew([]schema.Dimension{
		{Name: "Y", Type: schema.TypeFloat64},
		{Name: "X", Type: schema.TypeFloat64},
	})

	assert.False(t, a.Equal(b))
	assert.True(t, a.Equal(a))
}

func TestCelledPrependsTubeId(t *testing.T) {
	s := schema.MustNew([]schema.Dimension{{Name: "X", Type: schema.TypeInt32}})
	celled := s.Celled()

	dim, off, ok := celled.Find(schema.TubeIDDimension)
	require.True(t, ok)
	assert.Equal(t, 0, off)
	assert.Equal(t, schema.TypeUint64, dim.Type)
	assert.Equal(t, s.PointSize()+8, celled.PointSize())
}
