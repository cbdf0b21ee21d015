package id_test

import (
	"testing"

	"github.com/hupe1980/ept/id"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddSub(t *testing.T) {
	a := id.FromUint64(10)
	b := id.FromUint64(3)

	assert.Equal(t, "13", id.Add(a, b).String())
	assert.Equal(t, "7", id.Sub(a, b).String())
}

func TestBeyond64Bits(t *testing.T) {
	// 8^25 overflows uint64 (max ~1.8e19) comfortably.
	big8 := id.FromUint64(8)
	v := id.FromUint64(1)
	for i := 0; i < 25; i++ {
		v = id.Mul(v, big8)
	}

	_, ok := v.Uint64()
	assert.False(t, ok, "8^25 must not fit in a uint64")
	assert.Equal(t, "37778931862957161709568", v.String())
}

func TestCmpAndEqual(t *testing.T) {
	a := id.FromUint64(5)
	b := id.FromUint64(6)

	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
	assert.True(t, a.Equal(id.FromUint64(5)))
}

func TestFromStringRejectsNegative(t *testing.T) {
	_, err := id.FromString("-1")
	require.Error(t, err)
}

func TestJSONRoundTrip(t *testing.T) {
	v := id.FromUint64(123456789)
	data, err := v.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"123456789"`, string(data))

	var out id.Id
	require.NoError(t, out.UnmarshalJSON(data))
	assert.True(t, v.Equal(out))
}
