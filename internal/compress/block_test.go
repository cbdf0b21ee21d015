package compress_test

import (
	"bytes"
	"testing"

	"github.com/hupe1980/ept/internal/compress"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoneIsIdentity(t *testing.T) {
	data := []byte("hello")
	out, err := compress.Block(data, compress.None)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestLZ4RoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("the quick brown fox "), 256)
	blocked, err := compress.Block(data, compress.LZ4)
	require.NoError(t, err)

	back, err := compress.Unblock(blocked, compress.LZ4)
	require.NoError(t, err)
	assert.Equal(t, data, back)
}

func TestZSTDRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("point cloud chunk payload "), 512)
	blocked, err := compress.Block(data, compress.ZSTD)
	require.NoError(t, err)

	back, err := compress.Unblock(blocked, compress.ZSTD)
	require.NoError(t, err)
	assert.Equal(t, data, back)
}

func TestIncompressibleDataStoredUncompressed(t *testing.T) {
	// Short random-ish payload unlikely to compress well.
	data := []byte{0x01, 0x02, 0x03, 0x04, 0x05}
	blocked, err := compress.Block(data, compress.ZSTD)
	require.NoError(t, err)

	// Stored form: the 8-byte header followed by the original bytes.
	require.Len(t, blocked, 8+len(data))
	assert.Equal(t, data, blocked[8:])

	back, err := compress.Unblock(blocked, compress.ZSTD)
	require.NoError(t, err)
	assert.Equal(t, data, back)
}
