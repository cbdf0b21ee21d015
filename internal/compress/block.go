// Package compress implements single-shot block compression for chunk
// payloads: a small fixed header (uncompressed size, compressed size) in
// front of the codec's output, with a transparent "stored uncompressed"
// fallback when compression doesn't pay for itself.
package compress

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Type selects the block codec.
type Type uint8

const (
	// None disables compression: Block/Unblock are the identity function.
	None Type = 0
	// LZ4 trades compression ratio for speed; used for the hot/base band.
	LZ4 Type = 1
	// ZSTD trades speed for ratio; used for cold chunks written once and
	// read rarely.
	ZSTD Type = 2
)

const headerSize = 8

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func putZstdEncoder(enc *zstd.Encoder) { zstdEncoderPool.Put(enc) }

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

func putZstdDecoder(dec *zstd.Decoder) { zstdDecoderPool.Put(dec) }

// Block compresses data with t, prefixing the result with an 8-byte header
// of (uncompressedSize, compressedSize) so Unblock is self-describing.
// compressedSize == 0 in the header means the payload that follows is the
// original data, stored as-is because compression did not help.
func Block(data []byte, t Type) ([]byte, error) {
	if t == None || len(data) == 0 {
		return data, nil
	}

	var compressed []byte
	var err error

	switch t {
	case LZ4:
		compressed, err = blockLZ4(data)
	case ZSTD:
		compressed = blockZSTD(data)
	default:
		return nil, errors.New("compress: unknown type")
	}
	if err != nil {
		return nil, err
	}

	if len(compressed) == 0 || float64(len(compressed)) > float64(len(data))*0.9 {
		out := make([]byte, headerSize+len(data))
		binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))
		binary.LittleEndian.PutUint32(out[4:], 0)
		copy(out[headerSize:], data)
		return out, nil
	}

	out := make([]byte, headerSize+len(compressed))
	binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))
	binary.LittleEndian.PutUint32(out[4:], uint32(len(compressed)))
	copy(out[headerSize:], compressed)
	return out, nil
}

func blockLZ4(data []byte) ([]byte, error) {
	compressed := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, compressed, nil)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	return compressed[:n], nil
}

func blockZSTD(data []byte) []byte {
	enc := getZstdEncoder()
	defer putZstdEncoder(enc)
	return enc.EncodeAll(data, nil)
}

// Unblock reverses Block. t must match the Type Block was called with.
func Unblock(data []byte, t Type) ([]byte, error) {
	if t == None || len(data) == 0 {
		return data, nil
	}
	if len(data) < headerSize {
		return nil, errors.New("compress: block too small for header")
	}

	uncompressedSize := binary.LittleEndian.Uint32(data[0:])
	compressedSize := binary.LittleEndian.Uint32(data[4:])

	if compressedSize == 0 {
		if uint32(len(data)) < headerSize+uncompressedSize {
			return nil, errors.New("compress: stored block truncated")
		}
		return data[headerSize : headerSize+uncompressedSize], nil
	}

	if uint32(len(data)) < headerSize+compressedSize {
		return nil, errors.New("compress: compressed block truncated")
	}
	payload := data[headerSize : headerSize+compressedSize]
	result := make([]byte, uncompressedSize)

	switch t {
	case LZ4:
		n, err := lz4.UncompressBlock(payload, result)
		if err != nil {
			return nil, err
		}
		if uint32(n) != uncompressedSize {
			return nil, errors.New("compress: lz4 decompressed size mismatch")
		}
		return result, nil
	case ZSTD:
		dec := getZstdDecoder()
		defer putZstdDecoder(dec)
		decoded, err := dec.DecodeAll(payload, result[:0])
		if err != nil {
			return nil, err
		}
		if uint32(len(decoded)) != uncompressedSize {
			return nil, errors.New("compress: zstd decompressed size mismatch")
		}
		return decoded, nil
	default:
		return nil, errors.New("compress: unknown type")
	}
}
