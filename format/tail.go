package format

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/hupe1980/ept/chunk"
	"github.com/hupe1980/ept/geo"
	"github.com/hupe1980/ept/internal/compress"
	"github.com/hupe1980/ept/internal/pointpool"
	"github.com/hupe1980/ept/schema"
)

// encodeTail writes fields in reverse-declared order, so the first-declared
// field ends up the closest to EOF. A future format version that appends a
// new field to the end of TailFields therefore inserts it nearest the
// payload — between the payload and every previously-declared field —
// without moving any existing field's distance from EOF. That's what lets
// an old reader, which only knows the original fields and always reads
// starting from the true end of the blob, keep recovering them correctly
// even from a blob written by a newer Format with extra fields it doesn't
// recognize.
func encodeTail(fields []TailFieldKind, numPoints uint64, chunkType chunk.Type) []byte {
	var tail []byte
	for i := len(fields) - 1; i >= 0; i-- {
		switch fields[i] {
		case TailNumPoints:
			buf := make([]byte, 8)
			binary.LittleEndian.PutUint64(buf, numPoints)
			tail = append(tail, buf...)
		case TailChunkType:
			tail = append(tail, byte(chunkType))
		}
	}
	return tail
}

// Unpacker lazily exposes a packed chunk blob's tail fields and, on demand,
// its decompressed payload and rehydrated cells.
type Unpacker struct {
	blob   []byte
	cfg    Config
	format *Format

	numPoints uint64
	chunkType chunk.Type
	payloadEnd int
}

// Unpack parses blob's tail (in f's configured field order, from the true
// end of the blob inward) and returns an Unpacker over the remaining
// payload.
func (f *Format) Unpack(blob []byte) (*Unpacker, error) {
	u := &Unpacker{blob: blob, cfg: f.cfg, format: f}

	cursor := len(blob)
	for _, field := range f.cfg.TailFields {
		width := field.Width()
		start := cursor - width
		if start < 0 {
			return nil, fmt.Errorf("format: blob too small for tail field %d", field)
		}
		raw := blob[start:cursor]

		switch field {
		case TailNumPoints:
			u.numPoints = binary.LittleEndian.Uint64(raw)
		case TailChunkType:
			ct := chunk.Type(raw[0])
			if ct != chunk.TypeContiguous && ct != chunk.TypeSparse && ct != chunk.TypeInvalid {
				return nil, fmt.Errorf("format: unknown chunkType byte %d", raw[0])
			}
			u.chunkType = ct
		}
		cursor = start
	}

	u.payloadEnd = cursor
	return u, nil
}

// NumPoints returns the tail's declared point count.
func (u *Unpacker) NumPoints() uint64 { return u.numPoints }

// ChunkType returns the tail's declared chunk type.
func (u *Unpacker) ChunkType() chunk.Type { return u.chunkType }

// AcquireRawBytes returns the blob's payload region (everything before the
// fields this Unpacker's Format recognizes), still compressed and/or
// deltified if the Format was configured that way.
func (u *Unpacker) AcquireRawBytes() []byte {
	return u.blob[:u.payloadEnd]
}

// DecompressedBytes returns the payload region decompressed (if the Format
// was configured with compression) but otherwise exactly as packed: still
// deltified, if deltification was active, since that's a lossy transform
// AcquireCells reverses per-record, not a reversible encoding step here.
func (u *Unpacker) DecompressedBytes() ([]byte, error) {
	payload := u.blob[:u.payloadEnd]
	if u.cfg.Compression == compress.None {
		return payload, nil
	}
	decoded, err := compress.Unblock(payload, u.cfg.Compression)
	if err != nil {
		return nil, fmt.Errorf("format: decompress: %w", err)
	}
	return decoded, nil
}

// AcquireCells decompresses (if needed) and rehydrates the payload into a
// pooled Stack of Cells, one single-record Cell per record in the payload.
//
// Pack writes every record of a multi-record Cell (points sharing an exact
// coordinate, merged by internal/tube.Tube.InsertOrSwap) as a separate
// record and keeps no cell boundaries, so such records come back here as
// separate Cells; re-inserting them into a tube merges them again.
func (u *Unpacker) AcquireCells(pool *pointpool.Pool) (pointpool.Stack, error) {
	payload := u.blob[:u.payloadEnd]

	if u.cfg.Compression != compress.None {
		decoded, err := compress.Unblock(payload, u.cfg.Compression)
		if err != nil {
			return pointpool.Stack{}, fmt.Errorf("format: decompress: %w", err)
		}
		payload = decoded
	}

	recordSchema := u.cfg.Schema
	if u.cfg.Delta != nil && u.cfg.Compression != compress.None {
		recordSchema = u.format.deltified
	}
	recordSize := recordSchema.PointSize()

	if recordSize == 0 || len(payload)%recordSize != 0 {
		return pointpool.Stack{}, fmt.Errorf("format: payload length %d not a multiple of record size %d", len(payload), recordSize)
	}

	n := len(payload) / recordSize
	stack := pool.Acquire(0)

	deltified := u.cfg.Delta != nil && u.cfg.Compression != compress.None

	for i := 0; i < n; i++ {
		rec := payload[i*recordSize : (i+1)*recordSize]
		point := extractPoint(rec, recordSchema, u.cfg.Delta, deltified)

		c := pool.AcquireCell()
		c.Point = point
		block := pool.AcquireData()
		block = block[:len(rec)]
		copy(block, rec)
		c.Data = append(c.Data, block)
		stack.Push(c)
	}

	return stack, nil
}

// DecodePoint extracts the representative point from rec, a record laid out
// exactly as this Format's own configuration describes it (celled or not,
// deltified or not) — the same decode Format.Pack/PackCelled's inverse would
// produce for one AcquireCells entry. Used by chunk.LoadBaseChunk to recover
// ticks on reload, since ticks are never persisted on disk.
func (f *Format) DecodePoint(rec []byte) geo.Point {
	s := f.cfg.Schema
	deltified := f.cfg.Delta != nil && f.cfg.Compression != compress.None
	if deltified {
		s = f.deltified
	}
	return extractPoint(rec, s, f.cfg.Delta, deltified)
}

// NativeRecordSize returns the byte width of one decoded record under this
// Format's configuration — the stride AcquireCells' records, and a BaseChunk
// blob's celled entries, come back as.
func (f *Format) NativeRecordSize() int {
	s := f.cfg.Schema
	if f.cfg.Delta != nil && f.cfg.Compression != compress.None {
		s = f.deltified
	}
	return s.PointSize()
}

// extractPoint reads the representative point from one decoded record. When
// deltified, X/Y/Z were packed as int32 and must be run back through delta;
// otherwise they're native float64 values already.
func extractPoint(rec []byte, s schema.Schema, delta *geo.Delta, deltified bool) geo.Point {
	if deltified {
		_, xOff, _ := s.Find("X")
		_, yOff, _ := s.Find("Y")
		_, zOff, _ := s.Find("Z")
		ip := geo.IntPoint{
			X: int32(binary.LittleEndian.Uint32(rec[xOff : xOff+4])),
			Y: int32(binary.LittleEndian.Uint32(rec[yOff : yOff+4])),
			Z: int32(binary.LittleEndian.Uint32(rec[zOff : zOff+4])),
		}
		return delta.Dequantize(ip)
	}

	readF64 := func(name string) float64 {
		_, off, ok := s.Find(name)
		if !ok {
			return 0
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(rec[off : off+8]))
	}
	return geo.Point{X: readF64("X"), Y: readF64("Y"), Z: readF64("Z")}
}
