// Package format implements the chunk blob codec: optional delta
// quantization, optional compression, and a self-describing, forward
// compatible tail trailer.
package format

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/hupe1980/ept/cell"
	"github.com/hupe1980/ept/chunk"
	"github.com/hupe1980/ept/geo"
	"github.com/hupe1980/ept/internal/compress"
	"github.com/hupe1980/ept/schema"
)

// TailFieldKind identifies one recognized field in a chunk blob's tail.
type TailFieldKind uint8

const (
	TailNumPoints TailFieldKind = iota
	TailChunkType
)

// Width returns the field's fixed encoded size in bytes.
func (k TailFieldKind) Width() int {
	switch k {
	case TailNumPoints:
		return 8
	case TailChunkType:
		return 1
	default:
		return 0
	}
}

// Config describes one Format instance: the schema records are laid out
// with, optional quantization, compression, and the declared tail.
type Config struct {
	Schema      schema.Schema
	Delta       *geo.Delta
	Compression compress.Type
	// TailFields declares, outermost-first, which fields a reader of this
	// Format's output understands. New fields must be appended to the end
	// of this list — see encodeTail for why that keeps old readers able to
	// recover numPoints/chunkType from a blob written by a newer version.
	TailFields []TailFieldKind
}

// Format packs and unpacks one schema's chunk blobs.
type Format struct {
	cfg Config

	deltified       schema.Schema
	deltifiedActive bool
}

// New validates cfg and returns a Format. Compression requires numPoints in
// the tail (otherwise Unpack has no way to know the payload/tail boundary
// without fully decompressing first) — this is a construction-time error,
// not a runtime one.
func New(cfg Config) (*Format, error) {
	if len(cfg.TailFields) == 0 {
		cfg.TailFields = []TailFieldKind{TailNumPoints, TailChunkType}
	}

	seen := make(map[TailFieldKind]bool, len(cfg.TailFields))
	hasNumPoints := false
	for _, f := range cfg.TailFields {
		if seen[f] {
			return nil, fmt.Errorf("format: duplicate tail field %d", f)
		}
		seen[f] = true
		if f == TailNumPoints {
			hasNumPoints = true
		}
	}

	if cfg.Compression != compress.None && !hasNumPoints {
		return nil, fmt.Errorf("format: compression requires numPoints in tailFields")
	}

	f := &Format{cfg: cfg}

	if cfg.Delta != nil {
		f.deltified = deltify(cfg.Schema)
		f.deltifiedActive = true
	}

	return f, nil
}

// deltify returns a schema with every X/Y/Z dimension narrowed to a 32-bit
// integer, preserving every other dimension's name, type, and position.
func deltify(s schema.Schema) schema.Schema {
	dims := make([]schema.Dimension, 0, s.Len())
	for _, d := range s.Dimensions() {
		if d.Name == "X" || d.Name == "Y" || d.Name == "Z" {
			dims = append(dims, schema.Dimension{Name: d.Name, Type: schema.TypeInt32})
			continue
		}
		dims = append(dims, d)
	}
	return schema.MustNew(dims)
}

// Pack implements chunk.Packer: concatenate every cell's data records
// (after optional delta+compression) and append the tail.
func (f *Format) Pack(cells []*cell.Cell, numPoints uint64, chunkType chunk.Type) ([]byte, error) {
	var payload []byte

	if f.cfg.Compression != compress.None && f.deltifiedActive {
		for _, c := range cells {
			for _, rec := range c.Data {
				payload = append(payload, quantizeRecord(rec, f.cfg.Schema, f.deltified, *f.cfg.Delta)...)
			}
		}
	} else {
		for _, c := range cells {
			for _, rec := range c.Data {
				payload = append(payload, rec...)
			}
		}
	}

	return f.finish(payload, numPoints, chunkType)
}

// PackCelled implements chunk.CelledPacker: records arrive pre-assembled
// (TubeId prefix + native point record) by the caller (BaseChunk), so only
// compression and the tail are this method's concern. Delta quantization of
// a celled record would need to skip the leading 8-byte TubeId, which the
// caller's records already know how to do via the Celled schema passed at
// construction — Format's Config.Schema for a BaseChunk's Format is always
// the celled schema, so quantizeRecord's dimension lookup still works
// unmodified.
func (f *Format) PackCelled(records [][]byte, numPoints uint64, chunkType chunk.Type) ([]byte, error) {
	var payload []byte

	if f.cfg.Compression != compress.None && f.deltifiedActive {
		for _, rec := range records {
			payload = append(payload, quantizeRecord(rec, f.cfg.Schema, f.deltified, *f.cfg.Delta)...)
		}
	} else {
		for _, rec := range records {
			payload = append(payload, rec...)
		}
	}

	return f.finish(payload, numPoints, chunkType)
}

func (f *Format) finish(payload []byte, numPoints uint64, chunkType chunk.Type) ([]byte, error) {
	if f.cfg.Compression != compress.None {
		blocked, err := compress.Block(payload, f.cfg.Compression)
		if err != nil {
			return nil, fmt.Errorf("format: compress: %w", err)
		}
		payload = blocked
	}

	tail := encodeTail(f.cfg.TailFields, numPoints, chunkType)
	return append(payload, tail...), nil
}

// quantizeRecord rewrites one native-schema record into its deltified form:
// X/Y/Z are read as float64 from the native layout, run through delta as a
// whole geo.Point, and written back as signed 32-bit integers at the
// deltified layout's offsets. Every other dimension's bytes are copied
// unchanged.
func quantizeRecord(rec []byte, native, deltified schema.Schema, delta geo.Delta) []byte {
	out := make([]byte, deltified.PointSize())

	readF64 := func(name string) float64 {
		_, off, ok := native.Find(name)
		if !ok {
			return 0
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(rec[off : off+8]))
	}

	p := geo.Point{X: readF64("X"), Y: readF64("Y"), Z: readF64("Z")}
	ip := delta.Quantize(p)

	for _, nd := range native.Dimensions() {
		dd, dOff, _ := deltified.Find(nd.Name)

		switch nd.Name {
		case "X":
			binary.LittleEndian.PutUint32(out[dOff:dOff+4], uint32(ip.X))
		case "Y":
			binary.LittleEndian.PutUint32(out[dOff:dOff+4], uint32(ip.Y))
		case "Z":
			binary.LittleEndian.PutUint32(out[dOff:dOff+4], uint32(ip.Z))
		default:
			_, nOff, _ := native.Find(nd.Name)
			copy(out[dOff:dOff+dd.Size()], rec[nOff:nOff+nd.Size()])
		}
	}

	return out
}
