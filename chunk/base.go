package chunk

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/ept/cell"
	"github.com/hupe1980/ept/climber"
	"github.com/hupe1980/ept/geo"
	"github.com/hupe1980/ept/id"
	"github.com/hupe1980/ept/internal/pointpool"
	"github.com/hupe1980/ept/structure"
)

// BaseChunk is the root chunk: a composite of one ContiguousChunk per depth
// in [baseDepthBegin, baseDepthEnd), serialized together as a single blob
// under a "celled" schema that prefixes every record with a TubeId so the
// flat stream can be split back into (depth, offset) on load. It is its own
// variant rather than a cold-chunk subclass — per-depth operations are
// delegated, not inherited.
type BaseChunk struct {
	structure structure.Structure
	bounds    geo.Bounds
	baseID    id.Id // 0 for a whole build; a subset's assigned base id otherwise.

	pool   *pointpool.Pool
	packer CelledPacker

	subs map[uint]*ContiguousChunk

	packedMu sync.Mutex
	packed   []byte

	numCells atomic.Int64
}

// NewBaseChunk builds the per-depth sub-chunk array for s's base band.
func NewBaseChunk(s structure.Structure, bounds geo.Bounds, baseID id.Id, pool *pointpool.Pool, packer CelledPacker) *BaseChunk {
	b := &BaseChunk{
		structure: s,
		bounds:    bounds,
		baseID:    baseID,
		pool:      pool,
		packer:    packer,
		subs:      make(map[uint]*ContiguousChunk),
	}

	for d := s.BaseDepthBegin(); d < s.BaseDepthEnd(); d++ {
		subID := s.CalcLevelIndex(d)
		maxPoints := s.MaxPointsForDepth(d)
		// The coldChunk packer is never exercised for base sub-chunks —
		// Collect is driven directly by BaseChunk, not per sub-chunk — so a
		// nil Packer is safe here.
		b.subs[d] = NewContiguousChunk(subID, d, bounds, maxPoints, pool, nil)
	}

	return b
}

func (b *BaseChunk) ID() id.Id          { return b.baseID }
func (b *BaseChunk) Depth() uint        { return 0 }
func (b *BaseChunk) Bounds() geo.Bounds { return b.bounds }
func (b *BaseChunk) MaxPoints() uint64  { return b.structure.CalcLevelIndex(b.structure.BaseDepthEnd()).Uint64Must() }
func (b *BaseChunk) NumPoints() uint64  { return uint64(b.numCells.Load()) }

func (b *BaseChunk) Info() Info {
	return Info{ID: b.baseID, Depth: 0, Bounds: b.bounds, NumPoints: b.NumPoints(), Type: TypeContiguous}
}

// Insert routes to the per-depth sub-chunk owning index.
func (b *BaseChunk) Insert(index id.Id, tick uint64, reference geo.Point, incoming *cell.Cell) (bool, *cell.Cell) {
	depth, ok := b.structure.DepthForBaseIndex(index)
	if !ok {
		panic(fmt.Sprintf("chunk: BaseChunk insert index %s outside base band", index))
	}
	sub := b.subs[depth]
	accepted, swapped := sub.Insert(index, tick, reference, incoming)
	if accepted && swapped == nil {
		b.numCells.Add(1)
	}
	return accepted, swapped
}

func (b *BaseChunk) Packed() bool {
	b.packedMu.Lock()
	defer b.packedMu.Unlock()
	return b.packed != nil
}

// Collect drains every depth's sub-chunk, assembling TubeId-prefixed records
// in depth order, then hands the whole batch to the celled packer in one
// shot so compression sees the full base-band stream rather than per-depth
// fragments.
func (b *BaseChunk) Collect() ([]byte, error) {
	b.packedMu.Lock()
	defer b.packedMu.Unlock()

	if b.packed != nil {
		return b.packed, nil
	}

	var records [][]byte
	var numPoints uint64

	for d := b.structure.BaseDepthBegin(); d < b.structure.BaseDepthEnd(); d++ {
		sub := b.subs[d]
		for off := uint32(0); off < uint32(sub.maxPoints); off++ {
			t, ok := sub.tubes.Get(off)
			if !ok || t == nil {
				continue
			}
			tubeID := id.Sub(id.Add(sub.id, id.FromUint64(uint64(off))), b.baseID)
			tubeIDVal, ok := tubeID.Uint64()
			if !ok {
				return nil, fmt.Errorf("chunk: base tubeId %s exceeds 64 bits", tubeID)
			}

			for _, cl := range t.Drain() {
				for _, rec := range cl.Data {
					buf := make([]byte, 8+len(rec))
					binary.LittleEndian.PutUint64(buf, tubeIDVal)
					copy(buf[8:], rec)
					records = append(records, buf)
					numPoints++
				}
				b.pool.ReleaseCell(cl)
			}
		}
	}

	packed, err := b.packer.PackCelled(records, numPoints, TypeContiguous)
	if err != nil {
		return nil, fmt.Errorf("chunk: collect base chunk: %w", err)
	}

	b.packed = packed
	return b.packed, nil
}

// DrainedEntry is one cell reclaimed from a BaseChunk's per-depth sub-chunk,
// tagged with the absolute chunk index it occupied and the depth it was
// found at — everything a caller needs to re-Insert it elsewhere, since tick
// itself is never persisted and must be recomputed from the Cell's Point.
type DrainedEntry struct {
	Index id.Id
	Depth uint
	Cell  *cell.Cell
}

// Drain empties every depth's sub-chunk, returning every live cell it held.
// Unlike Collect, Drain does not pack or cache anything — it is for the
// subset merge path, which needs to move cells from one BaseChunk into
// another (re-climbing each one to recompute its tick) rather than persist
// this BaseChunk on its own. Drain fails if Collect already ran.
func (b *BaseChunk) Drain() ([]DrainedEntry, error) {
	b.packedMu.Lock()
	defer b.packedMu.Unlock()

	if b.packed != nil {
		return nil, fmt.Errorf("chunk: base chunk %s already collected, cannot drain", b.baseID)
	}

	var out []DrainedEntry
	for d := b.structure.BaseDepthBegin(); d < b.structure.BaseDepthEnd(); d++ {
		sub := b.subs[d]
		for off := uint32(0); off < uint32(sub.maxPoints); off++ {
			t, ok := sub.tubes.Get(off)
			if !ok || t == nil {
				continue
			}
			index := id.Add(sub.id, id.FromUint64(uint64(off)))
			for _, cl := range t.Drain() {
				out = append(out, DrainedEntry{Index: index, Depth: d, Cell: cl})
			}
		}
		sub.numCells.Store(0)
	}
	b.numCells.Store(0)

	return out, nil
}

// LoadBaseChunk reconstructs a BaseChunk's live tube contents from a decoded
// celled payload: back-to-back, stride-width entries of (TubeId uint64 LE ||
// native point record), as produced by Collect and the spec's base chunk
// blob format. decodePoint reads one entry's representative Point against
// the same (celled, possibly deltified) schema the packing Format used — see
// format.Format.DecodePoint — so entry is passed in full, TubeId prefix
// included; only the in-memory Cell.Data retains the TubeId-stripped record,
// matching what Collect expects to find there when re-packing.
//
// Each entry's chunk index is recomputed as baseID + tubeID and re-climbed
// from bounds to validate it lands back on the same index the climber would
// compute from the point alone, matching the "fail-fast on corruption"
// requirement for TubeId disagreement on base load.
func LoadBaseChunk(s structure.Structure, bounds geo.Bounds, baseID id.Id, pool *pointpool.Pool, packer CelledPacker, stride int, payload []byte, decodePoint func([]byte) geo.Point) (*BaseChunk, error) {
	b := NewBaseChunk(s, bounds, baseID, pool, packer)

	if stride <= 8 || len(payload)%stride != 0 {
		return nil, fmt.Errorf("chunk: base payload length %d not a multiple of stride %d", len(payload), stride)
	}

	for off := 0; off < len(payload); off += stride {
		entry := payload[off : off+stride]
		tubeID := binary.LittleEndian.Uint64(entry[:8])
		rec := entry[8:]

		index := id.Add(baseID, id.FromUint64(tubeID))
		depth, ok := s.DepthForBaseIndex(index)
		if !ok {
			return nil, fmt.Errorf("chunk: base tubeId %d (index %s) outside base band", tubeID, index)
		}
		sub := b.subs[depth]

		point := decodePoint(entry)

		cm := climber.New(s, bounds)
		cm.MagnifyTo(point, depth)
		if !cm.Index().Equal(index) {
			return nil, fmt.Errorf("chunk: base tubeId %d disagrees with climber index %s on reload", tubeID, cm.Index())
		}

		block := pool.AcquireData()
		block = block[:len(rec)]
		copy(block, rec)

		cl := pool.AcquireCell()
		cl.Point = point
		cl.Data = append(cl.Data, block)

		offset, ok := id.Sub(index, sub.id).Uint64()
		if !ok || offset >= sub.maxPoints {
			return nil, fmt.Errorf("chunk: base tubeId %d maps outside sub-chunk range", tubeID)
		}
		t := sub.tubeAt(offset)
		if accepted, swapped := t.InsertOrSwap(cm.Tick(point), cl, point); !accepted || swapped != nil {
			return nil, fmt.Errorf("chunk: base tubeId %d collided on reload", tubeID)
		}
		sub.numCells.Add(1)
		b.numCells.Add(1)
	}

	return b, nil
}
