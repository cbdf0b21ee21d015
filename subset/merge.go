package subset

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/ept/blobstore"
	"github.com/hupe1980/ept/chunk"
	"github.com/hupe1980/ept/climber"
	"github.com/hupe1980/ept/format"
	"github.com/hupe1980/ept/geo"
	"github.com/hupe1980/ept/id"
	"github.com/hupe1980/ept/internal/pointpool"
	"github.com/hupe1980/ept/manifest"
	"github.com/hupe1980/ept/metadata"
	"github.com/hupe1980/ept/structure"
)

// Merge recombines a complete set of of subset outputs (ids 0..of-1,
// previously written by builds run with Assign) at endpoint into a single
// whole build: their base chunks are unioned depth by depth, their
// manifests are merged by path, and the result is written back to endpoint
// without any subset postfix. Cold chunks need no merging — every subset
// already wrote its own, unpostfixed, at disjoint chunk ids, so they are
// already exactly where a whole build would have put them.
//
// The merge is strictly serial across subset ids: each subset's declared
// metadata.Subset.ID must equal its position in [0, of) exactly, matching
// the spec's "violation (endId != next.id) is a fatal error" — a gap or
// duplicate id means some subset's output is missing or a prior merge was
// already run over a subset whose id it rewrote.
func Merge(ctx context.Context, endpoint blobstore.BlobStore, s structure.Structure, bounds geo.Bounds, pool *pointpool.Pool, baseFormat, coldFormat *format.Format, of uint64) (*metadata.Metadata, *manifest.Manifest, error) {
	if !validOf[of] {
		return nil, nil, fmt.Errorf("subset: of must be one of 4, 16, 64, got %d", of)
	}

	metadatas := make([]*metadata.Metadata, of)
	manifests := make([]*manifest.Manifest, of)

	for i := uint64(0); i < of; i++ {
		mdStore := metadata.NewStore(endpoint, fmt.Sprintf("entwine-%d", i))
		md, found, err := mdStore.Load(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("subset: load metadata for subset %d: %w", i, err)
		}
		if !found {
			return nil, nil, fmt.Errorf("subset: missing metadata for subset %d of %d", i, of)
		}
		if md.Subset == nil || md.Subset.Of != of || md.Subset.ID != i {
			return nil, nil, fmt.Errorf("subset: adjacency violation: expected subset id %d, found %v", i, md.Subset)
		}
		metadatas[i] = md

		manStore := manifest.NewStore(endpoint, fmt.Sprintf("entwine-manifest-%d", i))
		man, err := manStore.Load(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("subset: load manifest for subset %d: %w", i, err)
		}
		manifests[i] = man
	}

	union := chunk.NewBaseChunk(s, bounds, id.Zero(), pool, baseFormat)

	for i := uint64(0); i < of; i++ {
		name := fmt.Sprintf("0-%d", i)
		blob, err := endpoint.Open(ctx, name)
		if errors.Is(err, blobstore.ErrNotFound) {
			continue // this subset's partition never touched the base band.
		}
		if err != nil {
			return nil, nil, fmt.Errorf("subset: open base chunk for subset %d: %w", i, err)
		}

		data := make([]byte, blob.Size())
		_, err = blob.ReadAt(ctx, data, 0)
		closeErr := blob.Close()
		if err != nil {
			return nil, nil, fmt.Errorf("subset: read base chunk for subset %d: %w", i, err)
		}
		if closeErr != nil {
			return nil, nil, fmt.Errorf("subset: close base chunk for subset %d: %w", i, closeErr)
		}

		u, err := baseFormat.Unpack(data)
		if err != nil {
			return nil, nil, fmt.Errorf("subset: unpack base chunk for subset %d: %w", i, err)
		}
		payload, err := u.DecompressedBytes()
		if err != nil {
			return nil, nil, fmt.Errorf("subset: decompress base chunk for subset %d: %w", i, err)
		}

		sub, err := chunk.LoadBaseChunk(s, bounds, id.Zero(), pool, baseFormat, baseFormat.NativeRecordSize(), payload, baseFormat.DecodePoint)
		if err != nil {
			return nil, nil, fmt.Errorf("subset: reload base chunk for subset %d: %w", i, err)
		}

		entries, err := sub.Drain()
		if err != nil {
			return nil, nil, fmt.Errorf("subset: drain base chunk for subset %d: %w", i, err)
		}

		for _, e := range entries {
			cm := climber.New(s, bounds)
			cm.MagnifyTo(e.Cell.Point, e.Depth)
			tick := cm.Tick(e.Cell.Point)

			if accepted, swapped := union.Insert(e.Index, tick, e.Cell.Point, e.Cell); !accepted || swapped != nil {
				return nil, nil, fmt.Errorf("subset: merge collision at index %s from subset %d: its partition overlapped an earlier subset's", e.Index, i)
			}
		}
	}

	entries, err := union.Drain()
	if err != nil {
		return nil, nil, fmt.Errorf("subset: drain merged base chunk: %w", err)
	}

	byDepth := make(map[uint][]chunk.DrainedEntry)
	for _, e := range entries {
		byDepth[e.Depth] = append(byDepth[e.Depth], e)
	}

	final := chunk.NewBaseChunk(s, bounds, id.Zero(), pool, baseFormat)

	for d := s.BaseDepthBegin(); d < s.BaseDepthEnd(); d++ {
		width, ok := s.PointsAtDepth(d).Uint64()
		if ok && width <= s.BasePointsPerChunk() {
			for _, e := range byDepth[d] {
				cm := climber.New(s, bounds)
				cm.MagnifyTo(e.Cell.Point, d)
				final.Insert(e.Index, cm.Tick(e.Cell.Point), e.Cell.Point, e.Cell)
			}
			continue
		}

		// This depth's full breadth exceeds one cold chunk's capacity: rather
		// than keep it inside the merged BaseChunk (which models one depth as
		// one contiguous array sized to the depth's whole breadth), promote
		// its accumulated tubes to standalone, basePointsPerChunk-sized cold
		// chunks, addressed exactly as the whole build's own insertion path
		// (builder.coldChunkID) would have addressed them.
		if err := promoteDepth(ctx, endpoint, s, bounds, pool, coldFormat, d, byDepth[d]); err != nil {
			return nil, nil, err
		}
	}

	packed, err := final.Collect()
	if err != nil {
		return nil, nil, fmt.Errorf("subset: collect merged base chunk: %w", err)
	}
	if err := endpoint.Put(ctx, final.ID().String(), packed); err != nil {
		return nil, nil, fmt.Errorf("subset: put merged base chunk: %w", err)
	}

	mergedManifest := manifest.Merge(manifests...)

	mergedMetadata := *metadatas[0]
	mergedMetadata.Subset = nil
	mergedMetadata.Manifest = &metadata.ManifestSummary{PointStats: mergedManifest.Totals()}

	if err := manifest.NewStore(endpoint, "entwine-manifest").Save(ctx, mergedManifest); err != nil {
		return nil, nil, fmt.Errorf("subset: save merged manifest: %w", err)
	}
	if err := metadata.NewStore(endpoint, "entwine").Save(ctx, &mergedMetadata); err != nil {
		return nil, nil, fmt.Errorf("subset: save merged metadata: %w", err)
	}

	return &mergedMetadata, mergedManifest, nil
}

// promoteDepth packs depth d's accumulated entries into one or more
// standalone cold chunks of basePointsPerChunk cells each and puts them to
// endpoint, unpostfixed.
func promoteDepth(ctx context.Context, endpoint blobstore.BlobStore, s structure.Structure, bounds geo.Bounds, pool *pointpool.Pool, coldFormat *format.Format, depth uint, es []chunk.DrainedEntry) error {
	levelBegin := s.CalcLevelIndex(depth)
	quantum := id.FromUint64(s.BasePointsPerChunk())

	groups := make(map[string][]chunk.DrainedEntry)
	groupIDs := make(map[string]id.Id)
	for _, e := range es {
		rel := id.Sub(e.Index, levelBegin)
		g := id.Div(rel, quantum)
		chunkID := id.Add(levelBegin, id.Mul(g, quantum))
		key := chunkID.String()
		groups[key] = append(groups[key], e)
		groupIDs[key] = chunkID
	}

	for key, grouped := range groups {
		chunkID := groupIDs[key]

		var cold chunk.Chunk
		if s.IsSparse(chunkID) {
			cold = chunk.NewSparseChunk(chunkID, depth, bounds, s.BasePointsPerChunk(), pool, coldFormat)
		} else {
			cold = chunk.NewContiguousChunk(chunkID, depth, bounds, s.BasePointsPerChunk(), pool, coldFormat)
		}

		for _, e := range grouped {
			cm := climber.New(s, bounds)
			cm.MagnifyTo(e.Cell.Point, depth)
			if accepted, swapped := cold.Insert(e.Index, cm.Tick(e.Cell.Point), e.Cell.Point, e.Cell); !accepted || swapped != nil {
				return fmt.Errorf("subset: promote depth %d: collision at index %s", depth, e.Index)
			}
		}

		packed, err := cold.Collect()
		if err != nil {
			return fmt.Errorf("subset: collect promoted chunk %s: %w", chunkID, err)
		}
		if err := endpoint.Put(ctx, chunkID.String(), packed); err != nil {
			return fmt.Errorf("subset: put promoted chunk %s: %w", chunkID, err)
		}
	}

	return nil
}
