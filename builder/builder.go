// Package builder drives a build: it owns the point pool, the live chunk
// working set, and the worker/clip thread pools that turn a manifest of
// source files into a packed tree at an output endpoint.
package builder

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/ept/blobstore"
	"github.com/hupe1980/ept/chunk"
	"github.com/hupe1980/ept/climber"
	"github.com/hupe1980/ept/format"
	"github.com/hupe1980/ept/geo"
	"github.com/hupe1980/ept/id"
	"github.com/hupe1980/ept/internal/pointpool"
	"github.com/hupe1980/ept/internal/resource"
	"github.com/hupe1980/ept/manifest"
	"github.com/hupe1980/ept/metadata"
	"github.com/hupe1980/ept/queue"
	"github.com/hupe1980/ept/schema"
	"github.com/hupe1980/ept/structure"
	"golang.org/x/sync/errgroup"
)

// Record is one decoded point: a representative location plus its raw,
// schema-encoded byte payload.
type Record struct {
	Point geo.Point
	Data  []byte
}

// Reader streams Records from one open source file, in file order. Next
// returns io.EOF once exhausted.
type Reader interface {
	Next(ctx context.Context) (Record, error)
	Close() error
}

// Opener opens a source file by path or URI into a Reader. This is the
// point-record reader library collaborator the spec treats as external;
// Builder only consumes the Record stream it produces.
type Opener interface {
	Open(ctx context.Context, path string, s schema.Schema) (Reader, error)
}

// Config bundles everything a Builder needs: the tree geometry, the output
// endpoint, the source-file reader, and the concurrency knobs for the work
// and clip pools.
type Config struct {
	Structure structure.Structure
	Schema    schema.Schema
	// Bounds is the cubeified root bounds the Climber descends from.
	Bounds geo.Bounds
	Delta  *geo.Delta

	// ColdFormat packs/unpacks cold chunk blobs; its Config.Schema is Schema
	// unmodified.
	ColdFormat *format.Format
	// BaseFormat packs/unpacks the base chunk blob; its Config.Schema must be
	// Schema.Celled() — see chunk.BaseChunk.Collect and format.Format.PackCelled.
	BaseFormat *format.Format

	Endpoint blobstore.BlobStore
	Opener   Opener

	// WorkerCount is the work-pool size (default 8, per spec §5).
	WorkerCount int
	// ClipWorkerCount bounds concurrent chunk-eviction writes.
	ClipWorkerCount int
	// ChunkWatermark is the live-chunk count above which eviction kicks in.
	ChunkWatermark int
	// TableCapacity is the PooledPointTable batch size (default 4096).
	TableCapacity int

	Resources *resource.Controller

	// BaseID is the chunk id assigned to this build's BaseChunk. It is zero
	// for a whole build, and subset.Assign leaves it zero for a subset build
	// too: subsets number their base band with the same absolute climb
	// indices as a whole build.
	BaseID id.Id
	// PathPostfix is appended to metadata/manifest/base-chunk blob names
	// (e.g. "-3" for subset id 3); empty for a whole build. Cold chunk blobs
	// are never postfixed, per spec §4.8.
	PathPostfix string

	// Force skips continuation: a fresh manifest and metadata blob are
	// written even if ones already exist at the endpoint.
	Force bool

	// Metadata is the geometry/schema/structure/format bundle this build
	// persists on finalization. Builder fills in and overwrites its
	// Manifest field before every Save; the caller owns every other field.
	Metadata *metadata.Metadata
}

func (c *Config) workers() int {
	if c.WorkerCount > 0 {
		return c.WorkerCount
	}
	return 8
}

func (c *Config) tableCapacity() int {
	if c.TableCapacity > 0 {
		return c.TableCapacity
	}
	return 4096
}

func (c *Config) watermark() int {
	if c.ChunkWatermark > 0 {
		return c.ChunkWatermark
	}
	return 4096
}

// Builder owns the PointPool, the live chunk registry, and drives
// insertion, eviction, and finalization for one build (or one subset build).
type Builder struct {
	cfg  Config
	pool *pointpool.Pool
	base *chunk.BaseChunk

	mStore  *manifest.Store
	mdStore *metadata.Store

	manMu sync.Mutex
	man   *manifest.Manifest

	regMu    sync.Mutex
	registry map[string]*registryEntry
	slots    map[uint32]string
	lru      queue.PriorityQueue
	nextSlot uint32
	touchSeq uint64

	// chunkCount is observability only, matching the spec's process-wide
	// atomic chunk counter; it is never consulted for control flow.
	chunkCount atomic.Int64

	clipSem chan struct{}
}

type registryEntry struct {
	ch   chunk.Chunk
	item *queue.PriorityQueueItem
}

// New constructs a Builder. It does not touch the endpoint; call Continue
// to load (or initialize) the manifest before Go.
func New(cfg Config) (*Builder, error) {
	if cfg.Endpoint == nil {
		return nil, errors.New("builder: Endpoint is required")
	}
	if cfg.Opener == nil {
		return nil, errors.New("builder: Opener is required")
	}
	if cfg.ColdFormat == nil || cfg.BaseFormat == nil {
		return nil, errors.New("builder: ColdFormat and BaseFormat are required")
	}
	if cfg.Metadata == nil {
		return nil, errors.New("builder: Metadata is required")
	}

	pool := pointpool.New(cfg.Schema.PointSize())
	base := chunk.NewBaseChunk(cfg.Structure, cfg.Bounds, cfg.BaseID, pool, cfg.BaseFormat)

	b := &Builder{
		cfg:      cfg,
		pool:     pool,
		base:     base,
		mStore:   manifest.NewStore(cfg.Endpoint, "entwine-manifest"+cfg.PathPostfix),
		mdStore:  metadata.NewStore(cfg.Endpoint, "entwine"+cfg.PathPostfix),
		registry: make(map[string]*registryEntry),
		slots:    make(map[uint32]string),
		lru:      queue.PriorityQueue{Order: false},
		clipSem:  make(chan struct{}, max(1, cfg.ClipWorkerCount)),
	}
	b.chunkCount.Add(1) // the BaseChunk itself, counted separately per spec §3.
	return b, nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Continue reads the manifest at the endpoint and, unless Force is set,
// resumes a previous run: the existing manifest is loaded (pending() then
// skips files whose stats already show completion) and, if a base chunk blob
// was already written by an earlier Finalize, it's reloaded into b.base so
// further inserts land on top of it rather than an empty tree. paths is the
// full, ordered list of source files this build covers; it is only consulted
// to seed a fresh manifest.
//
// Metadata is deliberately not the resume signal: it is written once, by
// Finalize, well after a manifest may already record partial progress from
// an interrupted run.
func (b *Builder) Continue(ctx context.Context, paths []string) error {
	if !b.cfg.Force {
		m, err := b.mStore.Load(ctx)
		if err != nil {
			return fmt.Errorf("builder: load manifest: %w", err)
		}
		if len(m.Entries) > 0 {
			b.man = m

			if err := b.reloadBaseChunk(ctx); err != nil {
				return fmt.Errorf("builder: reload base chunk: %w", err)
			}
			return nil
		}
	}

	b.man = manifest.New(paths)
	return b.mStore.Save(ctx, b.man)
}

// reloadBaseChunk fetches the existing base chunk blob, if Finalize already
// ran in an earlier session, and replaces b.base with its reconstructed live
// tube contents. A build resumed before its first Finalize leaves no base
// chunk blob yet, which is not an error.
func (b *Builder) reloadBaseChunk(ctx context.Context) error {
	name := b.base.ID().String() + b.cfg.PathPostfix
	blob, err := b.cfg.Endpoint.Open(ctx, name)
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	defer blob.Close()

	data := make([]byte, blob.Size())
	if _, err := blob.ReadAt(ctx, data, 0); err != nil {
		return err
	}

	u, err := b.cfg.BaseFormat.Unpack(data)
	if err != nil {
		return err
	}
	payload, err := u.DecompressedBytes()
	if err != nil {
		return err
	}

	reloaded, err := chunk.LoadBaseChunk(
		b.cfg.Structure, b.cfg.Bounds, b.cfg.BaseID, b.pool, b.cfg.BaseFormat,
		b.cfg.BaseFormat.NativeRecordSize(), payload, b.cfg.BaseFormat.DecodePoint,
	)
	if err != nil {
		return err
	}

	b.base = reloaded
	return nil
}

// Go ingests up to runCount unprocessed manifest entries (or all of them if
// runCount <= 0). One worker goroutine per Config.WorkerCount streams each
// file end to end; Go returns once every dispatched file has been ingested
// and its manifest entry saved. Cold chunks may still be evicted mid-run as
// ChunkWatermark is crossed, but the base chunk and metadata are only
// persisted by a later, explicit call to Finalize — calling Go again after
// Finalize is an error, since the base chunk's packed bytes are cached once
// collected.
func (b *Builder) Go(ctx context.Context, runCount int) (manifest.PointStats, error) {
	if b.man == nil {
		return manifest.PointStats{}, errors.New("builder: Continue must be called before Go")
	}
	if b.base.Packed() {
		return manifest.PointStats{}, errors.New("builder: Go called after Finalize")
	}

	b.manMu.Lock()
	pending := b.man.Pending()
	b.manMu.Unlock()
	if runCount > 0 && len(pending) > runCount {
		pending = pending[:runCount]
	}

	work := make(chan manifest.Entry)
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < b.cfg.workers(); i++ {
		g.Go(func() error {
			for entry := range work {
				if err := b.processFile(gctx, entry); err != nil {
					return fmt.Errorf("builder: %s: %w", entry.Path, err)
				}
			}
			return nil
		})
	}

	g.Go(func() error {
		defer close(work)
		for _, e := range pending {
			select {
			case work <- e:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return manifest.PointStats{}, err
	}

	b.manMu.Lock()
	defer b.manMu.Unlock()
	return b.man.Totals(), nil
}

// processFile streams one source file through a PooledPointTable-sized
// batch, climbing and inserting each record, then records the file's final
// PointStats in the manifest. Manifest updates are serialized by manMu,
// matching the spec's "guarded by a mutex; updates per file are atomic".
func (b *Builder) processFile(ctx context.Context, entry manifest.Entry) error {
	r, err := b.cfg.Opener.Open(ctx, entry.Path, b.cfg.Schema)
	if err != nil {
		return err
	}
	defer r.Close()

	cap := b.cfg.tableCapacity()
	var stats manifest.PointStats
	batch := make([]Record, 0, cap)

	flush := func() error {
		for _, rec := range batch {
			b.insertRecord(ctx, rec, &stats)
		}
		batch = batch[:0]
		return b.maybeEvict(ctx)
	}

	for {
		rec, err := r.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		batch = append(batch, rec)
		if len(batch) >= cap {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if len(batch) > 0 {
		if err := flush(); err != nil {
			return err
		}
	}

	b.manMu.Lock()
	markErr := b.man.MarkDone(entry.Path, stats)
	var saveErr error
	if markErr == nil {
		saveErr = b.mStore.Save(ctx, b.man)
	}
	b.manMu.Unlock()

	if markErr != nil {
		return markErr
	}
	return saveErr
}

// insertRecord implements the spec §4.4 insertion protocol: climb to the
// shallowest stored depth, route to (or lazily create) the owning chunk,
// insert under the chunk's own locking, and re-climb one depth deeper for
// any cell that loses the tie-break, until it is accepted or passes
// ColdDepthEnd (counted as an overflow).
func (b *Builder) insertRecord(ctx context.Context, rec Record, stats *manifest.PointStats) {
	if !b.cfg.Bounds.Contains(rec.Point) {
		stats.OutOfBounds++
		return
	}

	cl := b.pool.AcquireCell()
	cl.Point = rec.Point
	cl.Data = append(cl.Data, rec.Data)

	p := rec.Point
	depth := b.cfg.Structure.BaseDepthBegin()

	for {
		if b.cfg.Structure.IsOverflow(depth) {
			stats.Overflows++
			b.pool.ReleaseCell(cl)
			return
		}

		cm := climber.New(b.cfg.Structure, b.cfg.Bounds)
		cm.MagnifyTo(p, depth)
		index := cm.Index()
		tick := cm.Tick(p)

		ch := b.chunkFor(ctx, index, depth)
		_, swapped := ch.Insert(index, tick, p, cl)
		if swapped == nil {
			stats.Inserts++
			return
		}

		cl = swapped
		p = swapped.Point
		depth++
	}
}

// chunkFor returns the live chunk owning index at depth, lazily creating
// (or reloading from the endpoint) a cold chunk on first reference.
func (b *Builder) chunkFor(ctx context.Context, index id.Id, depth uint) chunk.Chunk {
	if b.cfg.Structure.IsBase(depth) {
		return b.base
	}

	chunkID := b.coldChunkID(index, depth)
	key := chunkID.String()

	b.regMu.Lock()
	if e, ok := b.registry[key]; ok {
		b.touchLocked(e)
		b.regMu.Unlock()
		return e.ch
	}
	b.regMu.Unlock()

	loaded := b.loadOrCreateColdChunk(ctx, chunkID, depth)

	b.regMu.Lock()
	defer b.regMu.Unlock()
	if e, ok := b.registry[key]; ok {
		// Another goroutine won the race to create/load this id first.
		b.touchLocked(e)
		return e.ch
	}

	item := &queue.PriorityQueueItem{Node: b.nextSlot, Distance: b.nextTouch()}
	b.slots[b.nextSlot] = key
	b.nextSlot++
	heap.Push(&b.lru, item)
	b.registry[key] = &registryEntry{ch: loaded, item: item}
	b.chunkCount.Add(1)

	return loaded
}

// coldChunkID returns the id of the fixed-size (BasePointsPerChunk) cold
// chunk that owns index at depth: each depth's id range, starting at its
// CalcLevelIndex, is partitioned into contiguous runs of BasePointsPerChunk
// cells, each run addressed by its own first id.
func (b *Builder) coldChunkID(index id.Id, depth uint) id.Id {
	levelBegin := b.cfg.Structure.CalcLevelIndex(depth)
	quantum := id.FromUint64(b.cfg.Structure.BasePointsPerChunk())
	return id.Add(levelBegin, id.Mul(id.Div(id.Sub(index, levelBegin), quantum), quantum))
}

func (b *Builder) loadOrCreateColdChunk(ctx context.Context, chunkID id.Id, depth uint) chunk.Chunk {
	blob, err := b.cfg.Endpoint.Open(ctx, chunkID.String())
	if err != nil {
		return b.newColdChunk(chunkID, depth)
	}
	defer blob.Close()

	data := make([]byte, blob.Size())
	if _, err := blob.ReadAt(ctx, data, 0); err != nil {
		return b.newColdChunk(chunkID, depth)
	}

	u, err := b.cfg.ColdFormat.Unpack(data)
	if err != nil {
		return b.newColdChunk(chunkID, depth)
	}

	ch := b.newColdChunk(chunkID, depth)
	stack, err := u.AcquireCells(b.pool)
	if err != nil {
		return ch
	}
	for {
		cl, ok := stack.Pop()
		if !ok {
			break
		}
		cm := climber.New(b.cfg.Structure, b.cfg.Bounds)
		cm.MagnifyTo(cl.Point, depth)
		ch.Insert(cm.Index(), cm.Tick(cl.Point), cl.Point, cl)
	}
	return ch
}

func (b *Builder) newColdChunk(chunkID id.Id, depth uint) chunk.Chunk {
	maxPoints := b.cfg.Structure.BasePointsPerChunk()
	if b.cfg.Structure.IsSparse(chunkID) {
		return chunk.NewSparseChunk(chunkID, depth, b.cfg.Bounds, maxPoints, b.pool, b.cfg.ColdFormat)
	}
	return chunk.NewContiguousChunk(chunkID, depth, b.cfg.Bounds, maxPoints, b.pool, b.cfg.ColdFormat)
}

func (b *Builder) nextTouch() float32 {
	b.touchSeq++
	return float32(b.touchSeq)
}

func (b *Builder) touchLocked(e *registryEntry) {
	e.item.Distance = b.nextTouch()
	heap.Fix(&b.lru, e.item.Index)
}

// maybeEvict drains the least-recently-touched cold chunks above the
// watermark onto the clip pool: each is packed (Collect) and put to the
// endpoint, then dropped from the registry, matching the spec's "work pool
// threads ... allow[ing] the clip pool to drain" backpressure model.
func (b *Builder) maybeEvict(ctx context.Context) error {
	b.regMu.Lock()
	var toEvict []*registryEntry
	for len(b.registry) > b.cfg.watermark() && b.lru.Len() > 0 {
		top := heap.Pop(&b.lru).(*queue.PriorityQueueItem)
		key := b.slots[top.Node]
		delete(b.slots, top.Node)
		e, ok := b.registry[key]
		if !ok {
			continue
		}
		delete(b.registry, key)
		toEvict = append(toEvict, e)
	}
	b.regMu.Unlock()

	if len(toEvict) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, e := range toEvict {
		e := e
		g.Go(func() error {
			select {
			case b.clipSem <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			defer func() { <-b.clipSem }()
			return b.evict(gctx, e.ch)
		})
	}
	return g.Wait()
}

// evict packs ch and puts it to the endpoint, then decrements the global
// chunk counter — the chunk lifecycle's PACKED -> GONE transition.
func (b *Builder) evict(ctx context.Context, ch chunk.Chunk) error {
	if err := b.cfg.Resources.AcquireBackground(ctx); err != nil {
		return err
	}
	defer b.cfg.Resources.ReleaseBackground()

	packed, err := ch.Collect()
	if err != nil {
		return fmt.Errorf("collect %s: %w", ch.Info().ID, err)
	}
	if err := b.cfg.Resources.AcquireIO(ctx, len(packed)); err != nil {
		return fmt.Errorf("acquire io budget for %s: %w", ch.Info().ID, err)
	}
	if err := b.cfg.Endpoint.Put(ctx, ch.Info().ID.String(), packed); err != nil {
		return fmt.Errorf("put %s: %w", ch.Info().ID, err)
	}
	b.chunkCount.Add(-1)
	return nil
}

// Finalize flushes every still-live cold chunk, packs and writes the
// BaseChunk, and returns. Called once, single-threaded, after Go's worker
// pool has drained, matching the spec's "save() is called only after go()
// returns and is single-threaded."
func (b *Builder) Finalize(ctx context.Context) error {
	b.regMu.Lock()
	remaining := make([]*registryEntry, 0, len(b.registry))
	for key, e := range b.registry {
		remaining = append(remaining, e)
		delete(b.registry, key)
	}
	b.slots = make(map[uint32]string)
	b.lru = queue.PriorityQueue{Order: false}
	b.regMu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, e := range remaining {
		e := e
		g.Go(func() error { return b.evict(gctx, e.ch) })
	}
	if err := g.Wait(); err != nil {
		return err
	}

	packed, err := b.base.Collect()
	if err != nil {
		return fmt.Errorf("builder: collect base chunk: %w", err)
	}
	if err := b.cfg.Endpoint.Put(ctx, b.base.ID().String()+b.cfg.PathPostfix, packed); err != nil {
		return fmt.Errorf("builder: put base chunk: %w", err)
	}
	b.chunkCount.Add(-1)

	b.manMu.Lock()
	totals := b.man.Totals()
	b.manMu.Unlock()

	b.cfg.Metadata.Manifest = &metadata.ManifestSummary{PointStats: totals}
	if err := b.mdStore.Save(ctx, b.cfg.Metadata); err != nil {
		return fmt.Errorf("builder: save metadata: %w", err)
	}

	return nil
}

// ChunkCount returns the number of live chunk objects, observability only
// (it must never drive control flow): it settles to zero after Finalize.
func (b *Builder) ChunkCount() int64 { return b.chunkCount.Load() }

// Manifest returns the build's current manifest. Safe to call concurrently
// with Go; reflects only already-committed per-file updates.
func (b *Builder) Manifest() *manifest.Manifest {
	b.manMu.Lock()
	defer b.manMu.Unlock()
	return b.man
}
