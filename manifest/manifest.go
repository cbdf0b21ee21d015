// Package manifest implements the ordered list of source files a build
// consumes, together with per-file PointStats, persisted as a single JSON
// blob at the output endpoint (spec on-disk layout: entwine-manifest[-<id>]).
package manifest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/dustin/go-humanize"
	"github.com/hupe1980/ept/blobstore"
	"github.com/hupe1980/ept/codec"
)

// PointStats accumulates the outcome of inserting one source file's records.
type PointStats struct {
	Inserts     int64 `json:"inserts"`
	OutOfBounds int64 `json:"outOfBounds"`
	Overflows   int64 `json:"overflows"`
}

// Add folds o's counts into s in place.
func (s *PointStats) Add(o PointStats) {
	s.Inserts += o.Inserts
	s.OutOfBounds += o.OutOfBounds
	s.Overflows += o.Overflows
}

// String renders a human-readable one-line summary, per the error-handling
// design's "a summary of inserts/outOfBounds/overflows is printed per
// build" — the large counts a real ingest accumulates (10^8-10^10 records)
// are comma-grouped rather than printed as bare digit runs.
func (s PointStats) String() string {
	return fmt.Sprintf("%s inserted, %s out of bounds, %s overflow",
		humanize.Comma(s.Inserts), humanize.Comma(s.OutOfBounds), humanize.Comma(s.Overflows))
}

// Entry is one source file tracked by the manifest: its path, its position
// in the original input list, and the accumulated stats from processing it.
type Entry struct {
	Path     string     `json:"path"`
	OriginID int        `json:"originId"`
	Stats    PointStats `json:"stats"`
	Done     bool       `json:"done"`
}

// Manifest is the ordered sequence of source file entries for one build.
type Manifest struct {
	Entries []Entry `json:"entries"`
}

// New builds a fresh Manifest from a list of source file paths, each
// starting with zero stats and Done = false.
func New(paths []string) *Manifest {
	m := &Manifest{Entries: make([]Entry, len(paths))}
	for i, p := range paths {
		m.Entries[i] = Entry{Path: p, OriginID: i}
	}
	return m
}

// Pending returns the entries not yet marked Done, in manifest order — the
// set a continuation run still has to process.
func (m *Manifest) Pending() []Entry {
	var out []Entry
	for _, e := range m.Entries {
		if !e.Done {
			out = append(out, e)
		}
	}
	return out
}

// DoneBitmap returns a compact snapshot of which OriginIDs are marked Done.
// A whole-build manifest over a real ingest can carry 10^5-10^6 entries;
// a roaring bitmap lets a continuation check "is file i already done"
// without holding the manifest's entry slice, and compresses well since
// completed entries in a resumed build are almost always a single
// contiguous prefix.
func (m *Manifest) DoneBitmap() *roaring.Bitmap {
	bm := roaring.New()
	for _, e := range m.Entries {
		if e.Done {
			bm.Add(uint32(e.OriginID))
		}
	}
	return bm
}

// MarkDone records e's final stats and flips Done, matching by path.
func (m *Manifest) MarkDone(path string, stats PointStats) error {
	for i := range m.Entries {
		if m.Entries[i].Path == path {
			m.Entries[i].Stats = stats
			m.Entries[i].Done = true
			return nil
		}
	}
	return fmt.Errorf("manifest: unknown entry %q", path)
}

// Totals sums PointStats across every entry.
func (m *Manifest) Totals() PointStats {
	var total PointStats
	for _, e := range m.Entries {
		total.Add(e.Stats)
	}
	return total
}

// Merge unions m with every other manifest by path, summing stats for paths
// that appear in more than one (the subset-merge case: each subset only
// reports the entries it actually touched are identical across subsets, so
// a union-by-path that encounters the same path twice sums its stats).
func Merge(manifests ...*Manifest) *Manifest {
	order := make([]string, 0)
	byPath := make(map[string]*Entry)

	for _, m := range manifests {
		for _, e := range m.Entries {
			existing, ok := byPath[e.Path]
			if !ok {
				copied := e
				byPath[e.Path] = &copied
				order = append(order, e.Path)
				continue
			}
			existing.Stats.Add(e.Stats)
			existing.Done = existing.Done && e.Done
		}
	}

	out := &Manifest{Entries: make([]Entry, len(order))}
	for i, p := range order {
		out.Entries[i] = *byPath[p]
	}
	return out
}

// Store persists a Manifest as a single JSON blob at path on store, guarded
// by a mutex so concurrent per-file completions serialize their Save calls
// rather than racing to overwrite one another — matching the concurrency
// model's "Manifest: guarded by a mutex; updates per file are atomic."
type Store struct {
	store blobstore.BlobStore
	codec codec.Codec
	path  string
	mu    sync.Mutex
}

// NewStore returns a Store that persists to path (e.g.
// "entwine-manifest" or "entwine-manifest-<subsetId>") on store.
func NewStore(store blobstore.BlobStore, path string) *Store {
	return &Store{store: store, codec: codec.Default, path: path}
}

// Load reads the manifest blob. A missing blob is not an error: it means
// this is a fresh build, and Load returns an empty Manifest.
func (s *Store) Load(ctx context.Context) (*Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.store.Open(ctx, s.path)
	if errors.Is(err, blobstore.ErrNotFound) {
		return &Manifest{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("manifest: open: %w", err)
	}
	defer b.Close()

	data := make([]byte, b.Size())
	if _, err := b.ReadAt(ctx, data, 0); err != nil {
		return nil, fmt.Errorf("manifest: read: %w", err)
	}

	var m Manifest
	if err := s.codec.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: decode: %w", err)
	}
	return &m, nil
}

// Save writes m as the manifest blob. blobstore.BlobStore.Put is assumed
// atomic per path (per the endpoint contract), so no separate temp-file
// dance is needed here — that protocol lives inside each BlobStore
// implementation instead (see blobstore.LocalStore.Put).
func (s *Store) Save(ctx context.Context, m *Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.codec.Marshal(m)
	if err != nil {
		return fmt.Errorf("manifest: encode: %w", err)
	}
	if err := s.store.Put(ctx, s.path, data); err != nil {
		return fmt.Errorf("manifest: put: %w", err)
	}
	return nil
}
