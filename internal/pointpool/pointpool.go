// Package pointpool implements the two free-lists the ingest path borrows
// from under heavy churn: fixed-size data blocks and Cell headers.
//
// Both free-lists are lock-free Treiber stacks, backed by slabs that double
// in size each time the free list runs dry, so steady-state throughput
// never touches the Go allocator once the pool has warmed up.
package pointpool

import (
	"sync"
	"sync/atomic"

	"github.com/hupe1980/ept/cell"
)

// initialSlab is the node count of the first slab allocated for either
// free-list; it doubles on every subsequent refill.
const initialSlab = 1024

type dataNode struct {
	block []byte
	next  atomic.Pointer[dataNode]
}

type cellNode struct {
	c    *cell.Cell
	next atomic.Pointer[cellNode]
}

// Pool owns the data-block free list and the Cell-header free list for one
// point schema. A Builder creates exactly one Pool and every chunk, table,
// and tube borrows from it.
type Pool struct {
	pointSize int

	dataHead atomic.Pointer[dataNode]
	cellHead atomic.Pointer[cellNode]

	growMu   sync.Mutex
	dataSlab int
	cellSlab int
}

// New returns a Pool whose data blocks are sized for pointSize-byte point
// records.
func New(pointSize int) *Pool {
	return &Pool{
		pointSize: pointSize,
		dataSlab:  initialSlab,
		cellSlab:  initialSlab,
	}
}

// PointSize returns the data-block size this pool was constructed with.
func (p *Pool) PointSize() int { return p.pointSize }

// AcquireData returns one pointSize-byte block, borrowed from the free list
// or freshly allocated if the list is empty. Contents are not zeroed.
func (p *Pool) AcquireData() []byte {
	for {
		old := p.dataHead.Load()
		if old == nil {
			p.refillData()
			continue
		}
		if p.dataHead.CompareAndSwap(old, old.next.Load()) {
			return old.block
		}
	}
}

// ReleaseData returns a block to the free list. block must have been
// obtained from AcquireData on this Pool and must not be retained by the
// caller afterward.
func (p *Pool) ReleaseData(block []byte) {
	n := &dataNode{block: block[:p.pointSize]}
	for {
		old := p.dataHead.Load()
		n.next.Store(old)
		if p.dataHead.CompareAndSwap(old, n) {
			return
		}
	}
}

func (p *Pool) refillData() {
	p.growMu.Lock()
	defer p.growMu.Unlock()

	// Another goroutine may have refilled while we waited for the lock.
	if p.dataHead.Load() != nil {
		return
	}

	n := p.dataSlab
	p.dataSlab *= 2

	var head *dataNode
	for i := 0; i < n; i++ {
		node := &dataNode{block: make([]byte, p.pointSize)}
		node.next.Store(head)
		head = node
	}
	p.dataHead.Store(head)
}

// AcquireCell returns a cleared *cell.Cell, borrowed from the free list or
// freshly allocated if empty.
func (p *Pool) AcquireCell() *cell.Cell {
	for {
		old := p.cellHead.Load()
		if old == nil {
			p.refillCell()
			continue
		}
		if p.cellHead.CompareAndSwap(old, old.next.Load()) {
			c := old.c
			c.Reset()
			return c
		}
	}
}

// ReleaseCell returns c, and every data block it still holds, to their
// respective free lists.
func (p *Pool) ReleaseCell(c *cell.Cell) {
	for _, block := range c.Data {
		p.ReleaseData(block)
	}
	c.Reset()
	n := &cellNode{c: c}
	for {
		old := p.cellHead.Load()
		n.next.Store(old)
		if p.cellHead.CompareAndSwap(old, n) {
			return
		}
	}
}

func (p *Pool) refillCell() {
	p.growMu.Lock()
	defer p.growMu.Unlock()

	if p.cellHead.Load() != nil {
		return
	}

	n := p.cellSlab
	p.cellSlab *= 2

	var head *cellNode
	for i := 0; i < n; i++ {
		node := &cellNode{c: &cell.Cell{}}
		node.next.Store(head)
		head = node
	}
	p.cellHead.Store(head)
}

// Stack is a move-only, pooled batch of n Cell headers handed out together
// by Acquire. Passing a Stack into a chunk transfers ownership of every Cell
// it still holds; the zero value is an empty, already-drained Stack.
type Stack struct {
	pool  *Pool
	cells []*cell.Cell
}

// Acquire returns a Stack of n freshly-pooled, cleared cells.
func (p *Pool) Acquire(n int) Stack {
	cells := make([]*cell.Cell, n)
	for i := range cells {
		cells[i] = p.AcquireCell()
	}
	return Stack{pool: p, cells: cells}
}

// Len returns the number of cells still held by the stack.
func (s *Stack) Len() int { return len(s.cells) }

// Pop removes and returns the top cell, or (nil, false) if the stack is
// empty.
func (s *Stack) Pop() (*cell.Cell, bool) {
	n := len(s.cells)
	if n == 0 {
		return nil, false
	}
	c := s.cells[n-1]
	s.cells = s.cells[:n-1]
	return c, true
}

// Push adds a cell to the stack, taking ownership of it.
func (s *Stack) Push(c *cell.Cell) {
	s.cells = append(s.cells, c)
}

// Drain returns every remaining cell to the owning pool's free list,
// emptying the stack. Safe to call on an already-empty Stack.
func (s *Stack) Drain() {
	if s.pool == nil {
		return
	}
	for _, c := range s.cells {
		s.pool.ReleaseCell(c)
	}
	s.cells = nil
}
