// Package cell defines the Cell: the unit a Tube stores one of per tick.
package cell

import "github.com/hupe1980/ept/geo"

// Cell is a single spatial sample: a representative Point plus one or more
// fixed-size byte records sharing that point.
//
// A Cell owns its Data blocks and its own header; both are normally borrowed
// from an internal/pointpool.Pool and must be returned there (via Pool.Put)
// once the Cell is no longer reachable from any Tube.
type Cell struct {
	Point geo.Point
	Data  [][]byte
}

// Reset clears c back to its zero value in place, so its backing array
// capacity can be reused by whatever pool owns it.
func (c *Cell) Reset() {
	c.Point = geo.Point{}
	c.Data = c.Data[:0]
}

// Merge appends o's data records onto c. Used when Tube.InsertOrSwap
// discovers an incoming cell shares its existing cell's point exactly: the
// two samples are kept together rather than one displacing the other.
func (c *Cell) Merge(o *Cell) {
	c.Data = append(c.Data, o.Data...)
}

// NumRecords returns the number of point records held in this cell.
func (c *Cell) NumRecords() int { return len(c.Data) }
