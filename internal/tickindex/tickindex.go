// Package tickindex tracks per-tick aggregate base volume for one side
// of one book, and answers "first/last non-zero tick in range" and
// "sum over range" queries.
//
// The reference spec describes a two-level bitmap; this implementation
// instead keeps per-tick aggregates in an ordered balanced tree
// (github.com/tidwall/btree, the same structure the teacher already
// uses for its price levels) and answers range queries with bounded
// Ascend/Descend scans. Point update and boundary queries are
// O(log N), matching spec.md §4.2's complexity goal, which explicitly
// permits "any structure meeting the complexity goals" in place of the
// literal bitmap.
package tickindex

import (
	"github.com/tidwall/btree"

	"clob/internal/money"
)

// Tick re-exports money.Tick so callers only need one import for the
// price lattice's unit.
type Tick = money.Tick

type aggregate struct {
	tick   Tick
	volume uint64
}

func less(a, b aggregate) bool { return a.tick < b.tick }

// Index is the per-side sparse aggregate store for one Book.
type Index struct {
	tree *btree.BTreeG[aggregate]
}

// New creates an empty Index.
func New() *Index {
	return &Index{tree: btree.NewBTreeG(less)}
}

// Update sets the aggregate volume at tick t. A zero volume clears the
// tick entirely (no liquidity recorded there).
func (idx *Index) Update(t Tick, volume uint64) {
	if volume == 0 {
		idx.tree.Delete(aggregate{tick: t})
		return
	}
	idx.tree.Set(aggregate{tick: t, volume: volume})
}

// Get returns the current aggregate at tick t, or 0 if none.
func (idx *Index) Get(t Tick) uint64 {
	item, ok := idx.tree.Get(aggregate{tick: t})
	if !ok {
		return 0
	}
	return item.volume
}

// FirstNonZeroIn returns the smallest tick in [lo, hi) with a positive
// aggregate, used to find the best ask at or above a limit.
func (idx *Index) FirstNonZeroIn(lo, hi Tick) (Tick, bool) {
	var found Tick
	ok := false
	idx.tree.Ascend(aggregate{tick: lo}, func(item aggregate) bool {
		if item.tick >= hi {
			return false
		}
		found = item.tick
		ok = true
		return false
	})
	return found, ok
}

// LastNonZeroIn returns the largest tick in [lo, hi) with a positive
// aggregate, used to find the best bid at or below a limit.
func (idx *Index) LastNonZeroIn(lo, hi Tick) (Tick, bool) {
	var found Tick
	ok := false
	// Descend from just under hi and stop once we fall below lo.
	idx.tree.Descend(aggregate{tick: hi - 1}, func(item aggregate) bool {
		if item.tick >= hi {
			return true // pivot landed on/after hi; keep descending into range
		}
		if item.tick < lo {
			return false // fell below the range without a hit
		}
		found = item.tick
		ok = true
		return false
	})
	return found, ok
}

// Sum totals the aggregate volume across [lo, hi), used for order-book
// depth snapshots.
func (idx *Index) Sum(lo, hi Tick) uint64 {
	var total uint64
	idx.tree.Ascend(aggregate{tick: lo}, func(item aggregate) bool {
		if item.tick >= hi {
			return false
		}
		total += item.volume
		return true
	})
	return total
}

// Len reports how many ticks currently carry non-zero volume.
func (idx *Index) Len() int {
	return idx.tree.Len()
}
