// Package book pairs a Tick Index with a dense map of tick -> queue for
// each side of one trading pair, and exposes the best-of-book and
// depth queries. The Book owns its queues and nodes; callers reach a
// queue through QueueAt/PeekQueueAt, mutate it, and then call SyncLevel
// so the tick index and the queue aggregates do not drift apart.
package book

import (
	"clob/internal/config"
	"clob/internal/money"
	"clob/internal/queue"
	"clob/internal/tickindex"
)

// Side is which side of the book an order rests on.
type Side uint8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "buy_base"
	}
	return "sell_base"
}

// Level is a read-only snapshot of one price level.
type Level struct {
	Tick       tickindex.Tick
	TotalBase  uint64
	OrderCount int
}

// Book is the matching state for one (base, quote, tick_size) triple.
type Book struct {
	Pair config.Pair

	bidsIndex *tickindex.Index
	asksIndex *tickindex.Index
	bids      map[tickindex.Tick]*queue.Queue
	asks      map[tickindex.Tick]*queue.Queue

	nextOrderID uint64
}

// New creates an empty Book for pair.
func New(pair config.Pair) *Book {
	return &Book{
		Pair:      pair,
		bidsIndex: tickindex.New(),
		asksIndex: tickindex.New(),
		bids:      make(map[tickindex.Tick]*queue.Queue),
		asks:      make(map[tickindex.Tick]*queue.Queue),
	}
}

func (b *Book) indexFor(side Side) *tickindex.Index {
	if side == Buy {
		return b.bidsIndex
	}
	return b.asksIndex
}

func (b *Book) levelsFor(side Side) map[tickindex.Tick]*queue.Queue {
	if side == Buy {
		return b.bids
	}
	return b.asks
}

// QueueAt returns the level queue at (side, tick), creating an empty
// one if it does not yet exist.
func (b *Book) QueueAt(side Side, tick tickindex.Tick) *queue.Queue {
	levels := b.levelsFor(side)
	q, ok := levels[tick]
	if !ok {
		q = queue.New()
		levels[tick] = q
	}
	return q
}

// PeekQueueAt returns the level queue at (side, tick) without creating
// one, for read-only callers.
func (b *Book) PeekQueueAt(side Side, tick tickindex.Tick) (*queue.Queue, bool) {
	q, ok := b.levelsFor(side)[tick]
	return q, ok
}

// SyncLevel recomputes the tick index aggregate for (side, tick) from
// the queue's current total, and prunes the level map entry once the
// queue is empty. Every Book mutation that touches a queue must call
// this before returning so the invariant
// tick_index.get(t) == levels[t].total_base_amount always holds.
func (b *Book) SyncLevel(side Side, tick tickindex.Tick) {
	levels := b.levelsFor(side)
	idx := b.indexFor(side)

	q, ok := levels[tick]
	if !ok {
		idx.Update(tick, 0)
		return
	}
	idx.Update(tick, q.TotalBaseAmount())
	if q.Len() == 0 {
		delete(levels, tick)
	}
}

// NextOrderID hands out a fresh, monotonically increasing, book-local
// order id.
func (b *Book) NextOrderID() uint64 {
	b.nextOrderID++
	return b.nextOrderID
}

// BestBid returns the highest non-empty bid tick, if any.
func (b *Book) BestBid() (tickindex.Tick, uint64, bool) {
	t, ok := b.bidsIndex.LastNonZeroIn(1, tickindex.Tick(money.MaxTickIndex+1))
	if !ok {
		return 0, 0, false
	}
	return t, b.bidsIndex.Get(t), true
}

// BestAsk returns the lowest non-empty ask tick, if any.
func (b *Book) BestAsk() (tickindex.Tick, uint64, bool) {
	t, ok := b.asksIndex.FirstNonZeroIn(1, tickindex.Tick(money.MaxTickIndex+1))
	if !ok {
		return 0, 0, false
	}
	return t, b.asksIndex.Get(t), true
}

// BestBidInRange finds the highest bid tick in [lo, hi), used by the
// sweep to look for crossing liquidity up to a taker's limit.
func (b *Book) BestBidInRange(lo, hi tickindex.Tick) (tickindex.Tick, bool) {
	return b.bidsIndex.LastNonZeroIn(lo, hi)
}

// BestAskInRange finds the lowest ask tick in [lo, hi).
func (b *Book) BestAskInRange(lo, hi tickindex.Tick) (tickindex.Tick, bool) {
	return b.asksIndex.FirstNonZeroIn(lo, hi)
}

// PriceLevel reports the aggregate and order count at (side, tick).
func (b *Book) PriceLevel(side Side, tick tickindex.Tick) Level {
	q, ok := b.PeekQueueAt(side, tick)
	if !ok {
		return Level{Tick: tick}
	}
	return Level{Tick: tick, TotalBase: q.TotalBaseAmount(), OrderCount: q.Len()}
}

// Depth summarises per-tick aggregates on both sides across [lo, hi).
func (b *Book) Depth(lo, hi tickindex.Tick) (bids []Level, asks []Level) {
	for t := lo; t < hi; t++ {
		if v := b.bidsIndex.Get(t); v > 0 {
			q, _ := b.PeekQueueAt(Buy, t)
			bids = append(bids, Level{Tick: t, TotalBase: v, OrderCount: orderCount(q)})
		}
		if v := b.asksIndex.Get(t); v > 0 {
			q, _ := b.PeekQueueAt(Sell, t)
			asks = append(asks, Level{Tick: t, TotalBase: v, OrderCount: orderCount(q)})
		}
	}
	return bids, asks
}

func orderCount(q *queue.Queue) int {
	if q == nil {
		return 0
	}
	return q.Len()
}
