// Package engine implements the matching engine for a single Book: it
// validates a new order, sweeps the opposite side in price-time
// priority, settles fills through the Ledger, and rests any residual
// on the book.
//
// An Engine is single-threaded and cooperative: every exported method
// takes the Engine's own mutex, so callers serialise into one Book the
// way spec.md §5 requires — no two fills interleave, and a caller
// never observes a partially-applied mutation.
package engine

import (
	"errors"
	"sync"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog/log"

	"clob/internal/book"
	"clob/internal/clock"
	"clob/internal/config"
	"clob/internal/events"
	"clob/internal/ledger"
	"clob/internal/money"
	"clob/internal/order"
	"clob/internal/orderindex"
	"clob/internal/queue"
	"clob/internal/tickindex"
)

var (
	ErrAssetMismatch    = errors.New("engine: order asset pair does not match this book")
	ErrZeroBaseAmount   = errors.New("engine: base amount must be greater than zero")
	ErrExpiredOnSubmit  = errors.New("engine: order is already expired")
	ErrDuplicateHash    = errors.New("engine: order hash is already live")
	ErrOrderNotFound    = errors.New("engine: order not found")
	ErrNotMaker         = errors.New("engine: caller is not the order's maker")
	ErrFillRoundsToZero = errors.New("engine: next fill in the sweep would settle zero quote")
)

// Result is the outcome of a successful Place call.
type Result struct {
	Hash         order.Hash
	FilledBase   uint64
	ResidualBase uint64
}

// Engine owns the matching state for exactly one Book and the single
// executor identity it uses to call the shared Ledger.
type Engine struct {
	mu sync.Mutex

	pair       config.Pair
	executorID string
	domain     config.Domain

	book   *book.Book
	ledger *ledger.Ledger
	index  *orderindex.Index
	clk    clock.Clock
	bus    *events.Bus
}

// New creates an Engine for pair, backed by ledger and identified to
// it as executorID (the capability the Factory authorised).
func New(pair config.Pair, executorID string, domain config.Domain, l *ledger.Ledger, clk clock.Clock, bus *events.Bus) *Engine {
	return &Engine{
		pair:       pair,
		executorID: executorID,
		domain:     domain,
		book:       book.New(pair),
		ledger:     l,
		index:      orderindex.New(),
		clk:        clk,
		bus:        bus,
	}
}

// Pair returns the book's immutable configuration.
func (e *Engine) Pair() config.Pair { return e.pair }

// Book exposes the read-only book surface (best bid/ask, depth, price
// levels) to the gateway.
func (e *Engine) Book() *book.Book { return e.book }

// OrderInfo returns the lifecycle record for a hash, live or terminal.
func (e *Engine) OrderInfo(hash order.Hash) (orderindex.Record, bool) {
	return e.index.Info(hash)
}

// UserOrders lists a user's currently live order hashes.
func (e *Engine) UserOrders(user string) []order.Hash {
	return e.index.UserOrders(user)
}

func (e *Engine) isExpired(expiry uint64) bool {
	return expiry != 0 && expiry < uint64(e.clk.Now().Unix())
}

// Place validates, fund-locks, sweeps, and rests the residual of a new
// order, per spec.md §4.4.
func (e *Engine) Place(o order.Order) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if o.BaseAsset != e.pair.BaseAsset || o.QuoteAsset != e.pair.QuoteAsset {
		return Result{}, ErrAssetMismatch
	}
	if o.BaseAmount == 0 {
		return Result{}, ErrZeroBaseAmount
	}
	t0, err := money.ValidateTickAligned(o.Price, e.pair.TickSize)
	if err != nil {
		return Result{}, err
	}
	if e.isExpired(o.Expiry) {
		return Result{}, ErrExpiredOnSubmit
	}

	hash := order.HashWithDomain(o, e.domain)
	if e.index.IsLive(hash) {
		return Result{}, ErrDuplicateHash
	}

	lockedAsset, lockedAmount, err := e.lockAmountFor(o)
	if err != nil {
		return Result{}, err
	}
	if err := e.ledger.Lock(e.executorID, o.Maker, lockedAsset, lockedAmount); err != nil {
		return Result{}, err
	}

	remaining := o.BaseAmount
	quoteSpent := new(uint256.Int)
	sweepErr := e.sweep(&o, t0, &remaining, quoteSpent)
	filled := o.BaseAmount - remaining

	if sweepErr != nil {
		refund := abortRefund(o.Side, lockedAmount, remaining, quoteSpent)
		if refund != nil && !refund.IsZero() {
			if uerr := e.ledger.Unlock(e.executorID, o.Maker, lockedAsset, refund); uerr != nil {
				log.Error().Err(uerr).Msg("engine: failed to refund after aborted sweep")
			}
		}
		return Result{Hash: hash, FilledBase: filled}, sweepErr
	}

	if o.Side == book.Buy {
		e.refundBuyOverlock(o, lockedAmount, remaining, quoteSpent)
	}

	if remaining == 0 {
		e.index.Register(hash, o.Maker, orderindex.Locator{}, o.BaseAmount, e.clk.Now(), o.Expiry)
		_ = e.index.Retire(hash, orderindex.Filled, filled)
		return Result{Hash: hash, FilledBase: filled}, nil
	}

	id := e.book.NextOrderID()
	node := &queue.Node{ID: id, OrderHash: hash, Maker: o.Maker, RemainingBase: remaining}
	e.book.QueueAt(o.Side, t0).Enqueue(node)
	e.book.SyncLevel(o.Side, t0)

	e.index.Register(hash, o.Maker, orderindex.Locator{Side: o.Side, Tick: t0, ID: id}, o.BaseAmount, e.clk.Now(), o.Expiry)
	if filled > 0 {
		e.index.UpdateFilled(hash, filled)
	}

	e.bus.Publish(events.Event{Kind: events.OrderPlaced, At: e.clk.Now(), OrderHash: hash, OrderID: id, Maker: o.Maker})
	return Result{Hash: hash, FilledBase: filled, ResidualBase: remaining}, nil
}

// lockAmountFor computes the asset and amount the taker must have
// reserved before the sweep begins: the full base amount for a sell,
// or the ceiling quote cost at the order's own limit price for a buy.
func (e *Engine) lockAmountFor(o order.Order) (asset string, amount *uint256.Int, err error) {
	if o.Side == book.Sell {
		return o.BaseAsset, uint256.NewInt(o.BaseAmount), nil
	}
	quote, err := money.QuoteCeil(o.BaseAmount, o.Price)
	if err != nil {
		return "", nil, err
	}
	if err := money.RequirePositiveQuote(quote); err != nil {
		return "", nil, err
	}
	return o.QuoteAsset, quote, nil
}

// abortRefund computes how much of the up-front lock to return when a
// sweep aborts mid-way: no residual ever rests after an abort, so the
// whole unconsumed reservation is returned. Fills settled before the
// abort are not undone.
func abortRefund(side book.Side, locked *uint256.Int, remainingBase uint64, quoteSpent *uint256.Int) *uint256.Int {
	if side == book.Sell {
		return uint256.NewInt(remainingBase)
	}
	return new(uint256.Int).Sub(locked, quoteSpent)
}

// refundBuyOverlock returns the portion of a buy's up-front ceiling
// lock no longer needed: quoteSpent already left the locked balance
// via settlement, and a resting remainder only needs its own ceiling
// cost held back, so anything beyond that — the price-improvement
// surplus across every maker fill — is unlocked back to the taker.
func (e *Engine) refundBuyOverlock(o order.Order, locked *uint256.Int, remainingBase uint64, quoteSpent *uint256.Int) {
	stillNeeded := new(uint256.Int)
	if remainingBase > 0 {
		if needed, err := money.QuoteCeil(remainingBase, o.Price); err == nil {
			stillNeeded = needed
		}
	}
	committed := new(uint256.Int).Add(quoteSpent, stillNeeded)
	if locked.Cmp(committed) <= 0 {
		return
	}
	refund := new(uint256.Int).Sub(locked, committed)
	if err := e.ledger.Unlock(e.executorID, o.Maker, o.QuoteAsset, refund); err != nil {
		log.Error().Err(err).Msg("engine: failed to refund buy-side price-improvement surplus")
	}
}

// sweep walks the opposite side from its best price toward the taker's
// limit, consuming resting liquidity level by level until remaining
// reaches zero or no more crossing liquidity exists. It returns a
// non-nil error when a fill would settle zero quote, when the quote
// computation overflows, or when a Ledger settlement call fails; fills
// already settled earlier in the same sweep remain final.
func (e *Engine) sweep(taker *order.Order, t0 tickindex.Tick, remaining *uint64, quoteSpent *uint256.Int) error {
	makerSide := book.Sell
	if taker.Side == book.Sell {
		makerSide = book.Buy
	}

	lo, hi := t0, tickindex.Tick(money.MaxTickIndex+1)
	if taker.Side == book.Buy {
		lo, hi = 1, t0+1
	}

	for *remaining > 0 {
		var tick tickindex.Tick
		var ok bool
		if makerSide == book.Buy {
			tick, ok = e.book.BestBidInRange(lo, hi)
		} else {
			tick, ok = e.book.BestAskInRange(lo, hi)
		}
		if !ok {
			return nil
		}

		progressed, err := e.fillAtLevel(taker, makerSide, tick, remaining, quoteSpent)
		if err != nil {
			return err
		}
		if progressed {
			continue
		}

		// This level held nothing but the taker's own resting orders
		// (or only expired ones, now evicted); exclude it and keep
		// sweeping past it.
		if makerSide == book.Buy {
			hi = tick
		} else {
			lo = tick + 1
		}
	}
	return nil
}

// fillAtLevel walks makerSide's queue at tick in FIFO order, matching
// against the taker until it is filled, the level is exhausted, or an
// expired/self-trade node forces the walk to skip or evict. progressed
// reports whether any base was actually transferred at this level, so
// the caller knows whether to keep searching the same level bound or
// move past it.
func (e *Engine) fillAtLevel(taker *order.Order, makerSide book.Side, tick tickindex.Tick, remaining *uint64, quoteSpent *uint256.Int) (progressed bool, err error) {
	q, ok := e.book.PeekQueueAt(makerSide, tick)
	if !ok {
		return false, nil
	}
	price := money.PriceAt(tick, e.pair.TickSize)

	node, hasNode := q.Head()
	for hasNode && *remaining > 0 {
		if node.Maker == taker.Maker {
			node, hasNode = q.NextOf(node)
			continue
		}

		if rec, ok := e.index.Info(node.OrderHash); ok && rec.Status == orderindex.Live && e.isExpired(rec.Expiry) {
			e.evictResting(makerSide, tick, node, price, orderindex.Expired)
			node, hasNode = q.Head()
			continue
		}

		fillBase := min64(*remaining, node.RemainingBase)
		quote, qerr := money.QuoteFloor(fillBase, price)
		if qerr != nil {
			return progressed, qerr
		}
		if err := money.RequirePositiveQuote(quote); err != nil {
			return progressed, ErrFillRoundsToZero
		}

		makerHash, makerOwner, makerID := node.OrderHash, node.Maker, node.ID
		remainingBeforeFill := node.RemainingBase
		if err := e.settleFill(taker, makerOwner, fillBase, quote); err != nil {
			return progressed, err
		}

		*remaining -= fillBase
		quoteSpent.Add(quoteSpent, quote)
		progressed = true

		final := fillBase == remainingBeforeFill
		if final {
			q.Remove(makerID)
			rec, _ := e.index.Info(makerHash)
			_ = e.index.Retire(makerHash, orderindex.Filled, rec.InitialBase)
		} else {
			_ = q.Decrement(makerID, fillBase)
			rec, _ := e.index.Info(makerHash)
			e.index.UpdateFilled(makerHash, rec.InitialBase-(remainingBeforeFill-fillBase))
		}
		e.book.SyncLevel(makerSide, tick)

		e.bus.Publish(events.Event{
			Kind: events.OrderFilled, At: e.clk.Now(), OrderHash: makerHash,
			Maker: makerOwner, Taker: taker.Maker, FillBase: fillBase, Quote: quote,
			Price: price, IsFinal: final,
		})
		log.Info().Str("taker", taker.Maker).Str("maker", makerOwner).
			Uint64("fillBase", fillBase).Str("quote", quote.String()).Msg("order filled")

		if final {
			node, hasNode = q.Head()
		} else {
			// Taker's remaining reached zero against a partially-filled
			// maker; that maker stays at head for the next sweep.
			break
		}
	}
	return progressed, nil
}

// settleFill moves fillBase units of base and quote (at the maker's
// resting price) between the two parties' locked/free balances.
func (e *Engine) settleFill(taker *order.Order, makerOwner string, fillBase uint64, quote *uint256.Int) error {
	base := uint256.NewInt(fillBase)
	if taker.Side == book.Buy {
		if err := e.ledger.TransferLocked(e.executorID, taker.Maker, makerOwner, taker.QuoteAsset, quote); err != nil {
			return err
		}
		return e.ledger.TransferLocked(e.executorID, makerOwner, taker.Maker, taker.BaseAsset, base)
	}
	if err := e.ledger.TransferLocked(e.executorID, taker.Maker, makerOwner, taker.BaseAsset, base); err != nil {
		return err
	}
	return e.ledger.TransferLocked(e.executorID, makerOwner, taker.Maker, taker.QuoteAsset, quote)
}

// evictResting removes a resting node that can no longer stand (expiry
// or cancellation), refunds its maker's remaining reservation, and
// retires it in the order index under the given terminal status.
func (e *Engine) evictResting(side book.Side, tick tickindex.Tick, node *queue.Node, price *uint256.Int, status orderindex.Status) {
	remainingBase := node.RemainingBase
	hash, maker := node.OrderHash, node.Maker

	q, ok := e.book.PeekQueueAt(side, tick)
	if !ok {
		return
	}
	q.Remove(node.ID)
	e.book.SyncLevel(side, tick)

	asset, amount := e.restingReservation(side, remainingBase, price)
	if amount != nil && !amount.IsZero() {
		if err := e.ledger.Unlock(e.executorID, maker, asset, amount); err != nil {
			log.Error().Err(err).Msg("engine: failed to refund evicted resting order")
		}
	}

	rec, _ := e.index.Info(hash)
	filled := rec.InitialBase - remainingBase
	if err := e.index.Retire(hash, status, filled); err != nil {
		log.Error().Err(err).Msg("engine: failed to retire evicted resting order")
	}

	kind := events.OrderExpired
	if status == orderindex.Cancelled {
		kind = events.OrderCancelled
	}
	e.bus.Publish(events.Event{Kind: kind, At: e.clk.Now(), OrderHash: hash, Maker: maker})
}

// restingReservation returns the asset and amount still locked on
// behalf of a resting node of the given side at price.
func (e *Engine) restingReservation(side book.Side, remainingBase uint64, price *uint256.Int) (string, *uint256.Int) {
	if side == book.Sell {
		return e.pair.BaseAsset, uint256.NewInt(remainingBase)
	}
	quote, err := money.QuoteCeil(remainingBase, price)
	if err != nil {
		return e.pair.QuoteAsset, nil
	}
	return e.pair.QuoteAsset, quote
}

// CancelByHash removes a live resting order and refunds its
// reservation, provided caller is its maker.
func (e *Engine) CancelByHash(hash order.Hash, caller string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	loc, ok := e.index.Locate(hash)
	if !ok {
		return ErrOrderNotFound
	}
	rec, ok := e.index.Info(hash)
	if !ok {
		return ErrOrderNotFound
	}
	if rec.Maker != caller {
		return ErrNotMaker
	}

	q, ok := e.book.PeekQueueAt(loc.Side, loc.Tick)
	if !ok {
		return ErrOrderNotFound
	}
	var target *queue.Node
	for _, n := range q.Nodes() {
		if n.ID == loc.ID {
			target = n
			break
		}
	}
	if target == nil {
		return ErrOrderNotFound
	}

	status := orderindex.Cancelled
	if e.isExpired(rec.Expiry) {
		status = orderindex.Expired
	}
	price := money.PriceAt(loc.Tick, e.pair.TickSize)
	e.evictResting(loc.Side, loc.Tick, target, price, status)
	return nil
}

// CleanupExpired actively evicts expired resting orders across both
// sides within [lo, hi), stopping after max evictions (0 = unbounded).
// This is the active counterpart to the lazy eviction fillAtLevel
// performs when its walk happens to reach an expired node.
func (e *Engine) CleanupExpired(lo, hi tickindex.Tick, max int) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	evicted := 0
	for _, side := range []book.Side{book.Buy, book.Sell} {
		for t := lo; t < hi; t++ {
			q, ok := e.book.PeekQueueAt(side, t)
			if !ok {
				continue
			}
			price := money.PriceAt(t, e.pair.TickSize)
			for _, n := range q.Nodes() {
				if max > 0 && evicted >= max {
					return evicted
				}
				rec, ok := e.index.Info(n.OrderHash)
				if !ok || rec.Status != orderindex.Live || !e.isExpired(rec.Expiry) {
					continue
				}
				e.evictResting(side, t, n, price, orderindex.Expired)
				evicted++
			}
		}
	}
	return evicted
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
