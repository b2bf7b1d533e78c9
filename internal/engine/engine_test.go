package engine_test

import (
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clob/internal/book"
	"clob/internal/clock"
	"clob/internal/config"
	"clob/internal/engine"
	"clob/internal/events"
	"clob/internal/ledger"
	"clob/internal/money"
	"clob/internal/order"
	"clob/internal/orderindex"
)

const executorID = "book-executor-1"

// tickGranularity makes one tick equal one whole unit of quote per
// base, matching spec.md §8's literal "price 2", "price 5" scenarios
// once scaled by PRICE_SCALE.
var tickGranularity = money.PriceScale.Uint64()

func setup(t *testing.T) (*engine.Engine, *ledger.Ledger, *clock.Fake, *events.Bus) {
	t.Helper()
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	bus := events.NewBus(64)
	l := ledger.New(clk, bus, 48*time.Hour)
	l.AddSupportedAssetNow("BTC")
	l.AddSupportedAssetNow("USD")
	l.AuthorizeExecutorNow(executorID)

	pair := config.Pair{BaseAsset: "BTC", QuoteAsset: "USD", TickSize: tickGranularity}
	e := engine.New(pair, executorID, config.DefaultDomain(), l, clk, bus)
	return e, l, clk, bus
}

func fund(t *testing.T, l *ledger.Ledger, user, asset string, amount uint64) {
	t.Helper()
	require.NoError(t, l.Deposit(user, asset, uint256.NewInt(amount)))
}

// price turns a literal whole-unit price (as in spec.md §8's
// scenarios) into its scaled representation.
func price(n uint64) *uint256.Int { return new(uint256.Int).Mul(uint256.NewInt(n), money.PriceScale) }

func sellOrder(maker string, base uint64, p uint64, expiry, nonce uint64) order.Order {
	return order.Order{
		Maker: maker, BaseAsset: "BTC", QuoteAsset: "USD", BookAddress: "BTC-USD",
		BaseAmount: base, Price: price(p), Side: order.Sell, Expiry: expiry, Nonce: nonce,
	}
}

func buyOrder(maker string, base uint64, p uint64, expiry, nonce uint64) order.Order {
	return order.Order{
		Maker: maker, BaseAsset: "BTC", QuoteAsset: "USD", BookAddress: "BTC-USD",
		BaseAmount: base, Price: price(p), Side: order.Buy, Expiry: expiry, Nonce: nonce,
	}
}

// S1. Single crossing fill.
func TestSingleCrossingFill(t *testing.T) {
	e, l, _, _ := setup(t)
	fund(t, l, "alice", "BTC", 100)
	fund(t, l, "bob", "USD", 180)

	res, err := e.Place(sellOrder("alice", 100, 2, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, uint64(100), res.ResidualBase)

	res, err = e.Place(buyOrder("bob", 60, 3, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, uint64(60), res.FilledBase)
	assert.Equal(t, uint64(0), res.ResidualBase)

	assert.Equal(t, uint256.NewInt(120), l.GetTotalBalance("alice", "USD"))
	assert.Equal(t, uint256.NewInt(60), l.GetTotalBalance("bob", "BTC"))
	assert.Equal(t, uint256.NewInt(60), l.GetAvailableBalance("bob", "USD"))
	assert.Equal(t, uint256.NewInt(0), l.GetLockedBalance("bob", "USD"))
	assert.Equal(t, uint256.NewInt(40), l.GetLockedBalance("alice", "BTC"))

	tick, total, ok := e.Book().BestAsk()
	require.True(t, ok)
	assert.Equal(t, uint64(2), uint64(tick))
	assert.Equal(t, uint64(40), total)

	_, _, ok = e.Book().BestBid()
	assert.False(t, ok)
}

// S2. FIFO at a price level.
func TestFIFOAtPriceLevel(t *testing.T) {
	e, l, _, _ := setup(t)
	fund(t, l, "alice", "BTC", 10)
	fund(t, l, "bob", "BTC", 10)
	fund(t, l, "carol", "USD", 75)

	_, err := e.Place(sellOrder("alice", 10, 5, 0, 1))
	require.NoError(t, err)
	_, err = e.Place(sellOrder("bob", 10, 5, 0, 1))
	require.NoError(t, err)

	res, err := e.Place(buyOrder("carol", 15, 5, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, uint64(15), res.FilledBase)
	assert.Equal(t, uint64(0), res.ResidualBase)

	assert.Equal(t, uint256.NewInt(50), l.GetTotalBalance("alice", "USD"))
	assert.Equal(t, uint256.NewInt(0), l.GetTotalBalance("alice", "BTC"))
	assert.Equal(t, uint256.NewInt(25), l.GetTotalBalance("bob", "USD"))
	assert.Equal(t, uint256.NewInt(5), l.GetLockedBalance("bob", "BTC"))

	q, ok := e.Book().PeekQueueAt(book.Sell, 5)
	require.True(t, ok)
	head, ok := q.Head()
	require.True(t, ok)
	assert.Equal(t, "bob", head.Maker)
	assert.Equal(t, uint64(5), head.RemainingBase)
}

// S3. Self-trade skip.
func TestSelfTradeSkip(t *testing.T) {
	e, l, _, _ := setup(t)
	fund(t, l, "alice", "BTC", 10)
	fund(t, l, "alice", "USD", 50)

	_, err := e.Place(sellOrder("alice", 10, 5, 0, 1))
	require.NoError(t, err)

	res, err := e.Place(buyOrder("alice", 10, 5, 0, 2))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), res.FilledBase)
	assert.Equal(t, uint64(10), res.ResidualBase)

	askTick, askTotal, ok := e.Book().BestAsk()
	require.True(t, ok)
	assert.Equal(t, uint64(5), uint64(askTick))
	assert.Equal(t, uint64(10), askTotal)

	bidTick, bidTotal, ok := e.Book().BestBid()
	require.True(t, ok)
	assert.Equal(t, uint64(5), uint64(bidTick))
	assert.Equal(t, uint64(10), bidTotal)
}

// S4. Expired maker evicted by taker sweep.
func TestExpiredMakerEvicted(t *testing.T) {
	e, l, clk, _ := setup(t)
	fund(t, l, "alice", "BTC", 10)
	fund(t, l, "bob", "USD", 50)

	clk.Set(time.Unix(100, 0))
	res, err := e.Place(sellOrder("alice", 10, 5, 150, 1))
	require.NoError(t, err)
	aliceHash := res.Hash

	clk.Set(time.Unix(200, 0))
	res, err = e.Place(buyOrder("bob", 10, 5, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), res.FilledBase)
	assert.Equal(t, uint64(10), res.ResidualBase)

	rec, ok := e.OrderInfo(aliceHash)
	require.True(t, ok)
	assert.Equal(t, orderindex.Expired, rec.Status)
	assert.Equal(t, uint64(0), rec.FilledBase)
	assert.Equal(t, uint256.NewInt(10), l.GetAvailableBalance("alice", "BTC"))

	bidTick, _, ok := e.Book().BestBid()
	require.True(t, ok)
	assert.Equal(t, uint64(5), uint64(bidTick))
}

// S5. Price improvement.
func TestPriceImprovement(t *testing.T) {
	e, l, _, _ := setup(t)
	fund(t, l, "alice", "BTC", 5)
	fund(t, l, "bob", "USD", 60)

	_, err := e.Place(sellOrder("alice", 5, 10, 0, 1))
	require.NoError(t, err)

	res, err := e.Place(buyOrder("bob", 5, 12, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, uint64(5), res.FilledBase)

	assert.Equal(t, uint256.NewInt(50), l.GetTotalBalance("alice", "USD"))
	assert.Equal(t, uint256.NewInt(10), l.GetAvailableBalance("bob", "USD"))
	assert.Equal(t, uint256.NewInt(0), l.GetLockedBalance("bob", "USD"))
}

// S6. Cancel by hash.
func TestCancelByHash(t *testing.T) {
	e, l, _, _ := setup(t)
	fund(t, l, "alice", "BTC", 7)

	res, err := e.Place(sellOrder("alice", 7, 3, 0, 1))
	require.NoError(t, err)

	require.NoError(t, e.CancelByHash(res.Hash, "alice"))

	_, ok := e.Book().PeekQueueAt(book.Sell, 3)
	assert.False(t, ok)
	assert.Equal(t, uint256.NewInt(7), l.GetAvailableBalance("alice", "BTC"))
	assert.Equal(t, uint256.NewInt(0), l.GetLockedBalance("alice", "BTC"))

	rec, ok := e.OrderInfo(res.Hash)
	require.True(t, ok)
	assert.Equal(t, orderindex.Cancelled, rec.Status)
	assert.Equal(t, uint64(0), rec.FilledBase)

	err = e.CancelByHash(res.Hash, "alice")
	assert.ErrorIs(t, err, engine.ErrOrderNotFound)
}

// S6b. Cancelling an order whose expiry has already passed records it
// as EXPIRED, not CANCELLED (spec.md §4.4.5).
func TestCancelByHashOnExpiredOrder(t *testing.T) {
	e, l, clk, bus := setup(t)
	fund(t, l, "alice", "BTC", 7)

	clk.Set(time.Unix(100, 0))
	res, err := e.Place(sellOrder("alice", 7, 3, 150, 1))
	require.NoError(t, err)
	drainEvents(bus)

	clk.Set(time.Unix(200, 0))
	require.NoError(t, e.CancelByHash(res.Hash, "alice"))

	rec, ok := e.OrderInfo(res.Hash)
	require.True(t, ok)
	assert.Equal(t, orderindex.Expired, rec.Status)
	assert.Equal(t, uint64(0), rec.FilledBase)
	assert.Equal(t, uint256.NewInt(7), l.GetAvailableBalance("alice", "BTC"))

	// The ledger shares the bus: its refund publishes BalanceUnlocked
	// just before the engine's OrderExpired.
	evs := drainEvents(bus)
	require.Len(t, evs, 2)
	assert.Equal(t, events.BalanceUnlocked, evs[0].Kind)
	assert.Equal(t, events.OrderExpired, evs[1].Kind)
}

// drainEvents reads every event currently buffered on bus without
// blocking.
func drainEvents(bus *events.Bus) []events.Event {
	var out []events.Event
	for {
		select {
		case e := <-bus.Events():
			out = append(out, e)
		default:
			return out
		}
	}
}

// A fill whose floor(base*price/PRICE_SCALE) rounds to zero aborts the
// sweep in place: fills already committed earlier in the same sweep
// stay final, and the unconsumed reservation is refunded (spec.md §9,
// Open Question (a)).
func TestSweepAbortsOnZeroQuoteFill(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	bus := events.NewBus(64)
	l := ledger.New(clk, bus, 48*time.Hour)
	l.AddSupportedAssetNow("BTC")
	l.AddSupportedAssetNow("USD")
	l.AuthorizeExecutorNow(executorID)

	// tick_size = 1 (unscaled): a one-unit fill at tick 1 floors to zero
	// quote since 1*1/PRICE_SCALE == 0.
	pair := config.Pair{BaseAsset: "BTC", QuoteAsset: "USD", TickSize: 1}
	e := engine.New(pair, executorID, config.DefaultDomain(), l, clk, bus)

	fund(t, l, "alice", "BTC", 1)
	fund(t, l, "bob", "USD", 1)

	_, err := e.Place(order.Order{
		Maker: "alice", BaseAsset: "BTC", QuoteAsset: "USD", BookAddress: "BTC-USD",
		BaseAmount: 1, Price: uint256.NewInt(1), Side: order.Sell, Nonce: 1,
	})
	require.NoError(t, err)

	_, err = e.Place(order.Order{
		Maker: "bob", BaseAsset: "BTC", QuoteAsset: "USD", BookAddress: "BTC-USD",
		BaseAmount: 1, Price: uint256.NewInt(1), Side: order.Buy, Nonce: 1,
	})
	assert.ErrorIs(t, err, engine.ErrFillRoundsToZero)

	assert.Equal(t, uint256.NewInt(1), l.GetAvailableBalance("bob", "USD"))
	assert.Equal(t, uint256.NewInt(0), l.GetLockedBalance("bob", "USD"))
	assert.Equal(t, uint256.NewInt(1), l.GetLockedBalance("alice", "BTC"))
}

func TestDuplicateHashRejected(t *testing.T) {
	e, l, _, _ := setup(t)
	fund(t, l, "alice", "BTC", 20)

	o := sellOrder("alice", 10, 5, 0, 1)
	_, err := e.Place(o)
	require.NoError(t, err)

	_, err = e.Place(o)
	assert.ErrorIs(t, err, engine.ErrDuplicateHash)
}
