// Package money implements the scaled-integer price arithmetic of the
// book: prices and quote amounts are 256-bit unsigned integers
// (github.com/holiman/uint256), base amounts are plain uint64.
package money

import (
	"errors"

	"github.com/holiman/uint256"
)

// PriceScale is the fixed-point scale for price: "quote per one base"
// is stored multiplied by 10^18.
var PriceScale = uint256.NewInt(1_000_000_000_000_000_000)

// MaxTickIndex bounds the price lattice a single book can represent.
// This is the reference bound from the tick index's bitmap capacity;
// implementations needing a wider range should shard into more books
// or generalise the index, not raise this constant casually.
const MaxTickIndex = 32767

var (
	ErrZeroPrice        = errors.New("money: price must be greater than zero")
	ErrMisalignedPrice  = errors.New("money: price is not a multiple of tick size")
	ErrPriceOutOfRange  = errors.New("money: tick index out of range")
	ErrZeroTickSize     = errors.New("money: tick size must be greater than zero")
	ErrQuoteRoundsZero  = errors.New("money: quote amount rounds to zero")
)

// Tick is an integer position on a book's price lattice:
// price = tick * tick_size.
type Tick uint32

// ValidateTickAligned checks that price is a positive multiple of
// tickSize and returns its tick index, bounded by MaxTickIndex.
func ValidateTickAligned(price *uint256.Int, tickSize uint64) (Tick, error) {
	if tickSize == 0 {
		return 0, ErrZeroTickSize
	}
	if price == nil || price.IsZero() {
		return 0, ErrZeroPrice
	}

	ts := uint256.NewInt(tickSize)
	mod := new(uint256.Int).Mod(price, ts)
	if !mod.IsZero() {
		return 0, ErrMisalignedPrice
	}

	tickBig := new(uint256.Int).Div(price, ts)
	if !tickBig.IsUint64() {
		return 0, ErrPriceOutOfRange
	}
	t := tickBig.Uint64()
	if t == 0 || t > MaxTickIndex {
		return 0, ErrPriceOutOfRange
	}
	return Tick(t), nil
}

// PriceAt reconstructs the scaled price for a tick under tickSize.
func PriceAt(t Tick, tickSize uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(uint64(t)), uint256.NewInt(tickSize))
}

// QuoteFloor computes floor(base * price / PRICE_SCALE), the
// settlement amount for a fill.
func QuoteFloor(base uint64, price *uint256.Int) (*uint256.Int, error) {
	b := uint256.NewInt(base)
	q := new(uint256.Int)
	_, overflow := q.MulDivOverflow(b, price, PriceScale)
	if overflow {
		return nil, errors.New("money: quote computation overflowed 256 bits")
	}
	return q, nil
}

// QuoteCeil computes ceil(base * price / PRICE_SCALE), the amount a
// buy_base order must lock up front.
func QuoteCeil(base uint64, price *uint256.Int) (*uint256.Int, error) {
	floor, err := QuoteFloor(base, price)
	if err != nil {
		return nil, err
	}
	b := uint256.NewInt(base)
	rem := new(uint256.Int).MulMod(b, price, PriceScale)
	if rem.IsZero() {
		return floor, nil
	}
	return new(uint256.Int).AddUint64(floor, 1), nil
}

// RequirePositiveQuote rejects a fill/lock whose quote would floor to
// zero — spec.md's explicit "quote == 0 is rejected" rule.
func RequirePositiveQuote(quote *uint256.Int) error {
	if quote == nil || quote.IsZero() {
		return ErrQuoteRoundsZero
	}
	return nil
}
