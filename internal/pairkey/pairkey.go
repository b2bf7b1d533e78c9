// Package pairkey canonicalises a (base, quote) asset pair so that a
// Book can be looked up regardless of the order a caller names the
// two assets in.
package pairkey

import "fmt"

// Canonical returns (base, quote) reordered lexicographically so the
// pair (a, b) and (b, a) resolve to the same book.
func Canonical(a, b string) (base, quote string) {
	if a <= b {
		return a, b
	}
	return b, a
}

// Key is the opaque, comparable identity of a Book: the canonical
// asset pair plus its tick size.
type Key struct {
	Base     string
	Quote    string
	TickSize uint64
}

// New builds a canonical Key from two assets in any order.
func New(a, b string, tickSize uint64) Key {
	base, quote := Canonical(a, b)
	return Key{Base: base, Quote: quote, TickSize: tickSize}
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s@%d", k.Base, k.Quote, k.TickSize)
}
