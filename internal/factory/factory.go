// Package factory creates and registers Books on demand, keyed by the
// canonical asset-pair triple, per spec.md §4.7.
package factory

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"clob/internal/clock"
	"clob/internal/config"
	"clob/internal/engine"
	"clob/internal/events"
	"clob/internal/ledger"
	"clob/internal/pairkey"
)

var (
	ErrAssetNotSupported = errors.New("factory: both assets must be supported by the ledger before a book can be created")
	ErrBookExists        = errors.New("factory: a book already exists for this pair and tick size")
	ErrBookNotFound      = errors.New("factory: no book exists for this pair and tick size")
)

// Factory creates Engines (Books) on demand and is the only component
// that grants Book executor capability on the shared Ledger.
type Factory struct {
	mu sync.Mutex

	ledger *ledger.Ledger
	domain config.Domain
	clk    clock.Clock
	bus    *events.Bus

	books map[pairkey.Key]*engine.Engine
}

// New creates an empty Factory bound to one Ledger.
func New(l *ledger.Ledger, domain config.Domain, clk clock.Clock, bus *events.Bus) *Factory {
	return &Factory{
		ledger: l,
		domain: domain,
		clk:    clk,
		bus:    bus,
		books:  make(map[pairkey.Key]*engine.Engine),
	}
}

// executorID is the capability identity the Factory registers on the
// Ledger for a Book it creates; it is opaque to everything but the
// Ledger's executor set.
func executorID(key pairkey.Key) string {
	return fmt.Sprintf("book:%s", key.String())
}

// CreateBook creates and registers a new Book for (a, b, tickSize). It
// fails if either asset is unsupported or a Book already exists for
// the canonical triple.
func (f *Factory) CreateBook(a, b string, tickSize uint64) (*engine.Engine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := pairkey.New(a, b, tickSize)
	if _, exists := f.books[key]; exists {
		return nil, ErrBookExists
	}
	if !f.ledger.IsSupportedAsset(key.Base) || !f.ledger.IsSupportedAsset(key.Quote) {
		return nil, ErrAssetNotSupported
	}

	id := executorID(key)
	pair := config.Pair{BaseAsset: key.Base, QuoteAsset: key.Quote, TickSize: key.TickSize}
	e := engine.New(pair, id, f.domain, f.ledger, f.clk, f.bus)

	f.ledger.AuthorizeExecutorNow(id)
	f.books[key] = e

	log.Info().Str("book", key.String()).Msg("factory created book")
	return e, nil
}

// Resolve looks up an existing Book for the canonical triple (a, b,
// tickSize), in either asset order.
func (f *Factory) Resolve(a, b string, tickSize uint64) (*engine.Engine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := pairkey.New(a, b, tickSize)
	e, ok := f.books[key]
	if !ok {
		return nil, ErrBookNotFound
	}
	return e, nil
}

// EnsureBook resolves an existing Book for the triple, creating one on
// first use. This is the entry point gateways use so a first order for
// a new pair does not require a separate admin step, provided both
// assets are already supported.
func (f *Factory) EnsureBook(a, b string, tickSize uint64) (*engine.Engine, error) {
	if e, err := f.Resolve(a, b, tickSize); err == nil {
		return e, nil
	}
	return f.CreateBook(a, b, tickSize)
}

// Books lists every currently registered pair key.
func (f *Factory) Books() []pairkey.Key {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]pairkey.Key, 0, len(f.books))
	for k := range f.books {
		keys = append(keys, k)
	}
	return keys
}
