// Package gateway routes authenticated order submissions to the
// correct Book, per spec.md §4.6: canonical hashing, signature
// verification, per-maker nonce monotonicity, and book resolution by
// the canonical (base, quote, tick_size) triple.
package gateway

import (
	"errors"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"clob/internal/config"
	"clob/internal/engine"
	"clob/internal/factory"
	"clob/internal/order"
	"clob/internal/pairkey"
)

var (
	ErrBadSignatureLength = errors.New("gateway: signature must be 65 bytes (r, s, v)")
	ErrSignatureRecovery  = errors.New("gateway: could not recover a public key from the signature")
	ErrSignatureMismatch  = errors.New("gateway: signature does not recover to order.Maker")
	ErrNonceTooLow        = errors.New("gateway: nonce is below the maker's next expected nonce")
	ErrBookMismatch       = errors.New("gateway: order.BookAddress does not match the resolved book")
	ErrNotMaker           = errors.New("gateway: caller does not match order.Maker and no valid signature was supplied")
)

// PlaceResult is what a caller of Gateway.Place gets back, mirroring
// spec.md §6's `place_limit_order(order, signature?) -> {hash,
// filled_base}`.
type PlaceResult struct {
	Hash         order.Hash
	FilledBase   uint64
	ResidualBase uint64
}

// Gateway is the single entry point external callers submit orders
// and cancellations through. It holds no book state of its own;
// everything it does is validate-then-delegate to the Factory's
// Books.
type Gateway struct {
	mu        sync.Mutex
	factory   *factory.Factory
	domain    config.Domain
	nextNonce map[string]uint64

	t     *tomb.Tomb
	loops *Loops
}

// New creates a Gateway in front of f, using domain to compute
// canonical order hashes. The Gateway supervises its own tomb for the
// per-Book command loops it starts on first use of each Book; call
// Stop to tear them down.
func New(f *factory.Factory, domain config.Domain) *Gateway {
	t := &tomb.Tomb{}
	return &Gateway{
		factory:   f,
		domain:    domain,
		nextNonce: make(map[string]uint64),
		t:         t,
		loops:     NewLoops(t),
	}
}

// Stop signals every per-Book command loop to exit and waits for them
// to drain.
func (g *Gateway) Stop() error {
	g.t.Kill(nil)
	return g.t.Wait()
}

// HashOrder computes o's canonical, domain-separated hash.
func (g *Gateway) HashOrder(o order.Order) order.Hash {
	return order.HashWithDomain(o, g.domain)
}

// NextNonce reports the next nonce Place will accept for maker.
func (g *Gateway) NextNonce(maker string) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.nextNonce[maker]
}

// verifyAuthenticity checks the order is authentically maker's: the
// caller-equals-maker bypass needs no signature, otherwise sig must
// recover to order.Maker over the canonical hash (spec.md §4.6).
func (g *Gateway) verifyAuthenticity(o order.Order, caller string, sig []byte) error {
	if caller != "" && caller == o.Maker {
		return nil
	}
	if len(sig) != 65 {
		return ErrBadSignatureLength
	}
	hash := g.HashOrder(o)
	pub, err := crypto.SigToPub(hash[:], sig)
	if err != nil {
		return ErrSignatureRecovery
	}
	recovered := crypto.PubkeyToAddress(*pub).Hex()
	if !strings.EqualFold(recovered, o.Maker) {
		return ErrSignatureMismatch
	}
	return nil
}

// checkAndAdvanceNonce enforces per-maker monotonicity: accept iff
// nonce >= next_nonce[maker], then set next_nonce[maker] = nonce + 1.
func (g *Gateway) checkAndAdvanceNonce(maker string, nonce uint64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if nonce < g.nextNonce[maker] {
		return ErrNonceTooLow
	}
	g.nextNonce[maker] = nonce + 1
	return nil
}

// resolveBook canonicalises (base, quote) and looks up the Book for
// tickSize, validating any explicit book reference the order carries.
func (g *Gateway) resolveBook(o order.Order, tickSize uint64) (*engine.Engine, error) {
	e, err := g.factory.EnsureBook(o.BaseAsset, o.QuoteAsset, tickSize)
	if err != nil {
		return nil, err
	}
	pair := e.Pair()
	address := pairkey.New(pair.BaseAsset, pair.QuoteAsset, pair.TickSize).String()
	if o.BookAddress != "" && o.BookAddress != address {
		return nil, ErrBookMismatch
	}
	return e, nil
}

// Place validates authenticity and nonce, resolves the Book, and
// delegates to its Engine. tickSize names which book among those
// sharing (base, quote) this order targets; a gateway deployment with
// one tick size per pair may hardcode this via config.Pair lookup.
func (g *Gateway) Place(o order.Order, caller string, sig []byte, tickSize uint64) (PlaceResult, error) {
	if err := g.verifyAuthenticity(o, caller, sig); err != nil {
		return PlaceResult{}, err
	}
	if err := g.checkAndAdvanceNonce(o.Maker, o.Nonce); err != nil {
		return PlaceResult{}, err
	}

	e, err := g.resolveBook(o, tickSize)
	if err != nil {
		return PlaceResult{}, err
	}

	var res engine.Result
	var placeErr error
	g.loops.Submit(e, func(e *engine.Engine) {
		res, placeErr = e.Place(o)
	})
	if placeErr != nil {
		log.Error().Err(placeErr).Str("maker", o.Maker).Msg("gateway: order placement failed")
		return PlaceResult{Hash: res.Hash, FilledBase: res.FilledBase}, placeErr
	}
	return PlaceResult{Hash: res.Hash, FilledBase: res.FilledBase, ResidualBase: res.ResidualBase}, nil
}

// CancelByOrder cancels using a full signed order, enabling a
// signed-by-maker third party to submit the cancellation on the
// maker's behalf.
func (g *Gateway) CancelByOrder(o order.Order, caller string, sig []byte, tickSize uint64) error {
	if err := g.verifyAuthenticity(o, caller, sig); err != nil {
		return err
	}
	e, err := g.resolveBook(o, tickSize)
	if err != nil {
		return err
	}
	hash := g.HashOrder(o)
	var cancelErr error
	g.loops.Submit(e, func(e *engine.Engine) {
		cancelErr = e.CancelByHash(hash, o.Maker)
	})
	return cancelErr
}

// CancelByHash cancels using only a hash; caller must be the order's
// maker (the Engine enforces this against its own OrderIndex record).
func (g *Gateway) CancelByHash(e *engine.Engine, hash order.Hash, caller string) error {
	var cancelErr error
	g.loops.Submit(e, func(e *engine.Engine) {
		cancelErr = e.CancelByHash(hash, caller)
	})
	return cancelErr
}

// BatchItem pairs one order with its submission metadata for
// BatchPlace/BatchCancel.
type BatchItem struct {
	Order    order.Order
	Caller   string
	Sig      []byte
	TickSize uint64
}

// BatchPlace processes each item independently: a per-item failure is
// recorded but does not abort the remaining items (spec.md §4.6).
func (g *Gateway) BatchPlace(items []BatchItem) []struct {
	Result PlaceResult
	Err    error
} {
	out := make([]struct {
		Result PlaceResult
		Err    error
	}, len(items))
	for i, it := range items {
		res, err := g.Place(it.Order, it.Caller, it.Sig, it.TickSize)
		out[i].Result, out[i].Err = res, err
	}
	return out
}

// BatchCancel mirrors BatchPlace for cancellations by full order.
func (g *Gateway) BatchCancel(items []BatchItem) []error {
	out := make([]error, len(items))
	for i, it := range items {
		out[i] = g.CancelByOrder(it.Order, it.Caller, it.Sig, it.TickSize)
	}
	return out
}
