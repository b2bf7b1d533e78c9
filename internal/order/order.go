// Package order defines the canonical, hashable Order tuple shared by
// the gateway and the matching engine, and its domain-separated
// content hash.
package order

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"clob/internal/book"
	"clob/internal/config"
)

// Side re-exports book.Side so callers only need one import for the
// order's direction.
type Side = book.Side

const (
	Buy  = book.Buy
	Sell = book.Sell
)

// Order is the canonical, hashable limit order.
type Order struct {
	Maker       string
	BaseAsset   string
	QuoteAsset  string
	BookAddress string
	BaseAmount  uint64
	Price       *uint256.Int
	Side        Side
	Expiry      uint64 // 0 = never; otherwise epoch seconds
	Nonce       uint64
}

// Hash is the canonical content-addressed identity of an order.
type Hash = [32]byte

// domainSeparator encodes (name, version, chain/system id, gateway
// identity) so the same order tuple hashed under two domains never
// collides.
func domainSeparator(d config.Domain) []byte {
	buf := make([]byte, 0, len(d.Name)+len(d.Version)+8+20)
	buf = append(buf, []byte(d.Name)...)
	buf = append(buf, 0)
	buf = append(buf, []byte(d.Version)...)
	buf = append(buf, 0)
	var chainID [8]byte
	binary.BigEndian.PutUint64(chainID[:], d.ChainID)
	buf = append(buf, chainID[:]...)
	buf = append(buf, d.GatewayAddress.Bytes()...)
	return buf
}

// CanonicalBytes encodes the order tuple in the fixed field order
// maker, base_asset, quote_asset, book, base_amount(u64), price(u256),
// side(bool), expiry(u256), nonce(u256).
func (o Order) CanonicalBytes() []byte {
	buf := make([]byte, 0, 256)
	buf = append(buf, []byte(o.Maker)...)
	buf = append(buf, 0)
	buf = append(buf, []byte(o.BaseAsset)...)
	buf = append(buf, 0)
	buf = append(buf, []byte(o.QuoteAsset)...)
	buf = append(buf, 0)
	buf = append(buf, []byte(o.BookAddress)...)
	buf = append(buf, 0)

	var baseAmount [8]byte
	binary.BigEndian.PutUint64(baseAmount[:], o.BaseAmount)
	buf = append(buf, baseAmount[:]...)

	if o.Price != nil {
		priceBytes := o.Price.Bytes32()
		buf = append(buf, priceBytes[:]...)
	} else {
		var zero [32]byte
		buf = append(buf, zero[:]...)
	}

	if o.Side == Sell {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}

	var expiry, nonce [32]byte
	binary.BigEndian.PutUint64(expiry[24:], o.Expiry)
	buf = append(buf, expiry[:]...)
	binary.BigEndian.PutUint64(nonce[24:], o.Nonce)
	buf = append(buf, nonce[:]...)

	return buf
}

// HashWithDomain computes the canonical, domain-separated hash of the
// order, recoverable against a maker's signature.
func HashWithDomain(o Order, d config.Domain) Hash {
	payload := append(domainSeparator(d), o.CanonicalBytes()...)
	return crypto.Keccak256Hash(payload)
}
