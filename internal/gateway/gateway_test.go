package gateway_test

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clob/internal/clock"
	"clob/internal/config"
	"clob/internal/events"
	"clob/internal/factory"
	"clob/internal/gateway"
	"clob/internal/ledger"
	"clob/internal/order"
)

func setup(t *testing.T) (*gateway.Gateway, *ledger.Ledger) {
	t.Helper()
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	bus := events.NewBus(64)
	l := ledger.New(clk, bus, 48*time.Hour)
	l.AddSupportedAssetNow("BTC")
	l.AddSupportedAssetNow("USD")

	f := factory.New(l, config.DefaultDomain(), clk, bus)
	gw := gateway.New(f, config.DefaultDomain())
	return gw, l
}

func price(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1_000_000_000_000_000_000))
}

func TestCallerEqualsMakerNeedsNoSignature(t *testing.T) {
	gw, l := setup(t)
	require.NoError(t, l.Deposit("alice", "BTC", uint256.NewInt(10)))

	o := order.Order{Maker: "alice", BaseAsset: "BTC", QuoteAsset: "USD", BaseAmount: 10, Price: price(5), Side: order.Sell, Nonce: 0}
	res, err := gw.Place(o, "alice", nil, 1_000_000_000_000_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), res.ResidualBase)
}

func TestThirdPartyRequiresValidSignature(t *testing.T) {
	gw, l := setup(t)
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	maker := crypto.PubkeyToAddress(priv.PublicKey).Hex()
	require.NoError(t, l.Deposit(maker, "BTC", uint256.NewInt(10)))

	o := order.Order{Maker: maker, BaseAsset: "BTC", QuoteAsset: "USD", BaseAmount: 10, Price: price(5), Side: order.Sell, Nonce: 0}
	hash := gw.HashOrder(o)

	sig, err := crypto.Sign(hash[:], priv)
	require.NoError(t, err)

	_, err = gw.Place(o, "relayer", sig, 1_000_000_000_000_000_000)
	require.NoError(t, err)

	otherPriv, _ := crypto.GenerateKey()
	badSig, err := crypto.Sign(hash[:], otherPriv)
	require.NoError(t, err)
	o.Nonce = 1
	_, err = gw.Place(o, "relayer", badSig, 1_000_000_000_000_000_000)
	assert.ErrorIs(t, err, gateway.ErrSignatureMismatch)
}

func TestNonceMustBeMonotonic(t *testing.T) {
	gw, l := setup(t)
	require.NoError(t, l.Deposit("alice", "BTC", uint256.NewInt(20)))

	o := order.Order{Maker: "alice", BaseAsset: "BTC", QuoteAsset: "USD", BaseAmount: 5, Price: price(5), Side: order.Sell, Nonce: 3}
	_, err := gw.Place(o, "alice", nil, 1_000_000_000_000_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), gw.NextNonce("alice"))

	o.Nonce = 2
	_, err = gw.Place(o, "alice", nil, 1_000_000_000_000_000_000)
	assert.ErrorIs(t, err, gateway.ErrNonceTooLow)
}

func TestExplicitBookAddressMustMatchResolvedBook(t *testing.T) {
	gw, l := setup(t)
	require.NoError(t, l.Deposit("alice", "BTC", uint256.NewInt(10)))

	o := order.Order{
		Maker: "alice", BaseAsset: "BTC", QuoteAsset: "USD", BookAddress: "WRONG/ADDRESS@1",
		BaseAmount: 10, Price: price(5), Side: order.Sell, Nonce: 0,
	}
	_, err := gw.Place(o, "alice", nil, 1_000_000_000_000_000_000)
	assert.ErrorIs(t, err, gateway.ErrBookMismatch)
}

func TestEncodeDecodeNewOrderRoundTrip(t *testing.T) {
	o := order.Order{
		Maker: "alice", BaseAsset: "BTC", QuoteAsset: "USD", BookAddress: "BTC/USD@1000000000000000000",
		BaseAmount: 42, Price: price(7), Side: order.Sell, Expiry: 999, Nonce: 5,
	}
	frame := gateway.EncodeNewOrder(o, []byte("sig-bytes"), 1_000_000_000_000_000_000)

	msgType, payload, err := gateway.ParseMessageType(frame)
	require.NoError(t, err)
	assert.Equal(t, gateway.NewOrder, msgType)

	decoded, err := gateway.DecodeNewOrder(payload)
	require.NoError(t, err)
	assert.Equal(t, o.Maker, decoded.Order.Maker)
	assert.Equal(t, o.BaseAsset, decoded.Order.BaseAsset)
	assert.Equal(t, o.QuoteAsset, decoded.Order.QuoteAsset)
	assert.Equal(t, o.BookAddress, decoded.Order.BookAddress)
	assert.Equal(t, o.BaseAmount, decoded.Order.BaseAmount)
	assert.Equal(t, 0, o.Price.Cmp(decoded.Order.Price))
	assert.Equal(t, o.Side, decoded.Order.Side)
	assert.Equal(t, o.Expiry, decoded.Order.Expiry)
	assert.Equal(t, o.Nonce, decoded.Order.Nonce)
	assert.Equal(t, []byte("sig-bytes"), decoded.Sig)
	assert.Equal(t, uint64(1_000_000_000_000_000_000), decoded.TickSize)
}

func TestEncodeDecodeCancelByHashRoundTrip(t *testing.T) {
	hash := order.Hash{1, 2, 3}
	frame := gateway.EncodeCancelByHash(hash, "alice", "BTC", "USD", 100)

	msgType, payload, err := gateway.ParseMessageType(frame)
	require.NoError(t, err)
	assert.Equal(t, gateway.CancelByHash, msgType)

	decoded, err := gateway.DecodeCancelByHash(payload)
	require.NoError(t, err)
	assert.Equal(t, hash, decoded.Hash)
	assert.Equal(t, "alice", decoded.Caller)
	assert.Equal(t, "BTC", decoded.BaseAsset)
	assert.Equal(t, "USD", decoded.QuoteAsset)
	assert.Equal(t, uint64(100), decoded.TickSize)
}
