package order_test

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"

	"clob/internal/config"
	"clob/internal/order"
)

func sampleOrder() order.Order {
	return order.Order{
		Maker:       "alice",
		BaseAsset:   "BTC",
		QuoteAsset:  "USD",
		BookAddress: "book-1",
		BaseAmount:  100,
		Price:       uint256.NewInt(2_000_000_000_000_000_000),
		Side:        order.Sell,
		Expiry:      0,
		Nonce:       1,
	}
}

func TestHashDeterministic(t *testing.T) {
	d := config.DefaultDomain()
	o := sampleOrder()
	h1 := order.HashWithDomain(o, d)
	h2 := order.HashWithDomain(o, d)
	assert.Equal(t, h1, h2)
}

func TestHashChangesWithField(t *testing.T) {
	d := config.DefaultDomain()
	o1 := sampleOrder()
	o2 := sampleOrder()
	o2.Nonce = 2

	assert.NotEqual(t, order.HashWithDomain(o1, d), order.HashWithDomain(o2, d))
}

func TestHashChangesWithDomain(t *testing.T) {
	o := sampleOrder()
	d1 := config.DefaultDomain()
	d2 := d1
	d2.GatewayAddress = common.HexToAddress("0x0000000000000000000000000000000000000001")

	assert.NotEqual(t, order.HashWithDomain(o, d1), order.HashWithDomain(o, d2))
}
