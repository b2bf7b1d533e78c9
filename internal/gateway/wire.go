package gateway

import (
	"encoding/binary"
	"errors"

	"github.com/holiman/uint256"

	"clob/internal/order"
)

var (
	ErrInvalidMessageType = errors.New("gateway: invalid message type")
	ErrMessageTooShort    = errors.New("gateway: message too short for its declared field lengths")
)

// MessageType identifies the wire shape of an incoming frame, in the
// style of internal/net/messages.go's MessageType.
type MessageType uint16

const (
	Heartbeat MessageType = iota
	NewOrder
	CancelOrder
	CancelByHash
)

// ReportMessageType identifies the wire shape of an outgoing frame.
type ReportMessageType uint8

const (
	ExecutionReport ReportMessageType = iota
	ErrorReport
)

// baseHeaderLen is the 2-byte MessageType prefix on every frame, as in
// internal/net/messages.go's BaseMessageHeaderLen.
const baseHeaderLen = 2

// newOrderFixedLen is the fixed portion of a NewOrder frame, before
// its five variable-length strings (maker, base asset, quote asset,
// book address, signature): base_amount(8) + price(32) + side(1) +
// expiry(8) + nonce(8) + tick_size(8) + 5 * uint16 length prefixes.
const newOrderFixedLen = 8 + 32 + 1 + 8 + 8 + 8 + 5*2

// EncodeNewOrder serialises o plus its submission metadata into a
// single frame, the client-side counterpart of DecodeNewOrder.
func EncodeNewOrder(o order.Order, sig []byte, tickSize uint64) []byte {
	strs := [][]byte{[]byte(o.Maker), []byte(o.BaseAsset), []byte(o.QuoteAsset), []byte(o.BookAddress), sig}
	total := baseHeaderLen + newOrderFixedLen
	for _, s := range strs {
		total += len(s)
	}

	buf := make([]byte, total)
	binary.BigEndian.PutUint16(buf[0:2], uint16(NewOrder))
	off := baseHeaderLen

	binary.BigEndian.PutUint64(buf[off:off+8], o.BaseAmount)
	off += 8
	priceBytes := priceToBytes(o.Price)
	copy(buf[off:off+32], priceBytes[:])
	off += 32
	if o.Side == order.Sell {
		buf[off] = 1
	}
	off++
	binary.BigEndian.PutUint64(buf[off:off+8], o.Expiry)
	off += 8
	binary.BigEndian.PutUint64(buf[off:off+8], o.Nonce)
	off += 8
	binary.BigEndian.PutUint64(buf[off:off+8], tickSize)
	off += 8

	for _, s := range strs {
		binary.BigEndian.PutUint16(buf[off:off+2], uint16(len(s)))
		off += 2
	}
	for _, s := range strs {
		copy(buf[off:off+len(s)], s)
		off += len(s)
	}
	return buf
}

func priceToBytes(p *uint256.Int) [32]byte {
	if p == nil {
		return [32]byte{}
	}
	return p.Bytes32()
}

// DecodedNewOrder is a NewOrder frame's parsed payload: an Order plus
// the submission metadata the wire format carries alongside it.
type DecodedNewOrder struct {
	Order    order.Order
	Sig      []byte
	TickSize uint64
}

// DecodeNewOrder parses the payload of a NewOrder frame (msg excludes
// the 2-byte MessageType header already consumed by the caller).
func DecodeNewOrder(msg []byte) (DecodedNewOrder, error) {
	if len(msg) < newOrderFixedLen {
		return DecodedNewOrder{}, ErrMessageTooShort
	}
	off := 0
	baseAmount := binary.BigEndian.Uint64(msg[off : off+8])
	off += 8
	price := new(uint256.Int).SetBytes(msg[off : off+32])
	off += 32
	side := order.Buy
	if msg[off] == 1 {
		side = order.Sell
	}
	off++
	expiry := binary.BigEndian.Uint64(msg[off : off+8])
	off += 8
	nonce := binary.BigEndian.Uint64(msg[off : off+8])
	off += 8
	tickSize := binary.BigEndian.Uint64(msg[off : off+8])
	off += 8

	lens := make([]int, 5)
	for i := range lens {
		lens[i] = int(binary.BigEndian.Uint16(msg[off : off+2]))
		off += 2
	}

	fields := make([][]byte, 5)
	for i, l := range lens {
		if len(msg) < off+l {
			return DecodedNewOrder{}, ErrMessageTooShort
		}
		fields[i] = msg[off : off+l]
		off += l
	}

	return DecodedNewOrder{
		Order: order.Order{
			Maker:       string(fields[0]),
			BaseAsset:   string(fields[1]),
			QuoteAsset:  string(fields[2]),
			BookAddress: string(fields[3]),
			BaseAmount:  baseAmount,
			Price:       price,
			Side:        side,
			Expiry:      expiry,
			Nonce:       nonce,
		},
		Sig:      append([]byte(nil), fields[4]...),
		TickSize: tickSize,
	}, nil
}

// cancelByHashFixedLen: hash(32) + tick_size(8) + 3 uint16 length
// prefixes (caller, base_asset, quote_asset — resolving the Book for a
// pure hash cancel still needs the pair, so both assets travel
// alongside the hash and the caller identity).
const cancelByHashFixedLen = 32 + 8 + 3*2

// EncodeCancelByHash serialises a maker-only cancellation by hash.
func EncodeCancelByHash(hash order.Hash, caller string, baseAsset, quoteAsset string, tickSize uint64) []byte {
	strs := [][]byte{[]byte(baseAsset), []byte(quoteAsset)}
	total := baseHeaderLen + cancelByHashFixedLen + len(caller)
	for _, s := range strs {
		total += len(s)
	}

	buf := make([]byte, total)
	binary.BigEndian.PutUint16(buf[0:2], uint16(CancelByHash))
	off := baseHeaderLen
	copy(buf[off:off+32], hash[:])
	off += 32
	binary.BigEndian.PutUint64(buf[off:off+8], tickSize)
	off += 8
	binary.BigEndian.PutUint16(buf[off:off+2], uint16(len(caller)))
	off += 2
	for _, s := range strs {
		binary.BigEndian.PutUint16(buf[off:off+2], uint16(len(s)))
		off += 2
	}
	copy(buf[off:off+len(caller)], caller)
	off += len(caller)
	for _, s := range strs {
		copy(buf[off:off+len(s)], s)
		off += len(s)
	}
	return buf
}

// DecodedCancelByHash is a CancelByHash frame's parsed payload.
type DecodedCancelByHash struct {
	Hash       order.Hash
	Caller     string
	BaseAsset  string
	QuoteAsset string
	TickSize   uint64
}

// DecodeCancelByHash parses the payload of a CancelByHash frame.
func DecodeCancelByHash(msg []byte) (DecodedCancelByHash, error) {
	if len(msg) < cancelByHashFixedLen {
		return DecodedCancelByHash{}, ErrMessageTooShort
	}
	var hash order.Hash
	off := 0
	copy(hash[:], msg[off:off+32])
	off += 32
	tickSize := binary.BigEndian.Uint64(msg[off : off+8])
	off += 8

	callerLen := int(binary.BigEndian.Uint16(msg[off : off+2]))
	off += 2
	baseLen := int(binary.BigEndian.Uint16(msg[off : off+2]))
	off += 2
	quoteLen := int(binary.BigEndian.Uint16(msg[off : off+2]))
	off += 2

	if len(msg) < off+callerLen+baseLen+quoteLen {
		return DecodedCancelByHash{}, ErrMessageTooShort
	}
	caller := string(msg[off : off+callerLen])
	off += callerLen
	base := string(msg[off : off+baseLen])
	off += baseLen
	quote := string(msg[off : off+quoteLen])

	return DecodedCancelByHash{Hash: hash, Caller: caller, BaseAsset: base, QuoteAsset: quote, TickSize: tickSize}, nil
}

// ParseMessageType reads the 2-byte MessageType header off msg and
// returns the remaining payload.
func ParseMessageType(msg []byte) (MessageType, []byte, error) {
	if len(msg) < baseHeaderLen {
		return 0, nil, ErrMessageTooShort
	}
	return MessageType(binary.BigEndian.Uint16(msg[0:2])), msg[baseHeaderLen:], nil
}
