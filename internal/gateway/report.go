package gateway

import (
	"encoding/binary"

	"github.com/holiman/uint256"

	"clob/internal/events"
	"clob/internal/order"
)

// Report is the wire-serialisable counterpart of an events.Event,
// adapted from internal/net/messages.go's Report (there keyed by
// float64 price and a 4-byte ticker; here keyed by the scaled price
// and the order's canonical hash).
type Report struct {
	Type      ReportMessageType
	OrderHash order.Hash
	Maker     string
	Taker     string
	FillBase  uint64
	Quote     *uint256.Int
	Price     *uint256.Int
	Timestamp uint64
	ErrStr    string
}

// reportFixedLen: type(1) + hash(32) + fill_base(8) + quote(32) +
// price(32) + timestamp(8) + maker_len(2) + taker_len(2) + err_len(2).
const reportFixedLen = 1 + 32 + 8 + 32 + 32 + 8 + 2 + 2 + 2

// Serialize encodes r for the wire, mirroring Report.Serialize in
// internal/net/messages.go.
func (r Report) Serialize() []byte {
	maker, taker, errStr := []byte(r.Maker), []byte(r.Taker), []byte(r.ErrStr)
	total := reportFixedLen + len(maker) + len(taker) + len(errStr)

	buf := make([]byte, total)
	off := 0
	buf[off] = byte(r.Type)
	off++
	copy(buf[off:off+32], r.OrderHash[:])
	off += 32
	binary.BigEndian.PutUint64(buf[off:off+8], r.FillBase)
	off += 8
	copy(buf[off:off+32], priceToBytes(r.Quote)[:])
	off += 32
	copy(buf[off:off+32], priceToBytes(r.Price)[:])
	off += 32
	binary.BigEndian.PutUint64(buf[off:off+8], r.Timestamp)
	off += 8
	binary.BigEndian.PutUint16(buf[off:off+2], uint16(len(maker)))
	off += 2
	binary.BigEndian.PutUint16(buf[off:off+2], uint16(len(taker)))
	off += 2
	binary.BigEndian.PutUint16(buf[off:off+2], uint16(len(errStr)))
	off += 2
	copy(buf[off:off+len(maker)], maker)
	off += len(maker)
	copy(buf[off:off+len(taker)], taker)
	off += len(taker)
	copy(buf[off:], errStr)
	return buf
}

// ReportFromEvent converts an OrderFilled domain event into its wire
// report, the execution-report counterpart of a client's NewOrder.
func ReportFromEvent(e events.Event) Report {
	return Report{
		Type:      ExecutionReport,
		OrderHash: e.OrderHash,
		Maker:     e.Maker,
		Taker:     e.Taker,
		FillBase:  e.FillBase,
		Quote:     e.Quote,
		Price:     e.Price,
		Timestamp: uint64(e.At.Unix()),
	}
}

// ErrorReportFor builds the wire report for a failed submission.
func ErrorReportFor(err error) Report {
	return Report{Type: ErrorReport, ErrStr: err.Error()}
}
