// Package events defines the exchange's domain event stream, kept
// separate from the zerolog diagnostic log so a production deployment
// can journal events without debug noise (spec.md §9, design note b).
package events

import (
	"time"

	"github.com/holiman/uint256"
)

// Kind identifies the concrete shape of an Event's payload.
type Kind int

const (
	OrderPlaced Kind = iota
	OrderFilled
	OrderCancelled
	OrderExpired
	Deposited
	Withdrawn
	BalanceLocked
	BalanceUnlocked
	TransferExecuted
)

func (k Kind) String() string {
	switch k {
	case OrderPlaced:
		return "OrderPlaced"
	case OrderFilled:
		return "OrderFilled"
	case OrderCancelled:
		return "OrderCancelled"
	case OrderExpired:
		return "OrderExpired"
	case Deposited:
		return "Deposited"
	case Withdrawn:
		return "Withdrawn"
	case BalanceLocked:
		return "BalanceLocked"
	case BalanceUnlocked:
		return "BalanceUnlocked"
	case TransferExecuted:
		return "TransferExecuted"
	default:
		return "Unknown"
	}
}

// Event is a single domain occurrence, ordered to match execution.
type Event struct {
	Kind      Kind
	At        time.Time
	OrderHash [32]byte
	OrderID   uint64
	Maker     string
	Taker     string
	FillBase  uint64
	Quote     *uint256.Int
	Price     *uint256.Int
	IsFinal   bool
	User      string
	Asset     string
	Amount    *uint256.Int
	From      string
	To        string
}

// Bus is a small buffered fan-out of domain events. It never blocks a
// caller: a full bus drops the event being published rather than stall
// matching, since the event stream is a reporting side-channel, not a
// correctness dependency.
type Bus struct {
	ch chan Event
}

// NewBus creates a Bus with the given buffer capacity.
func NewBus(capacity int) *Bus {
	return &Bus{ch: make(chan Event, capacity)}
}

// Publish enqueues an event, dropping it if the bus is saturated.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	select {
	case b.ch <- e:
	default:
	}
}

// Events exposes the read side of the bus to subscribers.
func (b *Bus) Events() <-chan Event {
	return b.ch
}
