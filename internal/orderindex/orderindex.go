// Package orderindex maps order hashes to their book locators and
// tracks terminal status for every order that has ever been accepted,
// enabling status queries and per-user enumeration without walking the
// book itself.
package orderindex

import (
	"errors"
	"sync"
	"time"

	"clob/internal/book"
	"clob/internal/tickindex"
)

var ErrNotFound = errors.New("orderindex: order hash not found")

// Status is an order's terminal state once it has left the book for
// the last time. Live orders have no terminal status recorded.
type Status int

const (
	Live Status = iota
	Filled
	Cancelled
	Expired
)

// Locator is a non-owning pointer from an order hash into the Book's
// queues.
type Locator struct {
	Side book.Side
	Tick tickindex.Tick
	ID   uint64
}

// Record is the lifecycle record retained for status queries, kept
// even after the order leaves the book.
type Record struct {
	Maker       string
	InitialBase uint64
	CreatedAt   time.Time
	Expiry      uint64 // 0 = never; otherwise epoch seconds, mirrors order.Order.Expiry
	Status      Status
	FilledBase  uint64
}

// Index is the Order Index component: hash -> locator for live orders,
// hash -> record for lifetime status, and user -> live hash list.
type Index struct {
	mu      sync.Mutex
	byHash  map[[32]byte]Locator
	records map[[32]byte]*Record
	byUser  map[string]map[[32]byte]struct{}
}

// New creates an empty Index.
func New() *Index {
	return &Index{
		byHash:  make(map[[32]byte]Locator),
		records: make(map[[32]byte]*Record),
		byUser:  make(map[string]map[[32]byte]struct{}),
	}
}

// Register records a freshly resting order as live.
func (idx *Index) Register(hash [32]byte, maker string, loc Locator, initialBase uint64, createdAt time.Time, expiry uint64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.byHash[hash] = loc
	idx.records[hash] = &Record{Maker: maker, InitialBase: initialBase, CreatedAt: createdAt, Expiry: expiry, Status: Live}
	if idx.byUser[maker] == nil {
		idx.byUser[maker] = make(map[[32]byte]struct{})
	}
	idx.byUser[maker][hash] = struct{}{}
}

// IsLive reports whether hash currently maps to a resting node.
func (idx *Index) IsLive(hash [32]byte) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	_, ok := idx.byHash[hash]
	return ok
}

// Locate returns the live locator for hash.
func (idx *Index) Locate(hash [32]byte) (Locator, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	loc, ok := idx.byHash[hash]
	return loc, ok
}

// Retire removes hash from the live set and records its terminal
// status. It is an error to retire an order twice or one never
// registered.
func (idx *Index) Retire(hash [32]byte, status Status, filledBase uint64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	rec, ok := idx.records[hash]
	if !ok {
		return ErrNotFound
	}
	if rec.Status != Live {
		return ErrNotFound
	}

	delete(idx.byHash, hash)
	if users := idx.byUser[rec.Maker]; users != nil {
		delete(users, hash)
	}
	rec.Status = status
	rec.FilledBase = filledBase
	return nil
}

// UpdateFilled updates the running filled amount on a still-live
// order, e.g. after a partial fill leaves it resting.
func (idx *Index) UpdateFilled(hash [32]byte, filledBase uint64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if rec, ok := idx.records[hash]; ok {
		rec.FilledBase = filledBase
	}
}

// Info returns a snapshot of the lifecycle record for hash.
func (idx *Index) Info(hash [32]byte) (Record, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	rec, ok := idx.records[hash]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// UserOrders lists the hashes of a user's currently live orders.
func (idx *Index) UserOrders(user string) [][32]byte {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	hashes := make([][32]byte, 0, len(idx.byUser[user]))
	for h := range idx.byUser[user] {
		hashes = append(hashes, h)
	}
	return hashes
}
