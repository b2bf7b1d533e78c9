// Package queue implements the price level: a doubly linked FIFO of
// resting order nodes at one tick, ordered by arrival (order_id).
package queue

import "errors"

var (
	ErrDecrementTooLarge = errors.New("queue: decrement amount must be smaller than the node's remaining base")
	ErrNodeNotFound      = errors.New("queue: node not found")
)

// Node is one resting order within a price level's FIFO.
type Node struct {
	ID            uint64
	OrderHash     [32]byte
	Maker         string
	RemainingBase uint64

	prev, next *Node
}

// Queue is a FIFO of Nodes at one (side, tick), plus the aggregate
// base volume resting there.
type Queue struct {
	head, tail      *Node
	length          int
	totalBaseAmount uint64
	byID            map[uint64]*Node
}

// New creates an empty level queue.
func New() *Queue {
	return &Queue{byID: make(map[uint64]*Node)}
}

// Len reports the number of resting nodes.
func (q *Queue) Len() int { return q.length }

// TotalBaseAmount is the sum of RemainingBase across all resting
// nodes — the aggregate that must mirror the tick index.
func (q *Queue) TotalBaseAmount() uint64 { return q.totalBaseAmount }

// Head returns the oldest resting node, if any.
func (q *Queue) Head() (*Node, bool) {
	return q.head, q.head != nil
}

// Enqueue appends node to the tail of the FIFO.
func (q *Queue) Enqueue(node *Node) {
	node.prev, node.next = nil, nil
	if q.tail == nil {
		q.head, q.tail = node, node
	} else {
		node.prev = q.tail
		q.tail.next = node
		q.tail = node
	}
	q.byID[node.ID] = node
	q.length++
	q.totalBaseAmount += node.RemainingBase
}

// Remove unlinks an arbitrary node by id.
func (q *Queue) Remove(id uint64) (*Node, bool) {
	node, ok := q.byID[id]
	if !ok {
		return nil, false
	}
	q.unlink(node)
	return node, true
}

func (q *Queue) unlink(node *Node) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		q.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		q.tail = node.prev
	}
	node.prev, node.next = nil, nil

	delete(q.byID, node.ID)
	q.length--
	q.totalBaseAmount -= node.RemainingBase
}

// Decrement reduces an existing node's remaining base by amount, which
// must be strictly smaller than its current remaining base (a full
// consumption goes through Remove instead). This generalises the
// reference contract's "decrement_head": a self-trade skip can leave
// the node actually being matched somewhere other than literal head,
// so the walk addresses it by id instead.
func (q *Queue) Decrement(id uint64, amount uint64) error {
	node, ok := q.byID[id]
	if !ok {
		return ErrNodeNotFound
	}
	if amount >= node.RemainingBase {
		return ErrDecrementTooLarge
	}
	node.RemainingBase -= amount
	q.totalBaseAmount -= amount
	return nil
}

// PopHead removes and returns the head node.
func (q *Queue) PopHead() (*Node, bool) {
	if q.head == nil {
		return nil, false
	}
	return q.Remove(q.head.ID)
}

// NextOf returns the node immediately after node in FIFO order,
// without mutating the queue — used to advance a walk past a node that
// was skipped (e.g. a self-trade) rather than removed.
func (q *Queue) NextOf(node *Node) (*Node, bool) {
	if node == nil || node.next == nil {
		return nil, false
	}
	return node.next, true
}

// Nodes returns the resting nodes in FIFO order; used for snapshots
// and tests, not the matching hot path.
func (q *Queue) Nodes() []*Node {
	nodes := make([]*Node, 0, q.length)
	for n := q.head; n != nil; n = n.next {
		nodes = append(nodes, n)
	}
	return nodes
}
