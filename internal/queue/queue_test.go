package queue_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clob/internal/queue"
)

func TestEnqueueFIFOOrder(t *testing.T) {
	q := queue.New()
	q.Enqueue(&queue.Node{ID: 1, RemainingBase: 10})
	q.Enqueue(&queue.Node{ID: 2, RemainingBase: 20})
	q.Enqueue(&queue.Node{ID: 3, RemainingBase: 30})

	assert.Equal(t, 3, q.Len())
	assert.Equal(t, uint64(60), q.TotalBaseAmount())

	head, ok := q.Head()
	require.True(t, ok)
	assert.Equal(t, uint64(1), head.ID)
}

func TestRemoveArbitraryNode(t *testing.T) {
	q := queue.New()
	q.Enqueue(&queue.Node{ID: 1, RemainingBase: 10})
	q.Enqueue(&queue.Node{ID: 2, RemainingBase: 20})
	q.Enqueue(&queue.Node{ID: 3, RemainingBase: 30})

	removed, ok := q.Remove(2)
	require.True(t, ok)
	assert.Equal(t, uint64(2), removed.ID)
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, uint64(40), q.TotalBaseAmount())

	ids := make([]uint64, 0)
	for _, n := range q.Nodes() {
		ids = append(ids, n.ID)
	}
	assert.Equal(t, []uint64{1, 3}, ids)
}

func TestDecrement(t *testing.T) {
	q := queue.New()
	q.Enqueue(&queue.Node{ID: 1, RemainingBase: 10})

	require.NoError(t, q.Decrement(1, 4))
	head, _ := q.Head()
	assert.Equal(t, uint64(6), head.RemainingBase)
	assert.Equal(t, uint64(6), q.TotalBaseAmount())

	assert.ErrorIs(t, q.Decrement(1, 6), queue.ErrDecrementTooLarge)
	assert.ErrorIs(t, q.Decrement(99, 1), queue.ErrNodeNotFound)
}

func TestPopHead(t *testing.T) {
	q := queue.New()
	q.Enqueue(&queue.Node{ID: 1, RemainingBase: 10})
	q.Enqueue(&queue.Node{ID: 2, RemainingBase: 20})

	node, ok := q.PopHead()
	require.True(t, ok)
	assert.Equal(t, uint64(1), node.ID)
	assert.Equal(t, 1, q.Len())

	head, _ := q.Head()
	assert.Equal(t, uint64(2), head.ID)
}
