package tickindex_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"clob/internal/tickindex"
)

func TestUpdateAndGet(t *testing.T) {
	idx := tickindex.New()
	idx.Update(5, 100)
	assert.Equal(t, uint64(100), idx.Get(5))
	assert.Equal(t, uint64(0), idx.Get(6))

	idx.Update(5, 0)
	assert.Equal(t, uint64(0), idx.Get(5))
	assert.Equal(t, 0, idx.Len())
}

func TestFirstLastNonZeroIn(t *testing.T) {
	idx := tickindex.New()
	idx.Update(10, 5)
	idx.Update(20, 7)
	idx.Update(30, 9)

	tick, ok := idx.FirstNonZeroIn(0, 100)
	assert.True(t, ok)
	assert.Equal(t, tickindex.Tick(10), tick)

	tick, ok = idx.FirstNonZeroIn(15, 100)
	assert.True(t, ok)
	assert.Equal(t, tickindex.Tick(20), tick)

	_, ok = idx.FirstNonZeroIn(31, 100)
	assert.False(t, ok)

	tick, ok = idx.LastNonZeroIn(0, 100)
	assert.True(t, ok)
	assert.Equal(t, tickindex.Tick(30), tick)

	tick, ok = idx.LastNonZeroIn(0, 25)
	assert.True(t, ok)
	assert.Equal(t, tickindex.Tick(20), tick)

	_, ok = idx.LastNonZeroIn(0, 10)
	assert.False(t, ok)
}

func TestSum(t *testing.T) {
	idx := tickindex.New()
	idx.Update(1, 1)
	idx.Update(2, 2)
	idx.Update(3, 3)

	assert.Equal(t, uint64(6), idx.Sum(0, 100))
	assert.Equal(t, uint64(5), idx.Sum(2, 100))
	assert.Equal(t, uint64(1), idx.Sum(0, 2))
}
