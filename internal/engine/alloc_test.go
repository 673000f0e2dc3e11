package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmemkit/pmemkit/internal/format"
)

func TestAllocZeroesPayload(t *testing.T) {
	e := newTestPool(t)

	require.NoError(t, e.TxBegin())
	off, err := e.Alloc(64)
	require.NoError(t, err)
	// Dirty the memory, free it, allocate again: must come back zeroed.
	copy(e.data[off:], "garbage")
	e.MarkDirty(off, 7)
	require.NoError(t, e.Free(off))
	off2, err := e.Alloc(64)
	require.NoError(t, err)
	require.NoError(t, e.TxCommit())

	for i := uint64(0); i < 64; i++ {
		require.Zero(t, e.data[off2+i], "byte %d not zeroed", i)
	}
}

func TestAllocAlignment(t *testing.T) {
	e := newTestPool(t)

	require.NoError(t, e.TxBegin())
	defer e.TxCommit()

	for _, size := range []uint64{1, 7, 8, 63, 4096} {
		off, err := e.Alloc(size)
		require.NoError(t, err)
		assert.Zero(t, off%8, "allocation for %d bytes not 8-byte aligned", size)
		got, err := e.AllocSize(off)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, got, size)
	}
}

func TestFreeCoalescesNeighbors(t *testing.T) {
	e := newTestPool(t)

	require.NoError(t, e.TxBegin())
	a, err := e.Alloc(100)
	require.NoError(t, err)
	b, err := e.Alloc(100)
	require.NoError(t, err)
	c, err := e.Alloc(100)
	require.NoError(t, err)

	// Free outer blocks, then the middle one: all three must merge with
	// each other and with the trailing free space.
	require.NoError(t, e.Free(a))
	require.NoError(t, e.Free(c))
	require.NoError(t, e.Free(b))
	require.NoError(t, e.TxCommit())

	assert.Len(t, e.heap.free, 1, "heap should be one free block again")
	total, largest := e.heap.freeSpace()
	assert.Equal(t, total, largest)
}

func TestFreeRejectsBadRef(t *testing.T) {
	e := newTestPool(t)

	require.NoError(t, e.TxBegin())
	defer e.TxCommit()

	tests := []struct {
		name string
		off  uint64
	}{
		{"before_heap", format.LogOffset},
		{"past_end", uint64(e.size) + 8},
		{"not_an_allocation", format.HeapOffset + format.BlockHeaderSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, e.Free(tt.off), ErrBadRef)
		})
	}
}

func TestDoubleFreeFails(t *testing.T) {
	e := newTestPool(t)

	require.NoError(t, e.TxBegin())
	off, err := e.Alloc(64)
	require.NoError(t, err)
	require.NoError(t, e.Free(off))
	require.ErrorIs(t, e.Free(off), ErrBadRef)
	require.NoError(t, e.TxCommit())
}

func TestAllocExhaustion(t *testing.T) {
	e := newTestPool(t)

	require.NoError(t, e.TxBegin())
	_, err := e.Alloc(uint64(e.size)) // bigger than the whole heap
	require.ErrorIs(t, err, ErrNoSpace)
	require.NoError(t, e.TxCommit())
}

func TestAllocSurvivesReopen(t *testing.T) {
	e := newTestPool(t)

	require.NoError(t, e.TxBegin())
	a, err := e.Alloc(100)
	require.NoError(t, err)
	b, err := e.Alloc(200)
	require.NoError(t, err)
	require.NoError(t, e.Free(a))
	require.NoError(t, e.TxCommit())

	allocated := e.heap.stats.CurrAllocated
	path := e.Path()
	require.NoError(t, e.Close())

	re, err := Open(path, "test")
	require.NoError(t, err)
	defer re.Close()

	// Rebuilt indexes must agree with on-file state.
	assert.Equal(t, allocated, re.heap.stats.CurrAllocated)
	got, err := re.AllocSize(b)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, got, uint64(200))
	_, err = re.AllocSize(a)
	require.ErrorIs(t, err, ErrBadRef)
}

func TestSmallTailAbsorbed(t *testing.T) {
	e := newTestPool(t)

	require.NoError(t, e.TxBegin())
	a, err := e.Alloc(64)
	require.NoError(t, err)
	b, err := e.Alloc(64)
	require.NoError(t, err)
	require.NoError(t, e.Free(a))

	// Reallocating slightly less than the freed block leaves a tail too
	// small to split; the whole block must be absorbed.
	c, err := e.Alloc(60)
	require.NoError(t, err)
	assert.Equal(t, a, c)
	got, err := e.AllocSize(c)
	require.NoError(t, err)
	assert.Equal(t, uint64(64), got)
	require.NoError(t, e.TxCommit())
	_ = b
}
