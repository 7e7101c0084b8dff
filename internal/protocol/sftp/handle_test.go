package sftp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateAssignsSequentialSlots(t *testing.T) {
	tbl := newHandleTable()
	hi1 := tbl.allocate("a")
	hi2 := tbl.allocate("b")
	require.NotNil(t, hi1)
	require.NotNil(t, hi2)
	assert.Equal(t, 1, hi1.h)
	assert.Equal(t, 2, hi2.h)
}

func TestAllocateFailsWhenTableIsFull(t *testing.T) {
	tbl := newHandleTable()
	for i := 0; i < handleCapacity; i++ {
		require.NotNil(t, tbl.allocate(i))
	}
	assert.Nil(t, tbl.allocate("overflow"))
}

func TestReleaseFreesSlotForReuse(t *testing.T) {
	tbl := newHandleTable()
	for i := 0; i < handleCapacity; i++ {
		require.NotNil(t, tbl.allocate(i))
	}
	require.Nil(t, tbl.allocate("overflow"))

	victim := tbl.slots[1]
	tbl.release(victim)

	hi := tbl.allocate("reused")
	require.NotNil(t, hi)
	assert.True(t, victim.isTombstoned())
}

func TestLookupRejectsMalformedOrOutOfRangeHandles(t *testing.T) {
	tbl := newHandleTable()
	hi := tbl.allocate("x")
	wire := encodeHandle(hi.h)

	assert.Equal(t, hi, tbl.lookup(wire))
	assert.Nil(t, tbl.lookup([]byte{0, 0, 0}))
	assert.Nil(t, tbl.lookup(encodeHandle(0)))
	assert.Nil(t, tbl.lookup(encodeHandle(handleCapacity+1)))
}

func TestLookupAfterReleaseReturnsNil(t *testing.T) {
	tbl := newHandleTable()
	hi := tbl.allocate("x")
	wire := encodeHandle(hi.h)

	tbl.release(hi)
	assert.Nil(t, tbl.lookup(wire))
}

func TestEachVisitsOnlyLiveHandles(t *testing.T) {
	tbl := newHandleTable()
	a := tbl.allocate("a")
	tbl.allocate("b")
	tbl.release(a)

	var seen []any
	tbl.each(func(hi *handleInfo) {
		seen = append(seen, hi.native)
	})
	assert.Equal(t, []any{"b"}, seen)
}

func TestReleaseIsIdempotent(t *testing.T) {
	tbl := newHandleTable()
	hi := tbl.allocate("x")
	tbl.release(hi)
	assert.NotPanics(t, func() { tbl.release(hi) })
	assert.NotPanics(t, func() { tbl.release(nil) })
}
