package pmrecover

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckAndRepairLinkage_RepairsBrokenNext(t *testing.T) {
	h := newTestHeap(t)

	header := mustAlloc(t, h, NullOffset, NullOffset, 1, NullOffset, 0, SortedRecord, Normal, encodeKey(1, ""), encodeHeaderValue(1, false, "bytewise"))
	a := mustAlloc(t, h, NullOffset, NullOffset, 1, NullOffset, 0, SortedElem, Normal, encodeKey(1, "a"), nil)
	b := mustAlloc(t, h, NullOffset, NullOffset, 1, NullOffset, 0, SortedElem, Normal, encodeKey(1, "b"), nil)

	// a.prev correctly points at header (and header.next correctly points
	// back at a), so CheckPrevLinkage(a) holds. a.next correctly points at
	// b (a's own pointer is trusted), but the crash left b.prev stale
	// (still NullOffset) instead of pointing back at a: CheckNextLinkage(a)
	// fails because heap[a.next].prev != a.
	h.StoreNextOffset(h.Record(header), a)
	h.StorePrevOffset(h.Record(a), header)
	h.StoreNextOffset(h.Record(a), b)

	require.False(t, CheckLinkage(h, h.Record(a)))
	ok := CheckAndRepairLinkage(h, h.Record(a))
	require.True(t, ok)
	require.Equal(t, a, h.Record(b).PrevOffset())
}

func TestCheckLinkage_SelfLoopEmptyHeader(t *testing.T) {
	h := newTestHeap(t)
	header := mustAlloc(t, h, NullOffset, NullOffset, 1, NullOffset, 0, SortedRecord, Normal, encodeKey(1, ""), encodeHeaderValue(1, false, "bytewise"))
	h.StorePrevOffset(h.Record(header), header)
	h.StoreNextOffset(h.Record(header), header)

	require.True(t, CheckLinkage(h, h.Record(header)))
}
