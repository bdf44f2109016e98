package pmrecover

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFindCheckpointVersion_NoCheckpointReturnsSelf(t *testing.T) {
	h := newTestHeap(t)
	r := mustAlloc(t, h, NullOffset, NullOffset, 100, NullOffset, 0, SortedElem, Normal, encodeKey(1, "k"), nil)

	vr := NewVersionResolver(h, 0, 16)
	v, ok := vr.FindCheckpointVersion(h.Record(r))
	require.True(t, ok)
	require.Equal(t, r, v.Offset)
}

func TestFindCheckpointVersion_WalksChain(t *testing.T) {
	h := newTestHeap(t)
	oldest := mustAlloc(t, h, NullOffset, NullOffset, 5, NullOffset, 0, SortedElem, Normal, encodeKey(1, "k"), nil)
	middle := mustAlloc(t, h, NullOffset, NullOffset, 10, oldest, 0, SortedElem, Normal, encodeKey(1, "k"), nil)
	newest := mustAlloc(t, h, NullOffset, NullOffset, 20, middle, 0, SortedElem, Normal, encodeKey(1, "k"), nil)

	vr := NewVersionResolver(h, 12, 16)
	v, ok := vr.FindCheckpointVersion(h.Record(newest))
	require.True(t, ok)
	require.Equal(t, middle, v.Offset)
}

func TestFindCheckpointVersion_ExhaustedChainReturnsNotOK(t *testing.T) {
	h := newTestHeap(t)
	r := mustAlloc(t, h, NullOffset, NullOffset, 100, NullOffset, 0, SortedElem, Normal, encodeKey(1, "k"), nil)

	vr := NewVersionResolver(h, 5, 16)
	_, ok := vr.FindCheckpointVersion(h.Record(r))
	require.False(t, ok)
}

func TestFindCheckpointVersion_DifferentCollectionIDStopsWalk(t *testing.T) {
	h := newTestHeap(t)
	reused := mustAlloc(t, h, NullOffset, NullOffset, 5, NullOffset, 0, SortedElem, Normal, encodeKey(2, "other"), nil)
	r := mustAlloc(t, h, NullOffset, NullOffset, 20, reused, 0, SortedElem, Normal, encodeKey(1, "k"), nil)

	vr := NewVersionResolver(h, 10, 16)
	_, ok := vr.FindCheckpointVersion(h.Record(r))
	require.False(t, ok)
}
