package pmrecover

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRebuild_UnregisteredComparatorFailsInvalidConfiguration(t *testing.T) {
	h := newTestHeap(t)

	headerOff := mustAlloc(t, h, NullOffset, NullOffset, 1, NullOffset, 0, SortedRecord, Normal, encodeKey(1, ""), encodeHeaderValue(1, false, "no-such-comparator"))
	h.StorePrevOffset(h.Record(headerOff), headerOff)
	h.StoreNextOffset(h.Record(headerOff), headerOff)

	rb := NewRebuilder(h, defaultRecoveryConfig())
	rb.AddHeader(h.Record(headerOff))

	result, err := rb.Rebuild()
	require.Error(t, err)
	require.Equal(t, InvalidConfiguration, StatusOf(err))
	require.Equal(t, InvalidConfiguration, result.Status)
}

func TestRebuild_ExpiredHeaderRoutedToInvalidAndDestroyed(t *testing.T) {
	h := newTestHeap(t)

	headerOff := mustAlloc(t, h, NullOffset, NullOffset, 1, NullOffset, 5, SortedRecord, Normal, encodeKey(12, ""), encodeHeaderValue(12, false, "bytewise"))
	h.StorePrevOffset(h.Record(headerOff), headerOff)
	h.StoreNextOffset(h.Record(headerOff), headerOff)

	rb := NewRebuilder(h, defaultRecoveryConfig())
	rb.SetNow(10)
	rb.AddHeader(h.Record(headerOff))

	result, err := rb.Rebuild()
	require.NoError(t, err)
	require.Empty(t, result.RebuildSkiplists)
	require.True(t, rb.CheckDisjointness())

	// the invalid list and its header were destroyed wholesale
	require.Equal(t, Outdated, h.Record(headerOff).Status())
	var freedHeader bool
	for _, e := range result.Freed {
		if e.Offset == headerOff {
			freedHeader = true
		}
	}
	require.True(t, freedHeader)

	// max_id still accounts for invalid collections
	require.EqualValues(t, 12, result.MaxID)
}

func TestRebuild_VersionChainCrossingCollectionIDInvalidates(t *testing.T) {
	h := newTestHeap(t)

	// old_version points at a record whose key carries a different
	// collection id: the slot was reused, so the chain walk fails and the
	// whole collection is classified invalid.
	reused := mustAlloc(t, h, NullOffset, NullOffset, 1, NullOffset, 0, SortedRecord, Normal, encodeKey(99, ""), encodeHeaderValue(99, false, "bytewise"))
	headerOff := mustAlloc(t, h, NullOffset, NullOffset, 20, reused, 0, SortedRecord, Normal, encodeKey(13, ""), encodeHeaderValue(13, false, "bytewise"))
	h.StorePrevOffset(h.Record(headerOff), headerOff)
	h.StoreNextOffset(h.Record(headerOff), headerOff)

	cfg := defaultRecoveryConfig()
	cfg.CheckpointTimestamp = 10
	rb := NewRebuilder(h, cfg)
	rb.AddHeader(h.Record(headerOff))

	result, err := rb.Rebuild()
	require.NoError(t, err)
	require.Empty(t, result.RebuildSkiplists)
	require.Equal(t, Outdated, h.Record(headerOff).Status())
}
