package pmrecover

import (
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestHeap(t *testing.T) *Heap {
	t.Helper()
	dir := t.TempDir()
	h, err := OpenHeap(filepath.Join(dir, "heap.pm"), 1<<20)
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func encodeKey(id uint64, userKey string) []byte {
	k := make([]byte, 8+len(userKey))
	binary.BigEndian.PutUint64(k, id)
	copy(k[8:], userKey)
	return k
}

func encodeHeaderValue(id uint64, indexWithHashtable bool, comparator string) []byte {
	v := make([]byte, 9+len(comparator))
	binary.BigEndian.PutUint64(v, id)
	if indexWithHashtable {
		v[8] = 1
	}
	copy(v[9:], comparator)
	return v
}

func mustAlloc(t *testing.T, h *Heap, prev, next, ts, oldVer, expire uint64, rt RecordType, status RecordStatus, key, val []byte) uint64 {
	t.Helper()
	off, err := h.AllocateRecord(prev, next, ts, oldVer, expire, rt, status, key, val)
	require.NoError(t, err)
	return off
}

// one header, three elements linked in order, no checkpoint.
func TestRebuild_BasicList(t *testing.T) {
	h := newTestHeap(t)

	headerKey := encodeKey(7, "")
	headerVal := encodeHeaderValue(7, true, "bytewise")
	headerOff := mustAlloc(t, h, NullOffset, NullOffset, 10, NullOffset, 0, SortedRecord, Normal, headerKey, headerVal)

	k1 := mustAlloc(t, h, NullOffset, NullOffset, 5, NullOffset, 0, SortedElem, Normal, encodeKey(7, "k1"), []byte("v1"))
	k2 := mustAlloc(t, h, NullOffset, NullOffset, 5, NullOffset, 0, SortedElem, Normal, encodeKey(7, "k2"), []byte("v2"))
	k3 := mustAlloc(t, h, NullOffset, NullOffset, 5, NullOffset, 0, SortedElem, Normal, encodeKey(7, "k3"), []byte("v3"))

	// header -> k1 -> k2 -> k3 -> header
	h.StoreNextOffset(h.Record(headerOff), k1)
	h.StorePrevOffset(h.Record(k1), headerOff)
	h.StoreNextOffset(h.Record(k1), k2)
	h.StorePrevOffset(h.Record(k2), k1)
	h.StoreNextOffset(h.Record(k2), k3)
	h.StorePrevOffset(h.Record(k3), k2)
	h.StoreNextOffset(h.Record(k3), headerOff)
	h.StorePrevOffset(h.Record(headerOff), k3)

	cfg := defaultRecoveryConfig()
	rb := NewRebuilder(h, cfg)
	rb.AddHeader(h.Record(headerOff))

	result, err := rb.Rebuild()
	require.NoError(t, err)
	require.Equal(t, Ok, result.Status)
	require.EqualValues(t, 7, result.MaxID)
	require.Len(t, result.RebuildSkiplists, 1)

	list := result.RebuildSkiplists[7]
	require.Equal(t, 3, list.Size())
	require.True(t, CheckChainIntegrity(h, list))
	require.True(t, CheckVersionCanonicalization(h, list))
	require.True(t, CheckTowerMonotonicity(list))
	require.True(t, rb.CheckDisjointness())

	_, ok := rb.HashTbl.Get(headerKey)
	require.True(t, ok)
	for _, k := range []string{"k1", "k2", "k3"} {
		_, ok := rb.HashTbl.Get(encodeKey(7, k))
		require.True(t, ok, "expected hash entry for %s", k)
	}
}

// two headers sharing id=3, list empty; older header's self-linkage
// is broken and it is dropped, newer is kept.
func TestRebuild_StaleEmptyHeader(t *testing.T) {
	h := newTestHeap(t)

	oldHeaderOff := mustAlloc(t, h, NullOffset, NullOffset, 4, NullOffset, 0, SortedRecord, Normal, encodeKey(3, ""), encodeHeaderValue(3, false, "bytewise"))
	h.StorePrevOffset(h.Record(oldHeaderOff), oldHeaderOff)
	h.StoreNextOffset(h.Record(oldHeaderOff), oldHeaderOff)

	newHeaderOff := mustAlloc(t, h, NullOffset, NullOffset, 9, NullOffset, 0, SortedRecord, Normal, encodeKey(3, ""), encodeHeaderValue(3, false, "bytewise"))
	h.StorePrevOffset(h.Record(newHeaderOff), newHeaderOff)
	h.StoreNextOffset(h.Record(newHeaderOff), newHeaderOff)

	cfg := defaultRecoveryConfig()
	rb := NewRebuilder(h, cfg)
	rb.AddHeader(h.Record(oldHeaderOff))
	rb.AddHeader(h.Record(newHeaderOff))

	result, err := rb.Rebuild()
	require.NoError(t, err)
	require.Len(t, result.RebuildSkiplists, 1)
	list := result.RebuildSkiplists[3]
	require.Equal(t, newHeaderOff, list.HeaderRecord.Offset)
	require.Equal(t, 0, list.Size())

	// old header's self-linkage was broken: prev now points at the newer
	// header rather than at itself.
	require.Equal(t, newHeaderOff, h.Record(oldHeaderOff).PrevOffset())
}

// header ts=20 with T_cp=15, old_version chain header@20 -> header@10;
// initRebuildLists replaces header@20 with header@10.
func TestRebuild_CheckpointReplacesHeader(t *testing.T) {
	h := newTestHeap(t)

	oldHeaderOff := mustAlloc(t, h, NullOffset, NullOffset, 10, NullOffset, 0, SortedRecord, Normal, encodeKey(9, ""), encodeHeaderValue(9, false, "bytewise"))
	h.StorePrevOffset(h.Record(oldHeaderOff), oldHeaderOff)
	h.StoreNextOffset(h.Record(oldHeaderOff), oldHeaderOff)

	newHeaderOff := mustAlloc(t, h, NullOffset, NullOffset, 20, oldHeaderOff, 0, SortedRecord, Normal, encodeKey(9, ""), encodeHeaderValue(9, false, "bytewise"))
	h.StorePrevOffset(h.Record(newHeaderOff), newHeaderOff)
	h.StoreNextOffset(h.Record(newHeaderOff), newHeaderOff)

	cfg := defaultRecoveryConfig()
	cfg.CheckpointTimestamp = 15
	rb := NewRebuilder(h, cfg)
	rb.AddHeader(h.Record(newHeaderOff))

	result, err := rb.Rebuild()
	require.NoError(t, err)
	require.Len(t, result.RebuildSkiplists, 1)
	list := result.RebuildSkiplists[9]
	require.Equal(t, oldHeaderOff, list.HeaderRecord.Offset)
	require.True(t, CheckChainIntegrity(h, list))

	// the checkpoint-version header self-loops (empty list) rather than
	// forming a two-node cycle with the record it replaced.
	require.Equal(t, oldHeaderOff, h.Record(oldHeaderOff).PrevOffset())
	require.Equal(t, oldHeaderOff, h.Record(oldHeaderOff).NextOffset())
	require.Equal(t, NullOffset, h.Record(oldHeaderOff).OldVersion())

	// the superseded header's linkage was broken and it was destroyed by
	// the reclaimer rather than skipped as still-linked.
	require.Equal(t, oldHeaderOff, h.Record(newHeaderOff).PrevOffset())
	require.Equal(t, Outdated, h.Record(newHeaderOff).Status())
	var freedHeader bool
	for _, e := range result.Freed {
		if e.Offset == newHeaderOff {
			freedHeader = true
		}
	}
	require.True(t, freedHeader, "expected the superseded header to be reclaimed")
}

// header valid, one element with status=Outdated at checkpoint;
// element is removed from the persistent chain and not indexed.
func TestRebuild_OutdatedElementRemoved(t *testing.T) {
	h := newTestHeap(t)

	headerOff := mustAlloc(t, h, NullOffset, NullOffset, 1, NullOffset, 0, SortedRecord, Normal, encodeKey(4, ""), encodeHeaderValue(4, true, "bytewise"))
	elemOff := mustAlloc(t, h, NullOffset, NullOffset, 1, NullOffset, 0, SortedElem, Outdated, encodeKey(4, "k1"), []byte("v1"))

	h.StoreNextOffset(h.Record(headerOff), elemOff)
	h.StorePrevOffset(h.Record(elemOff), headerOff)
	h.StoreNextOffset(h.Record(elemOff), headerOff)
	h.StorePrevOffset(h.Record(headerOff), elemOff)

	cfg := defaultRecoveryConfig()
	rb := NewRebuilder(h, cfg)
	rb.AddHeader(h.Record(headerOff))

	result, err := rb.Rebuild()
	require.NoError(t, err)
	list := result.RebuildSkiplists[4]
	require.Equal(t, 0, list.Size())

	_, ok := rb.HashTbl.Get(encodeKey(4, "k1"))
	require.False(t, ok)

	// The Outdated element was unlinked mid-rebuild by a Phase-A worker's
	// thread-local cache; cleanInvalidRecords must still destroy it and
	// report it freed rather than leaking it.
	var freedElem bool
	for _, e := range result.Freed {
		if e.Offset == elemOff {
			freedElem = true
		}
	}
	require.True(t, freedElem, "expected elemOff to be reclaimed")
	require.Equal(t, Outdated, h.Record(elemOff).Status())
}

// header valid; element E has broken CheckPrevLinkage and T_cp=0, so
// AddElement purges it immediately rather than routing it to the
// unlinked set; rebuild succeeds with E absent from the list.
func TestRebuild_BrokenLinkagePurgedAtCheckpointZero(t *testing.T) {
	h := newTestHeap(t)

	headerOff := mustAlloc(t, h, NullOffset, NullOffset, 1, NullOffset, 0, SortedRecord, Normal, encodeKey(6, ""), encodeHeaderValue(6, true, "bytewise"))
	h.StorePrevOffset(h.Record(headerOff), headerOff)
	h.StoreNextOffset(h.Record(headerOff), headerOff)

	// E is allocated but never linked into any chain: both its prev and
	// next are NullOffset, so CheckAndRepairLinkage can't repair either
	// side (no partner to copy from).
	badOff := mustAlloc(t, h, NullOffset, NullOffset, 1, NullOffset, 0, SortedElem, Normal, encodeKey(6, "bad"), []byte("v"))

	cfg := defaultRecoveryConfig()
	require.EqualValues(t, 0, cfg.CheckpointTimestamp)
	rb := NewRebuilder(h, cfg)
	rb.AddHeader(h.Record(headerOff))

	tc := NewThreadCache()
	rb.AddElement(tc, h.Record(badOff))
	require.Equal(t, 0, tc.unlinked.Count())

	result, err := rb.Rebuild()
	require.NoError(t, err)
	list := result.RebuildSkiplists[6]
	require.Equal(t, 0, list.Size())

	_, ok := rb.HashTbl.Get(encodeKey(6, "bad"))
	require.False(t, ok)
}

// list-based rebuild mode: same shape as the basic-list case but with segment-based
// rebuild disabled, exercising the single-threaded-per-list path.
func TestRebuild_ListBasedMode(t *testing.T) {
	h := newTestHeap(t)

	headerKey := encodeKey(11, "")
	headerVal := encodeHeaderValue(11, true, "bytewise")
	headerOff := mustAlloc(t, h, NullOffset, NullOffset, 10, NullOffset, 0, SortedRecord, Normal, headerKey, headerVal)

	k1 := mustAlloc(t, h, NullOffset, NullOffset, 5, NullOffset, 0, SortedElem, Normal, encodeKey(11, "k1"), []byte("v1"))
	k2 := mustAlloc(t, h, NullOffset, NullOffset, 5, NullOffset, 0, SortedElem, Normal, encodeKey(11, "k2"), []byte("v2"))

	h.StoreNextOffset(h.Record(headerOff), k1)
	h.StorePrevOffset(h.Record(k1), headerOff)
	h.StoreNextOffset(h.Record(k1), k2)
	h.StorePrevOffset(h.Record(k2), k1)
	h.StoreNextOffset(h.Record(k2), headerOff)
	h.StorePrevOffset(h.Record(headerOff), k2)

	cfg := defaultRecoveryConfig()
	cfg.SegmentBasedRebuild = false
	rb := NewRebuilder(h, cfg)
	rb.AddHeader(h.Record(headerOff))

	result, err := rb.Rebuild()
	require.NoError(t, err)
	list := result.RebuildSkiplists[11]
	require.Equal(t, 2, list.Size())
	require.True(t, CheckChainIntegrity(h, list))
	require.True(t, CheckTowerMonotonicity(list))

	for _, k := range []string{"k1", "k2"} {
		_, ok := rb.HashTbl.Get(encodeKey(11, k))
		require.True(t, ok, "expected hash entry for %s", k)
	}
}

// a batch log entry for a record whose old_version exists; running
// Rollback before rebuild restores the prior version into the chain and
// destroys the partially-committed record.
func TestRebuild_RollbackRestoresOldVersion(t *testing.T) {
	h := newTestHeap(t)

	headerOff := mustAlloc(t, h, NullOffset, NullOffset, 1, NullOffset, 0, SortedRecord, Normal, encodeKey(5, ""), encodeHeaderValue(5, true, "bytewise"))
	priorOff := mustAlloc(t, h, NullOffset, NullOffset, 1, NullOffset, 0, SortedElem, Normal, encodeKey(5, "k1"), []byte("v1"))
	newOff := mustAlloc(t, h, NullOffset, NullOffset, 2, priorOff, 0, SortedElem, Normal, encodeKey(5, "k1"), []byte("v2"))

	// header -> newOff -> header, with newOff.prev == header (prior
	// linkage check requires CheckPrevLinkage(elem) to hold).
	h.StoreNextOffset(h.Record(headerOff), newOff)
	h.StorePrevOffset(h.Record(newOff), headerOff)
	h.StoreNextOffset(h.Record(newOff), headerOff)
	h.StorePrevOffset(h.Record(headerOff), newOff)

	cfg := defaultRecoveryConfig()
	rb := NewRebuilder(h, cfg)
	rb.Log.Append(newOff)
	rb.AddHeader(h.Record(headerOff))

	result, err := rb.Rebuild()
	require.NoError(t, err)

	// the prior version took E's place in the chain and E was destroyed
	require.Equal(t, priorOff, h.Record(headerOff).NextOffset())
	require.Equal(t, Outdated, h.Record(newOff).Status())

	list := result.RebuildSkiplists[5]
	require.Equal(t, 1, list.Size())
	require.True(t, CheckChainIntegrity(h, list))
	entry, ok := rb.HashTbl.Get(encodeKey(5, "k1"))
	require.True(t, ok)
	require.Equal(t, priorOff, entry.Record.Offset)
}
