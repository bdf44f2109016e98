package pmrecover

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// VersionResolver walks old_version chains to find the checkpoint-version
// record of a given DLRecord, memoizing recent walks so repeated chain
// traversals over hot keys (common when many elements share a
// recently-updated key) don't re-walk the same prefix.
type VersionResolver struct {
	heap  *Heap
	tcp   uint64
	cache *lru.Cache[uint64, uint64] // record offset -> resolved checkpoint-version offset
}

// NewVersionResolver builds a resolver for checkpoint timestamp tcp. tcp
// == 0 means "no checkpoint, recover latest".
func NewVersionResolver(h *Heap, tcp uint64, cacheSize int) *VersionResolver {
	c, _ := lru.New[uint64, uint64](cacheSize)
	return &VersionResolver{heap: h, tcp: tcp, cache: c}
}

// FindCheckpointVersion returns the first record on the chain
// r -> r.old_version -> ... whose timestamp <= T_cp and whose collection
// id equals id(r). Returns the zero record and ok=false if the chain is
// exhausted first, or a node on the chain belongs to a different
// collection id (the slot was reused). When T_cp == 0, returns r
// unchanged. The walk is read-only.
func (vr *VersionResolver) FindCheckpointVersion(r DLRecord) (DLRecord, bool) {
	if vr.tcp == 0 {
		return r, true
	}
	if cached, ok := vr.cache.Get(r.Offset); ok {
		if cached == NullOffset {
			return DLRecord{}, false
		}
		return vr.heap.Record(cached), true
	}

	wantID := r.CollectionID()
	cur := r
	for {
		if cur.Timestamp() <= vr.tcp {
			vr.cache.Add(r.Offset, cur.Offset)
			return cur, true
		}
		ov := cur.OldVersion()
		if ov == NullOffset {
			vr.cache.Add(r.Offset, NullOffset)
			return DLRecord{}, false
		}
		next := vr.heap.Record(ov)
		if next.CollectionID() != wantID {
			vr.cache.Add(r.Offset, NullOffset)
			return DLRecord{}, false
		}
		cur = next
	}
}
