package pmrecover

// AddHeader is an ingestion entry point invoked during the scan phase
// preceding Rebuild. If CheckAndRepairLinkage succeeds, the header is
// appended to linked_headers under the rebuilder lock. It must be safely
// callable concurrently from many scan threads.
//
// When linkage can't be repaired, the header itself has no rebuild path,
// but with T_cp > 0 it may still be a checkpoint-version ancestor of some
// live record reachable through old_version, so it is routed to the
// unlinked set (the same set initRebuildLists seeds with stale-header
// offsets) rather than dropped, so it survives the version-chain walks
// and is reclaimed by cleanInvalidRecords. With T_cp == 0 there is no version
// history to preserve and the header is simply dropped.
func (rb *Rebuilder) AddHeader(r DLRecord) {
	if !CheckAndRepairLinkage(rb.Heap, r) {
		if rb.Config.CheckpointTimestamp > 0 {
			rb.mu.Lock()
			rb.classifyUnlinked = append(rb.classifyUnlinked, r.Offset)
			rb.mu.Unlock()
		}
		return
	}
	rb.mu.Lock()
	rb.linkedHeaders = append(rb.linkedHeaders, r)
	rb.mu.Unlock()
}

// AddElement is an ingestion entry point for ordinary elements. When
// linkage cannot be repaired: with T_cp == 0 the record is freed
// immediately (it was never checkpoint-reachable); with T_cp > 0 it is
// routed to the caller's thread-local unlinked set, since it may still be
// a checkpoint-version ancestor of some live record and must survive the
// version-chain walks.
//
// When segment_based_rebuild is enabled, this also performs segment-start
// selection: every kRestoreSkiplistStride-th eligible element (per
// collection, per calling thread) that is itself the checkpoint version
// becomes a new segment start.
func (rb *Rebuilder) AddElement(tc *ThreadCache, r DLRecord) {
	if !CheckAndRepairLinkage(rb.Heap, r) {
		if rb.Config.CheckpointTimestamp == 0 {
			rb.purgeAndFree(r)
		} else {
			tc.markUnlinked(r.Offset)
		}
		return
	}

	if !rb.Config.SegmentBasedRebuild {
		return
	}

	id := r.CollectionID()
	visited := tc.bumpVisited(id)
	if visited%rb.Config.RestoreSkiplistStride != 0 {
		return
	}
	if r.Type() != SortedElem {
		return
	}
	cv, ok := rb.versions.FindCheckpointVersion(r)
	if !ok || cv.Offset != r.Offset {
		return
	}

	// A segment start's node is mandatory: retry until the build
	// succeeds, per the "node is required" contract.
	var node *Node
	for node == nil {
		node = rb.newSegmentStartNode(r)
	}
	rb.segments.Register(&Segment{
		StartNode: node,
		StartOff:  r.Offset,
		OwnerID:   id,
		Visited:   false,
	})
}

// newNodeBuildRetrying builds a node for r against list. This
// implementation's node builder has no real exhaustion path, so it
// succeeds on the first try; the indirection is kept because a real
// pmem-backed NewNodeBuild can return nil under memory pressure and
// callers must decide between retrying (mandatory nodes) and accepting
// nil (optional mid-segment nodes).
func (rb *Rebuilder) newNodeBuildRetrying(list *SkipList, r DLRecord) *Node {
	return list.NewNodeBuild(r)
}

// purgeAndFree destroys a record that was never checkpoint-reachable,
// matching the allocator collaborator's PurgeAndFree: safe to call from
// many scan threads concurrently.
func (rb *Rebuilder) purgeAndFree(r DLRecord) {
	destroyRecord(rb.Heap, r)
	rb.metrics.recordsReclaimed.Add(1)
}

// Rollback undoes a partially-committed batch entry, executed before
// any rebuild step so the partially-applied batch is erased from the
// chain first.
func (rb *Rebuilder) Rollback(entry BatchLogEntry) error {
	elem := rb.Heap.Record(entry.Offset)
	if !validStructure(elem) || !CheckPrevLinkage(rb.Heap, elem) {
		return nil
	}

	if ov := elem.OldVersion(); ov != NullOffset {
		prior := rb.Heap.Record(ov)
		replaceInChain(rb.Heap, elem, prior)
	} else {
		removeFromChain(rb.Heap, elem)
	}
	destroyRecord(rb.Heap, elem)
	return nil
}

func validStructure(r DLRecord) bool {
	return r.Type() == SortedElem || r.Type() == SortedRecord
}

// replaceInChain splices newRec into the persistent doubly-linked chain
// in old's place, the engine's Replace(old, new) list primitive. An empty list's header self-loops
// (prev == next == old); the replacement must self-loop the same way
// rather than forming a two-node cycle with itself as both neighbors.
func replaceInChain(h *Heap, old, newRec DLRecord) {
	if old.PrevOffset() == old.Offset && old.NextOffset() == old.Offset {
		h.StorePrevOffset(newRec, newRec.Offset)
		h.StoreNextOffset(newRec, newRec.Offset)
		return
	}
	prev := h.Record(old.PrevOffset())
	next := h.Record(old.NextOffset())
	h.StoreNextOffset(newRec, next.Offset)
	h.StorePrevOffset(newRec, prev.Offset)
	h.StoreNextOffset(prev, newRec.Offset)
	h.StorePrevOffset(next, newRec.Offset)
}

// removeFromChain splices old out of the persistent doubly-linked chain,
// the engine's Remove(rec) list primitive.
func removeFromChain(h *Heap, old DLRecord) {
	prev := h.Record(old.PrevOffset())
	next := h.Record(old.NextOffset())
	h.StoreNextOffset(prev, next.Offset)
	h.StorePrevOffset(next, prev.Offset)
}

// destroyRecord marks a record destroyed by durably setting its status
// to Outdated. The allocator stand-in has no real free-list, so no space
// is returned, and the record is not added to the reclaim audit log.
func destroyRecord(h *Heap, r DLRecord) {
	h.StoreStatus(r, Outdated)
}
