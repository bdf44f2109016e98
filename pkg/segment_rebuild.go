package pmrecover

import "sync"

// runSegmentBasedRebuild drives Phase A (segment index rebuild) and
// Phase B (tower linking) fully joined in sequence, each across
// num_rebuild_threads workers, every worker looping until no more work
// remains.
func (rb *Rebuilder) runSegmentBasedRebuild() error {
	if err := rb.phaseA(); err != nil {
		return err
	}
	return rb.phaseB()
}

// phaseA claims segments and reconstructs each segment's level-1 chain
// and hash entries.
func (rb *Rebuilder) phaseA() error {
	defer rb.vlog.enter()()
	n := rb.Config.NumRebuildThreads
	rb.vlog.log(2, "phaseA: %d workers over %d segments", n, rb.segments.Len())
	var wg sync.WaitGroup
	errs := make([]error, n)

	for w := 0; w < n; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			tid := rb.Threads.ThreadID()
			tc := NewThreadCache()
			defer rb.retireThreadCache(tc)
			for {
				seg := rb.segments.ClaimNext()
				if seg == nil {
					return
				}
				rb.metrics.segmentsClaimed.Add(1)
				if rb.vlog.enabled("segment") {
					rb.vlog.log(2, "phaseA: thread %d claimed segment owned by list %d", tid, seg.OwnerID)
				}
				if err := rb.rebuildSegment(tc, seg); err != nil {
					errs[worker] = err
					return
				}
			}
		}(w)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// rebuildSegment walks a single claimed segment's persistent chain,
// resolving each record to its checkpoint version and splicing the
// survivors into the owning list's level-1 chain.
func (rb *Rebuilder) rebuildSegment(tc *ThreadCache, seg *Segment) error {
	list := rb.listOwning(seg.OwnerID)
	if list == nil {
		// Owning list was classified invalid. Nothing to reclaim here:
		// cleanInvalidRecords destroys the whole invalid list wholesale.
		return nil
	}

	curNode := seg.StartNode
	curRec := seg.StartNode.Record
	localSize := 0

	if curRec.Offset != list.HeaderRecord.Offset {
		rb.Heap.StoreOldVersion(curRec, NullOffset)
		if list.IndexWithHashtable {
			if err := insertHashIndex(rb.HashTbl, rb.elementKey(curRec), PtrSkiplistNode, curRec, curNode, list); err != nil {
				return err
			}
		}
		localSize++
	}

	for {
		next := rb.Heap.Record(curRec.NextOffset())
		if next.Offset == list.HeaderRecord.Offset {
			TerminateLevel1(curNode)
			seg.EndNode = curNode
			seg.LocalSize = localSize
			list.UpdateSize(localSize)
			return nil
		}

		if adjacent, ok := rb.segments.Lookup(next.Offset); ok {
			if adjacent.StartNode.Record.Offset == list.HeaderRecord.Offset {
				TerminateLevel1(curNode)
			} else {
				SpliceLevel1(curNode, adjacent.StartNode)
			}
			seg.EndNode = curNode
			seg.LocalSize = localSize
			list.UpdateSize(localSize)
			return nil
		}

		unlock := rb.HashTbl.AcquireLock(rb.elementKey(next))
		v, ok := rb.versions.FindCheckpointVersion(next)
		switch {
		case !ok || v.Status() == Outdated:
			removeFromChain(rb.Heap, next)
			tc.markUnlinked(next.Offset)
			unlock()
		case v.Offset != next.Offset:
			replaceInChain(rb.Heap, next, v)
			tc.markUnlinked(next.Offset)
			unlock()
		default:
			node := rb.newNodeBuildRetrying(list, v)
			if node != nil {
				SpliceLevel1(curNode, node)
				curNode = node
			}
			var target PtrType
			if node != nil {
				target = PtrSkiplistNode
			} else {
				target = PtrRecord
			}
			if list.IndexWithHashtable {
				if err := insertHashIndex(rb.HashTbl, rb.elementKey(v), target, v, node, list); err != nil {
					unlock()
					return err
				}
			}
			rb.Heap.StoreOldVersion(v, NullOffset)
			unlock()
			localSize++
			curRec = v
		}
	}
}

func (rb *Rebuilder) listOwning(id uint64) *SkipList {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.rebuildLists[id]
}

func (rb *Rebuilder) elementKey(r DLRecord) []byte { return r.Key() }
