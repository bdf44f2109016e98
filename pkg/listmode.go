package pmrecover

import "sync"

// runListBasedRebuild is the alternative single-threaded-per-list
// rebuild path: one worker per list, up to num_rebuild_threads
// concurrently, walking the header's persistent next chain serially and
// applying the same version-resolution and
// node-allocation logic as Phase A, while simultaneously maintaining the
// prevs[1..kMaxHeight] splice so every new node is linked into every
// level its height permits in a single pass. No segment registry is
// consulted. Preferable when the number of lists is comparable to
// num_rebuild_threads.
func (rb *Rebuilder) runListBasedRebuild() error {
	defer rb.vlog.enter()()
	lists := rb.allRebuildLists()
	rb.vlog.log(2, "listmode: rebuilding %d lists serially, up to %d concurrently", len(lists), rb.Config.NumRebuildThreads)

	sem := make(chan struct{}, rb.Config.NumRebuildThreads)
	var wg sync.WaitGroup
	errs := make([]error, len(lists))

	for i, list := range lists {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, list *SkipList) {
			defer wg.Done()
			defer func() { <-sem }()
			rb.Threads.ThreadID()
			tc := NewThreadCache()
			defer rb.retireThreadCache(tc)
			errs[i] = rb.rebuildListSerially(tc, list)
		}(i, list)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (rb *Rebuilder) rebuildListSerially(tc *ThreadCache, list *SkipList) error {
	var prevs [kMaxHeight + 1]*Node
	for i := 1; i <= kMaxHeight; i++ {
		prevs[i] = list.HeaderNode
	}

	cur := list.HeaderRecord
	size := 0
	for {
		next := rb.Heap.Record(cur.NextOffset())
		if next.Offset == list.HeaderRecord.Offset {
			break
		}

		unlock := rb.HashTbl.AcquireLock(rb.elementKey(next))
		v, ok := rb.versions.FindCheckpointVersion(next)
		switch {
		case !ok || v.Status() == Outdated:
			removeFromChain(rb.Heap, next)
			tc.markUnlinked(next.Offset)
			unlock()
			continue
		case v.Offset != next.Offset:
			replaceInChain(rb.Heap, next, v)
			tc.markUnlinked(next.Offset)
			unlock()
			continue
		default:
			node := rb.newNodeBuildRetrying(list, v)
			if node != nil {
				for i := 1; i <= node.Height(); i++ {
					prevs[i].setNext(i, node)
					prevs[i] = node
				}
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
			size++
			cur = v
		}
	}

	for i := 1; i <= kMaxHeight; i++ {
		prevs[i].setNext(i, nil)
	}
	list.UpdateSize(size)
	return nil
}
