package pmrecover

import "sync"

// ScanHeap walks the heap's record region and feeds every live record
// into the ingestion entry points (AddHeader / AddElement) across
// num_rebuild_threads workers, standing in for the engine's scan pass
// that precedes Rebuild. Each worker registers with the thread service
// before touching persistent memory and owns one ThreadCache, which is
// handed to the Rebuilder afterward so cleanInvalidRecords can examine
// whatever the worker routed to its unlinked set. Records already
// destroyed by a prior recovery attempt (status Outdated) are skipped,
// which is what makes a re-run over a post-recovery heap idempotent.
//
// Pending batch-log entries are rolled back first, so a record erased by
// Rollback can never be ingested, let alone become a segment start.
func (rb *Rebuilder) ScanHeap() error {
	defer rb.vlog.enter()()
	if err := rb.rollbackPending(); err != nil {
		return err
	}

	n := rb.Config.NumRebuildThreads
	if n < 1 {
		n = 1
	}

	work := make(chan DLRecord, 256)
	var wg sync.WaitGroup
	for w := 0; w < n; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rb.Threads.ThreadID()
			tc := NewThreadCache()
			for r := range work {
				switch r.Type() {
				case SortedRecord:
					rb.AddHeader(r)
				case SortedElem:
					rb.AddElement(tc, r)
				}
			}
			rb.mu.Lock()
			rb.ingestCaches = append(rb.ingestCaches, tc)
			rb.mu.Unlock()
		}()
	}

	scanned := 0
	rb.Heap.ForEachRecord(func(r DLRecord) bool {
		if r.Status() == Outdated {
			return true
		}
		work <- r
		scanned++
		return true
	})
	close(work)
	wg.Wait()
	rb.vlog.log(2, "scan: ingested %d live records", scanned)
	return nil
}
