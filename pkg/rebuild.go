package pmrecover

// RebuildResult is Rebuild's top-level output: the KV engine consumes
// RebuildSkiplists as its live sorted-collection directory and uses
// MaxID to seed future id allocation.
type RebuildResult struct {
	Status           Status
	MaxID            uint64
	RebuildSkiplists map[uint64]*SkipList
	Freed            []SpaceEntry
}

// Rebuild runs the full recovery control flow: initRebuildLists, then
// either the segment-based or list-based rebuild path per the
// segment_based_rebuild config flag, then cleanInvalidRecords.
func (rb *Rebuilder) Rebuild() (*RebuildResult, error) {
	defer rb.vlog.enter()()
	if err := rb.Config.Validate(); err != nil {
		return nil, err
	}

	// Partially-committed batch entries are erased from their chains
	// before any rebuild step sees them. ScanHeap drains the log too, so
	// this is a no-op when the scan pass already ran.
	if err := rb.rollbackPending(); err != nil {
		return rb.abortResult(err), err
	}

	rb.vlog.log(1, "rebuild: classifying headers, segment_based=%v", rb.Config.SegmentBasedRebuild)
	if err := rb.initRebuildLists(); err != nil {
		return rb.abortResult(err), err
	}

	var err error
	if rb.Config.SegmentBasedRebuild {
		err = rb.runSegmentBasedRebuild()
	} else {
		err = rb.runListBasedRebuild()
	}
	if err != nil {
		return rb.abortResult(err), err
	}

	rb.vlog.log(1, "rebuild: reclaiming unlinked and invalid records")
	freed, err := rb.cleanInvalidRecords(rb.collectThreadCaches())
	if err != nil {
		return rb.abortResult(err), err
	}
	rb.vlog.log(2, "rebuild: reclaimed %d entries", len(freed))

	rb.mu.Lock()
	lists := make(map[uint64]*SkipList, len(rb.rebuildLists))
	for id, l := range rb.rebuildLists {
		lists[id] = l
		rb.metrics.elementsIndexed.Add(int64(l.Size()))
	}
	maxID := rb.maxID
	rb.mu.Unlock()

	return &RebuildResult{
		Status:           Ok,
		MaxID:            maxID,
		RebuildSkiplists: lists,
		Freed:            freed,
	}, nil
}

// collectThreadCaches gathers every thread-local cache cleanInvalidRecords
// must examine: the ingestion-time caches (AddElement routing records to
// the unlinked set when T_cp > 0 and linkage can't be repaired) plus every
// Phase-A / list-mode rebuild worker's cache, retired via
// rb.retireThreadCache when its last segment/list finishes. Mirrors the
// original's fixed rebuilder_thread_cache_ vector: nothing a worker marks
// unlinked during the rebuild walk (e.g. an Outdated element spliced out
// of the persistent chain) is dropped on the floor.
func (rb *Rebuilder) collectThreadCaches() []*ThreadCache {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	caches := make([]*ThreadCache, 0, len(rb.ingestCaches)+len(rb.rebuildCaches))
	caches = append(caches, rb.ingestCaches...)
	caches = append(caches, rb.rebuildCaches...)
	return caches
}

// RebuildWithIngestCaches is the entry point for callers that drive
// ingestion (AddHeader/AddElement/Rollback) themselves rather than via
// ScanHeap: it records the scan threads' caches so cleanInvalidRecords
// can examine them, then runs Rebuild.
func (rb *Rebuilder) RebuildWithIngestCaches(caches []*ThreadCache) (*RebuildResult, error) {
	rb.ingestCaches = caches
	return rb.Rebuild()
}

// rollbackPending undoes every batch-log entry and clears the log.
func (rb *Rebuilder) rollbackPending() error {
	for _, entry := range rb.Log.Entries() {
		if err := rb.Rollback(entry); err != nil {
			return err
		}
	}
	rb.Log.Clear()
	return nil
}

func (rb *Rebuilder) abortResult(err error) *RebuildResult {
	return &RebuildResult{Status: StatusOf(err)}
}
