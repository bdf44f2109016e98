package pmrecover

import "sort"

// initRebuildLists is the header classification pass. It runs
// single-threaded over linked_headers, which by that point is no longer
// mutated (ingestion has finished). Hash-table writes per key remain
// serialized by the hash-table lock even though this function itself is
// single-threaded.
func (rb *Rebuilder) initRebuildLists() error {
	headers := append([]DLRecord(nil), rb.linkedHeaders...)
	sort.Slice(headers, func(i, j int) bool {
		idi, idj := headers[i].CollectionID(), headers[j].CollectionID()
		if idi != idj {
			return idi < idj
		}
		return headers[i].Timestamp() < headers[j].Timestamp()
	})

	survivors := rb.dropStaleEmptyHeaders(headers)

	for _, header := range survivors {
		if err := rb.classifyHeader(header); err != nil {
			return err
		}
	}
	return nil
}

// dropStaleEmptyHeaders purges duplicate headers: for each
// adjacent pair sharing a collection id, the older one is a stale
// empty-list header left behind by a crash during a prior update of an
// empty list. Its linkage must be a self-loop (one header per id, both
// pointers self-validated); the self-linkage is broken by writing the
// newer header's offset into its prev field, and the stale header is
// routed to the unlinked set for the reclaimer.
func (rb *Rebuilder) dropStaleEmptyHeaders(sorted []DLRecord) []DLRecord {
	survivors := make([]DLRecord, 0, len(sorted))
	i := 0
	for i < len(sorted) {
		j := i
		for j+1 < len(sorted) && sorted[j+1].CollectionID() == sorted[i].CollectionID() {
			j++
		}
		if j == i {
			survivors = append(survivors, sorted[i])
			i = j + 1
			continue
		}
		// sorted[i..j] share an id, sorted by timestamp ascending: all
		// but the last (newest) are stale.
		newest := sorted[j]
		for k := i; k < j; k++ {
			stale := sorted[k]
			rb.Heap.StorePrevOffset(stale, newest.Offset)
			rb.mu.Lock()
			rb.classifyUnlinked = append(rb.classifyUnlinked, stale.Offset)
			rb.mu.Unlock()
		}
		survivors = append(survivors, newest)
		i = j + 1
	}
	return survivors
}

// classifyHeader decodes one surviving header's configuration, resolves
// its checkpoint version, and routes the collection to the rebuild or
// invalid set.
func (rb *Rebuilder) classifyHeader(header DLRecord) error {
	id := header.CollectionID()
	if id > rb.maxID {
		rb.maxID = id
	}

	cfg, ok := DecodeHeaderConfig(header.Value())
	if !ok {
		return NewStatusError(Abort, nil, "malformed header value")
	}
	cmp, ok := GetComparator(cfg.ComparatorName)
	if !ok {
		return NewStatusError(InvalidConfiguration, nil, "comparator not registered: "+cfg.ComparatorName)
	}

	v, ok := rb.versions.FindCheckpointVersion(header)
	if !ok || v.CollectionID() != id {
		rb.addInvalidList(id, header, cmp)
		return nil
	}
	if v.Offset != header.Offset {
		replaceInChain(rb.Heap, header, v)
		// Break the superseded header's own linkage so the reclaimer's
		// still-linked check cannot mistake a self-looped empty-list
		// header for a re-inserted record, and so a re-run's scan won't
		// accept it back into linked_headers. Same purge idiom as the
		// stale empty-list case above.
		rb.Heap.StorePrevOffset(header, v.Offset)
		rb.mu.Lock()
		rb.classifyUnlinked = append(rb.classifyUnlinked, header.Offset)
		rb.mu.Unlock()
		return rb.classifyHeader(v)
	}
	if v.Status() == Outdated || v.HasExpired(rb.now) {
		rb.addInvalidList(id, header, cmp)
		return nil
	}

	rb.Heap.StoreOldVersion(v, NullOffset)
	list := NewSkipList(id, v, cmp, cfg.IndexWithHashtable, id+1)
	rb.mu.Lock()
	rb.rebuildLists[id] = list
	rb.mu.Unlock()

	unlock := rb.HashTbl.AcquireLock(header.Key())
	err := insertHashIndex(rb.HashTbl, header.Key(), PtrSkiplist, v, nil, list)
	unlock()
	if err != nil {
		return err
	}

	if rb.Config.SegmentBasedRebuild {
		rb.segments.Register(&Segment{
			StartNode: list.HeaderNode,
			StartOff:  v.Offset,
			OwnerID:   id,
			Visited:   false,
		})
	}
	return nil
}

func (rb *Rebuilder) addInvalidList(id uint64, header DLRecord, cmp Comparator) {
	list := NewSkipList(id, header, cmp, false, id+1)
	rb.mu.Lock()
	rb.invalidLists[id] = list
	rb.mu.Unlock()
	rb.metrics.invalidLists.Add(1)
}
