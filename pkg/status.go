package pmrecover

// CheckChainIntegrity verifies that walking next from
// the header returns to the header after size steps, and each visited
// record's prev equals the previous record's offset.
func CheckChainIntegrity(h *Heap, list *SkipList) bool {
	header := list.HeaderRecord
	cur := header
	steps := 0
	for {
		next := h.Record(cur.NextOffset())
		if next.PrevOffset() != cur.Offset {
			return false
		}
		if next.Offset == header.Offset {
			break
		}
		cur = next
		steps++
		if steps > list.Size() {
			return false
		}
	}
	return steps == list.Size()
}

// CheckVersionCanonicalization verifies that every
// record reachable from a rebuilt header has old_version == NullOffset.
func CheckVersionCanonicalization(h *Heap, list *SkipList) bool {
	header := list.HeaderRecord
	for cur := h.Record(header.NextOffset()); cur.Offset != header.Offset; cur = h.Record(cur.NextOffset()) {
		if cur.OldVersion() != NullOffset {
			return false
		}
	}
	return header.OldVersion() == NullOffset
}

// CheckTowerMonotonicity verifies that for every level
// i >= 2, the sequence of nodes reached by following next[i] from the
// header is a subsequence of the level-1 sequence.
func CheckTowerMonotonicity(list *SkipList) bool {
	level1 := make(map[*Node]int)
	idx := 0
	for n := list.HeaderNode.Next(1); n != nil; n = n.Next(1) {
		level1[n] = idx
		idx++
	}

	for level := 2; level <= kMaxHeight; level++ {
		last := -1
		for n := list.HeaderNode.Next(level); n != nil; n = n.Next(level) {
			pos, ok := level1[n]
			if !ok || pos <= last {
				return false
			}
			last = pos
		}
	}
	return true
}

// CheckDisjointness verifies that no collection id
// appears in both rebuild_skiplists and invalid_skiplists.
func (rb *Rebuilder) CheckDisjointness() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	for id := range rb.rebuildLists {
		if _, ok := rb.invalidLists[id]; ok {
			return false
		}
	}
	return true
}
