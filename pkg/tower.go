package pmrecover

import "sync"

// phaseB is the tower linker: for each rebuild list, serially on one
// worker per list (up to num_rebuild_threads in flight), walk the
// fully-linked level-1 chain from the header and stitch higher tower
// levels over it.
func (rb *Rebuilder) phaseB() error {
	defer rb.vlog.enter()()
	lists := rb.allRebuildLists()
	rb.vlog.log(2, "phaseB: linking towers for %d lists", len(lists))

	sem := make(chan struct{}, rb.Config.NumRebuildThreads)
	var wg sync.WaitGroup

	for _, list := range lists {
		wg.Add(1)
		sem <- struct{}{}
		go func(list *SkipList) {
			defer wg.Done()
			defer func() { <-sem }()
			if rb.vlog.enabled("tower") {
				rb.vlog.log(2, "phaseB: linking tower for list %d (size=%d)", list.ID, list.Size())
			}
			linkTower(list)
		}(list)
	}
	wg.Wait()
	return nil
}

// linkTower performs the per-list tower-linking walk: prevs[1..kMaxHeight]
// start at the header node; for each node n visited along level 1, for
// each level i up to n.Height(), set prevs[i].next[i] = n then
// prevs[i] = n. After the walk, every prevs[i].next[i] is set to nil,
// terminating each level at its last node.
func linkTower(list *SkipList) {
	var prevs [kMaxHeight + 1]*Node
	for i := 1; i <= kMaxHeight; i++ {
		prevs[i] = list.HeaderNode
	}

	// Level 1 is already fully linked by Phase A; advancing prevs[1]
	// through it keeps the final termination below from detaching the
	// chain at the header (the level-1 rewrite is an idempotent re-store
	// of the pointer Phase A already set).
	for n := list.HeaderNode.Next(1); n != nil; n = n.Next(1) {
		for i := 1; i <= n.Height(); i++ {
			prevs[i].setNext(i, n)
			prevs[i] = n
		}
	}

	for i := 1; i <= kMaxHeight; i++ {
		prevs[i].setNext(i, nil)
	}
}

func (rb *Rebuilder) allRebuildLists() []*SkipList {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	out := make([]*SkipList, 0, len(rb.rebuildLists))
	for _, l := range rb.rebuildLists {
		out = append(out, l)
	}
	return out
}
