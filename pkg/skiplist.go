package pmrecover

import (
	"math/rand/v2"
	"sync"
	"sync/atomic"
)

// Node is an in-memory skip-list node: it owns a pointer to one DLRecord
// (its canonical element) and a tower of forward pointers. Height is
// drawn probabilistically when the node is created; level 1 is always
// present, higher levels are sparse. Hand-built rather than wrapping
// zerocopyskiplist because Phase B's tower linking needs direct
// per-level splice access (prevs[i].next[i] = n) that a black-box
// Insert/Find API doesn't expose.
type Node struct {
	Record DLRecord
	next   []*Node // next[0] is level 1, ..., next[h-1] is level h
}

// Height returns the number of tower levels this node participates in.
func (n *Node) Height() int { return len(n.next) }

// Next returns the node's successor at level (1-indexed), or nil.
func (n *Node) Next(level int) *Node {
	if level < 1 || level > len(n.next) {
		return nil
	}
	return n.next[level-1]
}

func (n *Node) setNext(level int, to *Node) {
	for len(n.next) < level {
		n.next = append(n.next, nil)
	}
	n.next[level-1] = to
}

// randHeight draws a node height with the usual p=1/2 geometric
// distribution, capped at kMaxHeight.
func randHeight(rng *rand.Rand) int {
	h := 1
	for h < kMaxHeight && rng.Uint64()&1 == 0 {
		h++
	}
	return h
}

// SkipList is an in-memory header node plus per-collection bookkeeping:
// the header DLRecord, a collection id, a
// comparator, an element count, and the index_with_hashtable flag.
// size is an atomic.Int64 rather than a plain int because segment mode
// lets two Phase-A workers own two different segments of the *same*
// list concurrently, and both call UpdateSize when their segment's walk
// terminates.
type SkipList struct {
	ID                 uint64
	HeaderRecord       DLRecord
	HeaderNode         *Node
	Comparator         Comparator
	IndexWithHashtable bool
	size               atomic.Int64

	rngMu sync.Mutex // guards rng, shared by concurrent Phase-A segments of the same list
	rng   *rand.Rand
}

// NewSkipList creates an empty skip list rooted at headerRecord.
func NewSkipList(id uint64, headerRecord DLRecord, cmp Comparator, indexWithHashtable bool, seed uint64) *SkipList {
	return &SkipList{
		ID:                 id,
		HeaderRecord:       headerRecord,
		HeaderNode:         &Node{Record: headerRecord, next: make([]*Node, kMaxHeight)},
		Comparator:         cmp,
		IndexWithHashtable: indexWithHashtable,
		rng:                rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// NewNodeBuild draws a height for record and allocates a node for it.
// A pmem-backed builder can return nil under memory pressure; this
// implementation always succeeds, but keeps the nil-returning signature
// so callers that must retry-until-success (segment starts) and callers
// that may accept nil (ordinary elements) both honor that contract.
func (sl *SkipList) NewNodeBuild(r DLRecord) *Node {
	sl.rngMu.Lock()
	h := randHeight(sl.rng)
	sl.rngMu.Unlock()
	return &Node{Record: r, next: make([]*Node, h)}
}

// SpliceLevel1 appends n immediately after prev at level 1, used by
// Phase A / list-mode rebuild while walking the persistent chain.
func SpliceLevel1(prev, n *Node) {
	prev.setNext(1, n)
}

// TerminateLevel1 marks prev as the tail of the level-1 chain.
func TerminateLevel1(prev *Node) {
	prev.setNext(1, nil)
}

// ForEach walks the level-1 chain from the header, invoking fn for every
// element node (the header itself is skipped).
func (sl *SkipList) ForEach(fn func(*Node) bool) {
	for n := sl.HeaderNode.Next(1); n != nil; n = n.Next(1) {
		if !fn(n) {
			return
		}
	}
}

// UpdateSize atomically adjusts the list's element count by delta. Two
// segments of the same list can finish concurrently in Phase A, so this
// must not be a plain read-modify-write.
func (sl *SkipList) UpdateSize(delta int) { sl.size.Add(int64(delta)) }

// Size returns the list's current element count.
func (sl *SkipList) Size() int { return int(sl.size.Load()) }
