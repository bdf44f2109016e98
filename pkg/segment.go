package pmrecover

import "sync"

// Segment is the recovery-segment triple from the data model: a start
// node, a visited flag, and the id of the skip list that owns it. The
// start node's record is guaranteed to be a valid checkpoint-version
// record.
type Segment struct {
	StartNode *Node
	StartOff  uint64 // offset(StartNode.Record), the registry's key
	OwnerID   uint64
	Visited   bool
	EndNode   *Node // set once Phase A finishes walking this segment
	LocalSize int   // elements visited within this segment, for UpdateSize
}

// SegmentRegistry tracks discovered recovery segments keyed by their
// start DLRecord's offset, and arbitrates claims under a single lock.
// Claim correctness depends on the locked re-check of the visited flag,
// not on any lock-free fast path.
type SegmentRegistry struct {
	mu       sync.Mutex
	byOffset map[uint64]*Segment
}

// NewSegmentRegistry builds an empty registry.
func NewSegmentRegistry() *SegmentRegistry {
	return &SegmentRegistry{byOffset: make(map[uint64]*Segment)}
}

// Register inserts a new segment keyed by its start record's offset. It
// is a no-op if one already exists there (a concurrent scan thread may
// race to the same boundary).
func (r *SegmentRegistry) Register(seg *Segment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byOffset[seg.StartOff]; !exists {
		r.byOffset[seg.StartOff] = seg
	}
}

// Lookup returns the segment starting at offset, if any, used by Phase
// A to detect "next is itself a segment start" stitching points.
func (r *SegmentRegistry) Lookup(offset uint64) (*Segment, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byOffset[offset]
	return s, ok
}

// ClaimNext returns an unvisited segment and marks it visited, or nil if
// none remain. The outer caller loop is expected to call this repeatedly
// from each worker until it returns nil; the single lock covering both
// the check and the write makes the "double check" unnecessary in this
// in-process implementation (there is no lock-free fast path to guard),
// but the single critical section plays the rebuilder lock's role.
func (r *SegmentRegistry) ClaimNext() *Segment {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, seg := range r.byOffset {
		if !seg.Visited {
			seg.Visited = true
			return seg
		}
	}
	return nil
}

// All returns every registered segment, for diagnostics and tests.
func (r *SegmentRegistry) All() []*Segment {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Segment, 0, len(r.byOffset))
	for _, s := range r.byOffset {
		out = append(out, s)
	}
	return out
}

// Len reports how many segments are registered.
func (r *SegmentRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byOffset)
}
