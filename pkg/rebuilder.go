package pmrecover

import (
	"math/rand/v2"
	"sync"

	"github.com/dolthub/swiss"
)

// Rebuilder owns all of the mutable state a recovery run needs:
// linked_headers, recovery_segments, rebuild_skiplists, and
// invalid_skiplists are all protected by one rebuilder mutex.
type Rebuilder struct {
	Heap    *Heap
	HashTbl *HashTable
	Threads *ThreadManager
	Log     *BatchLog
	Config  *RecoveryConfig

	mu               sync.Mutex
	linkedHeaders    []DLRecord
	segments         *SegmentRegistry
	rebuildLists     map[uint64]*SkipList
	invalidLists     map[uint64]*SkipList
	maxID            uint64
	classifyUnlinked []uint64 // headers routed to the unlinked set: stale empty-list headers and checkpoint-superseded originals from initRebuildLists, plus irreparable-linkage headers from AddHeader when T_cp > 0

	versions *VersionResolver
	now      uint64 // injected "now" for HasExpired, deterministic in tests

	segRngMu sync.Mutex
	segRng   *rand.Rand // height source for segment-start nodes built before their owning list exists

	vlog          *verbosity
	metrics       *RebuildMetrics
	ingestCaches  []*ThreadCache
	rebuildCaches []*ThreadCache // caches retired by Phase-A / list-mode workers, collected for cleanInvalidRecords
}

// ThreadCache is a per-rebuild-thread cache: a mapping from collection
// id to elements visited so far in that collection, and a set of
// DLRecord offsets to reclaim. It is private to one scan or rebuild
// worker, so no locking is layered over the swiss maps.
type ThreadCache struct {
	visited  *swiss.Map[uint64, int]
	unlinked *swiss.Map[uint64, struct{}]
}

// NewThreadCache builds an empty per-thread rebuilder cache. Each scan
// or rebuild worker owns exactly one; no cross-thread access.
func NewThreadCache() *ThreadCache {
	return &ThreadCache{
		visited:  swiss.NewMap[uint64, int](16),
		unlinked: swiss.NewMap[uint64, struct{}](64),
	}
}

func (tc *ThreadCache) bumpVisited(id uint64) int {
	n, _ := tc.visited.Get(id)
	n++
	tc.visited.Put(id, n)
	return n
}

func (tc *ThreadCache) markUnlinked(offset uint64) {
	tc.unlinked.Put(offset, struct{}{})
}

// retireThreadCache hands a rebuild worker's thread-local cache back to
// the Rebuilder once the worker has finished its last segment/list, so
// cleanInvalidRecords can later destroy everything it marked unlinked.
func (rb *Rebuilder) retireThreadCache(tc *ThreadCache) {
	rb.mu.Lock()
	rb.rebuildCaches = append(rb.rebuildCaches, tc)
	rb.mu.Unlock()
}

// NewRebuilder constructs a Rebuilder over an already-opened heap, with
// config-driven worker counts falling back to a sane default when
// unset.
func NewRebuilder(h *Heap, cfg *RecoveryConfig) *Rebuilder {
	if cfg == nil {
		cfg = defaultRecoveryConfig()
	}
	if cfg.NumRebuildThreads < 1 {
		cfg.NumRebuildThreads = 4
	}

	rb := &Rebuilder{
		Heap:         h,
		HashTbl:      NewHashTable(cfg.HashTableShards),
		Threads:      NewThreadManager(),
		Log:          NewBatchLog(),
		Config:       cfg,
		segments:     NewSegmentRegistry(),
		rebuildLists: make(map[uint64]*SkipList),
		invalidLists: make(map[uint64]*SkipList),
		versions:     NewVersionResolver(h, cfg.CheckpointTimestamp, 4096),
		segRng:       rand.New(rand.NewPCG(0x9e3779b97f4a7c15, 0x243f6a8885a308d3)),
		vlog:         newVerbosity(cfg.VerboseLevel, cfg.DebugFlags),
		metrics:      newRebuildMetrics(),
	}
	return rb
}

// newSegmentStartNode draws a height and builds a node for a segment
// start discovered during the scan, before its owning skip list exists
// (lists are only created later by initRebuildLists). The height source
// is the Rebuilder's own rng rather than any list's.
func (rb *Rebuilder) newSegmentStartNode(r DLRecord) *Node {
	rb.segRngMu.Lock()
	h := randHeight(rb.segRng)
	rb.segRngMu.Unlock()
	return &Node{Record: r, next: make([]*Node, h)}
}

// SetNow overrides the injected "now" used for expiry checks, for
// deterministic tests; defaults to 0 (nothing expires) until set.
func (rb *Rebuilder) SetNow(now uint64) { rb.now = now }
