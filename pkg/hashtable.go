package pmrecover

import (
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/puzpuzpuz/xsync/v3"
)

// InsertStatus mirrors the hash table's insert result: a fresh insert
// reports NotFound (the expected happy path during rebuild); Found means
// the slot was already occupied, a rebuild-integrity violation.
type InsertStatus int

const (
	HTNotFound InsertStatus = iota
	HTFound
)

// HashEntry is a tagged variant discriminating a DLRecord still on the
// persistent chain, a live in-memory skip-list node, or a whole skip
// list (collection header entries point at the list itself).
type HashEntry struct {
	Type   PtrType
	Record DLRecord
	Node   *Node
	List   *SkipList

	RecordType   RecordType
	RecordStatus RecordStatus
}

// HashTable stands in for the engine's primary hash table: a concurrent
// map keyed by the record key, plus lock stripes chosen by the key's
// xxhash, exposed as per-key locking via AcquireLock.
type HashTable struct {
	m      *xsync.MapOf[string, *HashEntry]
	shards []sync.Mutex
}

// NewHashTable builds a hash table with the given number of lock shards.
func NewHashTable(shards int) *HashTable {
	if shards < 1 {
		shards = 1
	}
	return &HashTable{
		m:      xsync.NewMapOf[string, *HashEntry](),
		shards: make([]sync.Mutex, shards),
	}
}

func (ht *HashTable) shardFor(key []byte) *sync.Mutex {
	h := xxhash.Sum64(key)
	return &ht.shards[h%uint64(len(ht.shards))]
}

// AcquireLock returns a scoped unlock function for key. Phase A and the
// list-mode rebuild hold it while resolving and consuming a record's
// FindCheckpointVersion result.
func (ht *HashTable) AcquireLock(key []byte) func() {
	m := ht.shardFor(key)
	m.Lock()
	return m.Unlock
}

// Insert attempts to claim key with entry as given; insertHashIndex is
// what fills in the entry's record_type and record_status.
// Returns HTNotFound on a fresh insert (expected), HTFound if the slot
// already held a value (the caller must then fail with Abort).
func (ht *HashTable) Insert(key []byte, entry *HashEntry) InsertStatus {
	k := string(key)
	_, loaded := ht.m.LoadOrStore(k, entry)
	if loaded {
		return HTFound
	}
	return HTNotFound
}

// Get returns the entry for key, if any.
func (ht *HashTable) Get(key []byte) (*HashEntry, bool) {
	return ht.m.Load(string(key))
}

// Len returns the number of entries currently held.
func (ht *HashTable) Len() int { return ht.m.Size() }

// insertHashIndex computes record_type/record_status from the pointed-to
// object and inserts, failing with Abort on a duplicate slot.
func insertHashIndex(ht *HashTable, key []byte, ptrType PtrType, record DLRecord, node *Node, list *SkipList) error {
	entry := &HashEntry{Type: ptrType, Record: record, Node: node, List: list}
	switch ptrType {
	case PtrSkiplist:
		entry.RecordType = SortedRecord
	default:
		entry.RecordType = SortedElem
	}
	entry.RecordStatus = record.Status()

	status := ht.Insert(key, entry)
	if status == HTFound {
		return NewStatusError(Abort, nil, "rebuild-integrity violation: duplicate hash slot")
	}
	return nil
}
