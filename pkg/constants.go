package pmrecover

// NullOffset is the sentinel meaning "no record" for any offset-typed
// DLRecord field (prev_offset, next_offset, old_version).
const NullOffset uint64 = ^uint64(0)

// RecordType classifies a DLRecord as a collection header or an element.
type RecordType uint8

const (
	SortedRecord RecordType = iota // collection header
	SortedElem                     // ordinary element
)

func (t RecordType) String() string {
	switch t {
	case SortedRecord:
		return "SortedRecord"
	case SortedElem:
		return "SortedElem"
	default:
		return "Unknown"
	}
}

// RecordStatus marks whether a DLRecord is the live version or has been
// superseded.
type RecordStatus uint8

const (
	Normal RecordStatus = iota
	Outdated
)

func (s RecordStatus) String() string {
	if s == Outdated {
		return "Outdated"
	}
	return "Normal"
}

// PtrType discriminates what a hash-table entry's target pointer refers
// to: a DLRecord still on the persistent chain, a live in-memory
// skip-list node, or a whole skip list (collection header entries point
// here).
type PtrType uint8

const (
	PtrRecord PtrType = iota
	PtrSkiplistNode
	PtrSkiplist
)

// kHeapMagic identifies a valid pmrecover heap file header.
const kHeapMagic uint64 = 0x706d7265636f7665 // "pmrecove"

const kHeapVersion uint32 = 1

// kRestoreSkiplistStride is the default segment target size: every Nth
// eligible element observed during ingestion becomes a new segment start.
// Trades registry contention against segment size variance.
const kRestoreSkiplistStride = 10000

// kMaxHeight bounds the number of tower levels a skip-list node may carry.
const kMaxHeight = 32

// DLRecordHeaderSize is the fixed-width portion of a DLRecord preceding
// its variable-length key/value bytes.
const DLRecordHeaderSize = 64
