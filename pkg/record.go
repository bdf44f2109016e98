package pmrecover

import (
	"encoding/binary"
	"unsafe"
)

// DLRecord is a durable doubly-linked record in the persistent-memory
// heap: a fixed-width header followed by variable-length key/value
// bytes. The rebuilder reads the header directly via unsafe pointer
// arithmetic into the mmap'd region, so field order and width here are
// load-bearing, not stylistic.
type dlRecordHeader struct {
	PrevOffset   uint64
	NextOffset   uint64
	Timestamp    uint64
	OldVersion   uint64
	ExpireTime   uint64
	RecordType   uint8
	RecordStatus uint8
	_            [6]byte // padding to keep the header 8-byte aligned
	KeyLen       uint32
	ValLen       uint32
}

// DLRecord is a handle to one record living at Offset within a Heap. All
// mutation goes through Heap so stores can be made non-temporally and
// fenced per the linkage-repair persistence requirement.
type DLRecord struct {
	Offset uint64
	heap   *Heap
}

func (r DLRecord) header() *dlRecordHeader {
	return (*dlRecordHeader)(unsafe.Pointer(&r.heap.data[r.Offset]))
}

func (r DLRecord) PrevOffset() uint64 { return r.header().PrevOffset }
func (r DLRecord) NextOffset() uint64 { return r.header().NextOffset }
func (r DLRecord) Timestamp() uint64  { return r.header().Timestamp }
func (r DLRecord) OldVersion() uint64 { return r.header().OldVersion }
func (r DLRecord) ExpireTime() uint64 { return r.header().ExpireTime }

func (r DLRecord) Type() RecordType     { return RecordType(r.header().RecordType) }
func (r DLRecord) Status() RecordStatus { return RecordStatus(r.header().RecordStatus) }

// HasExpired reports whether the record's expire_time has passed as of
// now. A zero ExpireTime means "never expires". now is injected rather
// than read via time.Now internally, so classification stays
// deterministic under test.
func (r DLRecord) HasExpired(now uint64) bool {
	et := r.ExpireTime()
	return et != 0 && et <= now
}

// Key returns the record's key bytes, which begin immediately after the
// fixed header.
func (r DLRecord) Key() []byte {
	h := r.header()
	start := r.Offset + uint64(DLRecordHeaderSize)
	return r.heap.data[start : start+uint64(h.KeyLen) : start+uint64(h.KeyLen)]
}

// Value returns the record's value bytes, immediately following the key.
func (r DLRecord) Value() []byte {
	h := r.header()
	start := r.Offset + uint64(DLRecordHeaderSize) + uint64(h.KeyLen)
	return r.heap.data[start : start+uint64(h.ValLen) : start+uint64(h.ValLen)]
}

// CollectionID decodes the owning collection id from a record's key
// prefix. Keys are laid out as an 8-byte big-endian collection id
// followed by the user key.
func (r DLRecord) CollectionID() uint64 {
	k := r.Key()
	if len(k) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(k[:8])
}

// UserKey returns the key bytes with the collection-id prefix stripped.
func (r DLRecord) UserKey() []byte {
	k := r.Key()
	if len(k) < 8 {
		return nil
	}
	return k[8:]
}

// recordSize returns the total durable footprint of a record at offset.
func recordSize(h *dlRecordHeader) uint64 {
	sz := uint64(DLRecordHeaderSize) + uint64(h.KeyLen) + uint64(h.ValLen)
	return alignUp(sz, 8)
}

func alignUp(n, align uint64) uint64 {
	return (n + align - 1) &^ (align - 1)
}

// Size returns this record's total durable footprint in bytes.
func (r DLRecord) Size() uint64 {
	return recordSize(r.header())
}

// HeaderConfig is a collection header's decoded configuration payload:
// (collection id, comparator name, index_with_hashtable).
type HeaderConfig struct {
	ID                 uint64
	ComparatorName     string
	IndexWithHashtable bool
}

// DecodeHeaderConfig parses a SortedRecord's value bytes as laid out by
// the ingestion side: 8-byte id, 1-byte index_with_hashtable flag, then
// the comparator name.
func DecodeHeaderConfig(value []byte) (HeaderConfig, bool) {
	if len(value) < 9 {
		return HeaderConfig{}, false
	}
	id := binary.BigEndian.Uint64(value[:8])
	flag := value[8] != 0
	name := string(value[9:])
	return HeaderConfig{ID: id, ComparatorName: name, IndexWithHashtable: flag}, true
}
