package pmrecover

import (
	"io"
	"os"
	"sort"
	"sync"
	"syscall"
	"unsafe"

	"github.com/google/vectorio"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Header field byte offsets within a DLRecord, used by FlushHeaders
// callers to describe which byte ranges of a mutated record must be
// made durable.
const (
	fieldPrevOffset = 0
	fieldNextOffset = 8
	fieldOldVersion = 24
	fieldStatus     = 41
)

// heapFileHeader sits at offset 0 of the mapped file, ahead of the
// record region: signature, byte order magic, version. Cursor tracks
// the bump allocator's next free offset so the record region survives
// close/reopen.
type heapFileHeader struct {
	Magic      uint64
	ByteOrder  uint64
	Version    uint32
	RecordBase uint32 // offset where the record region begins
	Cursor     uint64 // next free offset; 0 means "empty, start at RecordBase"
}

const heapFileHeaderSize = 32

// Heap is a flat, mmap-backed persistent-memory heap file. It plays the
// engine allocator's role (offset2addr/addr2offset/PurgeAndFree/
// BatchFree), deliberately thin: the rebuilder algorithms are what this
// repository actually tests.
type Heap struct {
	mu   sync.RWMutex
	file *os.File
	data []byte // full mmap, including heapFileHeader
}

// SpaceEntry describes a freed region for BatchFree.
type SpaceEntry struct {
	Offset uint64
	Size   uint64
}

// OpenHeap mmaps path (created/truncated to size if it doesn't exist yet)
// and validates or writes the heap header.
func OpenHeap(path string, size int64) (*Heap, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "opening heap file")
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "stat heap file")
	}
	fresh := info.Size() == 0
	if fresh && size <= 0 {
		f.Close()
		return nil, NewStatusError(InvalidConfiguration, nil, "heap file is empty and no size was given")
	}
	if fresh {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, errors.Wrap(err, "truncating heap file")
		}
	} else {
		size = info.Size()
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "mmap heap file")
	}

	h := &Heap{file: f, data: data}
	if fresh {
		h.writeHeader()
	} else if err := h.validateHeader(); err != nil {
		h.Close()
		return nil, err
	}
	return h, nil
}

func (h *Heap) hdr() *heapFileHeader {
	return (*heapFileHeader)(unsafe.Pointer(&h.data[0]))
}

func (h *Heap) writeHeader() {
	hdr := h.hdr()
	hdr.Magic = kHeapMagic
	hdr.ByteOrder = 0x0102030405060708
	hdr.Version = kHeapVersion
	hdr.RecordBase = heapFileHeaderSize
	unix.Msync(h.data[:heapFileHeaderSize], unix.MS_SYNC)
}

func (h *Heap) validateHeader() error {
	hdr := h.hdr()
	if hdr.Magic != kHeapMagic {
		return NewStatusError(Abort, nil, "heap file signature mismatch")
	}
	if hdr.Version != kHeapVersion {
		return NewStatusError(Abort, nil, "heap file version mismatch")
	}
	return nil
}

// RecordBase is the first usable offset for record allocation.
func (h *Heap) RecordBase() uint64 { return uint64(h.hdr().RecordBase) }

// Len returns the size of the mapped region.
func (h *Heap) Len() uint64 { return uint64(len(h.data)) }

// Record returns a handle to the DLRecord at offset. NullOffset yields
// a handle that must not be dereferenced; callers check against
// NullOffset first.
func (h *Heap) Record(offset uint64) DLRecord {
	return DLRecord{Offset: offset, heap: h}
}

// AllocateRecord appends a new record at the current write cursor (a
// simple bump allocator standing in for the external pmem allocator) and
// returns its offset. Tests build synthetic heaps entirely through this
// path; the allocator itself is out of scope for this repository.
func (h *Heap) AllocateRecord(prev, next, timestamp, oldVersion, expireTime uint64, rtype RecordType, status RecordStatus, key, val []byte) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	offset := h.nextFreeOffsetLocked()
	size := recordSize(&dlRecordHeader{KeyLen: uint32(len(key)), ValLen: uint32(len(val))})
	if offset+size > h.Len() {
		return 0, NewStatusError(PMemOverflow, nil, "heap exhausted")
	}

	hdr := (*dlRecordHeader)(unsafe.Pointer(&h.data[offset]))
	hdr.PrevOffset = prev
	hdr.NextOffset = next
	hdr.Timestamp = timestamp
	hdr.OldVersion = oldVersion
	hdr.ExpireTime = expireTime
	hdr.RecordType = uint8(rtype)
	hdr.RecordStatus = uint8(status)
	hdr.KeyLen = uint32(len(key))
	hdr.ValLen = uint32(len(val))
	copy(h.data[offset+uint64(DLRecordHeaderSize):], key)
	copy(h.data[offset+uint64(DLRecordHeaderSize)+uint64(len(key)):], val)

	h.fenceLocked(offset, int(size))
	h.advanceCursorLocked(offset + size)
	return offset, nil
}

func (h *Heap) nextFreeOffsetLocked() uint64 {
	c := h.hdr().Cursor
	if c == 0 {
		return h.RecordBase()
	}
	return c
}

func (h *Heap) advanceCursorLocked(next uint64) {
	h.hdr().Cursor = next
	h.fenceLocked(0, heapFileHeaderSize)
}

// Cursor returns the first unallocated offset in the record region.
func (h *Heap) Cursor() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.nextFreeOffsetLocked()
}

// ForEachRecord walks every allocated record in heap order, stopping
// early if fn returns false. Used by the scan pass preceding Rebuild.
func (h *Heap) ForEachRecord(fn func(DLRecord) bool) {
	end := h.Cursor()
	for off := h.RecordBase(); off < end; {
		r := h.Record(off)
		if !fn(r) {
			return
		}
		off += r.Size()
	}
}

// StorePrevOffset writes r.prev non-temporally and fences before
// returning, satisfying the linkage-repair persistence ordering
// requirement: the store must be durable before CheckAndRepairLinkage
// reports success.
func (h *Heap) StorePrevOffset(r DLRecord, prev uint64) {
	h.mu.Lock()
	r.header().PrevOffset = prev
	h.fenceLocked(r.Offset+fieldPrevOffset, 8)
	h.mu.Unlock()
}

// StoreNextOffset is the next-field analog of StorePrevOffset.
func (h *Heap) StoreNextOffset(r DLRecord, next uint64) {
	h.mu.Lock()
	r.header().NextOffset = next
	h.fenceLocked(r.Offset+fieldNextOffset, 8)
	h.mu.Unlock()
}

// StoreOldVersion clears or updates r.old_version, used to canonicalize a
// record onto the checkpoint-version chain.
func (h *Heap) StoreOldVersion(r DLRecord, v uint64) {
	h.mu.Lock()
	r.header().OldVersion = v
	h.fenceLocked(r.Offset+fieldOldVersion, 8)
	h.mu.Unlock()
}

// StoreStatus marks a record Outdated when it is superseded. This path is
// used for single, synchronous destroys (e.g. Rollback) that must be
// durable before the caller proceeds; batched reclaim destroys instead
// use markOutdatedNoFence plus a single FlushRecordStatuses call.
func (h *Heap) StoreStatus(r DLRecord, status RecordStatus) {
	h.mu.Lock()
	r.header().RecordStatus = uint8(status)
	h.fenceLocked(r.Offset+fieldStatus, 1)
	h.mu.Unlock()
}

// markOutdatedNoFence mutates r's status field to Outdated in the mapping
// without individually fencing it durable. Callers accumulate every
// touched record and must flush them together via FlushRecordStatuses;
// this is what lets cleanInvalidRecords make an entire reclaim pass
// durable in a handful of vectored writes instead of one msync per
// record.
func (h *Heap) markOutdatedNoFence(r DLRecord) {
	h.mu.Lock()
	r.header().RecordStatus = uint8(Outdated)
	h.mu.Unlock()
}

// FlushRecordStatuses durably flushes the status byte of every record in
// recs via FlushHeaders, batching what would otherwise be one msync per
// destroyed record into as few vectored syscalls as IOV_MAX and
// contiguity allow.
func (h *Heap) FlushRecordStatuses(recs []DLRecord) error {
	if len(recs) == 0 {
		return nil
	}
	offsets := make([]uint64, len(recs))
	lens := make([]int, len(recs))
	for i, r := range recs {
		offsets[i] = r.Offset + fieldStatus
		lens[i] = 1
	}
	return h.FlushHeaders(offsets, lens)
}

func (h *Heap) fenceLocked(offset uint64, n int) {
	end := offset + uint64(n)
	pageStart := offset &^ 0xfff
	pageEnd := alignUp(end, 4096)
	if pageEnd > h.Len() {
		pageEnd = h.Len()
	}
	unix.Msync(h.data[pageStart:pageEnd], unix.MS_SYNC)
}

// FlushHeaders durably writes a batch of already-mutated header-field
// byte ranges, chunked by the system's IOV_MAX. vectorio.WritevRaw
// is a plain sequential writev: it writes at the file's current cursor,
// not at an arbitrary offset, so entries first get sorted and grouped
// into maximal contiguous runs and the cursor is seeked to each run's
// start before that run is handed to WritevRaw in one syscall.
func (h *Heap) FlushHeaders(offsets []uint64, lens []int) error {
	if len(offsets) == 0 {
		return nil
	}

	order := make([]int, len(offsets))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return offsets[order[a]] < offsets[order[b]] })

	iovMax := systemIOVMax()
	fd := h.file.Fd()

	runStart := 0
	for runStart < len(order) {
		runEnd := runStart + 1
		for runEnd < len(order) && runEnd-runStart < iovMax &&
			offsets[order[runEnd]] == offsets[order[runEnd-1]]+uint64(lens[order[runEnd-1]]) {
			runEnd++
		}

		if _, err := h.file.Seek(int64(offsets[order[runStart]]), io.SeekStart); err != nil {
			return errors.Wrap(err, "seeking to flush heap headers")
		}
		iovecs := make([]syscall.Iovec, 0, runEnd-runStart)
		for i := runStart; i < runEnd; i++ {
			idx := order[i]
			iov := syscall.Iovec{Base: &h.data[offsets[idx]]}
			iov.SetLen(lens[idx])
			iovecs = append(iovecs, iov)
		}
		if _, err := vectorio.WritevRaw(fd, iovecs); err != nil {
			return errors.Wrap(err, "flushing heap headers")
		}
		runStart = runEnd
	}
	return nil
}

// systemIOVMax returns the per-call iovec limit for writev. Linux fixes
// it at 1024 (UIO_MAXIOV); sysconf(_SC_IOV_MAX) is a libc function with
// no system call behind it, so the value is not queried at run time.
func systemIOVMax() int {
	const linuxIOVMax = 1024
	return linuxIOVMax
}

// Close unmaps and closes the heap file.
func (h *Heap) Close() error {
	if err := unix.Munmap(h.data); err != nil {
		return err
	}
	return h.file.Close()
}
