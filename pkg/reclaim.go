package pmrecover

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

// cleanInvalidRecords is the reclaimer. For each rebuilder
// thread's unlinked record set: if the record is still of a sorted type
// and its linkage is still valid in the chain (an anomaly meaning some
// later rebuild step reinserted it through a different path), it is
// skipped; otherwise it is destroyed and its (offset, size) is
// accumulated into a batch-free vector. Every skip list in
// invalid_skiplists is then destroyed (reclaiming all their persistent
// records), and both collections are cleared.
func (rb *Rebuilder) cleanInvalidRecords(caches []*ThreadCache) ([]SpaceEntry, error) {
	defer rb.vlog.enter()()
	var freed []SpaceEntry
	var touched []DLRecord

	for i, tc := range caches {
		n := 0
		tc.unlinked.Iter(func(offset uint64, _ struct{}) bool {
			r := rb.Heap.Record(offset)
			if validStructure(r) && CheckLinkage(rb.Heap, r) {
				return false
			}
			rb.Heap.markOutdatedNoFence(r)
			touched = append(touched, r)
			freed = append(freed, SpaceEntry{Offset: offset, Size: r.Size()})
			rb.metrics.recordsReclaimed.Add(1)
			n++
			return false
		})
		if rb.vlog.enabled("reclaim") && n > 0 {
			rb.vlog.log(2, "reclaim: thread cache %d destroyed %d unlinked records", i, n)
		}
	}

	rb.mu.Lock()
	classifyUnlinked := rb.classifyUnlinked
	rb.classifyUnlinked = nil
	rb.mu.Unlock()
	for _, offset := range classifyUnlinked {
		r := rb.Heap.Record(offset)
		if validStructure(r) && CheckLinkage(rb.Heap, r) {
			continue
		}
		rb.Heap.markOutdatedNoFence(r)
		touched = append(touched, r)
		freed = append(freed, SpaceEntry{Offset: offset, Size: r.Size()})
		rb.metrics.recordsReclaimed.Add(1)
	}

	rb.mu.Lock()
	for id, list := range rb.invalidLists {
		destroyed, records := rb.destroySkiplist(list)
		if rb.vlog.enabled("reclaim") {
			rb.vlog.log(2, "reclaim: destroyed invalid list %d (%d records)", id, len(destroyed))
		}
		freed = append(freed, destroyed...)
		touched = append(touched, records...)
		delete(rb.invalidLists, id)
	}
	rb.mu.Unlock()

	// Every destroy above only mutated the mapping; make the whole pass
	// durable in one batched vectored write rather than one msync per
	// record.
	if err := rb.Heap.FlushRecordStatuses(touched); err != nil {
		return freed, err
	}

	if rb.Config.ReclaimAuditLog && len(freed) > 0 {
		if err := rb.writeReclaimAuditLog(freed); err != nil {
			return freed, err
		}
	}
	return freed, nil
}

// destroySkiplist reclaims every record reachable from an invalid list's
// header, including the header itself, returning both the freed space
// entries and the mutated records so the caller can flush them durably in
// one batch.
func (rb *Rebuilder) destroySkiplist(list *SkipList) ([]SpaceEntry, []DLRecord) {
	var freed []SpaceEntry
	var touched []DLRecord
	header := list.HeaderRecord
	cur := rb.Heap.Record(header.NextOffset())
	for cur.Offset != header.Offset && cur.Offset != NullOffset {
		next := rb.Heap.Record(cur.NextOffset())
		rb.Heap.markOutdatedNoFence(cur)
		touched = append(touched, cur)
		freed = append(freed, SpaceEntry{Offset: cur.Offset, Size: cur.Size()})
		cur = next
	}
	rb.Heap.markOutdatedNoFence(header)
	touched = append(touched, header)
	freed = append(freed, SpaceEntry{Offset: header.Offset, Size: header.Size()})
	return freed, touched
}

// writeReclaimAuditLog writes a zstd-compressed record of every
// destroyed (offset, size) pair, named with a UUIDv7 run id so repeated
// recovery attempts against the same heap never collide.
func (rb *Rebuilder) writeReclaimAuditLog(freed []SpaceEntry) error {
	runID := uuid.Must(uuid.NewV7()).String()
	dir := rb.Config.auditDir()
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	var buf bytes.Buffer
	for _, e := range freed {
		var rec [16]byte
		binary.BigEndian.PutUint64(rec[0:8], e.Offset)
		binary.BigEndian.PutUint64(rec[8:16], e.Size)
		buf.Write(rec[:])
	}

	enc := acquireZstdEncoder()
	defer releaseZstdEncoder(enc)

	path := filepath.Join(dir, fmt.Sprintf("reclaim-%s.zst", runID))
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()

	enc.Reset(out)
	if _, err := enc.Write(buf.Bytes()); err != nil {
		return err
	}
	return enc.Close()
}

func (c *RecoveryConfig) auditDir() string {
	if !c.ReclaimAuditLog {
		return ""
	}
	return "reclaim-audit"
}

var zstdEncoderPool = sync.Pool{
	New: func() any {
		enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		return enc
	},
}

func acquireZstdEncoder() *zstd.Encoder {
	return zstdEncoderPool.Get().(*zstd.Encoder)
}

func releaseZstdEncoder(enc *zstd.Encoder) {
	zstdEncoderPool.Put(enc)
}
