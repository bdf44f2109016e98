package pmrecover

import "sync"

// BatchLogEntry is a sorted-log entry carrying the offset of a record
// that was part of an uncommitted batch.
type BatchLogEntry struct {
	Offset uint64
}

// BatchLog is a minimal append-only log of pending sorted-collection
// batch entries, standing in for the engine's write-ahead/batch log.
type BatchLog struct {
	mu      sync.Mutex
	entries []BatchLogEntry
}

// NewBatchLog builds an empty batch log.
func NewBatchLog() *BatchLog { return &BatchLog{} }

// Append records a pending sorted entry at offset.
func (b *BatchLog) Append(offset uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, BatchLogEntry{Offset: offset})
}

// Entries returns a snapshot of all pending entries, in append order.
func (b *BatchLog) Entries() []BatchLogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]BatchLogEntry, len(b.entries))
	copy(out, b.entries)
	return out
}

// Clear discards all entries, used once Rollback has processed them.
func (b *BatchLog) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = b.entries[:0]
}
