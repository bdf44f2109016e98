package pmrecover

// CheckPrevLinkage reports whether heap[r.prev].next == offset(r). An
// empty list's header satisfies this trivially against itself
// (self-loop).
func CheckPrevLinkage(h *Heap, r DLRecord) bool {
	prev := r.PrevOffset()
	if prev == NullOffset {
		return false
	}
	return h.Record(prev).NextOffset() == r.Offset
}

// CheckNextLinkage reports whether heap[r.next].prev == offset(r).
func CheckNextLinkage(h *Heap, r DLRecord) bool {
	next := r.NextOffset()
	if next == NullOffset {
		return false
	}
	return h.Record(next).PrevOffset() == r.Offset
}

// CheckLinkage reports whether both sides of r's doubly-linked position
// are internally consistent.
func CheckLinkage(h *Heap, r DLRecord) bool {
	return CheckPrevLinkage(h, r) && CheckNextLinkage(h, r)
}

// CheckAndRepairLinkage repairs a single-sided break when the other side
// identifies a valid partner of a compatible record type: the
// inconsistent side is persisted to match via a non-temporal, fenced
// store. Returns true iff both linkages hold on return. The repairing
// store must be durable before this returns, because callers rely on
// recoverability if a crash follows immediately after.
func CheckAndRepairLinkage(h *Heap, r DLRecord) bool {
	prevOK := CheckPrevLinkage(h, r)
	nextOK := CheckNextLinkage(h, r)
	if prevOK && nextOK {
		return true
	}
	if prevOK == nextOK {
		// Both sides broken: nothing trustworthy to repair from.
		return false
	}

	if !prevOK {
		// r's own prev pointer is trusted; the record it names failed to
		// have its next pointer updated to r before the crash. Persist
		// the neighbor's next field to match.
		prevOffset := r.PrevOffset()
		if prevOffset == NullOffset {
			return false
		}
		partner := h.Record(prevOffset)
		if !compatiblePartner(partner) {
			return false
		}
		h.StoreNextOffset(partner, r.Offset)
		return CheckLinkage(h, r)
	}

	// !nextOK: r's own next pointer is trusted; repair the named
	// neighbor's prev field to match.
	nextOffset := r.NextOffset()
	if nextOffset == NullOffset {
		return false
	}
	partner := h.Record(nextOffset)
	if !compatiblePartner(partner) {
		return false
	}
	h.StorePrevOffset(partner, r.Offset)
	return CheckLinkage(h, r)
}

func compatiblePartner(p DLRecord) bool {
	return p.Type() == SortedRecord || p.Type() == SortedElem
}
