package pmrecover

import (
	"bytes"
	"sync"
)

// Comparator orders two user keys, returning <0, 0, >0 as bytes.Compare
// does.
type Comparator func(a, b []byte) int

// comparatorRegistry is the named comparator registry headers resolve
// their comparator_name against: a small map guarded by a mutex, with a
// couple of built-ins always present.
type comparatorRegistry struct {
	mu     sync.RWMutex
	byName map[string]Comparator
}

var globalComparators = newComparatorRegistry()

func newComparatorRegistry() *comparatorRegistry {
	r := &comparatorRegistry{byName: make(map[string]Comparator)}
	r.byName["bytewise"] = bytes.Compare
	r.byName["reverse_bytewise"] = func(a, b []byte) int { return bytes.Compare(b, a) }
	return r
}

// RegisterComparator adds or replaces a named comparator function.
func RegisterComparator(name string, cmp Comparator) {
	globalComparators.mu.Lock()
	defer globalComparators.mu.Unlock()
	globalComparators.byName[name] = cmp
}

// GetComparator looks up a comparator by name, returning ok=false if it
// is not registered; the caller (header classification) must fail with
// InvalidConfiguration in that case.
func GetComparator(name string) (Comparator, bool) {
	globalComparators.mu.RLock()
	defer globalComparators.mu.RUnlock()
	cmp, ok := globalComparators.byName[name]
	return cmp, ok
}
