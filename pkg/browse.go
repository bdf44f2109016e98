package pmrecover

import (
	"bytes"

	zcsl "github.com/mattkeenan/zerocopyskiplist"
)

// browseEntry is a lightweight, copyable view of one rebuilt element,
// used only by the read-only browse index below, never by the core
// rebuilder, which needs direct tower-splice access that this wrapper
// does not expose.
type browseEntry struct {
	key   []byte
	value []byte
}

// BrowseIndex is a secondary, read-only range index over an already
// rebuilt collection: a generic zero-copy skip list keyed by the user
// key, with a context string tracking which collection it came from. Built by cmd/pmrecoverctl's `ls` subcommand for ad-hoc browsing
// after Rebuild completes.
type BrowseIndex struct {
	skiplist *zcsl.ZeroCopySkiplist[browseEntry, string, string]
}

// NewBrowseIndex builds an empty browse index.
func NewBrowseIndex(maxLevels int) *BrowseIndex {
	if maxLevels < 8 {
		maxLevels = 16
	}

	getKey := func(e *browseEntry) string {
		return string(e.key)
	}
	getSize := func(e *browseEntry) int {
		return len(e.key) + len(e.value)
	}
	cmpKey := func(a, b string) int {
		return bytes.Compare([]byte(a), []byte(b))
	}

	return &BrowseIndex{
		skiplist: zcsl.MakeZeroCopySkiplist[browseEntry, string, string](maxLevels, getKey, getSize, cmpKey),
	}
}

// IndexList copies every element of a rebuilt list into the browse
// index, tagged with the list's collection id as the context string so
// ls can later filter by collection.
func (b *BrowseIndex) IndexList(context string, list *SkipList) {
	list.ForEach(func(n *Node) bool {
		entry := browseEntry{
			key:   append([]byte(nil), n.Record.UserKey()...),
			value: append([]byte(nil), n.Record.Value()...),
		}
		b.skiplist.Insert(&entry, context)
		return true
	})
}

// Find looks up a user key, returning its value and owning context.
func (b *BrowseIndex) Find(userKey []byte) ([]byte, string, bool) {
	itemPtr, context := b.skiplist.Find(string(userKey))
	if itemPtr == nil {
		return nil, "", false
	}
	entry := itemPtr.Item()
	return entry.value, context, true
}

// ForEachInContext iterates all entries belonging to one collection's
// context string, in sorted key order.
func (b *BrowseIndex) ForEachInContext(context string, fn func(key, value []byte) bool) {
	for cur := b.skiplist.First(); cur != nil; cur = cur.Next() {
		if cur.Context() != context {
			continue
		}
		entry := cur.Item()
		if !fn(entry.key, entry.value) {
			return
		}
	}
}

// Length returns the total number of entries indexed across all
// collections.
func (b *BrowseIndex) Length() int {
	return b.skiplist.Length()
}
