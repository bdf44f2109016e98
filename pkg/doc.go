// Package pmrecover rebuilds the in-memory sorted-collection indices of a
// persistent-memory key-value store after an abrupt shutdown.
//
// It reconstructs skip lists and hash-table entries from durable records
// (DLRecords) left in a persistent-memory heap, reconciling multi-version
// chains against an optional checkpoint timestamp so recovery yields a
// snapshot consistent with the moment the checkpoint was taken.
//
// The package does not implement a key-value engine, a persistent-memory
// allocator, or a write-ahead log: those are external collaborators whose
// interfaces are modeled here only as far as the rebuilder needs them.
package pmrecover
