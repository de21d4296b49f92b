// Package entity defines the common document envelope shared by every
// procurement record: identity and partition keys, version counters for
// optimistic concurrency, per-type status enums, lifecycle stages, and the
// append-only audit trail with its integrity fingerprints.
//
// Entities are plain data. All behavior (transitions, approvals, scoring)
// lives in the packages that operate on them; entity only guarantees that
// two processes talking about the same record agree on its shape, its
// partition, and the bytes that get fingerprinted.
package entity
