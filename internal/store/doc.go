// Package store is the partitioned document store for procurement entities.
//
// SQLite is the backing engine. Entities live in a single table keyed by
// (id, partition_key) with a handful of promoted columns for indexed
// filtering; the full envelope is stored as JSON. Writes go through
// compare-and-replace against the version read, so two concurrent updates
// starting from the same version race and exactly one wins - the loser gets
// a CONFLICT error and must re-read.
//
// The audit log is a separate append-only table partitioned by
// {entityType}|{entityId}. It never shrinks and never reorders; the
// embedded trail on the entity is only a bounded recent window.
//
// Every operation records latency and outcome through an OpRecorder, and
// operations past the slow threshold are logged as performance alerts.
// Transient sqlite busy/locked failures are retried a fixed number of times
// with fixed backoff; logical failures are never retried here.
package store
