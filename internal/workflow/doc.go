// Package workflow owns the per-entity-type status state machines.
//
// Transition tables are declared in CUE (definitions.cue, embedded) and
// compiled into Definition values at startup - the table is the single
// source of truth, and anything absent from it is rejected. Each edge
// carries a minimum actor role; terminal statuses have no outgoing edges,
// which the compiler enforces rather than trusting the declaration.
//
// Machine drives transitions through the store's versioned update path and
// records every successful mutation through the audit recorder.
package workflow
