// Package trace turns the hops of one routed turn into persisted records.
//
// A Reconciler walks the hops in order and, per hop, writes an agent trace
// record plus one chat record per message inside a single transaction.
// Human and AI messages are deduplicated by id across the whole trace, so a
// replayed batch leaves the stored history unchanged. Tool calls and their
// results are paired by call id and summarized in a tool usage row.
//
// After a successful reconcile the written messages are handed to an
// optional Publisher, e.g. a JSONL file consumed by downstream analytics.
package trace
