/*
Package oplog implements the two halves of the append-only operation log:
the writer, which stamps a new entry with an id and timestamp and persists
it, and replay, which deterministically rebuilds a task's materialized
state from its complete history.

Replay is the hardest subsystem in the core. It must be
idempotent (replaying the same batch twice leaves observable state
unchanged) and order-independent (delivering the same multiset of
entries in any order produces the same final task). Both properties fall
out of two things: inserting entries under ignore-on-conflict semantics
keyed by entry id, and rebuildTask being a pure function of a task's full
entry history rather than an incremental patch applied to whatever state
happens to be in memory.
*/
package oplog
