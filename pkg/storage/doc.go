/*
Package storage is the embedded relational store underneath the task sync
core: a single SQLite file, WAL-mode, holding three tables (tasks, oplog,
and meta) behind a single *sql.DB connection.

This package owns the schema, the migration runner, and SQL-level
transactions. It knows how to encode a types.Task or types.OplogEntry to and
from a row, including recovering malformed JSON columns (labels, notes,
metadata, blocked_by) to their empty defaults. It does not know about
last-writer-wins, prefix resolution, or any other business rule, those
live in pkg/taskcore and pkg/oplog, both of which are built on top of the
functions here.

Single-connection semantics (spec: "exposes transactional writes and
single-connection semantics") are enforced by capping the pool at one
connection; SQLite's own file lock would otherwise serialize writers anyway,
but capping the Go-level pool avoids interleaving reads and writes across
goroutines in ways that could observe a half-applied transaction.
*/
package storage
