/*
Package log provides structured logging for tasksync using zerolog.

# Overview

Every package logs through a single global zerolog.Logger configured once at
process startup via Init. Commands that embed the core (the CLI) call
log.Init with the user's chosen level and output format; library code never
configures a logger for itself. The migration runner (cmd/tasksync-migrate)
does not call Init.

# Usage

	import "github.com/cuemby/tasksync/pkg/log"

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	log.Info("starting sync")

	logger := log.WithComponent("sync")
	logger.Info().Str("remote", remoteName).Int("pushed", n).Msg("push complete")

# Context helpers

WithComponent tags every event with the subsystem that produced it
("storage", "oplog", "remote.filesystem"). WithDeviceID, WithTaskID and
WithRemote attach the identifiers most log lines in this codebase key on:
which device wrote an entry, which task an operation concerns, and which
remote a sync round is talking to.

# Levels

Debug is for per-entry detail during replay and sync (one line per applied
oplog entry would be typical at this level, never at Info). Info marks the
start/end of a user-visible operation (a sync round, a migration run). Warn
is for recovered anomalies that did not abort anything but are worth
surfacing; replay's skip of an entry with an unknown op_type is per-entry
detail and is logged at Debug. Error is
reserved for operations that failed and returned an error to their caller.

# Output

JSONOutput controls whether events are newline-delimited JSON (the default
for anything writing to a file or shipped to a log aggregator) or zerolog's
human-readable console writer (the default for interactive CLI use).
*/
package log
