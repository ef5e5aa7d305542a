// Package tracker implements the changed-page tracking subsystem: an
// online redo log follower that accumulates modified (space_id, page_id)
// pairs into rotating on-disk bitmap files, and an iterator that replays
// those bitmaps over an arbitrary LSN range for an incremental backup
// tool.
//
// The package owns all in-process state itself as a controller value the
// host threads through its calls, rather than relying on a package-level
// global; callers construct one Controller per tracked data directory.
package tracker

import "github.com/coredb/changedpage/internal/redolog"

// LSN is a 64-bit monotonic log sequence number.
type LSN = redolog.LSN

// LogGroup is an opaque handle to one of the engine's redo log groups.
type LogGroup = redolog.LogGroup

// RecordType enumerates redo log record types.
type RecordType = redolog.RecordType

// LogSource is the engine-provided collaborator supplying raw log bytes
// and engine counters. See internal/redolog.LogSource for the full
// contract each method must honor.
type LogSource = redolog.LogSource

// RecordParser is the engine-provided mini-log record decoder.
type RecordParser = redolog.RecordParser

// Constants mirrors the engine's own layout and tuning constants: block
// sizes, buffer sizes, the minimum trackable LSN, the doublewrite
// tablespace id to exclude, and the record-type values that carry no
// page.
type Constants = redolog.Constants

// MinTrackedLSN is the smallest LSN that may ever be assigned to
// start_lsn: MIN_TRACKED_LSN = LOG_START_LSN + LOG_BLOCK_HDR_SIZE. Hosts
// override Constants.MinTrackedLSN directly; this helper computes the
// canonical value from the two inputs the formula names.
func MinTrackedLSN(logStartLSN LSN, logBlockHdrSize int) LSN {
	return logStartLSN + LSN(logBlockHdrSize)
}
