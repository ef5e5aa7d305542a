// Package redolog implements the LSN-driven scan-and-parse loop that fills
// a modified-page set from redo log records between a start and end LSN.
// It knows nothing about bitmap files or rotation; it only turns log bytes
// into (space_id, page_id) pairs.
package redolog

import "context"

// LSN is a 64-bit monotonic log sequence number. All LSN arithmetic is
// unsigned 64-bit and must not wrap in practice (the log is retired long
// before 2^64 bytes are written).
type LSN uint64

// RecordType enumerates the redo log record types this package must
// recognize by name in order to decide whether a record carries a
// (space_id, page_id) pair. The concrete numeric values come from the
// host engine via Constants and are not hardcoded here.
type RecordType int

// LogGroup is an opaque handle to one of the engine's redo log groups,
// passed back to LogSource.ReadLogSegment unexamined.
type LogGroup any

// LogSource is the engine-provided collaborator that supplies raw log
// bytes and the engine counters the follower needs. All state it exposes
// (LSNs, log groups, capacity) must be read by the host under its own log
// mutex; ReadLogSegment documents exactly the critical section the
// follower expects.
type LogSource interface {
	// ReadLogSegment fills buf[:n] with the raw bytes of group's log in
	// [fromLSN, toLSN), returning the number of bytes read. The host must
	// hold its log mutex for the duration of this call.
	ReadLogSegment(ctx context.Context, group LogGroup, fromLSN, toLSN LSN, buf []byte) (n int, err error)

	// CheckpointLSN returns the engine's current last-checkpoint LSN.
	CheckpointLSN(ctx context.Context) (LSN, error)

	// LogGroupCapacity returns the number of bytes of log the engine
	// retains before overwriting, used to decide whether a startup gap is
	// retrackable.
	LogGroupCapacity(ctx context.Context) (uint64, error)

	// EngineLSN returns the engine's current (not checkpointed) LSN.
	EngineLSN(ctx context.Context) (LSN, error)

	// LogGroups returns the set of log groups to scan, in the order they
	// should be scanned.
	LogGroups(ctx context.Context) ([]LogGroup, error)
}

// RecordParser is the engine-provided mini-log record decoder.
type RecordParser interface {
	// ParseLogRecord decodes one record starting at buf[pos:end].
	// length == 0 means "not enough bytes yet, need more data before
	// this record can be parsed" and the caller must not advance past
	// pos. hasPage is false for file-namespace records (create/rename/
	// delete), which carry no (space,page).
	ParseLogRecord(buf []byte, pos, end int) (length int, recType RecordType, hasPage bool, spaceID, pageID uint32)

	// CalcLSNOnDataAdd accounts for header/trailer bytes the log layer
	// interleaves that are not part of the logical record stream.
	CalcLSNOnDataAdd(lsn LSN, length int) LSN

	// LogBlockChecksumOK validates one raw log block's own checksum (not
	// to be confused with the bitmap block checksum in package bitmap).
	LogBlockChecksumOK(block []byte) bool
}

// Constants carries the host engine's own layout and record-type
// constants so this package never hardcodes an engine's physical layout.
type Constants struct {
	LogBlockSize       int
	LogBlockHdrSize    int
	LogBlockTrlSize    int
	RecvParsingBufSize int
	UnivPageSizeMax    int
	MinTrackedLSN      LSN
	DoublewriteSpace   uint32

	MultiRecEnd RecordType
	DummyRecord RecordType
	FileCreate  RecordType
	FileRename  RecordType
	FileDelete  RecordType
	FileCreate2 RecordType
	// LSNRecord is only excluded from page tracking when LSN debugging is
	// enabled in the host build; see RecMeansPage.
	LSNRecord RecordType

	// LSNDebugEnabled mirrors the host's compile-time LSN-debug flag.
	LSNDebugEnabled bool
}

// FollowScanSize returns the size of one read_log_segment window: four
// times the largest page size the engine can produce.
func (c Constants) FollowScanSize() int {
	return 4 * c.UnivPageSizeMax
}

// RecMeansPage reports whether a record of type t carries a (space,page)
// pair that should be tracked. All types mean a page except the
// file-namespace records and the housekeeping marker types, plus
// LSNRecord when LSN debugging is enabled.
func (c Constants) RecMeansPage(t RecordType) bool {
	switch t {
	case c.MultiRecEnd, c.DummyRecord, c.FileCreate, c.FileRename, c.FileDelete, c.FileCreate2:
		return false
	}
	if c.LSNDebugEnabled && t == c.LSNRecord {
		return false
	}
	return true
}
