package redolog

import (
	"context"

	"github.com/pkg/errors"
)

// PageSink receives (space_id, page_id) pairs discovered while scanning.
// pageset.Set satisfies this interface.
type PageSink interface {
	SetPage(spaceID, pageID uint32)
}

// ErrLogBlockCorrupt is returned by ScanRange when a redo log block fails
// its own checksum check. The caller must treat this as a recoverable
// condition for this invocation: stop without advancing any LSN, log a
// warning, and retry the same interval next time.
var ErrLogBlockCorrupt = errors.New("redolog: log block checksum failed")

// Follower turns raw redo log bytes into (space_id, page_id) pairs fed to
// a PageSink. It holds no bitmap-file or rotation state; that is the
// controller's job.
type Follower struct {
	Constants Constants
	Source    LogSource
	Parser    RecordParser

	parseBuf []byte
	readBuf  []byte
}

// NewFollower allocates a Follower with buffers sized per Constants.
func NewFollower(c Constants, source LogSource, parser RecordParser) *Follower {
	return &Follower{
		Constants: c,
		Source:    source,
		Parser:    parser,
		parseBuf:  make([]byte, c.RecvParsingBufSize),
		readBuf:   make([]byte, c.FollowScanSize()),
	}
}

// ScanRange reads every group in groups from startLSN up to endLSN
// (exclusive), feeding discovered pages to sink. It is the
// per-invocation entry point, called once per Controller.Follow with
// groups/startLSN/endLSN already resolved.
func (f *Follower) ScanRange(ctx context.Context, groups []LogGroup, startLSN, endLSN LSN, sink PageSink) error {
	if endLSN == startLSN {
		return nil
	}

	blockSize := LSN(f.Constants.LogBlockSize)
	contiguous := startLSN - startLSN%blockSize

	for _, group := range groups {
		if err := f.scanGroup(ctx, group, contiguous, startLSN, endLSN, sink); err != nil {
			return err
		}
	}
	return nil
}

func (f *Follower) scanGroup(ctx context.Context, group LogGroup, contiguous, startLSN, endLSN LSN, sink PageSink) error {
	nextParseLSN := startLSN
	parseBufEnd := 0
	scanSize := LSN(f.Constants.FollowScanSize())
	blockSize := LSN(f.Constants.LogBlockSize)

	for windowStart := contiguous; ; windowStart += scanSize {
		windowEnd := windowStart + scanSize

		n, err := f.Source.ReadLogSegment(ctx, group, windowStart, windowEnd, f.readBuf)
		if err != nil {
			return errors.Wrap(err, "redolog: read log segment")
		}

		if err := f.scanWindow(windowStart, n, blockSize, endLSN, &nextParseLSN, &parseBufEnd, sink); err != nil {
			return err
		}

		if windowEnd >= endLSN {
			break
		}
	}

	return nil
}

// scanWindow walks one freshly-read window in LOG_BLOCK_SIZE strides,
// verifying each block's own checksum, stripping header/trailer bytes,
// and feeding the logical stream to the record loop.
func (f *Follower) scanWindow(windowStart LSN, n int, blockSize, endLSN LSN, nextParseLSN *LSN, parseBufEnd *int, sink PageSink) error {
	hdrSize := f.Constants.LogBlockHdrSize
	trlSize := f.Constants.LogBlockTrlSize

	for strideOff := 0; strideOff+int(blockSize) <= n; strideOff += int(blockSize) {
		block := f.readBuf[strideOff : strideOff+int(blockSize)]

		if !f.Parser.LogBlockChecksumOK(block) {
			return ErrLogBlockCorrupt
		}

		blockStartLSN := windowStart + LSN(strideOff)
		blockEndLSN := blockStartLSN + blockSize

		var skip int
		switch {
		case *nextParseLSN < blockStartLSN:
			// next_parse_lsn only advances over complete records, so it
			// trails this block whenever an incomplete record is carried
			// in the parse buffer; every data byte of the block is new.
			skip = 0
		case *nextParseLSN < blockEndLSN:
			skip = int(*nextParseLSN - blockStartLSN)
		default:
			// This block lies entirely before next_parse_lsn (only
			// possible for the alignment padding at the very start of
			// the first window); contribute nothing.
			skip = int(blockSize)
		}

		copyStart := skip
		if skip == 0 {
			copyStart = hdrSize
		}
		copyEnd := int(blockSize) - trlSize

		if copyStart < copyEnd {
			room := len(f.parseBuf) - *parseBufEnd
			chunk := block[copyStart:copyEnd]
			if len(chunk) > room {
				return errors.New("redolog: parse buffer overflow")
			}
			*parseBufEnd += copy(f.parseBuf[*parseBufEnd:], chunk)
		}

		f.runRecordLoop(nextParseLSN, parseBufEnd, endLSN, sink)
	}

	return nil
}

// runRecordLoop drains as many complete records as possible out of
// f.parseBuf[:*parseBufEnd], advancing *nextParseLSN per record and
// feeding page-touching records to sink. An incomplete trailing record is
// shifted to the front of the buffer and the function returns with
// *parseBufEnd set to its length; a clean drain (or reaching endLSN)
// resets *parseBufEnd to zero.
func (f *Follower) runRecordLoop(nextParseLSN *LSN, parseBufEnd *int, endLSN LSN, sink PageSink) {
	ptr := 0
	for ptr < *parseBufEnd && *nextParseLSN < endLSN {
		length, recType, hasPage, spaceID, pageID := f.Parser.ParseLogRecord(f.parseBuf, ptr, *parseBufEnd)
		if length == 0 {
			copy(f.parseBuf, f.parseBuf[ptr:*parseBufEnd])
			*parseBufEnd -= ptr
			return
		}

		if hasPage && f.Constants.RecMeansPage(recType) && spaceID != f.Constants.DoublewriteSpace {
			sink.SetPage(spaceID, pageID)
		}

		ptr += length
		*nextParseLSN = f.Parser.CalcLSNOnDataAdd(*nextParseLSN, length)
	}

	*parseBufEnd = 0
}
