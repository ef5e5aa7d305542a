package simplelog

import (
	"encoding/binary"

	"github.com/coredb/changedpage/internal/redolog"
)

// Parser implements redolog.RecordParser for this package's wire format.
type Parser struct{}

// ParseLogRecord implements redolog.RecordParser.
func (Parser) ParseLogRecord(buf []byte, pos, end int) (length int, recType redolog.RecordType, hasPage bool, spaceID, pageID uint32) {
	if pos >= end {
		return 0, 0, false, 0, 0
	}

	tag := buf[pos]
	need := recordLen(tag)
	if need == 0 || pos+need > end {
		return 0, 0, false, 0, 0
	}

	recType = redolog.RecordType(tag)
	if recType == TagFilePage {
		spaceID = binary.BigEndian.Uint32(buf[pos+1 : pos+5])
		pageID = binary.BigEndian.Uint32(buf[pos+5 : pos+9])
		hasPage = true
	}
	return need, recType, hasPage, spaceID, pageID
}

// CalcLSNOnDataAdd implements redolog.RecordParser. lsn is a physical byte
// offset into the flat log file (as ReadLogSegment and EngineLSN both
// treat it); length is a count of logical, header/trailer-stripped data
// bytes. This walks lsn forward block by block, skipping over each
// block's header and trailer as the logical span crosses one, so the
// result stays a valid physical offset for the next ReadLogSegment call.
func (Parser) CalcLSNOnDataAdd(lsn redolog.LSN, length int) redolog.LSN {
	const blockSize = redolog.LSN(BlockSize)
	const dataSize = redolog.LSN(BlockSize - HdrSize - TrlSize)

	for length > 0 {
		offsetInBlock := lsn % blockSize
		switch {
		case offsetInBlock < redolog.LSN(HdrSize):
			lsn += redolog.LSN(HdrSize) - offsetInBlock
			continue
		case offsetInBlock >= redolog.LSN(HdrSize)+dataSize:
			lsn += blockSize - offsetInBlock
			continue
		}

		dataOffset := offsetInBlock - redolog.LSN(HdrSize)
		remain := dataSize - dataOffset
		take := redolog.LSN(length)
		if take > remain {
			take = remain
		}

		lsn += take
		length -= int(take)
		if take == remain && length > 0 {
			lsn += redolog.LSN(TrlSize + HdrSize)
		}
	}
	return lsn
}

// LogBlockChecksumOK implements redolog.RecordParser.
func (Parser) LogBlockChecksumOK(block []byte) bool {
	return blockChecksumOK(block)
}
