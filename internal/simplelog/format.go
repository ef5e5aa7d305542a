// Package simplelog is a reference redolog.LogSource / redolog.RecordParser
// pair over flat, single-file log groups. It is not a decoder for any real
// storage engine's redo log; it exists so changedpagetrackd and
// changedpagedump have a concrete, runnable engine binding to drive, and so
// package redolog's follower logic can be exercised end-to-end without a
// hand-rolled fake in every test.
//
// Each group is one file holding back-to-back fixed-size blocks. A block's
// header and trailer are opaque padding to the follower; this package only
// needs them to carry a checksum, so it reuses bitmap's additive checksum
// over the block's data bytes and stores it in the trailer's last 4 bytes.
// The data bytes hold a stream of records: one tag byte followed by 8 bytes
// of (space_id, page_id) for a page-touching record, or the tag byte alone
// for a control record.
package simplelog

import (
	"encoding/binary"

	"github.com/coredb/changedpage/internal/bitmap"
	"github.com/coredb/changedpage/internal/redolog"
)

const (
	// BlockSize is the fixed size of one log block, including header and
	// trailer.
	BlockSize = 512
	// HdrSize is the number of leading opaque bytes in each block.
	HdrSize = 12
	// TrlSize is the number of trailing bytes in each block; the last 4
	// hold the block's checksum.
	TrlSize = 4

	checksumOffset = BlockSize - 4
)

// Record tags.
const (
	TagMultiRecEnd redolog.RecordType = iota
	TagFilePage
	TagDummy
)

// recordLen returns the on-wire length of a record with the given tag, or
// 0 if tag is not a recognized value (the parser treats an unrecognized
// tag as corruption, surfaced the same way an incomplete record is: by
// refusing to make progress).
func recordLen(tag byte) int {
	switch redolog.RecordType(tag) {
	case TagFilePage:
		return 9
	case TagMultiRecEnd, TagDummy:
		return 1
	default:
		return 0
	}
}

// EncodeRecord appends the wire form of a record to dst and returns the
// extended slice. Used by tests and by any tool generating fixture log
// groups.
func EncodeRecord(dst []byte, tag redolog.RecordType, spaceID, pageID uint32) []byte {
	dst = append(dst, byte(tag))
	if tag == TagFilePage {
		var buf [8]byte
		binary.BigEndian.PutUint32(buf[0:4], spaceID)
		binary.BigEndian.PutUint32(buf[4:8], pageID)
		dst = append(dst, buf[:]...)
	}
	return dst
}

// EncodeBlock packs data (which must be at most BlockSize-HdrSize-TrlSize
// bytes) into one full block, zero-padding the remainder, and stamps its
// checksum.
func EncodeBlock(data []byte) [BlockSize]byte {
	var block [BlockSize]byte
	copy(block[HdrSize:], data)
	sum := bitmap.Checksum(block[HdrSize : BlockSize-TrlSize])
	binary.BigEndian.PutUint32(block[checksumOffset:], sum)
	return block
}

func blockChecksumOK(block []byte) bool {
	if len(block) != BlockSize {
		return false
	}
	want := binary.BigEndian.Uint32(block[checksumOffset:])
	got := bitmap.Checksum(block[HdrSize : BlockSize-TrlSize])
	return want == got
}

// Constants returns the redolog.Constants describing this wire format,
// parameterized by the host's page size and the LSN at which tracking may
// first begin.
func Constants(univPageSizeMax int, logStartLSN redolog.LSN) redolog.Constants {
	return redolog.Constants{
		LogBlockSize:       BlockSize,
		LogBlockHdrSize:    HdrSize,
		LogBlockTrlSize:    TrlSize,
		RecvParsingBufSize: 4 * BlockSize,
		UnivPageSizeMax:    univPageSizeMax,
		MinTrackedLSN:      logStartLSN + redolog.LSN(HdrSize),
		DoublewriteSpace:   0,
		MultiRecEnd:        TagMultiRecEnd,
		DummyRecord:        TagDummy,
		FileCreate:         -1,
		FileRename:         -1,
		FileDelete:         -1,
		FileCreate2:        -1,
		LSNRecord:          -1,
		LSNDebugEnabled:    false,
	}
}
