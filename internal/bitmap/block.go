package bitmap

import "github.com/pkg/errors"

// Field layout of one on-disk bitmap block. Mirrors the MODIFIED_PAGE_*
// offsets of the engine this format was carried over from: a home-grown
// layout, not meant to be portable across engine versions.
const (
	// BlockSize is the fixed size of one bitmap block, in bytes.
	BlockSize = 4096

	offIsLastBlock  = 0
	offStartLSN     = 4
	offEndLSN       = 12
	offSpaceID      = 20
	offFirstPageID  = 24
	offReserved1    = 28 // 4 bytes, zero
	offBitmap       = 32
	bitmapLen       = BlockSize - 8 - offBitmap // 4056 bytes
	offReserved2    = BlockSize - 8             // 4 bytes, zero
	offChecksum     = BlockSize - 4
	checksumCovers  = offChecksum // bytes [0, 4092) feed the checksum

	// PayloadBits is the number of page-id bits one block's bitmap payload
	// carries: 4056 bytes * 8 bits/byte = 32448.
	PayloadBits = bitmapLen * 8
)

// Payload is the raw bitmap bytes of one block, one bit per page id
// starting at Meta.FirstPageID, LSB first (smallest page id in bit 0).
type Payload [bitmapLen]byte

// Meta is the header/trailer metadata of one bitmap block, excluding the
// bitmap payload itself and the checksum (which is derived, not stored
// here).
type Meta struct {
	IsLastBlock bool
	StartLSN    uint64
	EndLSN      uint64
	SpaceID     uint32
	FirstPageID uint32
}

// SetBit sets the bit for pageID within the payload. pageID must already
// be known to fall in [FirstPageID, FirstPageID+PayloadBits) by the caller.
//
// The cleaner form (page_no - first_page_id) / 8 is used here in place of
// the original engine's (page_no % first_page_id) / 8: the two are only
// equivalent because first_page_id is always the largest multiple of
// PayloadBits not exceeding page_no, which makes page_no < 2*first_page_id
// whenever first_page_id >= PayloadBits.
func (p *Payload) SetBit(firstPageID, pageID uint32) {
	bit := pageID - firstPageID
	p[bit/8] |= 1 << (bit % 8)
}

// Bit reports whether the bit for pageID is set.
func (p *Payload) Bit(firstPageID, pageID uint32) bool {
	bit := pageID - firstPageID
	return p[bit/8]&(1<<(bit%8)) != 0
}

// EncodeBlock lays out meta and bits into one 4096-byte block per the
// on-disk format, zeroing the reserved bytes and computing the checksum
// last so it covers every other field.
func EncodeBlock(meta Meta, bits *Payload) [BlockSize]byte {
	var buf [BlockSize]byte

	if meta.IsLastBlock {
		putBigEndian32(buf[:], offIsLastBlock, 1)
	}
	putBigEndian64(buf[:], offStartLSN, meta.StartLSN)
	putBigEndian64(buf[:], offEndLSN, meta.EndLSN)
	putBigEndian32(buf[:], offSpaceID, meta.SpaceID)
	putBigEndian32(buf[:], offFirstPageID, meta.FirstPageID)
	// offReserved1 left zero.
	copy(buf[offBitmap:offBitmap+bitmapLen], bits[:])
	// offReserved2 left zero.
	putBigEndian32(buf[:], offChecksum, Checksum(buf[:checksumCovers]))

	return buf
}

// DecodeBlock parses a 4096-byte block into its metadata and payload, and
// reports whether the stored checksum matches the recomputed one. Callers
// that only care about corruption detection should check checksumOK before
// trusting meta/bits.
func DecodeBlock(buf [BlockSize]byte) (meta Meta, bits Payload, checksumOK bool) {
	meta = Meta{
		IsLastBlock: getBigEndian32(buf[:], offIsLastBlock) == 1,
		StartLSN:    getBigEndian64(buf[:], offStartLSN),
		EndLSN:      getBigEndian64(buf[:], offEndLSN),
		SpaceID:     getBigEndian32(buf[:], offSpaceID),
		FirstPageID: getBigEndian32(buf[:], offFirstPageID),
	}
	copy(bits[:], buf[offBitmap:offBitmap+bitmapLen])

	stored := getBigEndian32(buf[:], offChecksum)
	checksumOK = stored == Checksum(buf[:checksumCovers])

	return meta, bits, checksumOK
}

// ErrShortBlock is returned by DecodeBlockBytes when fewer than BlockSize
// bytes are available.
var ErrShortBlock = errors.New("bitmap: short block")

// DecodeBlockBytes is a slice-based convenience wrapper around DecodeBlock
// for callers reading directly off a file buffer.
func DecodeBlockBytes(buf []byte) (meta Meta, bits Payload, checksumOK bool, err error) {
	if len(buf) < BlockSize {
		return Meta{}, Payload{}, false, ErrShortBlock
	}
	var fixed [BlockSize]byte
	copy(fixed[:], buf[:BlockSize])
	meta, bits, checksumOK = DecodeBlock(fixed)
	return meta, bits, checksumOK, nil
}
