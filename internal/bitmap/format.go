// Package bitmap implements the on-disk changed-page bitmap block format:
// encoding, decoding, checksumming, and the append-only/seekable file that
// stores a sequence of blocks.
package bitmap

import "encoding/binary"

// putBigEndian32 writes v into dst[off:off+4] in big-endian order.
func putBigEndian32(dst []byte, off int, v uint32) {
	binary.BigEndian.PutUint32(dst[off:off+4], v)
}

// putBigEndian64 writes v into dst[off:off+8] in big-endian order.
func putBigEndian64(dst []byte, off int, v uint64) {
	binary.BigEndian.PutUint64(dst[off:off+8], v)
}

// getBigEndian32 reads a big-endian uint32 from src[off:off+4].
func getBigEndian32(src []byte, off int) uint32 {
	return binary.BigEndian.Uint32(src[off : off+4])
}

// getBigEndian64 reads a big-endian uint64 from src[off:off+8].
func getBigEndian64(src []byte, off int) uint64 {
	return binary.BigEndian.Uint64(src[off : off+8])
}
