package bitmap

// Checksum computes the bitmap block checksum over buf, which must be the
// first checksumCovers (4092) bytes of a block. The algorithm is a
// low-cost additive-with-rotating-shift hash inherited from the redo log
// block checksum; it is not a cryptographic checksum and must not be
// changed, as doing so breaks on-disk compatibility with files written by
// older builds of this package.
//
// The accumulator is carried in 64 bits so that the b<<sh term (sh up to
// 24) never wraps before the `sum & 0x7FFFFFFF` mask is applied on the next
// iteration, matching the original engine's wide accumulator exactly. Only
// the low 32 bits of the final sum are significant; callers store it in a
// 4-byte field.
func Checksum(buf []byte) uint32 {
	var sum uint64 = 1
	var sh uint

	for _, b := range buf {
		sum = (sum & 0x7FFFFFFF) + uint64(b) + (uint64(b) << sh)
		if sh < 24 {
			sh++
		} else {
			sh = 0
		}
	}

	return uint32(sum)
}
