package bitmap

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// File wraps an afero.File holding a sequence of bitmap blocks, tracking
// the read/write cursor and the file's last-known size the way the engine
// tracks offset/size on its bitmap file handle.
type File struct {
	fs   afero.Fs
	f    afero.File
	Name string
	// Offset is the current read/write cursor, always a multiple of
	// BlockSize.
	Offset int64
	// Size is the file's size as of the last stat/truncate.
	Size int64
}

// OpenRW opens path for reading and writing, creating it if it does not
// exist, and positions Offset at 0. Callers that are resuming a file
// in-progress should call TruncateTo/seek explicitly afterward.
func OpenRW(fs afero.Fs, path string) (*File, error) {
	f, err := fs.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "bitmap: open %q for read-write", path)
	}
	size, err := fileSize(f)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "bitmap: stat %q", path)
	}

	bf := &File{fs: fs, f: f, Name: path, Offset: 0, Size: size}
	if err := bf.dropPartialTail(); err != nil {
		f.Close()
		return nil, err
	}
	return bf, nil
}

// Create opens path as a brand new, empty bitmap file in "overwrite" mode:
// it must not exist, or is truncated if it does. Used by Registry.Rotate
// to start the next file in the sequence.
func Create(fs afero.Fs, path string) (*File, error) {
	f, err := fs.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "bitmap: create %q", path)
	}
	return &File{fs: fs, f: f, Name: path, Offset: 0, Size: 0}, nil
}

// OpenRO opens path read-only. Advisory sequential-access hints are not
// available through afero's portable File interface and are skipped; on a
// plain os.File-backed afero.Fs the OS default read-ahead applies.
func OpenRO(fs afero.Fs, path string) (*File, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "bitmap: open %q for read", path)
	}
	size, err := fileSize(f)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "bitmap: stat %q", path)
	}

	bf := &File{fs: fs, f: f, Name: path, Offset: 0, Size: size}
	if err := bf.dropPartialTail(); err != nil {
		f.Close()
		return nil, err
	}
	return bf, nil
}

func fileSize(f afero.File) (int64, error) {
	fi, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// Seek repositions Offset, which must remain block-aligned; it is the
// caller's responsibility (boot-time recovery uses this).
func (bf *File) Seek(offset int64) error {
	if offset%BlockSize != 0 {
		return errors.Errorf("bitmap: seek offset %d is not block-aligned", offset)
	}
	if _, err := bf.f.Seek(offset, io.SeekStart); err != nil {
		return errors.Wrapf(err, "bitmap: seek %q", bf.Name)
	}
	bf.Offset = offset
	return nil
}

// ReadBlock reads one block at the current Offset into buf (which must be
// at least BlockSize long), advancing Offset. ok is false on I/O failure
// (including short read / EOF); checksumOK is only meaningful when ok is
// true, and lets callers distinguish "could not read" from "read a
// corrupt block".
func (bf *File) ReadBlock(buf []byte) (ok bool, checksumOK bool, meta Meta, bits Payload) {
	if bf.Offset%BlockSize != 0 || bf.Offset+BlockSize > bf.Size {
		return false, false, Meta{}, Payload{}
	}

	n, err := io.ReadFull(bf.f, buf[:BlockSize])
	if err != nil || n != BlockSize {
		return false, false, Meta{}, Payload{}
	}
	bf.Offset += BlockSize

	meta, bits, checksumOK, err = DecodeBlockBytes(buf[:BlockSize])
	if err != nil {
		return false, false, Meta{}, Payload{}
	}

	return true, checksumOK, meta, bits
}

// WriteBlockAndFlush writes one encoded block at the current Offset and
// flushes it to durable storage, advancing Offset and Size. The write is
// only a batch boundary when the caller has set IsLastBlock in the
// encoded block; this function itself does not interpret block contents.
func (bf *File) WriteBlockAndFlush(block [BlockSize]byte) error {
	if bf.Offset%BlockSize != 0 {
		return errors.Errorf("bitmap: write offset %d is not block-aligned", bf.Offset)
	}

	if _, err := bf.f.Seek(bf.Offset, io.SeekStart); err != nil {
		return errors.Wrapf(err, "bitmap: seek before write %q", bf.Name)
	}
	if _, err := bf.f.Write(block[:]); err != nil {
		return errors.Wrapf(err, "bitmap: write %q", bf.Name)
	}
	if err := bf.f.Sync(); err != nil {
		return errors.Wrapf(err, "bitmap: flush %q", bf.Name)
	}

	bf.Offset += BlockSize
	if bf.Offset > bf.Size {
		bf.Size = bf.Offset
	}
	return nil
}

// TruncateTo discards any bytes beyond offset, used to cut a torn tail
// back to the last good batch boundary. offset must be block-aligned.
func (bf *File) TruncateTo(offset int64) error {
	if offset%BlockSize != 0 {
		return errors.Errorf("bitmap: truncate offset %d is not block-aligned", offset)
	}
	if err := bf.f.Truncate(offset); err != nil {
		return errors.Wrapf(err, "bitmap: truncate %q", bf.Name)
	}
	bf.Size = offset
	if bf.Offset > bf.Size {
		bf.Offset = bf.Size
	}
	return nil
}

// dropPartialTail rounds Size down to a multiple of BlockSize, truncating
// the underlying file if it holds a partial tail block left by a crash
// mid-write. File size must always be a multiple of BlockSize per the
// on-disk format invariant.
func (bf *File) dropPartialTail() error {
	if bf.Size%BlockSize == 0 {
		return nil
	}
	return bf.TruncateTo(bf.Size - bf.Size%BlockSize)
}

// Close releases the underlying file handle.
func (bf *File) Close() error {
	if bf.f == nil {
		return nil
	}
	err := bf.f.Close()
	bf.f = nil
	return err
}
