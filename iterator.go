package tracker

import (
	"github.com/pkg/errors"

	"github.com/coredb/changedpage/internal/bitmap"
)

// Iterator replays every bitmap block covering [MinLSN, MaxLSN) across
// however many rotated files that range spans, in file and then
// within-file order. It is read-only and safe to run concurrently with a
// Controller actively calling Follow against the same data directory,
// since rotated files are never modified once superseded and the current
// file is only ever appended to.
type Iterator struct {
	registry *bitmap.Registry
	logger   Logger

	minLSN, maxLSN LSN

	names   []string
	nameIdx int

	current *bitmap.File
	buf      [bitmap.BlockSize]byte

	done bool
}

// NewIterator selects the bitmap files overlapping [minLSN, maxLSN) and
// opens the first one. It returns ErrNoFilesInRange if no file in the
// registry overlaps the requested range at all. A nil logger discards
// warnings about corrupt blocks skipped during iteration.
func NewIterator(registry *bitmap.Registry, minLSN, maxLSN LSN, logger Logger) (*Iterator, error) {
	names, err := registry.SelectRange(uint64(minLSN), uint64(maxLSN))
	if err != nil {
		return nil, errors.Wrap(err, "tracker: select bitmap files")
	}
	if len(names) == 0 {
		return nil, ErrNoFilesInRange
	}
	if logger == nil {
		logger = nopLogger{}
	}

	it := &Iterator{
		registry: registry,
		logger:   logger,
		minLSN:   minLSN,
		maxLSN:   maxLSN,
		names:    names,
	}
	if err := it.openNext(); err != nil {
		return nil, err
	}
	return it, nil
}

func (it *Iterator) openNext() error {
	for it.nameIdx < len(it.names) {
		name := it.names[it.nameIdx]
		it.nameIdx++

		f, err := it.registry.OpenReadOnly(name)
		if err != nil {
			return errors.Wrapf(err, "tracker: open %q", name)
		}
		if f.Size == 0 {
			f.Close()
			continue
		}
		it.current = f
		return nil
	}
	it.done = true
	return nil
}

// Block holds one decoded bitmap block returned by Next.
type Block struct {
	Meta bitmap.Meta
	Bits bitmap.Payload
}

// Next returns the next block whose [StartLSN, EndLSN) range intersects
// the iterator's requested range, skipping blocks entirely outside it —
// in particular the leading blocks of a straddling file that end before
// MinLSN. A block that fails its checksum is logged and skipped rather
// than treated as fatal: the following block in the file may still be
// valid. It reports ok=false, err=nil once every selected file has been
// fully consumed.
func (it *Iterator) Next() (block Block, ok bool, err error) {
	for !it.done {
		if it.current == nil {
			if err := it.openNext(); err != nil {
				return Block{}, false, err
			}
			continue
		}

		readOK, checksumOK, meta, bits := it.current.ReadBlock(it.buf[:])
		if !readOK {
			// End of this file: close it and move to the next selected one.
			if err := it.current.Close(); err != nil {
				return Block{}, false, err
			}
			it.current = nil
			continue
		}
		if !checksumOK {
			it.logger.Warnf("tracker: corrupt bitmap block at offset %d in a selected file, skipping", it.current.Offset-bitmap.BlockSize)
			continue
		}

		if LSN(meta.EndLSN) <= it.minLSN || LSN(meta.StartLSN) >= it.maxLSN {
			continue
		}

		return Block{Meta: meta, Bits: bits}, true, nil
	}

	return Block{}, false, nil
}

// Release closes any open file handle. Safe to call multiple times and
// after Next has already returned ok=false.
func (it *Iterator) Release() error {
	it.done = true
	if it.current == nil {
		return nil
	}
	err := it.current.Close()
	it.current = nil
	return err
}

// NewIterator is also exposed as a Controller method so callers holding
// only a Controller don't need to reach into its internal registry.
func (c *Controller) NewIterator(minLSN, maxLSN LSN) (*Iterator, error) {
	return NewIterator(c.registry, minLSN, maxLSN, c.logger)
}
