package tracker

import (
	"context"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/coredb/changedpage/internal/bitmap"
	"github.com/coredb/changedpage/internal/pageset"
	"github.com/coredb/changedpage/internal/redolog"
)

// defaultMaxBitmapFileSize is used only if the host passes zero or a
// negative size, leaving
// the rotation threshold fully configurable.
const defaultMaxBitmapFileSize = 1 << 20 // 1 MiB

// Controller owns the modified-page set, the redo log follower, and the
// write side of the bitmap file registry. Exactly one goroutine may call
// Follow at a time; Init, Follow, and Shutdown are not safe to call
// concurrently with each other or with themselves.
type Controller struct {
	fs       afero.Fs
	dataHome string
	registry *bitmap.Registry

	source    LogSource
	parser    RecordParser
	constants Constants
	follower  *redolog.Follower

	logger Logger

	maxBitmapFileSize int64

	pages *pageset.Set

	initialized bool

	startLSN    LSN
	current     *bitmap.File
	outSeqNum   uint64
	trackedLSN  atomic.Uint64
}

// Config bundles the inputs New needs that aren't already
// covered by LogSource/RecordParser/Constants.
type Config struct {
	Fs                afero.Fs
	DataHome          string
	MaxBitmapFileSize int64
	Logger            Logger
}

// New constructs an uninitialized Controller. Call Init before Follow or
// NewIterator.
func New(cfg Config, source LogSource, parser RecordParser, constants Constants) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	maxSize := cfg.MaxBitmapFileSize
	if maxSize <= 0 {
		maxSize = defaultMaxBitmapFileSize
	}

	return &Controller{
		fs:                cfg.Fs,
		dataHome:          cfg.DataHome,
		registry:          bitmap.NewRegistry(cfg.Fs, cfg.DataHome),
		source:            source,
		parser:            parser,
		constants:         constants,
		follower:          redolog.NewFollower(constants, source, parser),
		logger:            logger,
		maxBitmapFileSize: maxSize,
		pages:             pageset.New(),
	}
}

// TrackedLSN returns the engine-visible tracked_lsn: the single-writer,
// multi-reader value readers may consult from any goroutine without
// torn reads.
func (c *Controller) TrackedLSN() LSN {
	return LSN(c.trackedLSN.Load())
}

func (c *Controller) publishTrackedLSN(lsn LSN) {
	c.trackedLSN.Store(uint64(lsn))
}

// Init performs boot-time reconciliation: it decides the tracking start
// LSN, finds or creates the current bitmap file, recovers from any torn
// write left by a crash, and closes any gap between the last tracked LSN
// and the engine's current state.
func (c *Controller) Init(ctx context.Context) error {
	checkpointLSN, err := c.source.CheckpointLSN(ctx)
	if err != nil {
		return errors.Wrap(ErrStartupImpossible, err.Error())
	}

	trackingStartLSN := checkpointLSN
	if c.constants.MinTrackedLSN > trackingStartLSN {
		trackingStartLSN = c.constants.MinTrackedLSN
	}

	seqNum, name, found, err := c.registry.Latest()
	if err != nil {
		return errors.Wrap(ErrStartupImpossible, err.Error())
	}

	var lastTrackedLSN LSN
	var recovered *bitmap.File
	if !found {
		lastTrackedLSN = trackingStartLSN
	} else {
		recovered, lastTrackedLSN, err = c.recoverLastFile(seqNum, name)
		if err != nil {
			return errors.Wrap(ErrStartupImpossible, err.Error())
		}
		c.outSeqNum = seqNum
	}

	if lastTrackedLSN > trackingStartLSN {
		if recovered != nil {
			recovered.Close()
		}
		return errors.Wrapf(ErrFutureLSN, "last tracked %d > tracking start %d", lastTrackedLSN, trackingStartLSN)
	}

	startLSN := trackingStartLSN
	retrack := false
	if lastTrackedLSN < trackingStartLSN {
		retrackable, err := c.gapIsRetrackable(ctx, lastTrackedLSN)
		if err != nil {
			if recovered != nil {
				recovered.Close()
			}
			return errors.Wrap(ErrStartupImpossible, err.Error())
		}
		if retrackable {
			startLSN = lastTrackedLSN
			if c.constants.MinTrackedLSN > startLSN {
				startLSN = c.constants.MinTrackedLSN
			}
			retrack = true
		} else {
			c.logger.Warnf("changed-page tracking gap [%d,%d) cannot be closed; incremental backups before %d are unavailable", lastTrackedLSN, trackingStartLSN, trackingStartLSN)
			startLSN = trackingStartLSN
		}
	}

	// A last file that existed before boot is never appended to again: the
	// recovered file is closed and a fresh file is rotated in, named with
	// startLSN (last_tracked_lsn when the gap was retrackable, otherwise
	// tracking_start_lsn). Only a brand new data directory skips the
	// rotate and creates its first file directly.
	if recovered != nil {
		current, nextSeq, err := c.registry.Rotate(recovered, seqNum, uint64(startLSN))
		if err != nil {
			return errors.Wrap(ErrStartupImpossible, err.Error())
		}
		c.current = current
		c.outSeqNum = nextSeq
	} else {
		current, nextSeq, err := c.registry.Create(uint64(startLSN))
		if err != nil {
			return errors.Wrap(ErrStartupImpossible, err.Error())
		}
		c.current = current
		c.outSeqNum = nextSeq
	}

	c.startLSN = startLSN
	c.initialized = true
	c.publishTrackedLSN(startLSN)

	if retrack {
		// A retrackable gap: synchronously absorb it now so tracked_lsn
		// reflects the engine's live checkpoint, not just the recovered
		// file state.
		if err := c.Follow(ctx); err != nil {
			return errors.Wrap(ErrStartupImpossible, err.Error())
		}
	}

	return nil
}

// recoverLastFile opens the latest bitmap file and reads backward block
// by block until a checksum-verified block with IsLastBlock set is
// found, truncating the file to discard any torn tail. It returns the
// still-open file (the caller rotates a fresh file in from it rather
// than appending further) and the recovered block's EndLSN, or the
// file-name-encoded start_lsn if no valid terminator block exists at
// all.
func (c *Controller) recoverLastFile(seqNum uint64, name string) (*bitmap.File, LSN, error) {
	f, err := c.registry.Open(name)
	if err != nil {
		return nil, 0, err
	}

	_, nameStartLSN, ok := bitmap.ParseName(name)
	if !ok {
		f.Close()
		return nil, 0, errors.Errorf("tracker: unrecognized bitmap file name %q", name)
	}

	buf := make([]byte, bitmap.BlockSize)
	readOffset := f.Size

	var lastTrackedLSN LSN
	var truncateAt int64
	found := false

	for readOffset > 0 {
		readOffset -= bitmap.BlockSize
		if err := f.Seek(readOffset); err != nil {
			f.Close()
			return nil, 0, err
		}

		ok, checksumOK, meta, _ := f.ReadBlock(buf)
		if !ok {
			break
		}
		if !checksumOK {
			c.logger.Warnf("corruption detected in %q at offset %d", name, readOffset)
			continue
		}
		if meta.IsLastBlock {
			lastTrackedLSN = LSN(meta.EndLSN)
			truncateAt = readOffset + bitmap.BlockSize
			found = true
			break
		}
	}

	if !found {
		lastTrackedLSN = LSN(nameStartLSN)
		truncateAt = 0
	}

	if err := f.TruncateTo(truncateAt); err != nil {
		f.Close()
		return nil, 0, err
	}

	return f, lastTrackedLSN, nil
}

// gapIsRetrackable reports whether the engine still retains enough log to
// replay [lastTrackedLSN, engine.lsn): the oldest needed log data must not
// have been overwritten yet.
func (c *Controller) gapIsRetrackable(ctx context.Context, lastTrackedLSN LSN) (bool, error) {
	floor := lastTrackedLSN
	if c.constants.MinTrackedLSN > floor {
		floor = c.constants.MinTrackedLSN
	}

	engineLSN, err := c.source.EngineLSN(ctx)
	if err != nil {
		return false, err
	}
	capacity, err := c.source.LogGroupCapacity(ctx)
	if err != nil {
		return false, err
	}

	return uint64(engineLSN-floor) <= capacity, nil
}

// Follow drives the follower one interval forward: it snapshots the
// engine's checkpoint LSN, scans every log group from Controller's
// start_lsn up to that checkpoint, flushes any accumulated pages to the
// current bitmap file, rotates if the size threshold is reached, and
// advances start_lsn only once all of that has succeeded.
func (c *Controller) Follow(ctx context.Context) error {
	if !c.initialized {
		return ErrNotInitialized
	}

	endLSN, err := c.source.CheckpointLSN(ctx)
	if err != nil {
		return errors.Wrap(err, "tracker: read checkpoint lsn")
	}
	if endLSN == c.startLSN {
		return nil
	}

	groups, err := c.source.LogGroups(ctx)
	if err != nil {
		return errors.Wrap(err, "tracker: list log groups")
	}

	if err := c.follower.ScanRange(ctx, groups, c.startLSN, endLSN, c.pages); err != nil {
		if errors.Is(err, redolog.ErrLogBlockCorrupt) {
			c.logger.Warnf("redo log block checksum failure while scanning [%d,%d); retrying next invocation", c.startLSN, endLSN)
			return nil
		}
		return errors.Wrap(err, "tracker: scan redo log")
	}

	if err := c.writeBitmap(c.startLSN, endLSN); err != nil {
		return errors.Wrap(err, "tracker: write bitmap")
	}

	c.startLSN = endLSN
	c.publishTrackedLSN(endLSN)
	return nil
}

// writeBitmap flushes the accumulated page set to the current file and
// rotates to a new file if the size threshold has been reached.
func (c *Controller) writeBitmap(startLSN, endLSN LSN) error {
	err := c.pages.FlushTo(uint64(startLSN), uint64(endLSN), func(block [bitmap.BlockSize]byte) error {
		return c.current.WriteBlockAndFlush(block)
	})
	if err != nil {
		return err
	}

	if c.current.Size >= c.maxBitmapFileSize {
		next, nextSeq, err := c.registry.Rotate(c.current, c.outSeqNum, uint64(endLSN))
		if err != nil {
			return err
		}
		c.current = next
		c.outSeqNum = nextSeq
	}

	return nil
}

// Shutdown closes the current bitmap file and releases the modified-page
// set. Init must be called again before Follow can be used.
func (c *Controller) Shutdown() error {
	if !c.initialized {
		return nil
	}
	c.initialized = false

	c.pages.Clear()
	if c.current != nil {
		err := c.current.Close()
		c.current = nil
		return err
	}
	return nil
}
