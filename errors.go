package tracker

import "github.com/pkg/errors"

// Corruption of the last write batch, a redo log block checksum failure,
// an unretrackable startup gap and a corrupt block met during iteration
// are logged as warnings through the injected Logger and do not surface
// as returned errors. Init returns an error only for startup-impossible
// and future-LSN conditions; Follow also returns I/O errors from a scan
// or flush, leaving start_lsn unchanged so the next call retries.
var (
	// ErrStartupImpossible is wrapped by Init when the data directory
	// cannot be opened, the first bitmap file cannot be created, or
	// another condition makes it unsafe to begin tracking at all.
	ErrStartupImpossible = errors.New("tracker: startup impossible")

	// ErrFutureLSN is returned by Init when the recovered
	// last_tracked_lsn is ahead of the engine's own checkpoint LSN — a
	// file set that disagrees with engine state in a way that cannot be
	// reconciled safely.
	ErrFutureLSN = errors.New("tracker: recovered tracked LSN is ahead of engine checkpoint LSN")

	// ErrNotInitialized is returned by Follow when called before a
	// successful Init.
	ErrNotInitialized = errors.New("tracker: controller not initialized")

	// ErrNoFilesInRange is returned by NewIterator when the registry has
	// no bitmap file overlapping the requested LSN range.
	ErrNoFilesInRange = errors.New("tracker: no tracked bitmap files in range")
)
