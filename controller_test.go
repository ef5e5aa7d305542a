package tracker

import (
	"context"
	"os"
	"testing"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/coredb/changedpage/internal/bitmap"
)

// Fixture redo log format used only by this file: blocks are 32 bytes
// (4-byte header, 24 bytes of data, 4-byte trailer, checksum ignored).
// Each data byte is its own one-byte record: a zero byte is a no-op, any
// other byte is a page touch in space 1 whose page id is the byte value.
const (
	fixtureBlockSize = 32
	fixtureHdrSize   = 4
	fixtureTrlSize   = 4
	fixtureDataSize  = fixtureBlockSize - fixtureHdrSize - fixtureTrlSize
)

func fixtureConstants() Constants {
	return Constants{
		LogBlockSize:       fixtureBlockSize,
		LogBlockHdrSize:    fixtureHdrSize,
		LogBlockTrlSize:    fixtureTrlSize,
		RecvParsingBufSize: 256,
		UnivPageSizeMax:    fixtureBlockSize / 4, // FollowScanSize == one block.
		MinTrackedLSN:      fixtureHdrSize,
		DummyRecord:        0,
		MultiRecEnd:        -1,
		FileCreate:         -1,
		FileRename:         -1,
		FileDelete:         -1,
		FileCreate2:        -1,
		LSNRecord:          -1,
	}
}

type fixtureParser struct{}

func (fixtureParser) ParseLogRecord(buf []byte, pos, end int) (length int, recType RecordType, hasPage bool, spaceID, pageID uint32) {
	if pos >= end {
		return 0, 0, false, 0, 0
	}
	tag := buf[pos]
	if tag == 0 {
		return 1, 0, false, 0, 0
	}
	return 1, RecordType(tag), true, 1, uint32(tag)
}

func (fixtureParser) CalcLSNOnDataAdd(lsn LSN, length int) LSN {
	const blockSize = LSN(fixtureBlockSize)
	const dataSize = LSN(fixtureDataSize)

	for length > 0 {
		offsetInBlock := lsn % blockSize
		switch {
		case offsetInBlock < LSN(fixtureHdrSize):
			lsn += LSN(fixtureHdrSize) - offsetInBlock
			continue
		case offsetInBlock >= LSN(fixtureHdrSize)+dataSize:
			lsn += blockSize - offsetInBlock
			continue
		}

		dataOffset := offsetInBlock - LSN(fixtureHdrSize)
		remain := dataSize - dataOffset
		take := LSN(length)
		if take > remain {
			take = remain
		}
		lsn += take
		length -= int(take)
		if take == remain && length > 0 {
			lsn += LSN(fixtureTrlSize + fixtureHdrSize)
		}
	}
	return lsn
}

func (fixtureParser) LogBlockChecksumOK(block []byte) bool {
	return true
}

// fixtureSource is a LogSource over one in-memory growing log buffer,
// with checkpoint/engine LSN and log group capacity independently
// settable so tests can force gap and future-LSN scenarios.
type fixtureSource struct {
	log        []byte
	groups     []LogGroup
	checkpoint LSN
	engine     LSN
	capacity   uint64
}

func (s *fixtureSource) ReadLogSegment(ctx context.Context, group LogGroup, fromLSN, toLSN LSN, buf []byte) (int, error) {
	start, end := int(fromLSN), int(toLSN)
	if start > len(s.log) {
		start = len(s.log)
	}
	if end > len(s.log) {
		end = len(s.log)
	}
	if start >= end {
		return 0, nil
	}
	return copy(buf, s.log[start:end]), nil
}

func (s *fixtureSource) CheckpointLSN(ctx context.Context) (LSN, error)      { return s.checkpoint, nil }
func (s *fixtureSource) EngineLSN(ctx context.Context) (LSN, error)         { return s.engine, nil }
func (s *fixtureSource) LogGroupCapacity(ctx context.Context) (uint64, error) { return s.capacity, nil }
func (s *fixtureSource) LogGroups(ctx context.Context) ([]LogGroup, error)  { return s.groups, nil }

// appendBlock grows the log by one fixture block carrying a single page
// touch for the given nonzero page id, and advances both checkpoint and
// engine LSN by one block's worth of physical bytes.
func (s *fixtureSource) appendBlock(pageID byte) {
	block := make([]byte, fixtureBlockSize)
	block[fixtureHdrSize] = pageID
	s.log = append(s.log, block...)
	s.checkpoint += fixtureBlockSize
	s.engine += fixtureBlockSize
}

type testLogger struct {
	warns []string
}

func (l *testLogger) Warnf(format string, args ...any) {
	l.warns = append(l.warns, format)
}
func (l *testLogger) Infof(format string, args ...any) {}

func newTestController(t *testing.T, fs afero.Fs, dataHome string, source *fixtureSource, maxBitmapFileSize int64, logger Logger) *Controller {
	t.Helper()
	if err := fs.MkdirAll(dataHome, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	cfg := Config{Fs: fs, DataHome: dataHome, MaxBitmapFileSize: maxBitmapFileSize, Logger: logger}
	return New(cfg, source, fixtureParser{}, fixtureConstants())
}

func TestInitCreatesFirstFileWhenNoneExists(t *testing.T) {
	fs := afero.NewMemMapFs()
	dataHome := "/data"
	source := &fixtureSource{groups: []LogGroup{"g"}, capacity: 1 << 30}

	ctrl := newTestController(t, fs, dataHome, source, 2*bitmap.BlockSize, nil)
	if err := ctrl.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	if ctrl.TrackedLSN() != fixtureHdrSize {
		t.Fatalf("TrackedLSN() = %d, want %d", ctrl.TrackedLSN(), fixtureHdrSize)
	}

	infos, err := afero.ReadDir(fs, dataHome)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(infos) != 1 || infos[0].Name() != bitmap.FileName(1, fixtureHdrSize) {
		t.Fatalf("unexpected directory contents after Init: %+v", infos)
	}
}

func TestFollowRotatesWhenCurrentFileReachesSizeThreshold(t *testing.T) {
	fs := afero.NewMemMapFs()
	dataHome := "/data"
	source := &fixtureSource{groups: []LogGroup{"g"}, capacity: 1 << 30}

	ctrl := newTestController(t, fs, dataHome, source, 2*bitmap.BlockSize, nil)
	if err := ctrl.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	for i, pageID := range []byte{100, 101, 102} {
		source.appendBlock(pageID)
		if err := ctrl.Follow(context.Background()); err != nil {
			t.Fatalf("Follow #%d: %v", i, err)
		}
	}

	infos, err := afero.ReadDir(fs, dataHome)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("got %d bitmap files, want 2 (threshold crossed once): %+v", len(infos), infos)
	}

	bySize := map[int64]string{}
	for _, fi := range infos {
		bySize[fi.Size()] = fi.Name()
	}
	if name, ok := bySize[2*bitmap.BlockSize]; !ok || name != bitmap.FileName(1, fixtureHdrSize) {
		t.Fatalf("expected a full 2-block file named %q, got sizes %v", bitmap.FileName(1, fixtureHdrSize), bySize)
	}
	if _, ok := bySize[bitmap.BlockSize]; !ok {
		t.Fatalf("expected a one-block file after rotation, got sizes %v", bySize)
	}
}

func seedBitmapFile(t *testing.T, fs afero.Fs, dataHome string, seqNum, fileStartLSN uint64, lastBlockEndLSN uint64) {
	t.Helper()
	path := dataHome + "/" + bitmap.FileName(seqNum, fileStartLSN)
	f, err := bitmap.Create(fs, path)
	if err != nil {
		t.Fatalf("bitmap.Create: %v", err)
	}
	var payload bitmap.Payload
	block1 := bitmap.EncodeBlock(bitmap.Meta{StartLSN: fileStartLSN, EndLSN: fileStartLSN + 32, SpaceID: 1}, &payload)
	if err := f.WriteBlockAndFlush(block1); err != nil {
		t.Fatalf("write block1: %v", err)
	}
	block2 := bitmap.EncodeBlock(bitmap.Meta{IsLastBlock: true, StartLSN: fileStartLSN + 32, EndLSN: lastBlockEndLSN, SpaceID: 1}, &payload)
	if err := f.WriteBlockAndFlush(block2); err != nil {
		t.Fatalf("write block2: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Simulate a crash mid-write: a torn, partial block appended directly.
	raw, err := fs.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open for append: %v", err)
	}
	if _, err := raw.Write(make([]byte, 100)); err != nil {
		t.Fatalf("append torn bytes: %v", err)
	}
	raw.Close()
}

func TestInitRecoversTornTailAndResumesCleanly(t *testing.T) {
	fs := afero.NewMemMapFs()
	dataHome := "/data"
	seedBitmapFile(t, fs, dataHome, 1, fixtureHdrSize, 68)

	source := &fixtureSource{groups: []LogGroup{"g"}, checkpoint: 68, engine: 68, capacity: 1 << 30}
	ctrl := newTestController(t, fs, dataHome, source, 2*bitmap.BlockSize, nil)

	if err := ctrl.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if ctrl.TrackedLSN() != 68 {
		t.Fatalf("TrackedLSN() = %d, want 68 (clean resume, no gap)", ctrl.TrackedLSN())
	}

	fi, err := fs.Stat(dataHome + "/" + bitmap.FileName(1, fixtureHdrSize))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if fi.Size() != 2*bitmap.BlockSize {
		t.Fatalf("file size = %d, want %d (torn tail dropped)", fi.Size(), 2*bitmap.BlockSize)
	}

	// Init must rotate a brand new file in after recovery rather than
	// resuming appends into the recovered one.
	if _, err := fs.Stat(dataHome + "/" + bitmap.FileName(2, 68)); err != nil {
		t.Fatalf("expected a new rotated-in file after Init resumed from a recovered file: %v", err)
	}
}

func TestInitReturnsErrFutureLSNWhenRecoveredLSNIsAheadOfEngine(t *testing.T) {
	fs := afero.NewMemMapFs()
	dataHome := "/data"
	seedBitmapFile(t, fs, dataHome, 1, fixtureHdrSize, 1000)

	source := &fixtureSource{groups: []LogGroup{"g"}, checkpoint: 500, engine: 500, capacity: 1 << 30}
	ctrl := newTestController(t, fs, dataHome, source, 2*bitmap.BlockSize, nil)

	err := ctrl.Init(context.Background())
	if !errors.Is(err, ErrFutureLSN) {
		t.Fatalf("Init error = %v, want wrapping ErrFutureLSN", err)
	}
}

func TestInitWarnsAndSkipsUnretrackableGap(t *testing.T) {
	fs := afero.NewMemMapFs()
	dataHome := "/data"
	seedBitmapFile(t, fs, dataHome, 1, fixtureHdrSize, 100)

	logger := &testLogger{}
	source := &fixtureSource{groups: []LogGroup{"g"}, checkpoint: 100000, engine: 100000, capacity: 1000}
	ctrl := newTestController(t, fs, dataHome, source, 2*bitmap.BlockSize, logger)

	if err := ctrl.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if len(logger.warns) == 0 {
		t.Fatalf("expected a warning about the unretrackable gap")
	}
	if ctrl.TrackedLSN() != 100000 {
		t.Fatalf("TrackedLSN() = %d, want 100000 (gap skipped forward to engine checkpoint)", ctrl.TrackedLSN())
	}

	// Even an unretrackable gap still rotates a new file in after
	// recovery, named with tracking_start_lsn rather than last_tracked_lsn.
	if _, err := fs.Stat(dataHome + "/" + bitmap.FileName(2, 100000)); err != nil {
		t.Fatalf("expected a new rotated-in file after Init: %v", err)
	}
}
