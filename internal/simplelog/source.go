package simplelog

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/coredb/changedpage/internal/redolog"
)

// groupCapacity bounds how much log this reference adapter claims to
// retain. A real engine reports the size of its fixed-size circular log
// group(s); this adapter has no eviction of its own; it is a recorder
// that only ever grows, so it reports a capacity large enough that the
// only way a gap becomes unretrackable is by deleting group files by
// hand between daemon runs.
const groupCapacity = 1 << 34

// Source implements redolog.LogSource by reading back-to-back, ever
// growing log group files. Each LogGroup value is the group's file path.
type Source struct {
	fs     afero.Fs
	groups []string
}

// NewSource opens Source over the given group file paths, in scan order.
// The files must already exist; use afero.WriteFile or EncodeBlock to
// seed fixtures.
func NewSource(fs afero.Fs, groupPaths []string) *Source {
	return &Source{fs: fs, groups: groupPaths}
}

// LogGroups implements redolog.LogSource.
func (s *Source) LogGroups(ctx context.Context) ([]redolog.LogGroup, error) {
	out := make([]redolog.LogGroup, len(s.groups))
	for i, g := range s.groups {
		out[i] = g
	}
	return out, nil
}

// ReadLogSegment implements redolog.LogSource. Bytes beyond the group
// file's current end are treated as not-yet-written: buf past n, the
// return value, is left untouched, since the follower only trusts bytes
// up through n.
func (s *Source) ReadLogSegment(ctx context.Context, group redolog.LogGroup, fromLSN, toLSN redolog.LSN, buf []byte) (int, error) {
	path, ok := group.(string)
	if !ok {
		return 0, errors.Errorf("simplelog: unexpected group handle %T", group)
	}

	f, err := s.fs.Open(path)
	if err != nil {
		return 0, errors.Wrapf(err, "simplelog: open %q", path)
	}
	defer f.Close()

	want := int(toLSN - fromLSN)
	if want > len(buf) {
		want = len(buf)
	}

	if _, err := f.Seek(int64(fromLSN), io.SeekStart); err != nil {
		return 0, errors.Wrapf(err, "simplelog: seek %q", path)
	}

	n, err := io.ReadFull(f, buf[:want])
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return 0, errors.Wrapf(err, "simplelog: read %q", path)
	}
	return n, nil
}

// fileSize returns the current size of the named group file.
func (s *Source) fileSize(path string) (int64, error) {
	fi, err := s.fs.Stat(path)
	if err != nil {
		return 0, errors.Wrapf(err, "simplelog: stat %q", path)
	}
	return fi.Size(), nil
}

// CheckpointLSN implements redolog.LogSource by reporting the size of the
// first group file: this adapter has no separate checkpoint mechanism, so
// the entire written log is considered checkpointed.
func (s *Source) CheckpointLSN(ctx context.Context) (redolog.LSN, error) {
	return s.EngineLSN(ctx)
}

// EngineLSN implements redolog.LogSource.
func (s *Source) EngineLSN(ctx context.Context) (redolog.LSN, error) {
	if len(s.groups) == 0 {
		return 0, nil
	}
	size, err := s.fileSize(s.groups[0])
	if err != nil {
		return 0, err
	}
	return redolog.LSN(size), nil
}

// LogGroupCapacity implements redolog.LogSource.
func (s *Source) LogGroupCapacity(ctx context.Context) (uint64, error) {
	return groupCapacity, nil
}
