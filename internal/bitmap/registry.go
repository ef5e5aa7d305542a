package bitmap

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// nameStem is the fixed prefix of every bitmap file name.
const nameStem = "ib_modified_log_"

// nameExt is the fixed suffix of every bitmap file name.
const nameExt = ".xdb"

// namePattern matches "ib_modified_log_<seq_num>_<start_lsn>.xdb". Entries
// that don't match, including directories, are ignored by the registry.
var namePattern = regexp.MustCompile(`^ib_modified_log_([0-9]+)_([0-9]+)\.xdb$`)

// FileName builds the on-disk name for a given sequence number and
// starting LSN.
func FileName(seqNum uint64, startLSN uint64) string {
	return fmt.Sprintf("%s%d_%d%s", nameStem, seqNum, startLSN, nameExt)
}

// entry describes one bitmap file discovered on disk.
type entry struct {
	seqNum   uint64
	startLSN uint64
	name     string
	size     int64
}

func parseName(name string) (seqNum, startLSN uint64, ok bool) {
	m := namePattern.FindStringSubmatch(name)
	if m == nil {
		return 0, 0, false
	}
	seqNum, err1 := strconv.ParseUint(m[1], 10, 64)
	startLSN, err2 := strconv.ParseUint(m[2], 10, 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return seqNum, startLSN, true
}

// ParseName extracts the sequence number and starting LSN encoded in a
// bitmap file's name, as produced by FileName.
func ParseName(name string) (seqNum, startLSN uint64, ok bool) {
	return parseName(name)
}

// Registry enumerates, names, selects, and rotates bitmap files within a
// single data directory.
type Registry struct {
	fs  afero.Fs
	dir string
}

// NewRegistry returns a Registry rooted at dir on fs. dir must already
// exist; directory creation is the host's job.
func NewRegistry(fs afero.Fs, dir string) *Registry {
	return &Registry{fs: fs, dir: dir}
}

func (r *Registry) path(name string) string {
	return r.dir + "/" + name
}

// list returns every recognized bitmap file in the directory, in no
// particular order. Regular files and symlinks are both accepted; any
// entry whose name doesn't match the pattern is skipped.
func (r *Registry) list() ([]entry, error) {
	infos, err := afero.ReadDir(r.fs, r.dir)
	if err != nil {
		return nil, errors.Wrapf(err, "bitmap: list %q", r.dir)
	}

	var out []entry
	for _, fi := range infos {
		if fi.IsDir() {
			continue
		}
		seqNum, startLSN, ok := parseName(fi.Name())
		if !ok {
			continue
		}
		out = append(out, entry{seqNum: seqNum, startLSN: startLSN, name: fi.Name(), size: fi.Size()})
	}
	return out, nil
}

// Latest returns the entry with the largest seq_num among non-empty
// files, ties broken by the larger start_lsn, and reports found=false if
// the directory holds no recognized, non-empty bitmap file.
func (r *Registry) Latest() (seqNum uint64, name string, found bool, err error) {
	entries, err := r.list()
	if err != nil {
		return 0, "", false, err
	}

	var best *entry
	for i := range entries {
		e := &entries[i]
		if e.size == 0 {
			continue
		}
		if best == nil || e.seqNum > best.seqNum ||
			(e.seqNum == best.seqNum && e.startLSN > best.startLSN) {
			best = e
		}
	}
	if best == nil {
		return 0, "", false, nil
	}
	return best.seqNum, best.name, true, nil
}

// SelectRange returns, in ascending (seq_num, start_lsn) order, every file
// whose interval may overlap [minLSN, maxLSN): every file whose
// start_lsn is in [minLSN, maxLSN), plus — if one exists — the single
// file with the greatest start_lsn strictly below minLSN, which is the
// file straddling minLSN and must be read first so the iterator can begin
// inside it. Returns an empty, non-error result if nothing qualifies.
func (r *Registry) SelectRange(minLSN, maxLSN uint64) ([]string, error) {
	entries, err := r.list()
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].seqNum < entries[j].seqNum })

	// Pass 1: find the straddling file (greatest start_lsn < minLSN) and
	// the [firstSeq, lastSeq] range of files with start_lsn in range.
	var straddle *entry
	var firstSeq, lastSeq uint64
	haveRange := false

	for i := range entries {
		e := &entries[i]
		if e.startLSN < minLSN {
			if straddle == nil || e.startLSN > straddle.startLSN {
				straddle = e
			}
			continue
		}
		if e.startLSN >= maxLSN {
			continue
		}
		if !haveRange {
			firstSeq, lastSeq = e.seqNum, e.seqNum
			haveRange = true
		} else {
			if e.seqNum < firstSeq {
				firstSeq = e.seqNum
			}
			if e.seqNum > lastSeq {
				lastSeq = e.seqNum
			}
		}
	}

	if straddle != nil {
		// seq_num and start_lsn are both monotone across rotations, so
		// the straddling file (start_lsn < minLSN) always has the
		// smallest seq_num of anything selected here.
		if !haveRange {
			firstSeq, lastSeq = straddle.seqNum, straddle.seqNum
			haveRange = true
		} else {
			firstSeq = straddle.seqNum
		}
	}
	if !haveRange {
		return nil, nil
	}

	// Pass 2: walk [firstSeq, lastSeq] in order. A gap (a seq_num with no
	// file, e.g. from a deleted file) is skipped, so the result holds no
	// empty slot and does not mark where the gap was.
	byName := make(map[uint64]string, lastSeq-firstSeq+1)
	for i := range entries {
		e := &entries[i]
		if e.seqNum >= firstSeq && e.seqNum <= lastSeq {
			byName[e.seqNum] = e.name
		}
	}

	names := make([]string, 0, lastSeq-firstSeq+1)
	for seq := firstSeq; seq <= lastSeq; seq++ {
		if name, ok := byName[seq]; ok {
			names = append(names, name)
		}
	}

	return names, nil
}

// Rotate closes current (if non-nil), advances seqNum, and creates the
// next bitmap file named with nextStartLSN. It returns the new file and
// its sequence number.
func (r *Registry) Rotate(current *File, seqNum uint64, nextStartLSN uint64) (*File, uint64, error) {
	if current != nil {
		if err := current.Close(); err != nil {
			return nil, 0, errors.Wrap(err, "bitmap: close current file before rotate")
		}
	}

	nextSeq := seqNum + 1
	name := r.path(FileName(nextSeq, nextStartLSN))
	f, err := Create(r.fs, name)
	if err != nil {
		return nil, 0, err
	}
	return f, nextSeq, nil
}

// Open opens the named bitmap file (as returned by Latest/SelectRange) for
// read-write.
func (r *Registry) Open(name string) (*File, error) {
	return OpenRW(r.fs, r.path(name))
}

// OpenReadOnly opens the named bitmap file for reading only.
func (r *Registry) OpenReadOnly(name string) (*File, error) {
	return OpenRO(r.fs, r.path(name))
}

// Create creates the very first bitmap file (seq_num=1) at startLSN, used
// when the directory holds no existing bitmap file at all.
func (r *Registry) Create(startLSN uint64) (*File, uint64, error) {
	f, err := Create(r.fs, r.path(FileName(1, startLSN)))
	if err != nil {
		return nil, 0, err
	}
	return f, 1, nil
}
