// Package pageset implements the in-memory ordered set of changed-page
// bitmap blocks accumulated by the redo log follower between flushes.
package pageset

import (
	"sort"

	"github.com/coredb/changedpage/internal/bitmap"
)

// key identifies one bitmap block by the tablespace and the first page id
// it covers.
type key struct {
	spaceID       uint32
	blockStartPage uint32
}

func blockStart(pageID uint32) uint32 {
	return pageID - pageID%uint32(bitmap.PayloadBits)
}

// node is one live (or freed) block, boxed so it can be recycled through
// the free-list without reallocating.
type node struct {
	key  key
	bits bitmap.Payload
}

// Set is the ordered mapping (space_id, block_start_page_id) -> block,
// plus a free-list of recycled nodes. It is not safe for concurrent use;
// the follower that feeds it is single-writer by design.
//
// The original engine keys its rbtree nodes with a synthetic byte prefix
// so the comparator can run directly over node bytes. In Go there is no
// need to reproduce that trick: a plain map keyed on (space_id,
// first_page_id) is both clearer and does the same job.
type Set struct {
	nodes map[key]*node
	free  []*node
}

// New returns an empty Set.
func New() *Set {
	return &Set{nodes: make(map[key]*node)}
}

// SetPage marks pageID of spaceID as changed.
func (s *Set) SetPage(spaceID, pageID uint32) {
	k := key{spaceID: spaceID, blockStartPage: blockStart(pageID)}

	n, ok := s.nodes[k]
	if !ok {
		if l := len(s.free); l > 0 {
			n = s.free[l-1]
			s.free = s.free[:l-1]
			n.bits = bitmap.Payload{}
		} else {
			n = &node{}
		}
		n.key = k
		s.nodes[k] = n
	}

	n.bits.SetBit(k.blockStartPage, pageID)
}

// Len reports the number of distinct blocks currently held.
func (s *Set) Len() int {
	return len(s.nodes)
}

// FlushTo writes every held block, in strictly increasing (space_id,
// first_page_id) order, through write for each encoded block. startLSN
// and endLSN are stamped onto every block; exactly one block — the last
// one written — has IsLastBlock set. After a successful call the set is
// empty. If the set is empty, FlushTo calls write zero times.
func (s *Set) FlushTo(startLSN, endLSN uint64, write func(block [bitmap.BlockSize]byte) error) error {
	if len(s.nodes) == 0 {
		return nil
	}

	keys := make([]key, 0, len(s.nodes))
	for k := range s.nodes {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].spaceID != keys[j].spaceID {
			return keys[i].spaceID < keys[j].spaceID
		}
		return keys[i].blockStartPage < keys[j].blockStartPage
	})

	for i, k := range keys {
		n := s.nodes[k]
		meta := bitmap.Meta{
			IsLastBlock: i == len(keys)-1,
			StartLSN:    startLSN,
			EndLSN:      endLSN,
			SpaceID:     k.spaceID,
			FirstPageID: k.blockStartPage,
		}
		encoded := bitmap.EncodeBlock(meta, &n.bits)
		if err := write(encoded); err != nil {
			return err
		}

		delete(s.nodes, k)
		s.free = append(s.free, n)
	}

	return nil
}

// Clear discards all held blocks without flushing them, recycling their
// nodes onto the free-list. Used at controller shutdown and by tests; the
// normal per-interval lifecycle clears via FlushTo.
func (s *Set) Clear() {
	for k, n := range s.nodes {
		delete(s.nodes, k)
		s.free = append(s.free, n)
	}
}
