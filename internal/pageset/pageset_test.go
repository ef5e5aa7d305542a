package pageset

import (
	"testing"

	"github.com/coredb/changedpage/internal/bitmap"
)

func TestSetPageAndFlushOrder(t *testing.T) {
	s := New()
	s.SetPage(5, 10)
	s.SetPage(2, 20)
	s.SetPage(5, bitmap.PayloadBits+1) // second block in space 5.

	if s.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", s.Len())
	}

	var spaceIDs []uint32
	var firstPages []uint32
	err := s.FlushTo(100, 200, func(block [bitmap.BlockSize]byte) error {
		meta, _, ok := bitmap.DecodeBlock(block)
		if !ok {
			t.Fatalf("flushed block failed checksum")
		}
		spaceIDs = append(spaceIDs, meta.SpaceID)
		firstPages = append(firstPages, meta.FirstPageID)
		if meta.StartLSN != 100 || meta.EndLSN != 200 {
			t.Fatalf("block LSN stamp = [%d,%d), want [100,200)", meta.StartLSN, meta.EndLSN)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("FlushTo: %v", err)
	}

	wantSpaces := []uint32{2, 5, 5}
	for i, want := range wantSpaces {
		if i >= len(spaceIDs) || spaceIDs[i] != want {
			t.Fatalf("block %d space_id = %v, want ordering %v", i, spaceIDs, wantSpaces)
		}
	}

	if s.Len() != 0 {
		t.Fatalf("set not empty after FlushTo: Len() = %d", s.Len())
	}
}

func TestFlushToMarksOnlyLastBlockAsLast(t *testing.T) {
	s := New()
	s.SetPage(1, 0)
	s.SetPage(1, bitmap.PayloadBits)
	s.SetPage(1, 2*bitmap.PayloadBits)

	var lastFlags []bool
	err := s.FlushTo(0, 1, func(block [bitmap.BlockSize]byte) error {
		meta, _, _ := bitmap.DecodeBlock(block)
		lastFlags = append(lastFlags, meta.IsLastBlock)
		return nil
	})
	if err != nil {
		t.Fatalf("FlushTo: %v", err)
	}

	for i, last := range lastFlags {
		want := i == len(lastFlags)-1
		if last != want {
			t.Fatalf("block %d IsLastBlock = %v, want %v", i, last, want)
		}
	}
}

func TestFlushToEmptySetCallsWriteZeroTimes(t *testing.T) {
	s := New()
	calls := 0
	err := s.FlushTo(0, 1, func(block [bitmap.BlockSize]byte) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("FlushTo: %v", err)
	}
	if calls != 0 {
		t.Fatalf("write called %d times on empty set, want 0", calls)
	}
}

func TestNodesAreRecycledThroughFreeList(t *testing.T) {
	s := New()
	s.SetPage(1, 0)
	if err := s.FlushTo(0, 1, func([bitmap.BlockSize]byte) error { return nil }); err != nil {
		t.Fatalf("FlushTo: %v", err)
	}
	if len(s.free) != 1 {
		t.Fatalf("free list len = %d, want 1 after flushing one block", len(s.free))
	}

	s.SetPage(2, 0)
	if len(s.free) != 0 {
		t.Fatalf("free list not drained on reuse: len = %d", len(s.free))
	}
}

func TestClearDiscardsWithoutFlushing(t *testing.T) {
	s := New()
	s.SetPage(1, 0)
	s.SetPage(2, 0)
	s.Clear()

	if s.Len() != 0 {
		t.Fatalf("Len() = %d after Clear, want 0", s.Len())
	}
	if len(s.free) != 2 {
		t.Fatalf("free list len = %d after Clear, want 2", len(s.free))
	}
}
