package vmm

import (
	"armos/kernel"
	"armos/kernel/mm"
	"armos/kernel/mm/pmm"
	"testing"
)

var errArenaExhausted = &kernel.Error{Module: "test", Message: "arena exhausted"}

// frameArena backs translation tables with Go memory so that the vmm code
// can run on the host. Frames are handed out sequentially starting at the
// QEMU virt RAM base.
type frameArena struct {
	tables    map[mm.Frame]*PageTable
	nextFrame mm.Frame

	// limit caps the number of frames that can be allocated; a negative
	// value means no limit.
	limit     int
	allocated int
}

func (a *frameArena) alloc() (mm.Frame, *kernel.Error) {
	if a.limit >= 0 && a.allocated >= a.limit {
		return mm.InvalidFrame, errArenaExhausted
	}

	frame := a.nextFrame
	a.nextFrame++
	a.allocated++
	a.tables[frame] = new(PageTable)
	return frame, nil
}

func (a *frameArena) tableAt(frame mm.Frame) *PageTable {
	table, ok := a.tables[frame]
	if !ok {
		panic("access to a frame that was never allocated as a table")
	}
	return table
}

// setupArena installs a frame arena as the frame allocator and table source
// and returns it together with a function that restores the originals.
func setupArena(limit int) (*frameArena, func()) {
	arena := &frameArena{
		tables:    make(map[mm.Frame]*PageTable),
		nextFrame: mm.FrameFromAddress(0x40000000),
		limit:     limit,
	}

	origTableAtFn := tableAtFn
	tableAtFn = arena.tableAt
	mm.SetFrameAllocator(arena.alloc)

	return arena, func() {
		tableAtFn = origTableAtFn
		mm.SetFrameAllocator(nil)
	}
}

// setupBitmapFrames registers a bitmap allocator over region as the frame
// allocator. Frames it hands out are backed by Go memory the first time they
// are used as tables.
func setupBitmapFrames(t *testing.T, region mm.Region) (*pmm.BitmapAllocator, func()) {
	t.Helper()

	alloc, err := pmm.NewBitmapAllocator([]mm.Region{region}, make([]byte, (region.FrameCount()+7)/8), uintptr(region.Start))
	if err != nil {
		t.Fatal(err)
	}

	tables := make(map[mm.Frame]*PageTable)
	origTableAtFn := tableAtFn
	tableAtFn = func(frame mm.Frame) *PageTable {
		if !alloc.Contains(frame) {
			panic("access to a frame outside the managed region")
		}
		if tables[frame] == nil {
			tables[frame] = new(PageTable)
		}
		return tables[frame]
	}
	mm.SetFrameAllocator(alloc.AllocFrame)

	return alloc, func() {
		tableAtFn = origTableAtFn
		mm.SetFrameAllocator(nil)
	}
}
