package vmm

import (
	"armos/kernel"
	"armos/kernel/mm"
	"unsafe"
)

var (
	// tableAtFn returns the page table stored in the supplied physical
	// frame. The kernel runs with an identity mapped view of physical
	// memory so the frame address can be dereferenced directly. Tests
	// override this function to back tables with regular Go memory.
	tableAtFn = func(frame mm.Frame) *PageTable {
		return (*PageTable)(unsafe.Pointer(frame.Address()))
	}

	// ErrTableCreationFailed is returned when a frame for a new
	// translation table cannot be allocated.
	ErrTableCreationFailed = &kernel.Error{Module: "vmm", Message: "table creation failed"}
)

// PageTable is a translation table occupying exactly one page.
type PageTable [entriesPerTable]PageTableEntry

// NextTable returns the table pointed to by the entry at index or nil if the
// entry is not valid.
func (t *PageTable) NextTable(index uintptr) *PageTable {
	if !t[index].Valid() {
		return nil
	}

	return tableAtFn(t[index].Frame())
}

// CreateNextTable allocates a zeroed frame for a new translation table and
// installs it at index. Any previous contents of the entry are overwritten.
func (t *PageTable) CreateNextTable(index uintptr) (*PageTable, *kernel.Error) {
	frame, err := mm.AllocFrame()
	if err != nil {
		return nil, ErrTableCreationFailed
	}

	next := tableAtFn(frame)
	next.Clear()

	t[index] = NewPageTableEntry(frame.Address(), FlagValid|FlagTable)
	return next, nil
}

// Clear invalidates all entries of the table.
func (t *PageTable) Clear() {
	kernel.Memset(uintptr(unsafe.Pointer(t)), 0, mm.PageSize)
}

// pageTableIndex returns the index into the table at the requested level
// that corresponds to virtAddr.
func pageTableIndex(virtAddr uintptr, level uint8) uintptr {
	return (virtAddr >> pageLevelShifts[level]) & ((1 << pageLevelBits[level]) - 1)
}
