// Package vmm implements the translation tables and the virtual memory
// manager that maintains them.
package vmm

import (
	"armos/kernel"
	"armos/kernel/mm"
)

var (
	// ErrAlreadyMapped is returned by Map when the target page is already
	// backed by a valid leaf entry.
	ErrAlreadyMapped = &kernel.Error{Module: "vmm", Message: "already mapped"}

	// ErrNotMapped is returned when a virtual address has no valid leaf
	// entry.
	ErrNotMapped = &kernel.Error{Module: "vmm", Message: "not mapped"}

	// ErrInvalidAddress is returned for virtual addresses whose bits 48-63
	// are not a sign extension of bit 47.
	ErrInvalidAddress = &kernel.Error{Module: "vmm", Message: "non-canonical virtual address"}
)

// VirtualMemoryManager owns a root translation table and the hierarchy of
// tables reachable from it.
//
// VirtualMemoryManager performs no locking. Callers must ensure that only a
// single context modifies the tables at any time.
type VirtualMemoryManager struct {
	rootFrame mm.Frame
	root      *PageTable

	// reserveNext is the (exclusive) end of the next region returned by
	// ReserveRegion.
	reserveNext uintptr
}

// NewVirtualMemoryManager allocates and clears a root translation table.
func NewVirtualMemoryManager() (*VirtualMemoryManager, *kernel.Error) {
	frame, err := mm.AllocFrame()
	if err != nil {
		return nil, err
	}

	vmm := &VirtualMemoryManager{
		rootFrame:   frame,
		root:        tableAtFn(frame),
		reserveNext: reserveTop,
	}
	vmm.root.Clear()

	return vmm, nil
}

// RootTableAddress returns the physical address of the root table. This is
// the value that needs to be loaded into the translation table base
// registers.
func (vmm *VirtualMemoryManager) RootTableAddress() uintptr {
	return vmm.rootFrame.Address()
}

// Map establishes a mapping between the page containing virtAddr and the
// frame containing physAddr. Missing intermediate tables are allocated
// using the registered frame allocator. Tables created before an allocation
// failure are kept.
//
// The leaf entry receives the supplied flags unchanged except for FlagValid,
// which is forced on. Map never overwrites an existing valid leaf.
func (vmm *VirtualMemoryManager) Map(virtAddr, physAddr uintptr, flags PageTableEntryFlag) *kernel.Error {
	if !canonical(virtAddr) {
		return ErrInvalidAddress
	}

	var err *kernel.Error
	table := vmm.root
	for level := uint8(0); level < pageLevels-1; level++ {
		index := pageTableIndex(virtAddr, level)

		next := table.NextTable(index)
		if next == nil {
			if next, err = table.CreateNextTable(index); err != nil {
				return err
			}
		}
		table = next
	}

	pte := &table[pageTableIndex(virtAddr, pageLevels-1)]
	if pte.Valid() {
		return ErrAlreadyMapped
	}

	*pte = NewPageTableEntry(physAddr, flags|FlagValid)
	return nil
}

// Unmap invalidates the leaf entry for the page containing virtAddr and
// returns the physical address it pointed to. Unmap neither releases the
// frame nor invalidates stale TLB entries; both are the caller's job.
func (vmm *VirtualMemoryManager) Unmap(virtAddr uintptr) (uintptr, *kernel.Error) {
	pte, err := vmm.leafEntry(virtAddr)
	if err != nil {
		return 0, err
	}

	physAddr := pte.PhysicalAddress()
	*pte = 0
	return physAddr, nil
}

// Translate returns the physical address that corresponds to virtAddr or
// ErrNotMapped if the address is not backed by a valid leaf entry.
func (vmm *VirtualMemoryManager) Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	pte, err := vmm.leafEntry(virtAddr)
	if err != nil {
		return 0, err
	}

	return pte.PhysicalAddress() + PageOffset(virtAddr), nil
}

// Lookup returns a copy of the leaf entry for virtAddr.
func (vmm *VirtualMemoryManager) Lookup(virtAddr uintptr) (PageTableEntry, *kernel.Error) {
	pte, err := vmm.leafEntry(virtAddr)
	if err != nil {
		return 0, err
	}

	return *pte, nil
}

// leafEntry walks the existing tables for virtAddr without creating any and
// returns a pointer to its valid leaf entry.
func (vmm *VirtualMemoryManager) leafEntry(virtAddr uintptr) (*PageTableEntry, *kernel.Error) {
	if !canonical(virtAddr) {
		return nil, ErrInvalidAddress
	}

	var leaf *PageTableEntry
	walk(vmm.root, virtAddr, func(level uint8, pte *PageTableEntry) bool {
		if !pte.Valid() {
			return false
		}

		if level == pageLevels-1 {
			leaf = pte
		}
		return true
	})

	if leaf == nil {
		return nil, ErrNotMapped
	}
	return leaf, nil
}

// pageTableWalker is a function that can be passed to the walk method. The
// function receives the current page level and the entry that corresponds
// to the walked address at that level. If the function returns false, the
// walk is aborted.
type pageTableWalker func(level uint8, pte *PageTableEntry) bool

// walk performs a page table walk for the given virtual address starting at
// root. Walking continues into the next level only if walkFn returns true
// for the current entry.
func walk(root *PageTable, virtAddr uintptr, walkFn pageTableWalker) {
	table := root
	for level := uint8(0); level < pageLevels; level++ {
		pte := &table[pageTableIndex(virtAddr, level)]
		if !walkFn(level, pte) || level == pageLevels-1 {
			return
		}

		table = tableAtFn(pte.Frame())
	}
}

// canonical returns true if bits 48-63 of virtAddr are either all clear or
// all set.
func canonical(virtAddr uintptr) bool {
	return virtAddr <= lowerTop || virtAddr >= upperBottom
}
