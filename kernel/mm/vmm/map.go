package vmm

import (
	"armos/kernel"
	"armos/kernel/mm"
)

var errReserveNoSpace = &kernel.Error{Module: "vmm", Message: "no space left in reserved region"}

// PageOffset returns the offset of virtAddr within its page.
func PageOffset(virtAddr uintptr) uintptr {
	return virtAddr & (mm.PageSize - 1)
}

// ReserveRegion reserves a page-aligned contiguous block of the kernel
// (upper half) virtual address space for the requested size and returns its
// start address. Reservations grow downwards and are never released.
func (vmm *VirtualMemoryManager) ReserveRegion(size mm.Size) (uintptr, *kernel.Error) {
	regionSize := uintptr(size.Pages()) << mm.PageShift
	if regionSize == 0 || regionSize > vmm.reserveNext-upperBottom {
		return 0, errReserveNoSpace
	}

	vmm.reserveNext -= regionSize
	return vmm.reserveNext, nil
}

// MapRegion establishes a mapping to the physical memory region which starts
// at the given frame and ends at frame + pages(size). The size argument is
// always rounded up to the nearest page boundary. MapRegion reserves the next
// available region in the kernel virtual address space, establishes the
// mapping and returns back the Page that corresponds to the region start.
func (vmm *VirtualMemoryManager) MapRegion(frame mm.Frame, size mm.Size, flags PageTableEntryFlag) (mm.Page, *kernel.Error) {
	startAddr, err := vmm.ReserveRegion(size)
	if err != nil {
		return 0, err
	}

	startPage := mm.PageFromAddress(startAddr)
	for page, pageCount := startPage, size.Pages(); pageCount > 0; pageCount, page, frame = pageCount-1, page+1, frame+1 {
		if err = vmm.Map(page.Address(), frame.Address(), flags); err != nil {
			return 0, err
		}
	}

	return startPage, nil
}

// IdentityMapRegion establishes an identity mapping to the physical memory
// region which starts at the given frame and ends at frame + pages(size). The
// size argument is always rounded up to the nearest page boundary.
// IdentityMapRegion returns back the Page that corresponds to the region
// start.
func (vmm *VirtualMemoryManager) IdentityMapRegion(startFrame mm.Frame, size mm.Size, flags PageTableEntryFlag) (mm.Page, *kernel.Error) {
	startPage := mm.Page(startFrame)
	pageCount := mm.Page(size.Pages())

	for curPage := startPage; curPage < startPage+pageCount; curPage++ {
		if err := vmm.Map(curPage.Address(), mm.Frame(curPage).Address(), flags); err != nil {
			return 0, err
		}
	}

	return startPage, nil
}
