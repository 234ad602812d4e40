package vmm

import (
	"armos/kernel/mm"

	"github.com/usbarmory/tamago/bits"
)

// PageTableEntryFlag describes a flag that can be applied to a page table entry.
type PageTableEntryFlag uintptr

// PageTableEntry describes a page table entry. Each entry combines a
// page-aligned physical address with a set of attribute flags.
type PageTableEntry uintptr

// NewPageTableEntry returns an entry that points to the page containing
// physAddr and carries the supplied flags verbatim.
func NewPageTableEntry(physAddr uintptr, flags PageTableEntryFlag) PageTableEntry {
	return PageTableEntry((physAddr & ptePhysPageMask) | uintptr(flags))
}

// Valid returns true if the entry describes a valid table or page.
func (pte PageTableEntry) Valid() bool {
	return pte.HasFlags(FlagValid)
}

// HasFlags returns true if this entry has all the input flags set.
func (pte PageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return (uintptr(pte) & uintptr(flags)) == uintptr(flags)
}

// HasAnyFlag returns true if this entry has at least one of the input flags set.
func (pte PageTableEntry) HasAnyFlag(flags PageTableEntryFlag) bool {
	return (uintptr(pte) & uintptr(flags)) != 0
}

// Flags returns the attribute bits of the entry.
func (pte PageTableEntry) Flags() PageTableEntryFlag {
	return PageTableEntryFlag(uintptr(pte) &^ ptePhysPageMask)
}

// PhysicalAddress returns the physical address that this entry points to.
func (pte PageTableEntry) PhysicalAddress() uintptr {
	return uintptr(pte) & ptePhysPageMask
}

// Frame returns the physical page frame that this page table entry points to.
func (pte PageTableEntry) Frame() mm.Frame {
	return mm.FrameFromAddress(pte.PhysicalAddress())
}

// Shareability returns the shareability domain encoded in the entry (one of
// FlagNonShareable, FlagOuterShareable or FlagInnerShareable).
func (pte PageTableEntry) Shareability() PageTableEntryFlag {
	val := uint64(pte)
	return PageTableEntryFlag(bits.Get64(&val, shareabilityShift, 0b11) << shareabilityShift)
}

// SetShareability replaces the shareability domain of the entry.
func (pte *PageTableEntry) SetShareability(domain PageTableEntryFlag) {
	val := uint64(*pte)
	bits.SetN64(&val, shareabilityShift, 0b11, uint64(domain>>shareabilityShift))
	*pte = PageTableEntry(val)
}

// SetFlags sets the input list of flags to the page table entry.
func (pte *PageTableEntry) SetFlags(flags PageTableEntryFlag) {
	*pte = (PageTableEntry)(uintptr(*pte) | uintptr(flags))
}

// ClearFlags unsets the input list of flags from the page table entry.
func (pte *PageTableEntry) ClearFlags(flags PageTableEntryFlag) {
	*pte = (PageTableEntry)(uintptr(*pte) &^ uintptr(flags))
}
