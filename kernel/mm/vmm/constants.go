package vmm

const (
	// pageLevels indicates the number of translation levels used with a
	// 4K granule and 48-bit virtual addresses.
	pageLevels = 4

	// entriesPerTable is the number of entries in each translation table.
	entriesPerTable = 512

	// ptePhysPageMask is a mask that allows us to extract the physical memory
	// address pointed to by a page table entry. With a 48-bit physical
	// address space, bits 12-47 contain the physical memory address.
	ptePhysPageMask = uintptr(0x0000fffffffff000)

	// shareabilityShift is the bit offset of the 2-bit shareability field.
	shareabilityShift = 8

	// lowerTop is the last address translated via TTBR0.
	lowerTop = uintptr(0x0000ffffffffffff)

	// upperBottom is the first address translated via TTBR1.
	upperBottom = uintptr(0xffff000000000000)

	// reserveTop is the (exclusive) end of the kernel virtual region used
	// by ReserveRegion. Reservations grow downwards from this address.
	reserveTop = uintptr(0xfffffffffffff000)
)

var (
	// pageLevelBits defines the number of virtual address bits that correspond to each
	// page level. Each level uses 9 bits which amounts to 512 entries per table.
	pageLevelBits = [pageLevels]uint8{
		9,
		9,
		9,
		9,
	}

	// pageLevelShifts defines the shift required to access each page table component
	// of a virtual address.
	pageLevelShifts = [pageLevels]uint8{
		39,
		30,
		21,
		12,
	}
)

// The flags below reproduce the entry layout expected by the translation
// hardware. Flags whose value is zero exist to make mapping requests self
// documenting (e.g. FlagReadWrite|FlagNormalMemory).
const (
	// FlagValid is set when the entry describes a valid table or page.
	FlagValid PageTableEntryFlag = 1 << 0

	// FlagTable is set for entries that point to a next-level table.
	FlagTable PageTableEntryFlag = 1 << 1

	// FlagPage denotes a leaf entry.
	FlagPage PageTableEntryFlag = 0

	// FlagDeviceMemory selects device memory attributes for the page.
	FlagDeviceMemory PageTableEntryFlag = 1 << 2

	// FlagNormalMemory selects normal memory attributes for the page.
	FlagNormalMemory PageTableEntryFlag = 0

	// FlagUserAccessible is set if user-mode tasks can access this page. If
	// not set only kernel code can access this page.
	FlagUserAccessible PageTableEntryFlag = 1 << 6

	// FlagReadOnly prevents writes to the page.
	FlagReadOnly PageTableEntryFlag = 1 << 7

	// FlagReadWrite denotes a writable page.
	FlagReadWrite PageTableEntryFlag = 0

	// FlagNonShareable, FlagOuterShareable and FlagInnerShareable select
	// the shareability domain of the page.
	FlagNonShareable   PageTableEntryFlag = 0 << shareabilityShift
	FlagOuterShareable PageTableEntryFlag = 2 << shareabilityShift
	FlagInnerShareable PageTableEntryFlag = 3 << shareabilityShift
)
