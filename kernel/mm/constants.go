package mm

// The constants below describe the arm64 translation regime used by the
// kernel: a 4K translation granule with 48-bit virtual addresses.
const (
	// PointerShift is equal to log2(unsafe.Sizeof(uintptr)). The pointer
	// size for this architecture is defined as (1 << PointerShift).
	PointerShift = uintptr(3)

	// PageShift is equal to log2(PageSize). This constant is used when
	// we need to convert a physical address to a page number (shift right by PageShift)
	// and vice-versa.
	PageShift = uintptr(12)

	// PageSize defines the system's page size in bytes.
	PageSize = uintptr(1 << PageShift)

	// VirtualAddressBits is the width of the virtual address space
	// covered by each of the two translation table base registers.
	VirtualAddressBits = 48
)
