package mm

import (
	"armos/kernel"
	"math"
)

// Frame is the number of a physical page: the physical address shifted right
// by PageShift.
type Frame uintptr

// InvalidFrame is returned by frame allocators that could not reserve a
// frame.
const InvalidFrame = Frame(math.MaxUint64)

// Valid returns false for InvalidFrame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns the physical address of the first byte of the frame.
func (f Frame) Address() uintptr {
	return uintptr(f) << PageShift
}

// FrameFromAddress returns the frame that contains physAddr. Addresses that
// are not page-aligned are rounded down.
func FrameFromAddress(physAddr uintptr) Frame {
	return Frame(physAddr >> PageShift)
}

// Page is the number of a virtual page: the virtual address shifted right by
// PageShift.
type Page uintptr

// Address returns the virtual address of the first byte of the page.
func (p Page) Address() uintptr {
	return uintptr(p) << PageShift
}

// PageFromAddress returns the page that contains virtAddr. Addresses that are
// not page-aligned are rounded down.
func PageFromAddress(virtAddr uintptr) Page {
	return Page(virtAddr >> PageShift)
}

// FrameAllocatorFn is a function that can allocate physical frames.
type FrameAllocatorFn func() (Frame, *kernel.Error)

var (
	// frameAllocator is the frame source used by AllocFrame.
	frameAllocator FrameAllocatorFn

	errNoFrameAllocator = &kernel.Error{Module: "mm", Message: "no frame allocator registered"}
)

// SetFrameAllocator registers the function used by AllocFrame. The page table
// code obtains frames for new translation tables this way, which keeps it
// independent of the allocator implementation. Passing nil unregisters the
// current allocator.
func SetFrameAllocator(allocFn FrameAllocatorFn) {
	frameAllocator = allocFn
}

// AllocFrame reserves a frame using the registered frame allocator.
func AllocFrame() (Frame, *kernel.Error) {
	if frameAllocator == nil {
		return InvalidFrame, errNoFrameAllocator
	}
	return frameAllocator()
}
