// Package pmm implements the kernel's physical memory manager.
package pmm

import (
	"armos/kernel"
	"armos/kernel/mm"
)

const (
	// bitmapStorageSize is the size of the static bitmap used by the
	// kernel allocator. One byte tracks 8 frames so 8K of storage covers
	// 256Mb of RAM.
	bitmapStorageSize = 8192

	// DefaultReservedEnd is the physical address where the kernel image is
	// assumed to end when the boot code cannot provide a better estimate.
	// Frames below it are never handed out.
	DefaultReservedEnd = uintptr(0x41000000)

	// MaxManagedMemory is the largest region that the kernel allocator
	// can track with its static bitmap.
	MaxManagedMemory = mm.Size(bitmapStorageSize*8) * mm.Size(mm.PageSize)
)

var (
	// bitmapAllocator is the frame allocator used by the kernel.
	bitmapAllocator BitmapAllocator

	// bitmapStorage backs the bitmap of bitmapAllocator.
	bitmapStorage [bitmapStorageSize]byte

	initialized bool

	// ErrNotInitialized is returned by the package-level helpers when
	// they are invoked before Init.
	ErrNotInitialized = &kernel.Error{Module: "pmm", Message: "frame allocator not initialized"}
)

// Init sets up the kernel physical memory allocation sub-system using the
// largest of the supplied memory regions. Frames below reservedEnd are
// treated as part of the kernel image. Once initialized, the allocator is
// registered as the frame source for the vmm code.
//
// Any error returned by Init is fatal as no memory subsystem can exist
// without a frame allocator.
func Init(regions []mm.Region, reservedEnd uintptr) *kernel.Error {
	if err := bitmapAllocator.init(regions, bitmapStorage[:], reservedEnd); err != nil {
		return err
	}

	initialized = true
	bitmapAllocator.printStats()
	mm.SetFrameAllocator(allocFrame)
	return nil
}

// AllocFrame reserves a physical frame using the kernel frame allocator.
func AllocFrame() (mm.Frame, *kernel.Error) {
	if !initialized {
		return mm.InvalidFrame, ErrNotInitialized
	}
	return bitmapAllocator.AllocFrame()
}

// FreeFrame returns a frame to the kernel frame allocator.
func FreeFrame(frame mm.Frame) *kernel.Error {
	if !initialized {
		return ErrNotInitialized
	}
	return bitmapAllocator.FreeFrame(frame)
}

// FreeAddress returns the frame containing physAddr to the kernel frame
// allocator.
func FreeAddress(physAddr uintptr) *kernel.Error {
	return FreeFrame(mm.FrameFromAddress(physAddr))
}

// Stats returns the free and total frame counts of the kernel frame
// allocator or (0, 0) if it has not been initialized yet.
func Stats() (free, total uint64) {
	if !initialized {
		return 0, 0
	}
	return bitmapAllocator.Stats()
}

// SetFreePolicy changes the free policy of the kernel frame allocator.
func SetFreePolicy(policy FreePolicy) {
	bitmapAllocator.SetFreePolicy(policy)
}

// allocFrame is passed to mm.SetFrameAllocator instead of
// bitmapAllocator.AllocFrame; the method value confuses the compiler's
// escape analysis into thinking that bitmapAllocator escapes to the heap.
func allocFrame() (mm.Frame, *kernel.Error) {
	return bitmapAllocator.AllocFrame()
}
