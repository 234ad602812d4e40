package pmm

import (
	"armos/kernel"
	"armos/kernel/kfmt"
	"armos/kernel/mm"
	"armos/kernel/sync"
)

var (
	// ErrOutOfMemory is returned by AllocFrame when no free frame is left.
	ErrOutOfMemory = &kernel.Error{Module: "pmm", Message: "out of physical memory"}

	// ErrNoRegions is returned when the allocator is constructed without
	// any memory regions.
	ErrNoRegions = &kernel.Error{Module: "pmm", Message: "no memory regions supplied"}

	// ErrBitmapTooSmall is returned when the supplied bitmap storage cannot
	// track all frames of the selected region.
	ErrBitmapTooSmall = &kernel.Error{Module: "pmm", Message: "bitmap storage too small"}

	// ErrFrameOutOfRange is reported by FreeFrame in FreeStrict mode when
	// the frame does not belong to the managed region.
	ErrFrameOutOfRange = &kernel.Error{Module: "pmm", Message: "frame not managed by allocator"}

	// ErrDoubleFree is reported by FreeFrame in FreeStrict mode when the
	// frame is already free.
	ErrDoubleFree = &kernel.Error{Module: "pmm", Message: "frame already free"}

	// ErrReservedFrame is reported by FreeFrame in FreeStrict mode when the
	// frame lies below the reservation boundary.
	ErrReservedFrame = &kernel.Error{Module: "pmm", Message: "frame reserved for kernel image"}
)

// FreePolicy controls how FreeFrame treats requests that cannot change the
// allocator state.
type FreePolicy uint8

const (
	// FreeBestEffort silently ignores frees of out-of-range or already free
	// frames. This is the default policy.
	FreeBestEffort FreePolicy = iota

	// FreeStrict reports out-of-range and double frees as errors. The
	// allocator state is left untouched in both cases.
	FreeStrict
)

// BitmapAllocator implements a physical frame allocator that tracks frame
// reservations for a single contiguous memory region using a bitmap where
// each bit corresponds to a frame (1 = used, 0 = free).
type BitmapAllocator struct {
	mutex sync.Spinlock

	// bitmap tracks used/free frames; bit (i % 8) of byte (i / 8)
	// corresponds to frame (startFrame + i).
	bitmap []byte

	// startFrame is the frame number for the first frame in the region.
	startFrame mm.Frame

	// totalFrames is the number of frames in the managed region.
	totalFrames uint64

	// reservedFrames is the number of frames at the start of the region
	// that are never handed out or released.
	reservedFrames uint64

	// freeFrames always equals the number of clear bits in the bitmap.
	freeFrames uint64

	// nextFreeHint is the bitmap index where the next allocation starts
	// probing for a free frame.
	nextFreeHint uint64

	freePolicy FreePolicy
}

// NewBitmapAllocator creates an allocator for the largest of the supplied
// memory regions using bitmap as its backing storage. Frames that lie below
// the reservedEnd physical address (the end of the kernel image) are
// permanently flagged as reserved.
//
// NewBitmapAllocator returns an error if no regions are supplied or if the
// bitmap cannot hold one bit per frame of the selected region.
func NewBitmapAllocator(regions []mm.Region, bitmap []byte, reservedEnd uintptr) (*BitmapAllocator, *kernel.Error) {
	alloc := &BitmapAllocator{}
	if err := alloc.init(regions, bitmap, reservedEnd); err != nil {
		return nil, err
	}

	return alloc, nil
}

// init sets up the allocator state in place. It allows the package-level
// allocator to be initialized without a heap allocation.
func (alloc *BitmapAllocator) init(regions []mm.Region, bitmap []byte, reservedEnd uintptr) *kernel.Error {
	if len(regions) == 0 {
		return ErrNoRegions
	}

	// Pick the largest region; on ties the region reported first wins
	mainRegion := regions[0]
	for _, region := range regions[1:] {
		if region.Size > mainRegion.Size {
			mainRegion = region
		}
	}

	totalFrames := mainRegion.FrameCount()
	bitmapBytes := (totalFrames + 7) >> 3
	if uint64(len(bitmap)) < bitmapBytes {
		return ErrBitmapTooSmall
	}

	alloc.bitmap = bitmap[:bitmapBytes]
	alloc.startFrame = mainRegion.StartFrame()
	alloc.totalFrames = totalFrames
	alloc.freeFrames = 0
	alloc.nextFreeHint = 0

	for index := range alloc.bitmap {
		alloc.bitmap[index] = 0xff
	}

	// Frames below the reservation boundary hold the kernel image
	var usableStart uint64
	if reservedEndFrame := mm.FrameFromAddress(reservedEnd); reservedEndFrame > alloc.startFrame {
		usableStart = uint64(reservedEndFrame - alloc.startFrame)
	}
	if usableStart > alloc.totalFrames {
		usableStart = alloc.totalFrames
	}
	alloc.reservedFrames = usableStart

	for index := usableStart; index < alloc.totalFrames; index++ {
		alloc.markFree(index)
	}

	return nil
}

// SetFreePolicy changes the way FreeFrame treats invalid requests.
func (alloc *BitmapAllocator) SetFreePolicy(policy FreePolicy) {
	alloc.mutex.Acquire()
	alloc.freePolicy = policy
	alloc.mutex.Release()
}

// AllocFrame reserves the first free frame at or after the rotating search
// hint, wrapping around at the end of the region. It returns
// ErrOutOfMemory if no frames are available.
func (alloc *BitmapAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	alloc.mutex.Acquire()
	defer alloc.mutex.Release()

	if alloc.freeFrames == 0 {
		return mm.InvalidFrame, ErrOutOfMemory
	}

	for probe := uint64(0); probe < alloc.totalFrames; probe++ {
		index := (alloc.nextFreeHint + probe) % alloc.totalFrames
		if !alloc.isFree(index) {
			continue
		}

		alloc.markUsed(index)
		alloc.nextFreeHint = (index + 1) % alloc.totalFrames
		return alloc.startFrame + mm.Frame(index), nil
	}

	return mm.InvalidFrame, ErrOutOfMemory
}

// FreeFrame releases a frame previously reserved via AllocFrame. Frames
// outside the managed region, frames below the reservation boundary and
// frames that are already free do not change the allocator state; depending on the active FreePolicy they are either
// ignored or reported back to the caller.
func (alloc *BitmapAllocator) FreeFrame(frame mm.Frame) *kernel.Error {
	alloc.mutex.Acquire()
	defer alloc.mutex.Release()

	if !alloc.contains(frame) {
		return alloc.policyError(ErrFrameOutOfRange)
	}

	index := uint64(frame - alloc.startFrame)
	if index < alloc.reservedFrames {
		return alloc.policyError(ErrReservedFrame)
	}

	if alloc.isFree(index) {
		return alloc.policyError(ErrDoubleFree)
	}

	alloc.markFree(index)
	return nil
}

// Stats returns the number of free frames and the total number of frames
// managed by the allocator.
func (alloc *BitmapAllocator) Stats() (free, total uint64) {
	alloc.mutex.Acquire()
	free, total = alloc.freeFrames, alloc.totalFrames
	alloc.mutex.Release()
	return free, total
}

// BaseFrame returns the first frame of the managed region.
func (alloc *BitmapAllocator) BaseFrame() mm.Frame {
	return alloc.startFrame
}

// Contains returns true if frame belongs to the managed region.
func (alloc *BitmapAllocator) Contains(frame mm.Frame) bool {
	return alloc.contains(frame)
}

// printStats logs the allocator's frame counts.
func (alloc *BitmapAllocator) printStats() {
	free, total := alloc.Stats()
	kfmt.Printf("[pmm] managing frames 0x%x - 0x%x\n", uint64(alloc.startFrame), uint64(alloc.startFrame)+total)
	kfmt.Printf("[pmm] %d frames total, %d frames free (%dKb)\n", total, free, free*uint64(mm.PageSize/1024))
}

func (alloc *BitmapAllocator) contains(frame mm.Frame) bool {
	return frame >= alloc.startFrame && uint64(frame-alloc.startFrame) < alloc.totalFrames
}

func (alloc *BitmapAllocator) policyError(err *kernel.Error) *kernel.Error {
	if alloc.freePolicy == FreeStrict {
		return err
	}
	return nil
}

func (alloc *BitmapAllocator) isFree(index uint64) bool {
	return alloc.bitmap[index>>3]&(1<<(index&7)) == 0
}

func (alloc *BitmapAllocator) markUsed(index uint64) {
	if alloc.isFree(index) {
		alloc.bitmap[index>>3] |= 1 << (index & 7)
		alloc.freeFrames--
	}
}

func (alloc *BitmapAllocator) markFree(index uint64) {
	if !alloc.isFree(index) {
		alloc.bitmap[index>>3] &^= 1 << (index & 7)
		alloc.freeFrames++
	}
}
