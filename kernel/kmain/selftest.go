package kmain

import (
	"armos/kernel"
	"armos/kernel/kfmt"
	"armos/kernel/mm/mmu"
	"armos/kernel/mm/pmm"
	"armos/kernel/mm/vmm"
)

const (
	// selfTestFrames is the number of frames allocated by the frame
	// allocator test.
	selfTestFrames = 10

	// selfTestAddr is an upper half address that is not used by the
	// initial kernel address space.
	selfTestAddr = uintptr(0xffffffffffe00000)
)

var (
	// The following functions are used by tests to mock the mmu package.
	mmuMapFn             = mmu.Map
	mmuTranslateFn       = mmu.Translate
	mmuUnmapAndReleaseFn = mmu.UnmapAndRelease

	errFrameAccounting = &kernel.Error{Module: "selftest", Message: "frame accounting mismatch"}
	errTranslation     = &kernel.Error{Module: "selftest", Message: "unexpected translation result"}
)

// selfTest checks that the frame allocator keeps its counters consistent
// across an allocate/free cycle and that the kernel address space can map,
// translate and release a page.
func selfTest() *kernel.Error {
	w := kfmt.PrefixWriter{Sink: kfmt.GetOutputSink(), Prefix: []byte("[selftest] ")}

	if err := frameSelfTest(&w); err != nil {
		return err
	}

	if err := mappingSelfTest(&w); err != nil {
		return err
	}

	kfmt.Fprintf(&w, "memory subsystem ok\n")
	return nil
}

func frameSelfTest(w *kfmt.PrefixWriter) *kernel.Error {
	var (
		frames            [selfTestFrames]uintptr
		count             int
		freeBefore, total = pmm.Stats()
	)

	kfmt.Fprintf(w, "frames: %d free / %d total\n", freeBefore, total)

	for ; count < selfTestFrames; count++ {
		frame, err := pmm.AllocFrame()
		if err != nil {
			kfmt.Fprintf(w, "frames: allocation %d failed: %s\n", count, err.Message)
			break
		}
		frames[count] = frame.Address()
	}

	freeAfterAlloc, _ := pmm.Stats()
	kfmt.Fprintf(w, "frames: allocated %d; %d free\n", count, freeAfterAlloc)
	if freeBefore-freeAfterAlloc != uint64(count) {
		return errFrameAccounting
	}

	for _, addr := range frames[:count] {
		if err := pmm.FreeAddress(addr); err != nil {
			return err
		}
	}

	freeAfterFree, _ := pmm.Stats()
	kfmt.Fprintf(w, "frames: released %d; %d free\n", count, freeAfterFree)
	if freeAfterFree != freeBefore {
		return errFrameAccounting
	}

	return nil
}

func mappingSelfTest(w *kfmt.PrefixWriter) *kernel.Error {
	frame, err := pmm.AllocFrame()
	if err != nil {
		return err
	}

	if err = mmuMapFn(selfTestAddr, frame.Address(), vmm.FlagNormalMemory|vmm.FlagInnerShareable|vmm.FlagReadWrite); err != nil {
		_ = pmm.FreeFrame(frame)
		return err
	}

	physAddr, err := mmuTranslateFn(selfTestAddr + 0x123)
	if err != nil {
		return err
	}

	kfmt.Fprintf(w, "mapping: 0x%16x -> 0x%16x\n", selfTestAddr+0x123, physAddr)
	if physAddr != frame.Address()+0x123 {
		return errTranslation
	}

	if err = mmuUnmapAndReleaseFn(selfTestAddr); err != nil {
		return err
	}

	if _, err = mmuTranslateFn(selfTestAddr); err != vmm.ErrNotMapped {
		return errTranslation
	}

	return nil
}
