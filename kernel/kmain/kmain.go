package kmain

import (
	"armos/kernel"
	"armos/kernel/driver/uart"
	"armos/kernel/hal/fdt"
	"armos/kernel/kfmt"
	"armos/kernel/mm"
	"armos/kernel/mm/mmu"
	"armos/kernel/mm/pmm"
)

// uartBase is the physical address of the PL011 UART of the QEMU virt
// machine. mmu.DefaultConfig identity maps it so the console keeps working
// once translation is enabled.
const uartBase = uintptr(0x09000000)

var (
	console uart.PL011

	// fallbackRegion is used when the device tree cannot be parsed. It
	// matches the RAM window of the QEMU virt machine.
	fallbackRegion = mm.Region{Start: 0x40000000, Size: uint64(256 * mm.Mb)}

	// The following functions are used by tests to mock calls that would
	// otherwise touch physical memory or halt the CPU.
	setupConsoleFn = setupConsole
	mmuInitFn      = mmu.Init
	panicFn        = kfmt.Panic

	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}
)

// Kmain is the only Go symbol that is visible (exported) from the boot
// assembly code. It is invoked after the stack has been set up and the CPU
// has been dropped to EL1.
//
// The boot code passes the physical address of the device tree blob provided
// by the boot loader as well as the physical addresses for the kernel
// start/end.
//
// Kmain is not expected to return. If it does, the boot code will halt the
// CPU.
//
//go:noinline
func Kmain(fdtPtr, kernelStart, kernelEnd uintptr) {
	setupConsoleFn()
	fdt.SetInfoPtr(fdtPtr)
	kfmt.Printf("[kmain] kernel image at 0x%16x - 0x%16x\n", kernelStart, kernelEnd)

	var regionBuf [fdt.MaxMemRegions]mm.Region
	regions := memRegions(regionBuf[:0])

	reservedEnd := kernelEnd
	if reservedEnd == 0 {
		reservedEnd = pmm.DefaultReservedEnd
	}

	// Translation stays off: the tables are built and installed but the
	// descriptors are not in the hardware format yet.
	cfg := mmu.DefaultConfig()
	cfg.IdentityMap = regions
	cfg.EnableTranslation = false

	var err *kernel.Error
	if err = pmm.Init(regions, reservedEnd); err != nil {
		panicFn(err)
	} else if err = mmuInitFn(cfg); err != nil {
		panicFn(err)
	} else if err = selfTest(); err != nil {
		panicFn(err)
	} else {
		// Use panicFn instead of panic to prevent the compiler from
		// treating kfmt.Panic as dead-code and eliminating it.
		panicFn(errKmainReturned)
	}
}

// setupConsole initializes the UART and routes kfmt output (including
// anything buffered so far) to it.
func setupConsole() {
	console.Init(uartBase)
	kfmt.SetOutputSink(&console)
}

// memRegions appends the RAM regions reported by the device tree to buf.
// Regions are clipped to the amount of memory that the frame allocator can
// manage. If the device tree is unusable, the fallback region is returned.
func memRegions(buf []mm.Region) []mm.Region {
	err := fdt.VisitMemRegions(func(region *mm.Region) bool {
		kfmt.Printf("[kmain] memory region 0x%16x - 0x%16x (%dMb)\n", region.Start, region.End(), region.Size/uint64(mm.Mb))

		if region.Size > uint64(pmm.MaxManagedMemory) {
			region.Size = uint64(pmm.MaxManagedMemory)
			kfmt.Printf("[kmain] clipping region to %dMb\n", region.Size/uint64(mm.Mb))
		}

		buf = append(buf, *region)
		return true
	})

	switch {
	case err != nil:
		kfmt.Printf("[kmain] device tree unusable (%s); using fallback memory layout\n", err.Message)
	case len(buf) == 0:
		kfmt.Printf("[kmain] no memory regions found; using fallback memory layout\n")
	default:
		return buf
	}

	return append(buf[:0], fallbackRegion)
}
