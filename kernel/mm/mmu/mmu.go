// Package mmu configures the arm64 memory management unit and exposes the
// kernel's virtual memory manager to the rest of the kernel.
package mmu

import (
	"armos/kernel"
	"armos/kernel/cpu"
	"armos/kernel/kfmt"
	"armos/kernel/mm"
	"armos/kernel/mm/pmm"
	"armos/kernel/mm/vmm"
	"sync/atomic"
)

const (
	// identityMapFlags describe kernel RAM: normal, inner shareable and
	// writable memory.
	identityMapFlags = vmm.FlagNormalMemory | vmm.FlagInnerShareable | vmm.FlagReadWrite

	// deviceMapFlags describe MMIO windows.
	deviceMapFlags = vmm.FlagDeviceMemory | vmm.FlagNonShareable | vmm.FlagReadWrite
)

var (
	// activeVMM holds the kernel address space once Init completes. It is
	// written exactly once.
	activeVMM atomic.Pointer[vmm.VirtualMemoryManager]

	// The following functions are used by tests to mock calls to the cpu
	// package and the frame allocator which would otherwise fault (or halt)
	// when invoked outside of EL1.
	newVMMFn             = vmm.NewVirtualMemoryManager
	writeMAIRFn          = cpu.WriteMAIR
	writeTCRFn           = cpu.WriteTCR
	writeTTBR0Fn         = cpu.WriteTTBR0
	writeTTBR1Fn         = cpu.WriteTTBR1
	readSCTLRFn          = cpu.ReadSCTLR
	writeSCTLRFn         = cpu.WriteSCTLR
	instructionBarrierFn = cpu.InstructionBarrier
	flushTLBFn           = cpu.FlushTLB
	flushTLBEntryFn      = cpu.FlushTLBEntry
	freeAddressFn        = pmm.FreeAddress

	// ErrNotInitialized is returned by the address space operations when
	// they are invoked before Init.
	ErrNotInitialized = &kernel.Error{Module: "mmu", Message: "not initialized"}

	// ErrAlreadyInitialized is returned by Init if the MMU has already been
	// configured.
	ErrAlreadyInitialized = &kernel.Error{Module: "mmu", Message: "already initialized"}
)

// Config describes the initial kernel address space.
type Config struct {
	// IdentityMap lists the RAM regions that are identity mapped as
	// normal memory. It must include the kernel image and the frames
	// handed out by the frame allocator.
	IdentityMap []mm.Region

	// DeviceMap lists the MMIO regions that are identity mapped as device
	// memory.
	DeviceMap []mm.Region

	// EnableTranslation sets SCTLR_EL1.M once the tables are installed.
	// When false, Init programs MAIR, TCR and the TTBRs but leaves the MMU
	// and caches off. The entries written by the vmm package use the
	// kernel's logical descriptor layout (no access flag, level 3 leaves
	// without the page bit) which the hardware walker rejects, so this must
	// stay off until a hardware descriptor encoding exists.
	EnableTranslation bool
}

// DefaultConfig returns the address space layout for the QEMU virt machine:
// the first 256Mb of RAM and the PL011 UART.
func DefaultConfig() Config {
	return Config{
		IdentityMap: []mm.Region{
			{Start: 0x40000000, Size: uint64(256 * mm.Mb)},
		},
		DeviceMap: []mm.Region{
			{Start: 0x09000000, Size: uint64(mm.PageSize)},
		},
	}
}

// Init builds the kernel address space described by cfg, programs the
// translation registers and, if cfg.EnableTranslation is set, enables the
// MMU. Init must be called once,
// after the frame allocator is set up. Any error returned by Init is fatal.
func Init(cfg Config) *kernel.Error {
	if activeVMM.Load() != nil {
		return ErrAlreadyInitialized
	}

	addrSpace, err := newVMMFn()
	if err != nil {
		return err
	}

	if err = identityMap(addrSpace, cfg.IdentityMap, identityMapFlags); err != nil {
		return err
	}

	if err = identityMap(addrSpace, cfg.DeviceMap, deviceMapFlags); err != nil {
		return err
	}

	if !activeVMM.CompareAndSwap(nil, addrSpace) {
		return ErrAlreadyInitialized
	}

	rootTable := addrSpace.RootTableAddress()
	installTables(rootTable)
	if !cfg.EnableTranslation {
		kfmt.Printf("[mmu] tables installed, translation disabled; root table at 0x%16x\n", rootTable)
		return nil
	}

	enable()
	kfmt.Printf("[mmu] translation enabled; root table at 0x%16x\n", rootTable)
	return nil
}

// installTables programs the memory attributes and translation control
// registers and installs rootTable for both halves of the address space.
func installTables(rootTable uintptr) {
	writeMAIRFn(mairValue())
	writeTCRFn(tcrValue())
	writeTTBR0Fn(rootTable)
	writeTTBR1Fn(rootTable)
	instructionBarrierFn()
}

// enable turns on the MMU and caches.
func enable() {
	writeSCTLRFn(sctlrValue(readSCTLRFn()))
	instructionBarrierFn()
}

func identityMap(addrSpace *vmm.VirtualMemoryManager, regions []mm.Region, flags vmm.PageTableEntryFlag) *kernel.Error {
	for _, region := range regions {
		if _, err := addrSpace.IdentityMapRegion(region.StartFrame(), mm.Size(region.Size), flags); err != nil {
			return err
		}

		kfmt.Printf("[mmu] identity mapped 0x%16x - 0x%16x\n", region.Start, region.End())
	}

	return nil
}

// Map establishes a mapping between virtAddr and physAddr in the kernel
// address space. The caller must flush the TLB entry for virtAddr if it
// was previously mapped.
func Map(virtAddr, physAddr uintptr, flags vmm.PageTableEntryFlag) *kernel.Error {
	addrSpace := activeVMM.Load()
	if addrSpace == nil {
		return ErrNotInitialized
	}

	return addrSpace.Map(virtAddr, physAddr, flags)
}

// Unmap removes the mapping for virtAddr from the kernel address space and
// returns the physical address it pointed to. Unmap does not flush the TLB
// nor release the frame; see UnmapAndRelease.
func Unmap(virtAddr uintptr) (uintptr, *kernel.Error) {
	addrSpace := activeVMM.Load()
	if addrSpace == nil {
		return 0, ErrNotInitialized
	}

	return addrSpace.Unmap(virtAddr)
}

// Translate returns the physical address that corresponds to virtAddr in the
// kernel address space.
func Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	addrSpace := activeVMM.Load()
	if addrSpace == nil {
		return 0, ErrNotInitialized
	}

	return addrSpace.Translate(virtAddr)
}

// UnmapAndRelease removes the mapping for virtAddr, invalidates its TLB entry
// and returns the backing frame to the frame allocator.
func UnmapAndRelease(virtAddr uintptr) *kernel.Error {
	physAddr, err := Unmap(virtAddr)
	if err != nil {
		return err
	}

	flushTLBEntryFn(virtAddr)
	return freeAddressFn(physAddr)
}

// Remap points virtAddr to physAddr, replacing any existing mapping. The
// stale TLB entry of a replaced mapping is flushed. The previously mapped
// frame is not released.
func Remap(virtAddr, physAddr uintptr, flags vmm.PageTableEntryFlag) *kernel.Error {
	switch _, err := Unmap(virtAddr); err {
	case nil:
		flushTLBEntryFn(virtAddr)
	case vmm.ErrNotMapped:
	default:
		return err
	}

	return Map(virtAddr, physAddr, flags)
}

// FlushTLB invalidates all cached translations.
func FlushTLB() {
	flushTLBFn()
}

// FlushTLBPage invalidates the cached translations for the page containing
// virtAddr.
func FlushTLBPage(virtAddr uintptr) {
	flushTLBEntryFn(virtAddr)
}
