//go:build !arm64

package cpu

// This file provides the primitives for non-arm64 builds so that the memory
// subsystem can be compiled and tested on a development host. System register
// writes are recorded in a shadow register file and barrier/TLB operations only
// bump counters.

var shadow struct {
	sctlr, mair, tcr uint64
	ttbr0, ttbr1     uintptr
	tlbFlushes       int

	// lastTLBIOperand is the operand FlushTLBEntry would pass to TLBI.
	lastTLBIOperand uint64
}

// Halt stops instruction execution.
func Halt() {
	select {}
}

// ReadSCTLR returns the value of the SCTLR_EL1 system control register.
func ReadSCTLR() uint64 { return shadow.sctlr }

// WriteSCTLR stores val to the SCTLR_EL1 system control register.
func WriteSCTLR(val uint64) { shadow.sctlr = val }

// WriteMAIR stores val to the MAIR_EL1 memory attribute indirection register.
func WriteMAIR(val uint64) { shadow.mair = val }

// WriteTCR stores val to the TCR_EL1 translation control register.
func WriteTCR(val uint64) { shadow.tcr = val }

// WriteTTBR0 installs the physical address of a root page table to the
// TTBR0_EL1 register (lower half of the address space).
func WriteTTBR0(tablePhysAddr uintptr) { shadow.ttbr0 = tablePhysAddr }

// WriteTTBR1 installs the physical address of a root page table to the
// TTBR1_EL1 register (upper half of the address space).
func WriteTTBR1(tablePhysAddr uintptr) { shadow.ttbr1 = tablePhysAddr }

// InstructionBarrier issues an ISB instruction.
func InstructionBarrier() {}

// DataBarrier issues a DSB ISH instruction.
func DataBarrier() {}

// FlushTLB invalidates all stage 1 EL1 TLB entries.
func FlushTLB() { shadow.tlbFlushes++ }

// FlushTLBEntry invalidates the TLB entries for the page containing virtAddr.
func FlushTLBEntry(virtAddr uintptr) {
	shadow.tlbFlushes++
	shadow.lastTLBIOperand = tlbiVAOperand(virtAddr)
}
