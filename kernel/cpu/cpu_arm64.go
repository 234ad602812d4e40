// Package cpu exposes the arm64 system register, barrier and TLB maintenance
// primitives used by the kernel. Functions in this file without a body are
// implemented in assembly and must only be invoked while running at EL1.
package cpu

// Halt stops instruction execution.
func Halt()

// ReadSCTLR returns the value of the SCTLR_EL1 system control register.
func ReadSCTLR() uint64

// WriteSCTLR stores val to the SCTLR_EL1 system control register.
func WriteSCTLR(val uint64)

// WriteMAIR stores val to the MAIR_EL1 memory attribute indirection register.
func WriteMAIR(val uint64)

// WriteTCR stores val to the TCR_EL1 translation control register.
func WriteTCR(val uint64)

// WriteTTBR0 installs the physical address of a root page table to the
// TTBR0_EL1 register (lower half of the address space).
func WriteTTBR0(tablePhysAddr uintptr)

// WriteTTBR1 installs the physical address of a root page table to the
// TTBR1_EL1 register (upper half of the address space).
func WriteTTBR1(tablePhysAddr uintptr)

// InstructionBarrier issues an ISB instruction.
func InstructionBarrier()

// DataBarrier issues a DSB ISH instruction.
func DataBarrier()

// FlushTLB invalidates all stage 1 EL1 TLB entries in the inner shareable
// domain and waits for the invalidation to complete.
func FlushTLB()

// FlushTLBEntry invalidates the TLB entries for the page containing virtAddr
// and waits for the invalidation to complete.
func FlushTLBEntry(virtAddr uintptr) {
	flushTLBVA(tlbiVAOperand(virtAddr))
}

// flushTLBVA issues TLBI VAE1IS with the supplied operand.
func flushTLBVA(operand uint64)
