package mmu

import "github.com/usbarmory/tamago/bits"

// MAIR_EL1 attribute encodings.
const (
	mairDeviceNGnRnE = 0x00
	mairNormalNC     = 0x44
	mairNormalWB     = 0xff

	mairSlotDevice   = 0
	mairSlotNormalNC = 1
	mairSlotNormalWB = 2
)

// TCR_EL1 fields.
const (
	tcrT0SZ = 0
	tcrTG0  = 14
	tcrT1SZ = 16
	tcrTG1  = 30
	tcrIPS  = 32

	// regionSizeOffset selects a 48-bit region (64 - 16) for both halves.
	regionSizeOffset = 16

	tg0Granule4K = 0b00
	tg1Granule4K = 0b10

	// ips44Bits selects a 44-bit (16TB) intermediate physical address size.
	ips44Bits = 0b010
)

// SCTLR_EL1 bits.
const (
	sctlrM = 0  // MMU enable
	sctlrA = 1  // alignment check
	sctlrC = 2  // data cache enable
	sctlrI = 12 // instruction cache enable
)

// mairValue returns the memory attribute layout used by the kernel.
func mairValue() uint64 {
	var mair uint64
	bits.SetN64(&mair, mairSlotDevice*8, 0xff, mairDeviceNGnRnE)
	bits.SetN64(&mair, mairSlotNormalNC*8, 0xff, mairNormalNC)
	bits.SetN64(&mair, mairSlotNormalWB*8, 0xff, mairNormalWB)
	return mair
}

// tcrValue returns a translation control value describing two 48-bit
// halves with a 4K granule each.
func tcrValue() uint64 {
	var tcr uint64
	bits.SetN64(&tcr, tcrT0SZ, 0x3f, regionSizeOffset)
	bits.SetN64(&tcr, tcrTG0, 0b11, tg0Granule4K)
	bits.SetN64(&tcr, tcrT1SZ, 0x3f, regionSizeOffset)
	bits.SetN64(&tcr, tcrTG1, 0b11, tg1Granule4K)
	bits.SetN64(&tcr, tcrIPS, 0b111, ips44Bits)
	return tcr
}

// sctlrValue returns sctlr with translation and caches enabled and alignment
// checking disabled. All other bits are preserved.
func sctlrValue(sctlr uint64) uint64 {
	bits.Set64(&sctlr, sctlrM)
	bits.Set64(&sctlr, sctlrC)
	bits.Set64(&sctlr, sctlrI)
	bits.Clear64(&sctlr, sctlrA)
	return sctlr
}
