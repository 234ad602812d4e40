package cpu

// tlbiVAMask selects VA[55:12] once the address has been shifted down by
// the page size. Bits 63:48 of the operand hold the ASID and must stay clear.
const tlbiVAMask = 1<<44 - 1

// tlbiVAOperand returns the TLBI VAE1IS operand that evicts the page
// containing virtAddr.
func tlbiVAOperand(virtAddr uintptr) uint64 {
	return uint64(virtAddr>>12) & tlbiVAMask
}
