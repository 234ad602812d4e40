package cpu

import "testing"

func TestTLBIVAOperand(t *testing.T) {
	specs := []struct {
		virtAddr uintptr
		exp      uint64
	}{
		{0x1000, 0x1},
		{0x40010123, 0x40010},
		{0x0000ffffffffffff, 0xfffffffff},
		// upper half addresses must not leak into the ASID field
		{0xffff000000200000, 0xff000000200},
		{0xffffffffffe00000, 0xffffffffe00},
	}

	for specIndex, spec := range specs {
		got := tlbiVAOperand(spec.virtAddr)
		if got != spec.exp {
			t.Errorf("[spec %d] expected operand for 0x%x to be 0x%x; got 0x%x", specIndex, spec.virtAddr, spec.exp, got)
		}

		if asid := got >> 48; asid != 0 {
			t.Errorf("[spec %d] expected ASID field to be clear; got 0x%x", specIndex, asid)
		}
	}
}
