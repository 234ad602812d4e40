// Package uart implements a driver for the ARM PL011 UART which serves as
// the kernel console.
package uart

import (
	"armos/kernel/sync"
	"sync/atomic"
	"unsafe"

	"github.com/usbarmory/tamago/bits"
)

// PL011 register indices (32-bit words from the base address).
const (
	regDR   = 0x00
	regFR   = 0x06
	regIBRD = 0x09
	regFBRD = 0x0a
	regLCRH = 0x0b
	regCR   = 0x0c

	regCount = regCR + 1
)

// Register bits.
const (
	frRXFE = 4
	frTXFF = 5

	lcrhFEN  = 4
	lcrhWLEN = 5

	crUARTEN = 0
	crTXE    = 8
	crRXE    = 9
)

const (
	// baudDivisor yields 38400 baud with the 24MHz reference clock used
	// by QEMU.
	baudDivisor = 39

	wordLen8 = 0b11
)

var (
	// mmioReadFn and mmioWriteFn are used by tests to observe register
	// accesses. The atomic operations keep the compiler from eliding or
	// merging device accesses.
	mmioReadFn  = atomic.LoadUint32
	mmioWriteFn = atomic.StoreUint32
)

// PL011 is a polled PL011 UART. It implements io.Writer so it can be used as
// the kfmt output sink.
type PL011 struct {
	mutex sync.Spinlock
	regs  []uint32
}

// Init overlays the driver on the register block at baseAddr and programs
// the UART for 8N1 operation with FIFOs enabled.
func (u *PL011) Init(baseAddr uintptr) {
	u.regs = unsafe.Slice((*uint32)(unsafe.Pointer(baseAddr)), regCount)

	mmioWriteFn(&u.regs[regCR], 0)
	mmioWriteFn(&u.regs[regIBRD], baudDivisor)
	mmioWriteFn(&u.regs[regFBRD], 0)

	var lcrh uint32
	bits.SetN(&lcrh, lcrhWLEN, wordLen8, wordLen8)
	bits.Set(&lcrh, lcrhFEN)
	mmioWriteFn(&u.regs[regLCRH], lcrh)

	var cr uint32
	bits.Set(&cr, crUARTEN)
	bits.Set(&cr, crTXE)
	bits.Set(&cr, crRXE)
	mmioWriteFn(&u.regs[regCR], cr)
}

// Write transmits p, translating each '\n' to "\r\n". It blocks while the
// transmit FIFO is full.
func (u *PL011) Write(p []byte) (int, error) {
	u.mutex.Acquire()
	for _, ch := range p {
		if ch == '\n' {
			u.putByte('\r')
		}
		u.putByte(ch)
	}
	u.mutex.Release()

	return len(p), nil
}

// ReadByte returns the next received byte and true or false if the receive
// FIFO is empty.
func (u *PL011) ReadByte() (byte, bool) {
	fr := mmioReadFn(&u.regs[regFR])
	if bits.IsSet(&fr, frRXFE) {
		return 0, false
	}

	return byte(mmioReadFn(&u.regs[regDR])), true
}

func (u *PL011) putByte(ch byte) {
	for {
		fr := mmioReadFn(&u.regs[regFR])
		if !bits.IsSet(&fr, frTXFF) {
			break
		}
	}

	mmioWriteFn(&u.regs[regDR], uint32(ch))
}
