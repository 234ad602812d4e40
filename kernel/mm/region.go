package mm

// Region describes a contiguous block of physical memory as reported by the
// firmware (e.g. a device tree memory node).
type Region struct {
	// The physical address where the region begins.
	Start uint64

	// The region size in bytes.
	Size uint64
}

// End returns the first physical address past the end of the region.
func (r Region) End() uint64 {
	return r.Start + r.Size
}

// StartFrame returns the frame that contains the region start.
func (r Region) StartFrame() Frame {
	return FrameFromAddress(uintptr(r.Start))
}

// FrameCount returns the number of whole frames that the region spans.
func (r Region) FrameCount() uint64 {
	return r.Size >> PageShift
}
