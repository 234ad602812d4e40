package kfmt

import "io"

// ringBufferSize is large enough to hold the boot log of the memory
// subsystem (device tree regions, allocator stats and the self test report).
// It must be a power of 2.
const ringBufferSize = 4096

// ringBuffer captures Printf output until the console registers itself as the
// output sink. When full, the oldest bytes are overwritten.
type ringBuffer struct {
	buffer         [ringBufferSize]byte
	rIndex, wIndex int
}

// Write appends p to the buffer, dropping the oldest data if p does not fit.
func (rb *ringBuffer) Write(p []byte) (int, error) {
	for _, b := range p {
		rb.buffer[rb.wIndex] = b
		rb.wIndex = (rb.wIndex + 1) & (ringBufferSize - 1)
		if rb.rIndex == rb.wIndex {
			rb.rIndex = (rb.rIndex + 1) & (ringBufferSize - 1)
		}
	}

	return len(p), nil
}

// Read copies buffered data into p. Each call returns at most the contiguous
// run of bytes that ends either at the write index or at the end of the
// backing array; io.Copy and similar helpers loop until io.EOF.
func (rb *ringBuffer) Read(p []byte) (int, error) {
	if rb.rIndex == rb.wIndex {
		return 0, io.EOF
	}

	end := rb.wIndex
	if rb.rIndex > rb.wIndex {
		end = ringBufferSize
	}

	n := copy(p, rb.buffer[rb.rIndex:end])
	rb.rIndex = (rb.rIndex + n) & (ringBufferSize - 1)
	return n, nil
}
