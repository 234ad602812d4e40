package pmm

import (
	"armos/kernel"
	"armos/kernel/mm"
	gosync "sync"
	"testing"
)

// testRegion returns a region of frameCount frames that starts at the
// typical QEMU virt RAM base.
func testRegion(frameCount uint64) mm.Region {
	return mm.Region{Start: 0x40000000, Size: frameCount << mm.PageShift}
}

func newTestAllocator(t *testing.T, frameCount, reservedFrames uint64) *BitmapAllocator {
	region := testRegion(frameCount)
	alloc, err := NewBitmapAllocator(
		[]mm.Region{region},
		make([]byte, (frameCount+7)/8),
		uintptr(region.Start+(reservedFrames<<mm.PageShift)),
	)
	if err != nil {
		t.Fatal(err)
	}
	return alloc
}

func TestNewBitmapAllocator(t *testing.T) {
	t.Run("no regions", func(t *testing.T) {
		if _, err := NewBitmapAllocator(nil, make([]byte, 32), 0); err != ErrNoRegions {
			t.Fatalf("expected to get ErrNoRegions; got %v", err)
		}
	})

	t.Run("bitmap too small", func(t *testing.T) {
		// 257 frames require 33 bytes of bitmap storage
		if _, err := NewBitmapAllocator([]mm.Region{testRegion(257)}, make([]byte, 32), 0); err != ErrBitmapTooSmall {
			t.Fatalf("expected to get ErrBitmapTooSmall; got %v", err)
		}
	})

	t.Run("largest region wins", func(t *testing.T) {
		regions := []mm.Region{
			{Start: 0x1000000, Size: 16 << mm.PageShift},
			{Start: 0x80000000, Size: 64 << mm.PageShift},
			{Start: 0x90000000, Size: 64 << mm.PageShift},
			{Start: 0x2000000, Size: 32 << mm.PageShift},
		}

		alloc, err := NewBitmapAllocator(regions, make([]byte, 8), 0)
		if err != nil {
			t.Fatal(err)
		}

		if exp, got := mm.Frame(0x80000), alloc.BaseFrame(); got != exp {
			t.Errorf("expected base frame to be 0x%x; got 0x%x", exp, got)
		}

		free, total := alloc.Stats()
		if exp := uint64(64); free != exp || total != exp {
			t.Errorf("expected stats to be (%d, %d); got (%d, %d)", exp, exp, free, total)
		}
	})

	t.Run("reservation boundary", func(t *testing.T) {
		specs := []struct {
			reservedEnd uintptr
			expFree     uint64
		}{
			// boundary below the region start
			{0x1000, 256},
			// boundary at region start
			{0x40000000, 256},
			// boundary rounds down to the containing frame
			{0x40010800, 240},
			// boundary past the region end
			{0x50000000, 0},
		}

		for specIndex, spec := range specs {
			alloc, err := NewBitmapAllocator([]mm.Region{testRegion(256)}, make([]byte, 32), spec.reservedEnd)
			if err != nil {
				t.Fatal(err)
			}

			free, total := alloc.Stats()
			if free != spec.expFree || total != 256 {
				t.Errorf("[spec %d] expected stats to be (%d, 256); got (%d, %d)", specIndex, spec.expFree, free, total)
			}

			if exp := countClearBits(alloc.bitmap); free != exp {
				t.Errorf("[spec %d] free counter %d does not match bitmap (%d clear bits)", specIndex, free, exp)
			}
		}
	})

	t.Run("bitmap larger than needed", func(t *testing.T) {
		alloc, err := NewBitmapAllocator([]mm.Region{testRegion(20)}, make([]byte, 64), 0)
		if err != nil {
			t.Fatal(err)
		}

		if exp, got := 3, len(alloc.bitmap); got != exp {
			t.Fatalf("expected allocator to use %d bitmap bytes; got %d", exp, got)
		}

		// The padding bits of the last byte must remain reserved
		if exp := uint64(20); countClearBits(alloc.bitmap) != exp {
			t.Fatalf("expected %d clear bits; got %d", exp, countClearBits(alloc.bitmap))
		}
	})
}

func TestAllocFrameFirstFit(t *testing.T) {
	alloc := newTestAllocator(t, 256, 16)
	base := alloc.BaseFrame()

	for expIndex := uint64(16); expIndex < 256; expIndex++ {
		frame, err := alloc.AllocFrame()
		if err != nil {
			t.Fatalf("[alloc %d] unexpected error: %v", expIndex, err)
		}

		if exp := base + mm.Frame(expIndex); frame != exp {
			t.Fatalf("[alloc %d] expected frame 0x%x; got 0x%x", expIndex, exp, frame)
		}
	}

	if frame, err := alloc.AllocFrame(); err != ErrOutOfMemory || frame.Valid() {
		t.Fatalf("expected (InvalidFrame, ErrOutOfMemory); got (0x%x, %v)", frame, err)
	}

	// After exhaustion the hint wrapped to index 0; freeing a frame makes
	// it the next candidate regardless of its position.
	if err := alloc.FreeFrame(base + 100); err != nil {
		t.Fatal(err)
	}

	if frame, err := alloc.AllocFrame(); err != nil || frame != base+100 {
		t.Fatalf("expected to re-allocate frame 0x%x; got (0x%x, %v)", base+100, frame, err)
	}
}

func TestAllocFrameRotatingHint(t *testing.T) {
	alloc := newTestAllocator(t, 32, 0)
	base := alloc.BaseFrame()

	first, _ := alloc.AllocFrame()
	second, _ := alloc.AllocFrame()
	if first != base || second != base+1 {
		t.Fatalf("expected first allocations to return frames 0x%x, 0x%x; got 0x%x, 0x%x", base, base+1, first, second)
	}

	// Freeing the first frame must not rewind the hint
	if err := alloc.FreeFrame(first); err != nil {
		t.Fatal(err)
	}

	if frame, _ := alloc.AllocFrame(); frame != base+2 {
		t.Fatalf("expected allocation to continue at frame 0x%x; got 0x%x", base+2, frame)
	}

	// Exhaust the frames after the hint; the scan wraps around and finds
	// the frame that was freed earlier.
	for i := 3; i < 32; i++ {
		if _, err := alloc.AllocFrame(); err != nil {
			t.Fatal(err)
		}
	}

	if frame, err := alloc.AllocFrame(); err != nil || frame != first {
		t.Fatalf("expected wrapped allocation to return frame 0x%x; got (0x%x, %v)", first, frame, err)
	}
}

func TestAllocFreeBalance(t *testing.T) {
	specs := []struct {
		allocCount int
		freeOrder  func(frames []mm.Frame) []mm.Frame
	}{
		{
			10,
			func(frames []mm.Frame) []mm.Frame { return frames },
		},
		{
			64,
			func(frames []mm.Frame) []mm.Frame {
				out := make([]mm.Frame, 0, len(frames))
				for i := len(frames) - 1; i >= 0; i-- {
					out = append(out, frames[i])
				}
				return out
			},
		},
		{
			100,
			func(frames []mm.Frame) []mm.Frame {
				// even indices first, then odd ones
				out := make([]mm.Frame, 0, len(frames))
				for i := 0; i < len(frames); i += 2 {
					out = append(out, frames[i])
				}
				for i := 1; i < len(frames); i += 2 {
					out = append(out, frames[i])
				}
				return out
			},
		},
	}

	for specIndex, spec := range specs {
		alloc := newTestAllocator(t, 256, 16)
		freeBefore, totalBefore := alloc.Stats()

		frames := make([]mm.Frame, 0, spec.allocCount)
		for i := 0; i < spec.allocCount; i++ {
			frame, err := alloc.AllocFrame()
			if err != nil {
				t.Fatalf("[spec %d] unexpected error: %v", specIndex, err)
			}

			if !alloc.Contains(frame) {
				t.Fatalf("[spec %d] allocated frame 0x%x outside of managed region", specIndex, frame)
			}
			frames = append(frames, frame)
		}

		if free, _ := alloc.Stats(); free != freeBefore-uint64(spec.allocCount) {
			t.Errorf("[spec %d] expected %d free frames after allocation; got %d", specIndex, freeBefore-uint64(spec.allocCount), free)
		}

		for _, frame := range spec.freeOrder(frames) {
			if err := alloc.FreeFrame(frame); err != nil {
				t.Fatalf("[spec %d] unexpected error: %v", specIndex, err)
			}
		}

		free, total := alloc.Stats()
		if free != freeBefore || total != totalBefore {
			t.Errorf("[spec %d] expected stats (%d, %d); got (%d, %d)", specIndex, freeBefore, totalBefore, free, total)
		}

		if exp := countClearBits(alloc.bitmap); free != exp {
			t.Errorf("[spec %d] free counter %d does not match bitmap (%d clear bits)", specIndex, free, exp)
		}
	}
}

func TestFreeFramePolicies(t *testing.T) {
	alloc := newTestAllocator(t, 256, 16)
	base := alloc.BaseFrame()

	allocated, err := alloc.AllocFrame()
	if err != nil {
		t.Fatal(err)
	}

	specs := []struct {
		descr     string
		frame     mm.Frame
		expStrict *kernel.Error
	}{
		{"below region", base - 1, ErrFrameOutOfRange},
		{"past region end", base + 256, ErrFrameOutOfRange},
		{"invalid frame", mm.InvalidFrame, ErrFrameOutOfRange},
		{"never allocated", base + 200, ErrDoubleFree},
		{"first reserved frame", base, ErrReservedFrame},
		{"last reserved frame", base + 15, ErrReservedFrame},
	}

	for _, policy := range []FreePolicy{FreeBestEffort, FreeStrict} {
		alloc.SetFreePolicy(policy)

		for specIndex, spec := range specs {
			freeBefore, _ := alloc.Stats()
			err := alloc.FreeFrame(spec.frame)

			var expErr *kernel.Error
			if policy == FreeStrict {
				expErr = spec.expStrict
			}

			if err != expErr {
				t.Errorf("[policy %d, spec %d: %s] expected error %v; got %v", policy, specIndex, spec.descr, expErr, err)
			}

			if free, _ := alloc.Stats(); free != freeBefore {
				t.Errorf("[policy %d, spec %d: %s] expected free frames to remain %d; got %d", policy, specIndex, spec.descr, freeBefore, free)
			}
		}
	}

	// Double free of a previously allocated frame
	alloc.SetFreePolicy(FreeStrict)
	if err := alloc.FreeFrame(allocated); err != nil {
		t.Fatal(err)
	}
	freeBefore, _ := alloc.Stats()
	if err := alloc.FreeFrame(allocated); err != ErrDoubleFree {
		t.Fatalf("expected ErrDoubleFree; got %v", err)
	}
	if free, _ := alloc.Stats(); free != freeBefore {
		t.Fatalf("expected double free to leave free count at %d; got %d", freeBefore, free)
	}
}

func TestReservedFramesNeverReturned(t *testing.T) {
	alloc := newTestAllocator(t, 32, 16)
	base := alloc.BaseFrame()

	for frame := base; frame < base+16; frame++ {
		if err := alloc.FreeFrame(frame); err != nil {
			t.Fatalf("expected best-effort free of reserved frame 0x%x to be ignored; got %v", frame, err)
		}
	}

	if free, _ := alloc.Stats(); free != 16 {
		t.Fatalf("expected free frames to remain 16; got %d", free)
	}

	for i := 0; i < 16; i++ {
		frame, err := alloc.AllocFrame()
		if err != nil {
			t.Fatal(err)
		}
		if frame < base+16 {
			t.Fatalf("expected allocation %d to skip the reserved frames; got 0x%x", i, frame)
		}
	}

	if _, err := alloc.AllocFrame(); err != ErrOutOfMemory {
		t.Fatalf("expected ErrOutOfMemory once the usable frames are exhausted; got %v", err)
	}
}

func TestBitmapAllocatorConcurrentUse(t *testing.T) {
	var (
		alloc      = newTestAllocator(t, 1024, 0)
		wg         gosync.WaitGroup
		numWorkers = 8
		perWorker  = 64
	)

	wg.Add(numWorkers)
	for worker := 0; worker < numWorkers; worker++ {
		go func() {
			defer wg.Done()
			frames := make([]mm.Frame, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				frame, err := alloc.AllocFrame()
				if err != nil {
					t.Error(err)
					return
				}
				frames = append(frames, frame)
			}

			for _, frame := range frames {
				if err := alloc.FreeFrame(frame); err != nil {
					t.Error(err)
				}
			}
		}()
	}
	wg.Wait()

	if free, total := alloc.Stats(); free != total || free != 1024 {
		t.Fatalf("expected all 1024 frames to be free; got (%d, %d)", free, total)
	}

	if exp := countClearBits(alloc.bitmap); exp != 1024 {
		t.Fatalf("expected bitmap to have 1024 clear bits; got %d", exp)
	}
}

func countClearBits(bitmap []byte) uint64 {
	var count uint64
	for _, b := range bitmap {
		for bit := uint(0); bit < 8; bit++ {
			if b&(1<<bit) == 0 {
				count++
			}
		}
	}
	return count
}
