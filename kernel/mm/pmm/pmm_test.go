package pmm

import (
	"armos/kernel/kfmt"
	"armos/kernel/mm"
	"bytes"
	"strings"
	"testing"
)

func resetKernelAllocator() {
	initialized = false
	bitmapAllocator = BitmapAllocator{}
	mm.SetFrameAllocator(nil)
	kfmt.SetOutputSink(nil)
}

func TestPackageHelpersBeforeInit(t *testing.T) {
	resetKernelAllocator()

	if _, err := AllocFrame(); err != ErrNotInitialized {
		t.Errorf("expected AllocFrame to return ErrNotInitialized; got %v", err)
	}

	if err := FreeFrame(mm.Frame(0x40100)); err != ErrNotInitialized {
		t.Errorf("expected FreeFrame to return ErrNotInitialized; got %v", err)
	}

	if free, total := Stats(); free != 0 || total != 0 {
		t.Errorf("expected Stats to return (0, 0); got (%d, %d)", free, total)
	}
}

func TestInit(t *testing.T) {
	defer resetKernelAllocator()

	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)

	// 256Mb of RAM at the QEMU virt RAM base; the kernel image occupies
	// the first 16Mb.
	regions := []mm.Region{{Start: 0x40000000, Size: 0x10000000}}
	if err := Init(regions, DefaultReservedEnd); err != nil {
		t.Fatal(err)
	}

	free, total := Stats()
	if exp := uint64(65536); total != exp {
		t.Errorf("expected %d total frames; got %d", exp, total)
	}

	if exp := uint64(65536 - 4096); free != exp {
		t.Errorf("expected %d free frames; got %d", exp, free)
	}

	if !strings.Contains(buf.String(), "[pmm] 65536 frames total, 61440 frames free") {
		t.Errorf("expected allocator stats to be logged; got %q", buf.String())
	}

	// Init registers the allocator with the mm package
	frame, err := mm.AllocFrame()
	if err != nil {
		t.Fatal(err)
	}

	if exp := mm.FrameFromAddress(DefaultReservedEnd); frame != exp {
		t.Errorf("expected first frame to be 0x%x; got 0x%x", exp, frame)
	}

	if err = FreeAddress(frame.Address()); err != nil {
		t.Fatal(err)
	}

	if got, _ := Stats(); got != free {
		t.Errorf("expected free frames to be restored to %d; got %d", free, got)
	}

	frame, err = AllocFrame()
	if err != nil || !frame.Valid() {
		t.Fatalf("expected AllocFrame to succeed; got (0x%x, %v)", frame, err)
	}
	if err = FreeFrame(frame); err != nil {
		t.Fatal(err)
	}

	SetFreePolicy(FreeStrict)
	if err = FreeFrame(frame); err != ErrDoubleFree {
		t.Errorf("expected ErrDoubleFree in strict mode; got %v", err)
	}
}

func TestInitErrors(t *testing.T) {
	defer resetKernelAllocator()

	specs := []struct {
		regions []mm.Region
		expErr  error
	}{
		{nil, ErrNoRegions},
		// 512Mb needs 16K of bitmap storage
		{[]mm.Region{{Start: 0x40000000, Size: 0x20000000}}, ErrBitmapTooSmall},
	}

	for specIndex, spec := range specs {
		resetKernelAllocator()

		if err := Init(spec.regions, DefaultReservedEnd); err != spec.expErr {
			t.Errorf("[spec %d] expected error %v; got %v", specIndex, spec.expErr, err)
		}

		if _, err := AllocFrame(); err != ErrNotInitialized {
			t.Errorf("[spec %d] expected allocator to remain uninitialized; got %v", specIndex, err)
		}
	}
}

func TestMaxManagedMemory(t *testing.T) {
	defer resetKernelAllocator()

	if exp := 256 * mm.Mb; MaxManagedMemory != exp {
		t.Fatalf("expected the static bitmap to cover %d bytes; got %d", exp, MaxManagedMemory)
	}

	if err := Init([]mm.Region{{Start: 0x40000000, Size: uint64(MaxManagedMemory)}}, 0); err != nil {
		t.Fatalf("expected a region of MaxManagedMemory bytes to fit in the bitmap; got %v", err)
	}
}
