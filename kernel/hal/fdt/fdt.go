// Package fdt extracts the physical memory layout from the flattened device
// tree blob that the boot loader passes to the kernel.
package fdt

import (
	"armos/kernel"
	"armos/kernel/mm"
	"bytes"
	"encoding/binary"
	"unsafe"
)

const (
	fdtMagic = 0xd00dfeed

	// minVersion is the oldest blob layout whose header carries the
	// structure and strings block sizes.
	minVersion = 16

	// headerSize is the size of a version 17 header.
	headerSize = 40

	// MaxMemRegions is the maximum number of regions reported by
	// VisitMemRegions.
	MaxMemRegions = 8
)

// Header field offsets.
const (
	offMagic     = 0
	offTotalSize = 4
	offStruct    = 8
	offStrings   = 12
	offVersion   = 20
)

type token uint32

const (
	tokenBeginNode token = 1
	tokenEndNode   token = 2
	tokenProp      token = 3
	tokenNop       token = 4
	tokenEnd       token = 9
)

var (
	blobPtr uintptr

	memoryNodePrefix = []byte("memory")
	regPropName      = []byte("reg")

	// ErrNoBlob is returned when no blob address has been set.
	ErrNoBlob = &kernel.Error{Module: "fdt", Message: "device tree address not set"}

	// ErrBadMagic is returned when the blob does not start with the FDT
	// magic number.
	ErrBadMagic = &kernel.Error{Module: "fdt", Message: "invalid device tree magic"}

	// ErrUnsupportedVersion is returned for blobs older than version 16.
	ErrUnsupportedVersion = &kernel.Error{Module: "fdt", Message: "unsupported device tree version"}

	// ErrInvalidToken is returned when an unknown token is found in the
	// structure block.
	ErrInvalidToken = &kernel.Error{Module: "fdt", Message: "invalid device tree token"}

	// ErrTruncated is returned when a structure block element extends past
	// the end of the blob.
	ErrTruncated = &kernel.Error{Module: "fdt", Message: "truncated device tree"}
)

// MemRegionVisitor defines a visitor function that gets invoked by
// VisitMemRegions for each memory region found in the device tree. The
// visitor must return true to continue or false to abort the scan.
type MemRegionVisitor func(region *mm.Region) bool

// SetInfoPtr updates the internal device tree pointer to the given value.
// This function must be invoked before invoking any other function exported
// by this package.
func SetInfoPtr(ptr uintptr) {
	blobPtr = ptr
}

// VisitMemRegions invokes the supplied visitor for each (address, size) pair
// listed in the reg property of the device tree nodes whose name begins with
// "memory". At most MaxMemRegions regions are reported. Both address and
// size are expected to be encoded as two cells.
func VisitMemRegions(visitor MemRegionVisitor) *kernel.Error {
	blob, err := blobBytes()
	if err != nil {
		return err
	}

	var (
		structOff  = int(be32(blob, offStruct))
		stringsOff = int(be32(blob, offStrings))
		depth      int
		memDepth   = -1
		reported   int
	)

	for off := structOff; ; {
		if off+4 > len(blob) {
			return ErrTruncated
		}

		tok := token(be32(blob, off))
		off += 4

		switch tok {
		case tokenBeginNode:
			nameLen := bytes.IndexByte(blob[off:], 0)
			if nameLen < 0 {
				return ErrTruncated
			}

			depth++
			if memDepth < 0 && bytes.HasPrefix(blob[off:off+nameLen], memoryNodePrefix) {
				memDepth = depth
			}
			off = align4(off + nameLen + 1)
		case tokenEndNode:
			if depth == memDepth {
				memDepth = -1
			}
			depth--
		case tokenProp:
			if off+8 > len(blob) {
				return ErrTruncated
			}

			propLen := int(be32(blob, off))
			nameOff := int(be32(blob, off+4))
			off += 8
			if off+propLen > len(blob) {
				return ErrTruncated
			}

			if depth == memDepth && bytes.Equal(propName(blob, stringsOff+nameOff), regPropName) {
				for cell := off; cell+16 <= off+propLen; cell += 16 {
					if reported == MaxMemRegions {
						return nil
					}
					reported++

					region := mm.Region{
						Start: binary.BigEndian.Uint64(blob[cell:]),
						Size:  binary.BigEndian.Uint64(blob[cell+8:]),
					}
					if !visitor(&region) {
						return nil
					}
				}
			}
			off = align4(off + propLen)
		case tokenNop:
		case tokenEnd:
			return nil
		default:
			return ErrInvalidToken
		}
	}
}

// blobBytes validates the blob header and returns a slice covering the
// whole blob.
func blobBytes() ([]byte, *kernel.Error) {
	if blobPtr == 0 {
		return nil, ErrNoBlob
	}

	header := unsafe.Slice((*byte)(unsafe.Pointer(blobPtr)), headerSize)
	if be32(header, offMagic) != fdtMagic {
		return nil, ErrBadMagic
	}

	if be32(header, offVersion) < minVersion {
		return nil, ErrUnsupportedVersion
	}

	totalSize := be32(header, offTotalSize)
	if totalSize < headerSize {
		return nil, ErrTruncated
	}

	return unsafe.Slice((*byte)(unsafe.Pointer(blobPtr)), totalSize), nil
}

// propName returns the NUL-terminated string at off within the blob.
func propName(blob []byte, off int) []byte {
	if off >= len(blob) {
		return nil
	}

	name := blob[off:]
	if end := bytes.IndexByte(name, 0); end >= 0 {
		return name[:end]
	}
	return name
}

func be32(blob []byte, off int) uint32 {
	return binary.BigEndian.Uint32(blob[off:])
}

func align4(off int) int {
	return (off + 3) &^ 3
}
