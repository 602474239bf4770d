// Package gpumem allocates kernel memory blocks and maps them for the GPU.
package gpumem

import (
	"errors"
	"fmt"

	"github.com/k2io/nightshade/gxm"
)

// Block alignments required by the kernel allocator.
const (
	CDRAMAlignment   = 256 * 1024
	DefaultAlignment = 4 * 1024
)

// blockName is the name every block is allocated under.
const blockName = "gpumem"

var (
	// ErrAllocation means the kernel block or its GPU mapping could not be
	// obtained.
	ErrAllocation = errors.New("gpumem: allocation failed")
	// ErrFreed means the allocation was already released.
	ErrFreed = errors.New("gpumem: allocation already freed")
)

// Align rounds size up to a multiple of alignment, which must be a power of two.
func Align(size, alignment int) int {
	return (size + alignment - 1) &^ (alignment - 1)
}

// AlignmentFor returns the alignment blocks of class t are rounded up to.
func AlignmentFor(t gxm.MemBlockType) int {
	if t == gxm.MemBlockUserCDRAMRW {
		return CDRAMAlignment
	}
	return DefaultAlignment
}

// Allocation is a mapped block. Base spans the whole aligned block.
type Allocation struct {
	Base []byte
	UID  gxm.UID
	Size int
	Type gxm.MemBlockType

	owner *Allocator
	freed bool
}

// Free unmaps and releases the block.
func (a *Allocation) Free() error {
	return a.owner.Free(a)
}

// Allocator hands out mapped blocks and remembers them until they are freed.
type Allocator struct {
	kernel gxm.Kernel
	mapper gxm.MemoryMapper
	live   []*Allocation
}

// New returns an allocator backed by k and m.
func New(k gxm.Kernel, m gxm.MemoryMapper) *Allocator {
	return &Allocator{kernel: k, mapper: m}
}

// Alloc returns a block of at least size bytes of class t, mapped with attr.
// A block whose mapping fails is freed before the error is returned.
func (a *Allocator) Alloc(t gxm.MemBlockType, attr gxm.MemoryAttribFlags, size int) (*Allocation, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: size %d", ErrAllocation, size)
	}
	size = Align(size, AlignmentFor(t))

	uid, err := a.kernel.AllocMemBlock(blockName, t, size)
	if err != nil {
		return nil, fmt.Errorf("%w: alloc %d bytes of %s: %w", ErrAllocation, size, t, err)
	}
	base, err := a.kernel.GetMemBlockBase(uid)
	if err != nil {
		_ = a.kernel.FreeMemBlock(uid)
		return nil, fmt.Errorf("%w: base of block %d: %w", ErrAllocation, uid, err)
	}
	if err := a.mapper.MapMemory(base, attr); err != nil {
		_ = a.kernel.FreeMemBlock(uid)
		return nil, fmt.Errorf("%w: map block %d: %w", ErrAllocation, uid, err)
	}

	al := &Allocation{Base: base, UID: uid, Size: size, Type: t, owner: a}
	a.live = append(a.live, al)
	return al, nil
}

// Free unmaps and releases al.
func (a *Allocator) Free(al *Allocation) error {
	if al == nil {
		return nil
	}
	if al.freed {
		return ErrFreed
	}
	al.freed = true
	for i, x := range a.live {
		if x == al {
			a.live = append(a.live[:i], a.live[i+1:]...)
			break
		}
	}
	return errors.Join(
		a.mapper.UnmapMemory(al.Base),
		a.kernel.FreeMemBlock(al.UID),
	)
}

// FreeAll releases every live allocation, newest first.
func (a *Allocator) FreeAll() error {
	var errs []error
	for len(a.live) > 0 {
		al := a.live[len(a.live)-1]
		if err := a.Free(al); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Live returns the number of allocations not yet freed.
func (a *Allocator) Live() int {
	return len(a.live)
}
