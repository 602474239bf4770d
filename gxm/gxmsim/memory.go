package gxmsim

import (
	"fmt"
	"unsafe"

	"github.com/k2io/nightshade/gxm"
)

// Alignment the simulated kernel enforces per memory class.
const (
	cdramAlignment   = 256 * 1024
	defaultAlignment = 4 * 1024
)

type block struct {
	name string
	typ  gxm.MemBlockType
	mem  []byte
}

// AllocMemBlock implements gxm.Kernel. Sizes must already be aligned to the
// class boundary, as the real kernel refuses anything else.
func (d *Driver) AllocMemBlock(name string, typ gxm.MemBlockType, size int) (gxm.UID, error) {
	if d.FailAlloc {
		return 0, fmt.Errorf("%w: out of memory", ErrInjected)
	}
	align := defaultAlignment
	if typ == gxm.MemBlockUserCDRAMRW {
		align = cdramAlignment
	}
	if size <= 0 || size%align != 0 {
		return 0, fmt.Errorf("%w: size %d not a multiple of %d", gxm.ErrInvalidValue, size, align)
	}
	d.nextUID++
	d.blocks[d.nextUID] = &block{name: name, typ: typ, mem: make([]byte, size)}
	return d.nextUID, nil
}

// GetMemBlockBase implements gxm.Kernel.
func (d *Driver) GetMemBlockBase(uid gxm.UID) ([]byte, error) {
	b, ok := d.blocks[uid]
	if !ok {
		return nil, fmt.Errorf("%w: block %d", gxm.ErrNotFound, uid)
	}
	return b.mem, nil
}

// FreeMemBlock implements gxm.Kernel.
func (d *Driver) FreeMemBlock(uid gxm.UID) error {
	if _, ok := d.blocks[uid]; !ok {
		return fmt.Errorf("%w: block %d", gxm.ErrNotFound, uid)
	}
	delete(d.blocks, uid)
	return nil
}

// MapMemory implements gxm.MemoryMapper.
func (d *Driver) MapMemory(base []byte, attr gxm.MemoryAttribFlags) error {
	if d.FailMap {
		return fmt.Errorf("%w: map refused", ErrInjected)
	}
	if len(base) == 0 {
		return fmt.Errorf("%w: empty range", gxm.ErrInvalidValue)
	}
	key := addr(base)
	if _, ok := d.mapped[key]; ok {
		return fmt.Errorf("%w: range already mapped", gxm.ErrInvalidValue)
	}
	d.mapped[key] = attr
	return nil
}

// UnmapMemory implements gxm.MemoryMapper.
func (d *Driver) UnmapMemory(base []byte) error {
	if len(base) == 0 {
		return fmt.Errorf("%w: empty range", gxm.ErrInvalidValue)
	}
	key := addr(base)
	if _, ok := d.mapped[key]; !ok {
		return fmt.Errorf("%w: range not mapped", gxm.ErrNotFound)
	}
	delete(d.mapped, key)
	return nil
}

// Blocks returns the number of live kernel blocks.
func (d *Driver) Blocks() int { return len(d.blocks) }

// Mapped returns the number of ranges mapped for the GPU.
func (d *Driver) Mapped() int { return len(d.mapped) }

// isMapped reports whether mem lies inside a mapped range.
func (d *Driver) isMapped(mem []byte) bool {
	if len(mem) == 0 {
		return false
	}
	p := addr(mem)
	for _, b := range d.blocks {
		start := addr(b.mem)
		if p >= start && p < start+uintptr(len(b.mem)) {
			_, ok := d.mapped[start]
			return ok
		}
	}
	return false
}

func addr(b []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}
