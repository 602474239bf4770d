package gpumem

import (
	"errors"
	"testing"

	"github.com/k2io/nightshade/gxm"
	"github.com/k2io/nightshade/gxm/gxmsim"
)

func TestAlign(t *testing.T) {
	tests := []struct {
		size, alignment, want int
	}{
		{1, DefaultAlignment, 4096},
		{4096, DefaultAlignment, 4096},
		{4097, DefaultAlignment, 8192},
		{48, DefaultAlignment, 4096},
		{1, CDRAMAlignment, 256 * 1024},
		{256*1024 + 1, CDRAMAlignment, 512 * 1024},
	}
	for _, tt := range tests {
		if got := Align(tt.size, tt.alignment); got != tt.want {
			t.Errorf("Align(%d, %d) = %d, want %d", tt.size, tt.alignment, got, tt.want)
		}
	}
}

func TestAlloc(t *testing.T) {
	tests := []struct {
		typ      gxm.MemBlockType
		size     int
		wantSize int
	}{
		{gxm.MemBlockUserRW, 48, 4096},
		{gxm.MemBlockUserRWUncache, 5000, 8192},
		{gxm.MemBlockUserCDRAMRW, 10, 256 * 1024},
	}
	for _, tt := range tests {
		t.Run(tt.typ.String(), func(t *testing.T) {
			d := gxmsim.New(1, 1)
			defer d.Close()
			a := New(d, d)
			al, err := a.Alloc(tt.typ, gxm.MemoryAttribRead, tt.size)
			if err != nil {
				t.Fatalf("Alloc: %v", err)
			}
			if al.Size != tt.wantSize || len(al.Base) != tt.wantSize {
				t.Errorf("size = %d (base %d), want %d", al.Size, len(al.Base), tt.wantSize)
			}
			if d.Blocks() != 1 || d.Mapped() != 1 || a.Live() != 1 {
				t.Errorf("blocks=%d mapped=%d live=%d", d.Blocks(), d.Mapped(), a.Live())
			}
			if err := al.Free(); err != nil {
				t.Fatalf("Free: %v", err)
			}
			if d.Blocks() != 0 || d.Mapped() != 0 || a.Live() != 0 {
				t.Errorf("after Free: blocks=%d mapped=%d live=%d", d.Blocks(), d.Mapped(), a.Live())
			}
			if err := al.Free(); !errors.Is(err, ErrFreed) {
				t.Errorf("double Free err = %v, want ErrFreed", err)
			}
		})
	}
}

func TestAllocFailures(t *testing.T) {
	tests := []struct {
		name string
		fail func(*gxmsim.Driver)
		size int
	}{
		{"kernel", func(d *gxmsim.Driver) { d.FailAlloc = true }, 16},
		{"map", func(d *gxmsim.Driver) { d.FailMap = true }, 16},
		{"zero size", func(*gxmsim.Driver) {}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := gxmsim.New(1, 1)
			defer d.Close()
			tt.fail(d)
			a := New(d, d)
			al, err := a.Alloc(gxm.MemBlockUserRW, gxm.MemoryAttribRead, tt.size)
			if !errors.Is(err, ErrAllocation) || al != nil {
				t.Fatalf("Alloc = %v, %v; want ErrAllocation", al, err)
			}
			if d.Blocks() != 0 || d.Mapped() != 0 || a.Live() != 0 {
				t.Errorf("leaked: blocks=%d mapped=%d live=%d", d.Blocks(), d.Mapped(), a.Live())
			}
		})
	}
}

func TestFreeAll(t *testing.T) {
	d := gxmsim.New(1, 1)
	defer d.Close()
	a := New(d, d)
	for i := 0; i < 3; i++ {
		if _, err := a.Alloc(gxm.MemBlockUserRW, gxm.MemoryAttribRW, 128); err != nil {
			t.Fatal(err)
		}
	}
	if err := a.FreeAll(); err != nil {
		t.Fatalf("FreeAll: %v", err)
	}
	if d.Blocks() != 0 || d.Mapped() != 0 || a.Live() != 0 {
		t.Errorf("blocks=%d mapped=%d live=%d", d.Blocks(), d.Mapped(), a.Live())
	}
	if err := a.FreeAll(); err != nil {
		t.Errorf("second FreeAll: %v", err)
	}
}

func TestFreeReportsDriverErrors(t *testing.T) {
	d := gxmsim.New(1, 1)
	defer d.Close()
	a := New(d, d)
	al, err := a.Alloc(gxm.MemBlockUserRW, gxm.MemoryAttribRead, 64)
	if err != nil {
		t.Fatal(err)
	}
	// Unmapped behind the allocator's back.
	if err := d.UnmapMemory(al.Base); err != nil {
		t.Fatal(err)
	}
	if err := al.Free(); !errors.Is(err, gxm.ErrNotFound) {
		t.Errorf("err = %v, want the unmap error", err)
	}
	if d.Blocks() != 0 {
		t.Errorf("block kept after failed unmap")
	}
}
