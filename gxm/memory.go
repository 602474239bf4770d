package gxm

// MemBlockType selects the kernel memory class a block is carved from.
type MemBlockType uint32

const (
	// MemBlockUserRW is main memory, cached, readable by the GPU once mapped.
	MemBlockUserRW MemBlockType = 0x0c20d060
	// MemBlockUserRWUncache is uncached main memory.
	MemBlockUserRWUncache MemBlockType = 0x0c208060
	// MemBlockUserCDRAMRW is the fast, small, GPU-local memory.
	MemBlockUserCDRAMRW MemBlockType = 0x09408060
)

func (t MemBlockType) String() string {
	switch t {
	case MemBlockUserRW:
		return "user-rw"
	case MemBlockUserRWUncache:
		return "user-rw-uncache"
	case MemBlockUserCDRAMRW:
		return "user-cdram-rw"
	}
	return "unknown"
}

// MemoryAttribFlags are the GPU access rights of a mapped range.
type MemoryAttribFlags uint8

const (
	MemoryAttribRead MemoryAttribFlags = 1 << iota
	MemoryAttribWrite

	MemoryAttribRW = MemoryAttribRead | MemoryAttribWrite
)

// UID identifies a kernel memory block.
type UID int32

// Kernel allocates the memory blocks GPU buffers live in.
type Kernel interface {
	AllocMemBlock(name string, typ MemBlockType, size int) (UID, error)
	GetMemBlockBase(uid UID) ([]byte, error)
	FreeMemBlock(uid UID) error
}

// MemoryMapper makes host memory visible to the GPU.
type MemoryMapper interface {
	MapMemory(base []byte, attr MemoryAttribFlags) error
	UnmapMemory(base []byte) error
}
