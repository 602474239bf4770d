//go:build linux && amd64

package patch

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

var pageSize = uintptr(unix.Getpagesize())

// offset of the trampoline in the stub page
const trampOffset = 64

func makeSlice(addr, size uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
}

func install(t target, replacement any) (*patchHook, error) {
	code := makeSlice(t.addr, 64)
	after, _ := stackCheck(code)
	site := t.addr + uintptr(after)
	reloc, consumed, err := relocate(code[after:], site, jumpSize)
	if err != nil {
		return nil, err
	}

	stub, err := unix.Mmap(-1, 0, int(pageSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, err
	}
	base := uintptr(unsafe.Pointer(&stub[0]))

	// replacement entry: load its closure context, jump to its code
	rctx, rcode := funcParts(replacement)
	copy(stub, append(movRDX(rctx), absJump(rcode)...))

	// trampoline: the target's context, the relocated code after its stack
	// check, then back
	var tramp []byte
	if t.ctx != 0 {
		tramp = movRDX(t.ctx)
	}
	tramp = append(tramp, reloc...)
	tramp = append(tramp, absJump(site+uintptr(consumed))...)
	if trampOffset+len(tramp) > len(stub) {
		unix.Munmap(stub)
		return nil, ErrTooShort
	}
	copy(stub[trampOffset:], tramp)
	if err := unix.Mprotect(stub, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		unix.Munmap(stub)
		return nil, err
	}

	h := &patchHook{
		target:      t.addr,
		site:        site,
		saved:       append([]byte(nil), code[after:after+consumed]...),
		stub:        stub,
		replacement: replacement,
	}
	h.fv, h.origin = makeOrigin(t.typ, base+trampOffset)

	jmp := absJump(base)
	for len(jmp) < consumed {
		jmp = append(jmp, 0xcc)
	}
	if err := writeCode(site, jmp); err != nil {
		unix.Munmap(stub)
		return nil, err
	}
	return h, nil
}

func restore(h *patchHook) error {
	if err := writeCode(h.site, h.saved); err != nil {
		return err
	}
	return unix.Munmap(h.stub)
}

func writeCode(addr uintptr, b []byte) error {
	size := uintptr(len(b))
	if err := protectPages(addr, size); err != nil {
		return err
	}
	copy(makeSlice(addr, size), b)
	return reProtectPages(addr, size)
}

func protectPages(addr, size uintptr) error {
	return mprotect(addr, size, unix.PROT_EXEC|unix.PROT_READ|unix.PROT_WRITE)
}

func reProtectPages(addr, size uintptr) error {
	return mprotect(addr, size, unix.PROT_EXEC|unix.PROT_READ)
}

func mprotect(addr, size uintptr, prot int) error {
	start := pageSize * (addr / pageSize)
	length := pageSize * ((addr + size + pageSize - 1 - start) / pageSize)
	for i := uintptr(0); i < length; i += pageSize {
		if err := unix.Mprotect(makeSlice(start+i, pageSize), prot); err != nil {
			return err
		}
	}
	return nil
}
