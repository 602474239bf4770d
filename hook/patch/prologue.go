package patch

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

// jumpSize is the length of an absolute indirect jump:
// JMP [RIP+0] followed by the 64-bit target.
const jumpSize = 14

func absJump(to uintptr) []byte {
	b := []byte{0xff, 0x25, 0x00, 0x00, 0x00, 0x00, 0, 0, 0, 0, 0, 0, 0, 0}
	binary.LittleEndian.PutUint64(b[6:], uint64(to))
	return b
}

// absCall calls to and resumes after the embedded address:
// CALL [RIP+2]; JMP +8; addr64.
func absCall(to uintptr) []byte {
	b := []byte{0xff, 0x15, 0x02, 0x00, 0x00, 0x00, 0xeb, 0x08, 0, 0, 0, 0, 0, 0, 0, 0}
	binary.LittleEndian.PutUint64(b[8:], uint64(to))
	return b
}

// movRDX loads the closure context register.
func movRDX(v uintptr) []byte {
	return movImm(2, v)
}

// movImm is MOV r64, imm64 for register number r.
func movImm(r int, v uintptr) []byte {
	b := []byte{0x48, 0xb8 | byte(r&7), 0, 0, 0, 0, 0, 0, 0, 0}
	if r >= 8 {
		b[0] |= 0x01
	}
	binary.LittleEndian.PutUint64(b[2:], uint64(v))
	return b
}

// movLoad is MOV r64, [r64] for register number r.
func movLoad(r int) []byte {
	rex := byte(0x48)
	if r >= 8 {
		rex |= 0x05
	}
	modrm := byte(r&7)<<3 | byte(r&7)
	switch r & 7 {
	case 4:
		return []byte{rex, 0x8b, modrm, 0x24}
	case 5:
		return []byte{rex, 0x8b, 0x40 | modrm, 0x00}
	}
	return []byte{rex, 0x8b, modrm}
}

// absLoad rewrites LEA r64,[RIP+d] and MOV r64,[RIP+d], with next the
// address after the instruction, to use the absolute address instead. Other
// RIP-relative forms need a scratch register and are refused.
func absLoad(inst x86asm.Inst, next uintptr) ([]byte, bool) {
	if inst.Op != x86asm.LEA && inst.Op != x86asm.MOV {
		return nil, false
	}
	dst, ok := inst.Args[0].(x86asm.Reg)
	if !ok || dst < x86asm.RAX || dst > x86asm.R15 {
		return nil, false
	}
	m, ok := inst.Args[1].(x86asm.Mem)
	if !ok || m.Base != x86asm.RIP || m.Index != 0 || m.Segment != 0 {
		return nil, false
	}
	r := int(dst - x86asm.RAX)
	addr := uintptr(int64(next) + m.Disp)
	if inst.Op == x86asm.LEA {
		return movImm(r, addr), true
	}
	return append(movImm(r, addr), movLoad(r)...), true
}

// relocate copies whole instructions from code, loaded at from, until at
// least size bytes are consumed. Relative branches are rewritten as absolute
// ones so the copy runs from anywhere. It returns the rewritten code and the
// number of source bytes consumed.
func relocate(code []byte, from uintptr, size int) ([]byte, int, error) {
	var out []byte
	n := 0
	for n < size {
		if n >= len(code) {
			return nil, 0, ErrTooShort
		}
		inst, err := x86asm.Decode(code[n:], 64)
		if err != nil {
			return nil, 0, fmt.Errorf("decode at +%d: %w", n, err)
		}
		raw := code[n : n+inst.Len]
		next := from + uintptr(n+inst.Len)

		rel, isRel, ripMem := operands(inst)
		switch {
		case ripMem:
			abs, ok := absLoad(inst, next)
			if !ok {
				return nil, 0, fmt.Errorf("%w: %s at +%d", ErrRelativeAddr, inst, n)
			}
			out = append(out, abs...)
		case isRel:
			dest := uintptr(int64(next) + int64(rel))
			switch {
			case inst.Op == x86asm.JMP:
				out = append(out, absJump(dest)...)
			case inst.Op == x86asm.CALL:
				out = append(out, absCall(dest)...)
			default:
				cc, ok := condition(raw)
				if !ok {
					return nil, 0, fmt.Errorf("%w: %s at +%d", ErrRelativeAddr, inst, n)
				}
				// inverted short branch over the absolute jump
				out = append(out, 0x70|(cc^1), jumpSize)
				out = append(out, absJump(dest)...)
			}
		default:
			out = append(out, raw...)
		}
		n += inst.Len

		if (inst.Op == x86asm.RET || inst.Op == x86asm.INT) && n < size {
			return nil, 0, ErrTooShort
		}
	}
	return out, n, nil
}

// stackCheck returns the length of the stack bound check that opens a Go
// function:
//
//	CMP RSP, [R14+0x10]; JBE morestack
//	LEA R12, [RSP-x]; CMP R12, [R14+0x10]; JBE morestack
//	MOV R12, RSP; SUB R12, x; JB morestack; CMP R12, [R14+0x10]; JBE morestack
//
// ok is false when code does not start with one.
func stackCheck(code []byte) (n int, ok bool) {
	compared := false
	for n < len(code) && n < 32 {
		inst, err := x86asm.Decode(code[n:], 64)
		if err != nil {
			return 0, false
		}
		raw := code[n : n+inst.Len]
		n += inst.Len
		switch inst.Op {
		case x86asm.LEA, x86asm.MOV, x86asm.SUB:
			if compared {
				return 0, false
			}
		case x86asm.CMP:
			if compared || !stackGuard(inst) {
				return 0, false
			}
			compared = true
		default:
			if _, jcc := condition(raw); !jcc {
				return 0, false
			}
			if compared {
				return n, true
			}
		}
	}
	return 0, false
}

// stackGuard reports whether inst reads g.stackguard0, which R14 points at.
func stackGuard(inst x86asm.Inst) bool {
	for _, a := range inst.Args {
		if m, ok := a.(x86asm.Mem); ok && m.Base == x86asm.R14 && m.Disp == 0x10 {
			return true
		}
	}
	return false
}

func operands(inst x86asm.Inst) (rel x86asm.Rel, isRel, ripMem bool) {
	for _, a := range inst.Args {
		if a == nil {
			break
		}
		switch v := a.(type) {
		case x86asm.Rel:
			return v, true, false
		case x86asm.Mem:
			if v.Base == x86asm.RIP {
				return 0, false, true
			}
		}
	}
	return 0, false, false
}

// condition returns the condition code of a Jcc in its short (7x) or near
// (0F 8x) encoding.
func condition(raw []byte) (byte, bool) {
	switch {
	case len(raw) == 2 && raw[0]&0xf0 == 0x70:
		return raw[0] & 0x0f, true
	case len(raw) == 6 && raw[0] == 0x0f && raw[1]&0xf0 == 0x80:
		return raw[1] & 0x0f, true
	}
	return 0, false
}
