// Package patch hooks functions of the running program by rewriting their
// machine code.
//
// The first instructions after the target's stack check are overwritten with
// an absolute jump to the replacement. The displaced instructions are
// relocated into a trampoline that jumps back to the rest of the target, and
// the trampoline is what Hook.Origin returns, so the replacement can call
// through. The trampoline starts past the stack check: a stack growth
// restarts a function at its entry, which would reach the replacement again.
// The origin therefore runs in the headroom the replacement's own check left.
//
// Only linux/amd64 is supported. Elsewhere Install returns ErrUnsupported.
package patch

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"sync"
	"unsafe"

	"github.com/k2io/nightshade/hook"
	"github.com/k2io/nightshade/internal/objsymbols"
)

var (
	// ErrRelativeAddr means the prologue uses RIP-relative data and cannot
	// be moved
	ErrRelativeAddr = errors.New("relative address in instruction")
	// ErrTooShort means the target returns before a jump fits
	ErrTooShort = errors.New("function too short to patch")
	// ErrUnsupported means code patching is not available on this platform
	ErrUnsupported = errors.New("code patching not supported on this platform")
)

type eface struct {
	typ  unsafe.Pointer
	data unsafe.Pointer
}

type funcval struct {
	fn uintptr
	// variable-size, fn-specific data here
}

// funcParts splits a func value into its closure context and code address.
func funcParts(fn any) (ctx, code uintptr) {
	e := (*eface)(unsafe.Pointer(&fn))
	if e.data == nil {
		return 0, 0
	}
	return uintptr(e.data), (*funcval)(e.data).fn
}

type target struct {
	addr uintptr
	ctx  uintptr
	typ  reflect.Type
}

// Patcher is a hook.Hooker over functions bound to NIDs.
type Patcher struct {
	lock    sync.Mutex
	targets map[uint32]target
	// installed hooks by patched address
	hooks   map[uintptr]*patchHook
	symbols map[string]uintptr
	slide   uintptr
}

// New returns a patcher with nothing bound.
func New() *Patcher {
	return &Patcher{
		targets: make(map[uint32]target),
		hooks:   make(map[uintptr]*patchHook),
	}
}

// Bind makes fn the target of nid.
func (p *Patcher) Bind(nid uint32, fn any) error {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return hook.ErrInputType
	}
	ctx, code := funcParts(fn)
	p.lock.Lock()
	defer p.lock.Unlock()
	p.targets[nid] = target{addr: code, ctx: ctx, typ: v.Type()}
	return nil
}

// BindSymbol makes the function named sym in the running executable the
// target of nid. typ is the function's type.
//
// The executable must keep its symbol table: a binary linked with
// -ldflags=-s fails with the object reader's error (elf.ErrNoSymbols on
// Linux). Bind needs no symbols and works on stripped binaries.
func (p *Patcher) BindSymbol(nid uint32, sym string, typ reflect.Type) error {
	if typ == nil || typ.Kind() != reflect.Func {
		return hook.ErrInputType
	}
	p.lock.Lock()
	defer p.lock.Unlock()
	addr, err := p.lookup(sym)
	if err != nil {
		return err
	}
	p.targets[nid] = target{addr: addr, typ: typ}
	return nil
}

//go:noinline
func anchor() {}

const anchorName = "github.com/k2io/nightshade/hook/patch.anchor"

// lookup resolves sym in the executable's symbol table, adjusted by the
// distance between where anchor was linked and where it runs.
func (p *Patcher) lookup(sym string) (uintptr, error) {
	if p.symbols == nil {
		exe, err := os.Executable()
		if err != nil {
			return 0, err
		}
		syms, err := objsymbols.ReadSymbols(exe)
		if err != nil {
			return 0, err
		}
		linked, ok := syms[anchorName]
		if !ok {
			return 0, fmt.Errorf("%s: %w", anchorName, hook.ErrSymbolNotFound)
		}
		_, code := funcParts(anchor)
		p.symbols = syms
		p.slide = code - linked
	}
	addr, ok := p.symbols[sym]
	if !ok {
		return 0, fmt.Errorf("%s: %w", sym, hook.ErrSymbolNotFound)
	}
	return addr + p.slide, nil
}

// Install implements hook.Hooker. The replacement must be a function
// convertible to the target's type.
func (p *Patcher) Install(nid uint32, replacement any) (hook.Hook, error) {
	v := reflect.ValueOf(replacement)
	if v.Kind() != reflect.Func || v.IsNil() {
		return nil, hook.ErrInputType
	}
	p.lock.Lock()
	defer p.lock.Unlock()
	t, ok := p.targets[nid]
	if !ok {
		return nil, fmt.Errorf("nid 0x%08X: %w", nid, hook.ErrSymbolNotFound)
	}
	if !v.Type().ConvertibleTo(t.typ) {
		return nil, fmt.Errorf("nid 0x%08X: %w", nid, hook.ErrDifferentType)
	}
	if _, ok := p.hooks[t.addr]; ok {
		return nil, fmt.Errorf("nid 0x%08X: %w", nid, hook.ErrDoubleHook)
	}
	h, err := install(t, replacement)
	if err != nil {
		return nil, fmt.Errorf("nid 0x%08X: %w", nid, err)
	}
	h.patcher = p
	h.nid = nid
	p.hooks[t.addr] = h
	return h, nil
}

// Release implements hook.Hooker. It restores the target's code.
func (p *Patcher) Release(h hook.Hook) error {
	ph, ok := h.(*patchHook)
	if !ok || ph.patcher != p {
		return hook.ErrHookNotFound
	}
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.hooks[ph.target] != ph {
		return hook.ErrHookNotFound
	}
	if err := restore(ph); err != nil {
		return err
	}
	delete(p.hooks, ph.target)
	return nil
}

type patchHook struct {
	patcher *Patcher
	nid     uint32
	target  uintptr
	// where the jump is written, past the stack check
	site uintptr
	// original bytes at site
	saved []byte
	// executable page holding the replacement stub and the trampoline
	stub []byte
	// keep the replacement closure alive while its context is baked in
	replacement any
	fv          *funcval
	origin      any
}

func (h *patchHook) NID() uint32 { return h.nid }

func (h *patchHook) Origin() any { return h.origin }

// makeOrigin builds a func value of type typ that runs the code at addr.
func makeOrigin(typ reflect.Type, addr uintptr) (*funcval, any) {
	fv := &funcval{fn: addr}
	return fv, reflect.NewAt(typ, unsafe.Pointer(&fv)).Elem().Interface()
}
