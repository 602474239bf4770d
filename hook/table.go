package hook

import (
	"fmt"
	"reflect"
	"sync"
)

// Table is an import table: the host looks its entry points up by NID on
// every call, and hooks swap what a lookup returns. Several hooks may sit on
// one entry point; each sees the one installed before it as its origin.
type Table struct {
	// protect the slots map
	lock  sync.Mutex
	slots map[uint32]*slot
}

type slot struct {
	typ      reflect.Type
	original any
	// hooks applied in install order, the last one is called first
	hooks []*tableHook
}

type tableHook struct {
	table       *Table
	nid         uint32
	replacement any
}

// NewTable returns a table holding the given entry points. Every value must
// be a non-nil function.
func NewTable(imports map[uint32]any) (*Table, error) {
	t := &Table{slots: make(map[uint32]*slot, len(imports))}
	for nid, fn := range imports {
		v := reflect.ValueOf(fn)
		if v.Kind() != reflect.Func || v.IsNil() {
			return nil, fmt.Errorf("nid 0x%08X: %w", nid, ErrInputType)
		}
		t.slots[nid] = &slot{typ: v.Type(), original: fn}
	}
	return t, nil
}

// Lookup returns what a call through nid currently reaches, or nil.
func (t *Table) Lookup(nid uint32) any {
	t.lock.Lock()
	defer t.lock.Unlock()
	s, ok := t.slots[nid]
	if !ok {
		return nil
	}
	if n := len(s.hooks); n > 0 {
		return s.hooks[n-1].replacement
	}
	return s.original
}

// Resolve looks nid up in t and returns it as an F. The zero F is returned
// for unknown entry points.
func Resolve[F any](t *Table, nid uint32) F {
	f, _ := t.Lookup(nid).(F)
	return f
}

// Install implements Hooker. The replacement must be a function convertible
// to the entry point's type.
func (t *Table) Install(nid uint32, replacement any) (Hook, error) {
	v := reflect.ValueOf(replacement)
	if v.Kind() != reflect.Func || v.IsNil() {
		return nil, ErrInputType
	}

	t.lock.Lock()
	defer t.lock.Unlock()
	s, ok := t.slots[nid]
	if !ok {
		return nil, fmt.Errorf("nid 0x%08X: %w", nid, ErrSymbolNotFound)
	}
	if !v.Type().ConvertibleTo(s.typ) {
		return nil, fmt.Errorf("nid 0x%08X: %w: %s is not %s", nid, ErrDifferentType, v.Type(), s.typ)
	}
	h := &tableHook{
		table:       t,
		nid:         nid,
		replacement: v.Convert(s.typ).Interface(),
	}
	s.hooks = append(s.hooks, h)
	return h, nil
}

// Release implements Hooker. Releasing a hook in the middle of a chain
// relinks the hook above it to the one below.
func (t *Table) Release(h Hook) error {
	th, ok := h.(*tableHook)
	if !ok || th.table != t {
		return ErrHookNotFound
	}

	t.lock.Lock()
	defer t.lock.Unlock()
	s, ok := t.slots[th.nid]
	if !ok {
		return ErrHookNotFound
	}
	for i, x := range s.hooks {
		if x == th {
			s.hooks = append(s.hooks[:i], s.hooks[i+1:]...)
			return nil
		}
	}
	return ErrHookNotFound
}

// Hooked returns the number of hooks installed on nid.
func (t *Table) Hooked(nid uint32) int {
	t.lock.Lock()
	defer t.lock.Unlock()
	if s, ok := t.slots[nid]; ok {
		return len(s.hooks)
	}
	return 0
}

func (h *tableHook) NID() uint32 { return h.nid }

// Origin returns the hook below h, or the original implementation. A
// released hook reports the original.
func (h *tableHook) Origin() any {
	t := h.table
	t.lock.Lock()
	defer t.lock.Unlock()
	s := t.slots[h.nid]
	for i, x := range s.hooks {
		if x != h {
			continue
		}
		if i == 0 {
			return s.original
		}
		return s.hooks[i-1].replacement
	}
	return s.original
}
