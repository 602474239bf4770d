// Package hook redirects host entry points to replacement handlers.
//
// A Hooker installs a replacement on an entry point, identified by its NID,
// and keeps the implementation it displaced reachable through Hook.Origin so
// the replacement can call through. Table is a Hooker over an import table
// the host resolves its entry points from; package patch provides one that
// rewrites machine code instead.
package hook

import (
	"errors"
)

var (
	// ErrDoubleHook means already hooked
	ErrDoubleHook = errors.New("double hook")
	// ErrHookNotFound means the hook not found
	ErrHookNotFound = errors.New("hook not found")
	// ErrDifferentType means from and to are of different types
	ErrDifferentType = errors.New("inputs are of different type")
	// ErrInputType means inputs are not func type
	ErrInputType = errors.New("inputs are not func type")
	// ErrSymbolNotFound means the entry point is not imported by the host
	ErrSymbolNotFound = errors.New("entry point not found")
	// ErrSetFull means every slot of a Set is taken
	ErrSetFull = errors.New("hook set full")
)

// Hook is an installed redirection.
type Hook interface {
	// NID returns the entry point the hook is installed on.
	NID() uint32
	// Origin returns the implementation the hook displaced, with the
	// entry point's function type.
	Origin() any
}

// Hooker installs and releases hooks.
type Hooker interface {
	Install(nid uint32, replacement any) (Hook, error)
	Release(h Hook) error
}

// Continue returns the implementation h displaced as an F, or the zero F
// when h is nil or the types do not match.
func Continue[F any](h Hook) F {
	var zero F
	if h == nil {
		return zero
	}
	f, ok := h.Origin().(F)
	if !ok {
		return zero
	}
	return f
}
