// Package objsymbols reads the symbol table of an executable image.
package objsymbols

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrUnrecognized means the file is not an ELF, Mach-O or PE image.
var ErrUnrecognized = errors.New("unrecognized object file")

type rawFile interface {
	Symbols() (map[string]uintptr, error)
	Close() error
}

var objType = []func(io.ReaderAt) (rawFile, error){
	openElf,
	openMacho,
	openPE,
}

// ReadSymbols returns the link-time address of every symbol in the named
// image. Addresses are not adjusted for where the image is loaded.
func ReadSymbols(name string) (map[string]uintptr, error) {
	r, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return Read(r)
}

// Read is ReadSymbols on an open image.
func Read(r io.ReaderAt) (map[string]uintptr, error) {
	for _, try := range objType {
		raw, err := try(r)
		if err != nil {
			continue
		}
		syms, err := raw.Symbols()
		raw.Close()
		if err != nil {
			return nil, err
		}
		return syms, nil
	}
	return nil, ErrUnrecognized
}

// Lookup reads the named image and returns the address of sym.
func Lookup(name, sym string) (uintptr, error) {
	syms, err := ReadSymbols(name)
	if err != nil {
		return 0, err
	}
	addr, ok := syms[sym]
	if !ok {
		return 0, fmt.Errorf("%s: symbol %q not found", name, sym)
	}
	return addr, nil
}
