package objsymbols

import (
	"bytes"
	"debug/elf"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// selfSymbols reads the test binary, skipping when it was linked without a
// symbol table (go test -ldflags=-s, or a stripped cached binary).
func selfSymbols(t *testing.T) (string, map[string]uintptr) {
	t.Helper()
	exe, err := os.Executable()
	if err != nil {
		t.Skipf("no executable path: %v", err)
	}
	syms, err := ReadSymbols(exe)
	if errors.Is(err, elf.ErrNoSymbols) {
		t.Skipf("%s has no symbol table", exe)
	}
	if err != nil {
		t.Fatalf("ReadSymbols(%s): %v", exe, err)
	}
	return exe, syms
}

func TestReadSymbolsSelf(t *testing.T) {
	_, syms := selfSymbols(t)
	name := "runtime.main"
	if runtime.GOOS == "darwin" {
		name = "_runtime.main"
	}
	if syms[name] == 0 {
		t.Errorf("%s missing from %d symbols", name, len(syms))
	}
}

func TestLookup(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("ELF only")
	}
	exe, _ := selfSymbols(t)
	addr, err := Lookup(exe, "runtime.main")
	if err != nil || addr == 0 {
		t.Fatalf("Lookup = %#x, %v", addr, err)
	}
	if _, err := Lookup(exe, "no.such.symbol"); err == nil {
		t.Error("Lookup of a missing symbol succeeded")
	}
}

func TestReadUnrecognized(t *testing.T) {
	_, err := Read(bytes.NewReader([]byte("definitely not an object file")))
	if !errors.Is(err, ErrUnrecognized) {
		t.Errorf("err = %v, want ErrUnrecognized", err)
	}
}

func TestReadSymbolsMissingFile(t *testing.T) {
	if _, err := ReadSymbols("/nonexistent/image"); err == nil {
		t.Error("ReadSymbols of a missing file succeeded")
	}
}

func TestReadELFFixture(t *testing.T) {
	name := filepath.Join(runtime.GOROOT(), "src", "debug", "elf", "testdata", "gcc-amd64-linux-exec")
	if _, err := os.Stat(name); err != nil {
		t.Skipf("fixture not available: %v", err)
	}
	syms, err := ReadSymbols(name)
	if err != nil {
		t.Fatalf("ReadSymbols: %v", err)
	}
	if syms["main"] == 0 {
		t.Errorf("main missing from %d symbols", len(syms))
	}
	if _, ok := syms[""]; ok {
		t.Error("unnamed symbol kept")
	}
}
