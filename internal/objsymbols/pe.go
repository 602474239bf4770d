package objsymbols

import (
	"debug/pe"
	"io"
)

type peFile struct {
	pe *pe.File
}

func openPE(r io.ReaderAt) (rawFile, error) {
	f, err := pe.NewFile(r)
	if err != nil {
		return nil, err
	}
	return &peFile{f}, nil
}

// Symbols returns section-relative values rebased on the image base, the
// way the loader lays the sections out.
func (f *peFile) Symbols() (map[string]uintptr, error) {
	off := make(map[string]uintptr, len(f.pe.Symbols))
	var base uintptr
	switch oh := f.pe.OptionalHeader.(type) {
	case *pe.OptionalHeader64:
		base = uintptr(oh.ImageBase)
	case *pe.OptionalHeader32:
		base = uintptr(oh.ImageBase)
	}
	for _, s := range f.pe.Symbols {
		if s.SectionNumber <= 0 || int(s.SectionNumber) > len(f.pe.Sections) {
			continue
		}
		sect := f.pe.Sections[s.SectionNumber-1]
		off[s.Name] = base + uintptr(sect.VirtualAddress) + uintptr(s.Value)
	}
	return off, nil
}

func (f *peFile) Close() error { return f.pe.Close() }
