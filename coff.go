// coff.go - loads a 32-bit COFF object file and keeps it paired with its
// backing bytes for the lifetime of the link. Go's garbage collector makes
// the self-referential-struct trick the original implementation needed
// (owning a byte buffer and a borrowed parsed view together) unnecessary:
// a plain struct holding both suffices, since nothing here needs an
// explicit lifetime bound beyond ordinary scoping.
package main

import (
	"debug/pe"
	"os"
)

// Relocation kinds this linker understands; any other kind is a fatal
// relocation error.
const (
	imageRelI386Dir32 = 6
	imageRelI386Rel32 = 20
)

// Storage classes a defined symbol may carry.
const (
	imageSymClassExternal = 2
	imageSymClassStatic   = 3
	imageSymClassFile     = 103
)

// ObjectFile is a parsed COFF32 object together with its source path and
// owned bytes.
type ObjectFile struct {
	Path string
	Raw  []byte
	Coff *pe.File
}

// LoadObjectFile reads path whole and parses it as a 32-bit COFF object.
func LoadObjectFile(path string) (*ObjectFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, ioError(path, err)
	}
	// debug/pe probes a 96-byte DOS header at offset 0 before parsing, so a
	// smaller object is zero-padded for the parse only.
	parseBuf := raw
	if len(parseBuf) < 96 {
		parseBuf = append(append([]byte(nil), raw...), make([]byte, 96-len(raw))...)
	}
	f, err := pe.NewFile(newByteReaderAt(parseBuf))
	if err != nil {
		return nil, parseError(path, "not a valid COFF object: "+err.Error())
	}
	if f.Machine != 0x14c { // IMAGE_FILE_MACHINE_I386
		return nil, parseError(path, "object is not i386 COFF")
	}
	return &ObjectFile{Path: path, Raw: raw, Coff: f}, nil
}

// byteReaderAt adapts a byte slice to io.ReaderAt without an extra copy.
type byteReaderAt struct {
	b []byte
}

func newByteReaderAt(b []byte) *byteReaderAt {
	return &byteReaderAt{b: b}
}

func (r *byteReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(r.b)) {
		return 0, os.ErrInvalid
	}
	n := copy(p, r.b[off:])
	if n < len(p) {
		return n, os.ErrInvalid
	}
	return n, nil
}

// sectionShortName returns a COFF section's fixed 8-byte name with trailing
// NUL padding stripped.
func sectionShortName(s *pe.Section) string {
	name := s.Name
	for i, c := range name {
		if c == 0 {
			return name[:i]
		}
	}
	return name
}

// findSymbolByName does a linear search through the object's symbol table,
// matching obj.rs's resolution of inline-vs-string-table symbol names
// through goblin: debug/pe already resolves long names into Symbol.Name.
func (o *ObjectFile) findSymbolByName(name string) (*pe.Symbol, bool) {
	for _, sym := range o.Coff.Symbols {
		if sym.Name == name {
			return sym, true
		}
	}
	return nil, false
}
