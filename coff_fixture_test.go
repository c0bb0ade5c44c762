package main

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

// fixtureReloc describes one relocation entry to embed in a built object.
type fixtureReloc struct {
	offset     uint32
	symbolIdx  uint32
	relocType  uint16
}

// fixtureSymbol describes one symbol table entry, name must be <= 8 bytes
// (these fixtures never need the string table).
type fixtureSymbol struct {
	name         string
	value        uint32
	sectionIndex int16 // 1-based, matching COFF SectionNumber
	symType      uint16
	storageClass uint8
}

// buildCOFFObject assembles a minimal i386 COFF object file: one section
// named sectionName holding data, followed by relocs and symbols. This
// hand-rolled byte layout mirrors what a real `as`/`cl /c` emits closely
// enough for debug/pe to parse it as an object (no PE/DOS header, straight
// COFFFileHeader at offset 0).
func buildCOFFObject(t *testing.T, sectionName string, data []byte, relocs []fixtureReloc, symbols []fixtureSymbol) []byte {
	t.Helper()

	const (
		headerSize   = 20
		sectionHdrSz = 40
		relocSz      = 10
		symbolSz     = 18
	)

	sectionHeaderOffset := uint32(headerSize)
	rawDataOffset := sectionHeaderOffset + sectionHdrSz
	relocOffset := rawDataOffset + uint32(len(data))
	symbolTableOffset := relocOffset + uint32(len(relocs))*relocSz

	buf := &bytes.Buffer{}
	w16 := func(v uint16) { var b [2]byte; binary.LittleEndian.PutUint16(b[:], v); buf.Write(b[:]) }
	w32 := func(v uint32) { var b [4]byte; binary.LittleEndian.PutUint32(b[:], v); buf.Write(b[:]) }

	// COFFFileHeader
	w16(0x14c) // IMAGE_FILE_MACHINE_I386
	w16(1)     // NumberOfSections
	w32(0)     // TimeDateStamp
	w32(symbolTableOffset)
	w32(uint32(len(symbols)))
	w16(0) // SizeOfOptionalHeader
	w16(0) // Characteristics

	// Section header
	var name [8]byte
	copy(name[:], sectionName)
	buf.Write(name[:])
	w32(0) // VirtualSize
	w32(0) // VirtualAddress
	w32(uint32(len(data)))
	w32(rawDataOffset)
	w32(relocOffset)
	w32(0) // PointerToLinenumbers
	w16(uint16(len(relocs)))
	w16(0) // NumberOfLinenumbers
	w32(0x60000020)

	// Raw section data
	buf.Write(data)

	// Relocations
	for _, r := range relocs {
		w32(r.offset)
		w32(r.symbolIdx)
		w16(r.relocType)
	}

	// Symbol table
	for _, s := range symbols {
		var sname [8]byte
		copy(sname[:], s.name)
		buf.Write(sname[:])
		w32(s.value)
		var sn [2]byte
		binary.LittleEndian.PutUint16(sn[:], uint16(s.sectionIndex))
		buf.Write(sn[:])
		w16(s.symType)
		buf.WriteByte(s.storageClass)
		buf.WriteByte(0) // NumberOfAuxSymbols
	}

	// Empty string table (length prefix only, covers itself).
	w32(4)

	return buf.Bytes()
}

// writeObjectFile materializes raw object bytes under dir/name and returns
// the full path, for use with LoadObjectFile (which reads from a path).
func writeObjectFile(t *testing.T, dir, name string, raw []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("writing fixture object %s: %v", path, err)
	}
	return path
}
