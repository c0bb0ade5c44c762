package main

import (
	"encoding/binary"
	"testing"
)

func TestLoadObjectFileRejectsWrongMachine(t *testing.T) {
	dir := t.TempDir()
	raw := buildCOFFObject(t, ".text", []byte{0, 0, 0, 0}, nil, nil)
	raw[0] = 0x64 // corrupt the machine field away from 0x14c
	path := writeObjectFile(t, dir, "bad.o", raw)

	if _, err := LoadObjectFile(path); err == nil {
		t.Fatal("expected an error loading a non-i386 object")
	}
}

func TestLoadObjectFileAndSections(t *testing.T) {
	dir := t.TempDir()
	raw := buildCOFFObject(t, ".text", []byte{0xAA, 0xBB, 0xCC, 0xDD}, nil,
		[]fixtureSymbol{{name: "helper", value: 0, sectionIndex: 1, storageClass: imageSymClassExternal}})
	path := writeObjectFile(t, dir, "mod.o", raw)

	obj, err := LoadObjectFile(path)
	if err != nil {
		t.Fatalf("LoadObjectFile: %v", err)
	}
	if len(obj.Coff.Sections) != 1 {
		t.Fatalf("expected 1 section, got %d", len(obj.Coff.Sections))
	}
	if got := sectionShortName(obj.Coff.Sections[0]); got != ".text" {
		t.Errorf("section name = %q, want .text", got)
	}
	sym, ok := obj.findSymbolByName("helper")
	if !ok {
		t.Fatal("expected to find symbol helper")
	}
	if sym.SectionNumber != 1 {
		t.Errorf("helper.SectionNumber = %d, want 1", sym.SectionNumber)
	}
}

func TestEndToEndDirectRelocation(t *testing.T) {
	dir := t.TempDir()
	// helper is defined at the start of .text (value 0); a DIR32 relocation
	// at offset 0 targets helper, so the resolved address should land back
	// in the same 4 bytes the relocation patches.
	raw := buildCOFFObject(t, ".text", []byte{0, 0, 0, 0},
		[]fixtureReloc{{offset: 0, symbolIdx: 0, relocType: imageRelI386Dir32}},
		[]fixtureSymbol{{name: "helper", value: 0, sectionIndex: 1, storageClass: imageSymClassExternal}})
	path := writeObjectFile(t, dir, "mod.o", raw)

	obj, err := LoadObjectFile(path)
	if err != nil {
		t.Fatalf("LoadObjectFile: %v", err)
	}

	sectionMap, err := buildSectionMap([]*ObjectFile{obj})
	if err != nil {
		t.Fatalf("buildSectionMap: %v", err)
	}

	base := &XbeImage{}
	sectionMap.assignAddresses(base)
	wantAddr := sectionMap.get(".text").VirtualAddress

	symbols, err := buildSymbolTable(sectionMap, nil, []*ObjectFile{obj})
	if err != nil {
		t.Fatalf("buildSymbolTable: %v", err)
	}
	if got := symbols["helper"]; got != wantAddr {
		t.Fatalf("resolved helper = %s, want %s", got, wantAddr)
	}

	if err := processRelocations(sectionMap, symbols, []*ObjectFile{obj}, NewNullLogger()); err != nil {
		t.Fatalf("processRelocations: %v", err)
	}

	patched := VirtualAddr(binary.LittleEndian.Uint32(sectionMap.get(".text").Bytes[0:4]))
	if patched != wantAddr {
		t.Fatalf("patched bytes = %s, want %s", patched, wantAddr)
	}
}

func TestUnresolvedSymbolIsFatal(t *testing.T) {
	dir := t.TempDir()
	raw := buildCOFFObject(t, ".text", []byte{0, 0, 0, 0},
		[]fixtureReloc{{offset: 0, symbolIdx: 0, relocType: imageRelI386Dir32}},
		[]fixtureSymbol{{name: "missing", value: 0, sectionIndex: 0, storageClass: imageSymClassExternal}})
	path := writeObjectFile(t, dir, "mod.o", raw)

	obj, err := LoadObjectFile(path)
	if err != nil {
		t.Fatalf("LoadObjectFile: %v", err)
	}
	// sectionIndex 0 means undefined external; it never lands in a builder
	// and so never enters the symbol table, which is what we're checking.
	sectionMap, err := buildSectionMap([]*ObjectFile{obj})
	if err != nil {
		t.Fatalf("buildSectionMap: %v", err)
	}
	base := &XbeImage{}
	sectionMap.assignAddresses(base)
	symbols, err := buildSymbolTable(sectionMap, nil, []*ObjectFile{obj})
	if err != nil {
		t.Fatalf("buildSymbolTable: %v", err)
	}
	if err := processRelocations(sectionMap, symbols, []*ObjectFile{obj}, NewNullLogger()); err == nil {
		t.Fatal("expected an unresolved-symbol relocation error")
	}
}
