package main

import (
	"encoding/binary"
	"errors"
	"testing"
)

func TestRel32Formula(t *testing.T) {
	dir := t.TempDir()
	raw := buildCOFFObject(t, ".text", []byte{0, 0, 0, 0},
		[]fixtureReloc{{offset: 0, symbolIdx: 0, relocType: imageRelI386Rel32}},
		[]fixtureSymbol{{name: "target", value: 0, sectionIndex: 0, storageClass: imageSymClassExternal}})
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
	v := sectionMap.get(".text").VirtualAddress

	symbols := SymbolTable{"target": v + 100}
	if err := processRelocations(sectionMap, symbols, []*ObjectFile{obj}, NewNullLogger()); err != nil {
		t.Fatalf("processRelocations: %v", err)
	}

	// from = fileOffset(0) + reloc.VirtualAddress(0) + v + 4; addend = (v+100) - from = 96.
	got := int32(binary.LittleEndian.Uint32(sectionMap.get(".text").Bytes[0:4]))
	if got != 96 {
		t.Fatalf("REL32 addend = %d, want 96", got)
	}
}

func TestUnsupportedRelocationTypeIsFatal(t *testing.T) {
	dir := t.TempDir()
	raw := buildCOFFObject(t, ".text", []byte{0, 0, 0, 0},
		[]fixtureReloc{{offset: 0, symbolIdx: 0, relocType: 0x0A}}, // IMAGE_REL_I386_SECTION, unsupported
		[]fixtureSymbol{{name: "target", value: 0, sectionIndex: 1, storageClass: imageSymClassExternal}})
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
	symbols, err := buildSymbolTable(sectionMap, nil, []*ObjectFile{obj})
	if err != nil {
		t.Fatalf("buildSymbolTable: %v", err)
	}

	err = processRelocations(sectionMap, symbols, []*ObjectFile{obj}, NewNullLogger())
	if err == nil {
		t.Fatal("expected an error for an unsupported relocation type")
	}
	var le *LinkError
	if !errors.As(err, &le) {
		t.Fatalf("expected a *LinkError, got %T: %v", err, err)
	}
	if le.Kind != KindRelocation {
		t.Errorf("error kind = %v, want %v", le.Kind, KindRelocation)
	}
}
