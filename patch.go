// patch.go - applies a single patch object's bytes into a fixed virtual
// address window of the base XBE, after re-linking the patch object in
// place against the global symbol table.
package main

// PatchConfig is one configured patch: an object file, the pair of symbols
// bounding the bytes to copy, and the virtual address to copy them to.
type PatchConfig struct {
	PatchfilePath  string
	StartSymbol    string
	EndSymbol      string
	VirtualAddress VirtualAddr

	patchObject *ObjectFile
}

// applyPatch resolves start/end within the patch object, re-links the
// object's containing section in place at VirtualAddress using the global
// symbol table, and overwrites the corresponding window of xbe.
func applyPatch(p *PatchConfig, xbe *XbeImage, symbols SymbolTable, logger *Logger) error {
	obj := p.patchObject

	start, ok := obj.findSymbolByName(p.StartSymbol)
	if !ok {
		return patchError(p.PatchfilePath, p.StartSymbol, uint32(p.VirtualAddress), "undefined start symbol")
	}
	end, ok := obj.findSymbolByName(p.EndSymbol)
	if !ok {
		return patchError(p.PatchfilePath, p.EndSymbol, uint32(p.VirtualAddress), "undefined end symbol")
	}
	if start.SectionNumber != end.SectionNumber {
		return patchError(p.PatchfilePath, p.StartSymbol, uint32(p.VirtualAddress), "start and end symbols are in different sections")
	}
	if start.SectionNumber <= 0 {
		return patchError(p.PatchfilePath, p.StartSymbol, uint32(p.VirtualAddress), "start symbol is not defined in a concrete section")
	}

	sec := obj.Coff.Sections[start.SectionNumber-1]
	secName := sectionShortName(sec)

	private, err := buildSectionMap([]*ObjectFile{obj})
	if err != nil {
		return err
	}
	builder := private.get(secName)
	if builder == nil {
		return patchError(p.PatchfilePath, p.StartSymbol, uint32(p.VirtualAddress), "patch section "+secName+" is not a mergeable section kind")
	}
	builder.VirtualAddress = p.VirtualAddress

	if err := processRelocations(private, symbols, []*ObjectFile{obj}, logger); err != nil {
		return err
	}

	if end.Value < start.Value {
		return patchError(p.PatchfilePath, p.StartSymbol, uint32(p.VirtualAddress), "end symbol precedes start symbol")
	}
	length := end.Value - start.Value
	dst, err := xbe.GetBytesMut(p.VirtualAddress, p.VirtualAddress+VirtualAddr(length))
	if err != nil {
		return patchError(p.PatchfilePath, p.StartSymbol, uint32(p.VirtualAddress), "virtual address is unused by the given XBE")
	}

	if uint64(start.Value)+uint64(length) > uint64(len(builder.Bytes)) {
		return patchError(p.PatchfilePath, p.StartSymbol, uint32(p.VirtualAddress), "patch byte range exceeds its section")
	}
	copy(dst, builder.Bytes[start.Value:start.Value+length])
	return nil
}
