// reloc.go - evaluates x86 COFF relocations against the resolved symbol
// table and writes the fix-ups into a section builder's accumulated bytes.
package main

import "debug/pe"

// processRelocations walks every relocation in every accepted section of
// every object in objs, applying each against sectionMap using symbols.
// A relocation whose containing section has no output builder is skipped
// with a warning; everything else failing is fatal.
func processRelocations(sectionMap *SectionMap, symbols SymbolTable, objs []*ObjectFile, logger *Logger) error {
	for _, obj := range objs {
		for _, sec := range obj.Coff.Sections {
			builder := sectionMap.get(sectionShortName(sec))
			if builder == nil {
				if len(sec.Relocs) > 0 {
					logger.Warnf("skipping relocations in discarded section %q of %s", sectionShortName(sec), obj.Path)
				}
				continue
			}
			for _, reloc := range sec.Relocs {
				if err := applyRelocation(obj, builder, reloc, symbols); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func applyRelocation(obj *ObjectFile, builder *SectionBuilder, reloc pe.Reloc, symbols SymbolTable) error {
	if int(reloc.SymbolTableIndex) >= len(obj.Coff.Symbols) {
		return relocationError(obj.Path, "", "relocation references out-of-range symbol index")
	}
	sym := obj.Coff.Symbols[reloc.SymbolTableIndex]

	addr, ok := symbols[sym.Name]
	if !ok {
		return relocationError(obj.Path, sym.Name, "unresolved symbol in relocation")
	}

	switch reloc.Type {
	case imageRelI386Dir32:
		return builder.relativeUpdateU32(obj.Path, reloc.VirtualAddress, uint32(addr))
	case imageRelI386Rel32:
		fileOffset, ok := builder.FileOffsets[obj.Path]
		if !ok {
			return relocationError(obj.Path, sym.Name, "relocation in a file that contributed no bytes to its section")
		}
		from := VirtualAddr(fileOffset+reloc.VirtualAddress+4) + builder.VirtualAddress
		addend := int32(addr) - int32(from)
		return builder.relativeUpdateI32(obj.Path, reloc.VirtualAddress, addend)
	default:
		return relocationError(obj.Path, sym.Name, "unsupported relocation type")
	}
}
