// symbols.go - walks every input object's symbol table and produces a
// name -> virtual-address mapping, consulting the patch configuration for
// symbols whose defining section was never merged.
package main

import "debug/pe"

// SymbolTable maps a symbol name to its resolved virtual address.
type SymbolTable map[string]VirtualAddr

// buildSymbolTable resolves every symbol in patches (processed first) and
// then mods, so mod definitions take precedence over patch-file references
// sharing the same name.
func buildSymbolTable(sectionMap *SectionMap, patches []PatchConfig, mods []*ObjectFile) (SymbolTable, error) {
	table := make(SymbolTable)

	objs := make([]*ObjectFile, 0, len(patches)+len(mods))
	for _, p := range patches {
		objs = append(objs, p.patchObject)
	}
	objs = append(objs, mods...)

	for _, obj := range objs {
		if err := resolveObjectSymbols(obj, sectionMap, patches, table); err != nil {
			return nil, err
		}
	}
	return table, nil
}

func resolveObjectSymbols(obj *ObjectFile, sectionMap *SectionMap, patches []PatchConfig, table SymbolTable) error {
	for _, sym := range obj.Coff.Symbols {
		switch {
		case sym.SectionNumber == 0:
			// Undefined external; may be resolved via another object or a
			// patch fallback later. Not an error on its own.
			continue
		case sym.SectionNumber < 0:
			// Absolute or debug symbol.
			continue
		}

		sec := obj.Coff.Sections[sym.SectionNumber-1]
		builder := sectionMap.get(sectionShortName(sec))
		if builder == nil {
			continue
		}

		switch sym.StorageClass {
		case imageSymClassExternal:
			addr, resolved := resolveExternal(obj, sym, builder, patches)
			if resolved {
				table[sym.Name] = addr
			}
		case imageSymClassStatic:
			if offset, ok := builder.FileOffsets[obj.Path]; ok {
				table[sym.Name] = VirtualAddr(offset) + builder.VirtualAddress
			}
		case imageSymClassFile:
			continue
		default:
			return unsupportedError(obj.Path, "symbol storage class not implemented")
		}
	}
	return nil
}

func resolveExternal(obj *ObjectFile, sym *pe.Symbol, builder *SectionBuilder, patches []PatchConfig) (VirtualAddr, bool) {
	offset, contributes := builder.FileOffsets[obj.Path]

	const functionType = 0x20
	if sym.Type == functionType {
		if contributes {
			return VirtualAddr(offset+sym.Value) + builder.VirtualAddress, true
		}
		for _, p := range patches {
			if p.StartSymbol == sym.Name {
				return p.VirtualAddress, true
			}
		}
		return 0, false
	}

	if sym.SectionNumber > 0 {
		if contributes {
			return VirtualAddr(offset+sym.Value) + builder.VirtualAddress, true
		}
		return 0, false
	}

	return 0, false
}
