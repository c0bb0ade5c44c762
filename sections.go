// sections.go - accumulates mod-object bytes into the four merged output
// sections and assigns them virtual addresses in the base XBE.
package main

import (
	"encoding/binary"
	"sort"
)

// outputSectionName maps a raw 8-byte COFF section name to the merged
// output section it belongs to. Anything else is not merged.
func outputSectionName(name string) (string, bool) {
	switch name {
	case ".text":
		return ".mtext", true
	case ".data":
		return ".mdata", true
	case ".bss":
		return ".mbss", true
	case ".rdata":
		return ".mrdata", true
	default:
		return "", false
	}
}

// SectionBuilder accumulates the bytes one output section collects from
// every contributing object file.
type SectionBuilder struct {
	Name           string
	Bytes          []byte
	FileOffsets    map[string]uint32
	VirtualAddress VirtualAddr
}

func newSectionBuilder(name string) *SectionBuilder {
	return &SectionBuilder{Name: name, FileOffsets: make(map[string]uint32)}
}

// addBytes appends a contribution from filename, recording the offset at
// which it begins. A file may contribute to a given builder at most once.
func (b *SectionBuilder) addBytes(filename string, data []byte) error {
	if _, exists := b.FileOffsets[filename]; exists {
		return parseError(filename, "file already contributed to section "+b.Name)
	}
	b.FileOffsets[filename] = uint32(len(b.Bytes))
	b.Bytes = append(b.Bytes, data...)
	return nil
}

// relativeUpdateU32 adds v (wrapping) to the existing little-endian u32
// value stored at filename's contribution plus fileSectionAddress, and
// writes the sum back in place.
func (b *SectionBuilder) relativeUpdateU32(filename string, fileSectionAddress uint32, v uint32) error {
	base, ok := b.FileOffsets[filename]
	if !ok {
		return parseError(filename, "file did not contribute to section "+b.Name)
	}
	pos := base + fileSectionAddress
	if uint64(pos)+4 > uint64(len(b.Bytes)) {
		return parseError(filename, "relocation offset out of range in section "+b.Name)
	}
	existing := binary.LittleEndian.Uint32(b.Bytes[pos:])
	binary.LittleEndian.PutUint32(b.Bytes[pos:], existing+v)
	return nil
}

// relativeUpdateI32 is relativeUpdateU32 with a signed addend, matching
// REL32's two's-complement wrap-around arithmetic.
func (b *SectionBuilder) relativeUpdateI32(filename string, fileSectionAddress uint32, v int32) error {
	return b.relativeUpdateU32(filename, fileSectionAddress, uint32(v))
}

// SectionMap holds one SectionBuilder per merged output-section name.
type SectionMap struct {
	builders map[string]*SectionBuilder
}

func newSectionMap() *SectionMap {
	m := &SectionMap{builders: make(map[string]*SectionBuilder)}
	for _, name := range []string{".mtext", ".mdata", ".mbss", ".mrdata"} {
		m.builders[name] = newSectionBuilder(name)
	}
	return m
}

// buildSectionMap combines the accepted sections of every object in objs,
// in input order, into the corresponding output builders.
func buildSectionMap(objs []*ObjectFile) (*SectionMap, error) {
	m := newSectionMap()
	for _, obj := range objs {
		combined := map[string][]byte{}
		order := []string{}
		for _, sec := range obj.Coff.Sections {
			if sec.Size == 0 {
				continue
			}
			outName, ok := outputSectionName(sectionShortName(sec))
			if !ok {
				continue
			}
			data, err := sec.Data()
			if err != nil {
				return nil, parseError(obj.Path, "failed to read section "+sectionShortName(sec)+": "+err.Error())
			}
			if _, seen := combined[outName]; !seen {
				order = append(order, outName)
			}
			combined[outName] = append(combined[outName], data...)
		}
		for _, outName := range order {
			if err := m.builders[outName].addBytes(obj.Path, combined[outName]); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

// sortedNames returns the builder names in ascending order, the only
// iteration order this package ever uses for addresses or XBE insertion.
func (m *SectionMap) sortedNames() []string {
	names := make([]string, 0, len(m.builders))
	for name := range m.builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// get maps an input section's short name (".text", ".data", ...) to its
// output builder, or nil if that input kind is not merged.
func (m *SectionMap) get(inputName string) *SectionBuilder {
	outName, ok := outputSectionName(inputName)
	if !ok {
		return nil
	}
	return m.builders[outName]
}

// assignAddresses walks the builders in name order, handing each the
// XBE's running next-virtual-address cursor and advancing it past the
// builder's bytes, rounded up to the section address alignment.
func (m *SectionMap) assignAddresses(xbe *XbeImage) {
	cursor := xbe.NextVirtualAddress()
	for _, name := range m.sortedNames() {
		b := m.builders[name]
		b.VirtualAddress = cursor
		cursor = xbe.NextVirtualAddressAfter(cursor + VirtualAddr(len(b.Bytes)))
	}
}

// finalize appends every non-empty builder to xbe as a new section, in
// ascending virtual-address order.
func (m *SectionMap) finalize(xbe *XbeImage) {
	names := m.sortedNames()
	sort.Slice(names, func(i, j int) bool {
		return m.builders[names[i]].VirtualAddress < m.builders[names[j]].VirtualAddress
	})
	for _, name := range names {
		b := m.builders[name]
		if len(b.Bytes) == 0 {
			continue
		}
		flags := SectionPreload
		switch name {
		case ".mtext":
			flags |= SectionExecutable
		case ".mdata", ".mbss":
			flags |= SectionWritable
		}
		xbe.AddSection(name, flags, b.Bytes, b.VirtualAddress, uint32(len(b.Bytes)))
	}
}
