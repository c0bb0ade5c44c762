// xbe.go - XBE container codec: load, serialize, and section/address bookkeeping.
//
// An XbeImage owns the full header metadata needed to reproduce every
// pointer field on demand (certificate/section-table/name/debug/logo
// addresses), plus an ordered list of sections. Loading preserves each
// section's already-assigned virtual and raw address; only the header's
// own pointer fields are recomputed on Serialize, since those shift
// whenever the section count or name-table size changes.
package main

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	xbeMagic          = "XBEH"
	xbeBaseAddress    = 0x10000
	imageHeaderSize   = 0x184
	certificateSize   = 0x1ec
	sectionHeaderSize = 0x38
	libraryVersionSize = 0x10
	sectionAddrAlign  = 0x20
	pageSize          = 0x1000
)

// SectionFlags mirrors the XBE section-header bitfield.
type SectionFlags uint32

const (
	SectionWritable         SectionFlags = 0x1
	SectionPreload          SectionFlags = 0x2
	SectionExecutable       SectionFlags = 0x4
	SectionInsertedFile     SectionFlags = 0x8
	SectionHeadPageReadOnly SectionFlags = 0x10
	SectionTailPageReadOnly SectionFlags = 0x20
)

// Section is one entry of the XBE's section table, in memory.
type Section struct {
	Name           string
	Flags          SectionFlags
	Data           []byte
	VirtualAddress VirtualAddr
	VirtualSize    uint32
	RawAddress     uint32
	Digest         [20]byte
}

// LibraryVersion is a single XBE library-version table entry.
type LibraryVersion struct {
	Name  [8]byte
	Major uint16
	Minor uint16
	Build uint16
	Flags uint16
}

// Header holds the image-header and certificate fields that are copied
// through unchanged on Serialize; every field NOT here (certificate
// address, section-headers address, and the rest of the header-region
// pointers) is derived fresh from the current section list.
type Header struct {
	DigitalSignature [256]byte

	TimeDate                         uint32
	InitializationFlags              uint32
	EntryPoint                       uint32
	TlsAddress                       uint32
	PEStackCommit                    uint32
	PEHeapReserve                    uint32
	PEHeadCommit                     uint32
	PEBaseAddress                    uint32
	PESizeOfImage                    uint32
	PEChecksum                       uint32
	PETimeDate                       uint32
	KernelImageThunkAddress          uint32
	NonKernelImportDirectoryAddress  uint32

	DebugPathname         string
	DebugUnicodeFilename  string

	CertTimeDate           uint32
	TitleID                uint32
	TitleName              [0x50]byte
	AlternateTitleIDs      [0x40]byte
	AllowedMedia           uint32
	GameRegion             uint32
	GameRatings            uint32
	DiskNumber             uint32
	CertVersion            uint32
	LanKey                 [0x10]byte
	SignatureKey           [0x10]byte
	AlternateSignatureKeys [0x100]byte
	CertUnknown            []byte
}

// XbeImage is a loaded (or freshly assembled) XBE container.
type XbeImage struct {
	Header          Header
	Sections        []Section
	LibraryVersions []LibraryVersion
	LogoBitmap      []byte
}

// LoadXbe parses a complete XBE image from memory.
func LoadXbe(data []byte) (*XbeImage, error) {
	if len(data) < imageHeaderSize {
		return nil, parseError("", "truncated image header")
	}
	if string(data[0:4]) != xbeMagic {
		return nil, parseError("", "bad magic at offset 0")
	}

	var sig [256]byte
	copy(sig[:], data[4:260])

	r := newCursor(data, 260)
	baseAddress := r.u32()
	_ = r.u32() // size_of_headers, recomputed on Serialize
	_ = r.u32() // size_of_image, recomputed on Serialize
	sizeOfImageHeader := r.u32()
	timeDate := r.u32()
	certificateAddress := r.u32()
	numberOfSections := r.u32()
	sectionHeadersAddress := r.u32()
	initFlags := r.u32()
	entryPoint := r.u32()
	tlsAddress := r.u32()
	peStackCommit := r.u32()
	peHeapReserve := r.u32()
	peHeadCommit := r.u32()
	peBaseAddress := r.u32()
	peSizeOfImage := r.u32()
	peChecksum := r.u32()
	peTimeDate := r.u32()
	_ = r.u32() // debug_pathname_address, recomputed
	_ = r.u32() // debug_filename_address, recomputed
	_ = r.u32() // debug_unicode_filename_address, recomputed
	kernelImageThunkAddress := r.u32()
	nonKernelImportDirectoryAddress := r.u32()
	numberOfLibraryVersions := r.u32()
	_ = r.u32() // library_versions_address, recomputed
	_ = r.u32() // kernel_library_version_address, recomputed below from name lookup
	_ = r.u32() // xapi_library_version_address, recomputed below from name lookup
	_ = r.u32() // logo_bitmap_address, recomputed
	logoBitmapSize := r.u32()
	if r.err != nil {
		return nil, parseError("", "truncated image header fields")
	}
	if sizeOfImageHeader != imageHeaderSize {
		return nil, parseError("", fmt.Sprintf("unexpected size_of_image_header 0x%x", sizeOfImageHeader))
	}

	fileOffset := func(virtualAddress uint32) int {
		return int(virtualAddress - baseAddress)
	}

	// Certificate
	certStart := fileOffset(certificateAddress)
	if certStart < 0 || certStart+4 > len(data) {
		return nil, parseError("", "certificate out of range")
	}
	certSize := binary.LittleEndian.Uint32(data[certStart:])
	if certStart+int(certSize) > len(data) {
		return nil, parseError("", "certificate overruns image")
	}
	cr := newCursor(data, certStart)
	_ = cr.u32() // size, implied by certSize
	certTimeDate := cr.u32()
	titleID := cr.u32()
	var titleName [0x50]byte
	cr.bytes(titleName[:])
	var altTitleIDs [0x40]byte
	cr.bytes(altTitleIDs[:])
	allowedMedia := cr.u32()
	gameRegion := cr.u32()
	gameRatings := cr.u32()
	diskNumber := cr.u32()
	certVersion := cr.u32()
	var lanKey [0x10]byte
	cr.bytes(lanKey[:])
	var sigKey [0x10]byte
	cr.bytes(sigKey[:])
	var altSigKeys [0x100]byte
	cr.bytes(altSigKeys[:])
	fixedCertLen := 0x1d0
	unknownLen := int(certSize) - fixedCertLen
	if unknownLen < 0 {
		return nil, parseError("", "certificate size shorter than fixed fields")
	}
	certUnknown := make([]byte, unknownLen)
	cr.bytes(certUnknown)
	if cr.err != nil {
		return nil, parseError("", "truncated certificate")
	}

	// Section headers
	shStart := fileOffset(sectionHeadersAddress)
	type rawSectionHeader struct {
		flags                            uint32
		virtualAddress                   uint32
		virtualSize                      uint32
		rawAddress                       uint32
		rawSize                          uint32
		nameAddress                      uint32
		nameRefCount                     uint32
		headSharedPageRefCountAddress    uint32
		tailSharedPageRefCountAddress    uint32
		digest                           [20]byte
	}
	sr := newCursor(data, shStart)
	rawHeaders := make([]rawSectionHeader, numberOfSections)
	for i := range rawHeaders {
		rawHeaders[i].flags = sr.u32()
		rawHeaders[i].virtualAddress = sr.u32()
		rawHeaders[i].virtualSize = sr.u32()
		rawHeaders[i].rawAddress = sr.u32()
		rawHeaders[i].rawSize = sr.u32()
		rawHeaders[i].nameAddress = sr.u32()
		rawHeaders[i].nameRefCount = sr.u32()
		rawHeaders[i].headSharedPageRefCountAddress = sr.u32()
		rawHeaders[i].tailSharedPageRefCountAddress = sr.u32()
		sr.bytes(rawHeaders[i].digest[:])
	}
	if sr.err != nil {
		return nil, parseError("", "truncated section headers")
	}
	// 2*N+2 zero bytes (shared-page reference counters), skipped on load.
	sr.skip(2*int(numberOfSections) + 2)

	names := make([]string, numberOfSections)
	for i := range names {
		names[i] = sr.cString()
	}
	if sr.err != nil {
		return nil, parseError("", "truncated section name table")
	}
	sr.align(4)

	libVersions := make([]LibraryVersion, numberOfLibraryVersions)
	for i := range libVersions {
		sr.bytes(libVersions[i].Name[:])
		libVersions[i].Major = sr.u16()
		libVersions[i].Minor = sr.u16()
		libVersions[i].Build = sr.u16()
		libVersions[i].Flags = sr.u16()
	}
	if sr.err != nil {
		return nil, parseError("", "truncated library-version table")
	}

	debugUnicodeFilename := sr.utf16String()
	debugPathname := sr.cString()
	if sr.err != nil {
		return nil, parseError("", "truncated debug strings")
	}

	logoStart := sr.pos
	if logoStart+int(logoBitmapSize) > len(data) {
		return nil, parseError("", "logo bitmap overruns image")
	}
	logoBitmap := make([]byte, logoBitmapSize)
	copy(logoBitmap, data[logoStart:logoStart+int(logoBitmapSize)])

	sections := make([]Section, numberOfSections)
	for i, rh := range rawHeaders {
		if int(rh.rawAddress)+int(rh.rawSize) > len(data) {
			return nil, parseError("", fmt.Sprintf("section %d raw data overruns image", i))
		}
		buf := make([]byte, rh.rawSize)
		copy(buf, data[rh.rawAddress:int(rh.rawAddress)+int(rh.rawSize)])
		sections[i] = Section{
			Name:           trimNulName(names[i]),
			Flags:          SectionFlags(rh.flags),
			Data:           buf,
			VirtualAddress: VirtualAddr(rh.virtualAddress),
			VirtualSize:    rh.virtualSize,
			RawAddress:     rh.rawAddress,
			Digest:         rh.digest,
		}
	}

	return &XbeImage{
		Header: Header{
			DigitalSignature:                sig,
			TimeDate:                        timeDate,
			InitializationFlags:             initFlags,
			EntryPoint:                      entryPoint,
			TlsAddress:                      tlsAddress,
			PEStackCommit:                   peStackCommit,
			PEHeapReserve:                   peHeapReserve,
			PEHeadCommit:                    peHeadCommit,
			PEBaseAddress:                   peBaseAddress,
			PESizeOfImage:                   peSizeOfImage,
			PEChecksum:                      peChecksum,
			PETimeDate:                      peTimeDate,
			KernelImageThunkAddress:         kernelImageThunkAddress,
			NonKernelImportDirectoryAddress: nonKernelImportDirectoryAddress,
			DebugPathname:                   debugPathname,
			DebugUnicodeFilename:            debugUnicodeFilename,
			CertTimeDate:                    certTimeDate,
			TitleID:                         titleID,
			TitleName:                       titleName,
			AlternateTitleIDs:               altTitleIDs,
			AllowedMedia:                    allowedMedia,
			GameRegion:                      gameRegion,
			GameRatings:                     gameRatings,
			DiskNumber:                      diskNumber,
			CertVersion:                     certVersion,
			LanKey:                          lanKey,
			SignatureKey:                    sigKey,
			AlternateSignatureKeys:          altSigKeys,
			CertUnknown:                     certUnknown,
		},
		Sections:        sections,
		LibraryVersions: libVersions,
		LogoBitmap:      logoBitmap,
	}, nil
}

func trimNulName(s string) string {
	if i := bytes.IndexByte([]byte(s), 0); i >= 0 {
		return s[:i]
	}
	return s
}

// NextVirtualAddress returns the first 32-byte-aligned virtual address
// after the current last section, or 0 if there are no sections.
func (x *XbeImage) NextVirtualAddress() VirtualAddr {
	if len(x.Sections) == 0 {
		return 0
	}
	var end VirtualAddr
	for _, s := range x.Sections {
		if e := s.VirtualAddress + VirtualAddr(s.VirtualSize); e > end {
			end = e
		}
	}
	return VirtualAddr(alignUp(uint32(end), sectionAddrAlign))
}

// NextVirtualAddressAfter rounds addr up to the next multiple of 32.
func (x *XbeImage) NextVirtualAddressAfter(addr VirtualAddr) VirtualAddr {
	return VirtualAddr(alignUp(uint32(addr), sectionAddrAlign))
}

func (x *XbeImage) nextRawAddress(size uint32) uint32 {
	var end uint32 = pageSize
	for _, s := range x.Sections {
		if e := s.RawAddress + uint32(len(s.Data)); e > end {
			end = e
		}
	}
	return alignUp(end, pageSize)
}

// AddSection appends a new section to the image. Its raw_address is placed
// immediately after all existing sections' data, padded to the next 0x1000
// boundary.
func (x *XbeImage) AddSection(name string, flags SectionFlags, data []byte, virtualAddress VirtualAddr, virtualSize uint32) {
	raw := x.nextRawAddress(uint32(len(data)))
	x.Sections = append(x.Sections, Section{
		Name:           trimNulName(name),
		Flags:          flags,
		Data:           data,
		VirtualAddress: virtualAddress,
		VirtualSize:    virtualSize,
		RawAddress:     raw,
	})
}

// GetBytesMut returns a mutable slice into the section whose virtual extent
// fully contains [start, end).
func (x *XbeImage) GetBytesMut(start, end VirtualAddr) ([]byte, error) {
	for i := range x.Sections {
		s := &x.Sections[i]
		if s.VirtualAddress <= start && s.VirtualAddress+VirtualAddr(s.VirtualSize) >= end {
			return s.Data[start-s.VirtualAddress : end-s.VirtualAddress], nil
		}
	}
	return nil, fmt.Errorf("virtual address range [%s, %s) is not covered by any section", start, end)
}

func findLibrary(libs []LibraryVersion, name string) (int, bool) {
	for i, l := range libs {
		n := string(bytes.TrimRight(l.Name[:], "\x00"))
		if n == name {
			return i, true
		}
	}
	return -1, false
}

// Serialize produces a complete XBE image, recomputing every header-region
// pointer field from the current section list. Each section's own
// virtual/raw address is taken as already assigned (by Load or AddSection)
// and is not touched here.
func (x *XbeImage) Serialize() ([]byte, error) {
	n := uint32(len(x.Sections))

	nameBlob := &bytes.Buffer{}
	nameOffsets := make([]uint32, n)
	for i, s := range x.Sections {
		nameOffsets[i] = uint32(nameBlob.Len())
		nameBlob.WriteString(s.Name)
		nameBlob.WriteByte(0)
	}
	// Fixed certificate fields (0x1d0 bytes) plus the preserved trailing bytes.
	certSize := uint32(0x1d0 + len(x.Header.CertUnknown))
	sectionHeadersAddress := uint32(xbeBaseAddress+imageHeaderSize) + certSize
	afterHeaders := sectionHeadersAddress + n*sectionHeaderSize + (2*n + 2)
	nameTableAddress := afterHeaders
	// Pad the name table so the library-version array starts on an absolute
	// 4-byte boundary, which is where LoadXbe looks for it.
	nameBlobPadded := alignUp(nameTableAddress+uint32(nameBlob.Len()), 4) - nameTableAddress
	libraryVersionsAddress := nameTableAddress + nameBlobPadded
	libraryVersionsSize := uint32(len(x.LibraryVersions)) * libraryVersionSize
	debugUnicodeFilenameAddress := libraryVersionsAddress + libraryVersionsSize
	unicodeFilenameSize := uint32((len(x.Header.DebugUnicodeFilename) + 1) * 2)
	debugPathnameAddress := debugUnicodeFilenameAddress + unicodeFilenameSize
	backslash := lastIndexByte(x.Header.DebugPathname, '\\')
	debugFilenameAddress := debugPathnameAddress + uint32(backslash+1)
	debugPathnameSize := uint32(len(x.Header.DebugPathname) + 1)
	logoBitmapAddress := debugPathnameAddress + debugPathnameSize
	logoBitmapSize := uint32(len(x.LogoBitmap))

	sizeOfHeaders := alignUp(logoBitmapAddress+logoBitmapSize-xbeBaseAddress, 4)

	kernelIdx, ok := findLibrary(x.LibraryVersions, "XBOXKRNL")
	if !ok {
		return nil, parseError("", "library-version table is missing the XBOXKRNL entry")
	}
	xapiIdx, ok := findLibrary(x.LibraryVersions, "XAPILIB")
	if !ok {
		return nil, parseError("", "library-version table is missing the XAPILIB entry")
	}
	kernelLibraryVersionAddress := libraryVersionsAddress + uint32(kernelIdx)*libraryVersionSize
	xapiLibraryVersionAddress := libraryVersionsAddress + uint32(xapiIdx)*libraryVersionSize

	var lastEnd VirtualAddr
	for _, s := range x.Sections {
		if e := s.VirtualAddress + VirtualAddr(s.VirtualSize); e > lastEnd {
			lastEnd = e
		}
	}
	sizeOfImage := uint32(lastEnd) - xbeBaseAddress

	out := &bytes.Buffer{}
	out.WriteString(xbeMagic)
	out.Write(x.Header.DigitalSignature[:])

	w32 := func(v uint32) { var b [4]byte; binary.LittleEndian.PutUint32(b[:], v); out.Write(b[:]) }
	w32(xbeBaseAddress)
	w32(sizeOfHeaders)
	w32(sizeOfImage)
	w32(imageHeaderSize)
	w32(x.Header.TimeDate)
	w32(uint32(xbeBaseAddress + imageHeaderSize))
	w32(n)
	w32(sectionHeadersAddress)
	w32(x.Header.InitializationFlags)
	w32(x.Header.EntryPoint)
	w32(x.Header.TlsAddress)
	w32(x.Header.PEStackCommit)
	w32(x.Header.PEHeapReserve)
	w32(x.Header.PEHeadCommit)
	w32(x.Header.PEBaseAddress)
	w32(x.Header.PESizeOfImage)
	w32(x.Header.PEChecksum)
	w32(x.Header.PETimeDate)
	w32(debugPathnameAddress)
	w32(debugFilenameAddress)
	w32(debugUnicodeFilenameAddress)
	w32(x.Header.KernelImageThunkAddress)
	w32(x.Header.NonKernelImportDirectoryAddress)
	w32(uint32(len(x.LibraryVersions)))
	w32(libraryVersionsAddress)
	w32(kernelLibraryVersionAddress)
	w32(xapiLibraryVersionAddress)
	w32(logoBitmapAddress)
	w32(logoBitmapSize)

	padTo(out, imageHeaderSize-out.Len())

	// Certificate
	w32(certSize)
	w32(x.Header.CertTimeDate)
	w32(x.Header.TitleID)
	out.Write(x.Header.TitleName[:])
	out.Write(x.Header.AlternateTitleIDs[:])
	w32(x.Header.AllowedMedia)
	w32(x.Header.GameRegion)
	w32(x.Header.GameRatings)
	w32(x.Header.DiskNumber)
	w32(x.Header.CertVersion)
	out.Write(x.Header.LanKey[:])
	out.Write(x.Header.SignatureKey[:])
	out.Write(x.Header.AlternateSignatureKeys[:])
	out.Write(x.Header.CertUnknown)

	// Section headers
	for i, s := range x.Sections {
		w32(uint32(s.Flags))
		w32(uint32(s.VirtualAddress))
		w32(s.VirtualSize)
		w32(s.RawAddress)
		w32(uint32(len(s.Data)))
		w32(nameTableAddress + nameOffsets[i])
		w32(0) // section_name_reference_count
		w32(0) // head_shared_page_reference_count_address
		w32(0) // tail_shared_page_reference_count_address
		out.Write(s.Digest[:])
	}
	// shared-page reference counters
	out.Write(make([]byte, 2*int(n)+2))

	// section names
	out.Write(nameBlob.Bytes())
	padTo(out, int(nameBlobPadded)-nameBlob.Len())

	// library versions
	for _, lv := range x.LibraryVersions {
		out.Write(lv.Name[:])
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], lv.Major)
		out.Write(b[:])
		binary.LittleEndian.PutUint16(b[:], lv.Minor)
		out.Write(b[:])
		binary.LittleEndian.PutUint16(b[:], lv.Build)
		out.Write(b[:])
		binary.LittleEndian.PutUint16(b[:], lv.Flags)
		out.Write(b[:])
	}

	writeUTF16NulTerminated(out, x.Header.DebugUnicodeFilename)
	out.WriteString(x.Header.DebugPathname)
	out.WriteByte(0)
	out.Write(x.LogoBitmap)

	padToAlignment(out, pageSize)

	sorted := append([]Section(nil), x.Sections...)
	sortSectionsByRawAddress(sorted)
	for _, s := range sorted {
		gap := int(s.RawAddress) - out.Len()
		if gap > 0 {
			out.Write(make([]byte, gap))
		}
		out.Write(s.Data)
		padToAlignment(out, pageSize)
	}

	return out.Bytes(), nil
}

func sortSectionsByRawAddress(sections []Section) {
	for i := 1; i < len(sections); i++ {
		for j := i; j > 0 && sections[j].RawAddress < sections[j-1].RawAddress; j-- {
			sections[j], sections[j-1] = sections[j-1], sections[j]
		}
	}
}

func lastIndexByte(s string, b byte) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func padTo(buf *bytes.Buffer, n int) {
	if n > 0 {
		buf.Write(make([]byte, n))
	}
}

func padToAlignment(buf *bytes.Buffer, align int) {
	cur := buf.Len()
	target := (cur + align - 1) &^ (align - 1)
	if target > cur {
		buf.Write(make([]byte, target-cur))
	}
}

func writeUTF16NulTerminated(buf *bytes.Buffer, s string) {
	for _, r := range s {
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(r))
		buf.Write(b[:])
	}
	buf.Write([]byte{0, 0})
}
