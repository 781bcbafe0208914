package linker

import (
	"bytes"
	"encoding/binary"
	"strconv"
	"strings"
)

const (
	FileHeaderSize    = 20
	SectionHeaderSize = 40
	SymbolSize        = 18
	RelocSize         = 10
)

const (
	IMAGE_FILE_MACHINE_UNKNOWN = 0x0
	IMAGE_FILE_MACHINE_I386    = 0x14c
	IMAGE_FILE_MACHINE_AMD64   = 0x8664
)

const IMAGE_FILE_LINE_NUMS_STRIPPED = 0x0004

const (
	IMAGE_SCN_TYPE_NO_PAD            = 0x00000008
	IMAGE_SCN_CNT_CODE               = 0x00000020
	IMAGE_SCN_CNT_INITIALIZED_DATA   = 0x00000040
	IMAGE_SCN_CNT_UNINITIALIZED_DATA = 0x00000080
	IMAGE_SCN_LNK_INFO               = 0x00000200
	IMAGE_SCN_LNK_REMOVE             = 0x00000800
	IMAGE_SCN_LNK_COMDAT             = 0x00001000
	IMAGE_SCN_ALIGN_MASK             = 0x00F00000
	IMAGE_SCN_LNK_NRELOC_OVFL        = 0x01000000
	IMAGE_SCN_MEM_DISCARDABLE        = 0x02000000
	IMAGE_SCN_MEM_EXECUTE            = 0x20000000
	IMAGE_SCN_MEM_READ               = 0x40000000
	IMAGE_SCN_MEM_WRITE              = 0x80000000
)

const (
	IMAGE_SYM_UNDEFINED = 0
	IMAGE_SYM_ABSOLUTE  = -1
	IMAGE_SYM_DEBUG     = -2
)

const (
	IMAGE_SYM_CLASS_EXTERNAL      = 2
	IMAGE_SYM_CLASS_STATIC        = 3
	IMAGE_SYM_CLASS_LABEL         = 6
	IMAGE_SYM_CLASS_FUNCTION      = 101
	IMAGE_SYM_CLASS_FILE          = 103
	IMAGE_SYM_CLASS_SECTION       = 104
	IMAGE_SYM_CLASS_WEAK_EXTERNAL = 105
)

const (
	IMAGE_COMDAT_SELECT_NODUPLICATES = 1
	IMAGE_COMDAT_SELECT_ANY          = 2
	IMAGE_COMDAT_SELECT_SAME_SIZE    = 3
	IMAGE_COMDAT_SELECT_EXACT_MATCH  = 4
	IMAGE_COMDAT_SELECT_ASSOCIATIVE  = 5
	IMAGE_COMDAT_SELECT_LARGEST      = 6
)

const (
	IMAGE_REL_AMD64_ADDR64   = 0x1
	IMAGE_REL_AMD64_ADDR32   = 0x2
	IMAGE_REL_AMD64_ADDR32NB = 0x3
	IMAGE_REL_AMD64_REL32    = 0x4
	IMAGE_REL_AMD64_REL32_1  = 0x5
	IMAGE_REL_AMD64_REL32_2  = 0x6
	IMAGE_REL_AMD64_REL32_3  = 0x7
	IMAGE_REL_AMD64_REL32_4  = 0x8
	IMAGE_REL_AMD64_REL32_5  = 0x9

	IMAGE_REL_I386_DIR32   = 0x6
	IMAGE_REL_I386_DIR32NB = 0x7
	IMAGE_REL_I386_REL32   = 0x14
)

type FileHeader struct {
	Machine              uint16
	NumberOfSections     uint16
	TimeDateStamp        uint32
	PointerToSymbolTable uint32
	NumberOfSymbols      uint32
	SizeOfOptionalHeader uint16
	Characteristics      uint16
}

type SectionHeader struct {
	Name                 [8]byte
	VirtualSize          uint32
	VirtualAddress       uint32
	SizeOfRawData        uint32
	PointerToRawData     uint32
	PointerToRelocations uint32
	PointerToLinenumbers uint32
	NumberOfRelocations  uint16
	NumberOfLinenumbers  uint16
	Characteristics      uint32
}

type Sym struct {
	Name               [8]byte
	Value              uint32
	SectionNumber      int16
	Type               uint16
	StorageClass       uint8
	NumberOfAuxSymbols uint8
}

// AuxSectionDef is the auxiliary record that follows a section symbol.
type AuxSectionDef struct {
	Length           uint32
	NumberOfRelocs   uint16
	NumberOfLinenums uint16
	CheckSum         uint32
	Number           uint16
	Selection        uint8
	_                [3]byte
}

// AuxWeakExternal is the auxiliary record that follows a weak external.
type AuxWeakExternal struct {
	TagIndex        uint32
	Characteristics uint32
	_               [10]byte
}

type Reloc struct {
	VirtualAddress   uint32
	SymbolTableIndex uint32
	Type             uint16
}

// Alignment decodes the IMAGE_SCN_ALIGN_* bits into a byte count.
// Zero bits mean the default 16-byte alignment.
func (s *SectionHeader) Alignment() uint32 {
	bits := (s.Characteristics & IMAGE_SCN_ALIGN_MASK) >> 20
	if bits == 0 {
		return 16
	}
	return 1 << (bits - 1)
}

func alignmentBits(align uint32) uint32 {
	bits := uint32(0)
	for align > 1 {
		align >>= 1
		bits++
	}
	return ((bits + 1) << 20) & IMAGE_SCN_ALIGN_MASK
}

func symName(raw [8]byte, strTab []byte) string {
	if raw[0] == 0 && raw[1] == 0 && raw[2] == 0 && raw[3] == 0 {
		off := binary.LittleEndian.Uint32(raw[4:])
		return strTabName(strTab, off)
	}
	return cstring(raw[:])
}

func sectionName(raw [8]byte, strTab []byte) string {
	if raw[0] == '/' {
		off, err := strconv.Atoi(cstring(raw[1:]))
		if err == nil {
			return strTabName(strTab, uint32(off))
		}
	}
	return cstring(raw[:])
}

func strTabName(strTab []byte, off uint32) string {
	if int(off) >= len(strTab) {
		return ""
	}
	return cstring(strTab[off:])
}

func cstring(bs []byte) string {
	if i := bytes.IndexByte(bs, 0); i >= 0 {
		bs = bs[:i]
	}
	return string(bs)
}

// groupName splits "text$x" style section names: everything before the
// first '$' keys the output section, the remainder orders contributions.
func groupName(name string) string {
	if i := strings.IndexByte(name, '$'); i >= 0 {
		return name[:i]
	}
	return name
}

func encodeSymName(name string, strTab *stringTable) (raw [8]byte) {
	if len(name) <= 8 {
		copy(raw[:], name)
		return
	}
	binary.LittleEndian.PutUint32(raw[4:], strTab.Add(name))
	return
}

func encodeSectionName(name string, strTab *stringTable) (raw [8]byte) {
	if len(name) <= 8 {
		copy(raw[:], name)
		return
	}
	copy(raw[:], "/"+strconv.Itoa(int(strTab.Add(name))))
	return
}
