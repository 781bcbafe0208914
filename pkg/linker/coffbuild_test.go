package linker

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"

	"github.com/sltooh/boflink/pkg/utils"
)

// testCoff assembles COFF objects in memory for tests. Section symbols
// with auxiliary records are emitted for every section, the way
// compilers do, followed by the explicitly added symbols.
type testCoff struct {
	machine  uint16
	sections []*testSec
	syms     []*testSym
}

type testSec struct {
	idx       int
	name      string
	data      []byte
	size      uint32
	chars     uint32
	selection uint8
	assoc     uint16
	relocs    []testReloc
}

type testReloc struct {
	va        uint32
	userSym   int
	secTarget int
	typ       uint16
}

type testSym struct {
	name    string
	value   uint32
	section int16
	class   uint8
	typ     uint16
	weakTag int
}

func newTestCoff(machine uint16) *testCoff {
	return &testCoff{machine: machine}
}

func (c *testCoff) addSection(name string, chars uint32, data []byte) *testSec {
	s := &testSec{
		idx:   len(c.sections),
		name:  name,
		data:  data,
		size:  uint32(len(data)),
		chars: chars,
	}
	c.sections = append(c.sections, s)
	return s
}

func (c *testCoff) addBss(name string, size uint32) *testSec {
	s := c.addSection(name, IMAGE_SCN_CNT_UNINITIALIZED_DATA|
		IMAGE_SCN_MEM_READ|IMAGE_SCN_MEM_WRITE, nil)
	s.size = size
	return s
}

func (s *testSec) comdat(selection uint8) *testSec {
	s.chars |= IMAGE_SCN_LNK_COMDAT
	s.selection = selection
	return s
}

func (s *testSec) associative(parent *testSec) *testSec {
	s.chars |= IMAGE_SCN_LNK_COMDAT
	s.selection = IMAGE_COMDAT_SELECT_ASSOCIATIVE
	s.assoc = uint16(parent.idx + 1)
	return s
}

// addSymbol returns a handle usable as a relocation target.
func (c *testCoff) addSymbol(name string, value uint32, sec *testSec, class uint8, typ uint16) int {
	section := int16(0)
	if sec != nil {
		section = int16(sec.idx + 1)
	}
	c.syms = append(c.syms, &testSym{
		name:    name,
		value:   value,
		section: section,
		class:   class,
		typ:     typ,
		weakTag: -1,
	})
	return len(c.syms) - 1
}

func (c *testCoff) addUndefined(name string) int {
	return c.addSymbol(name, 0, nil, IMAGE_SYM_CLASS_EXTERNAL, 0)
}

func (c *testCoff) addCommon(name string, size uint32) int {
	return c.addSymbol(name, size, nil, IMAGE_SYM_CLASS_EXTERNAL, 0)
}

func (c *testCoff) addWeak(name string, tag int) int {
	c.syms = append(c.syms, &testSym{
		name:    name,
		section: 0,
		class:   IMAGE_SYM_CLASS_WEAK_EXTERNAL,
		weakTag: tag,
	})
	return len(c.syms) - 1
}

func (c *testCoff) addReloc(sec *testSec, va uint32, sym int, typ uint16) {
	sec.relocs = append(sec.relocs, testReloc{va: va, userSym: sym, secTarget: -1, typ: typ})
}

func (c *testCoff) addSectionReloc(sec *testSec, va uint32, target *testSec, typ uint16) {
	sec.relocs = append(sec.relocs, testReloc{va: va, userSym: -1, secTarget: target.idx, typ: typ})
}

// tableIdx maps a symbol handle to its final symbol table index.
func (c *testCoff) tableIdx(user int) uint32 {
	idx := uint32(2 * len(c.sections))
	for i := 0; i < user; i++ {
		idx++
		if c.syms[i].weakTag >= 0 {
			idx++
		}
	}
	return idx
}

func (c *testCoff) build() []byte {
	nsec := len(c.sections)

	nsyms := uint32(2 * nsec)
	for _, sym := range c.syms {
		nsyms++
		if sym.weakTag >= 0 {
			nsyms++
		}
	}

	pos := uint32(FileHeaderSize + nsec*SectionHeaderSize)
	dataPtr := make([]uint32, nsec)
	relocPtr := make([]uint32, nsec)
	for i, s := range c.sections {
		if s.data != nil {
			dataPtr[i] = pos
			pos += uint32(len(s.data))
		}
		if len(s.relocs) > 0 {
			relocPtr[i] = pos
			pos += uint32(len(s.relocs)) * RelocSize
		}
	}
	symtabPos := pos

	strTab := newStringTable()
	buf := make([]byte, int(symtabPos)+int(nsyms)*SymbolSize)

	utils.Write(buf, FileHeader{
		Machine:              c.machine,
		NumberOfSections:     uint16(nsec),
		PointerToSymbolTable: symtabPos,
		NumberOfSymbols:      nsyms,
	})

	for i, s := range c.sections {
		utils.Write(buf[FileHeaderSize+i*SectionHeaderSize:], SectionHeader{
			Name:                 encodeSectionName(s.name, strTab),
			SizeOfRawData:        s.size,
			PointerToRawData:     dataPtr[i],
			PointerToRelocations: relocPtr[i],
			NumberOfRelocations:  uint16(len(s.relocs)),
			Characteristics:      s.chars,
		})
		copy(buf[dataPtr[i]:], s.data)

		for j, r := range s.relocs {
			symIdx := uint32(0)
			if r.userSym >= 0 {
				symIdx = c.tableIdx(r.userSym)
			} else {
				symIdx = uint32(2 * r.secTarget)
			}
			utils.Write(buf[int(relocPtr[i])+j*RelocSize:], Reloc{
				VirtualAddress:   r.va,
				SymbolTableIndex: symIdx,
				Type:             r.typ,
			})
		}
	}

	pos = symtabPos
	writeSym := func(s Sym) {
		utils.Write(buf[pos:], s)
		pos += SymbolSize
	}

	for i, s := range c.sections {
		writeSym(Sym{
			Name:               encodeSymName(s.name, strTab),
			SectionNumber:      int16(i + 1),
			StorageClass:       IMAGE_SYM_CLASS_STATIC,
			NumberOfAuxSymbols: 1,
		})
		utils.Write(buf[pos:], AuxSectionDef{
			Length:         s.size,
			NumberOfRelocs: uint16(len(s.relocs)),
			CheckSum:       crc32.ChecksumIEEE(s.data),
			Number:         s.assoc,
			Selection:      s.selection,
		})
		pos += SymbolSize
	}

	for _, sym := range c.syms {
		aux := uint8(0)
		if sym.weakTag >= 0 {
			aux = 1
		}
		writeSym(Sym{
			Name:               encodeSymName(sym.name, strTab),
			Value:              sym.value,
			SectionNumber:      sym.section,
			Type:               sym.typ,
			StorageClass:       sym.class,
			NumberOfAuxSymbols: aux,
		})
		if sym.weakTag >= 0 {
			utils.Write(buf[pos:], AuxWeakExternal{
				TagIndex: c.tableIdx(sym.weakTag),
			})
			pos += SymbolSize
		}
	}

	return append(buf, strTab.Bytes()...)
}

// helpers for inspecting linked output

func parseOutput(buf []byte) (*ObjectFile, error) {
	obj, err := NewObjectFile(&File{Name: "a.bof", Contents: buf})
	if err != nil {
		return nil, err
	}
	if err := obj.initializeSections(); err != nil {
		return nil, err
	}
	return obj, nil
}

func findOutSym(obj *ObjectFile, name string) (Sym, bool) {
	var found Sym
	ok := false
	for i := 0; i < len(obj.Symbols); {
		raw := obj.RawSym(i)
		if obj.SymName(&raw) == name && !ok {
			found = raw
			ok = true
		}
		i += 1 + int(raw.NumberOfAuxSymbols)
	}
	return found, ok
}

func outRelocs(obj *ObjectFile, name string) []Reloc {
	isec := obj.findSection(name)
	if isec == nil {
		return nil
	}
	rels, _ := obj.SectionRelocs(&obj.SectionHdrs[isec.Shndx])
	return rels
}

var codeChars = uint32(IMAGE_SCN_CNT_CODE | IMAGE_SCN_MEM_EXECUTE | IMAGE_SCN_MEM_READ)
var dataChars = uint32(IMAGE_SCN_CNT_INITIALIZED_DATA | IMAGE_SCN_MEM_READ | IMAGE_SCN_MEM_WRITE)
var rdataChars = uint32(IMAGE_SCN_CNT_INITIALIZED_DATA | IMAGE_SCN_MEM_READ)

func callSite(size int, callAt uint32) []byte {
	data := bytes.Repeat([]byte{0x90}, size)
	data[callAt] = 0xe8
	copy(data[callAt+1:], make([]byte, 4))
	return data
}

func u32At(data []byte, off uint32) uint32 {
	return binary.LittleEndian.Uint32(data[off:])
}
