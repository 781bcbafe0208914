package linker

import (
	"encoding/binary"
	"fmt"

	"github.com/sltooh/boflink/pkg/utils"
)

type InputFile struct {
	File        *File
	Hdr         FileHeader
	SectionHdrs []SectionHeader
	SymtabRaw   []byte
	StrTab      []byte
	Symbols     []*Symbol
}

func NewInputFile(file *File) (InputFile, error) {
	f := InputFile{File: file}
	contents := file.Contents

	if len(contents) < FileHeaderSize {
		return f, f.parseError("file too small")
	}
	f.Hdr = utils.Read[FileHeader](contents)

	shdrEnd := FileHeaderSize + int(f.Hdr.NumberOfSections)*SectionHeaderSize
	if shdrEnd > len(contents) {
		return f, f.parseError("section table out of bounds")
	}
	f.SectionHdrs = utils.ReadSlice[SectionHeader](
		contents[FileHeaderSize:shdrEnd], SectionHeaderSize)

	if f.Hdr.NumberOfSymbols > 0 {
		start := int(f.Hdr.PointerToSymbolTable)
		end := start + int(f.Hdr.NumberOfSymbols)*SymbolSize
		if start <= 0 || end > len(contents) {
			return f, f.parseError("symbol table out of bounds")
		}
		f.SymtabRaw = contents[start:end]

		if end+4 <= len(contents) {
			size := binary.LittleEndian.Uint32(contents[end:])
			if size >= 4 && end+int(size) <= len(contents) {
				f.StrTab = contents[end : end+int(size)]
			}
		}
	}

	f.Symbols = make([]*Symbol, f.Hdr.NumberOfSymbols)
	return f, nil
}

func (f *InputFile) parseError(format string, a ...any) error {
	return &ParseError{File: f.SourceName(), Msg: fmt.Sprintf(format, a...)}
}

// SourceName names the file in diagnostics, with the archive in front
// when the object came out of one.
func (f *InputFile) SourceName() string {
	if f.File.Parent != nil {
		return f.File.Parent.Name + "(" + f.File.Name + ")"
	}
	return f.File.Name
}

func (f *InputFile) RawSym(idx int) Sym {
	return utils.Read[Sym](f.SymtabRaw[idx*SymbolSize:])
}

func (f *InputFile) AuxSectionDef(idx int) AuxSectionDef {
	return utils.Read[AuxSectionDef](f.SymtabRaw[idx*SymbolSize:])
}

func (f *InputFile) AuxWeakExternal(idx int) AuxWeakExternal {
	return utils.Read[AuxWeakExternal](f.SymtabRaw[idx*SymbolSize:])
}

func (f *InputFile) SymName(sym *Sym) string {
	return symName(sym.Name, f.strings())
}

func (f *InputFile) SectionName(shdr *SectionHeader) string {
	return sectionName(shdr.Name, f.strings())
}

func (f *InputFile) strings() []byte {
	return f.StrTab
}

// SectionData returns a section's raw contents. Uninitialized sections
// have no file storage and return nil.
func (f *InputFile) SectionData(shdr *SectionHeader) ([]byte, error) {
	if shdr.Characteristics&IMAGE_SCN_CNT_UNINITIALIZED_DATA != 0 ||
		shdr.PointerToRawData == 0 {
		return nil, nil
	}
	start := int(shdr.PointerToRawData)
	end := start + int(shdr.SizeOfRawData)
	if end > len(f.File.Contents) {
		return nil, f.parseError("section data out of bounds")
	}
	return f.File.Contents[start:end], nil
}

func (f *InputFile) SectionRelocs(shdr *SectionHeader) ([]Reloc, error) {
	if shdr.NumberOfRelocations == 0 {
		return nil, nil
	}
	start := int(shdr.PointerToRelocations)
	end := start + int(shdr.NumberOfRelocations)*RelocSize
	if start == 0 || end > len(f.File.Contents) {
		return nil, f.parseError("relocations out of bounds")
	}
	return utils.ReadSlice[Reloc](f.File.Contents[start:end], RelocSize), nil
}
