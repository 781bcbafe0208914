package linker

import (
	"fmt"
	"hash/crc32"
)

type InputSection struct {
	File  *ObjectFile
	Shndx uint32

	Name            string
	Contents        []byte
	Size            uint32
	Characteristics uint32
	Alignment       uint32

	Rels       []Reloc
	RelTargets []*Symbol

	ComdatSelection uint8
	AssocIdx        uint16
	AuxChecksum     uint32

	// symbols defined in this section, in symbol table order
	Defs []*Symbol

	IsAlive bool

	OutputSection *OutputSection
	// address within the output section once layout ran
	Offset uint32
}

func NewInputSection(file *ObjectFile, name string, shndx uint32) *InputSection {
	shdr := &file.SectionHdrs[shndx]
	return &InputSection{
		File:            file,
		Shndx:           shndx,
		Name:            name,
		Size:            shdr.SizeOfRawData,
		Characteristics: shdr.Characteristics,
		Alignment:       shdr.Alignment(),
		IsAlive:         true,
	}
}

func (i *InputSection) IsCode() bool {
	return i.Characteristics&IMAGE_SCN_CNT_CODE != 0
}

func (i *InputSection) IsUninitialized() bool {
	return i.Characteristics&IMAGE_SCN_CNT_UNINITIALIZED_DATA != 0
}

func (i *InputSection) IsComdat() bool {
	return i.Characteristics&IMAGE_SCN_LNK_COMDAT != 0
}

// Checksum is the COMDAT data checksum, taken from the section symbol's
// auxiliary record when present, computed otherwise.
func (i *InputSection) Checksum() uint32 {
	if i.AuxChecksum != 0 {
		return i.AuxChecksum
	}
	return crc32.ChecksumIEEE(i.Contents)
}

// Site names a location inside this section for diagnostics.
func (i *InputSection) Site(offset uint32) string {
	return fmt.Sprintf("%s:(%s+0x%x)", i.File.SourceName(), i.Name, offset)
}

// RefSiteName names the function or data symbol enclosing offset, falling
// back to the raw section offset.
func (i *InputSection) RefSiteName(offset uint32) string {
	var best *Symbol
	for _, sym := range i.Defs {
		if sym.IsSection || sym.IsLabel || sym.Value > offset {
			continue
		}
		if best == nil || sym.Value >= best.Value {
			best = sym
		}
	}
	if best != nil {
		return fmt.Sprintf("%s:(%s)", i.File.SourceName(), best.Name)
	}
	return i.Site(offset)
}

// rel32Extra classifies PC-relative 32-bit relocation types and returns
// the extra byte distance between the relocated field and the next
// instruction (IMAGE_REL_AMD64_REL32_N).
func rel32Extra(machine MachineType, typ uint16) (uint32, bool) {
	switch machine {
	case MachineTypeAMD64:
		if typ >= IMAGE_REL_AMD64_REL32 && typ <= IMAGE_REL_AMD64_REL32_5 {
			return uint32(typ - IMAGE_REL_AMD64_REL32), true
		}
	case MachineTypeI386:
		if typ == IMAGE_REL_I386_REL32 {
			return 0, true
		}
	}
	return 0, false
}

func isAddr64(machine MachineType, typ uint16) bool {
	return machine == MachineTypeAMD64 && typ == IMAGE_REL_AMD64_ADDR64
}
