package linker

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/sltooh/boflink/pkg/utils"
)

type ImportType uint8

const (
	ImportCode ImportType = iota
	ImportData
	ImportConst
)

// ImportMember is a symbol resolved against a DLL export instead of a
// definition. The runtime loader binds it through the import table.
type ImportMember struct {
	Machine   MachineType
	Symbol    string
	Dll       string
	Name      string
	Ordinal   uint16
	ByOrdinal bool
	Type      ImportType
}

// EntryName is the DLL export the import refers to.
func (m *ImportMember) EntryName() string {
	if m.ByOrdinal {
		return fmt.Sprintf("#%d", m.Ordinal)
	}
	return m.Name
}

// DllStem is the DLL name without its extension, used in the
// __imp_<dll>$<entry> output naming convention.
func (m *ImportMember) DllStem() string {
	stem := m.Dll
	if i := strings.LastIndexByte(stem, '.'); i >= 0 {
		stem = stem[:i]
	}
	return stem
}

type shortImportHeader struct {
	Sig1          uint16
	Sig2          uint16
	Version       uint16
	Machine       uint16
	TimeDateStamp uint32
	SizeOfData    uint32
	OrdinalOrHint uint16
	Flags         uint16
}

const shortImportHeaderSize = 20

func isShortImport(data []byte) bool {
	return len(data) >= shortImportHeaderSize &&
		binary.LittleEndian.Uint16(data) == IMAGE_FILE_MACHINE_UNKNOWN &&
		binary.LittleEndian.Uint16(data[2:]) == 0xffff
}

func parseShortImport(data []byte) (*ImportMember, error) {
	hdr := utils.Read[shortImportHeader](data)

	rest := data[shortImportHeaderSize:]
	symbol := cstring(rest)
	if len(symbol)+1 >= len(rest) {
		return nil, errors.New("short import missing DLL name")
	}
	dll := cstring(rest[len(symbol)+1:])
	if dll == "" {
		return nil, errors.New("short import missing DLL name")
	}

	machine := MachineTypeNone
	switch hdr.Machine {
	case IMAGE_FILE_MACHINE_AMD64:
		machine = MachineTypeAMD64
	case IMAGE_FILE_MACHINE_I386:
		machine = MachineTypeI386
	}

	imp := &ImportMember{
		Machine: machine,
		Symbol:  symbol,
		Dll:     dll,
		Type:    ImportType(hdr.Flags & 0x3),
	}

	switch (hdr.Flags >> 2) & 0x7 {
	case 0: // by ordinal
		imp.ByOrdinal = true
		imp.Ordinal = hdr.OrdinalOrHint
	case 1: // import by symbol name
		imp.Name = symbol
	case 2: // name without prefix character
		imp.Name = strings.TrimLeft(symbol, "?@_")
	case 3: // undecorated name
		name := strings.TrimLeft(symbol, "?@_")
		if i := strings.IndexByte(name, '@'); i >= 0 {
			name = name[:i]
		}
		imp.Name = name
	default:
		return nil, fmt.Errorf("unsupported import name type %d", (hdr.Flags>>2)&0x7)
	}

	return imp, nil
}

// isLegacyImport recognizes the three-member import scheme GNU dlltool
// emits: a thunk member referencing a _head_ symbol, resolved through a
// head member to an _iname tail member naming the DLL.
func isLegacyImport(obj *ObjectFile) bool {
	if obj.findSection(".idata$4") == nil {
		return false
	}
	return obj.findRawSymbol(func(sym *Sym, name string) bool {
		return sym.StorageClass == IMAGE_SYM_CLASS_EXTERNAL &&
			sym.SectionNumber == IMAGE_SYM_UNDEFINED &&
			strings.Contains(name, "_head_")
	}) != ""
}

func (a *LinkArchive) resolveLegacyImport(obj *ObjectFile) (*ImportMember, error) {
	machine := MachineTypeNone
	switch obj.Hdr.Machine {
	case IMAGE_FILE_MACHINE_AMD64:
		machine = MachineTypeAMD64
	case IMAGE_FILE_MACHINE_I386:
		machine = MachineTypeI386
	}

	imp := &ImportMember{Machine: machine, Type: ImportData}
	if text := obj.findSection(".text"); text != nil && text.Size > 0 {
		imp.Type = ImportCode
	}

	if names := obj.findSection(".idata$6"); names != nil && len(names.Contents) > 2 {
		// skip the two byte hint
		imp.Name = cstring(names.Contents[2:])
		imp.Symbol = imp.Name
	} else if ilt := obj.findSection(".idata$4"); ilt != nil && len(ilt.Contents) >= 4 {
		entry := binary.LittleEndian.Uint32(ilt.Contents)
		if machine == MachineTypeAMD64 && len(ilt.Contents) >= 8 {
			entry64 := binary.LittleEndian.Uint64(ilt.Contents)
			if entry64&(1<<63) == 0 {
				return nil, errors.New("import member has neither name nor ordinal")
			}
			imp.ByOrdinal = true
			imp.Ordinal = uint16(entry64)
		} else {
			if entry&(1<<31) == 0 {
				return nil, errors.New("import member has neither name nor ordinal")
			}
			imp.ByOrdinal = true
			imp.Ordinal = uint16(entry)
		}
	} else {
		return nil, errors.New("import member has neither name nor ordinal")
	}

	headName := obj.findRawSymbol(func(sym *Sym, name string) bool {
		return sym.StorageClass == IMAGE_SYM_CLASS_EXTERNAL &&
			sym.SectionNumber == IMAGE_SYM_UNDEFINED &&
			strings.Contains(name, "_head_")
	})
	if headName == "" {
		return nil, errors.New("import member missing head symbol")
	}

	dll, err := a.legacyDllName(headName)
	if err != nil {
		return nil, err
	}
	imp.Dll = dll
	return imp, nil
}

// legacyDllName follows the head member to the tail member whose
// .idata$7 data spells the DLL name.
func (a *LinkArchive) legacyDllName(headName string) (string, error) {
	if a.dllNames == nil {
		a.dllNames = make(map[string]string)
	}
	if dll, ok := a.dllNames[headName]; ok {
		return dll, nil
	}

	head, err := a.scanMemberFor(headName)
	if err != nil {
		return "", err
	}
	tailName := head.findRawSymbol(func(sym *Sym, name string) bool {
		return sym.StorageClass == IMAGE_SYM_CLASS_EXTERNAL &&
			sym.SectionNumber == IMAGE_SYM_UNDEFINED &&
			strings.HasSuffix(name, "_iname")
	})
	if tailName == "" {
		return "", errors.New("import head member missing _iname symbol")
	}

	tail, err := a.scanMemberFor(tailName)
	if err != nil {
		return "", err
	}
	nameSec := tail.findSection(".idata$7")
	if nameSec == nil || len(nameSec.Contents) == 0 {
		return "", errors.New("import tail member missing DLL name")
	}

	dll := cstring(nameSec.Contents)
	a.dllNames[headName] = dll
	return dll, nil
}

// scanMemberFor parses the member defining name just far enough to walk
// its sections and raw symbols.
func (a *LinkArchive) scanMemberFor(name string) (*ObjectFile, error) {
	off, ok := a.symbolOffsets[name]
	if !ok {
		return nil, fmt.Errorf("symbol %s not in archive index", name)
	}
	memberName, data, err := a.memberAt(off)
	if err != nil {
		return nil, err
	}
	a.ParseCount++
	obj, err := NewObjectFile(&File{Name: memberName, Contents: data, Parent: a.File})
	if err != nil {
		return nil, err
	}
	if err := obj.initializeSections(); err != nil {
		return nil, err
	}
	return obj, nil
}

func (o *ObjectFile) findSection(name string) *InputSection {
	for _, isec := range o.Sections {
		if isec.Name == name {
			return isec
		}
	}
	return nil
}

// findRawSymbol walks the raw symbol table without interning anything.
func (o *ObjectFile) findRawSymbol(match func(sym *Sym, name string) bool) string {
	for i := 0; i < int(o.Hdr.NumberOfSymbols); {
		rawSym := o.RawSym(i)
		name := o.SymName(&rawSym)
		if match(&rawSym, name) {
			return name
		}
		i += 1 + int(rawSym.NumberOfAuxSymbols)
	}
	return ""
}
