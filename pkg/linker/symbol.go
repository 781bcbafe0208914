package linker

// Definition is one place an object defines a symbol. Symbols keep every
// definition they saw so duplicate and COMDAT rules can be checked after
// all inputs are read.
type Definition struct {
	Isec      *InputSection
	Value     uint32
	Selection uint8
}

// RefSite is a relocation that targets a symbol, kept for diagnostics
// and thunk decisions.
type RefSite struct {
	Isec   *InputSection
	Offset uint32
	Type   uint16
}

type Symbol struct {
	Name string

	// the binding that won resolution
	Isec     *InputSection
	Value    uint32
	Absolute bool

	Defs []Definition
	Refs []RefSite

	// tentative definition, largest size seen
	CommonSize uint32

	IsWeak      bool
	WeakDefault string

	// loader-resolved binding
	Import  *ImportMember
	FromApi bool

	SymType      uint16
	StorageClass uint8

	Local     bool
	IsSection bool
	IsLabel   bool

	// symbol table index in the output, -1 until assigned
	OutIdx int32
}

func NewSymbol(name string) *Symbol {
	return &Symbol{Name: name, OutIdx: -1}
}

func GetSymbolByName(ctx *Context, name string) *Symbol {
	if sym, ok := ctx.SymbolMap[name]; ok {
		return sym
	}
	sym := NewSymbol(name)
	ctx.SymbolMap[name] = sym
	ctx.SymbolNames = append(ctx.SymbolNames, name)
	return sym
}

// Defined reports whether the symbol has a location in the output.
func (s *Symbol) Defined() bool {
	return s.Isec != nil || s.Absolute
}

// Resolved reports whether resolution still needs to find this symbol.
func (s *Symbol) Resolved() bool {
	return s.Defined() || s.Import != nil || s.CommonSize > 0
}

func (s *Symbol) AddDef(isec *InputSection, value uint32, selection uint8) {
	def := Definition{Isec: isec, Value: value, Selection: selection}
	s.Defs = append(s.Defs, def)
	isec.Defs = append(isec.Defs, s)
	if s.Isec == nil {
		s.SetDef(def)
	}
}

func (s *Symbol) SetDef(def Definition) {
	s.Isec = def.Isec
	s.Value = def.Value
}

func (s *Symbol) AddRef(isec *InputSection, offset uint32, typ uint16) {
	s.Refs = append(s.Refs, RefSite{Isec: isec, Offset: offset, Type: typ})
}

// LiveRefs returns the referencing sites that survived section discard.
func (s *Symbol) LiveRefs() []RefSite {
	var live []RefSite
	for _, ref := range s.Refs {
		if ref.Isec.IsAlive {
			live = append(live, ref)
		}
	}
	return live
}

// LiveDef returns the surviving definition after COMDAT selection.
func (s *Symbol) LiveDef() *Definition {
	for i := range s.Defs {
		if s.Defs[i].Isec.IsAlive {
			return &s.Defs[i]
		}
	}
	return nil
}

// strongDefs counts definitions that do not allow duplicates.
func (s *Symbol) strongDefs() int {
	n := 0
	for _, def := range s.Defs {
		if def.Selection == 0 {
			n++
		}
	}
	return n
}
