package linker

type ObjectFile struct {
	InputFile
	Sections []*InputSection
}

func NewObjectFile(file *File) (*ObjectFile, error) {
	inputFile, err := NewInputFile(file)
	if err != nil {
		return nil, err
	}
	return &ObjectFile{InputFile: inputFile}, nil
}

func (o *ObjectFile) Parse(ctx *Context) error {
	if o.Sections == nil {
		if err := o.initializeSections(); err != nil {
			return err
		}
	}
	if err := o.initializeSymbols(ctx); err != nil {
		return err
	}
	if err := o.initializeRelocs(); err != nil {
		return err
	}
	o.queueDirectiveLibraries(ctx)
	return nil
}

func (o *ObjectFile) initializeSections() error {
	o.Sections = make([]*InputSection, len(o.SectionHdrs))
	for i := range o.SectionHdrs {
		shdr := &o.SectionHdrs[i]
		isec := NewInputSection(o, o.SectionName(shdr), uint32(i))

		contents, err := o.SectionData(shdr)
		if err != nil {
			return err
		}
		isec.Contents = contents

		if discardSection(isec) {
			isec.IsAlive = false
		}
		o.Sections[i] = isec
	}
	return nil
}

// discardSection drops sections that carry no runtime contribution:
// linker directives, debug information and anything marked for removal.
func discardSection(isec *InputSection) bool {
	if isec.Characteristics&(IMAGE_SCN_LNK_INFO|IMAGE_SCN_LNK_REMOVE|IMAGE_SCN_MEM_DISCARDABLE) != 0 {
		return true
	}
	return groupName(isec.Name) == ".debug"
}

func (o *ObjectFile) initializeSymbols(ctx *Context) error {
	for i := 0; i < len(o.Symbols); {
		rawSym := o.RawSym(i)
		name := o.SymName(&rawSym)
		aux := int(rawSym.NumberOfAuxSymbols)
		if i+1+aux > len(o.Symbols) {
			return o.parseError("auxiliary symbols out of bounds")
		}

		switch rawSym.StorageClass {
		case IMAGE_SYM_CLASS_EXTERNAL:
			sym := GetSymbolByName(ctx, name)
			switch {
			case rawSym.SectionNumber > 0:
				isec, err := o.section(rawSym.SectionNumber)
				if err != nil {
					return err
				}
				selection := uint8(0)
				if isec.IsComdat() {
					selection = isec.ComdatSelection
				}
				sym.SymType = rawSym.Type
				sym.AddDef(isec, rawSym.Value, selection)
			case rawSym.SectionNumber == IMAGE_SYM_UNDEFINED && rawSym.Value > 0:
				if rawSym.Value > sym.CommonSize {
					sym.CommonSize = rawSym.Value
				}
			case rawSym.SectionNumber == IMAGE_SYM_ABSOLUTE:
				sym.Absolute = true
				sym.Value = rawSym.Value
			}
			o.Symbols[i] = sym

		case IMAGE_SYM_CLASS_WEAK_EXTERNAL:
			sym := GetSymbolByName(ctx, name)
			sym.IsWeak = true
			if aux >= 1 {
				weakAux := o.AuxWeakExternal(i + 1)
				if int(weakAux.TagIndex) < len(o.Symbols) {
					tag := o.RawSym(int(weakAux.TagIndex))
					sym.WeakDefault = o.SymName(&tag)
				}
			}
			o.Symbols[i] = sym

		case IMAGE_SYM_CLASS_STATIC, IMAGE_SYM_CLASS_SECTION:
			sym := NewSymbol(name)
			sym.Local = true
			sym.StorageClass = rawSym.StorageClass
			sym.SymType = rawSym.Type
			if rawSym.SectionNumber > 0 {
				isec, err := o.section(rawSym.SectionNumber)
				if err != nil {
					return err
				}
				if aux >= 1 && rawSym.Value == 0 {
					sym.IsSection = true
					secDef := o.AuxSectionDef(i + 1)
					isec.AuxChecksum = secDef.CheckSum
					if isec.IsComdat() {
						isec.ComdatSelection = secDef.Selection
						isec.AssocIdx = secDef.Number
					}
				}
				sym.AddDef(isec, rawSym.Value, 0)
			}
			o.Symbols[i] = sym

		case IMAGE_SYM_CLASS_LABEL:
			sym := NewSymbol(name)
			sym.Local = true
			sym.IsLabel = true
			sym.StorageClass = rawSym.StorageClass
			if rawSym.SectionNumber > 0 {
				isec, err := o.section(rawSym.SectionNumber)
				if err != nil {
					return err
				}
				sym.AddDef(isec, rawSym.Value, 0)
			}
			o.Symbols[i] = sym
		}

		i += 1 + aux
	}
	return nil
}

func (o *ObjectFile) section(number int16) (*InputSection, error) {
	idx := int(number) - 1
	if idx < 0 || idx >= len(o.Sections) {
		return nil, o.parseError("symbol references section %d out of %d",
			number, len(o.Sections))
	}
	return o.Sections[idx], nil
}

func (o *ObjectFile) initializeRelocs() error {
	for _, isec := range o.Sections {
		shdr := &o.SectionHdrs[isec.Shndx]
		rels, err := o.SectionRelocs(shdr)
		if err != nil {
			return err
		}
		isec.Rels = rels
		isec.RelTargets = make([]*Symbol, len(rels))
		for i, rel := range rels {
			if int(rel.SymbolTableIndex) >= len(o.Symbols) {
				return o.parseError("relocation symbol index %d out of bounds",
					rel.SymbolTableIndex)
			}
			target := o.Symbols[rel.SymbolTableIndex]
			if target == nil {
				return o.parseError("relocation against unusable symbol %d",
					rel.SymbolTableIndex)
			}
			isec.RelTargets[i] = target
			target.AddRef(isec, rel.VirtualAddress, rel.Type)
		}
	}
	return nil
}

func (o *ObjectFile) queueDirectiveLibraries(ctx *Context) {
	for _, isec := range o.Sections {
		if isec.Characteristics&IMAGE_SCN_LNK_INFO == 0 || isec.Name != ".drectve" {
			continue
		}
		for _, lib := range ParseDirectiveLibraries(isec.Contents) {
			EnqueueLibrary(ctx, TrimLibraryName(lib))
		}
	}
}
