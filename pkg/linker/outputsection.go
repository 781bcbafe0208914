package linker

// OutputSection merges every input contribution sharing a group name
// (the part before '$') into one section of the output object.
type OutputSection struct {
	Name string
	Idx  int

	Characteristics uint32
	Alignment       uint32
	Members         []*InputSection
	Size            uint32

	// file layout, filled in by the emitter
	PtrRawData uint32
	PtrRelocs  uint32
	NumRelocs  uint32
	SymIdx     uint32
}

func GetOutputSection(ctx *Context, name string) *OutputSection {
	for _, osec := range ctx.OutputSections {
		if osec.Name == name {
			return osec
		}
	}
	osec := &OutputSection{Name: name, Alignment: 1}
	ctx.OutputSections = append(ctx.OutputSections, osec)
	return osec
}

func (o *OutputSection) IsCode() bool {
	return o.Characteristics&IMAGE_SCN_CNT_CODE != 0
}

// HasRawData reports whether the section occupies file space.
func (o *OutputSection) HasRawData() bool {
	return o.Characteristics&IMAGE_SCN_CNT_UNINITIALIZED_DATA == 0
}

// paddingByte fills the gaps between members: nop in code sections,
// zeros everywhere else.
func (o *OutputSection) paddingByte() byte {
	if o.IsCode() {
		return 0x90
	}
	return 0x00
}
