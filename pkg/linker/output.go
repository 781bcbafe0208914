package linker

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/sltooh/boflink/pkg/utils"
)

// stringTable builds the COFF string table, content addressed so every
// name is stored once.
type stringTable struct {
	data    []byte
	offsets map[string]uint32
}

func newStringTable() *stringTable {
	return &stringTable{
		data:    make([]byte, 4),
		offsets: make(map[string]uint32),
	}
}

func (st *stringTable) Add(name string) uint32 {
	if off, ok := st.offsets[name]; ok {
		return off
	}
	off := uint32(len(st.data))
	st.offsets[name] = off
	st.data = append(st.data, name...)
	st.data = append(st.data, 0)
	return off
}

func (st *stringTable) Bytes() []byte {
	binary.LittleEndian.PutUint32(st.data, uint32(len(st.data)))
	return st.data
}

type outReloc struct {
	VA   uint32
	Sym  uint32
	Type uint16
}

type patch struct {
	Off  uint32
	Val  uint64
	Wide bool
}

// Emit serializes the laid out sections into one relocatable COFF:
// file header, section headers, raw data, relocations, symbol table,
// string table. Nothing is written until every relocation checked out.
func Emit(ctx *Context) ([]byte, error) {
	osecs := ctx.OutputSections

	defined, absolutes, nsyms := assignSymbolIndices(ctx)

	kept := make([][]outReloc, len(osecs))
	patches := make([][]patch, len(osecs))
	for i, osec := range osecs {
		var err error
		kept[i], patches[i], err = planRelocs(ctx, osec)
		if err != nil {
			return nil, err
		}
		if len(kept[i]) > math.MaxUint16 {
			return nil, fmt.Errorf("section %s has too many relocations", osec.Name)
		}
		osec.NumRelocs = uint32(len(kept[i]))
	}

	filePos := uint32(FileHeaderSize + len(osecs)*SectionHeaderSize)
	for _, osec := range osecs {
		if osec.HasRawData() && osec.Size > 0 {
			osec.PtrRawData = filePos
			filePos += osec.Size
		} else {
			osec.PtrRawData = 0
		}
	}
	for _, osec := range osecs {
		if osec.NumRelocs > 0 {
			osec.PtrRelocs = filePos
			filePos += osec.NumRelocs * RelocSize
		} else {
			osec.PtrRelocs = 0
		}
	}
	symtabPos := filePos

	buf := make([]byte, int(symtabPos)+int(nsyms)*SymbolSize)

	utils.Write(buf, FileHeader{
		Machine:              MachineTypeToCoff(ctx.Args.Emulation),
		NumberOfSections:     uint16(len(osecs)),
		PointerToSymbolTable: symtabPos,
		NumberOfSymbols:      nsyms,
		Characteristics:      IMAGE_FILE_LINE_NUMS_STRIPPED,
	})

	for i, osec := range osecs {
		if !osec.HasRawData() {
			continue
		}
		region := buf[osec.PtrRawData:][:osec.Size]
		for j := range region {
			region[j] = osec.paddingByte()
		}
		for _, m := range osec.Members {
			if m.Contents != nil {
				copy(region[m.Offset:], m.Contents)
			} else {
				for j := m.Offset; j < m.Offset+m.Size; j++ {
					region[j] = 0
				}
			}
		}
		for _, p := range patches[i] {
			if p.Wide {
				binary.LittleEndian.PutUint64(region[p.Off:], p.Val)
			} else {
				binary.LittleEndian.PutUint32(region[p.Off:], uint32(p.Val))
			}
		}
	}

	for i, osec := range osecs {
		pos := osec.PtrRelocs
		for _, r := range kept[i] {
			utils.Write(buf[pos:], Reloc{
				VirtualAddress:   r.VA,
				SymbolTableIndex: r.Sym,
				Type:             r.Type,
			})
			pos += RelocSize
		}
	}

	strTab := newStringTable()

	for i, osec := range osecs {
		utils.Write(buf[FileHeaderSize+i*SectionHeaderSize:], SectionHeader{
			Name:                 encodeSectionName(osec.Name, strTab),
			SizeOfRawData:        osec.Size,
			PointerToRawData:     osec.PtrRawData,
			PointerToRelocations: osec.PtrRelocs,
			NumberOfRelocations:  uint16(osec.NumRelocs),
			Characteristics:      osec.Characteristics | alignmentBits(osec.Alignment),
		})
	}

	pos := symtabPos
	writeSym := func(s Sym) {
		utils.Write(buf[pos:], s)
		pos += SymbolSize
	}

	for _, osec := range osecs {
		writeSym(Sym{
			Name:               encodeSymName(osec.Name, strTab),
			SectionNumber:      int16(osec.Idx + 1),
			StorageClass:       IMAGE_SYM_CLASS_STATIC,
			NumberOfAuxSymbols: 1,
		})
		utils.Write(buf[pos:], AuxSectionDef{
			Length:         osec.Size,
			NumberOfRelocs: uint16(osec.NumRelocs),
		})
		pos += SymbolSize
	}

	for _, sym := range defined {
		cls := uint8(IMAGE_SYM_CLASS_EXTERNAL)
		if sym.Local {
			cls = IMAGE_SYM_CLASS_STATIC
		}
		writeSym(Sym{
			Name:          encodeSymName(sym.Name, strTab),
			Value:         sym.Isec.Offset + sym.Value,
			SectionNumber: int16(sym.Isec.OutputSection.Idx + 1),
			Type:          sym.SymType,
			StorageClass:  cls,
		})
	}

	for _, sym := range absolutes {
		writeSym(Sym{
			Name:          encodeSymName(sym.Name, strTab),
			Value:         sym.Value,
			SectionNumber: IMAGE_SYM_ABSOLUTE,
			StorageClass:  IMAGE_SYM_CLASS_EXTERNAL,
		})
	}

	for _, sym := range ctx.ApiImports {
		writeSym(Sym{
			Name:         encodeSymName(sym.Name, strTab),
			Type:         importSymType(sym.Import),
			StorageClass: IMAGE_SYM_CLASS_EXTERNAL,
		})
	}
	for _, lib := range ctx.Libraries {
		for _, sym := range lib.Symbols {
			name := "__imp_" + sym.Import.DllStem() + "$" + sym.Import.EntryName()
			writeSym(Sym{
				Name:         encodeSymName(name, strTab),
				Type:         importSymType(sym.Import),
				StorageClass: IMAGE_SYM_CLASS_EXTERNAL,
			})
		}
	}

	return append(buf, strTab.Bytes()...), nil
}

func importSymType(imp *ImportMember) uint16 {
	if imp.Type == ImportCode {
		return 0x20
	}
	return 0
}

// assignSymbolIndices lays the symbol table out: one section symbol with
// auxiliary record per output section, then the defined symbols in
// section order, absolutes, and finally the loader resolved imports.
func assignSymbolIndices(ctx *Context) (defined, absolutes []*Symbol, nsyms uint32) {
	idx := uint32(0)
	for _, osec := range ctx.OutputSections {
		osec.SymIdx = idx
		idx += 2
	}

	for _, osec := range ctx.OutputSections {
		for _, m := range osec.Members {
			for _, sym := range m.Defs {
				if sym.IsSection || sym.IsLabel || sym.OutIdx >= 0 || sym.Isec != m {
					continue
				}
				if sym.Local && len(sym.LiveRefs()) == 0 {
					continue
				}
				sym.OutIdx = int32(idx)
				idx++
				defined = append(defined, sym)
			}
		}
	}

	for _, name := range ctx.SymbolNames {
		sym := ctx.SymbolMap[name]
		if sym.Absolute && sym.OutIdx < 0 && len(sym.LiveRefs()) > 0 {
			sym.OutIdx = int32(idx)
			idx++
			absolutes = append(absolutes, sym)
		}
	}

	for _, sym := range ctx.ApiImports {
		sym.OutIdx = int32(idx)
		idx++
	}
	for _, lib := range ctx.Libraries {
		for _, sym := range lib.Symbols {
			sym.OutIdx = int32(idx)
			idx++
		}
	}

	return defined, absolutes, idx
}

// planRelocs walks one output section's relocations, applying what can
// be finalized and retargeting the rest at output symbol indices.
func planRelocs(ctx *Context, osec *OutputSection) ([]outReloc, []patch, error) {
	var kept []outReloc
	var patches []patch

	for _, m := range osec.Members {
		for j, r := range m.Rels {
			t := m.RelTargets[j]
			siteOff := m.Offset + r.VirtualAddress
			wide := isAddr64(ctx.Args.Emulation, r.Type)

			fieldSize := uint32(4)
			if wide {
				fieldSize = 8
			}
			if uint64(r.VirtualAddress)+uint64(fieldSize) > uint64(m.Size) || m.Contents == nil {
				return nil, nil, &RelocationRangeError{
					Site:   m.Site(r.VirtualAddress),
					Symbol: t.Name,
				}
			}

			switch {
			case t.IsSection || t.IsLabel:
				ts := t.Isec
				if ts == nil || !ts.IsAlive {
					return nil, nil, &DiscardedSectionError{
						Site:    m.Site(r.VirtualAddress),
						Section: t.Name,
					}
				}
				shift := uint64(ts.Offset)
				if t.IsLabel {
					shift += uint64(t.Value)
				}
				p, err := shiftAddend(m, r.VirtualAddress, siteOff, shift, wide, t.Name)
				if err != nil {
					return nil, nil, err
				}
				patches = append(patches, p)
				kept = append(kept, outReloc{
					VA:   siteOff,
					Sym:  ts.OutputSection.SymIdx,
					Type: r.Type,
				})

			case t.Import != nil:
				kept = append(kept, outReloc{VA: siteOff, Sym: uint32(t.OutIdx), Type: r.Type})

			case t.Absolute:
				kept = append(kept, outReloc{VA: siteOff, Sym: uint32(t.OutIdx), Type: r.Type})

			case t.Isec != nil:
				ts := t.Isec
				if !ts.IsAlive {
					return nil, nil, &DiscardedSectionError{
						Site:    m.Site(r.VirtualAddress),
						Section: ts.Name,
					}
				}
				extra, rel32 := rel32Extra(ctx.Args.Emulation, r.Type)
				if rel32 && ts.OutputSection == osec {
					addend := int32(binary.LittleEndian.Uint32(m.Contents[r.VirtualAddress:]))
					target := int64(ts.Offset) + int64(t.Value)
					disp := target + int64(addend) - int64(siteOff) - 4 - int64(extra)
					if disp < math.MinInt32 || disp > math.MaxInt32 {
						return nil, nil, &RelocationRangeError{
							Site:   m.Site(r.VirtualAddress),
							Symbol: t.Name,
						}
					}
					patches = append(patches, patch{Off: siteOff, Val: uint64(uint32(disp))})
					continue
				}
				kept = append(kept, outReloc{VA: siteOff, Sym: uint32(t.OutIdx), Type: r.Type})

			default:
				return nil, nil, &UnresolvedSymbolError{Symbols: []UnresolvedSymbol{{
					Symbol: t.Name,
					Sites:  []string{m.Site(r.VirtualAddress)},
				}}}
			}
		}
	}

	return kept, patches, nil
}

// shiftAddend rewrites an inline addend that was relative to an input
// section so it is relative to the merged output section.
func shiftAddend(m *InputSection, va, siteOff uint32, shift uint64, wide bool, symbol string) (patch, error) {
	if wide {
		val := binary.LittleEndian.Uint64(m.Contents[va:])
		return patch{Off: siteOff, Val: val + shift, Wide: true}, nil
	}
	val := uint64(binary.LittleEndian.Uint32(m.Contents[va:]))
	if val+shift > math.MaxUint32 {
		return patch{}, &RelocationRangeError{Site: m.Site(va), Symbol: symbol}
	}
	return patch{Off: siteOff, Val: val + shift}, nil
}
