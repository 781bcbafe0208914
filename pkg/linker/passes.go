package linker

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sltooh/boflink/pkg/utils"
)

// Link runs the pass pipeline over the inputs already read into ctx and
// returns the serialized output object.
func Link(ctx *Context) ([]byte, error) {
	if ctx.Args.Emulation == MachineTypeNone {
		ctx.Args.Emulation = MachineTypeAMD64
	}
	if err := setupApi(ctx); err != nil {
		return nil, err
	}
	if ctx.Args.Entry != "" {
		GetSymbolByName(ctx, symbolPrefix(ctx.Args.Emulation)+ctx.Args.Entry)
	}

	if err := ResolveSymbols(ctx); err != nil {
		return nil, err
	}
	if err := SelectComdats(ctx); err != nil {
		return nil, err
	}
	if err := CheckSymbols(ctx); err != nil {
		return nil, err
	}
	AllocateCommons(ctx)
	ResolveWeaks(ctx)
	ApplyThunks(ctx)
	CollectImports(ctx)
	BinSections(ctx)
	ComputeSectionSizes(ctx)
	return Emit(ctx)
}

func setupApi(ctx *Context) error {
	if ctx.Api != nil {
		return nil
	}
	if ctx.Args.CustomApi == "" {
		ctx.Api = NewBeaconApi(ctx.Args.Emulation)
		return nil
	}
	file := FindLibrary(ctx, ctx.Args.CustomApi)
	if file == nil {
		file = OpenLibrary(ctx.Args.CustomApi)
	}
	if file == nil {
		return fmt.Errorf("unable to find custom API library %s", ctx.Args.CustomApi)
	}
	archive, err := NewLinkArchive(file)
	if err != nil {
		return err
	}
	ctx.Api = &ArchiveApi{Archive: archive}
	return nil
}

// ResolveSymbols drives the fixpoint: every undefined name is offered to
// the API, then to the archives in command line order. Extracted members
// can add new undefined names and queue new libraries, so the loop runs
// until nothing moves.
func ResolveSymbols(ctx *Context) error {
	for {
		progress := false

		for len(ctx.PendingLibs) > 0 {
			name := ctx.PendingLibs[0]
			ctx.PendingLibs = ctx.PendingLibs[1:]
			file := FindLibrary(ctx, name)
			if file == nil {
				return fmt.Errorf("unable to find library -l%s", name)
			}
			if err := ReadFile(ctx, file); err != nil {
				return err
			}
			progress = true
		}

		for i := 0; i < len(ctx.SymbolNames); i++ {
			sym := ctx.SymbolMap[ctx.SymbolNames[i]]
			if sym.Resolved() || sym.IsWeak {
				continue
			}

			if ctx.Api != nil {
				imp, err := ctx.Api.Resolve(sym.Name)
				if err != nil {
					return err
				}
				if imp != nil {
					sym.Import = imp
					sym.FromApi = true
					progress = true
					continue
				}
			}

			for _, archive := range ctx.Archives {
				if !archive.DefinesSymbol(sym.Name) {
					continue
				}
				res, err := archive.Extract(sym.Name)
				if err != nil {
					return err
				}
				if res.Object != nil {
					if res.Object.Hdr.Machine != MachineTypeToCoff(ctx.Args.Emulation) {
						return &ParseError{
							File: res.Object.SourceName(),
							Msg:  "incompatible machine type",
						}
					}
					ctx.Objs = append(ctx.Objs, res.Object)
					if err := res.Object.Parse(ctx); err != nil {
						return err
					}
					progress = true
				}
				if res.Import != nil {
					sym.Import = res.Import
					progress = true
				}
				break
			}
		}

		if !progress && len(ctx.PendingLibs) == 0 {
			return nil
		}
	}
}

// CheckSymbols reports every name that stayed unresolved, batched so the
// user sees the whole list at once. Names referenced only from discarded
// sections are not errors; the entry point is required even unreferenced.
func CheckSymbols(ctx *Context) error {
	entryName := ""
	if ctx.Args.Entry != "" {
		entryName = symbolPrefix(ctx.Args.Emulation) + ctx.Args.Entry
	}

	var unresolved []UnresolvedSymbol
	for _, name := range ctx.SymbolNames {
		sym := ctx.SymbolMap[name]
		if sym.Resolved() || sym.IsWeak {
			continue
		}
		live := sym.LiveRefs()
		if len(live) == 0 && name != entryName {
			continue
		}
		sites := make([]string, 0, len(live))
		for _, ref := range live {
			sites = append(sites, ref.Isec.RefSiteName(ref.Offset))
		}
		if len(sites) == 0 {
			sites = append(sites, "<entry point>")
		}
		unresolved = append(unresolved, UnresolvedSymbol{Symbol: name, Sites: sites})
	}

	if len(unresolved) > 0 {
		return &UnresolvedSymbolError{Symbols: unresolved}
	}
	return nil
}

// AllocateCommons lays the tentative definitions out in a synthetic .bss
// contribution, smallest first.
func AllocateCommons(ctx *Context) {
	var commons []*Symbol
	for _, name := range ctx.SymbolNames {
		sym := ctx.SymbolMap[name]
		if sym.CommonSize > 0 && !sym.Defined() && sym.Import == nil {
			commons = append(commons, sym)
		}
	}
	if len(commons) == 0 {
		return
	}
	sort.SliceStable(commons, func(i, j int) bool {
		return commons[i].CommonSize < commons[j].CommonSize
	})

	align := uint32(8)
	if ctx.Args.Emulation == MachineTypeI386 {
		align = 4
	}
	bss := &InputSection{
		File: internalObject(ctx),
		Name: ".bss",
		Characteristics: IMAGE_SCN_CNT_UNINITIALIZED_DATA |
			IMAGE_SCN_MEM_READ | IMAGE_SCN_MEM_WRITE,
		Alignment: align,
		IsAlive:   true,
	}

	off := uint32(0)
	for _, sym := range commons {
		off = utils.AlignTo(off, align)
		sym.AddDef(bss, off, 0)
		off += sym.CommonSize
	}
	bss.Size = off
	ctx.Internal.Sections = append(ctx.Internal.Sections, bss)
}

// ResolveWeaks gives every still unresolved weak external its default
// symbol's binding, or absolute zero when there is none. Weak externals
// never fail the link.
func ResolveWeaks(ctx *Context) {
	for _, name := range ctx.SymbolNames {
		sym := ctx.SymbolMap[name]
		if !sym.IsWeak || sym.Resolved() {
			continue
		}
		def := ctx.SymbolMap[sym.WeakDefault]
		switch {
		case def != nil && def.Isec != nil:
			sym.Isec = def.Isec
			sym.Value = def.Value
		case def != nil && def.Import != nil:
			sym.Import = def.Import
			sym.FromApi = def.FromApi
		case def != nil && def.Absolute:
			sym.Absolute = true
			sym.Value = def.Value
		default:
			sym.Absolute = true
			sym.Value = 0
		}
	}
}

var thunkTemplate = []byte{0xff, 0x25, 0x00, 0x00, 0x00, 0x00, 0x90, 0x90}

// ApplyThunks turns direct references to imported functions into local
// stubs jumping through a synthesized __imp_ pointer, mirroring what
// compilers emit for declspec(dllimport) call sites.
func ApplyThunks(ctx *Context) {
	var thunkSec *InputSection
	var contents []byte

	names := ctx.SymbolNames
	for i := 0; i < len(names); i++ {
		sym := ctx.SymbolMap[names[i]]
		if sym.Import == nil || strings.HasPrefix(sym.Name, "__imp_") {
			continue
		}
		if sym.Import.Type != ImportCode || !hasRel32Ref(ctx, sym) {
			continue
		}

		if thunkSec == nil {
			thunkSec = &InputSection{
				File: internalObject(ctx),
				Name: ".text$zzz",
				Characteristics: IMAGE_SCN_CNT_CODE |
					IMAGE_SCN_MEM_EXECUTE | IMAGE_SCN_MEM_READ,
				Alignment: 8,
				IsAlive:   true,
			}
		}

		off := uint32(len(contents))
		contents = append(contents, thunkTemplate...)

		impSym := GetSymbolByName(ctx, "__imp_"+sym.Name)
		if !impSym.Resolved() {
			impSym.Import = sym.Import
			impSym.FromApi = sym.FromApi
		}

		relType := uint16(IMAGE_REL_AMD64_REL32)
		if ctx.Args.Emulation == MachineTypeI386 {
			relType = IMAGE_REL_I386_DIR32
		}
		thunkSec.Rels = append(thunkSec.Rels, Reloc{
			VirtualAddress:   off + 2,
			SymbolTableIndex: uint32(len(thunkSec.RelTargets)),
			Type:             relType,
		})
		thunkSec.RelTargets = append(thunkSec.RelTargets, impSym)
		impSym.AddRef(thunkSec, off+2, relType)

		sym.Import = nil
		sym.FromApi = false
		sym.SymType = 0x20
		sym.AddDef(thunkSec, off, 0)
	}

	if thunkSec != nil {
		thunkSec.Contents = contents
		thunkSec.Size = uint32(len(contents))
		ctx.Internal.Sections = append(ctx.Internal.Sections, thunkSec)
	}
}

// CollectImports freezes the emission order of the loader resolved
// symbols: API imports first, then per DLL in bind order.
func CollectImports(ctx *Context) {
	for _, name := range ctx.SymbolNames {
		sym := ctx.SymbolMap[name]
		if sym.Import == nil || len(sym.LiveRefs()) == 0 {
			continue
		}
		if sym.FromApi {
			ctx.ApiImports = append(ctx.ApiImports, sym)
		} else {
			lib := ctx.importLibrary(sym.Import.Dll)
			lib.Symbols = append(lib.Symbols, sym)
		}
	}
}

// hasRel32Ref reports whether any surviving reference is a PC-relative
// call or jump, the shapes that need a local thunk to reach an import.
func hasRel32Ref(ctx *Context, sym *Symbol) bool {
	for _, ref := range sym.LiveRefs() {
		if _, ok := rel32Extra(ctx.Args.Emulation, ref.Type); ok {
			return true
		}
	}
	return false
}

func internalObject(ctx *Context) *ObjectFile {
	if ctx.Internal == nil {
		ctx.Internal = &ObjectFile{
			InputFile: InputFile{File: &File{Name: "<boflink>"}},
		}
		ctx.Objs = append(ctx.Objs, ctx.Internal)
	}
	return ctx.Internal
}

// BinSections groups the surviving input sections into output sections
// by group name, orders contributions by their full name and applies the
// late section level transforms.
func BinSections(ctx *Context) {
	for _, obj := range ctx.Objs {
		for _, isec := range obj.Sections {
			// zero-size sections are kept so their symbols stay bound
			if !isec.IsAlive {
				continue
			}
			osec := GetOutputSection(ctx, groupName(isec.Name))
			osec.Members = append(osec.Members, isec)
		}
	}

	for _, osec := range ctx.OutputSections {
		sort.SliceStable(osec.Members, func(i, j int) bool {
			return osec.Members[i].Name < osec.Members[j].Name
		})
	}

	dedupRdata(ctx)

	for _, osec := range ctx.OutputSections {
		osec.Characteristics = osec.Members[0].Characteristics &^
			(IMAGE_SCN_LNK_COMDAT | IMAGE_SCN_ALIGN_MASK)
	}

	if ctx.Args.MergeBss {
		mergeBss(ctx)
	}
}

// dedupRdata folds identical .rdata$zzz contributions (compiler version
// strings and the like) down to one copy.
func dedupRdata(ctx *Context) {
	for _, osec := range ctx.OutputSections {
		if osec.Name != ".rdata" {
			continue
		}
		seen := make(map[uint32]*InputSection)
		osec.Members = utils.RemoveIf(osec.Members, func(m *InputSection) bool {
			if !strings.HasSuffix(m.Name, "$zzz") || len(m.Rels) > 0 {
				return false
			}
			for _, def := range m.Defs {
				if len(def.LiveRefs()) > 0 {
					return false
				}
			}
			sum := m.Checksum()
			if prior, ok := seen[sum]; ok && prior.Size == m.Size {
				m.IsAlive = false
				return true
			}
			seen[sum] = m
			return false
		})
	}
}

// mergeBss moves the .bss contributions to the end of .data so the
// output carries no uninitialized section; the emitter zero fills them.
func mergeBss(ctx *Context) {
	var bss *OutputSection
	for _, osec := range ctx.OutputSections {
		if osec.Name == ".bss" {
			bss = osec
			break
		}
	}
	if bss == nil {
		return
	}

	data := GetOutputSection(ctx, ".data")
	data.Characteristics = IMAGE_SCN_CNT_INITIALIZED_DATA |
		IMAGE_SCN_MEM_READ | IMAGE_SCN_MEM_WRITE
	data.Members = append(data.Members, bss.Members...)
	for _, m := range bss.Members {
		m.OutputSection = data
	}

	ctx.OutputSections = utils.RemoveIf(ctx.OutputSections, func(o *OutputSection) bool {
		return o == bss
	})
}

// ComputeSectionSizes assigns each contribution its address inside its
// output section and fixes the output alignment.
func ComputeSectionSizes(ctx *Context) {
	ctx.OutputSections = utils.RemoveIf(ctx.OutputSections, func(o *OutputSection) bool {
		return len(o.Members) == 0
	})

	for i, osec := range ctx.OutputSections {
		osec.Idx = i
		off := uint32(0)
		for _, m := range osec.Members {
			off = utils.AlignTo(off, m.Alignment)
			m.Offset = off
			m.OutputSection = osec
			off += m.Size
			if m.Alignment > osec.Alignment {
				osec.Alignment = m.Alignment
			}
		}
		osec.Size = off
	}
}
