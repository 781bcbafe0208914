package linker

type ContextArgs struct {
	Output       string
	Emulation    MachineType
	LibraryPaths []string
	Entry        string
	CustomApi    string
	MergeBss     bool
}

type Context struct {
	Args ContextArgs

	Objs []*ObjectFile

	SymbolMap   map[string]*Symbol
	SymbolNames []string

	Archives   []*LinkArchive
	openedLibs map[string]bool
	// libraries queued by .drectve directives, not yet opened
	PendingLibs []string

	Api ApiResolver

	// import bindings in resolution order
	ApiImports []*Symbol
	Libraries  []*LibraryImports

	OutputSections []*OutputSection

	// synthetic sections (thunks, commons) live here
	Internal *ObjectFile
}

// LibraryImports groups the imports bound against one DLL.
type LibraryImports struct {
	Dll     string
	Symbols []*Symbol
}

func NewContext() *Context {
	return &Context{
		Args: ContextArgs{
			Output: "a.bof",
			Entry:  "go",
		},
		SymbolMap:  make(map[string]*Symbol),
		openedLibs: make(map[string]bool),
	}
}

// EnqueueLibrary records a library name to be opened during resolution.
// Each name is opened at most once per session.
func EnqueueLibrary(ctx *Context, name string) {
	if ctx.openedLibs[name] {
		return
	}
	ctx.openedLibs[name] = true
	ctx.PendingLibs = append(ctx.PendingLibs, name)
}

func (ctx *Context) importLibrary(dll string) *LibraryImports {
	for _, lib := range ctx.Libraries {
		if lib.Dll == dll {
			return lib
		}
	}
	lib := &LibraryImports{Dll: dll}
	ctx.Libraries = append(ctx.Libraries, lib)
	return lib
}
