package linker

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"testing"
)

type arMember struct {
	name    string
	data    []byte
	symbols []string
}

// buildTestArchive lays out a GNU style archive: the symbol index as the
// first linker member, then the members themselves.
func buildTestArchive(members []arMember) []byte {
	indexSize := 4
	nsyms := 0
	for _, m := range members {
		for _, sym := range m.symbols {
			indexSize += 4 + len(sym) + 1
			nsyms++
		}
	}

	offsets := make([]uint32, len(members))
	pos := 8 + 60 + indexSize + indexSize%2
	for i, m := range members {
		offsets[i] = uint32(pos)
		pos += 60 + len(m.data) + len(m.data)%2
	}

	buf := &bytes.Buffer{}
	buf.WriteString(archiveMagic)

	writeHeader := func(name string, size int) {
		fmt.Fprintf(buf, "%-16s%-12s%-6s%-6s%-8s%-10d`\n", name, "0", "0", "0", "100644", size)
	}

	writeHeader("/", indexSize)
	count := make([]byte, 4)
	binary.BigEndian.PutUint32(count, uint32(nsyms))
	buf.Write(count)
	for i, m := range members {
		for range m.symbols {
			off := make([]byte, 4)
			binary.BigEndian.PutUint32(off, offsets[i])
			buf.Write(off)
		}
	}
	for _, m := range members {
		for _, sym := range m.symbols {
			buf.WriteString(sym)
			buf.WriteByte(0)
		}
	}
	if indexSize%2 == 1 {
		buf.WriteByte('\n')
	}

	for _, m := range members {
		writeHeader(m.name+"/", len(m.data))
		buf.Write(m.data)
		if len(m.data)%2 == 1 {
			buf.WriteByte('\n')
		}
	}

	return buf.Bytes()
}

func buildTestShortImport(machine uint16, symbol, dll string, flags uint16, ordinal uint16) []byte {
	buf := &bytes.Buffer{}
	hdr := make([]byte, shortImportHeaderSize)
	binary.LittleEndian.PutUint16(hdr[2:], 0xffff)
	binary.LittleEndian.PutUint16(hdr[6:], machine)
	binary.LittleEndian.PutUint32(hdr[12:], uint32(len(symbol)+len(dll)+2))
	binary.LittleEndian.PutUint16(hdr[16:], ordinal)
	binary.LittleEndian.PutUint16(hdr[18:], flags)
	buf.Write(hdr)
	buf.WriteString(symbol)
	buf.WriteByte(0)
	buf.WriteString(dll)
	buf.WriteByte(0)
	return buf.Bytes()
}

func defObject(symbol string) []byte {
	c := newTestCoff(IMAGE_FILE_MACHINE_AMD64)
	text := c.addSection(".text", codeChars, bytes.Repeat([]byte{0xc3}, 16))
	c.addSymbol(symbol, 0, text, IMAGE_SYM_CLASS_EXTERNAL, 0x20)
	return c.build()
}

func refObject(symbol string) []byte {
	c := newTestCoff(IMAGE_FILE_MACHINE_AMD64)
	text := c.addSection(".text", codeChars, callSite(16, 3))
	c.addSymbol("caller", 0, text, IMAGE_SYM_CLASS_EXTERNAL, 0x20)
	target := c.addUndefined(symbol)
	c.addReloc(text, 4, target, IMAGE_REL_AMD64_REL32)
	return c.build()
}

func TestArchiveLazyExtraction(t *testing.T) {
	members := make([]arMember, 1000)
	for i := range members {
		members[i] = arMember{
			name:    fmt.Sprintf("m%d.o", i),
			data:    defObject(fmt.Sprintf("sym%d", i)),
			symbols: []string{fmt.Sprintf("sym%d", i)},
		}
	}
	archive := buildTestArchive(members)

	ctx := newTestContext()
	mustRead(t, ctx, refObject("sym500"))
	mustReadFile(t, ctx, &File{Name: "test.a", Contents: archive})

	buf, err := Link(ctx)
	if err != nil {
		t.Fatalf("link failed: %v", err)
	}
	if got := ctx.Archives[0].ParseCount; got != 1 {
		t.Fatalf("parsed %d members, want 1", got)
	}

	out, err := parseOutput(buf)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := findOutSym(out, "sym500"); !ok {
		t.Fatal("extracted symbol missing from output")
	}
	if _, ok := findOutSym(out, "sym400"); ok {
		t.Fatal("unrequested member leaked into output")
	}
}

func TestArchiveIndexLookup(t *testing.T) {
	archive := buildTestArchive([]arMember{
		{name: "a.o", data: defObject("alpha"), symbols: []string{"alpha"}},
		{name: "b.o", data: defObject("beta"), symbols: []string{"beta"}},
	})

	a, err := NewLinkArchive(&File{Name: "test.a", Contents: archive})
	if err != nil {
		t.Fatal(err)
	}
	if !a.DefinesSymbol("alpha") || !a.DefinesSymbol("beta") {
		t.Fatal("index missing symbols")
	}
	if a.DefinesSymbol("gamma") {
		t.Fatal("index invented a symbol")
	}

	res, err := a.Extract("beta")
	if err != nil {
		t.Fatal(err)
	}
	if res.Object == nil {
		t.Fatal("expected an object member")
	}
	if res.Object.File.Name != "b.o" {
		t.Fatalf("extracted %s, want b.o", res.Object.File.Name)
	}

	// re-extraction must not link the member twice
	res, err = a.Extract("beta")
	if err != nil {
		t.Fatal(err)
	}
	if res.Object != nil {
		t.Fatal("member extracted twice")
	}
	if a.ParseCount != 1 {
		t.Fatalf("parsed %d members, want 1", a.ParseCount)
	}
}

func TestShortImportParse(t *testing.T) {
	// import by name, code
	data := buildTestShortImport(IMAGE_FILE_MACHINE_AMD64, "MessageBoxA", "USER32.dll", 1<<2, 0)
	if !isShortImport(data) {
		t.Fatal("short import not recognized")
	}
	imp, err := parseShortImport(data)
	if err != nil {
		t.Fatal(err)
	}
	if imp.Symbol != "MessageBoxA" || imp.Dll != "USER32.dll" || imp.Name != "MessageBoxA" {
		t.Fatalf("bad import member: %+v", imp)
	}
	if imp.DllStem() != "USER32" || imp.EntryName() != "MessageBoxA" {
		t.Fatalf("bad import naming: %q %q", imp.DllStem(), imp.EntryName())
	}

	// import by ordinal
	data = buildTestShortImport(IMAGE_FILE_MACHINE_AMD64, "SomeFunc", "custom.dll", 0, 42)
	imp, err = parseShortImport(data)
	if err != nil {
		t.Fatal(err)
	}
	if !imp.ByOrdinal || imp.Ordinal != 42 || imp.EntryName() != "#42" {
		t.Fatalf("bad ordinal import: %+v", imp)
	}

	// undecorated name
	data = buildTestShortImport(IMAGE_FILE_MACHINE_I386, "_MessageBoxA@16", "USER32.dll", 3<<2, 0)
	imp, err = parseShortImport(data)
	if err != nil {
		t.Fatal(err)
	}
	if imp.Name != "MessageBoxA" {
		t.Fatalf("undecorate produced %q", imp.Name)
	}
}

func TestImportLibraryLink(t *testing.T) {
	impData := buildTestShortImport(IMAGE_FILE_MACHINE_AMD64, "MessageBoxA", "USER32.dll", 1<<2, 0)
	archive := buildTestArchive([]arMember{{
		name:    "dx.o",
		data:    impData,
		symbols: []string{"MessageBoxA", "__imp_MessageBoxA"},
	}})

	c := newTestCoff(IMAGE_FILE_MACHINE_AMD64)
	data := c.addSection(".data", dataChars, make([]byte, 8))
	target := c.addUndefined("__imp_MessageBoxA")
	c.addReloc(data, 0, target, IMAGE_REL_AMD64_ADDR64)

	ctx := newTestContext()
	mustRead(t, ctx, c.build())
	mustReadFile(t, ctx, &File{Name: "user32.a", Contents: archive})

	buf, err := Link(ctx)
	if err != nil {
		t.Fatalf("link failed: %v", err)
	}
	out, err := parseOutput(buf)
	if err != nil {
		t.Fatal(err)
	}

	sym, ok := findOutSym(out, "__imp_USER32$MessageBoxA")
	if !ok {
		t.Fatal("library import symbol missing")
	}
	if sym.SectionNumber != IMAGE_SYM_UNDEFINED || sym.StorageClass != IMAGE_SYM_CLASS_EXTERNAL {
		t.Fatalf("import symbol not an undefined external: %+v", sym)
	}

	rels := outRelocs(out, ".data")
	if len(rels) != 1 || rels[0].Type != IMAGE_REL_AMD64_ADDR64 {
		t.Fatalf("import relocation not preserved: %+v", rels)
	}
}

func TestDefaultLibDirective(t *testing.T) {
	dir := t.TempDir()
	archive := buildTestArchive([]arMember{
		{name: "h.o", data: defObject("helper"), symbols: []string{"helper"}},
	})
	writeTestFile(t, dir+"/libtestlib.a", archive)

	c := newTestCoff(IMAGE_FILE_MACHINE_AMD64)
	text := c.addSection(".text", codeChars, callSite(16, 3))
	c.addSection(".drectve", IMAGE_SCN_LNK_INFO|IMAGE_SCN_LNK_REMOVE,
		[]byte(" /DEFAULTLIB:testlib.lib "))
	c.addSymbol("caller", 0, text, IMAGE_SYM_CLASS_EXTERNAL, 0x20)
	target := c.addUndefined("helper")
	c.addReloc(text, 4, target, IMAGE_REL_AMD64_REL32)

	ctx := newTestContext()
	ctx.Args.LibraryPaths = []string{dir}
	mustRead(t, ctx, c.build())

	buf, err := Link(ctx)
	if err != nil {
		t.Fatalf("link failed: %v", err)
	}
	out, err := parseOutput(buf)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := findOutSym(out, "helper"); !ok {
		t.Fatal("directive library symbol missing")
	}
}
