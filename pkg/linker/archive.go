package linker

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/blakesmith/ar"
)

const archiveMagic = "!<arch>\n"

// LinkArchive is a lazily extracted static library. The linker members
// give the symbol index up front; member bytes are parsed only when a
// symbol is actually pulled in.
type LinkArchive struct {
	File *File

	symbolOffsets map[string]uint32
	longNames     []byte
	dllNames      map[string]string

	extracted map[uint32]*extractedMember

	// number of members parsed so far
	ParseCount int
}

type extractedMember struct {
	object *ObjectFile
	imp    *ImportMember
	added  bool
}

// ExtractResult is what pulling a symbol out of an archive produced:
// either a COFF object to link or an import binding.
type ExtractResult struct {
	Object *ObjectFile
	Import *ImportMember
}

func NewLinkArchive(file *File) (*LinkArchive, error) {
	a := &LinkArchive{
		File:          file,
		symbolOffsets: make(map[string]uint32),
		extracted:     make(map[uint32]*extractedMember),
	}

	reader := ar.NewReader(bytes.NewReader(file.Contents))
	sawIndex := false
	for i := 0; i < 3; i++ {
		hdr, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &ParseError{File: file.Name, Msg: err.Error()}
		}
		name := strings.TrimRight(hdr.Name, " ")
		data := make([]byte, hdr.Size)
		if _, err := io.ReadFull(reader, data); err != nil {
			return nil, &ParseError{File: file.Name, Msg: err.Error()}
		}

		switch {
		case name == "/" && !sawIndex:
			if err := a.parseFirstLinkerMember(data); err != nil {
				return nil, err
			}
			sawIndex = true
		case name == "/":
			if err := a.parseSecondLinkerMember(data); err != nil {
				return nil, err
			}
		case name == "//":
			a.longNames = data
		default:
			// regular members start here
			i = 3
		}
	}

	return a, nil
}

// parseFirstLinkerMember reads the GNU symbol index: a big-endian count,
// count big-endian member offsets, then the symbol names.
func (a *LinkArchive) parseFirstLinkerMember(data []byte) error {
	if len(data) < 4 {
		return a.indexError()
	}
	count := binary.BigEndian.Uint32(data)
	if len(data) < 4+int(count)*4 {
		return a.indexError()
	}
	names := data[4+count*4:]
	for i := uint32(0); i < count; i++ {
		off := binary.BigEndian.Uint32(data[4+i*4:])
		end := bytes.IndexByte(names, 0)
		if end < 0 {
			return a.indexError()
		}
		name := string(names[:end])
		names = names[end+1:]
		if _, ok := a.symbolOffsets[name]; !ok {
			a.symbolOffsets[name] = off
		}
	}
	return nil
}

// parseSecondLinkerMember reads the MSVC index, which is little-endian
// and indirects symbol entries through a member offset table.
func (a *LinkArchive) parseSecondLinkerMember(data []byte) error {
	if len(data) < 4 {
		return a.indexError()
	}
	members := binary.LittleEndian.Uint32(data)
	offsetsEnd := 4 + int(members)*4
	if len(data) < offsetsEnd+4 {
		return a.indexError()
	}
	symbols := binary.LittleEndian.Uint32(data[offsetsEnd:])
	indicesEnd := offsetsEnd + 4 + int(symbols)*2
	if len(data) < indicesEnd {
		return a.indexError()
	}
	names := data[indicesEnd:]
	for i := uint32(0); i < symbols; i++ {
		idx := binary.LittleEndian.Uint16(data[offsetsEnd+4+int(i)*2:])
		end := bytes.IndexByte(names, 0)
		if end < 0 || idx == 0 || uint32(idx) > members {
			return a.indexError()
		}
		name := string(names[:end])
		names = names[end+1:]
		a.symbolOffsets[name] = binary.LittleEndian.Uint32(data[4+(int(idx)-1)*4:])
	}
	return nil
}

func (a *LinkArchive) indexError() error {
	return &ParseError{File: a.File.Name, Msg: "malformed archive symbol index"}
}

func (a *LinkArchive) DefinesSymbol(name string) bool {
	_, ok := a.symbolOffsets[name]
	return ok
}

// Extract pulls the member defining name out of the archive. A member is
// parsed at most once; re-extraction through another symbol returns the
// cached result with Object unset so it is not linked twice.
func (a *LinkArchive) Extract(name string) (ExtractResult, error) {
	off, ok := a.symbolOffsets[name]
	if !ok {
		return ExtractResult{}, &ArchiveMemberError{
			Archive: a.File.Name,
			Member:  name,
			Err:     errors.New("symbol not in archive index"),
		}
	}

	if member, ok := a.extracted[off]; ok {
		res := ExtractResult{Import: member.imp}
		if !member.added {
			res.Object = member.object
			member.added = true
		}
		return res, nil
	}

	member, err := a.parseMember(off)
	if err != nil {
		return ExtractResult{}, err
	}
	a.extracted[off] = member
	member.added = true
	return ExtractResult{Object: member.object, Import: member.imp}, nil
}

func (a *LinkArchive) parseMember(off uint32) (*extractedMember, error) {
	memberName, data, err := a.memberAt(off)
	if err != nil {
		return nil, err
	}
	a.ParseCount++

	wrap := func(err error) error {
		return &ArchiveMemberError{Archive: a.File.Name, Member: memberName, Err: err}
	}

	if isShortImport(data) {
		imp, err := parseShortImport(data)
		if err != nil {
			return nil, wrap(err)
		}
		return &extractedMember{imp: imp}, nil
	}

	if GetFileType(data) != FileTypeCoff {
		return nil, wrap(errors.New("member is not an object file"))
	}

	obj, err := NewObjectFile(&File{
		Name:     memberName,
		Contents: data,
		Parent:   a.File,
	})
	if err != nil {
		return nil, wrap(err)
	}
	if err := obj.initializeSections(); err != nil {
		return nil, wrap(err)
	}

	if isLegacyImport(obj) {
		imp, err := a.resolveLegacyImport(obj)
		if err != nil {
			return nil, wrap(err)
		}
		return &extractedMember{imp: imp}, nil
	}

	return &extractedMember{object: obj}, nil
}

// memberAt reads the member header and data at a file offset from the
// archive symbol index.
func (a *LinkArchive) memberAt(off uint32) (string, []byte, error) {
	if int(off) >= len(a.File.Contents) {
		return "", nil, a.indexError()
	}
	reader := ar.NewReader(io.MultiReader(
		strings.NewReader(archiveMagic),
		bytes.NewReader(a.File.Contents[off:]),
	))
	hdr, err := reader.Next()
	if err != nil {
		return "", nil, &ParseError{File: a.File.Name, Msg: err.Error()}
	}
	data := make([]byte, hdr.Size)
	if _, err := io.ReadFull(reader, data); err != nil {
		return "", nil, &ParseError{File: a.File.Name, Msg: err.Error()}
	}
	return a.memberName(hdr.Name), data, nil
}

func (a *LinkArchive) memberName(raw string) string {
	name := strings.TrimRight(raw, " ")
	if rest, ok := strings.CutPrefix(name, "/"); ok {
		if off, err := strconv.Atoi(rest); err == nil && off < len(a.longNames) {
			long := a.longNames[off:]
			if i := bytes.IndexAny(long, "/\n"); i >= 0 {
				long = long[:i]
			}
			return string(long)
		}
	}
	return strings.TrimSuffix(name, "/")
}
