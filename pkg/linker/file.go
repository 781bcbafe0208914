package linker

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/sltooh/boflink/pkg/utils"
)

type File struct {
	Name     string
	Contents []byte
	Parent   *File
}

func OpenLibrary(path string) *File {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	return &File{
		Name:     path,
		Contents: contents,
	}
}

// librarySearchNames lists the filenames tried for -lname, in the
// conventional MinGW order. The ":filename" form searches verbatim.
func librarySearchNames(name string) []string {
	if rest, ok := utils.RemovePrefix(name, ":"); ok {
		return []string{rest}
	}
	return []string{
		"lib" + name + ".dll.a",
		name + ".dll.a",
		"lib" + name + ".a",
		name + ".lib",
		"lib" + name + ".lib",
		name + ".a",
	}
}

func FindLibrary(ctx *Context, name string) *File {
	for _, dir := range ctx.Args.LibraryPaths {
		for _, stem := range librarySearchNames(name) {
			if f := OpenLibrary(filepath.Join(dir, stem)); f != nil {
				return f
			}
		}
	}
	return nil
}

// TrimLibraryName normalizes a DEFAULTLIB value to a -l style name.
func TrimLibraryName(name string) string {
	if strings.HasSuffix(strings.ToLower(name), ".lib") {
		return name[:len(name)-len(".lib")]
	}
	return name
}
