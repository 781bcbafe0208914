package linker

import (
	"fmt"
	"os"

	"github.com/sltooh/boflink/pkg/utils"
)

// ReadInputFiles loads the positional command line inputs. -lname
// arguments go through the library search path, everything else is a
// path to an object or archive.
func ReadInputFiles(ctx *Context, remaining []string) error {
	for _, arg := range remaining {
		var file *File
		if lib, ok := utils.RemovePrefix(arg, "-l"); ok {
			file = FindLibrary(ctx, lib)
			if file == nil {
				return fmt.Errorf("unable to find library -l%s", lib)
			}
			ctx.openedLibs[lib] = true
		} else {
			contents, err := os.ReadFile(arg)
			if err != nil {
				return err
			}
			file = &File{Name: arg, Contents: contents}
		}
		if err := ReadFile(ctx, file); err != nil {
			return err
		}
	}
	return nil
}

func ReadFile(ctx *Context, file *File) error {
	switch GetFileType(file.Contents) {
	case FileTypeCoff:
		if ctx.Args.Emulation == MachineTypeNone {
			ctx.Args.Emulation = GetMachineTypeFromContents(file.Contents)
		}
		if err := CheckFileCompatibility(ctx, file); err != nil {
			return err
		}
		obj, err := NewObjectFile(file)
		if err != nil {
			return err
		}
		ctx.Objs = append(ctx.Objs, obj)
		return obj.Parse(ctx)
	case FileTypeArchive:
		archive, err := NewLinkArchive(file)
		if err != nil {
			return err
		}
		ctx.Archives = append(ctx.Archives, archive)
		return nil
	case FileTypeEmpty:
		return &ParseError{File: file.Name, Msg: "empty file"}
	}
	return &ParseError{File: file.Name, Msg: "unknown file type"}
}
