package linker

import (
	"bytes"
	"encoding/binary"
)

type FileType = uint8

const (
	FileTypeUnknown FileType = iota
	FileTypeEmpty
	FileTypeCoff
	FileTypeArchive
)

func GetFileType(contents []byte) FileType {
	if len(contents) == 0 {
		return FileTypeEmpty
	}

	if bytes.HasPrefix(contents, []byte("!<arch>\n")) {
		return FileTypeArchive
	}

	if len(contents) >= FileHeaderSize {
		switch binary.LittleEndian.Uint16(contents) {
		case IMAGE_FILE_MACHINE_AMD64, IMAGE_FILE_MACHINE_I386:
			return FileTypeCoff
		}
	}

	return FileTypeUnknown
}

func CheckFileCompatibility(ctx *Context, file *File) error {
	mt := GetMachineTypeFromContents(file.Contents)
	if mt != ctx.Args.Emulation {
		return &ParseError{
			File: file.Name,
			Msg: "incompatible machine type " + MachineTypeString(mt) +
				", expected " + MachineTypeString(ctx.Args.Emulation),
		}
	}
	return nil
}
