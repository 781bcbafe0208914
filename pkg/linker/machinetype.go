package linker

import "encoding/binary"

type MachineType = uint8

const (
	MachineTypeNone MachineType = iota
	MachineTypeAMD64
	MachineTypeI386
)

func GetMachineTypeFromContents(contents []byte) MachineType {
	ft := GetFileType(contents)

	switch ft {
	case FileTypeCoff:
		switch binary.LittleEndian.Uint16(contents) {
		case IMAGE_FILE_MACHINE_AMD64:
			return MachineTypeAMD64
		case IMAGE_FILE_MACHINE_I386:
			return MachineTypeI386
		}
	}

	return MachineTypeNone
}

func MachineTypeToCoff(t MachineType) uint16 {
	switch t {
	case MachineTypeAMD64:
		return IMAGE_FILE_MACHINE_AMD64
	case MachineTypeI386:
		return IMAGE_FILE_MACHINE_I386
	}
	return IMAGE_FILE_MACHINE_UNKNOWN
}

func MachineTypeString(t MachineType) string {
	switch t {
	case MachineTypeAMD64:
		return "amd64"
	case MachineTypeI386:
		return "i386"
	}
	return "unknown"
}

// symbolPrefix is the decoration compilers put on C names for the target.
func symbolPrefix(t MachineType) string {
	if t == MachineTypeI386 {
		return "_"
	}
	return ""
}

// importPrefix is the prefix on import address table references.
func importPrefix(t MachineType) string {
	return "__imp_" + symbolPrefix(t)
}
