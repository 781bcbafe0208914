package linker

import (
	"errors"
	"strings"
)

// ApiResolver supplies the loader-resolved symbols. Names still
// undefined after every archive was searched are offered here; a match
// stays an undefined external in the output for the loader to bind.
type ApiResolver interface {
	Name() string
	Resolve(symbol string) (*ImportMember, error)
}

// beaconApiSymbols are the functions a Beacon-compatible loader exposes,
// sorted by commonality.
var beaconApiSymbols = []string{
	"BeaconPrintf",
	"BeaconDataParse",
	"BeaconOutput",
	"BeaconDataExtract",
	"BeaconDataInt",
	"BeaconGetSpawnTo",
	"BeaconCleanupProcess",
	"BeaconSpawnTemporaryProcess",
	"BeaconDataShort",
	"toWideChar",
	"BeaconUseToken",
	"BeaconGetValue",
	"BeaconRemoveValue",
	"BeaconInjectProcess",
	"BeaconDataLength",
	"BeaconAddValue",
	"BeaconRevertToken",
	"BeaconOpenThread",
	"BeaconUnmapViewOfFile",
	"BeaconFormatInt",
	"BeaconGetSyscallInformation",
	"BeaconDataStoreProtectItem",
	"BeaconFormatFree",
	"BeaconDataStoreUnprotectItem",
	"BeaconInformation",
	"BeaconDataStoreMaxEntries",
	"BeaconDuplicateHandle",
	"BeaconOpenProcess",
	"BeaconDataStoreGetItem",
	"BeaconEnableBeaconGate",
	"BeaconVirtualQuery",
	"BeaconWriteProcessMemory",
	"BeaconSetThreadContext",
	"BeaconVirtualProtect",
	"BeaconFormatAppend",
	"BeaconDisableBeaconGate",
	"BeaconResumeThread",
	"BeaconDataPtr",
	"BeaconGetThreadContext",
	"BeaconIsAdmin",
	"BeaconVirtualAlloc",
	"BeaconCloseHandle",
	"BeaconReadProcessMemory",
	"BeaconFormatReset",
	"BeaconVirtualAllocEx",
	"BeaconFormatPrintf",
	"BeaconFormatToString",
	"BeaconInjectTemporaryProcess",
	"BeaconVirtualFree",
	"BeaconGetCustomUserData",
	"BeaconVirtualProtectEx",
	"BeaconFormatAlloc",
}

// BeaconApi resolves against a fixed name table.
type BeaconApi struct {
	machine MachineType
	symbols []string
}

func NewBeaconApi(machine MachineType) *BeaconApi {
	return &BeaconApi{machine: machine, symbols: beaconApiSymbols}
}

// NewCustomNameApi resolves against a caller supplied name table using
// the Beacon conventions.
func NewCustomNameApi(machine MachineType, symbols []string) *BeaconApi {
	return &BeaconApi{machine: machine, symbols: symbols}
}

func (b *BeaconApi) Name() string { return "Beacon API" }

func (b *BeaconApi) Resolve(symbol string) (*ImportMember, error) {
	unprefixed := strings.TrimPrefix(symbol, importPrefix(b.machine))
	for _, name := range b.symbols {
		if name == unprefixed {
			return &ImportMember{
				Machine: b.machine,
				Symbol:  name,
				Dll:     b.Name(),
				Name:    name,
				Type:    ImportCode,
			}, nil
		}
	}
	return nil, nil
}

// ArchiveApi resolves loader symbols out of an import library given with
// --custom-api.
type ArchiveApi struct {
	Archive *LinkArchive
}

func (c *ArchiveApi) Name() string { return c.Archive.File.Name }

func (c *ArchiveApi) Resolve(symbol string) (*ImportMember, error) {
	if !c.Archive.DefinesSymbol(symbol) {
		return nil, nil
	}
	res, err := c.Archive.Extract(symbol)
	if err != nil {
		return nil, err
	}
	if res.Import == nil {
		return nil, &ArchiveMemberError{
			Archive: c.Archive.File.Name,
			Member:  symbol,
			Err:     errors.New("custom API member is not an import"),
		}
	}
	return res.Import, nil
}
