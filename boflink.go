package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/sltooh/boflink/pkg/linker"
	"github.com/sltooh/boflink/pkg/utils"
)

var version = "0.1.0"

func main() {
	ctx := linker.NewContext()
	remaining := parseArgs(ctx)

	utils.MustNo(linker.ReadInputFiles(ctx, remaining))

	buf, err := linker.Link(ctx)
	utils.MustNo(err)

	utils.MustNo(os.WriteFile(ctx.Args.Output, buf, 0o666))
}

func parseArgs(ctx *linker.Context) []string {
	args := os.Args[1:]

	dashes := func(name string) []string {
		if len(name) == 1 {
			return []string{"-" + name}
		}
		return []string{"-" + name, "--" + name}
	}

	arg := ""
	readArg := func(name string) bool {
		for _, opt := range dashes(name) {
			if args[0] == opt {
				if len(args) == 1 {
					utils.Fatal(fmt.Sprintf("option -%s: argument missing", name))
				}
				arg = args[1]
				args = args[2:]
				return true
			}

			prefix := opt
			if len(name) > 1 {
				prefix += "="
			}
			if strings.HasPrefix(args[0], prefix) {
				arg = args[0][len(prefix):]
				args = args[1:]
				return true
			}
		}
		return false
	}

	readFlag := func(name string) bool {
		for _, opt := range dashes(name) {
			if args[0] == opt {
				args = args[1:]
				return true
			}
		}
		return false
	}

	remaining := make([]string, 0)
	for len(args) > 0 {
		switch {
		case readFlag("help"):
			fmt.Printf("usage: %s [options] file...\n", os.Args[0])
			os.Exit(0)
		case readFlag("version"):
			fmt.Printf("boflink %s\n", version)
			os.Exit(0)
		case readArg("output"), readArg("o"):
			ctx.Args.Output = arg
		case readArg("machine"), readArg("m"):
			switch arg {
			case "i386pep":
				ctx.Args.Emulation = linker.MachineTypeAMD64
			case "i386pe":
				ctx.Args.Emulation = linker.MachineTypeI386
			default:
				utils.Fatal(fmt.Sprintf("unknown -m argument: %s", arg))
			}
		case readArg("library-path"), readArg("L"):
			ctx.Args.LibraryPaths = append(ctx.Args.LibraryPaths, arg)
		case readArg("library"), readArg("l"):
			remaining = append(remaining, "-l"+arg)
		case readArg("entry"), readArg("e"):
			ctx.Args.Entry = arg
		case readArg("custom-api"), readArg("api"):
			ctx.Args.CustomApi = arg
		case readFlag("merge-bss"):
			ctx.Args.MergeBss = true
		case readFlag("Bdynamic"), readFlag("Bstatic"), readFlag("static"):
			// accepted for compiler driver compatibility
		default:
			if strings.HasPrefix(args[0], "-") && len(args[0]) > 1 {
				utils.Fatal(fmt.Sprintf("unknown command line option: %s", args[0]))
			}
			remaining = append(remaining, args[0])
			args = args[1:]
		}
	}

	return remaining
}
