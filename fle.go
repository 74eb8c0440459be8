package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"fle/pkg/linker"
	"fle/pkg/loader"
	"fle/pkg/utils"
)

var tools = map[string]bool{
	"nm":      true,
	"objdump": true,
	"ld":      true,
	"exec":    true,
	"ar":      true,
	"cc":      true,
}

func main() {
	// Dispatch by invocation name; when the binary is called under its
	// own name, the first argument selects the tool instead.
	tool := filepath.Base(os.Args[0])
	args := os.Args[1:]
	if !tools[tool] {
		if len(args) == 0 {
			usage()
			os.Exit(1)
		}
		tool, args = args[0], args[1:]
	}

	switch tool {
	case "nm":
		if len(args) != 1 {
			utils.Fatal("usage: nm <input.fle>")
		}
		linker.Nm(os.Stdout, mustLoad(args[0]))
	case "objdump":
		if len(args) != 1 {
			utils.Fatal("usage: objdump <input.fle>")
		}
		data, err := linker.Dump(mustLoad(args[0]))
		utils.MustNo(err)
		utils.MustNo(os.WriteFile(args[0]+".objdump", data, 0666))
	case "ld":
		runLd(args)
	case "exec":
		if len(args) != 1 {
			utils.Fatal("usage: exec <input.fle>")
		}
		utils.MustNo(loader.New().Exec(mustLoad(args[0])))
	case "ar":
		if len(args) < 2 {
			utils.Fatal("usage: ar <output.fle> <input1.fle> ...")
		}
		utils.MustNo(linker.MakeArchive(args[0], args[1:]))
	case "cc":
		utils.Fatal("cc: this build does not include the compiler driver")
	default:
		usage()
		os.Exit(1)
	}
}

func mustLoad(path string) *linker.Object {
	obj, err := linker.LoadObject(path)
	utils.MustNo(err)
	return obj
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s <command> [args...]\n"+
		"Commands:\n"+
		"  objdump <input.fle>              Serialize an FLE file back out\n"+
		"  nm <input.fle>                   Display symbol table\n"+
		"  ld [-o output.fle] input1.fle... Link FLE files\n"+
		"  exec <input.fle>                 Load and run an FLE executable\n"+
		"  ar <output.fle> <input.fle>...   Create static archive\n",
		os.Args[0])
}

func runLd(args []string) {
	ctx := linker.NewContext()
	remaining := parseLdArgs(ctx, args)

	if len(remaining) == 0 {
		utils.Fatal("no input files")
	}

	utils.MustNo(linker.ReadInputFiles(ctx, remaining))

	out, err := linker.Link(ctx)
	utils.MustNo(err)

	data, err := linker.Dump(out)
	utils.MustNo(err)
	utils.MustNo(os.WriteFile(ctx.Arg.Output, data, 0777))
}

func parseLdArgs(ctx *linker.Context, args []string) []string {
	dashes := func(name string) []string {
		if len(name) == 1 {
			return []string{"-" + name}
		}
		return []string{"-" + name, "--" + name}
	}

	remaining := make([]string, 0)
	var arg string

	readArg := func(name string) bool {
		for _, opt := range dashes(name) {
			if args[0] == opt {
				if len(args) == 1 {
					utils.Fatal(fmt.Sprintf("option %s: argument missing", opt))
				}
				arg = args[1]
				args = args[2:]
				return true
			}

			prefix := opt
			if len(name) > 1 {
				prefix += "="
			}
			if strings.HasPrefix(args[0], prefix) && args[0] != prefix {
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

	for len(args) > 0 {
		if readFlag("help") {
			fmt.Printf("Usage: %s [options] file...\n", os.Args[0])
			os.Exit(0)
		}

		if readArg("o") || readArg("output") {
			ctx.Arg.Output = arg
		} else if readArg("e") || readArg("entry") {
			ctx.Arg.Entry = arg
		} else if readFlag("shared") {
			ctx.Arg.Shared = true
		} else if readFlag("static") {
			ctx.Arg.Static = true
		} else if readArg("L") || readArg("library-path") {
			ctx.Arg.LibraryPaths = append(ctx.Arg.LibraryPaths, arg)
		} else if readArg("l") {
			remaining = append(remaining, "-l"+arg)
		} else {
			if args[0][0] == '-' {
				utils.Fatal(fmt.Sprintf("unknown command line option: %s", args[0]))
			}
			remaining = append(remaining, args[0])
			args = args[1:]
		}
	}

	for i, path := range ctx.Arg.LibraryPaths {
		ctx.Arg.LibraryPaths[i] = filepath.Clean(path)
	}

	return remaining
}
