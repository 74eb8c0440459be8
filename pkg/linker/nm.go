package linker

import (
	"fmt"
	"io"
	"strings"
)

// Nm prints the symbol table, one defined symbol per line:
// zero-padded section offset, a type letter, the name.
func Nm(w io.Writer, obj *Object) {
	for _, sym := range obj.Symbols {
		if sym.Section == "" {
			continue
		}
		letter := nmLetter(sym)
		if letter == 0 {
			continue
		}
		fmt.Fprintf(w, "%016x %c %s\n", sym.Offset, letter, sym.Name)
	}
}

func nmLetter(sym *Symbol) byte {
	isText := sym.Section == ".text" || strings.HasPrefix(sym.Section, ".text.")
	isData := sym.Section == ".data" || strings.HasPrefix(sym.Section, ".data.")
	isBss := sym.Section == ".bss"
	isRodata := sym.Section == ".rodata" || strings.HasPrefix(sym.Section, ".rodata.")

	if sym.Kind == SymbolWeak {
		if isText {
			return 'W'
		}
		if isData || isBss || isRodata {
			return 'V'
		}
		return 0
	}

	lower := func(c byte) byte {
		if sym.Kind == SymbolGlobal {
			return c
		}
		return c + 'a' - 'A'
	}
	switch {
	case isText:
		return lower('T')
	case isData:
		return lower('D')
	case isBss:
		return lower('B')
	case isRodata:
		return lower('R')
	}
	return 0
}
