package linker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNm(t *testing.T) {
	obj := testObject("a.fle")
	addSection(obj, ".text", make([]byte, 0x30))
	addSection(obj, ".data", make([]byte, 8))
	addBss(obj, ".bss", 16)
	addSymbol(obj, SymbolGlobal, ".text", "_start", 0, 0x20)
	addSymbol(obj, SymbolLocal, ".text", "helper_func", 0x20, 0x10)
	addSymbol(obj, SymbolGlobal, ".data", "data_var", 0, 8)
	addSymbol(obj, SymbolWeak, ".bss", "scratch", 0, 16)
	obj.Symbols = append(obj.Symbols, &Symbol{Kind: SymbolUndefined, Name: "printf"})

	var sb strings.Builder
	Nm(&sb, obj)

	want := "" +
		"0000000000000000 T _start\n" +
		"0000000000000020 t helper_func\n" +
		"0000000000000000 D data_var\n" +
		"0000000000000000 V scratch\n"
	assert.Equal(t, want, sb.String())
}
