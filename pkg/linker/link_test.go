package linker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fle/pkg/utils"
)

func TestLinkSingleObject(t *testing.T) {
	a := testObject("a.fle")
	addSection(a, ".text", []byte{0xb8, 0x2a, 0x00, 0x00, 0x00, 0xc3})
	addSymbol(a, SymbolGlobal, ".text", "_start", 0, 6)

	ctx := NewContext()
	exe, err := linkObjects(ctx, a)
	require.NoError(t, err)

	assert.Equal(t, KindExec, exe.Kind)
	assert.Equal(t, ImageBase, exe.Entry)
	assert.Equal(t, []byte{0xb8, 0x2a, 0x00, 0x00, 0x00, 0xc3}, exe.Sections[".text"].Data)
	assert.Empty(t, exe.DynRelocs)
	assert.Nil(t, exe.Sections[".got"])
	assert.Equal(t, uint64(0), ctx.PltSize)
}

func TestLinkPCRel32Internal(t *testing.T) {
	a := testObject("a.fle")
	addSection(a, ".text", []byte{0xe8, 0, 0, 0, 0},
		Reloc{Type: RelocPCRel32, Offset: 1, Symbol: "foo", Addend: -4})
	addSymbol(a, SymbolGlobal, ".text", "_start", 0, 5)

	b := testObject("b.fle")
	addSection(b, ".text", []byte{0xc3})
	addSymbol(b, SymbolGlobal, ".text", "foo", 0, 1)

	ctx := NewContext()
	exe, err := linkObjects(ctx, a, b)
	require.NoError(t, err)

	fooAddr := ImageBase + 5 // b's text follows a's
	callSite := ImageBase + 1
	want := int32(int64(fooAddr) - 4 - int64(callSite))
	got := utils.Read[int32](exe.Sections[".text"].Data[1:])
	assert.Equal(t, want, got)
}

func TestLinkExternalFunctionViaPlt(t *testing.T) {
	a := testObject("a.fle")
	addSection(a, ".text", []byte{0xe8, 0, 0, 0, 0},
		Reloc{Type: RelocPCRel32, Offset: 1, Symbol: "printf", Addend: -4})
	addSymbol(a, SymbolGlobal, ".text", "_start", 0, 5)

	ctx := NewContext()
	exe, err := linkObjects(ctx, a, sharedStub("libc.fso", "printf"))
	require.NoError(t, err)

	// One GOT slot, one stub appended to the text body.
	require.NotNil(t, exe.Sections[".got"])
	assert.Len(t, exe.Sections[".got"].Data, 8)
	text := exe.Sections[".text"].Data
	require.Len(t, text, 5+PltStubSize)

	stubAddr := ctx.PltBase
	slot := ctx.GotBase

	// The call lands on the stub.
	callSite := ImageBase + 1
	assert.Equal(t, int32(int64(stubAddr)-4-int64(callSite)), utils.Read[int32](text[1:]))

	// The stub is FF 25 disp32 jumping through the slot.
	assert.Equal(t, byte(0xff), text[5])
	assert.Equal(t, byte(0x25), text[6])
	assert.Equal(t, int32(int64(slot)-int64(stubAddr+PltStubSize)), utils.Read[int32](text[7:]))

	// The loader fills the slot through one ABS64 dynamic relocation.
	require.Len(t, exe.DynRelocs, 1)
	assert.Equal(t, Reloc{Type: RelocAbs64, Offset: slot, Symbol: "printf"}, exe.DynRelocs[0])

	assert.Equal(t, []string{"libc.fso"}, exe.Needed)
}

func TestLinkGotSlotsPerDistinctSymbol(t *testing.T) {
	a := testObject("a.fle")
	addSection(a, ".text", make([]byte, 20),
		Reloc{Type: RelocPCRel32, Offset: 0, Symbol: "write", Addend: -4},
		Reloc{Type: RelocPCRel32, Offset: 4, Symbol: "read", Addend: -4},
		Reloc{Type: RelocPCRel32, Offset: 8, Symbol: "write", Addend: -4},
		Reloc{Type: RelocGotPCRel32, Offset: 12, Symbol: "errno", Addend: -4},
		Reloc{Type: RelocGotPCRel32, Offset: 16, Symbol: "read", Addend: -4})
	addSymbol(a, SymbolGlobal, ".text", "_start", 0, 20)

	ctx := NewContext()
	exe, err := linkObjects(ctx, a, sharedStub("libc.fso", "read", "write", "errno"))
	require.NoError(t, err)

	// One slot per distinct symbol; functions first, each with a stub.
	assert.Equal(t, []string{"read", "write", "errno"}, ctx.GotOrder)
	assert.Equal(t, 2, ctx.PltCount)
	assert.Equal(t, uint64(2*PltStubSize), ctx.PltSize)
	assert.Len(t, exe.Sections[".got"].Data, 3*8)
	assert.Len(t, exe.DynRelocs, 3)
}

func TestLinkGotPCRelInternalBypassesGot(t *testing.T) {
	a := testObject("a.fle")
	addSection(a, ".text", []byte{0x48, 0x8b, 0x05, 0, 0, 0, 0},
		Reloc{Type: RelocGotPCRel32, Offset: 3, Symbol: "value", Addend: -4})
	addSymbol(a, SymbolGlobal, ".text", "_start", 0, 7)
	addSection(a, ".data", []byte{1, 2, 3, 4})
	addSymbol(a, SymbolGlobal, ".data", "value", 0, 4)

	ctx := NewContext()
	exe, err := linkObjects(ctx, a)
	require.NoError(t, err)

	// No shared definition anywhere: the reference collapses to a
	// direct PC-relative patch and no GOT is emitted.
	assert.Nil(t, exe.Sections[".got"])
	site := ImageBase + 3
	want := int32(int64(ctx.DataBase) - 4 - int64(site))
	assert.Equal(t, want, utils.Read[int32](exe.Sections[".text"].Data[3:]))
}

func TestLinkWeakOverride(t *testing.T) {
	w := testObject("w.fle")
	addSection(w, ".data", []byte{0xaa, 0xaa, 0xaa, 0xaa})
	addSymbol(w, SymbolWeak, ".data", "x", 0, 4)

	g := testObject("g.fle")
	addSection(g, ".data", []byte{0xbb, 0xbb, 0xbb, 0xbb})
	addSymbol(g, SymbolGlobal, ".data", "x", 0, 4)
	addSection(g, ".text", []byte{0xc3})
	addSymbol(g, SymbolGlobal, ".text", "_start", 0, 1)

	ctx := NewContext()
	_, err := linkObjects(ctx, w, g)
	require.NoError(t, err)

	def := ctx.Globals["x"]
	assert.Equal(t, SymbolGlobal, def.Kind)
	// g's .data is placed after w's four bytes.
	assert.Equal(t, ctx.DataBase+4, def.Addr)
}

func TestLinkDuplicateStrongSymbol(t *testing.T) {
	a := testObject("a.fle")
	addSection(a, ".text", []byte{0xc3})
	addSymbol(a, SymbolGlobal, ".text", "dup", 0, 1)

	b := testObject("b.fle")
	addSection(b, ".text", []byte{0xc3})
	addSymbol(b, SymbolGlobal, ".text", "dup", 0, 1)

	ctx := NewContext()
	_, err := linkObjects(ctx, a, b)
	assert.ErrorIs(t, err, ErrDuplicateStrongSymbol)
}

func TestLinkUndefinedSymbol(t *testing.T) {
	a := testObject("a.fle")
	addSection(a, ".text", []byte{0xe8, 0, 0, 0, 0},
		Reloc{Type: RelocPCRel32, Offset: 1, Symbol: "missing", Addend: -4})
	addSymbol(a, SymbolGlobal, ".text", "_start", 0, 5)

	ctx := NewContext()
	_, err := linkObjects(ctx, a)
	assert.ErrorIs(t, err, ErrUndefinedSymbol)
}

func TestLinkAbs64AndAbs32(t *testing.T) {
	a := testObject("a.fle")
	addSection(a, ".text", []byte{0xc3})
	addSymbol(a, SymbolGlobal, ".text", "_start", 0, 1)
	addSection(a, ".data", make([]byte, 12),
		Reloc{Type: RelocAbs64, Offset: 0, Symbol: "_start", Addend: 2},
		Reloc{Type: RelocAbs32, Offset: 8, Symbol: "_start", Addend: 0})

	ctx := NewContext()
	exe, err := linkObjects(ctx, a)
	require.NoError(t, err)

	data := exe.Sections[".data"].Data
	assert.Equal(t, ImageBase+2, utils.Read[uint64](data))
	assert.Equal(t, uint32(ImageBase), utils.Read[uint32](data[8:]))
}

func TestLinkLayoutInvariants(t *testing.T) {
	a := testObject("a.fle")
	addSection(a, ".text", make([]byte, 100))
	addSymbol(a, SymbolGlobal, ".text", "_start", 0, 100)
	addSection(a, ".rodata", make([]byte, 33))
	addSection(a, ".data", make([]byte, 7))
	addBss(a, ".bss", 64)

	ctx := NewContext()
	exe, err := linkObjects(ctx, a, sharedStub("libc.fso", "puts"))
	require.NoError(t, err)

	for _, base := range []uint64{ctx.RodataBase, ctx.DataBase, ctx.GotBase, ctx.BssBase} {
		assert.Zero(t, base%PageSize, "segment base %#x not page aligned", base)
	}

	// Non-empty segments are pairwise disjoint.
	type span struct{ lo, hi uint64 }
	var spans []span
	for _, ph := range exe.Phdrs {
		if ph.Size == 0 {
			continue
		}
		spans = append(spans, span{ph.VAddr, ph.VAddr + ph.Size})
	}
	for i := range spans {
		for j := i + 1; j < len(spans); j++ {
			disjoint := spans[i].hi <= spans[j].lo || spans[j].hi <= spans[i].lo
			assert.True(t, disjoint, "segments %d and %d overlap", i, j)
		}
	}
}

func TestLinkIdempotentOverClosedInputs(t *testing.T) {
	build := func() (*Context, []*Object) {
		a := testObject("a.fle")
		addSection(a, ".text", []byte{0xe8, 0, 0, 0, 0},
			Reloc{Type: RelocPCRel32, Offset: 1, Symbol: "printf", Addend: -4})
		addSymbol(a, SymbolGlobal, ".text", "_start", 0, 5)
		addSection(a, ".data", []byte{1, 2, 3, 4})
		addSymbol(a, SymbolGlobal, ".data", "seed", 0, 4)
		return NewContext(), []*Object{a, sharedStub("libc.fso", "printf")}
	}

	ctx1, in1 := build()
	exe1, err := linkObjects(ctx1, in1...)
	require.NoError(t, err)
	dump1, err := Dump(exe1)
	require.NoError(t, err)

	ctx2, in2 := build()
	exe2, err := linkObjects(ctx2, in2...)
	require.NoError(t, err)
	dump2, err := Dump(exe2)
	require.NoError(t, err)

	assert.Equal(t, string(dump1), string(dump2))
}

func TestLinkSharedLibrary(t *testing.T) {
	impl := testObject("printf.fle")
	addSection(impl, ".text", []byte{0xe8, 0, 0, 0, 0, 0xc3},
		Reloc{Type: RelocPCRel32, Offset: 1, Symbol: "write", Addend: -4})
	addSymbol(impl, SymbolGlobal, ".text", "printf", 0, 6)
	addSection(impl, ".data", []byte{0, 0, 0, 0})
	addSymbol(impl, SymbolLocal, ".data", "buf", 0, 4)

	ctx := NewContext()
	ctx.Arg.Shared = true
	ctx.Arg.Output = "libprintf.fso"
	so, err := linkObjects(ctx, impl, sharedStub("libio.fso", "write"))
	require.NoError(t, err)

	assert.Equal(t, KindShared, so.Kind)
	assert.Equal(t, uint64(0), ctx.PltSize)
	assert.Nil(t, so.Sections[".got"])

	// The reference into the dependency is left for the loader, at the
	// site's image-virtual address with the original kind and addend.
	require.Len(t, so.DynRelocs, 1)
	assert.Equal(t, Reloc{Type: RelocPCRel32, Offset: ImageBase + 1, Symbol: "write", Addend: -4},
		so.DynRelocs[0])

	// Exports carry segment-relative offsets.
	require.Len(t, so.Symbols, 1)
	assert.Equal(t, Symbol{Kind: SymbolGlobal, Section: ".text", Offset: 0, Size: 6, Name: "printf"},
		*so.Symbols[0])

	assert.Equal(t, []string{"libio.fso"}, so.Needed)
}
